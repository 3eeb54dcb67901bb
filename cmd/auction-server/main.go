package main

import (
	"context"
	"database/sql"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	redisClient "github.com/go-redis/redis/v8"
	_ "github.com/go-sql-driver/mysql"

	"auctionhouse/internal/analytics"
	"auctionhouse/internal/api"
	"auctionhouse/internal/billing"
	"auctionhouse/internal/config"
	"auctionhouse/internal/crypto"
	"auctionhouse/internal/domain"
	"auctionhouse/internal/groupbid"
	"auctionhouse/internal/push"
	"auctionhouse/internal/registry"
	"auctionhouse/internal/server"
	"auctionhouse/pkg/logger"
)

func main() {
	log := logger.New()
	log.Info("Starting auction server")

	cfg, err := config.Load()
	if err != nil {
		log.Error("Failed to load config", "error", err)
		os.Exit(1)
	}

	privateKey, err := crypto.LoadPrivateKey(cfg.Keys.ServerKey)
	if err != nil {
		log.Error("Failed to load server key", "path", cfg.Keys.ServerKey, "error", err)
		os.Exit(1)
	}
	keys := crypto.NewDirKeyStore(cfg.Keys.ClientKeys)

	// Analytics: redis pub/sub when configured, otherwise the log.
	var events domain.AnalyticsSink
	if cfg.Redis.Enabled {
		rdb := redisClient.NewClient(&redisClient.Options{
			Addr:     cfg.Redis.Address,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := rdb.Ping(ctx).Err(); err != nil {
			cancel()
			log.Error("Failed to connect to Redis", "error", err)
			os.Exit(1)
		}
		cancel()
		defer rdb.Close()
		log.Info("Connected to Redis", "address", cfg.Redis.Address)
		events = analytics.NewRedisPublisher(rdb)
	} else {
		events = analytics.NewLogSink(log)
	}

	// Billing: MySQL when configured, otherwise in memory.
	var billStore billing.Store
	if cfg.MySQL.Enabled {
		db, err := sql.Open("mysql", cfg.MySQL.DSN)
		if err != nil {
			log.Error("Failed to open MySQL", "error", err)
			os.Exit(1)
		}
		defer db.Close()

		db.SetMaxOpenConns(cfg.MySQL.MaxOpenConns)
		db.SetMaxIdleConns(cfg.MySQL.MaxIdleConns)
		db.SetConnMaxLifetime(cfg.MySQL.ConnMaxLifetime)

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := db.PingContext(ctx); err != nil {
			cancel()
			log.Error("Failed to ping MySQL", "error", err)
			os.Exit(1)
		}
		cancel()
		log.Info("Connected to MySQL")
		billStore = billing.NewMySQLStore(db)
	} else {
		billStore = billing.NewMemoryStore()
	}
	bills := billing.NewService(billStore, log)

	sockets := push.NewWSManager(log)
	sink := push.NewSink(push.NewUDPNotifier(log), sockets)

	users := registry.NewUsers(sink, events, registry.UsersOptions{
		QueueUndelivered: cfg.Push.Guarantee == config.GuaranteeQueued,
	}, log)
	auctions := registry.NewAuctions(users, events, bills, log)
	coordinator := groupbid.NewCoordinator(auctions, users, users,
		cfg.GroupBid.Permits, cfg.GroupBid.ConfirmTimeout, log)

	if err := auctions.StartSweeper(); err != nil {
		log.Error("Failed to start expiry sweeper", "error", err)
		os.Exit(1)
	}

	srv := server.New(users, auctions, coordinator, privateKey, keys, log)

	listener, err := net.Listen("tcp", cfg.ListenAddr())
	if err != nil {
		log.Error("Failed to listen", "addr", cfg.ListenAddr(), "error", err)
		os.Exit(1)
	}
	log.Info("Listening for clients", "addr", cfg.ListenAddr())

	go func() {
		if err := srv.Serve(listener); err != nil {
			log.Error("Server stopped", "error", err)
		}
	}()

	admin := api.NewServer(auctions, users, bills, sockets, log)
	go func() {
		addr := fmt.Sprintf(":%d", cfg.Admin.Port)
		log.Info("Admin API listening", "addr", addr)
		if err := admin.Start(addr); err != nil && err != http.ErrServerClosed {
			log.Error("Admin API stopped", "error", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := admin.Shutdown(ctx); err != nil {
		log.Error("Admin API shutdown failed", "error", err)
	}
	sockets.CloseAll()
	srv.Shutdown()
	auctions.Shutdown()

	log.Info("Stopped")
}
