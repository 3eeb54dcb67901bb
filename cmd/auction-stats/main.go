package main

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	redisClient "github.com/go-redis/redis/v8"

	"auctionhouse/internal/analytics"
	"auctionhouse/internal/config"
	"auctionhouse/internal/domain"
	"auctionhouse/pkg/logger"
)

// counters aggregates the event stream into running totals, reported
// once a minute so a dashboard tail of the log shows live activity.
type counters struct {
	mu       sync.Mutex
	byType   map[domain.EventType]int64
	bidTotal float64
	highest  float64
}

func newCounters() *counters {
	return &counters{byType: make(map[domain.EventType]int64)}
}

func (c *counters) record(event *domain.Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.byType[event.Type]++
	if event.Type == domain.BidPlaced {
		c.bidTotal += event.Amount
		if event.Amount > c.highest {
			c.highest = event.Amount
		}
	}
	return nil
}

func (c *counters) report(log logger.Logger) {
	c.mu.Lock()
	defer c.mu.Unlock()

	bids := c.byType[domain.BidPlaced]
	avg := 0.0
	if bids > 0 {
		avg = c.bidTotal / float64(bids)
	}
	log.Info("Auction statistics",
		"started", c.byType[domain.AuctionStarted],
		"ended", c.byType[domain.AuctionEnded],
		"bids", bids,
		"won", c.byType[domain.BidWon],
		"logins", c.byType[domain.UserLogin],
		"avg_bid", avg,
		"highest_bid", c.highest)
}

func main() {
	log := logger.New()
	log.Info("Starting auction statistics consumer")

	cfg, err := config.Load()
	if err != nil {
		log.Error("Failed to load config", "error", err)
		os.Exit(1)
	}

	rdb := redisClient.NewClient(&redisClient.Options{
		Addr:     cfg.Redis.Address,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		cancel()
		log.Error("Failed to connect to Redis", "address", cfg.Redis.Address, "error", err)
		os.Exit(1)
	}
	cancel()
	defer rdb.Close()
	log.Info("Connected to Redis", "address", cfg.Redis.Address)

	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	stats := newCounters()
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	go func() {
		for {
			select {
			case <-ticker.C:
				stats.report(log)
			case <-ctx.Done():
				return
			}
		}
	}()

	subscriber := analytics.NewRedisSubscriber(rdb, log)
	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := subscriber.Subscribe(ctx, stats.record); err != nil && err != context.Canceled {
			log.Error("Subscriber stopped", "error", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down")
	stop()
	<-done
	stats.report(log)
	log.Info("Stopped")
}
