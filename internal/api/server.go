// Package api exposes the read-only admin surface over HTTP: health,
// auction and user listings, owner bills, and the websocket attach point
// for push notices.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"auctionhouse/internal/billing"
	"auctionhouse/internal/domain"
	"auctionhouse/internal/push"
	"auctionhouse/pkg/logger"
)

// AuctionLister serves the auction listing.
type AuctionLister interface {
	List() []domain.AuctionView
}

// Membership answers who is logged in.
type Membership interface {
	Active() []string
	IsLoggedIn(name string) bool
}

type Server struct {
	echo     *echo.Echo
	auctions AuctionLister
	users    Membership
	bills    *billing.Service
	sockets  *push.WSManager
	upgrader websocket.Upgrader
	log      logger.Logger
}

func NewServer(auctions AuctionLister, users Membership, bills *billing.Service, sockets *push.WSManager, log logger.Logger) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.RequestID())
	e.Use(middleware.Recover())

	s := &Server{
		echo:     e,
		auctions: auctions,
		users:    users,
		bills:    bills,
		sockets:  sockets,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		log: log,
	}

	e.GET("/health", s.health)
	e.GET("/api/v1/auctions", s.listAuctions)
	e.GET("/api/v1/users", s.listUsers)
	e.GET("/api/v1/bills/:owner", s.ownerBill)
	e.GET("/ws/notifications", s.attachSocket)

	return s
}

func (s *Server) Start(addr string) error {
	return s.echo.Start(addr)
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}

func (s *Server) health(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

type auctionResponse struct {
	ID            int64     `json:"id"`
	Description   string    `json:"description"`
	Owner         string    `json:"owner"`
	EndTime       time.Time `json:"end_time"`
	HighestBid    float64   `json:"highest_bid"`
	HighestBidder string    `json:"highest_bidder,omitempty"`
}

func (s *Server) listAuctions(c echo.Context) error {
	views := s.auctions.List()
	out := make([]auctionResponse, 0, len(views))
	for _, v := range views {
		out = append(out, auctionResponse{
			ID:            v.ID,
			Description:   v.Description,
			Owner:         v.Owner,
			EndTime:       v.EndTime,
			HighestBid:    v.HighestBid,
			HighestBidder: v.HighestBidder,
		})
	}
	return c.JSON(http.StatusOK, out)
}

func (s *Server) listUsers(c echo.Context) error {
	return c.JSON(http.StatusOK, s.users.Active())
}

func (s *Server) ownerBill(c echo.Context) error {
	if s.bills == nil {
		return c.JSON(http.StatusNotFound, map[string]string{"error": "billing not configured"})
	}
	owner := c.Param("owner")
	lines, err := s.bills.BillForOwner(c.Request().Context(), owner)
	if err != nil {
		s.log.Error("Failed to load bill", "owner", owner, "error", err)
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "failed to load bill"})
	}
	return c.JSON(http.StatusOK, lines)
}

// attachSocket upgrades the request and registers the socket as a push
// transport for the named identity. The identity must already be logged
// in over TCP; the socket is an additional delivery path, not a session.
func (s *Server) attachSocket(c echo.Context) error {
	user := c.QueryParam("user")
	if user == "" {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "user query parameter required"})
	}
	if !s.users.IsLoggedIn(user) {
		return c.JSON(http.StatusForbidden, map[string]string{"error": "user is not logged in"})
	}

	conn, err := s.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		s.log.Error("Websocket upgrade failed", "user", user, "error", err)
		return err
	}

	ws := push.NewWSConnection(conn)
	s.sockets.Register(user, ws)

	// Reads only drive connection teardown; clients never send on this
	// socket.
	go func() {
		defer func() {
			s.sockets.Unregister(user, ws)
			ws.Close()
		}()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	return nil
}
