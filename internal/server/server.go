// Package server accepts client connections, runs the session handshake
// and dispatches the authenticated command loop for each of them.
package server

import (
	"crypto/rsa"
	"errors"
	"net"
	"sync"

	"auctionhouse/internal/crypto"
	"auctionhouse/internal/groupbid"
	"auctionhouse/internal/registry"
	"auctionhouse/pkg/logger"
)

// Server is the connection dispatcher: one worker goroutine per accepted
// connection, no cap, so unrelated clients are never serialized.
type Server struct {
	users       *registry.Users
	auctions    *registry.Auctions
	coordinator *groupbid.Coordinator
	privateKey  *rsa.PrivateKey
	keys        crypto.KeyResolver
	log         logger.Logger

	mu       sync.Mutex
	listener net.Listener
	conns    map[string]*Connection
	closed   bool

	wg sync.WaitGroup
}

func New(users *registry.Users, auctions *registry.Auctions, coordinator *groupbid.Coordinator,
	privateKey *rsa.PrivateKey, keys crypto.KeyResolver, log logger.Logger) *Server {
	return &Server{
		users:       users,
		auctions:    auctions,
		coordinator: coordinator,
		privateKey:  privateKey,
		keys:        keys,
		log:         log,
		conns:       make(map[string]*Connection),
	}
}

// Serve accepts connections on l until Shutdown closes it.
func (s *Server) Serve(l net.Listener) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return errors.New("server already shut down")
	}
	s.listener = l
	s.mu.Unlock()

	s.log.Info("Auction server listening", "address", l.Addr().String())

	for {
		conn, err := l.Accept()
		if err != nil {
			s.mu.Lock()
			closed := s.closed
			s.mu.Unlock()
			if closed {
				return nil
			}
			return err
		}

		c := NewConnection(conn)
		s.track(c)

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			defer s.untrack(c)
			newHandler(s, c).run()
		}()
	}
}

// Shutdown stops accepting, closes every live connection and waits for the
// workers to drain.
func (s *Server) Shutdown() {
	s.mu.Lock()
	s.closed = true
	listener := s.listener
	conns := make([]*Connection, 0, len(s.conns))
	for _, c := range s.conns {
		conns = append(conns, c)
	}
	s.mu.Unlock()

	if listener != nil {
		listener.Close()
	}
	for _, c := range conns {
		c.Close()
	}
	s.wg.Wait()
	s.log.Info("Auction server stopped")
}

func (s *Server) track(c *Connection) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conns[c.ID()] = c
}

func (s *Server) untrack(c *Connection) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.conns, c.ID())
}
