// Package witness runs the timestamp service every client carries: peers
// that cannot reach the auction server ask two witnesses for signed
// timestamps and use them to author an offline bid.
package witness

import (
	"crypto/rsa"
	"encoding/base64"
	"fmt"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"auctionhouse/internal/crypto"
	"auctionhouse/internal/protocol"
	"auctionhouse/internal/wire"
	"auctionhouse/pkg/logger"
)

// Server answers !getTimestamp requests with a signed stamp. The signing
// key is only present while the owning client is logged in; without it the
// server answers with the failure sentinel.
type Server struct {
	log logger.Logger

	mu         sync.Mutex
	signingKey *rsa.PrivateKey
	listener   net.Listener

	wg sync.WaitGroup
}

func NewServer(log logger.Logger) *Server {
	return &Server{log: log}
}

// SetSigningKey installs (or, with nil, removes) the key stamps are signed
// with. Tied to the owning client's login state.
func (s *Server) SetSigningKey(key *rsa.PrivateKey) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.signingKey = key
}

// Start listens on addr and serves until Close. Returns the bound port.
func (s *Server) Start(addr string) (int, error) {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return 0, fmt.Errorf("witness listen: %w", err)
	}

	s.mu.Lock()
	s.listener = listener
	s.mu.Unlock()

	s.wg.Add(1)
	go s.serve(listener)

	return listener.Addr().(*net.TCPAddr).Port, nil
}

func (s *Server) serve(listener net.Listener) {
	defer s.wg.Done()
	for {
		conn, err := listener.Accept()
		if err != nil {
			return
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.handle(conn)
		}()
	}
}

func (s *Server) handle(conn net.Conn) {
	channel := wire.NewBase64Channel(wire.NewTCPChannel(conn))
	defer channel.Close()

	for {
		frame, err := channel.Read()
		if err != nil {
			return
		}
		if err := channel.Send([]byte(s.answer(string(frame)))); err != nil {
			return
		}
	}
}

// answer stamps one "!getTimestamp <auctionId> <amount>" request.
func (s *Server) answer(request string) string {
	tokens := strings.Fields(request)
	if len(tokens) != 3 || tokens[0] != protocol.CmdGetTimestamp {
		return protocol.RespFail
	}

	auctionID, err := strconv.ParseInt(tokens[1], 10, 64)
	if err != nil {
		return protocol.RespFail
	}
	amount, err := strconv.ParseFloat(tokens[2], 64)
	if err != nil {
		return protocol.RespFail
	}

	s.mu.Lock()
	key := s.signingKey
	s.mu.Unlock()
	if key == nil {
		return protocol.RespFail
	}

	now := time.Now().UnixMilli()
	signature, err := crypto.Sign(key, protocol.StampMessage(auctionID, amount, now))
	if err != nil {
		s.log.Warn("Failed to sign timestamp", "auction_id", auctionID, "error", err)
		return protocol.RespFail
	}

	return fmt.Sprintf("%s %d %.2f %d %s",
		protocol.RespTimestamp, auctionID, amount, now,
		base64.StdEncoding.EncodeToString(signature))
}

// Close stops the listener and waits for in-flight handlers.
func (s *Server) Close() {
	s.mu.Lock()
	listener := s.listener
	s.mu.Unlock()

	if listener != nil {
		listener.Close()
	}
	s.wg.Wait()
}

// RequestStamp asks the witness at addr to stamp (auctionID, amount) and
// returns the stamp token a !signedBid command carries.
func RequestStamp(addr string, witnessName string, auctionID int64, amount float64, timeout time.Duration) (string, error) {
	conn, err := net.DialTimeout("tcp", addr, timeout)
	if err != nil {
		return "", fmt.Errorf("witness %s: %w", witnessName, err)
	}
	channel := wire.NewBase64Channel(wire.NewTCPChannel(conn))
	defer channel.Close()

	conn.SetDeadline(time.Now().Add(timeout))

	request := fmt.Sprintf("%s %d %.2f", protocol.CmdGetTimestamp, auctionID, amount)
	if err := channel.Send([]byte(request)); err != nil {
		return "", fmt.Errorf("witness %s: %w", witnessName, err)
	}
	frame, err := channel.Read()
	if err != nil {
		return "", fmt.Errorf("witness %s: %w", witnessName, err)
	}

	tokens := strings.Fields(string(frame))
	if len(tokens) != 5 || tokens[0] != protocol.RespTimestamp {
		return "", fmt.Errorf("witness %s refused to stamp", witnessName)
	}

	return fmt.Sprintf("%s:%s:%s", witnessName, tokens[3], tokens[4]), nil
}
