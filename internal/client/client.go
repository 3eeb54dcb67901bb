// Package client implements the auction protocol from the caller's side:
// the session handshake, the authenticated commands, list-response
// integrity checking and the offline signed-bid fallback.
package client

import (
	"crypto/rsa"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"auctionhouse/internal/crypto"
	"auctionhouse/internal/protocol"
	"auctionhouse/internal/wire"
	"auctionhouse/internal/witness"
	"auctionhouse/pkg/logger"
)

var (
	ErrLoginRefused  = errors.New("login refused by server")
	ErrNotConnected  = errors.New("not connected to server")
	ErrBadChallenge  = errors.New("server echoed a wrong client challenge")
	ErrListTampered  = errors.New("list response failed integrity check")
	ErrNoSuchAuction = errors.New("no such auction")
)

// Witness names a reachable peer acting as a neutral clock for offline
// bids.
type Witness struct {
	Name string
	Addr string
}

type Client struct {
	serverAddr  string
	serverKey   *rsa.PublicKey
	hmacKey     []byte
	witnessPort int
	log         logger.Logger

	mu         sync.Mutex
	channel    *wire.CipherChannel
	name       string
	privateKey *rsa.PrivateKey
	queue      []string // queued !signedBid commands awaiting reconnect
}

func New(serverAddr string, serverKey *rsa.PublicKey, log logger.Logger) *Client {
	return &Client{
		serverAddr: serverAddr,
		serverKey:  serverKey,
		log:        log,
	}
}

// SetWitnessPort announces where this client's own witness server listens.
func (c *Client) SetWitnessPort(port int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.witnessPort = port
}

// SetSharedHMACKey installs the out-of-band key list responses are
// verified with.
func (c *Client) SetSharedHMACKey(key []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.hmacKey = append([]byte(nil), key...)
}

func (c *Client) Dial() error {
	conn, err := net.Dial("tcp", c.serverAddr)
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.channel = wire.NewStack(conn)
	c.mu.Unlock()
	return nil
}

func (c *Client) Close() error {
	c.mu.Lock()
	channel := c.channel
	c.channel = nil
	c.mu.Unlock()
	if channel == nil {
		return nil
	}
	return channel.Close()
}

// Login runs the client side of the session handshake and, on success,
// replays any bids queued while the server was unreachable.
func (c *Client) Login(name string, privateKey *rsa.PrivateKey) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.channel == nil {
		return ErrNotConnected
	}

	clientChallenge, err := crypto.GenerateNonce(protocol.ChallengeSize)
	if err != nil {
		return err
	}

	request := fmt.Sprintf("%s %s %d %s", protocol.CmdLogin, name, c.witnessPort,
		base64.StdEncoding.EncodeToString(clientChallenge))
	wrapped, err := crypto.EncryptRSA(c.serverKey, []byte(request))
	if err != nil {
		return err
	}
	if err := c.channel.Send(wrapped); err != nil {
		return err
	}

	reply, err := c.channel.Read()
	if err != nil {
		return err
	}
	if string(reply) == protocol.RespFail {
		return ErrLoginRefused
	}

	plain, err := crypto.DecryptRSA(privateKey, reply)
	if err != nil {
		return fmt.Errorf("handshake challenge: %w", err)
	}
	tokens := strings.Fields(string(plain))
	if len(tokens) < 5 || tokens[0] != protocol.RespSuccess {
		return ErrLoginRefused
	}

	// A server that garbles or replays our challenge does not get the
	// session confirmed.
	echoed, err := base64.StdEncoding.DecodeString(tokens[1])
	if err != nil || subtle.ConstantTimeCompare(echoed, clientChallenge) != 1 {
		return ErrBadChallenge
	}

	serverChallenge := tokens[2]
	sessionKey, err := base64.StdEncoding.DecodeString(tokens[3])
	if err != nil {
		return fmt.Errorf("handshake session key: %w", err)
	}
	iv, err := base64.StdEncoding.DecodeString(tokens[4])
	if err != nil {
		return fmt.Errorf("handshake iv: %w", err)
	}

	cipher, err := crypto.NewSessionCipher(sessionKey, iv, true)
	if err != nil {
		return err
	}
	// Install before confirming; the confirmation must already travel
	// encrypted.
	c.channel.Install(cipher)
	if err := c.channel.Send([]byte(serverChallenge)); err != nil {
		c.channel.Clear()
		return err
	}

	c.name = name
	c.privateKey = privateKey

	c.replayQueuedLocked()
	return nil
}

func (c *Client) Logout() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, err := c.roundTripLocked(protocol.CmdLogout)
	if c.channel != nil {
		c.channel.Clear()
	}
	c.name = ""
	c.privateKey = nil
	return err
}

// Create starts an auction and returns its id.
func (c *Client) Create(durationSeconds int, description string) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	reply, err := c.roundTripLocked(fmt.Sprintf("%s %d %s", protocol.CmdCreate, durationSeconds, description))
	if err != nil {
		return 0, err
	}
	tokens := strings.Fields(reply)
	if len(tokens) < 2 || tokens[0] != protocol.RespSuccess {
		return 0, fmt.Errorf("create rejected: %s", reply)
	}
	return strconv.ParseInt(tokens[1], 10, 64)
}

// List fetches the auction list and verifies its integrity tag when a
// shared HMAC key is installed.
func (c *Client) List() ([]string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.channel == nil {
		return nil, ErrNotConnected
	}

	if err := c.channel.Send([]byte(protocol.CmdList)); err != nil {
		return nil, err
	}
	status, err := c.readLineLocked()
	if err != nil {
		return nil, err
	}
	if !strings.HasPrefix(status, protocol.RespSuccess) {
		return nil, fmt.Errorf("list rejected: %s", status)
	}
	header, err := c.readLineLocked()
	if err != nil {
		return nil, err
	}
	count, err := strconv.Atoi(header)
	if err != nil {
		return nil, fmt.Errorf("list header: %w", err)
	}

	lines := make([]string, 0, count)
	for i := 0; i < count; i++ {
		line, err := c.readLineLocked()
		if err != nil {
			return nil, err
		}
		lines = append(lines, line)
	}

	tagLine, err := c.readLineLocked()
	if err != nil {
		return nil, err
	}
	if c.hmacKey != nil {
		var body strings.Builder
		body.WriteString(status)
		body.WriteByte('\n')
		body.WriteString(header)
		body.WriteByte('\n')
		for _, line := range lines {
			body.WriteString(line)
			body.WriteByte('\n')
		}
		tag, err := base64.StdEncoding.DecodeString(tagLine)
		if err != nil || !crypto.HMACEqual(tag, crypto.HMAC([]byte(body.String()), c.hmacKey)) {
			return nil, ErrListTampered
		}
	}

	return lines, nil
}

// Bid places a bid; false means the bid was too low.
func (c *Client) Bid(auctionID int64, amount float64) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	reply, err := c.roundTripLocked(fmt.Sprintf("%s %d %.2f", protocol.CmdBid, auctionID, amount))
	if err != nil {
		return false, err
	}
	switch {
	case strings.HasPrefix(reply, protocol.RespSuccess):
		return true, nil
	case strings.HasPrefix(reply, protocol.RespNoAuction):
		return false, ErrNoSuchAuction
	default:
		return false, nil
	}
}

// GroupBid places a multi-party bid. It blocks until the server admits the
// bid into the pending list (the permit pool may hold it back first).
func (c *Client) GroupBid(auctionID int64, amount float64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	reply, err := c.roundTripLocked(fmt.Sprintf("%s %d %.2f", protocol.CmdGroupBid, auctionID, amount))
	if err != nil {
		return err
	}
	if reply == protocol.RespBlock {
		// Provisional acknowledgement; the definitive answer follows once
		// a permit is held.
		reply, err = c.readLineLocked()
		if err != nil {
			return err
		}
	}
	if !strings.HasPrefix(reply, protocol.RespSuccess) {
		return fmt.Errorf("group bid rejected: %s", reply)
	}
	return nil
}

// Confirm joins the rendezvous for another identity's group bid. The reply
// tells whether the bid went through, was rejected, or whether admission
// was refused ("blocked, try later").
func (c *Client) Confirm(auctionID int64, amount float64, initiator string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.roundTripLocked(fmt.Sprintf("%s %d %.2f %s", protocol.CmdConfirm, auctionID, amount, initiator))
}

// SetPushAddr announces the UDP port push notices should be sent to.
func (c *Client) SetPushAddr(port int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	reply, err := c.roundTripLocked(fmt.Sprintf("%s %d", protocol.CmdPushAddr, port))
	if err != nil {
		return err
	}
	if reply != protocol.RespSuccess {
		return fmt.Errorf("set push address rejected: %s", reply)
	}
	return nil
}

// ActiveUsers lists logged-in identities with their witness endpoints.
func (c *Client) ActiveUsers() ([]string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.channel == nil {
		return nil, ErrNotConnected
	}
	if err := c.channel.Send([]byte(protocol.CmdActiveUsers)); err != nil {
		return nil, err
	}
	status, err := c.readLineLocked()
	if err != nil {
		return nil, err
	}
	if status != protocol.RespSuccess {
		return nil, fmt.Errorf("active users rejected: %s", status)
	}
	header, err := c.readLineLocked()
	if err != nil {
		return nil, err
	}
	count, err := strconv.Atoi(header)
	if err != nil {
		return nil, err
	}
	users := make([]string, 0, count)
	for i := 0; i < count; i++ {
		line, err := c.readLineLocked()
		if err != nil {
			return nil, err
		}
		users = append(users, line)
	}
	return users, nil
}

// OfflineBid authors a bid without a server round trip: two independent
// witnesses each sign (auction, amount, their clock), and the resulting
// signed bid is queued until the next successful login replays it.
func (c *Client) OfflineBid(auctionID int64, amount float64, w1, w2 Witness) error {
	if w1.Name == w2.Name {
		return fmt.Errorf("offline bid needs two distinct witnesses, got %s twice", w1.Name)
	}

	stamp1, err := witness.RequestStamp(w1.Addr, w1.Name, auctionID, amount, 5*time.Second)
	if err != nil {
		return err
	}
	stamp2, err := witness.RequestStamp(w2.Addr, w2.Name, auctionID, amount, 5*time.Second)
	if err != nil {
		return err
	}

	command := fmt.Sprintf("%s %d %.2f %s %s", protocol.CmdSignedBid, auctionID, amount, stamp1, stamp2)

	c.mu.Lock()
	c.queue = append(c.queue, command)
	c.mu.Unlock()

	c.log.Info("Signed bid queued for replay", "auction_id", auctionID, "amount", amount)
	return nil
}

// QueuedBids reports how many signed bids await replay.
func (c *Client) QueuedBids() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.queue)
}

func (c *Client) replayQueuedLocked() {
	queued := c.queue
	c.queue = nil
	for _, command := range queued {
		reply, err := c.roundTripLocked(command)
		if err != nil {
			// Connection broke again; keep the bid for the next login.
			c.queue = append(c.queue, command)
			return
		}
		c.log.Info("Replayed signed bid", "reply", reply)
	}
}

func (c *Client) roundTripLocked(command string) (string, error) {
	if c.channel == nil {
		return "", ErrNotConnected
	}
	if err := c.channel.Send([]byte(command)); err != nil {
		return "", err
	}
	return c.readLineLocked()
}

func (c *Client) readLineLocked() (string, error) {
	frame, err := c.channel.Read()
	if err != nil {
		return "", err
	}
	return string(frame), nil
}
