package wire

import (
	"net"
	"sync"

	"auctionhouse/internal/crypto"
)

// CipherChannel transforms frames with the installed session cipher. Before
// Install (and after Clear) frames pass through untouched, which is exactly
// the window the RSA-wrapped login exchange uses.
type CipherChannel struct {
	inner Channel

	mu     sync.RWMutex
	cipher *crypto.SessionCipher

	// sendMu keeps the encrypt-then-write pair atomic so frames reach the
	// wire in the same order their keystream positions were assigned.
	sendMu sync.Mutex
}

func NewCipherChannel(inner Channel) *CipherChannel {
	return &CipherChannel{inner: inner}
}

// Install switches the channel to the negotiated session cipher. Both peers
// must install before exchanging the final handshake confirmation.
func (c *CipherChannel) Install(cipher *crypto.SessionCipher) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cipher = cipher
}

// Clear drops the session cipher, returning the channel to plaintext.
// Called at logout.
func (c *CipherChannel) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cipher = nil
}

func (c *CipherChannel) Secured() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.cipher != nil
}

func (c *CipherChannel) Read() ([]byte, error) {
	frame, err := c.inner.Read()
	if err != nil {
		return nil, err
	}
	c.mu.RLock()
	cipher := c.cipher
	c.mu.RUnlock()
	if cipher == nil {
		return frame, nil
	}
	return cipher.Decrypt(frame), nil
}

func (c *CipherChannel) Send(message []byte) error {
	c.mu.RLock()
	cipher := c.cipher
	c.mu.RUnlock()
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	if cipher != nil {
		message = cipher.Encrypt(message)
	}
	return c.inner.Send(message)
}

func (c *CipherChannel) Close() error {
	return c.inner.Close()
}

// NewStack assembles the full channel stack for a fresh connection:
// TCP line framing, base64 armoring, and a cleared cipher layer on top.
func NewStack(conn net.Conn) *CipherChannel {
	return NewCipherChannel(NewBase64Channel(NewTCPChannel(conn)))
}
