package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"sync"
)

// Direction labels mixed into each frame IV so the two halves of a session
// never share a keystream.
const (
	dirClientToServer byte = 0x01
	dirServerToClient byte = 0x02
)

// SessionCipher is the symmetric cipher installed on a connection once the
// handshake completes. Each frame runs under its own CTR stream whose IV is
// derived from the negotiated IV, the frame's direction and a per-direction
// sequence number. TCP delivers frames in order per direction, so both peers
// advance their counters in lockstep without exchanging the IVs.
type SessionCipher struct {
	block cipher.Block
	iv    []byte

	mu      sync.Mutex
	sendDir byte
	recvDir byte
	sendSeq uint64
	recvSeq uint64
}

// NewSessionCipher builds the cipher for one end of a session. The initiator
// is the side that opened the connection; the two ends must pass opposite
// values so their send and receive streams pair up.
func NewSessionCipher(key, iv []byte, initiator bool) (*SessionCipher, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("session cipher: %w", err)
	}
	if len(iv) != block.BlockSize() {
		return nil, fmt.Errorf("session cipher: iv must be %d bytes, got %d", block.BlockSize(), len(iv))
	}
	c := &SessionCipher{block: block, iv: append([]byte(nil), iv...)}
	if initiator {
		c.sendDir, c.recvDir = dirClientToServer, dirServerToClient
	} else {
		c.sendDir, c.recvDir = dirServerToClient, dirClientToServer
	}
	return c, nil
}

func (c *SessionCipher) Encrypt(plaintext []byte) []byte {
	c.mu.Lock()
	seq := c.sendSeq
	c.sendSeq++
	dir := c.sendDir
	c.mu.Unlock()
	return c.transform(plaintext, dir, seq)
}

func (c *SessionCipher) Decrypt(ciphertext []byte) []byte {
	c.mu.Lock()
	seq := c.recvSeq
	c.recvSeq++
	dir := c.recvDir
	c.mu.Unlock()
	return c.transform(ciphertext, dir, seq)
}

func (c *SessionCipher) transform(in []byte, dir byte, seq uint64) []byte {
	out := make([]byte, len(in))
	cipher.NewCTR(c.block, c.frameIV(dir, seq)).XORKeyStream(out, in)
	return out
}

// frameIV derives a fresh IV so no two frames reuse a keystream.
func (c *SessionCipher) frameIV(dir byte, seq uint64) []byte {
	h := sha256.New()
	h.Write(c.iv)
	h.Write([]byte{dir})
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], seq)
	h.Write(buf[:])
	return h.Sum(nil)[:c.block.BlockSize()]
}
