package witness

import (
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"auctionhouse/internal/crypto"
	"auctionhouse/internal/protocol"
	"auctionhouse/pkg/logger"
)

func startWitness(t *testing.T, key *rsa.PrivateKey) (addr string) {
	t.Helper()
	s := NewServer(logger.NewNop())
	s.SetSigningKey(key)
	port, err := s.Start("127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(s.Close)
	return fmt.Sprintf("127.0.0.1:%d", port)
}

func TestRequestStampProducesVerifiableToken(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	addr := startWitness(t, key)

	token, err := RequestStamp(addr, "bob", 7, 150.50, 2*time.Second)
	require.NoError(t, err)

	parts := strings.Split(token, ":")
	require.Len(t, parts, 3)
	assert.Equal(t, "bob", parts[0])

	timeMilli, err := strconv.ParseInt(parts[1], 10, 64)
	require.NoError(t, err)
	assert.InDelta(t, time.Now().UnixMilli(), timeMilli, float64(5*time.Second/time.Millisecond))

	signature, err := base64.StdEncoding.DecodeString(parts[2])
	require.NoError(t, err)
	assert.True(t, crypto.Verify(&key.PublicKey, protocol.StampMessage(7, 150.50, timeMilli), signature))
}

func TestWitnessRefusesWithoutSigningKey(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	s := NewServer(logger.NewNop())
	port, err := s.Start("127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(s.Close)
	addr := fmt.Sprintf("127.0.0.1:%d", port)

	// Logged out: no key installed, no stamps.
	_, err = RequestStamp(addr, "bob", 1, 10, 2*time.Second)
	assert.Error(t, err)

	// Logging in installs the key and stamping resumes.
	s.SetSigningKey(key)
	_, err = RequestStamp(addr, "bob", 1, 10, 2*time.Second)
	assert.NoError(t, err)
}

func TestWitnessRejectsMalformedRequests(t *testing.T) {
	s := NewServer(logger.NewNop())
	s.SetSigningKey(nil)

	assert.Equal(t, protocol.RespFail, s.answer("!getTimestamp"))
	assert.Equal(t, protocol.RespFail, s.answer("!getTimestamp x 10"))
	assert.Equal(t, protocol.RespFail, s.answer("!bid 1 10"))
}
