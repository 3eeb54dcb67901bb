package analytics

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"auctionhouse/internal/domain"
)

func TestParsePayload(t *testing.T) {
	event, err := parsePayload("7:BID_PLACED:bob:120.50:1756400000")
	require.NoError(t, err)
	assert.Equal(t, int64(7), event.AuctionID)
	assert.Equal(t, domain.BidPlaced, event.Type)
	assert.Equal(t, "bob", event.User)
	assert.Equal(t, 120.50, event.Amount)
	assert.Equal(t, time.Unix(1756400000, 0), event.Timestamp)
}

func TestParsePayloadRejectsMalformedInput(t *testing.T) {
	for _, payload := range []string{
		"",
		"7:BID_PLACED:bob",
		"x:BID_PLACED:bob:120.50:1756400000",
		"7:BID_PLACED:bob:notanumber:1756400000",
		"7:BID_PLACED:bob:120.50:notatime",
	} {
		_, err := parsePayload(payload)
		assert.Error(t, err, "payload %q", payload)
	}
}
