package server

import (
	"encoding/base64"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"auctionhouse/internal/crypto"
	"auctionhouse/internal/protocol"
)

var errStampFormat = errors.New("malformed witness stamp")

// witnessStamp is one "<witness>:<unixMillis>:<base64 signature>" token
// from a !signedBid command.
type witnessStamp struct {
	witness   string
	timeMilli int64
	signature []byte
}

func parseStamp(token string) (witnessStamp, error) {
	parts := strings.Split(token, ":")
	if len(parts) != 3 {
		return witnessStamp{}, errStampFormat
	}
	timeMilli, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil {
		return witnessStamp{}, errStampFormat
	}
	signature, err := base64.StdEncoding.DecodeString(parts[2])
	if err != nil {
		return witnessStamp{}, errStampFormat
	}
	return witnessStamp{witness: parts[0], timeMilli: timeMilli, signature: signature}, nil
}

// validateStamps verifies both witness signatures against each witness's
// known public key and returns the average of the two attested times. Two
// stamps from the same witness are not independent and are rejected.
func (h *handler) validateStamps(auctionID int64, amount float64, token1, token2 string) (time.Time, error) {
	stamp1, err := parseStamp(token1)
	if err != nil {
		return time.Time{}, err
	}
	stamp2, err := parseStamp(token2)
	if err != nil {
		return time.Time{}, err
	}
	if stamp1.witness == stamp2.witness {
		return time.Time{}, fmt.Errorf("stamps must come from two distinct witnesses, both from %s", stamp1.witness)
	}

	for _, stamp := range []witnessStamp{stamp1, stamp2} {
		key, err := h.srv.keys.PublicKey(stamp.witness)
		if err != nil {
			return time.Time{}, fmt.Errorf("witness %s: %w", stamp.witness, err)
		}
		if !crypto.Verify(key, protocol.StampMessage(auctionID, amount, stamp.timeMilli), stamp.signature) {
			return time.Time{}, fmt.Errorf("witness %s: signature verification failed", stamp.witness)
		}
	}

	avg := (stamp1.timeMilli + stamp2.timeMilli) / 2
	return time.UnixMilli(avg), nil
}
