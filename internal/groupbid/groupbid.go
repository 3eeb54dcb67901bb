// Package groupbid coordinates multi-party bids: a bid placed by one
// identity is held pending until a quorum of two other identities confirms
// it, bounded by a counting permit pool and an admission check that keeps
// waiting confirmers from deadlocking each other.
package groupbid

import (
	"fmt"
	"sync"
	"time"

	"auctionhouse/internal/domain"
)

// ConfirmError marks a caller contract violation: confirming a group bid
// that never existed or has already been resolved. It is distinct from an
// ordinary bid rejection, which is an expected outcome.
type ConfirmError struct {
	Reason string
}

func (e *ConfirmError) Error() string {
	return fmt.Sprintf("confirm: %s", e.Reason)
}

// Result is what a confirmer learns once its rendezvous wait ends.
type Result int

const (
	// ResultConfirmed: quorum reached and the bid was applied.
	ResultConfirmed Result = iota
	// ResultRejected: quorum reached but the bid failed validation.
	ResultRejected
	// ResultTimeout: no quorum within the rendezvous timeout.
	ResultTimeout
	// ResultNotAllowed: admission refused, either self-confirmation or the
	// deadlock check said no. Retry later.
	ResultNotAllowed
)

// quorum is the number of distinct confirmations a group bid needs.
const quorum = 2

// GroupBid is one pending multi-party bid. The rendezvous is an explicit
// future: confirmations count down remaining, and done is closed exactly
// once when the bid resolves (executed, rejected or timed out).
type GroupBid struct {
	AuctionID int64
	Initiator *domain.User
	Amount    float64

	// holdsPermit is owned by the coordinator and guarded by its mutex:
	// exactly one pending bid per auction holds the pool permit.
	holdsPermit bool

	mu        sync.Mutex
	remaining int
	resolved  bool
	result    Result
	done      chan struct{}
	timer     *time.Timer
}

func newGroupBid(auctionID int64, initiator *domain.User, amount float64) *GroupBid {
	return &GroupBid{
		AuctionID: auctionID,
		Initiator: initiator,
		Amount:    amount,
		remaining: quorum,
		done:      make(chan struct{}),
	}
}

// ConfirmsRemaining reports how many more confirmations the bid needs.
func (b *GroupBid) ConfirmsRemaining() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.resolved {
		return 0
	}
	return b.remaining
}

// arrive contributes one confirmation. Returns true when this arrival
// satisfied the quorum.
func (b *GroupBid) arrive() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.resolved || b.remaining == 0 {
		return false
	}
	b.remaining--
	return b.remaining == 0
}

// resolve completes the future. Only the first call wins.
func (b *GroupBid) resolve(result Result) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.resolved {
		return false
	}
	b.resolved = true
	b.result = result
	close(b.done)
	return true
}

func (b *GroupBid) outcome() Result {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.result
}

// View is a read-only copy for list responses.
type View struct {
	AuctionID         int64
	Initiator         string
	Amount            float64
	ConfirmsRemaining int
}
