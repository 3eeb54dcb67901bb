package groupbid

import (
	"fmt"
	"sync"
	"time"

	"auctionhouse/internal/domain"
	"auctionhouse/internal/protocol"
	"auctionhouse/pkg/logger"
)

// BidEngine is the slice of the auction registry the coordinator applies
// confirmed bids through.
type BidEngine interface {
	Get(id int64) *domain.Auction
	Bid(bidder *domain.User, auction *domain.Auction, amount float64) (bool, error)
}

// Poster delivers asynchronous notices to identities.
type Poster interface {
	Post(user *domain.User, notice string)
}

// Membership enumerates every identity eligible to confirm group bids.
type Membership interface {
	Members() []*domain.User
}

// Coordinator throttles concurrent group bids through a counting permit
// pool and runs the rendezvous for each pending bid. One permit is held per
// auction that currently has a pending group bid; it returns to the pool
// when that bid executes, is rejected or times out.
type Coordinator struct {
	engine  BidEngine
	members Membership
	poster  Poster
	timeout time.Duration
	permits chan struct{}
	log     logger.Logger

	// mu guards the pending list and the admission check together, so two
	// confirmers cannot both be admitted into a configuration that strands
	// a third party.
	mu      sync.Mutex
	pending []*GroupBid
}

func NewCoordinator(engine BidEngine, members Membership, poster Poster, permits int, timeout time.Duration, log logger.Logger) *Coordinator {
	pool := make(chan struct{}, permits)
	for i := 0; i < permits; i++ {
		pool <- struct{}{}
	}
	return &Coordinator{
		engine:  engine,
		members: members,
		poster:  poster,
		timeout: timeout,
		permits: pool,
		log:     log,
	}
}

// Place registers a new pending group bid. If the auction has no group bid
// in flight yet, a permit is acquired first; the call blocks the
// initiator's worker while the pool is exhausted, which is the deliberate
// admission-control mechanism. The bid is only provisionally acknowledged;
// application happens on confirmation.
func (c *Coordinator) Place(auction *domain.Auction, initiator *domain.User, amount float64) *GroupBid {
	c.mu.Lock()
	needPermit := !auction.HasGroupBid()
	if needPermit {
		auction.SetHasGroupBid(true)
	}
	c.mu.Unlock()

	if needPermit {
		<-c.permits
	}

	bid := newGroupBid(auction.ID, initiator, amount)
	bid.holdsPermit = needPermit
	// The future's own timeout timer: a bid that never reaches quorum is
	// expired and removed even if no confirmer is waiting on it.
	bid.timer = time.AfterFunc(c.timeout, func() {
		c.expire(bid)
	})

	c.mu.Lock()
	c.pending = append(c.pending, bid)
	c.mu.Unlock()

	c.log.Info("Group bid placed", "auction_id", auction.ID, "initiator", initiator.Name, "amount", amount)
	return bid
}

// Confirm contributes one confirmation to the pending group bid matching
// exactly (auction id, amount, initiator name) and blocks on the rendezvous
// until the bid resolves or the timeout elapses.
//
// A missing or already-resolved bid is a *ConfirmError. Self-confirmation
// and a refusal by the deadlock check return ResultNotAllowed without
// error, as both are expected races rather than caller bugs.
func (c *Coordinator) Confirm(confirmer *domain.User, auctionID int64, amount float64, initiator string) (Result, error) {
	c.mu.Lock()
	bid := c.findLocked(auctionID, amount, initiator)
	if bid == nil {
		c.mu.Unlock()
		return ResultNotAllowed, &ConfirmError{
			Reason: fmt.Sprintf("no pending group bid on auction %d for %.2f by %s", auctionID, amount, initiator),
		}
	}
	if bid.Initiator == confirmer {
		c.mu.Unlock()
		return ResultNotAllowed, nil
	}
	if !c.confirmAllowedLocked(confirmer, bid) {
		c.mu.Unlock()
		return ResultNotAllowed, nil
	}

	confirmer.SetBlocked(true)
	defer confirmer.SetBlocked(false)

	completed := bid.arrive()
	if completed {
		c.removeLocked(bid)
		bid.timer.Stop()
	}
	c.mu.Unlock()

	if completed {
		// Completion action runs off the confirmer's own goroutine.
		go c.execute(bid)
	}

	timer := time.NewTimer(c.timeout)
	defer timer.Stop()

	select {
	case <-bid.done:
		return bid.outcome(), nil
	case <-timer.C:
		if c.expire(bid) {
			return ResultTimeout, nil
		}
		// Execution is already in flight; its outcome is moments away.
		<-bid.done
		return bid.outcome(), nil
	}
}

// Pending snapshots the pending list for list responses.
func (c *Coordinator) Pending() []View {
	c.mu.Lock()
	defer c.mu.Unlock()

	views := make([]View, 0, len(c.pending))
	for _, b := range c.pending {
		views = append(views, View{
			AuctionID:         b.AuctionID,
			Initiator:         b.Initiator.Name,
			Amount:            b.Amount,
			ConfirmsRemaining: b.ConfirmsRemaining(),
		})
	}
	return views
}

// confirmAllowedLocked decides whether admitting this confirmation can
// leave every pending group bid permanently unconfirmable. For each pending
// bid it counts candidate confirmers: identities that are not the bid's
// initiator, not the confirmer under consideration and not already parked
// on another rendezvous. Admission is allowed as soon as one pending bid's
// remaining need is covered. Caller holds c.mu.
func (c *Coordinator) confirmAllowedLocked(confirmer *domain.User, target *GroupBid) bool {
	members := c.members.Members()

	for _, b := range c.pending {
		required := b.ConfirmsRemaining()

		if b == target {
			required--
			if required <= 0 {
				return true
			}
		}

		for _, u := range members {
			if u == confirmer || u == b.Initiator || u.Blocked() {
				continue
			}
			required--
			if required <= 0 {
				return true
			}
		}
	}

	return false
}

// execute applies a quorum-complete group bid: re-validate through the
// bidding engine, return the permit, and tell the initiator how it went.
// The bid was already removed from the pending list under c.mu.
func (c *Coordinator) execute(bid *GroupBid) {
	auction := c.engine.Get(bid.AuctionID)

	accepted := false
	if auction != nil {
		var err error
		accepted, err = c.engine.Bid(bid.Initiator, auction, bid.Amount)
		if err != nil {
			c.log.Warn("Group bid application failed", "auction_id", bid.AuctionID, "error", err)
			accepted = false
		}
	}

	c.releasePermit(bid, auction)

	if accepted {
		c.poster.Post(bid.Initiator, fmt.Sprintf("%s %.2f %s", protocol.NoticeConfirmed, bid.Amount, auction.Description))
		bid.resolve(ResultConfirmed)
	} else {
		c.poster.Post(bid.Initiator, fmt.Sprintf("%s auction %d", protocol.NoticeRejected, bid.AuctionID))
		bid.resolve(ResultRejected)
	}

	c.log.Info("Group bid resolved", "auction_id", bid.AuctionID, "accepted", accepted)
}

// expire times a pending bid out. Returns false when the bid already left
// the pending list, meaning execution won the race.
func (c *Coordinator) expire(bid *GroupBid) bool {
	c.mu.Lock()
	found := false
	for _, b := range c.pending {
		if b == bid {
			found = true
			break
		}
	}
	if found {
		c.removeLocked(bid)
		bid.timer.Stop()
	}
	c.mu.Unlock()

	if !found {
		return false
	}

	c.releasePermit(bid, c.engine.Get(bid.AuctionID))
	c.poster.Post(bid.Initiator, fmt.Sprintf("%s auction %d", protocol.NoticeRejected, bid.AuctionID))
	bid.resolve(ResultTimeout)

	c.log.Info("Group bid timed out", "auction_id", bid.AuctionID, "initiator", bid.Initiator.Name)
	return true
}

// releasePermit settles the resolved bid's permit. If another bid on the
// same auction is still pending it inherits the permit in place; otherwise
// the auction's in-flight marker is cleared and the permit returns to the
// pool. Bids that never held the permit release nothing.
func (c *Coordinator) releasePermit(bid *GroupBid, auction *domain.Auction) {
	if !bid.holdsPermit {
		return
	}
	bid.holdsPermit = false

	c.mu.Lock()
	for _, b := range c.pending {
		if b.AuctionID == bid.AuctionID {
			b.holdsPermit = true
			c.mu.Unlock()
			return
		}
	}
	c.mu.Unlock()

	if auction != nil {
		auction.SetHasGroupBid(false)
	}
	c.permits <- struct{}{}
}

func (c *Coordinator) findLocked(auctionID int64, amount float64, initiator string) *GroupBid {
	for _, b := range c.pending {
		if b.AuctionID == auctionID && b.Amount == amount && b.Initiator.Name == initiator {
			return b
		}
	}
	return nil
}

func (c *Coordinator) removeLocked(bid *GroupBid) {
	for i, b := range c.pending {
		if b == bid {
			c.pending = append(c.pending[:i], c.pending[i+1:]...)
			return
		}
	}
}
