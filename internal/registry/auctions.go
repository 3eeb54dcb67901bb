package registry

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"

	"auctionhouse/internal/domain"
	"auctionhouse/internal/protocol"
	"auctionhouse/pkg/logger"
)

var (
	ErrNilOwner        = errors.New("auction owner must not be nil")
	ErrNilBidder       = errors.New("bidder must not be nil")
	ErrNilAuction      = errors.New("auction must not be nil")
	ErrEmptyDesc       = errors.New("auction description must not be empty")
	ErrInvalidDuration = errors.New("auction duration must be positive")
	ErrInvalidAmount   = errors.New("bid amount must be positive")
)

// Auctions is the authoritative map of running auctions plus the bidding
// engine. The registry lock guards only the map structure; every auction's
// bid state is guarded by its own lock, so bids on distinct auctions run
// fully in parallel.
type Auctions struct {
	users     *Users
	analytics domain.AnalyticsSink
	billing   domain.BillingSink
	log       logger.Logger

	nextID atomic.Int64

	mu       sync.RWMutex
	auctions map[int64]*domain.Auction
	closed   map[int64]*domain.Auction
	timers   map[int64]*time.Timer

	sweeper *cron.Cron
}

func NewAuctions(users *Users, analytics domain.AnalyticsSink, billing domain.BillingSink, log logger.Logger) *Auctions {
	return &Auctions{
		users:     users,
		analytics: analytics,
		billing:   billing,
		log:       log,
		auctions:  make(map[int64]*domain.Auction),
		closed:    make(map[int64]*domain.Auction),
		timers:    make(map[int64]*time.Timer),
	}
}

// Create registers a new auction ending duration from now and schedules its
// one-shot close timer. Ids are assigned from an atomic counter and never
// reused, even after the auction closes.
func (r *Auctions) Create(owner *domain.User, description string, duration time.Duration) (*domain.Auction, error) {
	if owner == nil {
		return nil, ErrNilOwner
	}
	if description == "" {
		return nil, ErrEmptyDesc
	}
	if duration <= 0 {
		return nil, ErrInvalidDuration
	}

	id := r.nextID.Add(1)
	auction := domain.NewAuction(id, owner, description, time.Now().Add(duration))

	timer := time.AfterFunc(duration, func() {
		r.CloseByID(id)
	})

	r.mu.Lock()
	r.auctions[id] = auction
	r.timers[id] = timer
	r.mu.Unlock()

	r.emit(&domain.Event{Type: domain.AuctionStarted, AuctionID: id, User: owner.Name, Timestamp: time.Now()})
	r.log.Info("Auction created", "auction_id", id, "owner", owner.Name, "ends_at", auction.EndTime)
	return auction, nil
}

// Get returns the auction with the given id, or nil once it has closed.
func (r *Auctions) Get(id int64) *domain.Auction {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.auctions[id]
}

// Lookup resolves an auction whether it is still open or already closed.
// Signed bids replayed after a disconnection need the closed record to
// validate their witness timestamps against the end time.
func (r *Auctions) Lookup(id int64) *domain.Auction {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if a, ok := r.auctions[id]; ok {
		return a
	}
	return r.closed[id]
}

// List takes a point-in-time snapshot of every open auction.
func (r *Auctions) List() []domain.AuctionView {
	r.mu.RLock()
	open := make([]*domain.Auction, 0, len(r.auctions))
	for _, a := range r.auctions {
		open = append(open, a)
	}
	r.mu.RUnlock()

	views := make([]domain.AuctionView, 0, len(open))
	for _, a := range open {
		views = append(views, a.Snapshot())
	}
	return views
}

// Bid applies a bid under the auction's own lock. Two concurrent bids are
// linearized in lock-acquisition order; the displaced bidder is notified
// inside the lock so the notice names exactly the bid that displaced them.
// Returns whether the bid was accepted.
func (r *Auctions) Bid(bidder *domain.User, auction *domain.Auction, amount float64) (bool, error) {
	if bidder == nil {
		return false, ErrNilBidder
	}
	if auction == nil {
		return false, ErrNilAuction
	}
	if amount <= 0 {
		return false, ErrInvalidAmount
	}

	overbid := false

	auction.Lock()
	if amount < auction.HighestBid() {
		auction.Unlock()
		return false, nil
	}
	if displaced := auction.HighestBidder(); displaced != nil && displaced != bidder {
		notice := fmt.Sprintf("%s %.2f %s", protocol.NoticeOverbid, amount, auction.Description)
		r.users.Post(displaced, notice)
		overbid = true
	}
	auction.SetHighest(bidder, amount)
	auction.Unlock()

	eventType := domain.BidPlaced
	if overbid {
		eventType = domain.BidOverbid
	}
	r.emit(&domain.Event{Type: eventType, User: bidder.Name, AuctionID: auction.ID, Amount: amount, Timestamp: time.Now()})

	return true, nil
}

// CloseByID closes the auction with the given id if it is still open. The
// record moves to the closed set so late signed bids can still resolve it.
func (r *Auctions) CloseByID(id int64) {
	r.mu.Lock()
	auction, ok := r.auctions[id]
	if ok {
		delete(r.auctions, id)
		r.closed[id] = auction
		if timer, exists := r.timers[id]; exists {
			timer.Stop()
			delete(r.timers, id)
		}
	}
	r.mu.Unlock()

	// Removal already happened on a previous fire, nothing left to do.
	if !ok {
		return
	}
	r.finish(auction)
}

// finish runs the close sequence for an auction already removed from the
// registry: winner and owner notices, analytics events, best-effort billing.
func (r *Auctions) finish(auction *domain.Auction) {
	auction.Lock()
	winner := auction.HighestBidder()
	finalPrice := auction.HighestBid()
	auction.Unlock()

	now := time.Now()

	if winner != nil {
		notice := fmt.Sprintf("%s %s %.2f %s", protocol.NoticeAuctionEnd, winner.Name, finalPrice, auction.Description)
		r.users.Post(winner, notice)
		if winner != auction.Owner {
			r.users.Post(auction.Owner, notice)
		}
		r.emit(&domain.Event{Type: domain.BidWon, User: winner.Name, AuctionID: auction.ID, Amount: finalPrice, Timestamp: now})
	}

	r.emit(&domain.Event{Type: domain.AuctionEnded, AuctionID: auction.ID, Timestamp: now})

	// A billing outage must never block the close.
	if r.billing != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := r.billing.ChargeForClosedAuction(ctx, auction.Owner.Name, auction.ID, finalPrice); err != nil {
			r.log.Warn("Could not bill auction", "auction_id", auction.ID, "owner", auction.Owner.Name, "error", err)
		}
	}

	r.log.Info("Auction closed", "auction_id", auction.ID, "final_price", finalPrice)
}

// StartSweeper runs a periodic pass that closes any auction whose one-shot
// timer was lost. Under normal operation it finds nothing.
func (r *Auctions) StartSweeper() error {
	r.sweeper = cron.New()
	_, err := r.sweeper.AddFunc("@every 1m", r.sweep)
	if err != nil {
		return err
	}
	r.sweeper.Start()
	return nil
}

func (r *Auctions) sweep() {
	now := time.Now()

	r.mu.RLock()
	var expired []int64
	for id, a := range r.auctions {
		if a.HasEnded(now) {
			expired = append(expired, id)
		}
	}
	r.mu.RUnlock()

	for _, id := range expired {
		r.log.Warn("Sweeper closing auction with lost timer", "auction_id", id)
		r.CloseByID(id)
	}
}

// Shutdown cancels every outstanding timer, then administratively closes
// the remaining auctions.
func (r *Auctions) Shutdown() {
	if r.sweeper != nil {
		r.sweeper.Stop()
	}

	r.mu.Lock()
	for id, timer := range r.timers {
		timer.Stop()
		delete(r.timers, id)
	}
	open := make([]int64, 0, len(r.auctions))
	for id := range r.auctions {
		open = append(open, id)
	}
	r.mu.Unlock()

	for _, id := range open {
		r.CloseByID(id)
	}
}

func (r *Auctions) emit(event *domain.Event) {
	if r.analytics == nil {
		return
	}
	if err := r.analytics.Emit(context.Background(), event); err != nil {
		r.log.Warn("Analytics emit failed", "type", event.Type, "error", err)
	}
}
