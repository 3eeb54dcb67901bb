package domain

import (
	"sync"
	"time"
)

// User is the long-lived record for an identity. It is created lazily on
// first login and never deleted; a returning identity reuses its record so
// queued notifications survive disconnects.
type User struct {
	Name string

	mu          sync.Mutex
	session     Session
	blocked     bool
	pushPort    int
	witnessPort int
}

func NewUser(name string) *User {
	return &User{Name: name}
}

// Session returns the live connection bound to this identity, or nil when
// the identity is known but offline.
func (u *User) Session() Session {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.session
}

func (u *User) SetSession(s Session) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.session = s
}

func (u *User) IsLoggedIn() bool {
	return u.Session() != nil
}

// Blocked reports whether this identity is currently parked on a group-bid
// rendezvous. The group-bid admission check reads it.
func (u *User) Blocked() bool {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.blocked
}

func (u *User) SetBlocked(blocked bool) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.blocked = blocked
}

func (u *User) PushPort() int {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.pushPort
}

func (u *User) SetPushPort(port int) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.pushPort = port
}

// WitnessPort is where this identity's timestamp witness server listens,
// announced during login and advertised to peers for offline signed bids.
func (u *User) WitnessPort() int {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.witnessPort
}

func (u *User) SetWitnessPort(port int) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.witnessPort = port
}

// Auction is one running auction. The registry guards the id->Auction map
// with its own lock; the mutable bid state here is guarded per auction so
// bidding on distinct auctions proceeds in parallel.
type Auction struct {
	ID          int64
	Owner       *User
	Description string
	EndTime     time.Time

	mu            sync.Mutex
	highestBid    float64
	highestBidder *User
	hasGroupBid   bool
}

func NewAuction(id int64, owner *User, description string, endTime time.Time) *Auction {
	return &Auction{
		ID:          id,
		Owner:       owner,
		Description: description,
		EndTime:     endTime,
	}
}

// Lock acquires the per-auction lock. Bid application, close reads and
// last-moment-bid races are all linearized through it.
func (a *Auction) Lock()   { a.mu.Lock() }
func (a *Auction) Unlock() { a.mu.Unlock() }

// HighestBid reads the current highest bid. Caller must hold the auction lock.
func (a *Auction) HighestBid() float64 { return a.highestBid }

// HighestBidder is nil iff no bid has been accepted yet. Caller must hold
// the auction lock.
func (a *Auction) HighestBidder() *User { return a.highestBidder }

// SetHighest installs a new highest bid. Caller must hold the auction lock.
func (a *Auction) SetHighest(bidder *User, amount float64) {
	a.highestBidder = bidder
	a.highestBid = amount
}

func (a *Auction) HasGroupBid() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.hasGroupBid
}

func (a *Auction) SetHasGroupBid(v bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.hasGroupBid = v
}

func (a *Auction) HasEnded(now time.Time) bool {
	return !now.Before(a.EndTime)
}

// AuctionView is a point-in-time copy of an auction, safe to read without
// any locks. Listing returns these.
type AuctionView struct {
	ID            int64
	Description   string
	Owner         string
	EndTime       time.Time
	HighestBid    float64
	HighestBidder string
}

// Snapshot copies the auction's current state under its lock.
func (a *Auction) Snapshot() AuctionView {
	a.mu.Lock()
	defer a.mu.Unlock()

	view := AuctionView{
		ID:          a.ID,
		Description: a.Description,
		Owner:       a.Owner.Name,
		EndTime:     a.EndTime,
		HighestBid:  a.highestBid,
	}
	if a.highestBidder != nil {
		view.HighestBidder = a.highestBidder.Name
	}
	return view
}
