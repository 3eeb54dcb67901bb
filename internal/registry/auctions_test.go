package registry

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"auctionhouse/internal/domain"
	"auctionhouse/pkg/logger"
)

type fakeBilling struct {
	mu      sync.Mutex
	charges []string
}

func (b *fakeBilling) ChargeForClosedAuction(_ context.Context, owner string, auctionID int64, finalPrice float64) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.charges = append(b.charges, fmt.Sprintf("%s:%d:%.2f", owner, auctionID, finalPrice))
	return nil
}

func (b *fakeBilling) all() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.charges...)
}

func newTestAuctions(t *testing.T, push *fakePush) (*Auctions, *Users, *fakeBilling) {
	t.Helper()
	users := newTestUsers(push, true)
	billing := &fakeBilling{}
	auctions := NewAuctions(users, nil, billing, logger.NewNop())
	t.Cleanup(auctions.Shutdown)
	return auctions, users, billing
}

func loginUser(t *testing.T, users *Users, name string) *domain.User {
	t.Helper()
	user, err := users.Login(name, newFakeSession(name))
	require.NoError(t, err)
	return user
}

func TestCreateAssignsMonotonicIDs(t *testing.T) {
	auctions, users, _ := newTestAuctions(t, newFakePush())
	alice := loginUser(t, users, "alice")

	first, err := auctions.Create(alice, "a painting", time.Hour)
	require.NoError(t, err)
	second, err := auctions.Create(alice, "a lamp", time.Hour)
	require.NoError(t, err)

	assert.Greater(t, second.ID, first.ID)
	assert.Len(t, auctions.List(), 2)
}

func TestCreateValidation(t *testing.T) {
	auctions, users, _ := newTestAuctions(t, newFakePush())
	alice := loginUser(t, users, "alice")

	_, err := auctions.Create(nil, "desc", time.Hour)
	assert.ErrorIs(t, err, ErrNilOwner)

	_, err = auctions.Create(alice, "", time.Hour)
	assert.ErrorIs(t, err, ErrEmptyDesc)

	_, err = auctions.Create(alice, "desc", 0)
	assert.ErrorIs(t, err, ErrInvalidDuration)
}

func TestBidMonotonicHighest(t *testing.T) {
	push := newFakePush()
	auctions, users, _ := newTestAuctions(t, push)
	alice := loginUser(t, users, "alice")
	bob := loginUser(t, users, "bob")
	push.setReachable("alice", true)
	push.setReachable("bob", true)

	auction, err := auctions.Create(alice, "painting", time.Hour)
	require.NoError(t, err)

	accepted, err := auctions.Bid(bob, auction, 100)
	require.NoError(t, err)
	assert.True(t, accepted)

	// A lower bid must leave the state untouched.
	accepted, err = auctions.Bid(alice, auction, 50)
	require.NoError(t, err)
	assert.False(t, accepted)

	view := auction.Snapshot()
	assert.Equal(t, 100.0, view.HighestBid)
	assert.Equal(t, "bob", view.HighestBidder)

	// The rejected bidder must not have produced an overbid notice.
	assert.Empty(t, push.deliveredTo("bob"))
}

func TestBidNotifiesDisplacedBidder(t *testing.T) {
	push := newFakePush()
	auctions, users, _ := newTestAuctions(t, push)
	alice := loginUser(t, users, "alice")
	bob := loginUser(t, users, "bob")
	carol := loginUser(t, users, "carol")
	push.setReachable("bob", true)

	auction, err := auctions.Create(alice, "painting", time.Hour)
	require.NoError(t, err)

	_, err = auctions.Bid(bob, auction, 100)
	require.NoError(t, err)
	_, err = auctions.Bid(carol, auction, 120)
	require.NoError(t, err)

	notices := push.deliveredTo("bob")
	require.Len(t, notices, 1)
	assert.Equal(t, "!new-bid 120.00 painting", notices[0])

	// Raising one's own bid displaces nobody.
	_, err = auctions.Bid(carol, auction, 150)
	require.NoError(t, err)
	assert.Len(t, push.deliveredTo("bob"), 1)
}

func TestConcurrentBidsLinearize(t *testing.T) {
	auctions, users, _ := newTestAuctions(t, newFakePush())
	alice := loginUser(t, users, "alice")

	auction, err := auctions.Create(alice, "painting", time.Hour)
	require.NoError(t, err)

	const bidders = 32
	var wg sync.WaitGroup
	for i := 1; i <= bidders; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			bidder := loginUser(t, users, fmt.Sprintf("bidder-%02d", i))
			_, _ = auctions.Bid(bidder, auction, float64(i*10))
		}(i)
	}
	wg.Wait()

	// Whatever the interleaving, the maximum bid must have won.
	view := auction.Snapshot()
	assert.Equal(t, float64(bidders*10), view.HighestBid)
	assert.Equal(t, fmt.Sprintf("bidder-%02d", bidders), view.HighestBidder)
}

func TestCloseNotifiesWinnerAndOwnerAndBills(t *testing.T) {
	push := newFakePush()
	auctions, users, billing := newTestAuctions(t, push)
	alice := loginUser(t, users, "alice")
	bob := loginUser(t, users, "bob")
	push.setReachable("alice", true)
	push.setReachable("bob", true)

	auction, err := auctions.Create(alice, "painting", time.Hour)
	require.NoError(t, err)
	_, err = auctions.Bid(bob, auction, 120)
	require.NoError(t, err)

	auctions.CloseByID(auction.ID)

	assert.Nil(t, auctions.Get(auction.ID))

	expected := "!auction-ended bob 120.00 painting"
	require.NotEmpty(t, push.deliveredTo("bob"))
	assert.Equal(t, expected, push.deliveredTo("bob")[0])
	require.NotEmpty(t, push.deliveredTo("alice"))
	assert.Equal(t, expected, push.deliveredTo("alice")[0])

	charges := billing.all()
	require.Len(t, charges, 1)
	assert.Equal(t, fmt.Sprintf("alice:%d:120.00", auction.ID), charges[0])
}

func TestCloseIsIdempotent(t *testing.T) {
	push := newFakePush()
	auctions, users, billing := newTestAuctions(t, push)
	alice := loginUser(t, users, "alice")
	bob := loginUser(t, users, "bob")
	push.setReachable("bob", true)

	auction, err := auctions.Create(alice, "painting", time.Hour)
	require.NoError(t, err)
	_, err = auctions.Bid(bob, auction, 80)
	require.NoError(t, err)

	// Timer fire and explicit close racing must produce exactly one close.
	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			auctions.CloseByID(auction.ID)
		}()
	}
	wg.Wait()

	assert.Len(t, billing.all(), 1)
	assert.Len(t, push.deliveredTo("bob"), 1)
}

func TestTimedExpiryClosesAuction(t *testing.T) {
	push := newFakePush()
	auctions, users, _ := newTestAuctions(t, push)
	alice := loginUser(t, users, "alice")
	bob := loginUser(t, users, "bob")
	push.setReachable("bob", true)

	auction, err := auctions.Create(alice, "short lived", 50*time.Millisecond)
	require.NoError(t, err)
	_, err = auctions.Bid(bob, auction, 30)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return auctions.Get(auction.ID) == nil
	}, 2*time.Second, 10*time.Millisecond)

	require.Eventually(t, func() bool {
		return len(push.deliveredTo("bob")) == 1
	}, 2*time.Second, 10*time.Millisecond)
	assert.True(t, strings.HasPrefix(push.deliveredTo("bob")[0], "!auction-ended bob 30.00"))
}

func TestCloseWithoutBidsChargesNothing(t *testing.T) {
	auctions, users, billing := newTestAuctions(t, newFakePush())
	alice := loginUser(t, users, "alice")

	auction, err := auctions.Create(alice, "unwanted", time.Hour)
	require.NoError(t, err)

	auctions.CloseByID(auction.ID)

	// The registry still reports the close to billing with a zero price;
	// the billing service decides not to charge.
	charges := billing.all()
	require.Len(t, charges, 1)
	assert.Equal(t, fmt.Sprintf("alice:%d:0.00", auction.ID), charges[0])
}

func TestClosedAuctionStaysResolvable(t *testing.T) {
	auctions, users, _ := newTestAuctions(t, newFakePush())
	alice := loginUser(t, users, "alice")
	bob := loginUser(t, users, "bob")

	auction, err := auctions.Create(alice, "painting", time.Hour)
	require.NoError(t, err)
	_, err = auctions.Bid(bob, auction, 100)
	require.NoError(t, err)

	auctions.CloseByID(auction.ID)

	// Gone from the open set but still reachable for late signed bids.
	assert.Nil(t, auctions.Get(auction.ID))
	closed := auctions.Lookup(auction.ID)
	require.NotNil(t, closed)

	// A bid authored before the end time still applies to the record.
	carol := loginUser(t, users, "carol")
	accepted, err := auctions.Bid(carol, closed, 150)
	require.NoError(t, err)
	assert.True(t, accepted)
	assert.Equal(t, "carol", closed.Snapshot().HighestBidder)

	assert.Nil(t, auctions.Lookup(9999))
}

// Scenario: alice sells, bob and carol outbid each other, carol goes
// offline before winning and finds the notices queued when she returns.
func TestAuctionLifecycleWithOfflineWinner(t *testing.T) {
	push := newFakePush()
	auctions, users, _ := newTestAuctions(t, push)
	alice := loginUser(t, users, "alice")
	bob := loginUser(t, users, "bob")
	carol := loginUser(t, users, "carol")
	push.setReachable("bob", true)

	auction, err := auctions.Create(alice, "grandfather clock", time.Hour)
	require.NoError(t, err)

	_, err = auctions.Bid(bob, auction, 100)
	require.NoError(t, err)
	_, err = auctions.Bid(carol, auction, 150)
	require.NoError(t, err)

	assert.Equal(t, []string{"!new-bid 150.00 grandfather clock"}, push.deliveredTo("bob"))

	users.Disconnect(carol)
	auctions.CloseByID(auction.ID)

	// Carol was offline for the close; the win notice waits in her queue.
	assert.Empty(t, push.deliveredTo("carol"))

	push.setReachable("carol", true)
	_, err = users.Login("carol", newFakeSession("conn-2"))
	require.NoError(t, err)

	notices := push.deliveredTo("carol")
	require.Len(t, notices, 1)
	assert.Equal(t, "!auction-ended carol 150.00 grandfather clock", notices[0])
}
