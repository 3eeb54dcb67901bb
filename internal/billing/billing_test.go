package billing

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"auctionhouse/pkg/logger"
)

func newTestService() (*Service, *MemoryStore) {
	store := NewMemoryStore()
	return NewService(store, logger.NewNop()), store
}

func TestChargePicksTheCoveringPriceStep(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()

	cases := []struct {
		finalPrice float64
		fixedFee   float64
		variantFee float64
	}{
		{50, 3.0, 2.5},      // 5% of 50
		{100, 5.0, 4.0},     // step boundary belongs to the higher step
		{500, 5.0, 20.0},    // 4% of 500
		{2000, 25.0, 60.0},  // open-ended step, 3% of 2000
	}

	for i, tc := range cases {
		owner := string(rune('a' + i))
		require.NoError(t, svc.ChargeForClosedAuction(ctx, owner, int64(i+1), tc.finalPrice))

		lines, err := svc.BillForOwner(ctx, owner)
		require.NoError(t, err)
		require.Len(t, lines, 1, "final price %.2f", tc.finalPrice)
		assert.Equal(t, tc.fixedFee, lines[0].FixedFee, "fixed fee for %.2f", tc.finalPrice)
		assert.InDelta(t, tc.variantFee, lines[0].VariantFee, 0.001, "variant fee for %.2f", tc.finalPrice)
	}
}

func TestChargeSkipsAuctionsWithoutBids(t *testing.T) {
	svc, store := newTestService()
	ctx := context.Background()

	require.NoError(t, svc.ChargeForClosedAuction(ctx, "alice", 1, 0))

	lines, err := store.BillForOwner(ctx, "alice")
	require.NoError(t, err)
	assert.Empty(t, lines)
}

func TestBillAccumulatesPerOwner(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()

	require.NoError(t, svc.ChargeForClosedAuction(ctx, "alice", 1, 80))
	require.NoError(t, svc.ChargeForClosedAuction(ctx, "alice", 2, 150))
	require.NoError(t, svc.ChargeForClosedAuction(ctx, "bob", 3, 40))

	lines, err := svc.BillForOwner(ctx, "alice")
	require.NoError(t, err)
	assert.Len(t, lines, 2)

	lines, err = svc.BillForOwner(ctx, "bob")
	require.NoError(t, err)
	assert.Len(t, lines, 1)
}

func TestSetPriceStepsReplacesSchedule(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()

	svc.SetPriceSteps([]PriceStep{
		{Min: 0, Max: 0, FixedFee: 1.0, VariantFee: 10.0},
	})

	require.NoError(t, svc.ChargeForClosedAuction(ctx, "alice", 1, 200))
	lines, err := svc.BillForOwner(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, lines, 1)
	assert.Equal(t, 1.0, lines[0].FixedFee)
	assert.InDelta(t, 20.0, lines[0].VariantFee, 0.001)
}
