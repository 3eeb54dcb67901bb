// Package billing charges auction owners when their auctions close. Fees
// come from a price-step table: each step maps a final-price range to a
// fixed fee plus a percentage of the hammer price.
package billing

import (
	"context"
	"sort"
	"sync"
	"time"

	"auctionhouse/pkg/logger"
)

// PriceStep maps final prices in [Min, Max) to a fee. A Max of zero means
// the step is open-ended.
type PriceStep struct {
	Min        float64
	Max        float64
	FixedFee   float64
	VariantFee float64 // percent of the final price
}

// BillLine is one charged auction on an owner's bill.
type BillLine struct {
	Owner      string
	AuctionID  int64
	FinalPrice float64
	FixedFee   float64
	VariantFee float64
	ChargedAt  time.Time
}

// Store persists bill lines.
type Store interface {
	SaveBillLine(ctx context.Context, line *BillLine) error
	BillForOwner(ctx context.Context, owner string) ([]*BillLine, error)
}

// Service computes fees and records them through a Store.
type Service struct {
	store Store
	log   logger.Logger

	mu    sync.RWMutex
	steps []PriceStep
}

func NewService(store Store, log logger.Logger) *Service {
	return &Service{
		store: store,
		log:   log,
		steps: DefaultPriceSteps(),
	}
}

// DefaultPriceSteps is the fee schedule used until an operator installs
// another one.
func DefaultPriceSteps() []PriceStep {
	return []PriceStep{
		{Min: 0, Max: 100, FixedFee: 3.0, VariantFee: 5.0},
		{Min: 100, Max: 1000, FixedFee: 5.0, VariantFee: 4.0},
		{Min: 1000, Max: 0, FixedFee: 25.0, VariantFee: 3.0},
	}
}

// SetPriceSteps replaces the fee schedule.
func (s *Service) SetPriceSteps(steps []PriceStep) {
	sorted := append([]PriceStep(nil), steps...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Min < sorted[j].Min })

	s.mu.Lock()
	s.steps = sorted
	s.mu.Unlock()
}

func (s *Service) stepFor(price float64) (PriceStep, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, step := range s.steps {
		if price >= step.Min && (step.Max == 0 || price < step.Max) {
			return step, true
		}
	}
	return PriceStep{}, false
}

// ChargeForClosedAuction records the owner's fee for one closed auction.
// Auctions that end without a bid are not charged.
func (s *Service) ChargeForClosedAuction(ctx context.Context, owner string, auctionID int64, finalPrice float64) error {
	if finalPrice <= 0 {
		return nil
	}
	step, ok := s.stepFor(finalPrice)
	if !ok {
		s.log.Warn("No price step covers final price", "auction_id", auctionID, "final_price", finalPrice)
		return nil
	}

	line := &BillLine{
		Owner:      owner,
		AuctionID:  auctionID,
		FinalPrice: finalPrice,
		FixedFee:   step.FixedFee,
		VariantFee: finalPrice * step.VariantFee / 100,
		ChargedAt:  time.Now(),
	}
	if err := s.store.SaveBillLine(ctx, line); err != nil {
		return err
	}

	s.log.Debug("Charged closed auction",
		"owner", owner, "auction_id", auctionID,
		"fixed_fee", line.FixedFee, "variant_fee", line.VariantFee)
	return nil
}

// BillForOwner returns every line charged to one owner.
func (s *Service) BillForOwner(ctx context.Context, owner string) ([]*BillLine, error) {
	return s.store.BillForOwner(ctx, owner)
}
