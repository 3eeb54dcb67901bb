package analytics

import (
	"context"

	"auctionhouse/internal/domain"
	"auctionhouse/pkg/logger"
)

// LogSink records events on the structured log. It is the default sink
// when no redis broker is configured.
type LogSink struct {
	log logger.Logger
}

func NewLogSink(log logger.Logger) *LogSink {
	return &LogSink{log: log}
}

func (s *LogSink) Emit(_ context.Context, event *domain.Event) error {
	s.log.Info("Auction event",
		"type", event.Type,
		"user", event.User,
		"auction_id", event.AuctionID,
		"amount", event.Amount,
	)
	return nil
}
