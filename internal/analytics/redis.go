// Package analytics fans server events out to interested collaborators.
// The redis publisher feeds external statistics consumers; the log sink
// is the in-process fallback when no broker is configured.
package analytics

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"

	"auctionhouse/internal/domain"
	"auctionhouse/pkg/logger"
)

const eventChannel = "auction_events"

// RedisPublisher publishes events on a pub/sub channel.
type RedisPublisher struct {
	client *redis.Client
}

func NewRedisPublisher(client *redis.Client) *RedisPublisher {
	return &RedisPublisher{client: client}
}

func (r *RedisPublisher) Emit(ctx context.Context, event *domain.Event) error {
	payload := fmt.Sprintf("%d:%s:%s:%.2f:%d",
		event.AuctionID, event.Type, event.User, event.Amount, event.Timestamp.Unix())

	return r.client.Publish(ctx, eventChannel, payload).Err()
}

// EventHandler consumes decoded events on the subscriber side.
type EventHandler func(event *domain.Event) error

// RedisSubscriber drains the event channel, for statistics consumers
// running out of process.
type RedisSubscriber struct {
	client *redis.Client
	log    logger.Logger
}

func NewRedisSubscriber(client *redis.Client, log logger.Logger) *RedisSubscriber {
	return &RedisSubscriber{
		client: client,
		log:    log,
	}
}

func (r *RedisSubscriber) Subscribe(ctx context.Context, handler EventHandler) error {
	pubsub := r.client.Subscribe(ctx, eventChannel)
	defer pubsub.Close()

	ch := pubsub.Channel()

	r.log.Info("Subscribed to auction events")

	for {
		select {
		case msg := <-ch:
			event, err := parsePayload(msg.Payload)
			if err != nil {
				r.log.Error("Failed to parse event", "payload", msg.Payload, "error", err)
				continue
			}

			if err := handler(event); err != nil {
				r.log.Error("Failed to handle event", "event", event, "error", err)
			}

		case <-ctx.Done():
			r.log.Info("Event subscriber stopped")
			return ctx.Err()
		}
	}
}

func parsePayload(payload string) (*domain.Event, error) {
	// "auctionID:eventType:user:amount:timestamp"
	parts := strings.Split(payload, ":")
	if len(parts) < 5 {
		return nil, fmt.Errorf("invalid event format: %s", payload)
	}

	auctionID, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		return nil, err
	}

	amount, err := strconv.ParseFloat(parts[3], 64)
	if err != nil {
		return nil, err
	}

	timestamp, err := strconv.ParseInt(parts[4], 10, 64)
	if err != nil {
		return nil, err
	}

	return &domain.Event{
		AuctionID: auctionID,
		Type:      domain.EventType(parts[1]),
		User:      parts[2],
		Amount:    amount,
		Timestamp: time.Unix(timestamp, 0),
	}, nil
}
