// Package events publishes domain events over redis pub/sub for kitchen
// displays and branch dashboards. Publishing is best-effort: a failed
// publish is logged, never surfaced to the transaction that raised it.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/rs/zerolog"
)

const (
	EventOrderCreated       = "order-created"
	EventOrderUpdated       = "order-updated"
	EventOrderStatusUpdated = "order-status-updated"
	EventOrderCompleted     = "order-completed"
	EventOrderCancelled     = "order-cancelled"
	EventOrderDeleted       = "order-deleted"
	EventPaymentProcessed   = "payment-processed"
	EventStockUpdated       = "stock-updated"
	EventPurchaseCreated    = "purchase-created"
	EventSyncCompleted      = "sync-completed"
)

type Event struct {
	EventType   string    `json:"event_type"`
	OrderID     string    `json:"order_id,omitempty"`
	OrderNumber string    `json:"order_number,omitempty"`
	BranchID    string    `json:"branch_id,omitempty"`
	Status      string    `json:"status,omitempty"`
	TotalAmount float64   `json:"total_amount,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
}

// Publisher is what the transaction engines depend on; the redis
// implementation below is the production one.
type Publisher interface {
	Publish(ctx context.Context, event Event)
}

type RedisPublisher struct {
	client *redis.Client
	log    zerolog.Logger
}

func NewRedisPublisher(client *redis.Client, logger zerolog.Logger) *RedisPublisher {
	return &RedisPublisher{
		client: client,
		log:    logger.With().Str("component", "events").Logger(),
	}
}

// Publish fans the event out to its type channel and, when branch-scoped,
// to the branch channel.
func (p *RedisPublisher) Publish(ctx context.Context, event Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	payload, err := json.Marshal(event)
	if err != nil {
		p.log.Error().Err(err).Str("event", event.EventType).Msg("failed to marshal event")
		return
	}

	channel := fmt.Sprintf("pos:events:%s", event.EventType)
	if err := p.client.Publish(ctx, channel, payload).Err(); err != nil {
		p.log.Warn().Err(err).Str("channel", channel).Msg("failed to publish event")
		return
	}

	if event.BranchID != "" {
		branchChannel := fmt.Sprintf("pos:events:branch:%s", event.BranchID)
		if err := p.client.Publish(ctx, branchChannel, payload).Err(); err != nil {
			p.log.Warn().Err(err).Str("channel", branchChannel).Msg("failed to publish event")
		}
	}
}

// NopPublisher drops every event. Used when redis is not configured.
type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, Event) {}
