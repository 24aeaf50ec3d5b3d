package orders

import (
	"context"
	"time"
)

const engineMongo = "mongo"

// Selector routes each call to the configured engine. When the remote
// engine is configured but the remote store is offline, calls land on the
// local engine instead, so an order taken mid-outage is still durable and
// reaches the remote through the sync service later.
type Selector struct {
	engine string
	online func() bool
	local  Engine
	remote Engine
}

func NewSelector(engine string, online func() bool, local, remote Engine) *Selector {
	return &Selector{engine: engine, online: online, local: local, remote: remote}
}

func (s *Selector) pick() Engine {
	if s.engine == engineMongo && s.remote != nil && s.online != nil && s.online() {
		return s.remote
	}
	return s.local
}

func (s *Selector) CreateOrder(ctx context.Context, input CreateOrderInput) (*Order, error) {
	return s.pick().CreateOrder(ctx, input)
}

func (s *Selector) GetOrder(ctx context.Context, id string) (*Order, error) {
	return s.pick().GetOrder(ctx, id)
}

func (s *Selector) ListOrders(ctx context.Context, filter ListFilter) ([]Order, error) {
	return s.pick().ListOrders(ctx, filter)
}

func (s *Selector) UpdateOrder(ctx context.Context, id string, input UpdateOrderInput) (*Order, error) {
	return s.pick().UpdateOrder(ctx, id, input)
}

func (s *Selector) UpdateOrderStatus(ctx context.Context, id string, input StatusUpdateInput) (*Order, error) {
	return s.pick().UpdateOrderStatus(ctx, id, input)
}

func (s *Selector) ProcessPayment(ctx context.Context, id string, input PaymentInput) (*PaymentResult, error) {
	return s.pick().ProcessPayment(ctx, id, input)
}

func (s *Selector) DeleteOrder(ctx context.Context, id string) error {
	return s.pick().DeleteOrder(ctx, id)
}

func (s *Selector) OrderStats(ctx context.Context, branchID string, from, to time.Time) (*Stats, error) {
	return s.pick().OrderStats(ctx, branchID, from, to)
}

func (s *Selector) KitchenStats(ctx context.Context, branchID string) (map[string]int64, error) {
	return s.pick().KitchenStats(ctx, branchID)
}
