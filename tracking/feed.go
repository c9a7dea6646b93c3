package tracking

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"food-delivery/dispatch/logx"
	"food-delivery/dispatch/models"
	"food-delivery/dispatch/realtime"
	"food-delivery/dispatch/refresh"
)

// OrdersInterval is the polling backstop of the my-orders list.
const OrdersInterval = 15 * time.Second

type OrdersAPI interface {
	MyOrders(ctx context.Context) ([]models.Order, error)
}

// Feed is the caller's order list. Every order event arriving on the
// identity room triggers a refetch; polling covers missed pushes.
type Feed struct {
	api     OrdersAPI
	sub     *realtime.Subscriber
	trigger *refresh.Trigger
	logger  logx.Logger
	changed chan struct{}

	mu     sync.Mutex
	orders []models.Order
	err    error
	loaded bool
}

func NewFeed(api OrdersAPI, subs Subscribers, logger logx.Logger) *Feed {
	f := &Feed{
		api:     api,
		sub:     subs.Subscriber("feed:" + uuid.NewString()),
		trigger: refresh.NewTrigger(),
		logger:  logger,
		changed: make(chan struct{}, 1),
	}
	fire := func(models.Envelope) { f.trigger.Fire() }
	for _, event := range []string{
		models.EventNewOrder,
		models.EventOrderStatusUpdated,
		models.EventDeliveryAccepted,
		models.EventOrderDelivered,
		realtime.EventConnect,
	} {
		f.sub.On(event, fire)
	}
	return f
}

func (f *Feed) Run(ctx context.Context, interval time.Duration) error {
	return refresh.Loop(ctx, interval, f.trigger, f.Refresh)
}

func (f *Feed) Refresh(ctx context.Context) {
	list, err := f.api.MyOrders(ctx)

	f.mu.Lock()
	defer f.mu.Unlock()
	if err != nil {
		f.err = err
		f.logger.Warn("orders refresh failed", logx.Err(err))
		return
	}
	f.orders, f.err, f.loaded = list, nil, true
	select {
	case f.changed <- struct{}{}:
	default:
	}
}

// Orders returns the last fetched list and the error of the latest attempt.
func (f *Feed) Orders() ([]models.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]models.Order, len(f.orders))
	for i, o := range f.orders {
		out[i] = o.Clone()
	}
	return out, f.err
}

func (f *Feed) Loaded() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.loaded
}

func (f *Feed) Changed() <-chan struct{} {
	return f.changed
}

func (f *Feed) Close() {
	f.sub.Close()
}
