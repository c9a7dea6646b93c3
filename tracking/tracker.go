// Package tracking keeps the client view of orders: the tracker of one viewed
// order and the feed of the caller's orders.
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

// OrderTrackingInterval is the polling backstop of a viewed order.
const OrderTrackingInterval = 15 * time.Second

type OrderAPI interface {
	Order(ctx context.Context, orderID string) (models.Order, error)
}

// Subscribers hands out named handler sets on the shared connection.
type Subscribers interface {
	Subscriber(name string) *realtime.Subscriber
}

// Channel is the part of the connection a viewed order needs.
type Channel interface {
	Subscribers
	JoinRoom(room models.Room)
	LeaveRoom(room models.Room)
}

// Tracker is the state of one viewed order: the last REST snapshot merged
// with the location samples received since. Invalidation events refetch the
// snapshot; location events only touch the Book.
type Tracker struct {
	orderID string
	api     OrderAPI
	ch      Channel
	sub     *realtime.Subscriber
	book    *Book
	trigger *refresh.Trigger
	logger  logx.Logger
	changed chan struct{}
	done    chan struct{}

	mu        sync.Mutex
	issued    uint64
	applied   uint64
	order     *models.Order
	err       error
	closed    bool
	closeOnce sync.Once
}

// Open joins the order room and starts listening. Call Run to fetch and
// Close when the view goes away.
func Open(orderID string, api OrderAPI, ch Channel, logger logx.Logger) *Tracker {
	t := &Tracker{
		orderID: orderID,
		api:     api,
		ch:      ch,
		sub:     ch.Subscriber("tracking:" + orderID + ":" + uuid.NewString()),
		book:    NewBook(),
		trigger: refresh.NewTrigger(),
		logger:  logger.With(logx.String("order_id", orderID)),
		changed: make(chan struct{}, 1),
		done:    make(chan struct{}),
	}

	invalidate := func(env models.Envelope) {
		var ev models.OrderEvent
		if err := env.Decode(&ev); err != nil || ev.OrderID != orderID {
			return
		}
		t.trigger.Fire()
	}
	t.sub.On(models.EventOrderStatusUpdated, invalidate)
	t.sub.On(models.EventDeliveryAccepted, invalidate)
	t.sub.On(models.EventOrderDelivered, invalidate)
	t.sub.On(realtime.EventConnect, func(models.Envelope) { t.trigger.Fire() })
	t.sub.On(models.EventDeliveryLocation, func(env models.Envelope) {
		var s models.LocationSample
		if err := env.Decode(&s); err != nil || s.OrderID != orderID {
			return
		}
		t.ApplySample(s)
	})

	ch.JoinRoom(models.OrderRoom(orderID))
	return t
}

// Run refreshes the snapshot now, every interval and on every invalidation
// until ctx ends or the tracker is closed.
func (t *Tracker) Run(ctx context.Context, interval time.Duration) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-t.done:
			cancel()
		case <-ctx.Done():
		}
	}()

	err := refresh.Loop(ctx, interval, t.trigger, t.Refresh)
	select {
	case <-t.done:
		return nil
	default:
		return err
	}
}

// Refresh fetches the snapshot. A response is dropped when a newer one was
// already applied or the tracker was closed meanwhile.
func (t *Tracker) Refresh(ctx context.Context) {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	t.issued++
	seq := t.issued
	t.mu.Unlock()

	o, err := t.api.Order(ctx, t.orderID)
	if !t.apply(seq, o, err) {
		t.logger.Debug("late order snapshot discarded")
	}
}

func (t *Tracker) apply(seq uint64, o models.Order, err error) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed || seq <= t.applied {
		return false
	}
	t.applied = seq
	if err != nil {
		// the previous snapshot stays visible
		t.err = err
		t.logger.Warn("order refresh failed", logx.Err(err))
	} else {
		t.order = &o
		t.err = nil
	}
	t.notify()
	return true
}

// ApplySample records a courier position, dropping samples older than the
// one held.
func (t *Tracker) ApplySample(s models.LocationSample) bool {
	t.mu.Lock()
	closed := t.closed
	t.mu.Unlock()
	if closed || !t.book.Apply(s) {
		return false
	}
	t.mu.Lock()
	t.notify()
	t.mu.Unlock()
	return true
}

func (t *Tracker) notify() {
	select {
	case t.changed <- struct{}{}:
	default:
	}
}

// Changed signals after the view may have changed.
func (t *Tracker) Changed() <-chan struct{} {
	return t.changed
}

// Close leaves the order room. Other views holding the same room keep it.
func (t *Tracker) Close() {
	t.closeOnce.Do(func() {
		t.mu.Lock()
		t.closed = true
		t.mu.Unlock()
		close(t.done)
		t.sub.Close()
		t.ch.LeaveRoom(models.OrderRoom(t.orderID))
	})
}

// Line is the rendered state of one ShopOrder.
type Line struct {
	ShopOrderID string                 `json:"shop_order_id"`
	ShopName    string                 `json:"shop_name,omitempty"`
	Status      models.ShopOrderStatus `json:"status"`
	Phase       Phase                  `json:"phase"`
	Courier     *models.CourierRef     `json:"courier,omitempty"`
	Position    *models.Point          `json:"position,omitempty"`
	PositionAt  time.Time              `json:"position_at,omitempty"`
	Route       []models.Point         `json:"route,omitempty"`
	DistanceKm  float64                `json:"distance_km,omitempty"`
}

type View struct {
	OrderID string        `json:"order_id"`
	Order   *models.Order `json:"order,omitempty"`
	Lines   []Line        `json:"lines"`
	Err     error         `json:"-"`
}

// View merges the snapshot with the freshest courier positions. Order is nil
// until the first snapshot arrives.
func (t *Tracker) View() View {
	t.mu.Lock()
	var order *models.Order
	if t.order != nil {
		o := t.order.Clone()
		order = &o
	}
	v := View{OrderID: t.orderID, Order: order, Err: t.err}
	t.mu.Unlock()

	if order == nil {
		return v
	}
	dest := order.DeliveryAddress.Point()
	for _, so := range order.ShopOrders {
		line := Line{
			ShopOrderID: so.ID,
			ShopName:    so.ShopName,
			Status:      so.Status,
			Phase:       PhaseOf(so),
			Courier:     so.AssignedCourier,
		}
		if line.Phase == AssignedEnRoute {
			if s, ok := t.book.Latest(so.AssignedCourier.ID); ok {
				p := s.Point()
				line.Position = &p
				line.PositionAt = s.Time()
			} else if so.AssignedCourier.Location != nil {
				p := *so.AssignedCourier.Location
				line.Position = &p
			}
			if line.Position != nil {
				line.Route = []models.Point{*line.Position, dest}
				line.DistanceKm = line.Position.DistanceKm(dest)
			}
		}
		v.Lines = append(v.Lines, line)
	}
	return v
}
