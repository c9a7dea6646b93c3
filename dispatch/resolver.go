// Package dispatch offers out-for-delivery shop orders to nearby couriers and
// decides, through the ledger, which single courier gets each one.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"food-delivery/dispatch/apperr"
	"food-delivery/dispatch/config"
	"food-delivery/dispatch/eventlog"
	"food-delivery/dispatch/logx"
	"food-delivery/dispatch/metrics"
	"food-delivery/dispatch/models"
	"food-delivery/dispatch/store"
)

type Emitter interface {
	Emit(event string, payload any, rooms ...models.Room)
}

type EventLog interface {
	Record(ctx context.Context, e eventlog.Event) error
}

// Publisher hands new assignments to external notification workers.
type Publisher interface {
	PublishAssignment(ctx context.Context, a models.Assignment) error
}

// ExpiryObserver is told when an assignment ran out of rounds.
type ExpiryObserver interface {
	AssignmentExpired(ctx context.Context, a models.Assignment)
}

type Resolver struct {
	ledger    store.Ledger
	presence  store.Presence
	emitter   Emitter
	events    EventLog
	publisher Publisher
	logger    logx.Logger
	cfg       config.DispatchConfig
	now       func() time.Time

	observer ExpiryObserver

	courierMu sync.Map
}

func NewResolver(
	ledger store.Ledger,
	presence store.Presence,
	emitter Emitter,
	events EventLog,
	publisher Publisher,
	cfg config.DispatchConfig,
	logger logx.Logger,
) *Resolver {
	return &Resolver{
		ledger:    ledger,
		presence:  presence,
		emitter:   emitter,
		events:    events,
		publisher: publisher,
		logger:    logger,
		cfg:       cfg,
		now:       time.Now,
	}
}

// Observe registers the receiver of final expiries.
func (r *Resolver) Observe(o ExpiryObserver) {
	r.observer = o
}

// Broadcast creates the assignment for so and notifies every eligible courier.
// The assignment keeps the id already reserved in so.AssignmentID, if any.
// An assignment with no candidates is still created; the sweeper widens it.
func (r *Resolver) Broadcast(ctx context.Context, order models.Order, so models.ShopOrder) (models.Assignment, error) {
	id := so.AssignmentID
	if id == "" {
		id = uuid.NewString()
	}
	now := r.now()
	a := models.Assignment{
		ID:              id,
		OrderID:         order.ID,
		ShopOrderID:     so.ID,
		ShopName:        so.ShopName,
		DeliveryAddress: order.DeliveryAddress,
		Subtotal:        so.Subtotal,
		ItemCount:       itemCount(so.Items),
		Status:          models.AssignmentOpen,
		Round:           1,
		RadiusKm:        r.cfg.RadiusKm,
		CreatedAt:       now,
		ExpiresAt:       now.Add(r.cfg.OfferTTL),
	}
	candidates, err := r.eligible(ctx, a.DeliveryAddress.Point(), a.RadiusKm)
	if err != nil {
		return models.Assignment{}, err
	}
	a.Candidates = candidates

	if err := r.ledger.Create(ctx, a); err != nil {
		return models.Assignment{}, fmt.Errorf("create assignment: %w", err)
	}
	r.offer(ctx, a, "broadcast")

	if err := r.publisher.PublishAssignment(ctx, a); err != nil {
		r.logger.Warn("assignment publish failed", logx.String("assignment_id", a.ID), logx.Err(err))
	}
	return a, nil
}

func (r *Resolver) offer(ctx context.Context, a models.Assignment, outcome string) {
	metrics.Assignments.WithLabelValues(outcome).Inc()
	r.logger.Info("assignment offered",
		logx.String("assignment_id", a.ID),
		logx.String("order_id", a.OrderID),
		logx.String("shop_order_id", a.ShopOrderID),
		logx.Int("round", a.Round),
		logx.Float64("radius_km", a.RadiusKm),
		logx.Int("candidates", len(a.Candidates)),
	)
	_ = r.events.Record(ctx, eventlog.Event{
		Type:         eventlog.AssignmentBroadcast,
		OrderID:      a.OrderID,
		ShopOrderID:  a.ShopOrderID,
		AssignmentID: a.ID,
		Round:        a.Round,
		RadiusKm:     a.RadiusKm,
		Candidates:   len(a.Candidates),
	})
	if len(a.Candidates) == 0 {
		return
	}
	rooms := make([]models.Room, len(a.Candidates))
	for i, c := range a.Candidates {
		rooms[i] = models.CourierRoom(c)
	}
	r.emitter.Emit(models.EventNewDeliveryAssignment, models.AssignmentEvent{
		AssignmentID: a.ID,
		OrderID:      a.OrderID,
		ShopOrderID:  a.ShopOrderID,
	}, rooms...)
}

// eligible returns active, idle couriers within radiusKm of p, nearest first.
func (r *Resolver) eligible(ctx context.Context, p models.Point, radiusKm float64) ([]string, error) {
	couriers, err := r.presence.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list couriers: %w", err)
	}
	type candidate struct {
		id   string
		dist float64
	}
	var found []candidate
	for _, c := range couriers {
		if !c.IsActive || c.IsBusy {
			continue
		}
		if d := p.DistanceKm(c.Point()); d <= radiusKm {
			found = append(found, candidate{id: c.CourierID, dist: d})
		}
	}
	sort.Slice(found, func(i, j int) bool { return found[i].dist < found[j].dist })

	ids := make([]string, len(found))
	for i, c := range found {
		ids[i] = c.id
	}
	return ids, nil
}

// Open lists the live offers extended to courierID.
func (r *Resolver) Open(ctx context.Context, courierID string) ([]models.Assignment, error) {
	all, err := r.ledger.ListOpen(ctx)
	if err != nil {
		return nil, err
	}
	now := r.now()
	out := make([]models.Assignment, 0, len(all))
	for _, a := range all {
		if a.HasCandidate(courierID) && now.Before(a.ExpiresAt) {
			out = append(out, a)
		}
	}
	return out, nil
}

// Accept claims the assignment for courier. Exactly one concurrent caller
// wins; the rest get apperr.ErrAlreadyAccepted.
func (r *Resolver) Accept(ctx context.Context, assignmentID string, courier models.Identity) (models.Assignment, error) {
	mu := r.lockFor(courier.ID)
	mu.Lock()
	defer mu.Unlock()

	p, err := r.presence.Get(ctx, courier.ID)
	switch {
	case err == nil && p.IsBusy:
		return models.Assignment{}, fmt.Errorf("courier already has an active delivery: %w", apperr.ErrConflict)
	case err != nil && !errors.Is(err, apperr.ErrNotFound):
		return models.Assignment{}, err
	}

	a, err := r.ledger.Claim(ctx, assignmentID, courier.ID, r.now())
	if err != nil {
		if errors.Is(err, apperr.ErrAlreadyAccepted) {
			metrics.Assignments.WithLabelValues("lost").Inc()
		}
		return models.Assignment{}, err
	}

	if _, err := r.presence.Update(ctx, courier.ID, func(c *models.CourierPresence) {
		c.IsBusy = true
		c.ActiveOrderID = a.OrderID
	}); err != nil {
		r.logger.Error("mark courier busy", logx.String("courier_id", courier.ID), logx.Err(err))
	}

	metrics.Assignments.WithLabelValues("accepted").Inc()
	r.logger.Info("assignment accepted",
		logx.String("assignment_id", a.ID),
		logx.String("order_id", a.OrderID),
		logx.String("courier_id", courier.ID),
	)
	_ = r.events.Record(ctx, eventlog.Event{
		Type:         eventlog.OrderAssigned,
		OrderID:      a.OrderID,
		ShopOrderID:  a.ShopOrderID,
		AssignmentID: a.ID,
		CourierID:    courier.ID,
	})
	return a, nil
}

func (r *Resolver) lockFor(courierID string) *sync.Mutex {
	mu, _ := r.courierMu.LoadOrStore(courierID, &sync.Mutex{})
	return mu.(*sync.Mutex)
}

// Complete resolves an accepted assignment for good and frees its courier.
func (r *Resolver) Complete(ctx context.Context, assignmentID string) (models.Assignment, error) {
	a, err := r.ledger.Get(ctx, assignmentID)
	if err != nil {
		return models.Assignment{}, err
	}
	if a.Status != models.AssignmentAccepted {
		return models.Assignment{}, fmt.Errorf("assignment %s is %s: %w", a.ID, a.Status, apperr.ErrConflict)
	}
	if _, err := r.presence.Update(ctx, a.AcceptedBy, func(c *models.CourierPresence) {
		c.IsBusy = false
		c.ActiveOrderID = ""
	}); err != nil {
		return models.Assignment{}, fmt.Errorf("free courier: %w", err)
	}
	if err := r.ledger.Delete(ctx, a.ID); err != nil {
		return models.Assignment{}, err
	}
	_ = r.events.Record(ctx, eventlog.Event{
		Type:         eventlog.OrderDelivered,
		OrderID:      a.OrderID,
		ShopOrderID:  a.ShopOrderID,
		AssignmentID: a.ID,
		CourierID:    a.AcceptedBy,
	})
	return a, nil
}

// Release undoes an accepted claim whose shop order could not take the
// courier. The ledger entry is dropped and the courier is idle again.
func (r *Resolver) Release(ctx context.Context, a models.Assignment) error {
	if a.AcceptedBy != "" {
		if _, err := r.presence.Update(ctx, a.AcceptedBy, func(c *models.CourierPresence) {
			if c.ActiveOrderID == a.OrderID {
				c.IsBusy = false
				c.ActiveOrderID = ""
			}
		}); err != nil {
			return fmt.Errorf("free courier: %w", err)
		}
	}
	if err := r.ledger.Delete(ctx, a.ID); err != nil {
		return err
	}
	metrics.Assignments.WithLabelValues("released").Inc()
	r.logger.Warn("assignment released",
		logx.String("assignment_id", a.ID),
		logx.String("order_id", a.OrderID),
		logx.String("courier_id", a.AcceptedBy),
	)
	return nil
}

// Run sweeps expired offers every SweepInterval until ctx ends.
func (r *Resolver) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if _, err := r.Sweep(ctx); err != nil {
				r.logger.Warn("assignment sweep failed", logx.Err(err))
			}
		}
	}
}

// Sweep re-broadcasts every timed-out offer with twice the radius, or expires
// it after MaxRounds. It returns how many offers it touched.
func (r *Resolver) Sweep(ctx context.Context) (int, error) {
	open, err := r.ledger.ListOpen(ctx)
	if err != nil {
		return 0, err
	}
	now := r.now()
	n := 0
	for _, a := range open {
		if now.Before(a.ExpiresAt) {
			continue
		}
		if a.Round < r.cfg.MaxRounds {
			err = r.rebroadcast(ctx, a, now)
		} else {
			err = r.expire(ctx, a)
		}
		switch {
		case err == nil:
			n++
		case errors.Is(err, apperr.ErrAlreadyAccepted), errors.Is(err, apperr.ErrNotFound):
			// resolved concurrently
		default:
			return n, err
		}
	}
	return n, nil
}

func (r *Resolver) rebroadcast(ctx context.Context, a models.Assignment, now time.Time) error {
	a.Round++
	a.RadiusKm *= 2
	a.ExpiresAt = now.Add(r.cfg.OfferTTL)
	candidates, err := r.eligible(ctx, a.DeliveryAddress.Point(), a.RadiusKm)
	if err != nil {
		return err
	}
	a.Candidates = candidates
	if err := r.ledger.Reoffer(ctx, a); err != nil {
		return err
	}
	r.offer(ctx, a, "rebroadcast")
	return nil
}

func (r *Resolver) expire(ctx context.Context, a models.Assignment) error {
	a, err := r.ledger.Expire(ctx, a.ID)
	if err != nil {
		return err
	}
	metrics.Assignments.WithLabelValues("expired").Inc()
	r.logger.Warn("assignment expired unaccepted",
		logx.String("assignment_id", a.ID),
		logx.String("order_id", a.OrderID),
		logx.Int("rounds", a.Round),
	)
	_ = r.events.Record(ctx, eventlog.Event{
		Type:         eventlog.AssignmentExpired,
		OrderID:      a.OrderID,
		ShopOrderID:  a.ShopOrderID,
		AssignmentID: a.ID,
		Round:        a.Round,
	})
	if r.observer != nil {
		r.observer.AssignmentExpired(ctx, a)
	}
	return nil
}

func itemCount(items []models.OrderItem) int {
	n := 0
	for _, it := range items {
		n += it.Quantity
	}
	return n
}
