// Package courier is the client side of a signed in courier: the assignment
// board, the location stream and the delivery code exchange.
package courier

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"food-delivery/dispatch/apperr"
	"food-delivery/dispatch/logx"
	"food-delivery/dispatch/models"
	"food-delivery/dispatch/orders"
	"food-delivery/dispatch/realtime"
	"food-delivery/dispatch/refresh"
)

// AssignmentsInterval is the polling backstop of the assignment board.
const AssignmentsInterval = 5 * time.Second

type API interface {
	Assignments(ctx context.Context) ([]models.Assignment, error)
	Accept(ctx context.Context, assignmentID string) (models.ShopOrder, error)
	Current(ctx context.Context) (orders.CurrentDelivery, error)
	Stats(ctx context.Context) (models.CourierStats, error)
}

type Subscribers interface {
	Subscriber(name string) *realtime.Subscriber
}

// Outcome of an accept attempt. Losing the race is not an error.
type Outcome int

const (
	Won Outcome = iota + 1
	Lost
)

func (o Outcome) String() string {
	switch o {
	case Won:
		return "won"
	case Lost:
		return "lost"
	default:
		return "unknown"
	}
}

// Board is the courier's list of open offers plus the delivery in hand and
// the earnings summary. Pushes only hint that the list changed; the list is
// always re-pulled from the server.
type Board struct {
	api     API
	sub     *realtime.Subscriber
	trigger *refresh.Trigger
	logger  logx.Logger
	changed chan struct{}

	statsDirty atomic.Bool

	mu          sync.Mutex
	assignments []models.Assignment
	current     *orders.CurrentDelivery
	stats       models.CourierStats
	err         error
}

func NewBoard(api API, subs Subscribers, logger logx.Logger) *Board {
	b := &Board{
		api:     api,
		sub:     subs.Subscriber("courier-board:" + uuid.NewString()),
		trigger: refresh.NewTrigger(),
		logger:  logger,
		changed: make(chan struct{}, 1),
	}
	b.statsDirty.Store(true)

	fire := func(models.Envelope) { b.trigger.Fire() }
	b.sub.On(models.EventNewDeliveryAssignment, fire)
	b.sub.On(models.EventDeliveryAccepted, fire)
	b.sub.On(realtime.EventConnect, fire)
	b.sub.On(models.EventDeliveryCompleted, func(models.Envelope) {
		b.statsDirty.Store(true)
		b.trigger.Fire()
	})
	return b
}

// Run refreshes now, every interval and on every push until ctx ends.
func (b *Board) Run(ctx context.Context, interval time.Duration) error {
	return refresh.Loop(ctx, interval, b.trigger, b.Refresh)
}

// Refresh re-pulls the open offers and the current delivery, and the stats
// when a delivery completed since the last pull.
func (b *Board) Refresh(ctx context.Context) {
	list, err := b.api.Assignments(ctx)
	if err != nil {
		b.fail("assignments refresh failed", err)
		return
	}
	list = dedupe(list)

	cur, err := b.api.Current(ctx)
	var current *orders.CurrentDelivery
	switch {
	case err == nil:
		current = &cur
	case errors.Is(err, apperr.ErrNotFound):
	default:
		b.fail("current delivery refresh failed", err)
		return
	}

	var stats *models.CourierStats
	if b.statsDirty.Swap(false) {
		st, err := b.api.Stats(ctx)
		if err != nil {
			b.statsDirty.Store(true)
			b.logger.Warn("stats refresh failed", logx.Err(err))
		} else {
			stats = &st
		}
	}

	b.mu.Lock()
	b.assignments = list
	b.current = current
	if stats != nil {
		b.stats = *stats
	}
	b.err = nil
	b.mu.Unlock()
	b.notify()
}

func (b *Board) fail(msg string, err error) {
	b.logger.Warn(msg, logx.Err(err))
	b.mu.Lock()
	b.err = err
	b.mu.Unlock()
}

// Accept asks the server for the assignment. Losing to another courier, or
// an offer that expired meanwhile, yields Lost and a re-pull. A busy courier
// or a transport failure is returned as the error.
func (b *Board) Accept(ctx context.Context, assignmentID string) (Outcome, error) {
	_, err := b.api.Accept(ctx, assignmentID)
	switch {
	case err == nil:
		b.drop(assignmentID)
		b.trigger.Fire()
		return Won, nil
	case errors.Is(err, apperr.ErrAlreadyAccepted),
		errors.Is(err, apperr.ErrExpired),
		errors.Is(err, apperr.ErrNotFound):
		b.logger.Info("assignment lost", logx.String("assignment_id", assignmentID), logx.Err(err))
		b.drop(assignmentID)
		b.trigger.Fire()
		return Lost, nil
	default:
		return 0, err
	}
}

func (b *Board) drop(assignmentID string) {
	b.mu.Lock()
	kept := b.assignments[:0:0]
	for _, a := range b.assignments {
		if a.ID != assignmentID {
			kept = append(kept, a)
		}
	}
	b.assignments = kept
	b.mu.Unlock()
	b.notify()
}

func (b *Board) notify() {
	select {
	case b.changed <- struct{}{}:
	default:
	}
}

func (b *Board) Changed() <-chan struct{} {
	return b.changed
}

func (b *Board) Assignments() []models.Assignment {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]models.Assignment, len(b.assignments))
	for i, a := range b.assignments {
		out[i] = a.Clone()
	}
	return out
}

// Current is the delivery in hand, if any.
func (b *Board) Current() (orders.CurrentDelivery, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.current == nil {
		return orders.CurrentDelivery{}, false
	}
	return *b.current, true
}

func (b *Board) Stats() models.CourierStats {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.stats
}

// Err is the failure of the latest refresh; the lists stay as last fetched.
func (b *Board) Err() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.err
}

func (b *Board) Close() {
	b.sub.Close()
}

func dedupe(list []models.Assignment) []models.Assignment {
	seen := make(map[string]struct{}, len(list))
	out := list[:0:0]
	for _, a := range list {
		if _, ok := seen[a.ID]; ok {
			continue
		}
		seen[a.ID] = struct{}{}
		out = append(out, a)
	}
	return out
}
