package store

import (
	"context"
	"sort"
	"sync"

	"food-delivery/dispatch/apperr"
	"food-delivery/dispatch/models"
)

// Orders is the in-memory order collaborator. Every read returns a deep copy.
type Orders struct {
	mu     sync.RWMutex
	orders map[string]models.Order
}

func NewOrders() *Orders {
	return &Orders{orders: make(map[string]models.Order)}
}

func (s *Orders) Create(_ context.Context, o models.Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.orders[o.ID]; ok {
		return apperr.ErrConflict
	}
	s.orders[o.ID] = o.Clone()
	return nil
}

func (s *Orders) Get(_ context.Context, id string) (models.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	o, ok := s.orders[id]
	if !ok {
		return models.Order{}, apperr.ErrNotFound
	}
	return o.Clone(), nil
}

// List returns the orders keep accepts, newest first.
func (s *Orders) List(_ context.Context, keep func(models.Order) bool) ([]models.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]models.Order, 0)
	for _, o := range s.orders {
		if keep == nil || keep(o) {
			out = append(out, o.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

// Update applies fn to the stored order under the write lock. If fn fails the
// order is left untouched.
func (s *Orders) Update(_ context.Context, id string, fn func(*models.Order) error) (models.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	o, ok := s.orders[id]
	if !ok {
		return models.Order{}, apperr.ErrNotFound
	}
	draft := o.Clone()
	if err := fn(&draft); err != nil {
		return models.Order{}, err
	}
	s.orders[id] = draft
	return draft.Clone(), nil
}
