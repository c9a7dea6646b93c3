package store

import (
	"context"
	"sort"
	"sync"

	"food-delivery/dispatch/apperr"
	"food-delivery/dispatch/models"
)

type MemoryPresence struct {
	mu       sync.RWMutex
	couriers map[string]models.CourierPresence
}

func NewMemoryPresence() *MemoryPresence {
	return &MemoryPresence{couriers: make(map[string]models.CourierPresence)}
}

func (p *MemoryPresence) Get(_ context.Context, courierID string) (models.CourierPresence, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	c, ok := p.couriers[courierID]
	if !ok {
		return models.CourierPresence{}, apperr.ErrNotFound
	}
	return c, nil
}

func (p *MemoryPresence) List(_ context.Context) ([]models.CourierPresence, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	out := make([]models.CourierPresence, 0, len(p.couriers))
	for _, c := range p.couriers {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CourierID < out[j].CourierID })
	return out, nil
}

func (p *MemoryPresence) Update(_ context.Context, courierID string, fn func(*models.CourierPresence)) (models.CourierPresence, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	c, ok := p.couriers[courierID]
	if !ok {
		c = models.CourierPresence{CourierID: courierID}
	}
	fn(&c)
	c.CourierID = courierID
	p.couriers[courierID] = c
	return c, nil
}

var _ Presence = (*MemoryPresence)(nil)
