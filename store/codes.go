package store

import (
	"context"
	"sync"
	"time"

	"food-delivery/dispatch/apperr"
	"food-delivery/dispatch/models"
)

type MemoryCodes struct {
	mu    sync.Mutex
	codes map[string]models.DeliveryCode
}

func NewMemoryCodes() *MemoryCodes {
	return &MemoryCodes{codes: make(map[string]models.DeliveryCode)}
}

func (c *MemoryCodes) Put(_ context.Context, code models.DeliveryCode) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.codes[codeKey(code.OrderID, code.ShopOrderID)] = code
	return nil
}

func (c *MemoryCodes) Consume(_ context.Context, orderID, shopOrderID, code string, now time.Time) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	key := codeKey(orderID, shopOrderID)
	stored, ok := c.codes[key]
	if !ok {
		return apperr.ErrNotFound
	}
	if !now.Before(stored.ExpiresAt) {
		delete(c.codes, key)
		return apperr.ErrExpired
	}
	if stored.Code != code {
		return apperr.ErrInvalidCode
	}
	delete(c.codes, key)
	return nil
}

var _ Codes = (*MemoryCodes)(nil)
