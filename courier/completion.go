package courier

import (
	"context"
	"errors"
	"sync"

	"food-delivery/dispatch/apiclient"
	"food-delivery/dispatch/apperr"
	"food-delivery/dispatch/models"
)

type CodeAPI interface {
	SendCode(ctx context.Context, orderID, shopOrderID string) (apiclient.CodeIssued, error)
	VerifyCode(ctx context.Context, orderID, shopOrderID, code string) (models.ShopOrder, error)
}

// Completion is the delivery code exchange for one ShopOrder. A wrong code
// may be retried as often as the courier likes while the code is alive.
type Completion struct {
	api         CodeAPI
	orderID     string
	shopOrderID string

	mu        sync.Mutex
	issued    *apiclient.CodeIssued
	attempts  int
	delivered bool
}

func NewCompletion(api CodeAPI, orderID, shopOrderID string) *Completion {
	return &Completion{api: api, orderID: orderID, shopOrderID: shopOrderID}
}

// Request asks the server to issue a code to the customer. Requesting again
// replaces the previous code.
func (c *Completion) Request(ctx context.Context) (apiclient.CodeIssued, error) {
	issued, err := c.api.SendCode(ctx, c.orderID, c.shopOrderID)
	if err != nil {
		return apiclient.CodeIssued{}, err
	}
	c.mu.Lock()
	c.issued = &issued
	c.attempts = 0
	c.mu.Unlock()
	return issued, nil
}

// Submit verifies code. apperr.ErrInvalidCode leaves the exchange open;
// apperr.ErrExpired means a new code has to be requested.
func (c *Completion) Submit(ctx context.Context, code string) (models.ShopOrder, error) {
	c.mu.Lock()
	if c.delivered {
		c.mu.Unlock()
		return models.ShopOrder{}, apperr.ErrConflict
	}
	c.attempts++
	c.mu.Unlock()

	so, err := c.api.VerifyCode(ctx, c.orderID, c.shopOrderID, code)

	c.mu.Lock()
	defer c.mu.Unlock()
	switch {
	case err == nil:
		c.delivered = true
		c.issued = nil
	case errors.Is(err, apperr.ErrExpired), errors.Is(err, apperr.ErrNotFound):
		c.issued = nil
	}
	return so, err
}

type CompletionState struct {
	Issued    *apiclient.CodeIssued
	Attempts  int
	Delivered bool
}

func (c *Completion) State() CompletionState {
	c.mu.Lock()
	defer c.mu.Unlock()
	st := CompletionState{Attempts: c.attempts, Delivered: c.delivered}
	if c.issued != nil {
		issued := *c.issued
		st.Issued = &issued
	}
	return st
}
