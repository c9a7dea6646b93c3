package store_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"food-delivery/dispatch/apperr"
	"food-delivery/dispatch/models"
	"food-delivery/dispatch/store"
)

func openAssignment(id string, candidates ...string) models.Assignment {
	now := time.Now()
	return models.Assignment{
		ID:          id,
		OrderID:     "o1",
		ShopOrderID: "s1",
		Candidates:  candidates,
		Status:      models.AssignmentOpen,
		Round:       1,
		RadiusKm:    5,
		CreatedAt:   now,
		ExpiresAt:   now.Add(time.Minute),
	}
}

func TestMemoryLedger_ConcurrentClaimHasOneWinner(t *testing.T) {
	ctx := context.Background()
	l := store.NewMemoryLedger()

	const n = 64
	couriers := make([]string, n)
	for i := range couriers {
		couriers[i] = fmt.Sprintf("c%d", i)
	}
	require.NoError(t, l.Create(ctx, openAssignment("a1", couriers...)))

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		winners []string
		losses  int
	)
	start := make(chan struct{})
	for _, c := range couriers {
		wg.Add(1)
		go func(courierID string) {
			defer wg.Done()
			<-start
			_, err := l.Claim(ctx, "a1", courierID, time.Now())
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				winners = append(winners, courierID)
				return
			}
			assert.ErrorIs(t, err, apperr.ErrAlreadyAccepted)
			losses++
		}(c)
	}
	close(start)
	wg.Wait()

	require.Len(t, winners, 1)
	require.Equal(t, n-1, losses)

	a, err := l.Get(ctx, "a1")
	require.NoError(t, err)
	require.Equal(t, models.AssignmentAccepted, a.Status)
	require.Equal(t, winners[0], a.AcceptedBy)

	open, err := l.ListOpen(ctx)
	require.NoError(t, err)
	require.Empty(t, open)
}

func TestMemoryLedger_ClaimRules(t *testing.T) {
	ctx := context.Background()
	l := store.NewMemoryLedger()
	require.NoError(t, l.Create(ctx, openAssignment("a1", "c1")))
	require.ErrorIs(t, l.Create(ctx, openAssignment("a1", "c1")), apperr.ErrConflict)

	_, err := l.Claim(ctx, "missing", "c1", time.Now())
	require.ErrorIs(t, err, apperr.ErrNotFound)

	_, err = l.Claim(ctx, "a1", "stranger", time.Now())
	require.ErrorIs(t, err, apperr.ErrForbidden)

	_, err = l.Claim(ctx, "a1", "c1", time.Now().Add(2*time.Minute))
	require.ErrorIs(t, err, apperr.ErrExpired)

	a, err := l.Claim(ctx, "a1", "c1", time.Now())
	require.NoError(t, err)
	require.Equal(t, "c1", a.AcceptedBy)

	_, err = l.Expire(ctx, "a1")
	require.ErrorIs(t, err, apperr.ErrAlreadyAccepted)
}

func TestMemoryLedger_ReofferAndExpire(t *testing.T) {
	ctx := context.Background()
	l := store.NewMemoryLedger()
	a := openAssignment("a1", "c1")
	require.NoError(t, l.Create(ctx, a))

	a.Round = 2
	a.RadiusKm = 10
	a.Candidates = []string{"c1", "c2"}
	a.ExpiresAt = time.Now().Add(time.Minute)
	require.NoError(t, l.Reoffer(ctx, a))

	got, err := l.Get(ctx, "a1")
	require.NoError(t, err)
	require.Equal(t, 2, got.Round)
	require.True(t, got.HasCandidate("c2"))

	expired, err := l.Expire(ctx, "a1")
	require.NoError(t, err)
	require.Equal(t, models.AssignmentExpired, expired.Status)

	require.ErrorIs(t, l.Reoffer(ctx, a), apperr.ErrExpired)
	_, err = l.Claim(ctx, "a1", "c2", time.Now())
	require.ErrorIs(t, err, apperr.ErrExpired)

	require.NoError(t, l.Delete(ctx, "a1"))
	_, err = l.Get(ctx, "a1")
	require.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestMemoryCodes_WrongCodeKeepsCodeValid(t *testing.T) {
	ctx := context.Background()
	c := store.NewMemoryCodes()
	now := time.Now()
	require.NoError(t, c.Put(ctx, models.DeliveryCode{OrderID: "o1", ShopOrderID: "s1", Code: "1234", ExpiresAt: now.Add(time.Minute)}))

	require.ErrorIs(t, c.Consume(ctx, "o1", "s1", "0000", now), apperr.ErrInvalidCode)
	require.ErrorIs(t, c.Consume(ctx, "o1", "s1", "9999", now), apperr.ErrInvalidCode)
	require.NoError(t, c.Consume(ctx, "o1", "s1", "1234", now))
	require.ErrorIs(t, c.Consume(ctx, "o1", "s1", "1234", now), apperr.ErrNotFound)
}

func TestMemoryCodes_ExpiredAndReplaced(t *testing.T) {
	ctx := context.Background()
	c := store.NewMemoryCodes()
	now := time.Now()
	require.NoError(t, c.Put(ctx, models.DeliveryCode{OrderID: "o1", ShopOrderID: "s1", Code: "1111", ExpiresAt: now.Add(time.Minute)}))
	require.NoError(t, c.Put(ctx, models.DeliveryCode{OrderID: "o1", ShopOrderID: "s1", Code: "2222", ExpiresAt: now.Add(time.Minute)}))
	require.ErrorIs(t, c.Consume(ctx, "o1", "s1", "1111", now), apperr.ErrInvalidCode)

	require.ErrorIs(t, c.Consume(ctx, "o1", "s1", "2222", now.Add(2*time.Minute)), apperr.ErrExpired)
}

func TestMemoryPresence_Update(t *testing.T) {
	ctx := context.Background()
	p := store.NewMemoryPresence()

	_, err := p.Get(ctx, "c1")
	require.ErrorIs(t, err, apperr.ErrNotFound)

	got, err := p.Update(ctx, "c1", func(c *models.CourierPresence) {
		c.IsActive = true
		c.Latitude = 12.9
	})
	require.NoError(t, err)
	require.Equal(t, "c1", got.CourierID)

	_, err = p.Update(ctx, "c1", func(c *models.CourierPresence) { c.IsBusy = true })
	require.NoError(t, err)

	all, err := p.List(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
	require.True(t, all[0].IsActive)
	require.True(t, all[0].IsBusy)
	require.Equal(t, 12.9, all[0].Latitude)
}

func TestOrders_UpdateRollsBackOnError(t *testing.T) {
	ctx := context.Background()
	s := store.NewOrders()
	require.NoError(t, s.Create(ctx, models.Order{
		ID:         "o1",
		ShopOrders: []models.ShopOrder{{ID: "s1", Status: models.StatusPending}},
	}))

	_, err := s.Update(ctx, "o1", func(o *models.Order) error {
		o.ShopOrders[0].Status = models.StatusDelivered
		return apperr.ErrConflict
	})
	require.ErrorIs(t, err, apperr.ErrConflict)

	o, err := s.Get(ctx, "o1")
	require.NoError(t, err)
	require.Equal(t, models.StatusPending, o.ShopOrders[0].Status)

	o.ShopOrders[0].Status = models.StatusPreparing
	again, err := s.Get(ctx, "o1")
	require.NoError(t, err)
	require.Equal(t, models.StatusPending, again.ShopOrders[0].Status, "Get must return a copy")
}

func TestChats_GetOrCreateAndMarkRead(t *testing.T) {
	ctx := context.Background()
	s := store.NewChats()
	calls := 0
	newChat := func() models.Chat {
		calls++
		return models.Chat{ID: "ch1", Participants: []string{"cust", "cour"}}
	}

	c1, err := s.GetOrCreate(ctx, "o1", "s1", newChat)
	require.NoError(t, err)
	c2, err := s.GetOrCreate(ctx, "o1", "s1", newChat)
	require.NoError(t, err)
	require.Equal(t, c1.ID, c2.ID)
	require.Equal(t, 1, calls)

	require.NoError(t, s.Append(ctx, "ch1", models.ChatMessage{ID: "m1", SenderID: "cust", Content: "hi"}))
	require.ErrorIs(t, s.Append(ctx, "ch1", models.ChatMessage{ID: "m1"}), apperr.ErrConflict)
	require.NoError(t, s.Append(ctx, "ch1", models.ChatMessage{ID: "m2", SenderID: "cour", Content: "on my way"}))

	n, err := s.MarkRead(ctx, "ch1", "cour")
	require.NoError(t, err)
	require.Equal(t, 1, n)
	n, err = s.MarkRead(ctx, "ch1", "cour")
	require.NoError(t, err)
	require.Zero(t, n)
}
