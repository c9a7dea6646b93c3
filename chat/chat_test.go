package chat

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"food-delivery/dispatch/apperr"
	"food-delivery/dispatch/logx"
	"food-delivery/dispatch/models"
	"food-delivery/dispatch/store"
)

type sent struct {
	event string
	data  any
	rooms []models.Room
}

type fakeEmitter struct{ out []sent }

func (f *fakeEmitter) Emit(event string, payload any, rooms ...models.Room) {
	f.out = append(f.out, sent{event: event, data: payload, rooms: rooms})
}

var (
	buyer  = models.Identity{ID: "cust-1", Role: models.RoleCustomer}
	rider  = models.Identity{ID: "rider-1", Role: models.RoleCourier}
	others = models.Identity{ID: "rider-9", Role: models.RoleCourier}
)

func setup(t *testing.T, assigned bool) (*Service, *fakeEmitter) {
	t.Helper()
	orders := store.NewOrders()
	so := models.ShopOrder{ID: "so-1", OwnerID: "owner-1", Status: models.StatusOutForDelivery}
	if assigned {
		so.AssignedCourier = &models.CourierRef{ID: rider.ID, FullName: "Ravi"}
	}
	require.NoError(t, orders.Create(context.Background(), models.Order{
		ID:         "o-1",
		CustomerID: buyer.ID,
		ShopOrders: []models.ShopOrder{so},
	}))
	em := &fakeEmitter{}
	return NewService(store.NewChats(), orders, em, logx.Nop()), em
}

func TestGetOrCreate(t *testing.T) {
	svc, _ := setup(t, true)
	ctx := context.Background()

	c1, err := svc.GetOrCreate(ctx, buyer, "o-1", "so-1")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{buyer.ID, rider.ID}, c1.Participants)

	c2, err := svc.GetOrCreate(ctx, rider, "o-1", "so-1")
	require.NoError(t, err)
	assert.Equal(t, c1.ID, c2.ID)

	_, err = svc.GetOrCreate(ctx, others, "o-1", "so-1")
	assert.ErrorIs(t, err, apperr.ErrForbidden)
	_, err = svc.GetOrCreate(ctx, buyer, "o-1", "missing")
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestGetOrCreate_NoCourierYet(t *testing.T) {
	svc, _ := setup(t, false)
	_, err := svc.GetOrCreate(context.Background(), buyer, "o-1", "so-1")
	assert.ErrorIs(t, err, apperr.ErrConflict)
}

func TestSend_FansOutToChatAndRecipient(t *testing.T) {
	svc, em := setup(t, true)
	ctx := context.Background()
	c, err := svc.GetOrCreate(ctx, buyer, "o-1", "so-1")
	require.NoError(t, err)

	msg, err := svc.Send(ctx, buyer, c.ID, SendRequest{Content: "  gate code 42  "})
	require.NoError(t, err)
	assert.Equal(t, "gate code 42", msg.Content)
	assert.NotEmpty(t, msg.ID)

	require.Len(t, em.out, 1)
	assert.Equal(t, models.EventNewMessage, em.out[0].event)
	assert.Equal(t, []models.Room{models.ChatRoom(c.ID), models.UserRoom(rider.ID)}, em.out[0].rooms)
	ev := em.out[0].data.(models.MessageEvent)
	assert.Equal(t, buyer.ID, ev.SenderID)
	assert.Equal(t, msg.ID, ev.Message.ID)

	_, err = svc.Send(ctx, buyer, c.ID, SendRequest{Content: "   "})
	assert.ErrorIs(t, err, apperr.ErrInvalid)
	_, err = svc.Send(ctx, others, c.ID, SendRequest{Content: "hi"})
	assert.ErrorIs(t, err, apperr.ErrForbidden)
}

func TestMarkRead(t *testing.T) {
	svc, _ := setup(t, true)
	ctx := context.Background()
	c, err := svc.GetOrCreate(ctx, buyer, "o-1", "so-1")
	require.NoError(t, err)

	_, err = svc.Send(ctx, buyer, c.ID, SendRequest{Content: "hello"})
	require.NoError(t, err)
	_, err = svc.Send(ctx, rider, c.ID, SendRequest{Content: "on my way"})
	require.NoError(t, err)

	n, err := svc.MarkRead(ctx, rider, c.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	n, err = svc.MarkRead(ctx, rider, c.ID)
	require.NoError(t, err)
	assert.Zero(t, n)

	assert.NoError(t, svc.CanJoin(ctx, buyer, c.ID))
	assert.ErrorIs(t, svc.CanJoin(ctx, others, c.ID), apperr.ErrForbidden)
}
