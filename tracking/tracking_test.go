package tracking

import (
	"context"
	"math/rand"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"food-delivery/dispatch/apperr"
	"food-delivery/dispatch/logx"
	"food-delivery/dispatch/models"
	"food-delivery/dispatch/realtime/realtimetest"
)

var customer = models.Identity{ID: "cust-1", Role: models.RoleCustomer, SessionID: "s1"}

func enRoute(orderID string) models.Order {
	return models.Order{
		ID:              orderID,
		CustomerID:      customer.ID,
		DeliveryAddress: models.Address{Text: "home", Latitude: 12.90, Longitude: 77.60},
		ShopOrders: []models.ShopOrder{
			{
				ID:              "so1",
				ShopName:        "Dosa Corner",
				Status:          models.StatusOutForDelivery,
				AssignedCourier: &models.CourierRef{ID: "rider-1", FullName: "Ravi"},
			},
			{ID: "so2", Status: models.StatusPreparing},
		},
	}
}

type countingAPI struct {
	calls atomic.Int32
	order models.Order
}

func (c *countingAPI) Order(context.Context, string) (models.Order, error) {
	c.calls.Add(1)
	return c.order.Clone(), nil
}

type pendingCall struct {
	reply chan models.Order
}

type blockingAPI struct {
	calls chan pendingCall
}

func (b *blockingAPI) Order(context.Context, string) (models.Order, error) {
	c := pendingCall{reply: make(chan models.Order)}
	b.calls <- c
	return <-c.reply, nil
}

func (b *blockingAPI) next(t *testing.T) pendingCall {
	t.Helper()
	select {
	case c := <-b.calls:
		return c
	case <-time.After(time.Second):
		t.Fatal("no order request")
		return pendingCall{}
	}
}

func TestPhaseOf(t *testing.T) {
	assert.Equal(t, AwaitingAssignment, PhaseOf(models.ShopOrder{Status: models.StatusPending}))
	assert.Equal(t, AwaitingAssignment, PhaseOf(models.ShopOrder{Status: models.StatusOutForDelivery}))
	assert.Equal(t, AssignedEnRoute, PhaseOf(models.ShopOrder{
		Status:          models.StatusOutForDelivery,
		AssignedCourier: &models.CourierRef{ID: "rider-1"},
	}))
	assert.Equal(t, Delivered, PhaseOf(models.ShopOrder{Status: models.StatusDelivered}))
}

func TestBook_KeepsNewestSample(t *testing.T) {
	b := NewBook()
	assert.True(t, b.Apply(models.LocationSample{CourierID: "r", Latitude: 12.90, Longitude: 77.60, Timestamp: 100}))
	assert.False(t, b.Apply(models.LocationSample{CourierID: "r", Latitude: 12.91, Longitude: 77.61, Timestamp: 90}))

	s, ok := b.Latest("r")
	require.True(t, ok)
	assert.Equal(t, models.Point{Lat: 12.90, Lon: 77.60}, s.Point())

	b.Forget("r")
	_, ok = b.Latest("r")
	assert.False(t, ok)
}

func TestBook_AnyArrivalOrder(t *testing.T) {
	samples := make([]models.LocationSample, 50)
	for i := range samples {
		samples[i] = models.LocationSample{
			CourierID: "r",
			Latitude:  float64(i),
			Longitude: float64(-i),
			Timestamp: int64(1000 + i),
		}
	}
	rng := rand.New(rand.NewSource(7))
	for round := 0; round < 20; round++ {
		rng.Shuffle(len(samples), func(i, j int) { samples[i], samples[j] = samples[j], samples[i] })
		b := NewBook()
		for _, s := range samples {
			b.Apply(s)
			b.Apply(s)
		}
		got, ok := b.Latest("r")
		require.True(t, ok)
		assert.EqualValues(t, 1049, got.Timestamp)
		assert.Equal(t, 49.0, got.Latitude)
	}
}

func TestTracker_EventsRefetchButLocationsDoNot(t *testing.T) {
	m, _, link := realtimetest.Connect(t, customer)
	api := &countingAPI{order: enRoute("o1")}
	tr := Open("o1", api, m, logx.Nop())
	defer tr.Close()

	assert.Contains(t, link.Frames(), "join-order o1")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = tr.Run(ctx, time.Hour) }()
	require.Eventually(t, func() bool { return api.calls.Load() == 1 }, time.Second, time.Millisecond)

	link.Push(t, models.EventDeliveryLocation, models.LocationSample{
		OrderID: "o1", CourierID: "rider-1", Latitude: 12.95, Longitude: 77.65, Timestamp: 100,
	})
	require.Eventually(t, func() bool {
		v := tr.View()
		return len(v.Lines) == 2 && v.Lines[0].Position != nil
	}, time.Second, time.Millisecond)

	link.Push(t, models.EventOrderStatusUpdated, models.OrderEvent{OrderID: "other"})
	link.Push(t, models.EventOrderStatusUpdated, models.OrderEvent{OrderID: "o1", ShopOrderID: "so2"})
	require.Eventually(t, func() bool { return api.calls.Load() == 2 }, time.Second, time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	assert.EqualValues(t, 2, api.calls.Load())
}

func TestTracker_View(t *testing.T) {
	m, _, _ := realtimetest.Connect(t, customer)
	tr := Open("o1", &countingAPI{order: enRoute("o1")}, m, logx.Nop())
	defer tr.Close()

	assert.Nil(t, tr.View().Order)
	tr.Refresh(context.Background())

	require.True(t, tr.ApplySample(models.LocationSample{OrderID: "o1", CourierID: "rider-1", Latitude: 12.90, Longitude: 77.60, Timestamp: 100}))
	assert.False(t, tr.ApplySample(models.LocationSample{OrderID: "o1", CourierID: "rider-1", Latitude: 12.91, Longitude: 77.61, Timestamp: 90}))

	v := tr.View()
	require.Len(t, v.Lines, 2)
	line := v.Lines[0]
	assert.Equal(t, AssignedEnRoute, line.Phase)
	require.NotNil(t, line.Position)
	assert.Equal(t, models.Point{Lat: 12.90, Lon: 77.60}, *line.Position)
	assert.Equal(t, []models.Point{{Lat: 12.90, Lon: 77.60}, {Lat: 12.90, Lon: 77.60}}, line.Route)
	assert.InDelta(t, 0, line.DistanceKm, 1e-9)

	assert.Equal(t, AwaitingAssignment, v.Lines[1].Phase)
	assert.Nil(t, v.Lines[1].Position)
}

func TestTracker_DiscardsSnapshotAfterClose(t *testing.T) {
	m, _, _ := realtimetest.Connect(t, customer)
	api := &blockingAPI{calls: make(chan pendingCall)}
	tr := Open("o1", api, m, logx.Nop())

	done := make(chan struct{})
	go func() {
		tr.Refresh(context.Background())
		close(done)
	}()
	call := api.next(t)
	tr.Close()
	call.reply <- enRoute("o1")
	<-done

	assert.Nil(t, tr.View().Order)
	assert.NotContains(t, m.Rooms(), models.OrderRoom("o1"))
}

func TestTracker_DropsOlderResponse(t *testing.T) {
	m, _, _ := realtimetest.Connect(t, customer)
	api := &blockingAPI{calls: make(chan pendingCall)}
	tr := Open("o1", api, m, logx.Nop())
	defer tr.Close()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		tr.Refresh(context.Background())
	}()
	first := api.next(t)

	wg.Add(1)
	go func() {
		defer wg.Done()
		tr.Refresh(context.Background())
	}()
	second := api.next(t)

	fresh := enRoute("o1")
	fresh.ShopOrders[1].Status = models.StatusOutForDelivery
	second.reply <- fresh
	first.reply <- enRoute("o1")
	wg.Wait()

	v := tr.View()
	require.NotNil(t, v.Order)
	assert.Equal(t, models.StatusOutForDelivery, v.Order.ShopOrders[1].Status)
}

func TestTracker_CloseKeepsSharedRooms(t *testing.T) {
	m, _, link := realtimetest.Connect(t, customer)
	m.JoinRoom(models.ChatRoom("ch1"))

	a := Open("o1", &countingAPI{order: enRoute("o1")}, m, logx.Nop())
	b := Open("o1", &countingAPI{order: enRoute("o1")}, m, logx.Nop())

	a.Close()
	a.Close()
	assert.Contains(t, m.Rooms(), models.OrderRoom("o1"))
	assert.Contains(t, m.Rooms(), models.ChatRoom("ch1"))
	assert.True(t, m.Connected())

	b.Close()
	assert.NotContains(t, m.Rooms(), models.OrderRoom("o1"))
	assert.Contains(t, m.Rooms(), models.ChatRoom("ch1"))
	assert.Equal(t, []string{
		"join cust-1", "join-chat ch1", "join-order o1", "leave-order o1",
	}, link.Frames())
}

func TestTracker_RunStopsOnClose(t *testing.T) {
	m, _, _ := realtimetest.Connect(t, customer)
	tr := Open("o1", &countingAPI{order: enRoute("o1")}, m, logx.Nop())

	done := make(chan error, 1)
	go func() { done <- tr.Run(context.Background(), time.Hour) }()
	tr.Close()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("run did not stop")
	}
}

type listAPI struct {
	calls atomic.Int32
	err   error
}

func (l *listAPI) MyOrders(context.Context) ([]models.Order, error) {
	n := l.calls.Add(1)
	if l.err != nil {
		return nil, l.err
	}
	orders := make([]models.Order, n)
	for i := range orders {
		orders[i] = enRoute("o" + string(rune('a'+i)))
	}
	return orders, nil
}

func TestFeed_PollsAndRefetchesOnPush(t *testing.T) {
	m, _, link := realtimetest.Connect(t, models.Identity{ID: "owner-1", Role: models.RoleOwner, SessionID: "s2"})
	api := &listAPI{}
	f := NewFeed(api, m, logx.Nop())
	defer f.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = f.Run(ctx, time.Hour) }()

	require.Eventually(t, f.Loaded, time.Second, time.Millisecond)
	link.Push(t, models.EventNewOrder, models.NewOrderEvent{OrderID: "ob"})
	require.Eventually(t, func() bool {
		list, err := f.Orders()
		return err == nil && len(list) == 2
	}, time.Second, time.Millisecond)
}

func TestFeed_KeepsListOnError(t *testing.T) {
	api := &listAPI{}
	m, _, _ := realtimetest.Connect(t, customer)
	f := NewFeed(api, m, logx.Nop())
	defer f.Close()

	f.Refresh(context.Background())
	api.err = apperr.ErrUnauthorized
	f.Refresh(context.Background())

	list, err := f.Orders()
	assert.Len(t, list, 1)
	assert.ErrorIs(t, err, apperr.ErrUnauthorized)
}
