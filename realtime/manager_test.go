package realtime_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"food-delivery/dispatch/apperr"
	"food-delivery/dispatch/logx"
	"food-delivery/dispatch/models"
	"food-delivery/dispatch/realtime"
	"food-delivery/dispatch/realtime/realtimetest"
)

var rider = models.Identity{ID: "c7", Role: models.RoleCourier, SessionID: "s1"}

func TestEmit_NotConnected(t *testing.T) {
	m := realtime.NewManager(realtimetest.NewTransport(), realtime.Config{}, logx.Nop())
	assert.ErrorIs(t, m.Emit(models.EventTyping, nil), apperr.ErrNotConnected)
	assert.False(t, m.Connected())
}

func TestConnect_RequiresSession(t *testing.T) {
	m := realtime.NewManager(realtimetest.NewTransport(), realtime.Config{}, logx.Nop())
	assert.ErrorIs(t, m.Connect(context.Background(), models.Identity{}, ""), apperr.ErrUnauthorized)
}

func TestConnect_JoinsIdentityRooms(t *testing.T) {
	_, _, link := realtimetest.Connect(t, rider)
	assert.Equal(t, []string{"join c7", "join-delivery-boy c7"}, link.Frames())
}

func TestReconnect_ReplaysEveryRoom(t *testing.T) {
	m, tr, first := realtimetest.Connect(t, rider)
	m.JoinRoom(models.OrderRoom("42"))
	require.Equal(t, []string{"join c7", "join-delivery-boy c7", "join-order 42"}, first.Frames())

	var reconnects atomic.Int32
	m.Subscriber("reconnects").On(realtime.EventConnect, func(models.Envelope) { reconnects.Add(1) })

	first.Drop(errors.New("network reset"))
	second := tr.Next(t)
	require.Eventually(t, func() bool { return reconnects.Load() == 1 }, time.Second, time.Millisecond)
	assert.Equal(t, []string{"join c7", "join-delivery-boy c7", "join-order 42"}, second.Frames())
	assert.True(t, m.Connected())
}

func TestRooms_AreReferenceCounted(t *testing.T) {
	m, _, link := realtimetest.Connect(t, rider)
	order := models.OrderRoom("42")
	chat := models.ChatRoom("ch1")

	m.JoinRoom(order)
	m.JoinRoom(chat)
	m.JoinRoom(order)
	m.LeaveRoom(order)

	assert.True(t, m.Connected())
	assert.Equal(t, []models.Room{models.UserRoom("c7"), models.CourierRoom("c7"), chat, order}, m.Rooms())

	m.LeaveRoom(order)
	m.LeaveRoom(order)
	assert.Equal(t, []string{
		"join c7", "join-delivery-boy c7",
		"join-order 42", "join-chat ch1", "leave-order 42",
	}, link.Frames())
	assert.Equal(t, []models.Room{models.UserRoom("c7"), models.CourierRoom("c7"), chat}, m.Rooms())

	got := make(chan string, 1)
	m.Subscriber("chat").On(models.EventNewMessage, func(env models.Envelope) {
		var ev models.MessageEvent
		_ = env.Decode(&ev)
		got <- ev.Message.Content
	})
	link.Push(t, models.EventNewMessage, models.MessageEvent{ChatID: "ch1", Message: models.ChatMessage{Content: "hi"}})
	select {
	case c := <-got:
		assert.Equal(t, "hi", c)
	case <-time.After(time.Second):
		t.Fatal("chat message not delivered")
	}
}

func TestJoinRoom_SlowLinkDoesNotBlockManager(t *testing.T) {
	m, _, link := realtimetest.Connect(t, rider)
	order := models.OrderRoom("42")

	blocked, release := link.Stall()
	defer release()
	joined := make(chan struct{})
	go func() {
		defer close(joined)
		m.JoinRoom(order)
	}()
	select {
	case <-blocked:
	case <-time.After(time.Second):
		t.Fatal("join frame never written")
	}

	got := make(chan string, 1)
	m.Subscriber("chat").On(models.EventNewMessage, func(env models.Envelope) {
		var ev models.MessageEvent
		_ = env.Decode(&ev)
		got <- ev.Message.Content
	})
	link.Push(t, models.EventNewMessage, models.MessageEvent{ChatID: "ch1", Message: models.ChatMessage{Content: "hi"}})
	select {
	case c := <-got:
		assert.Equal(t, "hi", c)
	case <-time.After(time.Second):
		t.Fatal("inbound frame held behind a stalled write")
	}
	assert.True(t, m.Connected())
	assert.Contains(t, m.Rooms(), order)

	release()
	select {
	case <-joined:
	case <-time.After(time.Second):
		t.Fatal("join did not finish after release")
	}
	assert.Equal(t, []string{"join c7", "join-delivery-boy c7", "join-order 42"}, link.Frames())
}

func TestSubscriber_OneHandlerPerEvent(t *testing.T) {
	m, _, link := realtimetest.Connect(t, rider)

	var mu sync.Mutex
	calls := map[string]int{}
	record := func(tag string) realtime.Handler {
		return func(models.Envelope) {
			mu.Lock()
			calls[tag]++
			mu.Unlock()
		}
	}
	board := m.Subscriber("board")
	board.On(models.EventNewDeliveryAssignment, record("old"))
	board.On(models.EventNewDeliveryAssignment, record("new"))
	m.Subscriber("toast").On(models.EventNewDeliveryAssignment, record("toast"))
	assert.Equal(t, 2, m.Handlers(models.EventNewDeliveryAssignment))

	link.Push(t, models.EventNewDeliveryAssignment, nil)
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return calls["new"] == 1 && calls["toast"] == 1
	}, time.Second, time.Millisecond)
	mu.Lock()
	assert.Zero(t, calls["old"])
	mu.Unlock()

	board.Close()
	assert.Equal(t, 1, m.Handlers(models.EventNewDeliveryAssignment))
	m.Subscriber("toast").Off(models.EventNewDeliveryAssignment)
	assert.Zero(t, m.Handlers(models.EventNewDeliveryAssignment))
}

func TestSignOut_StopsReconnecting(t *testing.T) {
	for _, reason := range []error{realtime.ErrSignedOut, realtime.ErrSuperseded} {
		t.Run(reason.Error(), func(t *testing.T) {
			m, tr, link := realtimetest.Connect(t, rider)
			ended := make(chan error, 1)
			m.OnTerminated(func(err error) { ended <- err })

			link.Drop(reason)
			select {
			case err := <-ended:
				assert.ErrorIs(t, err, reason)
			case <-time.After(time.Second):
				t.Fatal("termination not reported")
			}
			assert.False(t, m.Connected())
			time.Sleep(30 * time.Millisecond)
			assert.Equal(t, 1, tr.Dials())
			assert.Empty(t, m.Rooms())
		})
	}
}

func TestDisconnect(t *testing.T) {
	m, tr, link := realtimetest.Connect(t, rider)
	m.JoinRoom(models.OrderRoom("1"))

	m.Disconnect()
	assert.False(t, m.Connected())
	assert.Empty(t, m.Rooms())
	assert.ErrorIs(t, m.Emit(models.EventTyping, nil), apperr.ErrNotConnected)
	_, err := link.ReadEnvelope()
	assert.Error(t, err)
	assert.Equal(t, 1, tr.Dials())

	m.Disconnect()
}

func TestConnect_SameSessionIsNoop(t *testing.T) {
	m, tr, _ := realtimetest.Connect(t, rider)
	require.NoError(t, m.Connect(context.Background(), rider, "token"))
	assert.Equal(t, 1, tr.Dials())

	other := rider
	other.SessionID = "s2"
	require.NoError(t, m.Connect(context.Background(), other, "token2"))
	tr.Next(t)
	assert.Equal(t, 2, tr.Dials())
}

func TestReconnect_BacksOffWhileDialFails(t *testing.T) {
	m, tr, link := realtimetest.Connect(t, rider)
	tr.FailWith(errors.New("connection refused"))

	link.Drop(errors.New("gone"))
	require.Eventually(t, func() bool { return !m.Connected() }, time.Second, time.Millisecond)

	tr.FailWith(nil)
	tr.Next(t)
	require.Eventually(t, m.Connected, time.Second, time.Millisecond)
}
