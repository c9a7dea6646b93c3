package chatroom

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"food-delivery/dispatch/logx"
	"food-delivery/dispatch/models"
	"food-delivery/dispatch/realtime/realtimetest"
)

var me = models.Identity{ID: "cust-1", Role: models.RoleCustomer, SessionID: "s1"}

type fakeAPI struct {
	mu      sync.Mutex
	seq     int
	history []models.ChatMessage
	sendErr error
	reads   atomic.Int32
}

func (f *fakeAPI) chat() models.Chat {
	f.mu.Lock()
	defer f.mu.Unlock()
	return models.Chat{ID: "ch1", Participants: []string{me.ID, "rider-1"}, Messages: append([]models.ChatMessage(nil), f.history...)}
}

func (f *fakeAPI) ChatForOrder(context.Context, string, string) (models.Chat, error) {
	return f.chat(), nil
}

func (f *fakeAPI) Chat(context.Context, string) (models.Chat, error) {
	return f.chat(), nil
}

func (f *fakeAPI) SendMessage(_ context.Context, chatID, content string) (models.ChatMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return models.ChatMessage{}, f.sendErr
	}
	f.seq++
	msg := models.ChatMessage{ID: fmt.Sprintf("m%d", f.seq), ChatID: chatID, SenderID: me.ID, Content: content}
	f.history = append(f.history, msg)
	return msg, nil
}

func (f *fakeAPI) MarkRead(context.Context, string) (int, error) {
	f.reads.Add(1)
	return 1, nil
}

func message(id, sender string) models.MessageEvent {
	return models.MessageEvent{
		ChatID:   "ch1",
		SenderID: sender,
		Message:  models.ChatMessage{ID: id, ChatID: "ch1", SenderID: sender, Content: "hello " + id},
	}
}

func ids(msgs []models.ChatMessage) []string {
	out := make([]string, len(msgs))
	for i, m := range msgs {
		out[i] = m.ID
	}
	return out
}

func open(t *testing.T, api *fakeAPI, opts Options) (*Session, *realtimetest.Link) {
	t.Helper()
	m, _, link := realtimetest.Connect(t, me)
	s, err := Open(context.Background(), api, m, me, "o1", "so1", opts)
	require.NoError(t, err)
	t.Cleanup(s.Close)
	return s, link
}

func TestOpen_JoinsRoomAndMarksRead(t *testing.T) {
	api := &fakeAPI{history: []models.ChatMessage{{ID: "m0", SenderID: "rider-1"}}}
	s, link := open(t, api, Options{})

	assert.Equal(t, "ch1", s.ChatID())
	assert.Contains(t, link.Frames(), "join-chat ch1")
	assert.Equal(t, []string{"m0"}, ids(s.Messages()))
	require.Eventually(t, func() bool { return api.reads.Load() == 1 }, time.Second, time.Millisecond)
}

func TestOpen_EmptyChatSkipsReadReceipt(t *testing.T) {
	api := &fakeAPI{}
	open(t, api, Options{})
	time.Sleep(20 * time.Millisecond)
	assert.Zero(t, api.reads.Load())
}

func TestOwnMessage_ResponseThenEcho(t *testing.T) {
	api := &fakeAPI{}
	s, link := open(t, api, Options{})

	msg, err := s.Send(context.Background(), "  on my way  ")
	require.NoError(t, err)
	assert.Equal(t, "on my way", msg.Content)

	link.Push(t, models.EventNewMessage, message(msg.ID, me.ID))
	link.Push(t, models.EventNewMessage, message("x1", "rider-1"))
	require.Eventually(t, func() bool { return len(s.Messages()) == 2 }, time.Second, time.Millisecond)
	assert.Equal(t, []string{"m1", "x1"}, ids(s.Messages()))
}

func TestOwnMessage_EchoThenResponse(t *testing.T) {
	api := &fakeAPI{}
	s, link := open(t, api, Options{})

	link.Push(t, models.EventNewMessage, message("m1", me.ID))
	link.Push(t, models.EventNewMessage, message("x1", "rider-1"))
	require.Eventually(t, func() bool { return len(s.Messages()) == 1 }, time.Second, time.Millisecond)

	_, err := s.Send(context.Background(), "hi")
	require.NoError(t, err)
	assert.Equal(t, []string{"x1", "m1"}, ids(s.Messages()))
}

func TestOtherMessages_DedupedByID(t *testing.T) {
	api := &fakeAPI{}
	s, link := open(t, api, Options{})

	link.Push(t, models.EventNewMessage, message("x1", "rider-1"))
	link.Push(t, models.EventNewMessage, message("x1", "rider-1"))
	other := message("y1", "rider-1")
	other.ChatID = "ch2"
	link.Push(t, models.EventNewMessage, other)
	link.Push(t, models.EventNewMessage, message("x2", "rider-1"))

	require.Eventually(t, func() bool { return len(s.Messages()) == 2 }, time.Second, time.Millisecond)
	assert.Equal(t, []string{"x1", "x2"}, ids(s.Messages()))
	require.Eventually(t, func() bool { return api.reads.Load() == 2 }, time.Second, time.Millisecond)
}

func TestSend_FailureAppendsNothing(t *testing.T) {
	api := &fakeAPI{sendErr: errors.New("boom")}
	s, _ := open(t, api, Options{})

	_, err := s.Send(context.Background(), "hi")
	assert.Error(t, err)
	assert.Empty(t, s.Messages())

	_, err = s.Send(context.Background(), "   ")
	assert.Error(t, err)
}

func typingStates(link *realtimetest.Link) []bool {
	var out []bool
	for _, env := range link.SentEvents(models.EventTyping) {
		var p models.TypingPayload
		if env.Decode(&p) == nil && p.ChatID == "ch1" {
			out = append(out, p.IsTyping)
		}
	}
	return out
}

func TestTyping_Debounced(t *testing.T) {
	api := &fakeAPI{}
	s, link := open(t, api, Options{TypingIdle: 40 * time.Millisecond, Logger: logx.Nop()})

	s.Typing()
	s.Typing()
	s.Typing()
	assert.Equal(t, []bool{true, true, true}, typingStates(link))

	require.Eventually(t, func() bool {
		st := typingStates(link)
		return len(st) == 4 && !st[3]
	}, time.Second, 5*time.Millisecond)

	time.Sleep(60 * time.Millisecond)
	assert.Len(t, typingStates(link), 4)
}

func TestTyping_SendStopsIndicator(t *testing.T) {
	api := &fakeAPI{}
	s, link := open(t, api, Options{TypingIdle: time.Hour})

	s.Typing()
	_, err := s.Send(context.Background(), "hi")
	require.NoError(t, err)
	assert.Equal(t, []bool{true, false}, typingStates(link))
}

func TestUserTyping_TracksOthers(t *testing.T) {
	api := &fakeAPI{}
	s, link := open(t, api, Options{})

	link.Push(t, models.EventUserTyping, models.TypingPayload{ChatID: "ch1", UserID: me.ID, IsTyping: true})
	link.Push(t, models.EventUserTyping, models.TypingPayload{ChatID: "ch1", UserID: "rider-1", IsTyping: true})
	require.Eventually(t, func() bool { return len(s.Typers()) == 1 }, time.Second, time.Millisecond)
	assert.Equal(t, []string{"rider-1"}, s.Typers())

	link.Push(t, models.EventUserTyping, models.TypingPayload{ChatID: "ch1", UserID: "rider-1", IsTyping: false})
	require.Eventually(t, func() bool { return len(s.Typers()) == 0 }, time.Second, time.Millisecond)
}

func TestClose_KeepsOrderRoom(t *testing.T) {
	m, _, link := realtimetest.Connect(t, me)
	m.JoinRoom(models.OrderRoom("o1"))

	s, err := Open(context.Background(), &fakeAPI{}, m, me, "o1", "so1", Options{})
	require.NoError(t, err)
	s.Typing()
	s.Close()
	s.Close()

	assert.True(t, m.Connected())
	assert.Contains(t, m.Rooms(), models.OrderRoom("o1"))
	assert.NotContains(t, m.Rooms(), models.ChatRoom("ch1"))
	assert.Equal(t, []string{"join cust-1", "join-order o1", "join-chat ch1", "typing ", "typing ", "leave-chat ch1"}, link.Frames())
}

func TestReconnect_ResyncsMissedMessages(t *testing.T) {
	m, tr, link := realtimetest.Connect(t, me)
	api := &fakeAPI{}
	s, err := Open(context.Background(), api, m, me, "o1", "so1", Options{})
	require.NoError(t, err)
	defer s.Close()

	api.mu.Lock()
	api.history = append(api.history, models.ChatMessage{ID: "missed", SenderID: "rider-1"})
	api.mu.Unlock()

	link.Drop(errors.New("wifi off"))
	next := tr.Next(t)
	require.Eventually(t, func() bool { return len(s.Messages()) == 1 }, time.Second, time.Millisecond)
	assert.Contains(t, next.Frames(), "join-chat ch1")
}
