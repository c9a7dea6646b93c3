// Package chatroom is an open chat panel: the message list of one
// (order, shop order) chat, the typing indicator and read receipts.
package chatroom

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"food-delivery/dispatch/apperr"
	"food-delivery/dispatch/logx"
	"food-delivery/dispatch/models"
	"food-delivery/dispatch/realtime"
)

// DefaultTypingIdle is how long after the last keystroke typing=false is sent.
const DefaultTypingIdle = 2000 * time.Millisecond

const markReadTimeout = 5 * time.Second

type API interface {
	ChatForOrder(ctx context.Context, orderID, shopOrderID string) (models.Chat, error)
	Chat(ctx context.Context, chatID string) (models.Chat, error)
	SendMessage(ctx context.Context, chatID, content string) (models.ChatMessage, error)
	MarkRead(ctx context.Context, chatID string) (int, error)
}

type Channel interface {
	Subscriber(name string) *realtime.Subscriber
	JoinRoom(room models.Room)
	LeaveRoom(room models.Room)
	Emit(event string, payload any) error
}

type Options struct {
	TypingIdle time.Duration
	Logger     logx.Logger
}

// Session shows every message once. Own messages are appended from the REST
// answer and their broadcast echo is ignored; other senders' messages are
// appended from the broadcast unless already held.
type Session struct {
	api        API
	ch         Channel
	self       models.Identity
	chatID     string
	room       models.Room
	sub        *realtime.Subscriber
	logger     logx.Logger
	typingIdle time.Duration
	changed    chan struct{}

	mu          sync.Mutex
	messages    []models.ChatMessage
	ids         map[string]struct{}
	typing      map[string]bool
	typingTimer *time.Timer
	selfTyping  bool
	closed      bool
	closeOnce   sync.Once
}

// Open fetches (or creates) the chat of the shop order and joins its room.
func Open(ctx context.Context, api API, ch Channel, self models.Identity, orderID, shopOrderID string, opts Options) (*Session, error) {
	chat, err := api.ChatForOrder(ctx, orderID, shopOrderID)
	if err != nil {
		return nil, err
	}
	if opts.TypingIdle <= 0 {
		opts.TypingIdle = DefaultTypingIdle
	}
	if opts.Logger == nil {
		opts.Logger = logx.Nop()
	}

	s := &Session{
		api:        api,
		ch:         ch,
		self:       self,
		chatID:     chat.ID,
		room:       models.ChatRoom(chat.ID),
		sub:        ch.Subscriber("chat:" + chat.ID + ":" + uuid.NewString()),
		logger:     opts.Logger.With(logx.String("chat_id", chat.ID)),
		typingIdle: opts.TypingIdle,
		changed:    make(chan struct{}, 1),
		ids:        make(map[string]struct{}),
		typing:     make(map[string]bool),
	}
	s.merge(chat.Messages)

	s.sub.On(models.EventNewMessage, s.onMessage)
	s.sub.On(models.EventUserTyping, s.onTyping)
	s.sub.On(realtime.EventConnect, func(models.Envelope) { go s.resync() })
	ch.JoinRoom(s.room)

	s.markRead()
	return s, nil
}

func (s *Session) ChatID() string { return s.chatID }

func (s *Session) onMessage(env models.Envelope) {
	var ev models.MessageEvent
	if err := env.Decode(&ev); err != nil || ev.ChatID != s.chatID {
		return
	}
	if ev.Message.SenderID == s.self.ID {
		return
	}
	if s.merge([]models.ChatMessage{ev.Message}) > 0 {
		s.markRead()
	}
}

func (s *Session) onTyping(env models.Envelope) {
	var p models.TypingPayload
	if err := env.Decode(&p); err != nil || p.ChatID != s.chatID || p.UserID == s.self.ID {
		return
	}
	s.mu.Lock()
	if p.IsTyping {
		s.typing[p.UserID] = true
	} else {
		delete(s.typing, p.UserID)
	}
	s.mu.Unlock()
	s.notify()
}

// resync pulls the full chat after a reconnect to pick up messages broadcast
// while the connection was down.
func (s *Session) resync() {
	ctx, cancel := context.WithTimeout(context.Background(), markReadTimeout)
	defer cancel()
	chat, err := s.api.Chat(ctx, s.chatID)
	if err != nil {
		s.logger.Warn("chat resync failed", logx.Err(err))
		return
	}
	if s.merge(chat.Messages) > 0 {
		s.markRead()
	}
}

// merge appends the messages not yet held and returns how many were new.
func (s *Session) merge(msgs []models.ChatMessage) int {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return 0
	}
	added := 0
	for _, m := range msgs {
		if _, ok := s.ids[m.ID]; ok {
			continue
		}
		s.ids[m.ID] = struct{}{}
		s.messages = append(s.messages, m)
		added++
	}
	s.mu.Unlock()
	if added > 0 {
		s.notify()
	}
	return added
}

// Send posts content and appends the stored message once the server
// answered. Failures are returned to the caller and nothing is appended.
func (s *Session) Send(ctx context.Context, content string) (models.ChatMessage, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return models.ChatMessage{}, apperr.ErrInvalid
	}
	msg, err := s.api.SendMessage(ctx, s.chatID, content)
	if err != nil {
		return models.ChatMessage{}, err
	}
	s.merge([]models.ChatMessage{msg})
	s.StopTyping()
	return msg, nil
}

// Typing is called on every keystroke. typing=true goes out each time;
// typing=false follows once no keystroke came for the idle period.
func (s *Session) Typing() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.selfTyping = true
	if s.typingTimer != nil {
		s.typingTimer.Stop()
	}
	s.typingTimer = time.AfterFunc(s.typingIdle, s.StopTyping)
	s.mu.Unlock()

	s.emitTyping(true)
}

// StopTyping sends typing=false if typing=true was the last state sent.
func (s *Session) StopTyping() {
	s.mu.Lock()
	if !s.selfTyping {
		s.mu.Unlock()
		return
	}
	s.selfTyping = false
	if s.typingTimer != nil {
		s.typingTimer.Stop()
		s.typingTimer = nil
	}
	s.mu.Unlock()

	s.emitTyping(false)
}

func (s *Session) emitTyping(on bool) {
	err := s.ch.Emit(models.EventTyping, models.TypingPayload{ChatID: s.chatID, UserID: s.self.ID, IsTyping: on})
	if err != nil {
		s.logger.Debug("typing not sent", logx.Err(err))
	}
}

// markRead fires a read receipt for a non-empty open chat. Its outcome is
// only logged.
func (s *Session) markRead() {
	s.mu.Lock()
	skip := s.closed || len(s.messages) == 0
	s.mu.Unlock()
	if skip {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), markReadTimeout)
		defer cancel()
		if _, err := s.api.MarkRead(ctx, s.chatID); err != nil {
			s.logger.Debug("mark read failed", logx.Err(err))
		}
	}()
}

func (s *Session) notify() {
	select {
	case s.changed <- struct{}{}:
	default:
	}
}

func (s *Session) Changed() <-chan struct{} {
	return s.changed
}

func (s *Session) Messages() []models.ChatMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.ChatMessage(nil), s.messages...)
}

// Typers lists the other participants currently typing.
func (s *Session) Typers() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.typing))
	for id := range s.typing {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// Close leaves the chat room. Rooms other views hold stay joined.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		s.StopTyping()
		s.mu.Lock()
		s.closed = true
		s.mu.Unlock()
		s.sub.Close()
		s.ch.LeaveRoom(s.room)
	})
}
