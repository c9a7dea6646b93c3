// Package realtimetest provides an in-memory Transport for tests of code that
// sits on a realtime.Manager.
package realtimetest

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"food-delivery/dispatch/logx"
	"food-delivery/dispatch/models"
	"food-delivery/dispatch/realtime"
)

var errClosed = errors.New("link closed")

// Link is one dialled fake connection. Push plays the server side.
type Link struct {
	in     chan models.Envelope
	closed chan struct{}
	once   sync.Once

	mu      sync.Mutex
	sent    []models.Envelope
	reason  error
	gate    chan struct{}
	blocked chan struct{}
}

func newLink() *Link {
	return &Link{in: make(chan models.Envelope, 64), closed: make(chan struct{})}
}

func (l *Link) ReadEnvelope() (models.Envelope, error) {
	select {
	case env := <-l.in:
		return env, nil
	case <-l.closed:
		l.mu.Lock()
		defer l.mu.Unlock()
		if l.reason != nil {
			return models.Envelope{}, l.reason
		}
		return models.Envelope{}, errClosed
	}
}

func (l *Link) WriteEnvelope(env models.Envelope) error {
	l.mu.Lock()
	gate, blocked := l.gate, l.blocked
	l.mu.Unlock()
	if gate != nil {
		select {
		case blocked <- struct{}{}:
		default:
		}
		select {
		case <-gate:
		case <-l.closed:
		}
	}

	select {
	case <-l.closed:
		return errClosed
	default:
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.sent = append(l.sent, env)
	return nil
}

func (l *Link) Close() error {
	l.once.Do(func() { close(l.closed) })
	return nil
}

// Push delivers a server frame to the client.
func (l *Link) Push(tb testing.TB, event string, payload any) {
	tb.Helper()
	env, err := models.NewEnvelope(event, payload)
	if err != nil {
		tb.Fatalf("encode %s: %v", event, err)
	}
	l.in <- env
}

// Stall holds every following write until release is called, like a peer
// that stopped reading. blocked receives once per held write.
func (l *Link) Stall() (blocked <-chan struct{}, release func()) {
	gate := make(chan struct{})
	ch := make(chan struct{}, 16)
	l.mu.Lock()
	l.gate, l.blocked = gate, ch
	l.mu.Unlock()
	var once sync.Once
	return ch, func() {
		once.Do(func() {
			l.mu.Lock()
			l.gate, l.blocked = nil, nil
			l.mu.Unlock()
			close(gate)
		})
	}
}

// Drop fails the link as the network or the server would.
func (l *Link) Drop(reason error) {
	l.mu.Lock()
	l.reason = reason
	l.mu.Unlock()
	_ = l.Close()
}

// Sent lists the frames the client wrote.
func (l *Link) Sent() []models.Envelope {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]models.Envelope(nil), l.sent...)
}

// Frames renders the sent frames as "event id" using the join payload id.
func (l *Link) Frames() []string {
	sent := l.Sent()
	out := make([]string, 0, len(sent))
	for _, env := range sent {
		var p models.JoinPayload
		_ = env.Decode(&p)
		out = append(out, env.Event+" "+p.ID)
	}
	return out
}

// SentEvents returns the payloads of frames written for event.
func (l *Link) SentEvents(event string) []models.Envelope {
	var out []models.Envelope
	for _, env := range l.Sent() {
		if env.Event == event {
			out = append(out, env)
		}
	}
	return out
}

type Transport struct {
	dialed chan *Link

	mu    sync.Mutex
	links []*Link
	fail  error
}

func NewTransport() *Transport {
	return &Transport{dialed: make(chan *Link, 16)}
}

func (t *Transport) Dial(context.Context, string) (realtime.Link, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.fail != nil {
		return nil, t.fail
	}
	l := newLink()
	t.links = append(t.links, l)
	t.dialed <- l
	return l, nil
}

// FailWith makes every following dial fail with err; nil restores dialing.
func (t *Transport) FailWith(err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.fail = err
}

func (t *Transport) Dials() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.links)
}

// Next waits for the next dial.
func (t *Transport) Next(tb testing.TB) *Link {
	tb.Helper()
	select {
	case l := <-t.dialed:
		return l
	case <-time.After(2 * time.Second):
		tb.Fatal("no dial")
		return nil
	}
}

// Connect returns a manager connected as id over a fresh Transport. The
// manager is disconnected when the test ends.
func Connect(tb testing.TB, id models.Identity) (*realtime.Manager, *Transport, *Link) {
	tb.Helper()
	tr := NewTransport()
	m := realtime.NewManager(tr, realtime.Config{
		ReconnectDelay:    5 * time.Millisecond,
		MaxReconnectDelay: 20 * time.Millisecond,
	}, logx.Nop())
	if err := m.Connect(context.Background(), id, "token"); err != nil {
		tb.Fatalf("connect: %v", err)
	}
	tb.Cleanup(m.Disconnect)

	link := tr.Next(tb)
	deadline := time.Now().Add(2 * time.Second)
	for !m.Connected() {
		if time.Now().After(deadline) {
			tb.Fatal("manager did not connect")
		}
		time.Sleep(time.Millisecond)
	}
	return m, tr, link
}
