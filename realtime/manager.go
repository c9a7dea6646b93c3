// Package realtime is the client end of the shared websocket: one connection
// per signed in session, carrying every room the application is viewing.
package realtime

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"food-delivery/dispatch/apperr"
	"food-delivery/dispatch/logx"
	"food-delivery/dispatch/models"
)

// EventConnect is dispatched locally after every (re)connect, once the rooms
// have been joined again. Views use it to refetch what they missed.
const EventConnect = "connect"

var (
	// ErrSuperseded means a newer connection of the same session replaced this one.
	ErrSuperseded = errors.New("connection superseded")
	// ErrSignedOut means the server ended the session.
	ErrSignedOut = errors.New("session signed out")
)

// Transport dials one physical link.
type Transport interface {
	Dial(ctx context.Context, token string) (Link, error)
}

// Link is a dialled connection. ReadEnvelope blocks until a frame arrives or
// the link fails; it is only called from one goroutine.
type Link interface {
	ReadEnvelope() (models.Envelope, error)
	WriteEnvelope(env models.Envelope) error
	Close() error
}

type Config struct {
	ReconnectDelay    time.Duration
	MaxReconnectDelay time.Duration
}

type Manager struct {
	transport Transport
	cfg       Config
	logger    logx.Logger

	mu         sync.Mutex
	roomMu     sync.Mutex
	writeMu    sync.Mutex
	identity   *models.Identity
	link       Link
	connected  bool
	rooms      map[string]*roomRef
	handlers   map[string]map[string]Handler
	cancel     context.CancelFunc
	done       chan struct{}
	terminated func(error)
}

type roomRef struct {
	room models.Room
	refs int
}

func NewManager(t Transport, cfg Config, logger logx.Logger) *Manager {
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = 500 * time.Millisecond
	}
	if cfg.MaxReconnectDelay < cfg.ReconnectDelay {
		cfg.MaxReconnectDelay = cfg.ReconnectDelay
	}
	return &Manager{
		transport: t,
		cfg:       cfg,
		logger:    logger,
		rooms:     make(map[string]*roomRef),
		handlers:  make(map[string]map[string]Handler),
	}
}

// OnTerminated registers fn to learn why the connection stopped for good:
// ErrSuperseded, ErrSignedOut or an apperr.ErrUnauthorized dial failure.
func (m *Manager) OnTerminated(fn func(error)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.terminated = fn
}

// Connect opens the connection for id and keeps it open, reconnecting with
// backoff, until Disconnect. Connecting the session that is already connected
// is a no-op; a different session replaces the current one.
func (m *Manager) Connect(ctx context.Context, id models.Identity, token string) error {
	if id.ID == "" || token == "" {
		return fmt.Errorf("connect: %w", apperr.ErrUnauthorized)
	}
	m.mu.Lock()
	if m.identity != nil && m.identity.SessionID == id.SessionID && m.cancel != nil {
		m.mu.Unlock()
		return nil
	}
	m.mu.Unlock()
	m.Disconnect()

	loopCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	done := make(chan struct{})

	m.mu.Lock()
	m.identity = &id
	m.cancel = cancel
	m.done = done
	m.mu.Unlock()

	go m.run(loopCtx, id, token, done)
	return nil
}

// Disconnect closes the connection and forgets every room. It returns after
// the reconnect loop has stopped, so it must not be called from a handler.
func (m *Manager) Disconnect() {
	m.mu.Lock()
	cancel, done, link := m.cancel, m.done, m.link
	m.cancel, m.done = nil, nil
	m.identity = nil
	m.link = nil
	m.connected = false
	m.rooms = make(map[string]*roomRef)
	m.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	if link != nil {
		_ = link.Close()
	}
	<-done
}

// Connected is the connectivity flag views fall back to polling on.
func (m *Manager) Connected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connected
}

// JoinRoom adds one reference to room. The join frame goes out on the first
// reference only; identity rooms are always joined and need no reference.
func (m *Manager) JoinRoom(room models.Room) {
	if room.IsIdentity() {
		return
	}
	m.roomMu.Lock()
	defer m.roomMu.Unlock()

	m.mu.Lock()
	ref, ok := m.rooms[room.Name()]
	if ok {
		ref.refs++
		m.mu.Unlock()
		return
	}
	m.rooms[room.Name()] = &roomRef{room: room, refs: 1}
	link := m.liveLinkLocked()
	m.mu.Unlock()

	if link != nil {
		m.send(link, room.JoinEvent(), models.JoinPayload{ID: room.ID})
	}
}

// LeaveRoom drops one reference; the leave frame goes out with the last one.
func (m *Manager) LeaveRoom(room models.Room) {
	m.roomMu.Lock()
	defer m.roomMu.Unlock()

	m.mu.Lock()
	ref, ok := m.rooms[room.Name()]
	if !ok {
		m.mu.Unlock()
		return
	}
	if ref.refs--; ref.refs > 0 {
		m.mu.Unlock()
		return
	}
	delete(m.rooms, room.Name())
	link := m.liveLinkLocked()
	m.mu.Unlock()

	if link != nil {
		m.send(link, room.LeaveEvent(), models.JoinPayload{ID: room.ID})
	}
}

func (m *Manager) liveLinkLocked() Link {
	if !m.connected {
		return nil
	}
	return m.link
}

// Rooms lists the rooms that are replayed on reconnect, identity rooms first.
func (m *Manager) Rooms() []models.Room {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.roomsLocked()
}

func (m *Manager) roomsLocked() []models.Room {
	var out []models.Room
	if m.identity != nil {
		out = append(out, m.identity.IdentityRooms()...)
	}
	names := make([]string, 0, len(m.rooms))
	for name := range m.rooms {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		out = append(out, m.rooms[name].room)
	}
	return out
}

// Emit sends one frame. It fails with apperr.ErrNotConnected while the link
// is down; nothing is queued.
func (m *Manager) Emit(event string, payload any) error {
	m.mu.Lock()
	link, connected := m.link, m.connected
	m.mu.Unlock()
	if !connected || link == nil {
		return apperr.ErrNotConnected
	}
	return m.write(link, event, payload)
}

func (m *Manager) write(link Link, event string, payload any) error {
	env, err := models.NewEnvelope(event, payload)
	if err != nil {
		return fmt.Errorf("encode %s: %w", event, err)
	}
	m.writeMu.Lock()
	defer m.writeMu.Unlock()
	return link.WriteEnvelope(env)
}

func (m *Manager) send(link Link, event string, payload any) {
	if err := m.write(link, event, payload); err != nil {
		m.logger.Warn("realtime send failed", logx.String("event", event), logx.Err(err))
	}
}

func (m *Manager) run(ctx context.Context, id models.Identity, token string, done chan struct{}) {
	defer close(done)
	delay := m.cfg.ReconnectDelay

	for {
		link, err := m.transport.Dial(ctx, token)
		if err == nil {
			delay = m.cfg.ReconnectDelay
			err = m.serve(ctx, link)
		}
		if ctx.Err() != nil {
			return
		}
		if errors.Is(err, ErrSuperseded) || errors.Is(err, ErrSignedOut) || errors.Is(err, apperr.ErrUnauthorized) {
			m.logger.Info("realtime session ended", logx.String("user_id", id.ID), logx.Err(err))
			m.terminate(err, done)
			return
		}
		m.logger.Warn("realtime connection lost",
			logx.String("user_id", id.ID),
			logx.Duration("retry_in", delay),
			logx.Err(err),
		)

		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}
		if delay *= 2; delay > m.cfg.MaxReconnectDelay {
			delay = m.cfg.MaxReconnectDelay
		}
	}
}

// serve replays the rooms on link and reads it until it fails.
func (m *Manager) serve(ctx context.Context, link Link) error {
	m.mu.Lock()
	if ctx.Err() != nil {
		m.mu.Unlock()
		_ = link.Close()
		return ctx.Err()
	}
	for _, room := range m.roomsLocked() {
		if err := m.write(link, room.JoinEvent(), models.JoinPayload{ID: room.ID}); err != nil {
			m.mu.Unlock()
			_ = link.Close()
			return fmt.Errorf("rejoin %s: %w", room, err)
		}
	}
	m.link = link
	m.connected = true
	m.mu.Unlock()

	m.dispatch(models.Envelope{Event: EventConnect})

	defer func() {
		m.mu.Lock()
		if m.link == link {
			m.link = nil
			m.connected = false
		}
		m.mu.Unlock()
		_ = link.Close()
	}()

	for {
		env, err := link.ReadEnvelope()
		if err != nil {
			return err
		}
		m.dispatch(env)
	}
}

func (m *Manager) terminate(err error, done chan struct{}) {
	m.mu.Lock()
	if m.done != done {
		m.mu.Unlock()
		return
	}
	fn := m.terminated
	m.identity = nil
	m.cancel = nil
	m.done = nil
	m.rooms = make(map[string]*roomRef)
	m.mu.Unlock()
	if fn != nil {
		fn(err)
	}
}
