// Package hub is the server end of the realtime connection: one websocket per
// login session, multiplexing rooms for identities, orders and chats.
package hub

import (
	"context"
	"encoding/json"
	"sync"

	"food-delivery/dispatch/logx"
	"food-delivery/dispatch/metrics"
	"food-delivery/dispatch/models"
)

// OrderAccess decides who may join an order room.
type OrderAccess interface {
	CanView(ctx context.Context, id models.Identity, orderID string) error
}

// ChatAccess decides who may join a chat room.
type ChatAccess interface {
	CanJoin(ctx context.Context, id models.Identity, chatID string) error
}

// LocationSink receives courier positions and connection presence.
type LocationSink interface {
	Ingest(ctx context.Context, id models.Identity, p models.UpdateLocationPayload) error
	SetOnline(ctx context.Context, id models.Identity, online bool) error
}

// Backends are bound after construction because the services they name
// publish through the hub themselves.
type Backends struct {
	Orders   OrderAccess
	Chats    ChatAccess
	Location LocationSink
}

type Hub struct {
	logger     logx.Logger
	sendBuffer int

	mu       sync.RWMutex
	backends Backends
	sessions map[string]*client
	rooms    map[string]map[*client]struct{}
}

func New(logger logx.Logger, sendBuffer int) *Hub {
	if sendBuffer <= 0 {
		sendBuffer = 64
	}
	return &Hub{
		logger:     logger,
		sendBuffer: sendBuffer,
		sessions:   make(map[string]*client),
		rooms:      make(map[string]map[*client]struct{}),
	}
}

func (h *Hub) Bind(b Backends) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.backends = b
}

func (h *Hub) deps() Backends {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.backends
}

// Emit delivers one frame to every connection in any of rooms. A connection
// that belongs to several of the rooms receives the frame once.
func (h *Hub) Emit(event string, payload any, rooms ...models.Room) {
	h.emit("", event, payload, rooms)
}

// EmitExcept is Emit skipping the connection of one session.
func (h *Hub) EmitExcept(sessionID, event string, payload any, rooms ...models.Room) {
	h.emit(sessionID, event, payload, rooms)
}

func (h *Hub) emit(skipSession, event string, payload any, rooms []models.Room) {
	env, err := models.NewEnvelope(event, payload)
	if err != nil {
		h.logger.Error("encode event", logx.String("event", event), logx.Err(err))
		return
	}
	frame, err := json.Marshal(env)
	if err != nil {
		h.logger.Error("encode frame", logx.String("event", event), logx.Err(err))
		return
	}

	h.mu.RLock()
	targets := make(map[*client]struct{})
	for _, r := range rooms {
		for c := range h.rooms[r.Name()] {
			if c.id.SessionID != skipSession {
				targets[c] = struct{}{}
			}
		}
	}
	h.mu.RUnlock()

	for c := range targets {
		if !c.enqueue(frame) {
			metrics.DroppedFrames.Inc()
			h.logger.Debug("frame dropped",
				logx.String("event", event),
				logx.String("user_id", c.id.ID),
			)
		}
	}
}

// CloseSession drops the live connection of sessionID, if any.
func (h *Hub) CloseSession(sessionID string) {
	h.mu.RLock()
	c := h.sessions[sessionID]
	h.mu.RUnlock()
	if c != nil {
		c.shutdown(closeSignedOut, "signed out")
	}
}

// Members is the number of connections in room.
func (h *Hub) Members(room models.Room) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[room.Name()])
}

// Online reports whether userID has at least one live connection.
func (h *Hub) Online(userID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.onlineLocked(userID)
}

func (h *Hub) onlineLocked(userID string) bool {
	for _, c := range h.sessions {
		if c.id.ID == userID {
			return true
		}
	}
	return false
}

// register makes c the session's connection and returns the one it replaces.
func (h *Hub) register(c *client) *client {
	h.mu.Lock()
	defer h.mu.Unlock()

	prev := h.sessions[c.id.SessionID]
	if prev != nil {
		h.dropLocked(prev)
	}
	h.sessions[c.id.SessionID] = c
	return prev
}

// unregister removes c and reports whether its user has no connection left.
func (h *Hub) unregister(c *client) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.sessions[c.id.SessionID] == c {
		delete(h.sessions, c.id.SessionID)
	}
	h.dropLocked(c)
	return !h.onlineLocked(c.id.ID)
}

func (h *Hub) dropLocked(c *client) {
	for name := range c.rooms {
		h.leaveLocked(c, name)
	}
}

func (h *Hub) join(c *client, room models.Room) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.sessions[c.id.SessionID] != c {
		return
	}
	name := room.Name()
	members, ok := h.rooms[name]
	if !ok {
		members = make(map[*client]struct{})
		h.rooms[name] = members
	}
	members[c] = struct{}{}
	c.rooms[name] = struct{}{}
}

func (h *Hub) leave(c *client, room models.Room) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.leaveLocked(c, room.Name())
}

func (h *Hub) leaveLocked(c *client, name string) {
	delete(c.rooms, name)
	if members, ok := h.rooms[name]; ok {
		delete(members, c)
		if len(members) == 0 {
			delete(h.rooms, name)
		}
	}
}

func (h *Hub) isMember(c *client, room models.Room) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := c.rooms[room.Name()]
	return ok
}
