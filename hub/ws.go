package hub

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"

	"food-delivery/dispatch/apperr"
	"food-delivery/dispatch/auth"
	"food-delivery/dispatch/logx"
	"food-delivery/dispatch/metrics"
	"food-delivery/dispatch/models"
)

const frameTimeout = 5 * time.Second

// Upgrade copies the authenticated identity into the websocket locals and
// rejects plain HTTP requests. It must run after auth.Issuer.Middleware.
func (h *Hub) Upgrade() fiber.Handler {
	return func(c *fiber.Ctx) error {
		if !websocket.IsWebSocketUpgrade(c) {
			return fiber.ErrUpgradeRequired
		}
		if _, err := auth.Identity(c); err != nil {
			return err
		}
		return c.Next()
	}
}

// Handler serves one connection until it closes.
func (h *Hub) Handler() fiber.Handler {
	return websocket.New(h.serve)
}

func (h *Hub) serve(conn *websocket.Conn) {
	id, ok := conn.Locals(auth.IdentityKey).(models.Identity)
	if !ok {
		return
	}
	c := newClient(id, conn, h.sendBuffer)
	log := h.logger.With(
		logx.String("user_id", id.ID),
		logx.String("role", string(id.Role)),
		logx.String("session_id", id.SessionID),
	)

	if prev := h.register(c); prev != nil {
		log.Info("connection superseded")
		prev.shutdown(closeSuperseded, "superseded by a new connection")
	}
	metrics.Connections.Inc()
	h.setOnline(id, true, log)
	log.Info("realtime connected")

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		c.writePump()
	}()

	defer func() {
		c.shutdown(websocket.CloseNormalClosure, "")
		<-writerDone
		metrics.Connections.Dec()
		if h.unregister(c) {
			h.setOnline(id, false, log)
		}
		log.Info("realtime disconnected")
	}()

	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		var env models.Envelope
		if err := conn.ReadJSON(&env); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Debug("read failed", logx.Err(err))
			}
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))
		h.handle(c, env, log)
	}
}

func (h *Hub) handle(c *client, env models.Envelope, log logx.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), frameTimeout)
	defer cancel()

	var err error
	switch env.Event {
	case models.EventJoin, models.EventJoinDeliveryBoy, models.EventJoinOrder, models.EventJoinChat:
		err = h.handleJoin(ctx, c, env)
	case models.EventLeaveOrder, models.EventLeaveChat:
		var p models.JoinPayload
		if err = env.Decode(&p); err == nil {
			if room, ok := models.RoomForJoin(env.Event, p.ID); ok {
				h.leave(c, room)
			}
		}
	case models.EventTyping:
		err = h.handleTyping(c, env)
	case models.EventUpdateLocation:
		err = h.handleLocation(ctx, c, env)
	default:
		err = apperr.ErrInvalid
	}

	if err != nil {
		log.Debug("frame rejected", logx.String("event", env.Event), logx.Err(err))
		c.reject(env.Event, err)
	}
}

func (h *Hub) handleJoin(ctx context.Context, c *client, env models.Envelope) error {
	var p models.JoinPayload
	if err := env.Decode(&p); err != nil {
		return apperr.ErrInvalid
	}
	room, ok := models.RoomForJoin(env.Event, p.ID)
	if !ok {
		return apperr.ErrInvalid
	}
	if err := h.authorize(ctx, c.id, room); err != nil {
		return err
	}
	h.join(c, room)
	return nil
}

func (h *Hub) authorize(ctx context.Context, id models.Identity, room models.Room) error {
	switch room.Kind {
	case models.RoomUser:
		if room.ID != id.ID {
			return apperr.ErrForbidden
		}
		return nil
	case models.RoomCourier:
		if room.ID != id.ID || id.Role != models.RoleCourier {
			return apperr.ErrForbidden
		}
		return nil
	case models.RoomOrder:
		if b := h.deps(); b.Orders != nil {
			return b.Orders.CanView(ctx, id, room.ID)
		}
	case models.RoomChat:
		if b := h.deps(); b.Chats != nil {
			return b.Chats.CanJoin(ctx, id, room.ID)
		}
	}
	return apperr.ErrForbidden
}

func (h *Hub) handleTyping(c *client, env models.Envelope) error {
	var p models.TypingPayload
	if err := env.Decode(&p); err != nil || p.ChatID == "" {
		return apperr.ErrInvalid
	}
	room := models.ChatRoom(p.ChatID)
	if !h.isMember(c, room) {
		return apperr.ErrForbidden
	}
	p.UserID = c.id.ID
	h.EmitExcept(c.id.SessionID, models.EventUserTyping, p, room)
	return nil
}

func (h *Hub) handleLocation(ctx context.Context, c *client, env models.Envelope) error {
	if c.id.Role != models.RoleCourier {
		return apperr.ErrForbidden
	}
	var p models.UpdateLocationPayload
	if err := env.Decode(&p); err != nil {
		return apperr.ErrInvalid
	}
	sink := h.deps().Location
	if sink == nil {
		return errors.New("location ingestion unavailable")
	}
	return sink.Ingest(ctx, c.id, p)
}

func (h *Hub) setOnline(id models.Identity, online bool, log logx.Logger) {
	sink := h.deps().Location
	if sink == nil || id.Role != models.RoleCourier {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), frameTimeout)
	defer cancel()
	if err := sink.SetOnline(ctx, id, online); err != nil {
		log.Warn("presence update failed", logx.Bool("online", online), logx.Err(err))
	}
}

func (c *client) reject(event string, err error) {
	env, encErr := models.NewEnvelope(models.EventError, models.ErrorEvent{
		Event:   event,
		Message: err.Error(),
	})
	if encErr != nil {
		return
	}
	if frame, encErr := json.Marshal(env); encErr == nil {
		c.enqueue(frame)
	}
}
