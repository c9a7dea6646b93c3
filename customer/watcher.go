package main

import (
	"context"

	"food-delivery/dispatch/chatroom"
	"food-delivery/dispatch/logx"
	"food-delivery/dispatch/models"
	"food-delivery/dispatch/simulator"
	"food-delivery/dispatch/tracking"
)

// watcher renders tracker views as log lines and keeps one chat open per
// shop order while its courier is on the way.
type watcher struct {
	api      chatroom.API
	ch       chatroom.Channel
	self     models.Identity
	greeting string
	logger   logx.Logger

	phases map[string]tracking.Phase
	chats  map[string]*chatroom.Session
}

func newWatcher(c *simulator.Client, greeting string, logger logx.Logger) *watcher {
	return &watcher{
		api:      c.API,
		ch:       c.Conn,
		self:     c.Identity,
		greeting: greeting,
		logger:   logger,
		phases:   make(map[string]tracking.Phase),
		chats:    make(map[string]*chatroom.Session),
	}
}

// Render reports whether every shop order of the view is delivered.
func (w *watcher) Render(ctx context.Context, v tracking.View) bool {
	if v.Err != nil {
		w.logger.Warn("order view stale", logx.Err(v.Err))
	}
	if v.Order == nil || len(v.Lines) == 0 {
		return false
	}

	delivered := true
	for _, line := range v.Lines {
		log := w.logger.With(logx.String("shop_order_id", line.ShopOrderID))
		if w.phases[line.ShopOrderID] != line.Phase {
			w.phases[line.ShopOrderID] = line.Phase
			fields := []logx.Field{logx.String("phase", string(line.Phase)), logx.String("status", string(line.Status))}
			if line.Courier != nil {
				fields = append(fields, logx.String("courier", line.Courier.FullName))
			}
			log.Info("shop order update", fields...)
		}

		switch line.Phase {
		case tracking.AssignedEnRoute:
			delivered = false
			if line.Position != nil {
				log.Info("courier position",
					logx.Float64("lat", line.Position.Lat),
					logx.Float64("lon", line.Position.Lon),
					logx.Float64("distance_km", line.DistanceKm),
				)
			}
			w.openChat(ctx, v.OrderID, line.ShopOrderID)
		case tracking.Delivered:
			w.closeChat(line.ShopOrderID)
		default:
			delivered = false
		}
	}
	return delivered
}

func (w *watcher) openChat(ctx context.Context, orderID, shopOrderID string) {
	if _, ok := w.chats[shopOrderID]; ok {
		return
	}
	s, err := chatroom.Open(ctx, w.api, w.ch, w.self, orderID, shopOrderID, chatroom.Options{
		Logger: w.logger.With(logx.String("component", "chat")),
	})
	if err != nil {
		w.logger.Warn("chat not available yet", logx.String("shop_order_id", shopOrderID), logx.Err(err))
		return
	}
	w.chats[shopOrderID] = s
	go w.follow(ctx, s)

	if w.greeting == "" {
		return
	}
	s.Typing()
	if _, err := s.Send(ctx, w.greeting); err != nil {
		w.logger.Warn("greeting not sent", logx.Err(err))
	}
}

// follow logs messages from the other side as they arrive.
func (w *watcher) follow(ctx context.Context, s *chatroom.Session) {
	seen := make(map[string]struct{})
	for {
		for _, m := range s.Messages() {
			if _, ok := seen[m.ID]; ok {
				continue
			}
			seen[m.ID] = struct{}{}
			if m.SenderID != w.self.ID {
				w.logger.Info("chat message", logx.String("from", m.SenderID), logx.String("content", m.Content))
			}
		}
		select {
		case <-ctx.Done():
			return
		case <-s.Changed():
		}
	}
}

func (w *watcher) closeChat(shopOrderID string) {
	if s, ok := w.chats[shopOrderID]; ok {
		s.Close()
		delete(w.chats, shopOrderID)
	}
}

func (w *watcher) Close() {
	for id := range w.chats {
		w.closeChat(id)
	}
}
