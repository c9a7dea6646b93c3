package store

import (
	"context"
	"sync"

	"food-delivery/dispatch/apperr"
	"food-delivery/dispatch/models"
)

type Chats struct {
	mu      sync.RWMutex
	chats   map[string]*models.Chat
	byOrder map[string]string
}

func NewChats() *Chats {
	return &Chats{
		chats:   make(map[string]*models.Chat),
		byOrder: make(map[string]string),
	}
}

// GetOrCreate returns the chat of (orderID, shopOrderID), storing newChat() if
// there is none yet.
func (s *Chats) GetOrCreate(_ context.Context, orderID, shopOrderID string, newChat func() models.Chat) (models.Chat, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := orderID + ":" + shopOrderID
	if id, ok := s.byOrder[key]; ok {
		return s.chats[id].Clone(), nil
	}
	c := newChat()
	c.OrderID = orderID
	c.ShopOrderID = shopOrderID
	s.chats[c.ID] = &c
	s.byOrder[key] = c.ID
	return c.Clone(), nil
}

func (s *Chats) Get(_ context.Context, id string) (models.Chat, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.chats[id]
	if !ok {
		return models.Chat{}, apperr.ErrNotFound
	}
	return c.Clone(), nil
}

// AddParticipant is used when a courier is assigned after the chat was opened.
func (s *Chats) AddParticipant(_ context.Context, id, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.chats[id]
	if !ok {
		return apperr.ErrNotFound
	}
	if !c.HasParticipant(userID) {
		c.Participants = append(c.Participants, userID)
	}
	return nil
}

func (s *Chats) Append(_ context.Context, id string, msg models.ChatMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.chats[id]
	if !ok {
		return apperr.ErrNotFound
	}
	for _, m := range c.Messages {
		if m.ID == msg.ID {
			return apperr.ErrConflict
		}
	}
	c.Messages = append(c.Messages, msg)
	return nil
}

// MarkRead adds userID to read_by of every message it did not send and returns
// how many changed.
func (s *Chats) MarkRead(_ context.Context, id, userID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.chats[id]
	if !ok {
		return 0, apperr.ErrNotFound
	}
	n := 0
	for i := range c.Messages {
		m := &c.Messages[i]
		if m.SenderID == userID || contains(m.ReadBy, userID) {
			continue
		}
		m.ReadBy = append(m.ReadBy, userID)
		n++
	}
	return n, nil
}

func contains(ss []string, s string) bool {
	for _, v := range ss {
		if v == s {
			return true
		}
	}
	return false
}
