// Package chat is the REST side of the per-delivery chat between a customer
// and the courier carrying their shop order.
package chat

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"food-delivery/dispatch/apperr"
	"food-delivery/dispatch/logx"
	"food-delivery/dispatch/models"
	"food-delivery/dispatch/store"
)

type Emitter interface {
	Emit(event string, payload any, rooms ...models.Room)
}

// OrderReader is the part of the order store chats need.
type OrderReader interface {
	Get(ctx context.Context, id string) (models.Order, error)
}

type Service struct {
	chats    *store.Chats
	orders   OrderReader
	emitter  Emitter
	logger   logx.Logger
	validate *validator.Validate
	now      func() time.Time
}

func NewService(chats *store.Chats, orders OrderReader, emitter Emitter, logger logx.Logger) *Service {
	return &Service{
		chats:    chats,
		orders:   orders,
		emitter:  emitter,
		logger:   logger,
		validate: validator.New(),
		now:      time.Now,
	}
}

type SendRequest struct {
	Content string `json:"content" validate:"required,max=2000"`
}

// GetOrCreate opens the chat of a shop order. Only the customer and the
// assigned courier take part; before a courier is assigned there is nobody
// to talk to.
func (s *Service) GetOrCreate(ctx context.Context, id models.Identity, orderID, shopOrderID string) (models.Chat, error) {
	o, err := s.orders.Get(ctx, orderID)
	if err != nil {
		return models.Chat{}, err
	}
	so, ok := o.ShopOrder(shopOrderID)
	if !ok {
		return models.Chat{}, apperr.ErrNotFound
	}
	courier := so.AssignedCourier
	if id.ID != o.CustomerID && (courier == nil || id.ID != courier.ID) {
		return models.Chat{}, apperr.ErrForbidden
	}
	if courier == nil {
		return models.Chat{}, fmt.Errorf("no courier assigned yet: %w", apperr.ErrConflict)
	}

	c, err := s.chats.GetOrCreate(ctx, orderID, shopOrderID, func() models.Chat {
		return models.Chat{
			ID:           uuid.NewString(),
			Participants: []string{o.CustomerID, courier.ID},
			CreatedAt:    s.now().UTC(),
		}
	})
	if err != nil {
		return models.Chat{}, err
	}
	if !c.HasParticipant(courier.ID) {
		if err := s.chats.AddParticipant(ctx, c.ID, courier.ID); err != nil {
			return models.Chat{}, err
		}
		c.Participants = append(c.Participants, courier.ID)
	}
	return c, nil
}

func (s *Service) Get(ctx context.Context, id models.Identity, chatID string) (models.Chat, error) {
	c, err := s.chats.Get(ctx, chatID)
	if err != nil {
		return models.Chat{}, err
	}
	if !c.HasParticipant(id.ID) {
		return models.Chat{}, apperr.ErrForbidden
	}
	return c, nil
}

// CanJoin gates joins of the chat room.
func (s *Service) CanJoin(ctx context.Context, id models.Identity, chatID string) error {
	_, err := s.Get(ctx, id, chatID)
	return err
}

// Send stores a message and pushes it to the chat room and to the identity
// rooms of the other participants, so a closed chat panel still hears it.
func (s *Service) Send(ctx context.Context, id models.Identity, chatID string, req SendRequest) (models.ChatMessage, error) {
	req.Content = strings.TrimSpace(req.Content)
	if err := s.validate.Struct(req); err != nil {
		return models.ChatMessage{}, fmt.Errorf("%w: %v", apperr.ErrInvalid, err)
	}
	c, err := s.Get(ctx, id, chatID)
	if err != nil {
		return models.ChatMessage{}, err
	}

	msg := models.ChatMessage{
		ID:        uuid.NewString(),
		ChatID:    c.ID,
		SenderID:  id.ID,
		Content:   req.Content,
		CreatedAt: s.now().UTC(),
	}
	if err := s.chats.Append(ctx, c.ID, msg); err != nil {
		return models.ChatMessage{}, err
	}

	rooms := []models.Room{models.ChatRoom(c.ID)}
	for _, p := range c.Participants {
		if p != id.ID {
			rooms = append(rooms, models.UserRoom(p))
		}
	}
	s.emitter.Emit(models.EventNewMessage, models.MessageEvent{
		ChatID:   c.ID,
		SenderID: id.ID,
		Message:  msg,
	}, rooms...)

	s.logger.Debug("chat message sent",
		logx.String("chat_id", c.ID),
		logx.String("sender_id", id.ID),
	)
	return msg, nil
}

// MarkRead marks every message id did not send as read by id.
func (s *Service) MarkRead(ctx context.Context, id models.Identity, chatID string) (int, error) {
	if _, err := s.Get(ctx, id, chatID); err != nil {
		return 0, err
	}
	return s.chats.MarkRead(ctx, chatID, id.ID)
}
