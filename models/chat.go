package models

import "time"

type Chat struct {
	ID           string        `json:"id"`
	OrderID      string        `json:"order_id"`
	ShopOrderID  string        `json:"shop_order_id"`
	Participants []string      `json:"participants"`
	Messages     []ChatMessage `json:"messages"`
	CreatedAt    time.Time     `json:"created_at"`
}

// HasParticipant reports whether userID may read and write this chat.
func (c Chat) HasParticipant(userID string) bool {
	for _, p := range c.Participants {
		if p == userID {
			return true
		}
	}
	return false
}

func (c Chat) Clone() Chat {
	out := c
	out.Participants = append([]string(nil), c.Participants...)
	out.Messages = make([]ChatMessage, len(c.Messages))
	for i, m := range c.Messages {
		m.ReadBy = append([]string(nil), m.ReadBy...)
		out.Messages[i] = m
	}
	return out
}

type ChatMessage struct {
	ID        string    `json:"id"`
	ChatID    string    `json:"chat_id"`
	SenderID  string    `json:"sender_id"`
	Content   string    `json:"content"`
	ReadBy    []string  `json:"read_by,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// DeliveryCode is the one-time code gating the delivered transition.
type DeliveryCode struct {
	OrderID     string    `json:"order_id"`
	ShopOrderID string    `json:"shop_order_id"`
	Code        string    `json:"code"`
	ExpiresAt   time.Time `json:"expires_at"`
}
