package models

import "encoding/json"

// Event names multiplexed over the realtime connection.
const (
	EventJoin            = "join"
	EventJoinDeliveryBoy = "join-delivery-boy"
	EventJoinOrder       = "join-order"
	EventLeaveOrder      = "leave-order"
	EventJoinChat        = "join-chat"
	EventLeaveChat       = "leave-chat"

	EventNewDeliveryAssignment = "new-delivery-assignment"
	EventNewOrder              = "new-order"
	EventOrderStatusUpdated    = "order-status-updated"
	EventDeliveryAccepted      = "delivery-accepted"
	EventOrderDelivered        = "order-delivered"
	EventDeliveryLocation      = "delivery-location-updated"
	EventUpdateLocation        = "update-location"
	EventNewMessage            = "new_message"
	EventTyping                = "typing"
	EventUserTyping            = "user-typing"
	EventDeliveryCompleted     = "delivery-completed"
	EventDeliveryCodeSent      = "delivery-code-sent"
	EventError                 = "error"
)

// Envelope is one frame on the wire.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// NewEnvelope marshals payload into an envelope.
func NewEnvelope(event string, payload any) (Envelope, error) {
	if payload == nil {
		return Envelope{Event: event}, nil
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, err
	}
	return Envelope{Event: event, Data: raw}, nil
}

// Decode unmarshals the envelope payload into v.
func (e Envelope) Decode(v any) error {
	if len(e.Data) == 0 {
		return nil
	}
	return json.Unmarshal(e.Data, v)
}

// JoinPayload is the argument of every join/leave event.
type JoinPayload struct {
	ID string `json:"id"`
}

// OrderEvent invalidates the snapshot of an order.
type OrderEvent struct {
	OrderID     string          `json:"order_id"`
	ShopOrderID string          `json:"shop_order_id,omitempty"`
	Status      ShopOrderStatus `json:"status,omitempty"`
	CourierID   string          `json:"courier_id,omitempty"`
}

// AssignmentEvent is informational; couriers re-pull the assignment list on receipt.
type AssignmentEvent struct {
	AssignmentID string `json:"assignment_id"`
	OrderID      string `json:"order_id"`
	ShopOrderID  string `json:"shop_order_id"`
}

// NewOrderEvent carries the summary shown in the owner's toast.
type NewOrderEvent struct {
	OrderID      string  `json:"order_id"`
	ShopOrderID  string  `json:"shop_order_id"`
	CustomerName string  `json:"customer_name"`
	ItemCount    int     `json:"item_count"`
	Subtotal     float64 `json:"subtotal"`
}

// UpdateLocationPayload is what the active courier pushes per geolocation fix.
type UpdateLocationPayload struct {
	OrderID   string  `json:"order_id"`
	CourierID string  `json:"courier_id"`
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Timestamp int64   `json:"timestamp,omitempty"`
}

// MessageEvent is the broadcast of a persisted chat message.
type MessageEvent struct {
	ChatID   string      `json:"chat_id"`
	SenderID string      `json:"sender_id"`
	Message  ChatMessage `json:"message"`
}

// TypingPayload is used for both typing (client→server) and user-typing (server→client).
type TypingPayload struct {
	ChatID   string `json:"chat_id"`
	UserID   string `json:"user_id"`
	IsTyping bool   `json:"is_typing"`
}

// DeliveryCompletedEvent triggers the courier's stats refresh.
type DeliveryCompletedEvent struct {
	OrderID     string `json:"order_id"`
	ShopOrderID string `json:"shop_order_id"`
}

// ErrorEvent answers a rejected client frame.
type ErrorEvent struct {
	Event   string `json:"event"`
	Message string `json:"message"`
}
