package models

import "strings"

type RoomKind string

const (
	RoomUser    RoomKind = "user"
	RoomCourier RoomKind = "deliveryboy"
	RoomOrder   RoomKind = "order"
	RoomChat    RoomKind = "chat"
)

// Room is a named subscription scope on the shared connection.
type Room struct {
	Kind RoomKind
	ID   string
}

func UserRoom(userID string) Room { return Room{Kind: RoomUser, ID: userID} }
func CourierRoom(userID string) Room { return Room{Kind: RoomCourier, ID: userID} }
func OrderRoom(orderID string) Room { return Room{Kind: RoomOrder, ID: orderID} }
func ChatRoom(chatID string) Room { return Room{Kind: RoomChat, ID: chatID} }

// Name is the room key used by the server, e.g. "order:42".
func (r Room) Name() string {
	return string(r.Kind) + ":" + r.ID
}

func (r Room) String() string { return r.Name() }

// ParseRoom is the inverse of Name.
func ParseRoom(name string) (Room, bool) {
	kind, id, ok := strings.Cut(name, ":")
	if !ok || id == "" {
		return Room{}, false
	}
	switch RoomKind(kind) {
	case RoomUser, RoomCourier, RoomOrder, RoomChat:
		return Room{Kind: RoomKind(kind), ID: id}, true
	}
	return Room{}, false
}

// Identity rooms are joined once per connection and never left explicitly.
func (r Room) IsIdentity() bool {
	return r.Kind == RoomUser || r.Kind == RoomCourier
}

// JoinEvent is the client→server event that subscribes to the room.
func (r Room) JoinEvent() string {
	switch r.Kind {
	case RoomUser:
		return EventJoin
	case RoomCourier:
		return EventJoinDeliveryBoy
	case RoomOrder:
		return EventJoinOrder
	case RoomChat:
		return EventJoinChat
	}
	return ""
}

// LeaveEvent is empty for identity rooms.
func (r Room) LeaveEvent() string {
	switch r.Kind {
	case RoomOrder:
		return EventLeaveOrder
	case RoomChat:
		return EventLeaveChat
	}
	return ""
}

// RoomForJoin resolves a join/leave event and its id argument to a room.
func RoomForJoin(event, id string) (Room, bool) {
	if id == "" {
		return Room{}, false
	}
	switch event {
	case EventJoin:
		return UserRoom(id), true
	case EventJoinDeliveryBoy:
		return CourierRoom(id), true
	case EventJoinOrder, EventLeaveOrder:
		return OrderRoom(id), true
	case EventJoinChat, EventLeaveChat:
		return ChatRoom(id), true
	}
	return Room{}, false
}
