package models

import "time"

type ShopOrderStatus string

const (
	StatusPending        ShopOrderStatus = "pending"
	StatusPreparing      ShopOrderStatus = "preparing"
	StatusOutForDelivery ShopOrderStatus = "out_for_delivery"
	StatusDelivered      ShopOrderStatus = "delivered"
)

var statusRank = map[ShopOrderStatus]int{
	StatusPending:        0,
	StatusPreparing:      1,
	StatusOutForDelivery: 2,
	StatusDelivered:      3,
}

// Valid reports whether s is a known status.
func (s ShopOrderStatus) Valid() bool {
	_, ok := statusRank[s]
	return ok
}

// CanAdvanceTo reports whether moving from s to next is a forward step.
func (s ShopOrderStatus) CanAdvanceTo(next ShopOrderStatus) bool {
	cur, ok := statusRank[s]
	if !ok {
		return false
	}
	nxt, ok := statusRank[next]
	return ok && nxt > cur
}

type Order struct {
	ID              string      `json:"id"`
	CustomerID      string      `json:"customer_id"`
	CustomerName    string      `json:"customer_name,omitempty"`
	DeliveryAddress Address     `json:"delivery_address"`
	PaymentMethod   string      `json:"payment_method"`
	TotalAmount     float64     `json:"total_amount"`
	ShopOrders      []ShopOrder `json:"shop_orders"`
	CreatedAt       time.Time   `json:"created_at"`
	UpdatedAt       time.Time   `json:"updated_at"`
}

// ShopOrder returns the line with the given id.
func (o *Order) ShopOrder(id string) (*ShopOrder, bool) {
	for i := range o.ShopOrders {
		if o.ShopOrders[i].ID == id {
			return &o.ShopOrders[i], true
		}
	}
	return nil, false
}

// Clone returns a deep copy safe to hand out of a store.
func (o Order) Clone() Order {
	out := o
	out.ShopOrders = make([]ShopOrder, len(o.ShopOrders))
	for i, so := range o.ShopOrders {
		out.ShopOrders[i] = so.Clone()
	}
	return out
}

type ShopOrder struct {
	ID              string          `json:"id"`
	ShopID          string          `json:"shop_id"`
	ShopName        string          `json:"shop_name,omitempty"`
	OwnerID         string          `json:"owner_id"`
	Status          ShopOrderStatus `json:"status"`
	Items           []OrderItem     `json:"items"`
	Subtotal        float64         `json:"subtotal"`
	AssignedCourier *CourierRef     `json:"assigned_courier,omitempty"`
	AssignmentID    string          `json:"assignment_id,omitempty"`
	DeliveredAt     *time.Time      `json:"delivered_at,omitempty"`
}

func (so ShopOrder) Clone() ShopOrder {
	out := so
	out.Items = append([]OrderItem(nil), so.Items...)
	if so.AssignedCourier != nil {
		c := *so.AssignedCourier
		if c.Location != nil {
			p := *c.Location
			c.Location = &p
		}
		out.AssignedCourier = &c
	}
	if so.DeliveredAt != nil {
		t := *so.DeliveredAt
		out.DeliveredAt = &t
	}
	return out
}

type OrderItem struct {
	ItemID   string  `json:"item_id"`
	Name     string  `json:"name" validate:"required"`
	Quantity int     `json:"quantity" validate:"gt=0"`
	Price    float64 `json:"price" validate:"gte=0"`
}

type Address struct {
	Text      string  `json:"text" validate:"required"`
	Latitude  float64 `json:"latitude" validate:"gte=-90,lte=90"`
	Longitude float64 `json:"longitude" validate:"gte=-180,lte=180"`
}

// Point returns the address coordinates.
func (a Address) Point() Point {
	return Point{Lat: a.Latitude, Lon: a.Longitude}
}

type Point struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// CourierRef is the courier attached to a ShopOrder once an assignment is accepted.
type CourierRef struct {
	ID       string `json:"id"`
	FullName string `json:"full_name"`
	Mobile   string `json:"mobile,omitempty"`
	Location *Point `json:"location,omitempty"`
}
