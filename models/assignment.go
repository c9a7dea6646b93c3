package models

import "time"

type AssignmentStatus string

const (
	AssignmentOpen     AssignmentStatus = "open"
	AssignmentAccepted AssignmentStatus = "accepted"
	AssignmentExpired  AssignmentStatus = "expired"
)

// Assignment is the offer of one ShopOrder's delivery to a pool of couriers.
type Assignment struct {
	ID              string           `json:"assignment_id"`
	OrderID         string           `json:"order_id"`
	ShopOrderID     string           `json:"shop_order_id"`
	ShopName        string           `json:"shop_name,omitempty"`
	DeliveryAddress Address          `json:"delivery_address"`
	Subtotal        float64          `json:"subtotal"`
	ItemCount       int              `json:"item_count"`
	Candidates      []string         `json:"candidates"`
	AcceptedBy      string           `json:"accepted_by,omitempty"`
	Status          AssignmentStatus `json:"status"`
	Round           int              `json:"round"`
	RadiusKm        float64          `json:"radius_km"`
	CreatedAt       time.Time        `json:"created_at"`
	ExpiresAt       time.Time        `json:"expires_at"`
}

// HasCandidate reports whether courierID was offered this assignment.
func (a Assignment) HasCandidate(courierID string) bool {
	for _, c := range a.Candidates {
		if c == courierID {
			return true
		}
	}
	return false
}

func (a Assignment) Clone() Assignment {
	out := a
	out.Candidates = append([]string(nil), a.Candidates...)
	return out
}
