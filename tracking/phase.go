package tracking

import "food-delivery/dispatch/models"

// Phase is what the customer sees of one ShopOrder.
type Phase string

const (
	AwaitingAssignment Phase = "awaiting_assignment"
	AssignedEnRoute    Phase = "assigned_en_route"
	Delivered          Phase = "delivered"
)

func PhaseOf(so models.ShopOrder) Phase {
	switch {
	case so.Status == models.StatusDelivered:
		return Delivered
	case so.AssignedCourier != nil:
		return AssignedEnRoute
	default:
		return AwaitingAssignment
	}
}
