// Package store holds the state the dispatch server coordinates on: orders,
// chats, courier presence, delivery codes and the assignment ledger.
//
// Orders and chats live in memory only. Presence, codes and the ledger have a
// Redis implementation so several server processes can share one authority.
package store

import (
	"context"
	"time"

	"food-delivery/dispatch/models"
)

// Ledger is the single authority on assignment state.
//
// Claim is the only way an assignment becomes accepted and it is atomic:
// among any number of concurrent claims for one open assignment, exactly one
// returns nil.
type Ledger interface {
	Create(ctx context.Context, a models.Assignment) error
	Get(ctx context.Context, id string) (models.Assignment, error)
	ListOpen(ctx context.Context) ([]models.Assignment, error)
	Claim(ctx context.Context, id, courierID string, now time.Time) (models.Assignment, error)
	Reoffer(ctx context.Context, a models.Assignment) error
	Expire(ctx context.Context, id string) (models.Assignment, error)
	Delete(ctx context.Context, id string) error
}

// Presence tracks courier availability and last known position.
type Presence interface {
	Get(ctx context.Context, courierID string) (models.CourierPresence, error)
	List(ctx context.Context) ([]models.CourierPresence, error)
	// Update applies fn to the record, creating an empty one first if needed.
	Update(ctx context.Context, courierID string, fn func(*models.CourierPresence)) (models.CourierPresence, error)
}

// Codes stores at most one live delivery code per shop order.
type Codes interface {
	Put(ctx context.Context, code models.DeliveryCode) error
	// Consume checks code and deletes it on a match. A mismatch leaves it in place.
	Consume(ctx context.Context, orderID, shopOrderID, code string, now time.Time) error
}

func assignmentKey(id string) string { return "assignment:" + id }
func candidatesKey(id string) string { return "assignment:" + id + ":candidates" }
func courierKey(id string) string { return "courier:" + id }
func codeKey(orderID, soID string) string { return "delivery_code:" + orderID + ":" + soID }

const openAssignmentsKey = "assignments:open"
