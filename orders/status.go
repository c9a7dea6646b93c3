package orders

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"food-delivery/dispatch/apperr"
	"food-delivery/dispatch/eventlog"
	"food-delivery/dispatch/logx"
	"food-delivery/dispatch/models"
	"food-delivery/dispatch/queue"
)

// UpdateStatus moves a shop order forward on behalf of its owner. Setting
// out_for_delivery offers the delivery to couriers; setting it again after
// the offer expired unanswered offers it anew. Only a verified delivery code
// can set delivered.
func (s *Service) UpdateStatus(ctx context.Context, owner models.Identity, orderID, shopOrderID string, status models.ShopOrderStatus) (models.ShopOrder, error) {
	if owner.Role != models.RoleOwner {
		return models.ShopOrder{}, apperr.ErrForbidden
	}
	return s.updateStatus(ctx, owner.ID, orderID, shopOrderID, status)
}

// ApplyStatusUpdate applies a transition received from the updates queue.
func (s *Service) ApplyStatusUpdate(ctx context.Context, u queue.StatusUpdate) error {
	_, err := s.updateStatus(ctx, u.OwnerID, u.OrderID, u.ShopOrderID, u.Status)
	return err
}

func (s *Service) updateStatus(ctx context.Context, ownerID, orderID, shopOrderID string, status models.ShopOrderStatus) (models.ShopOrder, error) {
	if !status.Valid() {
		return models.ShopOrder{}, fmt.Errorf("unknown status %q: %w", status, apperr.ErrInvalid)
	}
	if status == models.StatusDelivered {
		return models.ShopOrder{}, fmt.Errorf("delivered requires a delivery code: %w", apperr.ErrForbidden)
	}

	redispatch := false
	reserved := ""
	o, err := s.orders.Update(ctx, orderID, func(o *models.Order) error {
		so, ok := o.ShopOrder(shopOrderID)
		if !ok {
			return apperr.ErrNotFound
		}
		if so.OwnerID != ownerID {
			return apperr.ErrForbidden
		}
		if so.Status == status && status == models.StatusOutForDelivery &&
			so.AssignedCourier == nil && so.AssignmentID == "" {
			redispatch = true
			reserved = uuid.NewString()
			so.AssignmentID = reserved
			return nil
		}
		if !so.Status.CanAdvanceTo(status) {
			return fmt.Errorf("cannot move %s to %s: %w", so.Status, status, apperr.ErrConflict)
		}
		so.Status = status
		if status == models.StatusOutForDelivery {
			reserved = uuid.NewString()
			so.AssignmentID = reserved
		}
		o.UpdatedAt = s.now().UTC()
		return nil
	})
	if err != nil {
		return models.ShopOrder{}, err
	}
	so, _ := o.ShopOrder(shopOrderID)

	s.logger.Info("shop order status updated",
		logx.String("order_id", o.ID),
		logx.String("shop_order_id", so.ID),
		logx.String("status", string(so.Status)),
	)
	_ = s.events.Record(ctx, eventlog.Event{
		Type:        eventlog.OrderStatusChanged,
		OrderID:     o.ID,
		ShopOrderID: so.ID,
		Status:      string(so.Status),
	})
	if !redispatch {
		s.notify(models.EventOrderStatusUpdated, o, *so)
	}

	if reserved != "" {
		if _, err := s.dispatcher.Broadcast(ctx, o, *so); err != nil {
			s.release(ctx, orderID, shopOrderID, reserved)
			return models.ShopOrder{}, fmt.Errorf("broadcast assignment: %w", err)
		}
	}
	return *so, nil
}

// release drops a reserved assignment id that never reached the ledger, so the
// owner can offer the shop order again.
func (s *Service) release(ctx context.Context, orderID, shopOrderID, assignmentID string) {
	_, err := s.orders.Update(ctx, orderID, func(o *models.Order) error {
		if so, ok := o.ShopOrder(shopOrderID); ok && so.AssignmentID == assignmentID {
			so.AssignmentID = ""
		}
		return nil
	})
	if err != nil {
		s.logger.Warn("release assignment reservation",
			logx.String("order_id", orderID),
			logx.String("assignment_id", assignmentID),
			logx.Err(err),
		)
	}
}

// AssignmentExpired clears the dead offer so the owner can offer again, and
// tells every party to refetch.
func (s *Service) AssignmentExpired(ctx context.Context, a models.Assignment) {
	o, err := s.orders.Update(ctx, a.OrderID, func(o *models.Order) error {
		so, ok := o.ShopOrder(a.ShopOrderID)
		if !ok {
			return apperr.ErrNotFound
		}
		if so.AssignmentID == a.ID {
			so.AssignmentID = ""
		}
		return nil
	})
	if err != nil {
		s.logger.Warn("expired assignment for unknown order",
			logx.String("assignment_id", a.ID),
			logx.String("order_id", a.OrderID),
			logx.Err(err),
		)
		return
	}
	so, _ := o.ShopOrder(a.ShopOrderID)
	s.notify(models.EventOrderStatusUpdated, o, *so)
}
