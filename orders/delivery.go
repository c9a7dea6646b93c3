package orders

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"time"

	"food-delivery/dispatch/apperr"
	"food-delivery/dispatch/eventlog"
	"food-delivery/dispatch/logx"
	"food-delivery/dispatch/metrics"
	"food-delivery/dispatch/models"
)

// Assignments lists the offers open to courier.
func (s *Service) Assignments(ctx context.Context, courier models.Identity) ([]models.Assignment, error) {
	if courier.Role != models.RoleCourier {
		return nil, apperr.ErrForbidden
	}
	return s.dispatcher.Open(ctx, courier.ID)
}

// Accept claims an assignment and attaches the courier to its shop order.
// Losing couriers get apperr.ErrAlreadyAccepted.
func (s *Service) Accept(ctx context.Context, courier models.Identity, assignmentID string) (models.ShopOrder, error) {
	if courier.Role != models.RoleCourier {
		return models.ShopOrder{}, apperr.ErrForbidden
	}
	a, err := s.dispatcher.Accept(ctx, assignmentID, courier)
	if err != nil {
		return models.ShopOrder{}, err
	}

	o, err := s.orders.Update(ctx, a.OrderID, func(o *models.Order) error {
		so, ok := o.ShopOrder(a.ShopOrderID)
		if !ok {
			return apperr.ErrNotFound
		}
		if so.AssignedCourier != nil || so.AssignmentID != a.ID {
			return apperr.ErrAlreadyAccepted
		}
		so.AssignedCourier = &models.CourierRef{
			ID:       courier.ID,
			FullName: courier.FullName,
			Mobile:   courier.Mobile,
		}
		so.AssignmentID = a.ID
		o.UpdatedAt = s.now().UTC()
		return nil
	})
	if err != nil {
		if rerr := s.dispatcher.Release(ctx, a); rerr != nil {
			s.logger.Error("release unattached assignment",
				logx.String("assignment_id", a.ID),
				logx.String("courier_id", courier.ID),
				logx.Err(rerr),
			)
		}
		if !errors.Is(err, apperr.ErrAlreadyAccepted) && !errors.Is(err, apperr.ErrNotFound) {
			s.AssignmentExpired(ctx, a)
		}
		return models.ShopOrder{}, fmt.Errorf("attach courier: %w", err)
	}
	so, _ := o.ShopOrder(a.ShopOrderID)
	s.notify(models.EventDeliveryAccepted, o, *so)
	return *so, nil
}

// CurrentDelivery is the shop order a courier is carrying right now.
type CurrentDelivery struct {
	Order     models.Order     `json:"order"`
	ShopOrder models.ShopOrder `json:"shop_order"`
}

func (s *Service) Current(ctx context.Context, courier models.Identity) (CurrentDelivery, error) {
	if courier.Role != models.RoleCourier {
		return CurrentDelivery{}, apperr.ErrForbidden
	}
	p, err := s.presence.Get(ctx, courier.ID)
	if err != nil {
		return CurrentDelivery{}, err
	}
	if p.ActiveOrderID == "" {
		return CurrentDelivery{}, apperr.ErrNotFound
	}
	o, err := s.Get(ctx, courier, p.ActiveOrderID)
	if err != nil {
		if errors.Is(err, apperr.ErrForbidden) {
			return CurrentDelivery{}, apperr.ErrNotFound
		}
		return CurrentDelivery{}, err
	}
	for _, so := range o.ShopOrders {
		if so.Status == models.StatusOutForDelivery {
			return CurrentDelivery{Order: o, ShopOrder: so}, nil
		}
	}
	return CurrentDelivery{}, apperr.ErrNotFound
}

// carrying returns the order if courier is delivering its shop order.
func (s *Service) carrying(ctx context.Context, courier models.Identity, orderID, shopOrderID string) (models.Order, models.ShopOrder, error) {
	if courier.Role != models.RoleCourier {
		return models.Order{}, models.ShopOrder{}, apperr.ErrForbidden
	}
	o, err := s.orders.Get(ctx, orderID)
	if err != nil {
		return models.Order{}, models.ShopOrder{}, err
	}
	so, ok := o.ShopOrder(shopOrderID)
	if !ok {
		return models.Order{}, models.ShopOrder{}, apperr.ErrNotFound
	}
	if so.AssignedCourier == nil || so.AssignedCourier.ID != courier.ID {
		return models.Order{}, models.ShopOrder{}, apperr.ErrForbidden
	}
	if so.Status != models.StatusOutForDelivery {
		return models.Order{}, models.ShopOrder{}, fmt.Errorf("shop order is %s: %w", so.Status, apperr.ErrConflict)
	}
	return o, *so, nil
}

// SendCode issues a fresh delivery code, replacing any earlier one, and hands
// it to the CodeSender.
func (s *Service) SendCode(ctx context.Context, courier models.Identity, orderID, shopOrderID string) (models.DeliveryCode, error) {
	o, so, err := s.carrying(ctx, courier, orderID, shopOrderID)
	if err != nil {
		return models.DeliveryCode{}, err
	}
	digits, err := newCode()
	if err != nil {
		return models.DeliveryCode{}, err
	}
	code := models.DeliveryCode{
		OrderID:     o.ID,
		ShopOrderID: so.ID,
		Code:        digits,
		ExpiresAt:   s.now().Add(s.cfg.CodeTTL).UTC(),
	}
	if err := s.codes.Put(ctx, code); err != nil {
		return models.DeliveryCode{}, err
	}
	if err := s.codeSender.SendCode(ctx, o.CustomerID, code); err != nil {
		return models.DeliveryCode{}, fmt.Errorf("send delivery code: %w", err)
	}

	s.emitter.Emit(models.EventDeliveryCodeSent, models.OrderEvent{
		OrderID:     o.ID,
		ShopOrderID: so.ID,
		Status:      so.Status,
		CourierID:   courier.ID,
	}, models.UserRoom(courier.ID))
	_ = s.events.Record(ctx, eventlog.Event{
		Type:        eventlog.DeliveryCodeIssued,
		OrderID:     o.ID,
		ShopOrderID: so.ID,
		CourierID:   courier.ID,
	})
	return code, nil
}

// VerifyCode completes the delivery when code matches. A wrong code leaves the
// issued one valid; retries are unlimited until it expires.
func (s *Service) VerifyCode(ctx context.Context, courier models.Identity, orderID, shopOrderID, code string) (models.ShopOrder, error) {
	_, so, err := s.carrying(ctx, courier, orderID, shopOrderID)
	if err != nil {
		return models.ShopOrder{}, err
	}
	if err := s.codes.Consume(ctx, orderID, shopOrderID, code, s.now()); err != nil {
		metrics.Deliveries.WithLabelValues(verifyResult(err)).Inc()
		return models.ShopOrder{}, err
	}
	metrics.Deliveries.WithLabelValues("ok").Inc()

	now := s.now().UTC()
	o, err := s.orders.Update(ctx, orderID, func(o *models.Order) error {
		cur, ok := o.ShopOrder(shopOrderID)
		if !ok {
			return apperr.ErrNotFound
		}
		cur.Status = models.StatusDelivered
		cur.DeliveredAt = &now
		o.UpdatedAt = now
		return nil
	})
	if err != nil {
		return models.ShopOrder{}, err
	}
	if _, err := s.dispatcher.Complete(ctx, so.AssignmentID); err != nil {
		s.logger.Error("resolve assignment", logx.String("assignment_id", so.AssignmentID), logx.Err(err))
	}
	s.locations.Forget(orderID, courier.ID)
	s.recordDelivery(courier.ID, now)

	delivered, _ := o.ShopOrder(shopOrderID)
	s.notify(models.EventOrderDelivered, o, *delivered)
	s.emitter.Emit(models.EventDeliveryCompleted, models.DeliveryCompletedEvent{
		OrderID:     orderID,
		ShopOrderID: shopOrderID,
	}, models.UserRoom(courier.ID))

	s.logger.Info("shop order delivered",
		logx.String("order_id", orderID),
		logx.String("shop_order_id", shopOrderID),
		logx.String("courier_id", courier.ID),
	)
	return *delivered, nil
}

func verifyResult(err error) string {
	switch {
	case errors.Is(err, apperr.ErrInvalidCode):
		return "invalid"
	case errors.Is(err, apperr.ErrExpired):
		return "expired"
	case errors.Is(err, apperr.ErrNotFound):
		return "missing"
	}
	return "error"
}

// newCode returns a uniformly random 4-digit string.
func newCode() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(10000))
	if err != nil {
		return "", fmt.Errorf("generate delivery code: %w", err)
	}
	return fmt.Sprintf("%04d", n.Int64()), nil
}

type delivery struct {
	at  time.Time
	fee float64
}

func (s *Service) recordDelivery(courierID string, at time.Time) {
	s.statsMu.Lock()
	defer s.statsMu.Unlock()
	s.stats[courierID] = append(s.stats[courierID], delivery{at: at, fee: s.cfg.Fee})
}

// Stats summarises a courier's completed deliveries.
func (s *Service) Stats(_ context.Context, courier models.Identity) (models.CourierStats, error) {
	if courier.Role != models.RoleCourier {
		return models.CourierStats{}, apperr.ErrForbidden
	}
	s.statsMu.Lock()
	defer s.statsMu.Unlock()

	y, m, d := s.now().Date()
	var st models.CourierStats
	for _, dl := range s.stats[courier.ID] {
		st.TotalDeliveries++
		st.TotalEarnings += dl.fee
		if dy, dm, dd := dl.at.In(s.now().Location()).Date(); dy == y && dm == m && dd == d {
			st.TodayDeliveries++
			st.TodayEarnings += dl.fee
		}
	}
	return st, nil
}

// LogCodeSender writes codes to the log. It stands in for an SMS or e-mail
// gateway.
type LogCodeSender struct {
	Logger logx.Logger
}

func (l LogCodeSender) SendCode(_ context.Context, customerID string, code models.DeliveryCode) error {
	l.Logger.Info("delivery code issued",
		logx.String("customer_id", customerID),
		logx.String("order_id", code.OrderID),
		logx.String("shop_order_id", code.ShopOrderID),
		logx.String("code", code.Code),
	)
	return nil
}
