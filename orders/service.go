// Package orders is the order placement and snapshot collaborator: it owns
// the ShopOrder state machine and drives the assignment and delivery code
// steps around it.
package orders

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"food-delivery/dispatch/apperr"
	"food-delivery/dispatch/config"
	"food-delivery/dispatch/eventlog"
	"food-delivery/dispatch/logx"
	"food-delivery/dispatch/models"
	"food-delivery/dispatch/store"
)

type Emitter interface {
	Emit(event string, payload any, rooms ...models.Room)
}

type EventLog interface {
	Record(ctx context.Context, e eventlog.Event) error
}

// Dispatcher is the assignment resolver.
type Dispatcher interface {
	Broadcast(ctx context.Context, order models.Order, so models.ShopOrder) (models.Assignment, error)
	Open(ctx context.Context, courierID string) ([]models.Assignment, error)
	Accept(ctx context.Context, assignmentID string, courier models.Identity) (models.Assignment, error)
	Complete(ctx context.Context, assignmentID string) (models.Assignment, error)
	Release(ctx context.Context, a models.Assignment) error
}

// Locations exposes the newest courier sample per order.
type Locations interface {
	Latest(orderID, courierID string) (models.LocationSample, bool)
	Forget(orderID, courierID string)
}

// CodeSender delivers a delivery code to the customer out of band.
type CodeSender interface {
	SendCode(ctx context.Context, customerID string, code models.DeliveryCode) error
}

type Deps struct {
	Orders     *store.Orders
	Codes      store.Codes
	Presence   store.Presence
	Dispatcher Dispatcher
	Locations  Locations
	Emitter    Emitter
	Events     EventLog
	CodeSender CodeSender
	Logger     logx.Logger
}

type Service struct {
	orders     *store.Orders
	codes      store.Codes
	presence   store.Presence
	dispatcher Dispatcher
	locations  Locations
	emitter    Emitter
	events     EventLog
	codeSender CodeSender
	logger     logx.Logger
	cfg        config.DeliveryConfig
	validate   *validator.Validate
	now        func() time.Time

	statsMu sync.Mutex
	stats   map[string][]delivery
}

func NewService(d Deps, cfg config.DeliveryConfig) *Service {
	return &Service{
		orders:     d.Orders,
		codes:      d.Codes,
		presence:   d.Presence,
		dispatcher: d.Dispatcher,
		locations:  d.Locations,
		emitter:    d.Emitter,
		events:     d.Events,
		codeSender: d.CodeSender,
		logger:     d.Logger,
		cfg:        cfg,
		validate:   validator.New(),
		now:        time.Now,
		stats:      make(map[string][]delivery),
	}
}

type PlaceOrderRequest struct {
	DeliveryAddress models.Address     `json:"delivery_address"`
	PaymentMethod   string             `json:"payment_method" validate:"required,oneof=cod online"`
	ShopOrders      []ShopOrderRequest `json:"shop_orders" validate:"required,min=1,dive"`
}

type ShopOrderRequest struct {
	ShopID   string             `json:"shop_id" validate:"required"`
	ShopName string             `json:"shop_name"`
	OwnerID  string             `json:"owner_id" validate:"required"`
	Items    []models.OrderItem `json:"items" validate:"required,min=1,dive"`
}

// Place creates an order for customer and notifies the owner of every shop.
func (s *Service) Place(ctx context.Context, customer models.Identity, req PlaceOrderRequest) (models.Order, error) {
	if customer.Role != models.RoleCustomer {
		return models.Order{}, apperr.ErrForbidden
	}
	if err := s.validate.Struct(req); err != nil {
		return models.Order{}, fmt.Errorf("%w: %v", apperr.ErrInvalid, err)
	}

	now := s.now().UTC()
	o := models.Order{
		ID:              uuid.NewString(),
		CustomerID:      customer.ID,
		CustomerName:    customer.FullName,
		DeliveryAddress: req.DeliveryAddress,
		PaymentMethod:   req.PaymentMethod,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	for _, r := range req.ShopOrders {
		so := models.ShopOrder{
			ID:       uuid.NewString(),
			ShopID:   r.ShopID,
			ShopName: r.ShopName,
			OwnerID:  r.OwnerID,
			Status:   models.StatusPending,
			Items:    r.Items,
		}
		for _, it := range r.Items {
			so.Subtotal += it.Price * float64(it.Quantity)
		}
		o.TotalAmount += so.Subtotal
		o.ShopOrders = append(o.ShopOrders, so)
	}
	if err := s.orders.Create(ctx, o); err != nil {
		return models.Order{}, err
	}

	for _, so := range o.ShopOrders {
		s.emitter.Emit(models.EventNewOrder, models.NewOrderEvent{
			OrderID:      o.ID,
			ShopOrderID:  so.ID,
			CustomerName: o.CustomerName,
			ItemCount:    len(so.Items),
			Subtotal:     so.Subtotal,
		}, models.UserRoom(so.OwnerID))
	}
	s.logger.Info("order placed",
		logx.String("order_id", o.ID),
		logx.String("customer_id", o.CustomerID),
		logx.Int("shop_orders", len(o.ShopOrders)),
	)
	_ = s.events.Record(ctx, eventlog.Event{Type: eventlog.OrderPlaced, OrderID: o.ID})
	return o, nil
}

// Get returns the order as id may see it: owners get their own shop orders,
// couriers the ones assigned to them.
func (s *Service) Get(ctx context.Context, id models.Identity, orderID string) (models.Order, error) {
	o, err := s.orders.Get(ctx, orderID)
	if err != nil {
		return models.Order{}, err
	}
	view, ok := s.scope(id, o)
	if !ok {
		return models.Order{}, apperr.ErrForbidden
	}
	return s.withLocations(view), nil
}

// CanView gates joins of the order room.
func (s *Service) CanView(ctx context.Context, id models.Identity, orderID string) error {
	_, err := s.Get(ctx, id, orderID)
	return err
}

// Mine lists the orders id takes part in, newest first.
func (s *Service) Mine(ctx context.Context, id models.Identity) ([]models.Order, error) {
	all, err := s.orders.List(ctx, nil)
	if err != nil {
		return nil, err
	}
	out := make([]models.Order, 0)
	for _, o := range all {
		if view, ok := s.scope(id, o); ok {
			out = append(out, s.withLocations(view))
		}
	}
	return out, nil
}

func (s *Service) scope(id models.Identity, o models.Order) (models.Order, bool) {
	switch id.Role {
	case models.RoleCustomer:
		return o, o.CustomerID == id.ID
	case models.RoleOwner:
		return filterShopOrders(o, func(so models.ShopOrder) bool { return so.OwnerID == id.ID })
	case models.RoleCourier:
		return filterShopOrders(o, func(so models.ShopOrder) bool {
			return so.AssignedCourier != nil && so.AssignedCourier.ID == id.ID
		})
	}
	return models.Order{}, false
}

func filterShopOrders(o models.Order, keep func(models.ShopOrder) bool) (models.Order, bool) {
	kept := o.ShopOrders[:0:0]
	for _, so := range o.ShopOrders {
		if keep(so) {
			kept = append(kept, so)
		}
	}
	o.ShopOrders = kept
	return o, len(kept) > 0
}

func (s *Service) withLocations(o models.Order) models.Order {
	for i := range o.ShopOrders {
		c := o.ShopOrders[i].AssignedCourier
		if c == nil || o.ShopOrders[i].Status == models.StatusDelivered {
			continue
		}
		if sample, ok := s.locations.Latest(o.ID, c.ID); ok {
			p := sample.Point()
			c.Location = &p
		}
	}
	return o
}

// notify sends an order invalidation to the order room and every party's
// identity room.
func (s *Service) notify(event string, o models.Order, so models.ShopOrder) {
	rooms := []models.Room{models.OrderRoom(o.ID), models.UserRoom(o.CustomerID), models.UserRoom(so.OwnerID)}
	ev := models.OrderEvent{OrderID: o.ID, ShopOrderID: so.ID, Status: so.Status}
	if so.AssignedCourier != nil {
		ev.CourierID = so.AssignedCourier.ID
		rooms = append(rooms, models.UserRoom(so.AssignedCourier.ID))
	}
	s.emitter.Emit(event, ev, rooms...)
}
