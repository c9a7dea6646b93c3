package main

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"food-delivery/dispatch/apperr"
	"food-delivery/dispatch/courier"
	"food-delivery/dispatch/logx"
	"food-delivery/dispatch/models"
	"food-delivery/dispatch/orders"
)

const maxCodeRequests = 3

var errNoCode = errors.New("no delivery code available")

// rider drives one delivery at a time. Between trips it reports its position
// every idleEvery so the server keeps it eligible for offers.
type rider struct {
	api      courier.CodeAPI
	board    *courier.Board
	streamer *courier.Streamer
	fixes    chan courier.Fix
	codes    <-chan string
	opts     options
	logger   logx.Logger

	mu      sync.Mutex
	driving bool
	trips   int
}

func (r *rider) position() models.Point {
	if last, ok := r.streamer.Last(); ok {
		return models.Point{Lat: last.Lat, Lon: last.Lon}
	}
	return r.opts.home
}

func (r *rider) idle(ctx context.Context) error {
	ticker := time.NewTicker(r.opts.idleEvery)
	defer ticker.Stop()
	for {
		if !r.busy() {
			p := r.position()
			select {
			case <-ctx.Done():
				return nil
			case r.fixes <- courier.Fix{Lat: p.Lat, Lon: p.Lon, At: time.Now()}:
			}
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

func (r *rider) busy() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.driving
}

// step starts the delivery in hand, or else bids for the oldest open offer.
func (r *rider) step(ctx context.Context) {
	r.mu.Lock()
	if r.driving {
		r.mu.Unlock()
		return
	}
	if cur, ok := r.board.Current(); ok && cur.ShopOrder.Status != models.StatusDelivered {
		r.driving = true
		r.mu.Unlock()
		go r.deliver(ctx, cur)
		return
	}
	r.mu.Unlock()

	list := r.board.Assignments()
	if len(list) == 0 {
		return
	}
	a := list[0]
	outcome, err := r.board.Accept(ctx, a.ID)
	if err != nil {
		r.logger.Warn("accept failed", logx.String("assignment_id", a.ID), logx.Err(err))
		return
	}
	r.logger.Info("bid on assignment",
		logx.String("assignment_id", a.ID),
		logx.String("order_id", a.OrderID),
		logx.String("outcome", outcome.String()),
	)
}

func (r *rider) deliver(ctx context.Context, cur orders.CurrentDelivery) {
	defer func() {
		r.mu.Lock()
		r.driving = false
		r.mu.Unlock()
		r.board.Refresh(ctx)
	}()

	log := r.logger.With(logx.String("order_id", cur.Order.ID), logx.String("shop_order_id", cur.ShopOrder.ID))
	dest := cur.Order.DeliveryAddress.Point()
	log.Info("heading to customer", logx.String("address", cur.Order.DeliveryAddress.Text))

	r.streamer.SetActiveOrder(cur.Order.ID)
	for fix := range courier.Simulate(ctx, r.position(), dest, r.opts.steps, r.opts.stepEvery) {
		select {
		case <-ctx.Done():
			return
		case r.fixes <- fix:
		}
	}
	if ctx.Err() != nil {
		return
	}

	if err := r.complete(ctx, courier.NewCompletion(r.api, cur.Order.ID, cur.ShopOrder.ID)); err != nil {
		log.Error("delivery not completed", logx.Err(err))
		return
	}
	r.streamer.SetActiveOrder("")

	r.mu.Lock()
	r.trips++
	trips := r.trips
	r.mu.Unlock()
	log.Info("delivered", logx.Int("trips", trips))
}

// complete requests a code and submits it until it is accepted. A wrong code
// is retried with the next one typed in; an expired code is requested again.
func (r *rider) complete(ctx context.Context, c *courier.Completion) error {
	for req := 0; req < maxCodeRequests; req++ {
		issued, err := c.Request(ctx)
		if err != nil {
			return fmt.Errorf("request code: %w", err)
		}
		r.logger.Info("delivery code sent", logx.String("message", issued.Message), logx.Any("expires_at", issued.ExpiresAt))

		code := issued.Code
	submit:
		for {
			if code == "" {
				select {
				case <-ctx.Done():
					return ctx.Err()
				case typed, ok := <-r.codes:
					if !ok {
						return errNoCode
					}
					code = typed
				}
			}
			_, err := c.Submit(ctx, code)
			switch {
			case err == nil:
				return nil
			case errors.Is(err, apperr.ErrInvalidCode):
				r.logger.Warn("wrong delivery code, try again")
				code = ""
			case errors.Is(err, apperr.ErrExpired), errors.Is(err, apperr.ErrNotFound):
				r.logger.Warn("delivery code expired, requesting a new one")
				break submit
			default:
				return fmt.Errorf("verify code: %w", err)
			}
		}
	}
	return fmt.Errorf("%w after %d requests", errNoCode, maxCodeRequests)
}

type riderStatus struct {
	Driving bool    `json:"driving"`
	Trips   int     `json:"trips"`
	Lat     float64 `json:"lat"`
	Lon     float64 `json:"lon"`
	OrderID string  `json:"active_order_id,omitempty"`
}

func (r *rider) status() riderStatus {
	p := r.position()
	r.mu.Lock()
	defer r.mu.Unlock()
	return riderStatus{
		Driving: r.driving,
		Trips:   r.trips,
		Lat:     p.Lat,
		Lon:     p.Lon,
		OrderID: r.streamer.ActiveOrder(),
	}
}
