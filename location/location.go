// Package location ingests courier positions and fans them out to the rooms
// of the orders being delivered.
package location

import (
	"context"
	"fmt"
	"sync"
	"time"

	"food-delivery/dispatch/apperr"
	"food-delivery/dispatch/logx"
	"food-delivery/dispatch/metrics"
	"food-delivery/dispatch/models"
	"food-delivery/dispatch/store"
)

type Emitter interface {
	Emit(event string, payload any, rooms ...models.Room)
}

type Service struct {
	presence store.Presence
	emitter  Emitter
	logger   logx.Logger
	now      func() time.Time

	mu     sync.Mutex
	latest map[string]models.LocationSample
}

func NewService(presence store.Presence, emitter Emitter, logger logx.Logger) *Service {
	return &Service{
		presence: presence,
		emitter:  emitter,
		logger:   logger,
		now:      time.Now,
		latest:   make(map[string]models.LocationSample),
	}
}

// SetOnline marks a courier active while a realtime connection is open.
func (s *Service) SetOnline(ctx context.Context, id models.Identity, online bool) error {
	_, err := s.presence.Update(ctx, id.ID, func(c *models.CourierPresence) {
		c.IsActive = online
		c.FullName = id.FullName
		c.Mobile = id.Mobile
		c.LastUpdate = s.now().Unix()
	})
	return err
}

// UpdatePosition records a position reported over REST and returns the order
// the courier is delivering, or "" when idle.
func (s *Service) UpdatePosition(ctx context.Context, id models.Identity, lat, lon float64) (string, error) {
	if err := validPoint(lat, lon); err != nil {
		return "", err
	}
	c, err := s.presence.Update(ctx, id.ID, func(c *models.CourierPresence) {
		c.Latitude = lat
		c.Longitude = lon
		c.IsActive = true
		if id.FullName != "" {
			c.FullName = id.FullName
		}
		c.LastUpdate = s.now().Unix()
	})
	if err != nil {
		return "", fmt.Errorf("update courier position: %w", err)
	}
	return c.ActiveOrderID, nil
}

// Ingest handles one update-location frame. Only the courier delivering the
// order may stream into its room; a sample older than the one already held
// for (order, courier) is dropped.
func (s *Service) Ingest(ctx context.Context, id models.Identity, p models.UpdateLocationPayload) error {
	if p.CourierID != "" && p.CourierID != id.ID {
		return apperr.ErrForbidden
	}
	if p.OrderID == "" {
		return apperr.ErrInvalid
	}
	if err := validPoint(p.Latitude, p.Longitude); err != nil {
		return err
	}
	sample := models.LocationSample{
		OrderID:   p.OrderID,
		CourierID: id.ID,
		Latitude:  p.Latitude,
		Longitude: p.Longitude,
		Timestamp: p.Timestamp,
	}
	if sample.Timestamp == 0 {
		sample.Timestamp = s.now().UnixMilli()
	}

	// A stale sample only counts as a heartbeat; presence keeps the newer fix.
	stale := s.stale(sample)
	var activeOrderID string
	var err error
	if stale {
		activeOrderID, err = s.touch(ctx, id)
	} else {
		activeOrderID, err = s.UpdatePosition(ctx, id, p.Latitude, p.Longitude)
	}
	if err != nil {
		return err
	}
	if activeOrderID != p.OrderID {
		return fmt.Errorf("courier %s is not delivering order %s: %w", id.ID, p.OrderID, apperr.ErrForbidden)
	}

	if stale || !s.keep(sample) {
		s.logger.Debug("stale location sample dropped",
			logx.String("order_id", sample.OrderID),
			logx.String("courier_id", sample.CourierID),
			logx.Int64("timestamp", sample.Timestamp),
		)
		return nil
	}

	s.emitter.Emit(models.EventDeliveryLocation, sample, models.OrderRoom(sample.OrderID))
	metrics.LocationSamples.Inc()
	return nil
}

func (s *Service) stale(sample models.LocationSample) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.latest[sample.OrderID+":"+sample.CourierID]
	return ok && sample.Timestamp < cur.Timestamp
}

// touch refreshes the courier's liveness without moving it.
func (s *Service) touch(ctx context.Context, id models.Identity) (string, error) {
	c, err := s.presence.Update(ctx, id.ID, func(c *models.CourierPresence) {
		c.IsActive = true
		c.LastUpdate = s.now().Unix()
	})
	if err != nil {
		return "", fmt.Errorf("touch courier presence: %w", err)
	}
	return c.ActiveOrderID, nil
}

func (s *Service) keep(sample models.LocationSample) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := sample.OrderID + ":" + sample.CourierID
	if cur, ok := s.latest[key]; ok && sample.Timestamp < cur.Timestamp {
		return false
	}
	s.latest[key] = sample
	return true
}

// Latest is the newest sample of courierID on orderID.
func (s *Service) Latest(orderID, courierID string) (models.LocationSample, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sample, ok := s.latest[orderID+":"+courierID]
	return sample, ok
}

// Forget drops the samples held for an order once its delivery ended.
func (s *Service) Forget(orderID, courierID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.latest, orderID+":"+courierID)
}

// Run marks couriers inactive when they have neither reported a position
// within maxAge nor hold a realtime connection.
func (s *Service) Run(ctx context.Context, interval, maxAge time.Duration, connected func(userID string) bool) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			n, err := s.reap(ctx, maxAge, connected)
			if err != nil {
				s.logger.Warn("courier presence sweep failed", logx.Err(err))
				continue
			}
			if n > 0 {
				s.logger.Info("stale couriers marked inactive", logx.Int("count", n))
			}
		}
	}
}

func (s *Service) reap(ctx context.Context, maxAge time.Duration, connected func(string) bool) (int, error) {
	couriers, err := s.presence.List(ctx)
	if err != nil {
		return 0, err
	}
	cutoff := s.now().Add(-maxAge).Unix()
	n := 0
	for _, c := range couriers {
		if !c.IsActive || c.LastUpdate >= cutoff || connected(c.CourierID) {
			continue
		}
		if _, err := s.presence.Update(ctx, c.CourierID, func(p *models.CourierPresence) {
			p.IsActive = false
		}); err != nil {
			return n, err
		}
		n++
	}
	return n, nil
}

func validPoint(lat, lon float64) error {
	if lat < -90 || lat > 90 || lon < -180 || lon > 180 {
		return fmt.Errorf("coordinates out of range: %w", apperr.ErrInvalid)
	}
	return nil
}
