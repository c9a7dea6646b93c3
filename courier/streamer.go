package courier

import (
	"context"
	"sync"
	"time"

	"food-delivery/dispatch/logx"
	"food-delivery/dispatch/models"
)

// Fix is one geolocation callback. Err carries a permission or acquisition
// failure.
type Fix struct {
	Lat float64
	Lon float64
	At  time.Time
	Err error
}

type LocationAPI interface {
	UpdateLocation(ctx context.Context, lat, lon float64) (string, error)
}

// Conn is the part of the realtime connection the streamer writes to.
type Conn interface {
	Connected() bool
	Emit(event string, payload any) error
}

// Streamer forwards every fix as it arrives: once to the REST endpoint that
// keeps the courier's presence, and once as an update-location frame when a
// delivery is active. Nothing is buffered; a fix that cannot be sent is lost.
type Streamer struct {
	api       LocationAPI
	conn      Conn
	courierID string
	logger    logx.Logger

	mu            sync.Mutex
	activeOrderID string
	last          *Fix
}

func NewStreamer(api LocationAPI, conn Conn, courierID string, logger logx.Logger) *Streamer {
	return &Streamer{api: api, conn: conn, courierID: courierID, logger: logger}
}

// Run consumes fixes until the channel closes or ctx ends.
func (s *Streamer) Run(ctx context.Context, fixes <-chan Fix) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case fix, ok := <-fixes:
			if !ok {
				return nil
			}
			s.Push(ctx, fix)
		}
	}
}

// Push handles one fix. A failed fix is logged and leaves the last known
// position in place.
func (s *Streamer) Push(ctx context.Context, fix Fix) {
	if fix.Err != nil {
		s.logger.Warn("location fix failed", logx.Err(fix.Err))
		return
	}
	if fix.At.IsZero() {
		fix.At = time.Now()
	}

	active, err := s.api.UpdateLocation(ctx, fix.Lat, fix.Lon)

	s.mu.Lock()
	if err == nil {
		s.activeOrderID = active
	} else {
		s.logger.Warn("location update failed", logx.Err(err))
	}
	orderID := s.activeOrderID
	f := fix
	s.last = &f
	s.mu.Unlock()

	if orderID == "" || !s.conn.Connected() {
		return
	}
	err = s.conn.Emit(models.EventUpdateLocation, models.UpdateLocationPayload{
		OrderID:   orderID,
		CourierID: s.courierID,
		Latitude:  fix.Lat,
		Longitude: fix.Lon,
		Timestamp: fix.At.UnixMilli(),
	})
	if err != nil {
		s.logger.Debug("location frame not sent", logx.String("order_id", orderID), logx.Err(err))
	}
}

// SetActiveOrder overrides the active order until the next REST answer,
// e.g. right after an accept or a completed delivery.
func (s *Streamer) SetActiveOrder(orderID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.activeOrderID = orderID
}

func (s *Streamer) ActiveOrder() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.activeOrderID
}

// Last is the last good fix.
func (s *Streamer) Last() (Fix, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.last == nil {
		return Fix{}, false
	}
	return *s.last, true
}
