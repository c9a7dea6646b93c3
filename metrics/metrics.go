package metrics

import (
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	httpRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "food_delivery_http_request_duration_seconds",
		Help:    "HTTP request latencies in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "route", "status"})

	// Connections is the number of live realtime connections.
	Connections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "food_delivery_ws_connections",
		Help: "The number of currently open realtime connections",
	})

	// DroppedFrames counts outbound frames dropped because a client buffer was full.
	DroppedFrames = promauto.NewCounter(prometheus.CounterOpts{
		Name: "food_delivery_ws_dropped_frames_total",
		Help: "Outbound realtime frames dropped on full client buffers",
	})

	// Assignments counts assignment lifecycle transitions by outcome
	// (broadcast, rebroadcast, accepted, lost, expired).
	Assignments = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "food_delivery_assignments_total",
		Help: "Assignment lifecycle transitions by outcome",
	}, []string{"outcome"})

	// LocationSamples counts accepted courier location samples.
	LocationSamples = promauto.NewCounter(prometheus.CounterOpts{
		Name: "food_delivery_location_samples_total",
		Help: "Courier location samples fanned out to order rooms",
	})

	// Deliveries counts delivery code verifications by result.
	Deliveries = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "food_delivery_code_verifications_total",
		Help: "Delivery code verifications by result",
	}, []string{"result"})
)

// Middleware records the duration of every HTTP request.
func Middleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()
		err := c.Next()

		status := c.Response().StatusCode()
		if err != nil {
			if e, ok := err.(*fiber.Error); ok {
				status = e.Code
			}
		}
		route := c.Route().Path
		httpRequestDuration.
			WithLabelValues(c.Method(), route, strconv.Itoa(status)).
			Observe(time.Since(start).Seconds())
		return err
	}
}

// Handler exposes the default registry.
func Handler() fiber.Handler {
	return adaptor.HTTPHandler(promhttp.Handler())
}
