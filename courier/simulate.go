package courier

import (
	"context"
	"time"

	"food-delivery/dispatch/models"
)

// Simulate emits steps fixes along the straight line from -> to, one every
// interval, then closes the channel.
func Simulate(ctx context.Context, from, to models.Point, steps int, interval time.Duration) <-chan Fix {
	out := make(chan Fix)
	go func() {
		defer close(out)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for i := 0; i <= steps; i++ {
			frac := 1.0
			if steps > 0 {
				frac = float64(i) / float64(steps)
			}
			fix := Fix{
				Lat: from.Lat + (to.Lat-from.Lat)*frac,
				Lon: from.Lon + (to.Lon-from.Lon)*frac,
				At:  time.Now(),
			}
			select {
			case <-ctx.Done():
				return
			case out <- fix:
			}
			if i == steps {
				return
			}
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
		}
	}()
	return out
}
