// Package refresh drives one fetch function from two independent sources: a
// fixed polling interval and push triggers. Polling is the correctness
// backstop; pushes only make the next fetch happen sooner.
package refresh

import (
	"context"
	"time"
)

// Trigger coalesces pushes: any number of Fire calls between two fetches
// cause exactly one extra fetch.
type Trigger struct {
	c chan struct{}
}

func NewTrigger() *Trigger {
	return &Trigger{c: make(chan struct{}, 1)}
}

// Fire never blocks.
func (t *Trigger) Fire() {
	select {
	case t.c <- struct{}{}:
	default:
	}
}

func (t *Trigger) C() <-chan struct{} {
	if t == nil {
		return nil
	}
	return t.c
}

// Loop calls fn right away, then on every tick and every trigger until ctx
// is done. A nil trigger leaves only the ticker. fn runs on the calling
// goroutine; a slow fn delays the next tick rather than overlapping it.
func Loop(ctx context.Context, interval time.Duration, trigger *Trigger, fn func(context.Context)) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	fn(ctx)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		case <-trigger.C():
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		fn(ctx)
	}
}
