package tracking

import (
	"sync"

	"food-delivery/dispatch/models"
)

// Book holds the latest LocationSample per courier. The transport may
// reorder or re-deliver samples, so a sample is only applied when it is
// newer than the one held.
type Book struct {
	mu      sync.Mutex
	samples map[string]models.LocationSample
}

func NewBook() *Book {
	return &Book{samples: make(map[string]models.LocationSample)}
}

// Apply stores s and reports whether it replaced the held sample.
func (b *Book) Apply(s models.LocationSample) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if cur, ok := b.samples[s.CourierID]; ok && s.Timestamp <= cur.Timestamp {
		return false
	}
	b.samples[s.CourierID] = s
	return true
}

func (b *Book) Latest(courierID string) (models.LocationSample, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	s, ok := b.samples[courierID]
	return s, ok
}

func (b *Book) Forget(courierID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.samples, courierID)
}
