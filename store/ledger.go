package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"food-delivery/dispatch/apperr"
	"food-delivery/dispatch/models"
)

// MemoryLedger is a Ledger guarded by one mutex.
type MemoryLedger struct {
	mu          sync.Mutex
	assignments map[string]models.Assignment
}

func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{assignments: make(map[string]models.Assignment)}
}

func (l *MemoryLedger) Create(_ context.Context, a models.Assignment) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.assignments[a.ID]; ok {
		return apperr.ErrConflict
	}
	l.assignments[a.ID] = a.Clone()
	return nil
}

func (l *MemoryLedger) Get(_ context.Context, id string) (models.Assignment, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	a, ok := l.assignments[id]
	if !ok {
		return models.Assignment{}, apperr.ErrNotFound
	}
	return a.Clone(), nil
}

func (l *MemoryLedger) ListOpen(_ context.Context) ([]models.Assignment, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := make([]models.Assignment, 0, len(l.assignments))
	for _, a := range l.assignments {
		if a.Status == models.AssignmentOpen {
			out = append(out, a.Clone())
		}
	}
	sortAssignments(out)
	return out, nil
}

func (l *MemoryLedger) Claim(_ context.Context, id, courierID string, now time.Time) (models.Assignment, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	a, ok := l.assignments[id]
	if !ok {
		return models.Assignment{}, apperr.ErrNotFound
	}
	if err := claimable(a, courierID, now); err != nil {
		return models.Assignment{}, err
	}
	a.Status = models.AssignmentAccepted
	a.AcceptedBy = courierID
	l.assignments[id] = a
	return a.Clone(), nil
}

func (l *MemoryLedger) Reoffer(_ context.Context, a models.Assignment) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	cur, ok := l.assignments[a.ID]
	if !ok {
		return apperr.ErrNotFound
	}
	if cur.Status != models.AssignmentOpen {
		return statusErr(cur.Status)
	}
	a.Status = models.AssignmentOpen
	a.AcceptedBy = ""
	l.assignments[a.ID] = a.Clone()
	return nil
}

func (l *MemoryLedger) Expire(_ context.Context, id string) (models.Assignment, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	a, ok := l.assignments[id]
	if !ok {
		return models.Assignment{}, apperr.ErrNotFound
	}
	if a.Status != models.AssignmentOpen {
		return models.Assignment{}, statusErr(a.Status)
	}
	a.Status = models.AssignmentExpired
	l.assignments[id] = a
	return a.Clone(), nil
}

func (l *MemoryLedger) Delete(_ context.Context, id string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	delete(l.assignments, id)
	return nil
}

// claimable is the acceptance rule shared by every Ledger.
func claimable(a models.Assignment, courierID string, now time.Time) error {
	switch {
	case a.Status == models.AssignmentAccepted:
		return apperr.ErrAlreadyAccepted
	case a.Status == models.AssignmentExpired, !now.Before(a.ExpiresAt):
		return apperr.ErrExpired
	case !a.HasCandidate(courierID):
		return apperr.ErrForbidden
	}
	return nil
}

func statusErr(s models.AssignmentStatus) error {
	if s == models.AssignmentAccepted {
		return apperr.ErrAlreadyAccepted
	}
	return apperr.ErrExpired
}

func sortAssignments(as []models.Assignment) {
	sort.Slice(as, func(i, j int) bool {
		if as[i].CreatedAt.Equal(as[j].CreatedAt) {
			return as[i].ID < as[j].ID
		}
		return as[i].CreatedAt.Before(as[j].CreatedAt)
	})
}

var _ Ledger = (*MemoryLedger)(nil)
