// Package appstate is the application state of a client process: who is
// signed in and what they are looking at. It is owned by main and passed to
// the components that need it.
package appstate

import (
	"sync"

	"food-delivery/dispatch/models"
	"food-delivery/dispatch/orders"
)

type State struct {
	Identity *models.Identity
	Token    string
	Orders   []models.Order
	Current  *orders.CurrentDelivery
	Stats    models.CourierStats
	// EndReason is why the last session ended without a logout.
	EndReason string
}

// SignedIn reports whether a session exists.
func (s State) SignedIn() bool { return s.Identity != nil }

// Action is one state transition; Reduce applies it.
type Action interface {
	isAction()
}

type SignedIn struct {
	Identity models.Identity
	Token    string
}

// SignedOut clears everything; Reason is nil for an explicit logout.
type SignedOut struct {
	Reason error
}

type OrdersLoaded struct {
	Orders []models.Order
}

// CurrentLoaded sets the courier's delivery in hand; nil clears it.
type CurrentLoaded struct {
	Current *orders.CurrentDelivery
}

type StatsLoaded struct {
	Stats models.CourierStats
}

func (SignedIn) isAction()      {}
func (SignedOut) isAction()     {}
func (OrdersLoaded) isAction()  {}
func (CurrentLoaded) isAction() {}
func (StatsLoaded) isAction()   {}

// Reduce returns the state after a. Data actions are ignored while signed out.
func Reduce(s State, a Action) State {
	switch a := a.(type) {
	case SignedIn:
		id := a.Identity
		return State{Identity: &id, Token: a.Token}
	case SignedOut:
		next := State{}
		if a.Reason != nil {
			next.EndReason = a.Reason.Error()
		}
		return next
	}

	if !s.SignedIn() {
		return s
	}
	switch a := a.(type) {
	case OrdersLoaded:
		s.Orders = append([]models.Order(nil), a.Orders...)
	case CurrentLoaded:
		if a.Current == nil {
			s.Current = nil
		} else {
			cur := *a.Current
			s.Current = &cur
		}
	case StatsLoaded:
		s.Stats = a.Stats
	}
	return s
}

// Store serialises Dispatch calls and notifies subscribers after each one.
type Store struct {
	mu    sync.Mutex
	state State
	subs  map[int]func(State)
	next  int
}

func NewStore() *Store {
	return &Store{subs: make(map[int]func(State))}
}

func (s *Store) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Store) Dispatch(a Action) State {
	s.mu.Lock()
	s.state = Reduce(s.state, a)
	state := s.state
	subs := make([]func(State), 0, len(s.subs))
	for _, fn := range s.subs {
		subs = append(subs, fn)
	}
	s.mu.Unlock()

	for _, fn := range subs {
		fn(state)
	}
	return state
}

// Subscribe registers fn for every following change and returns the function
// that removes it.
func (s *Store) Subscribe(fn func(State)) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.next
	s.next++
	s.subs[id] = fn
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.subs, id)
	}
}
