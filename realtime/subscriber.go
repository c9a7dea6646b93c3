package realtime

import (
	"sort"

	"food-delivery/dispatch/logx"
	"food-delivery/dispatch/models"
)

// Handler receives one inbound frame. Handlers run on the read goroutine,
// one at a time, in subscriber name order.
type Handler func(env models.Envelope)

// Subscriber is a named owner of handlers. It holds at most one handler per
// event: registering again replaces the previous one instead of stacking.
type Subscriber struct {
	m    *Manager
	name string
}

// Subscriber returns the subscriber called name. Asking twice for the same
// name yields handles on the same handler set.
func (m *Manager) Subscriber(name string) *Subscriber {
	return &Subscriber{m: m, name: name}
}

func (s *Subscriber) On(event string, h Handler) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()

	byName, ok := s.m.handlers[event]
	if !ok {
		byName = make(map[string]Handler)
		s.m.handlers[event] = byName
	}
	byName[s.name] = h
}

func (s *Subscriber) Off(event string) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()

	delete(s.m.handlers[event], s.name)
	if len(s.m.handlers[event]) == 0 {
		delete(s.m.handlers, event)
	}
}

// Close removes every handler of the subscriber.
func (s *Subscriber) Close() {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()

	for event, byName := range s.m.handlers {
		delete(byName, s.name)
		if len(byName) == 0 {
			delete(s.m.handlers, event)
		}
	}
}

// Handlers counts the handlers registered for event across subscribers.
func (m *Manager) Handlers(event string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.handlers[event])
}

func (m *Manager) dispatch(env models.Envelope) {
	m.mu.Lock()
	byName := m.handlers[env.Event]
	names := make([]string, 0, len(byName))
	for name := range byName {
		names = append(names, name)
	}
	sort.Strings(names)
	hs := make([]Handler, len(names))
	for i, name := range names {
		hs[i] = byName[name]
	}
	m.mu.Unlock()

	if len(hs) == 0 {
		m.logger.Debug("unhandled realtime event", logx.String("event", env.Event))
		return
	}
	for _, h := range hs {
		h(env)
	}
}
