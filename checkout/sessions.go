package checkout

import (
	"context"
	"sync"
	"time"
)

// SessionFactory builds the session of a device on first use.
type SessionFactory func(ctx context.Context, deviceID string, form FormFactor) (*Session, error)

type sessionEntry struct {
	session  *Session
	lastUsed time.Time
}

// Sessions keeps one checkout session per device.
type Sessions struct {
	factory SessionFactory
	now     func() time.Time

	mu       sync.Mutex
	sessions map[string]*sessionEntry
}

func NewSessions(factory SessionFactory) *Sessions {
	return &Sessions{factory: factory, now: time.Now, sessions: make(map[string]*sessionEntry)}
}

// Get returns the session of deviceID, switching its form factor when the
// buyer is still in the cart.
func (s *Sessions) Get(ctx context.Context, deviceID string, form FormFactor) (*Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.sessions[deviceID]; ok {
		e.lastUsed = s.now()
		e.session.SetFormFactor(form)
		return e.session, nil
	}
	sess, err := s.factory(ctx, deviceID, form)
	if err != nil {
		return nil, err
	}
	s.sessions[deviceID] = &sessionEntry{session: sess, lastUsed: s.now()}
	return sess, nil
}

// Has reports whether deviceID has a live session.
func (s *Sessions) Has(deviceID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.sessions[deviceID]
	return ok
}

// EvictIdle closes sessions untouched for longer than idle. A session that
// is placing an order is kept until it settles.
func (s *Sessions) EvictIdle(idle time.Duration) []string {
	cutoff := s.now().Add(-idle)
	s.mu.Lock()
	var evicted []*Session
	var ids []string
	for id, e := range s.sessions {
		if !e.lastUsed.Before(cutoff) || e.session.State() == StatePlacing {
			continue
		}
		delete(s.sessions, id)
		evicted = append(evicted, e.session)
		ids = append(ids, id)
	}
	s.mu.Unlock()
	for _, sess := range evicted {
		sess.Close()
	}
	return ids
}

// IdleCarts is the per-device cart cache swept together with the sessions.
type IdleCarts interface {
	EvictIdle(idle time.Duration, inUse func(deviceID string) bool) []string
}

// Sweep evicts idle sessions, then the idle carts no remaining session
// holds. A cart is never dropped from under a live session.
func (s *Sessions) Sweep(idle time.Duration, carts IdleCarts) (sessions, cartsEvicted int) {
	sessions = len(s.EvictIdle(idle))
	if carts != nil {
		cartsEvicted = len(carts.EvictIdle(idle, s.Has))
	}
	return sessions, cartsEvicted
}

func (s *Sessions) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range s.sessions {
		e.session.Close()
	}
}
