package auth

import (
	"context"
	"sync"
	"time"

	"github.com/vietddude/mealog/internal/core/domain"
)

// Session holds the identity of one client connection and notifies listeners
// when it changes. It satisfies livequery.IdentitySource.
type Session struct {
	mu       sync.Mutex
	identity domain.Identity
	nextID   int
	subs     map[int]func(domain.OwnerID)
}

func NewSession() *Session {
	return &Session{subs: make(map[int]func(domain.OwnerID))}
}

// Current returns the signed-in owner, or false when nobody is signed in.
func (s *Session) Current() (domain.OwnerID, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.identity.OwnerID, !s.identity.OwnerID.IsZero()
}

// Identity returns the full identity of the session.
func (s *Session) Identity() domain.Identity {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.identity
}

// OnChange registers cb. Callbacks run synchronously on the goroutine that
// changed the identity, in no particular order.
func (s *Session) OnChange(cb func(domain.OwnerID)) (cancel func()) {
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.subs[id] = cb
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		delete(s.subs, id)
		s.mu.Unlock()
	}
}

// Set signs the session in as id.
func (s *Session) Set(id domain.Identity) {
	s.mu.Lock()
	changed := s.identity.OwnerID != id.OwnerID
	s.identity = id
	cbs := s.callbacksLocked()
	s.mu.Unlock()

	if changed {
		for _, cb := range cbs {
			cb(id.OwnerID)
		}
	}
}

// Clear signs the session out.
func (s *Session) Clear() {
	s.Set(domain.Identity{})
}

func (s *Session) callbacksLocked() []func(domain.OwnerID) {
	out := make([]func(domain.OwnerID), 0, len(s.subs))
	for _, cb := range s.subs {
		out = append(out, cb)
	}
	return out
}

// MemoryRevocations is a RevocationStore for single-process deployments.
type MemoryRevocations struct {
	mu      sync.Mutex
	revoked map[string]time.Time
	now     func() time.Time
}

func NewMemoryRevocations(now func() time.Time) *MemoryRevocations {
	if now == nil {
		now = time.Now
	}
	return &MemoryRevocations{revoked: make(map[string]time.Time), now: now}
}

func (m *MemoryRevocations) Revoke(ctx context.Context, tokenID string, until time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	for id, exp := range m.revoked {
		if !exp.After(now) {
			delete(m.revoked, id)
		}
	}
	if until.After(now) {
		m.revoked[tokenID] = until
	}
	return nil
}

func (m *MemoryRevocations) IsRevoked(ctx context.Context, tokenID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	exp, ok := m.revoked[tokenID]
	return ok && exp.After(m.now()), nil
}
