package store

import (
	"context"
	"sync"

	"github.com/your-org/proctor/internal/session"
)

// Memory is an in-process Store used in tests and development mode. It
// honors the same version CAS contract as the Mongo backend.
type Memory struct {
	mu       sync.RWMutex
	sessions map[string]session.Session
}

// NewMemory constructs an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{sessions: make(map[string]session.Session)}
}

func (m *Memory) Insert(_ context.Context, s *session.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[s.ID] = clone(s)
	return nil
}

func (m *Memory) Get(_ context.Context, id string) (*session.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, ErrNotFound
	}
	out := clone(&s)
	return &out, nil
}

func (m *Memory) Update(_ context.Context, s *session.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	current, ok := m.sessions[s.ID]
	if !ok {
		return ErrNotFound
	}
	if current.Version != s.Version {
		return ErrVersionConflict
	}
	s.Version++
	m.sessions[s.ID] = clone(s)
	return nil
}

func (m *Memory) Close(context.Context) error { return nil }

// clone deep-copies the parts callers mutate so stored state stays
// isolated from returned pointers.
func clone(s *session.Session) session.Session {
	out := *s
	out.Events = append([]session.Event(nil), s.Events...)
	if s.EndTime != nil {
		t := *s.EndTime
		out.EndTime = &t
	}
	if s.IntegrityScore != nil {
		v := *s.IntegrityScore
		out.IntegrityScore = &v
	}
	return out
}
