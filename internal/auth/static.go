package auth

import (
	"context"
	"strings"
	"sync"
)

// Static is a development-mode verifier. Tokens are "uid:email:role"
// triples taken at face value; SetRole updates an in-process role map
// consulted on later verifies.
type Static struct {
	mu    sync.RWMutex
	roles map[string]string
}

// NewStatic constructs a Static verifier with no role overrides.
func NewStatic() *Static {
	return &Static{roles: make(map[string]string)}
}

func (s *Static) Verify(_ context.Context, token string) (Identity, error) {
	parts := strings.SplitN(token, ":", 3)
	if len(parts) != 3 || parts[0] == "" {
		return Identity{}, ErrInvalidToken
	}
	id := Identity{UID: parts[0], Email: parts[1], Role: parts[2]}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if role, ok := s.roles[id.UID]; ok {
		id.Role = role
	}
	return id, nil
}

func (s *Static) SetRole(_ context.Context, uid, role string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.roles[uid] = role
	return nil
}
