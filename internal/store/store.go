// Package store provides session persistence. Sessions are the only
// aggregate; all writes go through a compare-and-set on the record's
// version so concurrent read-modify-write cycles cannot lose updates.
package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/your-org/proctor/internal/session"
)

// Sentinel kinds for store errors.
var (
	// ErrNotFound means no session exists under the given id.
	ErrNotFound = errors.New("session not found")
	// ErrVersionConflict means the session changed since it was read;
	// the caller should re-read and retry.
	ErrVersionConflict = errors.New("session version conflict")
)

// Store is the document-store boundary the lifecycle service depends on.
type Store interface {
	// Insert persists a new session.
	Insert(ctx context.Context, s *session.Session) error

	// Get returns the session by id, or ErrNotFound.
	Get(ctx context.Context, id string) (*session.Session, error)

	// Update replaces the session iff the stored version still equals
	// s.Version, then bumps s.Version. Returns ErrVersionConflict when
	// another writer got there first.
	Update(ctx context.Context, s *session.Session) error

	// Close releases underlying connections.
	Close(ctx context.Context) error
}

// Config selects and configures a store backend.
type Config struct {
	Provider string
	URI      string
	Database string
}

// New creates a store based on the given configuration.
func New(ctx context.Context, cfg Config) (Store, error) {
	switch cfg.Provider {
	case "mongo":
		return newMongoStore(ctx, cfg)
	case "memory":
		return NewMemory(), nil
	default:
		return nil, fmt.Errorf("unsupported store provider: %s", cfg.Provider)
	}
}
