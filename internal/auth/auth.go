// Package auth verifies bearer tokens against an external identity
// provider and manages the role claim.
package auth

import (
	"context"
	"errors"
	"fmt"
)

// Roles recognized by the backend.
const (
	RoleInterviewer = "interviewer"
	RoleCandidate   = "candidate"
)

// ErrInvalidToken is returned when a token cannot be verified.
var ErrInvalidToken = errors.New("invalid or expired token")

// Identity is the decoded caller: who they are and what they may do.
type Identity struct {
	UID   string
	Email string
	Role  string
}

// Verifier is the identity-provider boundary.
type Verifier interface {
	// Verify decodes and validates a bearer token.
	Verify(ctx context.Context, token string) (Identity, error)

	// SetRole attaches a role claim to the user so subsequent tokens
	// carry it.
	SetRole(ctx context.Context, uid, role string) error
}

// ValidRole reports whether role is one the backend understands.
func ValidRole(role string) bool {
	return role == RoleInterviewer || role == RoleCandidate
}

// Config selects and configures a verifier backend.
type Config struct {
	Provider        string
	CredentialsFile string
}

// New creates a verifier based on the given configuration.
func New(ctx context.Context, cfg Config) (Verifier, error) {
	switch cfg.Provider {
	case "firebase":
		return newFirebaseVerifier(ctx, cfg.CredentialsFile)
	case "static":
		return NewStatic(), nil
	default:
		return nil, fmt.Errorf("unsupported auth provider: %s", cfg.Provider)
	}
}
