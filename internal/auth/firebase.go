package auth

import (
	"context"
	"fmt"

	firebase "firebase.google.com/go/v4"
	firebaseauth "firebase.google.com/go/v4/auth"
	"google.golang.org/api/option"
)

// firebaseVerifier delegates token verification to the Firebase Admin
// SDK. Constructed once at startup and injected as a capability handle.
type firebaseVerifier struct {
	client *firebaseauth.Client
}

func newFirebaseVerifier(ctx context.Context, credentialsFile string) (Verifier, error) {
	var opts []option.ClientOption
	if credentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(credentialsFile))
	}
	app, err := firebase.NewApp(ctx, nil, opts...)
	if err != nil {
		return nil, fmt.Errorf("init firebase app: %w", err)
	}
	client, err := app.Auth(ctx)
	if err != nil {
		return nil, fmt.Errorf("init firebase auth client: %w", err)
	}
	return &firebaseVerifier{client: client}, nil
}

func (f *firebaseVerifier) Verify(ctx context.Context, token string) (Identity, error) {
	decoded, err := f.client.VerifyIDToken(ctx, token)
	if err != nil {
		return Identity{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	id := Identity{UID: decoded.UID}
	if email, ok := decoded.Claims["email"].(string); ok {
		id.Email = email
	}
	if role, ok := decoded.Claims["role"].(string); ok {
		id.Role = role
	}
	return id, nil
}

func (f *firebaseVerifier) SetRole(ctx context.Context, uid, role string) error {
	if err := f.client.SetCustomUserClaims(ctx, uid, map[string]any{"role": role}); err != nil {
		return fmt.Errorf("set custom claims: %w", err)
	}
	return nil
}
