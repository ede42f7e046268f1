// Package identity signs users in and out. Two providers share one contract:
// Supabase GoTrue for the managed backend, and a local bcrypt provider for
// the self-hosted Postgres and in-memory backends.
package identity

import (
	"context"
	"errors"
	"time"
)

var (
	ErrInvalidCredentials = errors.New("invalid email or password")
	ErrEmailRegistered    = errors.New("email already registered")
	ErrWeakPassword       = errors.New("password must be at least 8 characters")
	ErrInvalidSession     = errors.New("session is invalid or expired")
	ErrUnavailable        = errors.New("identity provider unavailable")
)

const MinPasswordLength = 8

type User struct {
	ID       string
	Email    string
	Username string
}

type Session struct {
	AccessToken  string
	RefreshToken string
	ExpiresAt    time.Time
	User         User
	// PendingConfirmation is set when the provider requires the email to be
	// confirmed before a session can be issued.
	PendingConfirmation bool
}

type SignUpRequest struct {
	Email    string
	Password string
	Username string
}

type Provider interface {
	SignUp(ctx context.Context, req SignUpRequest) (Session, error)
	SignIn(ctx context.Context, email, password string) (Session, error)
	Verify(ctx context.Context, accessToken string) (User, error)
	SignOut(ctx context.Context, accessToken string) error
	UpdatePassword(ctx context.Context, accessToken, currentPassword, newPassword string) error
	RequestPasswordReset(ctx context.Context, email string) error
}
