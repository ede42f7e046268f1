package identity

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"quire/api/internal/auth"
	"quire/api/internal/store"
	"quire/api/internal/util"
)

// Revocations tracks signed-out token ids.
type Revocations interface {
	RevokeToken(ctx context.Context, tokenID string, expiresAt time.Time) error
	IsTokenRevoked(ctx context.Context, tokenID string) (bool, error)
}

// Local authenticates against bcrypt hashes in the CredentialStore and issues
// HS256 access tokens with the same claim layout GoTrue uses.
type Local struct {
	store   store.CredentialStore
	revoked Revocations
	secret  []byte
	ttl     time.Duration
	logger  *zap.Logger
}

var _ Provider = (*Local)(nil)

func NewLocal(credentials store.CredentialStore, revoked Revocations, secret string, ttl time.Duration, logger *zap.Logger) *Local {
	return &Local{
		store:   credentials,
		revoked: revoked,
		secret:  []byte(secret),
		ttl:     ttl,
		logger:  logger,
	}
}

func (l *Local) SignUp(ctx context.Context, req SignUpRequest) (Session, error) {
	email := strings.TrimSpace(req.Email)
	if email == "" || req.Password == "" {
		return Session{}, ErrInvalidCredentials
	}
	if len(req.Password) < MinPasswordLength {
		return Session{}, ErrWeakPassword
	}

	if _, err := l.store.GetProfileByEmail(ctx, email); err == nil {
		return Session{}, ErrEmailRegistered
	} else if !errors.Is(err, store.ErrNotFound) {
		return Session{}, fmt.Errorf("%w: lookup email: %v", ErrUnavailable, err)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		return Session{}, fmt.Errorf("hash password: %w", err)
	}

	profile, err := l.store.CreateUser(ctx, store.Profile{
		ID:        util.NewID(""),
		Email:     email,
		Username:  strings.TrimSpace(req.Username),
		CreatedAt: time.Now().UTC(),
	}, string(hash))
	if err != nil {
		if errors.Is(err, store.ErrConflict) {
			return Session{}, ErrEmailRegistered
		}
		return Session{}, fmt.Errorf("%w: create user: %v", ErrUnavailable, err)
	}
	return l.issue(profile)
}

func (l *Local) SignIn(ctx context.Context, email, password string) (Session, error) {
	if strings.TrimSpace(email) == "" || password == "" {
		return Session{}, ErrInvalidCredentials
	}
	profile, err := l.store.GetProfileByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return Session{}, ErrInvalidCredentials
		}
		return Session{}, fmt.Errorf("%w: lookup email: %v", ErrUnavailable, err)
	}
	if err := l.checkPassword(ctx, profile.ID, password); err != nil {
		return Session{}, err
	}
	return l.issue(profile)
}

func (l *Local) Verify(ctx context.Context, accessToken string) (User, error) {
	claims, err := l.parse(ctx, accessToken)
	if err != nil {
		return User{}, err
	}
	return User{ID: claims.Subject, Email: claims.Email, Username: claims.Username()}, nil
}

func (l *Local) SignOut(ctx context.Context, accessToken string) error {
	claims, err := l.parse(ctx, accessToken)
	if err != nil {
		// Signing out an already dead session is not an error.
		if errors.Is(err, ErrInvalidSession) {
			return nil
		}
		return err
	}
	if claims.ID == "" || claims.ExpiresAt == nil {
		return nil
	}
	if err := l.revoked.RevokeToken(ctx, claims.ID, claims.ExpiresAt.Time); err != nil {
		return fmt.Errorf("%w: revoke token: %v", ErrUnavailable, err)
	}
	return nil
}

func (l *Local) UpdatePassword(ctx context.Context, accessToken, currentPassword, newPassword string) error {
	claims, err := l.parse(ctx, accessToken)
	if err != nil {
		return err
	}
	if len(newPassword) < MinPasswordLength {
		return ErrWeakPassword
	}
	if err := l.checkPassword(ctx, claims.Subject, currentPassword); err != nil {
		return err
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(newPassword), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}
	if err := l.store.UpdatePasswordHash(ctx, claims.Subject, string(hash)); err != nil {
		return fmt.Errorf("%w: update password: %v", ErrUnavailable, err)
	}
	return nil
}

// RequestPasswordReset never reveals whether the email exists. Delivering the
// reset link is left to an outside mailer, so the request is only logged.
func (l *Local) RequestPasswordReset(ctx context.Context, email string) error {
	if _, err := l.store.GetProfileByEmail(ctx, email); err != nil {
		return nil
	}
	l.logger.Info("password reset requested; no mailer configured", zap.String("email", email))
	return nil
}

func (l *Local) checkPassword(ctx context.Context, userID, password string) error {
	hash, err := l.store.GetPasswordHash(ctx, userID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return ErrInvalidCredentials
		}
		return fmt.Errorf("%w: lookup credentials: %v", ErrUnavailable, err)
	}
	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)); err != nil {
		return ErrInvalidCredentials
	}
	return nil
}

func (l *Local) parse(ctx context.Context, accessToken string) (auth.Claims, error) {
	claims, err := auth.ParseToken(l.secret, accessToken)
	if err != nil {
		return auth.Claims{}, ErrInvalidSession
	}
	if claims.ID != "" {
		revoked, err := l.revoked.IsTokenRevoked(ctx, claims.ID)
		if err != nil {
			return auth.Claims{}, fmt.Errorf("%w: check revocation: %v", ErrUnavailable, err)
		}
		if revoked {
			return auth.Claims{}, ErrInvalidSession
		}
	}
	return claims, nil
}

func (l *Local) issue(profile store.Profile) (Session, error) {
	claims := auth.NewClaims(profile.ID, profile.Email, profile.Username, util.NewID(""), l.ttl)
	token, err := auth.IssueToken(l.secret, claims)
	if err != nil {
		return Session{}, err
	}
	return Session{
		AccessToken: token,
		ExpiresAt:   claims.ExpiresAt.Time,
		User:        User{ID: profile.ID, Email: profile.Email, Username: profile.Username},
	}, nil
}
