package app

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"quire/api/internal/identity"
)

func principalFromUser(user identity.User) *Principal {
	return &Principal{ID: user.ID, Email: user.Email, Username: user.Username}
}

func (s *Service) SignUp(ctx context.Context, email, password, username string) (identity.Session, error) {
	session, err := s.identity.SignUp(ctx, identity.SignUpRequest{
		Email:    email,
		Password: password,
		Username: username,
	})
	if err != nil {
		s.logIdentityFailure("sign_up", err)
		return identity.Session{}, identityError(err)
	}
	s.logger.Info("user signed up", zap.String("userId", session.User.ID), zap.Bool("pendingConfirmation", session.PendingConfirmation))
	return session, nil
}

func (s *Service) SignIn(ctx context.Context, email, password string) (identity.Session, error) {
	session, err := s.identity.SignIn(ctx, email, password)
	if err != nil {
		s.logIdentityFailure("sign_in", err)
		return identity.Session{}, identityError(err)
	}
	return session, nil
}

func (s *Service) SignOut(ctx context.Context, accessToken string) error {
	if err := s.identity.SignOut(ctx, accessToken); err != nil {
		s.logIdentityFailure("sign_out", err)
		return identityError(err)
	}
	return nil
}

// Authenticate resolves an access token to the caller.
func (s *Service) Authenticate(ctx context.Context, accessToken string) (*Principal, error) {
	if strings.TrimSpace(accessToken) == "" {
		return nil, ErrAuthenticationRequired
	}
	user, err := s.identity.Verify(ctx, accessToken)
	if err != nil {
		s.logIdentityFailure("verify", err)
		return nil, identityError(err)
	}
	return principalFromUser(user), nil
}

func (s *Service) UpdatePassword(ctx context.Context, accessToken, currentPassword, newPassword string) error {
	if err := s.identity.UpdatePassword(ctx, accessToken, currentPassword, newPassword); err != nil {
		s.logIdentityFailure("update_password", err)
		return identityError(err)
	}
	return nil
}

func (s *Service) RequestPasswordReset(ctx context.Context, email string) error {
	if err := s.identity.RequestPasswordReset(ctx, email); err != nil {
		s.logIdentityFailure("reset_password", err)
		return identityError(err)
	}
	return nil
}

func (s *Service) logIdentityFailure(operation string, err error) {
	if identityError(err) != ErrBackendUnavailable {
		return
	}
	s.metrics.BackendFailure("identity_" + operation)
	s.logger.Error("identity provider call failed", zap.String("operation", operation), zap.Error(err))
}
