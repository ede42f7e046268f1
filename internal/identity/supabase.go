package identity

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/supabase-community/gotrue-go"
	"github.com/supabase-community/gotrue-go/types"
	"go.uber.org/zap"

	"quire/api/internal/auth"
)

// Supabase delegates every identity operation to a GoTrue server. When the
// project JWT secret is known, access tokens are verified locally instead of
// round-tripping to /user.
type Supabase struct {
	client    gotrue.Client
	jwtSecret []byte
	logger    *zap.Logger
}

var _ Provider = (*Supabase)(nil)

func NewSupabase(client gotrue.Client, jwtSecret string, logger *zap.Logger) *Supabase {
	s := &Supabase{client: client, logger: logger}
	if jwtSecret != "" {
		s.jwtSecret = []byte(jwtSecret)
	}
	return s
}

func (s *Supabase) SignUp(ctx context.Context, req SignUpRequest) (Session, error) {
	email := strings.TrimSpace(req.Email)
	if email == "" || req.Password == "" {
		return Session{}, ErrInvalidCredentials
	}
	if len(req.Password) < MinPasswordLength {
		return Session{}, ErrWeakPassword
	}

	signup := types.SignupRequest{Email: email, Password: req.Password}
	if username := strings.TrimSpace(req.Username); username != "" {
		signup.Data = map[string]interface{}{"username": username}
	}
	if _, err := s.client.Signup(signup); err != nil {
		return Session{}, classify(err)
	}

	// GoTrue only returns a session from /signup when autoconfirm is on, so
	// sign in explicitly and report a pending confirmation otherwise.
	sess, err := s.SignIn(ctx, email, req.Password)
	if err != nil {
		if errors.Is(err, ErrInvalidCredentials) {
			return Session{
				User:                User{Email: email, Username: strings.TrimSpace(req.Username)},
				PendingConfirmation: true,
			}, nil
		}
		return Session{}, err
	}
	return sess, nil
}

func (s *Supabase) SignIn(_ context.Context, email, password string) (Session, error) {
	if strings.TrimSpace(email) == "" || password == "" {
		return Session{}, ErrInvalidCredentials
	}
	resp, err := s.client.SignInWithEmailPassword(strings.TrimSpace(email), password)
	if err != nil {
		return Session{}, classify(err)
	}
	return fromSession(resp.Session), nil
}

func (s *Supabase) Verify(_ context.Context, accessToken string) (User, error) {
	if s.jwtSecret != nil {
		claims, err := auth.ParseToken(s.jwtSecret, accessToken)
		if err != nil {
			return User{}, ErrInvalidSession
		}
		return User{ID: claims.Subject, Email: claims.Email, Username: claims.Username()}, nil
	}

	if strings.TrimSpace(accessToken) == "" {
		return User{}, ErrInvalidSession
	}
	resp, err := s.client.WithToken(accessToken).GetUser()
	if err != nil {
		if err := classify(err); errors.Is(err, ErrUnavailable) {
			return User{}, err
		}
		return User{}, ErrInvalidSession
	}
	return fromUser(resp.User), nil
}

func (s *Supabase) SignOut(_ context.Context, accessToken string) error {
	if strings.TrimSpace(accessToken) == "" {
		return nil
	}
	if err := s.client.WithToken(accessToken).Logout(); err != nil {
		if err := classify(err); errors.Is(err, ErrUnavailable) {
			return err
		}
	}
	return nil
}

func (s *Supabase) UpdatePassword(ctx context.Context, accessToken, currentPassword, newPassword string) error {
	user, err := s.Verify(ctx, accessToken)
	if err != nil {
		return err
	}
	if len(newPassword) < MinPasswordLength {
		return ErrWeakPassword
	}
	// GoTrue does not check the current password on /user, so confirm it
	// with a password grant first.
	if _, err := s.client.SignInWithEmailPassword(user.Email, currentPassword); err != nil {
		return classify(err)
	}
	if _, err := s.client.WithToken(accessToken).UpdateUser(types.UpdateUserRequest{Password: &newPassword}); err != nil {
		return classify(err)
	}
	return nil
}

func (s *Supabase) RequestPasswordReset(_ context.Context, email string) error {
	if err := s.client.Recover(types.RecoverRequest{Email: strings.TrimSpace(email)}); err != nil {
		err = classify(err)
		if errors.Is(err, ErrUnavailable) {
			return err
		}
		s.logger.Debug("password reset request rejected", zap.Error(err))
	}
	return nil
}

func fromSession(sess types.Session) Session {
	out := Session{
		AccessToken:  sess.AccessToken,
		RefreshToken: sess.RefreshToken,
		User:         fromUser(sess.User),
	}
	if sess.ExpiresIn > 0 {
		out.ExpiresAt = time.Now().Add(time.Duration(sess.ExpiresIn) * time.Second)
	}
	return out
}

func fromUser(user types.User) User {
	out := User{ID: user.ID.String(), Email: user.Email}
	if name, ok := user.UserMetadata["username"].(string); ok {
		out.Username = strings.TrimSpace(name)
	}
	return out
}

// classify maps GoTrue error text onto the provider errors. gotrue-go
// surfaces the HTTP status and response body only as a formatted string.
func classify(err error) error {
	if err == nil {
		return nil
	}
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "invalid_grant"),
		strings.Contains(msg, "invalid login credentials"),
		strings.Contains(msg, "email not confirmed"):
		return ErrInvalidCredentials
	case strings.Contains(msg, "already registered"),
		strings.Contains(msg, "already been registered"),
		strings.Contains(msg, "user_already_exists"):
		return ErrEmailRegistered
	case strings.Contains(msg, "weak_password"),
		strings.Contains(msg, "password should be"):
		return ErrWeakPassword
	case strings.Contains(msg, "status code 401"),
		strings.Contains(msg, "status code 403"),
		strings.Contains(msg, "bad_jwt"):
		return ErrInvalidSession
	}
	return fmt.Errorf("%w: %v", ErrUnavailable, err)
}
