package app

import (
	"net/http"

	"quire/api/internal/identity"
)

type signUpRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
	Username string `json:"username" validate:"omitempty,max=40"`
}

type signInRequest struct {
	Email    string `json:"email" validate:"required"`
	Password string `json:"password" validate:"required"`
}

type updatePasswordRequest struct {
	CurrentPassword string `json:"currentPassword" validate:"required"`
	NewPassword     string `json:"newPassword" validate:"required"`
}

type resetRequest struct {
	Email string `json:"email" validate:"required,email"`
}

func sessionPayload(session identity.Session) map[string]any {
	payload := map[string]any{
		"accessToken":         session.AccessToken,
		"refreshToken":        session.RefreshToken,
		"user":                principalPayload(principalFromUser(session.User)),
		"pendingConfirmation": session.PendingConfirmation,
	}
	if !session.ExpiresAt.IsZero() {
		payload["expiresAt"] = session.ExpiresAt.Unix()
	}
	return payload
}

func (s *HTTPServer) handleSignUp(w http.ResponseWriter, r *http.Request) {
	var body signUpRequest
	if !s.decodeBody(w, r, &body) {
		return
	}
	session, err := s.service.SignUp(r.Context(), body.Email, body.Password, body.Username)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, sessionPayload(session))
}

func (s *HTTPServer) handleSignIn(w http.ResponseWriter, r *http.Request) {
	var body signInRequest
	if !s.decodeBody(w, r, &body) {
		return
	}
	session, err := s.service.SignIn(r.Context(), body.Email, body.Password)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sessionPayload(session))
}

func (s *HTTPServer) handleSignOut(w http.ResponseWriter, r *http.Request) {
	if token := bearerToken(r); token != "" {
		if err := s.service.SignOut(r.Context(), token); err != nil {
			writeDomainError(w, err)
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *HTTPServer) handleSession(w http.ResponseWriter, r *http.Request) {
	user := principalFrom(r)
	if user == nil {
		writeJSON(w, http.StatusOK, map[string]any{"authenticated": false, "user": nil})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"authenticated": true, "user": principalPayload(user)})
}

func (s *HTTPServer) handleUpdatePassword(w http.ResponseWriter, r *http.Request) {
	if s.requireUser(w, r) == nil {
		return
	}
	var body updatePasswordRequest
	if !s.decodeBody(w, r, &body) {
		return
	}
	if err := s.service.UpdatePassword(r.Context(), bearerToken(r), body.CurrentPassword, body.NewPassword); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

// handleRequestReset answers the same way whether or not the email exists.
func (s *HTTPServer) handleRequestReset(w http.ResponseWriter, r *http.Request) {
	var body resetRequest
	if !s.decodeBody(w, r, &body) {
		return
	}
	if err := s.service.RequestPasswordReset(r.Context(), body.Email); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"ok":      true,
		"message": "If an account exists for that email, a reset link is on its way",
	})
}
