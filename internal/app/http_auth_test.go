package app

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSignUpSignInSignOutFlow(t *testing.T) {
	_, handler := newTestHTTP(t)

	rr, body := doJSON(t, handler, http.MethodPost, "/api/auth/signup", "", map[string]any{
		"email": "dana@x.com", "password": "correct horse", "username": "dana",
	})
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	assert.NotEmpty(t, body["accessToken"])
	assert.Equal(t, false, body["pendingConfirmation"])
	user := body["user"].(map[string]any)
	assert.Equal(t, "dana", user["displayName"])

	rr, body = doJSON(t, handler, http.MethodPost, "/api/auth/signin", "", map[string]any{
		"email": "dana@x.com", "password": "correct horse",
	})
	require.Equal(t, http.StatusOK, rr.Code)
	token := body["accessToken"].(string)

	rr, body = doJSON(t, handler, http.MethodGet, "/api/session", token, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, true, body["authenticated"])

	rr, _ = doJSON(t, handler, http.MethodPost, "/api/auth/signout", token, nil)
	require.Equal(t, http.StatusOK, rr.Code)

	rr, body = doJSON(t, handler, http.MethodGet, "/api/session", token, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, false, body["authenticated"])
}

func TestSignUpErrors(t *testing.T) {
	_, handler := newTestHTTP(t)

	tests := []struct {
		name   string
		body   map[string]any
		status int
		code   string
	}{
		{"missing email", map[string]any{"password": "correct horse"}, http.StatusUnprocessableEntity, "VALIDATION_ERROR"},
		{"bad email", map[string]any{"email": "dana", "password": "correct horse"}, http.StatusUnprocessableEntity, "VALIDATION_ERROR"},
		{"weak password", map[string]any{"email": "dana@x.com", "password": "short"}, http.StatusUnprocessableEntity, "WEAK_PASSWORD"},
		{"taken email", map[string]any{"email": "ALICE@x.com", "password": "correct horse"}, http.StatusConflict, "EMAIL_EXISTS"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr, body := doJSON(t, handler, http.MethodPost, "/api/auth/signup", "", tt.body)
			assert.Equal(t, tt.status, rr.Code)
			assert.Equal(t, tt.code, body["code"])
		})
	}
}

func TestSignUpValidationNamesJSONFields(t *testing.T) {
	_, handler := newTestHTTP(t)
	_, body := doJSON(t, handler, http.MethodPost, "/api/auth/signup", "", map[string]any{"password": "correct horse"})
	assert.Equal(t, "email is required", body["error"])
}

func TestSignInRejectsBadCredentials(t *testing.T) {
	_, handler := newTestHTTP(t)

	rr, body := doJSON(t, handler, http.MethodPost, "/api/auth/signin", "", map[string]any{
		"email": "nobody@x.com", "password": "whatever1",
	})
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
	assert.Equal(t, "INVALID_CREDENTIALS", body["code"])
}

func TestUpdatePasswordRequiresSession(t *testing.T) {
	_, handler := newTestHTTP(t)

	rr, body := doJSON(t, handler, http.MethodPost, "/api/auth/password", "", map[string]any{
		"currentPassword": "a", "newPassword": "b",
	})
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
	assert.Equal(t, "AUTHENTICATION_REQUIRED", body["code"])
}

func TestUpdatePassword(t *testing.T) {
	_, handler := newTestHTTP(t)
	_, body := doJSON(t, handler, http.MethodPost, "/api/auth/signup", "", map[string]any{
		"email": "dana@x.com", "password": "correct horse",
	})
	token := body["accessToken"].(string)

	rr, body := doJSON(t, handler, http.MethodPost, "/api/auth/password", token, map[string]any{
		"currentPassword": "wrong horse", "newPassword": "battery staple",
	})
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
	assert.Equal(t, "INVALID_CREDENTIALS", body["code"])

	rr, _ = doJSON(t, handler, http.MethodPost, "/api/auth/password", token, map[string]any{
		"currentPassword": "correct horse", "newPassword": "battery staple",
	})
	require.Equal(t, http.StatusOK, rr.Code)

	rr, _ = doJSON(t, handler, http.MethodPost, "/api/auth/signin", "", map[string]any{
		"email": "dana@x.com", "password": "battery staple",
	})
	assert.Equal(t, http.StatusOK, rr.Code)
}

func TestRequestResetDoesNotRevealAccounts(t *testing.T) {
	_, handler := newTestHTTP(t)

	known, knownBody := doJSON(t, handler, http.MethodPost, "/api/auth/reset-password/request", "", map[string]any{"email": "alice@x.com"})
	unknown, unknownBody := doJSON(t, handler, http.MethodPost, "/api/auth/reset-password/request", "", map[string]any{"email": "nobody@x.com"})
	assert.Equal(t, http.StatusOK, known.Code)
	assert.Equal(t, known.Code, unknown.Code)
	assert.Equal(t, knownBody, unknownBody)
}

func TestBadTokenLeavesRequestAnonymous(t *testing.T) {
	f, handler := newTestHTTP(t)
	f.create(t, alice, "Handbook", true)

	rr, body := doJSON(t, handler, http.MethodGet, "/api/documents", "not-a-token", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Len(t, body["documents"], 1)

	rr, body = doJSON(t, handler, http.MethodPost, "/api/documents", "not-a-token", map[string]any{"title": "x"})
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
	assert.Equal(t, "AUTHENTICATION_REQUIRED", body["code"])
}
