package auth

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestAuthenticator() *Authenticator {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return NewAuthenticator("test-secret", logger)
}

func TestValidateToken(t *testing.T) {
	a := newTestAuthenticator()

	token, err := a.GenerateToken("user0", time.Hour)
	require.NoError(t, err)

	username, err := a.ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, "user0", username)
}

func TestValidateTokenRejectsWrongSecret(t *testing.T) {
	a := newTestAuthenticator()
	other := NewAuthenticator("different-secret", logrus.New())

	token, err := other.GenerateToken("user0", time.Hour)
	require.NoError(t, err)

	_, err = a.ValidateToken(token)
	assert.Error(t, err)
}

func TestValidateTokenRejectsExpired(t *testing.T) {
	a := newTestAuthenticator()

	token, err := a.GenerateToken("user0", -time.Minute)
	require.NoError(t, err)

	_, err = a.ValidateToken(token)
	assert.Error(t, err)
}

func TestValidateTokenRejectsGarbage(t *testing.T) {
	a := newTestAuthenticator()

	_, err := a.ValidateToken("not-a-token")
	assert.Error(t, err)
}

func TestRequireAuth(t *testing.T) {
	a := newTestAuthenticator()

	var gotUsername string
	var gotOK bool
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUsername, gotOK = GetUsernameFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	})

	token, err := a.GenerateToken("user0", time.Hour)
	require.NoError(t, err)

	tests := []struct {
		name       string
		authHeader string
		expectCode int
	}{
		{
			name:       "valid bearer token",
			authHeader: "Bearer " + token,
			expectCode: http.StatusOK,
		},
		{
			name:       "bearer scheme is case-insensitive",
			authHeader: "bearer " + token,
			expectCode: http.StatusOK,
		},
		{
			name:       "missing header",
			authHeader: "",
			expectCode: http.StatusUnauthorized,
		},
		{
			name:       "wrong scheme",
			authHeader: "Basic dXNlcjpwYXNz",
			expectCode: http.StatusUnauthorized,
		},
		{
			name:       "bearer without token",
			authHeader: "Bearer",
			expectCode: http.StatusUnauthorized,
		},
		{
			name:       "invalid token",
			authHeader: "Bearer garbage",
			expectCode: http.StatusUnauthorized,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gotUsername, gotOK = "", false

			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.authHeader != "" {
				req.Header.Set("Authorization", tt.authHeader)
			}
			rr := httptest.NewRecorder()

			a.RequireAuth(next).ServeHTTP(rr, req)

			assert.Equal(t, tt.expectCode, rr.Code)
			if tt.expectCode == http.StatusOK {
				assert.True(t, gotOK)
				assert.Equal(t, "user0", gotUsername)
			}
		})
	}
}

func TestGetUsernameFromContextMissing(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	_, ok := GetUsernameFromContext(req.Context())
	assert.False(t, ok)
}
