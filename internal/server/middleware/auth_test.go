package middleware

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mapValidator accepts the tokens it was given
type mapValidator map[string]uuid.UUID

type testClaims struct {
	userID uuid.UUID
}

func (c *testClaims) GetUserID() uuid.UUID {
	return c.userID
}

func (v mapValidator) ValidateToken(tokenString string) (UserIDGetter, error) {
	userID, ok := v[tokenString]
	if !ok {
		return nil, fmt.Errorf("invalid token")
	}
	return &testClaims{userID: userID}, nil
}

// protected runs one request through AuthMiddleware and reports whether the
// inner handler was reached and with which user.
func protected(t *testing.T, v TokenValidator, authHeader string) (*httptest.ResponseRecorder, bool, uuid.UUID) {
	t.Helper()
	called := false
	var seen uuid.UUID
	handler := AuthMiddleware(v)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		userID, err := GetUserID(r)
		require.NoError(t, err)
		seen = userID
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/runs/x", nil)
	if authHeader != "" {
		req.Header.Set("Authorization", authHeader)
	}
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	return w, called, seen
}

func TestAuthMiddleware_ValidToken(t *testing.T) {
	userID := uuid.New()
	v := mapValidator{"good": userID}

	for _, header := range []string{"Bearer good", "bearer good", "BeArEr good", "Bearer  good"} {
		t.Run(header, func(t *testing.T) {
			w, called, seen := protected(t, v, header)
			assert.True(t, called)
			assert.Equal(t, http.StatusOK, w.Code)
			assert.Equal(t, userID, seen)
		})
	}
}

func TestAuthMiddleware_Rejects(t *testing.T) {
	v := mapValidator{"good": uuid.New()}

	tests := []struct {
		name   string
		header string
	}{
		{name: "missing header", header: ""},
		{name: "missing Bearer prefix", header: "good"},
		{name: "only Bearer", header: "Bearer"},
		{name: "other scheme", header: "Basic good"},
		{name: "extra fields", header: "Bearer good extra"},
		{name: "unknown token", header: "Bearer bad"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w, called, _ := protected(t, v, tt.header)

			assert.False(t, called, "handler should not be called")
			assert.Equal(t, http.StatusUnauthorized, w.Code)
			assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
			assert.Contains(t, w.Header().Get("WWW-Authenticate"), "Bearer")

			var body map[string]string
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
			assert.Equal(t, "UNAUTHORIZED", body["code"])
		})
	}
}

func TestWithUserID(t *testing.T) {
	userID := uuid.New()
	req := httptest.NewRequest(http.MethodGet, "/runs/x", nil)
	req = req.WithContext(WithUserID(req.Context(), userID))

	extracted, err := GetUserID(req)
	require.NoError(t, err)
	assert.Equal(t, userID, extracted)
}

func TestGetUserID_Missing(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/runs/x", nil)

	userID, err := GetUserID(req)
	assert.Error(t, err)
	assert.Equal(t, uuid.Nil, userID)
	assert.Contains(t, err.Error(), "user ID not found")
}

func TestGetUserID_RejectsNilAndWrongType(t *testing.T) {
	for name, value := range map[string]any{"nil uuid": uuid.Nil, "string": "not-a-uuid"} {
		t.Run(name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/runs/x", nil)
			req = req.WithContext(context.WithValue(req.Context(), userIDKey, value))

			_, err := GetUserID(req)
			assert.Error(t, err)
		})
	}
}
