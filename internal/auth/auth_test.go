package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVerifier_IssueAndVerify(t *testing.T) {
	v := NewVerifier("secret", "go-todo")

	token, err := v.Issue("U1", time.Hour)
	require.NoError(t, err)

	identity, err := v.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, "U1", identity)
}

func TestVerifier_WrongSecret(t *testing.T) {
	token, err := NewVerifier("one", "go-todo").Issue("U1", time.Hour)
	require.NoError(t, err)

	_, err = NewVerifier("two", "go-todo").Verify(token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestVerifier_Expired(t *testing.T) {
	v := NewVerifier("secret", "go-todo")
	token, err := v.Issue("U1", -time.Minute)
	require.NoError(t, err)

	_, err = v.Verify(token)
	assert.ErrorIs(t, err, ErrExpiredToken)
}

func TestMiddleware(t *testing.T) {
	v := NewVerifier("secret", "go-todo")
	var rejected error
	onError := func(w http.ResponseWriter, _ *http.Request, err error) {
		rejected = err
		w.WriteHeader(http.StatusUnauthorized)
	}
	var seen string
	h := v.Middleware(onError)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = IdentityFrom(r.Context())
	}))

	t.Run("missing header", func(t *testing.T) {
		rejected = nil
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
		assert.ErrorIs(t, rejected, ErrMissingToken)
	})

	t.Run("valid token", func(t *testing.T) {
		token, err := v.Issue("U7", time.Hour)
		require.NoError(t, err)

		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("Authorization", "Bearer "+token)
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "U7", seen)
	})
}
