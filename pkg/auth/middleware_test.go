package auth_test

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gridsplit/gridsplit/pkg/auth"
	"github.com/gridsplit/gridsplit/pkg/ledger"
)

var secret = []byte("test-signing-secret")

func signToken(t *testing.T, claims auth.Claims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(secret)
	require.NoError(t, err)
	return signed
}

func validClaims(subject string) auth.Claims {
	return auth.Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}
}

func serve(t *testing.T, token string, path string) (*httptest.ResponseRecorder, *ledger.Actor) {
	t.Helper()
	var captured *ledger.Actor
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if a, err := auth.GetActor(r.Context()); err == nil {
			captured = &a
		}
		w.WriteHeader(http.StatusOK)
	})
	mw := auth.NewMiddleware(auth.NewJWTValidator(secret))(handler)

	req := httptest.NewRequest(http.MethodGet, path, nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	mw.ServeHTTP(rec, req)
	return rec, captured
}

func TestMiddleware_ValidToken(t *testing.T) {
	claims := validClaims("alice")
	claims.Admin = true
	rec, actor := serve(t, signToken(t, claims), "/api/balance")

	require.Equal(t, http.StatusOK, rec.Code)
	require.NotNil(t, actor)
	assert.Equal(t, "alice", actor.ID)
	assert.True(t, actor.Admin)
	assert.False(t, actor.Locked)
}

func TestMiddleware_LockedClaim(t *testing.T) {
	claims := validClaims("carol")
	claims.Locked = true
	rec, actor := serve(t, signToken(t, claims), "/api/balance")

	require.Equal(t, http.StatusOK, rec.Code, "locked users still authenticate; the ledger gates writes")
	require.NotNil(t, actor)
	assert.True(t, actor.Locked)
}

func TestMiddleware_Rejections(t *testing.T) {
	expired := validClaims("alice")
	expired.ExpiresAt = jwt.NewNumericDate(time.Now().Add(-time.Hour))

	wrongKey := jwt.NewWithClaims(jwt.SigningMethodHS256, validClaims("alice"))
	wrongSigned, err := wrongKey.SignedString([]byte("other-secret"))
	require.NoError(t, err)

	cases := []struct {
		name  string
		token string
	}{
		{"missing header", ""},
		{"garbage token", "not.a.jwt"},
		{"expired", signToken(t, expired)},
		{"wrong key", wrongSigned},
		{"empty subject", signToken(t, validClaims(""))},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec, actor := serve(t, tc.token, "/api/balance")
			assert.Equal(t, http.StatusUnauthorized, rec.Code)
			assert.Nil(t, actor)
			assert.Equal(t, "application/problem+json", rec.Header().Get("Content-Type"))
		})
	}
}

func TestMiddleware_PublicPaths(t *testing.T) {
	rec, _ := serve(t, "", "/health")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestMiddleware_FailsClosedWithoutValidator(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusOK) })
	mw := auth.NewMiddleware(nil)(handler)

	req := httptest.NewRequest(http.MethodGet, "/api/balance", nil)
	req.Header.Set("Authorization", "Bearer whatever")
	rec := httptest.NewRecorder()
	mw.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestRequestIDMiddleware(t *testing.T) {
	var seen string
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = auth.GetRequestID(r.Context())
		w.WriteHeader(http.StatusOK)
	})
	mw := auth.RequestIDMiddleware(handler)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	mw.ServeHTTP(rec, req)
	assert.NotEmpty(t, seen)
	assert.Equal(t, seen, rec.Header().Get("X-Request-ID"))

	req = httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("X-Request-ID", "client-supplied")
	rec = httptest.NewRecorder()
	mw.ServeHTTP(rec, req)
	assert.Equal(t, "client-supplied", seen)
	assert.Equal(t, "client-supplied", rec.Header().Get("X-Request-ID"))
}
