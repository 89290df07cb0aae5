package observability_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gridsplit/gridsplit/pkg/observability"
)

func noopProvider(t *testing.T) *observability.Provider {
	t.Helper()
	cfg := observability.DefaultConfig()
	p, err := observability.Init(context.Background(), cfg)
	require.NoError(t, err)
	return p
}

func TestMiddleware_PassesThrough(t *testing.T) {
	p := noopProvider(t)
	handler := p.Middleware(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusCreated)
	}))

	req := httptest.NewRequest(http.MethodPost, "/api/purchases", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusCreated, rec.Code)
}

func TestMiddleware_ServerError(t *testing.T) {
	p := noopProvider(t)
	handler := p.Middleware(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/balance", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestStartOperation(t *testing.T) {
	p := noopProvider(t)
	ctx, done := p.StartOperation(context.Background(), "create_purchase")
	require.NotNil(t, ctx)
	done(nil)

	_, done = p.StartOperation(context.Background(), "create_contribution")
	done(context.DeadlineExceeded)
}

func TestShutdown_NoopProviders(t *testing.T) {
	p := noopProvider(t)
	require.NoError(t, p.Shutdown(context.Background()))
}
