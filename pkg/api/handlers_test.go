package api_test

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gridsplit/gridsplit/pkg/api"
	"github.com/gridsplit/gridsplit/pkg/audit"
	"github.com/gridsplit/gridsplit/pkg/auth"
	"github.com/gridsplit/gridsplit/pkg/ledger"
	"github.com/gridsplit/gridsplit/pkg/service"
	"github.com/gridsplit/gridsplit/pkg/store"
)

var (
	alice = ledger.Actor{ID: "alice"}
	admin = ledger.Actor{ID: "root", Admin: true}
)

type testServer struct {
	mux   *http.ServeMux
	svc   *service.Service
	chain *audit.Chain
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	st := store.NewMemoryStore()
	require.NoError(t, st.Init(context.Background(), decimal.RequireFromString("900")))

	chain := audit.NewChain()
	now := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	var idSeq int
	svc := service.New(st, chain,
		service.WithClock(func() time.Time {
			now = now.Add(time.Minute)
			return now
		}),
		service.WithIDGenerator(func() string {
			idSeq++
			return fmt.Sprintf("id-%d", idSeq)
		}),
	)

	srv, err := api.NewServer(svc)
	require.NoError(t, err)
	srv.WithAuditChain(chain, discardArchiver{})
	return &testServer{mux: srv.Routes(), svc: svc, chain: chain}
}

type discardArchiver struct{}

func (discardArchiver) Store(_ context.Context, _ []byte) (string, error) {
	return "sha256:archived", nil
}

func (ts *testServer) do(method, path, body string, actor *ledger.Actor) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if actor != nil {
		req = req.WithContext(auth.WithActor(req.Context(), *actor))
	}
	rec := httptest.NewRecorder()
	ts.mux.ServeHTTP(rec, req)
	return rec
}

func (ts *testServer) createPurchase(t *testing.T, tokens, payment, reading string, day int) string {
	t.Helper()
	body := fmt.Sprintf(`{"total_tokens":%q,"total_payment":%q,"meter_reading":%q,"purchase_date":"2024-03-%02dT12:00:00Z"}`,
		tokens, payment, reading, day)
	rec := ts.do(http.MethodPost, "/api/purchases", body, &alice)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var p ledger.Purchase
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &p))
	return p.ID
}

func TestHealth(t *testing.T) {
	ts := newTestServer(t)
	rec := ts.do(http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestCreatePurchase(t *testing.T) {
	ts := newTestServer(t)
	id := ts.createPurchase(t, "100", "50", "1000", 1)
	assert.NotEmpty(t, id)
}

func TestCreatePurchase_Unauthorized(t *testing.T) {
	ts := newTestServer(t)
	rec := ts.do(http.MethodPost, "/api/purchases", `{}`, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "application/problem+json", rec.Header().Get("Content-Type"))
}

func TestCreatePurchase_SchemaRejections(t *testing.T) {
	ts := newTestServer(t)
	cases := []struct {
		name string
		body string
	}{
		{"not json", `{{`},
		{"missing fields", `{"total_tokens":"100"}`},
		{"non-decimal amount", `{"total_tokens":"abc","total_payment":"50","meter_reading":"1000","purchase_date":"2024-03-01T12:00:00Z"}`},
		{"unknown field", `{"total_tokens":"100","total_payment":"50","meter_reading":"1000","purchase_date":"2024-03-01T12:00:00Z","extra":1}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := ts.do(http.MethodPost, "/api/purchases", tc.body, &alice)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
		})
	}
}

func TestCreatePurchase_ValidationProblem(t *testing.T) {
	ts := newTestServer(t)
	body := `{"total_tokens":"0","total_payment":"50","meter_reading":"1000","purchase_date":"2024-03-01T12:00:00Z"}`
	rec := ts.do(http.MethodPost, "/api/purchases", body, &alice)
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	var problem api.ProblemDetail
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &problem))
	assert.Equal(t, "Validation Failed", problem.Title)
	assert.Equal(t, "total_tokens", problem.Field)
	assert.Equal(t, "/api/purchases", problem.Instance)
}

func TestCreateContribution(t *testing.T) {
	ts := newTestServer(t)
	id := ts.createPurchase(t, "100", "50", "1000", 1)

	body := fmt.Sprintf(`{"purchase_id":%q,"amount":"60"}`, id)
	rec := ts.do(http.MethodPost, "/api/contributions", body, &alice)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var view struct {
		Contribution ledger.Contribution `json:"contribution"`
		Allocation   struct {
			TokensConsumed  string `json:"tokens_consumed"`
			TrueCost        string `json:"true_cost"`
			TrueCostDisplay string `json:"true_cost_display"`
			Overpayment     string `json:"overpayment"`
		} `json:"allocation"`
		RunningBalance string `json:"running_balance"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &view))
	assert.Equal(t, "alice", view.Contribution.UserID, "user defaults to the actor")
	assert.Equal(t, "100", view.Allocation.TokensConsumed)
	assert.Equal(t, "50", view.Allocation.TrueCost)
	assert.Equal(t, "50.00", view.Allocation.TrueCostDisplay)
	assert.Equal(t, "10", view.Allocation.Overpayment)
	assert.Equal(t, "10", view.RunningBalance)
}

func TestCreateContribution_SequencingConflict(t *testing.T) {
	ts := newTestServer(t)
	p1 := ts.createPurchase(t, "100", "50", "1000", 1)
	p2 := ts.createPurchase(t, "50", "25", "1050", 10)

	body := fmt.Sprintf(`{"purchase_id":%q,"amount":"25"}`, p2)
	rec := ts.do(http.MethodPost, "/api/contributions", body, &alice)
	require.Equal(t, http.StatusConflict, rec.Code)

	var problem api.ProblemDetail
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &problem))
	assert.Equal(t, "Sequencing Violation", problem.Title)
	assert.Equal(t, []string{p1}, problem.BlockingPurchaseIDs)
}

func TestDeletePurchase_NotFound(t *testing.T) {
	ts := newTestServer(t)
	rec := ts.do(http.MethodDelete, "/api/purchases/nope", "", &alice)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestEditContribution_Forbidden(t *testing.T) {
	ts := newTestServer(t)
	id := ts.createPurchase(t, "100", "50", "1000", 1)
	body := fmt.Sprintf(`{"purchase_id":%q,"amount":"60"}`, id)
	rec := ts.do(http.MethodPost, "/api/contributions", body, &alice)
	require.Equal(t, http.StatusCreated, rec.Code)
	var view struct {
		Contribution ledger.Contribution `json:"contribution"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &view))

	bob := ledger.Actor{ID: "bob"}
	rec = ts.do(http.MethodPatch, "/api/contributions/"+view.Contribution.ID, `{"amount":"70"}`, &bob)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestApplyReading_EndToEnd(t *testing.T) {
	ts := newTestServer(t)
	p1 := ts.createPurchase(t, "100", "50", "1000", 1)
	ts.createPurchase(t, "50", "25", "1050", 10)
	body := fmt.Sprintf(`{"purchase_id":%q,"amount":"60"}`, p1)
	rec := ts.do(http.MethodPost, "/api/contributions", body, &alice)
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = ts.do(http.MethodPost, "/api/purchases/"+p1+"/reading/preview", `{"new_reading":"980"}`, &alice)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = ts.do(http.MethodPost, "/api/purchases/"+p1+"/reading", `{"new_reading":"980"}`, &alice)
	assert.Equal(t, http.StatusForbidden, rec.Code, "apply is admin only")

	rec = ts.do(http.MethodPost, "/api/purchases/"+p1+"/reading", `{"new_reading":"980"}`, &admin)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
}

func TestBalance(t *testing.T) {
	ts := newTestServer(t)
	id := ts.createPurchase(t, "100", "50", "1000", 1)
	body := fmt.Sprintf(`{"purchase_id":%q,"amount":"60"}`, id)
	rec := ts.do(http.MethodPost, "/api/contributions", body, &alice)
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = ts.do(http.MethodGet, "/api/balance", "", &alice)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "10", resp["running_balance"])
	assert.Equal(t, "10.00", resp["running_balance_display"])
}

func TestAuditEndpoints_AdminOnly(t *testing.T) {
	ts := newTestServer(t)
	ts.createPurchase(t, "100", "50", "1000", 1)

	rec := ts.do(http.MethodGet, "/api/audit/verify", "", &alice)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = ts.do(http.MethodGet, "/api/audit/verify", "", &admin)
	require.Equal(t, http.StatusOK, rec.Code)
	var verify map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &verify))
	assert.Equal(t, true, verify["intact"])

	rec = ts.do(http.MethodPost, "/api/audit/export", "", &admin)
	require.Equal(t, http.StatusOK, rec.Code)
	var export map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &export))
	assert.Equal(t, "sha256:archived", export["bundle_hash"])
}
