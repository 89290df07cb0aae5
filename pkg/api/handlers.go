package api

import (
	"fmt"
	"net/http"
	"time"

	"github.com/shopspring/decimal"

	"github.com/gridsplit/gridsplit/pkg/audit"
	"github.com/gridsplit/gridsplit/pkg/auth"
	"github.com/gridsplit/gridsplit/pkg/ledger"
	"github.com/gridsplit/gridsplit/pkg/service"
)

// Server routes HTTP requests into the ledger service.
type Server struct {
	svc      *service.Service
	schemas  *requestSchemas
	chain    *audit.Chain
	archiver audit.Archiver
}

// NewServer creates the HTTP adapter over the ledger service.
func NewServer(svc *service.Service) (*Server, error) {
	schemas, err := compileSchemas()
	if err != nil {
		return nil, err
	}
	return &Server{svc: svc, schemas: schemas}, nil
}

// Routes registers the ledger endpoints on a fresh mux.
func (s *Server) Routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("POST /api/purchases", s.handleCreatePurchase)
	mux.HandleFunc("DELETE /api/purchases/{id}", s.handleDeletePurchase)
	mux.HandleFunc("POST /api/purchases/{id}/reading/preview", s.handlePreviewReading)
	mux.HandleFunc("POST /api/purchases/{id}/reading", s.handleApplyReading)
	mux.HandleFunc("POST /api/contributions", s.handleCreateContribution)
	mux.HandleFunc("PATCH /api/contributions/{id}", s.handleEditContribution)
	mux.HandleFunc("DELETE /api/contributions/{id}", s.handleDeleteContribution)
	mux.HandleFunc("GET /api/balance", s.handleBalance)
	mux.HandleFunc("GET /api/audit/verify", s.handleAuditVerify)
	mux.HandleFunc("POST /api/audit/export", s.handleAuditExport)
	return mux
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func actorFrom(w http.ResponseWriter, r *http.Request) (ledger.Actor, bool) {
	actor, err := auth.GetActor(r.Context())
	if err != nil {
		WriteError(w, http.StatusUnauthorized, "Unauthorized", "no authenticated actor")
		return ledger.Actor{}, false
	}
	return actor, true
}

func parseDecimal(w http.ResponseWriter, field, value string) (decimal.Decimal, bool) {
	d, err := decimal.NewFromString(value)
	if err != nil {
		WriteBadRequest(w, fmt.Sprintf("%s is not a valid decimal", field))
		return decimal.Zero, false
	}
	return d, true
}

type createPurchaseRequest struct {
	TotalTokens  string    `json:"total_tokens"`
	TotalPayment string    `json:"total_payment"`
	MeterReading string    `json:"meter_reading"`
	PurchaseDate time.Time `json:"purchase_date"`
	IsEmergency  bool      `json:"is_emergency"`
}

func (s *Server) handleCreatePurchase(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(w, r)
	if !ok {
		return
	}
	var req createPurchaseRequest
	if !decodeValidated(w, r, s.schemas.createPurchase, &req) {
		return
	}
	tokens, ok := parseDecimal(w, "total_tokens", req.TotalTokens)
	if !ok {
		return
	}
	payment, ok := parseDecimal(w, "total_payment", req.TotalPayment)
	if !ok {
		return
	}
	reading, ok := parseDecimal(w, "meter_reading", req.MeterReading)
	if !ok {
		return
	}

	p, err := s.svc.CreatePurchase(r.Context(), service.CreatePurchaseInput{
		TotalTokens:  tokens,
		TotalPayment: payment,
		MeterReading: reading,
		PurchaseDate: req.PurchaseDate,
		IsEmergency:  req.IsEmergency,
	}, actor)
	if err != nil {
		WriteLedgerError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, p)
}

func (s *Server) handleDeletePurchase(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(w, r)
	if !ok {
		return
	}
	if err := s.svc.DeletePurchase(r.Context(), r.PathValue("id"), actor); err != nil {
		WriteLedgerError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type createContributionRequest struct {
	PurchaseID     string `json:"purchase_id"`
	UserID         string `json:"user_id"`
	Amount         string `json:"amount"`
	Override       bool   `json:"override"`
	OverrideReason string `json:"override_reason"`
}

func (s *Server) handleCreateContribution(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(w, r)
	if !ok {
		return
	}
	var req createContributionRequest
	if !decodeValidated(w, r, s.schemas.createContribution, &req) {
		return
	}
	amount, ok := parseDecimal(w, "amount", req.Amount)
	if !ok {
		return
	}
	userID := req.UserID
	if userID == "" {
		userID = actor.ID
	}

	result, err := s.svc.CreateContribution(r.Context(), service.CreateContributionInput{
		PurchaseID:     req.PurchaseID,
		UserID:         userID,
		Amount:         amount,
		Override:       req.Override,
		OverrideReason: req.OverrideReason,
	}, actor)
	if err != nil {
		WriteLedgerError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, contributionView{
		Contribution:   result.Contribution,
		Allocation:     renderAllocation(result.Allocation),
		Warnings:       result.Warnings,
		RunningBalance: result.RunningBalance.Round(2).String(),
	})
}

type editContributionRequest struct {
	Amount string `json:"amount"`
}

func (s *Server) handleEditContribution(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(w, r)
	if !ok {
		return
	}
	var req editContributionRequest
	if !decodeValidated(w, r, s.schemas.editContribution, &req) {
		return
	}
	amount, ok := parseDecimal(w, "amount", req.Amount)
	if !ok {
		return
	}

	result, err := s.svc.EditContribution(r.Context(), r.PathValue("id"), amount, actor)
	if err != nil {
		WriteLedgerError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, contributionView{
		Contribution:   result.Contribution,
		Allocation:     renderAllocation(result.Allocation),
		RunningBalance: result.RunningBalance.Round(2).String(),
	})
}

func (s *Server) handleDeleteContribution(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(w, r)
	if !ok {
		return
	}
	if err := s.svc.DeleteContribution(r.Context(), r.PathValue("id"), actor); err != nil {
		WriteLedgerError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type readingChangeRequest struct {
	NewReading string `json:"new_reading"`
	Override   bool   `json:"override"`
}

func (s *Server) handlePreviewReading(w http.ResponseWriter, r *http.Request) {
	if _, ok := actorFrom(w, r); !ok {
		return
	}
	var req readingChangeRequest
	if !decodeValidated(w, r, s.schemas.readingChange, &req) {
		return
	}
	reading, ok := parseDecimal(w, "new_reading", req.NewReading)
	if !ok {
		return
	}

	analysis, err := s.svc.PreviewMeterReadingChange(r.Context(), r.PathValue("id"), reading)
	if err != nil {
		WriteLedgerError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, analysis)
}

func (s *Server) handleApplyReading(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(w, r)
	if !ok {
		return
	}
	var req readingChangeRequest
	if !decodeValidated(w, r, s.schemas.readingChange, &req) {
		return
	}
	reading, ok := parseDecimal(w, "new_reading", req.NewReading)
	if !ok {
		return
	}

	result, err := s.svc.ApplyMeterReadingChange(r.Context(), r.PathValue("id"), reading, req.Override, actor)
	if err != nil {
		WriteLedgerError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleBalance(w http.ResponseWriter, r *http.Request) {
	if _, ok := actorFrom(w, r); !ok {
		return
	}
	balance, err := s.svc.Balance(r.Context())
	if err != nil {
		WriteInternal(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"running_balance":         balance.Round(2).String(),
		"running_balance_display": formatMoney(balance),
	})
}
