package api

import (
	"net/http"

	"github.com/gridsplit/gridsplit/pkg/audit"
)

// WithAuditChain wires the audit trail's admin endpoints: chain
// verification and bundle export to the archive backend.
func (s *Server) WithAuditChain(chain *audit.Chain, archiver audit.Archiver) *Server {
	s.chain = chain
	s.archiver = archiver
	return s
}

func (s *Server) handleAuditVerify(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(w, r)
	if !ok {
		return
	}
	if !actor.Admin {
		WriteError(w, http.StatusForbidden, "Forbidden", "only an admin may verify the audit chain")
		return
	}
	if s.chain == nil {
		WriteError(w, http.StatusServiceUnavailable, "Unavailable", "audit chain not configured")
		return
	}
	if err := s.chain.VerifyChain(); err != nil {
		writeJSON(w, http.StatusOK, map[string]any{"intact": false, "error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"intact":     true,
		"chain_head": s.chain.Head(),
		"events":     len(s.chain.Events()),
	})
}

func (s *Server) handleAuditExport(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(w, r)
	if !ok {
		return
	}
	if !actor.Admin {
		WriteError(w, http.StatusForbidden, "Forbidden", "only an admin may export the audit trail")
		return
	}
	if s.chain == nil || s.archiver == nil {
		WriteError(w, http.StatusServiceUnavailable, "Unavailable", "audit archival not configured")
		return
	}
	hash, err := s.chain.Archive(r.Context(), s.archiver)
	if err != nil {
		WriteInternal(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"bundle_hash": hash})
}
