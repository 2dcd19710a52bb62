package httpapi

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/agentworkforce/crmsync/internal/crmapi"
	"github.com/agentworkforce/crmsync/internal/crmsync"
)

// handlePull reconciles one remote record of a fixed kind. 200 means the
// local row now mirrors the CRM, 204 means the CRM reported the record gone
// and the local row was removed.
func (s *Server) handlePull(kind crmsync.Kind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !s.cfg.CRMEnabled {
			writeError(w, http.StatusForbidden, "sync_disabled", "crm sync is disabled")
			return
		}
		remoteID := chi.URLParam(r, "crmID")
		if remoteID == "" {
			writeError(w, http.StatusBadRequest, "bad_request", "missing crm id")
			return
		}
		result, err := s.inbound.Reconcile(r.Context(), kind, remoteID)
		if err != nil {
			s.writeEngineError(w, err)
			return
		}
		switch result {
		case crmsync.ReconcileDeleted:
			w.WriteHeader(http.StatusNoContent)
		case crmsync.ReconcileNoop:
			writeJSON(w, http.StatusOK, map[string]string{"result": "noop"})
		default:
			writeJSON(w, http.StatusOK, map[string]string{"result": "synced"})
		}
	}
}

// handleAccountPull resolves the ambiguous Account entity into shelter
// and/or clinic rows. A CRM-side deletion purges both kinds and answers 204.
func (s *Server) handleAccountPull(w http.ResponseWriter, r *http.Request) {
	if !s.cfg.CRMEnabled {
		writeError(w, http.StatusForbidden, "sync_disabled", "crm sync is disabled")
		return
	}
	remoteID := chi.URLParam(r, "crmID")
	if remoteID == "" {
		writeError(w, http.StatusBadRequest, "bad_request", "missing crm id")
		return
	}
	err := s.accounts.Resolve(r.Context(), remoteID)
	if errors.Is(err, crmapi.ErrRemoteNotFound) {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"result": "synced"})
}
