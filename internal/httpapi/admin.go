package httpapi

import (
	"fmt"
	"net/http"
	"time"

	"github.com/agentworkforce/crmsync/internal/crmsync"
	"github.com/santhosh-tekuri/jsonschema/v6"
)

func (s *Server) handleAdminGet(kind crmsync.Kind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := pathID(r)
		if err != nil {
			writeError(w, http.StatusBadRequest, "bad_request", "invalid id")
			return
		}
		var rec crmsync.Record
		err = s.store.WithTx(r.Context(), func(tx crmsync.Tx) error {
			rec, err = tx.GetAny(r.Context(), kind, id)
			return err
		})
		if err != nil {
			s.writeEngineError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, rec)
	}
}

// handleAdminPatch applies a partial update. The save re-triggers an
// outbound push, so the CRM sees moderation edits.
func (s *Server) handleAdminPatch(kind crmsync.Kind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := pathID(r)
		if err != nil {
			writeError(w, http.StatusBadRequest, "bad_request", "invalid id")
			return
		}
		body, err := jsonschema.UnmarshalJSON(r.Body)
		if err != nil {
			writeError(w, http.StatusBadRequest, "bad_request", "invalid json body")
			return
		}
		if err := patchSchemas[kind].Validate(body); err != nil {
			writeError(w, http.StatusBadRequest, "validation_failed", err.Error())
			return
		}
		fields, ok := body.(map[string]any)
		if !ok {
			writeError(w, http.StatusBadRequest, "bad_request", "expected json object")
			return
		}
		var rec crmsync.Record
		err = s.store.WithTx(r.Context(), func(tx crmsync.Tx) error {
			rec, err = tx.GetForUpdate(r.Context(), kind, id)
			if err != nil {
				return err
			}
			if err := applyPatch(kind, rec, fields); err != nil {
				return err
			}
			return tx.Save(r.Context(), rec, crmsync.SaveOptions{})
		})
		if err != nil {
			s.writeEngineError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, rec)
	}
}

func applyPatch(kind crmsync.Kind, rec crmsync.Record, fields map[string]any) error {
	switch typed := rec.(type) {
	case *crmsync.User:
		for key, value := range fields {
			switch key {
			case "name":
				typed.Name = value.(string)
			case "email":
				typed.Email = value.(string)
			case "phone":
				typed.Phone = value.(string)
			case "isActive":
				typed.IsActive = value.(bool)
			case "isStaff":
				typed.IsStaff = value.(bool)
			}
		}
	case *crmsync.Post:
		for key, value := range fields {
			switch key {
			case "postType":
				typed.PostType = value.(string)
			case "title":
				typed.Title = value.(string)
			case "text":
				typed.Text = value.(string)
			}
		}
	case *crmsync.Comment:
		if value, ok := fields["text"].(string); ok {
			typed.Text = value
		}
	default:
		return fmt.Errorf("%w: %s is not patchable", crmsync.ErrInvalidInput, kind)
	}
	return nil
}

func (s *Server) handleAdminDelete(kind crmsync.Kind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := pathID(r)
		if err != nil {
			writeError(w, http.StatusBadRequest, "bad_request", "invalid id")
			return
		}
		err = s.store.WithTx(r.Context(), func(tx crmsync.Tx) error {
			return tx.Delete(r.Context(), kind, id)
		})
		if err != nil {
			s.writeEngineError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func (s *Server) handleAdminUndelete(kind crmsync.Kind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := pathID(r)
		if err != nil {
			writeError(w, http.StatusBadRequest, "bad_request", "invalid id")
			return
		}
		var rec crmsync.Record
		err = s.store.WithTx(r.Context(), func(tx crmsync.Tx) error {
			rec, err = tx.GetForUpdate(r.Context(), kind, id)
			if err != nil {
				return err
			}
			if !rec.Meta().IsDeleted() {
				return fmt.Errorf("%w: %s %s is not deleted", crmsync.ErrInvalidInput, kind, id)
			}
			rec.Meta().Undelete(time.Now().UTC())
			return tx.Save(r.Context(), rec, crmsync.SaveOptions{})
		})
		if err != nil {
			s.writeEngineError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, rec)
	}
}

func (s *Server) handleWarnUser(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid id")
		return
	}
	var body struct {
		Message string `json:"message"`
	}
	if err := decodeJSON(r, &body); err != nil || body.Message == "" {
		writeError(w, http.StatusBadRequest, "bad_request", "message is required")
		return
	}
	err = s.store.WithTx(r.Context(), func(tx crmsync.Tx) error {
		_, err := tx.Get(r.Context(), crmsync.KindUser, id)
		return err
	})
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	if err := s.notifier.Notify(r.Context(), id, body.Message); err != nil {
		s.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"result": "warned"})
}

// handleShelterRegistration resolves a pending shelter registration. The
// status change pushes to the CRM like any other save.
func (s *Server) handleShelterRegistration(status string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := pathID(r)
		if err != nil {
			writeError(w, http.StatusBadRequest, "bad_request", "invalid id")
			return
		}
		var shelter *crmsync.Shelter
		err = s.store.WithTx(r.Context(), func(tx crmsync.Tx) error {
			rec, err := tx.GetForUpdate(r.Context(), crmsync.KindShelter, id)
			if err != nil {
				return err
			}
			var ok bool
			if shelter, ok = rec.(*crmsync.Shelter); !ok {
				return crmsync.ErrUnknownKind
			}
			if shelter.ApprovalStatus != crmsync.ApprovalPending {
				return fmt.Errorf("%w: registration already resolved", crmsync.ErrInvalidInput)
			}
			shelter.ApprovalStatus = status
			return tx.Save(r.Context(), shelter, crmsync.SaveOptions{})
		})
		if err != nil {
			s.writeEngineError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, shelter)
	}
}
