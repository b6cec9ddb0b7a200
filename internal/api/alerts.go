package api

import (
	"database/sql"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
)

func (s *Server) handleListAlerts(w http.ResponseWriter, r *http.Request) {
	ident := identityFrom(r)
	status := r.URL.Query().Get("status")

	items, err := s.store.ListAlerts(r.Context(), ident.UserID, status)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	resp := make([]AlertResponse, 0, len(items))
	for _, a := range items {
		resp = append(resp, toAlertResponse(a))
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleAcknowledgeAlert(w http.ResponseWriter, r *http.Request) {
	ident := identityFrom(r)
	id := chi.URLParam(r, "id")

	if !s.alertVisible(w, r, id) {
		return
	}
	if err := s.store.AcknowledgeAlert(r.Context(), id, ident.UserID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			writeError(w, http.StatusNotFound, "alert "+id+" not found")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"acknowledged": id})
}

func (s *Server) handleTransitionAlert(status string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")

		if !s.alertVisible(w, r, id) {
			return
		}
		a, err := s.store.TransitionAlert(r.Context(), id, status)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				// Either gone or no longer pending; both read the same
				// to the caller.
				writeError(w, http.StatusConflict, "alert "+id+" is not pending")
				return
			}
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, toAlertResponse(a))
	}
}

func (s *Server) handlePurgeAlerts(w http.ResponseWriter, r *http.Request) {
	ident := identityFrom(r)
	if !ident.Admin {
		writeError(w, http.StatusForbidden, "admin role required")
		return
	}

	purged, err := s.store.PurgeAlerts(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"purged": purged})
}

// alertVisible enforces that callers only touch their own alerts. Writes the
// response on failure.
func (s *Server) alertVisible(w http.ResponseWriter, r *http.Request, id string) bool {
	ident := identityFrom(r)

	a, ok, err := s.store.GetAlert(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return false
	}
	if !ok || (!ident.Admin && a.UserID != ident.UserID) {
		writeError(w, http.StatusNotFound, "alert "+id+" not found")
		return false
	}
	return true
}
