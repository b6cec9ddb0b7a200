package api

import (
	"net/http"
	"strconv"
	"time"
)

func (s *Server) handleListActivity(w http.ResponseWriter, r *http.Request) {
	ident := identityFrom(r)
	query := r.URL.Query()

	limit, _ := strconv.Atoi(query.Get("limit"))
	if limit <= 0 || limit > s.cfg.ActivityPageLimit {
		limit = s.cfg.ActivityPageLimit
	}
	var before time.Time
	if raw := query.Get("before"); raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid before timestamp: "+err.Error())
			return
		}
		before = parsed
	}

	// Admins see the whole trail, everyone else only their own entries.
	userID := ident.UserID
	if ident.Admin {
		userID = ""
	}

	items, err := s.store.ListActivities(r.Context(), userID, before, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	// Per-user views carry the full trail length so clients can page.
	if userID != "" {
		total, err := s.store.CountActivitiesByUser(r.Context(), userID)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		w.Header().Set("X-Total-Count", strconv.FormatInt(total, 10))
	}
	resp := make([]ActivityResponse, 0, len(items))
	for _, a := range items {
		resp = append(resp, toActivityResponse(a))
	}
	writeJSON(w, http.StatusOK, resp)
}
