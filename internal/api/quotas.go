package api

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"dockerflow/internal/store"
)

func (s *Server) handleGetQuota(w http.ResponseWriter, r *http.Request) {
	ident := identityFrom(r)
	userID := chi.URLParam(r, "userID")

	if !ident.Admin && userID != ident.UserID {
		writeError(w, http.StatusNotFound, "quota for "+userID+" not found")
		return
	}

	q, ok, err := s.store.GetQuota(r.Context(), userID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if !ok {
		q = store.DefaultQuota(userID, "free")
	}
	writeJSON(w, http.StatusOK, toQuotaResponse(q))
}

type PutQuotaRequest struct {
	CPULimit         int64 `json:"cpu_limit"`
	MemoryLimit      int64 `json:"memory_limit"`
	StorageLimit     int64 `json:"storage_limit"`
	CPUThreshold     int   `json:"cpu_threshold"`
	MemoryThreshold  int   `json:"memory_threshold"`
	StorageThreshold int   `json:"storage_threshold"`
}

func (s *Server) handlePutQuota(w http.ResponseWriter, r *http.Request) {
	ident := identityFrom(r)
	if !ident.Admin {
		writeError(w, http.StatusForbidden, "admin role required")
		return
	}
	userID := chi.URLParam(r, "userID")

	var req PutQuotaRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if req.CPULimit <= 0 || req.MemoryLimit <= 0 || req.StorageLimit <= 0 {
		writeError(w, http.StatusBadRequest, "limits must be positive")
		return
	}
	if !validThreshold(req.CPUThreshold) || !validThreshold(req.MemoryThreshold) || !validThreshold(req.StorageThreshold) {
		writeError(w, http.StatusBadRequest, "thresholds must be between 1 and 100")
		return
	}

	q := store.Quota{
		UserID:           userID,
		CPULimit:         req.CPULimit,
		MemoryLimit:      req.MemoryLimit,
		StorageLimit:     req.StorageLimit,
		CPUThreshold:     req.CPUThreshold,
		MemoryThreshold:  req.MemoryThreshold,
		StorageThreshold: req.StorageThreshold,
	}
	if err := s.store.PutQuota(r.Context(), q); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	s.recordActivity(r, store.ActivityQuotaUpdate, "updated quota for "+userID, map[string]string{
		"user_id": userID,
	})
	writeJSON(w, http.StatusOK, toQuotaResponse(q))
}

type QuotaDefaultsRequest struct {
	Tier string `json:"tier"`
}

// handleQuotaDefaults seeds a user's quota from tier defaults, typically at
// registration time. Existing rows are overwritten.
func (s *Server) handleQuotaDefaults(w http.ResponseWriter, r *http.Request) {
	ident := identityFrom(r)
	if !ident.Admin {
		writeError(w, http.StatusForbidden, "admin role required")
		return
	}
	userID := chi.URLParam(r, "id")

	var req QuotaDefaultsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	q := store.DefaultQuota(userID, req.Tier)
	if err := s.store.PutQuota(r.Context(), q); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	s.recordActivity(r, store.ActivityQuotaUpdate, "applied "+req.Tier+" tier defaults for "+userID, map[string]string{
		"user_id": userID,
		"tier":    req.Tier,
	})
	writeJSON(w, http.StatusOK, toQuotaResponse(q))
}

func validThreshold(v int) bool {
	return v >= 1 && v <= 100
}
