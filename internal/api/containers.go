package api

import (
	"encoding/json"
	"io"
	"log"
	"net/http"

	"github.com/docker/go-units"
	"github.com/go-chi/chi/v5"

	"dockerflow/internal/action"
	"dockerflow/internal/apperr"
	"dockerflow/internal/docker"
	"dockerflow/internal/quota"
	"dockerflow/internal/store"
)

const (
	defaultCPUMillicores = 500
	defaultMemoryBytes   = 256 * units.MiB
)

func (s *Server) handleListContainers(w http.ResponseWriter, r *http.Request) {
	ident := identityFrom(r)

	summary, err := s.reconciler.Reconcile(r.Context(), ident.UserID)
	if err != nil {
		writeAppError(w, err)
		return
	}
	for _, itemErr := range summary.Errors {
		log.Printf("reconcile: %v", itemErr)
	}

	items, err := s.store.ListContainersByOwner(r.Context(), ident.UserID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	resp := make([]ContainerResponse, 0, len(items))
	for _, c := range items {
		resp = append(resp, toContainerResponse(c))
	}
	writeJSON(w, http.StatusOK, resp)
}

type CreateContainerRequest struct {
	Name        string            `json:"name"`
	Image       string            `json:"image"`
	Ports       map[uint16]uint16 `json:"ports"`
	Volumes     map[string]string `json:"volumes"`
	Env         map[string]string `json:"env"`
	Subdomain   string            `json:"subdomain"`
	CPULimit    int64             `json:"cpu_limit"`
	MemoryLimit int64             `json:"memory_limit"`
}

func (s *Server) handleCreateContainer(w http.ResponseWriter, r *http.Request) {
	ident := identityFrom(r)
	ctx := r.Context()

	var req CreateContainerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if req.Name == "" || req.Image == "" {
		writeError(w, http.StatusBadRequest, "name and image are required")
		return
	}
	if req.CPULimit <= 0 {
		req.CPULimit = defaultCPUMillicores
	}
	if req.MemoryLimit <= 0 {
		req.MemoryLimit = defaultMemoryBytes
	}

	ref, err := docker.NormalizeImageRef(req.Image)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid image reference: "+err.Error())
		return
	}

	if err := s.quota.Require(ctx, ident.UserID, quota.KindCPU, req.CPULimit); err != nil {
		writeAppError(w, err)
		return
	}
	if err := s.quota.Require(ctx, ident.UserID, quota.KindMemory, req.MemoryLimit); err != nil {
		writeAppError(w, err)
		return
	}

	if _, err := s.engine.InspectImage(ctx, ref); err != nil {
		if !docker.IsNotFound(err) {
			writeAppError(w, apperr.Wrap(apperr.KindRuntime, err))
			return
		}
		reader, err := s.engine.PullImage(ctx, ref, "")
		if err != nil {
			writeAppError(w, apperr.Wrap(apperr.KindRuntime, err))
			return
		}
		// Drain the pull stream so the image is complete before create.
		if engineErr, err := docker.StreamProgress(io.Discard, reader); err != nil || engineErr != "" {
			reader.Close()
			if engineErr != "" {
				writeAppError(w, apperr.New(apperr.KindRuntime, "image pull failed: %s", engineErr))
			} else {
				writeAppError(w, apperr.Wrap(apperr.KindRuntime, err))
			}
			return
		}
		reader.Close()
	}

	dockerID, err := s.engine.CreateContainer(ctx, docker.CreateSpec{
		Name:          req.Name,
		Image:         ref,
		Env:           req.Env,
		Ports:         req.Ports,
		Binds:         req.Volumes,
		Labels:        map[string]string{docker.OwnerLabel: ident.UserID},
		CPUMillicores: req.CPULimit,
		MemoryBytes:   req.MemoryLimit,
	})
	if err != nil {
		writeAppError(w, apperr.Wrap(apperr.KindRuntime, err))
		return
	}
	if err := s.engine.StartContainer(ctx, dockerID); err != nil {
		writeAppError(w, apperr.Wrap(apperr.KindRuntime, err))
		return
	}

	rec, err := s.store.InsertContainer(ctx, store.Container{
		DockerID:    dockerID,
		Name:        req.Name,
		ImageRef:    ref,
		Status:      action.StateRunning,
		Ports:       req.Ports,
		Volumes:     req.Volumes,
		Env:         req.Env,
		Subdomain:   req.Subdomain,
		OwnerID:     ident.UserID,
		CPULimit:    req.CPULimit,
		MemoryLimit: req.MemoryLimit,
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	s.recordActivity(r, store.ActivityContainerCreate, "created container "+rec.Name, map[string]string{
		"container_id": rec.ID,
		"docker_id":    rec.DockerID,
		"image":        rec.ImageRef,
	})
	s.broadcaster.PublishContainer(ctx, rec)
	writeJSON(w, http.StatusCreated, toContainerResponse(rec))
}

func (s *Server) handleGetContainer(w http.ResponseWriter, r *http.Request) {
	rec, ok := s.ownedContainer(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, toContainerResponse(rec))
}

func (s *Server) handleAction(act action.Action) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rec, ok := s.ownedContainer(w, r)
		if !ok {
			return
		}
		result, err := s.actions.Apply(r.Context(), s.actorFrom(r), rec.ID, act)
		if err != nil {
			writeAppError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, ActionResponse{
			PreviousState: result.PreviousState,
			NewState:      result.NewState,
		})
	}
}

func (s *Server) handleContainerLogs(w http.ResponseWriter, r *http.Request) {
	rec, ok := s.ownedContainer(w, r)
	if !ok {
		return
	}
	if rec.DockerID == "" {
		writeError(w, http.StatusNotFound, "container has no runtime object")
		return
	}

	query := r.URL.Query()
	reader, err := s.engine.ContainerLogs(r.Context(), rec.DockerID, docker.LogsOptions{
		Tail:       query.Get("tail"),
		Since:      query.Get("since"),
		Timestamps: query.Get("timestamps") == "true",
	})
	if err != nil {
		writeAppError(w, apperr.Wrap(apperr.KindRuntime, err))
		return
	}
	defer reader.Close()

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = io.Copy(w, reader)
}

func (s *Server) handleContainerStats(w http.ResponseWriter, r *http.Request) {
	rec, ok := s.ownedContainer(w, r)
	if !ok {
		return
	}
	if rec.DockerID == "" {
		writeError(w, http.StatusNotFound, "container has no runtime object")
		return
	}

	stats, err := s.engine.ContainerStats(r.Context(), rec.DockerID)
	if err != nil {
		writeAppError(w, apperr.Wrap(apperr.KindRuntime, err))
		return
	}

	resp := StatsResponse{
		ContainerID:   rec.ID,
		CPUPercent:    docker.CPUPercent(stats),
		MemoryPercent: docker.MemoryPercent(stats),
		MemoryUsage:   stats.MemoryStats.Usage,
		MemoryLimit:   stats.MemoryStats.Limit,
	}

	if _, err := s.alerts.EvaluateStats(r.Context(), rec.OwnerID, resp.CPUPercent, resp.MemoryPercent); err != nil {
		log.Printf("alert: evaluate for %s: %v", rec.ID, err)
	}

	writeJSON(w, http.StatusOK, resp)
}

// ownedContainer loads the record and enforces ownership. Containers of
// other users read as not found rather than forbidden.
func (s *Server) ownedContainer(w http.ResponseWriter, r *http.Request) (store.Container, bool) {
	ident := identityFrom(r)
	id := chi.URLParam(r, "id")

	rec, ok, err := s.store.GetContainer(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return store.Container{}, false
	}
	if !ok || (!ident.Admin && rec.OwnerID != ident.UserID) {
		writeError(w, http.StatusNotFound, "container "+id+" not found")
		return store.Container{}, false
	}
	return rec, true
}

// recordActivity appends the audit entry and never fails the request.
func (s *Server) recordActivity(r *http.Request, activityType, description string, metadata map[string]string) {
	ident := identityFrom(r)
	activity, err := s.store.InsertActivity(r.Context(), store.Activity{
		Type:        activityType,
		Description: description,
		UserID:      ident.UserID,
		Metadata:    metadata,
		IPAddress:   clientIP(r),
		UserAgent:   r.UserAgent(),
	})
	if err != nil {
		log.Printf("api: activity persist failed: %v", err)
		return
	}
	s.broadcaster.PublishActivity(r.Context(), activity)
}
