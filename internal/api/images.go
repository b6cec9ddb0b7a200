package api

import (
	"encoding/json"
	"log"
	"net/http"

	"github.com/go-chi/chi/v5"

	"dockerflow/internal/apperr"
	"dockerflow/internal/docker"
	"dockerflow/internal/quota"
	"dockerflow/internal/store"
)

type ImageResponse struct {
	ID      string   `json:"id"`
	Tags    []string `json:"tags"`
	Size    int64    `json:"size"`
	Created int64    `json:"created"`
}

func (s *Server) handleListImages(w http.ResponseWriter, r *http.Request) {
	images, err := s.engine.ListImages(r.Context())
	if err != nil {
		writeAppError(w, apperr.Wrap(apperr.KindRuntime, err))
		return
	}
	resp := make([]ImageResponse, 0, len(images))
	for _, img := range images {
		resp = append(resp, ImageResponse{
			ID:      img.ID,
			Tags:    img.RepoTags,
			Size:    img.Size,
			Created: img.Created,
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

type PullImageRequest struct {
	Image        string `json:"image"`
	RegistryAuth string `json:"registry_auth"`
}

func (s *Server) handlePullImage(w http.ResponseWriter, r *http.Request) {
	ident := identityFrom(r)
	ctx := r.Context()

	var req PullImageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	ref, err := docker.NormalizeImageRef(req.Image)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	// Size of a remote image is unknown until pulled. When the ref is
	// already present locally a re-pull costs about its current size, so
	// that is used as the request; otherwise the gate only rejects owners
	// already past their storage limit.
	var requested int64
	if inspect, err := s.engine.InspectImage(ctx, ref); err == nil {
		requested = inspect.Size
	}
	if err := s.quota.Require(ctx, ident.UserID, quota.KindStorage, requested); err != nil {
		writeAppError(w, err)
		return
	}

	reader, err := s.engine.PullImage(ctx, ref, req.RegistryAuth)
	if err != nil {
		writeAppError(w, apperr.Wrap(apperr.KindRuntime, err))
		return
	}
	defer reader.Close()

	w.Header().Set("Content-Type", "application/x-ndjson")
	w.WriteHeader(http.StatusOK)
	engineErr, err := docker.StreamProgress(w, reader)
	if err != nil {
		log.Printf("image pull %s: stream: %v", ref, err)
		return
	}
	if engineErr != "" {
		log.Printf("image pull %s: %s", ref, engineErr)
		return
	}

	s.recordActivity(r, store.ActivityImagePull, "pulled image "+ref, map[string]string{"image": ref})
}

func (s *Server) handleBuildImage(w http.ResponseWriter, r *http.Request) {
	ident := identityFrom(r)

	tag := r.URL.Query().Get("tag")
	if tag == "" {
		writeError(w, http.StatusBadRequest, "tag query parameter is required")
		return
	}
	dockerfile := r.URL.Query().Get("dockerfile")
	if dockerfile == "" {
		dockerfile = "Dockerfile"
	}

	// Build output size is unknown up front, so the gate only rejects
	// owners already past their storage limit.
	if err := s.quota.Require(r.Context(), ident.UserID, quota.KindStorage, 0); err != nil {
		writeAppError(w, err)
		return
	}

	reader, err := s.engine.BuildImage(r.Context(), r.Body, []string{tag}, dockerfile)
	if err != nil {
		writeAppError(w, apperr.Wrap(apperr.KindRuntime, err))
		return
	}
	defer reader.Close()

	w.Header().Set("Content-Type", "application/x-ndjson")
	w.WriteHeader(http.StatusOK)
	engineErr, err := docker.StreamProgress(w, reader)
	if err != nil {
		log.Printf("image build %s: stream: %v", tag, err)
		return
	}
	if engineErr != "" {
		log.Printf("image build %s: %s", tag, engineErr)
		return
	}

	s.recordActivity(r, store.ActivityImageBuild, "built image "+tag, map[string]string{"tag": tag})
}

func (s *Server) handleDeleteImage(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	force := r.URL.Query().Get("force") == "true"

	if err := s.engine.RemoveImage(r.Context(), id, force); err != nil {
		if docker.IsNotFound(err) {
			writeAppError(w, apperr.New(apperr.KindNotFound, "image %s not found", id))
			return
		}
		writeAppError(w, apperr.Wrap(apperr.KindRuntime, err))
		return
	}

	s.recordActivity(r, store.ActivityImageDelete, "deleted image "+id, map[string]string{"image": id})
	writeJSON(w, http.StatusOK, map[string]string{"deleted": id})
}

type TagImageRequest struct {
	Target string `json:"target"`
}

func (s *Server) handleTagImage(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req TagImageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	target, err := docker.NormalizeImageRef(req.Target)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := s.engine.TagImage(r.Context(), id, target); err != nil {
		if docker.IsNotFound(err) {
			writeAppError(w, apperr.New(apperr.KindNotFound, "image %s not found", id))
			return
		}
		writeAppError(w, apperr.Wrap(apperr.KindRuntime, err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"source": id, "target": target})
}
