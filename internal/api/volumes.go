package api

import (
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"os"
	"path/filepath"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"dockerflow/internal/apperr"
	"dockerflow/internal/docker"
	"dockerflow/internal/quota"
	"dockerflow/internal/store"
)

func (s *Server) handleListVolumes(w http.ResponseWriter, r *http.Request) {
	ident := identityFrom(r)

	summary, err := s.reconciler.ReconcileVolumes(r.Context(), ident.UserID)
	if err != nil {
		writeAppError(w, err)
		return
	}
	for _, itemErr := range summary.Errors {
		log.Printf("reconcile volumes: %v", itemErr)
	}

	items, err := s.store.ListVolumesByOwner(r.Context(), ident.UserID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	resp := make([]VolumeResponse, 0, len(items))
	for _, v := range items {
		resp = append(resp, toVolumeResponse(v))
	}
	writeJSON(w, http.StatusOK, resp)
}

type CreateVolumeRequest struct {
	Name   string `json:"name"`
	Driver string `json:"driver"`
	Size   int64  `json:"size"`
}

func (s *Server) handleCreateVolume(w http.ResponseWriter, r *http.Request) {
	ident := identityFrom(r)
	ctx := r.Context()

	var req CreateVolumeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if req.Name == "" {
		writeError(w, http.StatusBadRequest, "name is required")
		return
	}

	if _, ok, err := s.store.GetVolumeByName(ctx, req.Name); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	} else if ok {
		writeAppError(w, apperr.New(apperr.KindInvalidState, "volume %s already exists", req.Name))
		return
	}

	if err := s.quota.Require(ctx, ident.UserID, quota.KindStorage, req.Size); err != nil {
		writeAppError(w, err)
		return
	}

	vol, err := s.engine.CreateVolume(ctx, req.Name, req.Driver, map[string]string{docker.OwnerLabel: ident.UserID})
	if err != nil {
		writeAppError(w, apperr.Wrap(apperr.KindRuntime, err))
		return
	}

	rec, err := s.store.InsertVolume(ctx, store.Volume{
		Name:       vol.Name,
		Driver:     vol.Driver,
		Mountpoint: vol.Mountpoint,
		Size:       req.Size,
		OwnerID:    ident.UserID,
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	s.recordActivity(r, store.ActivityVolumeCreate, "created volume "+rec.Name, map[string]string{
		"volume_id": rec.ID,
		"name":      rec.Name,
	})
	writeJSON(w, http.StatusCreated, toVolumeResponse(rec))
}

func (s *Server) handleDeleteVolume(w http.ResponseWriter, r *http.Request) {
	rec, ok := s.ownedVolume(w, r)
	if !ok {
		return
	}
	ctx := r.Context()

	if err := s.engine.RemoveVolume(ctx, rec.Name, true); err != nil && !docker.IsNotFound(err) {
		writeAppError(w, apperr.Wrap(apperr.KindRuntime, err))
		return
	}
	if err := s.store.SoftDeleteVolume(ctx, rec.ID); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	s.recordActivity(r, store.ActivityVolumeDelete, "deleted volume "+rec.Name, map[string]string{
		"volume_id": rec.ID,
		"name":      rec.Name,
	})
	writeJSON(w, http.StatusOK, map[string]string{"deleted": rec.ID})
}

func (s *Server) handleListBackups(w http.ResponseWriter, r *http.Request) {
	rec, ok := s.ownedVolume(w, r)
	if !ok {
		return
	}

	items, err := s.store.ListVolumeBackups(r.Context(), rec.ID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	resp := make([]BackupResponse, 0, len(items))
	for _, b := range items {
		resp = append(resp, toBackupResponse(b))
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleCreateBackup(w http.ResponseWriter, r *http.Request) {
	ident := identityFrom(r)
	rec, ok := s.ownedVolume(w, r)
	if !ok {
		return
	}
	ctx := r.Context()

	if err := s.quota.Require(ctx, ident.UserID, quota.KindStorage, rec.Size); err != nil {
		writeAppError(w, err)
		return
	}

	backupID := uuid.NewString()
	path := filepath.Join(s.cfg.BackupDir, backupID+".tar.gz")

	// A helper container tars the volume contents into the backup dir so
	// the server never touches the mountpoint itself.
	exitCode, err := s.engine.RunOneShot(ctx, s.cfg.BackupImage,
		[]string{"sh", "-c", fmt.Sprintf("tar czf /backup/%s.tar.gz -C /data .", backupID)},
		map[string]string{rec.Name: "/data", s.cfg.BackupDir: "/backup"})
	if err != nil {
		writeAppError(w, apperr.Wrap(apperr.KindRuntime, err))
		return
	}
	if exitCode != 0 {
		writeAppError(w, apperr.New(apperr.KindRuntime, "backup container exited with code %d", exitCode))
		return
	}

	var size int64
	if info, err := os.Stat(path); err == nil {
		size = info.Size()
	}

	backup, err := s.store.InsertVolumeBackup(ctx, store.VolumeBackup{
		ID:       backupID,
		VolumeID: rec.ID,
		UserID:   ident.UserID,
		Path:     path,
		Size:     size,
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	s.recordActivity(r, store.ActivityVolumeBackup, "backed up volume "+rec.Name, map[string]string{
		"volume_id": rec.ID,
		"backup_id": backup.ID,
	})
	writeJSON(w, http.StatusCreated, toBackupResponse(backup))
}

func (s *Server) handleRestoreBackup(w http.ResponseWriter, r *http.Request) {
	ident := identityFrom(r)
	ctx := r.Context()
	id := chi.URLParam(r, "id")

	backup, ok, err := s.store.GetVolumeBackup(ctx, id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if !ok || (!ident.Admin && backup.UserID != ident.UserID) {
		writeError(w, http.StatusNotFound, "backup "+id+" not found")
		return
	}

	vol, ok, err := s.store.GetVolume(ctx, backup.VolumeID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if !ok {
		writeError(w, http.StatusNotFound, "volume "+backup.VolumeID+" not found")
		return
	}
	if vol.Deleted() {
		writeAppError(w, apperr.New(apperr.KindInvalidState, "volume %s was deleted; recreate it before restoring", vol.Name))
		return
	}

	exitCode, err := s.engine.RunOneShot(ctx, s.cfg.BackupImage,
		[]string{"sh", "-c", fmt.Sprintf("rm -rf /data/* && tar xzf /backup/%s.tar.gz -C /data", backup.ID)},
		map[string]string{vol.Name: "/data", s.cfg.BackupDir: "/backup"})
	if err != nil {
		writeAppError(w, apperr.Wrap(apperr.KindRuntime, err))
		return
	}
	if exitCode != 0 {
		writeAppError(w, apperr.New(apperr.KindRuntime, "restore container exited with code %d", exitCode))
		return
	}

	s.recordActivity(r, store.ActivityVolumeRestore, "restored volume "+vol.Name+" from backup", map[string]string{
		"volume_id": vol.ID,
		"backup_id": backup.ID,
	})
	writeJSON(w, http.StatusOK, map[string]string{"restored": vol.ID, "backup": backup.ID})
}

func (s *Server) ownedVolume(w http.ResponseWriter, r *http.Request) (store.Volume, bool) {
	ident := identityFrom(r)
	id := chi.URLParam(r, "id")

	rec, ok, err := s.store.GetVolume(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return store.Volume{}, false
	}
	if !ok || rec.Deleted() || (!ident.Admin && rec.OwnerID != ident.UserID) {
		writeError(w, http.StatusNotFound, "volume "+id+" not found")
		return store.Volume{}, false
	}
	return rec, true
}
