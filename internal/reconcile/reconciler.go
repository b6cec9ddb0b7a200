// Package reconcile makes the persisted record set match what the engine
// actually runs. It is invoked on demand before reads that need a consistent
// view; there is no background loop.
package reconcile

import (
	"context"
	"fmt"
	"log"
	"strings"

	"dockerflow/internal/apperr"
	"dockerflow/internal/docker"
	"dockerflow/internal/store"

	"github.com/docker/docker/api/types/container"
)

type Reconciler struct {
	engine *docker.Engine
	store  *store.Store
}

func New(engine *docker.Engine, st *store.Store) *Reconciler {
	return &Reconciler{engine: engine, store: st}
}

// Summary reports a best-effort pass: individual upsert or delete failures
// land in Errors without aborting the batch. The pass as a whole fails only
// when the live listing cannot be read.
type Summary struct {
	Observed int
	Upserted int
	Deleted  int
	Skipped  int
	Errors   []error
}

// Reconcile upserts a record for every live container attributable to
// ownerID and deletes the owner's records whose engine object vanished.
// Ownership comes from the dockerflow.owner label when present; unlabeled
// containers fall back to the caller-supplied owner. Containers labeled for
// someone else are left to that owner's pass.
func (r *Reconciler) Reconcile(ctx context.Context, ownerID string) (Summary, error) {
	live, err := r.engine.ListContainers(ctx, true)
	if err != nil {
		return Summary{}, apperr.Wrap(apperr.KindRuntime, err)
	}

	summary := Summary{Observed: len(live)}
	liveIDs := make(map[string]struct{}, len(live))
	for _, c := range live {
		liveIDs[c.ID] = struct{}{}

		owner := c.Labels[docker.OwnerLabel]
		if owner == "" {
			owner = ownerID
		}
		if owner != ownerID {
			summary.Skipped++
			continue
		}

		if _, err := r.store.UpsertContainerByDockerID(ctx, summaryToRecord(c, owner)); err != nil {
			err = fmt.Errorf("upsert container %s: %w", c.ID, err)
			summary.Errors = append(summary.Errors, err)
			log.Printf("reconcile: %v", err)
			continue
		}
		summary.Upserted++
	}

	records, err := r.store.ListContainersByOwner(ctx, ownerID)
	if err != nil {
		summary.Errors = append(summary.Errors, err)
		log.Printf("reconcile: list records for %s: %v", ownerID, err)
		return summary, nil
	}
	for _, rec := range records {
		if rec.DockerID != "" {
			if _, ok := liveIDs[rec.DockerID]; ok {
				continue
			}
		}
		if err := r.store.DeleteContainer(ctx, rec.ID); err != nil {
			err = fmt.Errorf("delete stale record %s: %w", rec.ID, err)
			summary.Errors = append(summary.Errors, err)
			log.Printf("reconcile: %v", err)
			continue
		}
		summary.Deleted++
	}

	return summary, nil
}

// ReconcileVolumes does the analogous pass for volumes: upsert live volumes
// attributable to ownerID, tombstone records whose volume is gone.
func (r *Reconciler) ReconcileVolumes(ctx context.Context, ownerID string) (Summary, error) {
	live, err := r.engine.ListVolumes(ctx)
	if err != nil {
		return Summary{}, apperr.Wrap(apperr.KindRuntime, err)
	}

	summary := Summary{Observed: len(live)}
	liveNames := make(map[string]struct{}, len(live))
	for _, v := range live {
		if v == nil {
			continue
		}
		liveNames[v.Name] = struct{}{}

		owner := v.Labels[docker.OwnerLabel]
		if owner == "" {
			owner = ownerID
		}
		if owner != ownerID {
			summary.Skipped++
			continue
		}

		var size int64
		if v.UsageData != nil {
			size = v.UsageData.Size
		}
		existing, ok, err := r.store.GetVolumeByName(ctx, v.Name)
		if err == nil && !ok {
			_, err = r.store.InsertVolume(ctx, store.Volume{
				Name:       v.Name,
				Driver:     v.Driver,
				Mountpoint: v.Mountpoint,
				Size:       size,
				OwnerID:    owner,
			})
		} else if err == nil && size > 0 && size != existing.Size {
			err = r.store.UpdateVolumeSize(ctx, existing.ID, size)
		}
		if err != nil {
			err = fmt.Errorf("upsert volume %s: %w", v.Name, err)
			summary.Errors = append(summary.Errors, err)
			log.Printf("reconcile: %v", err)
			continue
		}
		summary.Upserted++
	}

	records, err := r.store.ListVolumesByOwner(ctx, ownerID)
	if err != nil {
		summary.Errors = append(summary.Errors, err)
		log.Printf("reconcile: list volumes for %s: %v", ownerID, err)
		return summary, nil
	}
	for _, rec := range records {
		if _, ok := liveNames[rec.Name]; ok {
			continue
		}
		if err := r.store.SoftDeleteVolume(ctx, rec.ID); err != nil {
			err = fmt.Errorf("tombstone volume %s: %w", rec.ID, err)
			summary.Errors = append(summary.Errors, err)
			log.Printf("reconcile: %v", err)
			continue
		}
		summary.Deleted++
	}

	return summary, nil
}

func summaryToRecord(c container.Summary, ownerID string) store.Container {
	// A container with no name is recorded with an empty name.
	name := ""
	if len(c.Names) > 0 {
		name = strings.TrimPrefix(c.Names[0], "/")
	}

	ports := map[uint16]uint16{}
	for _, p := range c.Ports {
		if p.PublicPort == 0 {
			continue
		}
		ports[p.PublicPort] = p.PrivatePort
	}

	return store.Container{
		DockerID: c.ID,
		Name:     name,
		ImageRef: c.Image,
		Status:   c.State,
		Ports:    ports,
		OwnerID:  ownerID,
	}
}
