// Package action executes single container lifecycle transitions: validate
// the transition, issue the engine call, verify the outcome, record the
// audit entry.
package action

import (
	"context"
	"fmt"
	"log"
	"time"

	"dockerflow/internal/apperr"
	"dockerflow/internal/docker"
	"dockerflow/internal/store"
)

type Action string

const (
	Start   Action = "start"
	Stop    Action = "stop"
	Restart Action = "restart"
	Delete  Action = "delete"
)

const (
	StateRunning = "running"
	StateExited  = "exited"
	StateDeleted = "deleted"
)

// Actor identifies who triggered the action, for the audit trail.
type Actor struct {
	UserID    string
	IPAddress string
	UserAgent string
}

type Result struct {
	PreviousState string
	NewState      string
}

// Publisher receives successful transitions for live dashboard updates.
type Publisher interface {
	PublishActivity(ctx context.Context, a store.Activity)
}

type Orchestrator struct {
	engine    *docker.Engine
	store     *store.Store
	publisher Publisher

	stopTimeoutSeconds int
	pollInterval       time.Duration
	pollAttempts       int
}

func New(engine *docker.Engine, st *store.Store, publisher Publisher, stopTimeoutSeconds int, pollInterval time.Duration, pollAttempts int) *Orchestrator {
	if pollInterval <= 0 {
		pollInterval = time.Second
	}
	if pollAttempts <= 0 {
		pollAttempts = 10
	}
	return &Orchestrator{
		engine:             engine,
		store:              st,
		publisher:          publisher,
		stopTimeoutSeconds: stopTimeoutSeconds,
		pollInterval:       pollInterval,
		pollAttempts:       pollAttempts,
	}
}

// Apply runs one lifecycle action against the container record. Engine
// errors surface verbatim; nothing is retried except the restart
// convergence poll.
func (o *Orchestrator) Apply(ctx context.Context, actor Actor, containerID string, action Action) (Result, error) {
	rec, ok, err := o.store.GetContainer(ctx, containerID)
	if err != nil {
		return Result{}, apperr.Wrap(apperr.KindRuntime, err)
	}
	if !ok {
		return Result{}, apperr.New(apperr.KindNotFound, "container %s not found", containerID)
	}

	if rec.DockerID == "" {
		// Stale record with no runtime object: delete is idempotent
		// success, everything else has nothing to act on.
		if action == Delete {
			return o.finishDelete(ctx, actor, rec, "")
		}
		return Result{}, apperr.New(apperr.KindNotFound, "container %s has no runtime object", containerID)
	}

	inspect, err := o.engine.InspectContainer(ctx, rec.DockerID)
	if err != nil {
		if docker.IsNotFound(err) {
			if action == Delete {
				return o.finishDelete(ctx, actor, rec, "")
			}
			return Result{}, apperr.New(apperr.KindNotFound, "container %s not found in runtime", containerID)
		}
		return Result{}, apperr.Wrap(apperr.KindRuntime, err)
	}
	previous := ""
	if inspect.State != nil {
		previous = inspect.State.Status
	}

	switch action {
	case Start:
		if previous == StateRunning {
			return Result{}, apperr.New(apperr.KindInvalidState, "container is already running")
		}
		if err := o.engine.StartContainer(ctx, rec.DockerID); err != nil {
			return Result{}, apperr.Wrap(apperr.KindRuntime, err)
		}
		return o.finish(ctx, actor, rec, store.ActivityContainerStart, previous, StateRunning)

	case Stop:
		if previous == StateExited {
			return Result{}, apperr.New(apperr.KindInvalidState, "container is already stopped")
		}
		if err := o.engine.StopContainer(ctx, rec.DockerID, o.stopTimeoutSeconds); err != nil {
			return Result{}, apperr.Wrap(apperr.KindRuntime, err)
		}
		return o.finish(ctx, actor, rec, store.ActivityContainerStop, previous, StateExited)

	case Restart:
		if previous != StateRunning && previous != StateExited {
			return Result{}, apperr.New(apperr.KindInvalidState, "cannot restart container in state %q", previous)
		}
		if err := o.engine.RestartContainer(ctx, rec.DockerID, o.stopTimeoutSeconds); err != nil {
			return Result{}, apperr.Wrap(apperr.KindRuntime, err)
		}
		if err := o.waitRunning(ctx, rec.DockerID); err != nil {
			return Result{}, err
		}
		return o.finish(ctx, actor, rec, store.ActivityContainerRestart, previous, StateRunning)

	case Delete:
		if err := o.engine.RemoveContainer(ctx, rec.DockerID, true); err != nil && !docker.IsNotFound(err) {
			return Result{}, apperr.Wrap(apperr.KindRuntime, err)
		}
		return o.finishDelete(ctx, actor, rec, previous)

	default:
		return Result{}, apperr.New(apperr.KindInvalidState, "unknown action %q", action)
	}
}

// waitRunning polls inspect at a fixed interval until the container reports
// running or attempts run out. A restart that never converges is an explicit
// failure, never a silent success.
func (o *Orchestrator) waitRunning(ctx context.Context, dockerID string) error {
	for attempt := 0; attempt < o.pollAttempts; attempt++ {
		select {
		case <-ctx.Done():
			return apperr.Wrap(apperr.KindRuntime, ctx.Err())
		case <-time.After(o.pollInterval):
		}

		inspect, err := o.engine.InspectContainer(ctx, dockerID)
		if err != nil {
			return apperr.Wrap(apperr.KindRuntime, err)
		}
		if inspect.State != nil && inspect.State.Status == StateRunning {
			return nil
		}
	}
	return apperr.New(apperr.KindRestartTimeout, "container did not reach running state after %d attempts", o.pollAttempts)
}

func (o *Orchestrator) finish(ctx context.Context, actor Actor, rec store.Container, activityType, previous, next string) (Result, error) {
	if err := o.store.UpdateContainerStatus(ctx, rec.ID, next); err != nil {
		log.Printf("action: update status for %s: %v", rec.ID, err)
	}
	o.record(ctx, actor, rec, activityType, previous, next)
	return Result{PreviousState: previous, NewState: next}, nil
}

func (o *Orchestrator) finishDelete(ctx context.Context, actor Actor, rec store.Container, previous string) (Result, error) {
	if err := o.store.DeleteContainer(ctx, rec.ID); err != nil {
		return Result{}, apperr.Wrap(apperr.KindRuntime, err)
	}
	o.record(ctx, actor, rec, store.ActivityContainerDelete, previous, StateDeleted)
	return Result{PreviousState: previous, NewState: StateDeleted}, nil
}

// record appends the audit entry. The trail is never read for control
// decisions, so a write failure is logged and does not fail the action.
func (o *Orchestrator) record(ctx context.Context, actor Actor, rec store.Container, activityType, previous, next string) {
	name := rec.Name
	if name == "" {
		name = rec.ID
	}
	activity, err := o.store.InsertActivity(ctx, store.Activity{
		Type:        activityType,
		Description: fmt.Sprintf("%s on container %s", activityType, name),
		UserID:      actor.UserID,
		Metadata: map[string]string{
			"container_id":   rec.ID,
			"docker_id":      rec.DockerID,
			"previous_state": previous,
			"new_state":      next,
		},
		IPAddress: actor.IPAddress,
		UserAgent: actor.UserAgent,
	})
	if err != nil {
		log.Printf("action: activity persist failed: %v", err)
		return
	}
	if o.publisher != nil {
		o.publisher.PublishActivity(ctx, activity)
	}
}
