// Package docker wraps the Docker Engine SDK behind the handful of calls the
// control plane needs. One Engine is constructed at process start and shared
// by every component; the SDK client is safe for concurrent use.
package docker

import (
	"context"
	"fmt"
	"io"
	"strconv"

	cerrdefs "github.com/containerd/errdefs"
	"github.com/docker/docker/api/types/build"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/volume"
	"github.com/docker/docker/client"
	"github.com/docker/go-connections/nat"
)

// OwnerLabel tags every runtime object DockerFlow creates with its owning
// user. Reconciliation trusts this label over the request context.
const OwnerLabel = "dockerflow.owner"

type Engine struct {
	cli *client.Client
}

// NewEngine connects to the daemon. An empty host falls back to the
// environment (DOCKER_HOST or the default socket).
func NewEngine(host string) (*Engine, error) {
	opts := []client.Opt{client.FromEnv, client.WithAPIVersionNegotiation()}
	if host != "" {
		opts = append(opts, client.WithHost(host))
	}
	cli, err := client.NewClientWithOpts(opts...)
	if err != nil {
		return nil, fmt.Errorf("create docker client: %w", err)
	}
	return &Engine{cli: cli}, nil
}

func (e *Engine) Close() error {
	return e.cli.Close()
}

// IsNotFound reports whether an engine error means the target object is gone.
func IsNotFound(err error) bool {
	return cerrdefs.IsNotFound(err)
}

func (e *Engine) ListContainers(ctx context.Context, all bool) ([]container.Summary, error) {
	return e.cli.ContainerList(ctx, container.ListOptions{All: all})
}

func (e *Engine) InspectContainer(ctx context.Context, id string) (container.InspectResponse, error) {
	return e.cli.ContainerInspect(ctx, id)
}

func (e *Engine) StartContainer(ctx context.Context, id string) error {
	return e.cli.ContainerStart(ctx, id, container.StartOptions{})
}

func (e *Engine) StopContainer(ctx context.Context, id string, timeoutSeconds int) error {
	return e.cli.ContainerStop(ctx, id, container.StopOptions{Timeout: &timeoutSeconds})
}

func (e *Engine) RestartContainer(ctx context.Context, id string, timeoutSeconds int) error {
	return e.cli.ContainerRestart(ctx, id, container.StopOptions{Timeout: &timeoutSeconds})
}

func (e *Engine) RemoveContainer(ctx context.Context, id string, force bool) error {
	return e.cli.ContainerRemove(ctx, id, container.RemoveOptions{Force: force, RemoveVolumes: false})
}

// CreateSpec is the validated container shape accepted at the API boundary.
// Ports map host port to container port; Binds map host path to container
// path.
type CreateSpec struct {
	Name          string
	Image         string
	Env           map[string]string
	Ports         map[uint16]uint16
	Binds         map[string]string
	Labels        map[string]string
	CPUMillicores int64
	MemoryBytes   int64
}

func (e *Engine) CreateContainer(ctx context.Context, spec CreateSpec) (string, error) {
	env := make([]string, 0, len(spec.Env))
	for key, val := range spec.Env {
		env = append(env, key+"="+val)
	}

	exposed := nat.PortSet{}
	bindings := nat.PortMap{}
	for hostPort, containerPort := range spec.Ports {
		port, err := nat.NewPort("tcp", strconv.Itoa(int(containerPort)))
		if err != nil {
			return "", fmt.Errorf("invalid container port %d: %w", containerPort, err)
		}
		exposed[port] = struct{}{}
		bindings[port] = []nat.PortBinding{{HostIP: "0.0.0.0", HostPort: strconv.Itoa(int(hostPort))}}
	}

	binds := make([]string, 0, len(spec.Binds))
	for hostPath, containerPath := range spec.Binds {
		binds = append(binds, hostPath+":"+containerPath)
	}

	cfg := &container.Config{
		Image:        spec.Image,
		Env:          env,
		Labels:       spec.Labels,
		ExposedPorts: exposed,
	}
	hostCfg := &container.HostConfig{
		PortBindings: bindings,
		Binds:        binds,
		Resources: container.Resources{
			NanoCPUs: spec.CPUMillicores * 1_000_000,
			Memory:   spec.MemoryBytes,
		},
	}

	resp, err := e.cli.ContainerCreate(ctx, cfg, hostCfg, nil, nil, spec.Name)
	if err != nil {
		return "", err
	}
	return resp.ID, nil
}

type LogsOptions struct {
	Tail       string
	Since      string
	Timestamps bool
}

func (e *Engine) ContainerLogs(ctx context.Context, id string, opts LogsOptions) (io.ReadCloser, error) {
	return e.cli.ContainerLogs(ctx, id, container.LogsOptions{
		ShowStdout: true,
		ShowStderr: true,
		Tail:       opts.Tail,
		Since:      opts.Since,
		Timestamps: opts.Timestamps,
	})
}

// ContainerStats takes a single non-streaming sample.
func (e *Engine) ContainerStats(ctx context.Context, id string) (container.StatsResponse, error) {
	reader, err := e.cli.ContainerStatsOneShot(ctx, id)
	if err != nil {
		return container.StatsResponse{}, err
	}
	defer reader.Body.Close()
	return decodeStats(reader.Body)
}

func (e *Engine) ListImages(ctx context.Context) ([]image.Summary, error) {
	return e.cli.ImageList(ctx, image.ListOptions{})
}

func (e *Engine) InspectImage(ctx context.Context, ref string) (image.InspectResponse, error) {
	return e.cli.ImageInspect(ctx, ref)
}

// PullImage returns the raw engine progress stream; the caller owns closing
// it. registryAuth is the base64 auth config, empty for anonymous pulls.
func (e *Engine) PullImage(ctx context.Context, ref, registryAuth string) (io.ReadCloser, error) {
	return e.cli.ImagePull(ctx, ref, image.PullOptions{RegistryAuth: registryAuth})
}

// BuildImage builds from a tar context and returns the progress stream.
func (e *Engine) BuildImage(ctx context.Context, buildContext io.Reader, tags []string, dockerfile string) (io.ReadCloser, error) {
	if dockerfile == "" {
		dockerfile = "Dockerfile"
	}
	resp, err := e.cli.ImageBuild(ctx, buildContext, build.ImageBuildOptions{
		Tags:       tags,
		Dockerfile: dockerfile,
		Remove:     true,
	})
	if err != nil {
		return nil, err
	}
	return resp.Body, nil
}

func (e *Engine) RemoveImage(ctx context.Context, ref string, force bool) error {
	_, err := e.cli.ImageRemove(ctx, ref, image.RemoveOptions{Force: force, PruneChildren: true})
	return err
}

func (e *Engine) TagImage(ctx context.Context, source, target string) error {
	return e.cli.ImageTag(ctx, source, target)
}

func (e *Engine) CreateVolume(ctx context.Context, name, driver string, labels map[string]string) (volume.Volume, error) {
	if driver == "" {
		driver = "local"
	}
	return e.cli.VolumeCreate(ctx, volume.CreateOptions{Name: name, Driver: driver, Labels: labels})
}

func (e *Engine) InspectVolume(ctx context.Context, name string) (volume.Volume, error) {
	return e.cli.VolumeInspect(ctx, name)
}

func (e *Engine) RemoveVolume(ctx context.Context, name string, force bool) error {
	return e.cli.VolumeRemove(ctx, name, force)
}

func (e *Engine) ListVolumes(ctx context.Context) ([]*volume.Volume, error) {
	resp, err := e.cli.VolumeList(ctx, volume.ListOptions{})
	if err != nil {
		return nil, err
	}
	return resp.Volumes, nil
}

// RunOneShot runs a helper container to completion and removes it. Used for
// volume backup and restore, which tar the volume contents through a side
// container. Returns the container exit code.
func (e *Engine) RunOneShot(ctx context.Context, image string, cmd []string, binds map[string]string) (int64, error) {
	bindList := make([]string, 0, len(binds))
	for hostPath, containerPath := range binds {
		bindList = append(bindList, hostPath+":"+containerPath)
	}

	resp, err := e.cli.ContainerCreate(ctx, &container.Config{
		Image: image,
		Cmd:   cmd,
	}, &container.HostConfig{
		Binds: bindList,
	}, nil, nil, "")
	if err != nil {
		return -1, err
	}
	defer func() {
		_ = e.cli.ContainerRemove(context.WithoutCancel(ctx), resp.ID, container.RemoveOptions{Force: true})
	}()

	if err := e.cli.ContainerStart(ctx, resp.ID, container.StartOptions{}); err != nil {
		return -1, err
	}

	statusCh, errCh := e.cli.ContainerWait(ctx, resp.ID, container.WaitConditionNotRunning)
	select {
	case err := <-errCh:
		return -1, err
	case status := <-statusCh:
		if status.Error != nil {
			return status.StatusCode, fmt.Errorf("helper container: %s", status.Error.Message)
		}
		return status.StatusCode, nil
	}
}
