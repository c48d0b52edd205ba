package sandbox

import (
	"context"
	"io"
	"strconv"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/client"
	"github.com/docker/go-connections/nat"

	"github.com/koustreak/driftbox/internal/errs"
)

// Engine is the slice of a container runtime a container sandbox needs.
type Engine interface {
	// EnsureImage pulls ref unless it is already present locally.
	EnsureImage(ctx context.Context, ref string) error
	Create(ctx context.Context, spec ContainerSpec) (id string, err error)
	Start(ctx context.Context, id string) error
	// HostPort reports the host port bound to the container's port.
	HostPort(ctx context.Context, id string, port nat.Port) (int, error)
	// Remove force-removes the container and its anonymous volumes.
	Remove(ctx context.Context, id string) error
}

// ContainerSpec describes one sandbox container.
type ContainerSpec struct {
	Name   string
	Image  string
	Env    []string
	Labels map[string]string

	// Port is the container port to publish on 127.0.0.1.
	Port nat.Port
	// HostPort pins the host side; 0 lets the daemon pick.
	HostPort int

	// MemoryLimit in bytes; 0 means unlimited.
	MemoryLimit int64
}

func (s ContainerSpec) configs() (*container.Config, *container.HostConfig) {
	hostPort := ""
	if s.HostPort > 0 {
		hostPort = strconv.Itoa(s.HostPort)
	}

	cfg := &container.Config{
		Image:        s.Image,
		Env:          s.Env,
		Labels:       s.Labels,
		ExposedPorts: nat.PortSet{s.Port: struct{}{}},
	}
	host := &container.HostConfig{
		PortBindings: nat.PortMap{
			s.Port: {{HostIP: "127.0.0.1", HostPort: hostPort}},
		},
	}
	if s.MemoryLimit > 0 {
		host.Resources.Memory = s.MemoryLimit
	}
	return cfg, host
}

// boundPort finds the first host port published for port.
func boundPort(ports nat.PortMap, port nat.Port) (int, error) {
	for _, b := range ports[port] {
		if b.HostPort == "" {
			continue
		}
		n, err := strconv.Atoi(b.HostPort)
		if err != nil {
			return 0, errs.Wrap(errs.ErrKindProvisioning, "parse host port "+b.HostPort, err)
		}
		return n, nil
	}
	return 0, errs.Newf(errs.ErrKindProvisioning, "port %s is not published", port)
}

// DockerEngine runs sandbox containers on a Docker daemon.
type DockerEngine struct {
	cli *client.Client
}

// NewDockerEngine connects to the daemon named by host, or the one the
// DOCKER_* environment points at when host is empty.
func NewDockerEngine(host string) (*DockerEngine, error) {
	opts := []client.Opt{client.FromEnv, client.WithAPIVersionNegotiation()}
	if host != "" {
		opts = append(opts, client.WithHost(host))
	}
	cli, err := client.NewClientWithOpts(opts...)
	if err != nil {
		return nil, errs.Wrap(errs.ErrKindProvisioning, "docker client", err)
	}
	return &DockerEngine{cli: cli}, nil
}

func (e *DockerEngine) Ping(ctx context.Context) error {
	if _, err := e.cli.Ping(ctx); err != nil {
		return errs.Wrap(errs.ErrKindProvisioning, "docker ping", err)
	}
	return nil
}

func (e *DockerEngine) Close() error {
	return e.cli.Close()
}

func (e *DockerEngine) EnsureImage(ctx context.Context, ref string) error {
	if _, err := e.cli.ImageInspect(ctx, ref); err == nil {
		return nil
	}

	rc, err := e.cli.ImagePull(ctx, ref, image.PullOptions{})
	if err != nil {
		return errs.Wrap(errs.ErrKindProvisioning, "pull image "+ref, err)
	}
	defer rc.Close()

	// The pull only completes once its progress stream is drained.
	if _, err := io.Copy(io.Discard, rc); err != nil {
		return errs.Wrap(errs.ErrKindProvisioning, "pull image "+ref, err)
	}
	return nil
}

func (e *DockerEngine) Create(ctx context.Context, spec ContainerSpec) (string, error) {
	cfg, host := spec.configs()
	resp, err := e.cli.ContainerCreate(ctx, cfg, host, nil, nil, spec.Name)
	if err != nil {
		return "", errs.Wrap(errs.ErrKindProvisioning, "create container "+spec.Name, err)
	}
	return resp.ID, nil
}

func (e *DockerEngine) Start(ctx context.Context, id string) error {
	if err := e.cli.ContainerStart(ctx, id, container.StartOptions{}); err != nil {
		return errs.Wrap(errs.ErrKindProvisioning, "start container "+shortID(id), err)
	}
	return nil
}

func (e *DockerEngine) HostPort(ctx context.Context, id string, port nat.Port) (int, error) {
	info, err := e.cli.ContainerInspect(ctx, id)
	if err != nil {
		return 0, errs.Wrap(errs.ErrKindProvisioning, "inspect container "+shortID(id), err)
	}
	if info.NetworkSettings == nil {
		return 0, errs.Newf(errs.ErrKindProvisioning, "container %s has no network settings", shortID(id))
	}
	return boundPort(info.NetworkSettings.Ports, port)
}

func (e *DockerEngine) Remove(ctx context.Context, id string) error {
	err := e.cli.ContainerRemove(ctx, id, container.RemoveOptions{Force: true, RemoveVolumes: true})
	if err != nil {
		return errs.Wrap(errs.ErrKindProvisioning, "remove container "+shortID(id), err)
	}
	return nil
}

func shortID(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}
