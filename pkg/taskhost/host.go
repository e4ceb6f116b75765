package taskhost

import (
	"context"
	"fmt"
	"syscall"
	"time"

	"github.com/containerd/containerd"
	"github.com/containerd/containerd/cio"
	"github.com/containerd/containerd/namespaces"
	"github.com/containerd/containerd/oci"
	specs "github.com/opencontainers/runtime-spec/specs-go"
	"github.com/rs/zerolog"

	"github.com/cuemby/nucleus/pkg/klog"
)

const (
	// DefaultNamespace is the containerd namespace pager processes run
	// under, kept separate from any host workload namespace.
	DefaultNamespace = "nucleus"

	// DefaultSocketPath is the default containerd socket.
	DefaultSocketPath = "/run/containerd/containerd.sock"
)

// PagerSpec describes the external pager process to launch: the image
// providing the pager binary, the env it needs to find the kernel's
// listening socket, and the host directory that socket lives in (bind
// mounted into the container so the pager can dial it).
type PagerSpec struct {
	ID            string
	Image         string
	SocketHostDir string // host directory containing the listening socket
	SocketPath    string // path inside the container to the socket
	Env           []string
}

// PagerProcess is a running external pager: the containerd handles
// needed to track and stop it.
type PagerProcess struct {
	ID        string
	container containerd.Container
	task      containerd.Task
}

// Pid returns the OS process id of the running pager, or 0 if it is
// not currently running.
func (p *PagerProcess) Pid() uint32 {
	if p.task == nil {
		return 0
	}
	return p.task.Pid()
}

// Host is a containerd-backed launcher for external pager processes.
// It is a thin, task-flavored rework of the teacher's ContainerdRuntime
// (pkg/runtime/containerd.go): pull/create/start/stop/delete against a
// single namespace, minus the workload-scheduling concerns (resource
// limits, IP discovery) a pager process doesn't need.
type Host struct {
	client    *containerd.Client
	namespace string
	logger    zerolog.Logger
}

// NewHost connects to containerd at socketPath (DefaultSocketPath if
// empty).
func NewHost(socketPath string) (*Host, error) {
	if socketPath == "" {
		socketPath = DefaultSocketPath
	}
	client, err := containerd.New(socketPath)
	if err != nil {
		return nil, fmt.Errorf("taskhost: connect to containerd: %w", err)
	}
	return &Host{
		client:    client,
		namespace: DefaultNamespace,
		logger:    klog.WithComponent("taskhost"),
	}, nil
}

// Close closes the underlying containerd client.
func (h *Host) Close() error {
	if h.client == nil {
		return nil
	}
	return h.client.Close()
}

// Launch pulls spec.Image if needed, creates a container bind-mounting
// spec.SocketHostDir at spec.SocketPath, and starts it. The returned
// PagerProcess's Pid is valid once this returns.
func (h *Host) Launch(ctx context.Context, spec PagerSpec) (*PagerProcess, error) {
	ctx = namespaces.WithNamespace(ctx, h.namespace)

	image, err := h.client.GetImage(ctx, spec.Image)
	if err != nil {
		image, err = h.client.Pull(ctx, spec.Image, containerd.WithPullUnpack)
		if err != nil {
			return nil, fmt.Errorf("taskhost: pull image %s: %w", spec.Image, err)
		}
	}

	mounts := []specs.Mount{{
		Source:      spec.SocketHostDir,
		Destination: spec.SocketPath,
		Type:        "bind",
		Options:     []string{"bind"},
	}}

	opts := []oci.SpecOpts{
		oci.WithImageConfig(image),
		oci.WithEnv(spec.Env),
		oci.WithMounts(mounts),
	}

	container, err := h.client.NewContainer(
		ctx,
		spec.ID,
		containerd.WithImage(image),
		containerd.WithNewSnapshot(spec.ID+"-snapshot", image),
		containerd.WithNewSpec(opts...),
	)
	if err != nil {
		return nil, fmt.Errorf("taskhost: create container: %w", err)
	}

	task, err := container.NewTask(ctx, cio.NullIO)
	if err != nil {
		return nil, fmt.Errorf("taskhost: create task: %w", err)
	}
	if err := task.Start(ctx); err != nil {
		return nil, fmt.Errorf("taskhost: start task: %w", err)
	}

	h.logger.Info().Str("pager_id", spec.ID).Uint32("pid", task.Pid()).Msg("external pager launched")
	return &PagerProcess{ID: spec.ID, container: container, task: task}, nil
}

// Stop sends SIGTERM, waits up to timeout, then SIGKILLs and deletes
// both the task and the container.
func (h *Host) Stop(ctx context.Context, p *PagerProcess, timeout time.Duration) error {
	ctx = namespaces.WithNamespace(ctx, h.namespace)

	stopCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if err := p.task.Kill(stopCtx, syscall.SIGTERM); err != nil {
		return fmt.Errorf("taskhost: kill task: %w", err)
	}

	statusC, err := p.task.Wait(stopCtx)
	if err != nil {
		return fmt.Errorf("taskhost: wait for task: %w", err)
	}

	select {
	case <-statusC:
	case <-stopCtx.Done():
		if err := p.task.Kill(ctx, syscall.SIGKILL); err != nil {
			return fmt.Errorf("taskhost: force kill task: %w", err)
		}
	}

	if _, err := p.task.Delete(ctx); err != nil {
		return fmt.Errorf("taskhost: delete task: %w", err)
	}
	if err := p.container.Delete(ctx, containerd.WithSnapshotCleanup); err != nil {
		return fmt.Errorf("taskhost: delete container: %w", err)
	}
	h.logger.Info().Str("pager_id", p.ID).Msg("external pager stopped")
	return nil
}

// Status reports whether p's task is still running.
func (h *Host) Status(ctx context.Context, p *PagerProcess) (string, error) {
	ctx = namespaces.WithNamespace(ctx, h.namespace)
	status, err := p.task.Status(ctx)
	if err != nil {
		return "", fmt.Errorf("taskhost: task status: %w", err)
	}
	return string(status.Status), nil
}

// List returns the ids of every container in the host's namespace.
func (h *Host) List(ctx context.Context) ([]string, error) {
	ctx = namespaces.WithNamespace(ctx, h.namespace)
	containers, err := h.client.Containers(ctx)
	if err != nil {
		return nil, fmt.Errorf("taskhost: list containers: %w", err)
	}
	ids := make([]string, 0, len(containers))
	for _, c := range containers {
		ids = append(ids, c.ID())
	}
	return ids, nil
}
