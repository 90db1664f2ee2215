package vim

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/plamorg/tangovim/dockerapi"
)

// ErrDetached is returned when an instance has no container to act on.
var ErrDetached = fmt.Errorf("instance has no container")

// DockerInstance is an instance backed by a Docker container.
// It is created by DockerVIM and should not be constructed directly.
type DockerInstance struct {
	name string

	mu        sync.Mutex
	docker    dockerapi.Docker
	container *dockerapi.Container
}

// newDockerInstance looks up the container of name.
// Lookup failures are not errors: the instance is left detached so that scenarios
// running against externally managed infrastructure can still refer to it.
func newDockerInstance(ctx context.Context, v *DockerVIM, name string) *DockerInstance {
	inst := &DockerInstance{name: name}
	c, err := v.docker.InspectContainer(ctx, inst.ContainerName())
	if err != nil {
		slog.Debug("Instance has no container", slog.String("name", name), slog.Any("error", err))
		return inst
	}
	inst.docker = v.docker
	inst.container = &c
	return inst
}

// Name returns the instance name.
func (i *DockerInstance) Name() string {
	return i.name
}

// ContainerName returns the name of the backing container.
func (i *DockerInstance) ContainerName() string {
	return i.name
}

// Container returns the backing container as it was when the instance was attached.
func (i *DockerInstance) Container() (dockerapi.Container, bool) {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.container == nil {
		return dockerapi.Container{}, false
	}
	return *i.container, true
}

// Detached reports whether the instance has no container.
func (i *DockerInstance) Detached() bool {
	_, ok := i.Container()
	return !ok
}

// IPAddress returns the address of the instance in network.
func (i *DockerInstance) IPAddress(network string) (dockerapi.IPAddress, bool) {
	c, ok := i.Container()
	if !ok {
		return "", false
	}
	ip, ok := c.Networks[network]
	return ip, ok
}

func (i *DockerInstance) attached() (dockerapi.Docker, string, error) {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.container == nil {
		return nil, "", fmt.Errorf("%w: %s", ErrDetached, i.name)
	}
	return i.docker, i.container.ID, nil
}

// Running inspects the container and reports whether it is running.
func (i *DockerInstance) Running(ctx context.Context) (bool, error) {
	docker, id, err := i.attached()
	if err != nil {
		return false, err
	}
	c, err := docker.InspectContainer(ctx, id)
	if err != nil {
		return false, err
	}
	return c.Running, nil
}

// Execute runs cmd with sh -c and collects stdout and stderr together.
func (i *DockerInstance) Execute(ctx context.Context, cmd string) (ExecResult, error) {
	var out bytes.Buffer
	code, err := i.ExecuteStream(ctx, cmd, &out, &out)
	if err != nil {
		return ExecResult{}, err
	}
	return ExecResult{ExitCode: code, Output: out.Bytes()}, nil
}

// ExecuteStream runs cmd with sh -c, streaming its output to stdout and stderr, and returns the exit code.
func (i *DockerInstance) ExecuteStream(ctx context.Context, cmd string, stdout io.Writer, stderr io.Writer) (int, error) {
	docker, id, err := i.attached()
	if err != nil {
		return -1, err
	}
	slog.Debug("Executing command", slog.String("instance", i.name), slog.String("cmd", cmd))
	code, err := docker.Exec(ctx, id, []string{"sh", "-c", cmd}, stdout, stderr)
	if err != nil {
		return -1, fmt.Errorf("exec in %s: %w", i.name, err)
	}
	return code, nil
}

// Stop force-removes the container and detaches the instance.
// Stopping a detached instance, or one whose container is already gone, succeeds.
func (i *DockerInstance) Stop(ctx context.Context) error {
	docker, id, err := i.attached()
	if err != nil {
		return nil
	}
	if err := docker.RemoveContainer(ctx, id); err != nil && !errors.Is(err, dockerapi.ErrNotFound) {
		slog.Warn("Failed to remove container", slog.String("instance", i.name), slog.Any("error", err))
		return err
	}

	i.mu.Lock()
	i.container = nil
	i.docker = nil
	i.mu.Unlock()
	slog.Debug("Removed instance", slog.String("name", i.name))
	return nil
}

var _ Instance = (*DockerInstance)(nil)
