package vim

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/plamorg/tangovim/dockerapi"
)

const (
	// LabelSession is set on every container to the ID of the DockerVIM session that created it.
	LabelSession = "io.tangovim.session"
	// LabelInstance is set on every container to its instance name.
	LabelInstance = "io.tangovim.instance"

	stopConcurrency = 8
)

var (
	// ErrImageNotFound is returned when an image exists neither on the engine nor in the registry.
	ErrImageNotFound = fmt.Errorf("docker image not found")
	// ErrDockerfileNotFound is returned when a source directory has no Dockerfile.
	ErrDockerfileNotFound = fmt.Errorf("dockerfile not found")
)

// RegistryChecker checks images that are missing from the engine against a remote registry.
type RegistryChecker interface {
	// Resolve returns image qualified with the registry it was looked up in, and whether it exists there.
	Resolve(ctx context.Context, image string) (string, bool, error)
}

// DockerVIM runs instances as Docker containers.
type DockerVIM struct {
	Base

	docker   dockerapi.Docker
	registry RegistryChecker

	mu      sync.Mutex
	session string
}

// NewDockerVIM returns a DockerVIM using docker as the engine and registry as the image existence fallback.
func NewDockerVIM(docker dockerapi.Docker, registry RegistryChecker) *DockerVIM {
	return &DockerVIM{docker: docker, registry: registry}
}

// Start opens a new session. Containers created in the session are labelled with its ID.
func (v *DockerVIM) Start(_ context.Context) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.session == "" {
		v.session = uuid.NewString()
		slog.Info("Started Docker VIM", slog.String("session", v.session))
	}
	return nil
}

// Session returns the ID of the current session, empty before Start.
func (v *DockerVIM) Session() string {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.session
}

func (v *DockerVIM) requireStarted() error {
	if v.Session() == "" {
		return ErrNotStarted
	}
	return nil
}

// Stop removes every instance concurrently and closes the session.
// Failures do not prevent the remaining instances from being removed; they are joined in the returned error.
func (v *DockerVIM) Stop(ctx context.Context) error {
	instances := v.Instances()
	errs := make([]error, len(instances))

	var g errgroup.Group
	g.SetLimit(stopConcurrency)
	for i, inst := range instances {
		g.Go(func() error {
			if err := inst.Stop(ctx); err != nil {
				errs[i] = fmt.Errorf("stop %s: %w", inst.Name(), err)
			}
			return nil
		})
	}
	_ = g.Wait()

	// Instances that failed to stop stay registered so Stop can be retried.
	for i, inst := range instances {
		if errs[i] == nil {
			v.Remove(inst.Name())
		}
	}

	v.mu.Lock()
	session := v.session
	v.session = ""
	v.mu.Unlock()
	if session != "" {
		slog.Info("Stopped Docker VIM", slog.String("session", session), slog.Int("instances", len(instances)))
	}
	return errors.Join(errs...)
}

// locateImage reports where image is available.
// The registry is only consulted when the engine reports the image as missing.
// For images found in the registry, resolved is the reference the engine must pull.
func (v *DockerVIM) locateImage(ctx context.Context, image string) (local bool, remote bool, resolved string, err error) {
	local, err = v.docker.ImageExists(ctx, image)
	if err != nil {
		return false, false, "", fmt.Errorf("inspect image %s: %w", image, err)
	}
	if local {
		return true, false, image, nil
	}
	if v.registry == nil {
		return false, false, "", nil
	}

	ref, err := normalizeImage(image)
	if err != nil {
		return false, false, "", err
	}
	qualified, remote, err := v.registry.Resolve(ctx, ref)
	if err != nil {
		return false, false, "", fmt.Errorf("check registry for %s: %w", ref, err)
	}
	if !remote {
		return false, false, "", nil
	}
	resolved, err = normalizeImage(qualified)
	if err != nil {
		return false, false, "", err
	}
	return false, true, resolved, nil
}

// ImageExists reports whether image is present on the engine or, failing that, in the registry.
// Images given without a tag are looked up in the registry with the latest tag.
func (v *DockerVIM) ImageExists(ctx context.Context, image string) (bool, error) {
	local, remote, _, err := v.locateImage(ctx, image)
	return local || remote, err
}

// AddInstance registers the existing container name as an instance.
// When the container cannot be found the instance is still registered, detached from any container.
func (v *DockerVIM) AddInstance(ctx context.Context, name string) (*DockerInstance, error) {
	if err := v.requireStarted(); err != nil {
		return nil, err
	}
	inst := newDockerInstance(ctx, v, name)
	if err := v.Add(inst); err != nil {
		return nil, err
	}
	return inst, nil
}

// AddInstanceFromImage runs image as a detached container with a TTY and registers it as the instance name.
// Images only available in the registry are pulled first, qualified with the registry they were found in.
func (v *DockerVIM) AddInstanceFromImage(ctx context.Context, name string, image string, opts RunOptions) (*DockerInstance, error) {
	if err := v.requireStarted(); err != nil {
		return nil, err
	}
	if err := ValidateName(name); err != nil {
		return nil, err
	}
	if v.Has(name) {
		return nil, fmt.Errorf("%w: %s", ErrInstanceExists, name)
	}
	command, err := splitCommand(opts.Command)
	if err != nil {
		return nil, err
	}

	local, remote, resolved, err := v.locateImage(ctx, image)
	if err != nil {
		return nil, err
	}
	if !local && !remote {
		return nil, fmt.Errorf("%w: %s", ErrImageNotFound, image)
	}
	if !local {
		image = resolved
		slog.Info("Pulling image", slog.String("image", image))
		if err := v.docker.PullImage(ctx, image); err != nil {
			return nil, fmt.Errorf("pull %s: %w", image, err)
		}
	}

	labels := maps.Clone(opts.Labels)
	if labels == nil {
		labels = make(map[string]string)
	}
	labels[LabelSession] = v.Session()
	labels[LabelInstance] = name

	id, err := v.docker.RunContainer(ctx, dockerapi.ContainerSpec{
		Name:       name,
		Image:      image,
		Command:    command,
		TTY:        true,
		Env:        opts.Env,
		Labels:     labels,
		Ports:      opts.Ports,
		Volumes:    opts.Volumes,
		Networks:   opts.Networks,
		Privileged: opts.Privileged,
	})
	if err != nil {
		if id != "" {
			// Created but never started; do not leak it.
			_ = v.docker.RemoveContainer(context.WithoutCancel(ctx), id)
		}
		return nil, fmt.Errorf("run %s: %w", name, err)
	}
	slog.Info("Started instance",
		slog.String("name", name),
		slog.String("image", image),
		slog.String("container", id))

	return v.AddInstance(ctx, name)
}

// AddInstanceFromSource builds the Dockerfile in path, tags the image and runs it as the instance name.
func (v *DockerVIM) AddInstanceFromSource(ctx context.Context, name string, path string, opts SourceOptions) (*DockerInstance, error) {
	if err := v.requireStarted(); err != nil {
		return nil, err
	}
	if err := ValidateName(name); err != nil {
		return nil, err
	}
	if v.Has(name) {
		return nil, fmt.Errorf("%w: %s", ErrInstanceExists, name)
	}

	dockerfile := filepath.Join(path, "Dockerfile")
	if info, err := os.Stat(dockerfile); err != nil || !info.Mode().IsRegular() {
		return nil, fmt.Errorf("%w: in %s", ErrDockerfileNotFound, path)
	}

	tag, err := sourceImageName(name, opts)
	if err != nil {
		return nil, err
	}

	slog.Info("Building image", slog.String("path", path), slog.String("tag", tag))
	id, err := v.docker.BuildImage(ctx, path, dockerapi.BuildOptions{
		Dockerfile: "Dockerfile",
		BuildArgs:  opts.BuildArgs,
		NoCache:    opts.NoCache,
		Pull:       opts.Pull,
		Labels:     map[string]string{LabelInstance: name},
	})
	if err != nil {
		return nil, fmt.Errorf("build %s: %w", path, err)
	}
	if err := v.docker.TagImage(ctx, id, tag); err != nil {
		return nil, fmt.Errorf("tag %s as %s: %w", id, tag, err)
	}

	return v.AddInstanceFromImage(ctx, name, tag, opts.Run)
}

var _ VIM = (*DockerVIM)(nil)
