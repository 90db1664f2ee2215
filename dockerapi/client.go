package dockerapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/docker/docker/api/types/build"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/jsonmessage"
	"github.com/docker/docker/pkg/stdcopy"
	"github.com/docker/go-connections/nat"
	"github.com/moby/go-archive"
)

var errBuildNoImage = fmt.Errorf("build finished without an image ID")

// Client is a wrapper around the Docker client.
type Client struct {
	client *client.Client

	// Progress receives the rendered pull and build output. Defaults to io.Discard.
	Progress io.Writer
}

// NewClient returns a new Client configured from the environment.
// A zero timeout leaves requests without a deadline.
func NewClient(timeout time.Duration) (*Client, error) {
	opts := []client.Opt{client.FromEnv, client.WithAPIVersionNegotiation()}
	if timeout > 0 {
		opts = append(opts, client.WithTimeout(timeout))
	}
	c, err := client.NewClientWithOpts(opts...)
	if err != nil {
		return nil, err
	}
	return &Client{client: c, Progress: io.Discard}, nil
}

// LogValue logs customizable properties of the Docker client.
// These properties can be customized by setting environment variables.
// Read: client.FromEnv.
func (c *Client) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("host", c.client.DaemonHost()),
		slog.String("apiVersion", c.client.ClientVersion()))
}

// Close releases the underlying transport.
func (c *Client) Close() error {
	return c.client.Close()
}

func wrapNotFound(err error) error {
	if client.IsErrNotFound(err) {
		return fmt.Errorf("%w: %w", ErrNotFound, err)
	}
	return err
}

// ImageExists inspects ref on the engine.
func (c *Client) ImageExists(ctx context.Context, ref string) (bool, error) {
	if _, err := c.client.ImageInspect(ctx, ref); err != nil {
		if client.IsErrNotFound(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// PullImage pulls ref and waits for the pull to complete.
func (c *Client) PullImage(ctx context.Context, ref string) error {
	out, err := c.client.ImagePull(ctx, ref, image.PullOptions{})
	if err != nil {
		return wrapNotFound(err)
	}
	defer out.Close()
	return jsonmessage.DisplayJSONMessagesStream(out, c.Progress, 0, false, nil)
}

// BuildImage sends dir as the build context and returns the built image ID.
func (c *Client) BuildImage(ctx context.Context, dir string, opts BuildOptions) (string, error) {
	buildContext, err := archive.TarWithOptions(dir, &archive.TarOptions{})
	if err != nil {
		return "", fmt.Errorf("build context %s: %w", dir, err)
	}
	defer buildContext.Close()

	resp, err := c.client.ImageBuild(ctx, buildContext, build.ImageBuildOptions{
		Dockerfile:  opts.Dockerfile,
		BuildArgs:   opts.BuildArgs,
		NoCache:     opts.NoCache,
		PullParent:  opts.Pull,
		Labels:      opts.Labels,
		Remove:      true,
		ForceRemove: true,
	})
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	var id string
	aux := func(msg jsonmessage.JSONMessage) {
		var result struct{ ID string }
		if msg.Aux != nil && json.Unmarshal(*msg.Aux, &result) == nil && result.ID != "" {
			id = result.ID
		}
	}
	if err := jsonmessage.DisplayJSONMessagesStream(resp.Body, c.Progress, 0, false, aux); err != nil {
		return "", err
	}
	if id == "" {
		return "", errBuildNoImage
	}
	return id, nil
}

// TagImage gives source the additional reference target.
func (c *Client) TagImage(ctx context.Context, source string, target string) error {
	return wrapNotFound(c.client.ImageTag(ctx, source, target))
}

// RunContainer creates the container described by spec and starts it.
func (c *Client) RunContainer(ctx context.Context, spec ContainerSpec) (string, error) {
	exposed, bindings, err := nat.ParsePortSpecs(spec.Ports)
	if err != nil {
		return "", err
	}

	config := &container.Config{
		Image:        spec.Image,
		Cmd:          spec.Command,
		Tty:          spec.TTY,
		OpenStdin:    spec.TTY,
		Env:          spec.Env,
		Labels:       spec.Labels,
		ExposedPorts: exposed,
	}
	hostConfig := &container.HostConfig{
		PortBindings: bindings,
		Binds:        spec.Volumes,
		Privileged:   spec.Privileged,
	}
	var networking *network.NetworkingConfig
	if len(spec.Networks) > 0 {
		hostConfig.NetworkMode = container.NetworkMode(spec.Networks[0])
		networking = &network.NetworkingConfig{
			EndpointsConfig: map[string]*network.EndpointSettings{spec.Networks[0]: {}},
		}
	}

	resp, err := c.client.ContainerCreate(ctx, config, hostConfig, networking, nil, spec.Name)
	if err != nil {
		return "", wrapNotFound(err)
	}
	for _, n := range spec.Networks[min(1, len(spec.Networks)):] {
		if err := c.client.NetworkConnect(ctx, n, resp.ID, nil); err != nil {
			return resp.ID, fmt.Errorf("connect %s to network %s: %w", spec.Name, n, wrapNotFound(err))
		}
	}
	if err := c.client.ContainerStart(ctx, resp.ID, container.StartOptions{}); err != nil {
		return resp.ID, err
	}
	return resp.ID, nil
}

// InspectContainer returns the current state of a container.
func (c *Client) InspectContainer(ctx context.Context, nameOrID string) (Container, error) {
	info, err := c.client.ContainerInspect(ctx, nameOrID)
	if err != nil {
		return Container{}, wrapNotFound(err)
	}

	ctr := Container{
		ID:       info.ID,
		Name:     strings.TrimPrefix(info.Name, "/"),
		Networks: make(map[string]IPAddress),
	}
	if info.Config != nil {
		ctr.Image = info.Config.Image
		ctr.Labels = info.Config.Labels
	}
	if info.State != nil {
		ctr.Running = info.State.Running
		ctr.Status = string(info.State.Status)
	}
	if info.NetworkSettings != nil {
		for name, endpoint := range info.NetworkSettings.Networks {
			ctr.Networks[name] = IPAddress(endpoint.IPAddress)
		}
	}
	return ctr, nil
}

// Exec runs cmd in a running container, demultiplexing its output into stdout and stderr.
func (c *Client) Exec(ctx context.Context, nameOrID string, cmd []string, stdout io.Writer, stderr io.Writer) (int, error) {
	exec, err := c.client.ContainerExecCreate(ctx, nameOrID, container.ExecOptions{
		Cmd:          cmd,
		AttachStdout: true,
		AttachStderr: true,
	})
	if err != nil {
		return -1, wrapNotFound(err)
	}

	resp, err := c.client.ContainerExecAttach(ctx, exec.ID, container.ExecAttachOptions{})
	if err != nil {
		return -1, err
	}
	defer resp.Close()

	if stdout == nil {
		stdout = io.Discard
	}
	if stderr == nil {
		stderr = io.Discard
	}
	if _, err := stdcopy.StdCopy(stdout, stderr, resp.Reader); err != nil && !errors.Is(err, io.EOF) {
		return -1, err
	}

	inspect, err := c.client.ContainerExecInspect(ctx, exec.ID)
	if err != nil {
		return -1, err
	}
	return inspect.ExitCode, nil
}

// RemoveContainer force-removes a container together with its anonymous volumes.
func (c *Client) RemoveContainer(ctx context.Context, nameOrID string) error {
	err := c.client.ContainerRemove(ctx, nameOrID, container.RemoveOptions{Force: true, RemoveVolumes: true})
	return wrapNotFound(err)
}

// ContainerList returns the list of containers from the Docker client.
func (c *Client) ContainerList(ctx context.Context, labels map[string]string) ([]Container, error) {
	args := filters.NewArgs()
	for k, v := range labels {
		if v == "" {
			args.Add("label", k)
		} else {
			args.Add("label", k+"="+v)
		}
	}
	clientContainers, err := c.client.ContainerList(ctx, container.ListOptions{All: true, Filters: args})
	if err != nil {
		return nil, err
	}

	containers := make([]Container, len(clientContainers))
	for i, ctr := range clientContainers {
		var name string
		if len(ctr.Names) > 0 {
			name = strings.TrimPrefix(ctr.Names[0], "/")
		}
		networks := make(map[string]IPAddress)
		if ctr.NetworkSettings != nil {
			for n, endpoint := range ctr.NetworkSettings.Networks {
				networks[n] = IPAddress(endpoint.IPAddress)
			}
		}

		containers[i] = Container{
			ID:       ctr.ID,
			Name:     name,
			Image:    ctr.Image,
			Running:  ctr.State == "running",
			Status:   ctr.Status,
			Labels:   ctr.Labels,
			Networks: networks,
		}
	}
	return containers, nil
}

var (
	_ slog.LogValuer = (*Client)(nil)
	_ Docker         = (*Client)(nil)
)
