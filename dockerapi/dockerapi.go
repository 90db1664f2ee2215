// Package dockerapi provides a way to interact with the Docker API using an adapter pattern.
package dockerapi

import (
	"context"
	"fmt"
	"io"
	"net"
)

// ErrNotFound is returned when the Docker engine reports that an object does not exist.
var ErrNotFound = fmt.Errorf("not found")

// IPAddress represents a Docker container's IP in a particular network.
type IPAddress string

// Addr joins the IPAddress with a port.
func (ip IPAddress) Addr(port uint16) string {
	return net.JoinHostPort(string(ip), fmt.Sprint(port))
}

// Container represents a Docker container.
type Container struct {
	ID       string
	Name     string
	Image    string
	Running  bool
	Status   string
	Labels   map[string]string
	Networks map[string]IPAddress
}

// Docker is an interface for interacting with the Docker API.
type Docker interface {
	// ImageExists reports whether ref is present in the local image store.
	ImageExists(ctx context.Context, ref string) (bool, error)
	PullImage(ctx context.Context, ref string) error
	// BuildImage builds the directory dir and returns the resulting image ID.
	BuildImage(ctx context.Context, dir string, opts BuildOptions) (string, error)
	TagImage(ctx context.Context, source string, target string) error

	// RunContainer creates and starts a container, returning its ID.
	RunContainer(ctx context.Context, spec ContainerSpec) (string, error)
	InspectContainer(ctx context.Context, nameOrID string) (Container, error)
	// Exec runs cmd inside a running container and returns its exit code.
	Exec(ctx context.Context, nameOrID string, cmd []string, stdout io.Writer, stderr io.Writer) (int, error)
	RemoveContainer(ctx context.Context, nameOrID string) error
	// ContainerList lists all containers, running or not, carrying every given label.
	// An empty label value only requires the label key to be present.
	ContainerList(ctx context.Context, labels map[string]string) ([]Container, error)
}
