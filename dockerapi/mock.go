package dockerapi

import (
	"context"
	"fmt"
	"io"
	"maps"
	"slices"
	"strings"
	"sync"
)

var errContainerExists = fmt.Errorf("container name already in use")

// ExecFunc scripts the behaviour of Mock.Exec.
type ExecFunc func(container string, cmd []string, stdout io.Writer, stderr io.Writer) int

// Mock is a mock implementation of the Docker interface.
// It should be used by tests so the actual Docker API is not actually called.
type Mock struct {
	mu sync.Mutex

	// images maps local image references to image IDs.
	images     map[string]string
	remote     map[string]bool
	containers map[string]Container
	specs      map[string]ContainerSpec
	builds     []string
	nextID     int

	// OnExec is called for every exec. A nil OnExec exits with 0 and no output.
	OnExec ExecFunc
	// Err, when set, is returned by every call.
	Err error
}

// NewMock returns a new Mock with the given local images.
func NewMock(images ...string) *Mock {
	m := &Mock{
		images:     make(map[string]string),
		remote:     make(map[string]bool),
		containers: make(map[string]Container),
		specs:      make(map[string]ContainerSpec),
	}
	for _, ref := range images {
		m.images[ref] = m.newID("sha256:")
	}
	return m
}

// AddRemote makes ref available to PullImage.
func (m *Mock) AddRemote(ref string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.remote[ref] = true
}

// AddContainer registers an existing container, as if it had been started outside the Mock.
func (m *Mock) AddContainer(c Container) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if c.ID == "" {
		c.ID = m.newID("")
	}
	m.containers[c.Name] = c
}

// Spec returns the spec a container was started with.
func (m *Mock) Spec(name string) (ContainerSpec, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	spec, ok := m.specs[name]
	return spec, ok
}

// Builds returns the directories that were built, in order.
func (m *Mock) Builds() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.builds)
}

// Images returns the local image references.
func (m *Mock) Images() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Sorted(maps.Keys(m.images))
}

func (m *Mock) newID(prefix string) string {
	m.nextID++
	return fmt.Sprintf("%s%012x", prefix, m.nextID)
}

func (m *Mock) lookup(nameOrID string) (Container, bool) {
	if c, ok := m.containers[nameOrID]; ok {
		return c, true
	}
	for _, c := range m.containers {
		if c.ID == nameOrID {
			return c, true
		}
	}
	return Container{}, false
}

// ImageExists reports whether ref is a local image or image ID.
func (m *Mock) ImageExists(_ context.Context, ref string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return false, m.Err
	}
	if _, ok := m.images[ref]; ok {
		return true, nil
	}
	return slices.Contains(slices.Collect(maps.Values(m.images)), ref), nil
}

// PullImage copies a remote image into the local store.
func (m *Mock) PullImage(_ context.Context, ref string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}
	if !m.remote[ref] {
		return fmt.Errorf("%w: image %s", ErrNotFound, ref)
	}
	m.images[ref] = m.newID("sha256:")
	return nil
}

// BuildImage records the build and returns a new untagged image ID.
func (m *Mock) BuildImage(_ context.Context, dir string, _ BuildOptions) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return "", m.Err
	}
	m.builds = append(m.builds, dir)
	id := m.newID("sha256:")
	m.images[id] = id
	return id, nil
}

// TagImage adds target as a reference to source.
func (m *Mock) TagImage(_ context.Context, source string, target string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}
	id, ok := m.images[source]
	if !ok {
		return fmt.Errorf("%w: image %s", ErrNotFound, source)
	}
	m.images[target] = id
	return nil
}

// RunContainer adds a running container.
func (m *Mock) RunContainer(_ context.Context, spec ContainerSpec) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return "", m.Err
	}
	if _, ok := m.images[spec.Image]; !ok {
		return "", fmt.Errorf("%w: image %s", ErrNotFound, spec.Image)
	}
	if _, ok := m.containers[spec.Name]; ok {
		return "", fmt.Errorf("%w: %s", errContainerExists, spec.Name)
	}
	networks := make(map[string]IPAddress)
	for i, n := range spec.Networks {
		networks[n] = IPAddress(fmt.Sprintf("172.18.0.%d", len(m.containers)+i+2))
	}
	c := Container{
		ID:       m.newID(""),
		Name:     spec.Name,
		Image:    spec.Image,
		Running:  true,
		Status:   "running",
		Labels:   maps.Clone(spec.Labels),
		Networks: networks,
	}
	m.containers[spec.Name] = c
	m.specs[spec.Name] = spec
	return c.ID, nil
}

// InspectContainer returns a container by name or ID.
func (m *Mock) InspectContainer(_ context.Context, nameOrID string) (Container, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return Container{}, m.Err
	}
	c, ok := m.lookup(nameOrID)
	if !ok {
		return Container{}, fmt.Errorf("%w: container %s", ErrNotFound, nameOrID)
	}
	return c, nil
}

// Exec runs OnExec against a running container.
func (m *Mock) Exec(_ context.Context, nameOrID string, cmd []string, stdout io.Writer, stderr io.Writer) (int, error) {
	m.mu.Lock()
	if m.Err != nil {
		m.mu.Unlock()
		return -1, m.Err
	}
	c, ok := m.lookup(nameOrID)
	exec := m.OnExec
	m.mu.Unlock()

	if !ok {
		return -1, fmt.Errorf("%w: container %s", ErrNotFound, nameOrID)
	}
	if !c.Running {
		return -1, fmt.Errorf("container %s is not running", c.Name)
	}
	if exec == nil {
		return 0, nil
	}
	if stdout == nil {
		stdout = io.Discard
	}
	if stderr == nil {
		stderr = io.Discard
	}
	return exec(c.Name, cmd, stdout, stderr), nil
}

// RemoveContainer deletes a container by name or ID.
func (m *Mock) RemoveContainer(_ context.Context, nameOrID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}
	c, ok := m.lookup(nameOrID)
	if !ok {
		return fmt.Errorf("%w: container %s", ErrNotFound, nameOrID)
	}
	delete(m.containers, c.Name)
	return nil
}

// ContainerList returns containers carrying all labels, sorted by name.
// An empty label value matches any value.
func (m *Mock) ContainerList(_ context.Context, labels map[string]string) ([]Container, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return nil, m.Err
	}
	var containers []Container
	for _, c := range m.containers {
		matches := true
		for k, v := range labels {
			if got, ok := c.Labels[k]; !ok || (v != "" && got != v) {
				matches = false
				break
			}
		}
		if matches {
			containers = append(containers, c)
		}
	}
	slices.SortFunc(containers, func(a, b Container) int { return strings.Compare(a.Name, b.Name) })
	return containers, nil
}

var _ Docker = (*Mock)(nil)
