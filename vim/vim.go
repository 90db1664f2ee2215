// Package vim defines the virtual infrastructure manager used by the test harness to host VNF instances.
package vim

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
)

var (
	// ErrInstanceExists is returned when an instance name is already registered.
	ErrInstanceExists = fmt.Errorf("instance already exists")
	// ErrNoInstance is returned when an instance name is not registered.
	ErrNoInstance = fmt.Errorf("no instance with name")
	// ErrNotStarted is returned when a VIM is used before Start.
	ErrNotStarted = fmt.Errorf("vim not started")
)

// VIM manages the lifecycle of a set of instances.
type VIM interface {
	Start(ctx context.Context) error
	// Stop tears down every instance. Stop on a VIM that was never started is a no-op.
	Stop(ctx context.Context) error
	Instance(name string) (Instance, bool)
	Instances() []Instance
}

// Instance is a single network function hosted by a VIM.
type Instance interface {
	Name() string
	// Execute runs cmd through a shell inside the instance.
	Execute(ctx context.Context, cmd string) (ExecResult, error)
	Stop(ctx context.Context) error
}

// ExecResult is the outcome of a command executed inside an instance.
type ExecResult struct {
	ExitCode int
	Output   []byte
}

// String returns the output of the command.
func (r ExecResult) String() string {
	return string(r.Output)
}

// Base is the instance registry shared by VIM backends. It is safe for concurrent use.
type Base struct {
	mu        sync.RWMutex
	instances map[string]Instance
}

// Add registers inst under its name.
func (b *Base) Add(inst Instance) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.instances == nil {
		b.instances = make(map[string]Instance)
	}
	if _, ok := b.instances[inst.Name()]; ok {
		return fmt.Errorf("%w: %s", ErrInstanceExists, inst.Name())
	}
	b.instances[inst.Name()] = inst
	return nil
}

// Has reports whether name is registered.
func (b *Base) Has(name string) bool {
	_, ok := b.Instance(name)
	return ok
}

// Remove unregisters name.
func (b *Base) Remove(name string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.instances, name)
}

// Instance returns the instance registered under name.
func (b *Base) Instance(name string) (Instance, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	inst, ok := b.instances[name]
	return inst, ok
}

// Instances returns all registered instances sorted by name.
func (b *Base) Instances() []Instance {
	b.mu.RLock()
	defer b.mu.RUnlock()
	instances := make([]Instance, 0, len(b.instances))
	for _, inst := range b.instances {
		instances = append(instances, inst)
	}
	slices.SortFunc(instances, func(a, b Instance) int { return strings.Compare(a.Name(), b.Name()) })
	return instances
}

// Run starts v, calls fn and stops v, even when fn fails.
// The errors of fn and Stop are joined.
func Run(ctx context.Context, v VIM, fn func(context.Context, VIM) error) error {
	if err := v.Start(ctx); err != nil {
		return err
	}
	// Teardown must run even when ctx was cancelled by fn's failure.
	stopCtx := context.WithoutCancel(ctx)
	return errors.Join(fn(ctx, v), v.Stop(stopCtx))
}
