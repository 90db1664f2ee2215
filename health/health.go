// Package health provides utilities to check the health of an instance at a regular interval.
package health

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

const (
	defaultHealthInterval = time.Second
	defaultHealthTimeout  = 5 * time.Second
	defaultHealthRetries  = 30
)

// ErrUnhealthy is returned by Wait when the retry budget is exhausted.
var ErrUnhealthy = fmt.Errorf("instance is unhealthy")

// Info describes an instance Health capability.
type Info struct {
	// Command is run inside the instance; exit code 0 means healthy.
	// When empty the instance is healthy as soon as its container is running.
	Command  string        `yaml:"command"`
	Interval time.Duration `yaml:"interval"`
	Timeout  time.Duration `yaml:"timeout"`
	Retries  int           `yaml:"retries"`
}

// Probe reports an unhealthy instance by returning an error.
type Probe func(ctx context.Context) error

// Result is the result of a health check.
type Result struct {
	Up      bool
	Err     error
	Attempt int
}

// LogValue returns a slog.Value for the result, ensuring that the error is displayed properly.
func (h Result) LogValue() slog.Value {
	return slog.GroupValue(
		slog.Bool("up", h.Up),
		slog.Any("error", h.Err),
		slog.Int("attempt", h.Attempt))
}

// Checker is the interface that wraps the basic methods for a health checker.
type Checker interface {
	Launch(ctx context.Context, probe Probe)
	Up() bool
	Check() <-chan Result
}

// Health periodically probes an instance.
type Health struct {
	Info

	c        chan Result
	resMutex sync.RWMutex
	res      Result
}

// New creates a new Health.
func New(info Info) *Health {
	if info.Interval == 0 {
		info.Interval = defaultHealthInterval
	}
	if info.Timeout == 0 {
		info.Timeout = defaultHealthTimeout
	}
	if info.Retries == 0 {
		info.Retries = defaultHealthRetries
	}
	return &Health{
		Info: info,
		c:    make(chan Result),
	}
}

// Launch probes at every interval until ctx is done, publishing each result on Check.
// The first probe runs immediately.
func (h *Health) Launch(ctx context.Context, probe Probe) {
	ticker := time.NewTicker(h.Interval)
	defer ticker.Stop()

	for attempt := 1; ; attempt++ {
		probeCtx, cancel := context.WithTimeout(ctx, h.Timeout)
		err := probe(probeCtx)
		cancel()

		res := Result{Up: err == nil, Err: err, Attempt: attempt}
		h.resMutex.Lock()
		h.res = res
		h.resMutex.Unlock()

		select {
		case h.c <- res:
		case <-ctx.Done():
			return
		}

		select {
		case <-ticker.C:
		case <-ctx.Done():
			return
		}
	}
}

// Up returns whether the last probe succeeded.
func (h *Health) Up() bool {
	h.resMutex.RLock()
	defer h.resMutex.RUnlock()
	return h.res.Up
}

// Check returns a channel that will receive the health result on each check.
func (h *Health) Check() <-chan Result {
	return h.c
}

// Wait launches c and blocks until it reports the instance up.
// After retries failed results, the last probe error is returned wrapped in ErrUnhealthy.
// A non-positive retries waits until ctx is done.
func Wait(ctx context.Context, c Checker, probe Probe, retries int) error {
	if c.Up() {
		return nil
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go c.Launch(ctx, probe)

	failures := 0
	for {
		select {
		case res := <-c.Check():
			slog.Debug("Health check", slog.Any("result", res))
			if res.Up {
				return nil
			}
			failures++
			if retries > 0 && failures >= retries {
				return fmt.Errorf("%w after %d attempts: %w", ErrUnhealthy, failures, res.Err)
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
