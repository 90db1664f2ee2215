// Package harness runs scenarios: it starts the instances a scenario describes, waits for them to be healthy,
// executes the scenario steps against them and tears everything down.
package harness

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/plamorg/tangovim/config"
	"github.com/plamorg/tangovim/health"
	"github.com/plamorg/tangovim/vim"
)

var (
	// ErrStepFailed is returned when at least one step did not meet its expectations.
	ErrStepFailed = fmt.Errorf("step failed")

	errNotRunning     = fmt.Errorf("container is not running")
	errProbeExitCode  = fmt.Errorf("health command failed")
	errExitCode       = fmt.Errorf("unexpected exit code")
	errOutputMismatch = fmt.Errorf("output does not contain expected text")
)

// Runner runs a single scenario against a Docker VIM.
type Runner struct {
	conf *config.Config
	vim  *vim.DockerVIM
}

// New returns a Runner for conf.
func New(conf *config.Config, v *vim.DockerVIM) *Runner {
	return &Runner{conf: conf, vim: v}
}

// Run executes the scenario. The VIM is always stopped, even when setup or a step fails.
// The report holds the result of every step that was run.
func (r *Runner) Run(ctx context.Context) (*Report, error) {
	report := &Report{}
	start := time.Now()
	err := vim.Run(ctx, r.vim, func(ctx context.Context, _ vim.VIM) error {
		if err := r.setup(ctx); err != nil {
			return err
		}
		return r.runSteps(ctx, report)
	})
	report.Duration = time.Since(start)
	return report, err
}

func (r *Runner) addInstance(ctx context.Context, instance config.Instance) (*vim.DockerInstance, error) {
	switch {
	case instance.Image != "":
		return r.vim.AddInstanceFromImage(ctx, instance.Name, instance.Image, instance.Run)
	case instance.Source != "":
		return r.vim.AddInstanceFromSource(ctx, instance.Name, instance.Source, instance.SourceOptions)
	default:
		return r.vim.AddInstance(ctx, instance.Name)
	}
}

// setup adds instances in order, then waits for all of them to be healthy concurrently.
func (r *Runner) setup(ctx context.Context) error {
	instances := make([]*vim.DockerInstance, len(r.conf.Instances))
	for i, instance := range r.conf.Instances {
		inst, err := r.addInstance(ctx, instance)
		if err != nil {
			return fmt.Errorf("add instance %s: %w", instance.Name, err)
		}
		instances[i] = inst
	}

	g, ctx := errgroup.WithContext(ctx)
	for i, instance := range r.conf.Instances {
		if instance.Health == nil {
			continue
		}
		inst := instances[i]
		g.Go(func() error {
			checker := health.New(*instance.Health)
			if err := health.Wait(ctx, checker, probe(inst, checker.Command), checker.Retries); err != nil {
				return fmt.Errorf("wait for %s: %w", inst.Name(), err)
			}
			slog.Info("Instance is healthy", slog.String("name", inst.Name()))
			return nil
		})
	}
	return g.Wait()
}

// probe checks that the container is running, then runs command when one is given.
func probe(inst *vim.DockerInstance, command string) health.Probe {
	return func(ctx context.Context) error {
		running, err := inst.Running(ctx)
		if err != nil {
			return err
		}
		if !running {
			return errNotRunning
		}
		if command == "" {
			return nil
		}
		res, err := inst.Execute(ctx, command)
		if err != nil {
			return err
		}
		if res.ExitCode != 0 {
			return fmt.Errorf("%w: exit code %d", errProbeExitCode, res.ExitCode)
		}
		return nil
	}
}

func (r *Runner) runSteps(ctx context.Context, report *Report) error {
	failed := 0
	for i, step := range r.conf.Steps {
		res := r.runStep(ctx, step)
		res.Index = i + 1
		report.Steps = append(report.Steps, res)
		if !res.Passed() {
			failed++
			slog.Warn("Step failed", slog.Any("step", res))
		} else {
			slog.Info("Step passed", slog.Any("step", res))
		}
	}
	if failed > 0 {
		return fmt.Errorf("%w: %d of %d", ErrStepFailed, failed, len(r.conf.Steps))
	}
	return nil
}

func (r *Runner) runStep(ctx context.Context, step config.Step) StepResult {
	res := StepResult{Step: step}
	inst, ok := r.vim.Instance(step.Instance)
	if !ok {
		res.Err = fmt.Errorf("%w: %s", vim.ErrNoInstance, step.Instance)
		return res
	}

	if step.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, step.Timeout)
		defer cancel()
	}

	start := time.Now()
	res.Exec, res.Err = inst.Execute(ctx, step.Exec)
	res.Duration = time.Since(start)
	if res.Err != nil {
		return res
	}

	if res.Exec.ExitCode != step.ExitCode() {
		res.Err = fmt.Errorf("%w: expected %d got %d", errExitCode, step.ExitCode(), res.Exec.ExitCode)
	} else if !strings.Contains(res.Exec.String(), step.ExpectOutput) {
		res.Err = fmt.Errorf("%w: %q", errOutputMismatch, step.ExpectOutput)
	}
	return res
}
