package harness

import (
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/olekukonko/tablewriter"

	"github.com/plamorg/tangovim/config"
	"github.com/plamorg/tangovim/vim"
)

// StepResult is the outcome of one step.
type StepResult struct {
	Index    int
	Step     config.Step
	Exec     vim.ExecResult
	Err      error
	Duration time.Duration
}

// Passed reports whether the step met its expectations.
func (s StepResult) Passed() bool {
	return s.Err == nil
}

// Title names the step by its name, falling back to its command.
func (s StepResult) Title() string {
	if s.Step.Name != "" {
		return s.Step.Name
	}
	return s.Step.Exec
}

// LogValue returns a slog.Value for the step result, ensuring that the error is displayed properly.
func (s StepResult) LogValue() slog.Value {
	return slog.GroupValue(
		slog.Int("index", s.Index),
		slog.String("title", s.Title()),
		slog.String("instance", s.Step.Instance),
		slog.Int("exitCode", s.Exec.ExitCode),
		slog.Duration("duration", s.Duration),
		slog.Any("error", s.Err))
}

// Report collects the results of a scenario run.
type Report struct {
	Steps    []StepResult
	Duration time.Duration
}

// Failed returns the number of failed steps.
func (r *Report) Failed() int {
	failed := 0
	for _, s := range r.Steps {
		if !s.Passed() {
			failed++
		}
	}
	return failed
}

// Write renders the report as a table followed by a summary line.
func (r *Report) Write(w io.Writer) {
	green := color.New(color.FgGreen).SprintFunc()
	red := color.New(color.FgRed).SprintFunc()

	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"#", "STEP", "INSTANCE", "EXIT", "DURATION", "RESULT"})
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetAutoWrapText(false)

	for _, s := range r.Steps {
		result := green("PASS")
		if !s.Passed() {
			result = red("FAIL: " + s.Err.Error())
		}
		table.Append([]string{
			fmt.Sprint(s.Index),
			s.Title(),
			s.Step.Instance,
			fmt.Sprint(s.Exec.ExitCode),
			s.Duration.Round(time.Millisecond).String(),
			strings.TrimSpace(result),
		})
	}
	table.Render()

	fmt.Fprintf(w, "%d steps, %d failed in %s\n", len(r.Steps), r.Failed(), r.Duration.Round(time.Millisecond))
}
