package cli

import (
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"

	"github.com/spf13/cobra"

	"github.com/roach88/crmorbit/internal/harness"
)

// TestOptions holds flags for the test command.
type TestOptions struct {
	*RootOptions
	Filter string // scenario filter (glob pattern)
}

// ScenarioResult holds the result of a single scenario execution.
type ScenarioResult struct {
	Name   string   `json:"name"`
	File   string   `json:"file"`
	Pass   bool     `json:"pass"`
	Errors []string `json:"errors,omitempty"`
	Trace  []string `json:"trace,omitempty"`
}

// TestResult holds the overall test result.
type TestResult struct {
	Scenarios []ScenarioResult `json:"scenarios"`
	Passed    int              `json:"passed"`
	Failed    int              `json:"failed"`
	Total     int              `json:"total"`
}

func (r TestResult) renderText(w io.Writer, verbose bool) {
	if r.Total == 0 {
		fmt.Fprintln(w, "No scenarios found.")
		return
	}
	for _, s := range r.Scenarios {
		status := "PASS"
		if !s.Pass {
			status = "FAIL"
		}
		fmt.Fprintf(w, "%s  %s\n", status, s.Name)
		for _, e := range s.Errors {
			fmt.Fprintf(w, "      %s\n", e)
		}
		if verbose {
			for _, line := range s.Trace {
				fmt.Fprintf(w, "      | %s\n", line)
			}
		}
	}
	fmt.Fprintf(w, "\n%d passed, %d failed, %d total\n", r.Passed, r.Failed, r.Total)
}

// NewTestCommand creates the test command.
func NewTestCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &TestOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "test <scenarios-dir>",
		Short: "Run conformance scenarios",
		Long: `Run YAML conformance scenarios against fresh in-memory devices.

Each scenario emits events, syncs devices and asserts on the final
documents. No database is touched.

Exit codes:
  0 - All scenarios passed
  1 - One or more scenarios failed
  2 - Command error (invalid paths, malformed scenario, etc.)

Examples:
  crmorbit test ./scenarios
  crmorbit test ./scenarios --filter "audit_*"
  crmorbit test ./scenarios --format json`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTests(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Filter, "filter", "", "filter scenarios by glob pattern on the file name")

	return cmd
}

func runTests(opts *TestOptions, dir string, cmd *cobra.Command) error {
	if _, err := os.Stat(dir); err != nil {
		return WrapExitError(ExitCommandError, fmt.Sprintf("scenarios directory not found: %s", dir), err)
	}
	if opts.Filter != "" {
		if _, err := filepath.Match(opts.Filter, ""); err != nil {
			return WrapExitError(ExitCommandError, "invalid --filter", err)
		}
	}

	e, err := opts.setup(cmd)
	if err != nil {
		return err
	}

	files, err := findScenarioFiles(dir, opts.Filter)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to find scenarios", err)
	}

	result := TestResult{
		Scenarios: make([]ScenarioResult, 0, len(files)),
		Total:     len(files),
	}
	for _, file := range files {
		scenario, err := harness.LoadScenario(file)
		if err != nil {
			return WrapExitError(ExitCommandError, fmt.Sprintf("failed to load %s", file), err)
		}
		run, err := harness.Run(cmd.Context(), scenario,
			harness.WithLogger(e.logger.With("scenario", scenario.Name)),
			harness.WithDispatcher(e.dispatcher()),
		)
		if err != nil {
			return WrapExitError(ExitCommandError, fmt.Sprintf("failed to run %s", scenario.Name), err)
		}

		sr := ScenarioResult{Name: scenario.Name, File: file, Pass: run.Pass, Trace: run.Trace}
		if !run.Pass {
			sr.Errors = run.Errors
		}
		result.Scenarios = append(result.Scenarios, sr)
		if run.Pass {
			result.Passed++
		} else {
			result.Failed++
		}
	}

	if err := e.out.Success(result); err != nil {
		return err
	}
	if result.Failed > 0 {
		return NewExitError(ExitFailure, fmt.Sprintf("%d of %d scenarios failed", result.Failed, result.Total))
	}
	return nil
}

// findScenarioFiles returns the .yaml and .yml files under dir, sorted.
func findScenarioFiles(dir, filter string) ([]string, error) {
	var files []string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		ext := filepath.Ext(path)
		if ext != ".yaml" && ext != ".yml" {
			return nil
		}
		if filter != "" {
			ok, err := filepath.Match(filter, d.Name())
			if err != nil || !ok {
				return err
			}
		}
		files = append(files, path)
		return nil
	})
	sort.Strings(files)
	return files, err
}
