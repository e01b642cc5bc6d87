package cli

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/runledger/internal/harness"
)

// TestOptions holds flags for the test command.
type TestOptions struct {
	*RootOptions
	Update bool   // rewrite golden snapshots
	Filter string // glob on scenario file names
}

// Golden snapshot outcomes.
const (
	goldenMatched  = "matched"
	goldenUpdated  = "updated"
	goldenMismatch = "mismatch"
)

// ScenarioResult is the outcome of one scenario file.
type ScenarioResult struct {
	Name     string   `json:"name"`
	File     string   `json:"file"`
	Pass     bool     `json:"pass"`
	Events   int      `json:"events"`
	Rejected int      `json:"rejected"`
	Golden   string   `json:"golden,omitempty"` // empty when the scenario has no snapshot
	Errors   []string `json:"errors,omitempty"`
}

func (r ScenarioResult) withError(format string, args ...any) ScenarioResult {
	r.Errors = append(r.Errors, fmt.Sprintf(format, args...))
	return r
}

// TestReport summarizes a test run.
type TestReport struct {
	Scenarios []ScenarioResult `json:"scenarios"`
	Passed    int              `json:"passed"`
	Failed    int              `json:"failed"`
	Total     int              `json:"total"`
}

// NewTestCommand creates the test command.
func NewTestCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &TestOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "test <scenarios-dir|scenario.yaml>",
		Short: "Run ingestion scenarios",
		Long: `Run YAML ingestion scenarios against a fresh in-memory ledger.

Each scenario submits its event batches in order and checks its assertions
against the per-event results and the stored runs, threads and logs. A
scenario with a snapshot at golden/<file>.golden must also reproduce its
per-event results byte for byte.

Exit codes:
  0 - All scenarios passed
  1 - One or more scenarios failed
  2 - Scenarios not found or the filter is invalid

Examples:
  runledger test ./scenarios
  runledger test ./scenarios/chat_retry_fork.yaml
  runledger test ./scenarios --filter "chat_*"
  runledger test ./scenarios --update`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			p := newPrinter(opts.RootOptions, cmd)
			return p.fail(runTests(commandContext(cmd), opts, args[0], p))
		},
	}

	cmd.Flags().BoolVar(&opts.Update, "update", false, "rewrite golden snapshots from the current results")
	cmd.Flags().StringVar(&opts.Filter, "filter", "", "only run scenario files whose name matches this glob")

	return cmd
}

func runTests(ctx context.Context, opts *TestOptions, target string, p *printer) error {
	files, err := scenarioFiles(target, opts.Filter)
	if err != nil {
		return commandError(CodeInput, "failed to find scenarios", err)
	}

	report := TestReport{Scenarios: make([]ScenarioResult, 0, len(files)), Total: len(files)}
	for _, file := range files {
		res := runScenario(ctx, file, opts.Update)
		report.Scenarios = append(report.Scenarios, res)
		if res.Pass {
			report.Passed++
		} else {
			report.Failed++
		}
		if !p.json {
			printScenario(p.out, res)
		}
	}

	summary := func(w io.Writer) {
		if report.Total == 0 {
			fmt.Fprintln(w, "No scenarios found.")
			return
		}
		fmt.Fprintf(w, "\nScenarios: %d passed, %d failed, %d total\n", report.Passed, report.Failed, report.Total)
	}
	if report.Failed > 0 {
		return p.partial(report, summary,
			failure(CodeScenarios, fmt.Sprintf("%d scenario(s) failed", report.Failed), nil))
	}
	return p.result(report, summary)
}

// scenarioFiles resolves target to scenario files. A file is used as is; a
// directory is walked for .yaml/.yml files outside golden/ directories.
func scenarioFiles(target, filter string) ([]string, error) {
	info, err := os.Stat(target)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return []string{target}, nil
	}
	return findScenarioFiles(target, filter)
}

func findScenarioFiles(dir, filter string) ([]string, error) {
	var files []string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if d.Name() == "golden" && path != dir {
				return filepath.SkipDir
			}
			return nil
		}

		ext := filepath.Ext(path)
		if ext != ".yaml" && ext != ".yml" {
			return nil
		}
		if filter != "" {
			matched, err := filepath.Match(filter, strings.TrimSuffix(d.Name(), ext))
			if err != nil {
				return fmt.Errorf("invalid filter %q: %w", filter, err)
			}
			if !matched {
				return nil
			}
		}
		files = append(files, path)
		return nil
	})
	return files, err
}

// runScenario loads and runs one scenario file, then checks its snapshot.
func runScenario(ctx context.Context, file string, update bool) ScenarioResult {
	res := ScenarioResult{
		Name: strings.TrimSuffix(filepath.Base(file), filepath.Ext(file)),
		File: file,
	}

	scenario, err := harness.LoadScenario(file)
	if err != nil {
		return res.withError("load: %v", err)
	}
	res.Name = scenario.Name

	result, err := harness.Run(ctx, scenario)
	if err != nil {
		return res.withError("run: %v", err)
	}
	for _, batch := range result.Batches {
		for _, r := range batch {
			res.Events++
			if !r.Success {
				res.Rejected++
			}
		}
	}
	res.Errors = append(res.Errors, result.Errors...)

	res.Golden, err = checkGolden(file, scenario.Name, result, update)
	if err != nil {
		res = res.withError("%v", err)
	}
	res.Pass = len(res.Errors) == 0
	return res
}

// checkGolden compares the scenario's snapshot with golden/<file>.golden,
// or rewrites it when update is set. A missing snapshot is not an error.
func checkGolden(file, name string, result *harness.Result, update bool) (string, error) {
	snapshot, err := harness.SnapshotJSON(name, result)
	if err != nil {
		return "", fmt.Errorf("snapshot: %w", err)
	}
	path := goldenFilePath(file)

	if update {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return "", fmt.Errorf("create golden directory: %w", err)
		}
		if err := os.WriteFile(path, snapshot, 0o644); err != nil {
			return "", fmt.Errorf("write golden: %w", err)
		}
		return goldenUpdated, nil
	}

	want, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("read golden: %w", err)
	}
	if !bytes.Equal(want, snapshot) {
		return goldenMismatch, fmt.Errorf("results differ from %s (rerun with --update)", path)
	}
	return goldenMatched, nil
}

func goldenFilePath(file string) string {
	base := filepath.Base(file)
	return filepath.Join(filepath.Dir(file), "golden", strings.TrimSuffix(base, filepath.Ext(base))+".golden")
}

func printScenario(w io.Writer, r ScenarioResult) {
	mark := "✓"
	if !r.Pass {
		mark = "✗"
	}
	fmt.Fprintf(w, "%s %s (%d events, %d rejected", mark, r.Name, r.Events, r.Rejected)
	if r.Golden != "" {
		fmt.Fprintf(w, ", golden %s", r.Golden)
	}
	fmt.Fprintln(w, ")")
	for _, e := range r.Errors {
		fmt.Fprintf(w, "  %s\n", e)
	}
}
