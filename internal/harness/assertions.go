package harness

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"slices"
	"sort"
	"strings"

	"github.com/roach88/runledger/internal/engine"
	"github.com/roach88/runledger/internal/ir"
	"github.com/roach88/runledger/internal/store"
)

// AssertionError is returned when an assertion fails.
// It includes detailed context to help debug the failure.
type AssertionError struct {
	Type     string        // Assertion type for categorization
	Expected string        // Human-readable expected outcome
	Actual   string        // Human-readable actual outcome
	Results  [][]ir.Result // Batch results for debugging context
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder

	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)

	if len(e.Results) > 0 {
		fmt.Fprintf(&buf, "\nResults:\n")
		for i, batch := range e.Results {
			for j, r := range batch {
				if r.Success {
					fmt.Fprintf(&buf, "  [%d.%d] %s ok\n", i, j, r.ID)
				} else {
					fmt.Fprintf(&buf, "  [%d.%d] %s %s\n", i, j, r.ID, r.Error)
				}
			}
		}
	}

	return buf.String()
}

// AssertionContext provides the state that run, thread and logs assertions read.
type AssertionContext struct {
	Store  *store.Store
	Engine *engine.Engine
	Ctx    context.Context
}

// assertResults compares the success flags of one batch.
func assertResults(batches [][]ir.Result, assertion Assertion) error {
	if assertion.Batch < 0 || assertion.Batch >= len(batches) {
		return &AssertionError{
			Type:     AssertResults,
			Expected: fmt.Sprintf("batch %d", assertion.Batch),
			Actual:   fmt.Sprintf("%d batches submitted", len(batches)),
		}
	}

	got := make([]bool, len(batches[assertion.Batch]))
	for i, r := range batches[assertion.Batch] {
		got[i] = r.Success
	}
	if !slices.Equal(got, assertion.Success) {
		return &AssertionError{
			Type:     AssertResults,
			Expected: fmt.Sprintf("batch %d success %v", assertion.Batch, assertion.Success),
			Actual:   fmt.Sprintf("%v", got),
			Results:  batches,
		}
	}
	return nil
}

// assertRun checks the persisted run against expected field values using
// subset semantics. Fields are addressed by their JSON name.
func assertRun(ctx context.Context, st *store.Store, assertion Assertion) error {
	id := ir.CoerceID(assertion.Run)
	run, err := st.GetRun(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		if assertion.Absent {
			return nil
		}
		return &AssertionError{
			Type:     AssertRun,
			Expected: fmt.Sprintf("run %s", assertion.Run),
			Actual:   "run not found",
		}
	}
	if err != nil {
		return fmt.Errorf("read run %s: %w", assertion.Run, err)
	}
	if assertion.Absent {
		return &AssertionError{
			Type:     AssertRun,
			Expected: fmt.Sprintf("run %s to be absent", assertion.Run),
			Actual:   fmt.Sprintf("found %s run", run.Type),
		}
	}

	actual, err := runFields(run)
	if err != nil {
		return fmt.Errorf("encode run %s: %w", assertion.Run, err)
	}

	keys := make([]string, 0, len(assertion.Expect))
	for k := range assertion.Expect {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, key := range keys {
		equal, err := valuesEqual(actual[key], assertion.Expect[key])
		if err != nil {
			return fmt.Errorf("run %s field %q: %w", assertion.Run, key, err)
		}
		if !equal {
			got, _ := ir.MarshalCanonical(actual[key])
			want, _ := ir.MarshalCanonical(assertion.Expect[key])
			return &AssertionError{
				Type:     AssertRun,
				Expected: fmt.Sprintf("run %s %s = %s", assertion.Run, key, want),
				Actual:   fmt.Sprintf("%s = %s", key, got),
			}
		}
	}
	return nil
}

// runFields renders a run as its JSON object.
func runFields(run ir.Run) (map[string]any, error) {
	data, err := ir.MarshalCanonical(run)
	if err != nil {
		return nil, err
	}
	decoded, err := ir.DecodeJSON(data)
	if err != nil {
		return nil, err
	}
	fields, ok := decoded.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("run encoded as %T", decoded)
	}
	return fields, nil
}

// valuesEqual compares values by their canonical JSON, so YAML integers
// match decoded JSON numbers and nested payloads compare structurally.
func valuesEqual(actual, expected any) (bool, error) {
	a, err := ir.MarshalCanonical(actual)
	if err != nil {
		return false, err
	}
	e, err := ir.MarshalCanonical(expected)
	if err != nil {
		return false, err
	}
	return bytes.Equal(a, e), nil
}

// assertThread checks the main-line turns and the forks of a thread.
func assertThread(ctx context.Context, eng *engine.Engine, assertion Assertion) error {
	view, err := eng.Thread(ctx, assertion.Thread)
	if errors.Is(err, engine.ErrThreadNotFound) {
		return &AssertionError{
			Type:     AssertThread,
			Expected: fmt.Sprintf("thread %s", assertion.Thread),
			Actual:   "thread not found",
		}
	}
	if err != nil {
		return err
	}

	if assertion.Turns != nil {
		got := make([]string, len(view.Turns))
		for i, turn := range view.Turns {
			got[i] = turn.Run.ID
		}
		want := coerceAll(assertion.Turns)
		if !slices.Equal(got, want) {
			return &AssertionError{
				Type:     AssertThread,
				Expected: fmt.Sprintf("turns %v", want),
				Actual:   fmt.Sprintf("turns %v", got),
			}
		}
	}

	index := make(map[string]ir.Turn)
	var walk func(turns []ir.Turn)
	walk = func(turns []ir.Turn) {
		for _, turn := range turns {
			index[turn.Run.ID] = turn
			walk(turn.Siblings)
		}
	}
	walk(view.Turns)

	origins := make([]string, 0, len(assertion.Forks))
	for origin := range assertion.Forks {
		origins = append(origins, origin)
	}
	sort.Strings(origins)

	for _, origin := range origins {
		turn, ok := index[ir.CoerceID(origin)]
		if !ok {
			return &AssertionError{
				Type:     AssertThread,
				Expected: fmt.Sprintf("turn %s in thread %s", origin, assertion.Thread),
				Actual:   "turn not found",
			}
		}
		got := make([]string, len(turn.Siblings))
		for i, sib := range turn.Siblings {
			got[i] = sib.Run.ID
		}
		want := coerceAll(assertion.Forks[origin])
		if !slices.Equal(got, want) {
			return &AssertionError{
				Type:     AssertThread,
				Expected: fmt.Sprintf("forks of %s %v", origin, want),
				Actual:   fmt.Sprintf("forks %v", got),
			}
		}
	}
	return nil
}

// assertLogs counts the log entries attached to a run.
func assertLogs(ctx context.Context, st *store.Store, assertion Assertion) error {
	logs, err := st.ReadLogs(ctx, ir.CoerceID(assertion.Run))
	if err != nil {
		return fmt.Errorf("read logs of %s: %w", assertion.Run, err)
	}
	if len(logs) != assertion.Count {
		return &AssertionError{
			Type:     AssertLogs,
			Expected: fmt.Sprintf("%d logs for run %s", assertion.Count, assertion.Run),
			Actual:   fmt.Sprintf("%d logs", len(logs)),
		}
	}
	return nil
}

func coerceAll(ids []string) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = ir.CoerceID(id)
	}
	return out
}

// EvaluateAssertions evaluates all assertions against the result.
// Returns a slice of error messages for failed assertions.
// The actx parameter provides store and engine access for state assertions.
func EvaluateAssertions(result *Result, assertions []Assertion, actx *AssertionContext) []string {
	var errs []string

	for i, assertion := range assertions {
		var err error

		switch assertion.Type {
		case AssertResults:
			err = assertResults(result.Batches, assertion)
		case AssertRun, AssertLogs:
			if actx == nil || actx.Store == nil {
				err = fmt.Errorf("assertion[%d]: %s requires database context", i, assertion.Type)
			} else if assertion.Type == AssertRun {
				err = assertRun(actx.Ctx, actx.Store, assertion)
			} else {
				err = assertLogs(actx.Ctx, actx.Store, assertion)
			}
		case AssertThread:
			if actx == nil || actx.Engine == nil {
				err = fmt.Errorf("assertion[%d]: thread requires engine context", i)
			} else {
				err = assertThread(actx.Ctx, actx.Engine, assertion)
			}
		default:
			err = fmt.Errorf("assertion[%d]: unknown assertion type %q", i, assertion.Type)
		}

		if err != nil {
			errs = append(errs, err.Error())
		}
	}

	return errs
}
