package harness

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"github.com/roach88/runledger/internal/engine"
	"github.com/roach88/runledger/internal/store"
	"github.com/roach88/runledger/internal/testutil"
)

// Harness is the scenario execution environment: one store and one engine
// with deterministic id generation and instant parent retries.
type Harness struct {
	store   *store.Store
	engine  *engine.Engine
	sleeper *testutil.RecordingSleeper
	logger  *zap.Logger
}

// Run executes a scenario and returns the result.
//
// Each scenario runs in a fresh in-memory database for isolation.
//
// Execution flow:
// 1. Create fresh in-memory database and engine
// 2. Submit each batch as one JSON request body
// 3. Evaluate assertions against the results and the store
//
// A returned error means the scenario could not be executed at all; failed
// assertions are reported through Result.Errors.
func Run(ctx context.Context, scenario *Scenario) (*Result, error) {
	st, err := store.Open(":memory:")
	if err != nil {
		return nil, fmt.Errorf("failed to create in-memory store: %w", err)
	}
	defer st.Close()

	sleeper := testutil.NewRecordingSleeper()
	logger := zap.NewNop()
	eng, err := engine.New(st,
		engine.WithLogger(logger),
		engine.WithSleeper(sleeper),
		engine.WithIDGenerator(testutil.NewSequentialIDs()),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create engine: %w", err)
	}

	h := &Harness{store: st, engine: eng, sleeper: sleeper, logger: logger}

	result := NewResult()
	if err := h.submit(ctx, scenario.Batches, result); err != nil {
		return nil, err
	}

	actx := &AssertionContext{
		Store:  st,
		Engine: eng,
		Ctx:    ctx,
	}
	for _, msg := range EvaluateAssertions(result, scenario.Assertions, actx) {
		result.AddError(msg)
	}

	return result, nil
}

// submit sends every batch through the engine's request path.
func (h *Harness) submit(ctx context.Context, batches [][]map[string]any, result *Result) error {
	for i, batch := range batches {
		body, err := json.Marshal(batch)
		if err != nil {
			return fmt.Errorf("batch %d: failed to encode events: %w", i, err)
		}

		results, err := h.engine.IngestJSON(ctx, body)
		if err != nil {
			return fmt.Errorf("batch %d: %w", i, err)
		}
		result.AddBatch(results)

		h.logger.Debug("batch submitted",
			zap.Int("batch", i),
			zap.Int("events", len(batch)),
			zap.Int("parent_retries", h.sleeper.Calls()),
		)
	}
	return nil
}
