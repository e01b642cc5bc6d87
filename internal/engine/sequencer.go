package engine

import (
	"context"
	"sort"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/roach88/runledger/internal/ir"
	"github.com/roach88/runledger/internal/metrics"
	"github.com/roach88/runledger/internal/normalize"
)

// batchState is what one batch remembers about its own writes.
type batchState struct {
	// inserted maps run ids started in this batch to their user.
	inserted map[string]*int64
}

func newBatchState() *batchState {
	return &batchState{inserted: make(map[string]*int64)}
}

// IngestJSON decodes a request body and ingests its events.
// A body without events is a protocol error; everything else is reported
// per event.
func (e *Engine) IngestJSON(ctx context.Context, body []byte) ([]ir.Result, error) {
	batch, err := normalize.DecodeBatch(body)
	if err != nil {
		return nil, NewProtocolError(err)
	}
	return e.Ingest(ctx, batch), nil
}

// Ingest processes a batch of raw events and returns one result per event,
// in processing order.
//
// Events are processed sequentially in ascending timestamp order. Events
// whose timestamp cannot be read keep their submitted position and fail on
// their own. Cancelling ctx fails the events not yet processed; applied
// events are not rolled back.
func (e *Engine) Ingest(ctx context.Context, batch []any) []ir.Result {
	ctx, span := e.tracer.Start(ctx, "engine.Ingest",
		trace.WithAttributes(attribute.Int("batch.size", len(batch))))
	defer span.End()
	start := time.Now()

	ordered := orderBatch(batch)
	state := newBatchState()
	results := make([]ir.Result, len(ordered))
	failed := 0

	for i, raw := range ordered {
		id := normalize.RawRunID(raw)
		err := ctx.Err()
		if err == nil {
			err = e.ingestOne(ctx, raw, state)
		}
		if err != nil {
			failed++
			results[i] = ir.Result{ID: id, Success: false, Error: err.Error()}
			e.logger.Error("failed to ingest event", zap.String("run_id", id), zap.Error(err))
			continue
		}
		results[i] = ir.Result{ID: id, Success: true}
	}

	span.SetAttributes(attribute.Int("batch.failed", failed))
	metrics.RecordBatch(len(batch), time.Since(start).Seconds())
	return results
}

// ingestOne normalizes and dispatches a single event.
func (e *Engine) ingestOne(ctx context.Context, raw any, state *batchState) (err error) {
	ctx, span := e.tracer.Start(ctx, "engine.event")
	defer span.End()

	ev, err := e.normalizer.Normalize(ctx, raw)
	if err != nil {
		err = classify(normalize.RawRunID(raw), err)
		span.SetStatus(codes.Error, err.Error())
		metrics.RecordEvent("invalid", "", false)
		return err
	}
	span.SetAttributes(
		attribute.String("run.id", ev.RunID),
		attribute.String("event.type", string(ev.Type)),
		attribute.String("event.name", string(ev.Event)),
	)
	defer func() {
		metrics.RecordEvent(string(ev.Type), string(ev.Event), err == nil)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
	}()

	if ev.Type == ir.RunTypeLog {
		err = e.recordLog(ctx, ev)
	} else {
		err = e.applyRunEvent(ctx, ev, state)
	}
	if err != nil {
		err = classify(ev.RunID, err)
	}
	return err
}

// orderBatch returns the batch with timestamped events stably sorted
// ascending. Events without a readable timestamp stay at their index.
func orderBatch(batch []any) []any {
	type slot struct {
		pos int
		ts  time.Time
		ev  any
	}
	var timed []slot
	for i, raw := range batch {
		m, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		ts, err := normalize.ParseTimestamp(m["timestamp"])
		if err != nil {
			continue
		}
		timed = append(timed, slot{pos: i, ts: ts, ev: raw})
	}

	positions := make([]int, len(timed))
	for i, s := range timed {
		positions[i] = s.pos
	}
	sort.SliceStable(timed, func(i, j int) bool {
		return timed[i].ts.Before(timed[j].ts)
	})

	out := make([]any, len(batch))
	copy(out, batch)
	for i, s := range timed {
		out[positions[i]] = s.ev
	}
	return out
}
