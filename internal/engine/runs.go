package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/roach88/runledger/internal/ir"
	"github.com/roach88/runledger/internal/metrics"
	"github.com/roach88/runledger/internal/store"
)

// applyRunEvent dispatches a non-log event by its lifecycle verb. Events
// are checked before any user row is written.
func (e *Engine) applyRunEvent(ctx context.Context, ev ir.Event, state *batchState) error {
	var err error
	if ev.IsChat() {
		err = checkChat(ev)
	} else {
		err = checkRunEvent(ev)
	}
	if err != nil {
		return err
	}

	userID, err := e.upsertUser(ctx, ev)
	if err != nil {
		return err
	}

	if ev.IsChat() {
		return e.reconcileChat(ctx, ev, userID)
	}

	switch ev.Event {
	case ir.EventStart:
		return e.startRun(ctx, ev, userID, state)
	case ir.EventEnd:
		return e.endRun(ctx, ev)
	case ir.EventError:
		return e.failRun(ctx, ev)
	default:
		return e.mergeFeedback(ctx, ev)
	}
}

func checkRunEvent(ev ir.Event) error {
	switch ev.Event {
	case ir.EventStart, ir.EventEnd, ir.EventError, ir.EventFeedback:
		if ev.RunID == "" {
			return NewValidationError("", "%s event requires runId", ev.Event)
		}
		return nil
	case "":
		return NewValidationError(ev.RunID, "missing event name for %s run", ev.Type)
	default:
		return NewValidationError(ev.RunID, "unknown event %q", ev.Event)
	}
}

// upsertUser records the application user carried by ev and returns its
// internal id. end and error events never touch users.
func (e *Engine) upsertUser(ctx context.Context, ev ir.Event) (*int64, error) {
	if ev.UserID == "" || ev.Event == ir.EventEnd || ev.Event == ir.EventError {
		return nil, nil
	}
	id, err := e.store.UpsertAppUser(ctx, ir.AppUser{
		ExternalID: ev.UserID,
		App:        ev.App,
		LastSeen:   ev.Timestamp,
		Props:      ev.UserProps,
	})
	if err != nil {
		return nil, NewPersistenceError(ev.RunID, "upsert app user", err)
	}
	return &id, nil
}

// startRun creates the run. Re-delivered starts are no-ops.
func (e *Engine) startRun(ctx context.Context, ev ir.Event, userID *int64, state *batchState) error {
	params, err := extraJSON(ev.Extra)
	if err != nil {
		return NewValidationError(ev.RunID, "extra: %v", err)
	}
	run := ir.Run{
		ID:         ev.RunID,
		Type:       ev.Type,
		App:        ev.App,
		UserID:     userID,
		Name:       ev.Name,
		Tags:       ev.Tags,
		Input:      ev.Input,
		Params:     params,
		Status:     ir.StatusStarted,
		TemplateID: ev.TemplateID,
		Runtime:    ev.Runtime,
		CreatedAt:  ev.Timestamp,
	}
	if ev.TokensUsage != nil {
		run.PromptTokens = ev.TokensUsage.Prompt
		run.CompletionTokens = ev.TokensUsage.Completion
	}

	if ev.ParentRunID != "" {
		parentUser, linked, err := e.resolveParent(ctx, ev, state)
		if err != nil {
			return err
		}
		if linked {
			run.ParentRun = ev.ParentRunID
			if run.UserID == nil {
				run.UserID = parentUser
			}
		}
	}

	inserted, err := e.store.InsertRun(ctx, run)
	if err != nil {
		return NewPersistenceError(ev.RunID, "insert run", err)
	}
	if !inserted {
		e.logger.Debug("run already exists", zap.String("run_id", run.ID))
	}
	state.inserted[run.ID] = run.UserID
	return nil
}

// resolveParent finds the parent of a start event and returns its user.
// A parent that stays invisible after one delayed retry is dropped
// (linked is false) instead of failing the event.
func (e *Engine) resolveParent(ctx context.Context, ev ir.Event, state *batchState) (user *int64, linked bool, err error) {
	parentID := ev.ParentRunID
	if u, ok := state.inserted[parentID]; ok {
		metrics.ParentLookups.WithLabelValues(metrics.ParentBatch).Inc()
		return u, true, nil
	}

	parent, err := e.store.GetRun(ctx, parentID)
	if err == nil {
		metrics.ParentLookups.WithLabelValues(metrics.ParentFound).Inc()
		return parent.UserID, true, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, false, NewPersistenceError(ev.RunID, "lookup parent run", err)
	}

	e.logger.Warn("parent run not visible yet",
		zap.String("run_id", ev.RunID),
		zap.String("parent_run_id", parentID),
		zap.Duration("retry_in", e.retryDelay))
	if err := e.sleeper.Sleep(ctx, e.retryDelay); err != nil {
		return nil, false, fmt.Errorf("wait for parent %s: %w", parentID, err)
	}

	e.logger.Info("retrying parent lookup", zap.String("run_id", ev.RunID), zap.String("parent_run_id", parentID))
	parent, err = e.store.GetRun(ctx, parentID)
	if err == nil {
		metrics.ParentLookups.WithLabelValues(metrics.ParentFoundRetry).Inc()
		return parent.UserID, true, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, false, NewPersistenceError(ev.RunID, "lookup parent run", err)
	}

	metrics.ParentLookups.WithLabelValues(metrics.ParentDropped).Inc()
	e.logger.Warn("dropping unresolved parent link",
		zap.String("run_id", ev.RunID),
		zap.String("parent_run_id", parentID))
	return nil, false, nil
}

// endRun closes the run. Counts the end event lacks keep the values stored
// at start.
func (e *Engine) endRun(ctx context.Context, ev ir.Event) error {
	status := ir.StatusSuccess
	ended := ev.Timestamp
	patch := ir.RunPatch{
		Status:  &status,
		EndedAt: &ended,
		Output:  ev.Output,
	}
	if ev.TokensUsage != nil {
		patch.PromptTokens = ev.TokensUsage.Prompt
		patch.CompletionTokens = ev.TokensUsage.Completion
	}
	return e.patchRun(ctx, ev.RunID, patch)
}

func (e *Engine) failRun(ctx context.Context, ev ir.Event) error {
	status := ir.StatusError
	ended := ev.Timestamp
	return e.patchRun(ctx, ev.RunID, ir.RunPatch{
		Status:  &status,
		EndedAt: &ended,
		Error:   ev.Error,
	})
}

// patchRun updates a run by id. Zero affected rows is not an error.
func (e *Engine) patchRun(ctx context.Context, id string, patch ir.RunPatch) error {
	n, err := e.store.UpdateRun(ctx, id, patch)
	if err != nil {
		return NewPersistenceError(id, "update run", err)
	}
	if n == 0 {
		e.logger.Debug("update matched no run", zap.String("run_id", id))
	}
	return nil
}

// mergeFeedback shallow-merges the incoming feedback, then the event's
// extra fields, over the stored feedback.
// Concurrent merges on the same run are last-writer-wins.
func (e *Engine) mergeFeedback(ctx context.Context, ev ir.Event) error {
	run, err := e.store.GetRun(ctx, ev.RunID)
	if errors.Is(err, store.ErrNotFound) {
		e.logger.Debug("feedback for unknown run", zap.String("run_id", ev.RunID))
		return nil
	}
	if err != nil {
		return NewPersistenceError(ev.RunID, "read feedback", err)
	}

	merged := make(map[string]any)
	if len(run.Feedback) > 0 {
		existing, err := ir.DecodeJSON(run.Feedback)
		if err != nil {
			return NewPersistenceError(ev.RunID, "decode stored feedback", err)
		}
		if obj, ok := existing.(map[string]any); ok {
			merged = obj
		}
	}
	for k, v := range ev.Feedback {
		merged[k] = v
	}
	for k, v := range ev.Extra {
		merged[k] = v
	}

	b, err := ir.MarshalCanonical(merged)
	if err != nil {
		return NewValidationError(ev.RunID, "feedback: %v", err)
	}
	return e.patchRun(ctx, ev.RunID, ir.RunPatch{Feedback: b})
}

// extraJSON encodes the event side map for the params column.
func extraJSON(extra map[string]any) (json.RawMessage, error) {
	if len(extra) == 0 {
		return nil, nil
	}
	return ir.MarshalCanonical(extra)
}
