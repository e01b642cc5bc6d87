package engine

import (
	"context"
	"encoding/json"
	"errors"

	"go.uber.org/zap"

	"github.com/roach88/runledger/internal/ir"
	"github.com/roach88/runledger/internal/metrics"
	"github.com/roach88/runledger/internal/store"
)

// checkChat rejects chat events that cannot be placed in a thread.
func checkChat(ev ir.Event) error {
	if ev.ParentRunID == "" {
		return NewValidationError(ev.RunID, "chat event requires parentRunId")
	}
	if ev.Message == nil {
		return NewValidationError(ev.RunID, "chat event requires a message object")
	}
	if ev.Message.Role.Direction() == ir.DirectionUnknown {
		return NewValidationError(ev.RunID, "unknown chat role %q", ev.Message.Role)
	}
	return nil
}

// reconcileChat folds one role-tagged message into its thread.
//
// A turn holds one exchange: input messages (user, system) followed by
// output messages (assistant, tool, bot). The message is applied against
// the most recently created run of the thread:
//
//	no previous run         -> new turn seeded with the message
//	retry                   -> fork: copy of the previous run, SiblingOf set
//	output message          -> appended to previous output
//	input after output      -> new turn
//	input before any output -> appended to previous input
func (e *Engine) reconcileChat(ctx context.Context, ev ir.Event, userID *int64) error {
	if err := checkChat(ev); err != nil {
		return err
	}
	threadID := ev.ParentRunID
	msg := *ev.Message
	dir := msg.Role.Direction()

	core, err := ir.MarshalCanonical(msg.Core())
	if err != nil {
		return NewValidationError(ev.RunID, "message: %v", err)
	}

	if _, err := e.store.UpsertThread(ctx, ir.Run{
		ID:        threadID,
		Type:      ir.RunTypeThread,
		App:       ev.App,
		UserID:    userID,
		Tags:      ev.ThreadTags,
		Input:     core,
		CreatedAt: ev.Timestamp,
	}); err != nil {
		return NewPersistenceError(threadID, "upsert thread", err)
	}

	prev, err := e.store.LatestChildRun(ctx, threadID)
	hasPrev := true
	if errors.Is(err, store.ErrNotFound) {
		hasPrev = false
	} else if err != nil {
		return NewPersistenceError(threadID, "read latest turn", err)
	}

	single := ir.MustCanonical([]any{json.RawMessage(core)})

	switch {
	case !hasPrev:
		if msg.IsRetry {
			e.logger.Debug("retry without a previous turn, starting a new one",
				zap.String("thread_id", threadID))
		}
		turn := e.newTurn(ev, userID, e.turnID(ev))
		if dir == ir.DirectionOutput {
			turn.Output = single
		} else {
			turn.Input = single
		}
		return e.insertTurn(ctx, turn, metrics.ChatNewTurn)

	case msg.IsRetry:
		fork := prev
		fork.ID = e.forkID(ev, prev.ID)
		fork.SiblingOf = prev.ID
		fork.Type = ir.RunTypeChat
		fork.ParentRun = threadID
		fork.CreatedAt = ev.Timestamp
		ended := ev.Timestamp
		fork.EndedAt = &ended
		fork.Feedback = nil
		if ev.Feedback != nil {
			if fork.Feedback, err = ir.MarshalCanonical(ev.Feedback); err != nil {
				return NewValidationError(ev.RunID, "feedback: %v", err)
			}
		}
		fork.Output = nil
		if dir == ir.DirectionOutput {
			fork.Output = single
		} else {
			fork.Input = single
		}
		return e.insertTurn(ctx, fork, metrics.ChatFork)

	case dir == ir.DirectionOutput:
		out, err := appendMessage(prev.Output, core)
		if err != nil {
			return NewPersistenceError(prev.ID, "decode turn output", err)
		}
		return e.appendTurn(ctx, prev.ID, ev, ir.RunPatch{Output: out}, metrics.ChatAppendOut)

	case hasMessages(prev.Output):
		turn := e.newTurn(ev, userID, e.turnID(ev))
		turn.Input = single
		return e.insertTurn(ctx, turn, metrics.ChatNewTurn)

	default:
		in, err := appendMessage(prev.Input, core)
		if err != nil {
			return NewPersistenceError(prev.ID, "decode turn input", err)
		}
		return e.appendTurn(ctx, prev.ID, ev, ir.RunPatch{Input: in}, metrics.ChatAppendInput)
	}
}

// newTurn builds a main-line chat run for ev.
func (e *Engine) newTurn(ev ir.Event, userID *int64, id string) ir.Run {
	ended := ev.Timestamp
	turn := ir.Run{
		ID:        id,
		Type:      ir.RunTypeChat,
		App:       ev.App,
		UserID:    userID,
		ParentRun: ev.ParentRunID,
		Tags:      ev.Tags,
		Status:    ir.StatusSuccess,
		CreatedAt: ev.Timestamp,
		EndedAt:   &ended,
	}
	if ev.Feedback != nil {
		turn.Feedback = ir.MustCanonical(ev.Feedback)
	}
	if params, err := extraJSON(ev.Extra); err == nil {
		turn.Params = params
	}
	return turn
}

func (e *Engine) insertTurn(ctx context.Context, turn ir.Run, op string) error {
	inserted, err := e.store.InsertRun(ctx, turn)
	if err != nil {
		return NewPersistenceError(turn.ID, "insert turn", err)
	}
	if !inserted {
		e.logger.Debug("turn already exists", zap.String("run_id", turn.ID))
		return nil
	}
	metrics.ChatOperations.WithLabelValues(op).Inc()
	return nil
}

func (e *Engine) appendTurn(ctx context.Context, id string, ev ir.Event, patch ir.RunPatch, op string) error {
	ended := ev.Timestamp
	patch.EndedAt = &ended
	if err := e.patchRun(ctx, id, patch); err != nil {
		return err
	}
	metrics.ChatOperations.WithLabelValues(op).Inc()
	return nil
}

// turnID is the event's run id, or a generated one when the event has none
// or reuses its thread's id. Re-delivered events map to the same turn.
func (e *Engine) turnID(ev ir.Event) string {
	if ev.RunID == "" || ev.RunID == ev.ParentRunID {
		return e.ids.Generate()
	}
	return ev.RunID
}

// forkID is like turnID but never returns the origin's id.
func (e *Engine) forkID(ev ir.Event, originID string) string {
	if ev.RunID == originID {
		return e.ids.Generate()
	}
	return e.turnID(ev)
}

// appendMessage appends a message to a stored message list. A missing or
// null list starts a new one; a stored non-list value becomes its first item.
func appendMessage(list json.RawMessage, msg json.RawMessage) (json.RawMessage, error) {
	items, err := messageList(list)
	if err != nil {
		return nil, err
	}
	items = append(items, json.RawMessage(msg))
	return ir.MarshalCanonical(items)
}

func messageList(raw json.RawMessage) ([]any, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	v, err := ir.DecodeJSON(raw)
	if err != nil {
		return nil, err
	}
	switch val := v.(type) {
	case nil:
		return nil, nil
	case []any:
		return val, nil
	default:
		return []any{val}, nil
	}
}

// hasMessages reports whether a stored output holds anything.
func hasMessages(raw json.RawMessage) bool {
	items, err := messageList(raw)
	return err != nil || len(items) > 0
}
