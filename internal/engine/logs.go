package engine

import (
	"context"

	"github.com/roach88/runledger/internal/ir"
)

// recordLog appends a log line to the run named by parentRunId. Logs are
// independent of run tracking: the run does not have to exist.
func (e *Engine) recordLog(ctx context.Context, ev ir.Event) error {
	extra, err := extraJSON(ev.Extra)
	if err != nil {
		return NewValidationError(ev.RunID, "extra: %v", err)
	}
	entry := ir.LogEntry{
		RunID:     ev.ParentRunID,
		App:       ev.App,
		Level:     string(ev.Event),
		Message:   ev.LogMessage,
		Extra:     extra,
		CreatedAt: ev.Timestamp,
	}
	if err := e.store.InsertLog(ctx, entry); err != nil {
		return NewPersistenceError(ev.ParentRunID, "insert log", err)
	}
	return nil
}
