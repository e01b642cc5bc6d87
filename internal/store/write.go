package store

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/roach88/runledger/internal/ir"
)

// runInsertColumns lists the columns written by run inserts, in argument order.
const runInsertColumns = `id, type, app, user_id, name, parent_run, sibling_of, tags,
	input, output, params, feedback, error, status, template_id, runtime,
	created_at, ended_at, prompt_tokens, completion_tokens`

const runInsertValues = `?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?`

func runArgs(r ir.Run) ([]any, error) {
	tags, err := encodeTags(r.Tags)
	if err != nil {
		return nil, err
	}
	payloads := make([]any, 0, 5)
	for _, raw := range [][]byte{r.Input, r.Output, r.Params, r.Feedback, r.Error} {
		v, err := nullJSON(raw)
		if err != nil {
			return nil, err
		}
		payloads = append(payloads, v)
	}
	return []any{
		r.ID,
		string(r.Type),
		r.App,
		nullInt64(r.UserID),
		nullString(r.Name),
		nullString(r.ParentRun),
		nullString(r.SiblingOf),
		tags,
		payloads[0], payloads[1], payloads[2], payloads[3], payloads[4],
		nullString(string(r.Status)),
		nullString(r.TemplateID),
		nullString(r.Runtime),
		r.CreatedAt.UTC(),
		nullTime(r.EndedAt),
		nullInt64(r.PromptTokens),
		nullInt64(r.CompletionTokens),
	}, nil
}

// InsertRun inserts a run keyed by id. Inserting an existing id is a no-op;
// inserted reports whether a row was created.
func (s *Store) InsertRun(ctx context.Context, r ir.Run) (inserted bool, err error) {
	args, err := runArgs(r)
	if err != nil {
		return false, fmt.Errorf("write run: %w", err)
	}
	res, err := s.exec(ctx,
		`INSERT INTO runs (`+runInsertColumns+`) VALUES (`+runInsertValues+`)
		ON CONFLICT(id) DO NOTHING`, args...)
	if err != nil {
		return false, fmt.Errorf("write run: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("write run: %w", err)
	}
	return n > 0, nil
}

// UpsertThread inserts a thread root or refreshes its app, user, tags and
// input from r. created_at is kept from the first insert.
func (s *Store) UpsertThread(ctx context.Context, r ir.Run) (ir.Run, error) {
	args, err := runArgs(r)
	if err != nil {
		return ir.Run{}, fmt.Errorf("upsert thread: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return ir.Run{}, fmt.Errorf("upsert thread: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, s.dialect.rebind(
		`INSERT INTO runs (`+runInsertColumns+`) VALUES (`+runInsertValues+`)
		ON CONFLICT(id) DO UPDATE SET
			app = excluded.app,
			user_id = excluded.user_id,
			tags = excluded.tags,
			input = excluded.input`), args...)
	if err != nil {
		return ir.Run{}, fmt.Errorf("upsert thread: %w", err)
	}

	thread, err := scanRun(tx.QueryRowContext(ctx, s.dialect.rebind(
		`SELECT `+runSelectColumns+` FROM runs WHERE id = ?`), r.ID))
	if err != nil {
		return ir.Run{}, fmt.Errorf("upsert thread: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return ir.Run{}, fmt.Errorf("upsert thread: %w", err)
	}
	return thread, nil
}

// UpdateRun applies patch to the run with the given id and returns the
// number of rows affected. A missing run is not an error.
func (s *Store) UpdateRun(ctx context.Context, id string, patch ir.RunPatch) (int64, error) {
	if patch.Empty() {
		return 0, nil
	}

	var sets []string
	var args []any
	set := func(col string, v any) {
		sets = append(sets, col+" = ?")
		args = append(args, v)
	}

	if patch.Status != nil {
		set("status", string(*patch.Status))
	}
	if patch.EndedAt != nil {
		set("ended_at", patch.EndedAt.UTC())
	}
	for _, p := range []struct {
		col string
		raw []byte
	}{
		{"input", patch.Input},
		{"output", patch.Output},
		{"feedback", patch.Feedback},
		{"error", patch.Error},
	} {
		if p.raw == nil {
			continue
		}
		v, err := nullJSON(p.raw)
		if err != nil {
			return 0, fmt.Errorf("update run: %w", err)
		}
		set(p.col, v)
	}
	if patch.PromptTokens != nil {
		set("prompt_tokens", *patch.PromptTokens)
	}
	if patch.CompletionTokens != nil {
		set("completion_tokens", *patch.CompletionTokens)
	}

	args = append(args, id)
	res, err := s.exec(ctx, `UPDATE runs SET `+strings.Join(sets, ", ")+` WHERE id = ?`, args...)
	if err != nil {
		return 0, fmt.Errorf("update run: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("update run: %w", err)
	}
	return n, nil
}

// UpsertAppUser records that the user identified by (externalID, app) was
// seen at lastSeen and returns the internal user id. Absent props keep the
// stored ones.
func (s *Store) UpsertAppUser(ctx context.Context, u ir.AppUser) (int64, error) {
	props, err := nullJSON(u.Props)
	if err != nil {
		return 0, fmt.Errorf("upsert app user: %w", err)
	}
	var id int64
	err = s.queryRow(ctx,
		`INSERT INTO app_users (external_id, app, last_seen, props) VALUES (?, ?, ?, ?)
		ON CONFLICT (external_id, app) DO UPDATE SET
			last_seen = excluded.last_seen,
			props = COALESCE(excluded.props, app_users.props)
		RETURNING id`,
		u.ExternalID, u.App, u.LastSeen.UTC(), props,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("upsert app user: %w", err)
	}
	return id, nil
}

// InsertLog appends a log entry. A nil Extra is stored as {}.
func (s *Store) InsertLog(ctx context.Context, e ir.LogEntry) error {
	msg, err := nullJSON(e.Message)
	if err != nil {
		return fmt.Errorf("write log: %w", err)
	}
	extra, err := nullJSON(e.Extra)
	if err != nil {
		return fmt.Errorf("write log: %w", err)
	}
	if extra == nil {
		extra = "{}"
	}
	createdAt := e.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}
	_, err = s.exec(ctx,
		`INSERT INTO logs (run_id, app, level, message, extra, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		nullString(e.RunID), e.App, nullString(e.Level), msg, extra, createdAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("write log: %w", err)
	}
	return nil
}
