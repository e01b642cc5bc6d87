package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/roach88/runledger/internal/ir"
)

const runSelectColumns = `id, type, app, user_id, name, parent_run, sibling_of, tags,
	input, output, params, feedback, error, status, template_id, runtime,
	created_at, ended_at, prompt_tokens, completion_tokens`

type rowScanner interface {
	Scan(dest ...any) error
}

// scanRun scans one run row. sql.ErrNoRows is translated to ErrNotFound.
func scanRun(row rowScanner) (ir.Run, error) {
	var r ir.Run
	var typ string
	var userID, promptTokens, completionTokens sql.NullInt64
	var name, parentRun, siblingOf, tags sql.NullString
	var input, output, params, feedback, errPayload sql.NullString
	var status, templateID, runtime sql.NullString
	var endedAt sql.NullTime
	err := row.Scan(
		&r.ID, &typ, &r.App, &userID, &name, &parentRun, &siblingOf, &tags,
		&input, &output, &params, &feedback, &errPayload, &status, &templateID, &runtime,
		&r.CreatedAt, &endedAt, &promptTokens, &completionTokens,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return ir.Run{}, ErrNotFound
	}
	if err != nil {
		return ir.Run{}, err
	}

	r.Type = ir.RunType(typ)
	r.UserID = int64Ptr(userID)
	r.Name = name.String
	r.ParentRun = parentRun.String
	r.SiblingOf = siblingOf.String
	if r.Tags, err = decodeTags(tags); err != nil {
		return ir.Run{}, err
	}
	r.Input = rawJSON(input)
	r.Output = rawJSON(output)
	r.Params = rawJSON(params)
	r.Feedback = rawJSON(feedback)
	r.Error = rawJSON(errPayload)
	r.Status = ir.Status(status.String)
	r.TemplateID = templateID.String
	r.Runtime = runtime.String
	r.CreatedAt = r.CreatedAt.UTC()
	r.EndedAt = timePtr(endedAt)
	r.PromptTokens = int64Ptr(promptTokens)
	r.CompletionTokens = int64Ptr(completionTokens)
	return r, nil
}

func scanRuns(rows *sql.Rows) ([]ir.Run, error) {
	defer rows.Close()
	runs := []ir.Run{} // Return empty slice, not nil
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return runs, nil
}

// GetRun retrieves a run by id.
// Returns ErrNotFound if the run does not exist.
func (s *Store) GetRun(ctx context.Context, id string) (ir.Run, error) {
	r, err := scanRun(s.queryRow(ctx, `SELECT `+runSelectColumns+` FROM runs WHERE id = ?`, id))
	if errors.Is(err, ErrNotFound) {
		return ir.Run{}, ErrNotFound
	}
	if err != nil {
		return ir.Run{}, fmt.Errorf("query run %s: %w", id, err)
	}
	return r, nil
}

// LatestChildRun returns the most recently created run whose parent is
// parentID. Returns ErrNotFound if the parent has no children.
func (s *Store) LatestChildRun(ctx context.Context, parentID string) (ir.Run, error) {
	r, err := scanRun(s.queryRow(ctx,
		`SELECT `+runSelectColumns+` FROM runs
		WHERE parent_run = ?
		ORDER BY created_at DESC, `+s.dialect.tiebreak+` DESC
		LIMIT 1`, parentID))
	if errors.Is(err, ErrNotFound) {
		return ir.Run{}, ErrNotFound
	}
	if err != nil {
		return ir.Run{}, fmt.Errorf("query latest child of %s: %w", parentID, err)
	}
	return r, nil
}

// ChildRuns returns all runs whose parent is parentID, oldest first.
// Returns empty slice (not nil) if there are none.
func (s *Store) ChildRuns(ctx context.Context, parentID string) ([]ir.Run, error) {
	rows, err := s.query(ctx,
		`SELECT `+runSelectColumns+` FROM runs
		WHERE parent_run = ?
		ORDER BY created_at ASC, `+s.dialect.tiebreak+` ASC`, parentID)
	if err != nil {
		return nil, fmt.Errorf("query children of %s: %w", parentID, err)
	}
	runs, err := scanRuns(rows)
	if err != nil {
		return nil, fmt.Errorf("scan children of %s: %w", parentID, err)
	}
	return runs, nil
}

// Siblings returns the retry forks of originID, oldest first.
func (s *Store) Siblings(ctx context.Context, originID string) ([]ir.Run, error) {
	rows, err := s.query(ctx,
		`SELECT `+runSelectColumns+` FROM runs
		WHERE sibling_of = ?
		ORDER BY created_at ASC, `+s.dialect.tiebreak+` ASC`, originID)
	if err != nil {
		return nil, fmt.Errorf("query siblings of %s: %w", originID, err)
	}
	runs, err := scanRuns(rows)
	if err != nil {
		return nil, fmt.Errorf("scan siblings of %s: %w", originID, err)
	}
	return runs, nil
}

// GetAppUser retrieves an application user by internal id.
// Returns ErrNotFound if the user does not exist.
func (s *Store) GetAppUser(ctx context.Context, id int64) (ir.AppUser, error) {
	var (
		u     ir.AppUser
		props sql.NullString
	)
	err := s.queryRow(ctx,
		`SELECT id, external_id, app, last_seen, props FROM app_users WHERE id = ?`, id,
	).Scan(&u.ID, &u.ExternalID, &u.App, &u.LastSeen, &props)
	if errors.Is(err, sql.ErrNoRows) {
		return ir.AppUser{}, ErrNotFound
	}
	if err != nil {
		return ir.AppUser{}, fmt.Errorf("query app user %d: %w", id, err)
	}
	u.LastSeen = u.LastSeen.UTC()
	u.Props = rawJSON(props)
	return u, nil
}

// ReadLogs returns the log entries attached to runID in insertion order.
func (s *Store) ReadLogs(ctx context.Context, runID string) ([]ir.LogEntry, error) {
	rows, err := s.query(ctx,
		`SELECT id, run_id, app, level, message, extra, created_at FROM logs
		WHERE run_id = ?
		ORDER BY id ASC`, runID)
	if err != nil {
		return nil, fmt.Errorf("query logs: %w", err)
	}
	defer rows.Close()

	logs := []ir.LogEntry{}
	for rows.Next() {
		var (
			e                   ir.LogEntry
			run, level, message sql.NullString
			extra               string
		)
		if err := rows.Scan(&e.ID, &run, &e.App, &level, &message, &extra, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan log: %w", err)
		}
		e.RunID = run.String
		e.Level = level.String
		e.Message = rawJSON(message)
		e.Extra = []byte(extra)
		e.CreatedAt = e.CreatedAt.UTC()
		logs = append(logs, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate logs: %w", err)
	}
	return logs, nil
}
