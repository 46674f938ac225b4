package db

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jonathan/session-runner/internal/runstate"
)

const sessionRunColumns = `id, session_id, user_id, blueprint_id, status, is_recovery,
	current_step_id, step_history, history_index, inputs, idempotency_key,
	exit_reason, summary, created_at, updated_at, completed_at`

// scanSessionRun scans one row selected with sessionRunColumns
func scanSessionRun(row pgx.Row) (*SessionRun, error) {
	var run SessionRun
	var status string
	var inputsJSON, summaryJSON []byte

	err := row.Scan(&run.ID, &run.SessionID, &run.UserID, &run.BlueprintID, &status, &run.IsRecovery,
		&run.CurrentStepID, &run.StepHistory, &run.HistoryIndex, &inputsJSON, &run.IdempotencyKey,
		&run.ExitReason, &summaryJSON, &run.CreatedAt, &run.UpdatedAt, &run.CompletedAt)
	if err != nil {
		return nil, err
	}

	run.Status = runstate.Status(status)
	if len(inputsJSON) > 0 {
		if err := json.Unmarshal(inputsJSON, &run.Inputs); err != nil {
			return nil, fmt.Errorf("failed to decode inputs of run %s: %w", run.ID, err)
		}
	}
	if len(summaryJSON) > 0 {
		if err := json.Unmarshal(summaryJSON, &run.Summary); err != nil {
			return nil, fmt.Errorf("failed to decode summary of run %s: %w", run.ID, err)
		}
	}
	return &run, nil
}

// queryOneRun runs a single-row query and maps pgx.ErrNoRows to nil, nil
func (db *DB) queryOneRun(ctx context.Context, op, query string, args ...any) (*SessionRun, error) {
	run, err := scanSessionRun(db.pool.QueryRow(ctx, query, args...))
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to %s: %w", op, err)
	}
	return run, nil
}

// InsertRun stores a new run. It returns ErrConcurrentRun when another
// non-terminal run exists for the same user and session, or when the
// idempotency key was already used by this user.
func (db *DB) InsertRun(ctx context.Context, run *SessionRun) (*SessionRun, error) {
	inputsJSON, err := json.Marshal(run.Inputs)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal inputs: %w", err)
	}

	created, err := scanSessionRun(db.pool.QueryRow(ctx,
		`INSERT INTO session_runs (session_id, user_id, blueprint_id, status, is_recovery,
		                           current_step_id, step_history, history_index, inputs, idempotency_key)
		 VALUES ($1, $2, $3, $4, FALSE, $5, $6, $7, $8, $9)
		 RETURNING `+sessionRunColumns,
		run.SessionID, run.UserID, run.BlueprintID, string(run.Status),
		run.CurrentStepID, run.StepHistory, run.HistoryIndex, inputsJSON, run.IdempotencyKey,
	))
	if err != nil {
		if isUniqueViolation(err) {
			return nil, ErrConcurrentRun
		}
		return nil, fmt.Errorf("failed to insert session run: %w", err)
	}
	return created, nil
}

// GetSessionRun retrieves a run by ID
func (db *DB) GetSessionRun(ctx context.Context, runID uuid.UUID) (*SessionRun, error) {
	return db.queryOneRun(ctx, "get session run",
		`SELECT `+sessionRunColumns+` FROM session_runs WHERE id = $1`,
		runID,
	)
}

// FindActiveRun returns the non-terminal run of a user for a session, if any
func (db *DB) FindActiveRun(ctx context.Context, userID, sessionID uuid.UUID) (*SessionRun, error) {
	return db.queryOneRun(ctx, "find active run",
		`SELECT `+sessionRunColumns+` FROM session_runs
		 WHERE user_id = $1 AND session_id = $2 AND status <> 'COMPLETED'
		 ORDER BY created_at DESC LIMIT 1`,
		userID, sessionID,
	)
}

// FindRunByIdempotencyKey returns the run a user created with the given key, if any
func (db *DB) FindRunByIdempotencyKey(ctx context.Context, userID uuid.UUID, key string) (*SessionRun, error) {
	return db.queryOneRun(ctx, "find run by idempotency key",
		`SELECT `+sessionRunColumns+` FROM session_runs
		 WHERE user_id = $1 AND idempotency_key = $2`,
		userID, key,
	)
}

// ListSessionRuns returns the runs of a user for a session, newest first
func (db *DB) ListSessionRuns(ctx context.Context, userID, sessionID uuid.UUID, limit int) ([]SessionRun, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := db.pool.Query(ctx,
		`SELECT `+sessionRunColumns+` FROM session_runs
		 WHERE user_id = $1 AND session_id = $2
		 ORDER BY created_at DESC LIMIT $3`,
		userID, sessionID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list session runs: %w", err)
	}
	defer rows.Close()

	var runs []SessionRun
	for rows.Next() {
		run, err := scanSessionRun(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan session run: %w", err)
		}
		runs = append(runs, *run)
	}
	return runs, rows.Err()
}

// MarkRunRecovered flags a non-terminal run as resumed and touches updated_at.
// Progress fields are left untouched. Returns nil if the run is already terminal.
func (db *DB) MarkRunRecovered(ctx context.Context, runID uuid.UUID) (*SessionRun, error) {
	return db.queryOneRun(ctx, "mark run recovered",
		`UPDATE session_runs SET is_recovery = TRUE, updated_at = NOW()
		 WHERE id = $1 AND status <> 'COMPLETED'
		 RETURNING `+sessionRunColumns,
		runID,
	)
}

// SaveRunProgress writes position and inputs of an ACTIVE run. It returns
// the new updated_at, or nil when the run is no longer active.
func (db *DB) SaveRunProgress(ctx context.Context, runID uuid.UUID, progress RunProgress) (*time.Time, error) {
	inputsJSON, err := json.Marshal(progress.Inputs)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal inputs: %w", err)
	}

	var savedAt time.Time
	err = db.pool.QueryRow(ctx,
		`UPDATE session_runs
		 SET current_step_id = $2, step_history = $3, history_index = $4, inputs = $5, updated_at = NOW()
		 WHERE id = $1 AND status = 'ACTIVE'
		 RETURNING updated_at`,
		runID, progress.CurrentStepID, progress.StepHistory, progress.HistoryIndex, inputsJSON,
	).Scan(&savedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to save run progress: %w", err)
	}
	return &savedAt, nil
}

// TransitionRunStatus moves a run to status `to` if its current status is one
// of from. Reaching COMPLETED stamps completed_at. A non-empty exitReason is
// recorded. The boolean reports whether this call performed the transition.
func (db *DB) TransitionRunStatus(ctx context.Context, runID uuid.UUID, from []runstate.Status, to runstate.Status, exitReason string) (bool, error) {
	fromStatuses := make([]string, len(from))
	for i, s := range from {
		fromStatuses[i] = string(s)
	}

	var reason *string
	if exitReason != "" {
		reason = &exitReason
	}

	result, err := db.pool.Exec(ctx,
		`UPDATE session_runs
		 SET status = $2,
		     exit_reason = COALESCE($3, exit_reason),
		     completed_at = CASE WHEN $2 = 'COMPLETED' THEN NOW() ELSE completed_at END,
		     updated_at = NOW()
		 WHERE id = $1 AND status = ANY($4)`,
		runID, string(to), reason, fromStatuses,
	)
	if err != nil {
		return false, fmt.Errorf("failed to transition run to %s: %w", to, err)
	}
	return result.RowsAffected() == 1, nil
}

// SetRunSummary attaches completion metadata to a COMPLETED run. It returns
// false when the run is not completed.
func (db *DB) SetRunSummary(ctx context.Context, runID uuid.UUID, summary map[string]any) (bool, error) {
	summaryJSON, err := json.Marshal(summary)
	if err != nil {
		return false, fmt.Errorf("failed to marshal summary: %w", err)
	}

	result, err := db.pool.Exec(ctx,
		`UPDATE session_runs SET summary = $2 WHERE id = $1 AND status = 'COMPLETED'`,
		runID, summaryJSON,
	)
	if err != nil {
		return false, fmt.Errorf("failed to set run summary: %w", err)
	}
	return result.RowsAffected() == 1, nil
}
