package db

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jonathan/session-runner/internal/blueprint"
)

// -----------------------------------------------------------------------------
// Learning Sessions
// -----------------------------------------------------------------------------

// GetLearningSession retrieves a session definition together with its plan's owner and status
func (db *DB) GetLearningSession(ctx context.Context, sessionID uuid.UUID) (*LearningSession, error) {
	var s LearningSession
	err := db.pool.QueryRow(ctx,
		`SELECT ls.id, ls.plan_id, lp.status, lp.user_id, ls.blueprint_id, ls.title, ls.position
		 FROM learning_sessions ls
		 JOIN learning_plans lp ON lp.id = ls.plan_id
		 WHERE ls.id = $1`,
		sessionID,
	).Scan(&s.ID, &s.PlanID, &s.PlanStatus, &s.UserID, &s.BlueprintID, &s.Title, &s.Position)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get learning session: %w", err)
	}
	return &s, nil
}

// CreateLearningPlan creates a plan owned by userID and returns its ID
func (db *DB) CreateLearningPlan(ctx context.Context, userID uuid.UUID, title string) (uuid.UUID, error) {
	var id uuid.UUID
	err := db.pool.QueryRow(ctx,
		`INSERT INTO learning_plans (user_id, title) VALUES ($1, $2) RETURNING id`,
		userID, title,
	).Scan(&id)
	if err != nil {
		return uuid.Nil, fmt.Errorf("failed to create learning plan: %w", err)
	}
	return id, nil
}

// SetPlanStatus changes a plan's status (active, paused, archived)
func (db *DB) SetPlanStatus(ctx context.Context, planID uuid.UUID, status string) error {
	result, err := db.pool.Exec(ctx,
		`UPDATE learning_plans SET status = $2, updated_at = NOW() WHERE id = $1`,
		planID, status,
	)
	if err != nil {
		return fmt.Errorf("failed to set plan status: %w", err)
	}
	if result.RowsAffected() == 0 {
		return fmt.Errorf("plan not found: %s", planID)
	}
	return nil
}

// CreateLearningSession adds a session to a plan and returns its ID
func (db *DB) CreateLearningSession(ctx context.Context, planID uuid.UUID, blueprintID, title string, position int) (uuid.UUID, error) {
	var id uuid.UUID
	err := db.pool.QueryRow(ctx,
		`INSERT INTO learning_sessions (plan_id, blueprint_id, title, position)
		 VALUES ($1, $2, $3, $4) RETURNING id`,
		planID, blueprintID, title, position,
	).Scan(&id)
	if err != nil {
		return uuid.Nil, fmt.Errorf("failed to create learning session: %w", err)
	}
	return id, nil
}

// -----------------------------------------------------------------------------
// Blueprints
// -----------------------------------------------------------------------------

// GetBlueprint retrieves a blueprint document by ID
func (db *DB) GetBlueprint(ctx context.Context, blueprintID string) (*blueprint.Blueprint, error) {
	var document []byte
	err := db.pool.QueryRow(ctx,
		`SELECT document FROM blueprints WHERE id = $1`,
		blueprintID,
	).Scan(&document)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get blueprint %s: %w", blueprintID, err)
	}

	var bp blueprint.Blueprint
	if err := json.Unmarshal(document, &bp); err != nil {
		return nil, fmt.Errorf("failed to decode blueprint %s: %w", blueprintID, err)
	}
	return &bp, nil
}

// SaveBlueprint stores a blueprint. Blueprints are immutable, so saving an ID
// that already exists is a no-op; the boolean reports whether a row was written.
func (db *DB) SaveBlueprint(ctx context.Context, bp *blueprint.Blueprint) (bool, error) {
	document, err := json.Marshal(bp)
	if err != nil {
		return false, fmt.Errorf("failed to marshal blueprint: %w", err)
	}

	result, err := db.pool.Exec(ctx,
		`INSERT INTO blueprints (id, schema_version, start_step_id, document)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (id) DO NOTHING`,
		bp.BlueprintID, bp.SchemaVersion, bp.StartStepID, document,
	)
	if err != nil {
		return false, fmt.Errorf("failed to save blueprint %s: %w", bp.BlueprintID, err)
	}
	return result.RowsAffected() == 1, nil
}
