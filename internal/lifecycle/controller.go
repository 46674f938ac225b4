// Package lifecycle creates, resumes, saves, completes and abandons session
// runs, and hands out navigators that drive a single live run.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonathan/session-runner/internal/autosave"
	"github.com/jonathan/session-runner/internal/blueprint"
	"github.com/jonathan/session-runner/internal/db"
	"github.com/jonathan/session-runner/internal/observability"
	"github.com/jonathan/session-runner/internal/runstate"
	"golang.org/x/sync/singleflight"
)

// RunStore persists runs. db.DB implements it.
type RunStore interface {
	InsertRun(ctx context.Context, run *db.SessionRun) (*db.SessionRun, error)
	GetSessionRun(ctx context.Context, runID uuid.UUID) (*db.SessionRun, error)
	FindActiveRun(ctx context.Context, userID, sessionID uuid.UUID) (*db.SessionRun, error)
	FindRunByIdempotencyKey(ctx context.Context, userID uuid.UUID, key string) (*db.SessionRun, error)
	MarkRunRecovered(ctx context.Context, runID uuid.UUID) (*db.SessionRun, error)
	SaveRunProgress(ctx context.Context, runID uuid.UUID, progress db.RunProgress) (*time.Time, error)
	TransitionRunStatus(ctx context.Context, runID uuid.UUID, from []runstate.Status, to runstate.Status, exitReason string) (bool, error)
	SetRunSummary(ctx context.Context, runID uuid.UUID, summary map[string]any) (bool, error)
}

// SessionCatalog resolves learning session definitions. db.DB implements it.
type SessionCatalog interface {
	GetLearningSession(ctx context.Context, sessionID uuid.UUID) (*db.LearningSession, error)
}

// BlueprintProvider loads immutable blueprints. Both db.DB and
// blueprint.FileProvider implement it. A nil blueprint means not found.
type BlueprintProvider interface {
	GetBlueprint(ctx context.Context, blueprintID string) (*blueprint.Blueprint, error)
}

// CompletionEvent is sent to the completion collaborator once per completed run
type CompletionEvent struct {
	RunID       uuid.UUID        `json:"run_id"`
	SessionID   uuid.UUID        `json:"session_id"`
	UserID      uuid.UUID        `json:"user_id"`
	BlueprintID string           `json:"blueprint_id"`
	StepHistory []string         `json:"step_history"`
	Inputs      blueprint.Inputs `json:"inputs"`
	CompletedAt time.Time        `json:"completed_at"`
}

// CompletionNotifier is told about completed runs. The controller never
// waits on it and ignores its result beyond logging.
type CompletionNotifier interface {
	RunCompleted(ctx context.Context, event CompletionEvent) error
}

// Config tunes controller behavior
type Config struct {
	// AutosaveInterval is the debounce window of navigators. Zero uses autosave.DefaultInterval.
	AutosaveInterval time.Duration
	// SaveTimeout bounds each deferred autosave write. Zero uses autosave.DefaultSaveTimeout.
	SaveTimeout time.Duration
	// NotifyTimeout bounds each completion notification.
	NotifyTimeout time.Duration
}

// Controller owns the persistence-crossing operations of runs.
type Controller struct {
	runs       RunStore
	sessions   SessionCatalog
	blueprints BlueprintProvider
	notifier   CompletionNotifier
	cfg        Config

	starts   singleflight.Group
	inflight sync.WaitGroup
}

// New creates a controller. notifier may be nil.
func New(runs RunStore, sessions SessionCatalog, blueprints BlueprintProvider, notifier CompletionNotifier, cfg Config) *Controller {
	if cfg.AutosaveInterval <= 0 {
		cfg.AutosaveInterval = autosave.DefaultInterval
	}
	if cfg.SaveTimeout <= 0 {
		cfg.SaveTimeout = autosave.DefaultSaveTimeout
	}
	if cfg.NotifyTimeout <= 0 {
		cfg.NotifyTimeout = 30 * time.Second
	}
	return &Controller{
		runs:       runs,
		sessions:   sessions,
		blueprints: blueprints,
		notifier:   notifier,
		cfg:        cfg,
	}
}

// StartResult is the outcome of CreateOrResume
type StartResult struct {
	Run        *db.SessionRun
	IsRecovery bool
}

// CreateOrResume returns the user's non-terminal run for the session, or
// creates one. Concurrent calls for the same user and session inside this
// process share one execution; across processes the storage uniqueness
// constraint turns a losing insert into a resume.
func (c *Controller) CreateOrResume(ctx context.Context, userID, sessionID uuid.UUID, idempotencyKey string) (*StartResult, error) {
	key := userID.String() + "/" + sessionID.String()
	v, err, _ := c.starts.Do(key, func() (any, error) {
		return c.createOrResume(ctx, userID, sessionID, idempotencyKey)
	})
	if err != nil {
		return nil, err
	}
	return v.(*StartResult), nil
}

func (c *Controller) createOrResume(ctx context.Context, userID, sessionID uuid.UUID, idempotencyKey string) (*StartResult, error) {
	session, err := c.sessions.GetLearningSession(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to load learning session: %w", err)
	}
	if session == nil || session.UserID != userID {
		return nil, &ErrSessionNotFound{SessionID: sessionID}
	}
	if session.PlanStatus != db.PlanStatusActive {
		return nil, &ErrPlanNotActive{PlanID: session.PlanID, Status: session.PlanStatus}
	}

	// A run that turns terminal between lookup and recovery is retried once.
	for attempt := 0; attempt < 2; attempt++ {
		existing, err := c.findExisting(ctx, userID, sessionID, idempotencyKey)
		if err != nil {
			return nil, err
		}
		if existing != nil {
			if existing.Status.Terminal() {
				// replay of a key whose run has since finished
				observability.RunStarted(observability.StartReplayed)
				return &StartResult{Run: existing, IsRecovery: existing.IsRecovery}, nil
			}
			result, err := c.resume(ctx, existing)
			if err != nil {
				return nil, err
			}
			if result != nil {
				return result, nil
			}
			continue
		}

		created, err := c.insertRun(ctx, userID, session, idempotencyKey)
		if errors.Is(err, db.ErrConcurrentRun) {
			observability.ConcurrentRunConflict()
			log.Printf("[lifecycle] concurrent start for user=%s session=%s, resuming existing run", userID, sessionID)
			continue
		}
		if err != nil {
			return nil, err
		}

		observability.RunStarted(observability.StartCreated)
		log.Printf("[lifecycle] created run %s for session %s", created.ID, sessionID)
		return &StartResult{Run: created, IsRecovery: false}, nil
	}

	return nil, fmt.Errorf("failed to create or resume run for session %s: %w", sessionID, db.ErrConcurrentRun)
}

// findExisting looks up a run by idempotency key first, then the active run.
func (c *Controller) findExisting(ctx context.Context, userID, sessionID uuid.UUID, idempotencyKey string) (*db.SessionRun, error) {
	if idempotencyKey != "" {
		run, err := c.runs.FindRunByIdempotencyKey(ctx, userID, idempotencyKey)
		if err != nil {
			return nil, fmt.Errorf("failed to look up idempotency key: %w", err)
		}
		if run != nil {
			if run.SessionID != sessionID {
				return nil, &ErrIdempotencyKeyReused{Key: idempotencyKey, SessionID: run.SessionID}
			}
			return run, nil
		}
	}

	run, err := c.runs.FindActiveRun(ctx, userID, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to find active run: %w", err)
	}
	return run, nil
}

// resume marks a non-terminal run as recovered without touching its
// progress. It returns nil if the run became terminal meanwhile.
func (c *Controller) resume(ctx context.Context, run *db.SessionRun) (*StartResult, error) {
	recovered, err := c.runs.MarkRunRecovered(ctx, run.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to mark run recovered: %w", err)
	}
	if recovered == nil {
		return nil, nil
	}
	observability.RunStarted(observability.StartResumed)
	log.Printf("[lifecycle] resumed run %s at step %s", recovered.ID, recovered.CurrentStepID)
	return &StartResult{Run: recovered, IsRecovery: true}, nil
}

func (c *Controller) insertRun(ctx context.Context, userID uuid.UUID, session *db.LearningSession, idempotencyKey string) (*db.SessionRun, error) {
	bp, err := c.loadBlueprint(ctx, session.BlueprintID)
	if err != nil {
		return nil, err
	}

	state := runstate.New(bp)
	run := &db.SessionRun{
		SessionID:     session.ID,
		UserID:        userID,
		BlueprintID:   bp.BlueprintID,
		Status:        state.Status,
		CurrentStepID: state.CurrentStepID,
		StepHistory:   state.StepHistory,
		HistoryIndex:  state.HistoryIndex,
		Inputs:        state.Inputs,
	}
	if idempotencyKey != "" {
		run.IdempotencyKey = &idempotencyKey
	}

	return c.runs.InsertRun(ctx, run)
}

func (c *Controller) loadBlueprint(ctx context.Context, blueprintID string) (*blueprint.Blueprint, error) {
	bp, err := c.blueprints.GetBlueprint(ctx, blueprintID)
	if err != nil {
		return nil, fmt.Errorf("failed to load blueprint: %w", err)
	}
	if bp == nil {
		return nil, &ErrBlueprintNotFound{BlueprintID: blueprintID}
	}
	if bp.BlueprintID == "" {
		bp.BlueprintID = blueprintID
	}
	if err := blueprint.Validate(bp); err != nil {
		return nil, err
	}
	return bp, nil
}

// loadOwnedRun returns the run if it exists and belongs to userID
func (c *Controller) loadOwnedRun(ctx context.Context, userID, runID uuid.UUID) (*db.SessionRun, error) {
	run, err := c.runs.GetSessionRun(ctx, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to load run: %w", err)
	}
	if run == nil || run.UserID != userID {
		return nil, &ErrRunNotFound{RunID: runID}
	}
	return run, nil
}

// Snapshot is a run together with everything needed to render it
type Snapshot struct {
	Run           *db.SessionRun
	Blueprint     *blueprint.Blueprint
	PredictedPath []string
	Progress      blueprint.ProgressInfo
	CanGoBack     bool
	CanAdvance    bool
}

// GetRun returns a snapshot of a run owned by userID.
func (c *Controller) GetRun(ctx context.Context, userID, runID uuid.UUID) (*Snapshot, error) {
	run, err := c.loadOwnedRun(ctx, userID, runID)
	if err != nil {
		return nil, err
	}
	bp, err := c.loadBlueprint(ctx, run.BlueprintID)
	if err != nil {
		return nil, err
	}
	return newSnapshot(run, bp, run.State()), nil
}

func newSnapshot(run *db.SessionRun, bp *blueprint.Blueprint, state runstate.State) *Snapshot {
	current, _, _ := bp.Step(state.CurrentStepID)
	return &Snapshot{
		Run:           run,
		Blueprint:     bp,
		PredictedPath: blueprint.PredictedPath(bp, state.Inputs),
		Progress:      blueprint.Progress(bp, state.Inputs, state.CurrentStepID, state.HistoryIndex+1),
		CanGoBack:     state.CanGoBack(),
		CanAdvance:    state.Status == runstate.StatusActive && blueprint.CanAdvance(current, state.Inputs),
	}
}

// Complete finishes a run: ACTIVE -> COMPLETING -> COMPLETED. Calling it on a
// completed run returns that run without side effects. The completion
// collaborator is notified only by the call that performed the final
// transition.
func (c *Controller) Complete(ctx context.Context, userID, runID uuid.UUID) (*db.SessionRun, error) {
	run, err := c.loadOwnedRun(ctx, userID, runID)
	if err != nil {
		return nil, err
	}
	if run.Status.Terminal() {
		return run, nil
	}

	if _, err := c.runs.TransitionRunStatus(ctx, runID,
		[]runstate.Status{runstate.StatusActive}, runstate.StatusCompleting, ""); err != nil {
		return nil, err
	}
	finished, err := c.runs.TransitionRunStatus(ctx, runID,
		[]runstate.Status{runstate.StatusActive, runstate.StatusCompleting}, runstate.StatusCompleted, "")
	if err != nil {
		return nil, err
	}

	completed, err := c.loadOwnedRun(ctx, userID, runID)
	if err != nil {
		return nil, err
	}

	if finished {
		observability.RunFinished(false)
		log.Printf("[lifecycle] completed run %s", runID)
		c.notifyCompleted(completed)
	}
	return completed, nil
}

// Abandon ends a run early. The run is stored as COMPLETED with the reason,
// freeing the session for a new run. Abandoning a terminal run is a no-op.
func (c *Controller) Abandon(ctx context.Context, userID, runID uuid.UUID, reason string) (*db.SessionRun, error) {
	run, err := c.loadOwnedRun(ctx, userID, runID)
	if err != nil {
		return nil, err
	}
	if run.Status.Terminal() {
		return run, nil
	}
	if reason == "" {
		reason = "abandoned"
	}

	moved, err := c.runs.TransitionRunStatus(ctx, runID,
		[]runstate.Status{runstate.StatusActive, runstate.StatusCompleting}, runstate.StatusCompleted, reason)
	if err != nil {
		return nil, err
	}
	if moved {
		observability.RunFinished(true)
		log.Printf("[lifecycle] abandoned run %s: %s", runID, reason)
	}
	return c.loadOwnedRun(ctx, userID, runID)
}

// AttachSummary stores completion metadata on a completed run. It is the only
// write allowed after completion.
func (c *Controller) AttachSummary(ctx context.Context, runID uuid.UUID, summary map[string]any) error {
	ok, err := c.runs.SetRunSummary(ctx, runID, summary)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("run %s is not completed", runID)
	}
	return nil
}

// notifyCompleted informs the completion collaborator without blocking the caller.
func (c *Controller) notifyCompleted(run *db.SessionRun) {
	if c.notifier == nil {
		return
	}

	event := CompletionEvent{
		RunID:       run.ID,
		SessionID:   run.SessionID,
		UserID:      run.UserID,
		BlueprintID: run.BlueprintID,
		StepHistory: run.StepHistory,
		Inputs:      run.Inputs,
		CompletedAt: time.Now(),
	}
	if run.CompletedAt != nil {
		event.CompletedAt = *run.CompletedAt
	}

	c.inflight.Add(1)
	go func() {
		defer c.inflight.Done()
		defer func() {
			if r := recover(); r != nil {
				log.Printf("[lifecycle] completion notifier panicked for run %s: %v", event.RunID, r)
			}
		}()

		ctx, cancel := context.WithTimeout(context.Background(), c.cfg.NotifyTimeout)
		defer cancel()
		if err := c.notifier.RunCompleted(ctx, event); err != nil {
			log.Printf("[lifecycle] completion notifier failed for run %s: %v", event.RunID, err)
		}
	}()
}

// Wait blocks until in-flight completion notifications have returned.
func (c *Controller) Wait() {
	c.inflight.Wait()
}
