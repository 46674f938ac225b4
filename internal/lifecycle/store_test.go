package lifecycle

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonathan/session-runner/internal/blueprint"
	"github.com/jonathan/session-runner/internal/db"
	"github.com/jonathan/session-runner/internal/runstate"
)

// memStore is an in-memory RunStore, SessionCatalog and BlueprintProvider
// with the same uniqueness rules as the postgres schema.
type memStore struct {
	mu         sync.Mutex
	runs       map[uuid.UUID]*db.SessionRun
	sessions   map[uuid.UUID]*db.LearningSession
	blueprints map[string]*blueprint.Blueprint
	saves      int
}

func newMemStore() *memStore {
	return &memStore{
		runs:       make(map[uuid.UUID]*db.SessionRun),
		sessions:   make(map[uuid.UUID]*db.LearningSession),
		blueprints: make(map[string]*blueprint.Blueprint),
	}
}

func copyRun(r *db.SessionRun) *db.SessionRun {
	c := *r
	c.StepHistory = append([]string(nil), r.StepHistory...)
	c.Inputs = r.Inputs.Clone()
	return &c
}

func (m *memStore) addSession(userID uuid.UUID, planStatus string, bp *blueprint.Blueprint) *db.LearningSession {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.blueprints[bp.BlueprintID] = bp
	s := &db.LearningSession{
		ID:          uuid.New(),
		PlanID:      uuid.New(),
		PlanStatus:  planStatus,
		UserID:      userID,
		BlueprintID: bp.BlueprintID,
		Title:       "Session",
	}
	m.sessions[s.ID] = s
	return s
}

func (m *memStore) runCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.runs)
}

func (m *memStore) saveCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saves
}

func (m *memStore) stored(id uuid.UUID) *db.SessionRun {
	m.mu.Lock()
	defer m.mu.Unlock()
	return copyRun(m.runs[id])
}

func (m *memStore) InsertRun(_ context.Context, run *db.SessionRun) (*db.SessionRun, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.runs {
		if r.UserID != run.UserID {
			continue
		}
		if r.SessionID == run.SessionID && r.Status != runstate.StatusCompleted {
			return nil, db.ErrConcurrentRun
		}
		if run.IdempotencyKey != nil && r.IdempotencyKey != nil && *r.IdempotencyKey == *run.IdempotencyKey {
			return nil, db.ErrConcurrentRun
		}
	}
	c := copyRun(run)
	c.ID = uuid.New()
	c.CreatedAt = time.Now()
	c.UpdatedAt = c.CreatedAt
	m.runs[c.ID] = c
	return copyRun(c), nil
}

func (m *memStore) GetSessionRun(_ context.Context, runID uuid.UUID) (*db.SessionRun, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.runs[runID]
	if !ok {
		return nil, nil
	}
	return copyRun(r), nil
}

func (m *memStore) FindActiveRun(_ context.Context, userID, sessionID uuid.UUID) (*db.SessionRun, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.runs {
		if r.UserID == userID && r.SessionID == sessionID && r.Status != runstate.StatusCompleted {
			return copyRun(r), nil
		}
	}
	return nil, nil
}

func (m *memStore) FindRunByIdempotencyKey(_ context.Context, userID uuid.UUID, key string) (*db.SessionRun, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.runs {
		if r.UserID == userID && r.IdempotencyKey != nil && *r.IdempotencyKey == key {
			return copyRun(r), nil
		}
	}
	return nil, nil
}

func (m *memStore) MarkRunRecovered(_ context.Context, runID uuid.UUID) (*db.SessionRun, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.runs[runID]
	if !ok || r.Status.Terminal() {
		return nil, nil
	}
	r.IsRecovery = true
	r.UpdatedAt = time.Now()
	return copyRun(r), nil
}

func (m *memStore) SaveRunProgress(_ context.Context, runID uuid.UUID, p db.RunProgress) (*time.Time, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.runs[runID]
	if !ok || r.Status != runstate.StatusActive {
		return nil, nil
	}
	r.CurrentStepID = p.CurrentStepID
	r.StepHistory = append([]string(nil), p.StepHistory...)
	r.HistoryIndex = p.HistoryIndex
	r.Inputs = p.Inputs.Clone()
	r.UpdatedAt = time.Now()
	m.saves++
	t := r.UpdatedAt
	return &t, nil
}

func (m *memStore) TransitionRunStatus(_ context.Context, runID uuid.UUID, from []runstate.Status, to runstate.Status, exitReason string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.runs[runID]
	if !ok {
		return false, nil
	}
	for _, f := range from {
		if r.Status == f {
			r.Status = to
			r.UpdatedAt = time.Now()
			if exitReason != "" {
				r.ExitReason = &exitReason
			}
			if to == runstate.StatusCompleted {
				t := r.UpdatedAt
				r.CompletedAt = &t
			}
			return true, nil
		}
	}
	return false, nil
}

func (m *memStore) SetRunSummary(_ context.Context, runID uuid.UUID, summary map[string]any) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.runs[runID]
	if !ok || r.Status != runstate.StatusCompleted {
		return false, nil
	}
	r.Summary = summary
	return true, nil
}

func (m *memStore) GetLearningSession(_ context.Context, sessionID uuid.UUID) (*db.LearningSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[sessionID]
	if !ok {
		return nil, nil
	}
	c := *s
	return &c, nil
}

func (m *memStore) GetBlueprint(_ context.Context, blueprintID string) (*blueprint.Blueprint, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.blueprints[blueprintID], nil
}

// recordingNotifier collects completion events
type recordingNotifier struct {
	mu     sync.Mutex
	events []CompletionEvent
}

func (n *recordingNotifier) RunCompleted(_ context.Context, event CompletionEvent) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, event)
	return nil
}

func (n *recordingNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.events)
}
