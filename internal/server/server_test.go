package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jonathan/session-runner/internal/blueprint"
	"github.com/jonathan/session-runner/internal/db"
	"github.com/jonathan/session-runner/internal/lifecycle"
	"github.com/jonathan/session-runner/internal/runstate"
	"github.com/jonathan/session-runner/internal/server/middleware"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testToken = "test-token"

// staticTokens accepts exactly one bearer token
type staticTokens struct {
	userID uuid.UUID
}

type staticClaims uuid.UUID

func (c staticClaims) GetUserID() uuid.UUID { return uuid.UUID(c) }

func (v staticTokens) ValidateToken(token string) (middleware.UserIDGetter, error) {
	if token != testToken {
		return nil, errors.New("invalid token")
	}
	return staticClaims(v.userID), nil
}

// fakeRuns records calls and returns canned results
type fakeRuns struct {
	run     *db.SessionRun
	bp      *blueprint.Blueprint
	err     error
	nav     *lifecycle.NavResult
	save    *lifecycle.SaveResult
	actions []runstate.Action
	keys    []string
	reasons []string
	saved   []int
}

func (f *fakeRuns) CreateOrResume(_ context.Context, _, _ uuid.UUID, key string) (*lifecycle.StartResult, error) {
	f.keys = append(f.keys, key)
	if f.err != nil {
		return nil, f.err
	}
	return &lifecycle.StartResult{Run: f.run, IsRecovery: f.run.IsRecovery}, nil
}

func (f *fakeRuns) GetRun(_ context.Context, _, _ uuid.UUID) (*lifecycle.Snapshot, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &lifecycle.Snapshot{
		Run:           f.run,
		Blueprint:     f.bp,
		PredictedPath: []string{"S1", "S2", "S3"},
		Progress:      blueprint.ProgressInfo{Position: 1, TotalSteps: 3, Percent: 33},
		CanAdvance:    true,
	}, nil
}

func (f *fakeRuns) SaveProgressJSON(_ context.Context, _, _ uuid.UUID, _ []string, historyIndex int, _ json.RawMessage) (*lifecycle.SaveResult, error) {
	f.saved = append(f.saved, historyIndex)
	if f.err != nil {
		return nil, f.err
	}
	return f.save, nil
}

func (f *fakeRuns) Dispatch(_ context.Context, _, _ uuid.UUID, action runstate.Action) (*lifecycle.NavResult, error) {
	f.actions = append(f.actions, action)
	if f.err != nil {
		return nil, f.err
	}
	return f.nav, nil
}

func (f *fakeRuns) Complete(_ context.Context, _, _ uuid.UUID) (*db.SessionRun, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.run, nil
}

func (f *fakeRuns) Abandon(_ context.Context, _, _ uuid.UUID, reason string) (*db.SessionRun, error) {
	f.reasons = append(f.reasons, reason)
	if f.err != nil {
		return nil, f.err
	}
	return f.run, nil
}

type fakePinger struct{ err error }

func (p fakePinger) Ping(context.Context) error { return p.err }

func intPtr(v int) *int { return &v }

func testBlueprint() *blueprint.Blueprint {
	return &blueprint.Blueprint{
		SchemaVersion: blueprint.CurrentSchemaVersion,
		BlueprintID:   "bp-three",
		StartStepID:   "S1",
		Steps: []blueprint.Step{
			{ID: "S1", Kind: blueprint.KindSessionIntro},
			{ID: "S2", Kind: blueprint.KindCheck, Options: []string{"a", "b"}, AnswerIndex: intPtr(1)},
			{ID: "S3", Kind: blueprint.KindSessionSummary},
		},
	}
}

func testRun(userID uuid.UUID) *db.SessionRun {
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	return &db.SessionRun{
		ID:            uuid.New(),
		SessionID:     uuid.New(),
		UserID:        userID,
		BlueprintID:   "bp-three",
		Status:        runstate.StatusActive,
		CurrentStepID: "S1",
		StepHistory:   []string{"S1"},
		HistoryIndex:  0,
		Inputs:        blueprint.Inputs{},
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

type testEnv struct {
	userID  uuid.UUID
	runs    *fakeRuns
	handler http.Handler
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	userID := uuid.New()
	runs := &fakeRuns{run: testRun(userID), bp: testBlueprint()}
	s := New(Config{Port: 0}, runs, fakePinger{}, staticTokens{userID: userID})
	return &testEnv{userID: userID, runs: runs, handler: s.Handler()}
}

func (e *testEnv) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Authorization", "Bearer "+testToken)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	e.handler.ServeHTTP(w, req)
	return w
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	return out
}

func TestHealthEndpoint(t *testing.T) {
	env := newTestEnv(t)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()
	env.handler.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ok", decodeBody(t, w)["status"])
}

func TestHealthEndpoint_StorageDown(t *testing.T) {
	s := New(Config{}, &fakeRuns{}, fakePinger{err: errors.New("pool closed")}, staticTokens{})

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)

	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Equal(t, "unavailable", decodeBody(t, w)["status"])
}

func TestMetricsEndpoint(t *testing.T) {
	env := newTestEnv(t)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	w := httptest.NewRecorder()
	env.handler.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
}

func TestAPI_RequiresToken(t *testing.T) {
	env := newTestEnv(t)

	req := httptest.NewRequest(http.MethodGet, "/runs/"+uuid.NewString(), nil)
	w := httptest.NewRecorder()
	env.handler.ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, "UNAUTHORIZED", decodeBody(t, w)["code"])
}

func TestCORSMiddleware_OPTIONS(t *testing.T) {
	env := newTestEnv(t)

	req := httptest.NewRequest(http.MethodOptions, "/runs/"+uuid.NewString(), nil)
	w := httptest.NewRecorder()
	env.handler.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
	assert.Contains(t, w.Header().Get("Access-Control-Allow-Headers"), "Idempotency-Key")
}

func TestJSONResponse(t *testing.T) {
	s := &Server{}
	w := httptest.NewRecorder()

	s.jsonResponse(w, http.StatusCreated, map[string]int{"n": 1})

	assert.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
	assert.JSONEq(t, `{"n":1}`, w.Body.String())
}

func TestErrorResponse(t *testing.T) {
	s := &Server{}
	w := httptest.NewRecorder()

	s.errorResponse(w, http.StatusBadRequest, "bad")

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.JSONEq(t, `{"error":"bad"}`, w.Body.String())
}

func TestLoggingMiddleware_RecordsStatus(t *testing.T) {
	s := &Server{}
	var seen int
	inner := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})
	h := s.withLogging(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec := w.(*statusRecorder)
		inner.ServeHTTP(w, r)
		seen = rec.status
	}))

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/x", nil))

	assert.Equal(t, http.StatusTeapot, seen)
	assert.Equal(t, http.StatusTeapot, w.Code)
}

func TestOnShutdown_RegistersHooks(t *testing.T) {
	s := New(Config{Port: 0}, &fakeRuns{}, nil, staticTokens{})
	var calls []string
	s.OnShutdown(func() { calls = append(calls, "first") })
	s.OnShutdown(func() { calls = append(calls, "second") })

	for _, fn := range s.onShutdown {
		fn()
	}
	assert.Equal(t, []string{"first", "second"}, calls)
	assert.Equal(t, fmt.Sprintf(":%d", 0), s.httpServer.Addr)
}

func newAuthedRequest(method, path, body string) *http.Request {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Authorization", "Bearer "+testToken)
	return req
}

func serve(env *testEnv, req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	env.handler.ServeHTTP(w, req)
	return w
}
