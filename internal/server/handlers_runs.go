package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/google/uuid"
	"github.com/jonathan/session-runner/internal/db"
	"github.com/jonathan/session-runner/internal/lifecycle"
	"github.com/jonathan/session-runner/internal/runstate"
	"github.com/jonathan/session-runner/internal/server/middleware"
	"github.com/jonathan/session-runner/internal/types"
)

// ---------------------------------------------------------------------
// Run Handlers
// ---------------------------------------------------------------------

// decodeOptionalBody decodes a JSON body into v, accepting an empty body.
func decodeOptionalBody(r *http.Request, v any) error {
	err := json.NewDecoder(r.Body).Decode(v)
	if errors.Is(err, io.EOF) {
		return nil
	}
	return err
}

// pathUUID parses a path parameter as a UUID
func pathUUID(r *http.Request, name string) (uuid.UUID, error) {
	id, err := uuid.Parse(r.PathValue(name))
	if err != nil {
		return uuid.Nil, &ErrValidation{Field: name, Message: "must be a UUID"}
	}
	return id, nil
}

// requestIDs returns the authenticated user and a UUID path parameter,
// writing the error response itself when either is missing.
func (s *Server) requestIDs(w http.ResponseWriter, r *http.Request, param string) (uuid.UUID, uuid.UUID, bool) {
	userID, err := middleware.GetUserID(r)
	if err != nil {
		s.errorResponse(w, http.StatusUnauthorized, "Unauthorized")
		return uuid.Nil, uuid.Nil, false
	}
	id, err := pathUUID(r, param)
	if err != nil {
		s.serviceError(w, err)
		return uuid.Nil, uuid.Nil, false
	}
	return userID, id, true
}

func (s *Server) handleCreateOrResumeRun(w http.ResponseWriter, r *http.Request) {
	userID, sessionID, ok := s.requestIDs(w, r, "session_id")
	if !ok {
		return
	}

	var req types.CreateRunRequest
	if err := decodeOptionalBody(r, &req); err != nil {
		s.errorResponse(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.IdempotencyKey == "" {
		req.IdempotencyKey = r.Header.Get("Idempotency-Key")
	}
	if err := req.Validate(); err != nil {
		s.serviceError(w, &ErrValidation{Field: "idempotency_key", Message: err.Error()})
		return
	}

	result, err := s.runs.CreateOrResume(r.Context(), userID, sessionID, req.IdempotencyKey)
	if err != nil {
		s.serviceError(w, err)
		return
	}

	status := http.StatusCreated
	if result.IsRecovery {
		status = http.StatusOK
	}
	s.jsonResponse(w, status, map[string]any{
		"run_id":      result.Run.ID,
		"is_recovery": result.IsRecovery,
		"run":         runFromRecord(result.Run),
	})
}

func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	userID, runID, ok := s.requestIDs(w, r, "run_id")
	if !ok {
		return
	}

	snap, err := s.runs.GetRun(r.Context(), userID, runID)
	if err != nil {
		s.serviceError(w, err)
		return
	}
	s.jsonResponse(w, http.StatusOK, runFromSnapshot(snap))
}

func (s *Server) handleSaveProgress(w http.ResponseWriter, r *http.Request) {
	userID, runID, ok := s.requestIDs(w, r, "run_id")
	if !ok {
		return
	}

	var req types.SaveProgressRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.errorResponse(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if err := req.Validate(); err != nil {
		s.serviceError(w, &ErrValidation{Field: "body", Message: err.Error()})
		return
	}

	result, err := s.runs.SaveProgressJSON(r.Context(), userID, runID, req.StepHistory, *req.HistoryIndex, req.Inputs)
	if err != nil {
		s.serviceError(w, err)
		return
	}
	s.jsonResponse(w, http.StatusOK, types.SaveProgressResponse{SavedAt: result.SavedAt, Applied: result.Applied})
}

func (s *Server) handleRunAction(w http.ResponseWriter, r *http.Request) {
	userID, runID, ok := s.requestIDs(w, r, "run_id")
	if !ok {
		return
	}

	var req types.RunActionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.errorResponse(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if err := req.Validate(); err != nil {
		s.serviceError(w, &ErrValidation{Field: "body", Message: err.Error()})
		return
	}

	var action runstate.Action = runstate.GoNext{}
	if req.Type != "GO_NEXT" {
		decoded, err := runstate.DecodeAction(req.Payload())
		if err != nil {
			s.serviceError(w, &ErrValidation{Field: "type", Message: err.Error()})
			return
		}
		action = decoded
	}

	result, err := s.runs.Dispatch(r.Context(), userID, runID, action)
	if err != nil {
		s.serviceError(w, err)
		return
	}

	snap, err := s.runs.GetRun(r.Context(), userID, runID)
	if err != nil {
		s.serviceError(w, err)
		return
	}
	s.jsonResponse(w, http.StatusOK, types.RunActionResponse{
		Moved:     result.Moved,
		Reason:    result.Reason,
		Completed: result.Completed,
		Run:       runFromSnapshot(snap),
	})
}

func (s *Server) handleCompleteRun(w http.ResponseWriter, r *http.Request) {
	userID, runID, ok := s.requestIDs(w, r, "run_id")
	if !ok {
		return
	}

	run, err := s.runs.Complete(r.Context(), userID, runID)
	if err != nil {
		s.serviceError(w, err)
		return
	}
	s.jsonResponse(w, http.StatusOK, runFromRecord(run))
}

func (s *Server) handleAbandonRun(w http.ResponseWriter, r *http.Request) {
	userID, runID, ok := s.requestIDs(w, r, "run_id")
	if !ok {
		return
	}

	var req types.AbandonRunRequest
	if err := decodeOptionalBody(r, &req); err != nil {
		s.errorResponse(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if err := req.Validate(); err != nil {
		s.serviceError(w, &ErrValidation{Field: "reason", Message: err.Error()})
		return
	}

	run, err := s.runs.Abandon(r.Context(), userID, runID, req.Reason)
	if err != nil {
		s.serviceError(w, err)
		return
	}
	s.jsonResponse(w, http.StatusOK, runFromRecord(run))
}

// runFromRecord converts a stored run into its API shape
func runFromRecord(run *db.SessionRun) *types.Run {
	out := &types.Run{
		ID:            run.ID,
		SessionID:     run.SessionID,
		BlueprintID:   run.BlueprintID,
		Status:        string(run.Status),
		IsRecovery:    run.IsRecovery,
		CurrentStepID: run.CurrentStepID,
		StepHistory:   run.StepHistory,
		HistoryIndex:  run.HistoryIndex,
		Inputs:        run.Inputs,
		CanGoBack:     run.State().CanGoBack(),
		CreatedAt:     run.CreatedAt,
		UpdatedAt:     run.UpdatedAt,
		CompletedAt:   run.CompletedAt,
	}
	if run.Abandoned() {
		out.Status = types.StatusAbandoned
		out.ExitReason = *run.ExitReason
	}
	return out
}

// runFromSnapshot adds the resolver-derived fields to runFromRecord
func runFromSnapshot(snap *lifecycle.Snapshot) *types.Run {
	out := runFromRecord(snap.Run)
	progress := snap.Progress
	out.PredictedPath = snap.PredictedPath
	out.Progress = &progress
	out.CanGoBack = snap.CanGoBack
	out.CanAdvance = snap.CanAdvance
	if snap.Blueprint != nil {
		out.CurrentStep, _, _ = snap.Blueprint.Step(snap.Run.CurrentStepID)
	}
	return out
}
