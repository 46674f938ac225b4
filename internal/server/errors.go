package server

import (
	"errors"
	"fmt"
	"log"
	"net/http"

	"github.com/jonathan/session-runner/internal/blueprint"
	"github.com/jonathan/session-runner/internal/db"
	"github.com/jonathan/session-runner/internal/lifecycle"
)

// ErrValidation indicates request validation failure
type ErrValidation struct {
	Field   string
	Message string
}

func (e *ErrValidation) Error() string {
	return fmt.Sprintf("validation error: %s - %s", e.Field, e.Message)
}

// HTTPStatus returns the appropriate HTTP status code for an error
func HTTPStatus(err error) int {
	var validationErr *ErrValidation
	if errors.As(err, &validationErr) {
		return http.StatusBadRequest
	}

	switch lifecycle.Code(err) {
	case "NOT_FOUND_SESSION", "NOT_FOUND_RUN":
		return http.StatusNotFound
	case "PLAN_NOT_ACTIVE", "IDEMPOTENCY_KEY_REUSED":
		return http.StatusConflict
	case "INVALID_STEP_INPUT":
		return http.StatusBadRequest
	}

	if errors.Is(err, db.ErrConcurrentRun) {
		return http.StatusConflict
	}
	return http.StatusInternalServerError
}

// errorCode returns the stable code sent alongside the message
func errorCode(err error) string {
	var validationErr *ErrValidation
	if errors.As(err, &validationErr) {
		return "VALIDATION_ERROR"
	}
	if code := lifecycle.Code(err); code != "" {
		return code
	}
	var blueprintErr *blueprint.ValidationError
	if errors.As(err, &blueprintErr) {
		return "INVALID_BLUEPRINT"
	}
	if errors.Is(err, db.ErrConcurrentRun) {
		return "CONCURRENT_RUN"
	}
	return "INTERNAL"
}

// serviceError writes err with its mapped status. Internal errors are logged
// and not echoed to the client.
func (s *Server) serviceError(w http.ResponseWriter, err error) {
	status := HTTPStatus(err)
	message := err.Error()
	if status == http.StatusInternalServerError {
		log.Printf("[server] internal error: %v", err)
		message = "internal error"
	}
	s.jsonResponse(w, status, map[string]string{"error": message, "code": errorCode(err)})
}
