package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/medremind/apiserver/internal/services"
	"github.com/medremind/apiserver/internal/store"
)

type contextKey string

const contextSubjectKey contextKey = "sub"

// ErrorResponse is the single-message error payload.
type ErrorResponse struct {
	Detail string `json:"detail"`
}

func userIDFromContext(ctx context.Context) (int, error) {
	value := ctx.Value(contextSubjectKey)
	switch subject := value.(type) {
	case int:
		if subject < 1 {
			return 0, errors.New("invalid subject")
		}
		return subject, nil
	case string:
		parsed, err := strconv.Atoi(strings.TrimSpace(subject))
		if err != nil || parsed < 1 {
			return 0, errors.New("invalid subject")
		}
		return parsed, nil
	default:
		return 0, errors.New("missing subject")
	}
}

// callerFromContext resolves the authenticated caller, nil when the request
// was anonymous.
func callerFromContext(ctx context.Context) *int {
	id, err := userIDFromContext(ctx)
	if err != nil {
		return nil
	}
	return &id
}

func writeJSON(w http.ResponseWriter, status int, value any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(value)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, ErrorResponse{Detail: message})
}

// writeServiceError maps the service error taxonomy onto HTTP responses:
// field-keyed validation maps and single-detail messages are 400, credential
// misses 401, lookup misses 404.
func writeServiceError(w http.ResponseWriter, err error) {
	var fieldErrs services.FieldErrors
	var validationErr *services.ValidationError
	switch {
	case errors.As(err, &fieldErrs):
		writeJSON(w, http.StatusBadRequest, fieldErrs)
	case errors.As(err, &validationErr):
		writeError(w, http.StatusBadRequest, validationErr.Detail)
	case errors.Is(err, services.ErrInvalidCredentials):
		writeError(w, http.StatusUnauthorized, err.Error())
	case errors.Is(err, services.ErrAmbiguousEmail):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, "Not found.")
	default:
		writeError(w, http.StatusInternalServerError, "Internal server error.")
	}
}
