package handlers

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/velvetroom/narrative-engine/internal/engine"
)

type ErrorResponse struct {
	Error   string   `json:"error"`
	Reason  string   `json:"reason,omitempty"`
	Missing []string `json:"missing,omitempty"`
}

func writeJSON(w http.ResponseWriter, logger *slog.Logger, status int, body any) {
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		logger.Error("Failed to encode response", "error", err)
	}
}

func writeError(w http.ResponseWriter, logger *slog.Logger, status int, message string) {
	writeJSON(w, logger, status, ErrorResponse{Error: message})
}

// writeEngineError maps the engine's error taxonomy onto HTTP statuses.
func writeEngineError(w http.ResponseWriter, logger *slog.Logger, err error) {
	var engErr *engine.Error
	if !errors.As(err, &engErr) {
		logger.Error("Unexpected engine error", "error", err)
		writeError(w, logger, http.StatusInternalServerError, "Internal server error")
		return
	}

	status := http.StatusInternalServerError
	switch engErr.Reason {
	case engine.ReasonNotFound:
		status = http.StatusNotFound
	case engine.ReasonRequirementsNotMet:
		status = http.StatusUnprocessableEntity
	case engine.ReasonInvalidTransition, engine.ReasonConflictingState:
		status = http.StatusConflict
	case engine.ReasonPersistenceFailure:
		status = http.StatusInternalServerError
	}

	if status == http.StatusInternalServerError {
		logger.Error("Narrative transition failed", "error", err)
	} else {
		logger.Debug("Narrative transition rejected", "reason", engErr.Reason, "error", err)
	}

	writeJSON(w, logger, status, ErrorResponse{
		Error:   engErr.Message,
		Reason:  string(engErr.Reason),
		Missing: engErr.Missing,
	})
}
