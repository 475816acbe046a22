package httpapi

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/m-mizutani/goerr/v2"

	"github.com/ent0n29/solace/internal/dialogue"
	"github.com/ent0n29/solace/internal/logging"
	"github.com/ent0n29/solace/internal/session"
)

const unavailableMessage = "Something went wrong. Please try again."

// apiError is the client-facing shape of a failed request.
type apiError struct {
	status    int
	code      string
	message   string
	retryable bool
}

// classifyError maps pipeline and session errors to a status and stable code.
// Internal detail never reaches the message.
func classifyError(err error) apiError {
	switch {
	case errors.Is(err, dialogue.ErrInvalidInput):
		return apiError{http.StatusBadRequest, "invalid_request", "Please provide 'user_message' in JSON.", false}
	case errors.Is(err, session.ErrNotFound):
		return apiError{http.StatusNotFound, "session_not_found", "session not found", false}
	case errors.Is(err, session.ErrEnded):
		return apiError{http.StatusConflict, "session_ended", "session has ended", false}
	case errors.Is(err, session.ErrExists):
		return apiError{http.StatusConflict, "session_exists", "session already exists", false}
	case errors.Is(err, dialogue.ErrGenerationFailed),
		errors.Is(err, context.DeadlineExceeded),
		errors.Is(err, context.Canceled):
		return apiError{http.StatusServiceUnavailable, "temporarily_unavailable", unavailableMessage, true}
	default:
		return apiError{http.StatusInternalServerError, "internal_error", unavailableMessage, false}
	}
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	e := classifyError(err)
	logError(r.Context(), err, e.status)
	respondError(w, e.status, e.code, e.message)
}

// logError records err with any goerr values and stacks. Client errors are
// logged at warn, server errors at error.
func logError(ctx context.Context, err error, status int) {
	level := slog.LevelWarn
	if status >= http.StatusInternalServerError {
		level = slog.LevelError
	}
	attrs := []any{"status", status, "error", err.Error()}
	var ge *goerr.Error
	if errors.As(err, &ge) {
		attrs = append(attrs, "values", ge.Values())
		if level == slog.LevelError {
			attrs = append(attrs, "stack", ge.Stacks())
		}
	}
	logging.From(ctx).Log(ctx, level, "request failed", attrs...)
}
