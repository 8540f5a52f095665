package httputil

import (
	"context"
	"errors"
	"net/http"

	"github.com/bissquit/notify-dispatch/internal/pkg/ctxlog"
)

// ErrorMapping maps a sentinel error to a status code. An empty Message
// exposes err.Error(), which keeps the wrapped context in the response.
type ErrorMapping struct {
	Error   error
	Status  int
	Message string
}

// HandleError writes the first mapping err matches. Unmapped errors are
// logged with the request logger and surface as a bare 500.
func HandleError(ctx context.Context, w http.ResponseWriter, err error, mappings []ErrorMapping) {
	if m, ok := matchError(err, mappings); ok {
		msg := m.Message
		if msg == "" {
			msg = err.Error()
		}
		ctxlog.FromContext(ctx).Debug("request rejected", "status", m.Status, "error", err)
		Error(w, m.Status, msg)
		return
	}

	ctxlog.FromContext(ctx).Error("internal error", "error", err)
	Error(w, http.StatusInternalServerError, "internal error")
}

func matchError(err error, mappings []ErrorMapping) (ErrorMapping, bool) {
	for _, m := range mappings {
		if errors.Is(err, m.Error) {
			return m, true
		}
	}
	return ErrorMapping{}, false
}
