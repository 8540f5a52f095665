// Package httputil holds the HTTP plumbing shared by the API: response
// envelopes, error mapping, API key auth, CORS, access logging and metrics.
package httputil

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-playground/validator/v10"
)

// errorBody is the {"error": {...}} envelope. Details is omitted unless set.
type errorBody struct {
	Message string      `json:"message"`
	Details interface{} `json:"details,omitempty"`
}

// FieldError describes one rejected request field.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// JSON writes data as-is, without an envelope. A nil data writes only the status.
func JSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}

// Text writes a plain text body, used by the probe endpoints.
func Text(w http.ResponseWriter, status int, text string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(status)
	if _, err := w.Write([]byte(text)); err != nil {
		slog.Error("failed to write response", "error", err)
	}
}

// Success wraps data as {"data": ...}.
func Success(w http.ResponseWriter, status int, data interface{}) {
	JSON(w, status, map[string]interface{}{"data": data})
}

// Error writes {"error": {"message": ...}}.
func Error(w http.ResponseWriter, status int, message string) {
	JSON(w, status, map[string]errorBody{"error": {Message: message}})
}

// ValidationError writes a 400 for a request body that failed struct
// validation. validator.ValidationErrors become one FieldError per field,
// anything else is reported as its message.
func ValidationError(w http.ResponseWriter, err error) {
	var details interface{} = err.Error()

	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) {
		fields := make([]FieldError, 0, len(verrs))
		for _, fe := range verrs {
			fields = append(fields, FieldError{Field: fe.Field(), Message: fe.Tag()})
		}
		details = fields
	}

	JSON(w, http.StatusBadRequest, map[string]errorBody{
		"error": {Message: "validation error", Details: details},
	})
}
