package http

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"finlens/internal/core"
)

// JSONResponseBuilder assembles a JSON response. Build it with
// NewJSONResponse and finish with Write.
type JSONResponseBuilder struct {
	statusCode int
	body       any
	headers    map[string]string
}

// NewJSONResponse creates a new response builder with default 200 status.
func NewJSONResponse() *JSONResponseBuilder {
	return &JSONResponseBuilder{
		statusCode: http.StatusOK,
		headers:    make(map[string]string),
	}
}

func (b *JSONResponseBuilder) Status(code int) *JSONResponseBuilder {
	b.statusCode = code
	return b
}

func (b *JSONResponseBuilder) Header(key, value string) *JSONResponseBuilder {
	b.headers[key] = value
	return b
}

func (b *JSONResponseBuilder) Body(v any) *JSONResponseBuilder {
	b.body = v
	return b
}

// Message sets the body to {"message": msg}.
func (b *JSONResponseBuilder) Message(msg string) *JSONResponseBuilder {
	return b.Body(errorBody{Message: msg})
}

// Write sends the response. A nil body with status 204 writes no payload.
func (b *JSONResponseBuilder) Write(w http.ResponseWriter) {
	for k, v := range b.headers {
		w.Header().Set(k, v)
	}
	if b.statusCode == http.StatusNoContent {
		w.WriteHeader(b.statusCode)
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(b.statusCode)
	if err := json.NewEncoder(w).Encode(b.body); err != nil {
		slog.Warn("Failed to encode response", "error", err)
	}
}

type errorBody struct {
	Message string `json:"message"`
}

// clientErrors are reported back to the caller verbatim.
var clientErrors = []error{
	core.ErrInvalidDay,
	core.ErrInvalidMonth,
	core.ErrInvalidYear,
	core.ErrInvalidAmount,
	core.ErrInvalidType,
	core.ErrInvalidRange,
	core.ErrMissingUser,
	core.ErrEmptyPattern,
	core.ErrInvalidPattern,
	core.ErrEmptyCategory,
	errBadRequest,
}

// statusFor maps an error to the HTTP status the caller sees.
func statusFor(err error) int {
	if errors.Is(err, core.ErrNotFound) {
		return http.StatusNotFound
	}
	for _, target := range clientErrors {
		if errors.Is(err, target) {
			return http.StatusBadRequest
		}
	}
	return http.StatusInternalServerError
}

// ErrorResponse builds the response for err. Client errors carry their own
// text; everything else gets the generic fallback message.
func ErrorResponse(err error, fallback string) *JSONResponseBuilder {
	status := statusFor(err)
	msg := fallback
	switch status {
	case http.StatusBadRequest:
		msg = err.Error()
	case http.StatusNotFound:
		msg = "Not found"
	}
	return NewJSONResponse().Status(status).Message(msg)
}
