package common

import (
	"encoding/json"
	"net/http"
)

// ErrorBody is the payload under the "error" key of every failed response.
type ErrorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

type errorEnvelope struct {
	Error ErrorBody `json:"error"`
}

// JSON writes v as the response body with the given status.
func JSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// Data wraps v under a "data" key. Extra top-level fields may be supplied as
// key/value pairs; a non-string key or a trailing key without value is dropped.
func Data(w http.ResponseWriter, status int, v any, extra ...any) {
	body := map[string]any{"data": v}
	for i := 0; i+1 < len(extra); i += 2 {
		if k, ok := extra[i].(string); ok && k != "data" {
			body[k] = extra[i+1]
		}
	}
	JSON(w, status, body)
}

// JSONError renders the canonical error shape.
func JSONError(w http.ResponseWriter, status int, code, message string, details any) {
	JSON(w, status, errorEnvelope{Error: ErrorBody{Code: code, Message: message, Details: details}})
}
