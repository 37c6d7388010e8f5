// Package httputil holds the JSON response helpers shared by the results
// handlers.
package httputil

import (
	"encoding/json"
	"net/http"

	"github.com/weisiCeltics/teacp/internal/monitoring"
)

var logf = monitoring.Component("http")

// WriteJSON writes data as a JSON body with the given status.
func WriteJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		logf("failed to encode json response: %v", err)
	}
}

// WriteError writes {"error": msg} with the given status.
func WriteError(w http.ResponseWriter, status int, msg string) {
	WriteJSON(w, status, map[string]string{"error": msg})
}

// MethodNotAllowed rejects a request whose method is not allowed.
func MethodNotAllowed(w http.ResponseWriter) {
	WriteError(w, http.StatusMethodNotAllowed, "method not allowed")
}

// NotFound writes a 404 naming what was missing.
func NotFound(w http.ResponseWriter, what string) {
	WriteError(w, http.StatusNotFound, what+" not found")
}

// InternalError writes a 500 carrying err's text.
func InternalError(w http.ResponseWriter, err error) {
	WriteError(w, http.StatusInternalServerError, err.Error())
}
