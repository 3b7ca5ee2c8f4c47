// Package httputil holds the JSON response helpers shared by the monitor
// dashboard and the serial bridge debug routes.
package httputil

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/banshee-data/awb/internal/monitoring"
)

// ErrorBody is the JSON shape of every error response.
type ErrorBody struct {
	Error  string `json:"error"`
	Status int    `json:"status"`
}

// JSON writes v as the response body with the given status.
func JSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		monitoring.Logf("encode %d response: %v", status, err)
	}
}

// OK writes v with status 200.
func OK(w http.ResponseWriter, v interface{}) {
	JSON(w, http.StatusOK, v)
}

// RawJSON writes an already encoded body. An empty body is sent as null.
func RawJSON(w http.ResponseWriter, status int, raw json.RawMessage) {
	if len(raw) == 0 {
		raw = json.RawMessage("null")
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if _, err := w.Write(raw); err != nil {
		monitoring.Logf("write %d response: %v", status, err)
	}
}

// Errorf writes an ErrorBody with a formatted message.
func Errorf(w http.ResponseWriter, status int, format string, args ...interface{}) {
	JSON(w, status, ErrorBody{Error: fmt.Sprintf(format, args...), Status: status})
}

// RequireMethod reports whether r uses one of methods. Otherwise it writes
// a 405 carrying an Allow header and returns false.
func RequireMethod(w http.ResponseWriter, r *http.Request, methods ...string) bool {
	for _, m := range methods {
		if r.Method == m {
			return true
		}
	}
	w.Header().Set("Allow", strings.Join(methods, ", "))
	Errorf(w, http.StatusMethodNotAllowed, "method %s not allowed", r.Method)
	return false
}
