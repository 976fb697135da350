// Package httpjson writes the JSON bodies shared by the handler and auth layers.
package httpjson

import (
	"encoding/json"
	"net/http"

	"github.com/escrowdesk/platform/internal/domain"
)

// Write sends data as JSON with the given status; nil data sends no body.
// Encode failures happen after the status line is out and are dropped.
func Write(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		_ = json.NewEncoder(w).Encode(data)
	}
}

// WriteError sends the {"code","message"} body of err.
func WriteError(w http.ResponseWriter, err *domain.AppError) {
	Write(w, err.Status, map[string]string{"code": err.Code, "message": err.Message})
}
