package httpx

import (
	"encoding/json"
	"net/http"
)

// envelope is the success payload shape shared by every endpoint.
type envelope struct {
	Success bool   `json:"success"`
	Status  int    `json:"status"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

// WriteData writes the standard success envelope with the given payload.
func WriteData(w http.ResponseWriter, status int, message string, data any) {
	if status == 0 {
		status = http.StatusOK
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(envelope{
		Success: true,
		Status:  status,
		Message: sanitize(message, 512),
		Data:    data,
	})
}

// WriteNoContent answers 204 without a body.
func WriteNoContent(w http.ResponseWriter) {
	w.WriteHeader(http.StatusNoContent)
}
