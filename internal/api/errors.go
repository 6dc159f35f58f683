package api

import (
	"encoding/json"
	"net/http"
)

// ErrorResponse is the body of every non-2xx reply.
type ErrorResponse struct {
	Status  int    `json:"status"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Machine-readable error codes, one per status the API returns.
const (
	CodeBadRequest  = "bad_request"
	CodeNotFound    = "not_found"
	CodeInternal    = "internal_error"
	CodeUnavailable = "unavailable"
)

var statusCodes = map[int]string{
	http.StatusBadRequest:          CodeBadRequest,
	http.StatusNotFound:            CodeNotFound,
	http.StatusInternalServerError: CodeInternal,
	http.StatusServiceUnavailable:  CodeUnavailable,
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if body == nil {
		return
	}
	// The client may already be gone; nothing useful to do with the error.
	_ = json.NewEncoder(w).Encode(body)
}

// writeError replies with an ErrorResponse whose code is derived from status.
func writeError(w http.ResponseWriter, status int, message string) {
	code, ok := statusCodes[status]
	if !ok {
		code = CodeInternal
	}
	writeJSON(w, status, ErrorResponse{Status: status, Code: code, Message: message})
}
