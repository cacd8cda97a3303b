package common

import (
	"encoding/json"
	"errors"
	"net/http"
)

// ErrorBody is the error envelope every endpoint answers with.
type ErrorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

func JSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func JSONError(w http.ResponseWriter, status int, code, message string, details any) {
	JSON(w, status, map[string]ErrorBody{"error": {Code: code, Message: message, Details: details}})
}

// WriteError renders err. Errors that are not AppErrors are reported as a
// generic 500 so internal causes never reach the client.
func WriteError(w http.ResponseWriter, err error) {
	var appErr *AppError
	if err == nil || !errors.As(err, &appErr) {
		JSONError(w, http.StatusInternalServerError, "INTERNAL", "internal error", nil)
		return
	}
	code := appErr.Code
	if code == "" {
		code = "BAD_REQUEST"
	}
	JSONError(w, StatusOf(err), code, appErr.Message, appErr.Details)
}
