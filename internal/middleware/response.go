// internal/middleware/response.go
package middleware

import (
	"encoding/json"
	"net/http"

	"feedline/internal/api"
	"feedline/internal/utils"
)

// WriteJSON writes v with the given status.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// WriteError maps err onto the error envelope and its HTTP status. Non-app
// errors are reported as INTERNAL without their text.
func WriteError(w http.ResponseWriter, err error) {
	appErr := utils.AsAppError(err)
	WriteJSON(w, utils.AppErrorToHTTPStatus(appErr.Code), api.CallResponse{
		Error: &api.CallError{Status: appErr.Code, Message: appErr.Message},
	})
}
