package httputil

import (
	"encoding/json"
	"errors"
	"net/http"

	dErrors "privileges/pkg/domain-errors"
)

// ErrorResponse is the JSON error envelope shared by every handler.
type ErrorResponse struct {
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description,omitempty"`
}

// WriteJSON encodes v with the given status.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// WriteError translates a domain error into a status and JSON envelope.
// Internal errors never echo their message back to the client.
func WriteError(w http.ResponseWriter, err error) {
	code := dErrors.CodeOf(err)
	resp := ErrorResponse{Error: string(code)}
	if code != dErrors.CodeInternal && code != dErrors.CodePartialApplication {
		resp.ErrorDescription = clientMessage(err)
	}
	WriteJSON(w, dErrors.ToHTTPStatus(code), resp)
}

func clientMessage(err error) string {
	var de *dErrors.Error
	if errors.As(err, &de) {
		return de.Message
	}
	return err.Error()
}
