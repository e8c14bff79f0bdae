// Package httputil provides the JSON request and response plumbing shared by
// the HTTP handlers and middleware.
package httputil

import (
	"encoding/json"
	"fmt"
	"net/http"

	apperrors "github.com/appforge-labs/appforge/internal/errors"
)

// maxBodyBytes caps request bodies. Module schemas, chat messages and dynamic
// rows all fit comfortably below this.
const maxBodyBytes = 1 << 20

// ErrorResponse is the JSON shape of every error the API returns. Error holds
// the human-readable message; Code stays stable for programmatic callers.
type ErrorResponse struct {
	Error   string                 `json:"error"`
	Code    string                 `json:"code,omitempty"`
	Details map[string]interface{} `json:"details,omitempty"`
}

// WriteJSON writes data as a JSON response with the given status.
func WriteJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		_ = json.NewEncoder(w).Encode(data)
	}
}

// WriteError writes err as a JSON error response with the given status.
func WriteError(w http.ResponseWriter, status int, err error) {
	WriteJSON(w, status, ErrorResponse{Error: err.Error()})
}

// WriteServiceError normalizes err into a ServiceError and writes it with its
// own HTTP status. Errors outside the service taxonomy become opaque internal
// errors so their text never reaches clients.
func WriteServiceError(w http.ResponseWriter, err error) {
	svcErr := apperrors.GetServiceError(err)
	if svcErr == nil {
		svcErr = apperrors.Internal("", err)
	}
	WriteJSON(w, svcErr.HTTPStatus, ErrorResponse{
		Error:   svcErr.Message,
		Code:    string(svcErr.Code),
		Details: svcErr.Details,
	})
}

// DecodeJSON reads the request body into dst, rejecting unknown fields and
// bodies over 1 MiB.
func DecodeJSON(w http.ResponseWriter, r *http.Request, dst interface{}) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	defer r.Body.Close()

	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return fmt.Errorf("invalid JSON body: %w", err)
	}
	return nil
}
