// Package httputil holds the JSON request and response helpers shared by the
// REST API, its middleware and the AI proxy.
package httputil

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"

	apperr "github.com/estrateo/estrateo/internal/errors"
)

// ErrorBody is the JSON error envelope.
type ErrorBody struct {
	Error   string                 `json:"error"`
	Code    string                 `json:"code,omitempty"`
	Details map[string]interface{} `json:"details,omitempty"`
}

// WriteJSON writes data as JSON with the given status.
func WriteJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(data)
}

// WriteError maps err to a status code and error envelope. Errors that are
// not service errors are reported as 500 without leaking their text.
func WriteError(w http.ResponseWriter, err error) {
	svcErr := apperr.GetServiceError(err)
	if svcErr == nil {
		svcErr = apperr.Internal("internal error", err)
	}
	WriteErrorResponse(w, svcErr.HTTPStatus, string(svcErr.Code), svcErr.Message, svcErr.Details)
}

// WriteErrorResponse writes an explicit error envelope.
func WriteErrorResponse(w http.ResponseWriter, status int, code, message string, details map[string]interface{}) {
	WriteJSON(w, status, ErrorBody{Error: message, Code: code, Details: details})
}

// DecodeJSON decodes a single JSON object from body, rejecting unknown
// fields. Decode failures are returned as validation errors.
func DecodeJSON(body io.ReadCloser, dst any) error {
	if body == nil {
		return apperr.Validation("request body is required")
	}
	defer body.Close()

	dec := json.NewDecoder(body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return apperr.Validation("request body is required")
		}
		return apperr.Validation("invalid JSON body: %v", err)
	}
	if dec.More() {
		return apperr.Validation("request body must contain a single JSON object")
	}
	return nil
}

// ClientIP returns the host part of the request's remote address. Proxies
// should run chi's RealIP (or equivalent) in front so RemoteAddr is correct.
func ClientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(strings.TrimSpace(r.RemoteAddr))
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// BearerToken extracts the token from an "Authorization: Bearer" header.
func BearerToken(r *http.Request) (string, error) {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if header == "" {
		return "", fmt.Errorf("missing Authorization header")
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") || strings.TrimSpace(parts[1]) == "" {
		return "", fmt.Errorf("invalid Authorization header format")
	}
	return strings.TrimSpace(parts[1]), nil
}
