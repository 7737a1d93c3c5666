package authapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
)

var (
	// ErrInvalidCredentials is returned when the server refuses a login.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrEmailNotVerified is returned when the account's email is unverified.
	ErrEmailNotVerified = errors.New("email not verified")
	// ErrMalformedResponse is returned when a success response lacks
	// required fields or is not JSON.
	ErrMalformedResponse = errors.New("malformed auth response")
	// ErrTransient marks network failures and 5xx responses.
	ErrTransient = errors.New("transient auth api failure")
	// ErrCSRF is returned when no CSRF token could be obtained.
	ErrCSRF = errors.New("csrf token unavailable")
)

// APIError describes a non-2xx response.
type APIError struct {
	Op     string
	Status int
	// Message is the most specific server message found in the body.
	Message string
	Err     error
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("authapi %s: status %d: %v", e.Op, e.Status, e.Err)
	}
	return fmt.Sprintf("authapi %s: status %d: %s: %v", e.Op, e.Status, e.Message, e.Err)
}

func (e *APIError) Unwrap() error {
	return e.Err
}

// errorMessage picks the user-facing message from a DRF style error body:
// email, detail, non_field_errors, password, then the first field.
func errorMessage(body []byte) string {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(body, &fields); err != nil || len(fields) == 0 {
		return ""
	}
	for _, key := range []string{"email", "detail", "non_field_errors", "password"} {
		if raw, ok := fields[key]; ok {
			if msg := firstString(raw); msg != "" {
				return msg
			}
		}
	}
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return firstString(fields[keys[0]])
}

func firstString(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return strings.TrimSpace(s)
	}
	var list []string
	if err := json.Unmarshal(raw, &list); err == nil && len(list) > 0 {
		return strings.TrimSpace(list[0])
	}
	return ""
}
