package account

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

var (
	ErrServerUnreachable = errors.New("server unreachable")
	ErrNotAuthenticated  = errors.New("no auth token set")
)

// APIError is a non-2xx answer from the backend.
type APIError struct {
	Status     int
	StatusText string
	Detail     string
}

func (e *APIError) Error() string {
	if e.Detail != "" {
		return e.Detail
	}
	return fmt.Sprintf("HTTP %d: %s", e.Status, e.StatusText)
}

// newAPIError reads the backend's {"detail": ...} body when there is one.
func newAPIError(status int, body []byte) *APIError {
	apiErr := &APIError{Status: status, StatusText: http.StatusText(status)}

	var payload struct {
		Detail json.RawMessage `json:"detail"`
	}
	if err := json.Unmarshal(body, &payload); err != nil || len(payload.Detail) == 0 {
		return apiErr
	}

	var text string
	if err := json.Unmarshal(payload.Detail, &text); err == nil {
		apiErr.Detail = text
		return apiErr
	}

	// Validation failures carry a list of {loc, msg, type}.
	var items []struct {
		Msg string `json:"msg"`
	}
	if err := json.Unmarshal(payload.Detail, &items); err == nil {
		msgs := make([]string, 0, len(items))
		for _, item := range items {
			if item.Msg != "" {
				msgs = append(msgs, item.Msg)
			}
		}
		apiErr.Detail = strings.Join(msgs, "; ")
	}
	return apiErr
}

// IsStatus reports whether err is an APIError with the given status code.
func IsStatus(err error, status int) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Status == status
}
