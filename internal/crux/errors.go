package crux

import (
	"encoding/json"
	"fmt"
	"net/http"
)

// APIError is a non-2xx reply from the CrUX API.
type APIError struct {
	StatusCode int
	Status     string // google.rpc status, e.g. NOT_FOUND
	Message    string
	Body       json.RawMessage // upstream body when it was valid JSON
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("CrUX API %d: %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("CrUX API %d: %s", e.StatusCode, http.StatusText(e.StatusCode))
}

// NotFound reports whether the API has no data for the origin, which is the
// common case for small sites rather than a real failure.
func (e *APIError) NotFound() bool {
	return e.StatusCode == http.StatusNotFound
}

func newAPIError(code int, body []byte) *APIError {
	apiErr := &APIError{StatusCode: code}

	var payload struct {
		Error struct {
			Message string `json:"message"`
			Status  string `json:"status"`
		} `json:"error"`
	}
	if json.Valid(body) {
		apiErr.Body = json.RawMessage(body)
		if json.Unmarshal(body, &payload) == nil {
			apiErr.Message = payload.Error.Message
			apiErr.Status = payload.Error.Status
		}
	}
	return apiErr
}
