package orderapi

import (
	"errors"
	"fmt"
)

// ErrTransport marks failures where no usable answer came back from the API
// (connection refused, timeout, unreadable body).
var ErrTransport = errors.New("order api unreachable")

// APIError is a request the API answered and rejected.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("order api rejected request (status %d)", e.StatusCode)
	}
	return fmt.Sprintf("order api rejected request (status %d): %s", e.StatusCode, e.Message)
}

// AsAPIError unwraps err into an *APIError when the API rejected the call.
func AsAPIError(err error) (*APIError, bool) {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr, true
	}
	return nil, false
}
