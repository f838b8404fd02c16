package commerceapi

import (
	"errors"
	"fmt"
	"net/http"
)

// APIError is a non-2xx answer from the commerce backend. Client errors
// (4xx) are business rejections, not transport failures.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("commerce backend: %s (%s, http %d)", e.Message, e.Code, e.StatusCode)
	}
	return fmt.Sprintf("commerce backend: %s (http %d)", e.Message, e.StatusCode)
}

// IsNotFound reports whether err is the backend saying the entity does not
// exist.
func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound
}

// IsRejection reports whether err is an explicit business rejection rather
// than a transient failure; rejections must not be retried automatically.
func IsRejection(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode >= 400 && apiErr.StatusCode < 500
}
