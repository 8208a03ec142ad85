package directory

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrUnreachable is returned for any transport-level failure (connection
// refused, DNS, timeout). The underlying detail is logged server-side only.
var ErrUnreachable = errors.New("identity directory unreachable")

// InvalidRealmNameError reports a realm name that failed validation. No
// network call is made for an invalid realm.
type InvalidRealmNameError struct {
	Realm string
}

func (e *InvalidRealmNameError) Error() string {
	return fmt.Sprintf("invalid realm name %q", e.Realm)
}

// DirectoryError is the sanitized error for any non-2xx directory response.
// It carries only an HTTP-status-derived code and a generic message; the raw
// response body and endpoint detail are logged server-side, never returned.
type DirectoryError struct {
	StatusCode int
	Code       string
}

func (e *DirectoryError) Error() string {
	return fmt.Sprintf("identity directory request failed: %s", e.Code)
}

// IsNotFound reports whether err is a directory 404.
func IsNotFound(err error) bool {
	var de *DirectoryError
	return errors.As(err, &de) && de.StatusCode == http.StatusNotFound
}

// IsConflict reports whether err is a directory 409.
func IsConflict(err error) bool {
	var de *DirectoryError
	return errors.As(err, &de) && de.StatusCode == http.StatusConflict
}

func isAuthExpired(err error) bool {
	var de *DirectoryError
	return errors.As(err, &de) && de.StatusCode == http.StatusUnauthorized
}

func codeForStatus(status int) string {
	switch {
	case status == http.StatusBadRequest:
		return "invalid_request"
	case status == http.StatusUnauthorized:
		return "unauthorized"
	case status == http.StatusForbidden:
		return "forbidden"
	case status == http.StatusNotFound:
		return "not_found"
	case status == http.StatusConflict:
		return "conflict"
	case status >= 500:
		return "directory_unavailable"
	default:
		return "directory_error"
	}
}

func newDirectoryError(status int) *DirectoryError {
	return &DirectoryError{StatusCode: status, Code: codeForStatus(status)}
}
