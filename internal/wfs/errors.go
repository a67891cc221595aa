package wfs

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrWriteUnconfirmed means the server answered a transaction without a
	// summary that proves the write happened.
	ErrWriteUnconfirmed = errors.New("wfs: write outcome not confirmed")

	// ErrInvalidProperty is returned for property names that are not plain
	// identifiers and would have to be interpolated into a filter.
	ErrInvalidProperty = errors.New("wfs: invalid property name")
)

// NetworkError is a transport failure or a non-2xx HTTP status.
type NetworkError struct {
	Op         string
	URL        string
	StatusCode int // 0 when the request never got a response
	Err        error
}

func (e *NetworkError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("wfs %s: %s: HTTP %d", e.Op, e.URL, e.StatusCode)
	}
	return fmt.Sprintf("wfs %s: %s: %v", e.Op, e.URL, e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

// ServerError carries the messages of an OWS ExceptionReport.
type ServerError struct {
	Op       string
	Messages []string
}

func (e *ServerError) Error() string {
	if len(e.Messages) == 0 {
		return fmt.Sprintf("wfs %s: server exception", e.Op)
	}
	return fmt.Sprintf("wfs %s: %s", e.Op, strings.Join(e.Messages, "; "))
}

// IsNetworkError reports whether err is or wraps a *NetworkError.
func IsNetworkError(err error) bool {
	var ne *NetworkError
	return errors.As(err, &ne)
}
