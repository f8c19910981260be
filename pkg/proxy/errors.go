package proxy

import (
	"errors"
	"fmt"
)

var (
	ErrUpstreamRejected = errors.New("upstream rejected request")
	ErrNotFound         = errors.New("plan not found upstream")
	ErrTimeout          = errors.New("upstream call timed out")
	ErrUnsupportedClass = errors.New("plan class not offered by provider")
	ErrUnsupported      = errors.New("operation not supported by provider")
)

// UpstreamError is a non-success answer from the upstream API. It matches
// ErrUpstreamRejected with errors.Is.
type UpstreamError struct {
	Provider string
	Status   int
	Message  string
}

func (e *UpstreamError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("%s: upstream rejected request with status %d", e.Provider, e.Status)
	}
	return fmt.Sprintf("%s: upstream rejected request with status %d: %s", e.Provider, e.Status, e.Message)
}

func (e *UpstreamError) Is(target error) bool {
	return target == ErrUpstreamRejected
}
