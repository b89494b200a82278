package cache

import (
	"fmt"

	perrors "github.com/jmgilman/go/errors"
)

var (
	// ErrInvalidPattern is returned for malformed invalidation patterns, keys or tags.
	ErrInvalidPattern = perrors.New(perrors.CodeInvalidInput, "invalid cache pattern")

	// ErrBackendUnavailable is returned when a cache tier cannot be reached or fails.
	// Invalidation and clear callers must treat it as "stale data may survive".
	ErrBackendUnavailable = perrors.New(perrors.CodeUnavailable, "cache backend unavailable")

	// ErrClosed is returned by a store after Close.
	ErrClosed = perrors.New(perrors.CodeUnavailable, "cache store is closed")
)

// codedError keeps the sentinel in the chain for errors.Is while carrying a specific message.
type codedError struct {
	sentinel perrors.PlatformError
	msg      string
	cause    error
}

func (e *codedError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.sentinel.Message(), e.msg, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.sentinel.Message(), e.msg)
}

func (e *codedError) Unwrap() []error {
	if e.cause != nil {
		return []error{e.sentinel, e.cause}
	}
	return []error{e.sentinel}
}

func invalidPatternf(format string, args ...any) error {
	return &codedError{sentinel: ErrInvalidPattern, msg: fmt.Sprintf(format, args...)}
}

func unavailable(tier string, cause error) error {
	return &codedError{sentinel: ErrBackendUnavailable, msg: tier, cause: cause}
}
