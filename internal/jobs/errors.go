package jobs

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound = errors.New("not found")

	// ErrConfig marks configuration problems. They fail fast and are never retried.
	ErrConfig        = errors.New("configuration error")
	ErrUnknownSource = fmt.Errorf("%w: unknown source", ErrConfig)

	ErrJobDisabled  = errors.New("job disabled")
	ErrDuplicateRun = errors.New("duplicate run id")
)

// ConfigError wraps a message as a non-retryable configuration error.
func ConfigError(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrConfig, fmt.Sprintf(format, args...))
}

// IsRetryable reports whether an attempt failure may be retried.
func IsRetryable(err error) bool {
	return err != nil && !errors.Is(err, ErrConfig)
}
