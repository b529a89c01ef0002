package services

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrInvalidCredential is returned when the API key is missing, failed
	// validation or is still being validated.
	ErrInvalidCredential = errors.New("api key is missing or invalid")
	// ErrCancelled marks a phase stopped by Cancel. It is joined with the
	// underlying context error.
	ErrCancelled = errors.New("research cancelled")
	// ErrRunInProgress is returned when a phase or reset is requested while
	// another one owns the session.
	ErrRunInProgress = errors.New("a research phase is already running")
	// ErrPhaseNotReady is returned when a phase is invoked before its inputs
	// exist, or a user edit targets a field that can no longer change.
	ErrPhaseNotReady = errors.New("research phase is not ready")

	ErrQuestionNotFound = errors.New("question not found")
	ErrFileNotFound     = errors.New("file not found")
)

// ConfigError reports an invalid research setting. It is raised before any
// provider call and before the session is touched.
type ConfigError struct {
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("invalid setting %s: %s", e.Field, e.Reason)
}

func notReady(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrPhaseNotReady, fmt.Sprintf(format, args...))
}

// isCancellation reports whether err came from the run context being
// cancelled rather than from a provider failure.
func isCancellation(ctx context.Context, err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrCancelled) || errors.Is(err, context.Canceled) {
		return true
	}
	// Provider errors raised after cancellation rarely wrap the context error.
	return ctx.Err() != nil
}
