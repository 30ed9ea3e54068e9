package otelz

import "errors"

var (
	// ErrInvalidConfig is returned when a component is constructed with
	// inconsistent parameters. Values are never silently clamped.
	ErrInvalidConfig = errors.New("otelz: invalid configuration")

	// ErrScopeDetached is returned when a scope is detached more than once.
	ErrScopeDetached = errors.New("otelz: scope already detached")

	// ErrScopeMismatch is returned when a scope is detached while a more
	// recently attached scope of the same storage is still active.
	ErrScopeMismatch = errors.New("otelz: scope detached out of order")

	// ErrProcessorShutdown is returned by operations on a processor that
	// has been shut down.
	ErrProcessorShutdown = errors.New("otelz: processor is shut down")

	// ErrExporterShutdown is returned by an exporter after Shutdown.
	ErrExporterShutdown = errors.New("otelz: exporter is shut down")
)

// retryableError marks an export failure as transient.
type retryableError struct {
	err error
}

func (e *retryableError) Error() string { return e.err.Error() }

func (e *retryableError) Unwrap() error { return e.err }

// Retryable wraps err so that RetryingExporter will retry it.
// Network failures and transient backend errors should be wrapped;
// client errors should not.
func Retryable(err error) error {
	if err == nil {
		return nil
	}
	return &retryableError{err: err}
}

// IsRetryable reports whether err was marked with Retryable.
func IsRetryable(err error) bool {
	var r *retryableError
	return errors.As(err, &r)
}
