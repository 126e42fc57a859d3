package lifecycle

import (
	"errors"
	"fmt"
	"strings"
)

// ErrNotStarted is returned by Shutdown when Run (or Start) was never called.
var ErrNotStarted = errors.New("application was not started")

// ErrAlreadyStarted is returned when Run or Start is called twice.
var ErrAlreadyStarted = errors.New("application already started")

// ConfigError reports an invalid registration. Add returns it for bad names
// and duplicates; Start returns it for an unknown stop-after reference or a
// cycle in the stop-order graph. It is never retried.
type ConfigError struct {
	Component string
	Reason    string
}

// Error implements the error interface.
func (e *ConfigError) Error() string {
	if e.Component == "" {
		return "lifecycle config: " + e.Reason
	}
	return fmt.Sprintf("lifecycle config: component %q: %s", e.Component, e.Reason)
}

// PrepareError reports that a component failed to reach readiness.
type PrepareError struct {
	Component string
	Err       error
}

// Error implements the error interface.
func (e *PrepareError) Error() string {
	return fmt.Sprintf("prepare %s: %v", e.Component, e.Err)
}

// Unwrap returns the underlying error.
func (e *PrepareError) Unwrap() error {
	return e.Err
}

// StartError reports that a prepared component failed to start.
type StartError struct {
	Component string
	Err       error
}

// Error implements the error interface.
func (e *StartError) Error() string {
	return fmt.Sprintf("start %s: %v", e.Component, e.Err)
}

// Unwrap returns the underlying error.
func (e *StartError) Unwrap() error {
	return e.Err
}

// StopError reports that a single component failed during Stop.
type StopError struct {
	Component string
	Err       error
}

// Error implements the error interface.
func (e *StopError) Error() string {
	return fmt.Sprintf("stop %s: %v", e.Component, e.Err)
}

// Unwrap returns the underlying error.
func (e *StopError) Unwrap() error {
	return e.Err
}

// ShutdownError aggregates every failure collected during Shutdown.
// Each element is a *StopError or a *ConfigError; errors.As reaches all of them.
type ShutdownError struct {
	Errs []error
}

// Error implements the error interface.
func (e *ShutdownError) Error() string {
	msgs := make([]string, 0, len(e.Errs))
	for _, err := range e.Errs {
		msgs = append(msgs, err.Error())
	}
	return fmt.Sprintf("shutdown finished with %d error(s): %s", len(e.Errs), strings.Join(msgs, "; "))
}

// Unwrap returns the collected errors.
func (e *ShutdownError) Unwrap() []error {
	return e.Errs
}
