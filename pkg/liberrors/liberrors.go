// Package liberrors contains errors returned by the library.
package liberrors

import (
	"fmt"
)

// ErrSessionNotInitialized is returned when the session is used before Initialize().
type ErrSessionNotInitialized struct{}

// Error implements the error interface.
func (e ErrSessionNotInitialized) Error() string {
	return "session is not initialized"
}

// ErrSessionAlreadyStarted is returned when Start() is called twice.
type ErrSessionAlreadyStarted struct{}

// Error implements the error interface.
func (e ErrSessionAlreadyStarted) Error() string {
	return "session has already been started"
}

// ErrSessionInvalidPort is returned when a mandatory port is missing or out of range.
type ErrSessionInvalidPort struct {
	Name string
	Port int
}

// Error implements the error interface.
func (e ErrSessionInvalidPort) Error() string {
	return fmt.Sprintf("invalid %s: %d", e.Name, e.Port)
}

// ErrSessionInvalidBandwidth is returned when the session bandwidth is not positive.
type ErrSessionInvalidBandwidth struct {
	Bandwidth float64
}

// Error implements the error interface.
func (e ErrSessionInvalidBandwidth) Error() string {
	return fmt.Sprintf("invalid bandwidth: %v", e.Bandwidth)
}

// ErrHostResolution is returned when a host cannot be resolved.
type ErrHostResolution struct {
	Host string
	Err  error
}

// Error implements the error interface.
func (e ErrHostResolution) Error() string {
	return fmt.Sprintf("unable to resolve host '%s': %v", e.Host, e.Err)
}

// Unwrap returns the underlying error.
func (e ErrHostResolution) Unwrap() error {
	return e.Err
}
