package liberrors

import (
	"fmt"
)

// ErrECPAuthFailed is returned when the device rejects the authentication response.
type ErrECPAuthFailed struct{}

// Error implements the error interface.
func (e ErrECPAuthFailed) Error() string {
	return "authentication failed"
}

// ErrECPStatus is returned when the device answers a request with an error status.
type ErrECPStatus struct {
	Response string
	Status   string
	Message  string
}

// Error implements the error interface.
func (e ErrECPStatus) Error() string {
	return fmt.Sprintf("request '%s' failed: %s (%s)", e.Response, e.Status, e.Message)
}

// ErrECPTerminated is returned when the control channel is closed before the audio output is set.
type ErrECPTerminated struct{}

// Error implements the error interface.
func (e ErrECPTerminated) Error() string {
	return "control channel terminated"
}

// ErrDiscoveryNoLocation is returned when a discovery response has no Location header.
type ErrDiscoveryNoLocation struct{}

// Error implements the error interface.
func (e ErrDiscoveryNoLocation) Error() string {
	return "discovery response does not contain a location"
}
