package inference

import "fmt"

// timeoutError signals that the remote call exceeded its deadline.
type timeoutError struct{ elapsed string }

func (e timeoutError) Error() string { return "inference timed out after " + e.elapsed }

// IsTimeout reports whether err indicates a remote-call deadline hit.
func IsTimeout(err error) bool {
	_, ok := err.(timeoutError)
	return ok
}

// transportError signals a network/connection failure before a response arrived.
type transportError struct{ cause error }

func (e transportError) Error() string { return "inference transport error: " + e.cause.Error() }
func (e transportError) Unwrap() error { return e.cause }

// IsTransport reports whether err indicates a network-level failure.
func IsTransport(err error) bool {
	_, ok := err.(transportError)
	return ok
}

// remoteRejectedError signals a non-success status from the inference endpoint.
type remoteRejectedError struct {
	status int
	body   string
}

func (e remoteRejectedError) Error() string {
	return fmt.Sprintf("inference endpoint rejected request: status %d: %s", e.status, e.body)
}

// IsRemoteRejected reports whether err indicates the endpoint refused the call.
func IsRemoteRejected(err error) bool {
	_, ok := err.(remoteRejectedError)
	return ok
}
