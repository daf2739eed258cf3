package adapter

import "fmt"

// TransportError wraps a connect, read or write failure on the wire.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport error during %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// AuthError reports an explicit authentication rejection or a timeout waiting
// for the auth response.
type AuthError struct {
	Reason string
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("authentication failed: %s", e.Reason)
}

// ParseError reports a frame whose type is recognized but whose body does not
// match the expected schema. Non-fatal for streaming frames, fatal for
// request/response exchanges.
type ParseError struct {
	Frame string
	Err   error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("cannot parse %s frame: %v", e.Frame, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// ProtocolError reports an unexpected frame, or the absence of a required
// one, in a context that demands it.
type ProtocolError struct {
	Expected string
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("protocol error: expected %s", e.Expected)
}
