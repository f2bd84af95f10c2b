package deribit

import (
	"encoding/json"
	"fmt"
)

// ValidationError reports bad caller input. It is raised before any network
// traffic and is never retried.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("deribit: invalid %s: %s", e.Field, e.Reason)
}

// TransportError wraps a connection-level failure (dial, TLS, timeout).
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("deribit: transport failure during %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// ProtocolError reports a response the client could not make sense of:
// unparseable JSON or a well-formed body missing an expected field.
// Raw keeps the offending payload for diagnosis.
type ProtocolError struct {
	Op     string
	Reason string
	Raw    []byte
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("deribit: protocol error during %s: %s", e.Op, e.Reason)
}

// ExchangeError is a well-formed JSON-RPC error object returned by the
// server; code, message, and data are preserved verbatim.
type ExchangeError struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

func (e *ExchangeError) Error() string {
	if len(e.Data) > 0 {
		return fmt.Sprintf("deribit: exchange error %d: %s (data: %s)", e.Code, e.Message, string(e.Data))
	}
	return fmt.Sprintf("deribit: exchange error %d: %s", e.Code, e.Message)
}

// AuthenticationError marks a failed credential grant. REST authentication
// failure is fatal to client construction; callers should not retry blindly.
type AuthenticationError struct {
	Reason string
	Err    error
}

func (e *AuthenticationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("deribit: authentication failed: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("deribit: authentication failed: %s", e.Reason)
}

func (e *AuthenticationError) Unwrap() error { return e.Err }
