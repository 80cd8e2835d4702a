// Package rcerr defines the typed error taxonomy shared by every redicore
// package, and the mapping from a decoded RESP error reply's kind word
// (the first whitespace-delimited token of a "-..." line) to one of these
// types.
package rcerr

import (
	"errors"
	"fmt"

	"github.com/duskfin/redicore/resp"
)

// Sentinel errors for states that are never a server reply.
var (
	ErrConnectionClosed = errors.New("redicore: connection closed")
	ErrPoolClosed       = errors.New("redicore: pool closed")
	ErrPoolTimeout      = errors.New("redicore: pool: acquire timed out waiting for a connection")
)

// EncodeError wraps a failure to encode a command argument. Constructed
// from resp.EncodeError at the rconn boundary so callers outside resp
// never need to import it directly.
type EncodeError struct{ Cause error }

func (e *EncodeError) Error() string { return "redicore: encode: " + e.Cause.Error() }
func (e *EncodeError) Unwrap() error { return e.Cause }

// DecodeError wraps a failure to interpret an otherwise well-framed reply
// (e.g. a type conversion the caller requested that the reply can't
// satisfy).
type DecodeError struct{ Cause error }

func (e *DecodeError) Error() string { return "redicore: decode: " + e.Cause.Error() }
func (e *DecodeError) Unwrap() error { return e.Cause }

// ProtocolError wraps a malformed RESP frame (resp.ProtocolErr) or a
// reply that violates an invariant the caller relies on (e.g. the
// "2+N replies" EXEC invariant).
type ProtocolError struct{ Cause error }

func (e *ProtocolError) Error() string { return "redicore: protocol: " + e.Cause.Error() }
func (e *ProtocolError) Unwrap() error { return e.Cause }

// ConnectError wraps a failure to establish the TCP/TLS/unix transport or
// to complete the startup sequence (AUTH/SETNAME/SELECT).
type ConnectError struct{ Cause error }

func (e *ConnectError) Error() string { return "redicore: connect: " + e.Cause.Error() }
func (e *ConnectError) Unwrap() error { return e.Cause }

// TimeoutError wraps an I/O deadline expiring on a read or write. Timeout
// always reports true; it exists so callers can use errors.As without
// reaching into net.Error.
type TimeoutError struct{ Cause error }

func (e *TimeoutError) Error() string { return "redicore: timeout: " + e.Cause.Error() }
func (e *TimeoutError) Unwrap() error { return e.Cause }
func (e *TimeoutError) Timeout() bool { return true }

// ResponseError is the generic typed wrapper for a server error reply
// whose kind did not match one of the specific cases below.
type ResponseError struct{ Kind, Message string }

func (e *ResponseError) Error() string { return fmt.Sprintf("redicore: %s %s", e.Kind, e.Message) }

// AuthError reports NOAUTH / WRONGPASS.
type AuthError struct{ Message string }

func (e *AuthError) Error() string { return "redicore: auth: " + e.Message }

// ReadOnlyError reports READONLY (write attempted against a read replica).
type ReadOnlyError struct{ Message string }

func (e *ReadOnlyError) Error() string { return "redicore: readonly: " + e.Message }

// BusyLoadingError reports LOADING (server still loading the dataset).
type BusyLoadingError struct{ Message string }

func (e *BusyLoadingError) Error() string { return "redicore: loading: " + e.Message }

// NoScriptError reports NOSCRIPT (EVALSHA against an unknown SHA).
type NoScriptError struct{ Message string }

func (e *NoScriptError) Error() string { return "redicore: noscript: " + e.Message }

// ExecAbortError reports EXECABORT (a queued command failed before EXEC).
type ExecAbortError struct{ Message string }

func (e *ExecAbortError) Error() string { return "redicore: execabort: " + e.Message }

// WatchError reports that EXEC returned a nil reply because a watched key
// changed, or that the connection was lost while watching.
type WatchError struct{ Message string }

func (e *WatchError) Error() string { return "redicore: watch: " + e.Message }

// PubSubError wraps a failure specific to the Pub/Sub multiplexer (e.g. a
// message dropped because the Messages buffer was full).
type PubSubError struct{ Cause error }

func (e *PubSubError) Error() string { return "redicore: pubsub: " + e.Cause.Error() }
func (e *PubSubError) Unwrap() error { return e.Cause }

// ClassifyReply turns a decoded RESP error Value into the most specific
// typed error available, falling back to *ResponseError. v must satisfy
// v.IsError().
func ClassifyReply(v resp.Value) error {
	if !v.IsError() || v.Err == nil {
		return &ResponseError{Message: "not an error reply"}
	}
	kind, msg := v.Err.Kind, v.Err.Message
	switch kind {
	case "NOAUTH", "WRONGPASS":
		return &AuthError{Message: msg}
	case "READONLY":
		return &ReadOnlyError{Message: msg}
	case "LOADING":
		return &BusyLoadingError{Message: msg}
	case "NOSCRIPT":
		return &NoScriptError{Message: msg}
	case "EXECABORT":
		return &ExecAbortError{Message: msg}
	default:
		return &ResponseError{Kind: kind, Message: msg}
	}
}
