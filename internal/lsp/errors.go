package lsp

import (
	"errors"
	"fmt"
)

// Standard errors returned by the client session.
var (
	// ErrAlreadyStarted indicates the session has already been started.
	ErrAlreadyStarted = errors.New("session already started")

	// ErrNotRunning indicates the session is not in the running state.
	ErrNotRunning = errors.New("session not running")

	// ErrChannelClosed indicates the channel was closed underneath a write.
	ErrChannelClosed = errors.New("channel closed")

	// ErrInitializeTimeout indicates the initialize handshake timed out.
	ErrInitializeTimeout = errors.New("initialize handshake timed out")

	// ErrShutdownTimeout indicates the server did not answer shutdown in time.
	ErrShutdownTimeout = errors.New("shutdown request timed out")
)

// TransportReason classifies why a channel could not be established.
type TransportReason string

const (
	TransportSpawnFailed    TransportReason = "spawn-failed"
	TransportConnectTimeout TransportReason = "connect-timeout"
	TransportConnectRefused TransportReason = "connect-refused"
)

// TransportError reports a failure to acquire a channel. It is fatal to
// Start; the caller decides whether to retry with a fresh channel.
type TransportError struct {
	Reason   TransportReason
	Endpoint string
	Err      error
}

func (e *TransportError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("transport %s (%s): %v", e.Reason, e.Endpoint, e.Err)
	}
	return fmt.Sprintf("transport %s (%s)", e.Reason, e.Endpoint)
}

// Unwrap returns the underlying error.
func (e *TransportError) Unwrap() error {
	return e.Err
}

// CodecReason classifies wire-level corruption.
type CodecReason string

const (
	CodecMalformedHeader CodecReason = "malformed-header"
	CodecTruncatedBody   CodecReason = "truncated-body"
	CodecInvalidJSON     CodecReason = "invalid-json"
)

// CodecError reports corrupt framing or an undecodable body. A codec error
// terminates the session: once framing is lost the stream cannot be resynced.
type CodecError struct {
	Reason CodecReason
	Detail string
	Err    error
}

func (e *CodecError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("codec %s: %s", e.Reason, e.Detail)
	}
	return fmt.Sprintf("codec %s: %v", e.Reason, e.Err)
}

// Unwrap returns the underlying error.
func (e *CodecError) Unwrap() error {
	return e.Err
}

// SessionReason classifies session-level request failures.
type SessionReason string

const (
	// SessionNotReady means the session was not in the running state.
	// Requests are never queued; the caller owns any retry policy.
	SessionNotReady SessionReason = "not-ready"

	// SessionCrashed means the channel closed with requests still pending.
	SessionCrashed SessionReason = "crashed"

	// SessionCancelled means the request was cancelled locally.
	SessionCancelled SessionReason = "cancelled"
)

// SessionError is returned to the caller of a specific request. It is never
// escalated; only transport and codec failures terminate the session.
type SessionError struct {
	Reason SessionReason
	Method string
}

func (e *SessionError) Error() string {
	if e.Method != "" {
		return fmt.Sprintf("session %s: %s", e.Reason, e.Method)
	}
	return fmt.Sprintf("session %s", e.Reason)
}

// IsSessionError reports whether err is a SessionError with the given reason.
func IsSessionError(err error, reason SessionReason) bool {
	var se *SessionError
	return errors.As(err, &se) && se.Reason == reason
}

// RPCError represents a JSON-RPC error response from the server. It is
// propagated to the caller of the corresponding request and never treated
// as a transport failure.
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

// Error implements the error interface.
func (e *RPCError) Error() string {
	if e.Data != nil {
		return fmt.Sprintf("rpc error %d: %s (data: %v)", e.Code, e.Message, e.Data)
	}
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

// Standard JSON-RPC error codes.
const (
	// JSON-RPC standard errors
	CodeParseError     = -32700
	CodeInvalidRequest = -32600
	CodeMethodNotFound = -32601
	CodeInvalidParams  = -32602
	CodeInternalError  = -32603

	// LSP-specific errors
	CodeServerNotInitialized = -32002
	CodeUnknownErrorCode     = -32001
	CodeRequestCancelled     = -32800
	CodeContentModified      = -32801
	CodeServerCancelled      = -32802
	CodeRequestFailed        = -32803
)
