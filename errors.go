package mcp

import (
	"errors"
	"fmt"
	"strings"
)

// Kind is the programmatic category of a failure produced by this package.
type Kind int

// Code is a JSON-RPC error code as it appears on the wire.
type Code int

// Error is the error type returned by calls, notifications, session termination and the push stream.
// Use errors.As or the Is* predicates to inspect it.
type Error struct {
	Kind Kind
	// Code is the wire code. Server supplied codes are kept verbatim even when unrecognized.
	Code    Code
	Message string
	// Data is the optional data member of a JSON-RPC error object.
	Data any
	// Status and Body are set for HTTP level failures.
	Status int
	Body   string
	// Method is the JSON-RPC method of the failed call, if any.
	Method string
	Err    error
}

// Kind values.
const (
	KindUnknown Kind = iota
	KindTimeout
	KindNetwork
	KindTransport
	KindSessionExpired
	KindRPC
	KindEmptyResponse
	KindDecode
)

// Code values. The timeout and session expiry conditions share -32000 on the wire, they are told apart
// by Kind.
const (
	CodeParseError              Code = -32700
	CodeInvalidRequest          Code = -32600
	CodeMethodNotFound          Code = -32601
	CodeInvalidParams           Code = -32602
	CodeInternalError           Code = -32603
	CodeTimeoutOrSessionExpired Code = -32000
	CodeNetworkError            Code = -32001
)

var (
	// ErrTimeout matches, with errors.Is, any error whose call exceeded its deadline.
	ErrTimeout = &Error{Kind: KindTimeout}
	// ErrNetwork matches failures below the HTTP layer.
	ErrNetwork = &Error{Kind: KindNetwork}
	// ErrTransport matches non-success HTTP statuses.
	ErrTransport = &Error{Kind: KindTransport}
	// ErrSessionExpired matches a 404 received while a session token was held.
	ErrSessionExpired = &Error{Kind: KindSessionExpired}
	// ErrRPC matches JSON-RPC error responses.
	ErrRPC = &Error{Kind: KindRPC}
	// ErrEmptyResponse matches calls that finished without a correlated response.
	ErrEmptyResponse = &Error{Kind: KindEmptyResponse}
	// ErrDecode matches payloads that could not be decoded.
	ErrDecode = &Error{Kind: KindDecode}

	// ErrStreamUnsupported is returned when the server answers the push stream request with 405.
	ErrStreamUnsupported = errors.New("server does not offer a push stream")
	// ErrTerminateUnsupported is returned when the server answers session termination with 405.
	ErrTerminateUnsupported = errors.New("server does not support session termination")
	// ErrStreamClosed is returned by OpenStream when the stream is closed before it is established.
	ErrStreamClosed = errors.New("push stream closed while opening")
)

func (k Kind) String() string {
	switch k {
	case KindTimeout:
		return "timeout"
	case KindNetwork:
		return "network"
	case KindTransport:
		return "transport"
	case KindSessionExpired:
		return "session expired"
	case KindRPC:
		return "rpc"
	case KindEmptyResponse:
		return "empty response"
	case KindDecode:
		return "decode"
	default:
		return "unknown"
	}
}

// Known reports whether c is one of the recognized protocol codes.
func (c Code) Known() bool {
	switch c {
	case CodeParseError, CodeInvalidRequest, CodeMethodNotFound, CodeInvalidParams, CodeInternalError,
		CodeTimeoutOrSessionExpired, CodeNetworkError:
		return true
	}
	return false
}

func (c Code) String() string {
	switch c {
	case CodeParseError:
		return "parse error"
	case CodeInvalidRequest:
		return "invalid request"
	case CodeMethodNotFound:
		return "method not found"
	case CodeInvalidParams:
		return "invalid params"
	case CodeInternalError:
		return "internal error"
	case CodeTimeoutOrSessionExpired:
		return "timeout or session expired"
	case CodeNetworkError:
		return "network error"
	default:
		return "unrecognized protocol error"
	}
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(e.Kind.String())
	if e.Method != "" {
		b.WriteString(" (")
		b.WriteString(e.Method)
		b.WriteString(")")
	}
	switch {
	case e.Kind == KindRPC:
		fmt.Fprintf(&b, ": %s, code: %d, message: %s", e.Code, e.Code, e.Message)
	case e.Status != 0:
		fmt.Fprintf(&b, ": status %d", e.Status)
		if e.Body != "" {
			fmt.Fprintf(&b, ": %s", e.Body)
		}
	case e.Message != "":
		fmt.Fprintf(&b, ": %s", e.Message)
	}
	if e.Err != nil {
		fmt.Fprintf(&b, ": %v", e.Err)
	}
	return b.String()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether target is an *Error of the same Kind, so the Err* values work with errors.Is.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

func newRPCError(method string, rpcErr *JSONRPCError) *Error {
	return &Error{
		Kind:    KindRPC,
		Code:    Code(rpcErr.Code),
		Message: rpcErr.Message,
		Data:    rpcErr.Data,
		Method:  method,
	}
}

func newDecodeError(msg string, err error) *Error {
	return &Error{
		Kind:    KindDecode,
		Code:    CodeParseError,
		Message: msg,
		Err:     err,
	}
}

func newTimeoutError(method string, err error) *Error {
	return &Error{
		Kind:    KindTimeout,
		Code:    CodeTimeoutOrSessionExpired,
		Message: "request timed out",
		Method:  method,
		Err:     err,
	}
}

func newNetworkError(method string, err error) *Error {
	return &Error{
		Kind:    KindNetwork,
		Code:    CodeNetworkError,
		Message: "network failure",
		Method:  method,
		Err:     err,
	}
}

func newSessionExpiredError(method string) *Error {
	return &Error{
		Kind:    KindSessionExpired,
		Code:    CodeTimeoutOrSessionExpired,
		Message: "session expired",
		Status:  404,
		Method:  method,
	}
}

func newTransportError(method string, status int, body string) *Error {
	return &Error{
		Kind:   KindTransport,
		Status: status,
		Body:   body,
		Method: method,
	}
}

func newEmptyResponseError(method string) *Error {
	return &Error{
		Kind:    KindEmptyResponse,
		Message: "no response received for request",
		Method:  method,
	}
}

func kindOf(err error) (*Error, bool) {
	var e *Error
	if !errors.As(err, &e) {
		return nil, false
	}
	return e, true
}

func isKind(err error, k Kind) bool {
	e, ok := kindOf(err)
	return ok && e.Kind == k
}

func isRPCCode(err error, c Code) bool {
	e, ok := kindOf(err)
	return ok && e.Kind == KindRPC && e.Code == c
}

// IsTimeout reports whether the call exceeded its own deadline.
func IsTimeout(err error) bool { return isKind(err, KindTimeout) }

// IsNetworkError reports whether err is a failure below the HTTP layer.
func IsNetworkError(err error) bool { return isKind(err, KindNetwork) }

// IsTransportError reports whether the server answered with a non-success status.
func IsTransportError(err error) bool { return isKind(err, KindTransport) }

// IsSessionExpired reports whether the server dropped the session.
func IsSessionExpired(err error) bool { return isKind(err, KindSessionExpired) }

// IsRPCError reports whether the server answered with a JSON-RPC error response.
func IsRPCError(err error) bool { return isKind(err, KindRPC) }

// IsEmptyResponse reports whether the call ended without a correlated response.
func IsEmptyResponse(err error) bool { return isKind(err, KindEmptyResponse) }

// IsDecodeError reports whether a payload could not be decoded.
func IsDecodeError(err error) bool { return isKind(err, KindDecode) }

// IsUnsupported reports whether the server declined an optional capability with 405.
func IsUnsupported(err error) bool {
	return errors.Is(err, ErrStreamUnsupported) || errors.Is(err, ErrTerminateUnsupported)
}

// IsParseError reports whether the server answered with a parse error (-32700).
func IsParseError(err error) bool { return isRPCCode(err, CodeParseError) }

// IsInvalidRequest reports whether the server rejected the request envelope (-32600).
func IsInvalidRequest(err error) bool { return isRPCCode(err, CodeInvalidRequest) }

// IsMethodNotFound reports whether the server does not know the method (-32601).
func IsMethodNotFound(err error) bool { return isRPCCode(err, CodeMethodNotFound) }

// IsInvalidParams reports whether the server rejected the parameters (-32602).
func IsInvalidParams(err error) bool { return isRPCCode(err, CodeInvalidParams) }

// IsInternalError reports whether the server failed internally (-32603).
func IsInternalError(err error) bool { return isRPCCode(err, CodeInternalError) }

// IsUnrecognizedCode reports whether the server answered with an error code outside the known set.
func IsUnrecognizedCode(err error) bool {
	e, ok := kindOf(err)
	return ok && e.Kind == KindRPC && !e.Code.Known()
}
