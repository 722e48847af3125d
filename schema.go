package mcp

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
)

// MustString is a type that enforces string representation for fields that can be either string or integer
// in the protocol specification, such as progress tokens. It handles automatic conversion during JSON
// marshaling/unmarshaling.
type MustString string

// RequestID identifies a JSON-RPC call. The protocol allows both numbers and strings on the wire,
// and two IDs are only equal when both the kind and the value match, so the string "1" never
// correlates with the number 1.
type RequestID struct {
	num   int64
	str   string
	isStr bool
	set   bool
}

// MessageKind discriminates the four shapes a JSON-RPC message can take.
type MessageKind int

// JSONRPCMessage represents a JSON-RPC 2.0 message exchanged with the server.
// It can represent any of the four message shapes depending on which fields are populated:
//   - Request: ID and Method are set
//   - Notification: Method is set, ID is absent
//   - Success response: Result is set
//   - Error response: Error is set
//
// Use DecodeMessage to obtain a validated message and Kind to discriminate it.
type JSONRPCMessage struct {
	// JSONRPC is "2.0" on every outgoing message. Incoming messages may omit it.
	JSONRPC string `json:"jsonrpc"`
	// ID correlates requests and responses. Notifications carry no ID.
	ID *RequestID `json:"id,omitempty"`
	// Method contains the RPC method name for requests and notifications.
	Method string `json:"method,omitempty"`
	// Params contains the parameters for the method call as a raw JSON message.
	Params json.RawMessage `json:"params,omitempty"`
	// Result contains the successful response data as a raw JSON message.
	Result json.RawMessage `json:"result,omitempty"`
	// Error contains error details if the request failed.
	Error *JSONRPCError `json:"error,omitempty"`
}

// JSONRPCError represents an error object in the JSON-RPC 2.0 protocol.
type JSONRPCError struct {
	// Code indicates the error type that occurred. See Code for the recognized values.
	Code int `json:"code"`

	// Message provides a short description of the error.
	Message string `json:"message"`

	// Data contains additional information about the error.
	// The value is unstructured and may be omitted.
	Data any `json:"data,omitempty"`
}

// Info contains metadata about a server or client instance including its name and version.
type Info struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// ServerCapabilities represents server capabilities announced during initialization.
type ServerCapabilities struct {
	Prompts   *ListChangedCapability `json:"prompts,omitempty"`
	Resources *ResourcesCapability   `json:"resources,omitempty"`
	Tools     *ListChangedCapability `json:"tools,omitempty"`
	Logging   *struct{}              `json:"logging,omitempty"`
}

// ClientCapabilities represents client capabilities announced during initialization.
type ClientCapabilities struct {
	Roots    *ListChangedCapability `json:"roots,omitempty"`
	Sampling *struct{}              `json:"sampling,omitempty"`
}

// ListChangedCapability is shared by every capability that only advertises list change notifications.
type ListChangedCapability struct {
	ListChanged bool `json:"listChanged,omitempty"`
}

// ResourcesCapability represents resources-specific capabilities.
type ResourcesCapability struct {
	Subscribe   bool `json:"subscribe,omitempty"`
	ListChanged bool `json:"listChanged,omitempty"`
}

// InitializeParams is sent with the initialize request.
type InitializeParams struct {
	ProtocolVersion string             `json:"protocolVersion"`
	Capabilities    ClientCapabilities `json:"capabilities"`
	ClientInfo      Info               `json:"clientInfo"`
}

// InitializeResult is the server's answer to the initialize request.
type InitializeResult struct {
	ProtocolVersion string             `json:"protocolVersion"`
	Capabilities    ServerCapabilities `json:"capabilities"`
	ServerInfo      Info               `json:"serverInfo"`
	Instructions    string             `json:"instructions,omitempty"`
}

// ListToolsParams contains parameters for listing available tools.
type ListToolsParams struct {
	// Cursor is a pagination cursor from a previous tools/list call.
	// Empty string requests the first page.
	Cursor string `json:"cursor,omitempty"`
}

// ListToolsResult represents a paginated list of tools returned by tools/list.
// NextCursor can be used to retrieve the next page of results.
type ListToolsResult struct {
	Tools      []Tool `json:"tools"`
	NextCursor string `json:"nextCursor,omitempty"`
}

// Tool defines a callable tool with its input schema.
type Tool struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	InputSchema json.RawMessage `json:"inputSchema,omitempty"`
}

// CallToolParams contains parameters for executing a specific tool.
type CallToolParams struct {
	// Name is the unique identifier of the tool to execute.
	Name string `json:"name"`

	// Arguments is a JSON object of argument name-value pairs.
	Arguments any `json:"arguments,omitempty"`

	// Meta carries the progress token the server echoes in progress notifications.
	Meta *ParamsMeta `json:"_meta,omitempty"`
}

// CallToolResult is the raw outcome of a tools/call request. See NormalizeToolResult for
// the flattened form most callers want.
type CallToolResult struct {
	Content []Content `json:"content"`
	IsError bool      `json:"isError,omitempty"`
}

// Content represents a typed content item of a tool result.
type Content struct {
	Type ContentType `json:"type"`

	// For ContentTypeText
	Text string `json:"text,omitempty"`

	// For ContentTypeImage or ContentTypeAudio
	Data     string `json:"data,omitempty"`
	MimeType string `json:"mimeType,omitempty"`
}

// ContentType represents the type of content items.
type ContentType string

// ParamsMeta contains optional metadata that can be included with request parameters.
type ParamsMeta struct {
	// ProgressToken uniquely identifies an operation for progress tracking.
	ProgressToken MustString `json:"progressToken"`
}

// ProgressParams represents the progress status of a long-running operation.
type ProgressParams struct {
	// ProgressToken identifies the operation this progress update relates to.
	ProgressToken MustString `json:"progressToken"`
	// Progress represents the current progress value.
	Progress float64 `json:"progress"`
	// Total represents the expected final value when known.
	Total float64 `json:"total,omitempty"`
	// Message is an optional human readable status line.
	Message string `json:"message,omitempty"`
}

// LogLevel represents the severity level of server log messages.
type LogLevel string

// LogParams represents the parameters of a notifications/message notification.
type LogParams struct {
	// Level indicates the severity level of the message.
	Level LogLevel `json:"level"`
	// Logger identifies the source/component that generated the message.
	Logger string `json:"logger,omitempty"`
	// Data contains the message content and any structured metadata.
	Data json.RawMessage `json:"data"`
}

// MessageKind values.
const (
	MessageInvalid MessageKind = iota
	MessageRequest
	MessageNotification
	MessageSuccess
	MessageError
)

// ContentType values.
const (
	ContentTypeText     ContentType = "text"
	ContentTypeImage    ContentType = "image"
	ContentTypeAudio    ContentType = "audio"
	ContentTypeResource ContentType = "resource"
)

// LogLevel values, in increasing severity.
const (
	LogLevelDebug     LogLevel = "debug"
	LogLevelInfo      LogLevel = "info"
	LogLevelNotice    LogLevel = "notice"
	LogLevelWarning   LogLevel = "warning"
	LogLevelError     LogLevel = "error"
	LogLevelCritical  LogLevel = "critical"
	LogLevelAlert     LogLevel = "alert"
	LogLevelEmergency LogLevel = "emergency"
)

const (
	// JSONRPCVersion specifies the JSON-RPC protocol version used for communication.
	JSONRPCVersion = "2.0"

	// DefaultProtocolVersion is the value sent in the Mcp-Protocol-Version header.
	DefaultProtocolVersion = "2025-03-26"

	// MethodInitialize is the method name of the initialization handshake.
	MethodInitialize = "initialize"
	// MethodPing is the method name of the liveness check.
	MethodPing = "ping"
	// MethodToolsList is the method name for retrieving a list of available tools.
	MethodToolsList = "tools/list"
	// MethodToolsCall is the method name for invoking a specific tool.
	MethodToolsCall = "tools/call"

	methodNotificationsInitialized      = "notifications/initialized"
	methodNotificationsProgress         = "notifications/progress"
	methodNotificationsMessage          = "notifications/message"
	methodNotificationsToolsListChanged = "notifications/tools/list_changed"
)

// NewIntID returns a numeric request ID.
func NewIntID(v int64) RequestID {
	return RequestID{num: v, set: true}
}

// NewStringID returns a string request ID.
func NewStringID(v string) RequestID {
	return RequestID{str: v, isStr: true, set: true}
}

// IsZero reports whether the ID was never set.
func (id RequestID) IsZero() bool {
	return !id.set
}

// Equal reports whether both IDs have the same kind and value.
func (id RequestID) Equal(other RequestID) bool {
	if id.set != other.set || id.isStr != other.isStr {
		return false
	}
	if id.isStr {
		return id.str == other.str
	}
	return id.num == other.num
}

func (id RequestID) String() string {
	if !id.set {
		return ""
	}
	if id.isStr {
		return id.str
	}
	return strconv.FormatInt(id.num, 10)
}

// MarshalJSON implements json.Marshaler, writing numbers for numeric IDs and strings otherwise.
func (id RequestID) MarshalJSON() ([]byte, error) {
	if !id.set {
		return []byte("null"), nil
	}
	if id.isStr {
		return json.Marshal(id.str)
	}
	return strconv.AppendInt(nil, id.num, 10), nil
}

// UnmarshalJSON implements json.Unmarshaler. Integral numbers and strings are accepted, anything
// else is rejected.
func (id *RequestID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*id = NewStringID(s)
		return nil
	}

	if n, err := strconv.ParseInt(string(data), 10, 64); err == nil {
		*id = NewIntID(n)
		return nil
	}
	f, err := strconv.ParseFloat(string(data), 64)
	if err != nil || f != float64(int64(f)) {
		return fmt.Errorf("invalid request id: %s", data)
	}
	*id = NewIntID(int64(f))
	return nil
}

// Kind classifies the message by which fields are present.
func (m JSONRPCMessage) Kind() MessageKind {
	switch {
	case m.Method != "" && m.ID == nil:
		return MessageNotification
	case m.Method != "":
		return MessageRequest
	case m.Error != nil:
		return MessageError
	case len(m.Result) > 0:
		return MessageSuccess
	default:
		return MessageInvalid
	}
}

// IsResponse reports whether the message answers a call, successfully or not.
func (m JSONRPCMessage) IsResponse() bool {
	k := m.Kind()
	return k == MessageSuccess || k == MessageError
}

func (k MessageKind) String() string {
	switch k {
	case MessageRequest:
		return "request"
	case MessageNotification:
		return "notification"
	case MessageSuccess:
		return "success"
	case MessageError:
		return "error"
	default:
		return "invalid"
	}
}

// UnmarshalJSON implements json.Unmarshaler to convert JSON data into MustString,
// handling both string and numeric input formats.
func (m *MustString) UnmarshalJSON(data []byte) error {
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}

	switch v := v.(type) {
	case string:
		*m = MustString(v)
	case float64:
		*m = MustString(strconv.FormatInt(int64(v), 10))
	default:
		return fmt.Errorf("invalid type: %T", v)
	}

	return nil
}

// MarshalJSON implements json.Marshaler to convert MustString into its JSON representation,
// always encoding as a string value.
func (m MustString) MarshalJSON() ([]byte, error) {
	return json.Marshal(string(m))
}

func (j JSONRPCError) Error() string {
	return fmt.Sprintf("request error, code: %d, message: %s, data %v", j.Code, j.Message, j.Data)
}
