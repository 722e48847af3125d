package mcp

import (
	"context"
	"encoding/json"
)

// Transport is the connection a Client talks through. HTTPTransport is the implementation provided
// by this package.
type Transport interface {
	// Call sends a request and returns the result member of the correlated response.
	Call(ctx context.Context, method string, params any) (json.RawMessage, error)

	// Notify sends a notification.
	Notify(ctx context.Context, method string, params any) error

	// Respond answers a request that the server sent.
	Respond(ctx context.Context, msg JSONRPCMessage) error

	// OpenStream opens the push stream, closing any previous one.
	OpenStream(ctx context.Context) (*PushStream, error)

	// CloseStream closes the push stream if one is open.
	CloseStream()

	// Terminate ends the session on the server.
	Terminate(ctx context.Context) error

	// Session returns the state shared by every request of the transport.
	Session() *Session

	// SetObserver registers the function that receives unsolicited messages found in call responses.
	SetObserver(observer func(JSONRPCMessage))
}

// ToolListWatcher provides an interface for receiving notifications when the server's tool list changes.
// Implementations can use these notifications to update their internal state or trigger UI updates when
// available tools are added, removed, or modified.
type ToolListWatcher interface {
	// OnToolListChanged is called when the server notifies that its tool list has changed.
	// The client cache is already invalidated when this is called.
	OnToolListChanged()
}

// ProgressListener provides an interface for receiving progress updates on long-running operations.
// Implementations can use these notifications to update progress bars, status indicators, or other
// UI elements that show operation progress to users.
type ProgressListener interface {
	// OnProgress is called when a progress update is received for an operation.
	OnProgress(params ProgressParams)
}

// LogReceiver provides an interface for receiving log messages from the server.
// Implementations can use these notifications to display logs in a UI, write them to a file,
// or forward them to a logging service.
type LogReceiver interface {
	// OnLog is called when a log message is received from the server.
	OnLog(params LogParams)
}

// RootsListHandler answers roots/list requests sent by the server.
type RootsListHandler interface {
	// RootsList returns the list of available root resources.
	// Returns error if operation fails or context is cancelled.
	RootsList(ctx context.Context) (RootList, error)
}

// SamplingHandler provides an interface for generating AI model responses based on conversation history.
// It answers sampling/createMessage requests sent by the server.
type SamplingHandler interface {
	// CreateSampleMessage generates a response message based on the provided conversation history and parameters.
	// Returns error if model selection fails, generation fails, token limit is exceeded, or context is cancelled.
	CreateSampleMessage(ctx context.Context, params SamplingParams) (SamplingResult, error)
}

// MessageHandler receives every unsolicited message after the built-in routing ran.
type MessageHandler func(msg JSONRPCMessage)

// Root represents a root directory or file that the server can operate on.
type Root struct {
	URI  string `json:"uri"`
	Name string `json:"name,omitempty"`
}

// RootList represents a collection of root resources in the system.
type RootList struct {
	Roots []Root `json:"roots"`
}

// Role represents the role in a conversation (user or assistant).
type Role string

// SamplingParams defines the parameters for generating a sampled message.
type SamplingParams struct {
	// Messages contains the conversation history as a sequence of user and assistant messages
	Messages []SamplingMessage `json:"messages"`

	// ModelPreferences controls model selection through cost, speed, and intelligence priorities
	ModelPreferences SamplingModelPreferences `json:"modelPreferences"`

	// SystemPrompt provides system-level instructions to guide the model's behavior
	SystemPrompt string `json:"systemPrompt,omitempty"`

	// MaxTokens specifies the maximum number of tokens allowed in the generated response
	MaxTokens int `json:"maxTokens"`
}

// SamplingMessage represents a message in the sampling conversation history.
type SamplingMessage struct {
	Role    Role            `json:"role"`
	Content SamplingContent `json:"content"`
}

// SamplingContent represents the content of a sampling message. Either Text or Data should be
// populated based on the content Type.
type SamplingContent struct {
	Type ContentType `json:"type"`

	Text string `json:"text,omitempty"`

	Data     string `json:"data,omitempty"`
	MimeType string `json:"mimeType,omitempty"`
}

// SamplingModelPreferences defines preferences for model selection and behavior.
type SamplingModelPreferences struct {
	Hints []struct {
		Name string `json:"name"`
	} `json:"hints,omitempty"`
	CostPriority         float64 `json:"costPriority,omitempty"`
	SpeedPriority        float64 `json:"speedPriority,omitempty"`
	IntelligencePriority float64 `json:"intelligencePriority,omitempty"`
}

// SamplingResult represents the output of a sampling operation.
type SamplingResult struct {
	Role       Role            `json:"role"`
	Content    SamplingContent `json:"content"`
	Model      string          `json:"model"`
	StopReason string          `json:"stopReason,omitempty"`
}

// Role values.
const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

const (
	// MethodRootsList is the method name of the server request for the client roots.
	MethodRootsList = "roots/list"
	// MethodSamplingCreateMessage is the method name of the server request for a sampled message.
	MethodSamplingCreateMessage = "sampling/createMessage"
	// MethodLoggingSetLevel is the method name for adjusting the server log level.
	MethodLoggingSetLevel = "logging/setLevel"
)
