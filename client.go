package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"

	"github.com/gobwas/glob"
	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"
)

// ClientOption is a function that configures a client.
type ClientOption func(*Client)

// Client is the session-level view of a server reachable through a Transport. It performs the
// initialization handshake, caches the tool list, invokes tools, routes unsolicited messages to the
// registered listeners, and tears the session down on Close.
//
// A Client must be created using NewClient and initialized with Initialize before tools can be
// listed or called.
type Client struct {
	info         Info
	capabilities ClientCapabilities
	transport    Transport
	logger       *slog.Logger

	rootsListHandler RootsListHandler
	samplingHandler  SamplingHandler
	toolListWatcher  ToolListWatcher
	progressListener ProgressListener
	logReceiver      LogReceiver
	messageHandler   MessageHandler

	mu                 sync.RWMutex
	initialized        bool
	serverInfo         Info
	serverCapabilities ServerCapabilities
	instructions       string
	tools              []Tool
	toolsCached        bool
	toolsGen           uint64

	toolsFlight singleflight.Group

	// Lifetime of the goroutines answering server requests.
	ctx    context.Context
	cancel context.CancelFunc
}

// WithRootsListHandler sets the handler answering roots/list requests.
func WithRootsListHandler(handler RootsListHandler) ClientOption {
	return func(c *Client) {
		c.rootsListHandler = handler
	}
}

// WithSamplingHandler sets the handler answering sampling/createMessage requests.
func WithSamplingHandler(handler SamplingHandler) ClientOption {
	return func(c *Client) {
		c.samplingHandler = handler
	}
}

// WithToolListWatcher sets the tool list watcher for the client.
func WithToolListWatcher(watcher ToolListWatcher) ClientOption {
	return func(c *Client) {
		c.toolListWatcher = watcher
	}
}

// WithProgressListener sets the progress listener for the client.
func WithProgressListener(listener ProgressListener) ClientOption {
	return func(c *Client) {
		c.progressListener = listener
	}
}

// WithLogReceiver sets the log receiver for the client.
func WithLogReceiver(receiver LogReceiver) ClientOption {
	return func(c *Client) {
		c.logReceiver = receiver
	}
}

// WithMessageHandler sets a handler that sees every unsolicited message.
func WithMessageHandler(handler MessageHandler) ClientOption {
	return func(c *Client) {
		c.messageHandler = handler
	}
}

// WithLogger sets the logger for the client.
func WithLogger(logger *slog.Logger) ClientOption {
	return func(c *Client) {
		c.logger = logger
	}
}

// NewClient creates a client that identifies itself with info and talks through transport. The
// client registers itself as the transport's observer of unsolicited messages.
func NewClient(info Info, transport Transport, options ...ClientOption) *Client {
	c := &Client{
		info:      info,
		transport: transport,
		logger:    slog.Default(),
	}
	for _, opt := range options {
		opt(c)
	}

	if c.rootsListHandler != nil {
		c.capabilities.Roots = &ListChangedCapability{}
	}
	if c.samplingHandler != nil {
		c.capabilities.Sampling = &struct{}{}
	}

	c.ctx, c.cancel = context.WithCancel(context.Background())
	transport.SetObserver(c.route)

	return c
}

// Initialize performs the initialization handshake: the initialize call, then the initialized
// notification. The session token the server assigns is kept by the transport.
func (c *Client) Initialize(ctx context.Context) (InitializeResult, error) {
	params := InitializeParams{
		ProtocolVersion: DefaultProtocolVersion,
		Capabilities:    c.capabilities,
		ClientInfo:      c.info,
	}
	raw, err := c.transport.Call(ctx, MethodInitialize, params)
	if err != nil {
		return InitializeResult{}, fmt.Errorf("failed to initialize: %w", err)
	}

	var result InitializeResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return InitializeResult{}, fmt.Errorf("failed to unmarshal initialize result: %w", err)
	}
	if result.ProtocolVersion != "" && result.ProtocolVersion != DefaultProtocolVersion {
		c.logger.Warn("server negotiated a different protocol version",
			"requested", DefaultProtocolVersion, "negotiated", result.ProtocolVersion)
	}

	c.mu.Lock()
	c.serverInfo = result.ServerInfo
	c.serverCapabilities = result.Capabilities
	c.instructions = result.Instructions
	c.initialized = true
	c.mu.Unlock()

	if err := c.transport.Notify(ctx, methodNotificationsInitialized, nil); err != nil {
		return InitializeResult{}, fmt.Errorf("failed to send initialized notification: %w", err)
	}

	c.logger.Info("session initialized",
		"server", result.ServerInfo.Name, "version", result.ServerInfo.Version,
		"sessionID", c.transport.Session().ID())
	return result, nil
}

// Ping checks that the server is alive.
func (c *Client) Ping(ctx context.Context) error {
	_, err := c.transport.Call(ctx, MethodPing, nil)
	return err
}

// ListTools returns the tools offered by the server, following pagination. The list is cached
// until forceRefresh is set or the server announces a change. Concurrent refreshes share one
// round of requests.
func (c *Client) ListTools(ctx context.Context, forceRefresh bool) ([]Tool, error) {
	if err := c.checkInitialized(); err != nil {
		return nil, err
	}

	if !forceRefresh {
		c.mu.RLock()
		if c.toolsCached {
			tools := slices.Clone(c.tools)
			c.mu.RUnlock()
			return tools, nil
		}
		c.mu.RUnlock()
	}

	v, err, _ := c.toolsFlight.Do(MethodToolsList, func() (any, error) {
		return c.fetchTools(ctx)
	})
	if err != nil {
		return nil, err
	}
	return slices.Clone(v.([]Tool)), nil
}

func (c *Client) fetchTools(ctx context.Context) ([]Tool, error) {
	c.mu.RLock()
	gen := c.toolsGen
	c.mu.RUnlock()

	var tools []Tool
	params := ListToolsParams{}
	for {
		raw, err := c.transport.Call(ctx, MethodToolsList, params)
		if err != nil {
			return nil, err
		}

		var result ListToolsResult
		if err := json.Unmarshal(raw, &result); err != nil {
			return nil, fmt.Errorf("failed to unmarshal tools list: %w", err)
		}
		tools = append(tools, result.Tools...)

		if result.NextCursor == "" || result.NextCursor == params.Cursor {
			break
		}
		params.Cursor = result.NextCursor
	}

	c.mu.Lock()
	// A list_changed notification received meanwhile makes this list stale.
	if c.toolsGen == gen {
		c.tools = tools
		c.toolsCached = true
	}
	c.mu.Unlock()

	return tools, nil
}

// GetTool returns the tool with the given name from the cached list.
func (c *Client) GetTool(ctx context.Context, name string) (Tool, bool, error) {
	tools, err := c.ListTools(ctx, false)
	if err != nil {
		return Tool{}, false, err
	}
	for _, tool := range tools {
		if tool.Name == name {
			return tool, true, nil
		}
	}
	return Tool{}, false, nil
}

// SearchTools returns the tools whose name or description contains query, ignoring case. A query
// with glob meta characters, such as "fs_*", is matched against tool names instead. An empty query
// returns every tool.
func (c *Client) SearchTools(ctx context.Context, query string) ([]Tool, error) {
	tools, err := c.ListTools(ctx, false)
	if err != nil {
		return nil, err
	}
	if query == "" {
		return tools, nil
	}

	match, err := toolMatcher(query)
	if err != nil {
		return nil, err
	}

	var found []Tool
	for _, tool := range tools {
		if match(tool) {
			found = append(found, tool)
		}
	}
	return found, nil
}

func toolMatcher(query string) (func(Tool) bool, error) {
	if strings.ContainsAny(query, "*?[{") {
		g, err := glob.Compile(query)
		if err != nil {
			return nil, fmt.Errorf("invalid tool pattern %q: %w", query, err)
		}
		return func(t Tool) bool { return g.Match(t.Name) }, nil
	}

	q := strings.ToLower(query)
	return func(t Tool) bool {
		return strings.Contains(strings.ToLower(t.Name), q) ||
			strings.Contains(strings.ToLower(t.Description), q)
	}, nil
}

// CallTool invokes a tool and returns its normalized result. A progress token is attached to the
// request, so progress notifications reach the ProgressListener while the call runs. A result with
// IsError set is still a successful call.
func (c *Client) CallTool(ctx context.Context, name string, args any) (ToolResult, error) {
	if err := c.checkInitialized(); err != nil {
		return ToolResult{}, err
	}

	params := CallToolParams{
		Name:      name,
		Arguments: args,
		Meta:      &ParamsMeta{ProgressToken: MustString(uuid.NewString())},
	}
	raw, err := c.transport.Call(ctx, MethodToolsCall, params)
	if err != nil {
		return ToolResult{}, err
	}
	return NormalizeToolResult(raw), nil
}

// SetLogLevel asks the server to only send log messages at level or above.
func (c *Client) SetLogLevel(ctx context.Context, level LogLevel) error {
	if err := c.checkInitialized(); err != nil {
		return err
	}
	_, err := c.transport.Call(ctx, MethodLoggingSetLevel, map[string]LogLevel{"level": level})
	return err
}

// OpenStream opens the push stream and delivers its messages in a background goroutine: each one is
// routed to the registered listeners, then passed to onMessage. opened is false, with a nil error,
// when the server does not offer a push stream; nothing is delivered then. A failure that later
// ends the stream is passed to onError exactly once; a clean end or CloseStream does not call it.
func (c *Client) OpenStream(
	ctx context.Context,
	onMessage func(JSONRPCMessage),
	onError func(error),
) (opened bool, err error) {
	stream, err := c.transport.OpenStream(ctx)
	if errors.Is(err, ErrStreamUnsupported) {
		c.logger.Debug("server does not offer a push stream")
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to open push stream: %w", err)
	}

	go func() {
		for msg := range stream.Messages() {
			c.route(msg)
			if onMessage != nil {
				onMessage(msg)
			}
		}
		if err := stream.Err(); err != nil && onError != nil {
			onError(err)
		}
	}()
	return true, nil
}

// CloseStream closes the push stream. It is safe to call when no stream is open.
func (c *Client) CloseStream() {
	c.transport.CloseStream()
}

// TerminateSession ends the session on the server. ErrTerminateUnsupported is returned when the
// server does not support it, see IsUnsupported.
func (c *Client) TerminateSession(ctx context.Context) error {
	err := c.transport.Terminate(ctx)
	c.mu.Lock()
	c.initialized = false
	c.mu.Unlock()
	return err
}

// Close closes the push stream, terminates the session on a best effort basis and drops cached
// state. The client must be initialized again before further use.
func (c *Client) Close(ctx context.Context) error {
	c.transport.CloseStream()

	c.mu.Lock()
	c.cancel()
	c.ctx, c.cancel = context.WithCancel(context.Background())
	c.mu.Unlock()

	if err := c.transport.Terminate(ctx); err != nil && !IsUnsupported(err) {
		c.logger.Warn("failed to terminate session", "err", err)
	}

	c.mu.Lock()
	c.initialized = false
	c.serverInfo = Info{}
	c.serverCapabilities = ServerCapabilities{}
	c.instructions = ""
	c.tools = nil
	c.toolsCached = false
	c.toolsGen++
	c.mu.Unlock()

	return nil
}

// SessionID returns the token of the current session, or an empty string.
func (c *Client) SessionID() string {
	return c.transport.Session().ID()
}

// LastEventID returns the id of the last event observed on any stream.
func (c *Client) LastEventID() string {
	return c.transport.Session().LastEventID()
}

// ServerInfo returns the server's info.
func (c *Client) ServerInfo() Info {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.serverInfo
}

// Instructions returns the usage instructions the server sent during initialization.
func (c *Client) Instructions() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.instructions
}

// ToolServerSupported returns true if the server supports tool management.
func (c *Client) ToolServerSupported() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.serverCapabilities.Tools != nil
}

// LoggingServerSupported returns true if the server supports logging.
func (c *Client) LoggingServerSupported() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.serverCapabilities.Logging != nil
}

func (c *Client) checkInitialized() error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if !c.initialized {
		return errors.New("client not initialized")
	}
	return nil
}

func (c *Client) invalidateTools() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tools = nil
	c.toolsCached = false
	c.toolsGen++
}

// route dispatches an unsolicited message, from a call stream or the push stream.
func (c *Client) route(msg JSONRPCMessage) {
	if msg.Kind() == MessageRequest {
		c.mu.RLock()
		ctx := c.ctx
		c.mu.RUnlock()
		go c.handleRequest(ctx, msg)
	}

	switch msg.Method {
	case methodNotificationsToolsListChanged:
		c.invalidateTools()
		if c.toolListWatcher != nil {
			c.toolListWatcher.OnToolListChanged()
		}
	case methodNotificationsProgress:
		if c.progressListener == nil {
			break
		}
		var params ProgressParams
		if err := json.Unmarshal(msg.Params, &params); err != nil {
			c.logger.Error("failed to unmarshal progress params", "err", err)
			break
		}
		c.progressListener.OnProgress(params)
	case methodNotificationsMessage:
		if c.logReceiver == nil {
			break
		}
		var params LogParams
		if err := json.Unmarshal(msg.Params, &params); err != nil {
			c.logger.Error("failed to unmarshal log params", "err", err)
			break
		}
		c.logReceiver.OnLog(params)
	}

	if c.messageHandler != nil {
		c.messageHandler(msg)
	}
}

func (c *Client) handleRequest(ctx context.Context, msg JSONRPCMessage) {
	var (
		result any
		rpcErr *JSONRPCError
	)

	switch msg.Method {
	case MethodPing:
		result = struct{}{}
	case MethodRootsList:
		if c.rootsListHandler == nil {
			rpcErr = methodNotFound(msg.Method)
			break
		}
		roots, err := c.rootsListHandler.RootsList(ctx)
		if err != nil {
			c.logger.Error("failed to list roots", "err", err)
			rpcErr = &JSONRPCError{Code: int(CodeInternalError), Message: err.Error()}
			break
		}
		result = roots
	case MethodSamplingCreateMessage:
		if c.samplingHandler == nil {
			rpcErr = methodNotFound(msg.Method)
			break
		}
		var params SamplingParams
		if err := json.Unmarshal(msg.Params, &params); err != nil {
			rpcErr = &JSONRPCError{Code: int(CodeInvalidParams), Message: err.Error()}
			break
		}
		res, err := c.samplingHandler.CreateSampleMessage(ctx, params)
		if err != nil {
			c.logger.Error("failed to create sample message", "err", err)
			rpcErr = &JSONRPCError{Code: int(CodeInternalError), Message: err.Error()}
			break
		}
		result = res
	default:
		rpcErr = methodNotFound(msg.Method)
	}

	reply := JSONRPCMessage{ID: msg.ID, Error: rpcErr}
	if rpcErr == nil {
		raw, err := json.Marshal(result)
		if err != nil {
			c.logger.Error("failed to marshal result", "method", msg.Method, "err", err)
			return
		}
		reply.Result = raw
	}
	if err := c.transport.Respond(ctx, reply); err != nil {
		c.logger.Error("failed to answer server request", "method", msg.Method, "err", err)
	}
}

func methodNotFound(method string) *JSONRPCError {
	return &JSONRPCError{
		Code:    int(CodeMethodNotFound),
		Message: "method not found",
		Data:    map[string]any{"method": method},
	}
}
