package mcp

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/elnormous/contenttype"
)

// HTTPTransport implements the streamable HTTP transport: every message is POSTed to a single
// endpoint, and the server answers with either one JSON message or an event stream that carries
// the response, possibly preceded by notifications and requests.
//
// An HTTPTransport is safe for concurrent use. Concurrent calls share only the Session.
type HTTPTransport struct {
	endpoint        string
	httpClient      *http.Client
	headers         http.Header
	protocolVersion string
	timeout         time.Duration
	maxEventSize    int
	logger          *slog.Logger

	session *Session

	observerMu sync.RWMutex
	observer   func(JSONRPCMessage)

	streamMu      sync.Mutex
	stream        *PushStream
	streamGen     uint64
	pendingCancel context.CancelFunc
}

// TransportOption configures an HTTPTransport.
type TransportOption func(*HTTPTransport)

const (
	sessionIDHeader       = "Mcp-Session-Id"
	protocolVersionHeader = "Mcp-Protocol-Version"
	lastEventIDHeader     = "Last-Event-ID"

	defaultRequestTimeout = 30 * time.Second
	maxErrorBodySize      = 4096
)

var (
	jsonMediaType        = contenttype.NewMediaType("application/json")
	eventStreamMediaType = contenttype.NewMediaType("text/event-stream")
)

// NewHTTPTransport creates a transport for the given endpoint URL.
func NewHTTPTransport(endpoint string, options ...TransportOption) *HTTPTransport {
	t := &HTTPTransport{
		endpoint:        endpoint,
		httpClient:      &http.Client{},
		headers:         make(http.Header),
		protocolVersion: DefaultProtocolVersion,
		timeout:         defaultRequestTimeout,
		maxEventSize:    defaultMaxEventSize,
		logger:          slog.Default(),
		session:         &Session{},
	}
	for _, opt := range options {
		opt(t)
	}
	return t
}

// WithHTTPClient sets the HTTP client used for every request.
func WithHTTPClient(client *http.Client) TransportOption {
	return func(t *HTTPTransport) {
		t.httpClient = client
	}
}

// WithHeader adds an opaque header, such as an authorization header, to every request.
func WithHeader(key, value string) TransportOption {
	return func(t *HTTPTransport) {
		t.headers.Add(key, value)
	}
}

// WithProtocolVersion overrides the value of the Mcp-Protocol-Version header.
func WithProtocolVersion(version string) TransportOption {
	return func(t *HTTPTransport) {
		t.protocolVersion = version
	}
}

// WithRequestTimeout sets the deadline applied to each call. The default is 30 seconds.
func WithRequestTimeout(timeout time.Duration) TransportOption {
	return func(t *HTTPTransport) {
		t.timeout = timeout
	}
}

// WithMaxEventSize bounds the data of a single server-sent event, 4 MiB by default. Larger events are
// logged and skipped, which also drops a response that does not fit. Zero disables the bound.
func WithMaxEventSize(size int) TransportOption {
	return func(t *HTTPTransport) {
		t.maxEventSize = size
	}
}

// WithTransportLogger sets the logger of the transport.
func WithTransportLogger(logger *slog.Logger) TransportOption {
	return func(t *HTTPTransport) {
		t.logger = logger
	}
}

// WithNotificationObserver registers a function that receives the notifications and server requests
// found in call response streams.
func WithNotificationObserver(observer func(JSONRPCMessage)) TransportOption {
	return func(t *HTTPTransport) {
		t.observer = observer
	}
}

// Session returns the session state shared by every request of this transport.
func (t *HTTPTransport) Session() *Session {
	return t.session
}

// SetObserver replaces the function registered with WithNotificationObserver.
func (t *HTTPTransport) SetObserver(observer func(JSONRPCMessage)) {
	t.observerMu.Lock()
	defer t.observerMu.Unlock()
	t.observer = observer
}

func (t *HTTPTransport) observe(msg JSONRPCMessage) {
	t.observerMu.RLock()
	observer := t.observer
	t.observerMu.RUnlock()
	if observer == nil {
		t.logger.Debug("dropping unsolicited message", "method", msg.Method, "kind", msg.Kind())
		return
	}
	observer(msg)
}

// Call sends a request and waits for the response correlated with it. The result member of a
// successful response is returned verbatim. Failures are returned as *Error.
func (t *HTTPTransport) Call(ctx context.Context, method string, params any) (json.RawMessage, error) {
	id := t.session.NextID()
	msg, err := newRequest(id, method, params)
	if err != nil {
		return nil, err
	}

	callCtx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	resp, sentToken, err := t.post(callCtx, msg)
	if err != nil {
		return nil, t.classifyFailure(callCtx, ctx, method, err)
	}
	defer resp.Body.Close()

	if err := t.checkStatus(resp, sentToken, method); err != nil {
		return nil, err
	}

	res, err := t.readResponse(resp, id, method)
	if err != nil {
		var mcpErr *Error
		if errors.As(err, &mcpErr) {
			return nil, err
		}
		return nil, t.classifyFailure(callCtx, ctx, method, err)
	}

	if res.Error != nil {
		return nil, newRPCError(method, res.Error)
	}
	return res.Result, nil
}

// Notify sends a notification. The server is expected to acknowledge it with a 2xx status.
func (t *HTTPTransport) Notify(ctx context.Context, method string, params any) error {
	msg, err := newNotification(method, params)
	if err != nil {
		return err
	}
	return t.send(ctx, msg, method)
}

// Respond answers a request the server sent on a stream.
func (t *HTTPTransport) Respond(ctx context.Context, msg JSONRPCMessage) error {
	msg.JSONRPC = JSONRPCVersion
	return t.send(ctx, msg, "")
}

func (t *HTTPTransport) send(ctx context.Context, msg JSONRPCMessage, method string) error {
	sendCtx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	resp, sentToken, err := t.post(sendCtx, msg)
	if err != nil {
		return t.classifyFailure(sendCtx, ctx, method, err)
	}
	defer resp.Body.Close()

	if err := t.checkStatus(resp, sentToken, method); err != nil {
		return err
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

func (t *HTTPTransport) post(ctx context.Context, msg JSONRPCMessage) (*http.Response, string, error) {
	body, err := json.Marshal(msg)
	if err != nil {
		return nil, "", fmt.Errorf("failed to marshal message: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", jsonMediaType.String())
	req.Header.Set("Accept", jsonMediaType.String()+", "+eventStreamMediaType.String())
	token := t.prepare(req)

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return nil, token, err
	}
	return resp, token, nil
}

// prepare sets the headers shared by every request and returns the session token it sent.
func (t *HTTPTransport) prepare(req *http.Request) string {
	for key, values := range t.headers {
		for _, v := range values {
			req.Header.Add(key, v)
		}
	}
	req.Header.Set(protocolVersionHeader, t.protocolVersion)
	token := t.session.ID()
	if token != "" {
		req.Header.Set(sessionIDHeader, token)
	}
	return token
}

func (t *HTTPTransport) checkStatus(resp *http.Response, sentToken, method string) error {
	if token := resp.Header.Get(sessionIDHeader); token != "" {
		t.session.Update(token)
	}

	if resp.StatusCode == http.StatusNotFound && sentToken != "" {
		if t.session.expireIf(sentToken) {
			t.logger.Warn("session expired", "method", method)
		}
		return newSessionExpiredError(method)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodySize))
		return newTransportError(method, resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return nil
}

// classifyFailure maps a failure below the JSON-RPC layer. Only the expiry of the call's own deadline
// is a timeout; cancellation by the caller is returned as is.
func (t *HTTPTransport) classifyFailure(callCtx, parent context.Context, method string, err error) error {
	if parent.Err() != nil {
		return fmt.Errorf("request canceled: %w", parent.Err())
	}
	if errors.Is(callCtx.Err(), context.DeadlineExceeded) {
		return newTimeoutError(method, err)
	}
	return newNetworkError(method, err)
}

func (t *HTTPTransport) readResponse(resp *http.Response, id RequestID, method string) (JSONRPCMessage, error) {
	ctype := contenttype.NewMediaType(resp.Header.Get("Content-Type"))
	if ctype.Matches(eventStreamMediaType) {
		return t.readStreamResponse(resp.Body, id, method)
	}
	return t.readJSONResponse(resp.Body, id, method)
}

func (t *HTTPTransport) readJSONResponse(body io.Reader, id RequestID, method string) (JSONRPCMessage, error) {
	data, err := io.ReadAll(body)
	if err != nil {
		return JSONRPCMessage{}, err
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return JSONRPCMessage{}, newEmptyResponseError(method)
	}

	msg, err := DecodeMessage(data)
	if err != nil {
		var mcpErr *Error
		if errors.As(err, &mcpErr) {
			mcpErr.Method = method
		}
		return JSONRPCMessage{}, err
	}

	if !msg.IsResponse() {
		t.observe(msg)
		return JSONRPCMessage{}, newEmptyResponseError(method)
	}
	// A direct response answers exactly one POST, so a missing id is accepted.
	if msg.ID != nil && !msg.ID.Equal(id) {
		t.logger.Warn("response id does not match request", "method", method, "want", id, "got", msg.ID)
		return JSONRPCMessage{}, newEmptyResponseError(method)
	}
	return msg, nil
}

func (t *HTTPTransport) readStreamResponse(body io.Reader, id RequestID, method string) (JSONRPCMessage, error) {
	var res *JSONRPCMessage
	for ev, err := range ReadEvents(body, t.maxEventSize, t.session.RecordEventID) {
		if IsDecodeError(err) {
			t.logger.Warn("skipping stream event", "method", method, "eventID", ev.ID, "err", err)
			continue
		}
		if err != nil {
			return JSONRPCMessage{}, err
		}
		if strings.TrimSpace(ev.Data) == "" {
			continue
		}

		msg, err := DecodeMessage([]byte(ev.Data))
		if err != nil {
			t.logger.Warn("failed to decode stream event", "method", method, "eventID", ev.ID, "err", err)
			continue
		}

		if msg.IsResponse() {
			if msg.ID == nil || !msg.ID.Equal(id) {
				t.logger.Debug("dropping uncorrelated response", "method", method, "id", msg.ID)
				continue
			}
			res = &msg
			continue
		}
		t.observe(msg)
	}

	if res == nil {
		return JSONRPCMessage{}, newEmptyResponseError(method)
	}
	return *res, nil
}

// Terminate ends the session on the server with a DELETE request. Without a session token it does
// nothing. A server that does not support termination yields ErrTerminateUnsupported, and the token
// is dropped locally anyway.
func (t *HTTPTransport) Terminate(ctx context.Context) error {
	token := t.session.ID()
	if token == "" {
		return nil
	}

	reqCtx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodDelete, t.endpoint, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	t.prepare(req)

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return t.classifyFailure(reqCtx, ctx, "", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodySize))

	switch {
	case resp.StatusCode == http.StatusMethodNotAllowed:
		t.session.terminate(token, true)
		return ErrTerminateUnsupported
	case resp.StatusCode == http.StatusNotFound:
		t.session.expireIf(token)
		return newSessionExpiredError("")
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return newTransportError("", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	t.session.terminate(token, false)
	return nil
}
