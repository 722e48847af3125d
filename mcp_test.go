package mcp_test

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/tmaxmax/go-sse"

	"github.com/smiffy-online/mcp-browser-client"
)

// recordedRequest is what a test server saw of one incoming request.
type recordedRequest struct {
	method  string
	header  http.Header
	message mcp.JSONRPCMessage
}

// testServer wraps httptest.Server and records every request before handing it to handle.
type testServer struct {
	*httptest.Server

	mu       sync.Mutex
	requests []recordedRequest
}

type testEvent struct {
	id   string
	data string
}

type mockProgressListener struct {
	mu      sync.Mutex
	updates []mcp.ProgressParams
}

type mockLogReceiver struct {
	mu   sync.Mutex
	logs []mcp.LogParams
}

type mockToolListWatcher struct {
	mu    sync.Mutex
	count int
}

func newTestServer(t *testing.T, handle func(w http.ResponseWriter, r *http.Request, msg mcp.JSONRPCMessage)) *testServer {
	t.Helper()

	ts := &testServer{}
	ts.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var msg mcp.JSONRPCMessage
		if r.Method == http.MethodPost {
			body, err := io.ReadAll(r.Body)
			if !assert.NoError(t, err) {
				w.WriteHeader(http.StatusInternalServerError)
				return
			}
			if !assert.NoError(t, json.Unmarshal(body, &msg)) {
				w.WriteHeader(http.StatusBadRequest)
				return
			}
		}

		ts.mu.Lock()
		ts.requests = append(ts.requests, recordedRequest{
			method:  r.Method,
			header:  r.Header.Clone(),
			message: msg,
		})
		ts.mu.Unlock()

		handle(w, r, msg)
	}))
	t.Cleanup(ts.Close)
	return ts
}

func (ts *testServer) recorded() []recordedRequest {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	out := make([]recordedRequest, len(ts.requests))
	copy(out, ts.requests)
	return out
}

func (ts *testServer) countMethod(method string) int {
	n := 0
	for _, r := range ts.recorded() {
		if r.message.Method == method {
			n++
		}
	}
	return n
}

func (ts *testServer) transport(options ...mcp.TransportOption) *mcp.HTTPTransport {
	opts := append([]mcp.TransportOption{
		mcp.WithHTTPClient(ts.Client()),
		mcp.WithTransportLogger(discardLogger()),
	}, options...)
	return mcp.NewHTTPTransport(ts.URL, opts...)
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// writeJSON answers with a single JSON-RPC message.
func writeJSON(w http.ResponseWriter, msg any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(msg)
}

// writeResult answers the request msg with a success response carrying result.
func writeResult(t *testing.T, w http.ResponseWriter, msg mcp.JSONRPCMessage, result any) {
	t.Helper()
	raw, err := json.Marshal(result)
	assert.NoError(t, err)
	writeJSON(w, mcp.JSONRPCMessage{
		JSONRPC: mcp.JSONRPCVersion,
		ID:      msg.ID,
		Result:  raw,
	})
}

// writeEvents upgrades the response to an event stream and sends events, flushing after each one.
func writeEvents(t *testing.T, w http.ResponseWriter, r *http.Request, events ...testEvent) {
	t.Helper()
	sess, err := sse.Upgrade(w, r)
	if !assert.NoError(t, err) {
		return
	}
	for _, ev := range events {
		m := &sse.Message{}
		if ev.id != "" {
			m.ID = sse.ID(ev.id)
		}
		m.AppendData(ev.data)
		if !assert.NoError(t, sess.Send(m)) {
			return
		}
		if !assert.NoError(t, sess.Flush()) {
			return
		}
	}
}

func mustJSON(t *testing.T, v any) string {
	t.Helper()
	bs, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("failed to marshal: %v", err)
	}
	return string(bs)
}

func (m *mockProgressListener) OnProgress(params mcp.ProgressParams) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.updates = append(m.updates, params)
}

func (m *mockProgressListener) received() []mcp.ProgressParams {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]mcp.ProgressParams, len(m.updates))
	copy(out, m.updates)
	return out
}

func (m *mockLogReceiver) OnLog(params mcp.LogParams) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.logs = append(m.logs, params)
}

func (m *mockLogReceiver) received() []mcp.LogParams {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]mcp.LogParams, len(m.logs))
	copy(out, m.logs)
	return out
}

func (m *mockToolListWatcher) OnToolListChanged() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.count++
}

func (m *mockToolListWatcher) calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.count
}
