package mcp_test

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smiffy-online/mcp-browser-client"
)

func collect(t *testing.T, s *mcp.PushStream) []mcp.JSONRPCMessage {
	t.Helper()
	var msgs []mcp.JSONRPCMessage
	done := make(chan struct{})
	go func() {
		defer close(done)
		for msg := range s.Messages() {
			msgs = append(msgs, msg)
		}
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("push stream did not end")
	}
	return msgs
}

func TestOpenStreamDeliversAndResumes(t *testing.T) {
	srv := newTestServer(t, func(w http.ResponseWriter, r *http.Request, msg mcp.JSONRPCMessage) {
		if r.Method == http.MethodPost {
			w.Header().Set("Mcp-Session-Id", "abc")
			writeResult(t, w, msg, map[string]any{})
			return
		}
		writeEvents(t, w, r,
			testEvent{id: "1", data: `{"jsonrpc":"2.0","method":"notifications/message","params":{"level":"info","data":"a"}}`},
			testEvent{id: "2", data: `{"jsonrpc":"2.0","method":"notifications/tools/list_changed"}`},
		)
	})
	tr := srv.transport()

	_, err := tr.Call(context.Background(), mcp.MethodInitialize, nil)
	require.NoError(t, err)

	stream, err := tr.OpenStream(context.Background())
	require.NoError(t, err)

	msgs := collect(t, stream)
	require.Len(t, msgs, 2)
	assert.Equal(t, "notifications/message", msgs[0].Method)
	assert.Equal(t, "notifications/tools/list_changed", msgs[1].Method)
	assert.NoError(t, stream.Err())
	assert.Equal(t, "2", tr.Session().LastEventID())

	stream, err = tr.OpenStream(context.Background())
	require.NoError(t, err)
	collect(t, stream)

	var gets []recordedRequest
	for _, r := range srv.recorded() {
		if r.method == http.MethodGet {
			gets = append(gets, r)
		}
	}
	require.Len(t, gets, 2)
	assert.Equal(t, "text/event-stream", gets[0].header.Get("Accept"))
	assert.Equal(t, "abc", gets[0].header.Get("Mcp-Session-Id"))
	assert.Equal(t, mcp.DefaultProtocolVersion, gets[0].header.Get("Mcp-Protocol-Version"))
	assert.Empty(t, gets[0].header.Get("Last-Event-ID"))
	assert.Equal(t, "2", gets[1].header.Get("Last-Event-ID"))
}

func TestOpenStreamUnsupported(t *testing.T) {
	srv := newTestServer(t, func(w http.ResponseWriter, _ *http.Request, _ mcp.JSONRPCMessage) {
		w.WriteHeader(http.StatusMethodNotAllowed)
	})
	tr := srv.transport()

	stream, err := tr.OpenStream(context.Background())
	assert.Nil(t, stream)
	assert.ErrorIs(t, err, mcp.ErrStreamUnsupported)
	assert.True(t, mcp.IsUnsupported(err))
}

func TestOpenStreamServerError(t *testing.T) {
	srv := newTestServer(t, func(w http.ResponseWriter, _ *http.Request, _ mcp.JSONRPCMessage) {
		http.Error(w, "boom", http.StatusInternalServerError)
	})
	tr := srv.transport()

	_, err := tr.OpenStream(context.Background())
	require.Error(t, err)
	assert.True(t, mcp.IsTransportError(err))
	assert.False(t, mcp.IsUnsupported(err))
}

func TestPushStreamDropsMalformedEvents(t *testing.T) {
	srv := newTestServer(t, func(w http.ResponseWriter, r *http.Request, _ mcp.JSONRPCMessage) {
		writeEvents(t, w, r,
			testEvent{id: "1", data: `{broken`},
			testEvent{id: "2", data: `{"jsonrpc":"2.0","method":"notifications/message","params":{"level":"info","data":"ok"}}`},
		)
	})
	tr := srv.transport()

	stream, err := tr.OpenStream(context.Background())
	require.NoError(t, err)

	msgs := collect(t, stream)
	require.Len(t, msgs, 1)
	assert.Equal(t, "notifications/message", msgs[0].Method)
	assert.NoError(t, stream.Err())
	assert.Equal(t, "2", tr.Session().LastEventID())
}

func TestPushStreamInterrupted(t *testing.T) {
	srv := newTestServer(t, func(w http.ResponseWriter, r *http.Request, _ mcp.JSONRPCMessage) {
		writeEvents(t, w, r, testEvent{id: "1", data: `{"jsonrpc":"2.0","method":"notifications/message","params":{}}`})
		panic(http.ErrAbortHandler)
	})
	tr := srv.transport()

	stream, err := tr.OpenStream(context.Background())
	require.NoError(t, err)

	msgs := collect(t, stream)
	assert.Len(t, msgs, 1)

	err = stream.Err()
	require.Error(t, err)
	assert.True(t, mcp.IsNetworkError(err))
}

func TestPushStreamClose(t *testing.T) {
	srv := newTestServer(t, func(w http.ResponseWriter, r *http.Request, _ mcp.JSONRPCMessage) {
		writeEvents(t, w, r, testEvent{id: "1", data: `{"jsonrpc":"2.0","method":"notifications/message","params":{}}`})
		<-r.Context().Done()
	})
	tr := srv.transport()

	stream, err := tr.OpenStream(context.Background())
	require.NoError(t, err)

	first := make(chan mcp.JSONRPCMessage, 1)
	go func() {
		for msg := range stream.Messages() {
			first <- msg
			return
		}
	}()
	select {
	case <-first:
	case <-time.After(5 * time.Second):
		t.Fatal("no message received")
	}

	tr.CloseStream()
	select {
	case <-stream.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("stream did not stop")
	}
	assert.NoError(t, stream.Err())

	// Closing again, through either handle, is a no-op.
	stream.Close()
	tr.CloseStream()
}

func TestOpenStreamReplacesPrevious(t *testing.T) {
	srv := newTestServer(t, func(w http.ResponseWriter, r *http.Request, _ mcp.JSONRPCMessage) {
		w.Header().Set("Content-Type", "text/event-stream")
		w.WriteHeader(http.StatusOK)
		w.(http.Flusher).Flush()
		<-r.Context().Done()
	})
	tr := srv.transport()

	first, err := tr.OpenStream(context.Background())
	require.NoError(t, err)

	second, err := tr.OpenStream(context.Background())
	require.NoError(t, err)

	select {
	case <-first.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("first stream was not closed")
	}

	select {
	case <-second.Done():
		t.Fatal("second stream closed unexpectedly")
	default:
	}
	tr.CloseStream()
	<-second.Done()
}

func TestCloseStreamWithoutStream(t *testing.T) {
	tr := mcp.NewHTTPTransport("http://127.0.0.1:1", mcp.WithTransportLogger(discardLogger()))
	assert.NotPanics(t, tr.CloseStream)
}

func TestOpenStreamResumesFromCallStream(t *testing.T) {
	srv := newTestServer(t, func(w http.ResponseWriter, r *http.Request, msg mcp.JSONRPCMessage) {
		if r.Method == http.MethodPost {
			writeEvents(t, w, r,
				testEvent{id: "e7", data: mustJSON(t, mcp.JSONRPCMessage{JSONRPC: mcp.JSONRPCVersion, ID: msg.ID, Result: json.RawMessage(`{}`)})},
			)
			return
		}
		writeEvents(t, w, r)
	})
	tr := srv.transport()

	_, err := tr.Call(context.Background(), mcp.MethodPing, nil)
	require.NoError(t, err)

	stream, err := tr.OpenStream(context.Background())
	require.NoError(t, err)
	collect(t, stream)

	var get *recordedRequest
	for _, r := range srv.recorded() {
		if r.method == http.MethodGet {
			get = &r
		}
	}
	require.NotNil(t, get)
	assert.Equal(t, "e7", get.header.Get("Last-Event-ID"))
}

func TestPushStreamSkipsOversizedEvent(t *testing.T) {
	srv := newTestServer(t, func(w http.ResponseWriter, r *http.Request, _ mcp.JSONRPCMessage) {
		writeEvents(t, w, r,
			testEvent{id: "1", data: `{"jsonrpc":"2.0","method":"notifications/message","params":{"level":"info","data":"` + strings.Repeat("x", 256) + `"}}`},
			testEvent{id: "2", data: `{"jsonrpc":"2.0","method":"notifications/tools/list_changed"}`},
		)
	})
	tr := srv.transport(mcp.WithMaxEventSize(128))

	stream, err := tr.OpenStream(context.Background())
	require.NoError(t, err)

	msgs := collect(t, stream)
	require.Len(t, msgs, 1)
	assert.Equal(t, "notifications/tools/list_changed", msgs[0].Method)
	assert.NoError(t, stream.Err())
	assert.Equal(t, "2", tr.Session().LastEventID())
}

func TestCloseStreamAbortsPendingOpen(t *testing.T) {
	arrived := make(chan struct{})
	srv := newTestServer(t, func(_ http.ResponseWriter, r *http.Request, _ mcp.JSONRPCMessage) {
		close(arrived)
		<-r.Context().Done()
	})
	tr := srv.transport()

	errc := make(chan error, 1)
	go func() {
		stream, err := tr.OpenStream(context.Background())
		if stream != nil {
			stream.Close()
		}
		errc <- err
	}()

	select {
	case <-arrived:
	case <-time.After(5 * time.Second):
		t.Fatal("stream request never reached the server")
	}
	tr.CloseStream()

	select {
	case err := <-errc:
		assert.ErrorIs(t, err, mcp.ErrStreamClosed)
	case <-time.After(5 * time.Second):
		t.Fatal("OpenStream did not return")
	}
}
