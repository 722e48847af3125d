package main

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/elnormous/contenttype"
	"github.com/google/uuid"
	"github.com/tmaxmax/go-sse"

	"github.com/smiffy-online/mcp-browser-client"
)

var (
	jsonMediaType         = contenttype.NewMediaType("application/json")
	eventStreamMediaType  = contenttype.NewMediaType("text/event-stream")
	eventStreamMediaTypes = []contenttype.MediaType{eventStreamMediaType}
)

// demoServer is a small single-endpoint server used to exercise the client. It keeps sessions in
// memory, answers tools/call for "countdown" on an event stream with progress notifications, and
// pushes a log message on the session's GET stream whenever a tool is called.
type demoServer struct {
	logger *slog.Logger

	mu       sync.Mutex
	sessions map[string]*demoSession
}

type demoSession struct {
	push    chan mcp.JSONRPCMessage
	eventID int
}

var demoTools = []mcp.Tool{
	{
		Name:        "echo",
		Description: "Echo the message argument back",
		InputSchema: json.RawMessage(`{"type":"object","properties":{"message":{"type":"string"}},"required":["message"]}`),
	},
	{
		Name:        "countdown",
		Description: "Count down from n, reporting progress on the way",
		InputSchema: json.RawMessage(`{"type":"object","properties":{"n":{"type":"integer"}}}`),
	},
}

func newDemoServer(logger *slog.Logger) *demoServer {
	return &demoServer{
		logger:   logger,
		sessions: make(map[string]*demoSession),
	}
}

func (s *demoServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		s.handlePost(w, r)
	case http.MethodGet:
		s.handleGet(w, r)
	case http.MethodDelete:
		s.handleDelete(w, r)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (s *demoServer) handlePost(w http.ResponseWriter, r *http.Request) {
	ctype, err := contenttype.GetMediaType(r)
	if err != nil || !ctype.Matches(jsonMediaType) {
		http.Error(w, "content-type must be application/json", http.StatusUnsupportedMediaType)
		return
	}

	var msg mcp.JSONRPCMessage
	if err := json.NewDecoder(r.Body).Decode(&msg); err != nil {
		http.Error(w, "invalid JSON body", http.StatusBadRequest)
		return
	}

	if msg.Method == mcp.MethodInitialize {
		id := uuid.NewString()
		s.mu.Lock()
		s.sessions[id] = &demoSession{push: make(chan mcp.JSONRPCMessage, 16)}
		s.mu.Unlock()
		s.logger.Info("session created", "sessionID", id)

		w.Header().Set("Mcp-Session-Id", id)
		s.writeResult(w, msg, mcp.InitializeResult{
			ProtocolVersion: mcp.DefaultProtocolVersion,
			Capabilities: mcp.ServerCapabilities{
				Tools:   &mcp.ListChangedCapability{ListChanged: true},
				Logging: &struct{}{},
			},
			ServerInfo:   mcp.Info{Name: "streamable-demo", Version: "1.0"},
			Instructions: "Try the countdown tool.",
		})
		return
	}

	sessID := r.Header.Get("Mcp-Session-Id")
	sess := s.session(sessID)
	if sess == nil {
		w.WriteHeader(http.StatusNotFound)
		return
	}

	switch msg.Kind() {
	case mcp.MessageNotification, mcp.MessageSuccess, mcp.MessageError:
		w.WriteHeader(http.StatusAccepted)
		return
	case mcp.MessageRequest:
	default:
		http.Error(w, "invalid message", http.StatusBadRequest)
		return
	}

	switch msg.Method {
	case mcp.MethodPing:
		s.writeResult(w, msg, struct{}{})
	case mcp.MethodToolsList:
		s.writeResult(w, msg, mcp.ListToolsResult{Tools: demoTools})
	case mcp.MethodToolsCall:
		s.handleToolCall(w, r, sessID, sess, msg)
	default:
		s.writeJSON(w, mcp.JSONRPCMessage{
			JSONRPC: mcp.JSONRPCVersion,
			ID:      msg.ID,
			Error:   &mcp.JSONRPCError{Code: int(mcp.CodeMethodNotFound), Message: "method not found"},
		})
	}
}

func (s *demoServer) handleToolCall(
	w http.ResponseWriter,
	r *http.Request,
	sessID string,
	sess *demoSession,
	msg mcp.JSONRPCMessage,
) {
	var params struct {
		Name      string          `json:"name"`
		Arguments json.RawMessage `json:"arguments"`
		Meta      *mcp.ParamsMeta `json:"_meta"`
	}
	if err := json.Unmarshal(msg.Params, &params); err != nil {
		s.writeToolError(w, msg, fmt.Sprintf("invalid params: %v", err))
		return
	}

	logData, _ := json.Marshal("tool " + params.Name + " called")
	s.notify(sess, "notifications/message", mcp.LogParams{
		Level:  mcp.LogLevelInfo,
		Logger: "demo",
		Data:   logData,
	})

	switch params.Name {
	case "echo":
		var args struct {
			Message string `json:"message"`
		}
		_ = json.Unmarshal(params.Arguments, &args)
		s.writeResult(w, msg, textResult(args.Message, false))
	case "countdown":
		args := struct {
			N int `json:"n"`
		}{N: 3}
		_ = json.Unmarshal(params.Arguments, &args)
		s.streamCountdown(w, r, sessID, sess, msg, params.Meta, args.N)
	default:
		s.writeToolError(w, msg, fmt.Sprintf("unknown tool %q", params.Name))
	}
}

// streamCountdown answers on an event stream: one progress notification per tick, then the result.
func (s *demoServer) streamCountdown(
	w http.ResponseWriter,
	r *http.Request,
	sessID string,
	sess *demoSession,
	msg mcp.JSONRPCMessage,
	meta *mcp.ParamsMeta,
	n int,
) {
	if _, _, err := contenttype.GetAcceptableMediaType(r, eventStreamMediaTypes); err != nil {
		w.WriteHeader(http.StatusNotAcceptable)
		return
	}

	stream, err := sse.Upgrade(w, r)
	if err != nil {
		s.logger.Error("failed to upgrade session", "err", err)
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	for i := range n {
		if meta != nil {
			progress := mcp.JSONRPCMessage{JSONRPC: mcp.JSONRPCVersion, Method: "notifications/progress"}
			progress.Params, _ = json.Marshal(mcp.ProgressParams{
				ProgressToken: meta.ProgressToken,
				Progress:      float64(i + 1),
				Total:         float64(n),
				Message:       strconv.Itoa(n - i),
			})
			if err := s.send(stream, sessID, sess, progress); err != nil {
				s.logger.Warn("failed to send progress", "err", err)
				return
			}
		}
		select {
		case <-time.After(200 * time.Millisecond):
		case <-r.Context().Done():
			return
		}
	}

	raw, _ := json.Marshal(textResult("liftoff", false))
	if err := s.send(stream, sessID, sess, mcp.JSONRPCMessage{JSONRPC: mcp.JSONRPCVersion, ID: msg.ID, Result: raw}); err != nil {
		s.logger.Warn("failed to send result", "err", err)
	}
}

// handleGet serves the push stream, replaying nothing and resuming the event ids where the
// client's Last-Event-ID left off.
func (s *demoServer) handleGet(w http.ResponseWriter, r *http.Request) {
	if _, _, err := contenttype.GetAcceptableMediaType(r, eventStreamMediaTypes); err != nil {
		w.WriteHeader(http.StatusNotAcceptable)
		return
	}
	sessID := r.Header.Get("Mcp-Session-Id")
	sess := s.session(sessID)
	if sess == nil {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	if last := r.Header.Get("Last-Event-ID"); last != "" {
		s.logger.Info("push stream resumed", "sessionID", sessID, "lastEventID", last)
	}

	stream, err := sse.Upgrade(w, r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	// Commit the headers so the client sees the stream open before the first message.
	if err := stream.Flush(); err != nil {
		return
	}

	for {
		select {
		case msg := <-sess.push:
			if err := s.send(stream, sessID, sess, msg); err != nil {
				s.logger.Warn("push stream write failed", "err", err)
				return
			}
		case <-r.Context().Done():
			return
		}
	}
}

func (s *demoServer) handleDelete(w http.ResponseWriter, r *http.Request) {
	sessID := r.Header.Get("Mcp-Session-Id")
	s.mu.Lock()
	_, ok := s.sessions[sessID]
	delete(s.sessions, sessID)
	s.mu.Unlock()

	if !ok {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	s.logger.Info("session terminated", "sessionID", sessID)
	w.WriteHeader(http.StatusOK)
}

func (s *demoServer) session(id string) *demoSession {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sessions[id]
}

func (s *demoServer) notify(sess *demoSession, method string, params any) {
	msg := mcp.JSONRPCMessage{JSONRPC: mcp.JSONRPCVersion, Method: method}
	msg.Params, _ = json.Marshal(params)
	select {
	case sess.push <- msg:
	default:
		s.logger.Warn("push queue full, dropping notification", "method", method)
	}
}

func (s *demoServer) send(stream *sse.Session, sessID string, sess *demoSession, msg mcp.JSONRPCMessage) error {
	bs, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	s.mu.Lock()
	sess.eventID++
	id := fmt.Sprintf("%s-%d", sessID[:8], sess.eventID)
	s.mu.Unlock()

	ev := &sse.Message{ID: sse.ID(id)}
	ev.AppendData(string(bs))
	if err := stream.Send(ev); err != nil {
		return fmt.Errorf("failed to write event: %w", err)
	}
	if err := stream.Flush(); err != nil {
		return fmt.Errorf("failed to flush event: %w", err)
	}
	return nil
}

func (s *demoServer) writeResult(w http.ResponseWriter, msg mcp.JSONRPCMessage, result any) {
	raw, err := json.Marshal(result)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	s.writeJSON(w, mcp.JSONRPCMessage{JSONRPC: mcp.JSONRPCVersion, ID: msg.ID, Result: raw})
}

func (s *demoServer) writeToolError(w http.ResponseWriter, msg mcp.JSONRPCMessage, text string) {
	s.writeResult(w, msg, textResult(text, true))
}

func (s *demoServer) writeJSON(w http.ResponseWriter, msg mcp.JSONRPCMessage) {
	w.Header().Set("Content-Type", jsonMediaType.String())
	if err := json.NewEncoder(w).Encode(msg); err != nil {
		s.logger.Error("failed to write response", "err", err)
	}
}

func textResult(text string, isError bool) mcp.CallToolResult {
	return mcp.CallToolResult{
		Content: []mcp.Content{{Type: mcp.ContentTypeText, Text: text}},
		IsError: isError,
	}
}
