package mcp

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// ToolResult is the flattened outcome of a tool invocation.
type ToolResult struct {
	// Text joins every text content item with a newline.
	Text string
	// Data holds Text parsed as JSON when it looks like an object or an array, nil otherwise.
	Data any
	// IsError mirrors the isError flag reported by the tool.
	IsError bool
}

// DecodeMessage parses a single JSON-RPC message and validates its shape. The jsonrpc member may be
// omitted, but when present it must be "2.0". Failures are returned as *Error with KindDecode.
func DecodeMessage(data []byte) (JSONRPCMessage, error) {
	var msg JSONRPCMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return JSONRPCMessage{}, newDecodeError("failed to unmarshal message", err)
	}
	if err := msg.validate(); err != nil {
		return JSONRPCMessage{}, newDecodeError("invalid message", err)
	}
	return msg, nil
}

func (m JSONRPCMessage) validate() error {
	if m.JSONRPC != "" && m.JSONRPC != JSONRPCVersion {
		return fmt.Errorf("unsupported jsonrpc version %q", m.JSONRPC)
	}
	hasResult := len(m.Result) > 0 && !bytes.Equal(m.Result, []byte("null"))
	if m.Method != "" {
		if hasResult || m.Error != nil {
			return errors.New("request or notification must not carry result or error")
		}
		return nil
	}
	if hasResult && m.Error != nil {
		return errors.New("response must not carry both result and error")
	}
	if !hasResult && m.Error == nil {
		if len(m.Result) > 0 {
			// A literal null result is still a success.
			return nil
		}
		return errors.New("message has neither method, result nor error")
	}
	return nil
}

func newRequest(id RequestID, method string, params any) (JSONRPCMessage, error) {
	msg := JSONRPCMessage{
		JSONRPC: JSONRPCVersion,
		ID:      &id,
		Method:  method,
	}
	if params == nil {
		return msg, nil
	}
	raw, err := json.Marshal(params)
	if err != nil {
		return JSONRPCMessage{}, fmt.Errorf("failed to marshal params: %w", err)
	}
	msg.Params = raw
	return msg, nil
}

func newNotification(method string, params any) (JSONRPCMessage, error) {
	msg := JSONRPCMessage{
		JSONRPC: JSONRPCVersion,
		Method:  method,
	}
	if params == nil {
		return msg, nil
	}
	raw, err := json.Marshal(params)
	if err != nil {
		return JSONRPCMessage{}, fmt.Errorf("failed to marshal params: %w", err)
	}
	msg.Params = raw
	return msg, nil
}

// NormalizeToolResult flattens a tools/call result into a ToolResult. It never fails: a result that
// can not be parsed yields the zero value.
func NormalizeToolResult(raw json.RawMessage) ToolResult {
	var res CallToolResult
	if err := json.Unmarshal(raw, &res); err != nil {
		return ToolResult{}
	}

	texts := make([]string, 0, len(res.Content))
	for _, c := range res.Content {
		if c.Type != ContentTypeText {
			continue
		}
		texts = append(texts, c.Text)
	}

	out := ToolResult{
		Text:    strings.Join(texts, "\n"),
		IsError: res.IsError,
	}
	trimmed := strings.TrimSpace(out.Text)
	if strings.HasPrefix(trimmed, "{") || strings.HasPrefix(trimmed, "[") {
		var data any
		if err := json.Unmarshal([]byte(trimmed), &data); err == nil {
			out.Data = data
		}
	}
	return out
}
