package mcp

import (
	"context"
	"fmt"
	"io"
	"iter"
	"log/slog"
	"net/http"
	"strings"
	"sync"
)

// PushStream is the long-lived GET stream on which the server pushes messages that are not tied to a
// call. It ends when the server closes the body, when reading fails, or when Close is called. It is
// never reconnected automatically; open a new one with HTTPTransport.OpenStream, which resumes from
// the last observed event id.
type PushStream struct {
	messages chan JSONRPCMessage
	done     chan struct{}
	ctx      context.Context
	cancel   context.CancelFunc
	logger   *slog.Logger

	closeOnce sync.Once
	err       error
}

// OpenStream opens the push stream. A stream opened earlier by this transport is closed first.
// ErrStreamUnsupported is returned when the server does not offer one, and ErrStreamClosed when
// CloseStream runs before the stream is established.
func (t *HTTPTransport) OpenStream(ctx context.Context) (*PushStream, error) {
	t.CloseStream()

	streamCtx, cancel := context.WithCancel(ctx)
	t.streamMu.Lock()
	gen := t.streamGen
	t.pendingCancel = cancel
	t.streamMu.Unlock()

	req, err := http.NewRequestWithContext(streamCtx, http.MethodGet, t.endpoint, nil)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", eventStreamMediaType.String())
	sentToken := t.prepare(req)
	if cursor := t.session.LastEventID(); cursor != "" {
		req.Header.Set(lastEventIDHeader, cursor)
	}

	//nolint:bodyclose // The body is closed by the stream goroutine, or below on failure.
	resp, err := t.httpClient.Do(req)
	if err != nil {
		cancel()
		if ctx.Err() != nil {
			return nil, fmt.Errorf("request canceled: %w", ctx.Err())
		}
		if !t.streamCurrent(gen) {
			return nil, ErrStreamClosed
		}
		return nil, newNetworkError("", err)
	}

	if resp.StatusCode == http.StatusMethodNotAllowed {
		resp.Body.Close()
		cancel()
		return nil, ErrStreamUnsupported
	}
	if err := t.checkStatus(resp, sentToken, ""); err != nil {
		resp.Body.Close()
		cancel()
		return nil, err
	}

	s := &PushStream{
		messages: make(chan JSONRPCMessage),
		done:     make(chan struct{}),
		ctx:      streamCtx,
		cancel:   cancel,
		logger:   t.logger,
	}
	go s.run(resp.Body, t.maxEventSize, t.session.RecordEventID)

	t.streamMu.Lock()
	if t.streamGen != gen {
		// CloseStream or another OpenStream ran while this one was connecting.
		t.streamMu.Unlock()
		s.Close()
		return nil, ErrStreamClosed
	}
	t.stream = s
	t.pendingCancel = nil
	t.streamMu.Unlock()

	return s, nil
}

// CloseStream closes the push stream, if one is open, and aborts an OpenStream still connecting.
func (t *HTTPTransport) CloseStream() {
	t.streamMu.Lock()
	s := t.stream
	t.stream = nil
	t.streamGen++
	if t.pendingCancel != nil {
		t.pendingCancel()
		t.pendingCancel = nil
	}
	t.streamMu.Unlock()

	if s != nil {
		s.Close()
	}
}

func (t *HTTPTransport) streamCurrent(gen uint64) bool {
	t.streamMu.Lock()
	defer t.streamMu.Unlock()
	return t.streamGen == gen
}

func (s *PushStream) run(body io.ReadCloser, maxEventSize int, onID func(string)) {
	defer close(s.done)
	defer close(s.messages)
	defer body.Close()

	for ev, err := range ReadEvents(body, maxEventSize, onID) {
		if IsDecodeError(err) {
			s.logger.Warn("skipping push stream event", "eventID", ev.ID, "err", err)
			continue
		}
		if err != nil {
			if s.ctx.Err() != nil {
				return
			}
			s.err = newNetworkError("", err)
			s.logger.Error("push stream interrupted", "err", err)
			return
		}
		if strings.TrimSpace(ev.Data) == "" {
			continue
		}

		msg, err := DecodeMessage([]byte(ev.Data))
		if err != nil {
			s.logger.Warn("failed to decode push stream event", "eventID", ev.ID, "err", err)
			continue
		}

		select {
		case s.messages <- msg:
		case <-s.ctx.Done():
			return
		}
	}
}

// Messages returns an iterator over the messages pushed by the server. The iteration ends when the
// stream ends. Only one consumer should range over it.
func (s *PushStream) Messages() iter.Seq[JSONRPCMessage] {
	return func(yield func(JSONRPCMessage) bool) {
		for msg := range s.messages {
			if !yield(msg) {
				return
			}
		}
	}
}

// Done is closed when the stream has ended.
func (s *PushStream) Done() <-chan struct{} {
	return s.done
}

// Err waits for the stream to end and returns the failure that ended it. It returns nil when the
// server closed the stream cleanly or the stream was closed locally.
func (s *PushStream) Err() error {
	<-s.done
	return s.err
}

// Close stops the stream and waits for its reader to exit. It is safe to call more than once.
func (s *PushStream) Close() {
	s.closeOnce.Do(s.cancel)
	<-s.done
}
