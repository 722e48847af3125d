package mcp

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"iter"

	"github.com/tmaxmax/go-sse"
)

// StreamEvent is one server-sent event. Event types and retry hints are not kept.
type StreamEvent struct {
	// ID is the last event id seen on the stream, which is not necessarily this event's own.
	ID   string
	Data string
}

const (
	defaultMaxEventSize = 4 << 20
	// Events are buffered whole before they are checked, up to this size or the configured
	// limit, whichever is larger. Anything bigger cannot be skipped and ends the stream.
	maxStreamBufferSize = 64 << 20

	readChunkSize = 32 << 10
)

// ReadEvents yields the events read from r until it is exhausted. onID, if not nil, receives the
// stream's last event id before each event is yielded. An event the body ends in the middle of is
// dropped.
//
// An event whose data is larger than maxEventSize is not yielded. A decode error is yielded in its
// place and reading continues, so a *Error of KindDecode only concerns that event. A maxEventSize of
// zero disables the check. Any other error ends the sequence; io.EOF ends it quietly.
func ReadEvents(r io.Reader, maxEventSize int, onID func(id string)) iter.Seq2[StreamEvent, error] {
	return func(yield func(StreamEvent, error) bool) {
		config := &sse.ReadConfig{
			MaxEventSize: max(maxEventSize, maxStreamBufferSize),
		}
		src := &eventReader{src: r, limit: config.MaxEventSize}

		for ev, err := range sse.Read(src, config) {
			if err != nil {
				if errors.Is(err, bufio.ErrTooLong) {
					err = fmt.Errorf("event stream exceeds the %d byte read buffer: %w", config.MaxEventSize, err)
				}
				yield(StreamEvent{}, err)
				return
			}

			if ev.LastEventID != "" && onID != nil {
				onID(ev.LastEventID)
			}

			if maxEventSize > 0 && len(ev.Data) > maxEventSize {
				err := newDecodeError(fmt.Sprintf("event exceeds %d bytes", maxEventSize), nil)
				if !yield(StreamEvent{ID: ev.LastEventID}, err) {
					return
				}
				continue
			}

			if !yield(StreamEvent{ID: ev.LastEventID, Data: ev.Data}, nil) {
				return
			}
		}
	}
}

// eventReader passes src through up to the end of the last complete event. The bytes after it
// are held until the blank line that completes them arrives, and dropped if src ends first.
type eventReader struct {
	src   io.Reader
	limit int

	buf     []byte
	ready   []byte
	pending []byte
	scan    int
	err     error
}

func (r *eventReader) Read(p []byte) (int, error) {
	for len(r.ready) == 0 {
		if r.err != nil {
			return 0, r.err
		}
		if r.buf == nil {
			r.buf = make([]byte, readChunkSize)
		}

		n, err := r.src.Read(r.buf)
		r.pending = append(r.pending, r.buf[:n]...)

		end, next := lastEventEnd(r.pending, r.scan)
		switch {
		case end > 0:
			r.ready = append(r.ready[:0], r.pending[:end]...)
			r.pending = append(r.pending[:0], r.pending[end:]...)
			r.scan = next - end
		case len(r.pending) > r.limit:
			// Too large to ever complete; let the parser report it.
			r.ready = append(r.ready[:0], r.pending...)
			r.pending = r.pending[:0]
			r.scan = 0
		default:
			r.scan = next
		}
		r.err = err
	}

	n := copy(p, r.ready)
	r.ready = r.ready[n:]
	return n, nil
}

// lastEventEnd returns the offset just past the last blank line in b, or zero, and the offset of
// the first line not known to be complete, where scanning resumes once more bytes arrive. from
// must be a line start. Lines end with "\n", "\r\n" or "\r".
func lastEventEnd(b []byte, from int) (end, lineStart int) {
	lineStart = from
	for i := from; i < len(b); i++ {
		c := b[i]
		if c != '\n' && c != '\r' {
			continue
		}
		next := i + 1
		if c == '\r' && next < len(b) && b[next] == '\n' {
			next++
		}
		if c == '\r' && next == len(b) && i != lineStart {
			// Possibly the first half of "\r\n"; wait for the next byte.
			break
		}
		if i == lineStart {
			end = next
		}
		lineStart = next
		i = next - 1
	}
	return end, lineStart
}
