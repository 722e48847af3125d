package mcp

import (
	"sync"
	"sync/atomic"
)

// SessionState is the lifecycle state of a Session.
type SessionState int

// Session holds the state shared by every call and the push stream of one transport: the token the
// server assigned, the last observed event id and the request id counter.
type Session struct {
	mu     sync.RWMutex
	token  string
	state  SessionState
	cursor string

	lastID atomic.Int64
}

// SessionState values.
const (
	SessionUninitialized SessionState = iota
	SessionActive
	SessionExpired
	SessionTerminated
)

func (s SessionState) String() string {
	switch s {
	case SessionActive:
		return "active"
	case SessionExpired:
		return "expired"
	case SessionTerminated:
		return "terminated"
	default:
		return "uninitialized"
	}
}

// NextID returns a fresh request id. IDs start at 1 and are never reused.
func (s *Session) NextID() RequestID {
	return NewIntID(s.lastID.Add(1))
}

// ID returns the session token, or an empty string when none is held.
func (s *Session) ID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.token
}

// State returns the current lifecycle state.
func (s *Session) State() SessionState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Update stores a token announced by the server. Empty tokens are ignored.
func (s *Session) Update(token string) {
	if token == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.token = token
	s.state = SessionActive
}

// LastEventID returns the id of the most recent event observed on any stream.
func (s *Session) LastEventID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cursor
}

// RecordEventID stores id as the resumption cursor.
func (s *Session) RecordEventID(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cursor = id
}

// expireIf drops the token if it is still the one a failed request was sent with. A newer token
// stored by a concurrent response is kept.
func (s *Session) expireIf(sent string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sent == "" || s.token != sent {
		return false
	}
	s.token = ""
	s.state = SessionExpired
	return true
}

// terminate drops the token after an explicit termination. With abandoned set the server did not
// confirm it, and the state stays SessionTerminated instead of returning to SessionUninitialized.
func (s *Session) terminate(sent string, abandoned bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.token != sent {
		return
	}
	s.token = ""
	s.cursor = ""
	if abandoned {
		s.state = SessionTerminated
		return
	}
	s.state = SessionUninitialized
}
