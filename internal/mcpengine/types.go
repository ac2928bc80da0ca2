// Package mcpengine implements component G: session lifecycle, JSON-RPC
// dispatch, the SSE and Streamable HTTP transports, and HTTP<->MCP request
// translation (spec §4.G). Entity shapes mirror spec §3's McpSession and
// Tool descriptor definitions.
package mcpengine

import (
	"context"
	"sync"
	"time"

	"github.com/accesspoint/gateway/internal/openapi"
)

// Transport identifies which wire transport a session was opened over.
type Transport string

const (
	TransportSSE            Transport = "SSE"
	TransportStreamableHTTP Transport = "StreamableHTTP"
)

// DefaultIdleTimeout is the session idle eviction threshold (spec §3,
// McpSession "destroyed on ... idle timeout (default 300s)").
const DefaultIdleTimeout = 300 * time.Second

// DefaultOutgoingQueueSize is the bound on a session's outgoing frame
// queue (spec §4.G "bounded outgoing queue (default 256 frames)").
const DefaultOutgoingQueueSize = 256

// pendingCall tracks one in-flight tools/call sub-request so
// notifications/cancelled can abort it (spec §4.G).
type pendingCall struct {
	cancel context.CancelFunc
}

// queuedFrame tags one outgoing wire frame with whether it carries a
// JSON-RPC response, the distinction enqueue's overflow policy needs to
// decide what may be dropped (spec §4.G).
type queuedFrame struct {
	payload    []byte
	isResponse bool
}

// Session is one MCP connection's server-side state (spec §3 McpSession).
type Session struct {
	ID                 string
	CreatedAt          time.Time
	Transport          Transport
	ClientCapabilities map[string]any

	mu           sync.Mutex
	lastSeenAt   time.Time
	outgoing     chan queuedFrame
	pending      map[any]*pendingCall
	initialized  bool
	serviceScope string // empty = root endpoint (union of all services)
}

func newSession(id string, transport Transport, serviceScope string) *Session {
	now := time.Now()
	return &Session{
		ID:           id,
		CreatedAt:    now,
		Transport:    transport,
		lastSeenAt:   now,
		outgoing:     make(chan queuedFrame, DefaultOutgoingQueueSize),
		pending:      map[any]*pendingCall{},
		serviceScope: serviceScope,
	}
}

func (s *Session) touch() {
	s.mu.Lock()
	s.lastSeenAt = time.Now()
	s.mu.Unlock()
}

func (s *Session) idleSince() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return time.Since(s.lastSeenAt)
}

// enqueue pushes payload onto the outgoing queue, dropping the oldest
// non-response notification on overflow (spec §4.G "overflow drops the
// oldest non-response notification and logs"). Responses (frames carrying
// an "id") are never dropped to make room; if the queue is completely full
// of responses, the newest frame is dropped instead as a last resort.
func (s *Session) enqueue(payload []byte, isResponse bool) bool {
	f := queuedFrame{payload: payload, isResponse: isResponse}
	select {
	case s.outgoing <- f:
		return true
	default:
	}
	return s.dropOldestNonResponse(f)
}

// dropOldestNonResponse makes room for f by draining the queue, discarding
// the first non-response frame found, and pushing everything else back in
// order. s.mu serializes this against concurrent overflow handling; it
// does not need to serialize against a reader draining s.outgoing, since a
// reader only ever shrinks the queue further.
func (s *Session) dropOldestNonResponse(f queuedFrame) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := len(s.outgoing)
	buf := make([]queuedFrame, 0, n)
	for i := 0; i < n; i++ {
		select {
		case qf := <-s.outgoing:
			buf = append(buf, qf)
		default:
		}
	}

	dropped := false
	kept := buf[:0]
	for _, qf := range buf {
		if !dropped && !qf.isResponse {
			dropped = true
			continue
		}
		kept = append(kept, qf)
	}
	for _, qf := range kept {
		s.outgoing <- qf
	}

	select {
	case s.outgoing <- f:
		return true
	default:
		return false
	}
}

func (s *Session) registerPending(id any, cancel context.CancelFunc) {
	s.mu.Lock()
	s.pending[id] = &pendingCall{cancel: cancel}
	s.mu.Unlock()
}

func (s *Session) resolvePending(id any) {
	s.mu.Lock()
	delete(s.pending, id)
	s.mu.Unlock()
}

// cancelPending implements notifications/cancelled (spec §4.G).
func (s *Session) cancelPending(id any) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.pending[id]
	if !ok {
		return false
	}
	p.cancel()
	delete(s.pending, id)
	return true
}

func (s *Session) cancelAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, p := range s.pending {
		p.cancel()
		delete(s.pending, id)
	}
}

// CompiledTool pairs one openapi.Tool with the McpService it belongs to,
// for root-endpoint union listing and name disambiguation.
type CompiledTool struct {
	openapi.Tool
	ServiceID string
}
