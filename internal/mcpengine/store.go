package mcpengine

import (
	"context"
	"time"

	"github.com/accesspoint/gateway/internal/obslog"
	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"
)

// DefaultMaxSessions bounds the session store's LRU cache; this is
// distinct from the idle timeout and exists so a runaway client can't
// exhaust memory with abandoned sessions faster than the idle sweep runs.
const DefaultMaxSessions = 10_000

// Store is the in-memory session table (spec §3, §4.G "Session store").
type Store struct {
	cache *lru.Cache[string, *Session]
}

func NewStore() *Store {
	cache, _ := lru.NewWithEvict[string, *Session](DefaultMaxSessions, func(id string, s *Session) {
		s.cancelAll()
	})
	return &Store{cache: cache}
}

// Create mints a new session (spec §3 "Created on first initialize or
// first SSE GET").
func (st *Store) Create(transport Transport, serviceScope string) *Session {
	s := newSession(uuid.NewString(), transport, serviceScope)
	st.cache.Add(s.ID, s)
	return s
}

func (st *Store) Get(id string) (*Session, bool) {
	s, ok := st.cache.Get(id)
	if !ok {
		return nil, false
	}
	s.touch()
	return s, true
}

func (st *Store) Close(id string) {
	st.cache.Remove(id)
}

func (st *Store) Len() int { return st.cache.Len() }

// SweepIdle evicts every session idle past timeout (spec §3 "destroyed on
// ... idle timeout"). Intended to run on a periodic ticker.
func (st *Store) SweepIdle(ctx context.Context, timeout time.Duration) {
	for _, id := range st.cache.Keys() {
		s, ok := st.cache.Peek(id)
		if !ok {
			continue
		}
		if s.idleSince() > timeout {
			st.cache.Remove(id)
			obslog.FromContext(ctx).Info("mcp session idle-evicted", "session", id)
		}
	}
}
