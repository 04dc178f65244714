// Package session owns conversation state between turns: an in-memory
// registry of sessions, per-session serialization so concurrent requests
// for the same session cannot interleave a graph run, and a persistence
// adapter for state snapshots.
package session

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/nbfc-labs/loanflow/coreengine/graph"
	"github.com/nbfc-labs/loanflow/coreengine/observability"
	"github.com/nbfc-labs/loanflow/coreengine/orchestrator"
	"github.com/nbfc-labs/loanflow/coreengine/state"
	"github.com/nbfc-labs/loanflow/eventbus"
)

// Persistence saves and loads session snapshots.
type Persistence interface {
	SaveState(ctx context.Context, sessionID string, st map[string]any) error
	LoadState(ctx context.Context, sessionID string) (map[string]any, error)
}

// Store routes user turns to the orchestrator, one at a time per session.
type Store struct {
	orch        *orchestrator.Orchestrator
	persistence Persistence
	logger      graph.Logger
	events      eventbus.Publisher

	mu       sync.Mutex
	sessions map[string]*entry
}

type entry struct {
	mu    sync.Mutex
	state *state.Session
}

// Option configures a Store.
type Option func(*Store)

// WithPersistence attaches a persistence adapter.
func WithPersistence(p Persistence) Option {
	return func(s *Store) { s.persistence = p }
}

// WithLogger attaches a logger.
func WithLogger(l graph.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// WithEvents attaches an event publisher.
func WithEvents(p eventbus.Publisher) Option {
	return func(s *Store) { s.events = p }
}

// NewStore creates a session store around an orchestrator.
func NewStore(orch *orchestrator.Orchestrator, opts ...Option) *Store {
	s := &Store{
		orch:     orch,
		sessions: make(map[string]*entry),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Advance processes one user message for a session and returns the
// post-turn state. Turns for the same session are serialized; the stored
// state is replaced wholesale only after a successful turn.
func (s *Store) Advance(ctx context.Context, sessionID, message string) (*state.Session, error) {
	e := s.getOrCreate(sessionID)

	e.mu.Lock()
	defer e.mu.Unlock()

	started := time.Now()
	next, err := s.orch.Advance(ctx, e.state, message)
	durMS := int(time.Since(started).Milliseconds())

	if err != nil {
		observability.RecordSessionTurn("error")
		s.emit(ctx, e.state, "error", durMS)
		return nil, fmt.Errorf("advance session %s: %w", e.state.SessionID, err)
	}

	e.state = next
	observability.RecordSessionTurn("success")
	s.emit(ctx, next, "success", durMS)

	if s.persistence != nil {
		if perr := s.persistence.SaveState(ctx, next.SessionID, snapshot(next)); perr != nil {
			if s.logger != nil {
				s.logger.Warn("session_persist_failed", "session_id", next.SessionID, "error", perr.Error())
			}
		}
	}

	return next.Clone(), nil
}

// Get returns a copy of the session state, or nil when unknown.
func (s *Store) Get(sessionID string) *state.Session {
	s.mu.Lock()
	e, ok := s.sessions[sessionID]
	s.mu.Unlock()
	if !ok {
		return nil
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state.Clone()
}

// Len returns the number of sessions held.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

func (s *Store) getOrCreate(sessionID string) *entry {
	s.mu.Lock()
	defer s.mu.Unlock()

	if sessionID != "" {
		if e, ok := s.sessions[sessionID]; ok {
			return e
		}
	}
	st := state.NewSession(sessionID)
	e := &entry{state: st}
	s.sessions[st.SessionID] = e
	observability.SetActiveSessions(len(s.sessions))
	if s.logger != nil {
		s.logger.Info("session_created", "session_id", st.SessionID)
	}
	return e
}

func (s *Store) emit(ctx context.Context, st *state.Session, status string, durMS int) {
	if s.events == nil {
		return
	}
	_ = s.events.Publish(ctx, &eventbus.SessionAdvanced{
		SessionID:  st.SessionID,
		FlowStage:  string(st.FlowStage),
		Status:     status,
		DurationMS: durMS,
	})
}

// snapshot renders a session as a generic dict for persistence.
func snapshot(st *state.Session) map[string]any {
	data, err := json.Marshal(st)
	if err != nil {
		return map[string]any{"session_id": st.SessionID}
	}
	var out map[string]any
	if err := json.Unmarshal(data, &out); err != nil {
		return map[string]any{"session_id": st.SessionID}
	}
	return out
}

// ===== IN-MEMORY PERSISTENCE =====

// MemoryPersistence is a map-backed Persistence for single-process
// deployments and tests.
type MemoryPersistence struct {
	mu     sync.RWMutex
	states map[string]map[string]any
}

// NewMemoryPersistence creates an empty MemoryPersistence.
func NewMemoryPersistence() *MemoryPersistence {
	return &MemoryPersistence{states: make(map[string]map[string]any)}
}

// SaveState stores a snapshot.
func (m *MemoryPersistence) SaveState(_ context.Context, sessionID string, st map[string]any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.states[sessionID] = st
	return nil
}

// LoadState returns a stored snapshot, or nil when absent.
func (m *MemoryPersistence) LoadState(_ context.Context, sessionID string) (map[string]any, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.states[sessionID], nil
}

var _ Persistence = (*MemoryPersistence)(nil)
