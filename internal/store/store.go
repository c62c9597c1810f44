// Package store defines the Store interface the orchestrator persists
// sessions, transcripts, ballots, decisions, and webhook events through,
// plus an in-memory implementation used by tests and by councils that
// don't need durability across restarts. A durable adapter lives in
// internal/store/postgres.
package store

import (
	"context"
	"sort"
	"sync"

	"github.com/council-run/council-core/internal/model"
	apperrors "github.com/council-run/council-core/pkg/errors"
)

// Store is every persistence operation the orchestrator needs. Every
// method is safe for concurrent use.
type Store interface {
	SaveSession(ctx context.Context, s model.Session) error
	UpdateSession(ctx context.Context, s model.Session) error
	GetSession(ctx context.Context, id string) (model.Session, error)
	// ListSessions returns every session for councilID, optionally
	// narrowed to a single phase. Passing no phase (or the zero value)
	// returns sessions in every phase.
	ListSessions(ctx context.Context, councilID string, phase ...model.Phase) ([]model.Session, error)

	SaveMessage(ctx context.Context, m model.Message) error
	GetMessages(ctx context.Context, sessionID string) ([]model.Message, error)

	SaveVote(ctx context.Context, v model.Vote) error
	GetVotes(ctx context.Context, sessionID string) ([]model.Vote, error)

	SaveDecision(ctx context.Context, d model.Decision) error
	UpdateDecision(ctx context.Context, d model.Decision) error
	GetDecision(ctx context.Context, sessionID string) (model.Decision, error)
	ListPendingDecisions(ctx context.Context, councilID string) ([]model.Decision, error)

	SaveEvent(ctx context.Context, e model.WebhookEvent) error
	ListEvents(ctx context.Context, councilID string) ([]model.WebhookEvent, error)
}

// Memory is an in-process Store backed by plain maps, guarded by a single
// RWMutex. It keeps every record for the life of the process; there is no
// eviction, which is the correct tradeoff for tests and small councils
// and the wrong one for a long-running production deployment (use
// internal/store/postgres there).
type Memory struct {
	mu        sync.RWMutex
	sessions  map[string]model.Session
	messages  map[string][]model.Message // sessionID -> messages
	votes     map[string][]model.Vote    // sessionID -> votes
	decisions map[string]model.Decision  // sessionID -> decision
	events    map[string][]model.WebhookEvent
}

// NewMemory creates an empty in-memory Store.
func NewMemory() *Memory {
	return &Memory{
		sessions:  make(map[string]model.Session),
		messages:  make(map[string][]model.Message),
		votes:     make(map[string][]model.Vote),
		decisions: make(map[string]model.Decision),
		events:    make(map[string][]model.WebhookEvent),
	}
}

func (m *Memory) SaveSession(_ context.Context, s model.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[s.ID] = s
	return nil
}

func (m *Memory) UpdateSession(ctx context.Context, s model.Session) error {
	return m.SaveSession(ctx, s)
}

func (m *Memory) GetSession(_ context.Context, id string) (model.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	if !ok {
		return model.Session{}, apperrors.ErrNotFound
	}
	return s, nil
}

func (m *Memory) ListSessions(_ context.Context, councilID string, phase ...model.Phase) ([]model.Session, error) {
	var want model.Phase
	if len(phase) > 0 {
		want = phase[0]
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []model.Session
	for _, s := range m.sessions {
		if s.CouncilID != councilID {
			continue
		}
		if want != "" && s.Phase != want {
			continue
		}
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (m *Memory) SaveMessage(_ context.Context, msg model.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.messages[msg.SessionID] = append(m.messages[msg.SessionID], msg)
	return nil
}

func (m *Memory) GetMessages(_ context.Context, sessionID string) ([]model.Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := append([]model.Message(nil), m.messages[sessionID]...)
	return out, nil
}

func (m *Memory) SaveVote(_ context.Context, v model.Vote) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.votes[v.SessionID] = append(m.votes[v.SessionID], v)
	return nil
}

func (m *Memory) GetVotes(_ context.Context, sessionID string) ([]model.Vote, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := append([]model.Vote(nil), m.votes[sessionID]...)
	return out, nil
}

func (m *Memory) SaveDecision(_ context.Context, d model.Decision) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.decisions[d.SessionID] = d
	return nil
}

func (m *Memory) UpdateDecision(ctx context.Context, d model.Decision) error {
	return m.SaveDecision(ctx, d)
}

func (m *Memory) GetDecision(_ context.Context, sessionID string) (model.Decision, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	d, ok := m.decisions[sessionID]
	if !ok {
		return model.Decision{}, apperrors.ErrNotFound
	}
	return d, nil
}

func (m *Memory) ListPendingDecisions(_ context.Context, councilID string) ([]model.Decision, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []model.Decision
	for sessionID, d := range m.decisions {
		s, ok := m.sessions[sessionID]
		if !ok || s.CouncilID != councilID {
			continue
		}
		if d.FinalizedAt == nil {
			out = append(out, d)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (m *Memory) SaveEvent(_ context.Context, e model.WebhookEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events[e.CouncilID] = append(m.events[e.CouncilID], e)
	return nil
}

func (m *Memory) ListEvents(_ context.Context, councilID string) ([]model.WebhookEvent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := append([]model.WebhookEvent(nil), m.events[councilID]...)
	return out, nil
}
