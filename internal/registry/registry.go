// Package registry implements the Agent Registry and token resolver: it
// issues the bearer tokens a spawned agent process uses to authenticate
// back to the orchestrator, and tracks which sessions each agent is
// currently assigned to.
//
// State lives behind a single RWMutex; mutation methods take the write
// lock only long enough to update the map, and Statuses copies every
// entry out under a read lock so callers never hold a reference into live
// internal state.
package registry

import (
	"crypto/rand"
	"encoding/hex"
	"sync"
	"time"

	apperrors "github.com/council-run/council-core/pkg/errors"
)

// tokenPrefix and persistentTokenPrefix give generated tokens the exact
// shape callers match on: council_{agentId}_{nonce} for a per-session
// token, council_persistent_{agentId}_{nonce} for an agent configured with
// persistent: true.
const (
	tokenPrefix           = "council_"
	persistentTokenMarker = "persistent_"
	nonceBytes            = 16
)

// AgentStatus is a point-in-time view of one agent's registration.
type AgentStatus struct {
	AgentID          string
	Persistent       bool
	Token            string
	ActiveSessionIDs []string
	RegisteredAt     time.Time
	LastSeenAt       time.Time
}

// entry is the registry's internal, mutable record for one agent.
type entry struct {
	agentID      string
	persistent   bool
	token        string
	sessions     map[string]bool
	registeredAt time.Time
	lastSeenAt   time.Time
}

// Registry issues and resolves agent bearer tokens and tracks which
// sessions each agent currently participates in.
type Registry struct {
	mu      sync.RWMutex
	agents  map[string]*entry // keyed by agent id
	byToken map[string]string // token -> agent id
}

// New creates an empty Registry.
func New() *Registry {
	return &Registry{
		agents:  make(map[string]*entry),
		byToken: make(map[string]string),
	}
}

// IssueToken generates and records a new bearer token for agentID,
// replacing any token previously issued to it. persistent agents keep the
// council_persistent_ prefix so a resolver can tell at a glance that the
// token is expected to outlive any single session.
//
// For a persistent agent that already holds a token (either minted by an
// earlier call or installed by SetPersistentToken at startup), IssueToken
// is idempotent: it returns the existing token unchanged instead of
// minting and swapping in a new one. A persistent agent's token is meant
// to survive across sessions and process restarts, so repeated spawns
// must keep authenticating with the same bearer value.
func (r *Registry) IssueToken(agentID string, persistent bool) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if persistent {
		if e, ok := r.agents[agentID]; ok && e.persistent && e.token != "" {
			e.lastSeenAt = time.Now()
			return e.token, nil
		}
	}

	nonce, err := randomNonce()
	if err != nil {
		return "", apperrors.Wrap(err, "Registry.IssueToken", "failed to generate token nonce")
	}

	token := tokenPrefix + agentID + "_" + nonce
	if persistent {
		token = tokenPrefix + persistentTokenMarker + agentID + "_" + nonce
	}

	e, ok := r.agents[agentID]
	if !ok {
		e = &entry{agentID: agentID, sessions: make(map[string]bool), registeredAt: time.Now()}
		r.agents[agentID] = e
	}
	if e.token != "" {
		delete(r.byToken, e.token)
	}
	e.token = token
	e.persistent = persistent
	e.lastSeenAt = time.Now()
	r.byToken[token] = agentID

	return token, nil
}

// SetPersistentToken installs a token loaded from external persistent
// storage at startup, so a persistent agent that already has a live token
// from a previous process lifetime keeps authenticating with it instead
// of being issued a fresh one on its next spawn. Overwrites any token
// already recorded for agentID.
func (r *Registry) SetPersistentToken(agentID, token string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.agents[agentID]
	if !ok {
		e = &entry{agentID: agentID, sessions: make(map[string]bool), registeredAt: time.Now()}
		r.agents[agentID] = e
	}
	if e.token != "" {
		delete(r.byToken, e.token)
	}
	e.token = token
	e.persistent = true
	e.lastSeenAt = time.Now()
	r.byToken[token] = agentID
}

// ResolveToken returns the agent id a bearer token was issued to, or
// ErrUnknownAgent if the token is not currently valid.
func (r *Registry) ResolveToken(token string) (string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	agentID, ok := r.byToken[token]
	if !ok {
		return "", apperrors.ErrUnknownAgent
	}
	return agentID, nil
}

// Touch records that agentID was just seen (e.g. it made an authenticated
// call), used to populate AgentStatus.LastSeenAt.
func (r *Registry) Touch(agentID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.agents[agentID]; ok {
		e.lastSeenAt = time.Now()
	}
}

// AssignSession records agentID as an active participant in sessionID.
func (r *Registry) AssignSession(agentID, sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.agents[agentID]
	if !ok {
		e = &entry{agentID: agentID, sessions: make(map[string]bool), registeredAt: time.Now()}
		r.agents[agentID] = e
	}
	e.sessions[sessionID] = true
}

// UnassignSession removes agentID from sessionID's active participants,
// called once a session reaches a terminal phase.
func (r *Registry) UnassignSession(agentID, sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.agents[agentID]; ok {
		delete(e.sessions, sessionID)
	}
}

// ActiveSessions returns every session id agentID is currently assigned
// to.
func (r *Registry) ActiveSessions(agentID string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.agents[agentID]
	if !ok {
		return nil
	}
	sessions := make([]string, 0, len(e.sessions))
	for id := range e.sessions {
		sessions = append(sessions, id)
	}
	return sessions
}

// IsConnected reports whether agentID has ever been issued a token.
func (r *Registry) IsConnected(agentID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.agents[agentID]
	return ok && e.token != ""
}

// Statuses returns a point-in-time snapshot of every registered agent.
func (r *Registry) Statuses() []AgentStatus {
	r.mu.RLock()
	defer r.mu.RUnlock()

	statuses := make([]AgentStatus, 0, len(r.agents))
	for _, e := range r.agents {
		sessions := make([]string, 0, len(e.sessions))
		for id := range e.sessions {
			sessions = append(sessions, id)
		}
		statuses = append(statuses, AgentStatus{
			AgentID:          e.agentID,
			Persistent:       e.persistent,
			Token:            e.token,
			ActiveSessionIDs: sessions,
			RegisteredAt:     e.registeredAt,
			LastSeenAt:       e.lastSeenAt,
		})
	}
	return statuses
}

func randomNonce() (string, error) {
	buf := make([]byte, nonceBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}
