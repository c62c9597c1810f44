// Package orchestrator implements the Session Orchestrator: the component
// that owns a session's phase state machine and ties the bus, router,
// registry, voting, escalation, store, and spawner packages together into
// one deliberation lifecycle.
//
// Session mutation is serialized per session id via a striped set of
// mutexes rather than one global lock, so two unrelated sessions never
// block each other. A periodic ticker drives escalation re-evaluation
// independent of the per-session locks.
package orchestrator

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/council-run/council-core/internal/bus"
	"github.com/council-run/council-core/internal/council"
	"github.com/council-run/council-core/internal/escalation"
	"github.com/council-run/council-core/internal/model"
	"github.com/council-run/council-core/internal/registry"
	"github.com/council-run/council-core/internal/router"
	"github.com/council-run/council-core/internal/spawner"
	"github.com/council-run/council-core/internal/store"
	"github.com/council-run/council-core/internal/voting"
	apperrors "github.com/council-run/council-core/pkg/errors"
	"github.com/council-run/council-core/pkg/logger"
	"github.com/council-run/council-core/pkg/safego"
)

// tickInterval is how often Run re-evaluates escalation for every active
// session.
const tickInterval = 5 * time.Second

// validTransitions is the session phase state machine: the set of phases
// each phase may legally move to next.
var validTransitions = map[model.Phase]map[model.Phase]bool{
	model.PhaseCreated:       {model.PhaseInvestigation: true, model.PhaseProposal: true, model.PhaseAborted: true},
	model.PhaseInvestigation: {model.PhaseProposal: true, model.PhaseAborted: true},
	model.PhaseProposal:      {model.PhaseDiscussion: true, model.PhaseAborted: true},
	model.PhaseDiscussion:    {model.PhaseVoting: true, model.PhaseProposal: true, model.PhaseAborted: true},
	model.PhaseVoting:        {model.PhaseReview: true, model.PhaseDecided: true, model.PhaseDiscussion: true, model.PhaseAborted: true},
	model.PhaseReview:        {model.PhaseDecided: true, model.PhaseAborted: true},
	model.PhaseDecided:       {},
	model.PhaseAborted:       {},
}

// Orchestrator owns the full deliberation lifecycle for one council.
type Orchestrator struct {
	mu       sync.RWMutex // guards council swap on Reload
	council  *council.Council
	bus      *bus.Bus
	router   *router.Router
	registry *registry.Registry
	engine   *escalation.Engine
	store    store.Store
	spawner  spawner.Spawner

	locks sync.Map // sessionID -> *sync.Mutex, serializes mutation per session
}

// New wires an Orchestrator for c, backed by st for persistence and sp for
// agent launches.
func New(c *council.Council, st store.Store, sp spawner.Spawner) *Orchestrator {
	return &Orchestrator{
		council:  c,
		bus:      bus.New(c.Graph),
		router:   router.New(c.EventRouting),
		registry: registry.New(),
		engine:   escalation.New(),
		store:    st,
		spawner:  sp,
	}
}

// Bus returns the session message bus, for wiring observers (e.g. the
// websocket lifecycle fan-out).
func (o *Orchestrator) Bus() *bus.Bus { return o.bus }

// Reload swaps in a newly loaded council configuration, applying its
// communication graph and event routing rules immediately and its rules
// to every subsequent operation. In-flight sessions keep running under
// whatever rules are read at the moment they're evaluated next.
func (o *Orchestrator) Reload(c *council.Council) {
	o.mu.Lock()
	o.council = c
	o.mu.Unlock()

	o.bus.UpdateGraph(c.Graph)
	o.router.UpdateRules(c.EventRouting)
	logger.Info("orchestrator: council configuration reloaded", logger.FieldCouncilID, c.ID)
}

func (o *Orchestrator) currentCouncil() *council.Council {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.council
}

func (o *Orchestrator) lockFor(sessionID string) *sync.Mutex {
	l, _ := o.locks.LoadOrStore(sessionID, &sync.Mutex{})
	return l.(*sync.Mutex)
}

// ========================================
// Session creation / routing
// ========================================

// HandleWebhookEvent routes event against the council's event routing
// rules and, on a match, creates a new session with the matched lead and
// consulting agents. It returns apperrors.ErrNotFound if no rule matches.
func (o *Orchestrator) HandleWebhookEvent(ctx context.Context, event model.WebhookEvent) (model.Session, error) {
	const op = "Orchestrator.HandleWebhookEvent"
	c := o.currentCouncil()

	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.ReceivedAt.IsZero() {
		event.ReceivedAt = time.Now()
	}
	if err := o.store.SaveEvent(ctx, event); err != nil {
		return model.Session{}, apperrors.Wrap(err, op, "failed to persist webhook event")
	}

	assign, ok := o.router.Route(event)
	if !ok {
		return model.Session{}, apperrors.Wrap(apperrors.ErrNotFound, op, "no event routing rule matched")
	}

	return o.createSession(ctx, c, event.ID, assign.Lead, assign.Consult, event.EventType, model.PhaseInvestigation)
}

// CreateSession creates a session directly with an explicit lead/consult
// assignment, bypassing event routing. Used for manually convened
// councils that don't originate from a webhook. phase is optional; the
// zero value defaults to proposal, matching a session that starts with
// its proposal already in hand rather than needing investigation first.
func (o *Orchestrator) CreateSession(ctx context.Context, lead string, consult []string, title string, phase ...model.Phase) (model.Session, error) {
	initialPhase := model.PhaseProposal
	if len(phase) > 0 && phase[0] != "" {
		initialPhase = phase[0]
	}
	return o.createSession(ctx, o.currentCouncil(), "", lead, consult, title, initialPhase)
}

func (o *Orchestrator) createSession(ctx context.Context, c *council.Council, sourceEventID, lead string, consult []string, title string, initialPhase model.Phase) (model.Session, error) {
	const op = "Orchestrator.createSession"

	if c.AgentByID(lead) == nil {
		return model.Session{}, apperrors.Wrap(apperrors.ErrUnknownAgent, op, "lead agent not found in council roster: "+lead)
	}
	for _, id := range consult {
		if c.AgentByID(id) == nil {
			return model.Session{}, apperrors.Wrap(apperrors.ErrUnknownAgent, op, "consult agent not found in council roster: "+id)
		}
	}

	now := time.Now()
	sess := model.Session{
		ID:              uuid.NewString(),
		CouncilID:       c.ID,
		Title:           title,
		SourceEventID:   sourceEventID,
		LeadAgentID:     lead,
		ConsultAgentIDs: append([]string(nil), consult...),
		Phase:           model.PhaseCreated,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := o.store.SaveSession(ctx, sess); err != nil {
		return model.Session{}, apperrors.Wrap(err, op, "failed to persist session")
	}

	for _, agentID := range sess.ExpectedVoters() {
		o.registry.AssignSession(agentID, sess.ID)
		o.spawnAgent(ctx, c, sess, agentID)
	}

	o.publishSystemMessage(sess, "session created")

	sess, err := o.transitionPhase(ctx, sess, initialPhase)
	if err != nil {
		return model.Session{}, err
	}
	return sess, nil
}

func (o *Orchestrator) spawnAgent(ctx context.Context, c *council.Council, sess model.Session, agentID string) {
	agent := c.AgentByID(agentID)
	if agent == nil || o.spawner == nil {
		return
	}
	token, err := o.registry.IssueToken(agentID, agent.Persistent)
	if err != nil {
		logger.Error("orchestrator: failed to issue agent token",
			logger.FieldAgentID, agentID, logger.FieldError, err)
		return
	}
	o.spawner.Spawn(ctx, model.SpawnTask{
		SessionID:    sess.ID,
		AgentID:      agentID,
		AgentName:    agent.Name,
		SystemPrompt: agent.SystemPrompt,
		Model:        agent.Model,
		Context:      sess.Title,
		AgentToken:   token,
	})
}

// ========================================
// Phase transitions
// ========================================

func (o *Orchestrator) transitionPhase(ctx context.Context, sess model.Session, target model.Phase) (model.Session, error) {
	const op = "Orchestrator.transitionPhase"
	if !validTransitions[sess.Phase][target] {
		return model.Session{}, apperrors.WithCode(
			apperrors.Wrapf(apperrors.ErrInvalidTransition, op, "%s -> %s is not a legal transition", sess.Phase, target),
			apperrors.CodeInvalidTransition)
	}

	if target == model.PhaseDiscussion && sess.Phase == model.PhaseVoting {
		sess.DeliberationRound++
	}
	sess.Phase = target
	sess.UpdatedAt = time.Now()
	if target.Terminal() {
		now := sess.UpdatedAt
		sess.TerminalAt = &now
	}
	if err := o.store.UpdateSession(ctx, sess); err != nil {
		return model.Session{}, apperrors.Wrap(err, op, "failed to persist phase transition")
	}

	logger.Info("session phase transition",
		logger.FieldSessionID, sess.ID, logger.FieldPhase, string(target))
	o.publishSystemMessage(sess, "phase -> "+string(target))

	if target.Terminal() {
		o.engine.Reset(sess.ID)
		for _, agentID := range sess.ExpectedVoters() {
			o.registry.UnassignSession(agentID, sess.ID)
		}
	}
	return sess, nil
}

// TransitionPhase drives sessionID to newPhase through the same
// validated state machine every other phase-changing operation uses,
// for callers that need a transition the built-in wrappers (OpenVoting,
// CastVote, ...) don't already cover. Fails with ErrInvalidTransition if
// newPhase is not a legal move from the session's current phase.
func (o *Orchestrator) TransitionPhase(ctx context.Context, sessionID string, newPhase model.Phase) (model.Session, error) {
	mu := o.lockFor(sessionID)
	mu.Lock()
	defer mu.Unlock()

	sess, err := o.store.GetSession(ctx, sessionID)
	if err != nil {
		return model.Session{}, apperrors.Wrap(err, "Orchestrator.TransitionPhase", "session not found")
	}
	return o.transitionPhase(ctx, sess, newPhase)
}

// GetSession reads sessionID straight through the Store.
func (o *Orchestrator) GetSession(ctx context.Context, sessionID string) (model.Session, error) {
	sess, err := o.store.GetSession(ctx, sessionID)
	if err != nil {
		return model.Session{}, apperrors.Wrap(err, "Orchestrator.GetSession", "session not found")
	}
	return sess, nil
}

// ListSessions reads every session for councilID straight through the
// Store, optionally narrowed to a single phase.
func (o *Orchestrator) ListSessions(ctx context.Context, councilID string, phase ...model.Phase) ([]model.Session, error) {
	sessions, err := o.store.ListSessions(ctx, councilID, phase...)
	if err != nil {
		return nil, apperrors.Wrap(err, "Orchestrator.ListSessions", "failed to list sessions")
	}
	return sessions, nil
}

func (o *Orchestrator) publishSystemMessage(sess model.Session, content string) {
	o.bus.Publish(model.Message{
		SessionID:   sess.ID,
		FromAgentID: "system",
		Type:        model.MessageSystem,
		Content:     content,
	})
}

// ========================================
// Messaging
// ========================================

// PostMessage appends a message to a session's transcript and fans it out
// on the bus, enforcing session membership and the council's communication
// graph for direct messages.
func (o *Orchestrator) PostMessage(ctx context.Context, sessionID, fromAgentID, toAgentID string, msgType model.MessageType, content string) (model.Message, error) {
	const op = "Orchestrator.PostMessage"
	mu := o.lockFor(sessionID)
	mu.Lock()
	defer mu.Unlock()

	sess, err := o.store.GetSession(ctx, sessionID)
	if err != nil {
		return model.Message{}, apperrors.Wrap(err, op, "session not found")
	}
	if sess.Phase.Terminal() {
		return model.Message{}, apperrors.WithCode(apperrors.Wrap(apperrors.ErrNotInPhase, op, "session already reached a terminal phase"), apperrors.CodeNotInPhase)
	}
	if !sess.IsParticipant(fromAgentID) {
		return model.Message{}, apperrors.WithCode(apperrors.Wrap(apperrors.ErrNotAuthorized, op, "agent is not a participant in this session"), apperrors.CodeNotAuthorized)
	}
	if toAgentID != "" {
		if !sess.IsParticipant(toAgentID) {
			return model.Message{}, apperrors.WithCode(apperrors.Wrap(apperrors.ErrNotAuthorized, op, "target agent is not a participant in this session"), apperrors.CodeNotAuthorized)
		}
		if !o.bus.CanCommunicate(fromAgentID, toAgentID) {
			return model.Message{}, apperrors.WithCode(apperrors.Wrap(apperrors.ErrNotAuthorized, op, "communication graph denies this direct message"), apperrors.CodeNotAuthorized)
		}
	}

	msg := model.Message{
		ID:          uuid.NewString(),
		SessionID:   sessionID,
		FromAgentID: fromAgentID,
		ToAgentID:   toAgentID,
		Type:        msgType,
		Content:     content,
		CreatedAt:   time.Now(),
	}
	if err := o.store.SaveMessage(ctx, msg); err != nil {
		return model.Message{}, apperrors.Wrap(err, op, "failed to persist message")
	}
	msg = o.bus.Publish(msg)

	sess.UpdatedAt = msg.CreatedAt
	if err := o.store.UpdateSession(ctx, sess); err != nil {
		logger.Warn("orchestrator: failed to bump session activity timestamp", logger.FieldSessionID, sessionID, logger.FieldError, err)
	}
	return msg, nil
}

// CreateProposal posts agentID's proposal and advances the session from
// investigation into discussion. Only the session's lead agent, and only
// an agent whose council configuration allows it, may propose.
func (o *Orchestrator) CreateProposal(ctx context.Context, sessionID, agentID, content string) (model.Session, error) {
	const op = "Orchestrator.CreateProposal"
	mu := o.lockFor(sessionID)
	mu.Lock()
	defer mu.Unlock()

	sess, err := o.store.GetSession(ctx, sessionID)
	if err != nil {
		return model.Session{}, apperrors.Wrap(err, op, "session not found")
	}
	if sess.LeadAgentID != agentID {
		return model.Session{}, apperrors.WithCode(apperrors.Wrap(apperrors.ErrNotAuthorized, op, "only the session lead may propose"), apperrors.CodeNotAuthorized)
	}
	c := o.currentCouncil()
	if agent := c.AgentByID(agentID); agent == nil || !agent.CanPropose {
		return model.Session{}, apperrors.WithCode(apperrors.Wrap(apperrors.ErrNotAuthorized, op, "agent is not configured to propose"), apperrors.CodeNotAuthorized)
	}
	if sess.Phase != model.PhaseInvestigation && sess.Phase != model.PhaseProposal && sess.Phase != model.PhaseDiscussion {
		return model.Session{}, apperrors.WithCode(apperrors.Wrap(apperrors.ErrNotInPhase, op, "session is not accepting proposals in its current phase"), apperrors.CodeNotInPhase)
	}

	if sess.Phase == model.PhaseInvestigation {
		sess, err = o.transitionPhase(ctx, sess, model.PhaseProposal)
		if err != nil {
			return model.Session{}, err
		}
	}

	if _, err := o.postMessageLocked(ctx, sess, agentID, "", model.MessageProposal, content); err != nil {
		return model.Session{}, err
	}

	if sess.Phase == model.PhaseProposal {
		sess, err = o.transitionPhase(ctx, sess, model.PhaseDiscussion)
		if err != nil {
			return model.Session{}, err
		}
	}
	return sess, nil
}

// postMessageLocked is PostMessage's body, reused by callers that already
// hold the session's lock (CreateProposal).
func (o *Orchestrator) postMessageLocked(ctx context.Context, sess model.Session, fromAgentID, toAgentID string, msgType model.MessageType, content string) (model.Message, error) {
	const op = "Orchestrator.postMessageLocked"
	msg := model.Message{
		ID:          uuid.NewString(),
		SessionID:   sess.ID,
		FromAgentID: fromAgentID,
		ToAgentID:   toAgentID,
		Type:        msgType,
		Content:     content,
		CreatedAt:   time.Now(),
	}
	if err := o.store.SaveMessage(ctx, msg); err != nil {
		return model.Message{}, apperrors.Wrap(err, op, "failed to persist message")
	}
	return o.bus.Publish(msg), nil
}

// OpenVoting moves a session from discussion into voting, where CastVote
// becomes available.
func (o *Orchestrator) OpenVoting(ctx context.Context, sessionID string) (model.Session, error) {
	mu := o.lockFor(sessionID)
	mu.Lock()
	defer mu.Unlock()

	sess, err := o.store.GetSession(ctx, sessionID)
	if err != nil {
		return model.Session{}, apperrors.Wrap(err, "Orchestrator.OpenVoting", "session not found")
	}
	return o.transitionPhase(ctx, sess, model.PhaseVoting)
}
