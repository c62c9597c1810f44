// Package escalation implements the Escalation Engine: a declarative rule
// evaluator that watches a session for deadlock, timeout, veto, no-quorum,
// and round-limit conditions and fires the configured action (escalate to
// a human, add an agent, notify an external webhook, or abort) whenever one
// of a council's EscalationRule triggers matches, up to that rule's
// per-session fire cap.
//
// Rule evaluation in priority order with a per-session fire cap is a
// single ordered pass over declarative state, with bookkeeping kept in a
// plain map rather than a database so the hot path never blocks on I/O.
package escalation

import (
	"sort"
	"sync"
	"time"

	"github.com/council-run/council-core/internal/council"
	"github.com/council-run/council-core/internal/model"
	"github.com/council-run/council-core/pkg/logger"
)

// Signal captures everything an EscalationRule's trigger might need to
// evaluate against a session, gathered by the orchestrator each time it
// re-checks escalation for a session. The orchestrator re-checks on its
// periodic tick only; a state-changing event (a vote, a phase transition)
// does not trigger an immediate re-check.
type Signal struct {
	Phase             model.Phase
	Round             int
	IdleSince         time.Time
	Deadlocked        bool
	VetoExercised     bool
	NoQuorum          bool
	RoundLimitReached bool
}

// Firing is one escalation action the engine decided to execute.
type Firing struct {
	RuleName string
	Action   council.Action
}

// Engine evaluates a council's escalation rules against a session's
// current signal and tracks how many times each rule has fired per
// session, so max_fires_per_session is enforced across the whole session
// lifetime rather than per evaluation.
type Engine struct {
	mu    sync.Mutex
	fires map[string]map[string]int // sessionID -> ruleName -> fire count
}

// New creates an empty Engine.
func New() *Engine {
	return &Engine{fires: make(map[string]map[string]int)}
}

// Evaluate walks rules in priority order (ascending — lower numbers fire
// first) and returns every action whose trigger matches signal and whose
// per-session fire cap has not been reached, stopping at the first rule
// whose StopAfter is set. A rule's Phases filter, when non-empty,
// restricts it to firing only while the session is in one of the named
// phases.
func (e *Engine) Evaluate(sessionID string, rules []council.EscalationRule, signal Signal, now time.Time) []Firing {
	ordered := append([]council.EscalationRule(nil), rules...)
	sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].Priority < ordered[j].Priority })

	e.mu.Lock()
	defer e.mu.Unlock()

	sessionFires, ok := e.fires[sessionID]
	if !ok {
		sessionFires = make(map[string]int)
		e.fires[sessionID] = sessionFires
	}

	var firings []Firing
	for _, rule := range ordered {
		if sessionFires[rule.Name] >= rule.MaxFiresPerSession {
			continue
		}
		if !phaseAllowed(rule.Trigger.Phases, signal.Phase) {
			continue
		}
		if !triggerMatches(rule.Trigger, signal, now) {
			continue
		}

		sessionFires[rule.Name]++
		logger.Info("escalation rule fired",
			logger.FieldSessionID, sessionID,
			logger.FieldRuleName, rule.Name,
			"action", string(rule.Action.Type),
			"fire_count", sessionFires[rule.Name])
		firings = append(firings, Firing{RuleName: rule.Name, Action: rule.Action})

		if rule.StopAfter {
			break
		}
	}
	return firings
}

// Reset clears a session's fire-count bookkeeping, called once a session
// reaches a terminal phase so the Engine doesn't retain state forever.
func (e *Engine) Reset(sessionID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.fires, sessionID)
}

func phaseAllowed(phases []string, current model.Phase) bool {
	if len(phases) == 0 {
		return true
	}
	for _, p := range phases {
		if model.Phase(p) == current {
			return true
		}
	}
	return false
}

func triggerMatches(trigger council.Trigger, signal Signal, now time.Time) bool {
	switch trigger.Type {
	case council.TriggerDeadlock:
		return signal.Deadlocked
	case council.TriggerTimeout:
		if signal.IdleSince.IsZero() || trigger.TimeoutSeconds <= 0 {
			return false
		}
		return now.Sub(signal.IdleSince) >= time.Duration(trigger.TimeoutSeconds)*time.Second
	case council.TriggerVetoExercised:
		return signal.VetoExercised
	case council.TriggerNoQuorum:
		return signal.NoQuorum
	case council.TriggerRoundLimit:
		return signal.RoundLimitReached
	default:
		return false
	}
}
