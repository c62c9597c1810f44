package orchestrator

import (
	"context"
	"time"

	"github.com/council-run/council-core/internal/council"
	"github.com/council-run/council-core/internal/escalation"
	"github.com/council-run/council-core/internal/model"
	"github.com/council-run/council-core/internal/voting"
	"github.com/council-run/council-core/pkg/logger"
	"github.com/council-run/council-core/pkg/safego"
)

// Run drives the orchestrator's periodic escalation sweep until ctx is
// canceled.
func (o *Orchestrator) Run(ctx context.Context) error {
	logger.Info("orchestrator started")

	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info("orchestrator shutting down")
			return nil
		case <-ticker.C:
			o.tick(ctx)
		}
	}
}

// tick re-evaluates escalation for every non-terminal session of the
// orchestrator's current council.
func (o *Orchestrator) tick(ctx context.Context) {
	c := o.currentCouncil()
	sessions, err := o.store.ListSessions(ctx, c.ID)
	if err != nil {
		logger.Error("orchestrator: tick failed to list sessions", logger.FieldError, err)
		return
	}

	now := time.Now()
	for _, sess := range sessions {
		if sess.Phase.Terminal() {
			continue
		}
		o.evaluateEscalation(ctx, c, sess, now)
	}
}

func (o *Orchestrator) evaluateEscalation(ctx context.Context, c *council.Council, sess model.Session, now time.Time) {
	roundLimitReached := c.Rules.MaxDeliberationRounds > 0 && sess.DeliberationRound >= c.Rules.MaxDeliberationRounds
	signal := escalation.Signal{
		Phase:             sess.Phase,
		Round:             sess.DeliberationRound,
		IdleSince:         sess.UpdatedAt,
		RoundLimitReached: roundLimitReached,
	}

	if sess.Phase == model.PhaseVoting {
		votes, err := o.store.GetVotes(ctx, sess.ID)
		if err != nil {
			logger.Error("orchestrator: tick failed to load votes", logger.FieldSessionID, sess.ID, logger.FieldError, err)
		} else {
			votes = ballotsInRound(votes, sess.DeliberationRound)
			tally := voting.New(c.Rules.VotingScheme).Tally(votes, c.Agents, c.Rules, sess.ExpectedVoters())
			signal.VetoExercised = tally.VetoExercised
			// deadlock: quorum met, no decisive outcome reached yet (neither
			// approved nor unanimous agreement), and no deliberation rounds
			// remain to send the session back to discussion.
			signal.Deadlocked = tally.QuorumMet && tally.Outcome == "" && roundLimitReached
			// no_quorum: the tally came up short of quorum even though every
			// expected voter has already cast a ballot this round.
			signal.NoQuorum = !tally.QuorumMet && len(votes) >= len(sess.ExpectedVoters())
		}
	}

	firings := o.engine.Evaluate(sess.ID, c.Rules.Escalation, signal, now)
	for _, firing := range firings {
		o.executeAction(ctx, c, sess, firing)
	}
}

func (o *Orchestrator) executeAction(ctx context.Context, c *council.Council, sess model.Session, firing escalation.Firing) {
	switch firing.Action.Type {
	case council.ActionEscalateToHuman:
		if sess.Phase != model.PhaseReview && !sess.Phase.Terminal() {
			if _, err := o.transitionPhase(ctx, sess, model.PhaseReview); err != nil {
				logger.Error("orchestrator: escalation failed to move session to review",
					logger.FieldSessionID, sess.ID, logger.FieldRuleName, firing.RuleName, logger.FieldError, err)
			}
		}
	case council.ActionAddAgent:
		if firing.Action.AgentID != "" && c.AgentByID(firing.Action.AgentID) != nil {
			o.addConsultAgent(ctx, c, sess, firing.Action.AgentID)
		}
	case council.ActionNotifyExternal:
		url := firing.Action.WebhookURL
		safego.Go(func() { notifyExternal(url, sess.ID, firing.RuleName, firing.Action.Message) })
	case council.ActionAbort:
		if !sess.Phase.Terminal() {
			if _, err := o.AbortSession(ctx, sess.ID, firing.Action.Reason); err != nil {
				logger.Error("orchestrator: escalation failed to abort session",
					logger.FieldSessionID, sess.ID, logger.FieldRuleName, firing.RuleName, logger.FieldError, err)
			}
		}
	}
}

func (o *Orchestrator) addConsultAgent(ctx context.Context, c *council.Council, sess model.Session, agentID string) {
	if sess.IsParticipant(agentID) {
		return
	}
	sess.ConsultAgentIDs = append(sess.ConsultAgentIDs, agentID)
	if err := o.store.UpdateSession(ctx, sess); err != nil {
		logger.Error("orchestrator: failed to persist added consult agent",
			logger.FieldSessionID, sess.ID, logger.FieldAgentID, agentID, logger.FieldError, err)
		return
	}
	o.registry.AssignSession(agentID, sess.ID)
	o.spawnAgent(ctx, c, sess, agentID)
	o.publishSystemMessage(sess, "escalation added agent "+agentID)
}
