package orchestrator

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/council-run/council-core/internal/model"
	"github.com/council-run/council-core/internal/voting"
	apperrors "github.com/council-run/council-core/pkg/errors"
	"github.com/council-run/council-core/pkg/logger"
)

// CastVote records agentID's ballot on sessionID, then re-tallies. If the
// council's voting scheme reaches a decision, the session moves on to
// review (when the council requires human approval) or straight to
// decided.
func (o *Orchestrator) CastVote(ctx context.Context, sessionID, agentID string, value model.VoteValue, reasoning string) (model.Session, model.Tally, error) {
	const op = "Orchestrator.CastVote"
	mu := o.lockFor(sessionID)
	mu.Lock()
	defer mu.Unlock()

	sess, err := o.store.GetSession(ctx, sessionID)
	if err != nil {
		return model.Session{}, model.Tally{}, apperrors.Wrap(err, op, "session not found")
	}
	if sess.Phase != model.PhaseVoting {
		return model.Session{}, model.Tally{}, apperrors.WithCode(apperrors.Wrap(apperrors.ErrNotInPhase, op, "session is not in the voting phase"), apperrors.CodeNotInPhase)
	}
	if !sess.IsParticipant(agentID) {
		return model.Session{}, model.Tally{}, apperrors.WithCode(apperrors.Wrap(apperrors.ErrNotAuthorized, op, "agent is not a participant in this session"), apperrors.CodeNotAuthorized)
	}

	c := o.currentCouncil()
	tallier := voting.New(c.Rules.VotingScheme)
	valid := false
	for _, v := range tallier.ValidVoteValues() {
		if v == value {
			valid = true
			break
		}
	}
	if !valid {
		return model.Session{}, model.Tally{}, apperrors.WithCode(apperrors.Wrap(apperrors.ErrInvalidVoteValue, op, "vote value not accepted by this council's scheme"), apperrors.CodeInvalidVoteValue)
	}

	allVotes, err := o.store.GetVotes(ctx, sessionID)
	if err != nil {
		return model.Session{}, model.Tally{}, apperrors.Wrap(err, op, "failed to load existing ballots")
	}
	existing := ballotsInRound(allVotes, sess.DeliberationRound)
	for _, v := range existing {
		if v.AgentID == agentID {
			return model.Session{}, model.Tally{}, apperrors.WithCode(apperrors.Wrap(apperrors.ErrAlreadyVoted, op, "agent already cast a ballot this round"), apperrors.CodeAlreadyVoted)
		}
	}

	vote := model.Vote{ID: uuid.NewString(), SessionID: sessionID, AgentID: agentID, Value: value, Reasoning: reasoning, Round: sess.DeliberationRound, CreatedAt: time.Now()}
	if err := o.store.SaveVote(ctx, vote); err != nil {
		return model.Session{}, model.Tally{}, apperrors.Wrap(err, op, "failed to persist ballot")
	}
	ballots := append(existing, vote)

	tally := tallier.Tally(ballots, c.Agents, c.Rules, sess.ExpectedVoters())
	logger.Info("vote cast", logger.FieldSessionID, sessionID, logger.FieldAgentID, agentID, "outcome", string(tally.Outcome))

	if _, err := o.postMessageLocked(ctx, sess, agentID, "", model.MessageSystem, "cast a "+string(value)+" vote"); err != nil {
		return model.Session{}, model.Tally{}, err
	}

	if tally.Outcome == "" {
		sess.UpdatedAt = time.Now()
		if err := o.store.UpdateSession(ctx, sess); err != nil {
			logger.Warn("orchestrator: failed to bump session activity timestamp", logger.FieldSessionID, sessionID, logger.FieldError, err)
		}
		return sess, tally, nil
	}

	moreRoundsAvailable := c.Rules.MaxDeliberationRounds > 0 && sess.DeliberationRound+1 < c.Rules.MaxDeliberationRounds
	if tally.Outcome == model.OutcomeRejected && !tally.VetoExercised && moreRoundsAvailable {
		sess, err = o.transitionPhase(ctx, sess, model.PhaseDiscussion)
		return sess, tally, err
	}

	decision := model.Decision{
		ID:            uuid.NewString(),
		SessionID:     sessionID,
		Outcome:       tally.Outcome,
		Tally:         tally,
		VetoExercised: tally.VetoExercised,
		CreatedAt:     time.Now(),
	}

	if c.Rules.RequireHumanApproval || tally.Outcome == model.OutcomeEscalated {
		if err := o.store.SaveDecision(ctx, decision); err != nil {
			return model.Session{}, model.Tally{}, apperrors.Wrap(err, op, "failed to persist pending decision")
		}
		sess, err = o.transitionPhase(ctx, sess, model.PhaseReview)
		return sess, tally, err
	}

	now := time.Now()
	decision.FinalizedAt = &now
	if err := o.store.SaveDecision(ctx, decision); err != nil {
		return model.Session{}, model.Tally{}, apperrors.Wrap(err, op, "failed to persist decision")
	}
	sess, err = o.transitionPhase(ctx, sess, model.PhaseDecided)
	return sess, tally, err
}

// SubmitReview records a human reviewer's final call on a session sitting
// in the review phase, overriding or confirming the vote tally's lean. The
// original tally snapshot is preserved on the decision regardless of the
// reviewer's call, so the record always shows what the agents actually
// voted.
func (o *Orchestrator) SubmitReview(ctx context.Context, sessionID, reviewerID string, approve bool, notes string) (model.Session, error) {
	const op = "Orchestrator.SubmitReview"
	mu := o.lockFor(sessionID)
	mu.Lock()
	defer mu.Unlock()

	sess, err := o.store.GetSession(ctx, sessionID)
	if err != nil {
		return model.Session{}, apperrors.Wrap(err, op, "session not found")
	}
	if sess.Phase != model.PhaseReview {
		return model.Session{}, apperrors.WithCode(apperrors.Wrap(apperrors.ErrNotInPhase, op, "session is not awaiting review"), apperrors.CodeNotInPhase)
	}

	decision, err := o.store.GetDecision(ctx, sessionID)
	if err != nil {
		return model.Session{}, apperrors.Wrap(err, op, "no pending decision found for this session")
	}

	if approve {
		decision.Outcome = model.OutcomeApproved
	} else {
		decision.Outcome = model.OutcomeRejected
	}
	decision.HumanReviewedBy = reviewerID
	decision.HumanNotes = notes
	now := time.Now()
	decision.FinalizedAt = &now
	if err := o.store.UpdateDecision(ctx, decision); err != nil {
		return model.Session{}, apperrors.Wrap(err, op, "failed to persist reviewed decision")
	}

	return o.transitionPhase(ctx, sess, model.PhaseDecided)
}

// AbortSession moves a session straight to the aborted terminal phase from
// any non-terminal phase, recording reason on the resulting decision.
func (o *Orchestrator) AbortSession(ctx context.Context, sessionID, reason string) (model.Session, error) {
	const op = "Orchestrator.AbortSession"
	mu := o.lockFor(sessionID)
	mu.Lock()
	defer mu.Unlock()

	sess, err := o.store.GetSession(ctx, sessionID)
	if err != nil {
		return model.Session{}, apperrors.Wrap(err, op, "session not found")
	}
	if sess.Phase.Terminal() {
		return model.Session{}, apperrors.WithCode(apperrors.Wrap(apperrors.ErrInvalidTransition, op, "session already reached a terminal phase"), apperrors.CodeInvalidTransition)
	}

	now := time.Now()
	decision := model.Decision{ID: uuid.NewString(), SessionID: sessionID, Outcome: model.OutcomeAborted, HumanNotes: reason, CreatedAt: now, FinalizedAt: &now}
	if err := o.store.SaveDecision(ctx, decision); err != nil {
		return model.Session{}, apperrors.Wrap(err, op, "failed to persist abort decision")
	}

	return o.transitionPhase(ctx, sess, model.PhaseAborted)
}

// ballotsInRound returns only the ballots cast during the given
// deliberation round, so a session sent back to discussion for another
// round of voting doesn't have its new ballots tallied alongside stale
// ones from a round that already failed to reach consensus.
func ballotsInRound(votes []model.Vote, round int) []model.Vote {
	filtered := make([]model.Vote, 0, len(votes))
	for _, v := range votes {
		if v.Round == round {
			filtered = append(filtered, v)
		}
	}
	return filtered
}
