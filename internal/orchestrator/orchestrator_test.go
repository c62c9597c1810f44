package orchestrator

import (
	"context"
	"testing"

	"github.com/council-run/council-core/internal/council"
	"github.com/council-run/council-core/internal/model"
	"github.com/council-run/council-core/internal/spawner"
	"github.com/council-run/council-core/internal/store"
)

func testCouncil() *council.Council {
	return &council.Council{
		ID:   "c1",
		Name: "product-council",
		Rules: council.Rules{
			Quorum:                2,
			VotingThreshold:       0.5,
			VotingScheme:          council.SchemeWeightedMajority,
			MaxDeliberationRounds: 3,
		},
		Agents: []council.AgentConfig{
			{ID: "cto", Name: "CTO", CanPropose: true, CanVeto: true, VotingWeight: 1},
			{ID: "cpo", Name: "CPO", CanPropose: true, VotingWeight: 1},
		},
		Graph: council.CommunicationGraph{DefaultPolicy: council.PolicyBroadcast},
	}
}

func newTestOrchestrator() *Orchestrator {
	return New(testCouncil(), store.NewMemory(), spawner.NewLogSpawner())
}

func TestCreateSessionDefaultsToProposal(t *testing.T) {
	o := newTestOrchestrator()
	sess, err := o.CreateSession(context.Background(), "cto", []string{"cpo"}, "should we ship it")
	if err != nil {
		t.Fatalf("CreateSession failed: %v", err)
	}
	if sess.Phase != model.PhaseProposal {
		t.Errorf("Phase = %q, want proposal", sess.Phase)
	}
}

func TestCreateSessionHonorsExplicitPhase(t *testing.T) {
	o := newTestOrchestrator()
	sess, err := o.CreateSession(context.Background(), "cto", []string{"cpo"}, "should we ship it", model.PhaseInvestigation)
	if err != nil {
		t.Fatalf("CreateSession failed: %v", err)
	}
	if sess.Phase != model.PhaseInvestigation {
		t.Errorf("Phase = %q, want investigation", sess.Phase)
	}
}

func TestCreateSessionRejectsUnknownLead(t *testing.T) {
	o := newTestOrchestrator()
	_, err := o.CreateSession(context.Background(), "nobody", nil, "x")
	if err == nil {
		t.Fatal("expected error for unknown lead agent")
	}
}

func TestCreateProposalAdvancesToDiscussion(t *testing.T) {
	o := newTestOrchestrator()
	ctx := context.Background()
	sess, _ := o.CreateSession(ctx, "cto", []string{"cpo"}, "x")

	sess, err := o.CreateProposal(ctx, sess.ID, "cto", "ship it")
	if err != nil {
		t.Fatalf("CreateProposal failed: %v", err)
	}
	if sess.Phase != model.PhaseDiscussion {
		t.Errorf("Phase = %q, want discussion", sess.Phase)
	}
}

func TestCreateProposalRejectsNonLead(t *testing.T) {
	o := newTestOrchestrator()
	ctx := context.Background()
	sess, _ := o.CreateSession(ctx, "cto", []string{"cpo"}, "x")

	if _, err := o.CreateProposal(ctx, sess.ID, "cpo", "ship it"); err == nil {
		t.Fatal("expected error: only the lead may propose")
	}
}

func TestPostMessageRejectsNonParticipant(t *testing.T) {
	o := newTestOrchestrator()
	ctx := context.Background()
	sess, _ := o.CreateSession(ctx, "cto", []string{"cpo"}, "x")

	if _, err := o.PostMessage(ctx, sess.ID, "intruder", "", model.MessageDiscussion, "hi"); err == nil {
		t.Fatal("expected error: non-participant may not post")
	}
}

func votingSession(t *testing.T, o *Orchestrator) model.Session {
	t.Helper()
	ctx := context.Background()
	sess, err := o.CreateSession(ctx, "cto", []string{"cpo"}, "x")
	if err != nil {
		t.Fatalf("CreateSession failed: %v", err)
	}
	sess, err = o.CreateProposal(ctx, sess.ID, "cto", "ship it")
	if err != nil {
		t.Fatalf("CreateProposal failed: %v", err)
	}
	sess, err = o.OpenVoting(ctx, sess.ID)
	if err != nil {
		t.Fatalf("OpenVoting failed: %v", err)
	}
	return sess
}

func TestCastVoteReachesDecisionWithoutHumanApproval(t *testing.T) {
	o := newTestOrchestrator()
	ctx := context.Background()
	sess := votingSession(t, o)

	sess, tally, err := o.CastVote(ctx, sess.ID, "cto", model.VoteApprove, "looks good")
	if err != nil {
		t.Fatalf("CastVote failed: %v", err)
	}
	if tally.Outcome != "" {
		t.Fatalf("first ballot tally = %+v, want undetermined with 1 of 2 votes and quorum 2", tally)
	}
	if sess.Phase != model.PhaseVoting {
		t.Errorf("Phase = %q, want still voting", sess.Phase)
	}

	sess, tally, err = o.CastVote(ctx, sess.ID, "cpo", model.VoteApprove, "agreed")
	if err != nil {
		t.Fatalf("CastVote failed: %v", err)
	}
	if tally.Outcome != model.OutcomeApproved {
		t.Fatalf("tally.Outcome = %q, want approved", tally.Outcome)
	}
	if sess.Phase != model.PhaseDecided {
		t.Errorf("Phase = %q, want decided", sess.Phase)
	}
}

func TestCastVoteRejectsDoubleVoting(t *testing.T) {
	o := newTestOrchestrator()
	ctx := context.Background()
	sess := votingSession(t, o)

	o.CastVote(ctx, sess.ID, "cto", model.VoteApprove, "")
	if _, _, err := o.CastVote(ctx, sess.ID, "cto", model.VoteApprove, ""); err == nil {
		t.Fatal("expected error for double voting")
	}
}

func TestCastVoteReturnsToDiscussionWhenRejectedWithRoundsRemaining(t *testing.T) {
	o := newTestOrchestrator()
	ctx := context.Background()
	sess := votingSession(t, o)

	sess, tally, err := o.CastVote(ctx, sess.ID, "cto", model.VoteAbstain, "not yet")
	if err != nil {
		t.Fatalf("CastVote failed: %v", err)
	}
	if tally.Outcome != "" {
		t.Fatalf("first ballot tally = %+v, want undetermined with 1 of 2 votes and quorum 2", tally)
	}

	sess, tally, err = o.CastVote(ctx, sess.ID, "cpo", model.VoteReject, "needs more work")
	if err != nil {
		t.Fatalf("CastVote failed: %v", err)
	}
	if tally.Outcome != model.OutcomeRejected {
		t.Fatalf("tally.Outcome = %q, want rejected", tally.Outcome)
	}
	if tally.VetoExercised {
		t.Fatal("cpo has no veto power, tally should not show veto exercised")
	}
	if sess.Phase != model.PhaseDiscussion {
		t.Fatalf("Phase = %q, want discussion (round 0 of 3 rejected, rounds remain)", sess.Phase)
	}
	if sess.DeliberationRound != 1 {
		t.Errorf("DeliberationRound = %d, want 1", sess.DeliberationRound)
	}

	sess, err = o.OpenVoting(ctx, sess.ID)
	if err != nil {
		t.Fatalf("re-opening voting failed: %v", err)
	}
	if _, _, err := o.CastVote(ctx, sess.ID, "cto", model.VoteApprove, "reconsidered"); err != nil {
		t.Fatalf("CastVote in second round failed: %v", err)
	}
}

func TestCastVoteRoutesToReviewWhenHumanApprovalRequired(t *testing.T) {
	c := testCouncil()
	c.Rules.RequireHumanApproval = true
	o := New(c, store.NewMemory(), spawner.NewLogSpawner())
	ctx := context.Background()
	sess := votingSession(t, o)

	o.CastVote(ctx, sess.ID, "cto", model.VoteApprove, "")
	sess, _, err := o.CastVote(ctx, sess.ID, "cpo", model.VoteApprove, "")
	if err != nil {
		t.Fatalf("CastVote failed: %v", err)
	}
	if sess.Phase != model.PhaseReview {
		t.Fatalf("Phase = %q, want review", sess.Phase)
	}

	sess, err = o.SubmitReview(ctx, sess.ID, "human-1", true, "looks right")
	if err != nil {
		t.Fatalf("SubmitReview failed: %v", err)
	}
	if sess.Phase != model.PhaseDecided {
		t.Errorf("Phase = %q, want decided after review", sess.Phase)
	}
}

func TestAbortSessionFromAnyNonTerminalPhase(t *testing.T) {
	o := newTestOrchestrator()
	ctx := context.Background()
	sess, _ := o.CreateSession(ctx, "cto", []string{"cpo"}, "x")

	sess, err := o.AbortSession(ctx, sess.ID, "no longer relevant")
	if err != nil {
		t.Fatalf("AbortSession failed: %v", err)
	}
	if sess.Phase != model.PhaseAborted {
		t.Errorf("Phase = %q, want aborted", sess.Phase)
	}

	if _, err := o.AbortSession(ctx, sess.ID, "again"); err == nil {
		t.Fatal("expected error aborting an already-terminal session")
	}
}

func TestHandleWebhookEventRoutesToSession(t *testing.T) {
	c := testCouncil()
	c.EventRouting = []council.EventRoutingRule{
		{Match: council.EventMatch{Source: "github", Type: "issues.opened"}, Assign: council.EventAssign{Lead: "cto", Consult: []string{"cpo"}}},
	}
	o := New(c, store.NewMemory(), spawner.NewLogSpawner())
	sess, err := o.HandleWebhookEvent(context.Background(), model.WebhookEvent{Source: "github", EventType: "issues.opened"})
	if err != nil {
		t.Fatalf("HandleWebhookEvent failed: %v", err)
	}
	if sess.LeadAgentID != "cto" {
		t.Errorf("LeadAgentID = %q, want cto", sess.LeadAgentID)
	}
	if sess.Phase != model.PhaseInvestigation {
		t.Errorf("Phase = %q, want investigation for a webhook-originated session", sess.Phase)
	}
}

func TestHandleWebhookEventNoRuleMatches(t *testing.T) {
	o := newTestOrchestrator()
	if _, err := o.HandleWebhookEvent(context.Background(), model.WebhookEvent{Source: "slack"}); err == nil {
		t.Fatal("expected error when no routing rule matches")
	}
}

func TestGetSessionReadsThroughStore(t *testing.T) {
	o := newTestOrchestrator()
	ctx := context.Background()
	sess, _ := o.CreateSession(ctx, "cto", []string{"cpo"}, "x")

	got, err := o.GetSession(ctx, sess.ID)
	if err != nil {
		t.Fatalf("GetSession failed: %v", err)
	}
	if got.ID != sess.ID {
		t.Errorf("GetSession = %+v, want session %s", got, sess.ID)
	}

	if _, err := o.GetSession(ctx, "missing"); err == nil {
		t.Fatal("expected error for unknown session id")
	}
}

func TestListSessionsFiltersByPhase(t *testing.T) {
	o := newTestOrchestrator()
	ctx := context.Background()
	sess1, _ := o.CreateSession(ctx, "cto", []string{"cpo"}, "x")
	_, _ = o.CreateSession(ctx, "cto", []string{"cpo"}, "y", model.PhaseInvestigation)

	all, err := o.ListSessions(ctx, "c1")
	if err != nil {
		t.Fatalf("ListSessions failed: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("ListSessions() = %d sessions, want 2", len(all))
	}

	proposalOnly, err := o.ListSessions(ctx, "c1", model.PhaseProposal)
	if err != nil {
		t.Fatalf("ListSessions failed: %v", err)
	}
	if len(proposalOnly) != 1 || proposalOnly[0].ID != sess1.ID {
		t.Fatalf("ListSessions(phase=proposal) = %+v, want only %s", proposalOnly, sess1.ID)
	}
}

func TestTransitionPhaseDrivesArbitraryLegalMove(t *testing.T) {
	o := newTestOrchestrator()
	ctx := context.Background()
	sess, _ := o.CreateSession(ctx, "cto", []string{"cpo"}, "x")

	sess, err := o.TransitionPhase(ctx, sess.ID, model.PhaseDiscussion)
	if err != nil {
		t.Fatalf("TransitionPhase failed: %v", err)
	}
	if sess.Phase != model.PhaseDiscussion {
		t.Errorf("Phase = %q, want discussion", sess.Phase)
	}

	if _, err := o.TransitionPhase(ctx, sess.ID, model.PhaseDecided); err == nil {
		t.Fatal("expected error for an illegal transition")
	}
}
