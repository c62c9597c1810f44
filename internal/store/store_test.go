package store

import (
	"context"
	"testing"
	"time"

	"github.com/council-run/council-core/internal/model"
)

func TestMemorySessionRoundTrip(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	sess := model.Session{ID: "s1", CouncilID: "c1", Phase: model.PhaseCreated, CreatedAt: time.Now()}

	if err := m.SaveSession(ctx, sess); err != nil {
		t.Fatalf("SaveSession failed: %v", err)
	}
	got, err := m.GetSession(ctx, "s1")
	if err != nil {
		t.Fatalf("GetSession failed: %v", err)
	}
	if got.CouncilID != "c1" {
		t.Errorf("CouncilID = %q, want c1", got.CouncilID)
	}
}

func TestMemoryGetSessionNotFound(t *testing.T) {
	m := NewMemory()
	if _, err := m.GetSession(context.Background(), "missing"); err == nil {
		t.Fatal("expected error for missing session")
	}
}

func TestMemoryListSessionsFiltersAndOrders(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	now := time.Now()
	m.SaveSession(ctx, model.Session{ID: "s2", CouncilID: "c1", CreatedAt: now.Add(time.Minute)})
	m.SaveSession(ctx, model.Session{ID: "s1", CouncilID: "c1", CreatedAt: now})
	m.SaveSession(ctx, model.Session{ID: "other", CouncilID: "c2", CreatedAt: now})

	sessions, err := m.ListSessions(ctx, "c1")
	if err != nil {
		t.Fatalf("ListSessions failed: %v", err)
	}
	if len(sessions) != 2 || sessions[0].ID != "s1" || sessions[1].ID != "s2" {
		t.Fatalf("ListSessions = %+v, want [s1, s2] in creation order", sessions)
	}
}

func TestMemoryListSessionsFiltersByPhase(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	m.SaveSession(ctx, model.Session{ID: "s1", CouncilID: "c1", Phase: model.PhaseVoting})
	m.SaveSession(ctx, model.Session{ID: "s2", CouncilID: "c1", Phase: model.PhaseDiscussion})

	sessions, err := m.ListSessions(ctx, "c1", model.PhaseVoting)
	if err != nil {
		t.Fatalf("ListSessions failed: %v", err)
	}
	if len(sessions) != 1 || sessions[0].ID != "s1" {
		t.Fatalf("ListSessions(phase=voting) = %+v, want only s1", sessions)
	}
}

func TestMemoryMessagesAppendInOrder(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	m.SaveMessage(ctx, model.Message{ID: "m1", SessionID: "s1", Seq: 1})
	m.SaveMessage(ctx, model.Message{ID: "m2", SessionID: "s1", Seq: 2})

	messages, err := m.GetMessages(ctx, "s1")
	if err != nil {
		t.Fatalf("GetMessages failed: %v", err)
	}
	if len(messages) != 2 || messages[0].ID != "m1" {
		t.Fatalf("GetMessages = %+v, want [m1, m2]", messages)
	}
}

func TestMemoryDecisionUpdateOverwrites(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	m.SaveDecision(ctx, model.Decision{ID: "d1", SessionID: "s1", Outcome: model.OutcomeEscalated})
	m.UpdateDecision(ctx, model.Decision{ID: "d1", SessionID: "s1", Outcome: model.OutcomeApproved})

	got, err := m.GetDecision(ctx, "s1")
	if err != nil {
		t.Fatalf("GetDecision failed: %v", err)
	}
	if got.Outcome != model.OutcomeApproved {
		t.Errorf("Outcome = %q, want approved after update", got.Outcome)
	}
}

func TestMemoryListPendingDecisionsExcludesFinalized(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	m.SaveSession(ctx, model.Session{ID: "s1", CouncilID: "c1"})
	m.SaveSession(ctx, model.Session{ID: "s2", CouncilID: "c1"})
	finalizedAt := time.Now()
	m.SaveDecision(ctx, model.Decision{ID: "d1", SessionID: "s1"})
	m.SaveDecision(ctx, model.Decision{ID: "d2", SessionID: "s2", FinalizedAt: &finalizedAt})

	pending, err := m.ListPendingDecisions(ctx, "c1")
	if err != nil {
		t.Fatalf("ListPendingDecisions failed: %v", err)
	}
	if len(pending) != 1 || pending[0].SessionID != "s1" {
		t.Fatalf("ListPendingDecisions = %+v, want only s1's decision", pending)
	}
}

func TestMemoryEventsScopedByCouncil(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	m.SaveEvent(ctx, model.WebhookEvent{ID: "e1", CouncilID: "c1"})
	m.SaveEvent(ctx, model.WebhookEvent{ID: "e2", CouncilID: "c2"})

	events, err := m.ListEvents(ctx, "c1")
	if err != nil {
		t.Fatalf("ListEvents failed: %v", err)
	}
	if len(events) != 1 || events[0].ID != "e1" {
		t.Fatalf("ListEvents = %+v, want only c1's event", events)
	}
}
