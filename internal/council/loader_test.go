package council

import (
	"os"
	"strings"
	"testing"
)

const validYAML = `
version: "1"
council:
  name: product-council
  description: ships decisions
  spawner:
    type: log
  rules:
    quorum: 2
    voting_threshold: 0.66
    voting_scheme: weighted_majority
    max_deliberation_rounds: 3
    require_human_approval: true
    escalation:
      - name: stuck
        priority: 10
        trigger: { type: deadlock }
        action: { type: escalate_to_human, message: "stuck" }
        stop_after: true
  agents:
    - id: cto
      name: CTO
      role: engineering
      can_propose: true
      can_veto: true
      voting_weight: 1
    - id: cpo
      name: CPO
      role: product
      can_propose: true
      voting_weight: 1
  communication_graph:
    default_policy: broadcast
    edges: {}
  event_routing:
    - match: { source: github, type: "issues.opened", labels: ["bug"] }
      assign: { lead: cto, consult: [cpo] }
`

func TestLoadValidDocument(t *testing.T) {
	c, err := Load([]byte(validYAML))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if c.Name != "product-council" {
		t.Errorf("Name = %q, want product-council", c.Name)
	}
	if c.Rules.Quorum != 2 {
		t.Errorf("Quorum = %d, want 2", c.Rules.Quorum)
	}
	if len(c.Agents) != 2 {
		t.Fatalf("len(Agents) = %d, want 2", len(c.Agents))
	}
	if len(c.Rules.Escalation) != 1 || c.Rules.Escalation[0].Name != "stuck" {
		t.Errorf("Escalation = %+v, want single 'stuck' rule", c.Rules.Escalation)
	}
}

func TestLoadRejectsUnknownTopLevelKey(t *testing.T) {
	doc := strings.Replace(validYAML, "version: \"1\"", "version: \"1\"\nbogus_key: true", 1)
	_, err := Load([]byte(doc))
	if err == nil {
		t.Fatal("expected error for unknown top-level key")
	}
}

func TestLoadRejectsBadQuorum(t *testing.T) {
	doc := strings.Replace(validYAML, "quorum: 2", "quorum: 0", 1)
	_, err := Load([]byte(doc))
	if err == nil {
		t.Fatal("expected error for quorum < 1")
	}
}

func TestLoadRejectsLeadInConsult(t *testing.T) {
	doc := strings.Replace(validYAML, "consult: [cpo] }", "consult: [cto] }", 1)
	_, err := Load([]byte(doc))
	if err == nil {
		t.Fatal("expected error for lead present in consult")
	}
}

func TestLoadExpandsEnvVars(t *testing.T) {
	t.Setenv("COUNCIL_WEBHOOK", "https://example.com/hook")
	doc := strings.Replace(validYAML, "type: log", "type: webhook\n    webhook_url: \"${COUNCIL_WEBHOOK}\"", 1)
	c, err := Load([]byte(doc))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if c.Spawner.WebhookURL != "https://example.com/hook" {
		t.Errorf("WebhookURL = %q, want https://example.com/hook", c.Spawner.WebhookURL)
	}
}

func TestLoadMissingEnvVarExpandsToEmpty(t *testing.T) {
	os.Unsetenv("COUNCIL_UNSET_VAR")
	doc := strings.Replace(validYAML, "description: ships decisions", "description: \"${COUNCIL_UNSET_VAR}\"", 1)
	c, err := Load([]byte(doc))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if c.Description != "" {
		t.Errorf("Description = %q, want empty string", c.Description)
	}
}

func TestLoadConvertsLegacyEscalationRule(t *testing.T) {
	doc := strings.Replace(validYAML,
		`escalation:
      - name: stuck
        priority: 10
        trigger: { type: deadlock }
        action: { type: escalate_to_human, message: "stuck" }
        stop_after: true`,
		`escalation:
      - condition: deadlock
        action: escalate_to_human`, 1)
	c, err := Load([]byte(doc))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if len(c.Rules.Escalation) != 1 {
		t.Fatalf("len(Escalation) = %d, want 1", len(c.Rules.Escalation))
	}
	got := c.Rules.Escalation[0]
	if got.Name != "legacy_deadlock" {
		t.Errorf("Name = %q, want legacy_deadlock", got.Name)
	}
	if got.Trigger.Type != TriggerDeadlock {
		t.Errorf("Trigger.Type = %q, want deadlock", got.Trigger.Type)
	}
	if got.Action.Type != ActionEscalateToHuman {
		t.Errorf("Action.Type = %q, want escalate_to_human", got.Action.Type)
	}
	// Defaults apply to converted rules too.
	if got.Priority != 100 {
		t.Errorf("Priority = %d, want default 100", got.Priority)
	}
	if got.MaxFiresPerSession != 1 {
		t.Errorf("MaxFiresPerSession = %d, want default 1", got.MaxFiresPerSession)
	}
}

func TestCommunicationGraphCanCommunicate(t *testing.T) {
	broadcast := CommunicationGraph{DefaultPolicy: PolicyBroadcast}
	if !broadcast.CanCommunicate("a", "b") {
		t.Error("broadcast policy should allow any pair")
	}

	graph := CommunicationGraph{DefaultPolicy: PolicyGraph, Edges: map[string][]string{"a": {"b"}}}
	if !graph.CanCommunicate("a", "b") {
		t.Error("a->b should be allowed by edges")
	}
	if graph.CanCommunicate("b", "a") {
		t.Error("b->a should be denied: edges are directional")
	}
	if graph.CanCommunicate("c", "b") {
		t.Error("c has no edges entry, should be denied")
	}
}

func TestCloneIsIndependent(t *testing.T) {
	c, err := Load([]byte(validYAML))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	clone := c.Clone()
	clone.Agents[0].Name = "mutated"
	if c.Agents[0].Name == "mutated" {
		t.Error("mutating clone.Agents should not affect original")
	}
}
