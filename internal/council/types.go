// Package council holds the Council configuration schema and the loader
// that turns a YAML document into a validated, in-memory Council.
//
// Loading is struct-tag-driven, producing a hot-reloadable snapshot, over
// a nested YAML document rather than flat environment variables, since a
// Council has a real shape: agents, rules, a communication graph, and
// event routing rules, not a flat key=value bag.
package council

// AgentConfig describes one agent's seat in a council.
type AgentConfig struct {
	ID           string   `yaml:"id"`
	Name         string   `yaml:"name"`
	Role         string   `yaml:"role"`
	Expertise    []string `yaml:"expertise"`
	CanPropose   bool     `yaml:"can_propose"`
	CanVeto      bool     `yaml:"can_veto"`
	VotingWeight float64  `yaml:"voting_weight"`
	SystemPrompt string   `yaml:"system_prompt"`
	Model        string   `yaml:"model"`
	Persistent   bool     `yaml:"persistent"`
}

// VotingScheme names one of the three tally schemes a council may choose.
type VotingScheme string

const (
	SchemeWeightedMajority VotingScheme = "weighted_majority"
	SchemeUnanimous        VotingScheme = "unanimous"
	SchemeAdvisory         VotingScheme = "advisory"
)

// TriggerType tags the EscalationRule.trigger union.
type TriggerType string

const (
	TriggerDeadlock      TriggerType = "deadlock"
	TriggerTimeout       TriggerType = "timeout"
	TriggerVetoExercised TriggerType = "veto_exercised"
	TriggerNoQuorum      TriggerType = "no_quorum"
	TriggerRoundLimit    TriggerType = "round_limit"
)

// ActionType tags the EscalationRule.action union.
type ActionType string

const (
	ActionEscalateToHuman ActionType = "escalate_to_human"
	ActionAddAgent        ActionType = "add_agent"
	ActionNotifyExternal  ActionType = "notify_external"
	ActionAbort           ActionType = "abort"
)

// Trigger is the tagged-union condition an EscalationRule watches for.
type Trigger struct {
	Type           TriggerType `yaml:"type"`
	TimeoutSeconds int         `yaml:"timeout_seconds,omitempty"`
	Phases         []string    `yaml:"phases,omitempty"`
}

// Action is the tagged-union reaction an EscalationRule performs once its
// trigger fires.
type Action struct {
	Type       ActionType `yaml:"type"`
	Message    string     `yaml:"message,omitempty"`
	AgentID    string     `yaml:"agent_id,omitempty"`
	WebhookURL string     `yaml:"webhook_url,omitempty"`
	Reason     string     `yaml:"reason,omitempty"`
}

// EscalationRule is one declarative policy the EscalationEngine evaluates
// against each non-terminal session on the orchestrator's periodic tick.
type EscalationRule struct {
	Name               string  `yaml:"name"`
	Priority           int     `yaml:"priority"`
	Trigger            Trigger `yaml:"trigger"`
	Action             Action  `yaml:"action"`
	StopAfter          bool    `yaml:"stop_after"`
	MaxFiresPerSession int     `yaml:"max_fires_per_session"`
}

// legacyEscalationRule is the deprecated {condition, action} shorthand spec
// §6 requires accepting and silently converting.
type legacyEscalationRule struct {
	Condition string `yaml:"condition"`
	Action    string `yaml:"action"`
}

// Rules holds a council's deliberation policy.
type Rules struct {
	Quorum                int              `yaml:"quorum"`
	VotingThreshold       float64          `yaml:"voting_threshold"`
	VotingScheme          VotingScheme     `yaml:"voting_scheme"`
	MaxDeliberationRounds int              `yaml:"max_deliberation_rounds"`
	RequireHumanApproval  bool             `yaml:"require_human_approval"`
	Escalation            []EscalationRule `yaml:"escalation"`
}

// GraphPolicy names the CommunicationGraph's default routing policy.
type GraphPolicy string

const (
	PolicyBroadcast GraphPolicy = "broadcast"
	PolicyGraph     GraphPolicy = "graph"
)

// CommunicationGraph describes which agents may message which others.
type CommunicationGraph struct {
	DefaultPolicy GraphPolicy         `yaml:"default_policy"`
	Edges         map[string][]string `yaml:"edges"`
}

// CanCommunicate reports whether, under this graph, from may address to
// directly. Broadcast policy always allows it; graph policy consults Edges.
func (g CommunicationGraph) CanCommunicate(from, to string) bool {
	if g.DefaultPolicy == PolicyBroadcast {
		return true
	}
	for _, peer := range g.Edges[from] {
		if peer == to {
			return true
		}
	}
	return false
}

// EventMatch is the matching half of an EventRoutingRule.
type EventMatch struct {
	Source string   `yaml:"source"`
	Type   string   `yaml:"type,omitempty"`
	Labels []string `yaml:"labels,omitempty"`
}

// EventAssign is the assignment half of an EventRoutingRule.
type EventAssign struct {
	Lead    string   `yaml:"lead"`
	Consult []string `yaml:"consult"`
}

// EventRoutingRule maps incoming webhook events to a lead/consult
// assignment.
type EventRoutingRule struct {
	Match  EventMatch  `yaml:"match"`
	Assign EventAssign `yaml:"assign"`
}

// SpawnerType names which Spawner implementation a council wires up.
type SpawnerType string

const (
	SpawnerLog     SpawnerType = "log"
	SpawnerWebhook SpawnerType = "webhook"
	SpawnerSDK     SpawnerType = "sdk"
)

// SpawnerConfig configures the external agent execution runtime.
type SpawnerConfig struct {
	Type         SpawnerType `yaml:"type"`
	WebhookURL   string      `yaml:"webhook_url,omitempty"`
	DefaultModel string      `yaml:"default_model,omitempty"`
	MaxTurns     int         `yaml:"max_turns,omitempty"`
	TimeoutMS    int         `yaml:"timeout_ms,omitempty"`
}

// Council is the immutable (per-reload) configuration for one deliberation
// group: its agents, rules, communication graph, and webhook routing.
type Council struct {
	ID           string
	Name         string             `yaml:"name"`
	Description  string             `yaml:"description"`
	Spawner      SpawnerConfig      `yaml:"spawner"`
	Rules        Rules              `yaml:"rules"`
	Agents       []AgentConfig      `yaml:"agents"`
	Graph        CommunicationGraph `yaml:"communication_graph"`
	EventRouting []EventRoutingRule `yaml:"event_routing"`
}

// AgentByID returns the AgentConfig with the given id, or nil.
func (c *Council) AgentByID(id string) *AgentConfig {
	for i := range c.Agents {
		if c.Agents[i].ID == id {
			return &c.Agents[i]
		}
	}
	return nil
}
