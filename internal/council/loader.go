package council

import (
	"bytes"
	"fmt"
	"os"
	"regexp"

	"gopkg.in/yaml.v3"

	apperrors "github.com/council-run/council-core/pkg/errors"
	"github.com/council-run/council-core/pkg/logger"
)

// rawDocument mirrors the top-level YAML shape:
//
//	version: "1"
//	council: { ... }
type rawDocument struct {
	Version string     `yaml:"version"`
	Council rawCouncil `yaml:"council"`
}

// rawCouncil is the council block before legacy-escalation conversion. It
// reuses Council's field tags except escalation, which may be either the
// full tagged-union form or the deprecated {condition, action} shorthand.
type rawCouncil struct {
	Name         string             `yaml:"name"`
	Description  string             `yaml:"description"`
	Spawner      SpawnerConfig      `yaml:"spawner"`
	Rules        rawRules           `yaml:"rules"`
	Agents       []AgentConfig      `yaml:"agents"`
	Graph        CommunicationGraph `yaml:"communication_graph"`
	EventRouting []EventRoutingRule `yaml:"event_routing"`
}

type rawRules struct {
	Quorum                int          `yaml:"quorum"`
	VotingThreshold       float64      `yaml:"voting_threshold"`
	VotingScheme          VotingScheme `yaml:"voting_scheme"`
	MaxDeliberationRounds int          `yaml:"max_deliberation_rounds"`
	RequireHumanApproval  bool         `yaml:"require_human_approval"`
	Escalation            []yaml.Node  `yaml:"escalation"`
}

var envVarRe = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// expandEnv performs's ${NAME} textual substitution: missing
// variables expand to the empty string, never an error, so operators can
// override at runtime without editing the file.
func expandEnv(s string) string {
	return envVarRe.ReplaceAllStringFunc(s, func(match string) string {
		name := envVarRe.FindStringSubmatch(match)[1]
		return os.Getenv(name)
	})
}

// expandEnvInPlace walks a YAML node tree, expanding ${NAME} references in
// every scalar string value before the document is decoded into structs.
func expandEnvInPlace(node *yaml.Node) {
	if node.Kind == yaml.ScalarNode && node.Tag == "!!str" {
		node.Value = expandEnv(node.Value)
		return
	}
	for _, child := range node.Content {
		expandEnvInPlace(child)
	}
}

// Load parses, env-expands, and validates a council configuration document.
// Unknown top-level keys are rejected. Legacy {condition, action}
// escalation rules are converted to the full tagged-union form and logged
// once as a deprecation notice.
func Load(data []byte) (*Council, error) {
	const op = "council.Load"

	var root yaml.Node
	if err := yaml.Unmarshal(data, &root); err != nil {
		return nil, apperrors.NewConfigLoad(op, []apperrors.FieldError{{Path: "$", Message: err.Error()}})
	}
	if len(root.Content) == 0 {
		return nil, apperrors.NewConfigLoad(op, []apperrors.FieldError{{Path: "$", Message: "empty document"}})
	}
	expandEnvInPlace(&root)

	dec := yaml.NewDecoder(bytes.NewReader(mustMarshal(&root)))
	dec.KnownFields(true)
	var doc rawDocument
	if err := dec.Decode(&doc); err != nil {
		return nil, apperrors.NewConfigLoad(op, []apperrors.FieldError{{Path: "$", Message: err.Error()}})
	}

	escalation, err := decodeEscalationRules(doc.Council.Rules.Escalation)
	if err != nil {
		return nil, apperrors.NewConfigLoad(op, []apperrors.FieldError{{Path: "council.rules.escalation", Message: err.Error()}})
	}

	c := &Council{
		Name:        doc.Council.Name,
		Description: doc.Council.Description,
		Spawner:     doc.Council.Spawner,
		Rules: Rules{
			Quorum:                doc.Council.Rules.Quorum,
			VotingThreshold:       doc.Council.Rules.VotingThreshold,
			VotingScheme:          doc.Council.Rules.VotingScheme,
			MaxDeliberationRounds: doc.Council.Rules.MaxDeliberationRounds,
			RequireHumanApproval:  doc.Council.Rules.RequireHumanApproval,
			Escalation:            escalation,
		},
		Agents:       doc.Council.Agents,
		Graph:        doc.Council.Graph,
		EventRouting: doc.Council.EventRouting,
	}

	if c.Rules.VotingScheme == "" {
		c.Rules.VotingScheme = SchemeWeightedMajority
	}
	for i := range c.Agents {
		if c.Agents[i].VotingWeight == 0 {
			c.Agents[i].VotingWeight = 1
		}
	}
	for i := range c.Rules.Escalation {
		if c.Rules.Escalation[i].Priority == 0 {
			c.Rules.Escalation[i].Priority = 100
		}
		if c.Rules.Escalation[i].MaxFiresPerSession == 0 {
			c.Rules.Escalation[i].MaxFiresPerSession = 1
		}
	}

	if fields := validate(c); len(fields) > 0 {
		return nil, apperrors.NewConfigLoad(op, fields)
	}
	return c, nil
}

// LoadFile reads and loads a council configuration file from disk.
func LoadFile(path string) (*Council, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, apperrors.NewConfigLoad("council.LoadFile", []apperrors.FieldError{{Path: path, Message: err.Error()}})
	}
	return Load(data)
}

// decodeEscalationRules accepts either the full tagged-union EscalationRule
// shape or the deprecated {condition, action} shorthand, converting the
// latter to {name: "legacy_{condition}", trigger: {type: condition}, action:
// {type: action}}
func decodeEscalationRules(nodes []yaml.Node) ([]EscalationRule, error) {
	rules := make([]EscalationRule, 0, len(nodes))
	for i := range nodes {
		node := &nodes[i]
		if isLegacyEscalationNode(node) {
			var legacy legacyEscalationRule
			if err := node.Decode(&legacy); err != nil {
				return nil, fmt.Errorf("escalation[%d]: %w", i, err)
			}
			logger.Warn("council: converting legacy escalation rule",
				"condition", legacy.Condition, "action", legacy.Action)
			rules = append(rules, EscalationRule{
				Name:    "legacy_" + legacy.Condition,
				Trigger: Trigger{Type: TriggerType(legacy.Condition)},
				Action:  Action{Type: ActionType(legacy.Action)},
			})
			continue
		}
		var rule EscalationRule
		if err := node.Decode(&rule); err != nil {
			return nil, fmt.Errorf("escalation[%d]: %w", i, err)
		}
		rules = append(rules, rule)
	}
	return rules, nil
}

// isLegacyEscalationNode reports whether a YAML mapping node uses the
// deprecated {condition, action} shape rather than {name, trigger, action}.
func isLegacyEscalationNode(node *yaml.Node) bool {
	for i := 0; i+1 < len(node.Content); i += 2 {
		if node.Content[i].Value == "condition" {
			return true
		}
	}
	return false
}

func mustMarshal(node *yaml.Node) []byte {
	out, err := yaml.Marshal(node)
	if err != nil {
		// node was just decoded from valid YAML; re-marshal cannot fail in
		// practice, but fall back to an empty document rather than panic.
		return []byte("{}\n")
	}
	return out
}

// validate checks the structural invariants requires before a
// Council can be put into service, returning every violation found.
func validate(c *Council) []apperrors.FieldError {
	var fields []apperrors.FieldError

	if c.Name == "" {
		fields = append(fields, apperrors.FieldError{Path: "council.name", Message: "must not be empty"})
	}
	if c.Rules.Quorum < 1 {
		fields = append(fields, apperrors.FieldError{Path: "council.rules.quorum", Message: "must be >= 1"})
	}
	if c.Rules.VotingThreshold < 0 || c.Rules.VotingThreshold > 1 {
		fields = append(fields, apperrors.FieldError{Path: "council.rules.voting_threshold", Message: "must be in [0,1]"})
	}
	switch c.Rules.VotingScheme {
	case SchemeWeightedMajority, SchemeUnanimous, SchemeAdvisory:
	default:
		fields = append(fields, apperrors.FieldError{Path: "council.rules.voting_scheme", Message: "unknown scheme: " + string(c.Rules.VotingScheme)})
	}

	ids := map[string]bool{}
	for i, a := range c.Agents {
		if a.ID == "" {
			fields = append(fields, apperrors.FieldError{Path: fmt.Sprintf("council.agents[%d].id", i), Message: "must not be empty"})
			continue
		}
		if ids[a.ID] {
			fields = append(fields, apperrors.FieldError{Path: fmt.Sprintf("council.agents[%d].id", i), Message: "duplicate agent id: " + a.ID})
		}
		ids[a.ID] = true
	}

	switch c.Graph.DefaultPolicy {
	case PolicyBroadcast, PolicyGraph, "":
	default:
		fields = append(fields, apperrors.FieldError{Path: "council.communication_graph.default_policy", Message: "unknown policy: " + string(c.Graph.DefaultPolicy)})
	}
	for from, peers := range c.Graph.Edges {
		if !ids[from] {
			fields = append(fields, apperrors.FieldError{Path: "council.communication_graph.edges." + from, Message: "references unknown agent id"})
		}
		for _, to := range peers {
			if !ids[to] {
				fields = append(fields, apperrors.FieldError{Path: "council.communication_graph.edges." + from, Message: "references unknown peer id: " + to})
			}
		}
	}

	for i, rule := range c.EventRouting {
		if rule.Assign.Lead != "" && !ids[rule.Assign.Lead] {
			fields = append(fields, apperrors.FieldError{Path: fmt.Sprintf("council.event_routing[%d].assign.lead", i), Message: "references unknown agent id: " + rule.Assign.Lead})
		}
		for _, consult := range rule.Assign.Consult {
			if consult == rule.Assign.Lead {
				fields = append(fields, apperrors.FieldError{Path: fmt.Sprintf("council.event_routing[%d].assign", i), Message: "lead and consult must be disjoint"})
			}
			if !ids[consult] {
				fields = append(fields, apperrors.FieldError{Path: fmt.Sprintf("council.event_routing[%d].assign.consult", i), Message: "references unknown agent id: " + consult})
			}
		}
	}

	for i, rule := range c.Rules.Escalation {
		switch rule.Trigger.Type {
		case TriggerDeadlock, TriggerTimeout, TriggerVetoExercised, TriggerNoQuorum, TriggerRoundLimit:
		default:
			fields = append(fields, apperrors.FieldError{Path: fmt.Sprintf("council.rules.escalation[%d].trigger.type", i), Message: "unknown trigger: " + string(rule.Trigger.Type)})
		}
		switch rule.Action.Type {
		case ActionEscalateToHuman, ActionAddAgent, ActionNotifyExternal, ActionAbort:
		default:
			fields = append(fields, apperrors.FieldError{Path: fmt.Sprintf("council.rules.escalation[%d].action.type", i), Message: "unknown action: " + string(rule.Action.Type)})
		}
	}

	return fields
}

// Clone shallow-copies a Council for safe hand-off to a reload path; the
// orchestrator swaps the pointer atomically rather than mutating fields a
// reader might be iterating.
func (c *Council) Clone() *Council {
	clone := *c
	clone.Agents = append([]AgentConfig(nil), c.Agents...)
	clone.EventRouting = append([]EventRoutingRule(nil), c.EventRouting...)
	clone.Rules.Escalation = append([]EscalationRule(nil), c.Rules.Escalation...)
	edges := make(map[string][]string, len(c.Graph.Edges))
	for k, v := range c.Graph.Edges {
		edges[k] = append([]string(nil), v...)
	}
	clone.Graph.Edges = edges
	return &clone
}
