// Package router implements the Event Router: turning an inbound
// WebhookEvent into a lead/consult agent assignment by walking a council's
// declarative EventRoutingRule list in order and returning the first
// match. Matching is a pure function of the event and the current rule
// list; the Router holds no other state.
package router

import (
	"encoding/json"

	"github.com/google/go-github/v69/github"

	"github.com/council-run/council-core/internal/council"
	"github.com/council-run/council-core/internal/model"
)

// Router matches webhook events against a council's routing rules.
type Router struct {
	rules []council.EventRoutingRule
}

// New builds a Router over rules, evaluated in the order given.
func New(rules []council.EventRoutingRule) *Router {
	return &Router{rules: append([]council.EventRoutingRule(nil), rules...)}
}

// UpdateRules swaps in a new rule set, applied to every Route call from
// this point on. Used when a council configuration is hot-reloaded.
func (r *Router) UpdateRules(rules []council.EventRoutingRule) {
	r.rules = append([]council.EventRoutingRule(nil), rules...)
}

// Route returns the assignment of the first rule that matches event, and
// false if no rule matches. A rule matches when its source equals the
// event's source, its type (if set) equals the event's type, and every
// label it names is present on the event's payload (read from the
// issue/pull-request label list when the source is github; events from any
// other source carry no labels, so a rule naming labels never matches them).
func (r *Router) Route(event model.WebhookEvent) (council.EventAssign, bool) {
	labels := extractLabels(event)
	for _, rule := range r.rules {
		if !matches(rule.Match, event, labels) {
			continue
		}
		return rule.Assign, true
	}
	return council.EventAssign{}, false
}

func matches(match council.EventMatch, event model.WebhookEvent, labels map[string]bool) bool {
	if match.Source != event.Source {
		return false
	}
	if match.Type != "" && match.Type != event.EventType {
		return false
	}
	for _, want := range match.Labels {
		if !labels[want] {
			return false
		}
	}
	return true
}

// extractLabels pulls label names off a github-shaped payload's
// issue/pull_request label list. Any other source, or a payload that
// doesn't decode, yields an empty set — label rules simply never match,
// they don't error the route.
func extractLabels(event model.WebhookEvent) map[string]bool {
	labels := make(map[string]bool)
	if event.Source != "github" {
		return labels
	}

	raw, err := json.Marshal(event.Payload)
	if err != nil {
		return labels
	}

	var issueEvent github.IssuesEvent
	if err := json.Unmarshal(raw, &issueEvent); err == nil && issueEvent.Issue != nil {
		for _, l := range issueEvent.Issue.Labels {
			if l.Name != nil {
				labels[*l.Name] = true
			}
		}
		if len(labels) > 0 {
			return labels
		}
	}

	var prEvent github.PullRequestEvent
	if err := json.Unmarshal(raw, &prEvent); err == nil && prEvent.PullRequest != nil {
		for _, l := range prEvent.PullRequest.Labels {
			if l.Name != nil {
				labels[*l.Name] = true
			}
		}
	}
	return labels
}
