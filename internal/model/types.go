// Package model holds the runtime data model the orchestrator, bus,
// registry, voting, and escalation packages operate on: sessions,
// messages, ballots, decisions, and the webhook/spawn envelopes that cross
// the §6 external interfaces.
package model

import "time"

// Phase is one state in the session deliberation state machine.
type Phase string

const (
	PhaseCreated       Phase = "created"
	PhaseInvestigation Phase = "investigation"
	PhaseProposal      Phase = "proposal"
	PhaseDiscussion    Phase = "discussion"
	PhaseVoting        Phase = "voting"
	PhaseReview        Phase = "review"
	PhaseDecided       Phase = "decided"
	PhaseAborted       Phase = "aborted"
)

// Terminal reports whether a phase never re-enters a non-terminal phase.
func (p Phase) Terminal() bool {
	return p == PhaseDecided || p == PhaseAborted
}

// Session is the unit of deliberation work.
type Session struct {
	ID                string
	CouncilID         string
	Title             string
	Summary           string
	SourceEventID     string
	LeadAgentID       string
	ConsultAgentIDs   []string
	Phase             Phase
	DeliberationRound int
	CreatedAt         time.Time
	UpdatedAt         time.Time
	TerminalAt        *time.Time
}

// ExpectedVoters returns every agent id allowed to cast a ballot: the lead
// plus every consulting agent.
func (s *Session) ExpectedVoters() []string {
	voters := make([]string, 0, 1+len(s.ConsultAgentIDs))
	voters = append(voters, s.LeadAgentID)
	voters = append(voters, s.ConsultAgentIDs...)
	return voters
}

// IsParticipant reports whether agentID is the lead or a consulting agent.
func (s *Session) IsParticipant(agentID string) bool {
	if agentID == s.LeadAgentID {
		return true
	}
	for _, id := range s.ConsultAgentIDs {
		if id == agentID {
			return true
		}
	}
	return false
}

// MessageType tags the Message union.
type MessageType string

const (
	MessageProposal   MessageType = "proposal"
	MessageDiscussion MessageType = "discussion"
	MessageQuestion   MessageType = "question"
	MessageAnswer     MessageType = "answer"
	MessageSystem     MessageType = "system"
)

// Message is one append-only entry in a session's transcript.
type Message struct {
	ID          string
	SessionID   string
	FromAgentID string
	ToAgentID   string // empty means broadcast
	Type        MessageType
	Content     string
	CreatedAt   time.Time
	Seq         int64
}

// VoteValue is the ballot union; schemes may restrict which
// values they accept.
type VoteValue string

const (
	VoteApprove VoteValue = "approve"
	VoteReject  VoteValue = "reject"
	VoteAbstain VoteValue = "abstain"
)

// Vote is one agent's ballot on a session. Round ties the ballot to the
// deliberation round it was cast in, so a rejected-but-not-vetoed tally
// that sends a session back to discussion for another round doesn't leave
// stale ballots blocking a re-vote.
type Vote struct {
	ID        string
	SessionID string
	AgentID   string
	Value     VoteValue
	Reasoning string
	Round     int
	CreatedAt time.Time
}

// Outcome is the Decision union.
type Outcome string

const (
	OutcomeApproved    Outcome = "approved"
	OutcomeRejected    Outcome = "rejected"
	OutcomeEscalated   Outcome = "escalated"
	OutcomeAborted     Outcome = "aborted"
	OutcomeNoConsensus Outcome = "no_consensus"
)

// Tally is a snapshot of a voting scheme's evaluation of a ballot set.
type Tally struct {
	Outcome       Outcome // empty when undetermined
	QuorumMet     bool
	ThresholdMet  bool
	VetoExercised bool
	Approve       float64
	Reject        float64
	Abstain       float64
	TotalWeight   float64
	Summary       string
}

// Decision is the terminal record of a session's vote.
type Decision struct {
	ID              string
	SessionID       string
	Outcome         Outcome
	Tally           Tally
	HumanReviewedBy string
	HumanNotes      string
	VetoExercised   bool
	CreatedAt       time.Time
	FinalizedAt     *time.Time
}

// WebhookEvent is the envelope delivered by the external transport (spec
// §6). Payload is left as a generic map so the Event Router can inspect
// GitHub/GitLab-shaped label fields without this package depending on any
// one provider's SDK.
type WebhookEvent struct {
	ID         string
	CouncilID  string
	Source     string
	EventType  string
	Payload    map[string]any
	ReceivedAt time.Time
}

// SpawnTask is handed to the external Spawner to launch an agent (spec
// §6).
type SpawnTask struct {
	SessionID     string
	AgentID       string
	AgentName     string
	SystemPrompt  string
	Model         string
	Context       string
	CouncilMCPURL string
	AgentToken    string
}

// LifecycleEventType tags the optional Spawner lifecycle callback.
type LifecycleEventType string

const (
	LifecycleAgentStarted   LifecycleEventType = "agent:started"
	LifecycleAgentCompleted LifecycleEventType = "agent:completed"
	LifecycleAgentErrored   LifecycleEventType = "agent:errored"
)

// LifecycleEvent reports an agent's run status back from the Spawner.
type LifecycleEvent struct {
	Type      LifecycleEventType
	AgentID   string
	SessionID string
	Cost      float64
	Error     string
}
