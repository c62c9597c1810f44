// Package voting implements the three ballot-tallying schemes a council may
// select: weighted_majority, unanimous, and advisory. Each scheme is a
// small, independently-testable pure function over a session's ballots
// and the council's agent roster rather than one monolithic tally
// routine.
package voting

import (
	"github.com/council-run/council-core/internal/council"
	"github.com/council-run/council-core/internal/model"
)

// Tallier evaluates a set of ballots cast against a session's expected
// voter roster and produces an outcome.
type Tallier interface {
	// ValidVoteValues returns every VoteValue this scheme accepts. Casting
	// any other value is rejected by the caller before it reaches Tally.
	ValidVoteValues() []model.VoteValue

	// Tally evaluates ballots against the roster and rules, returning the
	// resulting snapshot. A zero-value Outcome means deliberation must
	// continue (not all expected voters have cast a ballot yet).
	Tally(ballots []model.Vote, agents []council.AgentConfig, rules council.Rules, expectedVoters []string) model.Tally
}

// New returns the Tallier for scheme, defaulting to weighted majority for
// an unrecognized or empty scheme (Load already rejects unknown schemes at
// config time, so this only matters for callers that bypass the loader).
func New(scheme council.VotingScheme) Tallier {
	switch scheme {
	case council.SchemeUnanimous:
		return unanimousTallier{}
	case council.SchemeAdvisory:
		return advisoryTallier{}
	default:
		return weightedMajorityTallier{}
	}
}

// weightByAgent builds an agent id -> voting weight lookup, defaulting to 1
// for any agent missing from the roster (should not happen once the config
// loader's default-weight pass has run, but callers should not panic on
// stale rosters).
func weightByAgent(agents []council.AgentConfig) map[string]float64 {
	weights := make(map[string]float64, len(agents))
	for _, a := range agents {
		w := a.VotingWeight
		if w == 0 {
			w = 1
		}
		weights[a.ID] = w
	}
	return weights
}

// latestBallots keeps only the most recent ballot per agent, in case a
// caller re-tallies mid-round with a ballot slice that still contains a
// superseded vote (the orchestrator itself rejects a second ballot from the
// same agent, so this is tally-layer defense-in-depth, not the primary
// guard).
func latestBallots(ballots []model.Vote) map[string]model.Vote {
	byAgent := make(map[string]model.Vote, len(ballots))
	for _, b := range ballots {
		if existing, ok := byAgent[b.AgentID]; !ok || b.CreatedAt.After(existing.CreatedAt) {
			byAgent[b.AgentID] = b
		}
	}
	return byAgent
}

// vetoExercised reports whether any agent with CanVeto cast a reject
// ballot.
func vetoExercised(byAgent map[string]model.Vote, agents []council.AgentConfig) bool {
	vetoers := make(map[string]bool)
	for _, a := range agents {
		if a.CanVeto {
			vetoers[a.ID] = true
		}
	}
	for agentID, v := range byAgent {
		if vetoers[agentID] && v.Value == model.VoteReject {
			return true
		}
	}
	return false
}
