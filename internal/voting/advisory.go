package voting

import (
	"fmt"

	"github.com/council-run/council-core/internal/council"
	"github.com/council-run/council-core/internal/model"
)

// advisoryTallier never produces a terminal approval or rejection: once
// quorum is met it computes the weighted lean the same way
// weighted_majority would, then forces OutcomeEscalated so the session
// always lands in human review instead of auto-deciding. The lean is
// recorded in Summary, ThresholdMet and VetoExercised, never in Outcome, as
// input to the human reviewer's judgment.
type advisoryTallier struct{}

func (advisoryTallier) ValidVoteValues() []model.VoteValue {
	return []model.VoteValue{model.VoteApprove, model.VoteReject, model.VoteAbstain}
}

func (advisoryTallier) Tally(ballots []model.Vote, agents []council.AgentConfig, rules council.Rules, expectedVoters []string) model.Tally {
	weights := weightByAgent(agents)
	byAgent := latestBallots(ballots)

	if len(byAgent) < rules.Quorum {
		return model.Tally{
			QuorumMet: false,
			Summary:   fmt.Sprintf("%d of %d quorum ballots cast", len(byAgent), rules.Quorum),
		}
	}

	var approve, reject, abstain, total float64
	for agentID, v := range byAgent {
		w := weights[agentID]
		total += w
		switch v.Value {
		case model.VoteApprove:
			approve += w
		case model.VoteReject:
			reject += w
		case model.VoteAbstain:
			abstain += w
		}
	}

	tally := model.Tally{
		QuorumMet:     true,
		VetoExercised: vetoExercised(byAgent, agents),
		Approve:       approve,
		Reject:        reject,
		Abstain:       abstain,
		TotalWeight:   total,
	}

	decisive := approve + reject
	share := 0.0
	if decisive > 0 {
		share = approve / decisive
	}
	tally.ThresholdMet = decisive > 0 && share >= rules.VotingThreshold

	tally.Outcome = model.OutcomeEscalated
	switch {
	case tally.VetoExercised:
		tally.Summary = "Advisory (non-binding): lean rejected, veto exercised"
	case tally.ThresholdMet:
		tally.Summary = fmt.Sprintf("Advisory (non-binding): lean approved, %.0f%% weighted approval", share*100)
	default:
		tally.Summary = fmt.Sprintf("Advisory (non-binding): lean rejected, %.0f%% weighted approval, below %.0f%% threshold", share*100, rules.VotingThreshold*100)
	}
	return tally
}
