package voting

import (
	"fmt"

	"github.com/council-run/council-core/internal/council"
	"github.com/council-run/council-core/internal/model"
)

// weightedMajorityTallier approves a proposal once the weighted approve
// share of all non-abstaining ballots clears the council's voting
// threshold, provided quorum has been met and no veto-capable agent has
// rejected.
type weightedMajorityTallier struct{}

func (weightedMajorityTallier) ValidVoteValues() []model.VoteValue {
	return []model.VoteValue{model.VoteApprove, model.VoteReject, model.VoteAbstain}
}

func (weightedMajorityTallier) Tally(ballots []model.Vote, agents []council.AgentConfig, rules council.Rules, expectedVoters []string) model.Tally {
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
		QuorumMet:   true,
		Approve:     approve,
		Reject:      reject,
		Abstain:     abstain,
		TotalWeight: total,
	}

	if vetoExercised(byAgent, agents) {
		tally.VetoExercised = true
		tally.Outcome = model.OutcomeRejected
		tally.Summary = "rejected: veto exercised"
		return tally
	}

	decisive := approve + reject
	if decisive == 0 {
		tally.Outcome = model.OutcomeNoConsensus
		tally.Summary = "no consensus: every ballot abstained"
		return tally
	}

	share := approve / decisive
	tally.ThresholdMet = share >= rules.VotingThreshold

	allCast := len(byAgent) >= len(expectedVoters)
	switch {
	case tally.ThresholdMet:
		tally.Outcome = model.OutcomeApproved
		tally.Summary = fmt.Sprintf("approved: %.0f%% weighted approval", share*100)
	case allCast:
		tally.Outcome = model.OutcomeRejected
		tally.Summary = fmt.Sprintf("rejected: %.0f%% weighted approval, below %.0f%% threshold", share*100, rules.VotingThreshold*100)
	default:
		// Quorum is met but not every expected voter has weighed in yet and
		// the threshold isn't already satisfied; remaining approve votes
		// could still clear it, so deliberation continues.
		tally.Summary = fmt.Sprintf("awaiting remaining ballots: %d of %d expected voters cast", len(byAgent), len(expectedVoters))
	}
	return tally
}
