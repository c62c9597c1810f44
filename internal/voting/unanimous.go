package voting

import (
	"fmt"

	"github.com/council-run/council-core/internal/council"
	"github.com/council-run/council-core/internal/model"
)

// unanimousTallier approves once every expected voter has cast a ballot,
// none of them rejects, and at least one approves; abstentions neither
// block nor count toward approval. A single reject (or a veto-capable
// agent rejecting) decides the session immediately without waiting on
// remaining ballots.
type unanimousTallier struct{}

func (unanimousTallier) ValidVoteValues() []model.VoteValue {
	return []model.VoteValue{model.VoteApprove, model.VoteReject, model.VoteAbstain}
}

func (unanimousTallier) Tally(ballots []model.Vote, agents []council.AgentConfig, rules council.Rules, expectedVoters []string) model.Tally {
	weights := weightByAgent(agents)
	byAgent := latestBallots(ballots)

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
		QuorumMet:   len(byAgent) >= rules.Quorum,
		Approve:     approve,
		Reject:      reject,
		Abstain:     abstain,
		TotalWeight: total,
	}

	for _, v := range byAgent {
		if v.Value == model.VoteReject {
			tally.VetoExercised = vetoExercised(byAgent, agents)
			tally.Outcome = model.OutcomeRejected
			tally.Summary = "rejected: unanimous scheme requires zero rejections"
			return tally
		}
	}

	if !tally.QuorumMet {
		tally.Summary = fmt.Sprintf("%d of %d quorum ballots cast, none rejecting", len(byAgent), rules.Quorum)
		return tally
	}

	if len(byAgent) < len(expectedVoters) {
		tally.Summary = fmt.Sprintf("awaiting remaining ballots: %d of %d expected voters cast, none rejecting", len(byAgent), len(expectedVoters))
		return tally
	}

	if approve == 0 {
		tally.Outcome = model.OutcomeRejected
		tally.Summary = "rejected: every ballot abstained"
		return tally
	}

	tally.ThresholdMet = true
	tally.Outcome = model.OutcomeApproved
	tally.Summary = "approved: unanimous"
	return tally
}
