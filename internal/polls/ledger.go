package polls

import (
	"fmt"
	"time"

	"github.com/classpoll/backend/internal/models"
)

// VotePolicy decides what happens when a voter submits a second time to the same poll.
type VotePolicy int

const (
	// ReplaceVote swaps the earlier choice for the new one.
	ReplaceVote VotePolicy = iota
	// RejectDuplicate refuses any second submission, whatever the option.
	RejectDuplicate
)

// ParseVotePolicy maps a config value to a VotePolicy.
func ParseVotePolicy(s string) (VotePolicy, error) {
	switch s {
	case "", "replace":
		return ReplaceVote, nil
	case "reject":
		return RejectDuplicate, nil
	}
	return 0, fmt.Errorf("unknown vote policy %q", s)
}

func (v VotePolicy) String() string {
	if v == RejectDuplicate {
		return "reject"
	}
	return "replace"
}

// recordVote applies voter's choice of option idx to p under policy.
// The poll must already be validated as open and idx as in range.
// It reports whether the stored counts changed.
func recordVote(p *models.Poll, voter string, idx int, policy VotePolicy, now time.Time) (bool, error) {
	if p.Votes == nil {
		p.Votes = make(map[string]models.Vote)
	}
	prev, ok := p.Votes[voter]
	if ok {
		if policy == RejectDuplicate {
			return false, ErrDuplicateVote
		}
		if prev.Option == idx {
			return false, nil
		}
		if prev.Option >= 0 && prev.Option < len(p.Options) && p.Options[prev.Option].Votes > 0 {
			p.Options[prev.Option].Votes--
		}
		delete(p.Votes, voter)
	}
	p.Options[idx].Votes++
	p.Votes[voter] = models.Vote{Option: idx, RecordedAt: now.UTC()}
	return true, nil
}
