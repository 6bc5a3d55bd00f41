package polls

import (
	"math"
	"sort"

	"github.com/classpoll/backend/internal/models"
)

// OptionTally is one option's share of the vote.
type OptionTally struct {
	Index      int    `json:"index"`
	ID         string `json:"id"`
	Text       string `json:"text"`
	IsCorrect  bool   `json:"is_correct"`
	Votes      int    `json:"votes"`
	Percentage int    `json:"percentage"`
}

// Tally is derived from a poll's option counters and vote ledger; it holds no state of its own.
type Tally struct {
	Options      []OptionTally `json:"options"`
	TotalVotes   int           `json:"total_votes"`
	Participants []string      `json:"participants"`
}

// ComputeTally derives counts, percentages and the visible participant list for p.
// Percentages are round(100*votes/total) per option, so their sum can miss 100 by more than one
// point when many options share the votes. All zero when nobody has voted.
func ComputeTally(p *models.Poll) Tally {
	total := 0
	for _, o := range p.Options {
		total += o.Votes
	}
	t := Tally{
		Options:      make([]OptionTally, len(p.Options)),
		TotalVotes:   total,
		Participants: Participants(p),
	}
	for i, o := range p.Options {
		t.Options[i] = OptionTally{
			Index:      i,
			ID:         o.ID,
			Text:       o.Text,
			IsCorrect:  o.IsCorrect,
			Votes:      o.Votes,
			Percentage: percentage(o.Votes, total),
		}
	}
	return t
}

func percentage(votes, total int) int {
	if total <= 0 {
		return 0
	}
	return int(math.Round(100 * float64(votes) / float64(total)))
}

// Participants returns voters with a current vote, minus excluded names, sorted.
func Participants(p *models.Poll) []string {
	out := make([]string, 0, len(p.Votes))
	for name := range p.Votes {
		if !p.IsExcluded(name) {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}
