package polls

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/classpoll/backend/internal/models"
)

func TestComputeTallyNoVotes(t *testing.T) {
	p := twoOptionPoll()
	tally := ComputeTally(p)
	assert.Equal(t, 0, tally.TotalVotes)
	for _, o := range tally.Options {
		assert.Equal(t, 0, o.Percentage)
	}
	assert.Empty(t, tally.Participants)
}

func TestComputeTallyPercentages(t *testing.T) {
	tests := []struct {
		name  string
		votes []int
		want  []int
	}{
		{"even", []int{1, 1}, []int{50, 50}},
		{"all one side", []int{0, 2}, []int{0, 100}},
		{"thirds", []int{1, 1, 1}, []int{33, 33, 33}},
		{"two thirds", []int{2, 1}, []int{67, 33}},
		{"sevenths", []int{1, 2, 4}, []int{14, 29, 57}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := &models.Poll{Options: make([]models.Option, len(tt.votes))}
			sum := 0
			for i, v := range tt.votes {
				p.Options[i].Votes = v
				sum += v
			}
			tally := ComputeTally(p)
			assert.Equal(t, sum, tally.TotalVotes)
			pct := 0
			for i, o := range tally.Options {
				assert.Equal(t, tt.want[i], o.Percentage)
				pct += o.Percentage
			}
			assert.InDelta(t, 100, pct, 1)
		})
	}
}

// Each option is rounded on its own, so many small shares can drift more than one point from 100.
func TestComputeTallyRoundingDrift(t *testing.T) {
	p := &models.Poll{Options: make([]models.Option, 7)}
	for i := range p.Options {
		p.Options[i].Votes = 1
	}
	tally := ComputeTally(p)
	pct := 0
	for _, o := range tally.Options {
		assert.Equal(t, 14, o.Percentage)
		pct += o.Percentage
	}
	assert.Equal(t, 98, pct)
}

func TestParticipantsExcludeKicked(t *testing.T) {
	p := twoOptionPoll()
	p.Votes = map[string]models.Vote{"bob": {Option: 1}, "alice": {Option: 1}}
	p.Options[1].Votes = 2
	p.ExcludedNames = []string{"bob"}

	tally := ComputeTally(p)
	assert.Equal(t, []string{"alice"}, tally.Participants)
	assert.Equal(t, 2, tally.Options[1].Votes, "kicked votes stay counted")
	assert.Equal(t, 100, tally.Options[1].Percentage)
}

func TestComputeTallyDeterministic(t *testing.T) {
	p := twoOptionPoll()
	p.Options[0].Votes = 3
	p.Options[1].Votes = 5
	assert.Equal(t, ComputeTally(p), ComputeTally(p))
}
