package polls

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/classpoll/backend/internal/models"
)

func twoOptionPoll() *models.Poll {
	return &models.Poll{
		State:   models.PollOpen,
		Options: []models.Option{{ID: "a", Text: "A"}, {ID: "b", Text: "B"}},
	}
}

func TestRecordVoteReplace(t *testing.T) {
	p := twoOptionPoll()
	now := time.Now()

	changed, err := recordVote(p, "alice", 0, ReplaceVote, now)
	require.NoError(t, err)
	assert.True(t, changed)

	changed, err = recordVote(p, "alice", 0, ReplaceVote, now)
	require.NoError(t, err)
	assert.False(t, changed, "identical resubmission is a no-op")

	changed, err = recordVote(p, "alice", 1, ReplaceVote, now)
	require.NoError(t, err)
	assert.True(t, changed)

	assert.Equal(t, 0, p.Options[0].Votes)
	assert.Equal(t, 1, p.Options[1].Votes)
	assert.Equal(t, 1, p.Votes["alice"].Option)
	assert.Len(t, p.Votes, 1)
}

func TestRecordVoteRejectDuplicate(t *testing.T) {
	p := twoOptionPoll()
	now := time.Now()

	_, err := recordVote(p, "alice", 0, RejectDuplicate, now)
	require.NoError(t, err)

	for _, idx := range []int{0, 1} {
		_, err = recordVote(p, "alice", idx, RejectDuplicate, now)
		assert.ErrorIs(t, err, ErrDuplicateVote)
	}
	assert.Equal(t, 1, p.Options[0].Votes)
	assert.Equal(t, 0, p.Options[1].Votes)
}

func TestRecordVoteTotalsMatchDistinctVoters(t *testing.T) {
	p := &models.Poll{State: models.PollOpen, Options: make([]models.Option, 4)}
	voters := []string{"a", "b", "c", "d", "e"}
	now := time.Now()
	last := map[string]int{}
	for round := 0; round < 20; round++ {
		v := voters[round%len(voters)]
		idx := (round * 7) % len(p.Options)
		_, err := recordVote(p, v, idx, ReplaceVote, now)
		require.NoError(t, err)
		last[v] = idx
	}

	total := 0
	want := make([]int, len(p.Options))
	for _, idx := range last {
		want[idx]++
	}
	for i, o := range p.Options {
		total += o.Votes
		assert.Equal(t, want[i], o.Votes, "option %d", i)
	}
	assert.Equal(t, len(voters), total)
}

func TestParseVotePolicy(t *testing.T) {
	p, err := ParseVotePolicy("reject")
	require.NoError(t, err)
	assert.Equal(t, RejectDuplicate, p)

	p, err = ParseVotePolicy("")
	require.NoError(t, err)
	assert.Equal(t, ReplaceVote, p)

	_, err = ParseVotePolicy("merge")
	assert.Error(t, err)
}
