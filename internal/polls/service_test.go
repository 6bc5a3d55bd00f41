package polls

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/classpoll/backend/internal/models"
)

type notifyEvent struct {
	kind string
	snap Snapshot
	name string
}

type fakeNotifier struct {
	mu     sync.Mutex
	events []notifyEvent
}

func (f *fakeNotifier) add(kind string, s Snapshot, name string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, notifyEvent{kind: kind, snap: s, name: name})
}

func (f *fakeNotifier) PollCreated(s Snapshot)                      { f.add("created", s, "") }
func (f *fakeNotifier) PollUpdated(s Snapshot)                      { f.add("updated", s, "") }
func (f *fakeNotifier) PollClosed(s Snapshot)                       { f.add("closed", s, "") }
func (f *fakeNotifier) ParticipantExcluded(s Snapshot, name string) { f.add("excluded", s, name) }

func (f *fakeNotifier) count(kind string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, e := range f.events {
		if e.kind == kind {
			n++
		}
	}
	return n
}

func (f *fakeNotifier) last(kind string) (notifyEvent, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := len(f.events) - 1; i >= 0; i-- {
		if f.events[i].kind == kind {
			return f.events[i], true
		}
	}
	return notifyEvent{}, false
}

type fakeArchiver struct {
	ch chan uuid.UUID
}

func (a *fakeArchiver) EnqueuePollArchive(_ context.Context, id uuid.UUID, _ int64) error {
	a.ch <- id
	return nil
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newTestService(t *testing.T, opts Options) (*Service, *MemoryStore, *fakeNotifier) {
	t.Helper()
	store := NewMemoryStore()
	n := &fakeNotifier{}
	svc := NewService(store, NewLocalLocker(), n, zaptest.NewLogger(t), opts)
	t.Cleanup(svc.Shutdown)
	return svc, store, n
}

func createAB(t *testing.T, svc *Service, timer int) *models.Poll {
	t.Helper()
	p, err := svc.Create(context.Background(), CreateInput{
		Question:  "Q",
		Options:   []OptionInput{{Text: "A"}, {Text: "B", IsCorrect: true}},
		Timer:     timer,
		CreatedBy: "teacher-1",
	})
	require.NoError(t, err)
	return p
}

func vote(t *testing.T, svc *Service, p *models.Poll, voter string, idx int) Tally {
	t.Helper()
	tally, err := svc.SubmitVote(context.Background(), VoteRequest{Poll: ByPollID(p.ID), Option: ByIndex(idx), Voter: voter})
	require.NoError(t, err)
	return tally
}

func percentages(t Tally) []int {
	out := make([]int, len(t.Options))
	for i, o := range t.Options {
		out[i] = o.Percentage
	}
	return out
}

func TestClassroomScenario(t *testing.T) {
	svc, _, n := newTestService(t, Options{})
	ctx := context.Background()
	p := createAB(t, svc, 1)
	assert.Equal(t, 1, n.count("created"))

	tally := vote(t, svc, p, "alice", 0)
	assert.Equal(t, []int{100, 0}, percentages(tally))
	assert.Equal(t, 1, tally.TotalVotes)

	tally = vote(t, svc, p, "bob", 1)
	assert.Equal(t, []int{50, 50}, percentages(tally))
	assert.Equal(t, 2, tally.TotalVotes)

	tally = vote(t, svc, p, "alice", 1)
	assert.Equal(t, []int{0, 100}, percentages(tally))
	assert.Equal(t, 2, tally.TotalVotes)
	assert.Equal(t, []string{"alice", "bob"}, tally.Participants)

	require.Eventually(t, func() bool { return n.count("closed") == 1 }, 3*time.Second, 20*time.Millisecond)

	_, err := svc.SubmitVote(ctx, VoteRequest{Poll: ByPollID(p.ID), Option: ByIndex(0), Voter: "carol"})
	assert.ErrorIs(t, err, ErrPollInactive)
	assert.Equal(t, KindInvalidState, KindOf(err))

	kicked, err := svc.Exclude(ctx, PollRef{}, "bob")
	require.NoError(t, err)
	assert.Equal(t, p.ID, kicked.ID)

	closed, err := svc.Get(ctx, ByPollID(p.ID))
	require.NoError(t, err)
	assert.False(t, closed.IsActive)
	require.NotNil(t, closed.EndTime)
	assert.Equal(t, []string{"alice"}, closed.Participants)
	assert.Equal(t, []string{"bob"}, closed.KickedParticipants)
	assert.Equal(t, 0, closed.Options[0].Votes)
	assert.Equal(t, 2, closed.Options[1].Votes)
	assert.Equal(t, 2, closed.TotalVotes)
}

func TestIdenticalResubmissionIsNoop(t *testing.T) {
	svc, _, n := newTestService(t, Options{})
	p := createAB(t, svc, 60)

	first := vote(t, svc, p, "alice", 1)
	second := vote(t, svc, p, "alice", 1)
	assert.Equal(t, first, second)
	assert.Equal(t, 1, n.count("updated"), "no broadcast for a no-op")
}

func TestRejectDuplicatePolicy(t *testing.T) {
	svc, _, _ := newTestService(t, Options{Policy: RejectDuplicate})
	p := createAB(t, svc, 60)
	vote(t, svc, p, "alice", 0)

	_, err := svc.SubmitVote(context.Background(), VoteRequest{Poll: ByPollID(p.ID), Option: ByIndex(1), Voter: "alice"})
	assert.ErrorIs(t, err, ErrDuplicateVote)

	res, err := svc.Results(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, res.Options[0].Votes)
	assert.Equal(t, 0, res.Options[1].Votes)
}

func TestSubmitVoteValidation(t *testing.T) {
	svc, _, _ := newTestService(t, Options{})
	p := createAB(t, svc, 60)
	ctx := context.Background()

	tests := []struct {
		name string
		req  VoteRequest
		kind Kind
	}{
		{"missing voter", VoteRequest{Poll: ByPollID(p.ID), Option: ByIndex(0)}, KindInvalidInput},
		{"missing option", VoteRequest{Poll: ByPollID(p.ID), Voter: "a"}, KindInvalidInput},
		{"missing poll", VoteRequest{Option: ByIndex(0), Voter: "a"}, KindInvalidInput},
		{"bad index", VoteRequest{Poll: ByPollID(p.ID), Option: ByIndex(5), Voter: "a"}, KindInvalidInput},
		{"bad option id", VoteRequest{Poll: ByPollID(p.ID), Option: ByStableID("x"), Voter: "a"}, KindInvalidInput},
		{"unknown poll", VoteRequest{Poll: ByPollID(uuid.New()), Option: ByIndex(0), Voter: "a"}, KindNotFound},
		{"unknown external id", VoteRequest{Poll: ByExternalID(42), Option: ByIndex(0), Voter: "a"}, KindNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.SubmitVote(ctx, tt.req)
			require.Error(t, err)
			assert.Equal(t, tt.kind, KindOf(err))
		})
	}
}

func TestSubmitByExternalIDAndStableID(t *testing.T) {
	svc, _, _ := newTestService(t, Options{})
	p := createAB(t, svc, 60)

	tally, err := svc.SubmitVote(context.Background(), VoteRequest{
		Poll:   ByExternalID(p.ExternalID),
		Option: ByStableID(p.Options[1].ID),
		Voter:  "dana",
	})
	require.NoError(t, err)
	assert.Equal(t, 1, tally.Options[1].Votes)
}

func TestCloseIsIdempotent(t *testing.T) {
	svc, _, n := newTestService(t, Options{})
	p := createAB(t, svc, 60)
	ctx := context.Background()

	first, err := svc.Close(ctx, ByPollID(p.ID))
	require.NoError(t, err)
	second, err := svc.Close(ctx, ByExternalID(p.ExternalID))
	require.NoError(t, err)

	assert.Equal(t, models.PollClosed, second.State)
	assert.Equal(t, first.EndTime, second.EndTime)
	assert.Equal(t, 1, n.count("closed"))
	assert.Equal(t, 0, svc.scheduler.Pending())
}

func TestEarlyCloseSuppressesTimer(t *testing.T) {
	svc, _, n := newTestService(t, Options{})
	p := createAB(t, svc, 1)
	_, err := svc.Close(context.Background(), ByPollID(p.ID))
	require.NoError(t, err)

	time.Sleep(1500 * time.Millisecond)
	assert.Equal(t, 1, n.count("closed"))
}

func TestTimerAndManualCloseRace(t *testing.T) {
	svc, _, n := newTestService(t, Options{})
	p := createAB(t, svc, 60)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			svc.expire(p.ID)
		}()
		go func() {
			defer wg.Done()
			_, err := svc.Close(context.Background(), ByPollID(p.ID))
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, n.count("closed"))
}

func TestLateTimerClosesOnVote(t *testing.T) {
	clock := &fakeClock{now: time.Date(2026, 1, 5, 9, 0, 0, 0, time.UTC)}
	svc, _, n := newTestService(t, Options{Now: clock.Now})
	p := createAB(t, svc, 30)
	vote(t, svc, p, "alice", 0)

	clock.Advance(31 * time.Second)
	_, err := svc.SubmitVote(context.Background(), VoteRequest{Poll: ByPollID(p.ID), Option: ByIndex(1), Voter: "alice"})
	assert.ErrorIs(t, err, ErrPollInactive)
	assert.Equal(t, 1, n.count("closed"))

	snap, err := svc.Get(context.Background(), ByPollID(p.ID))
	require.NoError(t, err)
	assert.Equal(t, 1, snap.Options[0].Votes)
}

func TestExclusion(t *testing.T) {
	svc, _, n := newTestService(t, Options{})
	p := createAB(t, svc, 60)
	ctx := context.Background()
	vote(t, svc, p, "bob", 0)

	first, err := svc.Exclude(ctx, PollRef{}, "bob")
	require.NoError(t, err)
	second, err := svc.Exclude(ctx, ByPollID(p.ID), "bob")
	require.NoError(t, err)
	assert.Equal(t, []string{"bob"}, first.ExcludedNames)
	assert.Equal(t, first.ExcludedNames, second.ExcludedNames)

	ev, ok := n.last("excluded")
	require.True(t, ok)
	assert.Equal(t, "bob", ev.name)

	_, err = svc.SubmitVote(ctx, VoteRequest{Poll: ByPollID(p.ID), Option: ByIndex(1), Voter: "bob"})
	assert.ErrorIs(t, err, ErrParticipantExcluded)

	snap, err := svc.Get(ctx, ByPollID(p.ID))
	require.NoError(t, err)
	assert.Equal(t, 1, snap.TotalVotes)
	assert.Empty(t, snap.Participants)

	_, err = svc.Exclude(ctx, PollRef{}, "  ")
	assert.ErrorIs(t, err, ErrMissingFields)
}

func TestExcludeAfterClose(t *testing.T) {
	svc, _, n := newTestService(t, Options{})
	ctx := context.Background()
	p := createAB(t, svc, 60)
	vote(t, svc, p, "alice", 0)
	vote(t, svc, p, "bob", 1)
	_, err := svc.Close(ctx, ByPollID(p.ID))
	require.NoError(t, err)

	got, err := svc.Exclude(ctx, PollRef{}, "bob")
	require.NoError(t, err)
	assert.Equal(t, []string{"bob"}, got.ExcludedNames)
	assert.False(t, got.IsOpen())

	ev, ok := n.last("excluded")
	require.True(t, ok)
	assert.Equal(t, "bob", ev.name)

	snap, err := svc.Get(ctx, ByPollID(p.ID))
	require.NoError(t, err)
	assert.Equal(t, []string{"alice"}, snap.Participants)
	assert.Equal(t, 2, snap.TotalVotes)

	_, err = svc.SubmitVote(ctx, VoteRequest{Poll: ByPollID(p.ID), Option: ByIndex(0), Voter: "bob"})
	assert.ErrorIs(t, err, ErrPollInactive)
}

func TestExcludeWithoutPolls(t *testing.T) {
	svc, _, _ := newTestService(t, Options{})
	_, err := svc.Exclude(context.Background(), PollRef{}, "bob")
	assert.ErrorIs(t, err, ErrPollNotFound)
}

func TestCreateSupersedesOpenPoll(t *testing.T) {
	svc, _, n := newTestService(t, Options{})
	ctx := context.Background()
	first := createAB(t, svc, 60)
	second := createAB(t, svc, 60)

	assert.Greater(t, second.ExternalID, first.ExternalID)
	ev, ok := n.last("closed")
	require.True(t, ok)
	assert.Equal(t, first.ID, ev.snap.ID)

	res, err := svc.Results(ctx)
	require.NoError(t, err)
	assert.Equal(t, second.ID, res.ID)
	assert.Equal(t, 1, svc.scheduler.Pending())
}

func TestCreateValidation(t *testing.T) {
	svc, _, _ := newTestService(t, Options{MaxTimer: 120})
	ctx := context.Background()

	tests := []struct {
		name string
		in   CreateInput
	}{
		{"no question", CreateInput{Options: []OptionInput{{Text: "a"}, {Text: "b"}}}},
		{"one option", CreateInput{Question: "q", Options: []OptionInput{{Text: "a"}}}},
		{"blank option", CreateInput{Question: "q", Options: []OptionInput{{Text: "a"}, {Text: " "}}}},
		{"negative timer", CreateInput{Question: "q", Options: []OptionInput{{Text: "a"}, {Text: "b"}}, Timer: -1}},
		{"timer too long", CreateInput{Question: "q", Options: []OptionInput{{Text: "a"}, {Text: "b"}}, Timer: 121}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.Create(ctx, tt.in)
			require.Error(t, err)
			assert.Equal(t, KindInvalidInput, KindOf(err))
		})
	}

	p, err := svc.Create(ctx, CreateInput{Question: "q", Options: []OptionInput{{Text: "a"}, {Text: "b"}}})
	require.NoError(t, err)
	assert.Equal(t, 60, p.Timer, "default timer")
	assert.NotEqual(t, p.Options[0].ID, p.Options[1].ID)
}

func TestConcurrentVotesNoLostUpdates(t *testing.T) {
	svc, _, _ := newTestService(t, Options{})
	p := createAB(t, svc, 60)
	const voters = 100

	var wg sync.WaitGroup
	for i := 0; i < voters; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			name := fmt.Sprintf("student-%d", i)
			for _, idx := range []int{i % 2, (i + 1) % 2, i % 2} {
				_, err := svc.SubmitVote(context.Background(), VoteRequest{Poll: ByPollID(p.ID), Option: ByIndex(idx), Voter: name})
				assert.NoError(t, err)
			}
		}(i)
	}
	wg.Wait()

	res, err := svc.Results(context.Background())
	require.NoError(t, err)
	assert.Equal(t, voters, res.TotalVotes)
	assert.Equal(t, voters/2, res.Options[0].Votes)
	assert.Equal(t, voters/2, res.Options[1].Votes)
	assert.Len(t, res.Participants, voters)
}

func TestActivePoll(t *testing.T) {
	svc, _, _ := newTestService(t, Options{})
	ctx := context.Background()

	status, err := svc.ActivePoll(ctx, time.Now())
	require.NoError(t, err)
	assert.False(t, status.IsActive)
	assert.Nil(t, status.Poll)

	p := createAB(t, svc, 60)
	status, err = svc.ActivePoll(ctx, time.Now())
	require.NoError(t, err)
	assert.True(t, status.IsActive)
	require.NotNil(t, status.Poll)
	assert.Equal(t, p.ExternalID, status.Poll.ExternalID)

	status, err = svc.ActivePoll(ctx, time.Now().Add(2*time.Hour))
	require.NoError(t, err)
	assert.False(t, status.IsActive, "older than the active window")

	_, err = svc.Close(ctx, ByPollID(p.ID))
	require.NoError(t, err)
	status, err = svc.ActivePoll(ctx, time.Now())
	require.NoError(t, err)
	assert.False(t, status.IsActive)
}

func TestResultsWithoutOpenPoll(t *testing.T) {
	svc, _, _ := newTestService(t, Options{})
	_, err := svc.Results(context.Background())
	assert.ErrorIs(t, err, ErrNoActivePoll)
	assert.Equal(t, KindInvalidState, KindOf(err))
}

func TestHistory(t *testing.T) {
	svc, _, _ := newTestService(t, Options{HistoryLimit: 3})
	ctx := context.Background()

	var ids []uuid.UUID
	for i := 0; i < 5; i++ {
		by := "t1"
		if i%2 == 1 {
			by = "t2"
		}
		p, err := svc.Create(ctx, CreateInput{Question: fmt.Sprintf("q%d", i), Options: []OptionInput{{Text: "a"}, {Text: "b"}}, CreatedBy: by})
		require.NoError(t, err)
		ids = append(ids, p.ID)
	}
	// The last poll is still open and must not appear.
	list, err := svc.History(ctx, HistoryQuery{})
	require.NoError(t, err)
	require.Len(t, list, 3)
	assert.Equal(t, ids[3], list[0].ID)
	assert.Equal(t, ids[2], list[1].ID)
	assert.Equal(t, ids[1], list[2].ID)

	list, err = svc.History(ctx, HistoryQuery{CreatedBy: "t1", Limit: 10})
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, ids[2], list[0].ID)
	assert.Equal(t, ids[0], list[1].ID)
}

func TestResumeRearmsTimers(t *testing.T) {
	store := NewMemoryStore()
	n := &fakeNotifier{}
	now := time.Now()
	mk := func(created time.Time, timer int) *models.Poll {
		p := &models.Poll{
			ID:         uuid.New(),
			ExternalID: created.UnixMilli(),
			Question:   "q",
			Options:    []models.Option{{ID: "a", Text: "a"}, {ID: "b", Text: "b"}},
			Timer:      timer,
			CreatedAt:  created,
			State:      models.PollOpen,
		}
		require.NoError(t, store.Insert(context.Background(), p))
		return p
	}
	overdue := mk(now.Add(-2*time.Minute), 60)
	running := mk(now.Add(-10*time.Second), 60)

	svc := NewService(store, nil, n, zaptest.NewLogger(t), Options{})
	t.Cleanup(svc.Shutdown)
	require.NoError(t, svc.Resume(context.Background()))

	got, err := store.Get(context.Background(), overdue.ID)
	require.NoError(t, err)
	assert.Equal(t, models.PollClosed, got.State)
	got, err = store.Get(context.Background(), running.ID)
	require.NoError(t, err)
	assert.Equal(t, models.PollOpen, got.State)
	assert.Equal(t, 1, svc.scheduler.Pending())

	p := createAB(t, svc, 60)
	assert.Greater(t, p.ExternalID, running.ExternalID)
}

func TestArchiveEnqueuedOnClose(t *testing.T) {
	svc, _, _ := newTestService(t, Options{})
	a := &fakeArchiver{ch: make(chan uuid.UUID, 1)}
	svc.SetArchiver(a)
	p := createAB(t, svc, 60)

	_, err := svc.Close(context.Background(), ByPollID(p.ID))
	require.NoError(t, err)
	select {
	case id := <-a.ch:
		assert.Equal(t, p.ID, id)
	case <-time.After(time.Second):
		t.Fatal("archive job not enqueued")
	}
}
