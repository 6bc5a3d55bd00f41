package polls

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/classpoll/backend/internal/models"
)

const createLockKey = "poll:create"

// Notifier fans poll changes out to connected viewers. Implementations must not block.
type Notifier interface {
	PollCreated(s Snapshot)
	PollUpdated(s Snapshot)
	PollClosed(s Snapshot)
	ParticipantExcluded(s Snapshot, name string)
}

// Archiver receives closed polls for export.
type Archiver interface {
	EnqueuePollArchive(ctx context.Context, pollID uuid.UUID, externalID int64) error
}

// Options configures a Service.
type Options struct {
	Policy       VotePolicy
	DefaultTimer int // seconds
	MaxTimer     int // seconds
	ActiveWindow time.Duration
	HistoryLimit int
	CloseTimeout time.Duration
	Now          func() time.Time
}

func (o *Options) setDefaults() {
	if o.DefaultTimer <= 0 {
		o.DefaultTimer = 60
	}
	if o.MaxTimer < o.DefaultTimer {
		o.MaxTimer = 3600
	}
	if o.ActiveWindow <= 0 {
		o.ActiveWindow = time.Hour
	}
	if o.HistoryLimit <= 0 || o.HistoryLimit > 50 {
		o.HistoryLimit = 50
	}
	if o.CloseTimeout <= 0 {
		o.CloseTimeout = 10 * time.Second
	}
	if o.Now == nil {
		o.Now = time.Now
	}
}

// OptionInput is one option of a create request.
type OptionInput struct {
	Text      string `json:"text"`
	IsCorrect bool   `json:"is_correct"`
}

// CreateInput holds the fields for a new poll.
type CreateInput struct {
	Question  string
	Options   []OptionInput
	Timer     int // seconds; 0 uses the default
	CreatedBy string
}

// VoteRequest is one voter's submission.
type VoteRequest struct {
	Poll   PollRef
	Option OptionSelector
	Voter  string
}

// HistoryQuery narrows a history listing.
type HistoryQuery struct {
	CreatedBy string
	Limit     int
}

// ActiveStatus answers "is there a live poll right now".
type ActiveStatus struct {
	IsActive bool      `json:"isActive"`
	Poll     *Snapshot `json:"poll"`
	Message  string    `json:"message"`
}

// Service owns the poll lifecycle: creation, voting, exclusion, closure and expiry.
// Every mutation of one poll runs under that poll's lock.
type Service struct {
	store     Store
	locker    Locker
	notifier  Notifier
	archiver  Archiver
	scheduler *Scheduler
	opts      Options
	logger    *zap.Logger

	idMu   sync.Mutex
	lastID int64
}

// NewService creates a poll service.
func NewService(store Store, locker Locker, notifier Notifier, logger *zap.Logger, opts Options) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	if locker == nil {
		locker = NewLocalLocker()
	}
	opts.setDefaults()
	return &Service{
		store:     store,
		locker:    locker,
		notifier:  notifier,
		scheduler: NewScheduler(logger),
		opts:      opts,
		logger:    logger,
	}
}

// SetArchiver enables export of closed polls.
func (s *Service) SetArchiver(a Archiver) { s.archiver = a }

// Policy returns the configured resubmission policy.
func (s *Service) Policy() VotePolicy { return s.opts.Policy }

// Create stores a new open poll, closing any poll it supersedes, and arms its timer.
func (s *Service) Create(ctx context.Context, in CreateInput) (*models.Poll, error) {
	p, err := s.buildPoll(in)
	if err != nil {
		return nil, err
	}

	unlock, err := s.lockKey(ctx, createLockKey)
	if err != nil {
		return nil, err
	}
	defer unlock()

	prev, err := s.store.Latest(ctx, models.PollOpen)
	switch {
	case err == nil:
		if _, _, err := s.closeByID(ctx, prev.ID, TriggerSuperseded); err != nil {
			return nil, fmt.Errorf("close superseded poll: %w", err)
		}
	case !errors.Is(err, ErrPollNotFound):
		return nil, fmt.Errorf("load open poll: %w", err)
	}

	if err := s.store.Insert(ctx, p); err != nil {
		return nil, err
	}
	s.arm(p)
	pollsCreatedTotal.Inc()
	s.logger.Info("poll created",
		zap.String("poll_id", p.ID.String()),
		zap.Int64("external_id", p.ExternalID),
		zap.Int("options", len(p.Options)),
		zap.Int("timer", p.Timer))
	if s.notifier != nil {
		s.notifier.PollCreated(NewSnapshot(p))
	}
	return p, nil
}

func (s *Service) buildPoll(in CreateInput) (*models.Poll, error) {
	question := strings.TrimSpace(in.Question)
	if question == "" {
		return nil, Invalid("question is required")
	}
	if len(in.Options) < 2 {
		return nil, Invalid("at least two options are required")
	}
	timer := in.Timer
	if timer == 0 {
		timer = s.opts.DefaultTimer
	}
	if timer < 0 || timer > s.opts.MaxTimer {
		return nil, Invalid(fmt.Sprintf("timer must be between 1 and %d seconds", s.opts.MaxTimer))
	}
	opts := make([]models.Option, len(in.Options))
	for i, o := range in.Options {
		text := strings.TrimSpace(o.Text)
		if text == "" {
			return nil, Invalid(fmt.Sprintf("option %d has no text", i))
		}
		opts[i] = models.Option{ID: uuid.NewString(), Text: text, IsCorrect: o.IsCorrect}
	}
	now := s.opts.Now().UTC()
	return &models.Poll{
		ID:            uuid.New(),
		ExternalID:    s.nextExternalID(now),
		Question:      question,
		Options:       opts,
		Timer:         timer,
		CreatedBy:     strings.TrimSpace(in.CreatedBy),
		CreatedAt:     now,
		State:         models.PollOpen,
		Votes:         make(map[string]models.Vote),
		ExcludedNames: []string{},
	}, nil
}

// nextExternalID returns the creation clock in milliseconds, strictly increasing within the process.
func (s *Service) nextExternalID(now time.Time) int64 {
	s.idMu.Lock()
	defer s.idMu.Unlock()
	id := now.UnixMilli()
	if id <= s.lastID {
		id = s.lastID + 1
	}
	s.lastID = id
	return id
}

func (s *Service) arm(p *models.Poll) {
	id := p.ID
	s.scheduler.Schedule(id, p.Deadline().Sub(s.opts.Now()), func() { s.expire(id) })
}

// expire is the timer callback. Failures are logged; nobody is waiting on it.
func (s *Service) expire(id uuid.UUID) {
	ctx, cancel := context.WithTimeout(context.Background(), s.opts.CloseTimeout)
	defer cancel()
	if _, closed, err := s.closeByID(ctx, id, TriggerTimer); err != nil {
		s.logger.Error("timer close failed", zap.String("poll_id", id.String()), zap.Error(err))
	} else if !closed {
		s.logger.Debug("timer fired on closed poll", zap.String("poll_id", id.String()))
	}
}

// Close ends a poll. Closing an already closed poll succeeds without side effects.
func (s *Service) Close(ctx context.Context, ref PollRef) (*models.Poll, error) {
	id, err := s.resolveID(ctx, ref)
	if err != nil {
		return nil, err
	}
	p, _, err := s.closeByID(ctx, id, TriggerManual)
	return p, err
}

func (s *Service) closeByID(ctx context.Context, id uuid.UUID, trigger CloseTrigger) (*models.Poll, bool, error) {
	unlock, err := s.lock(ctx, id)
	if err != nil {
		return nil, false, err
	}
	defer unlock()

	p, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, false, err
	}
	if !closePoll(p, s.opts.Now()) {
		s.scheduler.Cancel(id)
		return p, false, nil
	}
	if err := s.store.Save(ctx, p); err != nil {
		return nil, false, err
	}
	s.afterClose(p, trigger)
	return p, true, nil
}

// afterClose runs the side effects of an Open -> Closed transition. Caller holds the poll lock.
func (s *Service) afterClose(p *models.Poll, trigger CloseTrigger) {
	s.scheduler.Cancel(p.ID)
	pollsClosedTotal.WithLabelValues(string(trigger)).Inc()
	s.logger.Info("poll closed",
		zap.String("poll_id", p.ID.String()),
		zap.Int64("external_id", p.ExternalID),
		zap.String("trigger", string(trigger)))
	if s.notifier != nil {
		s.notifier.PollClosed(NewSnapshot(p))
	}
	if s.archiver != nil {
		id, ext := p.ID, p.ExternalID
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), s.opts.CloseTimeout)
			defer cancel()
			if err := s.archiver.EnqueuePollArchive(ctx, id, ext); err != nil {
				s.logger.Warn("enqueue poll archive failed", zap.String("poll_id", id.String()), zap.Error(err))
			}
		}()
	}
}

// SubmitVote records the voter's choice and returns the resulting tally.
// Under ReplaceVote a resubmission moves the vote; an identical resubmission changes nothing.
func (s *Service) SubmitVote(ctx context.Context, req VoteRequest) (Tally, error) {
	voter := strings.TrimSpace(req.Voter)
	if voter == "" || req.Poll.IsZero() || req.Option.IsZero() {
		return Tally{}, ErrMissingFields
	}
	id, err := s.resolveID(ctx, req.Poll)
	if err != nil {
		return Tally{}, s.countVote(err)
	}

	unlock, err := s.lock(ctx, id)
	if err != nil {
		return Tally{}, err
	}
	defer unlock()

	p, err := s.store.Get(ctx, id)
	if err != nil {
		return Tally{}, s.countVote(err)
	}
	now := s.opts.Now()
	if p.IsOpen() && !now.Before(p.Deadline()) {
		// The timer is late; close here so no vote lands after the deadline.
		closePoll(p, now)
		if err := s.store.Save(ctx, p); err != nil {
			return Tally{}, err
		}
		s.afterClose(p, TriggerTimer)
	}
	if err := requireOpen(p); err != nil {
		return Tally{}, s.countVote(err)
	}
	if p.IsExcluded(voter) {
		return Tally{}, s.countVote(ErrParticipantExcluded)
	}
	idx, err := req.Option.resolve(p)
	if err != nil {
		return Tally{}, s.countVote(err)
	}
	_, replacing := p.Votes[voter]
	changed, err := recordVote(p, voter, idx, s.opts.Policy, now)
	if err != nil {
		return Tally{}, s.countVote(err)
	}
	if !changed {
		votesTotal.WithLabelValues("unchanged").Inc()
		return ComputeTally(p), nil
	}
	if err := s.store.Save(ctx, p); err != nil {
		return Tally{}, s.countVote(err)
	}
	if replacing {
		votesTotal.WithLabelValues("replaced").Inc()
	} else {
		votesTotal.WithLabelValues("accepted").Inc()
	}
	snap := NewSnapshot(p)
	if s.notifier != nil {
		s.notifier.PollUpdated(snap)
	}
	return Tally{Options: snap.Options, TotalVotes: snap.TotalVotes, Participants: snap.Participants}, nil
}

func (s *Service) countVote(err error) error {
	votesTotal.WithLabelValues(KindOf(err).String()).Inc()
	return err
}

// Exclude kicks name from a poll, open or closed; a zero ref means the most recently created poll.
// Recorded votes stay counted; the name disappears from the participant list and may not vote again.
func (s *Service) Exclude(ctx context.Context, ref PollRef, name string) (*models.Poll, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, ErrMissingFields
	}
	var id uuid.UUID
	if ref.IsZero() {
		latest, err := s.store.Latest(ctx, "")
		if err != nil {
			return nil, err
		}
		id = latest.ID
	} else {
		var err error
		if id, err = s.resolveID(ctx, ref); err != nil {
			return nil, err
		}
	}

	unlock, err := s.lock(ctx, id)
	if err != nil {
		return nil, err
	}
	defer unlock()

	p, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	// Closed polls accept exclusions too; only the visible participant list changes.
	changed := !p.IsExcluded(name)
	if changed {
		p.ExcludedNames = append(p.ExcludedNames, name)
		if err := s.store.Save(ctx, p); err != nil {
			return nil, err
		}
		exclusionsTotal.Inc()
		s.logger.Info("participant excluded", zap.String("poll_id", p.ID.String()), zap.String("name", name))
	}
	if s.notifier != nil {
		snap := NewSnapshot(p)
		s.notifier.ParticipantExcluded(snap, name)
		if changed {
			s.notifier.PollUpdated(snap)
		}
	}
	return p, nil
}

// Get returns the current snapshot of one poll.
func (s *Service) Get(ctx context.Context, ref PollRef) (Snapshot, error) {
	p, err := s.load(ctx, ref)
	if err != nil {
		return Snapshot{}, err
	}
	return NewSnapshot(p), nil
}

// ActivePoll reports whether the newest poll is live at now: it must be open and
// younger than the active window. The window is a coarse ceiling on top of the state machine.
func (s *Service) ActivePoll(ctx context.Context, now time.Time) (ActiveStatus, error) {
	p, err := s.store.Latest(ctx, "")
	if errors.Is(err, ErrPollNotFound) {
		return ActiveStatus{Message: "No polls available"}, nil
	}
	if err != nil {
		return ActiveStatus{}, err
	}
	if now.Sub(p.CreatedAt) >= s.opts.ActiveWindow {
		return ActiveStatus{Message: fmt.Sprintf("No active polls (poll is older than %s)", s.opts.ActiveWindow)}, nil
	}
	if !p.IsOpen() {
		return ActiveStatus{Message: "No active polls (poll has ended)"}, nil
	}
	snap := NewSnapshot(p)
	return ActiveStatus{IsActive: true, Poll: &snap, Message: "Active poll available"}, nil
}

// Results returns the tally of the newest open poll.
func (s *Service) Results(ctx context.Context) (Snapshot, error) {
	p, err := s.store.Latest(ctx, models.PollOpen)
	if errors.Is(err, ErrPollNotFound) {
		return Snapshot{}, ErrNoActivePoll
	}
	if err != nil {
		return Snapshot{}, err
	}
	return NewSnapshot(p), nil
}

// History returns closed polls, newest first, bounded by the configured limit.
func (s *Service) History(ctx context.Context, q HistoryQuery) ([]Snapshot, error) {
	limit := q.Limit
	if limit <= 0 || limit > s.opts.HistoryLimit {
		limit = s.opts.HistoryLimit
	}
	list, err := s.store.List(ctx, Filter{State: models.PollClosed, CreatedBy: q.CreatedBy, Limit: limit})
	if err != nil {
		return nil, err
	}
	out := make([]Snapshot, len(list))
	for i, p := range list {
		out[i] = NewSnapshot(p)
	}
	return out, nil
}

// Resume re-arms timers for polls left open by a previous process, closing overdue ones.
func (s *Service) Resume(ctx context.Context) error {
	open, err := s.store.List(ctx, Filter{State: models.PollOpen})
	if err != nil {
		return fmt.Errorf("list open polls: %w", err)
	}
	now := s.opts.Now()
	for _, p := range open {
		s.idMu.Lock()
		if p.ExternalID > s.lastID {
			s.lastID = p.ExternalID
		}
		s.idMu.Unlock()
		if !now.Before(p.Deadline()) {
			if _, _, err := s.closeByID(ctx, p.ID, TriggerTimer); err != nil {
				s.logger.Warn("close overdue poll failed", zap.String("poll_id", p.ID.String()), zap.Error(err))
			}
			continue
		}
		s.arm(p)
	}
	s.logger.Info("poll timers resumed", zap.Int("open", len(open)))
	return nil
}

// Shutdown disarms all timers.
func (s *Service) Shutdown() { s.scheduler.Stop() }

func (s *Service) load(ctx context.Context, ref PollRef) (*models.Poll, error) {
	switch {
	case ref.ID != uuid.Nil:
		return s.store.Get(ctx, ref.ID)
	case ref.ExternalID != 0:
		return s.store.GetByExternalID(ctx, ref.ExternalID)
	}
	return nil, ErrMissingFields
}

func (s *Service) resolveID(ctx context.Context, ref PollRef) (uuid.UUID, error) {
	if ref.ID != uuid.Nil {
		return ref.ID, nil
	}
	p, err := s.load(ctx, ref)
	if err != nil {
		return uuid.Nil, err
	}
	return p.ID, nil
}

func (s *Service) lock(ctx context.Context, id uuid.UUID) (func(), error) {
	return s.lockKey(ctx, "poll:"+id.String())
}

func (s *Service) lockKey(ctx context.Context, key string) (func(), error) {
	start := time.Now()
	unlock, err := s.locker.Lock(ctx, key)
	lockWaitDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		return nil, fmt.Errorf("lock %s: %w", key, err)
	}
	return unlock, nil
}
