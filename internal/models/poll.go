package models

import (
	"time"

	"github.com/google/uuid"
)

// PollState is the lifecycle state of a poll. Open -> Closed is the only transition.
type PollState string

const (
	PollOpen   PollState = "open"
	PollClosed PollState = "closed"
)

// Poll is a timed multiple-choice question. It is persisted as a single document.
type Poll struct {
	ID            uuid.UUID       `json:"id"`
	ExternalID    int64           `json:"unique_id"`
	Question      string          `json:"question"`
	Options       []Option        `json:"options"`
	Timer         int             `json:"timer"` // seconds
	CreatedBy     string          `json:"created_by,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
	EndTime       *time.Time      `json:"end_time,omitempty"`
	State         PollState       `json:"state"`
	Votes         map[string]Vote `json:"-"`
	ExcludedNames []string        `json:"kicked_participants"`
	Version       int64           `json:"-"`
}

// Option is one answer within a poll, addressed by its position or its stable id.
type Option struct {
	ID        string `json:"id"`
	Text      string `json:"text"`
	IsCorrect bool   `json:"is_correct"`
	Votes     int    `json:"votes"`
}

// Vote is a voter's current choice within a poll. Keyed by voter name in Poll.Votes.
type Vote struct {
	Option     int       `json:"option"`
	RecordedAt time.Time `json:"recorded_at"`
}

// IsOpen reports whether the poll still accepts votes.
func (p *Poll) IsOpen() bool { return p.State == PollOpen }

// Deadline returns the time the poll's timer expires.
func (p *Poll) Deadline() time.Time {
	return p.CreatedAt.Add(time.Duration(p.Timer) * time.Second)
}

// IsExcluded reports whether name has been kicked from the poll.
func (p *Poll) IsExcluded(name string) bool {
	for _, n := range p.ExcludedNames {
		if n == name {
			return true
		}
	}
	return false
}

// Clone returns a deep copy so callers can mutate without touching shared state.
func (p *Poll) Clone() *Poll {
	if p == nil {
		return nil
	}
	cp := *p
	cp.Options = append([]Option(nil), p.Options...)
	cp.ExcludedNames = append([]string(nil), p.ExcludedNames...)
	if p.EndTime != nil {
		t := *p.EndTime
		cp.EndTime = &t
	}
	cp.Votes = make(map[string]Vote, len(p.Votes))
	for k, v := range p.Votes {
		cp.Votes[k] = v
	}
	return &cp
}
