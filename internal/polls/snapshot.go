package polls

import (
	"time"

	"github.com/google/uuid"

	"github.com/classpoll/backend/internal/models"
)

// Snapshot is the read view of a poll sent to clients and returned by queries.
type Snapshot struct {
	ID                 uuid.UUID     `json:"id"`
	ExternalID         int64         `json:"unique_id"`
	Question           string        `json:"question"`
	Options            []OptionTally `json:"options"`
	Timer              int           `json:"timer"`
	CreatedBy          string        `json:"created_by,omitempty"`
	CreatedAt          time.Time     `json:"created_at"`
	EndTime            *time.Time    `json:"end_time,omitempty"`
	IsActive           bool          `json:"is_active"`
	TotalVotes         int           `json:"total_votes"`
	Participants       []string      `json:"participants"`
	KickedParticipants []string      `json:"kicked_participants"`
}

// NewSnapshot builds the read view of p, tally included.
func NewSnapshot(p *models.Poll) Snapshot {
	t := ComputeTally(p)
	kicked := append([]string{}, p.ExcludedNames...)
	return Snapshot{
		ID:                 p.ID,
		ExternalID:         p.ExternalID,
		Question:           p.Question,
		Options:            t.Options,
		Timer:              p.Timer,
		CreatedBy:          p.CreatedBy,
		CreatedAt:          p.CreatedAt,
		EndTime:            p.EndTime,
		IsActive:           p.IsOpen(),
		TotalVotes:         t.TotalVotes,
		Participants:       t.Participants,
		KickedParticipants: kicked,
	}
}
