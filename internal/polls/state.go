package polls

import (
	"time"

	"github.com/classpoll/backend/internal/models"
)

// CloseTrigger records why a poll left the Open state.
type CloseTrigger string

const (
	TriggerTimer      CloseTrigger = "timer"
	TriggerManual     CloseTrigger = "manual"
	TriggerSuperseded CloseTrigger = "superseded"
)

// requireOpen rejects mutations against a closed poll.
func requireOpen(p *models.Poll) error {
	if !p.IsOpen() {
		return ErrPollInactive
	}
	return nil
}

// closePoll moves p to Closed and stamps the closure time.
// It reports false when p was already closed; a second close is a no-op.
func closePoll(p *models.Poll, now time.Time) bool {
	if !p.IsOpen() {
		return false
	}
	p.State = models.PollClosed
	t := now.UTC()
	p.EndTime = &t
	return true
}
