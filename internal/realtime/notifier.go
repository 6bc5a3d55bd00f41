package realtime

import "github.com/classpoll/backend/internal/polls"

// PollNotifier fans poll lifecycle events out to every connected client.
type PollNotifier struct {
	hub *Hub
}

// NewPollNotifier creates a notifier publishing through hub.
func NewPollNotifier(hub *Hub) *PollNotifier {
	return &PollNotifier{hub: hub}
}

var _ polls.Notifier = (*PollNotifier)(nil)

func (n *PollNotifier) PollCreated(s polls.Snapshot) { n.hub.Publish(EventNewPoll, s) }

func (n *PollNotifier) PollUpdated(s polls.Snapshot) { n.hub.Publish(EventPollUpdate, s) }

func (n *PollNotifier) PollClosed(s polls.Snapshot) { n.hub.Publish(EventPollEnded, s) }

// ParticipantExcluded tells every connection bound to name that it was removed.
func (n *PollNotifier) ParticipantExcluded(s polls.Snapshot, name string) {
	n.hub.PublishToName(name, EventKicked, map[string]interface{}{
		"poll_id":   s.ID,
		"unique_id": s.ExternalID,
		"name":      name,
	})
}
