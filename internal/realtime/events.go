package realtime

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/classpoll/backend/internal/models"
	"github.com/classpoll/backend/internal/polls"
)

// Inbound events.
const (
	EventTeacherJoin  = "teacher-join"
	EventStudentJoin  = "student-join"
	EventCreatePoll   = "create-poll"
	EventSubmitAnswer = "submit-answer"
	EventClosePoll    = "close-poll"
	EventKickStudent  = "kick-student"
	EventGetPastPolls = "get-past-polls"
)

// Outbound events.
const (
	EventTeacherConnected = "teacher-connected"
	EventStudentConnected = "student-connected"
	EventStudentJoined    = "student-joined"
	EventNewPoll          = "new-poll"
	EventPollUpdate       = "poll-update"
	EventPollEnded        = "poll-ended"
	EventKicked           = "kicked"
	EventPastPolls        = "past-polls"
	EventError            = "error"
)

const opTimeout = 5 * time.Second

// PollService is the subset of the poll service the socket drives.
type PollService interface {
	Create(ctx context.Context, in polls.CreateInput) (*models.Poll, error)
	SubmitVote(ctx context.Context, req polls.VoteRequest) (polls.Tally, error)
	Close(ctx context.Context, ref polls.PollRef) (*models.Poll, error)
	Exclude(ctx context.Context, ref polls.PollRef, name string) (*models.Poll, error)
	History(ctx context.Context, q polls.HistoryQuery) ([]polls.Snapshot, error)
}

// ErrorPayload is the data of an outbound error event.
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type createPollPayload struct {
	Question  string            `json:"question"`
	Options   []json.RawMessage `json:"options"`
	Duration  int               `json:"duration"`
	Timer     int               `json:"timer"`
	CreatorID string            `json:"creator_id"`
}

type submitAnswerPayload struct {
	PollID      polls.FlexID `json:"poll_id"`
	OptionID    string       `json:"option_id"`
	OptionIndex *int         `json:"option_index"`
}

type pollRefPayload struct {
	PollID polls.FlexID `json:"poll_id"`
}

type kickPayload struct {
	ConnectionID string `json:"connection_id"`
}

type pastPollsPayload struct {
	CreatorID string `json:"creator_id"`
	Limit     int    `json:"limit"`
}

func (c *Client) handle(msg WSMessage) {
	switch msg.Event {
	case EventTeacherJoin:
		c.join(msg.Data, RoleTeacher)
	case EventStudentJoin:
		c.join(msg.Data, RoleStudent)
	case EventCreatePoll:
		c.createPoll(msg.Data)
	case EventSubmitAnswer:
		c.submitAnswer(msg.Data)
	case EventClosePoll:
		c.closePoll(msg.Data)
	case EventKickStudent:
		c.kickStudent(msg.Data)
	case EventGetPastPolls:
		c.pastPolls(msg.Data)
	default:
		c.logger.Debug("unknown websocket event", zap.String("event", msg.Event))
	}
}

// join accepts the name either as a bare JSON string or as {"name": ...}.
func (c *Client) join(data json.RawMessage, role string) {
	name := decodeName(data)
	if name == "" {
		c.sendError("invalid_input", "name is required")
		return
	}
	c.hub.Bind(c, name, role)
	self := map[string]string{"id": c.ID, "name": name}
	if role == RoleTeacher {
		c.hub.SendToClient(c.ID, EventTeacherConnected, self)
		return
	}
	c.hub.SendToClient(c.ID, EventStudentConnected, self)
	c.hub.Publish(EventStudentJoined, self)
}

func decodeName(data json.RawMessage) string {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return ""
	}
	var s string
	if data[0] == '"' {
		if json.Unmarshal(data, &s) != nil {
			return ""
		}
		return strings.TrimSpace(s)
	}
	var obj struct {
		Name string `json:"name"`
	}
	if json.Unmarshal(data, &obj) != nil {
		return ""
	}
	return strings.TrimSpace(obj.Name)
}

func (c *Client) createPoll(data json.RawMessage) {
	name, ok := c.requireTeacher()
	if !ok {
		return
	}
	var p createPollPayload
	if err := json.Unmarshal(data, &p); err != nil {
		c.sendError("invalid_input", "invalid create-poll payload")
		return
	}
	opts, err := decodeOptions(p.Options)
	if err != nil {
		c.sendPollError(err)
		return
	}
	timer := p.Duration
	if timer == 0 {
		timer = p.Timer
	}
	createdBy := p.CreatorID
	if createdBy == "" {
		createdBy = name
	}
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()
	if _, err := c.svc.Create(ctx, polls.CreateInput{
		Question:  p.Question,
		Options:   opts,
		Timer:     timer,
		CreatedBy: createdBy,
	}); err != nil {
		c.sendPollError(err)
	}
}

// decodeOptions accepts options as plain strings or as {"text", "is_correct"} objects.
func decodeOptions(raw []json.RawMessage) ([]polls.OptionInput, error) {
	out := make([]polls.OptionInput, 0, len(raw))
	for _, r := range raw {
		r = bytes.TrimSpace(r)
		var opt polls.OptionInput
		if len(r) > 0 && r[0] == '"' {
			if err := json.Unmarshal(r, &opt.Text); err != nil {
				return nil, polls.Invalid("invalid option")
			}
		} else if err := json.Unmarshal(r, &opt); err != nil {
			return nil, polls.Invalid("invalid option")
		}
		out = append(out, opt)
	}
	return out, nil
}

func (c *Client) submitAnswer(data json.RawMessage) {
	name, _ := c.hub.identity(c)
	if name == "" {
		c.sendPollError(polls.ErrMissingFields)
		return
	}
	if c.hub.isKicked(c) {
		c.sendPollError(polls.ErrParticipantExcluded)
		return
	}
	var p submitAnswerPayload
	if err := json.Unmarshal(data, &p); err != nil {
		c.sendError("invalid_input", "invalid submit-answer payload")
		return
	}
	ref, err := polls.ParsePollRef(string(p.PollID))
	if err != nil {
		c.sendPollError(err)
		return
	}
	sel, err := polls.SubmitRequest{OptionID: p.OptionID, OptionIndex: p.OptionIndex}.Selector()
	if err != nil {
		c.sendPollError(err)
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()
	if _, err := c.svc.SubmitVote(ctx, polls.VoteRequest{Poll: ref, Option: sel, Voter: name}); err != nil {
		c.sendPollError(err)
	}
}

func (c *Client) closePoll(data json.RawMessage) {
	if _, ok := c.requireTeacher(); !ok {
		return
	}
	var p pollRefPayload
	if err := json.Unmarshal(data, &p); err != nil {
		c.sendError("invalid_input", "invalid close-poll payload")
		return
	}
	ref, err := polls.ParsePollRef(string(p.PollID))
	if err != nil {
		c.sendPollError(err)
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()
	if _, err := c.svc.Close(ctx, ref); err != nil {
		c.sendPollError(err)
	}
}

// kickStudent excludes the student from the most recent poll. With no poll to exclude from
// the connection is still barred from answering.
func (c *Client) kickStudent(data json.RawMessage) {
	if _, ok := c.requireTeacher(); !ok {
		return
	}
	var p kickPayload
	if err := json.Unmarshal(data, &p); err != nil || p.ConnectionID == "" {
		c.sendPollError(polls.ErrMissingFields)
		return
	}
	target, ok := c.hub.Lookup(p.ConnectionID)
	if !ok || target.Role != RoleStudent {
		c.sendPollError(polls.ErrParticipantNotFound)
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()
	_, err := c.svc.Exclude(ctx, polls.PollRef{}, target.Name)
	switch {
	case err == nil:
	case polls.KindOf(err) == polls.KindNotFound:
		// No poll to record the exclusion on yet.
		c.hub.kickConnection(target.ConnectionID, map[string]string{"name": target.Name})
	default:
		c.sendPollError(err)
	}
}

func (c *Client) pastPolls(data json.RawMessage) {
	var p pastPollsPayload
	if len(bytes.TrimSpace(data)) > 0 {
		if err := json.Unmarshal(data, &p); err != nil {
			c.sendError("invalid_input", "invalid get-past-polls payload")
			return
		}
	}
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()
	list, err := c.svc.History(ctx, polls.HistoryQuery{CreatedBy: p.CreatorID, Limit: p.Limit})
	if err != nil {
		c.sendPollError(err)
		return
	}
	c.hub.SendToClient(c.ID, EventPastPolls, map[string]interface{}{"polls": list})
}

func (c *Client) requireTeacher() (string, bool) {
	name, role := c.hub.identity(c)
	if role != RoleTeacher {
		c.sendError("forbidden", "only a teacher can do that")
		return "", false
	}
	return name, true
}

func (c *Client) sendPollError(err error) {
	var perr *polls.Error
	if !errors.As(err, &perr) {
		c.logger.Error("websocket poll operation failed", zap.String("client_id", c.ID), zap.Error(err))
		c.sendError(polls.KindInternal.String(), "internal error")
		return
	}
	c.sendError(perr.Kind.String(), perr.Message)
}

func (c *Client) sendError(code, message string) {
	c.hub.SendToClient(c.ID, EventError, ErrorPayload{Code: code, Message: message})
}
