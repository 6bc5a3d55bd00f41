package polls

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/classpoll/backend/internal/middleware"
	"github.com/classpoll/backend/pkg/response"
)

// CreateRequest is the body for POST /api/questions.
type CreateRequest struct {
	Question  string        `json:"question" binding:"required"`
	Options   []OptionInput `json:"options" binding:"required"`
	Timer     int           `json:"timer"`
	CreatedBy string        `json:"created_by"`
}

// SubmitRequest is the body for POST /api/submit. Exactly one of OptionID and OptionIndex is set.
type SubmitRequest struct {
	QuestionID  FlexID `json:"question_id"`
	OptionID    string `json:"option_id"`
	OptionIndex *int   `json:"option_index"`
	UserName    string `json:"user_name"`
}

// KickRequest is the body for POST /api/kickParticipant.
type KickRequest struct {
	ParticipantName string `json:"participant_name" binding:"required"`
}

// FlexID accepts a poll id sent either as a JSON string or a JSON number.
type FlexID string

// UnmarshalJSON implements json.Unmarshaler.
func (f *FlexID) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*f = FlexID(s)
		return nil
	}
	if bytes.Equal(b, []byte("null")) {
		*f = ""
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	*f = FlexID(n.String())
	return nil
}

// Selector builds the option selector from the request, rejecting ambiguous input.
func (r SubmitRequest) Selector() (OptionSelector, error) {
	switch {
	case r.OptionID != "" && r.OptionIndex != nil:
		return OptionSelector{}, Invalid("send either option_id or option_index, not both")
	case r.OptionID != "":
		return ByStableID(r.OptionID), nil
	case r.OptionIndex != nil:
		return ByIndex(*r.OptionIndex), nil
	}
	return OptionSelector{}, ErrMissingFields
}

// Handler handles poll HTTP endpoints.
type Handler struct {
	svc    *Service
	logger *zap.Logger
}

// NewHandler creates a polls handler.
func NewHandler(svc *Service, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{svc: svc, logger: logger}
}

// Create handles POST /api/questions (teacher).
func (h *Handler) Create(c *gin.Context) {
	var req CreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	createdBy := req.CreatedBy
	if createdBy == "" {
		createdBy = middleware.UserName(c)
	}
	p, err := h.svc.Create(c.Request.Context(), CreateInput{
		Question:  req.Question,
		Options:   req.Options,
		Timer:     req.Timer,
		CreatedBy: createdBy,
	})
	if err != nil {
		h.fail(c, err)
		return
	}
	response.Created(c, gin.H{"poll_id": p.ID, "unique_id": p.ExternalID})
}

// Active handles GET /api/questions/active?timestamp=<unix ms>.
func (h *Handler) Active(c *gin.Context) {
	now := time.Now()
	if ts := c.Query("timestamp"); ts != "" {
		ms, err := strconv.ParseInt(ts, 10, 64)
		if err != nil {
			response.BadRequest(c, "invalid timestamp")
			return
		}
		now = time.UnixMilli(ms)
	}
	status, err := h.svc.ActivePoll(c.Request.Context(), now)
	if err != nil {
		h.fail(c, err)
		return
	}
	response.OK(c, status)
}

// Submit handles POST /api/submit.
func (h *Handler) Submit(c *gin.Context) {
	var req SubmitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	if req.QuestionID == "" || req.UserName == "" {
		h.fail(c, ErrMissingFields)
		return
	}
	ref, err := ParsePollRef(string(req.QuestionID))
	if err != nil {
		h.fail(c, err)
		return
	}
	sel, err := req.Selector()
	if err != nil {
		h.fail(c, err)
		return
	}
	tally, err := h.svc.SubmitVote(c.Request.Context(), VoteRequest{Poll: ref, Option: sel, Voter: req.UserName})
	if err != nil {
		h.fail(c, err)
		return
	}
	response.OK(c, tally)
}

// Results handles GET /api/results (current open poll).
func (h *Handler) Results(c *gin.Context) {
	snap, err := h.svc.Results(c.Request.Context())
	if err != nil {
		h.fail(c, err)
		return
	}
	response.OK(c, snap)
}

// History handles GET /api/polls/history?created_by=&limit=.
func (h *Handler) History(c *gin.Context) {
	limit := 0
	if l := c.Query("limit"); l != "" {
		n, err := strconv.Atoi(l)
		if err != nil || n < 0 {
			response.BadRequest(c, "invalid limit")
			return
		}
		limit = n
	}
	list, err := h.svc.History(c.Request.Context(), HistoryQuery{CreatedBy: c.Query("created_by"), Limit: limit})
	if err != nil {
		h.fail(c, err)
		return
	}
	response.OK(c, gin.H{"polls": list})
}

// GetByID handles GET /api/polls/:id.
func (h *Handler) GetByID(c *gin.Context) {
	ref, err := ParsePollRef(c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	snap, err := h.svc.Get(c.Request.Context(), ref)
	if err != nil {
		h.fail(c, err)
		return
	}
	response.OK(c, snap)
}

// Close handles POST /api/polls/:id/close (teacher).
func (h *Handler) Close(c *gin.Context) {
	ref, err := ParsePollRef(c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	p, err := h.svc.Close(c.Request.Context(), ref)
	if err != nil {
		h.fail(c, err)
		return
	}
	response.OK(c, NewSnapshot(p))
}

// Kick handles POST /api/kickParticipant (teacher). Targets the most recently created poll.
func (h *Handler) Kick(c *gin.Context) {
	var req KickRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	p, err := h.svc.Exclude(c.Request.Context(), PollRef{}, req.ParticipantName)
	if err != nil {
		h.fail(c, err)
		return
	}
	response.OK(c, gin.H{"poll_id": p.ID, "kicked_participants": p.ExcludedNames})
}

// fail maps a categorized error onto the response envelope.
func (h *Handler) fail(c *gin.Context, err error) {
	kind := KindOf(err)
	var status int
	switch {
	case errors.Is(err, ErrNoActivePoll):
		status = http.StatusNotFound
	case kind == KindNotFound:
		status = http.StatusNotFound
	case kind == KindInvalidInput, kind == KindInvalidState, kind == KindDuplicateVote:
		status = http.StatusBadRequest
	case kind == KindConflict:
		status = http.StatusConflict
	default:
		h.logger.Error("poll request failed", zap.String("path", c.Request.URL.Path), zap.Error(err))
		response.Internal(c, "internal error")
		return
	}
	response.Fail(c, status, kind.String(), err.Error())
}
