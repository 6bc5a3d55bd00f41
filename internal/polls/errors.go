package polls

import "errors"

// Kind categorizes a poll error for callers that need to map it (HTTP status, websocket error code).
type Kind int

const (
	KindInternal Kind = iota
	KindNotFound
	KindInvalidState
	KindInvalidInput
	KindDuplicateVote
	KindConflict
)

// String returns the wire code for the kind.
func (k Kind) String() string {
	switch k {
	case KindNotFound:
		return "not_found"
	case KindInvalidState:
		return "invalid_state"
	case KindInvalidInput:
		return "invalid_input"
	case KindDuplicateVote:
		return "duplicate_vote"
	case KindConflict:
		return "conflict"
	default:
		return "internal"
	}
}

// Error is a categorized poll failure.
type Error struct {
	Kind    Kind
	Message string
}

func (e *Error) Error() string { return e.Message }

func newError(kind Kind, msg string) *Error { return &Error{Kind: kind, Message: msg} }

var (
	ErrPollNotFound        = newError(KindNotFound, "poll not found")
	ErrParticipantNotFound = newError(KindNotFound, "participant not found")
	ErrPollInactive        = newError(KindInvalidState, "poll is inactive")
	ErrNoActivePoll        = newError(KindInvalidState, "no active poll")
	ErrParticipantExcluded = newError(KindInvalidState, "participant has been removed from this poll")
	ErrInvalidOption       = newError(KindInvalidInput, "invalid option selected")
	ErrMissingFields       = newError(KindInvalidInput, "missing required fields")
	ErrDuplicateVote       = newError(KindDuplicateVote, "you have already voted")
	ErrConflict            = newError(KindConflict, "poll was modified concurrently")
)

// Invalid returns an InvalidInput error with a custom message.
func Invalid(msg string) error { return newError(KindInvalidInput, msg) }

// KindOf returns the category of err, or KindInternal for uncategorized errors.
func KindOf(err error) Kind {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Kind
	}
	return KindInternal
}
