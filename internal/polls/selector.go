package polls

import (
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/classpoll/backend/internal/models"
)

type selectorKind int

const (
	selectByIndex selectorKind = iota + 1
	selectByID
)

// OptionSelector addresses one option of a poll, either by position or by stable id.
// The zero value selects nothing.
type OptionSelector struct {
	kind  selectorKind
	index int
	id    string
}

// ByIndex selects the option at position n.
func ByIndex(n int) OptionSelector { return OptionSelector{kind: selectByIndex, index: n} }

// ByStableID selects the option whose stable id is id.
func ByStableID(id string) OptionSelector { return OptionSelector{kind: selectByID, id: id} }

// IsZero reports whether the selector was never set.
func (s OptionSelector) IsZero() bool { return s.kind == 0 }

// resolve returns the option index s refers to in p.
func (s OptionSelector) resolve(p *models.Poll) (int, error) {
	switch s.kind {
	case selectByIndex:
		if s.index < 0 || s.index >= len(p.Options) {
			return 0, ErrInvalidOption
		}
		return s.index, nil
	case selectByID:
		for i, o := range p.Options {
			if o.ID == s.id {
				return i, nil
			}
		}
		return 0, ErrInvalidOption
	default:
		return 0, ErrMissingFields
	}
}

// PollRef addresses a poll by storage id or by external id.
type PollRef struct {
	ID         uuid.UUID
	ExternalID int64
}

// ByPollID refers to a poll by its storage id.
func ByPollID(id uuid.UUID) PollRef { return PollRef{ID: id} }

// ByExternalID refers to a poll by its creation-time identifier.
func ByExternalID(ext int64) PollRef { return PollRef{ExternalID: ext} }

// IsZero reports whether the reference is empty.
func (r PollRef) IsZero() bool { return r.ID == uuid.Nil && r.ExternalID == 0 }

func (r PollRef) String() string {
	if r.ID != uuid.Nil {
		return r.ID.String()
	}
	return strconv.FormatInt(r.ExternalID, 10)
}

// ParsePollRef accepts either a uuid or a decimal external id.
func ParsePollRef(s string) (PollRef, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return PollRef{}, ErrMissingFields
	}
	if id, err := uuid.Parse(s); err == nil {
		return ByPollID(id), nil
	}
	ext, err := strconv.ParseInt(s, 10, 64)
	if err != nil || ext <= 0 {
		return PollRef{}, Invalid("invalid poll id")
	}
	return ByExternalID(ext), nil
}
