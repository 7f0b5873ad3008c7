package domain

import (
	"fmt"
	"strings"
)

// EventKind identifies the domain event that triggers a notification.
type EventKind string

const (
	KindUpdateCreated      EventKind = "UPDATE_CREATED"
	KindCommentCreated     EventKind = "COMMENT_CREATED"
	KindMessageSent        EventKind = "MESSAGE_SENT"
	KindGradePosted        EventKind = "GRADE_POSTED"
	KindAttendanceRecorded EventKind = "ATTENDANCE_RECORDED"
)

func (k EventKind) String() string { return string(k) }

func (k EventKind) IsValid() bool {
	switch k {
	case KindUpdateCreated, KindCommentCreated, KindMessageSent, KindGradePosted, KindAttendanceRecorded:
		return true
	}
	return false
}

func ParseEventKindFromString(s string) (EventKind, error) {
	k := EventKind(strings.ToUpper(strings.TrimSpace(s)))
	if !k.IsValid() {
		return "", fmt.Errorf("%w: invalid event kind %q", ErrValidation, s)
	}
	return k, nil
}

// Event describes one domain occurrence to be communicated. Class-scoped
// kinds resolve recipients from class membership; KindMessageSent carries
// explicit recipient IDs instead.
type Event struct {
	Kind          EventKind
	ClassID       string
	AuthorID      string
	EntityID      string
	RecipientIDs  []string
	CorrelationID string
	Payload       Payload
}

func (e *Event) Validate() error {
	if e == nil {
		return fmt.Errorf("%w: event is required", ErrValidation)
	}
	if !e.Kind.IsValid() {
		return fmt.Errorf("%w: invalid event kind %q", ErrValidation, e.Kind)
	}
	if strings.TrimSpace(e.AuthorID) == "" {
		return fmt.Errorf("%w: author id is required", ErrValidation)
	}
	if e.Kind == KindMessageSent {
		if len(e.RecipientIDs) == 0 {
			return fmt.Errorf("%w: message events require explicit recipients", ErrValidation)
		}
	} else if strings.TrimSpace(e.ClassID) == "" {
		return fmt.Errorf("%w: class id is required for %s events", ErrValidation, e.Kind)
	}
	return e.Payload.Validate()
}
