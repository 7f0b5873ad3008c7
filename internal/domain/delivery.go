package domain

import (
	"fmt"
	"strings"
	"time"
)

// DeliveryState represents the per-target delivery outcome state.
type DeliveryState string

const (
	DeliveryPending  DeliveryState = "PENDING"
	DeliverySent     DeliveryState = "SENT"
	DeliverySkipped  DeliveryState = "SKIPPED"
	DeliveryRetrying DeliveryState = "RETRYING"
	DeliveryFailed   DeliveryState = "FAILED"
)

func (s DeliveryState) String() string { return string(s) }

func (s DeliveryState) IsValid() bool {
	switch s {
	case DeliveryPending, DeliverySent, DeliverySkipped, DeliveryRetrying, DeliveryFailed:
		return true
	}
	return false
}

// IsTerminal reports whether no further attempts occur for the target.
func (s DeliveryState) IsTerminal() bool {
	switch s {
	case DeliverySent, DeliverySkipped, DeliveryFailed:
		return true
	}
	return false
}

func ParseDeliveryStateFromString(s string) (DeliveryState, error) {
	st := DeliveryState(strings.ToUpper(strings.TrimSpace(s)))
	if !st.IsValid() {
		return "", fmt.Errorf("%w: invalid delivery state %q", ErrValidation, s)
	}
	return st, nil
}

// DeliveryRecord is the ledger row for one (intent, recipient, channel)
// target. Retries mutate the same record; at most one non-terminal record
// exists per target at any time.
type DeliveryRecord struct {
	IntentID      string
	RecipientID   string
	Channel       Channel
	State         DeliveryState
	AttemptCount  int
	LastAttemptAt *time.Time
	NextRetryAt   *time.Time
	LastError     *string
	MessageID     *string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Target returns the (recipient, channel) key of the record.
func (r *DeliveryRecord) Target() Target {
	return Target{RecipientID: r.RecipientID, Channel: r.Channel}
}
