package domain

import (
	"fmt"
	"strings"
	"time"
)

// IntentStatus represents the outbox lifecycle state of an intent.
type IntentStatus string

const (
	IntentPending         IntentStatus = "PENDING"
	IntentDispatching     IntentStatus = "DISPATCHING"
	IntentCompleted       IntentStatus = "COMPLETED"
	IntentPartiallyFailed IntentStatus = "PARTIALLY_FAILED"
	IntentFailed          IntentStatus = "FAILED"
)

func (s IntentStatus) String() string { return string(s) }

func (s IntentStatus) IsValid() bool {
	switch s {
	case IntentPending, IntentDispatching, IntentCompleted, IntentPartiallyFailed, IntentFailed:
		return true
	}
	return false
}

// IsTerminal reports whether no further dispatch passes touch the intent
// except through the retry scanner re-finalizing it.
func (s IntentStatus) IsTerminal() bool {
	switch s {
	case IntentCompleted, IntentPartiallyFailed, IntentFailed:
		return true
	}
	return false
}

func ParseIntentStatusFromString(s string) (IntentStatus, error) {
	st := IntentStatus(strings.ToUpper(strings.TrimSpace(s)))
	if !st.IsValid() {
		return "", fmt.Errorf("%w: invalid intent status %q", ErrValidation, s)
	}
	return st, nil
}

// Channel represents the delivery medium.
type Channel string

const (
	ChannelSocket Channel = "SOCKET"
	ChannelEmail  Channel = "EMAIL"
	ChannelPush   Channel = "PUSH"
)

func (c Channel) String() string { return string(c) }

func (c Channel) IsValid() bool {
	switch c {
	case ChannelSocket, ChannelEmail, ChannelPush:
		return true
	}
	return false
}

func ParseChannelFromString(s string) (Channel, error) {
	ch := Channel(strings.ToUpper(strings.TrimSpace(s)))
	if !ch.IsValid() {
		return "", fmt.Errorf("%w: invalid channel %q", ErrValidation, s)
	}
	return ch, nil
}

// Channels lists every supported delivery channel.
func Channels() []Channel {
	return []Channel{ChannelSocket, ChannelEmail, ChannelPush}
}

// Content limits per channel (in characters).
const (
	MaxTitleLen = 255
	MaxBodyLen  = 10000
)

// Payload is the notification content, opaque to the dispatcher.
type Payload struct {
	Title  string            `json:"title"`
	Body   string            `json:"body"`
	Action map[string]string `json:"action,omitempty"`
}

func (p Payload) Validate() error {
	if strings.TrimSpace(p.Title) == "" {
		return fmt.Errorf("%w: payload title is required", ErrValidation)
	}
	if len([]rune(p.Title)) > MaxTitleLen {
		return fmt.Errorf("%w: payload title exceeds %d characters", ErrValidation, MaxTitleLen)
	}
	if len([]rune(p.Body)) > MaxBodyLen {
		return fmt.Errorf("%w: payload body exceeds %d characters", ErrValidation, MaxBodyLen)
	}
	return nil
}

// Target is one (recipient, channel) pair within an intent.
type Target struct {
	RecipientID string  `json:"recipientId"`
	Channel     Channel `json:"channel"`
}

// Intent is one queued fan-out: a payload plus the target set resolved once
// at creation time. The dispatcher never re-resolves recipients.
type Intent struct {
	ID             string
	Kind           EventKind
	CorrelationID  string
	Payload        Payload
	Targets        []Target
	Status         IntentStatus
	LeaseExpiresAt *time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

func (i *Intent) Validate() error {
	if i == nil {
		return fmt.Errorf("%w: intent is required", ErrValidation)
	}
	if !i.Kind.IsValid() {
		return fmt.Errorf("%w: invalid event kind %q", ErrValidation, i.Kind)
	}
	if err := i.Payload.Validate(); err != nil {
		return err
	}
	if len(i.Targets) == 0 {
		return fmt.Errorf("%w: intent requires at least one target", ErrValidation)
	}

	seen := make(map[Target]struct{}, len(i.Targets))
	for _, target := range i.Targets {
		if strings.TrimSpace(target.RecipientID) == "" {
			return fmt.Errorf("%w: target recipient id is required", ErrValidation)
		}
		if !target.Channel.IsValid() {
			return fmt.Errorf("%w: invalid target channel %q", ErrValidation, target.Channel)
		}
		if _, dup := seen[target]; dup {
			return fmt.Errorf("%w: duplicate target (%s, %s)", ErrValidation, target.RecipientID, target.Channel)
		}
		seen[target] = struct{}{}
	}

	return nil
}
