package event

import (
	"context"
	"fmt"
	"strings"

	"github.com/classpoint/notify/internal/domain"
)

// Broker topology. Domain events from the rest of the platform land on the
// events queue; undecodable ones dead-letter to the DLQ. Intent outcomes go
// out on the status exchange for anyone who cares (ops alerting, audit).
const (
	EventsQueue    = "notify.events"
	EventsDLQ      = "dlq.notify.events"
	dlxExchange    = "notify.dlx"
	StatusExchange = "notify.status"
)

// EventMessage is the broker payload for an inbound domain event.
type EventMessage struct {
	Kind          string            `json:"kind"`
	ClassID       string            `json:"classId,omitempty"`
	AuthorID      string            `json:"authorId"`
	EntityID      string            `json:"entityId,omitempty"`
	RecipientIDs  []string          `json:"recipientIds,omitempty"`
	CorrelationID string            `json:"correlationId,omitempty"`
	Title         string            `json:"title"`
	Body          string            `json:"body,omitempty"`
	Action        map[string]string `json:"action,omitempty"`
}

// ToDomain validates the wire payload and maps it to a domain event.
func (m EventMessage) ToDomain() (domain.Event, error) {
	kind, err := domain.ParseEventKindFromString(m.Kind)
	if err != nil {
		return domain.Event{}, err
	}

	event := domain.Event{
		Kind:          kind,
		ClassID:       strings.TrimSpace(m.ClassID),
		AuthorID:      strings.TrimSpace(m.AuthorID),
		EntityID:      strings.TrimSpace(m.EntityID),
		RecipientIDs:  m.RecipientIDs,
		CorrelationID: strings.TrimSpace(m.CorrelationID),
		Payload: domain.Payload{
			Title:  m.Title,
			Body:   m.Body,
			Action: m.Action,
		},
	}

	if err := event.Validate(); err != nil {
		return domain.Event{}, err
	}

	return event, nil
}

// StatusMessage is the broker payload for an intent outcome.
type StatusMessage struct {
	IntentID      string `json:"intentId"`
	Status        string `json:"status"`
	CorrelationID string `json:"correlationId,omitempty"`
}

func (m StatusMessage) Validate() error {
	if strings.TrimSpace(m.IntentID) == "" {
		return fmt.Errorf("intentId is required")
	}
	if _, err := domain.ParseIntentStatusFromString(m.Status); err != nil {
		return err
	}
	return nil
}

// StatusRoutingKey returns the routing key for an intent outcome,
// e.g. intent.completed.
func StatusRoutingKey(status domain.IntentStatus) string {
	return "intent." + strings.ToLower(status.String())
}

// EventHandler handles one decoded inbound event.
type EventHandler func(ctx context.Context, event domain.Event) error

// Consumer consumes inbound domain events.
type Consumer interface {
	Consume(ctx context.Context, handler EventHandler) error
	Close() error
}

// StatusPublisher publishes intent outcomes.
type StatusPublisher interface {
	PublishStatus(ctx context.Context, msg StatusMessage) error
	Close() error
}
