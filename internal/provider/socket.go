package provider

import (
	"context"

	"github.com/classpoint/notify/internal/domain"
)

// SessionSender is the slice of the socket hub the provider needs.
type SessionSender interface {
	IsConnected(userID string) bool
	Send(userID string, message any) error
}

// socketEnvelope is the frame pushed to connected clients.
type socketEnvelope struct {
	Kind          string            `json:"kind"`
	IntentID      string            `json:"intentId"`
	CorrelationID string            `json:"correlationId,omitempty"`
	Title         string            `json:"title"`
	Body          string            `json:"body,omitempty"`
	Action        map[string]string `json:"action,omitempty"`
}

// SocketProvider pushes notifications to live websocket sessions. A user
// without an open session is skipped; real-time delivery is only meaningful
// at dispatch time, so socket failures are never retried.
type SocketProvider struct {
	sessions SessionSender
}

func NewSocketProvider(sessions SessionSender) *SocketProvider {
	return &SocketProvider{sessions: sessions}
}

func (p *SocketProvider) Channel() domain.Channel { return domain.ChannelSocket }

func (p *SocketProvider) Deliver(ctx context.Context, target domain.Target, intent domain.Intent) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if !p.sessions.IsConnected(target.RecipientID) {
		return Skipped("no active session"), nil
	}

	envelope := socketEnvelope{
		Kind:          intent.Kind.String(),
		IntentID:      intent.ID,
		CorrelationID: intent.CorrelationID,
		Title:         intent.Payload.Title,
		Body:          intent.Payload.Body,
		Action:        intent.Payload.Action,
	}

	if err := p.sessions.Send(target.RecipientID, envelope); err != nil {
		// The hub drops broken sessions on write failure, so a retry
		// would only hit a recipient who is now offline.
		return nil, &ProviderError{
			Message:   "socket write failed",
			Transient: false,
			Cause:     err,
		}
	}

	return Delivered(""), nil
}
