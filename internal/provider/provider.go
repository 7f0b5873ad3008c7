package provider

import (
	"context"

	"github.com/classpoint/notify/internal/domain"
)

// ResultStatus is the non-error outcome of a delivery attempt.
type ResultStatus string

const (
	// StatusDelivered means the channel accepted the message.
	StatusDelivered ResultStatus = "DELIVERED"
	// StatusSkipped means the recipient is unreachable on this channel
	// (no session, no address, no token). Skips are terminal and never
	// retried.
	StatusSkipped ResultStatus = "SKIPPED"
)

// Result stores delivery attempt metadata for the ledger.
type Result struct {
	Status    ResultStatus
	Reason    string
	MessageID string
}

func Delivered(messageID string) *Result {
	return &Result{Status: StatusDelivered, MessageID: messageID}
}

func Skipped(reason string) *Result {
	return &Result{Status: StatusSkipped, Reason: reason}
}

// Provider is the outbound delivery port for one channel. Failures are
// returned as errors and classified via IsTransient; unreachable recipients
// are a Skipped result, not an error.
type Provider interface {
	Channel() domain.Channel
	Deliver(ctx context.Context, target domain.Target, intent domain.Intent) (*Result, error)
}

// Registry routes delivery attempts to the provider for a target's channel.
type Registry struct {
	providers map[domain.Channel]Provider
}

func NewRegistry(providers ...Provider) *Registry {
	byChannel := make(map[domain.Channel]Provider, len(providers))
	for _, p := range providers {
		byChannel[p.Channel()] = p
	}
	return &Registry{providers: byChannel}
}

func (r *Registry) For(channel domain.Channel) (Provider, bool) {
	p, ok := r.providers[channel]
	return p, ok
}
