package provider

import (
	"context"
	"fmt"

	"firebase.google.com/go/v4/messaging"
	"github.com/classpoint/notify/internal/domain"
	"github.com/classpoint/notify/internal/profile"
	"go.uber.org/zap"
)

// TokenSource resolves a user's live device tokens.
type TokenSource interface {
	DeviceTokens(ctx context.Context, userID string) ([]string, error)
}

// PushClient matches messaging.Client so tests can stub FCM.
type PushClient interface {
	Send(ctx context.Context, message *messaging.Message) (string, error)
}

// PushProvider sends notifications through FCM. A user may hold several
// device tokens; the attempt is delivered when at least one token accepts.
// Unregistered tokens are reported back to the profile service so they stop
// being handed out.
type PushProvider struct {
	client      PushClient
	tokens      TokenSource
	invalidator profile.TokenInvalidator
	logger      *zap.Logger
}

func NewPushProvider(client PushClient, tokens TokenSource, invalidator profile.TokenInvalidator, logger *zap.Logger) (*PushProvider, error) {
	if client == nil {
		return nil, fmt.Errorf("push client is required")
	}
	if tokens == nil {
		return nil, fmt.Errorf("token source is required")
	}
	if invalidator == nil {
		invalidator = profile.NopTokenInvalidator{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &PushProvider{
		client:      client,
		tokens:      tokens,
		invalidator: invalidator,
		logger:      logger,
	}, nil
}

func (p *PushProvider) Channel() domain.Channel { return domain.ChannelPush }

func (p *PushProvider) Deliver(ctx context.Context, target domain.Target, intent domain.Intent) (*Result, error) {
	tokens, err := p.tokens.DeviceTokens(ctx, target.RecipientID)
	if err != nil {
		return nil, &ProviderError{
			Message:   "device token lookup failed",
			Transient: true,
			Cause:     err,
		}
	}
	if len(tokens) == 0 {
		return Skipped("no device token registered"), nil
	}

	var (
		firstMessageID string
		delivered      int
		lastErr        error
	)

	for _, token := range tokens {
		messageID, err := p.client.Send(ctx, p.buildMessage(token, intent))
		if err == nil {
			delivered++
			if firstMessageID == "" {
				firstMessageID = messageID
			}
			continue
		}

		if messaging.IsUnregistered(err) {
			p.reportDeadToken(ctx, target.RecipientID, token)
			continue
		}

		lastErr = err
	}

	if delivered > 0 {
		return Delivered(firstMessageID), nil
	}
	if lastErr != nil {
		return nil, &ProviderError{
			Message:   "fcm send failed",
			Transient: isTransientFCMError(lastErr),
			Cause:     lastErr,
		}
	}

	// Every token turned out to be unregistered.
	return Skipped("all device tokens unregistered"), nil
}

func (p *PushProvider) buildMessage(token string, intent domain.Intent) *messaging.Message {
	return &messaging.Message{
		Token: token,
		Notification: &messaging.Notification{
			Title: intent.Payload.Title,
			Body:  intent.Payload.Body,
		},
		Data: intent.Payload.Action,
		Android: &messaging.AndroidConfig{
			Priority: "high",
		},
	}
}

// reportDeadToken is best effort; a failed callback never fails the attempt.
func (p *PushProvider) reportDeadToken(ctx context.Context, userID, token string) {
	if err := p.invalidator.InvalidateToken(ctx, userID, token); err != nil {
		p.logger.Warn("failed to report unregistered push token",
			zap.String("userId", userID),
			zap.Error(err),
		)
	}
}

func isTransientFCMError(err error) bool {
	return messaging.IsUnavailable(err) ||
		messaging.IsInternal(err) ||
		messaging.IsQuotaExceeded(err)
}
