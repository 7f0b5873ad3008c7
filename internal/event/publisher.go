package event

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/classpoint/notify/internal/domain"
	amqp "github.com/rabbitmq/amqp091-go"
)

// RabbitMQStatusPublisher emits intent outcomes on the status exchange.
type RabbitMQStatusPublisher struct {
	client *RabbitMQ
}

func NewRabbitMQStatusPublisher(client *RabbitMQ) *RabbitMQStatusPublisher {
	return &RabbitMQStatusPublisher{client: client}
}

func (p *RabbitMQStatusPublisher) PublishStatus(ctx context.Context, msg StatusMessage) error {
	if p == nil || p.client == nil {
		return fmt.Errorf("publisher is not initialized")
	}
	if err := msg.Validate(); err != nil {
		return fmt.Errorf("invalid status message: %w", err)
	}

	status, err := domain.ParseIntentStatusFromString(msg.Status)
	if err != nil {
		return err
	}

	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal status message: %w", err)
	}

	ch, err := p.client.channel(ctx)
	if err != nil {
		return err
	}
	defer ch.Close()

	publishing := amqp.Publishing{
		ContentType:   "application/json",
		DeliveryMode:  amqp.Persistent,
		Timestamp:     time.Now().UTC(),
		MessageId:     msg.IntentID,
		CorrelationId: msg.CorrelationID,
		Body:          payload,
	}

	if err := ch.PublishWithContext(ctx, StatusExchange, StatusRoutingKey(status), false, false, publishing); err != nil {
		return fmt.Errorf("failed to publish status for intent %q: %w", msg.IntentID, err)
	}

	return nil
}

func (p *RabbitMQStatusPublisher) Close() error {
	if p == nil || p.client == nil {
		return nil
	}
	return p.client.Close()
}
