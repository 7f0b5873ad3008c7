package handler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/classpoint/notify/internal/domain"
	"github.com/classpoint/notify/internal/event"
	"github.com/classpoint/notify/internal/observability"
)

type NotificationService interface {
	Notify(ctx context.Context, evt domain.Event) (*domain.Intent, error)
	GetIntent(ctx context.Context, id string) (*domain.Intent, error)
	DeliveryStatus(ctx context.Context, intentID string) ([]domain.DeliveryRecord, error)
	ResendFailed(ctx context.Context, intentID string) (int64, error)
}

type NotificationHandler struct {
	service NotificationService
}

func NewNotificationHandler(service NotificationService) (*NotificationHandler, error) {
	if service == nil {
		return nil, fmt.Errorf("notification service is required")
	}
	return &NotificationHandler{service: service}, nil
}

func RegisterNotificationRoutes(router fiber.Router, service NotificationService) error {
	h, err := NewNotificationHandler(service)
	if err != nil {
		return err
	}

	v1 := router.Group("/v1")
	v1.Post("/events", h.IngestEvent)
	v1.Get("/intents/:id", h.GetIntent)
	v1.Get("/intents/:id/deliveries", h.ListDeliveries)
	v1.Post("/intents/:id/resend", h.ResendFailed)

	return nil
}

type targetResponse struct {
	RecipientID string `json:"recipientId"`
	Channel     string `json:"channel"`
}

type intentResponse struct {
	ID            string           `json:"id"`
	Kind          string           `json:"kind"`
	CorrelationID string           `json:"correlationId"`
	Status        string           `json:"status"`
	Targets       []targetResponse `json:"targets"`
	CreatedAt     time.Time        `json:"createdAt,omitempty"`
	UpdatedAt     time.Time        `json:"updatedAt,omitempty"`
}

type deliveryResponse struct {
	RecipientID   string     `json:"recipientId"`
	Channel       string     `json:"channel"`
	State         string     `json:"state"`
	AttemptCount  int        `json:"attemptCount"`
	MessageID     *string    `json:"messageId,omitempty"`
	LastError     *string    `json:"lastError,omitempty"`
	NextRetryAt   *time.Time `json:"nextRetryAt,omitempty"`
	LastAttemptAt *time.Time `json:"lastAttemptAt,omitempty"`
	UpdatedAt     time.Time  `json:"updatedAt,omitempty"`
}

type deliveryStatusResponse struct {
	IntentID   string             `json:"intentId"`
	Deliveries []deliveryResponse `json:"deliveries"`
}

// IngestEvent accepts a domain event over HTTP with the same payload the
// broker consumer handles, so synchronous producers share one contract.
func (h *NotificationHandler) IngestEvent(c *fiber.Ctx) error {
	var msg event.EventMessage
	if err := c.BodyParser(&msg); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}

	if strings.TrimSpace(msg.CorrelationID) == "" {
		msg.CorrelationID = requestCorrelationID(c)
	}

	evt, err := msg.ToDomain()
	if err != nil {
		return toHTTPError(err)
	}

	ctx := observability.WithCorrelationID(c.Context(), evt.CorrelationID)
	intent, err := h.service.Notify(ctx, evt)
	if err != nil {
		return toHTTPError(err)
	}

	return c.Status(fiber.StatusAccepted).JSON(toIntentResponse(intent))
}

func (h *NotificationHandler) GetIntent(c *fiber.Ctx) error {
	id := strings.TrimSpace(c.Params("id"))
	intent, err := h.service.GetIntent(c.Context(), id)
	if err != nil {
		return toHTTPError(err)
	}

	return c.Status(fiber.StatusOK).JSON(toIntentResponse(intent))
}

func (h *NotificationHandler) ListDeliveries(c *fiber.Ctx) error {
	id := strings.TrimSpace(c.Params("id"))
	records, err := h.service.DeliveryStatus(c.Context(), id)
	if err != nil {
		return toHTTPError(err)
	}

	deliveries := make([]deliveryResponse, 0, len(records))
	for _, record := range records {
		deliveries = append(deliveries, deliveryResponse{
			RecipientID:   record.RecipientID,
			Channel:       record.Channel.String(),
			State:         record.State.String(),
			AttemptCount:  record.AttemptCount,
			MessageID:     record.MessageID,
			LastError:     record.LastError,
			NextRetryAt:   record.NextRetryAt,
			LastAttemptAt: record.LastAttemptAt,
			UpdatedAt:     record.UpdatedAt,
		})
	}

	return c.Status(fiber.StatusOK).JSON(deliveryStatusResponse{
		IntentID:   id,
		Deliveries: deliveries,
	})
}

func (h *NotificationHandler) ResendFailed(c *fiber.Ctx) error {
	id := strings.TrimSpace(c.Params("id"))
	reopened, err := h.service.ResendFailed(c.Context(), id)
	if err != nil {
		return toHTTPError(err)
	}

	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{
		"intentId": id,
		"reopened": reopened,
	})
}

func requestCorrelationID(c *fiber.Ctx) string {
	if value := strings.TrimSpace(c.Get(fiber.HeaderXRequestID)); value != "" {
		return value
	}
	if value, ok := c.Locals("requestid").(string); ok {
		return strings.TrimSpace(value)
	}
	return ""
}

func toIntentResponse(intent *domain.Intent) intentResponse {
	if intent == nil {
		return intentResponse{}
	}

	targets := make([]targetResponse, 0, len(intent.Targets))
	for _, target := range intent.Targets {
		targets = append(targets, targetResponse{
			RecipientID: target.RecipientID,
			Channel:     target.Channel.String(),
		})
	}

	return intentResponse{
		ID:            intent.ID,
		Kind:          intent.Kind.String(),
		CorrelationID: intent.CorrelationID,
		Status:        intent.Status.String(),
		Targets:       targets,
		CreatedAt:     intent.CreatedAt,
		UpdatedAt:     intent.UpdatedAt,
	}
}

func toHTTPError(err error) error {
	switch {
	case errors.Is(err, domain.ErrValidation):
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	case errors.Is(err, domain.ErrNotFound):
		return fiber.NewError(fiber.StatusNotFound, err.Error())
	case errors.Is(err, domain.ErrConflict):
		return fiber.NewError(fiber.StatusConflict, err.Error())
	case errors.Is(err, domain.ErrNoTargets):
		return fiber.NewError(fiber.StatusUnprocessableEntity, err.Error())
	default:
		return err
	}
}
