package profile

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
)

const defaultCallbackTimeout = 10 * time.Second

// TokenInvalidator is the side channel back to the user-profile service for
// reporting dead push tokens.
type TokenInvalidator interface {
	InvalidateToken(ctx context.Context, userID, token string) error
}

type invalidateTokenRequest struct {
	UserID string `json:"userId"`
	Token  string `json:"token"`
}

// HTTPTokenInvalidator calls the profile service's token-invalidation
// endpoint.
type HTTPTokenInvalidator struct {
	client   *resty.Client
	endpoint string
}

func NewHTTPTokenInvalidator(endpoint string) (*HTTPTokenInvalidator, error) {
	client := resty.New()
	client.SetTimeout(defaultCallbackTimeout)
	client.SetRetryCount(0)

	return NewHTTPTokenInvalidatorWithClient(endpoint, client)
}

func NewHTTPTokenInvalidatorWithClient(endpoint string, client *resty.Client) (*HTTPTokenInvalidator, error) {
	trimmedEndpoint := strings.TrimSpace(endpoint)
	if trimmedEndpoint == "" {
		return nil, fmt.Errorf("profile callback endpoint is required")
	}
	if _, err := url.ParseRequestURI(trimmedEndpoint); err != nil {
		return nil, fmt.Errorf("invalid profile callback endpoint: %w", err)
	}
	if client == nil {
		return nil, fmt.Errorf("resty client is required")
	}

	if client.GetClient().Timeout == 0 {
		client.SetTimeout(defaultCallbackTimeout)
	}

	return &HTTPTokenInvalidator{
		client:   client,
		endpoint: trimmedEndpoint,
	}, nil
}

func (c *HTTPTokenInvalidator) InvalidateToken(ctx context.Context, userID, token string) error {
	if c == nil || c.client == nil {
		return fmt.Errorf("token invalidator is not initialized")
	}
	if strings.TrimSpace(userID) == "" || strings.TrimSpace(token) == "" {
		return fmt.Errorf("user id and token are required")
	}

	response, err := c.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(invalidateTokenRequest{UserID: userID, Token: token}).
		Post(c.endpoint)
	if err != nil {
		return fmt.Errorf("profile callback request failed: %w", err)
	}
	if response.IsError() {
		return fmt.Errorf("profile callback returned status %d", response.StatusCode())
	}

	return nil
}

// NopTokenInvalidator is used when no callback endpoint is configured.
type NopTokenInvalidator struct{}

func (NopTokenInvalidator) InvalidateToken(ctx context.Context, userID, token string) error {
	return nil
}
