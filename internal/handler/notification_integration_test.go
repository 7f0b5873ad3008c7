package handler

import (
	"bytes"
	"context"
	"database/sql"
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/classpoint/notify/internal/domain"
	"github.com/classpoint/notify/internal/transport"
)

func TestNotificationIntegration_IngestEvent(t *testing.T) {
	t.Parallel()

	svc := &stubNotificationService{
		notifyFn: func(ctx context.Context, evt domain.Event) (*domain.Intent, error) {
			if evt.Kind != domain.KindUpdateCreated {
				t.Fatalf("kind = %s, want %s", evt.Kind, domain.KindUpdateCreated)
			}
			if evt.ClassID != "class-1" {
				t.Fatalf("classId = %q, want class-1", evt.ClassID)
			}
			return &domain.Intent{
				ID:            "intent-1",
				Kind:          evt.Kind,
				CorrelationID: evt.CorrelationID,
				Payload:       evt.Payload,
				Targets: []domain.Target{
					{RecipientID: "student-1", Channel: domain.ChannelSocket},
				},
				Status: domain.IntentPending,
			}, nil
		},
	}

	app := newNotificationTestApp(t, svc)

	validBody := `{"kind":"update_created","classId":"class-1","authorId":"teacher-1","title":"New update in Math 101"}`
	resp, body := performRequest(t, app, http.MethodPost, "/v1/events", validBody)
	if resp.StatusCode != fiber.StatusAccepted {
		t.Fatalf("status = %d, want 202, body=%s", resp.StatusCode, string(body))
	}

	var accepted map[string]any
	if err := json.Unmarshal(body, &accepted); err != nil {
		t.Fatalf("json unmarshal error = %v", err)
	}
	if accepted["id"] != "intent-1" {
		t.Fatalf("id = %v, want intent-1", accepted["id"])
	}
	if accepted["status"] != domain.IntentPending.String() {
		t.Fatalf("status = %v, want %s", accepted["status"], domain.IntentPending.String())
	}

	missingTitleBody := `{"kind":"update_created","classId":"class-1","authorId":"teacher-1"}`
	resp, _ = performRequest(t, app, http.MethodPost, "/v1/events", missingTitleBody)
	if resp.StatusCode != fiber.StatusBadRequest {
		t.Fatalf("status = %d, want 400 for missing title", resp.StatusCode)
	}

	unknownKindBody := `{"kind":"pigeon_released","classId":"class-1","authorId":"teacher-1","title":"hi"}`
	resp, _ = performRequest(t, app, http.MethodPost, "/v1/events", unknownKindBody)
	if resp.StatusCode != fiber.StatusBadRequest {
		t.Fatalf("status = %d, want 400 for unknown kind", resp.StatusCode)
	}
}

func TestNotificationIntegration_IngestEventCorrelationFallback(t *testing.T) {
	t.Parallel()

	svc := &stubNotificationService{
		notifyFn: func(ctx context.Context, evt domain.Event) (*domain.Intent, error) {
			if evt.CorrelationID != "req-77" {
				t.Fatalf("correlationId = %q, want req-77 from request header", evt.CorrelationID)
			}
			return &domain.Intent{ID: "intent-2", Status: domain.IntentPending}, nil
		},
	}

	app := newNotificationTestApp(t, svc)

	body := `{"kind":"grade_posted","classId":"class-1","authorId":"teacher-1","title":"Grade posted"}`
	req := httptest.NewRequest(http.MethodPost, "/v1/events", bytes.NewBufferString(body))
	req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
	req.Header.Set(fiber.HeaderXRequestID, "req-77")

	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("app.Test() error = %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != fiber.StatusAccepted {
		t.Fatalf("status = %d, want 202", resp.StatusCode)
	}
}

func TestNotificationIntegration_IngestEventNoTargets(t *testing.T) {
	t.Parallel()

	svc := &stubNotificationService{
		notifyFn: func(ctx context.Context, evt domain.Event) (*domain.Intent, error) {
			return nil, fmt.Errorf("%w: every recipient has notifications disabled", domain.ErrNoTargets)
		},
	}

	app := newNotificationTestApp(t, svc)

	body := `{"kind":"update_created","classId":"class-1","authorId":"teacher-1","title":"hi"}`
	resp, _ := performRequest(t, app, http.MethodPost, "/v1/events", body)
	if resp.StatusCode != fiber.StatusUnprocessableEntity {
		t.Fatalf("status = %d, want 422 when resolution yields no targets", resp.StatusCode)
	}
}

func TestNotificationIntegration_GetIntent(t *testing.T) {
	t.Parallel()

	svc := &stubNotificationService{
		getIntentFn: func(ctx context.Context, id string) (*domain.Intent, error) {
			if id == "intent-found" {
				return &domain.Intent{
					ID:            "intent-found",
					Kind:          domain.KindMessageSent,
					CorrelationID: "corr-1",
					Status:        domain.IntentCompleted,
					Targets: []domain.Target{
						{RecipientID: "parent-1", Channel: domain.ChannelEmail},
					},
				}, nil
			}
			return nil, domain.ErrNotFound
		},
	}

	app := newNotificationTestApp(t, svc)

	resp, body := performRequest(t, app, http.MethodGet, "/v1/intents/intent-found", "")
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("status = %d, want 200, body=%s", resp.StatusCode, string(body))
	}

	var parsed map[string]any
	if err := json.Unmarshal(body, &parsed); err != nil {
		t.Fatalf("json unmarshal error = %v", err)
	}
	if parsed["status"] != domain.IntentCompleted.String() {
		t.Fatalf("status = %v, want %s", parsed["status"], domain.IntentCompleted.String())
	}

	resp, _ = performRequest(t, app, http.MethodGet, "/v1/intents/not-exists", "")
	if resp.StatusCode != fiber.StatusNotFound {
		t.Fatalf("status = %d, want 404", resp.StatusCode)
	}
}

func TestNotificationIntegration_ListDeliveries(t *testing.T) {
	t.Parallel()

	lastErr := "mailbox full"
	svc := &stubNotificationService{
		deliveryStatusFn: func(ctx context.Context, intentID string) ([]domain.DeliveryRecord, error) {
			if intentID != "intent-9" {
				return nil, domain.ErrNotFound
			}
			return []domain.DeliveryRecord{
				{
					IntentID: "intent-9", RecipientID: "student-1",
					Channel: domain.ChannelSocket, State: domain.DeliverySent, AttemptCount: 1,
				},
				{
					IntentID: "intent-9", RecipientID: "parent-1",
					Channel: domain.ChannelEmail, State: domain.DeliveryFailed,
					AttemptCount: 5, LastError: &lastErr,
				},
			}, nil
		},
	}

	app := newNotificationTestApp(t, svc)

	resp, body := performRequest(t, app, http.MethodGet, "/v1/intents/intent-9/deliveries", "")
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("status = %d, want 200, body=%s", resp.StatusCode, string(body))
	}

	var parsed deliveryStatusResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		t.Fatalf("json unmarshal error = %v", err)
	}
	if parsed.IntentID != "intent-9" {
		t.Fatalf("intentId = %q, want intent-9", parsed.IntentID)
	}
	if len(parsed.Deliveries) != 2 {
		t.Fatalf("deliveries = %d, want 2", len(parsed.Deliveries))
	}

	resp, _ = performRequest(t, app, http.MethodGet, "/v1/intents/missing/deliveries", "")
	if resp.StatusCode != fiber.StatusNotFound {
		t.Fatalf("status = %d, want 404", resp.StatusCode)
	}
}

func TestNotificationIntegration_ResendFailed(t *testing.T) {
	t.Parallel()

	svc := &stubNotificationService{
		resendFailedFn: func(ctx context.Context, intentID string) (int64, error) {
			switch intentID {
			case "intent-terminal":
				return 3, nil
			case "intent-running":
				return 0, fmt.Errorf("%w: intent is still DISPATCHING", domain.ErrConflict)
			default:
				return 0, domain.ErrNotFound
			}
		},
	}

	app := newNotificationTestApp(t, svc)

	resp, body := performRequest(t, app, http.MethodPost, "/v1/intents/intent-terminal/resend", "")
	if resp.StatusCode != fiber.StatusAccepted {
		t.Fatalf("status = %d, want 202, body=%s", resp.StatusCode, string(body))
	}
	var parsed map[string]any
	if err := json.Unmarshal(body, &parsed); err != nil {
		t.Fatalf("json unmarshal error = %v", err)
	}
	if parsed["reopened"] != float64(3) {
		t.Fatalf("reopened = %v, want 3", parsed["reopened"])
	}

	resp, _ = performRequest(t, app, http.MethodPost, "/v1/intents/intent-running/resend", "")
	if resp.StatusCode != fiber.StatusConflict {
		t.Fatalf("status = %d, want 409 while still dispatching", resp.StatusCode)
	}

	resp, _ = performRequest(t, app, http.MethodPost, "/v1/intents/missing/resend", "")
	if resp.StatusCode != fiber.StatusNotFound {
		t.Fatalf("status = %d, want 404", resp.StatusCode)
	}
}

func TestHealthIntegration_LivezAndReadyz(t *testing.T) {
	t.Parallel()

	t.Run("livez returns 200", func(t *testing.T) {
		t.Parallel()

		app := fiber.New(fiber.Config{ErrorHandler: transport.ErrorHandler(zap.NewNop())})
		RegisterHealthRoutes(app, sql.OpenDB(stubConnector{}), newStubRedisClient(nil))

		resp, body := performRequest(t, app, http.MethodGet, "/livez", "")
		if resp.StatusCode != fiber.StatusOK {
			t.Fatalf("status = %d, want 200, body=%s", resp.StatusCode, string(body))
		}
	})

	t.Run("readyz returns 200 when dependencies healthy", func(t *testing.T) {
		t.Parallel()

		sqlDB := sql.OpenDB(stubConnector{})
		t.Cleanup(func() { _ = sqlDB.Close() })

		rdb := newStubRedisClient(nil)
		t.Cleanup(func() { _ = rdb.Close() })

		app := fiber.New(fiber.Config{ErrorHandler: transport.ErrorHandler(zap.NewNop())})
		RegisterHealthRoutes(app, sqlDB, rdb)

		resp, body := performRequest(t, app, http.MethodGet, "/readyz", "")
		if resp.StatusCode != fiber.StatusOK {
			t.Fatalf("status = %d, want 200, body=%s", resp.StatusCode, string(body))
		}
	})

	t.Run("readyz returns 503 when dependencies down", func(t *testing.T) {
		t.Parallel()

		sqlDB := sql.OpenDB(stubConnector{pingErr: errors.New("postgres down")})
		t.Cleanup(func() { _ = sqlDB.Close() })

		rdb := newStubRedisClient(errors.New("redis down"))
		t.Cleanup(func() { _ = rdb.Close() })

		app := fiber.New(fiber.Config{ErrorHandler: transport.ErrorHandler(zap.NewNop())})
		RegisterHealthRoutes(app, sqlDB, rdb)

		resp, body := performRequest(t, app, http.MethodGet, "/readyz", "")
		if resp.StatusCode != fiber.StatusServiceUnavailable {
			t.Fatalf("status = %d, want 503, body=%s", resp.StatusCode, string(body))
		}
	})
}

type stubNotificationService struct {
	notifyFn         func(ctx context.Context, evt domain.Event) (*domain.Intent, error)
	getIntentFn      func(ctx context.Context, id string) (*domain.Intent, error)
	deliveryStatusFn func(ctx context.Context, intentID string) ([]domain.DeliveryRecord, error)
	resendFailedFn   func(ctx context.Context, intentID string) (int64, error)
}

func (s *stubNotificationService) Notify(ctx context.Context, evt domain.Event) (*domain.Intent, error) {
	if s.notifyFn != nil {
		return s.notifyFn(ctx, evt)
	}
	return nil, errors.New("not implemented")
}

func (s *stubNotificationService) GetIntent(ctx context.Context, id string) (*domain.Intent, error) {
	if s.getIntentFn != nil {
		return s.getIntentFn(ctx, id)
	}
	return nil, domain.ErrNotFound
}

func (s *stubNotificationService) DeliveryStatus(ctx context.Context, intentID string) ([]domain.DeliveryRecord, error) {
	if s.deliveryStatusFn != nil {
		return s.deliveryStatusFn(ctx, intentID)
	}
	return nil, domain.ErrNotFound
}

func (s *stubNotificationService) ResendFailed(ctx context.Context, intentID string) (int64, error) {
	if s.resendFailedFn != nil {
		return s.resendFailedFn(ctx, intentID)
	}
	return 0, domain.ErrNotFound
}

func newNotificationTestApp(t *testing.T, svc NotificationService) *fiber.App {
	t.Helper()

	app := fiber.New(fiber.Config{
		ErrorHandler: transport.ErrorHandler(zap.NewNop()),
	})

	if err := RegisterNotificationRoutes(app, svc); err != nil {
		t.Fatalf("RegisterNotificationRoutes() error = %v", err)
	}

	return app
}

func performRequest(t *testing.T, app *fiber.App, method string, path string, body string) (*http.Response, []byte) {
	t.Helper()

	req := httptest.NewRequest(method, path, bytes.NewBufferString(body))
	req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)

	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("app.Test() error = %v", err)
	}

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("failed to read response body: %v", err)
	}
	_ = resp.Body.Close()

	return resp, respBody
}

type stubConnector struct {
	pingErr error
}

func (c stubConnector) Connect(context.Context) (driver.Conn, error) {
	return stubConn(c), nil
}

func (c stubConnector) Driver() driver.Driver {
	return stubDriver(c)
}

type stubDriver struct {
	pingErr error
}

func (d stubDriver) Open(string) (driver.Conn, error) {
	return stubConn(d), nil
}

type stubConn struct {
	pingErr error
}

func (c stubConn) Prepare(string) (driver.Stmt, error) { return nil, errors.New("not implemented") }
func (c stubConn) Close() error                        { return nil }
func (c stubConn) Begin() (driver.Tx, error)           { return nil, errors.New("not implemented") }
func (c stubConn) Ping(context.Context) error          { return c.pingErr }

type stubRedisHook struct {
	pingErr error
}

func (h stubRedisHook) DialHook(next redis.DialHook) redis.DialHook {
	return next
}

func (h stubRedisHook) ProcessHook(next redis.ProcessHook) redis.ProcessHook {
	return func(ctx context.Context, cmd redis.Cmder) error {
		if strings.EqualFold(cmd.Name(), "ping") {
			if h.pingErr != nil {
				cmd.SetErr(h.pingErr)
				return h.pingErr
			}
			cmd.SetErr(nil)
			return nil
		}
		cmd.SetErr(nil)
		return nil
	}
}

func (h stubRedisHook) ProcessPipelineHook(next redis.ProcessPipelineHook) redis.ProcessPipelineHook {
	return func(ctx context.Context, cmds []redis.Cmder) error {
		for _, cmd := range cmds {
			cmd.SetErr(nil)
		}
		return nil
	}
}

func newStubRedisClient(pingErr error) *redis.Client {
	rdb := redis.NewClient(&redis.Options{
		Addr:         "127.0.0.1:6379",
		DialTimeout:  time.Millisecond,
		ReadTimeout:  time.Millisecond,
		WriteTimeout: time.Millisecond,
	})
	rdb.AddHook(stubRedisHook{pingErr: pingErr})
	return rdb
}
