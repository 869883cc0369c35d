package jobs

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/meridian-erp/meridian-procure/internal/jobs"
	"github.com/meridian-erp/meridian-procure/internal/notify"
	"github.com/meridian-erp/meridian-procure/internal/shared"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskNotificationDeliver delivers one notification to one user.
	TaskNotificationDeliver = "notify:deliver"
	// TaskIdempotencySweep prunes aged idempotency keys.
	TaskIdempotencySweep = "maintenance:idempotency_sweep"
)

// NotificationPayload carries a fanned-out notification to its recipient.
type NotificationPayload struct {
	UserID       int64               `json:"user_id"`
	Notification notify.Notification `json:"notification"`
}

// NewNotificationDeliverTask constructs an Asynq task.
func NewNotificationDeliverTask(userID int64, n notify.Notification) (*asynq.Task, error) {
	data, err := json.Marshal(NotificationPayload{UserID: userID, Notification: n})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskNotificationDeliver, data), nil
}

// NotificationHandler processes TaskNotificationDeliver tasks.
type NotificationHandler struct {
	logger  *slog.Logger
	metrics *jobmetrics.Metrics
}

// NewNotificationHandler constructs the handler.
func NewNotificationHandler(logger *slog.Logger, metrics *jobmetrics.Metrics) *NotificationHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &NotificationHandler{logger: logger, metrics: metrics}
}

// Handle delivers the notification. Delivery is a structured log record; a
// mail or push channel plugs in here without touching the enqueue side.
func (h *NotificationHandler) Handle(ctx context.Context, t *asynq.Task) error {
	tracker := h.metrics.Track("notification_deliver")
	var payload NotificationPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		_ = tracker.End(err)
		return asynq.SkipRetry
	}
	h.logger.InfoContext(ctx, "notification delivered",
		slog.Int64("user_id", payload.UserID),
		slog.String("type", payload.Notification.Type),
		slog.String("message", payload.Notification.Message))
	h.metrics.AddDelivery(payload.Notification.Type)
	return tracker.End(nil)
}

// NewIdempotencySweepTask constructs the periodic cleanup task.
func NewIdempotencySweepTask() *asynq.Task {
	return asynq.NewTask(TaskIdempotencySweep, nil)
}

// IdempotencySweepHandler prunes idempotency keys past the retention window.
type IdempotencySweepHandler struct {
	store     *shared.IdempotencyStore
	retention time.Duration
	logger    *slog.Logger
	metrics   *jobmetrics.Metrics
}

// NewIdempotencySweepHandler constructs the handler.
func NewIdempotencySweepHandler(store *shared.IdempotencyStore, retention time.Duration, logger *slog.Logger, metrics *jobmetrics.Metrics) *IdempotencySweepHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &IdempotencySweepHandler{store: store, retention: retention, logger: logger, metrics: metrics}
}

// Handle runs one sweep.
func (h *IdempotencySweepHandler) Handle(ctx context.Context, t *asynq.Task) error {
	tracker := h.metrics.Track("idempotency_sweep")
	if err := h.store.Cleanup(ctx, h.retention); err != nil {
		h.logger.ErrorContext(ctx, "idempotency sweep", slog.Any("error", err))
		return tracker.End(err)
	}
	return tracker.End(nil)
}
