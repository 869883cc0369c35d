package notify

import (
	"context"
	"log/slog"

	"golang.org/x/sync/errgroup"
)

// Enqueuer submits one delivery task per recipient user.
type Enqueuer interface {
	EnqueueNotification(ctx context.Context, userID int64, n Notification) error
}

// Dispatcher resolves role topics to subscribers and enqueues delivery
// tasks. Failures are logged and swallowed: notification delivery is
// best-effort and must never fail the primary operation.
type Dispatcher struct {
	topics   *TopicRegistry
	enqueuer Enqueuer
	logger   *slog.Logger
}

// NewDispatcher constructs a Dispatcher.
func NewDispatcher(topics *TopicRegistry, enqueuer Enqueuer, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{topics: topics, enqueuer: enqueuer, logger: logger}
}

// Notify implements Notifier.
func (d *Dispatcher) Notify(ctx context.Context, recipient Recipient, n Notification) {
	if userID, ok := recipient.UserID(); ok {
		if err := d.enqueuer.EnqueueNotification(ctx, userID, n); err != nil {
			d.logger.Warn("enqueue notification", slog.Int64("user", userID), slog.Any("error", err))
		}
		return
	}
	kind, role := recipient.Split()
	if kind != "role" {
		d.logger.Warn("unknown notification recipient", slog.String("recipient", string(recipient)))
		return
	}
	subscribers, err := d.topics.Subscribers(ctx, role)
	if err != nil {
		d.logger.Warn("resolve topic subscribers", slog.String("role", role), slog.Any("error", err))
		return
	}
	g, ctx := errgroup.WithContext(ctx)
	for _, userID := range subscribers {
		userID := userID
		g.Go(func() error {
			if err := d.enqueuer.EnqueueNotification(ctx, userID, n); err != nil {
				d.logger.Warn("enqueue notification", slog.Int64("user", userID), slog.Any("error", err))
			}
			return nil
		})
	}
	_ = g.Wait()
}
