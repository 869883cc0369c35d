package notify

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
)

// Notification is the fire-and-forget message delivered to a role or user.
type Notification struct {
	Type    string         `json:"type"`
	Message string         `json:"message"`
	Data    map[string]any `json:"data,omitempty"`
}

// Recipient addresses either a role topic or a single user.
type Recipient string

// Roles the engine notifies. Subscribers register per role in the topic
// registry, so the engine never scans a user store.
const (
	RoleHeadOfOperations = "head_of_operations"
	RoleManagingDirector = "managing_director"
	RoleWarehouse        = "warehouse"
	RoleFinance          = "finance"
)

// RoleRecipient addresses everyone subscribed to the role topic.
func RoleRecipient(role string) Recipient {
	return Recipient("role:" + role)
}

// UserRecipient addresses a single user.
func UserRecipient(userID int64) Recipient {
	return Recipient(fmt.Sprintf("user:%d", userID))
}

// Split returns the recipient kind ("role" or "user") and its value.
func (r Recipient) Split() (string, string) {
	kind, value, ok := strings.Cut(string(r), ":")
	if !ok {
		return "", string(r)
	}
	return kind, value
}

// UserID parses the user id of a user recipient.
func (r Recipient) UserID() (int64, bool) {
	kind, value := r.Split()
	if kind != "user" {
		return 0, false
	}
	id, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return 0, false
	}
	return id, true
}

// Notifier delivers notifications best-effort. Implementations must never
// surface delivery failures to the caller.
type Notifier interface {
	Notify(ctx context.Context, recipient Recipient, n Notification)
}

// LogNotifier writes notifications to the log. Used when no queue is wired,
// for example in tests and local tooling.
type LogNotifier struct {
	Logger *slog.Logger
}

// Notify logs the notification.
func (l LogNotifier) Notify(ctx context.Context, recipient Recipient, n Notification) {
	logger := l.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.Info("notification",
		slog.String("recipient", string(recipient)),
		slog.String("type", n.Type),
		slog.String("message", n.Message))
}
