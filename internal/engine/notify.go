package engine

import (
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/fitz/tasksync/internal/models"
)

const maxNotifications = 100

// notifier keeps the most recent user notifications.
type notifier struct {
	logger *slog.Logger
	now    func() time.Time

	mu    sync.Mutex
	items []models.Notification
}

func newNotifier(logger *slog.Logger, now func() time.Time) *notifier {
	return &notifier{logger: logger, now: now}
}

func (n *notifier) add(level models.NotificationLevel, msg, itemID, conflictID string) {
	note := models.Notification{Level: level, Message: msg, At: n.now(), ItemID: itemID, ConflictID: conflictID}
	n.mu.Lock()
	n.items = append(n.items, note)
	if len(n.items) > maxNotifications {
		n.items = slices.Delete(n.items, 0, len(n.items)-maxNotifications)
	}
	n.mu.Unlock()
	n.logger.Debug("notification", "level", level, "message", msg)
}

func (n *notifier) addItem(level models.NotificationLevel, msg, itemID string) {
	n.add(level, msg, itemID, "")
}

func (n *notifier) list() []models.Notification {
	n.mu.Lock()
	defer n.mu.Unlock()
	return slices.Clone(n.items)
}

func (n *notifier) clear() {
	n.mu.Lock()
	n.items = nil
	n.mu.Unlock()
}
