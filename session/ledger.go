package session

import (
	"sync"

	"chatlink/models"
)

// NotificationLedger collects notifications for messages that arrived while
// their conversation was not on screen. Each message id is recorded at most
// once for the lifetime of the ledger, so a redelivered frame never produces
// a second entry.
type NotificationLedger struct {
	mu      sync.RWMutex
	seen    map[string]struct{}
	pending []models.Notification
}

// NewNotificationLedger creates an empty ledger.
func NewNotificationLedger() *NotificationLedger {
	return &NotificationLedger{seen: make(map[string]struct{})}
}

// Add records a notification unless its message id has been seen before.
// It reports whether the notification was actually added. Newest entries
// come first.
func (l *NotificationLedger) Add(notification models.Notification) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.seen[notification.MessageID]; ok {
		return false
	}
	l.seen[notification.MessageID] = struct{}{}
	l.pending = append([]models.Notification{notification}, l.pending...)
	return true
}

// ClearForConversation removes every pending notification belonging to the
// given conversation and returns how many were removed. The message ids stay
// recorded so a redelivery cannot resurrect a cleared notification.
func (l *NotificationLedger) ClearForConversation(conversationID string) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	kept := l.pending[:0]
	removed := 0
	for _, notification := range l.pending {
		if notification.Conversation.ID == conversationID {
			removed++
			continue
		}
		kept = append(kept, notification)
	}
	l.pending = kept
	return removed
}

// Pending returns a copy of the pending notifications, newest first.
func (l *NotificationLedger) Pending() []models.Notification {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]models.Notification, len(l.pending))
	copy(out, l.pending)
	return out
}

// Count returns the number of pending notifications.
func (l *NotificationLedger) Count() int {
	l.mu.RLock()
	defer l.mu.RUnlock()

	return len(l.pending)
}
