package notification

import (
	"log/slog"

	"github.com/sashishuu/portalberita-sub001/domain"
	"github.com/sashishuu/portalberita-sub001/hub"
)

// EventNotification tags live notification deliveries.
const EventNotification = "notification"

// Emitter implements the producer protocol: persist the notification
// first, broadcast to the recipient's personal room only if the
// durable write succeeded. A recipient with no live connections still
// gets the record; a failed write suppresses the broadcast entirely.
type Emitter struct {
	store       *Store
	broadcaster domain.Broadcaster
}

func NewEmitter(store *Store, broadcaster domain.Broadcaster) *Emitter {
	return &Emitter{store: store, broadcaster: broadcaster}
}

// Notify persists and then fans out a notification for one user.
func (e *Emitter) Notify(recipient, kind, message string) (*Notification, error) {
	n, err := e.store.Create(recipient, kind, message)
	if err != nil {
		return nil, err
	}

	if err := e.broadcaster.SendToRoom(hub.UserRoom(recipient), EventNotification, n); err != nil {
		// The record is durable; the recipient reconciles on next fetch.
		slog.Warn("live notification broadcast failed", "recipient", recipient, "error", err)
	}
	return n, nil
}
