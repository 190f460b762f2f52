package notify

import (
	"context"
	"time"
)

// SyncRecencyWindow is how long a sync message from a linked device counts as recent.
const SyncRecencyWindow = 60 * time.Second

// Notification is a fully decided notification, ready to be shown.
// Empty strings mean "absent".
type Notification struct {
	Category         Category
	Title            string
	Body             string
	ThreadIdentifier string
	Payload          Payload
	// Sound is the name of the sound to play; empty means silent.
	Sound string
	// ReplacingIdentifier, when set, updates the notification previously shown
	// with the same identifier instead of adding a new one.
	ReplacingIdentifier string
}

// Adapter presents notifications on one generation of OS notification API.
// The presenter only depends on this interface; every tier implements it.
type Adapter interface {
	RegisterNotificationSettings(ctx context.Context) error
	Notify(ctx context.Context, n Notification) error
	CancelNotifications(ctx context.Context, threadID string) error
	ClearAllNotifications(ctx context.Context) error
	// HasReceivedSyncMessageRecently reports whether a linked device sync
	// arrived within SyncRecencyWindow.
	HasReceivedSyncMessageRecently() bool
}
