package client

import (
	"log/slog"

	"feedline/internal/utils"
)

// Notification is a transient message for the user, such as a failed like.
type Notification struct {
	Action  string
	Code    string
	Message string
}

// Notifier receives failures from optimistic mutations. Notify must not block.
type Notifier interface {
	Notify(Notification)
}

func notificationFor(action string, err error) Notification {
	appErr := utils.AsAppError(err)
	return Notification{Action: action, Code: appErr.Code, Message: appErr.Message}
}

// ChanNotifier delivers notifications on a buffered channel and drops them
// when the reader falls behind.
type ChanNotifier struct {
	C chan Notification
}

func NewChanNotifier(size int) *ChanNotifier {
	return &ChanNotifier{C: make(chan Notification, size)}
}

func (n *ChanNotifier) Notify(note Notification) {
	select {
	case n.C <- note:
	default:
	}
}

// LogNotifier writes notifications to a logger.
type LogNotifier struct {
	Logger *slog.Logger
}

func (n LogNotifier) Notify(note Notification) {
	logger := n.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.Warn("action failed", "action", note.Action, "code", note.Code, "message", note.Message)
}

type discardNotifier struct{}

func (discardNotifier) Notify(Notification) {}
