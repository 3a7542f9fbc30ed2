package client

import (
	"context"
	"log/slog"
)

// Notification announces a message that arrived while the user was not
// looking at its channel.
type Notification struct {
	ChannelID   string
	ChannelName string
	Sender      string
	Preview     string
	Timestamp   int64
}

// Notifier delivers notifications. Delivery itself (desktop, push, sound)
// lives outside this package.
type Notifier interface {
	Notify(ctx context.Context, n Notification)
}

type LogNotifier struct {
	Logger *slog.Logger
}

func (l LogNotifier) Notify(ctx context.Context, n Notification) {
	logger := l.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.InfoContext(ctx, "new message",
		"channel", n.ChannelName,
		"channel_id", n.ChannelID,
		"sender", n.Sender,
		"preview", n.Preview,
	)
}
