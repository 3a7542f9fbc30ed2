package client

import (
	"context"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/4xmen/nexchat/internal/models"
)

// View is what the user is currently looking at.
type View struct {
	Visible         bool
	ActiveChannelID string
}

// EngineConfig configures an Engine.
type EngineConfig struct {
	Store        Store
	Notifier     Notifier
	DemoFallback bool
	Logger       *slog.Logger
	Now          func() time.Time
}

// Engine keeps the channel and message lists in step with the server and
// raises notifications for messages the user has not seen.
type Engine struct {
	user         models.User
	store        Store
	notifier     Notifier
	demoFallback bool
	logger       *slog.Logger
	now          func() time.Time

	mu       sync.Mutex
	lastSeen map[string]int64
}

func NewEngine(user models.User, cfg EngineConfig) *Engine {
	e := &Engine{
		user:         user,
		store:        cfg.Store,
		notifier:     cfg.Notifier,
		demoFallback: cfg.DemoFallback,
		logger:       cfg.Logger,
		now:          cfg.Now,
		lastSeen:     make(map[string]int64),
	}
	if e.notifier == nil {
		e.notifier = LogNotifier{Logger: cfg.Logger}
	}
	if e.logger == nil {
		e.logger = slog.Default()
	}
	if e.now == nil {
		e.now = time.Now
	}
	return e
}

// RefreshChannels fetches the user's channels. The assistant channel is
// always present. On failure the built-in channel list is returned and no
// notifications are raised.
func (e *Engine) RefreshChannels(ctx context.Context, view View) []models.Channel {
	channels, err := e.store.Channels(ctx, e.user.ID)
	if err != nil {
		e.logger.Debug("channel fetch failed, using built-in list", "error", err)
		return fallbackChannels()
	}

	hasAssistant := false
	for _, ch := range channels {
		if ch.Type == models.ChannelAssistant {
			hasAssistant = true
			break
		}
	}
	if !hasAssistant {
		channels = append([]models.Channel{models.AssistantChannel()}, channels...)
	}

	for _, n := range e.diff(channels, view) {
		e.notifier.Notify(ctx, n)
	}
	return channels
}

// diff records the latest message time of every channel and returns the
// notifications due. The first observation of a channel never notifies.
func (e *Engine) diff(channels []models.Channel, view View) []Notification {
	self := strconv.Itoa(e.user.ID)

	e.mu.Lock()
	defer e.mu.Unlock()

	var due []Notification
	for _, ch := range channels {
		prior, seen := e.lastSeen[ch.ID]
		if seen &&
			ch.LastMessageTime > prior &&
			ch.LastMessageSender != self &&
			(!view.Visible || view.ActiveChannelID != ch.ID) {
			due = append(due, Notification{
				ChannelID:   ch.ID,
				ChannelName: ch.Name,
				Sender:      ch.LastMessageSender,
				Preview:     ch.LastMessage,
				Timestamp:   ch.LastMessageTime,
			})
		}
		e.lastSeen[ch.ID] = ch.LastMessageTime
	}
	return due
}

// RefreshMessages returns the channel's messages oldest first, with sender
// types rewritten relative to the current user. It never fails: errors
// yield an empty list, or demo content when configured.
func (e *Engine) RefreshMessages(ctx context.Context, channelID string) []models.Message {
	if channelID == models.AssistantChannelID {
		return []models.Message{assistantGreeting(e.user.Name, e.now())}
	}

	messages, err := e.store.Messages(ctx, channelID)
	if err != nil {
		e.logger.Debug("message fetch failed", "channel_id", channelID, "error", err)
		if e.demoFallback {
			return demoMessages(channelID, e.now())
		}
		return []models.Message{}
	}
	if messages == nil {
		messages = []models.Message{}
	}

	self := strconv.Itoa(e.user.ID)
	for i := range messages {
		if messages[i].SenderID == self {
			messages[i].SenderType = models.SenderUser
		} else {
			messages[i].SenderType = models.SenderOther
		}
	}
	models.SortMessages(messages)
	return messages
}

// Reset forgets every recorded message time.
func (e *Engine) Reset() {
	e.mu.Lock()
	e.lastSeen = make(map[string]int64)
	e.mu.Unlock()
}
