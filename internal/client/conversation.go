package client

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/4xmen/nexchat/internal/assistant"
	"github.com/4xmen/nexchat/internal/models"
	"github.com/4xmen/nexchat/pkg/i18n"
)

// LocalIDPrefix marks provisional ids of messages not yet seen from the
// server.
const LocalIDPrefix = "local-"

var (
	ErrNoSession = errors.New("not logged in")
	ErrNoChannel = errors.New("no channel selected")
)

// StreamState tracks an assistant reply from placeholder to final text.
type StreamState int

const (
	StreamPending StreamState = iota
	StreamStreaming
	StreamComplete
	StreamError
)

func (s StreamState) String() string {
	switch s {
	case StreamPending:
		return "pending"
	case StreamStreaming:
		return "streaming"
	case StreamComplete:
		return "complete"
	case StreamError:
		return "error"
	default:
		return "unknown"
	}
}

func (s StreamState) Terminal() bool {
	return s == StreamComplete || s == StreamError
}

// Attachment is a file reference sent along with a message. Only the name
// travels; the content never leaves the client.
type Attachment struct {
	Name string
}

type ControllerConfig struct {
	Gateway assistant.Gateway
	Logger  *slog.Logger
	NewID   func() string
	Now     func() time.Time
}

// Controller turns compose actions into stored messages or assistant
// exchanges, inserting them locally before any network call.
type Controller struct {
	session *Session
	gateway assistant.Gateway
	logger  *slog.Logger
	newID   func() string
	now     func() time.Time
}

func NewController(session *Session, cfg ControllerConfig) *Controller {
	c := &Controller{
		session: session,
		gateway: cfg.Gateway,
		logger:  cfg.Logger,
		newID:   cfg.NewID,
		now:     cfg.Now,
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}
	if c.newID == nil {
		c.newID = func() string { return LocalIDPrefix + uuid.NewString() }
	}
	if c.now == nil {
		c.now = time.Now
	}
	return c
}

// SendMessage sends text, with an optional attachment, to the open channel.
// Delivery is best effort: store failures are logged and assistant failures
// are shown in place of the reply, so the only errors returned are
// ErrNoSession and ErrNoChannel.
func (c *Controller) SendMessage(ctx context.Context, text string, att *Attachment) error {
	s := c.session
	if s == nil {
		return ErrNoSession
	}
	s.mu.Lock()
	closed, channelID := s.closed, s.activeID
	s.mu.Unlock()
	if closed {
		return ErrNoSession
	}
	if channelID == "" {
		return ErrNoChannel
	}

	local := models.Message{
		ID:         c.newID(),
		ChannelID:  channelID,
		SenderID:   strconv.Itoa(s.user.ID),
		SenderType: models.SenderUser,
		Content:    text,
		Timestamp:  c.now().UnixMilli(),
		Type:       models.MessageText,
	}
	if att != nil {
		name := att.Name
		local.Type = models.MessageFile
		local.FileName = &name
	}

	if channelID == models.AssistantChannelID {
		c.askAssistant(ctx, local, att)
		return nil
	}

	s.appendLocal(channelID, local)

	req := CreateMessageRequest{
		ChannelID:  channelID,
		SenderID:   s.user.ID,
		SenderType: models.SenderUser,
		Content:    text,
		Type:       local.Type,
	}
	if att != nil {
		req.FileName = att.Name
	}
	if _, err := s.store.CreateMessage(ctx, req); err != nil {
		c.logger.Error("failed to send message", "channel_id", channelID, "error", err)
	}
	return nil
}

func (c *Controller) askAssistant(ctx context.Context, local models.Message, att *Attachment) {
	s := c.session
	placeholder := models.Message{
		ID:          c.newID(),
		ChannelID:   models.AssistantChannelID,
		SenderID:    "assistant",
		SenderType:  models.SenderAssistant,
		Timestamp:   c.now().UnixMilli(),
		Type:        models.MessageText,
		IsStreaming: true,
	}

	s.setProcessing(true)
	defer s.setProcessing(false)
	s.appendLocal(models.AssistantChannelID, local, placeholder)

	prompt := local.Content
	if att != nil {
		prompt = fmt.Sprintf("[File: %s]. %s", att.Name, local.Content)
	}

	if c.gateway == nil {
		c.logger.Error("assistant reply failed", "error", assistant.ErrMissingAPIKey)
		s.replaceContent(placeholder.ID, i18n.Translate("assistant connection error"), false, StreamError)
		return
	}

	var buf strings.Builder
	err := c.gateway.StreamReply(ctx, prompt, func(fragment string) {
		buf.WriteString(fragment)
		s.replaceContent(placeholder.ID, buf.String(), true, StreamStreaming)
	})
	if err != nil {
		c.logger.Error("assistant reply failed", "error", err)
		s.replaceContent(placeholder.ID, i18n.Translate("assistant connection error"), false, StreamError)
		return
	}
	s.replaceContent(placeholder.ID, buf.String(), false, StreamComplete)
}

// ComposerEnabled is false only while an assistant reply is in flight and
// the assistant channel is open.
func (c *Controller) ComposerEnabled() bool {
	s := c.session
	if s == nil {
		return true
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return !(s.activeID == models.AssistantChannelID && s.processing)
}
