package client

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/4xmen/nexchat/internal/models"
)

type UpdateKind int

const (
	UpdateChannels UpdateKind = iota
	UpdateMessages
	UpdateStream
)

// Update tells the presentation layer which part of the session changed.
// MessageID and State are set for UpdateStream only.
type Update struct {
	Kind      UpdateKind
	MessageID string
	State     StreamState
}

type SessionConfig struct {
	ChannelPollInterval time.Duration
	MessagePollInterval time.Duration
	OnUpdate            func(Update)
	Logger              *slog.Logger
}

// Session is the state of one logged-in user: the channel list, the open
// channel and its messages, and the poll loops that refresh them.
type Session struct {
	user     models.User
	store    Store
	engine   *Engine
	onUpdate func(Update)
	logger   *slog.Logger

	channelEvery time.Duration
	messageEvery time.Duration

	mu           sync.Mutex
	channels     []models.Channel
	activeID     string
	messages     []models.Message
	visible      bool
	processing   bool
	closed       bool
	channelGen   uint64
	messageGen   uint64
	stopChannels context.CancelFunc
	stopMessages context.CancelFunc
}

func NewSession(user models.User, store Store, engine *Engine, cfg SessionConfig) *Session {
	s := &Session{
		user:         user,
		store:        store,
		engine:       engine,
		onUpdate:     cfg.OnUpdate,
		logger:       cfg.Logger,
		channelEvery: cfg.ChannelPollInterval,
		messageEvery: cfg.MessagePollInterval,
		visible:      true,
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	if s.channelEvery <= 0 {
		s.channelEvery = 5 * time.Second
	}
	if s.messageEvery <= 0 {
		s.messageEvery = 3 * time.Second
	}
	return s
}

func (s *Session) User() models.User {
	return s.user
}

// Start begins polling the channel list: once now, then on every interval
// until Close.
func (s *Session) Start(ctx context.Context) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	if s.stopChannels != nil {
		s.stopChannels()
	}
	s.channelGen++
	gen := s.channelGen
	pollCtx, cancel := context.WithCancel(ctx)
	s.stopChannels = cancel
	s.mu.Unlock()

	go poll(pollCtx, s.channelEvery, func(ctx context.Context) {
		s.refreshChannels(ctx, gen)
	})
}

// SelectChannel makes channelID the open channel. The previous message poll
// stops before the new one starts. Opening a direct channel known only from
// a friendship creates it on the server first.
func (s *Session) SelectChannel(ctx context.Context, channelID string) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	if s.stopMessages != nil {
		s.stopMessages()
		s.stopMessages = nil
	}
	s.messageGen++
	gen := s.messageGen
	s.activeID = channelID
	s.messages = nil

	var otherUserID *int
	for _, ch := range s.channels {
		if ch.ID == channelID && ch.Type == models.ChannelDirect {
			otherUserID = ch.OtherUserID
		}
	}
	s.mu.Unlock()

	if channelID == models.AssistantChannelID {
		// Assistant history lives in memory only; a poll would wipe it.
		s.applyMessages(gen, s.engine.RefreshMessages(ctx, channelID))
		return
	}

	if otherUserID != nil {
		if _, err := s.store.EnsureDirect(ctx, s.user.ID, *otherUserID); err != nil {
			s.logger.Warn("failed to open direct channel", "channel_id", channelID, "error", err)
		}
	}

	s.mu.Lock()
	if gen != s.messageGen {
		s.mu.Unlock()
		return
	}
	pollCtx, cancel := context.WithCancel(ctx)
	s.stopMessages = cancel
	s.mu.Unlock()

	go poll(pollCtx, s.messageEvery, func(ctx context.Context) {
		s.applyMessages(gen, s.engine.RefreshMessages(ctx, channelID))
	})
}

// SetVisible records whether the application is in the foreground.
func (s *Session) SetVisible(visible bool) {
	s.mu.Lock()
	s.visible = visible
	s.mu.Unlock()
}

// Close stops both poll loops and forgets the notification state. Results
// of fetches still in flight are dropped.
func (s *Session) Close() {
	s.mu.Lock()
	if s.stopChannels != nil {
		s.stopChannels()
	}
	if s.stopMessages != nil {
		s.stopMessages()
	}
	s.stopChannels, s.stopMessages = nil, nil
	s.channelGen++
	s.messageGen++
	s.closed = true
	s.activeID = ""
	s.messages = nil
	s.mu.Unlock()

	s.engine.Reset()
}

func (s *Session) Channels() []models.Channel {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.Channel(nil), s.channels...)
}

func (s *Session) Messages() []models.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.Message(nil), s.messages...)
}

func (s *Session) ActiveChannelID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.activeID
}

func (s *Session) refreshChannels(ctx context.Context, gen uint64) {
	s.mu.Lock()
	view := View{Visible: s.visible, ActiveChannelID: s.activeID}
	s.mu.Unlock()

	channels := s.engine.RefreshChannels(ctx, view)

	s.mu.Lock()
	if gen != s.channelGen {
		s.mu.Unlock()
		return
	}
	s.channels = channels
	s.mu.Unlock()
	s.emit(Update{Kind: UpdateChannels})
}

func (s *Session) applyMessages(gen uint64, messages []models.Message) {
	s.mu.Lock()
	if gen != s.messageGen {
		s.mu.Unlock()
		return
	}
	s.messages = messages
	s.mu.Unlock()
	s.emit(Update{Kind: UpdateMessages})
}

// appendLocal adds messages to the open channel's list if channelID is
// still open.
func (s *Session) appendLocal(channelID string, msgs ...models.Message) bool {
	s.mu.Lock()
	if s.activeID != channelID {
		s.mu.Unlock()
		return false
	}
	s.messages = append(s.messages, msgs...)
	s.mu.Unlock()
	s.emit(Update{Kind: UpdateMessages})
	return true
}

func (s *Session) replaceContent(id, content string, streaming bool, state StreamState) {
	s.mu.Lock()
	for i := range s.messages {
		if s.messages[i].ID == id {
			s.messages[i].Content = content
			s.messages[i].IsStreaming = streaming
			break
		}
	}
	s.mu.Unlock()
	s.emit(Update{Kind: UpdateStream, MessageID: id, State: state})
}

func (s *Session) setProcessing(v bool) {
	s.mu.Lock()
	s.processing = v
	s.mu.Unlock()
}

func (s *Session) emit(u Update) {
	if s.onUpdate != nil {
		s.onUpdate(u)
	}
}

// poll runs fetch immediately and then on every tick until ctx is done.
// Each run gets its own goroutine and a context that outlives ctx, so a
// cancelled scope never aborts a request already sent.
func poll(ctx context.Context, every time.Duration, fetch func(context.Context)) {
	reqCtx := context.WithoutCancel(ctx)
	go fetch(reqCtx)

	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			go fetch(reqCtx)
		}
	}
}
