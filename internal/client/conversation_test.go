package client

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/4xmen/nexchat/internal/assistant"
	"github.com/4xmen/nexchat/internal/models"
)

type streamStep struct {
	content   string
	streaming bool
	state     StreamState
}

// recordStream captures the placeholder after every stream update.
func recordStream(s *Session, log *updateLog) *[]streamStep {
	steps := &[]streamStep{}
	s.onUpdate = func(u Update) {
		log.record(u)
		if u.Kind != UpdateStream {
			return
		}
		for _, m := range s.Messages() {
			if m.ID == u.MessageID {
				*steps = append(*steps, streamStep{m.Content, m.IsStreaming, u.State})
			}
		}
	}
	return steps
}

func TestSendMessageAssistantStreaming(t *testing.T) {
	store := newFakeStore()
	log := newUpdateLog()
	s := newTestSession(t, store, log)
	openChannel(t, s, log, models.AssistantChannelID)
	steps := recordStream(s, log)

	gw := &fakeGateway{fragments: []string{"Hel", "lo"}}
	c := NewController(s, ControllerConfig{Gateway: gw})

	var composerDuring []bool
	gw.during = func() { composerDuring = append(composerDuring, c.ComposerEnabled()) }

	require.NoError(t, c.SendMessage(context.Background(), "chào", nil))

	assert.Equal(t, []streamStep{
		{"Hel", true, StreamStreaming},
		{"Hello", true, StreamStreaming},
		{"Hello", false, StreamComplete},
	}, *steps)
	assert.Equal(t, []bool{false, false}, composerDuring)
	assert.True(t, c.ComposerEnabled())

	msgs := s.Messages()
	require.Len(t, msgs, 3)
	assert.Equal(t, "ai-welcome", msgs[0].ID)
	assert.Equal(t, models.SenderUser, msgs[1].SenderType)
	assert.Equal(t, "chào", msgs[1].Content)
	assert.Equal(t, models.SenderAssistant, msgs[2].SenderType)
	assert.False(t, msgs[2].IsStreaming)
	assert.Empty(t, store.created, "assistant messages are never stored")
}

func TestSendMessageAssistantFailure(t *testing.T) {
	tests := []struct {
		name    string
		gateway assistant.Gateway
	}{
		{"error after partial reply", &fakeGateway{fragments: []string{"Hel"}, err: errors.New("gemini: stream error")}},
		{"missing api key", assistant.NewGemini(assistant.GeminiConfig{})},
		{"no gateway", nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			log := newUpdateLog()
			s := newTestSession(t, newFakeStore(), log)
			openChannel(t, s, log, models.AssistantChannelID)
			steps := recordStream(s, log)

			c := NewController(s, ControllerConfig{Gateway: tt.gateway})
			require.NoError(t, c.SendMessage(context.Background(), "chào", nil))

			require.NotEmpty(t, *steps)
			last := (*steps)[len(*steps)-1]
			assert.Equal(t, streamStep{"Lỗi kết nối AI.", false, StreamError}, last)
			assert.True(t, last.state.Terminal())
			assert.True(t, c.ComposerEnabled())
		})
	}
}

func TestSendMessageAttachmentPrompt(t *testing.T) {
	log := newUpdateLog()
	s := newTestSession(t, newFakeStore(), log)
	openChannel(t, s, log, models.AssistantChannelID)

	gw := &fakeGateway{fragments: []string{"ok"}}
	c := NewController(s, ControllerConfig{Gateway: gw})
	require.NoError(t, c.SendMessage(context.Background(), "tóm tắt giúp", &Attachment{Name: "plan.pdf"}))

	assert.Equal(t, []string{"[File: plan.pdf]. tóm tắt giúp"}, gw.prompts)
	local := s.Messages()[1]
	assert.Equal(t, models.MessageFile, local.Type)
	require.NotNil(t, local.FileName)
	assert.Equal(t, "plan.pdf", *local.FileName)
}

func TestSendMessageOptimisticInsert(t *testing.T) {
	store := newFakeStore()
	store.createErr = errors.New("server returned 500")
	log := newUpdateLog()
	s := newTestSession(t, store, log)
	openChannel(t, s, log, "general")

	var seenAtSend []models.Message
	store.onCreate = func(CreateMessageRequest) { seenAtSend = s.Messages() }

	c := NewController(s, ControllerConfig{})
	require.NoError(t, c.SendMessage(context.Background(), "xin chào", &Attachment{Name: "a.txt"}))

	require.Len(t, seenAtSend, 1, "local message must be visible before the request")
	assert.True(t, strings.HasPrefix(seenAtSend[0].ID, "local-"))

	// Failed sends are not rolled back.
	msgs := s.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, "xin chào", msgs[0].Content)
	assert.Equal(t, models.MessageFile, msgs[0].Type)

	require.Len(t, store.created, 1)
	assert.Equal(t, CreateMessageRequest{
		ChannelID:  "general",
		SenderID:   1,
		SenderType: models.SenderUser,
		Content:    "xin chào",
		Type:       models.MessageFile,
		FileName:   "a.txt",
	}, store.created[0])
}

func TestSendMessagePreconditions(t *testing.T) {
	ctx := context.Background()

	c := NewController(nil, ControllerConfig{})
	assert.ErrorIs(t, c.SendMessage(ctx, "hi", nil), ErrNoSession)

	store := newFakeStore()
	s := newTestSession(t, store, newUpdateLog())
	c = NewController(s, ControllerConfig{})
	assert.ErrorIs(t, c.SendMessage(ctx, "hi", nil), ErrNoChannel)

	s.Close()
	assert.ErrorIs(t, c.SendMessage(ctx, "hi", nil), ErrNoSession)
	assert.Empty(t, store.created)
}

func TestStreamStateTerminal(t *testing.T) {
	assert.False(t, StreamPending.Terminal())
	assert.False(t, StreamStreaming.Terminal())
	assert.True(t, StreamComplete.Terminal())
	assert.True(t, StreamError.Terminal())
	assert.Equal(t, "streaming", StreamStreaming.String())
}
