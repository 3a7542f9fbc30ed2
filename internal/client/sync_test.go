package client

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/4xmen/nexchat/internal/models"
)

func TestRefreshChannelsNotifications(t *testing.T) {
	store := newFakeStore()
	notifier := &recordingNotifier{}
	engine := NewEngine(testUser, EngineConfig{Store: store, Notifier: notifier})
	ctx := context.Background()

	steps := []struct {
		name   string
		time   int64
		sender string
		view   View
		notify bool
	}{
		{"first observation is silent", 100, "2", View{Visible: false}, false},
		{"newer message elsewhere", 200, "2", View{Visible: true, ActiveChannelID: "random"}, true},
		{"same timestamp", 200, "2", View{Visible: false}, false},
		{"own message", 300, "1", View{Visible: false}, false},
		{"open and visible", 400, "2", View{Visible: true, ActiveChannelID: "general"}, false},
		{"open but hidden", 500, "2", View{Visible: false, ActiveChannelID: "general"}, true},
		{"older timestamp", 450, "2", View{Visible: false}, false},
	}

	want := 0
	for _, step := range steps {
		store.setChannels([]models.Channel{{
			ID: "general", Name: "Thông báo chung", Type: models.ChannelGroup,
			LastMessage: "hi", LastMessageTime: step.time, LastMessageSender: step.sender,
		}})
		engine.RefreshChannels(ctx, step.view)
		if step.notify {
			want++
		}
		assert.Equal(t, want, notifier.count(), step.name)
	}

	require.Len(t, notifier.sent, 2)
	assert.Equal(t, "general", notifier.sent[0].ChannelID)
	assert.Equal(t, int64(500), notifier.sent[1].Timestamp)
}

func TestRefreshChannelsResetForgetsHistory(t *testing.T) {
	store := newFakeStore()
	notifier := &recordingNotifier{}
	engine := NewEngine(testUser, EngineConfig{Store: store, Notifier: notifier})
	ctx := context.Background()

	store.setChannels([]models.Channel{{ID: "general", LastMessageTime: 100, LastMessageSender: "2"}})
	engine.RefreshChannels(ctx, View{})
	engine.Reset()

	store.setChannels([]models.Channel{{ID: "general", LastMessageTime: 200, LastMessageSender: "2"}})
	engine.RefreshChannels(ctx, View{})
	assert.Zero(t, notifier.count())
}

func TestRefreshChannelsAssistantAlwaysPresent(t *testing.T) {
	store := newFakeStore()
	store.setChannels([]models.Channel{{ID: "general", Type: models.ChannelGroup}})
	engine := NewEngine(testUser, EngineConfig{Store: store, Notifier: &recordingNotifier{}})

	channels := engine.RefreshChannels(context.Background(), View{})
	require.Len(t, channels, 2)
	assert.Equal(t, models.AssistantChannelID, channels[0].ID)

	store.setChannels([]models.Channel{{ID: "general"}, models.AssistantChannel()})
	channels = engine.RefreshChannels(context.Background(), View{})
	assert.Len(t, channels, 2)
}

func TestRefreshChannelsFallback(t *testing.T) {
	store := newFakeStore()
	store.channelsErr = errOffline
	notifier := &recordingNotifier{}
	engine := NewEngine(testUser, EngineConfig{Store: store, Notifier: notifier})

	channels := engine.RefreshChannels(context.Background(), View{})
	require.NotEmpty(t, channels)
	assert.Equal(t, models.AssistantChannelID, channels[0].ID)
	assert.Equal(t, "general", channels[1].ID)

	engine.RefreshChannels(context.Background(), View{})
	assert.Zero(t, notifier.count())
}

func TestRefreshMessages(t *testing.T) {
	store := newFakeStore()
	store.messages["general"] = []models.Message{
		{ID: "3", SenderID: "2", SenderType: models.SenderUser, Content: "c", Timestamp: 300},
		{ID: "1", SenderID: "1", SenderType: models.SenderOther, Content: "a", Timestamp: 100},
		{ID: "2", SenderID: "2", SenderType: models.SenderUser, Content: "b", Timestamp: 200},
	}
	engine := NewEngine(testUser, EngineConfig{Store: store})

	messages := engine.RefreshMessages(context.Background(), "general")
	require.Len(t, messages, 3)
	assert.Equal(t, []string{"a", "b", "c"}, []string{messages[0].Content, messages[1].Content, messages[2].Content})
	assert.Equal(t, models.SenderUser, messages[0].SenderType)
	assert.Equal(t, models.SenderOther, messages[1].SenderType)
	assert.Equal(t, models.SenderOther, messages[2].SenderType)
}

func TestRefreshMessagesAssistantGreeting(t *testing.T) {
	store := newFakeStore()
	now := time.UnixMilli(1_700_000_000_000)
	engine := NewEngine(testUser, EngineConfig{Store: store, Now: func() time.Time { return now }})

	messages := engine.RefreshMessages(context.Background(), models.AssistantChannelID)
	require.Len(t, messages, 1)
	assert.Equal(t, "Xin chào Lan! Tôi là trợ lý AI.", messages[0].Content)
	assert.Equal(t, models.SenderAssistant, messages[0].SenderType)
	assert.Equal(t, now.UnixMilli(), messages[0].Timestamp)
	assert.Zero(t, store.messageCalls[models.AssistantChannelID])
}

func TestRefreshMessagesFailure(t *testing.T) {
	tests := []struct {
		name    string
		demo    bool
		channel string
		want    int
	}{
		{"empty without demo", false, "general", 0},
		{"demo content", true, "general", 2},
		{"demo without content for channel", true, "random", 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := newFakeStore()
			store.messagesErr = errOffline
			engine := NewEngine(testUser, EngineConfig{Store: store, DemoFallback: tt.demo})

			messages := engine.RefreshMessages(context.Background(), tt.channel)
			require.NotNil(t, messages)
			assert.Len(t, messages, tt.want)
		})
	}
}
