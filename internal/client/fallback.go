package client

import (
	"fmt"
	"time"

	"github.com/4xmen/nexchat/internal/models"
)

// Shown when the server cannot be reached.
func fallbackChannels() []models.Channel {
	unread := 3
	return []models.Channel{
		models.AssistantChannel(),
		{ID: "general", Name: "Thông báo chung", Type: models.ChannelGroup, UnreadCount: &unread},
		{ID: "dev-team", Name: "Đội ngũ kỹ thuật", Type: models.ChannelGroup},
		{ID: "marketing", Name: "Marketing", Type: models.ChannelGroup},
		{ID: "random", Name: "Chém gió", Type: models.ChannelGroup},
		{ID: "dm-1", Name: "Nguyễn Văn A", Type: models.ChannelDirect, LastMessage: "Okay, chốt vậy nhé."},
		{ID: "dm-2", Name: "Trần Thị B", Type: models.ChannelDirect, LastMessage: "Gửi mình file báo cáo với."},
	}
}

func demoMessages(channelID string, now time.Time) []models.Message {
	ms := now.UnixMilli()
	switch channelID {
	case "general":
		return []models.Message{
			{ID: "demo-1", ChannelID: channelID, SenderID: "Admin", SenderType: models.SenderOther,
				Content: "Chào mừng mọi người đến với hệ thống chat nội bộ NexChat!", Timestamp: ms - 10_000_000, Type: models.MessageText},
			{ID: "demo-2", ChannelID: channelID, SenderID: "Nguyễn Văn A", SenderType: models.SenderOther,
				Content: "Giao diện đẹp quá admin ơi.", Timestamp: ms - 5_000_000, Type: models.MessageText},
		}
	default:
		return []models.Message{}
	}
}

func assistantGreeting(name string, now time.Time) models.Message {
	return models.Message{
		ID:         "ai-welcome",
		ChannelID:  models.AssistantChannelID,
		SenderID:   "assistant",
		SenderType: models.SenderAssistant,
		Content:    fmt.Sprintf("Xin chào %s! Tôi là trợ lý AI.", name),
		Timestamp:  now.UnixMilli(),
		Type:       models.MessageText,
	}
}
