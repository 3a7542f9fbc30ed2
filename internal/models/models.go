package models

import (
	"net/url"
	"sort"
	"time"
)

const (
	StatusOnline  = "online"
	StatusOffline = "offline"
	StatusBusy    = "busy"
)

const (
	ChannelGroup     = "group"
	ChannelDirect    = "direct"
	ChannelAssistant = "assistant"
)

// AssistantChannelID is the fixed id of the assistant channel. Its messages
// are never persisted.
const AssistantChannelID = "ai-assistant"

const (
	SenderUser      = "user"
	SenderOther     = "other"
	SenderAssistant = "assistant"
)

const (
	MessageText  = "text"
	MessageImage = "image"
	MessageFile  = "file"
)

const (
	RequestPending  = "pending"
	RequestAccepted = "accepted"
	RequestRejected = "rejected"
)

const (
	RelationshipFriend   = "friend"
	RelationshipSent     = "sent"
	RelationshipReceived = "received"
	RelationshipNone     = "none"
)

type User struct {
	ID          int       `json:"id"`
	Username    string    `json:"username"`
	Name        string    `json:"name"`
	Avatar      string    `json:"avatar"`
	Status      string    `json:"status"`
	PhoneNumber *string   `json:"phone_number,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

type Channel struct {
	ID                string `json:"id"`
	Name              string `json:"name"`
	Type              string `json:"type"`
	UnreadCount       *int   `json:"unread_count,omitempty"`
	LastMessage       string `json:"last_message,omitempty"`
	LastMessageTime   int64  `json:"last_message_time"`
	LastMessageSender string `json:"last_message_sender,omitempty"`
	Avatar            string `json:"avatar,omitempty"`
	IsFriend          bool   `json:"is_friend,omitempty"`
	OtherUserID       *int   `json:"other_user_id,omitempty"`
}

type Message struct {
	ID          string  `json:"id"`
	ChannelID   string  `json:"channel_id"`
	SenderID    string  `json:"sender_id"`
	SenderType  string  `json:"sender_type"`
	Content     string  `json:"content"`
	Timestamp   int64   `json:"timestamp"`
	Type        string  `json:"type"`
	FileName    *string `json:"file_name,omitempty"`
	IsStreaming bool    `json:"is_streaming,omitempty"`
}

type FriendRequest struct {
	ID           int       `json:"id"`
	SenderID     int       `json:"sender_id"`
	ReceiverID   int       `json:"receiver_id"`
	SenderName   string    `json:"sender_name,omitempty"`
	SenderAvatar string    `json:"sender_avatar,omitempty"`
	Status       string    `json:"status"`
	CreatedAt    time.Time `json:"created_at"`
}

type Friendship struct {
	UserID1   int       `json:"user_id_1"`
	UserID2   int       `json:"user_id_2"`
	CreatedAt time.Time `json:"created_at"`
}

// SearchResult is a user annotated with the caller's relationship to them.
type SearchResult struct {
	ID           int     `json:"id"`
	Username     string  `json:"username"`
	Name         string  `json:"name"`
	PhoneNumber  *string `json:"phone_number,omitempty"`
	Avatar       string  `json:"avatar"`
	Relationship string  `json:"relationship"`
}

// AvatarURL returns the stored avatar or a generated one for name.
func AvatarURL(stored *string, name string) string {
	if stored != nil && *stored != "" {
		return *stored
	}
	return "https://ui-avatars.com/api/?name=" + url.QueryEscape(name) + "&background=random"
}

// AssistantChannel is the synthesized assistant channel entry.
func AssistantChannel() Channel {
	return Channel{ID: AssistantChannelID, Name: "AI Assistant", Type: ChannelAssistant}
}

func ValidMessageType(t string) bool {
	switch t {
	case MessageText, MessageImage, MessageFile:
		return true
	}
	return false
}

// SortMessages orders messages by timestamp, keeping arrival order for ties.
func SortMessages(messages []Message) {
	sort.SliceStable(messages, func(i, j int) bool {
		return messages[i].Timestamp < messages[j].Timestamp
	})
}
