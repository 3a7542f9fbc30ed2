package handlers

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/4xmen/nexchat/internal/chat"
	"github.com/4xmen/nexchat/internal/metrics"
	"github.com/4xmen/nexchat/internal/models"
)

type MessageHandler struct {
	chat   *chat.Service
	logger *slog.Logger
}

func NewMessageHandler(chatSvc *chat.Service, logger *slog.Logger) *MessageHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &MessageHandler{chat: chatSvc, logger: logger}
}

type CreateMessageRequest struct {
	ChannelID  string `json:"channelId" binding:"required"`
	SenderID   flexID `json:"senderId" binding:"required"`
	SenderType string `json:"senderType"`
	Content    string `json:"content"`
	Type       string `json:"type"`
	FileName   string `json:"fileName"`
}

// GetMessages lists a channel's messages oldest first. Group channels are
// readable by members only; the assistant channel is always empty.
func (h *MessageHandler) GetMessages(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		respondError(c, http.StatusUnauthorized, "unauthorized")
		return
	}

	channelID := c.Param("channelId")
	if channelID == models.AssistantChannelID {
		c.JSON(http.StatusOK, []models.Message{})
		return
	}

	member, err := h.chat.IsMember(c.Request.Context(), channelID, userID)
	if err != nil {
		h.logger.Error("membership check failed", "channel_id", channelID, "error", err)
		respondError(c, http.StatusInternalServerError, "failed to fetch messages")
		return
	}
	if !member {
		respondError(c, http.StatusForbidden, "not a channel member")
		return
	}

	messages, err := h.chat.Messages(c.Request.Context(), channelID)
	if err != nil {
		h.logger.Error("fetch messages failed", "channel_id", channelID, "error", err)
		respondError(c, http.StatusInternalServerError, "failed to fetch messages")
		return
	}

	c.JSON(http.StatusOK, messages)
}

// CreateMessage stores a message sent by the caller.
func (h *MessageHandler) CreateMessage(c *gin.Context) {
	var req CreateMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "invalid request")
		return
	}
	if !requireSelf(c, int(req.SenderID)) {
		return
	}

	msg, err := h.chat.CreateMessage(c.Request.Context(), chat.MessageInput{
		ChannelID:  req.ChannelID,
		SenderID:   int(req.SenderID),
		SenderType: req.SenderType,
		Content:    req.Content,
		Type:       req.Type,
		FileName:   req.FileName,
	})
	if err != nil {
		switch {
		case errors.Is(err, chat.ErrAssistantChannel),
			errors.Is(err, chat.ErrEmptyMessage),
			errors.Is(err, chat.ErrInvalidType),
			errors.Is(err, chat.ErrInvalidSenderType):
			respondError(c, http.StatusBadRequest, err.Error())
		case errors.Is(err, chat.ErrChannelNotFound):
			respondError(c, http.StatusNotFound, err.Error())
		case errors.Is(err, chat.ErrNotMember):
			respondError(c, http.StatusForbidden, err.Error())
		default:
			h.logger.Error("create message failed", "channel_id", req.ChannelID, "error", err)
			respondError(c, http.StatusInternalServerError, "failed to create message")
		}
		return
	}

	metrics.MessageCreated(msg.Type)
	c.JSON(http.StatusCreated, msg)
}
