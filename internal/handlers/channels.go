package handlers

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/4xmen/nexchat/internal/chat"
)

type ChannelHandler struct {
	chat   *chat.Service
	logger *slog.Logger
}

func NewChannelHandler(chatSvc *chat.Service, logger *slog.Logger) *ChannelHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &ChannelHandler{chat: chatSvc, logger: logger}
}

type DirectChannelRequest struct {
	User1ID flexID `json:"user1Id" binding:"required"`
	User2ID flexID `json:"user2Id" binding:"required"`
}

// GetChannels lists the channels visible to :userId.
func (h *ChannelHandler) GetChannels(c *gin.Context) {
	userID, ok := pathUserID(c)
	if !ok {
		return
	}

	channels, err := h.chat.ChannelsForUser(c.Request.Context(), userID)
	if err != nil {
		h.logger.Error("fetch channels failed", "user_id", userID, "error", err)
		respondError(c, http.StatusInternalServerError, "failed to fetch channels")
		return
	}

	c.JSON(http.StatusOK, channels)
}

// CreateDirect returns the direct channel between the caller and user2Id,
// creating it on first use.
func (h *ChannelHandler) CreateDirect(c *gin.Context) {
	var req DirectChannelRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "invalid request")
		return
	}
	if !requireSelf(c, int(req.User1ID)) {
		return
	}

	channel, err := h.chat.EnsureDirectChannel(c.Request.Context(), int(req.User1ID), int(req.User2ID))
	if err != nil {
		switch {
		case errors.Is(err, chat.ErrSelfChannel):
			respondError(c, http.StatusBadRequest, err.Error())
		case errors.Is(err, chat.ErrUserNotFound):
			respondError(c, http.StatusNotFound, err.Error())
		default:
			h.logger.Error("create direct channel failed", "error", err)
			respondError(c, http.StatusInternalServerError, "failed to create channel")
		}
		return
	}

	c.JSON(http.StatusOK, channel)
}
