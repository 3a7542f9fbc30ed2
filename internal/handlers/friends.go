package handlers

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/4xmen/nexchat/internal/friends"
	"github.com/4xmen/nexchat/internal/metrics"
	"github.com/4xmen/nexchat/internal/models"
)

type FriendHandler struct {
	friends *friends.Service
	logger  *slog.Logger
}

func NewFriendHandler(friendSvc *friends.Service, logger *slog.Logger) *FriendHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &FriendHandler{friends: friendSvc, logger: logger}
}

type FriendRequestBody struct {
	SenderID   flexID `json:"senderId" binding:"required"`
	ReceiverID flexID `json:"receiverId" binding:"required"`
}

type RequestActionBody struct {
	RequestID flexID `json:"requestId" binding:"required"`
}

// SearchUsers handles GET /users/search?q=&currentUserId=.
func (h *FriendHandler) SearchUsers(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		respondError(c, http.StatusUnauthorized, "unauthorized")
		return
	}
	if raw := c.Query("currentUserId"); raw != "" {
		id, err := strconv.Atoi(raw)
		if err != nil {
			respondError(c, http.StatusBadRequest, "invalid user id")
			return
		}
		if !requireSelf(c, id) {
			return
		}
	}

	results, err := h.friends.Search(c.Request.Context(), c.Query("q"), userID)
	if err != nil {
		h.logger.Error("user search failed", "error", err)
		respondError(c, http.StatusInternalServerError, "failed to search users")
		return
	}
	c.JSON(http.StatusOK, results)
}

func (h *FriendHandler) SendRequest(c *gin.Context) {
	var req FriendRequestBody
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "invalid request")
		return
	}
	if !requireSelf(c, int(req.SenderID)) {
		return
	}

	err := h.friends.SendRequest(c.Request.Context(), int(req.SenderID), int(req.ReceiverID))
	if err != nil {
		switch {
		case errors.Is(err, friends.ErrSelfRequest):
			respondError(c, http.StatusBadRequest, err.Error())
		case errors.Is(err, friends.ErrUserNotFound):
			respondError(c, http.StatusNotFound, err.Error())
		default:
			h.logger.Error("send friend request failed", "error", err)
			respondError(c, http.StatusInternalServerError, "failed to send friend request")
		}
		return
	}

	metrics.FriendRequest("sent")
	c.JSON(http.StatusOK, gin.H{"status": "sent"})
}

func (h *FriendHandler) PendingRequests(c *gin.Context) {
	userID, ok := pathUserID(c)
	if !ok {
		return
	}

	requests, err := h.friends.PendingRequests(c.Request.Context(), userID)
	if err != nil {
		h.logger.Error("fetch friend requests failed", "user_id", userID, "error", err)
		respondError(c, http.StatusInternalServerError, "failed to fetch friend requests")
		return
	}
	c.JSON(http.StatusOK, requests)
}

func (h *FriendHandler) Accept(c *gin.Context) {
	userID, req, ok := h.bindAction(c)
	if !ok {
		return
	}

	friendship, err := h.friends.Accept(c.Request.Context(), int(req.RequestID), userID)
	if err != nil {
		h.respondActionError(c, err, "failed to accept friend request")
		return
	}

	metrics.FriendRequest(models.RequestAccepted)
	c.JSON(http.StatusOK, gin.H{"status": models.RequestAccepted, "friendship": friendship})
}

func (h *FriendHandler) Reject(c *gin.Context) {
	userID, req, ok := h.bindAction(c)
	if !ok {
		return
	}

	if err := h.friends.Reject(c.Request.Context(), int(req.RequestID), userID); err != nil {
		h.respondActionError(c, err, "failed to reject friend request")
		return
	}

	metrics.FriendRequest(models.RequestRejected)
	c.JSON(http.StatusOK, gin.H{"status": models.RequestRejected})
}

func (h *FriendHandler) bindAction(c *gin.Context) (int, RequestActionBody, bool) {
	var req RequestActionBody
	userID, ok := currentUserID(c)
	if !ok {
		respondError(c, http.StatusUnauthorized, "unauthorized")
		return 0, req, false
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "invalid request")
		return 0, req, false
	}
	return userID, req, true
}

func (h *FriendHandler) respondActionError(c *gin.Context, err error, fallback string) {
	switch {
	case errors.Is(err, friends.ErrRequestNotFound):
		respondError(c, http.StatusNotFound, err.Error())
	case errors.Is(err, friends.ErrNotReceiver):
		respondError(c, http.StatusForbidden, err.Error())
	case errors.Is(err, friends.ErrRequestAnswered):
		respondError(c, http.StatusConflict, err.Error())
	default:
		h.logger.Error(fallback, "error", err)
		respondError(c, http.StatusInternalServerError, fallback)
	}
}
