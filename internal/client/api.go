// Package client implements the chat client: a REST client for the message
// store, the polling sync engine, and the conversation controller.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/4xmen/nexchat/internal/models"
)

const defaultHTTPTimeout = 10 * time.Second

// Store is the part of the REST surface the sync engine and the
// conversation controller depend on.
type Store interface {
	Channels(ctx context.Context, userID int) ([]models.Channel, error)
	Messages(ctx context.Context, channelID string) ([]models.Message, error)
	CreateMessage(ctx context.Context, req CreateMessageRequest) (*models.Message, error)
	EnsureDirect(ctx context.Context, user1ID, user2ID int) (*models.Channel, error)
}

// APIError is a non-2xx response from the server.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("server returned %d: %s", e.Status, e.Message)
}

type CreateMessageRequest struct {
	ChannelID  string `json:"channelId"`
	SenderID   int    `json:"senderId"`
	SenderType string `json:"senderType"`
	Content    string `json:"content"`
	Type       string `json:"type"`
	FileName   string `json:"fileName,omitempty"`
}

type RegisterRequest struct {
	Username    string `json:"username"`
	Password    string `json:"password"`
	FullName    string `json:"fullName"`
	PhoneNumber string `json:"phoneNumber,omitempty"`
}

type authResponse struct {
	Token string      `json:"token"`
	User  models.User `json:"user"`
}

// API talks to the REST service mounted under /api.
type API struct {
	baseURL string
	client  *http.Client

	mu    sync.RWMutex
	token string
}

func NewAPI(serverURL string) *API {
	return &API{
		baseURL: strings.TrimRight(serverURL, "/") + "/api",
		client:  &http.Client{Timeout: defaultHTTPTimeout},
	}
}

func (a *API) Token() string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.token
}

func (a *API) SetToken(token string) {
	a.mu.Lock()
	a.token = token
	a.mu.Unlock()
}

func (a *API) Register(ctx context.Context, req RegisterRequest) (*models.User, error) {
	var resp authResponse
	if err := a.do(ctx, http.MethodPost, "/register", req, &resp); err != nil {
		return nil, err
	}
	a.SetToken(resp.Token)
	return &resp.User, nil
}

func (a *API) Login(ctx context.Context, username, password string) (*models.User, error) {
	body := map[string]string{"username": username, "password": password}
	var resp authResponse
	if err := a.do(ctx, http.MethodPost, "/login", body, &resp); err != nil {
		return nil, err
	}
	a.SetToken(resp.Token)
	return &resp.User, nil
}

func (a *API) Logout(ctx context.Context) error {
	err := a.do(ctx, http.MethodPost, "/logout", nil, nil)
	a.SetToken("")
	return err
}

func (a *API) Channels(ctx context.Context, userID int) ([]models.Channel, error) {
	var channels []models.Channel
	if err := a.do(ctx, http.MethodGet, "/channels/"+strconv.Itoa(userID), nil, &channels); err != nil {
		return nil, err
	}
	return channels, nil
}

func (a *API) Messages(ctx context.Context, channelID string) ([]models.Message, error) {
	var messages []models.Message
	if err := a.do(ctx, http.MethodGet, "/messages/"+url.PathEscape(channelID), nil, &messages); err != nil {
		return nil, err
	}
	return messages, nil
}

func (a *API) CreateMessage(ctx context.Context, req CreateMessageRequest) (*models.Message, error) {
	var msg models.Message
	if err := a.do(ctx, http.MethodPost, "/messages", req, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}

func (a *API) EnsureDirect(ctx context.Context, user1ID, user2ID int) (*models.Channel, error) {
	body := map[string]int{"user1Id": user1ID, "user2Id": user2ID}
	var ch models.Channel
	if err := a.do(ctx, http.MethodPost, "/channels/dm", body, &ch); err != nil {
		return nil, err
	}
	return &ch, nil
}

func (a *API) SearchUsers(ctx context.Context, query string, currentUserID int) ([]models.SearchResult, error) {
	q := url.Values{}
	q.Set("q", query)
	q.Set("currentUserId", strconv.Itoa(currentUserID))
	var results []models.SearchResult
	if err := a.do(ctx, http.MethodGet, "/users/search?"+q.Encode(), nil, &results); err != nil {
		return nil, err
	}
	return results, nil
}

func (a *API) SendFriendRequest(ctx context.Context, senderID, receiverID int) error {
	body := map[string]int{"senderId": senderID, "receiverId": receiverID}
	return a.do(ctx, http.MethodPost, "/friends/request", body, nil)
}

func (a *API) PendingRequests(ctx context.Context, userID int) ([]models.FriendRequest, error) {
	var requests []models.FriendRequest
	if err := a.do(ctx, http.MethodGet, "/friends/requests/"+strconv.Itoa(userID), nil, &requests); err != nil {
		return nil, err
	}
	return requests, nil
}

func (a *API) AcceptRequest(ctx context.Context, requestID int) error {
	return a.do(ctx, http.MethodPost, "/friends/accept", map[string]int{"requestId": requestID}, nil)
}

func (a *API) RejectRequest(ctx context.Context, requestID int) error {
	return a.do(ctx, http.MethodPost, "/friends/reject", map[string]int{"requestId": requestID}, nil)
}

func (a *API) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, a.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token := a.Token(); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := a.client.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var apiErr struct {
			Error string `json:"error"`
		}
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		if json.Unmarshal(raw, &apiErr) != nil || apiErr.Error == "" {
			apiErr.Error = strings.TrimSpace(string(raw))
		}
		return &APIError{Status: resp.StatusCode, Message: apiErr.Error}
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}
