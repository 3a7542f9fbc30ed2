package handlers

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/gin-gonic/gin"

	"github.com/4xmen/nexchat/internal/auth"
	"github.com/4xmen/nexchat/internal/chat"
	"github.com/4xmen/nexchat/internal/db"
	"github.com/4xmen/nexchat/internal/friends"
	"github.com/4xmen/nexchat/internal/models"
)

var (
	testDB      *sql.DB
	testAuthSvc *auth.Service
	testRouter  *gin.Engine
)

func TestMain(m *testing.M) {
	gin.SetMode(gin.TestMode)

	dir, err := os.MkdirTemp("", "nexchat-handlers")
	if err != nil {
		panic(err)
	}

	database, err := db.New(filepath.Join(dir, "test.db"))
	if err != nil {
		panic(err)
	}
	testDB = database.GetConn()

	testAuthSvc = auth.New(testDB, "test-jwt-secret")
	testRouter = setupTestRouter()

	code := m.Run()

	database.Close()
	os.RemoveAll(dir)
	os.Exit(code)
}

func setupTestRouter() *gin.Engine {
	router := gin.New()

	authHandler := NewAuthHandler(testAuthSvc, nil)
	chatSvc := chat.New(testDB)
	channelHandler := NewChannelHandler(chatSvc, nil)
	msgHandler := NewMessageHandler(chatSvc, nil)
	friendHandler := NewFriendHandler(friends.New(testDB), nil)

	api := router.Group("/api")
	{
		api.POST("/register", authHandler.Register)
		api.POST("/login", authHandler.Login)
	}

	protected := api.Group("")
	protected.Use(authHandler.AuthMiddleware())
	{
		protected.POST("/logout", authHandler.Logout)
		protected.GET("/channels/:userId", channelHandler.GetChannels)
		protected.POST("/channels/dm", channelHandler.CreateDirect)
		protected.GET("/messages/:channelId", msgHandler.GetMessages)
		protected.POST("/messages", msgHandler.CreateMessage)
		protected.GET("/users/search", friendHandler.SearchUsers)
		protected.POST("/friends/request", friendHandler.SendRequest)
		protected.GET("/friends/requests/:userId", friendHandler.PendingRequests)
		protected.POST("/friends/accept", friendHandler.Accept)
		protected.POST("/friends/reject", friendHandler.Reject)
	}

	return router
}

func clearTestData() {
	testDB.Exec("DELETE FROM messages")
	testDB.Exec("DELETE FROM friendships")
	testDB.Exec("DELETE FROM friend_requests")
	testDB.Exec("DELETE FROM channel_members")
	testDB.Exec("DELETE FROM channels WHERE type = 'direct'")
	testDB.Exec("DELETE FROM users")
}

type testUser struct {
	id    int
	token string
}

func createUser(t *testing.T, username, fullName string) testUser {
	t.Helper()
	u, err := testAuthSvc.Register(context.Background(), auth.RegisterInput{
		Username: username, Password: "password123", FullName: fullName,
	})
	if err != nil {
		t.Fatalf("Failed to create test user: %v", err)
	}
	token, err := testAuthSvc.GenerateToken(u.ID, u.Username)
	if err != nil {
		t.Fatalf("Failed to create token: %v", err)
	}
	return testUser{id: u.ID, token: token}
}

func doJSON(method, path, token string, body any) *httptest.ResponseRecorder {
	var reader *bytes.Reader
	if body != nil {
		raw, _ := json.Marshal(body)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	testRouter.ServeHTTP(w, req)
	return w
}

func TestRegister(t *testing.T) {
	clearTestData()

	tests := []struct {
		name       string
		body       map[string]string
		wantStatus int
		wantError  bool
	}{
		{
			name:       "valid registration",
			body:       map[string]string{"username": "testuser", "password": "password123", "fullName": "Test User"},
			wantStatus: http.StatusCreated,
		},
		{
			name:       "duplicate username",
			body:       map[string]string{"username": "testuser", "password": "password123", "fullName": "Test User"},
			wantStatus: http.StatusBadRequest,
			wantError:  true,
		},
		{
			name:       "short username",
			body:       map[string]string{"username": "ab", "password": "password123", "fullName": "A"},
			wantStatus: http.StatusBadRequest,
			wantError:  true,
		},
		{
			name:       "short password",
			body:       map[string]string{"username": "newuser", "password": "12345", "fullName": "N"},
			wantStatus: http.StatusBadRequest,
			wantError:  true,
		},
		{
			name:       "invalid username characters",
			body:       map[string]string{"username": "test@user", "password": "password123", "fullName": "T"},
			wantStatus: http.StatusBadRequest,
			wantError:  true,
		},
		{
			name:       "missing password",
			body:       map[string]string{"username": "someone"},
			wantStatus: http.StatusBadRequest,
			wantError:  true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := doJSON("POST", "/api/register", "", tt.body)

			if w.Code != tt.wantStatus {
				t.Errorf("Register() status = %d, want %d", w.Code, tt.wantStatus)
			}

			var resp map[string]interface{}
			json.Unmarshal(w.Body.Bytes(), &resp)

			if tt.wantError {
				if _, ok := resp["error"]; !ok {
					t.Error("Expected error response")
				}
				return
			}
			if _, ok := resp["token"]; !ok {
				t.Error("Expected token in response")
			}
			user, ok := resp["user"].(map[string]interface{})
			if !ok {
				t.Fatal("Expected user in response")
			}
			if user["name"] != "Test User" {
				t.Errorf("user.name = %v", user["name"])
			}
		})
	}
}

func TestRegisterErrorIsLocalized(t *testing.T) {
	clearTestData()

	w := doJSON("POST", "/api/register", "", map[string]string{"username": "ab", "password": "password123", "fullName": "A"})

	var resp map[string]string
	json.Unmarshal(w.Body.Bytes(), &resp)
	if resp["error"] != "Tên đăng nhập phải từ 3 đến 32 ký tự" {
		t.Errorf("error = %q, want Vietnamese message", resp["error"])
	}
}

func TestLoginAndLogout(t *testing.T) {
	clearTestData()
	u := createUser(t, "loginuser", "Login User")

	tests := []struct {
		name       string
		body       map[string]string
		wantStatus int
	}{
		{"valid login", map[string]string{"username": "loginuser", "password": "password123"}, http.StatusOK},
		{"wrong password", map[string]string{"username": "loginuser", "password": "wrongpassword"}, http.StatusUnauthorized},
		{"non-existent user", map[string]string{"username": "nonexistent", "password": "password123"}, http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := doJSON("POST", "/api/login", "", tt.body)
			if w.Code != tt.wantStatus {
				t.Errorf("Login() status = %d, want %d", w.Code, tt.wantStatus)
			}
		})
	}

	w := doJSON("POST", "/api/logout", u.token, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("Logout() status = %d, want 200", w.Code)
	}
	var status string
	testDB.QueryRow("SELECT status FROM users WHERE id = ?", u.id).Scan(&status)
	if status != models.StatusOffline {
		t.Errorf("status after logout = %q", status)
	}
}

func TestAuthMiddleware(t *testing.T) {
	clearTestData()
	u := createUser(t, "mwuser", "MW")

	t.Run("no token", func(t *testing.T) {
		w := doJSON("GET", "/api/channels/"+strconv.Itoa(u.id), "", nil)
		if w.Code != http.StatusUnauthorized {
			t.Errorf("No token status = %d, want 401", w.Code)
		}
	})

	t.Run("invalid token", func(t *testing.T) {
		w := doJSON("GET", "/api/channels/"+strconv.Itoa(u.id), "invalid-token", nil)
		if w.Code != http.StatusUnauthorized {
			t.Errorf("Invalid token status = %d, want 401", w.Code)
		}
	})

	t.Run("token in query", func(t *testing.T) {
		req := httptest.NewRequest("GET", "/api/channels/"+strconv.Itoa(u.id)+"?token="+u.token, nil)
		w := httptest.NewRecorder()
		testRouter.ServeHTTP(w, req)
		if w.Code != http.StatusOK {
			t.Errorf("Query token status = %d, want 200", w.Code)
		}
	})

	t.Run("deleted user", func(t *testing.T) {
		token, _ := testAuthSvc.GenerateToken(99999, "ghost")
		w := doJSON("GET", "/api/channels/99999", token, nil)
		if w.Code != http.StatusUnauthorized {
			t.Errorf("Deleted user status = %d, want 401", w.Code)
		}
	})
}

func TestChannels(t *testing.T) {
	clearTestData()
	alice := createUser(t, "alice", "Alice")
	bob := createUser(t, "bob", "Bob")

	t.Run("list includes assistant and general", func(t *testing.T) {
		w := doJSON("GET", "/api/channels/"+strconv.Itoa(alice.id), alice.token, nil)
		if w.Code != http.StatusOK {
			t.Fatalf("GetChannels() status = %d, want 200", w.Code)
		}
		var channels []models.Channel
		json.Unmarshal(w.Body.Bytes(), &channels)
		if len(channels) < 2 || channels[0].ID != models.AssistantChannelID {
			t.Fatalf("unexpected channels: %+v", channels)
		}
		if channels[1].ID != "general" || channels[1].LastMessage != chat.EmptyChannelPreview {
			t.Errorf("unexpected general entry: %+v", channels[1])
		}
	})

	t.Run("other user's list is forbidden", func(t *testing.T) {
		w := doJSON("GET", "/api/channels/"+strconv.Itoa(bob.id), alice.token, nil)
		if w.Code != http.StatusForbidden {
			t.Errorf("status = %d, want 403", w.Code)
		}
	})

	t.Run("direct channel is shared", func(t *testing.T) {
		w1 := doJSON("POST", "/api/channels/dm", alice.token, map[string]int{"user1Id": alice.id, "user2Id": bob.id})
		w2 := doJSON("POST", "/api/channels/dm", bob.token, map[string]string{"user1Id": strconv.Itoa(bob.id), "user2Id": strconv.Itoa(alice.id)})
		if w1.Code != http.StatusOK || w2.Code != http.StatusOK {
			t.Fatalf("CreateDirect statuses = %d, %d", w1.Code, w2.Code)
		}
		var c1, c2 models.Channel
		json.Unmarshal(w1.Body.Bytes(), &c1)
		json.Unmarshal(w2.Body.Bytes(), &c2)
		if c1.ID != c2.ID || c1.ID != chat.DirectChannelID(alice.id, bob.id) {
			t.Errorf("channel ids differ: %s vs %s", c1.ID, c2.ID)
		}
	})

	t.Run("cannot open direct channel as someone else", func(t *testing.T) {
		w := doJSON("POST", "/api/channels/dm", alice.token, map[string]int{"user1Id": bob.id, "user2Id": alice.id})
		if w.Code != http.StatusForbidden {
			t.Errorf("status = %d, want 403", w.Code)
		}
	})
}

func TestMessages(t *testing.T) {
	clearTestData()
	alice := createUser(t, "msgalice", "Alice")
	bob := createUser(t, "msgbob", "Bob")

	post := func(token string, body map[string]any) *httptest.ResponseRecorder {
		return doJSON("POST", "/api/messages", token, body)
	}

	t.Run("send and list", func(t *testing.T) {
		w := post(alice.token, map[string]any{"channelId": "general", "senderId": alice.id, "senderType": "user", "content": "Xin chào", "type": "text"})
		if w.Code != http.StatusCreated {
			t.Fatalf("CreateMessage() status = %d body=%s", w.Code, w.Body.String())
		}
		w = post(bob.token, map[string]any{"channelId": "general", "senderId": strconv.Itoa(bob.id), "content": "", "type": "file", "fileName": "plan.pdf"})
		if w.Code != http.StatusCreated {
			t.Fatalf("CreateMessage(file) status = %d body=%s", w.Code, w.Body.String())
		}

		w = doJSON("GET", "/api/messages/general", bob.token, nil)
		if w.Code != http.StatusOK {
			t.Fatalf("GetMessages() status = %d", w.Code)
		}
		var messages []models.Message
		json.Unmarshal(w.Body.Bytes(), &messages)
		if len(messages) != 2 {
			t.Fatalf("Expected 2 messages, got %d", len(messages))
		}
		if messages[0].Content != "Xin chào" || messages[0].SenderID != strconv.Itoa(alice.id) {
			t.Errorf("unexpected first message: %+v", messages[0])
		}
	})

	tests := []struct {
		name       string
		token      string
		body       map[string]any
		wantStatus int
	}{
		{"assistant channel rejected", alice.token, map[string]any{"channelId": models.AssistantChannelID, "senderId": alice.id, "content": "hi"}, http.StatusBadRequest},
		{"empty content rejected", alice.token, map[string]any{"channelId": "general", "senderId": alice.id, "content": ""}, http.StatusBadRequest},
		{"impersonation rejected", alice.token, map[string]any{"channelId": "general", "senderId": bob.id, "content": "hi"}, http.StatusForbidden},
		{"non-member rejected", alice.token, map[string]any{"channelId": "random", "senderId": alice.id, "content": "hi"}, http.StatusForbidden},
		{"unknown channel", alice.token, map[string]any{"channelId": "nope", "senderId": alice.id, "content": "hi"}, http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := post(tt.token, tt.body)
			if w.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d (body=%s)", w.Code, tt.wantStatus, w.Body.String())
			}
		})
	}

	t.Run("assistant channel lists nothing", func(t *testing.T) {
		w := doJSON("GET", "/api/messages/"+models.AssistantChannelID, alice.token, nil)
		if w.Code != http.StatusOK || w.Body.String() != "[]" {
			t.Errorf("status = %d body = %s", w.Code, w.Body.String())
		}
	})

	t.Run("non-member cannot read", func(t *testing.T) {
		w := doJSON("GET", "/api/messages/random", alice.token, nil)
		if w.Code != http.StatusForbidden {
			t.Errorf("status = %d, want 403", w.Code)
		}
	})
}

func TestFriendFlow(t *testing.T) {
	clearTestData()
	alice := createUser(t, "falice", "Alice Tran")
	bob := createUser(t, "fbob", "Bob Le")
	carol := createUser(t, "fcarol", "Carol")

	w := doJSON("POST", "/api/friends/request", alice.token, map[string]int{"senderId": alice.id, "receiverId": bob.id})
	if w.Code != http.StatusOK {
		t.Fatalf("SendRequest() status = %d", w.Code)
	}
	// Repeat is a no-op.
	doJSON("POST", "/api/friends/request", alice.token, map[string]int{"senderId": alice.id, "receiverId": bob.id})

	w = doJSON("POST", "/api/friends/request", alice.token, map[string]int{"senderId": bob.id, "receiverId": carol.id})
	if w.Code != http.StatusForbidden {
		t.Errorf("impersonated request status = %d, want 403", w.Code)
	}

	w = doJSON("GET", "/api/users/search?q=bob&currentUserId="+strconv.Itoa(alice.id), alice.token, nil)
	var results []models.SearchResult
	json.Unmarshal(w.Body.Bytes(), &results)
	if len(results) != 1 || results[0].Relationship != models.RelationshipSent {
		t.Fatalf("search results = %+v", results)
	}

	w = doJSON("GET", "/api/friends/requests/"+strconv.Itoa(bob.id), bob.token, nil)
	var pending []models.FriendRequest
	json.Unmarshal(w.Body.Bytes(), &pending)
	if len(pending) != 1 || pending[0].SenderName != "Alice Tran" {
		t.Fatalf("pending = %+v", pending)
	}
	requestID := pending[0].ID

	w = doJSON("GET", "/api/friends/requests/"+strconv.Itoa(bob.id), alice.token, nil)
	if w.Code != http.StatusForbidden {
		t.Errorf("reading someone else's requests status = %d, want 403", w.Code)
	}

	for _, who := range []testUser{alice, carol} {
		w = doJSON("POST", "/api/friends/accept", who.token, map[string]int{"requestId": requestID})
		if w.Code != http.StatusForbidden {
			t.Errorf("accept by non-receiver status = %d, want 403", w.Code)
		}
	}

	for i := 0; i < 2; i++ {
		w = doJSON("POST", "/api/friends/accept", bob.token, map[string]int{"requestId": requestID})
		if w.Code != http.StatusOK {
			t.Fatalf("accept status = %d body=%s", w.Code, w.Body.String())
		}
	}

	var count int
	testDB.QueryRow("SELECT COUNT(*) FROM friendships").Scan(&count)
	if count != 1 {
		t.Errorf("friendships = %d, want 1", count)
	}

	w = doJSON("POST", "/api/friends/reject", bob.token, map[string]int{"requestId": 424242})
	if w.Code != http.StatusNotFound {
		t.Errorf("reject unknown status = %d, want 404", w.Code)
	}

	w = doJSON("POST", "/api/friends/reject", bob.token, map[string]int{"requestId": requestID})
	if w.Code != http.StatusConflict {
		t.Errorf("reject accepted request status = %d, want 409", w.Code)
	}

	// The new friend shows up as a synthesized direct channel.
	w = doJSON("GET", "/api/channels/"+strconv.Itoa(alice.id), alice.token, nil)
	var channels []models.Channel
	json.Unmarshal(w.Body.Bytes(), &channels)
	found := false
	for _, ch := range channels {
		if ch.ID == chat.DirectChannelID(alice.id, bob.id) {
			found = ch.IsFriend && ch.LastMessage == chat.NewFriendPreview
		}
	}
	if !found {
		t.Errorf("expected synthesized friend channel in %+v", channels)
	}
}
