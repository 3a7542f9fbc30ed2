package ws

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/4xmen/nexchat/internal/assistant"
	"github.com/4xmen/nexchat/internal/metrics"
	"github.com/4xmen/nexchat/pkg/i18n"
)

const (
	EventPrompt   = "prompt"
	EventReset    = "reset"
	EventFragment = "fragment"
	EventDone     = "done"
	EventError    = "error"
)

const (
	pongWait   = 60 * time.Second
	pingPeriod = 54 * time.Second
	writeWait  = 10 * time.Second
)

// Event is the frame exchanged on the assistant socket.
type Event struct {
	Type   string `json:"type"`
	Prompt string `json:"prompt,omitempty"`
	Text   string `json:"text,omitempty"`
	Error  string `json:"error,omitempty"`
}

// Relay streams assistant replies to websocket clients that do not hold
// the model API key themselves. Each connection gets its own gateway, so
// chat history is per connection.
type Relay struct {
	clients    map[*Client]struct{}
	register   chan *Client
	unregister chan *Client
	newGateway func() assistant.Gateway
	logger     *slog.Logger
	done       chan struct{}
	mu         sync.RWMutex
}

type Client struct {
	userID  int
	conn    *websocket.Conn
	relay   *Relay
	gateway assistant.Gateway
	send    chan Event
	prompts chan string
	ctx     context.Context
	cancel  context.CancelFunc
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

func NewRelay(newGateway func() assistant.Gateway, logger *slog.Logger) *Relay {
	if logger == nil {
		logger = slog.Default()
	}
	return &Relay{
		clients:    make(map[*Client]struct{}),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		newGateway: newGateway,
		logger:     logger,
		done:       make(chan struct{}),
	}
}

// Active returns the number of connected clients.
func (r *Relay) Active() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.clients)
}

// Run tracks connections until ctx is done, then closes the remaining ones.
func (r *Relay) Run(ctx context.Context) {
	for {
		select {
		case client := <-r.register:
			r.mu.Lock()
			r.clients[client] = struct{}{}
			total := len(r.clients)
			r.mu.Unlock()
			r.logger.Info("assistant relay connected", "user_id", client.userID, "total", total)

		case client := <-r.unregister:
			r.mu.Lock()
			if _, ok := r.clients[client]; ok {
				delete(r.clients, client)
				client.cancel()
			}
			total := len(r.clients)
			r.mu.Unlock()
			r.logger.Info("assistant relay disconnected", "user_id", client.userID, "total", total)

		case <-ctx.Done():
			close(r.done)
			r.mu.Lock()
			for client := range r.clients {
				client.cancel()
				client.conn.Close()
				delete(r.clients, client)
			}
			r.mu.Unlock()
			return
		}
	}
}

func (r *Relay) HandleWebSocket(c *gin.Context) {
	userID, exists := c.Get("user_id")
	if !exists {
		c.JSON(http.StatusUnauthorized, gin.H{"error": i18n.Translate("unauthorized")})
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// Upgrade has already written an HTTP error.
		r.logger.Warn("websocket upgrade failed", "error", err)
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	client := &Client{
		userID:  userID.(int),
		conn:    conn,
		relay:   r,
		gateway: r.newGateway(),
		send:    make(chan Event, 256),
		prompts: make(chan string, 8),
		ctx:     ctx,
		cancel:  cancel,
	}

	select {
	case r.register <- client:
	case <-r.done:
		cancel()
		conn.Close()
		return
	}

	go client.readPump()
	go client.writePump()
	go client.promptLoop()
}

func (c *Client) readPump() {
	defer func() {
		select {
		case c.relay.unregister <- c:
		case <-c.relay.done:
		}
		c.cancel()
		c.conn.Close()
	}()

	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.relay.logger.Warn("assistant relay read error", "user_id", c.userID, "error", err)
			}
			return
		}

		var event Event
		if err := json.Unmarshal(data, &event); err != nil {
			continue
		}

		switch event.Type {
		case EventPrompt:
			select {
			case c.prompts <- event.Prompt:
			default:
				c.emit(Event{Type: EventError, Error: i18n.Translate("rate limit exceeded")})
			}
		case EventReset:
			if r, ok := c.gateway.(assistant.Resetter); ok {
				r.Reset()
			}
		}
	}
}

// promptLoop answers prompts one at a time so fragments of two replies
// never interleave.
func (c *Client) promptLoop() {
	for {
		select {
		case <-c.ctx.Done():
			return
		case prompt := <-c.prompts:
			err := c.gateway.StreamReply(c.ctx, prompt, func(fragment string) {
				c.emit(Event{Type: EventFragment, Text: fragment})
			})
			if err != nil {
				c.relay.logger.Warn("assistant stream failed", "user_id", c.userID, "error", err)
				metrics.AssistantStream("error")
				c.emit(Event{Type: EventError, Error: clientError(err)})
				continue
			}
			metrics.AssistantStream("done")
			c.emit(Event{Type: EventDone})
		}
	}
}

// clientError hides upstream detail; it stays in the server log.
func clientError(err error) string {
	if errors.Is(err, assistant.ErrMissingAPIKey) {
		return i18n.Translate(assistant.ErrMissingAPIKey.Error())
	}
	return i18n.Translate("assistant connection error")
}

func (c *Client) emit(event Event) {
	select {
	case c.send <- event:
	case <-c.ctx.Done():
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case event := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			data, _ := json.Marshal(event)
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-c.ctx.Done():
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			c.conn.WriteMessage(websocket.CloseMessage, []byte{})
			return
		}
	}
}
