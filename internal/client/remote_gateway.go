package client

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/4xmen/nexchat/internal/ws"
)

const handshakeTimeout = 10 * time.Second

// RemoteGateway streams assistant replies through the server's relay, for
// clients that do not hold a model API key. One connection is kept open so
// the relay keeps the conversation history.
type RemoteGateway struct {
	url    string
	token  func() string
	dialer *websocket.Dialer

	mu sync.Mutex
	rc *relayConn
}

type relayConn struct {
	conn   *websocket.Conn
	events chan ws.Event
	dead   chan struct{}
	quit   chan struct{}
	err    error
}

// NewRemoteGateway targets the relay of the server at serverURL. token is
// read on every dial.
func NewRemoteGateway(serverURL string, token func() string) *RemoteGateway {
	u := strings.TrimRight(serverURL, "/")
	switch {
	case strings.HasPrefix(u, "https://"):
		u = "wss://" + strings.TrimPrefix(u, "https://")
	case strings.HasPrefix(u, "http://"):
		u = "ws://" + strings.TrimPrefix(u, "http://")
	}
	return &RemoteGateway{
		url:    u + "/api/assistant/ws",
		token:  token,
		dialer: &websocket.Dialer{HandshakeTimeout: handshakeTimeout},
	}
}

func (g *RemoteGateway) StreamReply(ctx context.Context, prompt string, onFragment func(string)) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if err := g.connect(ctx); err != nil {
		return err
	}
	rc := g.rc
	if err := rc.conn.WriteJSON(ws.Event{Type: ws.EventPrompt, Prompt: prompt}); err != nil {
		g.drop()
		return fmt.Errorf("assistant relay: %w", err)
	}

	for {
		select {
		case <-ctx.Done():
			// Late fragments would leak into the next reply.
			g.drop()
			return ctx.Err()
		case <-rc.dead:
			g.drop()
			return fmt.Errorf("assistant relay: %w", rc.err)
		case ev := <-rc.events:
			switch ev.Type {
			case ws.EventFragment:
				onFragment(ev.Text)
			case ws.EventDone:
				return nil
			case ws.EventError:
				return fmt.Errorf("assistant relay: %s", ev.Error)
			}
		}
	}
}

// Reset asks the relay to forget the conversation.
func (g *RemoteGateway) Reset() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.rc == nil {
		return
	}
	if err := g.rc.conn.WriteJSON(ws.Event{Type: ws.EventReset}); err != nil {
		g.drop()
	}
}

func (g *RemoteGateway) Close() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.drop()
	return nil
}

func (g *RemoteGateway) connect(ctx context.Context) error {
	if g.rc != nil {
		select {
		case <-g.rc.dead:
			g.drop()
		default:
			return nil
		}
	}

	header := http.Header{}
	if g.token != nil {
		if token := g.token(); token != "" {
			header.Set("Authorization", "Bearer "+token)
		}
	}
	conn, resp, err := g.dialer.DialContext(ctx, g.url, header)
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusUnauthorized {
			return errors.New("assistant relay: unauthorized")
		}
		return fmt.Errorf("assistant relay: %w", err)
	}

	g.rc = &relayConn{
		conn:   conn,
		events: make(chan ws.Event, 64),
		dead:   make(chan struct{}),
		quit:   make(chan struct{}),
	}
	go g.rc.readLoop()
	return nil
}

// readLoop keeps reading so pings from the relay are answered between
// replies.
func (rc *relayConn) readLoop() {
	defer close(rc.dead)
	for {
		var ev ws.Event
		if err := rc.conn.ReadJSON(&ev); err != nil {
			rc.err = err
			return
		}
		select {
		case rc.events <- ev:
		case <-rc.quit:
			return
		}
	}
}

func (g *RemoteGateway) drop() {
	if g.rc != nil {
		close(g.rc.quit)
		g.rc.conn.Close()
	}
	g.rc = nil
}
