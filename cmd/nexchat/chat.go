package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/spf13/cobra"

	"github.com/4xmen/nexchat/internal/assistant"
	"github.com/4xmen/nexchat/internal/client"
	"github.com/4xmen/nexchat/internal/models"
	"github.com/4xmen/nexchat/pkg/config"
)

type chatOptions struct {
	ConfigPath string
	ServerURL  string
	Username   string
	Password   string
	FullName   string
	Register   bool
}

func chatCmd() *cobra.Command {
	opts := chatOptions{}
	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Start the terminal chat client",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runChat(cmd.Context(), cmd.InOrStdin(), cmd.OutOrStdout(), opts)
		},
	}
	cmd.Flags().StringVarP(&opts.ConfigPath, "config", "c", "nexchat-client.yaml", "client config file")
	cmd.Flags().StringVar(&opts.ServerURL, "server", "", "server URL (overrides config)")
	cmd.Flags().StringVarP(&opts.Username, "username", "u", "", "username")
	cmd.Flags().StringVarP(&opts.Password, "password", "p", "", "password")
	cmd.Flags().BoolVar(&opts.Register, "register", false, "create the account before logging in")
	cmd.Flags().StringVar(&opts.FullName, "name", "", "display name used with --register")
	_ = cmd.MarkFlagRequired("username")
	_ = cmd.MarkFlagRequired("password")
	return cmd
}

func runChat(ctx context.Context, in io.Reader, out io.Writer, opts chatOptions) error {
	cfg, err := config.LoadClient(opts.ConfigPath)
	if err != nil {
		return err
	}
	if opts.ServerURL != "" {
		cfg.ServerURL = opts.ServerURL
	}

	api := client.NewAPI(cfg.ServerURL)

	var user *models.User
	if opts.Register {
		name := opts.FullName
		if name == "" {
			name = opts.Username
		}
		user, err = api.Register(ctx, client.RegisterRequest{
			Username: opts.Username,
			Password: opts.Password,
			FullName: name,
		})
	} else {
		user, err = api.Login(ctx, opts.Username, opts.Password)
	}
	if err != nil {
		return fmt.Errorf("login failed: %w", err)
	}

	term := &terminal{out: out, api: api, printed: make(map[string]bool), streamed: make(map[string]int)}

	engine := client.NewEngine(*user, client.EngineConfig{
		Store:        api,
		Notifier:     client.LogNotifier{Logger: logger},
		DemoFallback: cfg.DemoFallback,
		Logger:       logger,
	})
	session := client.NewSession(*user, api, engine, client.SessionConfig{
		ChannelPollInterval: cfg.ChannelPollInterval,
		MessagePollInterval: cfg.MessagePollInterval,
		OnUpdate:            term.onUpdate,
		Logger:              logger,
	})
	gateway := newClientGateway(cfg, api)
	term.session = session
	term.controller = client.NewController(session, client.ControllerConfig{
		Gateway: gateway,
		Logger:  logger,
	})

	defer func() {
		session.Close()
		if c, ok := gateway.(io.Closer); ok {
			_ = c.Close()
		}
		logoutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := api.Logout(logoutCtx); err != nil {
			logger.Warn("logout failed", "error", err)
		}
	}()

	fmt.Fprintf(out, "Logged in as %s (@%s). Type /help for commands.\n", user.Name, user.Username)
	session.Start(ctx)
	session.SelectChannel(ctx, models.AssistantChannelID)

	done := make(chan error, 1)
	go func() { done <- term.readLoop(ctx, in) }()

	select {
	case <-ctx.Done():
		return nil
	case err := <-done:
		return err
	}
}

func newClientGateway(cfg *config.ClientConfig, api *client.API) assistant.Gateway {
	if cfg.Assistant.Mode == config.AssistantModeDirect {
		return assistant.NewGemini(assistant.GeminiConfig{
			APIKey:  cfg.Assistant.APIKey,
			Model:   cfg.Assistant.Model,
			APIBase: cfg.Assistant.APIBase,
			Logger:  logger,
		})
	}
	return client.NewRemoteGateway(cfg.ServerURL, api.Token)
}

// echoWindow bounds the clock skew between a provisional message and its
// stored copy.
const echoWindow = 2 * time.Minute

// terminal renders session updates as plain lines.
type terminal struct {
	out        io.Writer
	api        *client.API
	session    *client.Session
	controller *client.Controller

	mu       sync.Mutex
	printed  map[string]bool
	streamed map[string]int
	// provisional messages already shown and still waiting for their
	// stored copy
	unconfirmed []models.Message
}

func (t *terminal) onUpdate(u client.Update) {
	if t.session == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	switch u.Kind {
	case client.UpdateMessages:
		for _, m := range t.session.Messages() {
			if t.printed[m.ID] || m.IsStreaming {
				continue
			}
			t.printed[m.ID] = true
			if t.confirm(m) {
				continue
			}
			if strings.HasPrefix(m.ID, client.LocalIDPrefix) && m.ChannelID != models.AssistantChannelID {
				t.unconfirmed = append(t.unconfirmed, m)
			}
			fmt.Fprintln(t.out, formatMessage(m))
		}
	case client.UpdateStream:
		for _, m := range t.session.Messages() {
			if m.ID != u.MessageID {
				continue
			}
			t.printStream(m, u.State)
		}
	}
}

// confirm reports whether m is the stored copy of a provisional message that
// was already printed, and forgets that provisional message.
func (t *terminal) confirm(m models.Message) bool {
	if m.SenderType != models.SenderUser || strings.HasPrefix(m.ID, client.LocalIDPrefix) {
		return false
	}
	for i, local := range t.unconfirmed {
		if local.ChannelID != m.ChannelID || local.Content != m.Content || fileName(local) != fileName(m) {
			continue
		}
		skew := time.Duration(m.Timestamp-local.Timestamp) * time.Millisecond
		if skew < -echoWindow || skew > echoWindow {
			continue
		}
		t.unconfirmed = append(t.unconfirmed[:i], t.unconfirmed[i+1:]...)
		return true
	}
	return false
}

func fileName(m models.Message) string {
	if m.FileName == nil {
		return ""
	}
	return *m.FileName
}

func (t *terminal) printStream(m models.Message, state client.StreamState) {
	shown := t.streamed[m.ID]
	if shown == 0 && !t.printed[m.ID] {
		fmt.Fprint(t.out, "[AI] ")
		t.printed[m.ID] = true
	}
	switch state {
	case client.StreamStreaming, client.StreamComplete:
		if len(m.Content) > shown {
			fmt.Fprint(t.out, m.Content[shown:])
			t.streamed[m.ID] = len(m.Content)
		}
		if state == client.StreamComplete {
			fmt.Fprintln(t.out)
		}
	case client.StreamError:
		if shown > 0 {
			fmt.Fprintln(t.out)
		}
		fmt.Fprintln(t.out, m.Content)
	}
}

func formatMessage(m models.Message) string {
	ts := time.UnixMilli(m.Timestamp).Format("15:04")
	who := m.SenderID
	switch m.SenderType {
	case models.SenderUser:
		who = "you"
	case models.SenderAssistant:
		who = "AI"
	}
	content := m.Content
	if m.FileName != nil {
		content = strings.TrimSpace(fmt.Sprintf("[File: %s] %s", *m.FileName, m.Content))
	}
	return fmt.Sprintf("%s [%s] %s", ts, who, content)
}

func (t *terminal) readLoop(ctx context.Context, in io.Reader) error {
	scanner := bufio.NewScanner(in)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if quit := t.handleLine(ctx, line); quit {
			return nil
		}
	}
	return scanner.Err()
}

func (t *terminal) handleLine(ctx context.Context, line string) bool {
	if !strings.HasPrefix(line, "/") {
		if !t.controller.ComposerEnabled() {
			fmt.Fprintln(t.out, "assistant is still replying")
			return false
		}
		t.send(ctx, line, nil)
		return false
	}

	cmd, rest, _ := strings.Cut(line, " ")
	rest = strings.TrimSpace(rest)
	user := t.session.User()

	switch cmd {
	case "/quit", "/exit":
		return true
	case "/help":
		fmt.Fprintln(t.out, "/channels  /open <id>  /file <name> <text>  /search <q>  /add <userId>  /requests  /accept <id>  /reject <id>  /quit")
	case "/channels":
		active := t.session.ActiveChannelID()
		for _, ch := range t.session.Channels() {
			marker := " "
			if ch.ID == active {
				marker = "*"
			}
			fmt.Fprintf(t.out, "%s %-40s %s  %s\n", marker, ch.ID, ch.Name, ch.LastMessage)
		}
	case "/open":
		if rest == "" {
			fmt.Fprintln(t.out, "usage: /open <channel id>")
			return false
		}
		t.mu.Lock()
		t.printed = make(map[string]bool)
		t.streamed = make(map[string]int)
		t.unconfirmed = nil
		t.mu.Unlock()
		t.session.SelectChannel(ctx, rest)
	case "/file":
		name, text, _ := strings.Cut(rest, " ")
		if name == "" {
			fmt.Fprintln(t.out, "usage: /file <name> <text>")
			return false
		}
		t.send(ctx, strings.TrimSpace(text), &client.Attachment{Name: name})
	case "/search":
		results, err := t.api.SearchUsers(ctx, rest, user.ID)
		if err != nil {
			fmt.Fprintf(t.out, "search failed: %v\n", err)
			return false
		}
		for _, r := range results {
			fmt.Fprintf(t.out, "%5d  %-20s %-24s %s\n", r.ID, r.Username, r.Name, r.Relationship)
		}
	case "/add":
		id, err := strconv.Atoi(rest)
		if err != nil {
			fmt.Fprintln(t.out, "usage: /add <user id>")
			return false
		}
		if err := t.api.SendFriendRequest(ctx, user.ID, id); err != nil {
			fmt.Fprintf(t.out, "request failed: %v\n", err)
		}
	case "/requests":
		requests, err := t.api.PendingRequests(ctx, user.ID)
		if err != nil {
			fmt.Fprintf(t.out, "failed to load requests: %v\n", err)
			return false
		}
		for _, r := range requests {
			fmt.Fprintf(t.out, "%5d  from %s\n", r.ID, r.SenderName)
		}
	case "/accept", "/reject":
		id, err := strconv.Atoi(rest)
		if err != nil {
			fmt.Fprintf(t.out, "usage: %s <request id>\n", cmd)
			return false
		}
		if cmd == "/accept" {
			err = t.api.AcceptRequest(ctx, id)
		} else {
			err = t.api.RejectRequest(ctx, id)
		}
		if err != nil {
			fmt.Fprintf(t.out, "%s failed: %v\n", strings.TrimPrefix(cmd, "/"), err)
		}
	default:
		fmt.Fprintf(t.out, "unknown command %s\n", cmd)
	}
	return false
}

func (t *terminal) send(ctx context.Context, text string, att *client.Attachment) {
	if err := t.controller.SendMessage(ctx, text, att); err != nil {
		fmt.Fprintln(t.out, err)
	}
}
