package client

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/4xmen/nexchat/internal/models"
)

var errOffline = errors.New("connection refused")

type fakeStore struct {
	mu sync.Mutex

	channels    []models.Channel
	channelsErr error
	messages    map[string][]models.Message
	messagesErr error
	// gates block Messages for a channel until closed.
	gates map[string]chan struct{}

	channelCalls int
	messageCalls map[string]int
	created      []CreateMessageRequest
	createErr    error
	onCreate     func(CreateMessageRequest)
	ensured      [][2]int
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		messages:     make(map[string][]models.Message),
		gates:        make(map[string]chan struct{}),
		messageCalls: make(map[string]int),
	}
}

func (f *fakeStore) setChannels(channels []models.Channel) {
	f.mu.Lock()
	f.channels = channels
	f.mu.Unlock()
}

func (f *fakeStore) Channels(ctx context.Context, userID int) ([]models.Channel, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.channelCalls++
	if f.channelsErr != nil {
		return nil, f.channelsErr
	}
	return append([]models.Channel(nil), f.channels...), nil
}

func (f *fakeStore) Messages(ctx context.Context, channelID string) ([]models.Message, error) {
	f.mu.Lock()
	f.messageCalls[channelID]++
	gate := f.gates[channelID]
	f.mu.Unlock()

	if gate != nil {
		<-gate
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.messagesErr != nil {
		return nil, f.messagesErr
	}
	return append([]models.Message(nil), f.messages[channelID]...), nil
}

func (f *fakeStore) CreateMessage(ctx context.Context, req CreateMessageRequest) (*models.Message, error) {
	if f.onCreate != nil {
		f.onCreate(req)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.created = append(f.created, req)
	if f.createErr != nil {
		return nil, f.createErr
	}
	return &models.Message{ID: "1", ChannelID: req.ChannelID, Content: req.Content}, nil
}

func (f *fakeStore) EnsureDirect(ctx context.Context, user1ID, user2ID int) (*models.Channel, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ensured = append(f.ensured, [2]int{user1ID, user2ID})
	return &models.Channel{ID: "dm", Type: models.ChannelDirect}, nil
}

type recordingNotifier struct {
	mu   sync.Mutex
	sent []Notification
}

func (r *recordingNotifier) Notify(ctx context.Context, n Notification) {
	r.mu.Lock()
	r.sent = append(r.sent, n)
	r.mu.Unlock()
}

func (r *recordingNotifier) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sent)
}

type fakeGateway struct {
	mu        sync.Mutex
	prompts   []string
	fragments []string
	err       error
	// during runs after every fragment is delivered.
	during func()
}

func (f *fakeGateway) StreamReply(ctx context.Context, prompt string, onFragment func(string)) error {
	f.mu.Lock()
	f.prompts = append(f.prompts, prompt)
	f.mu.Unlock()
	for _, frag := range f.fragments {
		onFragment(frag)
		if f.during != nil {
			f.during()
		}
	}
	return f.err
}

var testUser = models.User{ID: 1, Username: "lan", Name: "Lan"}

type updateLog struct {
	mu      sync.Mutex
	updates []Update
	kinds   chan UpdateKind
}

func newUpdateLog() *updateLog {
	return &updateLog{kinds: make(chan UpdateKind, 256)}
}

func (l *updateLog) record(u Update) {
	l.mu.Lock()
	l.updates = append(l.updates, u)
	l.mu.Unlock()
	select {
	case l.kinds <- u.Kind:
	default:
	}
}

func (l *updateLog) wait(t *testing.T, kind UpdateKind) {
	t.Helper()
	timeout := time.After(2 * time.Second)
	for {
		select {
		case k := <-l.kinds:
			if k == kind {
				return
			}
		case <-timeout:
			t.Fatalf("timed out waiting for update %d", kind)
		}
	}
}

func newTestSession(t *testing.T, store *fakeStore, log *updateLog) *Session {
	t.Helper()
	engine := NewEngine(testUser, EngineConfig{Store: store, Notifier: &recordingNotifier{}})
	s := NewSession(testUser, store, engine, SessionConfig{
		ChannelPollInterval: time.Hour,
		MessagePollInterval: time.Hour,
		OnUpdate:            log.record,
	})
	t.Cleanup(s.Close)
	return s
}

func openChannel(t *testing.T, s *Session, log *updateLog, channelID string) {
	t.Helper()
	s.SelectChannel(context.Background(), channelID)
	log.wait(t, UpdateMessages)
	require.Equal(t, channelID, s.ActiveChannelID())
}
