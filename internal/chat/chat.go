// Package chat stores channels, memberships and messages.
package chat

import (
	"context"
	"crypto/md5"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/4xmen/nexchat/internal/models"
)

const (
	EmptyChannelPreview = "Chưa có tin nhắn"
	NewFriendPreview    = "Các bạn đã trở thành bạn bè"
)

var (
	ErrAssistantChannel  = errors.New("assistant messages are not stored")
	ErrEmptyMessage      = errors.New("message content is required")
	ErrInvalidType       = errors.New("invalid message type")
	ErrInvalidSenderType = errors.New("invalid sender type")
	ErrNotMember         = errors.New("not a channel member")
	ErrChannelNotFound   = errors.New("channel not found")
	ErrSelfChannel       = errors.New("cannot create a channel with yourself")
	ErrUserNotFound      = errors.New("user not found")
)

type Service struct {
	db  *sql.DB
	now func() time.Time
}

func New(db *sql.DB) *Service {
	return &Service{db: db, now: time.Now}
}

// DirectChannelID returns the id shared by both orderings of a user pair.
func DirectChannelID(a, b int) string {
	lo, hi := a, b
	if lo > hi {
		lo, hi = hi, lo
	}
	sum := md5.Sum([]byte(fmt.Sprintf("%d_%d", lo, hi)))
	return "dm_" + hex.EncodeToString(sum[:])
}

// EnsureDirectChannel creates the direct channel between a and b if needed.
// The returned channel is described from a's point of view.
func (s *Service) EnsureDirectChannel(ctx context.Context, a, b int) (*models.Channel, error) {
	if a == b {
		return nil, ErrSelfChannel
	}

	other, err := s.profile(ctx, b)
	if err != nil {
		return nil, err
	}
	if _, err := s.profile(ctx, a); err != nil {
		return nil, err
	}

	id := DirectChannelID(a, b)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to start transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		"INSERT OR IGNORE INTO channels (id, name, type) VALUES (?, ?, ?)",
		id, other.name, models.ChannelDirect,
	); err != nil {
		return nil, fmt.Errorf("failed to create channel: %w", err)
	}
	for _, uid := range []int{a, b} {
		if _, err := tx.ExecContext(ctx,
			"INSERT OR IGNORE INTO channel_members (channel_id, user_id) VALUES (?, ?)",
			id, uid,
		); err != nil {
			return nil, fmt.Errorf("failed to add channel member: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to create channel: %w", err)
	}

	friend, err := s.areFriends(ctx, a, b)
	if err != nil {
		return nil, err
	}
	otherID := b
	return &models.Channel{
		ID:          id,
		Name:        other.name,
		Type:        models.ChannelDirect,
		Avatar:      other.avatar,
		IsFriend:    friend,
		OtherUserID: &otherID,
	}, nil
}

type userProfile struct {
	id     int
	name   string
	avatar string
}

func (s *Service) profile(ctx context.Context, userID int) (userProfile, error) {
	var (
		p      userProfile
		avatar sql.NullString
	)
	err := s.db.QueryRowContext(ctx,
		"SELECT id, full_name, avatar_url FROM users WHERE id = ?", userID,
	).Scan(&p.id, &p.name, &avatar)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return p, ErrUserNotFound
		}
		return p, fmt.Errorf("failed to query user: %w", err)
	}
	var stored *string
	if avatar.Valid {
		stored = &avatar.String
	}
	p.avatar = models.AvatarURL(stored, p.name)
	return p, nil
}

func (s *Service) areFriends(ctx context.Context, a, b int) (bool, error) {
	lo, hi := a, b
	if lo > hi {
		lo, hi = hi, lo
	}
	var exists bool
	err := s.db.QueryRowContext(ctx,
		"SELECT EXISTS(SELECT 1 FROM friendships WHERE user_id_1 = ? AND user_id_2 = ?)", lo, hi,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check friendship: %w", err)
	}
	return exists, nil
}

// ChannelsForUser lists the user's channels with last-message previews.
// Friends without a direct channel yet are listed with a synthesized entry,
// and the assistant channel is always first.
func (s *Service) ChannelsForUser(ctx context.Context, userID int) ([]models.Channel, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT c.id, c.name, c.type, c.avatar_url
		FROM channels c
		JOIN channel_members cm ON cm.channel_id = c.id
		WHERE cm.user_id = ?
		ORDER BY c.created_at, c.id
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch channels: %w", err)
	}

	channels := make([]models.Channel, 0)
	for rows.Next() {
		var (
			ch     models.Channel
			avatar sql.NullString
		)
		if err := rows.Scan(&ch.ID, &ch.Name, &ch.Type, &avatar); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan channel: %w", err)
		}
		if avatar.Valid {
			ch.Avatar = avatar.String
		}
		channels = append(channels, ch)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, fmt.Errorf("failed to fetch channels: %w", err)
	}
	rows.Close()

	existing := make(map[string]struct{}, len(channels))
	for i := range channels {
		ch := &channels[i]
		existing[ch.ID] = struct{}{}

		if err := s.fillPreview(ctx, ch); err != nil {
			return nil, err
		}
		if ch.Type == models.ChannelDirect {
			if err := s.fillDirect(ctx, ch, userID); err != nil {
				return nil, err
			}
		}
	}

	friends, err := s.friendsOf(ctx, userID)
	if err != nil {
		return nil, err
	}
	for _, f := range friends {
		id := DirectChannelID(userID, f.id)
		if _, ok := existing[id]; ok {
			continue
		}
		otherID := f.id
		channels = append(channels, models.Channel{
			ID:          id,
			Name:        f.name,
			Type:        models.ChannelDirect,
			LastMessage: NewFriendPreview,
			Avatar:      f.avatar,
			IsFriend:    true,
			OtherUserID: &otherID,
		})
	}

	hasAssistant := false
	for _, ch := range channels {
		if ch.Type == models.ChannelAssistant {
			hasAssistant = true
			break
		}
	}
	if !hasAssistant {
		channels = append([]models.Channel{models.AssistantChannel()}, channels...)
	}

	return channels, nil
}

func (s *Service) fillPreview(ctx context.Context, ch *models.Channel) error {
	var (
		content  string
		ts       int64
		sender   string
		fileName sql.NullString
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT content, timestamp, sender_id, file_name FROM messages
		WHERE channel_id = ?
		ORDER BY timestamp DESC, id DESC
		LIMIT 1
	`, ch.ID).Scan(&content, &ts, &sender, &fileName)
	if errors.Is(err, sql.ErrNoRows) {
		ch.LastMessage = EmptyChannelPreview
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to fetch last message: %w", err)
	}
	if content == "" && fileName.Valid {
		content = fileName.String
	}
	ch.LastMessage = content
	ch.LastMessageTime = ts
	ch.LastMessageSender = sender
	return nil
}

func (s *Service) fillDirect(ctx context.Context, ch *models.Channel, userID int) error {
	var otherID int
	err := s.db.QueryRowContext(ctx, `
		SELECT user_id FROM channel_members
		WHERE channel_id = ? AND user_id != ?
		LIMIT 1
	`, ch.ID, userID).Scan(&otherID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to fetch channel member: %w", err)
	}

	other, err := s.profile(ctx, otherID)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return nil
		}
		return err
	}
	friend, err := s.areFriends(ctx, userID, otherID)
	if err != nil {
		return err
	}
	ch.Name = other.name
	ch.Avatar = other.avatar
	ch.IsFriend = friend
	ch.OtherUserID = &otherID
	return nil
}

func (s *Service) friendsOf(ctx context.Context, userID int) ([]userProfile, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT u.id, u.full_name, u.avatar_url
		FROM friendships f
		JOIN users u ON u.id = CASE WHEN f.user_id_1 = ? THEN f.user_id_2 ELSE f.user_id_1 END
		WHERE f.user_id_1 = ? OR f.user_id_2 = ?
		ORDER BY u.id
	`, userID, userID, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch friends: %w", err)
	}
	defer rows.Close()

	var friends []userProfile
	for rows.Next() {
		var (
			p      userProfile
			avatar sql.NullString
		)
		if err := rows.Scan(&p.id, &p.name, &avatar); err != nil {
			return nil, fmt.Errorf("failed to scan friend: %w", err)
		}
		var stored *string
		if avatar.Valid {
			stored = &avatar.String
		}
		p.avatar = models.AvatarURL(stored, p.name)
		friends = append(friends, p)
	}
	return friends, rows.Err()
}

// IsMember reports whether userID belongs to channelID.
func (s *Service) IsMember(ctx context.Context, channelID string, userID int) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx,
		"SELECT EXISTS(SELECT 1 FROM channel_members WHERE channel_id = ? AND user_id = ?)",
		channelID, userID,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check membership: %w", err)
	}
	return exists, nil
}

// Messages returns a channel's messages oldest first.
func (s *Service) Messages(ctx context.Context, channelID string) ([]models.Message, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, channel_id, sender_id, sender_type, content, file_name, timestamp, type
		FROM messages
		WHERE channel_id = ?
		ORDER BY timestamp ASC, id ASC
	`, channelID)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch messages: %w", err)
	}
	defer rows.Close()

	messages := make([]models.Message, 0)
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		messages = append(messages, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to fetch messages: %w", err)
	}
	return messages, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanMessage(row scanner) (models.Message, error) {
	var (
		msg      models.Message
		id       int64
		fileName sql.NullString
	)
	if err := row.Scan(&id, &msg.ChannelID, &msg.SenderID, &msg.SenderType, &msg.Content, &fileName, &msg.Timestamp, &msg.Type); err != nil {
		return msg, fmt.Errorf("failed to scan message: %w", err)
	}
	msg.ID = strconv.FormatInt(id, 10)
	if fileName.Valid {
		msg.FileName = &fileName.String
	}
	return msg, nil
}

type MessageInput struct {
	ChannelID  string
	SenderID   int
	SenderType string
	Content    string
	Type       string
	FileName   string
}

// CreateMessage persists a message stamped with the server clock.
func (s *Service) CreateMessage(ctx context.Context, in MessageInput) (*models.Message, error) {
	if in.ChannelID == models.AssistantChannelID {
		return nil, ErrAssistantChannel
	}
	if in.Type == "" {
		in.Type = models.MessageText
		if in.FileName != "" {
			in.Type = models.MessageFile
		}
	}
	if !models.ValidMessageType(in.Type) {
		return nil, ErrInvalidType
	}
	switch in.SenderType {
	case "":
		in.SenderType = models.SenderUser
	case models.SenderUser, models.SenderOther:
	default:
		return nil, ErrInvalidSenderType
	}
	in.FileName = strings.TrimSpace(in.FileName)
	if strings.TrimSpace(in.Content) == "" && in.FileName == "" {
		return nil, ErrEmptyMessage
	}

	var channelExists bool
	if err := s.db.QueryRowContext(ctx,
		"SELECT EXISTS(SELECT 1 FROM channels WHERE id = ?)", in.ChannelID,
	).Scan(&channelExists); err != nil {
		return nil, fmt.Errorf("failed to create message: %w", err)
	}
	if !channelExists {
		return nil, ErrChannelNotFound
	}

	member, err := s.IsMember(ctx, in.ChannelID, in.SenderID)
	if err != nil {
		return nil, err
	}
	if !member {
		return nil, ErrNotMember
	}

	var fileName any
	if in.FileName != "" {
		fileName = in.FileName
	}

	row := s.db.QueryRowContext(ctx, `
		INSERT INTO messages (channel_id, sender_id, sender_type, content, file_name, timestamp, type)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		RETURNING id, channel_id, sender_id, sender_type, content, file_name, timestamp, type
	`, in.ChannelID, strconv.Itoa(in.SenderID), in.SenderType, in.Content, fileName, s.now().UnixMilli(), in.Type)

	msg, err := scanMessage(row)
	if err != nil {
		return nil, fmt.Errorf("failed to create message: %w", err)
	}
	return &msg, nil
}
