package friends

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/4xmen/nexchat/internal/models"
)

// SearchLimit caps the number of users returned by Search.
const SearchLimit = 10

var (
	ErrSelfRequest     = errors.New("cannot send a friend request to yourself")
	ErrRequestNotFound = errors.New("friend request not found")
	ErrNotReceiver     = errors.New("only the receiver can answer a request")
	ErrUserNotFound    = errors.New("user not found")
	ErrRequestAnswered = errors.New("friend request already answered")
)

type Service struct {
	db *sql.DB
}

func New(db *sql.DB) *Service {
	return &Service{db: db}
}

func canonicalPair(a, b int) (int, int) {
	if a > b {
		return b, a
	}
	return a, b
}

// Search finds users by username, phone number or full name and tags each
// with the caller's relationship to them.
func (s *Service) Search(ctx context.Context, query string, currentUserID int) ([]models.SearchResult, error) {
	results := make([]models.SearchResult, 0)
	query = strings.TrimSpace(query)
	if query == "" {
		return results, nil
	}

	pattern := "%" + strings.ToLower(query) + "%"
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, username, full_name, phone_number, avatar_url
		FROM users
		WHERE (LOWER(username) LIKE ? OR LOWER(COALESCE(phone_number, '')) LIKE ? OR LOWER(full_name) LIKE ?)
		  AND id != ?
		ORDER BY id
		LIMIT ?
	`, pattern, pattern, pattern, currentUserID, SearchLimit)
	if err != nil {
		return nil, fmt.Errorf("failed to search users: %w", err)
	}

	for rows.Next() {
		var (
			r      models.SearchResult
			phone  sql.NullString
			avatar sql.NullString
		)
		if err := rows.Scan(&r.ID, &r.Username, &r.Name, &phone, &avatar); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan user: %w", err)
		}
		if phone.Valid {
			r.PhoneNumber = &phone.String
		}
		var stored *string
		if avatar.Valid {
			stored = &avatar.String
		}
		r.Avatar = models.AvatarURL(stored, r.Name)
		results = append(results, r)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, fmt.Errorf("failed to search users: %w", err)
	}
	rows.Close()

	for i := range results {
		rel, err := s.Relationship(ctx, currentUserID, results[i].ID)
		if err != nil {
			return nil, err
		}
		results[i].Relationship = rel
	}
	return results, nil
}

// Relationship reports how other relates to user. Friendship wins over a
// pending request in either direction.
func (s *Service) Relationship(ctx context.Context, user, other int) (string, error) {
	lo, hi := canonicalPair(user, other)

	checks := []struct {
		rel   string
		query string
		args  []any
	}{
		{models.RelationshipFriend, "SELECT EXISTS(SELECT 1 FROM friendships WHERE user_id_1 = ? AND user_id_2 = ?)", []any{lo, hi}},
		{models.RelationshipSent, "SELECT EXISTS(SELECT 1 FROM friend_requests WHERE sender_id = ? AND receiver_id = ? AND status = 'pending')", []any{user, other}},
		{models.RelationshipReceived, "SELECT EXISTS(SELECT 1 FROM friend_requests WHERE sender_id = ? AND receiver_id = ? AND status = 'pending')", []any{other, user}},
	}

	for _, c := range checks {
		var exists bool
		if err := s.db.QueryRowContext(ctx, c.query, c.args...).Scan(&exists); err != nil {
			return "", fmt.Errorf("failed to check relationship: %w", err)
		}
		if exists {
			return c.rel, nil
		}
	}
	return models.RelationshipNone, nil
}

// SendRequest records a pending request. Repeating it is a no-op.
func (s *Service) SendRequest(ctx context.Context, senderID, receiverID int) error {
	if senderID == receiverID {
		return ErrSelfRequest
	}

	var exists bool
	if err := s.db.QueryRowContext(ctx,
		"SELECT EXISTS(SELECT 1 FROM users WHERE id = ?)", receiverID,
	).Scan(&exists); err != nil {
		return fmt.Errorf("failed to send friend request: %w", err)
	}
	if !exists {
		return ErrUserNotFound
	}

	if _, err := s.db.ExecContext(ctx,
		"INSERT OR IGNORE INTO friend_requests (sender_id, receiver_id, status) VALUES (?, ?, 'pending')",
		senderID, receiverID,
	); err != nil {
		return fmt.Errorf("failed to send friend request: %w", err)
	}
	return nil
}

// PendingRequests lists requests waiting for userID's answer, newest first.
func (s *Service) PendingRequests(ctx context.Context, userID int) ([]models.FriendRequest, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT fr.id, fr.sender_id, fr.receiver_id, fr.status, fr.created_at, u.full_name, u.avatar_url
		FROM friend_requests fr
		JOIN users u ON u.id = fr.sender_id
		WHERE fr.receiver_id = ? AND fr.status = 'pending'
		ORDER BY fr.created_at DESC, fr.id DESC
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch friend requests: %w", err)
	}
	defer rows.Close()

	requests := make([]models.FriendRequest, 0)
	for rows.Next() {
		var (
			r      models.FriendRequest
			avatar sql.NullString
		)
		if err := rows.Scan(&r.ID, &r.SenderID, &r.ReceiverID, &r.Status, &r.CreatedAt, &r.SenderName, &avatar); err != nil {
			return nil, fmt.Errorf("failed to scan friend request: %w", err)
		}
		var stored *string
		if avatar.Valid {
			stored = &avatar.String
		}
		r.SenderAvatar = models.AvatarURL(stored, r.SenderName)
		requests = append(requests, r)
	}
	return requests, rows.Err()
}

// Accept marks the request accepted and records the friendship in one
// transaction. Only the receiver may accept; accepting twice is harmless,
// accepting a rejected request is ErrRequestAnswered.
func (s *Service) Accept(ctx context.Context, requestID, actingUserID int) (*models.Friendship, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to start transaction: %w", err)
	}
	defer tx.Rollback()

	req, err := lookupRequest(ctx, tx, requestID)
	if err != nil {
		return nil, err
	}
	if req.ReceiverID != actingUserID {
		return nil, ErrNotReceiver
	}
	if req.Status == models.RequestRejected {
		return nil, ErrRequestAnswered
	}

	if _, err := tx.ExecContext(ctx,
		"UPDATE friend_requests SET status = 'accepted' WHERE id = ?", requestID,
	); err != nil {
		return nil, fmt.Errorf("failed to update friend request: %w", err)
	}

	lo, hi := canonicalPair(req.SenderID, req.ReceiverID)
	if _, err := tx.ExecContext(ctx,
		"INSERT OR IGNORE INTO friendships (user_id_1, user_id_2) VALUES (?, ?)", lo, hi,
	); err != nil {
		return nil, fmt.Errorf("failed to create friendship: %w", err)
	}

	var f models.Friendship
	if err := tx.QueryRowContext(ctx,
		"SELECT user_id_1, user_id_2, created_at FROM friendships WHERE user_id_1 = ? AND user_id_2 = ?", lo, hi,
	).Scan(&f.UserID1, &f.UserID2, &f.CreatedAt); err != nil {
		return nil, fmt.Errorf("failed to read friendship: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit friendship: %w", err)
	}
	return &f, nil
}

// Reject marks a pending request rejected. Only the receiver may reject;
// rejecting an accepted request is ErrRequestAnswered.
func (s *Service) Reject(ctx context.Context, requestID, actingUserID int) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to start transaction: %w", err)
	}
	defer tx.Rollback()

	req, err := lookupRequest(ctx, tx, requestID)
	if err != nil {
		return err
	}
	if req.ReceiverID != actingUserID {
		return ErrNotReceiver
	}
	if req.Status == models.RequestAccepted {
		return ErrRequestAnswered
	}

	if _, err := tx.ExecContext(ctx,
		"UPDATE friend_requests SET status = 'rejected' WHERE id = ? AND status = 'pending'", requestID,
	); err != nil {
		return fmt.Errorf("failed to update friend request: %w", err)
	}
	return tx.Commit()
}

func lookupRequest(ctx context.Context, tx *sql.Tx, requestID int) (models.FriendRequest, error) {
	r := models.FriendRequest{ID: requestID}
	err := tx.QueryRowContext(ctx,
		"SELECT sender_id, receiver_id, status FROM friend_requests WHERE id = ?", requestID,
	).Scan(&r.SenderID, &r.ReceiverID, &r.Status)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return r, ErrRequestNotFound
		}
		return r, fmt.Errorf("failed to fetch friend request: %w", err)
	}
	return r, nil
}
