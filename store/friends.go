package store

import (
	"database/sql"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// Friend request states. A request leaves pending exactly once.
const (
	RequestPending  = "pending"
	RequestAccepted = "accepted"
	RequestRejected = "rejected"
)

// FriendRequest is a pending, accepted or rejected befriending attempt
// between two accounts.
type FriendRequest struct {
	ID          string `db:"id" json:"id"`
	FromAccount string `db:"from_account" json:"from_wx_account"`
	ToAccount   string `db:"to_account" json:"to_wx_account"`
	Message     string `db:"message" json:"message"`
	Status      string `db:"status" json:"status"`
	CreatedAt   int64  `db:"created_at" json:"created_at"`
	UpdatedAt   int64  `db:"updated_at" json:"updated_at"`
}

// NormalizePair orders an unordered account pair so that the symmetric
// friendship relation collapses onto a single unique key.
func NormalizePair(a, b string) (string, string) {
	if strings.ToLower(a) > strings.ToLower(b) {
		return b, a
	}
	return a, b
}

// CreateFriendship inserts the symmetric relation idempotently: inserting
// an existing pair is not an error.
func (s *Store) CreateFriendship(a, b string) error {
	pa, pb := NormalizePair(a, b)
	_, err := s.db.Exec(
		`INSERT INTO friendships (id, account_a, account_b, created_at) VALUES (?, ?, ?, ?)`,
		uuid.NewString(), pa, pb, NowMillis())
	if err != nil {
		if isDuplicate(err) {
			return nil
		}
		return fmt.Errorf("error creating friendship: %w", err)
	}
	return nil
}

// AreFriends reports whether the unordered pair is related.
func (s *Store) AreFriends(a, b string) (bool, error) {
	pa, pb := NormalizePair(a, b)
	var n int
	err := s.db.Get(&n,
		`SELECT COUNT(*) FROM friendships WHERE account_a = ? AND account_b = ?`, pa, pb)
	if err != nil {
		return false, fmt.Errorf("error checking friendship: %w", err)
	}
	return n > 0, nil
}

// CreateFriendRequest records a new pending request.
func (s *Store) CreateFriendRequest(from, to, message string) (*FriendRequest, error) {
	now := NowMillis()
	r := &FriendRequest{
		ID:          uuid.NewString(),
		FromAccount: from,
		ToAccount:   to,
		Message:     message,
		Status:      RequestPending,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	_, err := s.db.Exec(
		`INSERT INTO friend_requests (id, from_account, to_account, message, status, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.FromAccount, r.ToAccount, r.Message, r.Status, r.CreatedAt, r.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("error creating friend request: %w", err)
	}
	return r, nil
}

// FriendRequestByID loads a single request.
func (s *Store) FriendRequestByID(id string) (*FriendRequest, error) {
	var r FriendRequest
	err := s.db.Get(&r, `SELECT * FROM friend_requests WHERE id = ?`, id)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("error loading friend request: %w", err)
	}
	return &r, nil
}

// PendingRequestsTo returns pending requests addressed to account, oldest
// first, for delivery on bring-online.
func (s *Store) PendingRequestsTo(account string) ([]FriendRequest, error) {
	var rs []FriendRequest
	err := s.db.Select(&rs,
		`SELECT * FROM friend_requests WHERE to_account = ? AND status = ? ORDER BY created_at ASC`,
		account, RequestPending)
	if err != nil {
		return nil, fmt.Errorf("error loading pending requests: %w", err)
	}
	return rs, nil
}

// ResolveFriendRequest transitions a pending request to accepted or
// rejected. The WHERE clause on status makes the transition exactly-once:
// a second resolution matches no rows and returns ErrNotFound.
func (s *Store) ResolveFriendRequest(id, status string) error {
	res, err := s.db.Exec(
		`UPDATE friend_requests SET status = ?, updated_at = ? WHERE id = ? AND status = ?`,
		status, NowMillis(), id, RequestPending)
	if err != nil {
		return fmt.Errorf("error resolving friend request: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}
