package store

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

// OfflineMessage is a direct message persisted because its recipient was
// unreachable at send time.
type OfflineMessage struct {
	ID          string `db:"id" json:"message_id"`
	FromAccount string `db:"from_account" json:"from_wx_account"`
	ToAccount   string `db:"to_account" json:"to_wx_account"`
	Content     string `db:"content" json:"content"`
	CreatedAt   int64  `db:"created_at" json:"timestamp"`
	Delivered   bool   `db:"delivered" json:"-"`
}

// SaveOfflineMessage queues a message for the recipient's next
// bring-online.
func (s *Store) SaveOfflineMessage(from, to, content string) (*OfflineMessage, error) {
	m := &OfflineMessage{
		ID:          uuid.NewString(),
		FromAccount: from,
		ToAccount:   to,
		Content:     content,
		CreatedAt:   NowMillis(),
	}
	_, err := s.db.Exec(
		`INSERT INTO offline_messages (id, from_account, to_account, content, created_at, delivered)
		 VALUES (?, ?, ?, ?, ?, 0)`,
		m.ID, m.FromAccount, m.ToAccount, m.Content, m.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("error saving offline message: %w", err)
	}
	return m, nil
}

// UndeliveredTo returns the pending queue for account in createdAt order.
func (s *Store) UndeliveredTo(account string) ([]OfflineMessage, error) {
	var ms []OfflineMessage
	err := s.db.Select(&ms,
		`SELECT * FROM offline_messages WHERE to_account = ? AND delivered = 0 ORDER BY created_at ASC`,
		account)
	if err != nil {
		return nil, fmt.Errorf("error loading offline messages: %w", err)
	}
	return ms, nil
}

// MarkDelivered flags a batch of messages as delivered in one update.
// Callers mark only after attempting the push, so a crash between push
// and mark re-delivers rather than drops.
func (s *Store) MarkDelivered(ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	query, args, err := sqlx.In(`UPDATE offline_messages SET delivered = 1 WHERE id IN (?)`, ids)
	if err != nil {
		return fmt.Errorf("error building delivered update: %w", err)
	}
	if _, err = s.db.Exec(s.db.Rebind(query), args...); err != nil {
		return fmt.Errorf("error marking delivered: %w", err)
	}
	return nil
}
