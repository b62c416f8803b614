package store

import (
	"database/sql"
	"fmt"

	"github.com/google/uuid"
)

// Group message sender kinds.
const (
	SenderUser      = "user"
	SenderCharacter = "character"
	SenderSystem    = "system"
)

// Group is a multi-member chat room.
type Group struct {
	ID             string `db:"id" json:"id"`
	Name           string `db:"name" json:"name"`
	Avatar         string `db:"avatar" json:"avatar"`
	CreatorAccount string `db:"creator_account" json:"creator_wx_account"`
	CreatedAt      int64  `db:"created_at" json:"created_at"`
}

// GroupMember is a membership row carrying the member's in-group persona,
// which is distinct from their global character.
type GroupMember struct {
	GroupID         string `db:"group_id" json:"group_id"`
	UserAccount     string `db:"user_account" json:"wx_account"`
	CharacterName   string `db:"character_name" json:"character_name"`
	CharacterAvatar string `db:"character_avatar" json:"character_avatar"`
	CharacterDesc   string `db:"character_desc" json:"character_desc"`
	JoinedAt        int64  `db:"joined_at" json:"joined_at"`
}

// GroupMessage is one persisted group chat message.
type GroupMessage struct {
	ID            string `db:"id" json:"id"`
	GroupID       string `db:"group_id" json:"group_id"`
	SenderType    string `db:"sender_type" json:"sender_type"`
	SenderAccount string `db:"sender_account" json:"sender_wx_account"`
	SenderName    string `db:"sender_name" json:"sender_name"`
	CharacterName string `db:"character_name" json:"character_name"`
	Content       string `db:"content" json:"content"`
	MsgType       string `db:"msg_type" json:"msg_type"`
	CreatedAt     int64  `db:"created_at" json:"timestamp"`
}

// CreateGroup inserts the group row and the creator's membership in one
// transaction so a half-created group can never be observed.
func (s *Store) CreateGroup(name, avatar, creator string, persona GroupMember) (*Group, error) {
	g := &Group{
		ID:             uuid.NewString(),
		Name:           name,
		Avatar:         avatar,
		CreatorAccount: creator,
		CreatedAt:      NowMillis(),
	}

	tx, err := s.db.Beginx()
	if err != nil {
		return nil, fmt.Errorf("error starting group transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.Exec(
		`INSERT INTO online_groups (id, name, avatar, creator_account, created_at) VALUES (?, ?, ?, ?, ?)`,
		g.ID, g.Name, g.Avatar, g.CreatorAccount, g.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("error creating group: %w", err)
	}

	_, err = tx.Exec(
		`INSERT INTO group_members (group_id, user_account, character_name, character_avatar, character_desc, joined_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		g.ID, creator, persona.CharacterName, persona.CharacterAvatar, persona.CharacterDesc, g.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("error inserting creator membership: %w", err)
	}

	if err = tx.Commit(); err != nil {
		return nil, fmt.Errorf("error committing group: %w", err)
	}
	return g, nil
}

// GroupByID loads a single group.
func (s *Store) GroupByID(id string) (*Group, error) {
	var g Group
	err := s.db.Get(&g, `SELECT * FROM online_groups WHERE id = ?`, id)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("error loading group: %w", err)
	}
	return &g, nil
}

// UpsertMember inserts a membership or refreshes the persona of an
// existing one.
func (s *Store) UpsertMember(m GroupMember) error {
	m.JoinedAt = NowMillis()
	_, err := s.db.Exec(
		`INSERT INTO group_members (group_id, user_account, character_name, character_avatar, character_desc, joined_at)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON DUPLICATE KEY UPDATE character_name = VALUES(character_name),
			character_avatar = VALUES(character_avatar), character_desc = VALUES(character_desc)`,
		m.GroupID, m.UserAccount, m.CharacterName, m.CharacterAvatar, m.CharacterDesc, m.JoinedAt)
	if err != nil {
		return fmt.Errorf("error upserting member: %w", err)
	}
	return nil
}

// Member loads one membership row, ErrNotFound when the account is not in
// the group.
func (s *Store) Member(groupID, account string) (*GroupMember, error) {
	var m GroupMember
	err := s.db.Get(&m,
		`SELECT * FROM group_members WHERE group_id = ? AND user_account = ?`, groupID, account)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("error loading member: %w", err)
	}
	return &m, nil
}

// Members returns every membership of the group.
func (s *Store) Members(groupID string) ([]GroupMember, error) {
	var ms []GroupMember
	err := s.db.Select(&ms,
		`SELECT * FROM group_members WHERE group_id = ? ORDER BY joined_at ASC`, groupID)
	if err != nil {
		return nil, fmt.Errorf("error loading members: %w", err)
	}
	return ms, nil
}

// GroupsFor returns the groups the account belongs to.
func (s *Store) GroupsFor(account string) ([]Group, error) {
	var gs []Group
	err := s.db.Select(&gs,
		`SELECT g.* FROM online_groups g
		 JOIN group_members m ON m.group_id = g.id
		 WHERE m.user_account = ? ORDER BY g.created_at ASC`, account)
	if err != nil {
		return nil, fmt.Errorf("error loading groups: %w", err)
	}
	return gs, nil
}

// SaveGroupMessage persists one group message.
func (s *Store) SaveGroupMessage(m *GroupMessage) error {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	if m.CreatedAt == 0 {
		m.CreatedAt = NowMillis()
	}
	_, err := s.db.Exec(
		`INSERT INTO group_messages (id, group_id, sender_type, sender_account, sender_name, character_name, content, msg_type, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		m.ID, m.GroupID, m.SenderType, m.SenderAccount, m.SenderName, m.CharacterName, m.Content, m.MsgType, m.CreatedAt)
	if err != nil {
		return fmt.Errorf("error saving group message: %w", err)
	}
	return nil
}

// GroupMessageByID reloads a single message row, used by the redpacket
// claim protocol.
func (s *Store) GroupMessageByID(id string) (*GroupMessage, error) {
	var m GroupMessage
	err := s.db.Get(&m, `SELECT * FROM group_messages WHERE id = ?`, id)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("error loading group message: %w", err)
	}
	return &m, nil
}

// MessagesSince returns messages strictly newer than the timestamp,
// ascending.
func (s *Store) MessagesSince(groupID string, since int64) ([]GroupMessage, error) {
	var ms []GroupMessage
	err := s.db.Select(&ms,
		`SELECT * FROM group_messages WHERE group_id = ? AND created_at > ? ORDER BY created_at ASC`,
		groupID, since)
	if err != nil {
		return nil, fmt.Errorf("error loading messages: %w", err)
	}
	return ms, nil
}

// RecentMessages returns the newest limit messages in ascending order.
func (s *Store) RecentMessages(groupID string, limit int) ([]GroupMessage, error) {
	var ms []GroupMessage
	err := s.db.Select(&ms,
		`SELECT * FROM group_messages WHERE group_id = ? ORDER BY created_at DESC LIMIT ?`,
		groupID, limit)
	if err != nil {
		return nil, fmt.Errorf("error loading messages: %w", err)
	}
	// Delivered ascending regardless of the retrieval order.
	for i, j := 0, len(ms)-1; i < j; i, j = i+1, j-1 {
		ms[i], ms[j] = ms[j], ms[i]
	}
	return ms, nil
}

// AllMessages returns the full history ascending.
func (s *Store) AllMessages(groupID string) ([]GroupMessage, error) {
	var ms []GroupMessage
	err := s.db.Select(&ms,
		`SELECT * FROM group_messages WHERE group_id = ? ORDER BY created_at ASC`, groupID)
	if err != nil {
		return nil, fmt.Errorf("error loading messages: %w", err)
	}
	return ms, nil
}

// SwapGroupMessageContent replaces a message's content only if the stored
// content still equals prev. Returns false when a concurrent writer won;
// the redpacket engine relies on this as its optimistic CAS.
func (s *Store) SwapGroupMessageContent(id, prev, next string) (bool, error) {
	res, err := s.db.Exec(
		`UPDATE group_messages SET content = ? WHERE id = ? AND content = ?`, next, id, prev)
	if err != nil {
		return false, fmt.Errorf("error swapping message content: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("error reading affected rows: %w", err)
	}
	return n > 0, nil
}
