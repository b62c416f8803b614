package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
)

// profileTTL bounds staleness of cached character profiles. Writes
// invalidate eagerly; the TTL is the backstop.
const profileTTL = 5 * time.Minute

// Character is a role-play persona owned by a user. Account matching is
// case-insensitive everywhere but the stored casing is preserved.
type Character struct {
	ID        string `db:"id" json:"id"`
	UserID    string `db:"user_id" json:"user_id"`
	Account   string `db:"wx_account" json:"wx_account"`
	Nickname  string `db:"nickname" json:"nickname"`
	Avatar    string `db:"avatar" json:"avatar"`
	Bio       string `db:"bio" json:"bio"`
	IsOnline  bool   `db:"is_online" json:"is_online"`
	LastSeen  int64  `db:"last_seen" json:"last_seen"`
	CreatedAt int64  `db:"created_at" json:"created_at"`
}

// CharacterByAccount loads a character by account, case-insensitively,
// consulting the redis cache first when one is attached.
func (s *Store) CharacterByAccount(account string) (*Character, error) {
	if s.cache != nil {
		if raw, err := s.cache.Get(s.ctx, s.characterKey(account)).Result(); err == nil {
			var c Character
			if json.Unmarshal([]byte(raw), &c) == nil {
				return &c, nil
			}
		} else if err != redis.Nil {
			s.log.Warn().Err(err).Msg("profile cache read failed")
		}
	}

	var c Character
	err := s.db.Get(&c, `SELECT * FROM characters WHERE LOWER(wx_account) = LOWER(?)`, account)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("error loading character: %w", err)
	}

	s.cacheCharacter(&c)
	return &c, nil
}

// UpsertCharacter creates or updates the character row for account. The
// ownership invariant (one user per account) is enforced here: an account
// already owned by a different user is rejected with ErrDuplicate.
func (s *Store) UpsertCharacter(userID, account, nickname, avatar, bio string, online bool) (*Character, error) {
	existing, err := s.CharacterByAccount(account)
	if err != nil && err != ErrNotFound {
		return nil, err
	}

	now := NowMillis()

	if existing != nil {
		if existing.UserID != userID {
			return nil, ErrDuplicate
		}
		existing.Nickname = nickname
		existing.Avatar = avatar
		existing.Bio = bio
		existing.IsOnline = online
		existing.LastSeen = now
		_, err = s.db.Exec(
			`UPDATE characters SET nickname = ?, avatar = ?, bio = ?, is_online = ?, last_seen = ? WHERE id = ?`,
			nickname, avatar, bio, online, now, existing.ID)
		if err != nil {
			return nil, fmt.Errorf("error updating character: %w", err)
		}
		s.invalidateCharacter(account)
		return existing, nil
	}

	c := &Character{
		ID:        uuid.NewString(),
		UserID:    userID,
		Account:   account,
		Nickname:  nickname,
		Avatar:    avatar,
		Bio:       bio,
		IsOnline:  online,
		LastSeen:  now,
		CreatedAt: now,
	}
	_, err = s.db.Exec(
		`INSERT INTO characters (id, user_id, wx_account, nickname, avatar, bio, is_online, last_seen, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.UserID, c.Account, c.Nickname, c.Avatar, c.Bio, c.IsOnline, c.LastSeen, c.CreatedAt)
	if err != nil {
		if isDuplicate(err) {
			return nil, ErrDuplicate
		}
		return nil, fmt.Errorf("error creating character: %w", err)
	}
	return c, nil
}

// SetCharacterOnline persists the last-known presence transition. The
// presence registry, not this flag, is authoritative for routing.
func (s *Store) SetCharacterOnline(account string, online bool) error {
	_, err := s.db.Exec(
		`UPDATE characters SET is_online = ?, last_seen = ? WHERE LOWER(wx_account) = LOWER(?)`,
		online, NowMillis(), account)
	if err != nil {
		return fmt.Errorf("error persisting presence: %w", err)
	}
	s.invalidateCharacter(account)
	return nil
}

// OnlineCharactersByUser returns the user's characters whose persisted
// is_online flag is still set, used to restore routing after a reconnect.
func (s *Store) OnlineCharactersByUser(userID string) ([]Character, error) {
	var cs []Character
	err := s.db.Select(&cs,
		`SELECT * FROM characters WHERE user_id = ? AND is_online = 1`, userID)
	if err != nil {
		return nil, fmt.Errorf("error loading online characters: %w", err)
	}
	return cs, nil
}

// CharactersByUser returns every character the user owns.
func (s *Store) CharactersByUser(userID string) ([]Character, error) {
	var cs []Character
	err := s.db.Select(&cs, `SELECT * FROM characters WHERE user_id = ?`, userID)
	if err != nil {
		return nil, fmt.Errorf("error loading characters: %w", err)
	}
	return cs, nil
}

func (s *Store) characterKey(account string) string {
	return fmt.Sprintf("%s:character:%s", s.prefix, strings.ToLower(account))
}

func (s *Store) cacheCharacter(c *Character) {
	if s.cache == nil {
		return
	}
	raw, err := json.Marshal(c)
	if err != nil {
		return
	}
	if err = s.cache.Set(s.ctx, s.characterKey(c.Account), raw, profileTTL).Err(); err != nil {
		s.log.Warn().Err(err).Msg("profile cache write failed")
	}
}

func (s *Store) invalidateCharacter(account string) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Del(s.ctx, s.characterKey(account)).Err(); err != nil {
		s.log.Warn().Err(err).Msg("profile cache invalidation failed")
	}
}
