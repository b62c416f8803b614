package store

import (
	"fmt"
	"strings"
)

var createStatements = []string{
	`CREATE TABLE IF NOT EXISTS users (
		id CHAR(36) NOT NULL PRIMARY KEY,
		username VARCHAR(20) NOT NULL,
		email VARCHAR(255) NOT NULL DEFAULT '',
		password_hash VARCHAR(100) NOT NULL,
		created_at BIGINT NOT NULL,
		last_login BIGINT NOT NULL DEFAULT 0,
		UNIQUE KEY uniq_username (username)
	)`,
	`CREATE TABLE IF NOT EXISTS characters (
		id CHAR(36) NOT NULL PRIMARY KEY,
		user_id CHAR(36) NOT NULL,
		wx_account VARCHAR(64) NOT NULL,
		nickname VARCHAR(64) NOT NULL DEFAULT '',
		avatar LONGTEXT,
		bio TEXT,
		is_online TINYINT NOT NULL DEFAULT 0,
		last_seen BIGINT NOT NULL DEFAULT 0,
		created_at BIGINT NOT NULL,
		UNIQUE KEY uniq_account (wx_account),
		KEY idx_user (user_id)
	)`,
	`CREATE TABLE IF NOT EXISTS friendships (
		id CHAR(36) NOT NULL PRIMARY KEY,
		account_a VARCHAR(64) NOT NULL,
		account_b VARCHAR(64) NOT NULL,
		created_at BIGINT NOT NULL,
		UNIQUE KEY uniq_pair (account_a, account_b)
	)`,
	`CREATE TABLE IF NOT EXISTS friend_requests (
		id CHAR(36) NOT NULL PRIMARY KEY,
		from_account VARCHAR(64) NOT NULL,
		to_account VARCHAR(64) NOT NULL,
		message TEXT,
		status VARCHAR(16) NOT NULL DEFAULT 'pending',
		created_at BIGINT NOT NULL,
		updated_at BIGINT NOT NULL,
		KEY idx_to (to_account, status)
	)`,
	`CREATE TABLE IF NOT EXISTS offline_messages (
		id CHAR(36) NOT NULL PRIMARY KEY,
		from_account VARCHAR(64) NOT NULL,
		to_account VARCHAR(64) NOT NULL,
		content LONGTEXT,
		created_at BIGINT NOT NULL,
		delivered TINYINT NOT NULL DEFAULT 0,
		KEY idx_pending (to_account, delivered)
	)`,
}

var createGroupStatements = []string{
	`CREATE TABLE IF NOT EXISTS online_groups (
		id CHAR(36) NOT NULL PRIMARY KEY,
		name VARCHAR(128) NOT NULL,
		avatar LONGTEXT,
		creator_account VARCHAR(64) NOT NULL,
		created_at BIGINT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS group_members (
		group_id CHAR(36) NOT NULL,
		user_account VARCHAR(64) NOT NULL,
		character_name VARCHAR(64) NOT NULL DEFAULT '',
		character_avatar TEXT,
		character_desc TEXT,
		joined_at BIGINT NOT NULL,
		PRIMARY KEY (group_id, user_account)
	)`,
	`CREATE TABLE IF NOT EXISTS group_messages (
		id CHAR(36) NOT NULL PRIMARY KEY,
		group_id CHAR(36) NOT NULL,
		sender_type VARCHAR(16) NOT NULL,
		sender_account VARCHAR(64) NOT NULL,
		sender_name VARCHAR(64) NOT NULL DEFAULT '',
		character_name VARCHAR(64) NOT NULL DEFAULT '',
		content LONGTEXT,
		msg_type VARCHAR(16) NOT NULL DEFAULT 'text',
		created_at BIGINT NOT NULL,
		KEY idx_group_time (group_id, created_at)
	)`,
}

// groupMemberColumns is the set a usable group_members table must carry.
// A miss means the table predates the persona columns and cannot be
// migrated in place.
var groupMemberColumns = []string{
	"group_id", "user_account", "character_name",
	"character_avatar", "character_desc", "joined_at",
}

// ensureSchema creates missing tables and applies the targeted widening
// migrations. It is idempotent and runs on every startup.
func (s *Store) ensureSchema() error {
	for _, stmt := range append(append([]string{}, createStatements...), createGroupStatements...) {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("error creating tables: %w", err)
		}
	}

	// Content columns started out as TEXT; long role-play messages and
	// inline avatars need LONGTEXT.
	s.widen("offline_messages", "content", "LONGTEXT")
	s.widen("group_messages", "content", "LONGTEXT")
	s.widen("group_members", "character_avatar", "TEXT")

	ok, err := s.groupTablesUsable()
	if err != nil {
		return err
	}
	if !ok {
		s.log.Warn().Msg("group_members schema mismatch, dropping and recreating group tables (group history is lost)")
		for _, table := range []string{"group_members", "group_messages", "online_groups"} {
			if _, err = s.db.Exec("DROP TABLE IF EXISTS " + table); err != nil {
				return fmt.Errorf("error dropping %s: %w", table, err)
			}
		}
		for _, stmt := range createGroupStatements {
			if _, err = s.db.Exec(stmt); err != nil {
				return fmt.Errorf("error recreating group tables: %w", err)
			}
		}
	}

	return nil
}

// widen is best-effort: MODIFY to the target type, logging rather than
// failing when the column is already wide enough or the server objects.
func (s *Store) widen(table, column, target string) {
	stmt := fmt.Sprintf("ALTER TABLE %s MODIFY COLUMN %s %s", table, column, target)
	if _, err := s.db.Exec(stmt); err != nil {
		s.log.Debug().Err(err).Str("table", table).Str("column", column).Msg("widen migration skipped")
	}
}

func (s *Store) groupTablesUsable() (bool, error) {
	var columns []string
	err := s.db.Select(&columns,
		`SELECT LOWER(column_name) FROM information_schema.columns
		 WHERE table_schema = DATABASE() AND table_name = 'group_members'`)
	if err != nil {
		return false, fmt.Errorf("error inspecting group_members: %w", err)
	}

	present := make(map[string]bool, len(columns))
	for _, c := range columns {
		present[strings.ToLower(c)] = true
	}
	for _, want := range groupMemberColumns {
		if !present[want] {
			return false, nil
		}
	}
	return true, nil
}
