package store

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/go-sql-driver/mysql"
	"github.com/google/uuid"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("not found")

// ErrDuplicate is returned when a unique key would be violated.
var ErrDuplicate = errors.New("already exists")

// User is an authenticated owner of characters.
type User struct {
	ID           string `db:"id" json:"id"`
	Username     string `db:"username" json:"username"`
	Email        string `db:"email" json:"email"`
	PasswordHash string `db:"password_hash" json:"-"`
	CreatedAt    int64  `db:"created_at" json:"created_at"`
	LastLogin    int64  `db:"last_login" json:"last_login"`
}

// CreateUser inserts a new user. Returns ErrDuplicate when the username
// is taken.
func (s *Store) CreateUser(username, email, passwordHash string) (*User, error) {
	u := &User{
		ID:           uuid.NewString(),
		Username:     username,
		Email:        email,
		PasswordHash: passwordHash,
		CreatedAt:    NowMillis(),
	}

	_, err := s.db.Exec(
		`INSERT INTO users (id, username, email, password_hash, created_at, last_login)
		 VALUES (?, ?, ?, ?, ?, 0)`,
		u.ID, u.Username, u.Email, u.PasswordHash, u.CreatedAt)
	if err != nil {
		if isDuplicate(err) {
			return nil, ErrDuplicate
		}
		return nil, fmt.Errorf("error creating user: %w", err)
	}

	return u, nil
}

// UserByUsername loads a user by exact username.
func (s *Store) UserByUsername(username string) (*User, error) {
	var u User
	err := s.db.Get(&u, `SELECT * FROM users WHERE username = ?`, username)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("error loading user: %w", err)
	}
	return &u, nil
}

// UserByID loads a user by id.
func (s *Store) UserByID(id string) (*User, error) {
	var u User
	err := s.db.Get(&u, `SELECT * FROM users WHERE id = ?`, id)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("error loading user: %w", err)
	}
	return &u, nil
}

// TouchLastLogin records a successful login.
func (s *Store) TouchLastLogin(id string) error {
	_, err := s.db.Exec(`UPDATE users SET last_login = ? WHERE id = ?`, NowMillis(), id)
	if err != nil {
		return fmt.Errorf("error updating last_login: %w", err)
	}
	return nil
}

func isDuplicate(err error) bool {
	var me *mysql.MySQLError
	return errors.As(err, &me) && me.Number == 1062
}
