// Package store is the storage gateway for the hub: a thin typed façade
// over MySQL with an optional redis cache in front of character profiles.
// It owns schema creation and the targeted migrations the hub relies on.
package store

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	_ "github.com/go-sql-driver/mysql"
	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog"
)

// maxOpenConns bounds concurrent queries; handlers across sessions share
// this pool.
const maxOpenConns = 10

// Config holds the connection parameters for the gateway. The database
// fields are required; redis is optional and absent RedisAddr disables
// the profile cache entirely.
type Config struct {
	Host     string
	Port     string
	User     string
	Password string
	Database string

	RedisAddr     string
	RedisPassword string
	RedisDB       int
	RedisPrefix   string
}

// Store wraps the database handle and the optional cache client. All
// methods are safe for concurrent use; every write is single-statement
// atomic unless documented otherwise.
type Store struct {
	db    *sqlx.DB
	cache *redis.Client

	prefix string
	log    zerolog.Logger
	ctx    context.Context
}

// Open connects to MySQL, verifies the connection, runs schema bootstrap
// and migrations, and attaches the redis cache when configured.
func Open(cfg Config, logger zerolog.Logger) (*Store, error) {
	dsn := fmt.Sprintf("%s:%s@tcp(%s:%s)/%s?charset=utf8mb4&collation=utf8mb4_unicode_ci",
		cfg.User, cfg.Password, cfg.Host, cfg.Port, cfg.Database)

	db, err := sqlx.Connect("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("error connecting to mysql: %w", err)
	}

	db.SetMaxOpenConns(maxOpenConns)
	db.SetMaxIdleConns(maxOpenConns / 2)
	db.SetConnMaxLifetime(5 * time.Minute)

	s := &Store{
		db:     db,
		prefix: cfg.RedisPrefix,
		log:    logger.With().Str("component", "store").Logger(),
		ctx:    context.Background(),
	}

	if cfg.RedisAddr != "" {
		s.cache = redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		if err = s.cache.Ping(s.ctx).Err(); err != nil {
			return nil, fmt.Errorf("error connecting to redis: %w", err)
		}
		s.log.Info().Str("addr", cfg.RedisAddr).Msg("profile cache enabled")
	}

	if err = s.ensureSchema(); err != nil {
		return nil, err
	}

	return s, nil
}

// Close releases the database pool and the cache connection.
func (s *Store) Close() {
	if s.cache != nil {
		_ = s.cache.Close()
	}
	_ = s.db.Close()
}

// NowMillis is the single clock used for persisted timestamps.
func NowMillis() int64 {
	return time.Now().UnixNano() / int64(time.Millisecond)
}
