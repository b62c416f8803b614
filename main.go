package main

import (
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"

	"github.com/roleplayhub/hub/hub"
	"github.com/roleplayhub/hub/store"
)

func main() {
	// .env is optional; real deployments set the environment directly.
	_ = godotenv.Load()

	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Stamp}).
		With().Timestamp().Logger()

	if lvl, err := zerolog.ParseLevel(envOr("LOG_LEVEL", "info")); err == nil {
		logger = logger.Level(lvl)
	}

	storeCfg := store.Config{
		Host:          os.Getenv("DB_HOST"),
		Port:          os.Getenv("DB_PORT"),
		User:          os.Getenv("DB_USER"),
		Password:      os.Getenv("DB_PASSWORD"),
		Database:      os.Getenv("DB_NAME"),
		RedisAddr:     os.Getenv("REDIS_ADDR"),
		RedisPassword: os.Getenv("REDIS_PASSWORD"),
		RedisDB:       envInt("REDIS_DB", 0),
		RedisPrefix:   envOr("REDIS_PREFIX", "hub"),
	}

	// Database parameters are the one thing we refuse to guess.
	for _, required := range []struct{ key, val string }{
		{"DB_HOST", storeCfg.Host},
		{"DB_PORT", storeCfg.Port},
		{"DB_USER", storeCfg.User},
		{"DB_PASSWORD", storeCfg.Password},
		{"DB_NAME", storeCfg.Database},
	} {
		if required.val == "" {
			logger.Fatal().Str("key", required.key).Msg("missing required database environment variable")
		}
	}

	st, err := store.Open(storeCfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("error opening store")
	}

	secret := os.Getenv("TOKEN_SECRET")
	if secret == "" {
		secret = "roleplay-hub-dev-secret"
		logger.Warn().Msg("TOKEN_SECRET not set, using development secret")
	}

	manager, err := hub.NewManager(hub.Configuration{
		Port:        envInt("PORT", 3000),
		TokenSecret: secret,
		NatsAddress: os.Getenv("NATS_ADDR"),
		NatsCluster: envOr("NATS_CLUSTER", "roleplay-hub"),
		NatsClient:  envOr("NATS_CLIENT", "hub-0"),
	}, st, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("error creating manager")
	}

	if err = manager.Open(); err != nil {
		logger.Fatal().Err(err).Msg("error starting manager")
	}

	logger.Info().Int("port", envInt("PORT", 3000)).Msg("hub is running, ^C to stop")

	sc := make(chan os.Signal, 1)
	signal.Notify(sc, syscall.SIGINT, syscall.SIGTERM, os.Interrupt)
	<-sc

	logger.Info().Msg("closing all sessions...")
	manager.Close()
	st.Close()
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}
