package hub

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/roleplayhub/hub/store"
)

// heartbeatInterval is how often the manager sweeps sessions. A session
// that has not answered since the previous sweep is terminated, so the
// effective liveness timeout is one interval.
const heartbeatInterval = 30 * time.Second

// Configuration stores the listen and integration settings used during
// init.
type Configuration struct {
	Port        int
	TokenSecret string

	// NATS firehose; disabled when NatsAddress is empty.
	NatsAddress string
	NatsCluster string
	NatsClient  string
}

// Manager accepts connections, owns the live session set, runs the
// heartbeat sweep and hosts the dispatcher.
type Manager struct {
	cfg   Configuration
	log   zerolog.Logger
	store *store.Store

	registry *Registry
	producer *Producer

	sessions   map[string]*Session
	sessionsMu sync.Mutex

	handlers map[string]handlerFunc

	// redpacket claim serialization, keyed by message id
	claimLocks *lockTable

	httpServer *http.Server
	upgrader   websocket.Upgrader

	done chan struct{}
}

// NewManager wires the manager and its integrations. The NATS producer
// is connected here so a bad address fails startup rather than the first
// publish.
func NewManager(cfg Configuration, st *store.Store, logger zerolog.Logger) (*Manager, error) {
	m := &Manager{
		cfg:        cfg,
		log:        logger.With().Str("component", "hub").Logger(),
		store:      st,
		registry:   NewRegistry(),
		sessions:   make(map[string]*Session),
		claimLocks: newLockTable(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// The transport is trusted per deployment; the hub fronts its
			// own static client.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		done: make(chan struct{}),
	}
	m.registerHandlers()

	if cfg.NatsAddress != "" {
		producer, err := NewProducer(cfg.NatsAddress, cfg.NatsCluster, cfg.NatsClient, m.log)
		if err != nil {
			return nil, err
		}
		m.producer = producer
		m.log.Info().Str("addr", cfg.NatsAddress).Msg("event firehose enabled")
	}

	return m, nil
}

// Open starts the HTTP listener and the heartbeat sweep.
func (m *Manager) Open() error {
	mux := http.NewServeMux()
	mux.HandleFunc("/", m.handleHealth)
	mux.HandleFunc("/ws", m.handleUpgrade)

	m.httpServer = &http.Server{
		Addr:    fmt.Sprintf(":%d", m.cfg.Port),
		Handler: mux,
	}

	go func() {
		if err := m.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			m.log.Fatal().Err(err).Msg("error running http server")
		}
	}()

	go m.heartbeat()
	return nil
}

// Close terminates every session and stops the listener.
func (m *Manager) Close() {
	close(m.done)

	m.sessionsMu.Lock()
	sessions := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	m.sessionsMu.Unlock()

	for _, s := range sessions {
		s.close()
	}

	if m.producer != nil {
		m.producer.Close()
	}
	if m.httpServer != nil {
		_ = m.httpServer.Close()
	}
}

func (m *Manager) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}

	m.sessionsMu.Lock()
	connections := len(m.sessions)
	m.sessionsMu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"status":      "ok",
		"message":     "roleplay hub is running",
		"connections": connections,
		"websocket":   "/ws",
	})
}

func (m *Manager) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	ws, err := m.upgrader.Upgrade(w, r, nil)
	if err != nil {
		m.log.Warn().Err(err).Str("remote", r.RemoteAddr).Msg("error upgrading connection")
		return
	}

	s := newSession(m, ws)

	m.sessionsMu.Lock()
	m.sessions[s.ID] = s
	m.sessionsMu.Unlock()

	m.registry.Attach(s)
	s.log.Info().Str("remote", s.RemoteAddr).Msg("session connected")

	go s.readLoop()
}

// heartbeat pings every live session each interval and terminates the
// ones that missed the previous tick.
func (m *Manager) heartbeat() {
	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-m.done:
			return
		case <-ticker.C:
		}

		m.sessionsMu.Lock()
		sessions := make([]*Session, 0, len(m.sessions))
		for _, s := range m.sessions {
			sessions = append(sessions, s)
		}
		m.sessionsMu.Unlock()

		for _, s := range sessions {
			if !s.sweep() {
				s.log.Info().Msg("session missed heartbeat, terminating")
				s.close()
				continue
			}
			if err := s.ping(); err != nil {
				s.log.Debug().Err(err).Msg("error pinging session")
				s.close()
			}
		}
	}
}

// detach runs the disconnect sequence: purge presence, persist offline
// transitions, drop the session. Called exactly once per session, from
// its read loop.
func (m *Manager) detach(s *Session) {
	s.close()

	released := m.registry.Detach(s)
	for _, account := range released {
		if err := m.store.SetCharacterOnline(account, false); err != nil {
			s.log.Error().Err(err).Str("account", account).Msg("error persisting offline on detach")
		}
		m.publish("character_offline", map[string]interface{}{"wx_account": account})
	}

	m.sessionsMu.Lock()
	delete(m.sessions, s.ID)
	m.sessionsMu.Unlock()

	s.log.Info().Int("released", len(released)).Msg("session disconnected")
}

// publish forwards a hub event to the firehose when one is attached.
func (m *Manager) publish(eventType string, data interface{}) {
	if m.producer == nil {
		return
	}
	m.producer.Publish(eventType, data)
}

// lockTable hands out one mutex per key, used to serialize redpacket
// claims per message. Entries are refcounted and dropped once the last
// holder puts its key back, so the table stays bounded by the number of
// in-flight claims.
type lockTable struct {
	mu    sync.Mutex
	locks map[string]*lockEntry
}

type lockEntry struct {
	sync.Mutex
	refs int
}

func newLockTable() *lockTable {
	return &lockTable{locks: make(map[string]*lockEntry)}
}

func (t *lockTable) get(key string) *lockEntry {
	t.mu.Lock()
	defer t.mu.Unlock()

	e, ok := t.locks[key]
	if !ok {
		e = &lockEntry{}
		t.locks[key] = e
	}
	e.refs++
	return e
}

func (t *lockTable) put(key string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	e, ok := t.locks[key]
	if !ok {
		return
	}
	e.refs--
	if e.refs <= 0 {
		delete(t.locks, key)
	}
}
