package hub

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

// writeWait bounds how long a single frame write may block before the
// connection is considered wedged.
const writeWait = 10 * time.Second

// Session is one live websocket connection, from accept to close. Frames
// from a session are handled serially by its read loop, which is what
// gives per-sender causal order.
type Session struct {
	ID         string
	RemoteAddr string

	manager *Manager
	ws      *websocket.Conn

	// used to make sure websocket writes do not happen concurrently
	wsMutex sync.Mutex

	// liveness flag for the heartbeat sweep; reset by ws pong and by
	// application-level ping frames
	aliveMu sync.Mutex
	alive   bool

	closeOnce sync.Once

	log zerolog.Logger
}

func newSession(m *Manager, ws *websocket.Conn) *Session {
	s := &Session{
		ID:         uuid.NewString(),
		RemoteAddr: ws.RemoteAddr().String(),
		manager:    m,
		ws:         ws,
		alive:      true,
	}
	s.log = m.log.With().Str("session", s.ID).Logger()

	ws.SetPongHandler(func(string) error {
		s.markAlive()
		return nil
	})

	return s
}

func (s *Session) markAlive() {
	s.aliveMu.Lock()
	s.alive = true
	s.aliveMu.Unlock()
}

// sweep clears the liveness flag and reports whether the session
// responded since the previous tick.
func (s *Session) sweep() bool {
	s.aliveMu.Lock()
	defer s.aliveMu.Unlock()

	was := s.alive
	s.alive = false
	return was
}

// Send writes one frame to the session. Safe for concurrent use; this is
// the only place the websocket is written to.
func (s *Session) Send(v interface{}) error {
	s.wsMutex.Lock()
	defer s.wsMutex.Unlock()

	_ = s.ws.SetWriteDeadline(time.Now().Add(writeWait))
	return s.ws.WriteJSON(v)
}

func (s *Session) sendError(message string) {
	if err := s.Send(errorFrame(message)); err != nil {
		s.log.Warn().Err(err).Msg("error writing error frame")
	}
}

// ping sends a websocket-level ping for the heartbeat sweep.
func (s *Session) ping() error {
	s.wsMutex.Lock()
	defer s.wsMutex.Unlock()

	return s.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
}

// readLoop handles inbound frames serially until the connection dies,
// then detaches the session.
func (s *Session) readLoop() {
	defer s.manager.detach(s)

	for {
		_, message, err := s.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.log.Debug().Err(err).Msg("error reading from websocket")
			}
			return
		}
		s.manager.dispatch(s, message)
	}
}

// close terminates the connection. The read loop observes the closed
// socket and runs detach exactly once.
func (s *Session) close() {
	s.closeOnce.Do(func() {
		s.wsMutex.Lock()
		_ = s.ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
		s.wsMutex.Unlock()
		_ = s.ws.Close()
	})
}
