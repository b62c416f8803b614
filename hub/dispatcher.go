package hub

// The dispatcher matches inbound frames on their type tag and invokes
// exactly one handler. Handlers run inline in the session's read loop so
// a session's frames are processed serially.

type handlerFunc func(s *Session, f *Frame) error

func (m *Manager) registerHandlers() {
	m.handlers = map[string]handlerFunc{
		"register": m.handleRegister,
		"login":    m.handleLogin,
		"auth":     m.handleAuth,
		"logout":   m.handleLogout,

		"go_online":             m.handleGoOnline,
		"go_offline":            m.handleGoOffline,
		"get_online_characters": m.handleGetOnlineCharacters,
		"register_character":    m.handleRegisterCharacter,
		"search_user":           m.handleSearchUser,

		"friend_request":        m.handleFriendRequest,
		"accept_friend_request": m.handleAcceptFriendRequest,
		"reject_friend_request": m.handleRejectFriendRequest,
		"message":               m.handleDirectMessage,
		"get_pending_requests":  m.handleGetPendingRequests,

		"create_online_group":    m.handleCreateGroup,
		"invite_to_group":        m.handleInviteToGroup,
		"join_online_group":      m.handleJoinGroup,
		"get_online_groups":      m.handleGetGroups,
		"get_group_messages":     m.handleGetGroupMessages,
		"send_group_message":     m.handleSendGroupMessage,
		"get_group_members":      m.handleGetGroupMembers,
		"update_group_character": m.handleUpdateGroupCharacter,
		"group_typing_start":     m.handleTypingStart,
		"group_typing_stop":      m.handleTypingStop,
		"claim_group_redpacket":  m.handleClaimRedpacket,

		"ping": m.handlePing,
	}
}

// dispatch decodes the envelope, runs the handler and converts any
// failure into a single error frame. Handler panics are contained here;
// the connection is never dropped for a handler failure.
func (m *Manager) dispatch(s *Session, message []byte) {
	f, err := parseFrame(message)
	if err != nil {
		s.sendError("malformed frame")
		return
	}

	handler, ok := m.handlers[f.Type]
	if !ok {
		s.log.Debug().Str("type", f.Type).Msg("unknown frame type")
		s.sendError("unknown message type: " + f.Type)
		return
	}

	defer func() {
		if r := recover(); r != nil {
			s.log.Error().Interface("panic", r).Str("type", f.Type).Msg("handler panicked")
			s.sendError("internal server error")
		}
	}()

	if err = handler(s, f); err != nil {
		he := asError(err)
		if he.Kind == KindInternal {
			s.log.Error().Err(err).Str("type", f.Type).Msg("handler failed")
		} else {
			s.log.Debug().Str("kind", string(he.Kind)).Str("type", f.Type).Msg(he.Message)
		}
		s.sendError(he.Message)
	}
}

func (m *Manager) handlePing(s *Session, _ *Frame) error {
	s.markAlive()
	return s.Send(PongFrame{Type: "pong"})
}
