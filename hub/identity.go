package hub

import (
	"regexp"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"

	"github.com/roleplayhub/hub/store"
)

// tokenLifetime is how long an issued token stays valid.
const tokenLifetime = 30 * 24 * time.Hour

// bcryptCost is the adaptive hash cost factor for stored passwords.
const bcryptCost = 10

var usernamePattern = regexp.MustCompile(`^[A-Za-z0-9_]{3,20}$`)

func (m *Manager) handleRegister(s *Session, f *Frame) error {
	var req RegisterFrame
	if err := f.Bind(&req); err != nil {
		return Errf(KindInvalid, "malformed register frame")
	}

	if !usernamePattern.MatchString(req.Username) {
		return Errf(KindInvalid, "username must be 3-20 characters of letters, digits or underscore")
	}
	if len(req.Password) < 6 {
		return Errf(KindInvalid, "password must be at least 6 characters")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcryptCost)
	if err != nil {
		return err
	}

	user, err := m.store.CreateUser(req.Username, req.Email, string(hash))
	if err == store.ErrDuplicate {
		return Errf(KindConflict, "username already taken")
	}
	if err != nil {
		return err
	}

	token, err := m.issueToken(user)
	if err != nil {
		return err
	}

	m.registry.BindUser(s, user.ID)
	s.log.Info().Str("username", user.Username).Msg("user registered")

	return s.Send(AuthResultFrame{Type: "register_success", User: userPayload(user), Token: token})
}

func (m *Manager) handleLogin(s *Session, f *Frame) error {
	var req LoginFrame
	if err := f.Bind(&req); err != nil {
		return Errf(KindInvalid, "malformed login frame")
	}

	user, err := m.store.UserByUsername(req.Username)
	if err == store.ErrNotFound {
		return Errf(KindAuthRejected, "invalid username or password")
	}
	if err != nil {
		return err
	}

	if bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(req.Password)) != nil {
		return Errf(KindAuthRejected, "invalid username or password")
	}

	if err = m.store.TouchLastLogin(user.ID); err != nil {
		return err
	}

	token, err := m.issueToken(user)
	if err != nil {
		return err
	}

	m.registry.BindUser(s, user.ID)
	s.log.Info().Str("username", user.Username).Msg("user logged in")

	return s.Send(AuthResultFrame{Type: "login_success", User: userPayload(user), Token: token})
}

// handleAuth verifies a token, binds the session and restores presence
// for characters that were online at last disconnect, making reconnects
// transparent to peers. Token failures answer with auth_failed rather
// than the generic error frame.
func (m *Manager) handleAuth(s *Session, f *Frame) error {
	var req AuthFrame
	if err := f.Bind(&req); err != nil {
		return Errf(KindInvalid, "malformed auth frame")
	}

	userID, err := m.verifyToken(req.Token)
	if err != nil {
		s.log.Debug().Err(err).Msg("token rejected")
		return s.Send(AuthFailedFrame{Type: "auth_failed", Message: "invalid or expired token"})
	}

	user, err := m.store.UserByID(userID)
	if err == store.ErrNotFound {
		return s.Send(AuthFailedFrame{Type: "auth_failed", Message: "invalid or expired token"})
	}
	if err != nil {
		return err
	}

	m.registry.BindUser(s, user.ID)

	restored, err := m.store.OnlineCharactersByUser(user.ID)
	if err != nil {
		return err
	}

	accounts := make([]string, 0, len(restored))
	for _, c := range restored {
		if displaced := m.registry.Bind(s, c.Account); displaced != nil {
			m.notifyTakeover(displaced, c.Account)
		}
		accounts = append(accounts, c.Account)
	}

	if err = s.Send(AuthResultFrame{Type: "auth_success", User: userPayload(user), OnlineAccounts: accounts}); err != nil {
		return err
	}

	// Reconnect counts as bring-online for delivery purposes.
	for _, c := range restored {
		m.deliverOffline(s, c.Account)
		m.deliverPendingRequests(s, c.Account)
	}

	s.log.Info().Str("username", user.Username).Int("restored", len(accounts)).Msg("session authenticated")
	return nil
}

// handleLogout releases every account and the user binding but keeps the
// connection open.
func (m *Manager) handleLogout(s *Session, _ *Frame) error {
	for _, account := range m.registry.Owned(s) {
		m.registry.Unbind(s, account)
		if err := m.store.SetCharacterOnline(account, false); err != nil {
			s.log.Error().Err(err).Str("account", account).Msg("error persisting offline on logout")
		}
		m.publish("character_offline", map[string]interface{}{"wx_account": account})
	}
	m.registry.BindUser(s, "")
	return nil
}

func (m *Manager) notifyTakeover(displaced *Session, account string) {
	err := displaced.Send(CharacterOfflineFrame{
		Type:    "character_offline",
		Account: account,
		Reason:  "takeover",
	})
	if err != nil {
		displaced.log.Debug().Err(err).Msg("error notifying takeover")
	}
}

// requireUser is the auth gate every authenticated handler goes through.
func (m *Manager) requireUser(s *Session) (string, error) {
	userID := m.registry.UserOf(s)
	if userID == "" {
		return "", Errf(KindAuthRequired, "authentication required")
	}
	return userID, nil
}

func (m *Manager) issueToken(user *store.User) (string, error) {
	now := time.Now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"uid":      user.ID,
		"username": user.Username,
		"iat":      now.Unix(),
		"exp":      now.Add(tokenLifetime).Unix(),
	})
	return token.SignedString([]byte(m.cfg.TokenSecret))
}

func (m *Manager) verifyToken(raw string) (string, error) {
	token, err := jwt.Parse(raw, func(*jwt.Token) (interface{}, error) {
		return []byte(m.cfg.TokenSecret), nil
	}, jwt.WithValidMethods([]string{"HS256"}))
	if err != nil {
		return "", err
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return "", Errf(KindAuthRejected, "invalid token claims")
	}
	uid, _ := claims["uid"].(string)
	if uid == "" {
		return "", Errf(KindAuthRejected, "invalid token claims")
	}
	return uid, nil
}
