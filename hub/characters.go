package hub

import (
	"github.com/roleplayhub/hub/store"
)

// characterAvatarLimit is the admission cap for global character avatars.
// Oversized avatars are cleared on bring-online rather than truncated,
// since a truncated image is garbage anyway.
const characterAvatarLimit = 10000

func (m *Manager) handleGoOnline(s *Session, f *Frame) error {
	userID, err := m.requireUser(s)
	if err != nil {
		return err
	}

	var req CharacterFrame
	if err = f.Bind(&req); err != nil || req.Account == "" {
		return Errf(KindInvalid, "malformed go_online frame")
	}

	avatar := req.Avatar
	if len(avatar) > characterAvatarLimit {
		s.log.Debug().Str("account", req.Account).Int("size", len(avatar)).Msg("clearing oversized avatar")
		avatar = ""
	}

	character, err := m.store.UpsertCharacter(userID, req.Account, req.Nickname, avatar, req.Bio, true)
	if err == store.ErrDuplicate {
		return Errf(KindForbidden, "account is in use by another user")
	}
	if err != nil {
		return err
	}

	if displaced := m.registry.Bind(s, character.Account); displaced != nil {
		m.notifyTakeover(displaced, character.Account)
	}

	m.publish("character_online", map[string]interface{}{"wx_account": character.Account})

	if err = s.Send(CharacterOnlineFrame{Type: "character_online", Character: character}); err != nil {
		return err
	}

	m.deliverOffline(s, character.Account)
	m.deliverPendingRequests(s, character.Account)
	return nil
}

func (m *Manager) handleGoOffline(s *Session, f *Frame) error {
	if _, err := m.requireUser(s); err != nil {
		return err
	}

	var req CharacterFrame
	if err := f.Bind(&req); err != nil || req.Account == "" {
		return Errf(KindInvalid, "malformed go_offline frame")
	}

	if !m.registry.Unbind(s, req.Account) {
		return Errf(KindForbidden, "character is not online on this session")
	}
	if err := m.store.SetCharacterOnline(req.Account, false); err != nil {
		return err
	}

	m.publish("character_offline", map[string]interface{}{"wx_account": req.Account})

	return s.Send(CharacterOfflineFrame{Type: "character_offline", Account: req.Account})
}

func (m *Manager) handleGetOnlineCharacters(s *Session, _ *Frame) error {
	userID, err := m.requireUser(s)
	if err != nil {
		return err
	}

	characters, err := m.store.OnlineCharactersByUser(userID)
	if err != nil {
		return err
	}
	if characters == nil {
		characters = []store.Character{}
	}
	return s.Send(OnlineCharactersFrame{Type: "online_characters", Characters: characters})
}

// handleRegisterCharacter edits a character profile without changing its
// presence.
func (m *Manager) handleRegisterCharacter(s *Session, f *Frame) error {
	userID, err := m.requireUser(s)
	if err != nil {
		return err
	}

	var req CharacterFrame
	if err = f.Bind(&req); err != nil || req.Account == "" {
		return Errf(KindInvalid, "malformed register_character frame")
	}

	avatar := req.Avatar
	if len(avatar) > characterAvatarLimit {
		avatar = ""
	}

	online := m.registry.SessionFor(req.Account) != nil

	character, err := m.store.UpsertCharacter(userID, req.Account, req.Nickname, avatar, req.Bio, online)
	if err == store.ErrDuplicate {
		return Errf(KindForbidden, "account is in use by another user")
	}
	if err != nil {
		return err
	}

	return s.Send(CharacterOnlineFrame{Type: "character_online", Character: character})
}

// handleSearchUser looks a character up by account, case-insensitively.
// The bio stays private; online state comes from the registry, which is
// authoritative, not the persisted flag.
func (m *Manager) handleSearchUser(s *Session, f *Frame) error {
	if _, err := m.requireUser(s); err != nil {
		return err
	}

	var req SearchFrame
	if err := f.Bind(&req); err != nil || req.Account == "" {
		return Errf(KindInvalid, "malformed search_user frame")
	}

	character, err := m.store.CharacterByAccount(req.Account)
	if err == store.ErrNotFound {
		return s.Send(SearchResultFrame{Type: "search_result", Found: false})
	}
	if err != nil {
		return err
	}

	return s.Send(SearchResultFrame{
		Type:  "search_result",
		Found: true,
		Character: &SearchProfile{
			Account:  character.Account,
			Nickname: character.Nickname,
			Avatar:   character.Avatar,
			IsOnline: m.registry.SessionFor(character.Account) != nil,
		},
	})
}
