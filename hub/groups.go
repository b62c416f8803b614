package hub

import (
	"unicode/utf8"

	"github.com/roleplayhub/hub/store"
)

// personaAvatarLimit is the byte cap on per-group persona avatars;
// oversized ones are truncated silently.
const personaAvatarLimit = 65000

// truncatePersonaAvatar cuts at the nearest rune boundary at or below
// the limit; a mid-rune slice would be rejected by the utf8mb4 column.
func truncatePersonaAvatar(avatar string) string {
	if len(avatar) <= personaAvatarLimit {
		return avatar
	}
	cut := personaAvatarLimit
	for cut > 0 && !utf8.RuneStart(avatar[cut]) {
		cut--
	}
	return avatar[:cut]
}

func (m *Manager) handleCreateGroup(s *Session, f *Frame) error {
	if _, err := m.requireUser(s); err != nil {
		return err
	}

	var req CreateGroupFrame
	if err := f.Bind(&req); err != nil || req.Account == "" || req.GroupName == "" {
		return Errf(KindInvalid, "malformed create_online_group frame")
	}
	if !m.registry.Owns(s, req.Account) {
		return Errf(KindForbidden, "you do not own this character")
	}

	persona := store.GroupMember{
		CharacterName:   req.CharacterName,
		CharacterAvatar: truncatePersonaAvatar(req.CharacterAvatar),
		CharacterDesc:   req.CharacterDesc,
	}

	group, err := m.store.CreateGroup(req.GroupName, req.GroupAvatar, req.Account, persona)
	if err != nil {
		return err
	}

	m.publish("group_created", group)

	members, err := m.store.Members(group.ID)
	if err != nil {
		return err
	}

	if err = s.Send(GroupFramePush{Type: "online_group_created", Group: group, Members: members}); err != nil {
		return err
	}

	// Invites reach online invitees only and are not persisted.
	inviter := m.inviterProfile(req.Account)
	for _, account := range req.InviteAccounts {
		if sameAccount(account, req.Account) {
			continue
		}
		if peer := m.registry.SessionFor(account); peer != nil {
			if err = peer.Send(GroupFramePush{Type: "group_invite", Group: group, Inviter: inviter}); err != nil {
				peer.log.Debug().Err(err).Msg("error pushing group invite")
			}
		}
	}

	return nil
}

func (m *Manager) handleInviteToGroup(s *Session, f *Frame) error {
	if _, err := m.requireUser(s); err != nil {
		return err
	}

	var req InviteFrame
	if err := f.Bind(&req); err != nil || req.GroupID == "" || req.InviteAccount == "" {
		return Errf(KindInvalid, "malformed invite_to_group frame")
	}
	if !m.registry.Owns(s, req.Account) {
		return Errf(KindForbidden, "you do not own this character")
	}

	if _, err := m.store.Member(req.GroupID, req.Account); err == store.ErrNotFound {
		return Errf(KindForbidden, "you are not a member of this group")
	} else if err != nil {
		return err
	}

	group, err := m.store.GroupByID(req.GroupID)
	if err == store.ErrNotFound {
		return Errf(KindNotFound, "group not found")
	}
	if err != nil {
		return err
	}

	peer := m.registry.SessionFor(req.InviteAccount)
	if peer == nil {
		return nil
	}
	if err = peer.Send(GroupFramePush{Type: "group_invite", Group: group, Inviter: m.inviterProfile(req.Account)}); err != nil {
		peer.log.Debug().Err(err).Msg("error pushing group invite")
	}
	return nil
}

func (m *Manager) handleJoinGroup(s *Session, f *Frame) error {
	if _, err := m.requireUser(s); err != nil {
		return err
	}

	var req JoinGroupFrame
	if err := f.Bind(&req); err != nil || req.GroupID == "" || req.Account == "" {
		return Errf(KindInvalid, "malformed join_online_group frame")
	}
	if !m.registry.Owns(s, req.Account) {
		return Errf(KindForbidden, "you do not own this character")
	}

	group, err := m.store.GroupByID(req.GroupID)
	if err == store.ErrNotFound {
		return Errf(KindNotFound, "group not found")
	}
	if err != nil {
		return err
	}

	member := store.GroupMember{
		GroupID:         group.ID,
		UserAccount:     req.Account,
		CharacterName:   req.CharacterName,
		CharacterAvatar: truncatePersonaAvatar(req.CharacterAvatar),
		CharacterDesc:   req.CharacterDesc,
	}
	if err = m.store.UpsertMember(member); err != nil {
		return err
	}

	members, err := m.store.Members(group.ID)
	if err != nil {
		return err
	}

	m.publish("group_member_joined", member)

	m.broadcastToGroup(members, req.Account,
		GroupMemberJoinedFrame{Type: "group_member_joined", Member: &member})

	return s.Send(GroupFramePush{Type: "online_group_joined", Group: group, Members: members})
}

func (m *Manager) handleGetGroups(s *Session, f *Frame) error {
	if _, err := m.requireUser(s); err != nil {
		return err
	}

	var req AccountFrame
	if err := f.Bind(&req); err != nil || req.Account == "" {
		return Errf(KindInvalid, "malformed get_online_groups frame")
	}
	if !m.registry.Owns(s, req.Account) {
		return Errf(KindForbidden, "you do not own this character")
	}

	groups, err := m.store.GroupsFor(req.Account)
	if err != nil {
		return err
	}
	if groups == nil {
		groups = []store.Group{}
	}
	return s.Send(GroupListFrame{Type: "online_groups_list", Groups: groups})
}

func (m *Manager) handleGetGroupMessages(s *Session, f *Frame) error {
	if _, err := m.requireUser(s); err != nil {
		return err
	}

	var req GroupMessagesFrame
	if err := f.Bind(&req); err != nil || req.GroupID == "" {
		return Errf(KindInvalid, "malformed get_group_messages frame")
	}

	members, err := m.memberGate(req.GroupID, req.Account, s)
	if err != nil {
		return err
	}

	var messages []store.GroupMessage
	switch {
	case req.Since > 0:
		messages, err = m.store.MessagesSince(req.GroupID, req.Since)
	case req.Limit > 0:
		messages, err = m.store.RecentMessages(req.GroupID, req.Limit)
	default:
		messages, err = m.store.AllMessages(req.GroupID)
	}
	if err != nil {
		return err
	}

	payloads := make([]GroupMessagePayload, 0, len(messages))
	for i := range messages {
		payloads = append(payloads, m.decorateMessage(&messages[i], members))
	}

	return s.Send(GroupMessagesFramePush{Type: "group_messages", GroupID: req.GroupID, Messages: payloads})
}

func (m *Manager) handleSendGroupMessage(s *Session, f *Frame) error {
	if _, err := m.requireUser(s); err != nil {
		return err
	}

	var req SendGroupMessageFrame
	if err := f.Bind(&req); err != nil || req.GroupID == "" || req.Account == "" {
		return Errf(KindInvalid, "malformed send_group_message frame")
	}

	member, err := m.store.Member(req.GroupID, req.Account)
	if err == store.ErrNotFound {
		return Errf(KindForbidden, "you are not a member of this group")
	}
	if err != nil {
		return err
	}
	if !m.registry.Owns(s, req.Account) {
		return Errf(KindForbidden, "you do not own this character")
	}

	if req.SenderType == "" {
		req.SenderType = store.SenderUser
	}
	if err = validateGroupSender(req.SenderType, req.CharacterName, member.CharacterName); err != nil {
		return err
	}

	msgType := req.MsgType
	if msgType == "" {
		msgType = "text"
	}

	message := &store.GroupMessage{
		GroupID:       req.GroupID,
		SenderType:    req.SenderType,
		SenderAccount: req.Account,
		SenderName:    req.SenderName,
		CharacterName: req.CharacterName,
		Content:       req.Content,
		MsgType:       msgType,
	}
	if err = m.store.SaveGroupMessage(message); err != nil {
		return err
	}

	m.publish("group_message", message)

	members, err := m.store.Members(req.GroupID)
	if err != nil {
		return err
	}

	payload := m.decorateMessage(message, members)
	m.broadcastToGroup(members, "", GroupMessagePush{Type: "group_message", Message: &payload})
	return nil
}

func (m *Manager) handleGetGroupMembers(s *Session, f *Frame) error {
	if _, err := m.requireUser(s); err != nil {
		return err
	}

	var req GroupFrame
	if err := f.Bind(&req); err != nil || req.GroupID == "" {
		return Errf(KindInvalid, "malformed get_group_members frame")
	}

	members, err := m.memberGate(req.GroupID, req.Account, s)
	if err != nil {
		return err
	}
	return s.Send(GroupMembersFrame{Type: "group_members", GroupID: req.GroupID, Members: members})
}

// handleUpdateGroupCharacter swaps the caller's in-group persona. Only
// the caller is acked; other members see the new persona on their next
// interaction.
func (m *Manager) handleUpdateGroupCharacter(s *Session, f *Frame) error {
	if _, err := m.requireUser(s); err != nil {
		return err
	}

	var req JoinGroupFrame
	if err := f.Bind(&req); err != nil || req.GroupID == "" || req.Account == "" {
		return Errf(KindInvalid, "malformed update_group_character frame")
	}
	if !m.registry.Owns(s, req.Account) {
		return Errf(KindForbidden, "you do not own this character")
	}

	if _, err := m.store.Member(req.GroupID, req.Account); err == store.ErrNotFound {
		return Errf(KindForbidden, "you are not a member of this group")
	} else if err != nil {
		return err
	}

	member := store.GroupMember{
		GroupID:         req.GroupID,
		UserAccount:     req.Account,
		CharacterName:   req.CharacterName,
		CharacterAvatar: truncatePersonaAvatar(req.CharacterAvatar),
		CharacterDesc:   req.CharacterDesc,
	}
	if err := m.store.UpsertMember(member); err != nil {
		return err
	}

	return s.Send(GroupCharacterUpdatedFrame{Type: "group_character_updated", Member: &member})
}

func (m *Manager) handleTypingStart(s *Session, f *Frame) error {
	return m.relayTyping(s, f, "group_typing_start")
}

func (m *Manager) handleTypingStop(s *Session, f *Frame) error {
	return m.relayTyping(s, f, "group_typing_stop")
}

// relayTyping broadcasts a typing indicator to every member except the
// sender. Indicators are never persisted; loss is acceptable.
func (m *Manager) relayTyping(s *Session, f *Frame, frameType string) error {
	if _, err := m.requireUser(s); err != nil {
		return err
	}

	var req GroupFrame
	if err := f.Bind(&req); err != nil || req.GroupID == "" || req.Account == "" {
		return Errf(KindInvalid, "malformed typing frame")
	}

	members, err := m.memberGate(req.GroupID, req.Account, s)
	if err != nil {
		return err
	}

	m.broadcastToGroup(members, req.Account, TypingFrame{
		Type:          frameType,
		GroupID:       req.GroupID,
		Account:       req.Account,
		CharacterName: req.CharacterName,
	})
	return nil
}

// validateGroupSender gates the client-supplied sender fields. System
// frames are server-originated only; a client claiming "system" would be
// indistinguishable from the hub's own announcements. A character
// message must carry the sender's persona name as it is right now, so a
// stale client loses the race against its own persona change.
func validateGroupSender(senderType, characterName, personaName string) error {
	switch senderType {
	case store.SenderUser:
		return nil
	case store.SenderCharacter:
		if characterName != personaName {
			return Errf(KindForbidden, "character name does not match your current group persona")
		}
		return nil
	default:
		return Errf(KindInvalid, "sender_type must be user or character")
	}
}

// memberGate is the common ownership + membership check for group reads,
// returning the member list since most callers need it next.
func (m *Manager) memberGate(groupID, account string, s *Session) ([]store.GroupMember, error) {
	if account == "" {
		return nil, Errf(KindInvalid, "missing wx_account")
	}
	if !m.registry.Owns(s, account) {
		return nil, Errf(KindForbidden, "you do not own this character")
	}

	members, err := m.store.Members(groupID)
	if err != nil {
		return nil, err
	}

	for i := range members {
		if sameAccount(members[i].UserAccount, account) {
			return members, nil
		}
	}
	return nil, Errf(KindForbidden, "you are not a member of this group")
}

// broadcastToGroup pushes a frame to every member whose account is
// currently routed, deduplicating sessions that hold several member
// accounts. Best-effort; there is no offline queue for group frames.
func (m *Manager) broadcastToGroup(members []store.GroupMember, exceptAccount string, frame interface{}) {
	seen := make(map[string]bool, len(members))
	for i := range members {
		account := members[i].UserAccount
		if exceptAccount != "" && sameAccount(account, exceptAccount) {
			continue
		}
		session := m.registry.SessionFor(account)
		if session == nil || seen[session.ID] {
			continue
		}
		seen[session.ID] = true
		if err := session.Send(frame); err != nil {
			session.log.Debug().Err(err).Msg("error broadcasting group frame")
		}
	}
}

// decorateMessage augments a stored message with the sender's global
// avatar and, for character senders, the group persona avatar. System
// messages pass through untouched.
func (m *Manager) decorateMessage(message *store.GroupMessage, members []store.GroupMember) GroupMessagePayload {
	payload := GroupMessagePayload{GroupMessage: *message}
	if message.SenderType == store.SenderSystem {
		return payload
	}

	if c, err := m.store.CharacterByAccount(message.SenderAccount); err == nil {
		payload.SenderAvatar = c.Avatar
	}
	if message.SenderType == store.SenderCharacter {
		for i := range members {
			if sameAccount(members[i].UserAccount, message.SenderAccount) {
				payload.CharacterAvatar = members[i].CharacterAvatar
				break
			}
		}
	}
	return payload
}

func (m *Manager) inviterProfile(account string) *SearchProfile {
	c, err := m.store.CharacterByAccount(account)
	if err != nil {
		return &SearchProfile{Account: account}
	}
	return &SearchProfile{
		Account:  c.Account,
		Nickname: c.Nickname,
		Avatar:   c.Avatar,
		IsOnline: true,
	}
}
