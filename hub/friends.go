package hub

import (
	"strings"

	"github.com/google/uuid"

	"github.com/roleplayhub/hub/store"
)

func (m *Manager) handleFriendRequest(s *Session, f *Frame) error {
	if _, err := m.requireUser(s); err != nil {
		return err
	}

	var req FriendRequestFrame
	if err := f.Bind(&req); err != nil || req.FromAccount == "" || req.ToAccount == "" {
		return Errf(KindInvalid, "malformed friend_request frame")
	}

	if !m.registry.Owns(s, req.FromAccount) {
		return Errf(KindForbidden, "you do not own this character")
	}

	target, err := m.store.CharacterByAccount(req.ToAccount)
	if err == store.ErrNotFound {
		return Errf(KindNotFound, "target account not found")
	}
	if err != nil {
		return err
	}

	friends, err := m.store.AreFriends(req.FromAccount, target.Account)
	if err != nil {
		return err
	}
	if friends {
		return Errf(KindConflict, "already friends")
	}

	request, err := m.store.CreateFriendRequest(req.FromAccount, target.Account, req.Message)
	if err != nil {
		return err
	}

	// Online targets get the request immediately; offline ones pick it up
	// at their next bring-online.
	if peer := m.registry.SessionFor(target.Account); peer != nil {
		sender, err := m.store.CharacterByAccount(req.FromAccount)
		if err != nil {
			return err
		}
		push := FriendRequestFramePush{
			Type:     "friend_request",
			Request:  request,
			Nickname: sender.Nickname,
			Avatar:   sender.Avatar,
		}
		if err = peer.Send(push); err != nil {
			peer.log.Debug().Err(err).Msg("error pushing friend request")
		}
	}

	return nil
}

func (m *Manager) handleAcceptFriendRequest(s *Session, f *Frame) error {
	if _, err := m.requireUser(s); err != nil {
		return err
	}

	var req ResolveRequestFrame
	if err := f.Bind(&req); err != nil || req.RequestID == "" {
		return Errf(KindInvalid, "malformed accept_friend_request frame")
	}

	request, err := m.store.FriendRequestByID(req.RequestID)
	if err == store.ErrNotFound {
		return Errf(KindNotFound, "friend request not found")
	}
	if err != nil {
		return err
	}

	if !m.registry.Owns(s, request.ToAccount) {
		return Errf(KindForbidden, "you do not own the requested character")
	}

	// Exactly-once transition; a raced second accept loses here.
	if err = m.store.ResolveFriendRequest(request.ID, store.RequestAccepted); err == store.ErrNotFound {
		return Errf(KindNotFound, "friend request already resolved")
	} else if err != nil {
		return err
	}

	if err = m.store.CreateFriendship(request.FromAccount, request.ToAccount); err != nil {
		return err
	}

	m.publish("friendship_created", map[string]interface{}{
		"from_wx_account": request.FromAccount,
		"to_wx_account":   request.ToAccount,
	})

	// Both sides get the accepted event with minimal profile data of the
	// other side.
	m.notifyAccepted(request.ID, request.FromAccount, request.ToAccount)
	m.notifyAccepted(request.ID, request.ToAccount, request.FromAccount)
	return nil
}

// notifyAccepted pushes a friend_request_accepted frame to recipient,
// describing peer.
func (m *Manager) notifyAccepted(requestID, recipient, peerAccount string) {
	session := m.registry.SessionFor(recipient)
	if session == nil {
		return
	}

	frame := FriendRequestAcceptedFrame{
		Type:      "friend_request_accepted",
		RequestID: requestID,
		Account:   peerAccount,
	}
	if peer, err := m.store.CharacterByAccount(peerAccount); err == nil {
		frame.Nickname = peer.Nickname
		frame.Avatar = peer.Avatar
	}

	if err := session.Send(frame); err != nil {
		session.log.Debug().Err(err).Msg("error pushing accepted event")
	}
}

func (m *Manager) handleRejectFriendRequest(s *Session, f *Frame) error {
	if _, err := m.requireUser(s); err != nil {
		return err
	}

	var req ResolveRequestFrame
	if err := f.Bind(&req); err != nil || req.RequestID == "" {
		return Errf(KindInvalid, "malformed reject_friend_request frame")
	}

	request, err := m.store.FriendRequestByID(req.RequestID)
	if err == store.ErrNotFound {
		return Errf(KindNotFound, "friend request not found")
	}
	if err != nil {
		return err
	}

	if !m.registry.Owns(s, request.ToAccount) {
		return Errf(KindForbidden, "you do not own the requested character")
	}

	if err = m.store.ResolveFriendRequest(request.ID, store.RequestRejected); err == store.ErrNotFound {
		return Errf(KindNotFound, "friend request already resolved")
	}
	// The sender is deliberately not notified of a rejection.
	return err
}

func (m *Manager) handleDirectMessage(s *Session, f *Frame) error {
	if _, err := m.requireUser(s); err != nil {
		return err
	}

	var req DirectMessageFrame
	if err := f.Bind(&req); err != nil || req.FromAccount == "" || req.ToAccount == "" {
		return Errf(KindInvalid, "malformed message frame")
	}

	if !m.registry.Owns(s, req.FromAccount) {
		return Errf(KindForbidden, "you do not own this character")
	}

	friends, err := m.store.AreFriends(req.FromAccount, req.ToAccount)
	if err != nil {
		return err
	}
	if !friends {
		return Errf(KindForbidden, "you are not friends with this account")
	}

	if peer := m.registry.SessionFor(req.ToAccount); peer != nil {
		push := DirectMessagePush{
			Type:        "message",
			MessageID:   uuid.NewString(),
			FromAccount: req.FromAccount,
			ToAccount:   req.ToAccount,
			Content:     req.Content,
			Timestamp:   store.NowMillis(),
		}
		if err = peer.Send(push); err == nil {
			m.publish("message_delivered", push)
			return s.Send(MessageSentFrame{Type: "message_sent", MessageID: push.MessageID, Status: "delivered"})
		}
		// The peer vanished mid-send; fall through to the offline queue so
		// the message survives the race.
		peer.log.Debug().Err(err).Msg("direct push failed, queueing offline")
	}

	saved, err := m.store.SaveOfflineMessage(req.FromAccount, req.ToAccount, req.Content)
	if err != nil {
		return err
	}
	m.publish("message_queued", map[string]interface{}{
		"message_id":      saved.ID,
		"from_wx_account": saved.FromAccount,
		"to_wx_account":   saved.ToAccount,
	})
	return s.Send(MessageSentFrame{Type: "message_sent", MessageID: saved.ID, Status: "queued"})
}

func (m *Manager) handleGetPendingRequests(s *Session, f *Frame) error {
	if _, err := m.requireUser(s); err != nil {
		return err
	}

	var req AccountFrame
	if err := f.Bind(&req); err != nil || req.Account == "" {
		return Errf(KindInvalid, "malformed get_pending_requests frame")
	}
	if !m.registry.Owns(s, req.Account) {
		return Errf(KindForbidden, "you do not own this character")
	}

	requests, err := m.store.PendingRequestsTo(req.Account)
	if err != nil {
		return err
	}
	if requests == nil {
		requests = []store.FriendRequest{}
	}
	return s.Send(PendingRequestsFrame{Type: "pending_friend_requests", Requests: requests})
}

// offlineQueue is the slice of the gateway offline delivery needs.
type offlineQueue interface {
	UndeliveredTo(account string) ([]store.OfflineMessage, error)
	MarkDelivered(ids []string) error
}

// flushOfflineQueue pushes the queued messages for account in createdAt
// order, then marks the pushed prefix delivered in one update. A push
// failure stops the walk and only the messages that actually went out
// get marked; a crash between push and mark re-delivers on the next
// bring-online, so receivers must tolerate duplicates.
func flushOfflineQueue(q offlineQueue, account string, push func(interface{}) error) ([]string, error) {
	pending, err := q.UndeliveredTo(account)
	if err != nil {
		return nil, err
	}

	pushed := make([]string, 0, len(pending))
	for _, msg := range pending {
		frame := DirectMessagePush{
			Type:        "message",
			MessageID:   msg.ID,
			FromAccount: msg.FromAccount,
			ToAccount:   msg.ToAccount,
			Content:     msg.Content,
			Timestamp:   msg.CreatedAt,
		}
		if err = push(frame); err != nil {
			break
		}
		pushed = append(pushed, msg.ID)
	}

	if len(pushed) == 0 {
		return nil, nil
	}
	if err = q.MarkDelivered(pushed); err != nil {
		return pushed, err
	}
	return pushed, nil
}

func (m *Manager) deliverOffline(s *Session, account string) {
	pushed, err := flushOfflineQueue(m.store, account, s.Send)
	if err != nil {
		s.log.Error().Err(err).Str("account", account).Msg("error delivering offline messages")
		return
	}
	if len(pushed) > 0 {
		s.log.Info().Str("account", account).Int("count", len(pushed)).Msg("offline messages delivered")
	}
}

// deliverPendingRequests pushes the pending friend requests for account
// at bring-online.
func (m *Manager) deliverPendingRequests(s *Session, account string) {
	requests, err := m.store.PendingRequestsTo(account)
	if err != nil {
		s.log.Error().Err(err).Str("account", account).Msg("error loading pending requests")
		return
	}
	if len(requests) == 0 {
		return
	}
	if err = s.Send(PendingRequestsFrame{Type: "pending_friend_requests", Requests: requests}); err != nil {
		s.log.Debug().Err(err).Msg("error pushing pending requests")
	}
}

// sameAccount compares accounts the way the store matches them.
func sameAccount(a, b string) bool {
	return strings.EqualFold(a, b)
}
