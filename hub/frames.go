package hub

import (
	"encoding/json"

	"github.com/roleplayhub/hub/store"
)

// Frame is the envelope every inbound websocket message starts as. The
// payload fields stay raw until the dispatcher has picked a handler.
type Frame struct {
	Type string `json:"type"`

	raw []byte
}

func parseFrame(message []byte) (*Frame, error) {
	f := &Frame{raw: message}
	if err := json.Unmarshal(message, f); err != nil {
		return nil, err
	}
	return f, nil
}

// Bind unmarshals the full frame into a handler's payload struct.
func (f *Frame) Bind(v interface{}) error {
	return json.Unmarshal(f.raw, v)
}

// Inbound payloads. Frames are flat JSON objects; the account naming
// (wx_account) is the client-facing routing key.

// RegisterFrame is the payload for a register frame.
type RegisterFrame struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

// LoginFrame is the payload for a login frame.
type LoginFrame struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// AuthFrame is the payload for an auth frame.
type AuthFrame struct {
	Token string `json:"token"`
}

// CharacterFrame covers go_online, go_offline and register_character.
type CharacterFrame struct {
	Account  string `json:"wx_account"`
	Nickname string `json:"nickname"`
	Avatar   string `json:"avatar"`
	Bio      string `json:"bio"`
}

// SearchFrame is the payload for search_user.
type SearchFrame struct {
	Account string `json:"wx_account"`
}

// FriendRequestFrame is the payload for friend_request.
type FriendRequestFrame struct {
	FromAccount string `json:"from_wx_account"`
	ToAccount   string `json:"to_wx_account"`
	Message     string `json:"message"`
}

// ResolveRequestFrame covers accept_friend_request and
// reject_friend_request.
type ResolveRequestFrame struct {
	RequestID string `json:"request_id"`
	Account   string `json:"wx_account"`
}

// DirectMessageFrame is the payload for message.
type DirectMessageFrame struct {
	FromAccount string `json:"from_wx_account"`
	ToAccount   string `json:"to_wx_account"`
	Content     string `json:"content"`
}

// AccountFrame covers frames whose only argument is the acting account.
type AccountFrame struct {
	Account string `json:"wx_account"`
}

// CreateGroupFrame is the payload for create_online_group.
type CreateGroupFrame struct {
	Account         string   `json:"wx_account"`
	GroupName       string   `json:"group_name"`
	GroupAvatar     string   `json:"group_avatar"`
	CharacterName   string   `json:"character_name"`
	CharacterAvatar string   `json:"character_avatar"`
	CharacterDesc   string   `json:"character_desc"`
	InviteAccounts  []string `json:"invite_wx_accounts"`
}

// InviteFrame is the payload for invite_to_group.
type InviteFrame struct {
	GroupID       string `json:"group_id"`
	Account       string `json:"wx_account"`
	InviteAccount string `json:"invite_wx_account"`
}

// JoinGroupFrame covers join_online_group and update_group_character.
type JoinGroupFrame struct {
	GroupID         string `json:"group_id"`
	Account         string `json:"wx_account"`
	CharacterName   string `json:"character_name"`
	CharacterAvatar string `json:"character_avatar"`
	CharacterDesc   string `json:"character_desc"`
}

// GroupMessagesFrame is the payload for get_group_messages. Zero Since
// and Limit mean full history; Since wins when both are set.
type GroupMessagesFrame struct {
	GroupID string `json:"group_id"`
	Account string `json:"wx_account"`
	Since   int64  `json:"since"`
	Limit   int    `json:"limit"`
}

// SendGroupMessageFrame is the payload for send_group_message.
type SendGroupMessageFrame struct {
	GroupID       string `json:"group_id"`
	Account       string `json:"wx_account"`
	SenderType    string `json:"sender_type"`
	SenderName    string `json:"sender_name"`
	CharacterName string `json:"character_name"`
	Content       string `json:"content"`
	MsgType       string `json:"msg_type"`
}

// GroupFrame covers group frames keyed by group and acting account.
type GroupFrame struct {
	GroupID       string `json:"group_id"`
	Account       string `json:"wx_account"`
	CharacterName string `json:"character_name"`
}

// ClaimRedpacketFrame is the payload for claim_group_redpacket.
type ClaimRedpacketFrame struct {
	GroupID   string `json:"group_id"`
	MessageID string `json:"message_id"`
	Account   string `json:"wx_account"`
}

// Outbound frames. Each struct carries its own type tag so a frame can be
// written with a single WriteJSON.

// ErrorFrame is the single failure surface of the protocol.
type ErrorFrame struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

func errorFrame(message string) ErrorFrame {
	return ErrorFrame{Type: "error", Message: message}
}

// PongFrame answers an application-level ping.
type PongFrame struct {
	Type string `json:"type"`
}

// UserPayload is the public view of a user record.
type UserPayload struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	Email    string `json:"email"`
}

func userPayload(u *store.User) UserPayload {
	return UserPayload{ID: u.ID, Username: u.Username, Email: u.Email}
}

// AuthResultFrame covers register_success, login_success and
// auth_success.
type AuthResultFrame struct {
	Type           string      `json:"type"`
	User           UserPayload `json:"user"`
	Token          string      `json:"token,omitempty"`
	OnlineAccounts []string    `json:"online_wx_accounts,omitempty"`
}

// AuthFailedFrame reports a rejected token.
type AuthFailedFrame struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// CharacterOnlineFrame acks a successful bring-online.
type CharacterOnlineFrame struct {
	Type      string           `json:"type"`
	Character *store.Character `json:"character"`
}

// CharacterOfflineFrame acks a bring-offline. Reason is "takeover" when
// another session claimed the account.
type CharacterOfflineFrame struct {
	Type    string `json:"type"`
	Account string `json:"wx_account"`
	Reason  string `json:"reason,omitempty"`
}

// OnlineCharactersFrame lists the session user's online characters.
type OnlineCharactersFrame struct {
	Type       string            `json:"type"`
	Characters []store.Character `json:"characters"`
}

// SearchProfile is the reduced character view returned by search_user.
// Bio is withheld on purpose.
type SearchProfile struct {
	Account  string `json:"wx_account"`
	Nickname string `json:"nickname"`
	Avatar   string `json:"avatar"`
	IsOnline bool   `json:"is_online"`
}

// SearchResultFrame answers search_user.
type SearchResultFrame struct {
	Type      string         `json:"type"`
	Found     bool           `json:"found"`
	Character *SearchProfile `json:"character,omitempty"`
}

// FriendRequestFramePush delivers a friend request to its target.
type FriendRequestFramePush struct {
	Type     string               `json:"type"`
	Request  *store.FriendRequest `json:"request"`
	Nickname string               `json:"from_nickname"`
	Avatar   string               `json:"from_avatar"`
}

// FriendRequestAcceptedFrame notifies both sides of an accepted request.
type FriendRequestAcceptedFrame struct {
	Type      string `json:"type"`
	RequestID string `json:"request_id"`
	Account   string `json:"wx_account"`
	Nickname  string `json:"nickname"`
	Avatar    string `json:"avatar"`
}

// PendingRequestsFrame lists pending friend requests at bring-online.
type PendingRequestsFrame struct {
	Type     string                `json:"type"`
	Requests []store.FriendRequest `json:"requests"`
}

// DirectMessagePush is a delivered 1:1 message.
type DirectMessagePush struct {
	Type        string `json:"type"`
	MessageID   string `json:"message_id"`
	FromAccount string `json:"from_wx_account"`
	ToAccount   string `json:"to_wx_account"`
	Content     string `json:"content"`
	Timestamp   int64  `json:"timestamp"`
}

// MessageSentFrame acks a direct message send; Status is "delivered" or
// "queued".
type MessageSentFrame struct {
	Type      string `json:"type"`
	MessageID string `json:"message_id"`
	Status    string `json:"status"`
}

// GroupFramePush covers online_group_created, group_invite and
// online_group_joined.
type GroupFramePush struct {
	Type    string              `json:"type"`
	Group   *store.Group        `json:"group"`
	Members []store.GroupMember `json:"members,omitempty"`
	Inviter *SearchProfile      `json:"inviter,omitempty"`
}

// GroupMemberJoinedFrame announces a new or refreshed member.
type GroupMemberJoinedFrame struct {
	Type   string             `json:"type"`
	Member *store.GroupMember `json:"member"`
}

// GroupListFrame answers get_online_groups.
type GroupListFrame struct {
	Type   string        `json:"type"`
	Groups []store.Group `json:"groups"`
}

// GroupMessagePayload augments a stored message with sender avatars for
// rendering.
type GroupMessagePayload struct {
	store.GroupMessage
	SenderAvatar    string `json:"sender_avatar,omitempty"`
	CharacterAvatar string `json:"character_avatar,omitempty"`
}

// GroupMessagesFramePush answers get_group_messages.
type GroupMessagesFramePush struct {
	Type     string                `json:"type"`
	GroupID  string                `json:"group_id"`
	Messages []GroupMessagePayload `json:"messages"`
}

// GroupMessagePush broadcasts one new group message.
type GroupMessagePush struct {
	Type    string               `json:"type"`
	Message *GroupMessagePayload `json:"message"`
}

// GroupMembersFrame answers get_group_members.
type GroupMembersFrame struct {
	Type    string              `json:"type"`
	GroupID string              `json:"group_id"`
	Members []store.GroupMember `json:"members"`
}

// GroupCharacterUpdatedFrame acks update_group_character.
type GroupCharacterUpdatedFrame struct {
	Type   string             `json:"type"`
	Member *store.GroupMember `json:"member"`
}

// TypingFrame relays group_typing_start / group_typing_stop.
type TypingFrame struct {
	Type          string `json:"type"`
	GroupID       string `json:"group_id"`
	Account       string `json:"wx_account"`
	CharacterName string `json:"character_name,omitempty"`
}

// RedpacketClaimedFrame broadcasts an updated redpacket state after a
// successful claim.
type RedpacketClaimedFrame struct {
	Type      string          `json:"type"`
	GroupID   string          `json:"group_id"`
	MessageID string          `json:"message_id"`
	Account   string          `json:"wx_account"`
	Amount    string          `json:"amount"`
	Redpacket *RedpacketState `json:"redpacket"`
}
