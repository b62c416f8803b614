package hub

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// inboundTypes is the full client-facing frame surface; every one must
// have a registered handler.
var inboundTypes = []string{
	"register", "login", "auth", "logout",
	"go_online", "go_offline", "get_online_characters", "register_character", "search_user",
	"friend_request", "accept_friend_request", "reject_friend_request", "message", "get_pending_requests",
	"create_online_group", "invite_to_group", "join_online_group", "get_online_groups",
	"get_group_messages", "send_group_message", "get_group_members", "update_group_character",
	"group_typing_start", "group_typing_stop", "claim_group_redpacket",
	"ping",
}

func TestHandlerTableCoversProtocol(t *testing.T) {
	m := &Manager{}
	m.registerHandlers()

	for _, frameType := range inboundTypes {
		assert.Contains(t, m.handlers, frameType)
	}
	assert.Len(t, m.handlers, len(inboundTypes), "no unadvertised handlers")
}

func TestParseFrame(t *testing.T) {
	f, err := parseFrame([]byte(`{"type":"search_user","wx_account":"A_WX"}`))
	require.NoError(t, err)
	assert.Equal(t, "search_user", f.Type)

	var payload SearchFrame
	require.NoError(t, f.Bind(&payload))
	assert.Equal(t, "A_WX", payload.Account)

	_, err = parseFrame([]byte(`not json`))
	assert.Error(t, err)
}

func TestErrorNormalization(t *testing.T) {
	assert.Nil(t, asError(nil))

	he := asError(Errf(KindForbidden, "nope"))
	assert.Equal(t, KindForbidden, he.Kind)
	assert.Equal(t, "nope", he.Message)

	internal := asError(assert.AnError)
	assert.Equal(t, KindInternal, internal.Kind)
	assert.Equal(t, "internal server error", internal.Message, "storage details never reach the wire")

	frame := errorFrame(he.Message)
	assert.Equal(t, "error", frame.Type)
	assert.Equal(t, "nope", frame.Message)
}
