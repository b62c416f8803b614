package hub

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roleplayhub/hub/store"
)

func TestTokenRoundTrip(t *testing.T) {
	m := &Manager{cfg: Configuration{TokenSecret: "test-secret"}}

	token, err := m.issueToken(&store.User{ID: "u1", Username: "alice"})
	require.NoError(t, err)
	require.NotEmpty(t, token)

	uid, err := m.verifyToken(token)
	require.NoError(t, err)
	assert.Equal(t, "u1", uid)
}

func TestTokenRejection(t *testing.T) {
	m := &Manager{cfg: Configuration{TokenSecret: "test-secret"}}

	token, err := m.issueToken(&store.User{ID: "u1", Username: "alice"})
	require.NoError(t, err)

	other := &Manager{cfg: Configuration{TokenSecret: "different-secret"}}
	_, err = other.verifyToken(token)
	assert.Error(t, err, "token signed with another secret is rejected")

	_, err = m.verifyToken("garbage")
	assert.Error(t, err)
}

func TestUsernameValidation(t *testing.T) {
	for _, valid := range []string{"abc", "alice_99", "ABC_def_123", "aaaaaaaaaaaaaaaaaaaa"} {
		assert.True(t, usernamePattern.MatchString(valid), valid)
	}
	for _, invalid := range []string{"", "ab", "has space", "emoji🎭", "toolongtoolongtoolong", "semi;colon"} {
		assert.False(t, usernamePattern.MatchString(invalid), invalid)
	}
}
