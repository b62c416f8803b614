package hub

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roleplayhub/hub/store"
)

func TestValidateGroupSender(t *testing.T) {
	assert.NoError(t, validateGroupSender(store.SenderUser, "", "Lady Capulet"))
	assert.NoError(t, validateGroupSender(store.SenderUser, "whatever", "Lady Capulet"))
	assert.NoError(t, validateGroupSender(store.SenderCharacter, "Lady Capulet", "Lady Capulet"))

	// A character message carrying a stale or forged persona name is
	// refused before anything is persisted.
	err := validateGroupSender(store.SenderCharacter, "Juliet", "Lady Capulet")
	require.Error(t, err)
	assert.Equal(t, KindForbidden, err.(*Error).Kind)

	// Persona comparison is exact, not case-folded.
	err = validateGroupSender(store.SenderCharacter, "lady capulet", "Lady Capulet")
	require.Error(t, err)
	assert.Equal(t, KindForbidden, err.(*Error).Kind)
}

func TestValidateGroupSenderRejectsSystem(t *testing.T) {
	// "system" is reserved for hub-originated announcements; a client
	// claiming it would forge them.
	err := validateGroupSender(store.SenderSystem, "", "")
	require.Error(t, err)
	assert.Equal(t, KindInvalid, err.(*Error).Kind)

	err = validateGroupSender("narrator", "", "")
	require.Error(t, err)
	assert.Equal(t, KindInvalid, err.(*Error).Kind)
}

func TestTruncatePersonaAvatar(t *testing.T) {
	small := "data:image/png;base64,aaaa"
	assert.Equal(t, small, truncatePersonaAvatar(small))

	exact := strings.Repeat("a", personaAvatarLimit)
	assert.Equal(t, exact, truncatePersonaAvatar(exact))

	over := strings.Repeat("a", personaAvatarLimit+10)
	assert.Len(t, truncatePersonaAvatar(over), personaAvatarLimit)
}

func TestTruncatePersonaAvatarRuneBoundary(t *testing.T) {
	// A multi-byte rune straddling the cap must not be split; the column
	// is utf8mb4 and rejects torn sequences.
	avatar := strings.Repeat("a", personaAvatarLimit-1) + "世界"
	got := truncatePersonaAvatar(avatar)

	assert.True(t, utf8.ValidString(got), "truncation tore a rune")
	assert.LessOrEqual(t, len(got), personaAvatarLimit)
	assert.Equal(t, strings.Repeat("a", personaAvatarLimit-1), got)
}
