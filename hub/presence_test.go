package hub

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testSession(id string) *Session {
	return &Session{ID: id}
}

// checkBijection asserts the registry invariant: an account routes to a
// session exactly when that session's owned set contains it.
func checkBijection(t *testing.T, r *Registry) {
	t.Helper()

	for account, session := range r.byAccount {
		entry, ok := r.bySession[session.ID]
		require.True(t, ok, "account %q routes to unknown session %q", account, session.ID)
		_, owns := entry.owned[account]
		assert.True(t, owns, "account %q not in owned set of %q", account, session.ID)
	}
	for id, entry := range r.bySession {
		for account := range entry.owned {
			holder, ok := r.byAccount[account]
			require.True(t, ok, "owned account %q has no routing entry", account)
			assert.Equal(t, id, holder.ID)
		}
	}
}

func TestRegistryBindUnbind(t *testing.T) {
	r := NewRegistry()
	s := testSession("s1")
	r.Attach(s)
	r.Attach(s) // idempotent

	assert.Nil(t, r.Bind(s, "A_wx"))
	assert.True(t, r.Owns(s, "a_WX"), "account matching is case-insensitive")
	assert.Equal(t, s, r.SessionFor("a_wx"))
	checkBijection(t, r)

	assert.True(t, r.Unbind(s, "a_wx"))
	assert.False(t, r.Owns(s, "a_wx"))
	assert.Nil(t, r.SessionFor("a_wx"))
	assert.False(t, r.Unbind(s, "a_wx"), "second unbind reports not owned")
	checkBijection(t, r)
}

func TestRegistryHandoff(t *testing.T) {
	r := NewRegistry()
	s1 := testSession("s1")
	s2 := testSession("s2")
	r.Attach(s1)
	r.Attach(s2)

	require.Nil(t, r.Bind(s1, "a_wx"))

	displaced := r.Bind(s2, "a_wx")
	require.NotNil(t, displaced)
	assert.Equal(t, "s1", displaced.ID)

	assert.Equal(t, s2, r.SessionFor("a_wx"))
	assert.False(t, r.Owns(s1, "a_wx"), "old session lost the account in the same critical section")
	assert.True(t, r.Owns(s2, "a_wx"))
	checkBijection(t, r)

	// Rebinding on the same session is not a handoff.
	assert.Nil(t, r.Bind(s2, "a_wx"))
}

func TestRegistryDetach(t *testing.T) {
	r := NewRegistry()
	s := testSession("s1")
	r.Attach(s)
	r.BindUser(s, "u1")
	r.Bind(s, "a_wx")
	r.Bind(s, "b_wx")

	released := r.Detach(s)
	assert.ElementsMatch(t, []string{"a_wx", "b_wx"}, released)
	assert.Nil(t, r.SessionFor("a_wx"))
	assert.Nil(t, r.SessionFor("b_wx"))
	assert.Equal(t, 0, r.Sessions())
	assert.Empty(t, r.UserOf(s))
	checkBijection(t, r)

	assert.Nil(t, r.Detach(s), "second detach is a no-op")
}

func TestRegistryBindUser(t *testing.T) {
	r := NewRegistry()
	s := testSession("s1")
	r.Attach(s)

	assert.Empty(t, r.UserOf(s))
	r.BindUser(s, "u1")
	assert.Equal(t, "u1", r.UserOf(s))
}

func TestRegistryBijectionUnderChurn(t *testing.T) {
	r := NewRegistry()

	sessions := make([]*Session, 8)
	for i := range sessions {
		sessions[i] = testSession(fmt.Sprintf("s%d", i))
		r.Attach(sessions[i])
	}

	// Every account repeatedly changes hands across sessions; the
	// bijection must hold after every step.
	for step := 0; step < 200; step++ {
		s := sessions[step%len(sessions)]
		account := fmt.Sprintf("acct_%d", step%13)
		r.Bind(s, account)
		checkBijection(t, r)

		if step%7 == 0 {
			r.Unbind(s, account)
			checkBijection(t, r)
		}
		if step%31 == 0 {
			r.Detach(s)
			checkBijection(t, r)
			r.Attach(s)
		}
	}
}
