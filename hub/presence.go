package hub

import (
	"strings"
	"sync"
)

// Registry is the authoritative in-memory presence index. It maps each
// session to the character accounts it owns and each account back to its
// session. Persisted is_online flags lag this index and are never used
// for routing.
//
// All methods are pure map manipulation under one mutex; persistence is
// the caller's job so the lock is never held across I/O.
type Registry struct {
	mu sync.Mutex

	bySession map[string]*sessionEntry
	byAccount map[string]*Session
}

type sessionEntry struct {
	session *Session
	userID  string
	owned   map[string]struct{}
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		bySession: make(map[string]*sessionEntry),
		byAccount: make(map[string]*Session),
	}
}

func accountKey(account string) string {
	return strings.ToLower(account)
}

// Attach inserts an empty entry for the session. Idempotent.
func (r *Registry) Attach(s *Session) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.bySession[s.ID]; !ok {
		r.bySession[s.ID] = &sessionEntry{session: s, owned: make(map[string]struct{})}
	}
}

// BindUser records the authenticated user on the session entry.
func (r *Registry) BindUser(s *Session, userID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if entry, ok := r.bySession[s.ID]; ok {
		entry.userID = userID
	}
}

// UserOf returns the user bound to the session, empty when
// unauthenticated.
func (r *Registry) UserOf(s *Session) string {
	r.mu.Lock()
	defer r.mu.Unlock()

	if entry, ok := r.bySession[s.ID]; ok {
		return entry.userID
	}
	return ""
}

// Bind points the account at the session. When the account was held by a
// different session the old binding is removed in the same critical
// section and the displaced session is returned so the caller can notify
// it of the handoff.
func (r *Registry) Bind(s *Session, account string) (displaced *Session) {
	key := accountKey(account)

	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.bySession[s.ID]
	if !ok {
		return nil
	}

	if old, held := r.byAccount[key]; held && old.ID != s.ID {
		if oldEntry, ok := r.bySession[old.ID]; ok {
			delete(oldEntry.owned, key)
		}
		displaced = old
	}

	entry.owned[key] = struct{}{}
	r.byAccount[key] = s
	return displaced
}

// Unbind removes the account from both maps. Returns false when the
// session did not hold the account.
func (r *Registry) Unbind(s *Session, account string) bool {
	key := accountKey(account)

	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.bySession[s.ID]
	if !ok {
		return false
	}
	if _, owns := entry.owned[key]; !owns {
		return false
	}

	delete(entry.owned, key)
	if holder, held := r.byAccount[key]; held && holder.ID == s.ID {
		delete(r.byAccount, key)
	}
	return true
}

// Owns reports whether the session currently holds the account.
func (r *Registry) Owns(s *Session, account string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.bySession[s.ID]
	if !ok {
		return false
	}
	_, owns := entry.owned[accountKey(account)]
	return owns
}

// SessionFor returns the session the account routes to, nil when the
// account is unreachable.
func (r *Registry) SessionFor(account string) *Session {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.byAccount[accountKey(account)]
}

// Owned returns the accounts the session currently holds.
func (r *Registry) Owned(s *Session) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.bySession[s.ID]
	if !ok {
		return nil
	}
	accounts := make([]string, 0, len(entry.owned))
	for a := range entry.owned {
		accounts = append(accounts, a)
	}
	return accounts
}

// Detach removes the session and every account it held, returning the
// released accounts so the caller can persist their offline transitions.
func (r *Registry) Detach(s *Session) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.bySession[s.ID]
	if !ok {
		return nil
	}

	released := make([]string, 0, len(entry.owned))
	for a := range entry.owned {
		if holder, held := r.byAccount[a]; held && holder.ID == s.ID {
			delete(r.byAccount, a)
		}
		released = append(released, a)
	}
	delete(r.bySession, s.ID)
	return released
}

// Sessions returns the number of attached sessions, for the health
// endpoint.
func (r *Registry) Sessions() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	return len(r.bySession)
}
