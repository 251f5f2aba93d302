package domain

import (
	"slices"
	"sync"
	"time"
)

// UserID identifies a player account.
type UserID uint64

// InvalidUserID marks an anonymous or unresolved player.
const InvalidUserID UserID = 0

// Role is a special permission granted to an account.
type Role string

const (
	RoleAdmin         Role = "admin"
	RoleBaker         Role = "baker"
	RoleGroundskeeper Role = "groundskeeper"
	RoleDeveloper     Role = "developer"
)

// Session is the authenticated identity of the local player.
//
// UserID and CreatedAt never change after construction. Roles may be
// replaced wholesale while other goroutines read them.
type Session struct {
	userID    UserID
	createdAt *time.Time

	mu    sync.RWMutex
	roles map[Role]struct{}
}

// NewSession creates a session. A nil createdAt means the creation time is unknown.
func NewSession(userID UserID, createdAt *time.Time, roles []Role) *Session {
	s := &Session{userID: userID}
	if createdAt != nil {
		t := *createdAt
		s.createdAt = &t
	}
	s.roles = toRoleSet(roles)
	return s
}

// AnonymousSession returns a session with no identity and no roles.
func AnonymousSession() *Session {
	return NewSession(InvalidUserID, nil, nil)
}

// FallbackSession is the best-effort identity used when the profile
// cannot be fetched or does not match: same id, current time, no roles.
func FallbackSession(userID UserID, now time.Time) *Session {
	return NewSession(userID, &now, nil)
}

// UserID returns the account id.
func (s *Session) UserID() UserID {
	return s.userID
}

// CreatedAt returns the account creation time, if known.
func (s *Session) CreatedAt() (time.Time, bool) {
	if s.createdAt == nil {
		return time.Time{}, false
	}
	return *s.createdAt, true
}

// IsAnonymous reports whether the session has no identity.
func (s *Session) IsAnonymous() bool {
	return s.userID == InvalidUserID
}

// Roles returns a sorted copy of the role set.
func (s *Session) Roles() []Role {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Role, 0, len(s.roles))
	for r := range s.roles {
		out = append(out, r)
	}
	slices.Sort(out)
	return out
}

// HasRole reports whether the session holds role r.
func (s *Session) HasRole(r Role) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.roles[r]
	return ok
}

// ReplaceRoles swaps the role set in place.
func (s *Session) ReplaceRoles(roles []Role) {
	set := toRoleSet(roles)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.roles = set
}

func toRoleSet(roles []Role) map[Role]struct{} {
	set := make(map[Role]struct{}, len(roles))
	for _, r := range roles {
		set[r] = struct{}{}
	}
	return set
}
