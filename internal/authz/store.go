package authz

import "sync"

// AdminIdentity is the administrator slot view of a Snapshot.
type AdminIdentity struct {
	IsAuthenticated bool
	User            *User
	Loading         bool
	Error           string
}

// StaffIdentity is the staff slot view of a Snapshot.
type StaffIdentity struct {
	IsAuthenticated bool
	User            *User
	Permissions     *CapabilityGrant
	Loading         bool
	Error           string
}

// Snapshot is an immutable copy of the store state.
type Snapshot struct {
	Identity   Identity
	Admin      AdminIdentity
	Staff      StaffIdentity
	Checking   bool
	Generation uint64
}

// Loading reports whether any authentication work is still pending.
func (s Snapshot) Loading() bool {
	return s.Checking || s.Admin.Loading || s.Staff.Loading
}

type attempt struct {
	loading bool
	err     string
}

// Store is the single source of truth for a visitor's identity. It keeps one
// canonical identity, so committing one scheme replaces the other, plus the
// login attempt state of each scheme.
type Store struct {
	mu         sync.RWMutex
	identity   Identity
	admin      attempt
	staff      attempt
	checking   bool
	generation uint64
	nextSubID  int
	subs       map[int]func(Snapshot)
}

// NewStore returns an anonymous store.
func NewStore() *Store {
	return &Store{identity: Anonymous(), subs: make(map[int]func(Snapshot))}
}

// SetAdminAuthenticated commits an administrator identity.
func (s *Store) SetAdminAuthenticated(user User) {
	s.update(func() bool {
		s.identity = AdminSession(user)
		s.admin = attempt{}
		s.generation++
		return true
	})
}

// SetStaffAuthenticated commits a staff identity with its grant.
func (s *Store) SetStaffAuthenticated(user User, grant CapabilityGrant) {
	s.update(func() bool {
		s.identity = StaffSession(user, grant)
		s.staff = attempt{}
		s.generation++
		return true
	})
}

// ClearAdmin resets the administrator slot. Calling it repeatedly is harmless.
func (s *Store) ClearAdmin() {
	s.update(func() bool {
		changed := s.admin != (attempt{})
		s.admin = attempt{}
		if s.identity.kind == KindAdmin {
			s.identity = Anonymous()
			s.generation++
			changed = true
		}
		return changed
	})
}

// ClearStaff resets the staff slot. Calling it repeatedly is harmless.
func (s *Store) ClearStaff() {
	s.update(func() bool {
		changed := s.staff != (attempt{})
		s.staff = attempt{}
		if s.identity.kind == KindStaff {
			s.identity = Anonymous()
			s.generation++
			changed = true
		}
		return changed
	})
}

// Clear resets both slots.
func (s *Store) Clear() {
	s.update(func() bool {
		changed := s.identity.kind != KindAnonymous || s.admin != (attempt{}) || s.staff != (attempt{})
		if s.identity.kind != KindAnonymous {
			s.generation++
		}
		s.identity = Anonymous()
		s.admin = attempt{}
		s.staff = attempt{}
		return changed
	})
}

// Revoke clears both slots and reports whether an authenticated identity was
// removed. Concurrent callers see true at most once per identity.
func (s *Store) Revoke() bool {
	var revoked bool
	s.update(func() bool {
		revoked = s.identity.kind != KindAnonymous
		if revoked {
			s.generation++
		}
		s.identity = Anonymous()
		s.admin = attempt{}
		s.staff = attempt{}
		return revoked
	})
	return revoked
}

// BeginAdminLogin marks an administrator login as in flight.
func (s *Store) BeginAdminLogin() {
	s.update(func() bool {
		s.admin = attempt{loading: true}
		return true
	})
}

// FailAdminLogin records a failed administrator login.
func (s *Store) FailAdminLogin(message string) {
	s.update(func() bool {
		s.admin = attempt{err: message}
		return true
	})
}

// BeginStaffLogin marks a staff login as in flight.
func (s *Store) BeginStaffLogin() {
	s.update(func() bool {
		s.staff = attempt{loading: true}
		return true
	})
}

// FailStaffLogin records a failed staff login.
func (s *Store) FailStaffLogin(message string) {
	s.update(func() bool {
		s.staff = attempt{err: message}
		return true
	})
}

// SetChecking toggles the bootstrapping flag.
func (s *Store) SetChecking(checking bool) {
	s.update(func() bool {
		changed := s.checking != checking
		s.checking = checking
		return changed
	})
}

// Current returns the canonical identity.
func (s *Store) Current() Identity {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.identity
}

// Generation returns a counter incremented on every identity change.
func (s *Store) Generation() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.generation
}

// Snapshot returns a copy of the current state.
func (s *Store) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snapshotLocked()
}

// Subscribe registers fn to be called after every state change. The returned
// function removes the subscription. fn runs synchronously and must not block.
func (s *Store) Subscribe(fn func(Snapshot)) func() {
	s.mu.Lock()
	id := s.nextSubID
	s.nextSubID++
	s.subs[id] = fn
	s.mu.Unlock()
	return func() {
		s.mu.Lock()
		delete(s.subs, id)
		s.mu.Unlock()
	}
}

func (s *Store) update(mutate func() bool) {
	s.mu.Lock()
	if !mutate() {
		s.mu.Unlock()
		return
	}
	snap := s.snapshotLocked()
	subs := make([]func(Snapshot), 0, len(s.subs))
	for _, fn := range s.subs {
		subs = append(subs, fn)
	}
	s.mu.Unlock()
	for _, fn := range subs {
		fn(snap)
	}
}

func (s *Store) snapshotLocked() Snapshot {
	snap := Snapshot{
		Identity:   s.identity,
		Admin:      AdminIdentity{Loading: s.admin.loading, Error: s.admin.err},
		Staff:      StaffIdentity{Loading: s.staff.loading, Error: s.staff.err},
		Checking:   s.checking,
		Generation: s.generation,
	}
	switch s.identity.kind {
	case KindAdmin:
		user := s.identity.user
		snap.Admin.IsAuthenticated = true
		snap.Admin.User = &user
	case KindStaff:
		user := s.identity.user
		grant := s.identity.grant
		snap.Staff.IsAuthenticated = true
		snap.Staff.User = &user
		snap.Staff.Permissions = &grant
	}
	return snap
}
