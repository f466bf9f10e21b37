package chatkit

import (
	"sort"
	"sync"
)

// ============================================================================
// Storage
// ============================================================================

// Storage is the local cache of dialogs and users, keyed by identifier.
// It is the only mutation entry point for cached records; the ChatManager is
// its sole external reader and writer. All operations are guarded by a
// single lock so callbacks arriving from independent goroutines stay safe.
type Storage struct {
	mu      sync.RWMutex
	dialogs map[string]Dialog
	users   map[uint64]User
}

// NewStorage creates an empty storage.
func NewStorage() *Storage {
	return &Storage{
		dialogs: make(map[string]Dialog),
		users:   make(map[uint64]User),
	}
}

// ── Dialogs ──────────────────────────────────────────────

// UpdateDialogs upserts dialogs by id. Every field of an existing entry is
// overwritten: last writer wins, no merge.
func (s *Storage) UpdateDialogs(dialogs ...Dialog) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, d := range dialogs {
		s.dialogs[d.ID] = d
	}
}

// Dialog looks up a dialog by id.
func (s *Storage) Dialog(id string) (Dialog, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.dialogs[id]
	return d, ok
}

// Dialogs returns all cached dialogs, most recently updated first.
func (s *Storage) Dialogs() []Dialog {
	s.mu.RLock()
	defer s.mu.RUnlock()
	result := make([]Dialog, 0, len(s.dialogs))
	for _, d := range s.dialogs {
		result = append(result, d)
	}
	sort.Slice(result, func(i, j int) bool {
		if !result[i].UpdatedAt.Equal(result[j].UpdatedAt) {
			return result[i].UpdatedAt.After(result[j].UpdatedAt)
		}
		return result[i].ID < result[j].ID
	})
	return result
}

// DeleteDialog removes a dialog. Deleting an absent id is a no-op.
func (s *Storage) DeleteDialog(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.dialogs, id)
}

// PrivateDialog finds the private dialog between the current user and the
// given opponent. Used to avoid creating duplicate private dialogs. A
// cached private dialog always includes the current user, so the match is
// the opponent plus an occupant count of at most two.
func (s *Storage) PrivateDialog(opponentID uint64) (Dialog, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, d := range s.dialogs {
		if d.Type != DialogPrivate || len(d.OccupantIDs) > 2 {
			continue
		}
		if d.HasOccupant(opponentID) {
			return d, true
		}
	}
	return Dialog{}, false
}

// ── Users ────────────────────────────────────────────────

// UpdateUsers upserts users by id, overwriting all fields. Users are never
// individually deleted; the cache is additive.
func (s *Storage) UpdateUsers(users ...User) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range users {
		s.users[u.ID] = u
	}
}

// User looks up a user by id.
func (s *Storage) User(id uint64) (User, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[id]
	return u, ok
}

// Users returns all cached users sorted by id.
func (s *Storage) Users() []User {
	s.mu.RLock()
	defer s.mu.RUnlock()
	result := make([]User, 0, len(s.users))
	for _, u := range s.users {
		result = append(result, u)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result
}

// MissingUserIDs filters ids down to those absent from the cache,
// preserving order and dropping duplicates.
func (s *Storage) MissingUserIDs(ids []uint64) []uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	seen := make(map[uint64]struct{}, len(ids))
	var missing []uint64
	for _, id := range ids {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		if _, ok := s.users[id]; !ok {
			missing = append(missing, id)
		}
	}
	return missing
}

// Clear wipes both collections. Used on logout.
func (s *Storage) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dialogs = make(map[string]Dialog)
	s.users = make(map[uint64]User)
}
