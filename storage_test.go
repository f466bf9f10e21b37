package chatkit

import (
	"testing"
	"time"
)

// ============================================================================
// Test Helpers
// ============================================================================

func testDialog(id string, typ DialogType, occupants ...uint64) Dialog {
	return Dialog{
		ID:          id,
		Type:        typ,
		Name:        "dialog " + id,
		OccupantIDs: occupants,
	}
}

func testUser(id uint64, login string) User {
	return User{ID: id, Login: login}
}

// ============================================================================
// Dialogs
// ============================================================================

func TestStorageUpdateDialogs(t *testing.T) {
	t.Run("insert and lookup", func(t *testing.T) {
		s := NewStorage()
		s.UpdateDialogs(testDialog("d1", DialogGroup, 1, 2))

		d, ok := s.Dialog("d1")
		if !ok {
			t.Fatal("expected dialog d1")
		}
		if len(d.OccupantIDs) != 2 {
			t.Fatalf("expected 2 occupants, got %d", len(d.OccupantIDs))
		}
	})

	t.Run("last write wins", func(t *testing.T) {
		s := NewStorage()
		first := testDialog("d1", DialogGroup, 1, 2)
		first.UnreadCount = 5
		s.UpdateDialogs(first)

		second := testDialog("d1", DialogGroup, 1, 2, 3)
		s.UpdateDialogs(second)

		d, _ := s.Dialog("d1")
		if d.UnreadCount != 0 {
			t.Fatalf("expected full overwrite, unread count is %d", d.UnreadCount)
		}
		if len(d.OccupantIDs) != 3 {
			t.Fatalf("expected 3 occupants, got %d", len(d.OccupantIDs))
		}
	})

	t.Run("multiple dialogs in one call", func(t *testing.T) {
		s := NewStorage()
		s.UpdateDialogs(
			testDialog("d1", DialogGroup, 1),
			testDialog("d2", DialogPrivate, 1, 2),
		)
		if len(s.Dialogs()) != 2 {
			t.Fatalf("expected 2 dialogs, got %d", len(s.Dialogs()))
		}
	})
}

func TestStorageDialogsOrder(t *testing.T) {
	s := NewStorage()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	old := testDialog("old", DialogGroup, 1)
	old.UpdatedAt = base
	recent := testDialog("recent", DialogGroup, 1)
	recent.UpdatedAt = base.Add(time.Hour)
	s.UpdateDialogs(old, recent)

	dialogs := s.Dialogs()
	if dialogs[0].ID != "recent" || dialogs[1].ID != "old" {
		t.Fatalf("expected most recently updated first, got %s, %s", dialogs[0].ID, dialogs[1].ID)
	}
}

func TestStorageDeleteDialog(t *testing.T) {
	t.Run("delete existing", func(t *testing.T) {
		s := NewStorage()
		s.UpdateDialogs(testDialog("d1", DialogGroup, 1))
		s.DeleteDialog("d1")
		if _, ok := s.Dialog("d1"); ok {
			t.Fatal("expected d1 to be deleted")
		}
	})

	t.Run("delete absent id is a no-op", func(t *testing.T) {
		s := NewStorage()
		s.UpdateDialogs(testDialog("d1", DialogGroup, 1))
		s.DeleteDialog("missing")
		if len(s.Dialogs()) != 1 {
			t.Fatal("unrelated dialog was removed")
		}
	})
}

func TestStoragePrivateDialog(t *testing.T) {
	s := NewStorage()
	s.UpdateDialogs(
		testDialog("grp", DialogGroup, 1, 2, 3),
		testDialog("prv", DialogPrivate, 1, 2),
	)

	t.Run("found by opponent", func(t *testing.T) {
		d, ok := s.PrivateDialog(2)
		if !ok {
			t.Fatal("expected a private dialog with occupant 2")
		}
		if d.ID != "prv" {
			t.Fatalf("expected prv, got %s", d.ID)
		}
	})

	t.Run("group dialogs never match", func(t *testing.T) {
		if _, ok := s.PrivateDialog(3); ok {
			t.Fatal("occupant 3 is only in a group dialog, expected no match")
		}
	})

	t.Run("oversized occupant sets never match", func(t *testing.T) {
		// A private dialog holds at most the current user and one opponent.
		s.UpdateDialogs(testDialog("odd", DialogPrivate, 1, 4, 5))
		if _, ok := s.PrivateDialog(4); ok {
			t.Fatal("three-occupant dialog must not match as private")
		}
	})
}

// ============================================================================
// Users
// ============================================================================

func TestStorageUsers(t *testing.T) {
	t.Run("upsert and lookup", func(t *testing.T) {
		s := NewStorage()
		s.UpdateUsers(testUser(1, "alice"))

		u, ok := s.User(1)
		if !ok || u.Login != "alice" {
			t.Fatalf("expected alice, got %+v", u)
		}

		s.UpdateUsers(User{ID: 1, Login: "alice", FullName: "Alice A"})
		u, _ = s.User(1)
		if u.FullName != "Alice A" {
			t.Fatalf("expected overwrite, got %q", u.FullName)
		}
	})

	t.Run("sorted by id", func(t *testing.T) {
		s := NewStorage()
		s.UpdateUsers(testUser(3, "c"), testUser(1, "a"), testUser(2, "b"))
		users := s.Users()
		if users[0].ID != 1 || users[1].ID != 2 || users[2].ID != 3 {
			t.Fatalf("expected ascending id order, got %v", users)
		}
	})
}

func TestStorageMissingUserIDs(t *testing.T) {
	s := NewStorage()
	s.UpdateUsers(testUser(1, "a"), testUser(2, "b"))

	t.Run("filters cached ids", func(t *testing.T) {
		missing := s.MissingUserIDs([]uint64{1, 2, 3, 4})
		if len(missing) != 2 || missing[0] != 3 || missing[1] != 4 {
			t.Fatalf("expected [3 4], got %v", missing)
		}
	})

	t.Run("drops duplicates, preserves order", func(t *testing.T) {
		missing := s.MissingUserIDs([]uint64{5, 3, 5, 3, 1})
		if len(missing) != 2 || missing[0] != 5 || missing[1] != 3 {
			t.Fatalf("expected [5 3], got %v", missing)
		}
	})

	t.Run("all cached", func(t *testing.T) {
		if missing := s.MissingUserIDs([]uint64{1, 2}); len(missing) != 0 {
			t.Fatalf("expected none missing, got %v", missing)
		}
	})
}

func TestStorageClear(t *testing.T) {
	s := NewStorage()
	s.UpdateDialogs(testDialog("d1", DialogGroup, 1))
	s.UpdateUsers(testUser(1, "a"))

	s.Clear()

	if len(s.Dialogs()) != 0 || len(s.Users()) != 0 {
		t.Fatal("expected empty storage after Clear")
	}
}
