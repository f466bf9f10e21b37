package chatkit

import "context"

// ============================================================================
// Pagination driver
// ============================================================================
//
// Paged fetches are expressed as explicit loops over an advancing Page
// descriptor; one page request is outstanding at a time per invocation.
// Pages already committed to Storage are never rolled back on a later page
// failure: the caller is told about the error and must re-initiate to
// resume.

// Page sizes used by the sync loops.
const (
	DefaultDialogsPageSize  = 100
	DefaultUsersPageSize    = 100
	DefaultMessagesPageSize = 50

	// usersByIDsPageSize is the fixed page size for batched fetch-by-id
	// resolution of referenced users.
	usersByIDsPageSize = 100
)

// syncDialogs iterates the full dialog listing, upserting every page into
// Storage and resolving all referenced-but-uncached users at the end.
// Iteration continues while the number of items fetched so far is below the
// server-reported total. An empty first page completes immediately with no
// user resolution.
func (m *ChatManager) syncDialogs(ctx context.Context, filter map[string]string, onPage func([]Dialog)) error {
	page := Page{Skip: 0, Limit: m.dialogsPageSize}
	fetched := 0
	var referenced []uint64

	for {
		result, err := m.service.FetchDialogs(ctx, page, filter)
		if err != nil {
			return err
		}
		if len(result.Dialogs) == 0 {
			break
		}

		m.storage.UpdateDialogs(result.Dialogs...)
		for _, d := range result.Dialogs {
			referenced = append(referenced, d.OccupantIDs...)
		}
		if onPage != nil {
			onPage(result.Dialogs)
		}

		fetched += len(result.Dialogs)
		if fetched >= result.TotalEntries {
			break
		}
		page.Skip += len(result.Dialogs)
	}

	if fetched == 0 {
		return nil
	}
	return m.resolveUsers(ctx, m.storage.MissingUserIDs(referenced))
}

// syncUsers iterates the user directory, upserting every page into Storage.
// A short page (fewer items than requested) is the last page.
func (m *ChatManager) syncUsers(ctx context.Context, filter map[string]string, onPage func([]User)) error {
	page := Page{Skip: 0, Limit: m.usersPageSize}

	for {
		users, err := m.service.FetchUsers(ctx, page, filter)
		if err != nil {
			return err
		}
		if len(users) == 0 {
			return nil
		}

		m.storage.UpdateUsers(users...)
		if onPage != nil {
			onPage(users)
		}

		if len(users) < page.Limit {
			return nil
		}
		page.Skip += len(users)
	}
}

// resolveUsers batch-fetches the given user ids into Storage, paginated at
// a fixed page size. A nil or empty id set is a no-op.
func (m *ChatManager) resolveUsers(ctx context.Context, ids []uint64) error {
	if len(ids) == 0 {
		return nil
	}

	page := Page{Skip: 0, Limit: usersByIDsPageSize}
	for {
		users, err := m.service.FetchUsersByIDs(ctx, ids, page)
		if err != nil {
			return err
		}
		if len(users) == 0 {
			return nil
		}

		m.storage.UpdateUsers(users...)

		if len(users) < page.Limit {
			return nil
		}
		page.Skip += len(users)
	}
}
