package chatkit

import "context"

// ============================================================================
// Notification reconciler
// ============================================================================
//
// Incoming messages — whether delivered over the realtime stream or a
// webhook — are applied to the cached dialog they reference. Group
// membership notifications mutate the occupant set; everything else updates
// the dialog's last-message summary and unread count.

// HandleMessage applies an incoming message to the local cache.
//
// The general arrival rules run first: an uncached sender is fetched before
// any dialog effect, and an entirely uncached dialog is fetched fresh from
// the remote service before the notification branch is applied. Private
// dialogs skip notification branching.
func (m *ChatManager) HandleMessage(ctx context.Context, msg Message) error {
	// The stream and webhook paths both land here, possibly concurrently.
	m.deliverMu.Lock()
	defer m.deliverMu.Unlock()

	dialogID := msg.NotificationDialogID()
	if dialogID == "" {
		return nil
	}

	// Sender resolution is best effort: a directory miss must not block the
	// dialog mutation, or the cache would drift from the remote store.
	if msg.SenderID != 0 && msg.SenderID != m.currentUserID {
		if _, ok := m.storage.User(msg.SenderID); !ok {
			if u, err := m.service.FetchUser(ctx, msg.SenderID); err == nil {
				m.storage.UpdateUsers(*u)
			}
		}
	}

	dialog, cached := m.storage.Dialog(dialogID)
	if !cached {
		fetched, err := m.service.FetchDialog(ctx, dialogID)
		if err != nil {
			return err
		}
		dialog = *fetched
		if err := m.resolveUsers(ctx, m.storage.MissingUserIDs(dialog.OccupantIDs)); err != nil {
			return err
		}
	}

	if dialog.Type == DialogPrivate {
		m.applyPlainMessage(&dialog, &msg)
		m.storage.UpdateDialogs(dialog)
		m.notifyDialogUpdated(dialog)
		return nil
	}

	switch msg.Notification() {
	case NotificationCreateDialog:
		// The fetched dialog already carries the correct occupant set.
		if !cached {
			dialog.UnreadCount = 1
		} else {
			m.applyPlainMessage(&dialog, &msg)
		}

	case NotificationAddOccupants:
		m.applyAddOccupants(ctx, &dialog, &msg)
		m.applyPlainMessage(&dialog, &msg)

	case NotificationLeaveDialog:
		m.applyLeave(&dialog, &msg)
		m.applyPlainMessage(&dialog, &msg)

	default:
		m.applyPlainMessage(&dialog, &msg)
	}

	m.storage.UpdateDialogs(dialog)
	m.notifyDialogUpdated(dialog)
	return nil
}

// applyAddOccupants appends the genuinely new ids from the notification to
// the occupant set, batch-fetching any that are absent from the user cache.
// Ids already present are dropped.
func (m *ChatManager) applyAddOccupants(ctx context.Context, dialog *Dialog, msg *Message) {
	var newIDs []uint64
	for _, id := range msg.NewOccupantIDs() {
		if !dialog.HasOccupant(id) && !containsID(newIDs, id) {
			newIDs = append(newIDs, id)
		}
	}
	if len(newIDs) == 0 {
		return
	}

	if missing := m.storage.MissingUserIDs(newIDs); len(missing) > 0 {
		_ = m.resolveUsers(ctx, missing)
	}
	dialog.OccupantIDs = append(dialog.OccupantIDs, newIDs...)
}

// applyLeave removes the sender from the occupant set. Removal is
// idempotent: a repeated leave notification is a no-op.
func (m *ChatManager) applyLeave(dialog *Dialog, msg *Message) {
	if !dialog.HasOccupant(msg.SenderID) {
		return
	}
	remaining := make([]uint64, 0, len(dialog.OccupantIDs)-1)
	for _, id := range dialog.OccupantIDs {
		if id != msg.SenderID {
			remaining = append(remaining, id)
		}
	}
	dialog.OccupantIDs = remaining
}

// applyPlainMessage updates the dialog's last-message summary and unread
// count. The attachment placeholder overrides the text when the message
// carries attachments; self-sent messages never bump the unread count.
func (m *ChatManager) applyPlainMessage(dialog *Dialog, msg *Message) {
	dialog.LastMessageText = msg.SummaryText()
	dialog.LastMessageDate = msg.DateSent
	dialog.LastMessageUserID = msg.SenderID
	if msg.DateSent.After(dialog.UpdatedAt) {
		dialog.UpdatedAt = msg.DateSent
	}
	if msg.SenderID != m.currentUserID {
		dialog.UnreadCount++
		m.addBadge(1)
	}
}
