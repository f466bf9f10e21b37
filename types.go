package chatkit

import (
	"strconv"
	"strings"
	"time"
)

// ============================================================================
// Shared Types
// ============================================================================

// APIError represents an API error returned by ChatKit Cloud.
type APIError struct {
	Status  int    `json:"status"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message"`
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return e.Code + ": " + e.Message
	}
	return e.Message
}

// ============================================================================
// Dialog Types
// ============================================================================

// DialogType classifies a dialog.
type DialogType string

const (
	DialogPrivate DialogType = "private"
	DialogGroup   DialogType = "group"
	DialogPublic  DialogType = "public"
)

// Dialog is a chat conversation (one-to-one or group).
type Dialog struct {
	ID                string     `json:"id"`
	Type              DialogType `json:"type"`
	Name              string     `json:"name,omitempty"`
	OccupantIDs       []uint64   `json:"occupantsIds"`
	LastMessageText   string     `json:"lastMessage,omitempty"`
	LastMessageDate   time.Time  `json:"lastMessageDateSent,omitempty"`
	LastMessageUserID uint64     `json:"lastMessageUserId,omitempty"`
	UnreadCount       int        `json:"unreadMessagesCount"`
	CreatedAt         time.Time  `json:"createdAt,omitempty"`
	UpdatedAt         time.Time  `json:"updatedAt,omitempty"`

	// PushOccupantIDs is transient join-request state, never cached
	// beyond the lifetime of a JoinOccupants call.
	PushOccupantIDs []uint64 `json:"-"`
}

// HasOccupant reports whether id is in the occupant set.
func (d *Dialog) HasOccupant(id uint64) bool {
	return containsID(d.OccupantIDs, id)
}

// OpponentID returns the single non-self occupant of a private dialog.
func (d *Dialog) OpponentID(selfID uint64) (uint64, bool) {
	if d.Type != DialogPrivate {
		return 0, false
	}
	for _, oid := range d.OccupantIDs {
		if oid != selfID {
			return oid, true
		}
	}
	return 0, false
}

// ============================================================================
// User Types
// ============================================================================

// User is a directory record. Users are cached additively; staleness of
// LastRequestAt is tolerated.
type User struct {
	ID            uint64    `json:"id"`
	Login         string    `json:"login"`
	FullName      string    `json:"fullName,omitempty"`
	LastRequestAt time.Time `json:"lastRequestAt,omitempty"`
}

// DisplayName returns the full name, falling back to the login.
func (u *User) DisplayName() string {
	if u.FullName != "" {
		return u.FullName
	}
	return u.Login
}

// ============================================================================
// Message Types
// ============================================================================

// Attachment is a file or media reference carried by a message.
type Attachment struct {
	ID   string `json:"id"`
	Type string `json:"type,omitempty"`
	URL  string `json:"url,omitempty"`
}

// AttachmentPlaceholder replaces the last-message text of a dialog when the
// newest message carries attachments instead of text.
const AttachmentPlaceholder = "[Attachment]"

// Custom parameter keys carried on group-notification messages.
const (
	paramNotificationType = "notification_type"
	paramDialogID         = "dialog_id"
	paramNewOccupantIDs   = "new_occupants_ids"
)

// NotificationType is the closed set of group-membership notifications a
// message can carry. It is parsed once from the wire representation; any
// unrecognized or absent value maps to NotificationNone.
type NotificationType int

const (
	NotificationNone NotificationType = iota
	NotificationCreateDialog
	NotificationAddOccupants
	NotificationLeaveDialog
)

// ParseNotificationType maps the wire value of the notification_type custom
// parameter to its variant.
func ParseNotificationType(raw string) NotificationType {
	switch raw {
	case "1":
		return NotificationCreateDialog
	case "2":
		return NotificationAddOccupants
	case "3":
		return NotificationLeaveDialog
	default:
		return NotificationNone
	}
}

func (t NotificationType) wire() string {
	switch t {
	case NotificationCreateDialog:
		return "1"
	case NotificationAddOccupants:
		return "2"
	case NotificationLeaveDialog:
		return "3"
	default:
		return ""
	}
}

func (t NotificationType) String() string {
	switch t {
	case NotificationCreateDialog:
		return "create_dialog"
	case NotificationAddOccupants:
		return "add_occupants"
	case NotificationLeaveDialog:
		return "leave_dialog"
	default:
		return "none"
	}
}

// Message is transient: it is consumed once to update dialog and user state
// and is never persisted by the sync layer.
type Message struct {
	ID           string            `json:"id"`
	DialogID     string            `json:"dialogId"`
	SenderID     uint64            `json:"senderId"`
	RecipientID  uint64            `json:"recipientId,omitempty"`
	Text         string            `json:"message"`
	DateSent     time.Time         `json:"dateSent"`
	DeliveredIDs []uint64          `json:"deliveredIds,omitempty"`
	ReadIDs      []uint64          `json:"readIds,omitempty"`
	Attachments  []Attachment      `json:"attachments,omitempty"`
	Markable     bool              `json:"markable"`
	Params       map[string]string `json:"customParameters,omitempty"`
}

// Notification returns the group-notification variant carried by the
// message's custom parameters.
func (m *Message) Notification() NotificationType {
	if m.Params == nil {
		return NotificationNone
	}
	return ParseNotificationType(m.Params[paramNotificationType])
}

// NotificationDialogID returns the dialog id carried in the notification
// metadata, falling back to the message's own dialog id.
func (m *Message) NotificationDialogID() string {
	if m.Params != nil {
		if id := m.Params[paramDialogID]; id != "" {
			return id
		}
	}
	return m.DialogID
}

// NewOccupantIDs parses the comma-joined id list carried by an add-occupants
// notification. Malformed entries are skipped.
func (m *Message) NewOccupantIDs() []uint64 {
	if m.Params == nil {
		return nil
	}
	return parseIDList(m.Params[paramNewOccupantIDs])
}

// SummaryText returns the text shown as a dialog's last message, replacing
// it with the attachment placeholder when the message carries attachments.
func (m *Message) SummaryText() string {
	if len(m.Attachments) > 0 {
		return AttachmentPlaceholder
	}
	return m.Text
}

// Delivered reports whether the message was delivered to the given user.
func (m *Message) Delivered(userID uint64) bool {
	return containsID(m.DeliveredIDs, userID)
}

// Read reports whether the message was read by the given user.
func (m *Message) Read(userID uint64) bool {
	return containsID(m.ReadIDs, userID)
}

// ============================================================================
// Request / Response Types
// ============================================================================

// Page is the cursor state for a paginated fetch.
type Page struct {
	Skip  int `json:"skip"`
	Limit int `json:"limit"`
}

// DialogPage is one page of a dialog listing, with the server-reported total.
type DialogPage struct {
	Dialogs      []Dialog `json:"items"`
	Skip         int      `json:"skip"`
	Limit        int      `json:"limit"`
	TotalEntries int      `json:"totalEntries"`
}

// DialogUpdate describes a partial update to a dialog.
type DialogUpdate struct {
	Name            string   `json:"name,omitempty"`
	PushOccupantIDs []uint64 `json:"pushOccupantsIds,omitempty"`
	PullOccupantIDs []uint64 `json:"pullOccupantsIds,omitempty"`
}

// DeleteResult reports the per-id outcome of a bulk dialog deletion.
type DeleteResult struct {
	DeletedIDs   []string `json:"successfullyDeleted,omitempty"`
	NotFoundIDs  []string `json:"notFound,omitempty"`
	ForbiddenIDs []string `json:"wrongPermissions,omitempty"`
}

// Session is an authenticated ChatKit session. Token is a JWT whose expiry
// gates re-authentication on Connect.
type Session struct {
	Token  string `json:"token"`
	UserID uint64 `json:"userId"`
}

// ============================================================================
// ID list helpers
// ============================================================================

func containsID(ids []uint64, id uint64) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}

// parseIDList parses a comma-joined id list ("34,45,55").
func parseIDList(raw string) []uint64 {
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	ids := make([]uint64, 0, len(parts))
	for _, p := range parts {
		id, err := strconv.ParseUint(strings.TrimSpace(p), 10, 64)
		if err != nil {
			continue
		}
		ids = append(ids, id)
	}
	return ids
}

// joinIDList renders ids as a comma-joined list.
func joinIDList(ids []uint64) string {
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = strconv.FormatUint(id, 10)
	}
	return strings.Join(parts, ",")
}
