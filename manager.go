package chatkit

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ============================================================================
// Errors
// ============================================================================

var (
	// ErrNotFound is returned when a requested record does not exist
	// remotely.
	ErrNotFound = errors.New("chatkit: not found")

	// ErrNoConnection is returned when an operation requires connectivity
	// and none is available. The operation still settles its delegate
	// callbacks before returning.
	ErrNoConnection = errors.New("chatkit: no connection")

	// ErrMissingSession is returned when a connection is attempted without
	// an authenticated session.
	ErrMissingSession = errors.New("chatkit: no session, authenticate first")

	// ErrMissingCredentials is returned by Connect when no credentials were
	// configured and the cached session has expired.
	ErrMissingCredentials = errors.New("chatkit: no cached credentials")
)

// ErrorMessage maps a failed operation to a user-facing string: bad gateway
// and transport failures get fixed phrasings, anything else surfaces the
// server message with parenthesis characters stripped.
func ErrorMessage(err error) string {
	if err == nil {
		return ""
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		switch apiErr.Status {
		case http.StatusBadGateway:
			return "Bad Gateway, please try again"
		case 0:
			return "Connection network error, please try again"
		default:
			return strings.NewReplacer("(", "", ")", "").Replace(apiErr.Message)
		}
	}
	if errors.Is(err, ErrNoConnection) {
		return "No Internet Connection"
	}
	return "Connection network error, please try again"
}

// ============================================================================
// Collaborator interfaces
// ============================================================================

// ChatService is the remote directory/chat service the sync layer consumes.
// *Client implements it; tests substitute fakes.
type ChatService interface {
	FetchDialogs(ctx context.Context, page Page, filter map[string]string) (*DialogPage, error)
	FetchDialog(ctx context.Context, dialogID string) (*Dialog, error)
	CreateDialog(ctx context.Context, dialog Dialog) (*Dialog, error)
	UpdateDialog(ctx context.Context, dialogID string, update DialogUpdate) (*Dialog, error)
	DeleteDialogs(ctx context.Context, dialogIDs []string, forAllUsers bool) (*DeleteResult, error)
	JoinDialog(ctx context.Context, dialogID string) error

	FetchUsers(ctx context.Context, page Page, filter map[string]string) ([]User, error)
	FetchUsersByIDs(ctx context.Context, ids []uint64, page Page) ([]User, error)
	FetchUser(ctx context.Context, id uint64) (*User, error)

	FetchMessages(ctx context.Context, dialogID string, page Page, filter map[string]string) ([]Message, error)
	SendMessage(ctx context.Context, msg *Message) error
	SendSystemMessage(ctx context.Context, msg *Message) error
	MarkDelivered(ctx context.Context, msg *Message) error
	MarkRead(ctx context.Context, msg *Message) error

	Authenticate(ctx context.Context, login, password string) (*Session, error)
	SessionValid() bool
	Connect(ctx context.Context) error
	Disconnect() error
	IsConnected() bool
}

// Delegate receives storage update events, typically to drive a UI.
// Methods are invoked from the goroutine running the triggering operation.
type Delegate interface {
	StorageRefreshStarted()
	StorageRefreshFailed(message string)
	StorageRefreshSucceeded(message string)
	DialogUpdated(dialog Dialog)
}

type noopDelegate struct{}

func (noopDelegate) StorageRefreshStarted()         {}
func (noopDelegate) StorageRefreshFailed(string)    {}
func (noopDelegate) StorageRefreshSucceeded(string) {}
func (noopDelegate) DialogUpdated(Dialog)           {}

// ============================================================================
// ChatManager
// ============================================================================

// ChatManager is the sync orchestrator: it composes the pagination driver,
// the notification reconciler, and Storage into the public API surface. One
// manager owns one Storage; operations may be issued from independent
// goroutines, but each runs to its own completion and cannot be aborted.
type ChatManager struct {
	service ChatService
	storage *Storage

	currentUserID uint64
	login         string
	password      string

	dialogsPageSize  int
	usersPageSize    int
	messagesPageSize int

	mu       sync.Mutex
	delegate Delegate
	badge    int

	// deliverMu serializes incoming deliveries; HandleMessage copies a
	// cached dialog, mutates it, and writes it back, which is only safe
	// applied one at a time.
	deliverMu sync.Mutex
}

type ManagerOption func(*ChatManager)

// WithCurrentUser sets the local user id, used to distinguish self-sent
// messages and self-membership.
func WithCurrentUser(id uint64) ManagerOption {
	return func(m *ChatManager) { m.currentUserID = id }
}

// WithCredentials caches the login used by Connect to re-authenticate when
// the session token has expired.
func WithCredentials(login, password string) ManagerOption {
	return func(m *ChatManager) { m.login, m.password = login, password }
}

// WithDelegate sets the UI notifier.
func WithDelegate(d Delegate) ManagerOption {
	return func(m *ChatManager) { m.delegate = d }
}

// WithDialogsPageSize overrides the full-refresh page size.
func WithDialogsPageSize(n int) ManagerOption {
	return func(m *ChatManager) { m.dialogsPageSize = n }
}

// WithUsersPageSize overrides the user listing page size.
func WithUsersPageSize(n int) ManagerOption {
	return func(m *ChatManager) { m.usersPageSize = n }
}

// WithMessagesPageSize overrides the message history page size.
func WithMessagesPageSize(n int) ManagerOption {
	return func(m *ChatManager) { m.messagesPageSize = n }
}

// NewChatManager creates a manager over the given service and storage.
func NewChatManager(service ChatService, storage *Storage, opts ...ManagerOption) *ChatManager {
	m := &ChatManager{
		service:          service,
		storage:          storage,
		delegate:         noopDelegate{},
		dialogsPageSize:  DefaultDialogsPageSize,
		usersPageSize:    DefaultUsersPageSize,
		messagesPageSize: DefaultMessagesPageSize,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Storage returns the local cache owned by this manager.
func (m *ChatManager) Storage() *Storage { return m.storage }

// CurrentUserID returns the local user id.
func (m *ChatManager) CurrentUserID() uint64 { return m.currentUserID }

// SetDelegate replaces the UI notifier.
func (m *ChatManager) SetDelegate(d Delegate) {
	m.mu.Lock()
	if d == nil {
		d = noopDelegate{}
	}
	m.delegate = d
	m.mu.Unlock()
}

func (m *ChatManager) notifier() Delegate {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.delegate
}

func (m *ChatManager) notifyDialogUpdated(d Dialog) {
	m.notifier().DialogUpdated(d)
}

// ── Badge counter ────────────────────────────────────────

// UnreadBadge returns the device-wide unread counter.
func (m *ChatManager) UnreadBadge() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.badge
}

func (m *ChatManager) addBadge(delta int) {
	m.mu.Lock()
	m.badge += delta
	if m.badge < 0 {
		m.badge = 0
	}
	m.mu.Unlock()
}

// ============================================================================
// Connection lifecycle
// ============================================================================

// Connect authenticates with the cached credentials if needed and opens the
// message stream. Connecting while already connected is a no-op.
func (m *ChatManager) Connect(ctx context.Context) error {
	if m.service.IsConnected() {
		return nil
	}
	if !m.service.SessionValid() {
		if m.login == "" {
			return ErrMissingCredentials
		}
		session, err := m.service.Authenticate(ctx, m.login, m.password)
		if err != nil {
			return fmt.Errorf("authenticate: %w", err)
		}
		if m.currentUserID == 0 {
			m.currentUserID = session.UserID
		}
	}
	return m.service.Connect(ctx)
}

// Disconnect closes the message stream. A no-op when not connected.
func (m *ChatManager) Disconnect() error {
	if !m.service.IsConnected() {
		return nil
	}
	return m.service.Disconnect()
}

// ============================================================================
// Full refresh
// ============================================================================

// UpdateStorage refreshes the entire dialog cache and resolves every
// referenced user. Without connectivity it settles immediately: the
// delegate is told the refresh failed and ErrNoConnection is returned.
// A mid-listing page failure keeps the pages already committed.
func (m *ChatManager) UpdateStorage(ctx context.Context) error {
	notifier := m.notifier()
	notifier.StorageRefreshStarted()

	if !m.service.IsConnected() {
		notifier.StorageRefreshFailed(ErrorMessage(ErrNoConnection))
		return ErrNoConnection
	}

	dialogCount := 0
	err := m.syncDialogs(ctx, nil, func(page []Dialog) {
		dialogCount += len(page)
	})
	if err != nil {
		notifier.StorageRefreshFailed(ErrorMessage(err))
		return err
	}

	notifier.StorageRefreshSucceeded(fmt.Sprintf("Refreshed %d dialogs", dialogCount))
	return nil
}

// ============================================================================
// Dialog operations
// ============================================================================

// CreateGroupDialog creates and joins a group dialog. A join failure
// surfaces as an error and the cache is left untouched.
func (m *ChatManager) CreateGroupDialog(ctx context.Context, name string, occupantIDs []uint64) (*Dialog, error) {
	created, err := m.service.CreateDialog(ctx, Dialog{
		Type:        DialogGroup,
		Name:        name,
		OccupantIDs: occupantIDs,
	})
	if err != nil {
		return nil, err
	}
	if err := m.service.JoinDialog(ctx, created.ID); err != nil {
		return nil, fmt.Errorf("join dialog %s: %w", created.ID, err)
	}

	m.storage.UpdateDialogs(*created)
	m.notifyDialogUpdated(*created)
	return created, nil
}

// CreatePrivateDialog returns the existing private dialog with the opponent
// when one is cached (no remote call), creating it remotely otherwise.
func (m *ChatManager) CreatePrivateDialog(ctx context.Context, opponentID uint64) (*Dialog, error) {
	if d, ok := m.storage.PrivateDialog(opponentID); ok {
		return &d, nil
	}

	created, err := m.service.CreateDialog(ctx, Dialog{
		Type:        DialogPrivate,
		OccupantIDs: []uint64{opponentID},
	})
	if err != nil {
		return nil, err
	}

	m.storage.UpdateDialogs(*created)
	m.notifyDialogUpdated(*created)
	return created, nil
}

// LeaveDialog removes the current user from a dialog. Private dialogs are
// deleted for the current user, group dialogs drop self from the occupant
// list, public dialogs are not user-leavable via this path. A not-found or
// forbidden response on a non-public dialog still evicts the cache entry:
// the dialog is already gone remotely.
func (m *ChatManager) LeaveDialog(ctx context.Context, dialogID string) error {
	dialog, ok := m.storage.Dialog(dialogID)
	if !ok {
		return ErrNotFound
	}

	var err error
	switch dialog.Type {
	case DialogPublic:
		return nil
	case DialogPrivate:
		_, err = m.service.DeleteDialogs(ctx, []string{dialogID}, false)
	case DialogGroup:
		_, err = m.service.UpdateDialog(ctx, dialogID, DialogUpdate{
			PullOccupantIDs: []uint64{m.currentUserID},
		})
	default:
		return fmt.Errorf("chatkit: unknown dialog type %q", dialog.Type)
	}

	if err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) &&
			(apiErr.Status == http.StatusNotFound || apiErr.Status == http.StatusForbidden) {
			m.storage.DeleteDialog(dialogID)
			return nil
		}
		return err
	}

	m.storage.DeleteDialog(dialogID)
	return nil
}

// LoadDialog fetches a single dialog by id, resolves any newly referenced
// users, and upserts it into the cache.
func (m *ChatManager) LoadDialog(ctx context.Context, dialogID string) (*Dialog, error) {
	dialog, err := m.service.FetchDialog(ctx, dialogID)
	if err != nil {
		return nil, err
	}
	if err := m.resolveUsers(ctx, m.storage.MissingUserIDs(dialog.OccupantIDs)); err != nil {
		return nil, err
	}
	m.storage.UpdateDialogs(*dialog)
	return dialog, nil
}

// JoinOccupants adds occupants to a group dialog. The transient
// push-occupants field is cleared on both the success and failure path.
func (m *ChatManager) JoinOccupants(ctx context.Context, dialog Dialog, occupantIDs []uint64) (*Dialog, error) {
	dialog.PushOccupantIDs = occupantIDs

	updated, err := m.service.UpdateDialog(ctx, dialog.ID, DialogUpdate{
		PushOccupantIDs: occupantIDs,
	})
	dialog.PushOccupantIDs = nil
	if err != nil {
		return nil, err
	}
	updated.PushOccupantIDs = nil

	m.storage.UpdateDialogs(*updated)
	m.notifyDialogUpdated(*updated)
	return updated, nil
}

// ============================================================================
// Message operations
// ============================================================================

// Messages fetches one page of a dialog's history, newest first on the wire
// with mark-as-read suppressed, returned in chronological order. hasMore is
// true when the page came back full.
func (m *ChatManager) Messages(ctx context.Context, dialogID string, skip int) (messages []Message, hasMore bool, err error) {
	limit := m.messagesPageSize
	fetched, err := m.service.FetchMessages(ctx, dialogID, Page{Skip: skip, Limit: limit}, map[string]string{
		"sort_desc":    "date_sent",
		"mark_as_read": "0",
	})
	if err != nil {
		return nil, false, err
	}

	// Reverse newest-first into chronological order.
	for i, j := 0, len(fetched)-1; i < j; i, j = i+1, j-1 {
		fetched[i], fetched[j] = fetched[j], fetched[i]
	}
	return fetched, len(fetched) == limit, nil
}

// SendMessage sends a chat message. Missing fields are defaulted: id,
// sender, sent date, markable. On success the dialog's updated timestamp is
// bumped and the delegate notified.
func (m *ChatManager) SendMessage(ctx context.Context, msg *Message) error {
	m.prepareMessage(msg)

	if err := m.service.SendMessage(ctx, msg); err != nil {
		return err
	}

	if dialog, ok := m.storage.Dialog(msg.DialogID); ok {
		dialog.UpdatedAt = msg.DateSent
		m.storage.UpdateDialogs(dialog)
		m.notifyDialogUpdated(dialog)
	}
	return nil
}

// SendAddingMessage announces newly added occupants to a dialog: a chat
// message in the dialog itself plus an unmarkable system message to every
// other occupant carrying the add-occupants notification metadata.
func (m *ChatManager) SendAddingMessage(ctx context.Context, dialog Dialog, addedIDs []uint64) error {
	text := fmt.Sprintf("%s added %s", m.displayName(m.currentUserID), m.displayNames(addedIDs))
	params := map[string]string{
		paramNotificationType: NotificationAddOccupants.wire(),
		paramDialogID:         dialog.ID,
		paramNewOccupantIDs:   joinIDList(addedIDs),
	}

	if err := m.SendMessage(ctx, &Message{
		DialogID: dialog.ID,
		Text:     text,
		Params:   params,
	}); err != nil {
		return err
	}

	m.fanOutSystemMessage(ctx, dialog, text, params)
	return nil
}

// SendLeaveMessage announces that the current user is leaving the dialog,
// with the same chat-plus-system fan-out as SendAddingMessage.
func (m *ChatManager) SendLeaveMessage(ctx context.Context, dialog Dialog) error {
	text := fmt.Sprintf("%s has left", m.displayName(m.currentUserID))
	params := map[string]string{
		paramNotificationType: NotificationLeaveDialog.wire(),
		paramDialogID:         dialog.ID,
	}

	if err := m.SendMessage(ctx, &Message{
		DialogID: dialog.ID,
		Text:     text,
		Params:   params,
	}); err != nil {
		return err
	}

	m.fanOutSystemMessage(ctx, dialog, text, params)
	return nil
}

// fanOutSystemMessage sends one system message per other occupant, in
// parallel. System messages are fire-and-forget: individual send failures
// are not surfaced.
func (m *ChatManager) fanOutSystemMessage(ctx context.Context, dialog Dialog, text string, params map[string]string) {
	var wg sync.WaitGroup
	for _, occupantID := range dialog.OccupantIDs {
		if occupantID == m.currentUserID {
			continue
		}
		sysMsg := &Message{
			DialogID:    dialog.ID,
			RecipientID: occupantID,
			Text:        text,
			Params:      params,
		}
		m.prepareMessage(sysMsg)
		// System messages must not be markable: they never enter history.
		sysMsg.Markable = false

		wg.Add(1)
		go func(msg *Message) {
			defer wg.Done()
			_ = m.service.SendSystemMessage(ctx, msg)
		}(sysMsg)
	}
	wg.Wait()
}

func (m *ChatManager) prepareMessage(msg *Message) {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.SenderID == 0 {
		msg.SenderID = m.currentUserID
	}
	if msg.DateSent.IsZero() {
		msg.DateSent = time.Now()
	}
	msg.Markable = true
}

func (m *ChatManager) displayName(id uint64) string {
	if u, ok := m.storage.User(id); ok {
		return u.DisplayName()
	}
	return fmt.Sprintf("user %d", id)
}

func (m *ChatManager) displayNames(ids []uint64) string {
	names := make([]string, len(ids))
	for i, id := range ids {
		names[i] = m.displayName(id)
	}
	return strings.Join(names, ", ")
}

// ============================================================================
// Read receipts
// ============================================================================

// ReadMessage marks a single message of the dialog as delivered and read.
func (m *ChatManager) ReadMessage(ctx context.Context, msg Message, dialogID string) error {
	return m.ReadMessages(ctx, []Message{msg}, dialogID)
}

// ReadMessages acknowledges a batch of messages: every message of the
// target dialog is marked delivered (when needed) then read, concurrently.
// Each successful read decrements the dialog's unread count and the badge
// counter, both floored at zero. All acknowledgements are joined before one
// aggregate dialog-updated event fires.
func (m *ChatManager) ReadMessages(ctx context.Context, messages []Message, dialogID string) error {
	var (
		wg        sync.WaitGroup
		countMu   sync.Mutex
		succeeded int
		firstErr  error
	)

	for i := range messages {
		msg := messages[i]
		if msg.DialogID != dialogID || msg.Read(m.currentUserID) {
			continue
		}

		wg.Add(1)
		go func() {
			defer wg.Done()
			if !msg.Delivered(m.currentUserID) {
				if err := m.service.MarkDelivered(ctx, &msg); err != nil {
					countMu.Lock()
					if firstErr == nil {
						firstErr = err
					}
					countMu.Unlock()
					return
				}
			}
			if err := m.service.MarkRead(ctx, &msg); err != nil {
				countMu.Lock()
				if firstErr == nil {
					firstErr = err
				}
				countMu.Unlock()
				return
			}
			countMu.Lock()
			succeeded++
			countMu.Unlock()
		}()
	}
	wg.Wait()

	if succeeded > 0 {
		m.addBadge(-succeeded)
		if dialog, ok := m.storage.Dialog(dialogID); ok {
			dialog.UnreadCount -= succeeded
			if dialog.UnreadCount < 0 {
				dialog.UnreadCount = 0
			}
			m.storage.UpdateDialogs(dialog)
			m.notifyDialogUpdated(dialog)
		}
	}
	return firstErr
}

// ============================================================================
// User operations
// ============================================================================

// SyncUsers pages through the whole user directory into Storage.
func (m *ChatManager) SyncUsers(ctx context.Context) error {
	return m.syncUsers(ctx, nil, nil)
}

// SearchUsers runs a full-name search against the directory, caching every
// page of results.
func (m *ChatManager) SearchUsers(ctx context.Context, query string) ([]User, error) {
	var found []User
	err := m.syncUsers(ctx, map[string]string{"full_name": query}, func(page []User) {
		found = append(found, page...)
	})
	if err != nil {
		return nil, err
	}
	return found, nil
}

// LoadUser fetches a single user through the cache.
func (m *ChatManager) LoadUser(ctx context.Context, id uint64) (*User, error) {
	if u, ok := m.storage.User(id); ok {
		return &u, nil
	}
	u, err := m.service.FetchUser(ctx, id)
	if err != nil {
		return nil, err
	}
	m.storage.UpdateUsers(*u)
	return u, nil
}
