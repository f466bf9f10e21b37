// Package chatkit provides the Go SDK for the ChatKit Cloud chat API.
//
// The package is organized around two layers: a thin REST/realtime Client,
// and a ChatManager that keeps a local Storage of dialogs and users
// consistent with the paginated, eventually-delivered remote store while
// group-membership notifications race against REST fetches.
//
// Example:
//
//	client := chatkit.NewClient("ck-app-...")
//	session, _ := client.Authenticate(ctx, "alice", "secret")
//
//	mgr := chatkit.NewChatManager(client, chatkit.NewStorage(),
//		chatkit.WithCredentials("alice", "secret"),
//		chatkit.WithCurrentUser(session.UserID))
//	_ = mgr.Connect(ctx)
//	_ = mgr.UpdateStorage(ctx)
package chatkit

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ============================================================================
// Environment
// ============================================================================

type Environment string

const (
	Production Environment = "production"
)

var environments = map[Environment]string{
	Production: "https://api.chatkit.cloud",
}

const (
	DefaultBaseURL = "https://api.chatkit.cloud"
	DefaultTimeout = 30 * time.Second
)

// ============================================================================
// Client
// ============================================================================

// Client is the ChatKit Cloud API client. It implements ChatService.
type Client struct {
	appKey     string
	baseURL    string
	httpClient *http.Client

	mu       sync.Mutex
	session  *Session
	realtime *RealtimeClient
}

type ClientOption func(*Client)

func WithBaseURL(url string) ClientOption {
	return func(c *Client) { c.baseURL = strings.TrimRight(url, "/") }
}

func WithEnvironment(env Environment) ClientOption {
	return func(c *Client) {
		if u, ok := environments[env]; ok {
			c.baseURL = u
		}
	}
}

func WithTimeout(timeout time.Duration) ClientOption {
	return func(c *Client) { c.httpClient.Timeout = timeout }
}

func WithHTTPClient(client *http.Client) ClientOption {
	return func(c *Client) { c.httpClient = client }
}

// WithSession seeds the client with a previously stored session, skipping
// re-authentication while the token is still valid.
func WithSession(session Session) ClientOption {
	return func(c *Client) { c.session = &session }
}

// NewClient creates a new ChatKit client. appKey identifies the application.
func NewClient(appKey string, opts ...ClientOption) *Client {
	c := &Client{
		appKey:  appKey,
		baseURL: DefaultBaseURL,
		httpClient: &http.Client{
			Timeout: DefaultTimeout,
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Session returns the current session, if authenticated.
func (c *Client) Session() (Session, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session == nil {
		return Session{}, false
	}
	return *c.session, true
}

// SetSession replaces the current session.
func (c *Client) SetSession(session Session) {
	c.mu.Lock()
	c.session = &session
	c.mu.Unlock()
}

// SessionValid reports whether the cached session token exists and has not
// expired. The token is a JWT; only the exp claim is inspected here, the
// server remains the authority on validity.
func (c *Client) SessionValid() bool {
	c.mu.Lock()
	session := c.session
	c.mu.Unlock()
	if session == nil || session.Token == "" {
		return false
	}

	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(session.Token, claims); err != nil {
		return false
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return false
	}
	return time.Until(exp.Time) > 30*time.Second
}

// ============================================================================
// Internal request helper
// ============================================================================

func (c *Client) doRequest(ctx context.Context, method, path string, body interface{}, query map[string]string) ([]byte, error) {
	u := c.baseURL + path
	if len(query) > 0 {
		params := url.Values{}
		for k, v := range query {
			params.Set(k, v)
		}
		u += "?" + params.Encode()
	}

	var bodyReader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request: %w", err)
		}
		bodyReader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.appKey != "" {
		req.Header.Set("X-ChatKit-App-Key", c.appKey)
	}
	if session, ok := c.Session(); ok && session.Token != "" {
		req.Header.Set("Authorization", "Bearer "+session.Token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode >= 300 {
		return nil, apiErrorFromResponse(resp.StatusCode, data)
	}
	return data, nil
}

// apiErrorFromResponse extracts the server error body, falling back to the
// HTTP status text when the body is not the expected envelope.
func apiErrorFromResponse(status int, data []byte) *APIError {
	var envelope struct {
		Error *APIError `json:"error"`
	}
	if json.Unmarshal(data, &envelope) == nil && envelope.Error != nil {
		envelope.Error.Status = status
		return envelope.Error
	}
	return &APIError{Status: status, Message: http.StatusText(status)}
}

func decodeJSON[T any](data []byte) (*T, error) {
	var result T
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response: %w", err)
	}
	return &result, nil
}

func pageQuery(page Page) map[string]string {
	q := map[string]string{}
	if page.Skip > 0 {
		q["skip"] = strconv.Itoa(page.Skip)
	}
	if page.Limit > 0 {
		q["limit"] = strconv.Itoa(page.Limit)
	}
	return q
}

// ============================================================================
// Auth
// ============================================================================

// Authenticate exchanges credentials for a session and caches it on the
// client.
func (c *Client) Authenticate(ctx context.Context, login, password string) (*Session, error) {
	data, err := c.doRequest(ctx, "POST", "/api/v2/session", map[string]string{
		"login":    login,
		"password": password,
	}, nil)
	if err != nil {
		return nil, err
	}
	session, err := decodeJSON[Session](data)
	if err != nil {
		return nil, err
	}
	c.SetSession(*session)
	return session, nil
}

// ============================================================================
// Dialogs
// ============================================================================

// FetchDialogs returns one page of the dialog listing. The extended filter
// parameters are passed through as query values.
func (c *Client) FetchDialogs(ctx context.Context, page Page, filter map[string]string) (*DialogPage, error) {
	q := pageQuery(page)
	for k, v := range filter {
		q[k] = v
	}
	data, err := c.doRequest(ctx, "GET", "/api/v2/dialogs", nil, q)
	if err != nil {
		return nil, err
	}
	return decodeJSON[DialogPage](data)
}

// FetchDialog fetches a single dialog by id via a filtered listing.
func (c *Client) FetchDialog(ctx context.Context, dialogID string) (*Dialog, error) {
	result, err := c.FetchDialogs(ctx, Page{Limit: 1}, map[string]string{"id": dialogID})
	if err != nil {
		return nil, err
	}
	if len(result.Dialogs) == 0 {
		return nil, ErrNotFound
	}
	return &result.Dialogs[0], nil
}

// CreateDialog creates a dialog from the given template.
func (c *Client) CreateDialog(ctx context.Context, dialog Dialog) (*Dialog, error) {
	data, err := c.doRequest(ctx, "POST", "/api/v2/dialogs", dialog, nil)
	if err != nil {
		return nil, err
	}
	return decodeJSON[Dialog](data)
}

// UpdateDialog applies a partial update and returns the updated dialog.
func (c *Client) UpdateDialog(ctx context.Context, dialogID string, update DialogUpdate) (*Dialog, error) {
	data, err := c.doRequest(ctx, "PUT", "/api/v2/dialogs/"+dialogID, update, nil)
	if err != nil {
		return nil, err
	}
	return decodeJSON[Dialog](data)
}

// DeleteDialogs removes dialogs by id. With forAllUsers false the dialogs
// are only removed for the current user.
func (c *Client) DeleteDialogs(ctx context.Context, dialogIDs []string, forAllUsers bool) (*DeleteResult, error) {
	q := map[string]string{}
	if forAllUsers {
		q["force"] = "1"
	}
	data, err := c.doRequest(ctx, "DELETE", "/api/v2/dialogs/"+strings.Join(dialogIDs, ","), nil, q)
	if err != nil {
		return nil, err
	}
	return decodeJSON[DeleteResult](data)
}

// JoinDialog subscribes the current user to a group dialog's message stream.
func (c *Client) JoinDialog(ctx context.Context, dialogID string) error {
	_, err := c.doRequest(ctx, "POST", "/api/v2/dialogs/"+dialogID+"/join", nil, nil)
	return err
}

// ============================================================================
// Users
// ============================================================================

type userListResult struct {
	Users []User `json:"items"`
}

// FetchUsers returns one page of the user directory. filter supports the
// extended search parameters (login, full_name).
func (c *Client) FetchUsers(ctx context.Context, page Page, filter map[string]string) ([]User, error) {
	q := pageQuery(page)
	for k, v := range filter {
		q[k] = v
	}
	data, err := c.doRequest(ctx, "GET", "/api/v2/users", nil, q)
	if err != nil {
		return nil, err
	}
	result, err := decodeJSON[userListResult](data)
	if err != nil {
		return nil, err
	}
	return result.Users, nil
}

// FetchUsersByIDs batch-fetches users by id, paginated.
func (c *Client) FetchUsersByIDs(ctx context.Context, ids []uint64, page Page) ([]User, error) {
	q := pageQuery(page)
	q["ids"] = joinIDList(ids)
	data, err := c.doRequest(ctx, "GET", "/api/v2/users/by-ids", nil, q)
	if err != nil {
		return nil, err
	}
	result, err := decodeJSON[userListResult](data)
	if err != nil {
		return nil, err
	}
	return result.Users, nil
}

// FetchUser fetches a single user record.
func (c *Client) FetchUser(ctx context.Context, id uint64) (*User, error) {
	data, err := c.doRequest(ctx, "GET", "/api/v2/users/"+strconv.FormatUint(id, 10), nil, nil)
	if err != nil {
		return nil, err
	}
	return decodeJSON[User](data)
}

// ============================================================================
// Messages
// ============================================================================

type messageListResult struct {
	Messages []Message `json:"items"`
}

// FetchMessages returns one page of a dialog's history. filter passes the
// extended parameters (sort order, mark_as_read) through as query values.
func (c *Client) FetchMessages(ctx context.Context, dialogID string, page Page, filter map[string]string) ([]Message, error) {
	q := pageQuery(page)
	q["dialog_id"] = dialogID
	for k, v := range filter {
		q[k] = v
	}
	data, err := c.doRequest(ctx, "GET", "/api/v2/messages", nil, q)
	if err != nil {
		return nil, err
	}
	result, err := decodeJSON[messageListResult](data)
	if err != nil {
		return nil, err
	}
	return result.Messages, nil
}

// SendMessage posts a chat message to its dialog.
func (c *Client) SendMessage(ctx context.Context, msg *Message) error {
	_, err := c.doRequest(ctx, "POST", "/api/v2/messages", msg, nil)
	return err
}

// SendSystemMessage delivers a metadata-only message to its recipient.
// System messages are not stored in history and carry no delivery
// confirmation.
func (c *Client) SendSystemMessage(ctx context.Context, msg *Message) error {
	_, err := c.doRequest(ctx, "POST", "/api/v2/system-messages", msg, nil)
	return err
}

// MarkDelivered acknowledges delivery of a message to the current user.
func (c *Client) MarkDelivered(ctx context.Context, msg *Message) error {
	_, err := c.doRequest(ctx, "PUT", "/api/v2/messages/"+msg.ID+"/delivered", nil, nil)
	return err
}

// MarkRead acknowledges that the current user read a message.
func (c *Client) MarkRead(ctx context.Context, msg *Message) error {
	_, err := c.doRequest(ctx, "PUT", "/api/v2/messages/"+msg.ID+"/read", nil, nil)
	return err
}

// ============================================================================
// Connection lifecycle
// ============================================================================

// Realtime returns the realtime connection, creating it on first use.
func (c *Client) Realtime() *RealtimeClient {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.realtime == nil {
		c.realtime = newRealtimeClient(c.baseURL, &RealtimeConfig{AutoReconnect: true})
	}
	return c.realtime
}

// Connect establishes the realtime message stream using the cached session.
// Connecting while already connected is a no-op.
func (c *Client) Connect(ctx context.Context) error {
	session, ok := c.Session()
	if !ok {
		return ErrMissingSession
	}
	rt := c.Realtime()
	rt.setToken(session.Token)
	return rt.Connect(ctx)
}

// Disconnect closes the realtime stream. Disconnecting while not connected
// is a no-op.
func (c *Client) Disconnect() error {
	c.mu.Lock()
	rt := c.realtime
	c.mu.Unlock()
	if rt == nil {
		return nil
	}
	return rt.Disconnect()
}

// IsConnected reports whether the realtime stream is established.
func (c *Client) IsConnected() bool {
	c.mu.Lock()
	rt := c.realtime
	c.mu.Unlock()
	return rt != nil && rt.State() == StateConnected
}
