package chatkit

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// ============================================================================
// Webhook Types
// ============================================================================

// WebhookPayload represents a ChatKit Cloud webhook payload (POST to a
// registered callback endpoint).
type WebhookPayload struct {
	Source    string        `json:"source"`
	Event     string        `json:"event"`
	Timestamp int64         `json:"timestamp"`
	Message   Message       `json:"message"`
	Sender    WebhookSender `json:"sender"`
	Dialog    WebhookDialog `json:"dialog"`
}

// WebhookSender represents sender information in a webhook payload.
type WebhookSender struct {
	ID       uint64 `json:"id"`
	Login    string `json:"login"`
	FullName string `json:"fullName"`
}

// WebhookDialog represents dialog information in a webhook payload.
type WebhookDialog struct {
	ID   string     `json:"id"`
	Type DialogType `json:"type"`
	Name string     `json:"name"`
}

// WebhookHandlerFunc is the callback signature for handling webhook payloads.
type WebhookHandlerFunc func(payload *WebhookPayload) error

// ============================================================================
// Standalone Functions
// ============================================================================

// VerifyWebhookSignature verifies a ChatKit Cloud webhook signature using
// HMAC-SHA256. Uses constant-time comparison to prevent timing attacks.
func VerifyWebhookSignature(body, signature, secret string) bool {
	if body == "" || signature == "" || secret == "" {
		return false
	}

	sig := signature
	if strings.HasPrefix(sig, "sha256=") {
		sig = sig[7:]
	}
	if sig == "" {
		return false
	}

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(body))
	expected := hex.EncodeToString(mac.Sum(nil))

	if len(sig) != len(expected) {
		return false
	}

	return subtle.ConstantTimeCompare([]byte(sig), []byte(expected)) == 1
}

// ParseWebhookPayload parses a raw webhook body into a typed WebhookPayload.
func ParseWebhookPayload(body string) (*WebhookPayload, error) {
	var payload WebhookPayload
	if err := json.Unmarshal([]byte(body), &payload); err != nil {
		return nil, fmt.Errorf("invalid JSON in webhook body: %w", err)
	}

	if payload.Source != "chatkit_cloud" {
		return nil, fmt.Errorf("unknown webhook source: %s", payload.Source)
	}
	if payload.Event == "" {
		return nil, fmt.Errorf("missing event field in webhook payload")
	}
	if payload.Message.ID == "" || payload.Sender.ID == 0 || payload.Dialog.ID == "" {
		return nil, fmt.Errorf("missing required fields in webhook payload (message, sender, dialog)")
	}

	return &payload, nil
}

// ============================================================================
// ChatWebhook
// ============================================================================

// ChatWebhook handles ChatKit Cloud webhook verification, parsing, and
// dispatch.
type ChatWebhook struct {
	secret    string
	onMessage WebhookHandlerFunc
}

// NewChatWebhook creates a new webhook handler.
func NewChatWebhook(secret string, onMessage WebhookHandlerFunc) (*ChatWebhook, error) {
	if secret == "" {
		return nil, fmt.Errorf("webhook secret is required")
	}
	return &ChatWebhook{
		secret:    secret,
		onMessage: onMessage,
	}, nil
}

// BindManager routes every verified payload's message into the manager's
// reconciler, replacing any handler set at construction. The counterpart of
// RealtimeClient.BindManager for the webhook delivery path.
func (w *ChatWebhook) BindManager(m *ChatManager) {
	w.onMessage = func(p *WebhookPayload) error {
		return m.HandleMessage(context.Background(), p.Message)
	}
}

// Verify verifies an HMAC-SHA256 signature.
func (w *ChatWebhook) Verify(body, signature string) bool {
	return VerifyWebhookSignature(body, signature, w.secret)
}

// Parse parses a raw body into a typed WebhookPayload.
func (w *ChatWebhook) Parse(body string) (*WebhookPayload, error) {
	return ParseWebhookPayload(body)
}

// Handle processes a webhook request (verify + parse + call handler).
// Returns the status code and response body for the caller to write.
func (w *ChatWebhook) Handle(body, signature string) (int, any) {
	if !w.Verify(body, signature) {
		return http.StatusUnauthorized, map[string]string{"error": "Invalid signature"}
	}

	payload, err := w.Parse(body)
	if err != nil {
		return http.StatusBadRequest, map[string]string{"error": err.Error()}
	}

	if w.onMessage != nil {
		if err := w.onMessage(payload); err != nil {
			return http.StatusInternalServerError, map[string]string{"error": err.Error()}
		}
	}

	return http.StatusOK, map[string]bool{"ok": true}
}

// HTTPHandler returns an http.Handler that processes webhook requests.
//
// Example:
//
//	wh, _ := chatkit.NewChatWebhook("secret", handler)
//	http.Handle("/webhook", wh.HTTPHandler())
func (w *ChatWebhook) HTTPHandler() http.Handler {
	return http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			rw.Header().Set("Content-Type", "application/json")
			rw.WriteHeader(http.StatusMethodNotAllowed)
			json.NewEncoder(rw).Encode(map[string]string{"error": "Method not allowed"})
			return
		}

		bodyBytes, err := io.ReadAll(r.Body)
		if err != nil {
			rw.Header().Set("Content-Type", "application/json")
			rw.WriteHeader(http.StatusBadRequest)
			json.NewEncoder(rw).Encode(map[string]string{"error": "Failed to read body"})
			return
		}
		defer r.Body.Close()

		body := string(bodyBytes)
		signature := r.Header.Get("X-ChatKit-Signature")

		statusCode, data := w.Handle(body, signature)

		rw.Header().Set("Content-Type", "application/json")
		rw.WriteHeader(statusCode)
		json.NewEncoder(rw).Encode(data)
	})
}

// HTTPHandlerFunc returns an http.HandlerFunc for convenience.
func (w *ChatWebhook) HTTPHandlerFunc() http.HandlerFunc {
	return w.HTTPHandler().ServeHTTP
}
