//go:build integration

package chatkit

import (
	"context"
	"os"
	"testing"
	"time"
)

// Live tests against a real ChatKit Cloud application. Run with:
//
//	CHATKIT_APP_KEY=... CHATKIT_LOGIN=... CHATKIT_PASSWORD=... \
//	  go test -tags integration -run TestLive -v
func liveManager(t *testing.T) *ChatManager {
	t.Helper()
	appKey := os.Getenv("CHATKIT_APP_KEY")
	login := os.Getenv("CHATKIT_LOGIN")
	password := os.Getenv("CHATKIT_PASSWORD")
	if appKey == "" || login == "" || password == "" {
		t.Skip("CHATKIT_APP_KEY, CHATKIT_LOGIN, CHATKIT_PASSWORD not set")
	}

	client := NewClient(appKey)
	if url := os.Getenv("CHATKIT_BASE_URL"); url != "" {
		client = NewClient(appKey, WithBaseURL(url))
	}
	return NewChatManager(client, NewStorage(), WithCredentials(login, password))
}

func TestLiveFullRefresh(t *testing.T) {
	m := liveManager(t)
	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	if err := m.Connect(ctx); err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer m.Disconnect()

	if err := m.UpdateStorage(ctx); err != nil {
		t.Fatalf("refresh: %v", err)
	}
	t.Logf("cached %d dialogs, %d users", len(m.Storage().Dialogs()), len(m.Storage().Users()))
}

func TestLiveGroupDialogRoundtrip(t *testing.T) {
	m := liveManager(t)
	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	if err := m.Connect(ctx); err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer m.Disconnect()

	dialog, err := m.CreateGroupDialog(ctx, "sdk-live-test", nil)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	defer func() {
		if err := m.LeaveDialog(ctx, dialog.ID); err != nil {
			t.Logf("cleanup leave: %v", err)
		}
	}()

	msg := &Message{DialogID: dialog.ID, Text: "live test message"}
	if err := m.SendMessage(ctx, msg); err != nil {
		t.Fatalf("send: %v", err)
	}

	messages, _, err := m.Messages(ctx, dialog.ID, 0)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	found := false
	for _, got := range messages {
		if got.ID == msg.ID {
			found = true
		}
	}
	if !found {
		t.Fatal("sent message missing from history")
	}
}
