package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	chatkit "github.com/usama2razzaq/chatkit-go"
)

// ============================================================================
// Flag variables
// ============================================================================

var (
	// dialogs list
	dialogsListJSON  bool
	dialogsListLimit int
	dialogsListSkip  int

	// dialogs create
	dialogsCreateOccupants string
	dialogsCreateJSON      bool

	// messages
	messagesSkip int
	messagesJSON bool

	// users search
	usersSearchJSON bool
)

// ============================================================================
// cliDelegate
// ============================================================================

// cliDelegate prints sync progress and dialog updates to stdout.
type cliDelegate struct{}

func (cliDelegate) StorageRefreshStarted() {
	fmt.Println("Refreshing dialogs...")
}

func (cliDelegate) StorageRefreshFailed(reason string) {
	fmt.Fprintf(os.Stderr, "Refresh failed: %s\n", reason)
}

func (cliDelegate) StorageRefreshSucceeded(info string) {
	fmt.Println(info)
}

func (cliDelegate) DialogUpdated(d chatkit.Dialog) {
	fmt.Printf("  %s: %s  (last: %s, unread: %d)\n", d.ID, dialogTitle(d), d.LastMessageText, d.UnreadCount)
}

// dialogTitle returns a printable name for a dialog.
func dialogTitle(d chatkit.Dialog) string {
	if d.Name != "" {
		return d.Name
	}
	return string(d.Type)
}

// ============================================================================
// sync
// ============================================================================

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Connect and refresh the local dialog cache",
	RunE: func(cmd *cobra.Command, args []string) error {
		mgr := getManager()
		mgr.SetDelegate(cliDelegate{})

		ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
		defer cancel()

		if err := mgr.Connect(ctx); err != nil {
			return fmt.Errorf("connect failed: %s", chatkit.ErrorMessage(err))
		}
		defer mgr.Disconnect()

		if err := mgr.UpdateStorage(ctx); err != nil {
			return fmt.Errorf("refresh failed: %s", chatkit.ErrorMessage(err))
		}

		dialogs := mgr.Storage().Dialogs()
		if len(dialogs) == 0 {
			fmt.Println("No dialogs.")
			return nil
		}
		for _, d := range dialogs {
			fmt.Printf("  %s: %s  (last: %s, unread: %d)\n", d.ID, dialogTitle(d), d.LastMessageText, d.UnreadCount)
		}
		return nil
	},
}

// ============================================================================
// listen
// ============================================================================

var listenCmd = &cobra.Command{
	Use:   "listen",
	Short: "Connect and print incoming dialog updates until interrupted",
	RunE: func(cmd *cobra.Command, args []string) error {
		client := getClient()
		mgr := getManager()
		mgr.SetDelegate(cliDelegate{})
		client.Realtime().BindManager(mgr)

		ctx := context.Background()
		if err := mgr.Connect(ctx); err != nil {
			return fmt.Errorf("connect failed: %s", chatkit.ErrorMessage(err))
		}
		defer mgr.Disconnect()

		if err := mgr.UpdateStorage(ctx); err != nil {
			return fmt.Errorf("refresh failed: %s", chatkit.ErrorMessage(err))
		}

		fmt.Println("Listening for updates (ctrl-c to stop)...")
		sig := make(chan os.Signal, 1)
		signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
		<-sig
		fmt.Println("Disconnecting.")
		return nil
	},
}

// ============================================================================
// status
// ============================================================================

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show session and connection status",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}

		if cfg.Auth.Token == "" {
			fmt.Println("Not signed in.")
			return nil
		}

		client := getClient()
		valid := "expired"
		if client.SessionValid() {
			valid = "valid"
		}
		fmt.Printf("Login:   %s\n", cfg.Auth.Login)
		fmt.Printf("User ID: %d\n", cfg.Auth.UserID)
		fmt.Printf("Session: %s\n", valid)
		return nil
	},
}

// ============================================================================
// dialogs (parent command)
// ============================================================================

var dialogsCmd = &cobra.Command{
	Use:   "dialogs",
	Short: "Manage dialogs",
	Long:  "List, create, join, and leave chat dialogs.",
}

// ============================================================================
// dialogs list
// ============================================================================

var dialogsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List dialogs",
	RunE: func(cmd *cobra.Command, args []string) error {
		client := getClient()

		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()

		page := chatkit.Page{Skip: dialogsListSkip, Limit: dialogsListLimit}
		result, err := client.FetchDialogs(ctx, page, nil)
		if err != nil {
			return fmt.Errorf("request failed: %s", chatkit.ErrorMessage(err))
		}

		if dialogsListJSON {
			b, _ := json.MarshalIndent(result.Dialogs, "", "  ")
			fmt.Println(string(b))
			return nil
		}

		if len(result.Dialogs) == 0 {
			fmt.Println("No dialogs found.")
			return nil
		}

		for _, d := range result.Dialogs {
			unread := ""
			if d.UnreadCount > 0 {
				unread = fmt.Sprintf(" (%d unread)", d.UnreadCount)
			}
			fmt.Printf("  %s: %s [%s, %d occupants]%s\n",
				d.ID, dialogTitle(d), d.Type, len(d.OccupantIDs), unread)
		}
		fmt.Printf("Showing %d of %d dialogs.\n", len(result.Dialogs), result.TotalEntries)
		return nil
	},
}

// ============================================================================
// dialogs create
// ============================================================================

var dialogsCreateCmd = &cobra.Command{
	Use:   "create <name>",
	Short: "Create a group dialog",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		name := args[0]
		mgr := getManager()

		occupants, err := parseUserIDs(dialogsCreateOccupants)
		if err != nil {
			return err
		}

		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()

		dialog, err := mgr.CreateGroupDialog(ctx, name, occupants)
		if err != nil {
			return fmt.Errorf("create failed: %s", chatkit.ErrorMessage(err))
		}

		if err := mgr.SendAddingMessage(ctx, *dialog, occupants); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: occupants not notified: %s\n", chatkit.ErrorMessage(err))
		}

		if dialogsCreateJSON {
			b, _ := json.MarshalIndent(dialog, "", "  ")
			fmt.Println(string(b))
			return nil
		}

		fmt.Printf("Dialog created: %s\n", dialog.ID)
		fmt.Printf("  Name:      %s\n", dialog.Name)
		fmt.Printf("  Occupants: %d\n", len(dialog.OccupantIDs))
		return nil
	},
}

// ============================================================================
// dialogs private
// ============================================================================

var dialogsPrivateCmd = &cobra.Command{
	Use:   "private <user-id>",
	Short: "Open a private dialog with a user",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		opponentID, err := strconv.ParseUint(args[0], 10, 64)
		if err != nil {
			return fmt.Errorf("invalid user id: %s", args[0])
		}
		mgr := getManager()

		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()

		dialog, err := mgr.CreatePrivateDialog(ctx, opponentID)
		if err != nil {
			return fmt.Errorf("create failed: %s", chatkit.ErrorMessage(err))
		}

		fmt.Printf("Private dialog: %s\n", dialog.ID)
		return nil
	},
}

// ============================================================================
// dialogs leave
// ============================================================================

var dialogsLeaveCmd = &cobra.Command{
	Use:   "leave <dialog-id>",
	Short: "Leave a dialog",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		dialogID := args[0]
		mgr := getManager()

		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()

		dialog, err := mgr.LoadDialog(ctx, dialogID)
		if err != nil {
			return fmt.Errorf("lookup failed: %s", chatkit.ErrorMessage(err))
		}

		if err := mgr.SendLeaveMessage(ctx, *dialog); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: occupants not notified: %s\n", chatkit.ErrorMessage(err))
		}

		if err := mgr.LeaveDialog(ctx, dialogID); err != nil {
			return fmt.Errorf("leave failed: %s", chatkit.ErrorMessage(err))
		}

		fmt.Printf("Left dialog %s.\n", dialogID)
		return nil
	},
}

// ============================================================================
// dialogs add
// ============================================================================

var dialogsAddCmd = &cobra.Command{
	Use:   "add <dialog-id> <user-ids>",
	Short: "Add occupants to a group dialog (comma-separated user ids)",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		dialogID := args[0]
		mgr := getManager()

		added, err := parseUserIDs(args[1])
		if err != nil {
			return err
		}
		if len(added) == 0 {
			return fmt.Errorf("no user ids given")
		}

		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()

		dialog, err := mgr.LoadDialog(ctx, dialogID)
		if err != nil {
			return fmt.Errorf("lookup failed: %s", chatkit.ErrorMessage(err))
		}

		updated, err := mgr.JoinOccupants(ctx, *dialog, added)
		if err != nil {
			return fmt.Errorf("update failed: %s", chatkit.ErrorMessage(err))
		}

		if err := mgr.SendAddingMessage(ctx, *updated, added); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: occupants not notified: %s\n", chatkit.ErrorMessage(err))
		}

		fmt.Printf("Dialog %s now has %d occupants.\n", updated.ID, len(updated.OccupantIDs))
		return nil
	},
}

// ============================================================================
// messages
// ============================================================================

var messagesCmd = &cobra.Command{
	Use:   "messages <dialog-id>",
	Short: "Show message history for a dialog",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		dialogID := args[0]
		mgr := getManager()

		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()

		messages, hasMore, err := mgr.Messages(ctx, dialogID, messagesSkip)
		if err != nil {
			return fmt.Errorf("request failed: %s", chatkit.ErrorMessage(err))
		}

		if messagesJSON {
			b, _ := json.MarshalIndent(messages, "", "  ")
			fmt.Println(string(b))
			return nil
		}

		if len(messages) == 0 {
			fmt.Println("No messages found.")
			return nil
		}

		for _, msg := range messages {
			fmt.Printf("[%s] %d: %s\n", msg.DateSent.Format(time.RFC3339), msg.SenderID, msg.SummaryText())
		}
		if hasMore {
			fmt.Printf("More messages available (use --skip %d).\n", messagesSkip+len(messages))
		}
		return nil
	},
}

// ============================================================================
// send
// ============================================================================

var sendCmd = &cobra.Command{
	Use:   "send <dialog-id> <text>",
	Short: "Send a message to a dialog",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		dialogID, text := args[0], args[1]
		mgr := getManager()

		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()

		if _, err := mgr.LoadDialog(ctx, dialogID); err != nil {
			return fmt.Errorf("lookup failed: %s", chatkit.ErrorMessage(err))
		}

		msg := &chatkit.Message{DialogID: dialogID, Text: text}
		if err := mgr.SendMessage(ctx, msg); err != nil {
			return fmt.Errorf("send failed: %s", chatkit.ErrorMessage(err))
		}

		fmt.Printf("Message sent to %s\n", dialogID)
		fmt.Printf("  Message ID: %s\n", msg.ID)
		return nil
	},
}

// ============================================================================
// users (parent command)
// ============================================================================

var usersCmd = &cobra.Command{
	Use:   "users",
	Short: "Look up users",
}

// ============================================================================
// users search
// ============================================================================

var usersSearchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Search users by full name",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		query := args[0]
		mgr := getManager()

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		users, err := mgr.SearchUsers(ctx, query)
		if err != nil {
			return fmt.Errorf("search failed: %s", chatkit.ErrorMessage(err))
		}

		if usersSearchJSON {
			b, _ := json.MarshalIndent(users, "", "  ")
			fmt.Println(string(b))
			return nil
		}

		if len(users) == 0 {
			fmt.Println("No users found.")
			return nil
		}

		for _, u := range users {
			fmt.Printf("  %d: %s (%s)\n", u.ID, u.DisplayName(), u.Login)
		}
		return nil
	},
}

// ============================================================================
// Helper
// ============================================================================

// parseUserIDs parses a comma-separated list of numeric user ids.
func parseUserIDs(s string) ([]uint64, error) {
	if s == "" {
		return nil, nil
	}
	parts := strings.Split(s, ",")
	ids := make([]uint64, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		id, err := strconv.ParseUint(p, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid user id: %s", p)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// ============================================================================
// Registration
// ============================================================================

func init() {
	// dialogs list
	dialogsListCmd.Flags().BoolVar(&dialogsListJSON, "json", false, "Output raw JSON")
	dialogsListCmd.Flags().IntVarP(&dialogsListLimit, "limit", "n", 0, "Maximum number of dialogs to return")
	dialogsListCmd.Flags().IntVar(&dialogsListSkip, "skip", 0, "Number of dialogs to skip")

	// dialogs create
	dialogsCreateCmd.Flags().StringVar(&dialogsCreateOccupants, "occupants", "", "Comma-separated list of occupant user ids")
	dialogsCreateCmd.Flags().BoolVar(&dialogsCreateJSON, "json", false, "Output raw JSON")

	// messages
	messagesCmd.Flags().IntVar(&messagesSkip, "skip", 0, "Number of messages to skip")
	messagesCmd.Flags().BoolVar(&messagesJSON, "json", false, "Output raw JSON")

	// users search
	usersSearchCmd.Flags().BoolVar(&usersSearchJSON, "json", false, "Output raw JSON")

	// Wire up dialogs sub-commands.
	dialogsCmd.AddCommand(dialogsListCmd)
	dialogsCmd.AddCommand(dialogsCreateCmd)
	dialogsCmd.AddCommand(dialogsPrivateCmd)
	dialogsCmd.AddCommand(dialogsLeaveCmd)
	dialogsCmd.AddCommand(dialogsAddCmd)

	// Wire up users sub-commands.
	usersCmd.AddCommand(usersSearchCmd)

	// Register top-level commands.
	rootCmd.AddCommand(syncCmd)
	rootCmd.AddCommand(listenCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(dialogsCmd)
	rootCmd.AddCommand(messagesCmd)
	rootCmd.AddCommand(sendCmd)
	rootCmd.AddCommand(usersCmd)
}
