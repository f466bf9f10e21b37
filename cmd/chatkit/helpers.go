package main

import (
	"fmt"
	"os"

	chatkit "github.com/usama2razzaq/chatkit-go"
)

// getClient creates a ChatKit client from the stored configuration. The
// session token is attached when one has been stored by 'chatkit login'.
func getClient() *chatkit.Client {
	cfg, err := loadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	if cfg.Default.AppKey == "" {
		fmt.Fprintln(os.Stderr, "No app key. Run 'chatkit init <app-key>' first.")
		os.Exit(1)
	}

	var opts []chatkit.ClientOption
	if cfg.Default.BaseURL != "" {
		opts = append(opts, chatkit.WithBaseURL(cfg.Default.BaseURL))
	} else if cfg.Default.Environment != "" && cfg.Default.Environment != "production" {
		opts = append(opts, chatkit.WithEnvironment(chatkit.Environment(cfg.Default.Environment)))
	}
	if cfg.Auth.Token != "" {
		opts = append(opts, chatkit.WithSession(chatkit.Session{
			Token:  cfg.Auth.Token,
			UserID: cfg.Auth.UserID,
		}))
	}

	return chatkit.NewClient(cfg.Default.AppKey, opts...)
}

// getManager creates a ChatManager bound to the signed-in user.
func getManager() *chatkit.ChatManager {
	cfg, err := loadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	if cfg.Auth.Token == "" {
		fmt.Fprintln(os.Stderr, "Not signed in. Run 'chatkit login <login> <password>' first.")
		os.Exit(1)
	}

	client := getClient()
	return chatkit.NewChatManager(client, chatkit.NewStorage(),
		chatkit.WithCurrentUser(cfg.Auth.UserID),
	)
}
