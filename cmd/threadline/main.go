package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/user/threadline/internal/api"
	"github.com/user/threadline/internal/auth"
	"github.com/user/threadline/internal/config"
	"github.com/user/threadline/internal/state"
)

var cfgPath string

var rootCmd = &cobra.Command{
	Use:           "threadline",
	Short:         "Terminal client for the threadline chat service",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgPath,
		"config",
		filepath.Join(os.Getenv("HOME"), ".threadline", "config.json"),
		"config file path")
}

func loadConfig() *config.Config {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	return cfg
}

func setupLogging(cfg *config.Config) {
	var level slog.Level
	switch strings.ToLower(cfg.LogLevel) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
}

// newClients builds the request layer and credential store for a command.
func newClients(cfg *config.Config) (*api.Client, *api.AuthClient) {
	client := api.New(cfg.BaseURL)
	creds := state.NewCredentials(cfg.DataDir)
	authc := api.NewAuthClient(client, creds, slog.Default())
	return client, authc
}

// startSession starts a session manager over the persisted credentials and
// waits for the startup acquisition to settle. If no session is available
// it attempts a sign-in with configured credentials before giving up.
func startSession(ctx context.Context, cfg *config.Config, client *api.Client, authc *api.AuthClient) (*auth.Manager, error) {
	manager := auth.NewManager(authc,
		auth.WithCheckInterval(time.Duration(cfg.Session.CheckIntervalSeconds)*time.Second),
		auth.WithRefreshMargin(time.Duration(cfg.Session.RefreshMarginSeconds)*time.Second),
		auth.WithLogger(slog.Default()),
	)
	client.SetTokenSource(manager)

	// The first snapshot arrives before Start; skip it and the loading
	// phase, and settle on the first authenticated-or-not verdict.
	settled := make(chan auth.Snapshot, 1)
	unsub := manager.Subscribe(func(snap auth.Snapshot) {
		if snap.State == auth.StateUninitialized || snap.Loading {
			return
		}
		select {
		case settled <- snap:
		default:
		}
	})
	defer unsub()

	manager.Start(ctx)

	var snap auth.Snapshot
	select {
	case snap = <-settled:
	case <-ctx.Done():
		manager.Close()
		return nil, ctx.Err()
	}

	if snap.State == auth.StateUnauthenticated {
		if cfg.Auth.Email == "" || cfg.Auth.Password == "" {
			manager.Close()
			return nil, fmt.Errorf("not signed in; run `threadline login`")
		}
		if _, err := authc.SignIn(ctx, cfg.Auth.Email, cfg.Auth.Password); err != nil {
			manager.Close()
			return nil, fmt.Errorf("sign in: %w", err)
		}
	}
	return manager, nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
