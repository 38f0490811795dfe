package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(statusCmd)
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show session state and expiry margin",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := loadConfig()
		setupLogging(cfg)
		_, authc := newClients(cfg)

		session, err := authc.CurrentSession(context.Background())
		if err != nil {
			return err
		}
		if session == nil {
			fmt.Println("State:     unauthenticated")
			return nil
		}

		remaining := session.RemainingFor(time.Now())
		margin := time.Duration(cfg.Session.RefreshMarginSeconds) * time.Second

		fmt.Println("State:     authenticated")
		if session.User != nil {
			fmt.Printf("User:      %s\n", session.User.Email)
		}
		fmt.Printf("Expires:   %s (%s remaining)\n",
			session.ExpiresAt.Format("2006-01-02 15:04:05"), remaining.Round(time.Second))
		if remaining < margin {
			fmt.Printf("Refresh:   due (margin %s)\n", margin)
		} else {
			fmt.Printf("Refresh:   not due (margin %s)\n", margin)
		}
		return nil
	},
}
