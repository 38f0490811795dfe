package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
)

var (
	loginEmail    string
	loginPassword string
)

func init() {
	rootCmd.AddCommand(loginCmd, logoutCmd, whoamiCmd)
	loginCmd.Flags().StringVar(&loginEmail, "email", "", "account email (defaults to config)")
	loginCmd.Flags().StringVar(&loginPassword, "password", "", "account password (defaults to config)")
}

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Sign in and persist the session",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := loadConfig()
		setupLogging(cfg)
		_, authc := newClients(cfg)

		email := loginEmail
		if email == "" {
			email = cfg.Auth.Email
		}
		password := loginPassword
		if password == "" {
			password = cfg.Auth.Password
		}
		if email == "" {
			var err error
			email, err = promptLine("Email: ")
			if err != nil {
				return err
			}
		}
		if password == "" {
			var err error
			password, err = promptLine("Password: ")
			if err != nil {
				return err
			}
		}

		session, err := authc.SignIn(context.Background(), email, password)
		if err != nil {
			return err
		}
		who := email
		if session.User != nil && session.User.Email != "" {
			who = session.User.Email
		}
		fmt.Printf("Signed in as %s (session expires %s)\n",
			who, session.ExpiresAt.Format("2006-01-02 15:04:05"))
		return nil
	},
}

var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Sign out and clear the persisted session",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := loadConfig()
		setupLogging(cfg)
		_, authc := newClients(cfg)

		if err := authc.SignOut(context.Background()); err != nil {
			return err
		}
		fmt.Println("Signed out.")
		return nil
	},
}

var whoamiCmd = &cobra.Command{
	Use:   "whoami",
	Short: "Show the signed-in user",
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
			fmt.Println("Not signed in.")
			return nil
		}
		if session.User != nil {
			fmt.Printf("%s (%s)\n", session.User.Email, session.User.ID)
		} else {
			fmt.Println("Signed in (no user details in session).")
		}
		return nil
	},
}

func promptLine(prompt string) (string, error) {
	fmt.Print(prompt)
	reader := bufio.NewReader(os.Stdin)
	line, err := reader.ReadString('\n')
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(line), nil
}
