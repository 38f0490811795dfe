package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/user/threadline/internal/api"
)

func init() {
	rootCmd.AddCommand(threadsCmd)
}

var threadsCmd = &cobra.Command{
	Use:   "threads",
	Short: "List your conversation threads",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := loadConfig()
		setupLogging(cfg)
		client, authc := newClients(cfg)

		ctx := context.Background()
		manager, err := startSession(ctx, cfg, client, authc)
		if err != nil {
			return err
		}
		defer manager.Close()

		return printThreads(ctx, client)
	},
}

func printThreads(ctx context.Context, client *api.Client) error {
	threads, err := client.ListThreads(ctx)
	if err != nil {
		return fmt.Errorf("list threads: %w", err)
	}

	if len(threads) == 0 {
		fmt.Println("No threads found.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tPROJECT\tTITLE\tUPDATED")
	for _, t := range threads {
		project := string(t.ProjectID)
		if project == "" {
			project = "-"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n",
			t.ThreadID,
			project,
			t.Title,
			t.UpdatedAt.Format("2006-01-02 15:04:05"),
		)
	}
	return w.Flush()
}
