package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/charmbracelet/glamour"
	"github.com/spf13/cobra"

	"github.com/user/threadline/internal/conversation"
	"github.com/user/threadline/internal/state"
	"github.com/user/threadline/internal/thread"
	"github.com/user/threadline/internal/types"
)

func init() {
	rootCmd.AddCommand(chatCmd)
}

var chatCmd = &cobra.Command{
	Use:   "chat <thread-id>",
	Short: "Open a conversation thread",
	Args:  cobra.ExactArgs(1),
	RunE:  runChat,
}

func runChat(cmd *cobra.Command, args []string) error {
	cfg := loadConfig()
	setupLogging(cfg)
	client, authc := newClients(cfg)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	manager, err := startSession(ctx, cfg, client, authc)
	if err != nil {
		return err
	}
	defer manager.Close()

	resolver := thread.NewResolver(client, slog.Default())
	res, err := resolver.Resolve(ctx, types.ThreadID(args[0]))
	if err != nil {
		// Terminal for this invocation: fall back to the thread list.
		fmt.Fprintf(os.Stderr, "Could not open thread %s: %v\n\n", args[0], err)
		if listErr := printThreads(ctx, client); listErr != nil {
			slog.Warn("fallback thread listing failed", "error", listErr)
		}
		return err
	}
	if res.Redirect() {
		// The canonical view for this thread is project-scoped; point at
		// it instead of opening the standalone view.
		fmt.Printf("Thread %s belongs to project %s.\n", res.ThreadID, res.ProjectID)
		fmt.Printf("Canonical view: /projects/%s/thread/%s\n", res.ProjectID, res.ThreadID)
		return nil
	}

	renderer := newRenderer()
	shown := 0
	render := func(messages []types.Message) {
		for _, msg := range messages[min(shown, len(messages)):] {
			printMessage(renderer, msg)
		}
		shown = len(messages)
	}

	opts := []conversation.SyncOption{
		conversation.WithModel(cfg.Chat.Model),
		conversation.WithAgent(cfg.Chat.AgentID),
		conversation.WithInstance(cfg.Chat.Instance),
		conversation.WithCache(state.NewMessageCache(cfg.DataDir)),
		conversation.WithOnUpdate(render),
		conversation.WithSyncLogger(slog.Default()),
	}
	if budget, err := conversation.NewBudget(cfg.Chat.Model, cfg.Chat.MaxPromptTokens); err != nil {
		slog.Warn("prompt budget disabled", "error", err)
	} else {
		opts = append(opts, conversation.WithBudget(budget))
	}
	sync := conversation.NewSynchronizer(client, res.ThreadID, opts...)

	if err := sync.Refresh(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Could not load messages: %v\n", err)
	}

	fmt.Println("Type a message and press enter. /quit to exit.")
	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			break
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if line == "/quit" || line == "/exit" {
			break
		}
		if err := sync.Submit(ctx, line); err != nil {
			switch {
			case errors.Is(err, conversation.ErrSendInFlight):
				fmt.Fprintln(os.Stderr, "Still sending the previous message.")
			case errors.Is(err, conversation.ErrPromptTooLarge):
				fmt.Fprintf(os.Stderr, "Message too long: %v\n", err)
			default:
				// The message was not delivered; echo it back so nothing
				// typed is silently lost.
				fmt.Fprintf(os.Stderr, "Send failed: %v\nYour message (not delivered): %s\n", err, line)
			}
		}
	}
	return scanner.Err()
}

func newRenderer() *glamour.TermRenderer {
	r, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(100),
	)
	if err != nil {
		slog.Warn("markdown renderer unavailable", "error", err)
		return nil
	}
	return r
}

func printMessage(renderer *glamour.TermRenderer, msg types.Message) {
	label := "You"
	if msg.IsLLM || msg.Type == "assistant" {
		label = "Assistant"
	}
	fmt.Printf("[%s] %s\n", label, msg.CreatedAt.Format("15:04:05"))

	if renderer != nil && (msg.IsLLM || msg.Type == "assistant") {
		if out, err := renderer.Render(msg.Content); err == nil {
			fmt.Print(out)
			return
		}
	}
	fmt.Println(msg.Content)
}
