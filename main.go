package main

import (
	"context"
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/acrotron/regine-chat/internal/chat"
	"github.com/acrotron/regine-chat/internal/config"
	"github.com/acrotron/regine-chat/internal/extract"
	"github.com/acrotron/regine-chat/internal/gateway"
	"github.com/acrotron/regine-chat/internal/history"
	"github.com/acrotron/regine-chat/internal/logging"
	"github.com/acrotron/regine-chat/internal/store"
	"github.com/acrotron/regine-chat/internal/tui"
	"github.com/acrotron/regine-chat/pkg/models"
)

var (
	debugMode bool

	rootCmd = &cobra.Command{
		Use:   "regine",
		Short: "Terminal client for the Régine assistant",
		Long:  `regine is a terminal chat client for the Régine assistant backend: a session list, the conversation, and extracted artifacts side by side.`,
		RunE:  runTUI,
	}

	sessionsCmd = &cobra.Command{
		Use:   "sessions [chat-id]",
		Short: "List saved sessions or print one transcript without the TUI",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runSessions,
	}

	tokenCmd = &cobra.Command{
		Use:   "token",
		Short: "Fetch a personal access token",
		RunE:  runToken,
	}

	historyCmd = &cobra.Command{
		Use:   "history [pattern]",
		Short: "Query the local exchange archive",
		Long: `Query the local exchange archive kept under the data directory.
Without arguments: the most recent exchanges.
With a pattern: exchanges whose user or assistant text matches it.
With --sessions: per-session totals.`,
		Args: cobra.MaximumNArgs(1),
		RunE: runHistory,
	}

	historySessions bool
)

func init() {
	rootCmd.PersistentFlags().BoolVar(&debugMode, "debug", false, "Verbose logging; dump state instead of entering the TUI where applicable")
	historyCmd.Flags().BoolVar(&historySessions, "sessions", false, "Show per-session totals instead of exchanges")
	rootCmd.AddCommand(sessionsCmd)
	rootCmd.AddCommand(tokenCmd)
	rootCmd.AddCommand(historyCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// buildApp wires the application state object shared by the TUI and the
// non-interactive commands.
func buildApp() (*tui.App, *config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	if cfg.APIURL == "" {
		return nil, nil, fmt.Errorf("REGINE_API_URL is not set")
	}

	log := logging.NewFileLogger(cfg.LogPath(), debugMode)

	gw := gateway.NewHTTPGateway(cfg.APIURL,
		gateway.WithLogger(log),
		gateway.WithTokenProvider(func(context.Context) (string, error) {
			return os.Getenv("REGINE_AUTH_TOKEN"), nil
		}),
	)

	st := store.New(gw, cfg.UserID, cfg.SystemPrompt, store.WithLogger(log))
	ex := extract.New()
	sync := chat.New(st, gw, ex, cfg.UserID, cfg.Model, cfg.SystemPrompt, chat.WithLogger(log))

	return &tui.App{
		Store:     st,
		Sync:      sync,
		Extractor: ex,
		Gateway:   gw,
		Archive:   history.NewArchive(cfg.HistoryPath(), log),
		UserID:    cfg.UserID,
		Log:       log,
	}, cfg, nil
}

func runTUI(cmd *cobra.Command, args []string) error {
	app, _, err := buildApp()
	if err != nil {
		return err
	}
	defer app.Log.Sync()

	if debugMode {
		return runDebugDump(app)
	}

	if err := tui.Run(app); err != nil {
		return fmt.Errorf("TUI error: %w", err)
	}
	return nil
}

// runDebugDump lists sessions without entering the TUI.
func runDebugDump(app *tui.App) error {
	ctx := context.Background()
	if err := app.Store.LoadAll(ctx); err != nil {
		fmt.Printf("Load failed (recovered with a draft): %v\n", err)
	}

	fmt.Println("=== Debug Mode: Sessions ===")
	for i, session := range app.Store.Sessions() {
		loaded := ""
		if !session.IsLoaded {
			loaded = " (not hydrated)"
		}
		fmt.Printf("%d. [%d] %s%s — last updated %s\n",
			i+1, session.ID, session.Name, loaded,
			session.LastUpdated.Format("2006-01-02 15:04"))
	}
	if !app.Store.HasToken() {
		fmt.Println("\nNo personal token on file; run: regine token")
	}
	return nil
}

func runSessions(cmd *cobra.Command, args []string) error {
	app, _, err := buildApp()
	if err != nil {
		return err
	}
	defer app.Log.Sync()

	ctx := context.Background()
	if err := app.Store.LoadAll(ctx); err != nil {
		return fmt.Errorf("failed to load sessions: %w", err)
	}

	if len(args) == 1 {
		id, err := strconv.Atoi(args[0])
		if err != nil {
			return fmt.Errorf("chat-id must be a number, got %q", args[0])
		}
		return printTranscript(ctx, app, id)
	}

	sessions := app.Store.Sessions()
	if len(sessions) == 1 && sessions[0].IsDraft() {
		fmt.Println("No saved sessions")
		return nil
	}

	fmt.Println("Sessions:")
	fmt.Println("=========")
	for i, session := range sessions {
		if session.IsDraft() {
			continue
		}
		fmt.Printf("%d. [%d] %s\n", i+1, session.ID, session.Name)
		fmt.Printf("   Last Updated: %s\n\n", session.LastUpdated.Format("2006-01-02 15:04"))
	}
	return nil
}

func printTranscript(ctx context.Context, app *tui.App, id int) error {
	session, err := app.Store.Hydrate(ctx, id)
	if err != nil {
		return fmt.Errorf("failed to load session %d: %w", id, err)
	}

	fmt.Printf("Session [%d] %s\n", session.ID, session.Name)
	fmt.Println("================================================")
	for _, msg := range session.Messages {
		who := "Régine"
		if msg.Sender == models.SenderUser {
			who = "You"
		}
		fmt.Printf("\n[%s]\n%s\n", who, msg.Text)
	}
	return nil
}

func runToken(cmd *cobra.Command, args []string) error {
	app, _, err := buildApp()
	if err != nil {
		return err
	}
	defer app.Log.Sync()

	token, err := app.Gateway.GetToken(context.Background(), app.UserID)
	if err != nil {
		return fmt.Errorf("failed to fetch token: %w", err)
	}
	fmt.Println(token)
	return nil
}

func runHistory(cmd *cobra.Command, args []string) error {
	_, cfg, err := buildApp()
	if err != nil {
		return err
	}

	ctx := context.Background()
	path := cfg.HistoryPath()

	if historySessions {
		summaries, err := history.SummarizeSessions(ctx, path)
		if err != nil {
			return fmt.Errorf("failed to summarize archive: %w", err)
		}
		for _, s := range summaries {
			fmt.Printf("[%d] %s — %d exchanges, last %s\n",
				s.ChatID, s.ChatTitle, s.ExchangeCount,
				s.LastActivity.Format("2006-01-02 15:04"))
		}
		return nil
	}

	var exchanges []history.Exchange
	if len(args) == 1 {
		exchanges, err = history.Search(ctx, path, args[0], 20)
	} else {
		exchanges, err = history.FetchRecent(ctx, path, 20)
	}
	if err != nil {
		return fmt.Errorf("failed to query archive: %w", err)
	}

	if len(exchanges) == 0 {
		fmt.Println("No archived exchanges found")
		return nil
	}

	for _, ex := range exchanges {
		fmt.Printf("%s  [%d] %s\n", ex.Timestamp.Format("2006-01-02 15:04"), ex.ChatID, ex.ChatTitle)
		fmt.Printf("  You:    %s\n", firstLine(ex.UserText))
		fmt.Printf("  Régine: %s\n\n", firstLine(ex.AssistantText))
	}
	return nil
}

func firstLine(s string) string {
	for i, r := range s {
		if r == '\n' {
			return s[:i] + " ..."
		}
		if i > 100 {
			return s[:i] + "..."
		}
	}
	return s
}
