package tui

import (
	"context"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/acrotron/regine-chat/internal/chat"
	"github.com/acrotron/regine-chat/internal/history"
)

// Message types for async operations
type (
	// SessionsLoadedMsg is delivered once the startup bulk load finished.
	// The store has already fallen back to a draft when Error is set.
	SessionsLoadedMsg struct {
		HasToken bool
		Error    error
	}

	// SendCompletedMsg is delivered when a message round trip finished,
	// successfully or not. On gateway failure Outcome is nil and the
	// apologetic bot message is already in the transcript.
	SendCompletedMsg struct {
		Outcome *chat.SendOutcome
		Error   error
	}

	// SwitchCompletedMsg is delivered after selecting (and possibly
	// hydrating) another session.
	SwitchCompletedMsg struct {
		SessionID int
		Error     error
	}

	// SessionDeletedMsg is delivered after a session was removed.
	SessionDeletedMsg struct {
		SessionID int
		Error     error
	}

	// TokenLoadedMsg carries a freshly issued personal access token.
	TokenLoadedMsg struct {
		Token string
		Error error
	}

	// ArchiveWrittenMsg reports the outcome of archiving an exchange.
	ArchiveWrittenMsg struct {
		Error error
	}

	// TickMsg drives the spinner animation.
	TickMsg time.Time
)

// Commands for async operations. Each closure blocks on a goroutine that
// bubbletea manages; the result comes back as a typed message.

func loadSessionsCmd(ctx context.Context, app *App) tea.Cmd {
	return func() tea.Msg {
		err := app.Store.LoadAll(ctx)
		app.Sync.Adopt()
		return SessionsLoadedMsg{
			HasToken: app.Store.HasToken(),
			Error:    err,
		}
	}
}

func sendMessageCmd(ctx context.Context, app *App, text string) tea.Cmd {
	return func() tea.Msg {
		outcome, err := app.Sync.Send(ctx, text)
		return SendCompletedMsg{
			Outcome: outcome,
			Error:   err,
		}
	}
}

func switchSessionCmd(ctx context.Context, app *App, id int) tea.Cmd {
	return func() tea.Msg {
		err := app.Sync.SwitchTo(ctx, id)
		return SwitchCompletedMsg{
			SessionID: id,
			Error:     err,
		}
	}
}

func deleteSessionCmd(ctx context.Context, app *App, id int) tea.Cmd {
	return func() tea.Msg {
		err := app.Sync.Delete(ctx, id)
		return SessionDeletedMsg{
			SessionID: id,
			Error:     err,
		}
	}
}

func fetchTokenCmd(ctx context.Context, app *App) tea.Cmd {
	return func() tea.Msg {
		token, err := app.Gateway.GetToken(ctx, app.UserID)
		return TokenLoadedMsg{
			Token: token,
			Error: err,
		}
	}
}

func archiveExchangeCmd(app *App, outcome *chat.SendOutcome) tea.Cmd {
	return func() tea.Msg {
		err := app.Archive.Append(history.Exchange{
			ExchangeID:    outcome.ExchangeID,
			ChatID:        outcome.SessionID,
			ChatTitle:     outcome.SessionTitle,
			Model:         outcome.Model,
			UserText:      outcome.UserText,
			AssistantText: outcome.AssistantText,
			Promoted:      outcome.Promoted,
			Timestamp:     outcome.Timestamp,
		})
		return ArchiveWrittenMsg{Error: err}
	}
}

// tickCmd creates a ticker for the spinner animation.
func tickCmd() tea.Cmd {
	return tea.Tick(100*time.Millisecond, func(t time.Time) tea.Msg {
		return TickMsg(t)
	})
}
