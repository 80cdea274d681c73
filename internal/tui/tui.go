// Package tui renders the three-pane chat client: session list on the
// left, conversation in the middle, additional info on the right. All
// backend work happens in tea commands; the model itself only reacts to
// the typed messages they produce.
package tui

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/textarea"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"go.uber.org/zap"

	"github.com/acrotron/regine-chat/internal/chat"
	"github.com/acrotron/regine-chat/internal/extract"
	"github.com/acrotron/regine-chat/internal/gateway"
	"github.com/acrotron/regine-chat/internal/history"
	"github.com/acrotron/regine-chat/internal/store"
	"github.com/acrotron/regine-chat/pkg/models"
)

// App bundles the wired application state the TUI operates on. Everything
// is constructed in main and passed by reference; the TUI owns no ambient
// singletons.
type App struct {
	Store     *store.SessionStore
	Sync      *chat.Synchronizer
	Extractor *extract.Extractor
	Gateway   gateway.ChatGateway
	Archive   *history.Archive
	UserID    string
	Log       *zap.Logger
}

type paneFocus int

const (
	focusSessions paneFocus = iota
	focusInput
	focusInfo
)

const (
	headerHeight = 2
	footerHeight = 2
	inputHeight  = 3
)

type uiModel struct {
	app *App
	ctx context.Context

	sessionCursor int
	focus         paneFocus

	sessionsViewport viewport.Model
	chatViewport     viewport.Model
	infoViewport     viewport.Model
	input            textarea.Model

	indicator *LoadingIndicator
	loading   bool
	sending   bool
	ready     bool
	noToken   bool
	status    string
	width     int
	height    int
}

func newModel(app *App) uiModel {
	input := textarea.New()
	input.Placeholder = "Send a message..."
	input.SetHeight(inputHeight - 1)
	input.ShowLineNumbers = false
	input.Focus()

	return uiModel{
		app:       app,
		ctx:       context.Background(),
		focus:     focusInput,
		input:     input,
		indicator: NewLoadingIndicator("Loading sessions..."),
		loading:   true,
	}
}

// Run starts the interactive client and blocks until the user quits.
func Run(app *App) error {
	p := tea.NewProgram(newModel(app), tea.WithAltScreen())
	_, err := p.Run()
	return err
}

func (m uiModel) Init() tea.Cmd {
	return tea.Batch(loadSessionsCmd(m.ctx, m.app), textarea.Blink, tickCmd())
}

func (m uiModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.layout()
		m.ready = true
		m.refreshPanes()

	case tea.KeyMsg:
		model, cmd := m.handleKey(msg)
		return model, cmd

	case SessionsLoadedMsg:
		m.loading = false
		m.noToken = !msg.HasToken
		if msg.Error != nil {
			// Recovered: the store fell back to a draft session.
			m.status = "Could not load saved sessions; starting a new chat."
			m.app.Log.Warn("startup load recovered", zap.Error(msg.Error))
		}
		m.syncCursorToActive()
		m.refreshPanes()

	case SendCompletedMsg:
		m.sending = false
		m.syncCursorToActive()
		m.refreshPanes()
		if msg.Error != nil {
			// The apologetic bot message is already in the transcript.
			m.app.Log.Warn("send recovered locally", zap.Error(msg.Error))
		} else if msg.Outcome != nil {
			cmds = append(cmds, archiveExchangeCmd(m.app, msg.Outcome))
		}

	case SwitchCompletedMsg:
		if msg.Error != nil {
			m.status = "Could not load that session. Select it again to retry."
			m.app.Log.Warn("session switch failed",
				zap.Int("chat_id", msg.SessionID), zap.Error(msg.Error))
		} else {
			m.status = ""
		}
		m.syncCursorToActive()
		m.refreshPanes()

	case SessionDeletedMsg:
		if msg.Error != nil {
			m.app.Log.Warn("delete failed", zap.Int("chat_id", msg.SessionID), zap.Error(msg.Error))
		}
		m.syncCursorToActive()
		m.refreshPanes()

	case TokenLoadedMsg:
		if msg.Error != nil {
			m.status = "Failed to retrieve token. Please try again."
		} else {
			m.status = "Personal token: " + msg.Token
			m.noToken = false
		}

	case ArchiveWrittenMsg:
		if msg.Error != nil {
			m.app.Log.Warn("archive append failed", zap.Error(msg.Error))
		}

	case TickMsg:
		if m.loading || m.sending {
			m.indicator.Tick()
			m.refreshPanes()
		}
		cmds = append(cmds, tickCmd())
	}

	m = m.updateViewports(msg, &cmds)
	return m, tea.Batch(cmds...)
}

func (m uiModel) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "ctrl+c":
		return m, tea.Quit

	case "tab":
		m.focus = (m.focus + 1) % 3
		if m.focus == focusInput {
			m.input.Focus()
		} else {
			m.input.Blur()
		}
		return m, nil

	case "esc":
		if m.focus != focusSessions {
			m.focus = focusSessions
			m.input.Blur()
			return m, nil
		}
		return m, tea.Quit
	}

	switch m.focus {
	case focusInput:
		return m.handleInputKey(msg)
	case focusSessions:
		return m.handleSessionsKey(msg)
	case focusInfo:
		return m.handleInfoKey(msg)
	}
	return m, nil
}

func (m uiModel) handleInputKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if msg.String() == "enter" {
		if m.sending || m.loading {
			// Submission is disabled while a send is outstanding.
			return m, nil
		}
		text := strings.TrimSpace(m.input.Value())
		if text == "" {
			return m, nil
		}
		m.input.Reset()
		m.sending = true
		m.indicator.SetMessage("Régine is typing...")
		m.status = ""
		m.refreshPanes()
		return m, tea.Batch(sendMessageCmd(m.ctx, m.app, text), tickCmd())
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m uiModel) handleSessionsKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	sessions := m.app.Store.Sessions()

	switch msg.String() {
	case "up", "k":
		if m.sessionCursor > 0 {
			m.sessionCursor--
			m.refreshPanes()
		}

	case "down", "j":
		if m.sessionCursor < len(sessions)-1 {
			m.sessionCursor++
			m.refreshPanes()
		}

	case "enter":
		if m.sending || m.sessionCursor >= len(sessions) {
			return m, nil
		}
		target := sessions[m.sessionCursor]
		if active, ok := m.app.Store.ActiveID(); ok && active == target.ID {
			if target.IsLoaded || target.IsDraft() {
				m.focus = focusInput
				m.input.Focus()
				return m, nil
			}
			// Active but never hydrated (for example after a failed load);
			// selecting it again retries the fetch.
			return m, switchSessionCmd(m.ctx, m.app, target.ID)
		}
		return m, switchSessionCmd(m.ctx, m.app, target.ID)

	case "n":
		if m.sending {
			return m, nil
		}
		if err := m.app.Sync.NewChat(); err != nil {
			m.app.Log.Warn("new chat refused", zap.Error(err))
			return m, nil
		}
		m.syncCursorToActive()
		m.focus = focusInput
		m.input.Focus()
		m.refreshPanes()

	case "d":
		if m.sending || m.sessionCursor >= len(sessions) {
			return m, nil
		}
		return m, deleteSessionCmd(m.ctx, m.app, sessions[m.sessionCursor].ID)

	case "t":
		return m, fetchTokenCmd(m.ctx, m.app)
	}
	return m, nil
}

func (m uiModel) handleInfoKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "c":
		m.app.Extractor.Clear()
		m.refreshPanes()
	case "x":
		m.app.Extractor.Remove(0)
		m.refreshPanes()
	}
	return m, nil
}

func (m uiModel) updateViewports(msg tea.Msg, cmds *[]tea.Cmd) uiModel {
	var cmd tea.Cmd
	switch m.focus {
	case focusSessions:
		m.sessionsViewport, cmd = m.sessionsViewport.Update(msg)
	case focusInput:
		m.chatViewport, cmd = m.chatViewport.Update(msg)
	case focusInfo:
		m.infoViewport, cmd = m.infoViewport.Update(msg)
	}
	*cmds = append(*cmds, cmd)
	return m
}

// layout sizes the three panes: a quarter each for sessions and info, the
// rest for the conversation.
func (m *uiModel) layout() {
	paneHeight := m.height - headerHeight - footerHeight - inputHeight
	if paneHeight < 3 {
		paneHeight = 3
	}
	leftWidth := m.width / 4
	rightWidth := m.width / 4
	centerWidth := m.width - leftWidth - rightWidth - 2

	if !m.ready {
		m.sessionsViewport = viewport.New(leftWidth, paneHeight)
		m.chatViewport = viewport.New(centerWidth, paneHeight)
		m.infoViewport = viewport.New(rightWidth, paneHeight)
	} else {
		m.sessionsViewport.Width = leftWidth
		m.sessionsViewport.Height = paneHeight
		m.chatViewport.Width = centerWidth
		m.chatViewport.Height = paneHeight
		m.infoViewport.Width = rightWidth
		m.infoViewport.Height = paneHeight
	}
	m.input.SetWidth(m.width - 2)
}

func (m *uiModel) refreshPanes() {
	if !m.ready {
		return
	}
	m.sessionsViewport.SetContent(m.renderSessions())
	m.chatViewport.SetContent(m.renderChat())
	m.chatViewport.GotoBottom()
	m.infoViewport.SetContent(m.renderInfo())
}

// syncCursorToActive moves the list cursor to the active session after
// operations that change identity or ordering (promotion, touch, delete).
func (m *uiModel) syncCursorToActive() {
	active, ok := m.app.Store.ActiveID()
	if !ok {
		m.sessionCursor = 0
		return
	}
	for i, session := range m.app.Store.Sessions() {
		if session.ID == active {
			m.sessionCursor = i
			return
		}
	}
	m.sessionCursor = 0
}

func (m uiModel) renderSessions() string {
	var s strings.Builder

	active, hasActive := m.app.Store.ActiveID()
	for i, session := range m.app.Store.Sessions() {
		cursor := "  "
		if i == m.sessionCursor && m.focus == focusSessions {
			cursor = "> "
		}

		marker := " "
		if hasActive && session.ID == active {
			marker = "●"
		}

		style := lipgloss.NewStyle()
		if hasActive && session.ID == active {
			style = style.Foreground(lipgloss.Color("212")).Bold(true)
		} else if !session.IsLoaded {
			style = style.Foreground(lipgloss.Color("243"))
		}

		line := fmt.Sprintf("%s%s %s  %s",
			cursor, marker,
			truncateLine(session.Name, m.sessionsViewport.Width-12),
			formatSessionDate(session.LastUpdated))
		s.WriteString(style.Render(line) + "\n")
	}

	return s.String()
}

func (m uiModel) renderChat() string {
	var s strings.Builder

	userLabel := lipgloss.NewStyle().Foreground(lipgloss.Color("39")).Bold(true)
	botLabel := lipgloss.NewStyle().Foreground(lipgloss.Color("212")).Bold(true)
	body := lipgloss.NewStyle().Width(m.chatViewport.Width - 2)

	for _, msg := range m.app.Sync.Messages() {
		if msg.Sender == models.SenderUser {
			s.WriteString(userLabel.Render("You") + "\n")
		} else {
			s.WriteString(botLabel.Render("Régine") + "\n")
		}
		s.WriteString(body.Render(msg.Text) + "\n\n")
	}

	if m.sending {
		s.WriteString(m.indicator.View() + "\n")
	}

	return s.String()
}

func (m uiModel) renderInfo() string {
	items := m.app.Extractor.Items()
	if len(items) == 0 {
		return lipgloss.NewStyle().Foreground(lipgloss.Color("243")).
			Render("No additional info yet.\n\nCode blocks from replies\nshow up here.")
	}

	titleStyle := lipgloss.NewStyle().Bold(true)
	timeStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("243"))
	contentStyle := lipgloss.NewStyle().Width(m.infoViewport.Width - 2)

	var s strings.Builder
	for _, item := range items {
		s.WriteString(titleStyle.Render(item.Title) + " " +
			timeStyle.Render(item.Timestamp.Format("15:04")) + "\n")
		s.WriteString(contentStyle.Render(snippet(item.Content, 6)) + "\n\n")
	}
	return s.String()
}

func (m uiModel) View() string {
	if !m.ready {
		return m.indicator.View()
	}

	if m.loading {
		style := lipgloss.NewStyle().
			Width(m.width).
			Height(m.height).
			Align(lipgloss.Center, lipgloss.Center)
		return style.Render(m.indicator.View())
	}

	header := m.renderHeader()

	border := lipgloss.NewStyle().BorderStyle(lipgloss.NormalBorder()).BorderRight(true)
	panes := lipgloss.JoinHorizontal(lipgloss.Top,
		border.Render(m.sessionsViewport.View()),
		border.Render(m.chatViewport.View()),
		m.infoViewport.View(),
	)

	return fmt.Sprintf("%s\n%s\n%s\n%s", header, panes, m.input.View(), m.renderFooter())
}

func (m uiModel) renderHeader() string {
	title := "Régine"
	if session, ok := m.app.Store.Current(); ok {
		title = fmt.Sprintf("Régine — %s", session.Name)
		if session.Model != "" {
			title += fmt.Sprintf("  [%s]", session.Model)
		}
	}
	return lipgloss.NewStyle().Bold(true).Padding(0, 1).Render(title)
}

func (m uiModel) renderFooter() string {
	help := "tab: focus  enter: send/open  n: new chat  d: delete  t: token  c: clear info  ctrl+c: quit"
	if m.noToken {
		help = "No personal token on file — press t to request one.  " + help
	}
	line := help
	if m.status != "" {
		line = m.status + "  |  " + help
	}
	return lipgloss.NewStyle().Foreground(lipgloss.Color("241")).Padding(0, 1).
		Render(truncateLine(line, m.width-2))
}

// formatSessionDate shows the time of day for recent activity and the
// calendar date otherwise.
func formatSessionDate(t time.Time) string {
	if time.Since(t) < 24*time.Hour {
		return t.Format("15:04")
	}
	return t.Format("Jan 2")
}

// truncateLine cuts on rune boundaries so non-ASCII titles stay valid.
func truncateLine(s string, max int) string {
	runes := []rune(s)
	if max <= 3 || len(runes) <= max {
		return s
	}
	return string(runes[:max-3]) + "..."
}

// snippet returns at most n lines of content for the info pane.
func snippet(content string, n int) string {
	lines := strings.Split(strings.TrimRight(content, "\n"), "\n")
	if len(lines) <= n {
		return strings.Join(lines, "\n")
	}
	return strings.Join(lines[:n], "\n") + "\n..."
}
