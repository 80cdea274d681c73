// Package chat drives the request/response cycle for outgoing user
// messages and keeps the visible transcript reconciled with the
// backend-confirmed session identity.
package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/acrotron/regine-chat/internal/extract"
	"github.com/acrotron/regine-chat/internal/gateway"
	"github.com/acrotron/regine-chat/internal/store"
	"github.com/acrotron/regine-chat/pkg/models"
)

// ApologyText is appended as a bot message when a send fails. The failure
// is recovered locally; the user's turn stays in the history.
const ApologyText = "Sorry, I encountered an error. Please try again."

// titleLimit caps auto-generated session titles.
const titleLimit = 30

var (
	// ErrSendInFlight rejects a submit while another send is outstanding.
	ErrSendInFlight = errors.New("a send is already in flight")
	// ErrEmptyMessage rejects whitespace-only input.
	ErrEmptyMessage = errors.New("message is empty")
)

// State is the synchronizer's explicit mutation state. Transitions:
// Idle -> Sending on submit, Sending -> Reconciling on a gateway reply,
// Reconciling -> Idle once the reply is applied, Sending -> Idle on a
// gateway failure. Idle -> Switching covers a session switch or delete
// for as long as its hydration is outstanding, back to Idle when done.
// Only one non-Idle holder exists at any time.
type State int

const (
	StateIdle State = iota
	StateSending
	StateReconciling
	StateSwitching
)

// RenderFunc turns raw user input into its display form. The default
// passes the trimmed text through unchanged.
type RenderFunc func(string) string

// SendOutcome summarizes one completed round trip, for logging and the
// local exchange archive.
type SendOutcome struct {
	ExchangeID    string
	SessionID     int
	SessionTitle  string
	Model         string
	UserText      string
	AssistantText string
	Promoted      bool
	Timestamp     time.Time
}

// Synchronizer owns the transcript of the active session: the rendered
// message list shown in the conversation pane and the raw role/content
// history sent to the backend. One synchronizer serves one user.
type Synchronizer struct {
	mu sync.Mutex

	store     *store.SessionStore
	gw        gateway.ChatGateway
	extractor *extract.Extractor
	log       *zap.Logger
	render    RenderFunc

	userID              string
	defaultModel        string
	defaultSystemPrompt string

	state    State
	messages []models.Message
	history  []models.Turn
}

// Option configures a Synchronizer.
type Option func(*Synchronizer)

// WithLogger installs a logger; the default is a nop logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *Synchronizer) { s.log = l }
}

// WithRenderer installs the user-message display renderer.
func WithRenderer(r RenderFunc) Option {
	return func(s *Synchronizer) { s.render = r }
}

// New wires a synchronizer to its collaborators. defaults apply whenever
// the active session carries no per-session override.
func New(st *store.SessionStore, gw gateway.ChatGateway, ex *extract.Extractor, userID, defaultModel, defaultSystemPrompt string, opts ...Option) *Synchronizer {
	s := &Synchronizer{
		store:               st,
		gw:                  gw,
		extractor:           ex,
		log:                 zap.NewNop(),
		render:              strings.TrimSpace,
		userID:              userID,
		defaultModel:        defaultModel,
		defaultSystemPrompt: defaultSystemPrompt,
		state:               StateIdle,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// State returns the current send state.
func (s *Synchronizer) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Messages returns a snapshot of the visible transcript.
func (s *Synchronizer) Messages() []models.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.Message(nil), s.messages...)
}

// History returns a snapshot of the raw conversation history.
func (s *Synchronizer) History() []models.Turn {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.Turn(nil), s.history...)
}

// Adopt replaces the visible state with the active session's stored
// transcript. Called after startup loading and after New Chat.
func (s *Synchronizer) Adopt() {
	session, ok := s.store.Current()
	if !ok {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages = session.Messages
	s.history = session.ConversationHistory
}

// SwitchTo selects another session and adopts its transcript as the
// visible state, hydrating it first when it was only listed by the bulk
// fetch. Switching is refused while a send is outstanding, and a send
// submitted while the hydration is awaited is refused the same way;
// otherwise its optimistic turn would land on the outgoing transcript
// and be wiped by the final adopt. A failed hydration leaves the
// session selected but unloaded so a retry works.
func (s *Synchronizer) SwitchTo(ctx context.Context, id int) error {
	if err := s.enterSwitching(); err != nil {
		return err
	}
	defer s.leaveSwitching()

	if err := s.store.Select(id); err != nil {
		return err
	}

	session, ok := s.store.Get(id)
	if !ok {
		return store.ErrNotFound
	}

	if !session.IsLoaded && !session.IsDraft() {
		hydrated, err := s.store.Hydrate(ctx, id)
		if err != nil {
			return err
		}
		session = *hydrated
	}

	s.mu.Lock()
	s.messages = session.Messages
	s.history = session.ConversationHistory
	s.mu.Unlock()
	return nil
}

// NewChat resets to a fresh draft session and adopts its welcome state.
func (s *Synchronizer) NewChat() error {
	s.mu.Lock()
	if s.state != StateIdle {
		s.mu.Unlock()
		return ErrSendInFlight
	}
	s.mu.Unlock()

	s.store.CreateDraft()
	s.Adopt()
	return nil
}

// Delete removes a session locally and, for persisted sessions, asks the
// backend to forget it as well. The backend call is best effort. When the
// removal activates a session that was only listed by the bulk fetch, it
// is hydrated before its transcript is adopted; a blank pane with no way
// to reload it is never left behind. A failed hydration adopts what is
// there, keeps the session unloaded, and returns the error.
func (s *Synchronizer) Delete(ctx context.Context, id int) error {
	if err := s.enterSwitching(); err != nil {
		return err
	}
	defer s.leaveSwitching()

	if id != models.DraftSessionID {
		if err := s.gw.DeleteSession(ctx, s.userID, id); err != nil {
			s.log.Warn("backend delete failed, removing locally anyway",
				zap.Int("chat_id", id), zap.Error(err))
		}
	}

	s.store.Remove(id)

	if session, ok := s.store.Current(); ok && !session.IsLoaded && !session.IsDraft() {
		if _, err := s.store.Hydrate(ctx, session.ID); err != nil {
			s.Adopt()
			return err
		}
	}

	s.Adopt()
	return nil
}

// enterSwitching claims the in-flight slot for a switch or delete.
func (s *Synchronizer) enterSwitching() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateIdle {
		return ErrSendInFlight
	}
	s.state = StateSwitching
	return nil
}

func (s *Synchronizer) leaveSwitching() {
	s.mu.Lock()
	s.state = StateIdle
	s.mu.Unlock()
}

// Send submits one user message and reconciles the reply. The session id
// is captured at dispatch time; the promotion check in the reconcile step
// uses that id, never the active pointer at completion time. A second
// Send while one is outstanding fails fast with ErrSendInFlight.
//
// Gateway failures are recovered locally: an apologetic bot message is
// appended, the user's turn stays in the history, and the error is
// returned for logging only.
func (s *Synchronizer) Send(ctx context.Context, text string) (*SendOutcome, error) {
	raw := strings.TrimSpace(text)
	if raw == "" {
		return nil, ErrEmptyMessage
	}

	s.mu.Lock()
	if s.state != StateIdle {
		s.mu.Unlock()
		return nil, ErrSendInFlight
	}
	s.state = StateSending

	dispatchID, ok := s.activeIDLocked()
	if !ok {
		// No selection yet; a draft always makes the store usable.
		s.mu.Unlock()
		s.store.CreateDraft()
		s.Adopt()
		s.mu.Lock()
		dispatchID = models.DraftSessionID
	}

	// Optimistic render: the user message is visible before the backend
	// answers, and the raw text goes into the history unformatted.
	s.appendLocked(models.Message{Text: s.render(raw), Sender: models.SenderUser, Timestamp: time.Now()})
	s.history = append(s.history, models.Turn{Role: models.RoleUser, Content: raw})
	s.persistLocked(dispatchID)

	model, systemPrompt := s.resolveOverridesLocked(dispatchID)
	s.mu.Unlock()

	result, err := s.gw.SendMessage(ctx, s.userID, dispatchID, raw, model, systemPrompt)
	if err != nil {
		s.mu.Lock()
		s.appendLocked(models.Message{Text: ApologyText, Sender: models.SenderBot, Timestamp: time.Now()})
		s.persistLocked(dispatchID)
		s.state = StateIdle
		s.mu.Unlock()
		s.log.Warn("send failed", zap.Int("chat_id", dispatchID), zap.Error(err))
		return nil, fmt.Errorf("send message: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = StateReconciling

	promoted := false
	if dispatchID == models.DraftSessionID {
		// First reply of a new chat: the draft takes on the backend id and
		// title. The rendered messages stay exactly as they are.
		if err := s.store.Promote(result); err != nil {
			// The draft is gone or was never active; fall back to a plain
			// field refresh so the reply is not lost.
			s.log.Warn("promotion skipped", zap.Error(err))
			if rerr := s.store.Refresh(result); rerr != nil {
				s.log.Warn("refresh after skipped promotion failed", zap.Error(rerr))
			}
		} else {
			promoted = true
		}
	} else {
		if err := s.store.Refresh(result); err != nil {
			s.log.Warn("session refresh failed", zap.Error(err))
		}
	}

	s.store.Touch(result.ChatID)

	// The display form is the cleaned reply; the history keeps the raw
	// assistant text so the backend sees its own formatting back.
	cleaned := s.extractor.Extract(result.AssistantResponse)
	s.history = append(s.history, models.Turn{Role: models.RoleAssistant, Content: result.AssistantResponse})
	s.appendLocked(models.Message{Text: cleaned, Sender: models.SenderBot, Timestamp: time.Now()})
	s.persistLocked(result.ChatID)

	s.state = StateIdle

	return &SendOutcome{
		ExchangeID:    uuid.NewString(),
		SessionID:     result.ChatID,
		SessionTitle:  result.ChatTitle,
		Model:         model,
		UserText:      raw,
		AssistantText: result.AssistantResponse,
		Promoted:      promoted,
		Timestamp:     time.Now(),
	}, nil
}

func (s *Synchronizer) activeIDLocked() (int, bool) {
	return s.store.ActiveID()
}

func (s *Synchronizer) appendLocked(msg models.Message) {
	s.messages = append(s.messages, msg)
}

// persistLocked commits the working transcript to the session record,
// computing the auto-rename when the title is still a placeholder and the
// conversation has more than one message.
func (s *Synchronizer) persistLocked(id int) {
	name := ""
	if session, ok := s.store.Get(id); ok {
		if isPlaceholderName(session.Name) && len(s.messages) > 1 {
			if first := firstUserText(s.messages); first != "" {
				name = truncateText(first, titleLimit)
			}
		}
	}
	s.store.SaveTranscript(id, s.messages, s.history, name)
}

// resolveOverridesLocked picks the per-session model and system prompt
// when set, falling back to the client defaults.
func (s *Synchronizer) resolveOverridesLocked(id int) (model, systemPrompt string) {
	model = s.defaultModel
	systemPrompt = s.defaultSystemPrompt
	if session, ok := s.store.Get(id); ok {
		if session.Model != "" {
			model = session.Model
		}
		if session.SystemPrompt != "" {
			systemPrompt = session.SystemPrompt
		}
	}
	return model, systemPrompt
}

func isPlaceholderName(name string) bool {
	return name == store.DraftName || strings.HasPrefix(name, "Chat ")
}

func firstUserText(msgs []models.Message) string {
	for _, m := range msgs {
		if m.Sender == models.SenderUser {
			return m.Text
		}
	}
	return ""
}

// truncateText shortens s to max characters with an ellipsis, as used for
// auto-generated session titles. The cut is rune-based so multi-byte
// input never ends up as invalid UTF-8.
func truncateText(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max]) + "..."
}
