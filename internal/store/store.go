// Package store owns the in-memory registry of chat sessions and the
// active-session pointer. It is the single source of truth the TUI renders
// from; nothing here touches disk.
package store

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/acrotron/regine-chat/internal/gateway"
	"github.com/acrotron/regine-chat/pkg/models"
)

// DraftName is the placeholder title of a not-yet-persisted chat.
const DraftName = "New Chat"

// WelcomeText opens every fresh draft session.
const WelcomeText = "Hello! I'm Régine, your trusted AI Assistant. How can I help you today?"

var (
	// ErrNotFound reports an id that is not in the store.
	ErrNotFound = errors.New("session not found")
	// ErrNoDraft reports a promotion attempt while the active session is
	// not the provisional one.
	ErrNoDraft = errors.New("active session is not a draft")
)

// SessionStore keeps the ordered session collection, newest first by
// LastUpdated. bubbletea commands run on goroutines, so all access goes
// through the mutex.
type SessionStore struct {
	mu sync.RWMutex

	gw           gateway.ChatGateway
	log          *zap.Logger
	userID       string
	systemPrompt string

	sessions  []*models.ChatSession
	activeID  int
	hasActive bool
	hasToken  bool
}

// Option configures a SessionStore.
type Option func(*SessionStore)

// WithLogger installs a logger; the default is a nop logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *SessionStore) { s.log = l }
}

// New creates a store for one user. systemPrompt seeds the conversation
// history of every session created or listed before hydration.
func New(gw gateway.ChatGateway, userID, systemPrompt string, opts ...Option) *SessionStore {
	s := &SessionStore{
		gw:           gw,
		log:          zap.NewNop(),
		userID:       userID,
		systemPrompt: systemPrompt,
		hasToken:     true,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// LoadAll fetches the backend's session listing, replaces the store
// contents with unhydrated records sorted newest first, and selects the
// newest. On failure or an empty listing it falls back to a fresh draft,
// so the store is always usable afterwards; the underlying error is still
// returned for logging.
func (s *SessionStore) LoadAll(ctx context.Context) error {
	list, err := s.gw.LoadAllSessions(ctx, s.userID)
	if err != nil {
		s.log.Warn("session list load failed, falling back to draft", zap.Error(err))
		s.CreateDraft()
		return fmt.Errorf("load sessions: %w", err)
	}

	s.mu.Lock()
	s.hasToken = list.HasToken

	sessions := make([]*models.ChatSession, 0, len(list.Sessions))
	for _, row := range list.Sessions {
		sessions = append(sessions, &models.ChatSession{
			ID:                  row.ChatID,
			Name:                row.ChatTitle,
			Messages:            []models.Message{},
			ConversationHistory: []models.Turn{{Role: models.RoleSystem, Content: s.systemPrompt}},
			CreatedAt:           parseTimestamp(row.CreatedAt),
			LastUpdated:         parseTimestamp(row.UpdatedAt),
			IsLoaded:            false,
		})
	}
	s.sessions = sessions
	s.sortLocked()

	if len(s.sessions) == 0 {
		s.mu.Unlock()
		s.CreateDraft()
		return nil
	}

	s.activeID = s.sessions[0].ID
	s.hasActive = true
	s.mu.Unlock()

	s.log.Info("sessions loaded", zap.Int("count", len(list.Sessions)))
	return nil
}

// CreateDraft inserts the provisional session (id -1) with a welcome
// message and makes it active. If a draft already exists it is reset in
// place instead, so two -1 ids never coexist.
func (s *SessionStore) CreateDraft() *models.ChatSession {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	draft := &models.ChatSession{
		ID:                  models.DraftSessionID,
		Name:                DraftName,
		Messages:            []models.Message{{Text: WelcomeText, Sender: models.SenderBot, Timestamp: now}},
		ConversationHistory: []models.Turn{{Role: models.RoleSystem, Content: s.systemPrompt}},
		CreatedAt:           now,
		LastUpdated:         now,
		IsLoaded:            true,
	}

	for i, existing := range s.sessions {
		if existing.IsDraft() {
			s.sessions[i] = draft
			s.activeID = models.DraftSessionID
			s.hasActive = true
			snapshot := copySession(draft)
			return &snapshot
		}
	}

	s.sessions = append([]*models.ChatSession{draft}, s.sessions...)
	s.activeID = models.DraftSessionID
	s.hasActive = true
	snapshot := copySession(draft)
	return &snapshot
}

// Hydrate fetches the full content of a listed-but-unloaded session and
// overwrites its transcript fields in place. The session's id and sort
// position are untouched. On failure the session stays unhydrated so the
// caller can retry.
func (s *SessionStore) Hydrate(ctx context.Context, id int) (*models.ChatSession, error) {
	if id == models.DraftSessionID {
		return nil, fmt.Errorf("hydrate: draft session has no backend content")
	}

	content, err := s.gw.LoadSession(ctx, s.userID, id)
	if err != nil {
		return nil, fmt.Errorf("hydrate session %d: %w", id, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	session := s.findLocked(id)
	if session == nil {
		return nil, fmt.Errorf("hydrate session %d: %w", id, ErrNotFound)
	}

	msgs := make([]models.Message, 0, len(content.ChatText))
	now := time.Now()
	for _, turn := range content.ChatText {
		switch turn.Role {
		case models.RoleUser:
			msgs = append(msgs, models.Message{Text: turn.Content, Sender: models.SenderUser, Timestamp: now})
		case models.RoleAssistant:
			msgs = append(msgs, models.Message{Text: turn.Content, Sender: models.SenderBot, Timestamp: now})
		}
	}

	session.Messages = msgs
	if len(content.ChatText) > 0 {
		session.ConversationHistory = append([]models.Turn(nil), content.ChatText...)
	} else {
		session.ConversationHistory = []models.Turn{{Role: models.RoleSystem, Content: s.systemPrompt}}
	}
	if content.ChatTitle != "" {
		session.Name = content.ChatTitle
	}
	session.SystemPrompt = content.SystemPrompt
	session.Model = content.Model
	session.IsLoaded = true

	snapshot := copySession(session)
	return &snapshot, nil
}

// Promote turns the draft session into the persisted identity the backend
// assigned on its first reply. The rendered messages already on the draft
// are preserved verbatim. Fails with ErrNoDraft when the active session is
// not the provisional one.
func (s *SessionStore) Promote(res *gateway.SendResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.hasActive || s.activeID != models.DraftSessionID {
		return ErrNoDraft
	}

	draft := s.findLocked(models.DraftSessionID)
	if draft == nil {
		return ErrNoDraft
	}

	draft.ID = res.ChatID
	draft.Name = res.ChatTitle
	draft.IsLoaded = true
	if res.SystemPrompt != "" {
		draft.SystemPrompt = res.SystemPrompt
	}
	if res.Model != "" {
		draft.Model = res.Model
	}
	draft.LastUpdated = time.Now()

	// The active pointer follows the new identity.
	s.activeID = res.ChatID

	s.log.Info("draft promoted",
		zap.Int("chat_id", res.ChatID),
		zap.String("title", res.ChatTitle))
	return nil
}

// Refresh applies session-level fields from a backend reply to an already
// persisted session. Messages are never replaced here.
func (s *SessionStore) Refresh(res *gateway.SendResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	session := s.findLocked(res.ChatID)
	if session == nil {
		return fmt.Errorf("refresh session %d: %w", res.ChatID, ErrNotFound)
	}

	if res.ChatTitle != "" && session.Name != res.ChatTitle {
		session.Name = res.ChatTitle
	}
	if res.SystemPrompt != "" {
		session.SystemPrompt = res.SystemPrompt
	}
	if res.Model != "" {
		session.Model = res.Model
	}
	session.LastUpdated = time.Now()
	return nil
}

// Touch bumps a session's recency and re-sorts the collection, moving it
// to the top without a backend round trip.
func (s *SessionStore) Touch(id int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	session := s.findLocked(id)
	if session == nil {
		return
	}
	session.LastUpdated = time.Now()
	s.sortLocked()
}

// SaveTranscript commits the synchronizer's working transcript back into
// the session record. name overrides the stored title when non-empty.
// Called after every locally-added message so nothing is lost between a
// request and its response.
func (s *SessionStore) SaveTranscript(id int, msgs []models.Message, history []models.Turn, name string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	session := s.findLocked(id)
	if session == nil {
		return
	}
	session.Messages = append([]models.Message(nil), msgs...)
	session.ConversationHistory = append([]models.Turn(nil), history...)
	if name != "" {
		session.Name = name
	}
	session.LastUpdated = time.Now()
}

// Remove deletes a session. When the active one is removed the next
// remaining session becomes active; deleting the last session always
// leaves a fresh draft selected.
func (s *SessionStore) Remove(id int) {
	s.mu.Lock()

	filtered := s.sessions[:0]
	for _, session := range s.sessions {
		if session.ID != id {
			filtered = append(filtered, session)
		}
	}
	s.sessions = filtered

	wasActive := s.hasActive && s.activeID == id
	if wasActive {
		if len(s.sessions) > 0 {
			s.activeID = s.sessions[0].ID
			s.mu.Unlock()
			return
		}
		s.hasActive = false
		s.mu.Unlock()
		s.CreateDraft()
		return
	}
	s.mu.Unlock()
}

// Select moves the active pointer. Hydration is the caller's concern; the
// store only validates that the target exists.
func (s *SessionStore) Select(id int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.findLocked(id) == nil {
		return fmt.Errorf("select session %d: %w", id, ErrNotFound)
	}
	s.activeID = id
	s.hasActive = true
	return nil
}

// Get returns a snapshot of one session.
func (s *SessionStore) Get(id int) (models.ChatSession, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	session := s.findLocked(id)
	if session == nil {
		return models.ChatSession{}, false
	}
	return copySession(session), true
}

// Current returns a snapshot of the active session.
func (s *SessionStore) Current() (models.ChatSession, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if !s.hasActive {
		return models.ChatSession{}, false
	}
	session := s.findLocked(s.activeID)
	if session == nil {
		return models.ChatSession{}, false
	}
	return copySession(session), true
}

// ActiveID returns the active session id, if any.
func (s *SessionStore) ActiveID() (int, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.activeID, s.hasActive
}

// Sessions returns a snapshot of the ordered collection.
func (s *SessionStore) Sessions() []models.ChatSession {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]models.ChatSession, len(s.sessions))
	for i, session := range s.sessions {
		out[i] = copySession(session)
	}
	return out
}

// HasToken reports whether the last LoadAll saw a personal access token on
// file for the user.
func (s *SessionStore) HasToken() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.hasToken
}

// SetSystemPrompt replaces the default prompt used to seed new sessions.
func (s *SessionStore) SetSystemPrompt(prompt string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.systemPrompt = prompt
}

func (s *SessionStore) findLocked(id int) *models.ChatSession {
	for _, session := range s.sessions {
		if session.ID == id {
			return session
		}
	}
	return nil
}

// sortLocked orders newest-first by LastUpdated. The sort is stable so
// equal timestamps keep their original order.
func (s *SessionStore) sortLocked() {
	sort.SliceStable(s.sessions, func(i, j int) bool {
		return s.sessions[i].LastUpdated.After(s.sessions[j].LastUpdated)
	})
}

func copySession(s *models.ChatSession) models.ChatSession {
	out := *s
	out.Messages = append([]models.Message(nil), s.Messages...)
	out.ConversationHistory = append([]models.Turn(nil), s.ConversationHistory...)
	return out
}

// parseTimestamp converts a backend timestamp to local time, matching the
// listing's RFC3339 format. Unparseable values fall back to now.
func parseTimestamp(value string) time.Time {
	if t, err := time.Parse(time.RFC3339, value); err == nil {
		return t.Local()
	}
	return time.Now()
}
