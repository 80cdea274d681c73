package store

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/acrotron/regine-chat/internal/gateway"
	"github.com/acrotron/regine-chat/pkg/models"
)

const testPrompt = "You are a test assistant."

// stubGateway is a scriptable ChatGateway for store tests.
type stubGateway struct {
	list       *gateway.SessionList
	listErr    error
	content    map[int]*gateway.SessionContent
	contentErr error
	sendResult *gateway.SendResult
	sendErr    error
	deleted    []int
}

func (g *stubGateway) LoadAllSessions(ctx context.Context, userID string) (*gateway.SessionList, error) {
	if g.listErr != nil {
		return nil, g.listErr
	}
	return g.list, nil
}

func (g *stubGateway) LoadSession(ctx context.Context, userID string, chatID int) (*gateway.SessionContent, error) {
	if g.contentErr != nil {
		return nil, g.contentErr
	}
	if c, ok := g.content[chatID]; ok {
		return c, nil
	}
	return nil, errors.New("no such session")
}

func (g *stubGateway) SendMessage(ctx context.Context, userID string, chatID int, text, model, systemPrompt string) (*gateway.SendResult, error) {
	if g.sendErr != nil {
		return nil, g.sendErr
	}
	return g.sendResult, nil
}

func (g *stubGateway) GetToken(ctx context.Context, userID string) (string, error) {
	return "tok", nil
}

func (g *stubGateway) DeleteSession(ctx context.Context, userID string, chatID int) error {
	g.deleted = append(g.deleted, chatID)
	return nil
}

func rows(ids ...int) []gateway.SessionRow {
	out := make([]gateway.SessionRow, 0, len(ids))
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	for i, id := range ids {
		ts := base.Add(time.Duration(i) * time.Hour).Format(time.RFC3339)
		out = append(out, gateway.SessionRow{
			ChatID:    id,
			ChatTitle: fmt.Sprintf("Chat %d", id),
			CreatedAt: ts,
			UpdatedAt: ts,
		})
	}
	return out
}

// TestLoadAllEmptyFallsBackToDraft covers the empty-listing startup: the
// store must end up with exactly one draft containing the welcome message.
func TestLoadAllEmptyFallsBackToDraft(t *testing.T) {
	gw := &stubGateway{list: &gateway.SessionList{HasToken: false}}
	s := New(gw, "u", testPrompt)

	if err := s.LoadAll(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	sessions := s.Sessions()
	if len(sessions) != 1 {
		t.Fatalf("expected exactly one session, got %d", len(sessions))
	}
	if !sessions[0].IsDraft() {
		t.Errorf("expected a draft session, got id %d", sessions[0].ID)
	}
	if len(sessions[0].Messages) != 1 || sessions[0].Messages[0].Text != WelcomeText {
		t.Errorf("draft should open with the welcome message")
	}
	if active, ok := s.ActiveID(); !ok || active != models.DraftSessionID {
		t.Errorf("draft should be active, got %d (%v)", active, ok)
	}
	if s.HasToken() {
		t.Errorf("has_token=false should be reported")
	}
}

// TestLoadAllSortsNewestFirst checks the descending LastUpdated order and
// the unhydrated shape of listed sessions.
func TestLoadAllSortsNewestFirst(t *testing.T) {
	gw := &stubGateway{list: &gateway.SessionList{HasToken: true, Sessions: rows(7, 9, 3)}}
	s := New(gw, "u", testPrompt)

	if err := s.LoadAll(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	sessions := s.Sessions()
	if len(sessions) != 3 {
		t.Fatalf("expected 3 sessions, got %d", len(sessions))
	}
	for i := 1; i < len(sessions); i++ {
		if sessions[i].LastUpdated.After(sessions[i-1].LastUpdated) {
			t.Errorf("sessions out of order at %d", i)
		}
	}
	// rows() assigns later timestamps to later ids, so 3 is newest.
	if sessions[0].ID != 3 {
		t.Errorf("expected newest session (3) first, got %d", sessions[0].ID)
	}
	if active, _ := s.ActiveID(); active != 3 {
		t.Errorf("newest session should be active, got %d", active)
	}

	for _, session := range sessions {
		if session.IsLoaded {
			t.Errorf("listed session %d should not be hydrated", session.ID)
		}
		if len(session.ConversationHistory) != 1 || session.ConversationHistory[0].Role != models.RoleSystem {
			t.Errorf("session %d history should be the single system seed", session.ID)
		}
		if session.ConversationHistory[0].Content != testPrompt {
			t.Errorf("system seed should use the current prompt")
		}
	}
}

// TestLoadAllFailureFallsBackToDraft: a failed bulk load is recovered
// with a usable draft; the error is still reported for logging.
func TestLoadAllFailureFallsBackToDraft(t *testing.T) {
	gw := &stubGateway{listErr: errors.New("boom")}
	s := New(gw, "u", testPrompt)

	err := s.LoadAll(context.Background())
	if err == nil {
		t.Errorf("expected the underlying error to be returned")
	}

	sessions := s.Sessions()
	if len(sessions) != 1 || !sessions[0].IsDraft() {
		t.Fatalf("expected a single draft after failure, got %+v", sessions)
	}
	if active, ok := s.ActiveID(); !ok || active != models.DraftSessionID {
		t.Errorf("draft should be selected after failure")
	}
}

// TestCreateDraftNeverDuplicates: repeated draft creation resets the
// existing slot, so two -1 ids never coexist.
func TestCreateDraftNeverDuplicates(t *testing.T) {
	gw := &stubGateway{list: &gateway.SessionList{HasToken: true, Sessions: rows(1)}}
	s := New(gw, "u", testPrompt)
	if err := s.LoadAll(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	s.CreateDraft()
	s.CreateDraft()

	drafts := 0
	for _, session := range s.Sessions() {
		if session.IsDraft() {
			drafts++
		}
	}
	if drafts != 1 {
		t.Errorf("expected exactly one draft, got %d", drafts)
	}
	if len(s.Sessions()) != 2 {
		t.Errorf("expected 2 sessions total, got %d", len(s.Sessions()))
	}
}

// TestHydrate overwrites transcript fields in place without touching the
// sort position.
func TestHydrate(t *testing.T) {
	gw := &stubGateway{
		list: &gateway.SessionList{HasToken: true, Sessions: rows(5)},
		content: map[int]*gateway.SessionContent{
			5: {
				ChatTitle: "About Go",
				ChatText: []models.Turn{
					{Role: models.RoleSystem, Content: "sys"},
					{Role: models.RoleUser, Content: "hi"},
					{Role: models.RoleAssistant, Content: "hello"},
				},
				SystemPrompt: "custom prompt",
				Model:        "test-model",
			},
		},
	}
	s := New(gw, "u", testPrompt)
	if err := s.LoadAll(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	before, _ := s.Get(5)

	session, err := s.Hydrate(context.Background(), 5)
	if err != nil {
		t.Fatalf("hydrate failed: %v", err)
	}

	if !session.IsLoaded {
		t.Errorf("session should be marked loaded")
	}
	if session.Name != "About Go" {
		t.Errorf("name should come from the backend, got %q", session.Name)
	}
	if len(session.Messages) != 2 {
		t.Fatalf("system turns are not rendered; expected 2 messages, got %d", len(session.Messages))
	}
	if session.Messages[0].Sender != models.SenderUser || session.Messages[1].Sender != models.SenderBot {
		t.Errorf("message senders mapped wrong: %+v", session.Messages)
	}
	if len(session.ConversationHistory) != 3 {
		t.Errorf("history should be adopted verbatim, got %d turns", len(session.ConversationHistory))
	}
	if session.SystemPrompt != "custom prompt" || session.Model != "test-model" {
		t.Errorf("per-session overrides not stored")
	}

	after, _ := s.Get(5)
	if !after.LastUpdated.Equal(before.LastUpdated) {
		t.Errorf("hydration must not change the sort key")
	}
}

// TestHydrateFailureLeavesSessionUntouched keeps the session retryable.
func TestHydrateFailureLeavesSessionUntouched(t *testing.T) {
	gw := &stubGateway{
		list:       &gateway.SessionList{HasToken: true, Sessions: rows(5)},
		contentErr: errors.New("backend down"),
	}
	s := New(gw, "u", testPrompt)
	if err := s.LoadAll(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if _, err := s.Hydrate(context.Background(), 5); err == nil {
		t.Fatalf("expected hydrate error")
	}

	session, _ := s.Get(5)
	if session.IsLoaded {
		t.Errorf("failed hydration must leave the session unloaded")
	}
}

// TestHydrateEmptyHistorySeedsSystem covers sessions stored without any
// turns: the history falls back to the single system seed.
func TestHydrateEmptyHistorySeedsSystem(t *testing.T) {
	gw := &stubGateway{
		list: &gateway.SessionList{HasToken: true, Sessions: rows(5)},
		content: map[int]*gateway.SessionContent{
			5: {ChatTitle: "Empty"},
		},
	}
	s := New(gw, "u", testPrompt)
	if err := s.LoadAll(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	session, err := s.Hydrate(context.Background(), 5)
	if err != nil {
		t.Fatalf("hydrate failed: %v", err)
	}
	if len(session.ConversationHistory) != 1 || session.ConversationHistory[0].Role != models.RoleSystem {
		t.Errorf("empty history should be re-seeded with the system turn")
	}
}

// TestPromote renames the draft to the backend identity and moves the
// active pointer with it, keeping the rendered messages verbatim.
func TestPromote(t *testing.T) {
	gw := &stubGateway{}
	s := New(gw, "u", testPrompt)
	s.CreateDraft()

	s.SaveTranscript(models.DraftSessionID, []models.Message{
		{Text: WelcomeText, Sender: models.SenderBot},
		{Text: "Hello", Sender: models.SenderUser},
	}, []models.Turn{
		{Role: models.RoleSystem, Content: testPrompt},
		{Role: models.RoleUser, Content: "Hello"},
	}, "")

	err := s.Promote(&gateway.SendResult{ChatID: 42, ChatTitle: "Hello"})
	if err != nil {
		t.Fatalf("promote failed: %v", err)
	}

	sessions := s.Sessions()
	if len(sessions) != 1 {
		t.Fatalf("expected one session, got %d", len(sessions))
	}
	if sessions[0].ID != 42 || sessions[0].Name != "Hello" || !sessions[0].IsLoaded {
		t.Errorf("promotion did not apply the backend identity: %+v", sessions[0])
	}
	if active, _ := s.ActiveID(); active != 42 {
		t.Errorf("active pointer should follow the promotion, got %d", active)
	}
	if len(sessions[0].Messages) != 2 || sessions[0].Messages[1].Text != "Hello" {
		t.Errorf("promotion must preserve rendered messages verbatim")
	}
}

// TestPromoteWithoutDraft refuses to promote when the active session is
// already persisted.
func TestPromoteWithoutDraft(t *testing.T) {
	gw := &stubGateway{list: &gateway.SessionList{HasToken: true, Sessions: rows(5)}}
	s := New(gw, "u", testPrompt)
	if err := s.LoadAll(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if err := s.Promote(&gateway.SendResult{ChatID: 42}); !errors.Is(err, ErrNoDraft) {
		t.Errorf("expected ErrNoDraft, got %v", err)
	}
}

// TestTouchReorders bumps recency and re-sorts without a reload.
func TestTouchReorders(t *testing.T) {
	gw := &stubGateway{list: &gateway.SessionList{HasToken: true, Sessions: rows(1, 2, 3)}}
	s := New(gw, "u", testPrompt)
	if err := s.LoadAll(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// Session 1 is currently last (oldest).
	s.Touch(1)

	sessions := s.Sessions()
	if sessions[0].ID != 1 {
		t.Errorf("touched session should move to the top, got %d", sessions[0].ID)
	}
	for i := 1; i < len(sessions); i++ {
		if sessions[i].LastUpdated.After(sessions[i-1].LastUpdated) {
			t.Errorf("collection no longer sorted after touch")
		}
	}
}

// TestRemoveActiveSelectsNext picks the top remaining session.
func TestRemoveActiveSelectsNext(t *testing.T) {
	gw := &stubGateway{list: &gateway.SessionList{HasToken: true, Sessions: rows(1, 2)}}
	s := New(gw, "u", testPrompt)
	if err := s.LoadAll(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	active, _ := s.ActiveID()
	s.Remove(active)

	if len(s.Sessions()) != 1 {
		t.Fatalf("expected 1 session left, got %d", len(s.Sessions()))
	}
	next, ok := s.ActiveID()
	if !ok || next == active {
		t.Errorf("expected the remaining session to be active, got %d", next)
	}
}

// TestRemoveLastCreatesDraft: deletion never leaves the store empty.
func TestRemoveLastCreatesDraft(t *testing.T) {
	gw := &stubGateway{list: &gateway.SessionList{HasToken: true, Sessions: rows(1)}}
	s := New(gw, "u", testPrompt)
	if err := s.LoadAll(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	s.Remove(1)

	sessions := s.Sessions()
	if len(sessions) != 1 || !sessions[0].IsDraft() {
		t.Fatalf("expected a fresh draft after deleting the last session")
	}
	if active, ok := s.ActiveID(); !ok || active != models.DraftSessionID {
		t.Errorf("draft should be selected")
	}
}

// TestSelectUnknown reports ErrNotFound and leaves the pointer alone.
func TestSelectUnknown(t *testing.T) {
	gw := &stubGateway{list: &gateway.SessionList{HasToken: true, Sessions: rows(1)}}
	s := New(gw, "u", testPrompt)
	if err := s.LoadAll(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if err := s.Select(99); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
	if active, _ := s.ActiveID(); active != 1 {
		t.Errorf("failed select must not move the pointer")
	}
}
