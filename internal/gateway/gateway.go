// Package gateway wraps the remote inference backend behind a small
// interface. The backend is eventually consistent: session lists, session
// content and message replies all come from the same HTTP surface, and the
// shapes it returns have drifted over time, so decoding is tolerant.
package gateway

import (
	"context"
	"errors"

	"github.com/acrotron/regine-chat/pkg/models"
)

// ErrGateway marks a failed backend call. Callers that only need to know
// "the backend did not answer" match on this with errors.Is.
var ErrGateway = errors.New("gateway request failed")

// SessionRow is one entry of the bulk session listing. Content is not
// included; it is fetched lazily through LoadSession.
type SessionRow struct {
	ChatID    int    `json:"chat_id"`
	ChatTitle string `json:"chat_title"`
	CreatedAt string `json:"created_at"`
	UpdatedAt string `json:"updated_at"`
}

// SessionList is the decoded result of LoadAllSessions. HasToken reports
// whether the user has a personal access token on file; the legacy array
// response carries no such field and decodes with HasToken=true.
type SessionList struct {
	HasToken bool
	Sessions []SessionRow
}

// SessionContent is the full content of a single persisted session.
type SessionContent struct {
	ChatTitle    string        `json:"chat_title"`
	ChatText     []models.Turn `json:"chat_text"`
	SystemPrompt string        `json:"system_prompt"`
	Model        string        `json:"model"`
}

// SendResult is the backend's reply to one user message. For the first
// message of a new chat, ChatID and ChatTitle carry the identity the
// draft session is promoted to.
type SendResult struct {
	ChatID            int    `json:"chat_id"`
	ChatTitle         string `json:"chat_title"`
	AssistantResponse string `json:"assistant_response"`
	SystemPrompt      string `json:"system_prompt"`
	Model             string `json:"model"`
}

// ChatGateway is the async RPC boundary to the backend. Every call blocks
// until the backend answers or ctx is done; failures surface as errors
// wrapping ErrGateway. No retries are performed at this layer.
type ChatGateway interface {
	// LoadAllSessions lists the user's persisted sessions, newest data
	// included only as listing metadata.
	LoadAllSessions(ctx context.Context, userID string) (*SessionList, error)

	// LoadSession fetches the full transcript of one persisted session.
	LoadSession(ctx context.Context, userID string, chatID int) (*SessionContent, error)

	// SendMessage submits one user message. chatID is models.DraftSessionID
	// for the first message of a not-yet-persisted chat; the backend then
	// assigns a real id in the result.
	SendMessage(ctx context.Context, userID string, chatID int, text, model, systemPrompt string) (*SendResult, error)

	// GetToken issues a personal access token for the user.
	GetToken(ctx context.Context, userID string) (string, error)

	// DeleteSession removes a persisted session on the backend. Optional:
	// local deletion proceeds even when this fails.
	DeleteSession(ctx context.Context, userID string, chatID int) error
}
