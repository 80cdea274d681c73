package models

import "time"

// DraftSessionID is the sentinel id of a locally created session that the
// backend has not acknowledged yet. At most one draft exists at any time.
const DraftSessionID = -1

// Sender identifies who produced a rendered message.
type Sender string

const (
	SenderUser Sender = "user"
	SenderBot  Sender = "bot"
)

// Conversation roles as the backend expects them.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is a single rendered entry of the visible transcript. For user
// messages Text is the display-rendered form; for bot messages it is the
// reply after additional-info extraction.
type Message struct {
	Text      string    `json:"text"`
	Sender    Sender    `json:"sender"`
	Timestamp time.Time `json:"timestamp"`
}

// Turn is one role/content entry of the raw conversation history that is
// sent back to the backend. It always retains original formatting.
type Turn struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatSession is one conversation with the assistant. Sessions listed by a
// bulk fetch start with IsLoaded=false and empty Messages until hydrated.
type ChatSession struct {
	ID                  int
	Name                string
	Messages            []Message
	ConversationHistory []Turn
	CreatedAt           time.Time
	LastUpdated         time.Time
	IsLoaded            bool

	// Optional per-session overrides; empty means the client defaults apply.
	SystemPrompt string
	Model        string
}

// IsDraft reports whether the session is the provisional "New Chat" slot.
func (s *ChatSession) IsDraft() bool {
	return s.ID == DraftSessionID
}

// InfoType classifies an additional-info item.
type InfoType string

const (
	InfoCode   InfoType = "code"
	InfoSource InfoType = "source"
	InfoNote   InfoType = "note"
	InfoImage  InfoType = "image"
)

// AdditionalInfoItem is an artifact pulled out of an assistant reply and
// shown in the side pane.
type AdditionalInfoItem struct {
	Type      InfoType  `json:"type"`
	Title     string    `json:"title"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}
