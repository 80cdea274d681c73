// Package history keeps a local append-only archive of completed message
// round trips. The archive is plain JSONL so it can be queried in place
// with DuckDB's read_json; it is never read back into session state — the
// in-memory store stays the only source of truth.
package history

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Exchange is one archived round trip.
type Exchange struct {
	ExchangeID    string    `json:"exchange_id"`
	ChatID        int       `json:"chat_id"`
	ChatTitle     string    `json:"chat_title"`
	Model         string    `json:"model"`
	UserText      string    `json:"user_text"`
	AssistantText string    `json:"assistant_text"`
	Promoted      bool      `json:"promoted"`
	Timestamp     time.Time `json:"timestamp"`
}

// Archive appends exchanges to a JSONL file. Append failures are logged
// and swallowed; archiving never blocks or fails the chat flow.
type Archive struct {
	mu   sync.Mutex
	path string
	log  *zap.Logger
}

// NewArchive creates an archive rooted at path.
func NewArchive(path string, log *zap.Logger) *Archive {
	if log == nil {
		log = zap.NewNop()
	}
	return &Archive{path: path, log: log}
}

// Path returns the archive file location.
func (a *Archive) Path() string {
	return a.path
}

// Append writes one exchange as a JSON line.
func (a *Archive) Append(ex Exchange) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(a.path), 0o755); err != nil {
		a.log.Warn("archive dir create failed", zap.Error(err))
		return fmt.Errorf("create archive dir: %w", err)
	}

	f, err := os.OpenFile(a.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		a.log.Warn("archive open failed", zap.Error(err))
		return fmt.Errorf("open archive: %w", err)
	}
	defer f.Close()

	line, err := json.Marshal(ex)
	if err != nil {
		return fmt.Errorf("encode exchange: %w", err)
	}
	if _, err := f.Write(append(line, '\n')); err != nil {
		a.log.Warn("archive write failed", zap.Error(err))
		return fmt.Errorf("write exchange: %w", err)
	}
	return nil
}
