// Package extract pulls embedded artifacts out of assistant replies and
// keeps them in a bounded side collection for the info pane. Extraction is
// additive: the reply text itself is returned unmodified apart from
// trimming, fences included.
package extract

import (
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/acrotron/regine-chat/pkg/models"
)

// maxItems caps the side collection at the newest entries.
const maxItems = 10

// codeBlockPattern matches ```lang\n...``` fences. The language tag may
// contain anything but backticks and newlines, so tags like "c++" or
// "python-3" are accepted; an absent or blank tag defaults to "text".
var codeBlockPattern = regexp.MustCompile("```([^`\n]*)\n([\\s\\S]*?)```")

// Extractor scans bot replies for fenced code blocks and collects them as
// additional-info items, newest first.
type Extractor struct {
	mu    sync.Mutex
	items []models.AdditionalInfoItem
}

// New creates an empty extractor.
func New() *Extractor {
	return &Extractor{}
}

// Extract scans message for fenced code blocks, adds one code item per
// block, and returns the trimmed original text. The fences are not
// stripped from the returned text; the transcript still shows the block
// inline.
func (e *Extractor) Extract(message string) string {
	for _, match := range codeBlockPattern.FindAllStringSubmatch(message, -1) {
		language := strings.TrimSpace(match[1])
		if language == "" {
			language = "text"
		}
		e.Add(models.InfoCode, fmt.Sprintf("Code (%s)", language), match[2])
	}
	return strings.TrimSpace(message)
}

// Add prepends an item and truncates the collection to the newest entries.
func (e *Extractor) Add(infoType models.InfoType, title, content string) {
	item := models.AdditionalInfoItem{
		Type:      infoType,
		Title:     title,
		Content:   content,
		Timestamp: time.Now(),
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	e.items = append([]models.AdditionalInfoItem{item}, e.items...)
	if len(e.items) > maxItems {
		e.items = e.items[:maxItems]
	}
}

// Remove deletes the item at index idx; out-of-range indexes are ignored.
func (e *Extractor) Remove(idx int) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if idx < 0 || idx >= len(e.items) {
		return
	}
	e.items = append(e.items[:idx], e.items[idx+1:]...)
}

// Clear empties the collection.
func (e *Extractor) Clear() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.items = nil
}

// Items returns a snapshot of the collection, newest first.
func (e *Extractor) Items() []models.AdditionalInfoItem {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]models.AdditionalInfoItem(nil), e.items...)
}
