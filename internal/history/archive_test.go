package history

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestAppendWritesOneLinePerExchange(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history", "exchanges.jsonl")
	a := NewArchive(path, nil)

	first := Exchange{
		ExchangeID:    "ex-1",
		ChatID:        42,
		ChatTitle:     "Hello",
		Model:         "m",
		UserText:      "Hello",
		AssistantText: "Hi there!\nSecond line.",
		Promoted:      true,
		Timestamp:     time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
	}
	second := Exchange{
		ExchangeID: "ex-2",
		ChatID:     42,
		ChatTitle:  "Hello",
		UserText:   "And then?",
		Timestamp:  time.Date(2025, 6, 1, 12, 1, 0, 0, time.UTC),
	}

	if err := a.Append(first); err != nil {
		t.Fatalf("append failed: %v", err)
	}
	if err := a.Append(second); err != nil {
		t.Fatalf("append failed: %v", err)
	}

	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("archive missing: %v", err)
	}
	defer f.Close()

	var lines []Exchange
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var ex Exchange
		if err := json.Unmarshal(scanner.Bytes(), &ex); err != nil {
			t.Fatalf("line is not valid JSON: %v", err)
		}
		lines = append(lines, ex)
	}
	if err := scanner.Err(); err != nil {
		t.Fatalf("scan failed: %v", err)
	}

	if len(lines) != 2 {
		t.Fatalf("expected 2 lines, got %d", len(lines))
	}
	if lines[0].ExchangeID != "ex-1" || !lines[0].Promoted {
		t.Errorf("first line wrong: %+v", lines[0])
	}
	if lines[0].AssistantText != first.AssistantText {
		t.Errorf("multiline text must survive the round trip, got %q", lines[0].AssistantText)
	}
	if lines[1].ExchangeID != "ex-2" || lines[1].Promoted {
		t.Errorf("second line wrong: %+v", lines[1])
	}
}

func TestAppendCreatesParentDirs(t *testing.T) {
	path := filepath.Join(t.TempDir(), "a", "b", "c", "exchanges.jsonl")
	a := NewArchive(path, nil)

	if err := a.Append(Exchange{ExchangeID: "x", Timestamp: time.Now()}); err != nil {
		t.Fatalf("append failed: %v", err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Errorf("archive not created: %v", err)
	}
}

func TestPath(t *testing.T) {
	a := NewArchive("/tmp/x.jsonl", nil)
	if a.Path() != "/tmp/x.jsonl" {
		t.Errorf("got %q", a.Path())
	}
}
