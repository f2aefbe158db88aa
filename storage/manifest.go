package storage

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Manifest event types appended by the service.
const (
	EventUploadIngested         = "upload_ingested"
	EventUploadDuplicateSkipped = "upload_duplicate_skipped"
	EventReindexCompleted       = "reindex_completed"
	EventMediaDeleted           = "media_deleted"
	EventResolveJobOpened       = "resolve_job_opened"
)

// ManifestEvent is one line of the append-only event ledger. The ledger is
// the canonical record of what happened when; it is never rewritten.
type ManifestEvent struct {
	Timestamp string                 `json:"timestamp"` // RFC 3339, UTC
	Event     string                 `json:"event"`
	Payload   map[string]interface{} `json:"payload"`
}

// AppendEvent appends one event to the project's events.jsonl ledger.
func AppendEvent(p Project, event string, payload map[string]interface{}) error {
	record := ManifestEvent{
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
		Event:     event,
		Payload:   payload,
	}
	line, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to encode manifest event %s: %w", event, err)
	}

	target := p.EventsPath()
	if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
		return fmt.Errorf("failed to create manifest directory for project %s: %w", p.Name, err)
	}
	f, err := os.OpenFile(target, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("failed to open event ledger for project %s: %w", p.Name, err)
	}
	defer f.Close()

	if _, err := f.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("failed to append manifest event for project %s: %w", p.Name, err)
	}
	return nil
}

// ReadEvents returns all ledger events in insertion order. Malformed lines
// are skipped rather than failing the read.
func ReadEvents(p Project) ([]ManifestEvent, error) {
	f, err := os.Open(p.EventsPath())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to open event ledger for project %s: %w", p.Name, err)
	}
	defer f.Close()

	var events []ManifestEvent
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var event ManifestEvent
		if err := json.Unmarshal(line, &event); err != nil {
			continue
		}
		events = append(events, event)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read event ledger for project %s: %w", p.Name, err)
	}
	return events, nil
}
