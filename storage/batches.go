package storage

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// BatchMeta describes an upload batch session. A batch only aggregates the
// results of the single-file ingests tagged with its id; it adds no ingest
// semantics of its own.
type BatchMeta struct {
	BatchID   string `json:"batch_id"`
	Project   string `json:"project"`
	Source    string `json:"source"`
	CreatedAt int64  `json:"created_at"` // Unix timestamp
	Closed    bool   `json:"closed"`
	ClosedAt  *int64 `json:"closed_at,omitempty"` // Nullable, Unix timestamp
}

// BatchItem is one ingest result recorded under a batch session.
type BatchItem struct {
	Timestamp    string `json:"timestamp"` // RFC 3339, UTC
	Duplicate    bool   `json:"duplicate"`
	Filename     string `json:"filename"`
	RelativePath string `json:"relative_path"`
	Sha256       string `json:"sha256"`
	SizeBytes    int64  `json:"size_bytes"`
	StreamURL    string `json:"stream_url"`
	DownloadURL  string `json:"download_url"`
}

// BatchSummary aggregates a finalized batch.
type BatchSummary struct {
	Total      int      `json:"total"`
	Stored     int      `json:"stored"`
	Duplicates int      `json:"duplicates"`
	ServedURLs []string `json:"served_urls"`
}

func batchItemsPath(p Project, batchID string) string {
	return filepath.Join(p.BatchesDir(), batchID+".jsonl")
}

func batchMetaPath(p Project, batchID string) string {
	return filepath.Join(p.BatchesDir(), batchID+".meta.json")
}

// StartBatch creates the meta file for a new batch session.
func StartBatch(p Project, batchID string) (*BatchMeta, error) {
	if err := os.MkdirAll(p.BatchesDir(), 0755); err != nil {
		return nil, fmt.Errorf("failed to create batch directory for project %s: %w", p.Name, err)
	}
	meta := &BatchMeta{
		BatchID:   batchID,
		Project:   p.Name,
		Source:    p.SourceName,
		CreatedAt: time.Now().Unix(),
	}
	if err := writeBatchMeta(p, meta); err != nil {
		return nil, err
	}
	return meta, nil
}

// LoadBatchMeta reads the meta file of a batch session. A missing batch is
// reported with os.ErrNotExist wrapped.
func LoadBatchMeta(p Project, batchID string) (*BatchMeta, error) {
	data, err := os.ReadFile(batchMetaPath(p, batchID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("batch %s not found: %w", batchID, err)
		}
		return nil, fmt.Errorf("failed to read batch meta %s: %w", batchID, err)
	}
	var meta BatchMeta
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, fmt.Errorf("failed to parse batch meta %s: %w", batchID, err)
	}
	return &meta, nil
}

func writeBatchMeta(p Project, meta *BatchMeta) error {
	data, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode batch meta %s: %w", meta.BatchID, err)
	}
	if err := os.WriteFile(batchMetaPath(p, meta.BatchID), data, 0644); err != nil {
		return fmt.Errorf("failed to write batch meta %s: %w", meta.BatchID, err)
	}
	return nil
}

// AppendBatchItem records one ingest result under the batch.
func AppendBatchItem(p Project, batchID string, item BatchItem) error {
	if item.Timestamp == "" {
		item.Timestamp = time.Now().UTC().Format(time.RFC3339Nano)
	}
	line, err := json.Marshal(item)
	if err != nil {
		return fmt.Errorf("failed to encode batch item for %s: %w", batchID, err)
	}
	f, err := os.OpenFile(batchItemsPath(p, batchID), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("failed to open batch file %s: %w", batchID, err)
	}
	defer f.Close()
	if _, err := f.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("failed to append batch item for %s: %w", batchID, err)
	}
	return nil
}

// ReadBatchItems returns all recorded items of a batch in order. Malformed
// lines are skipped.
func ReadBatchItems(p Project, batchID string) ([]BatchItem, error) {
	f, err := os.Open(batchItemsPath(p, batchID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to open batch file %s: %w", batchID, err)
	}
	defer f.Close()

	var items []BatchItem
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var item BatchItem
		if err := json.Unmarshal(line, &item); err != nil {
			continue
		}
		items = append(items, item)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read batch file %s: %w", batchID, err)
	}
	return items, nil
}

// CloseBatch marks a batch finished. Closing an already-closed batch is a
// no-op.
func CloseBatch(p Project, meta *BatchMeta) error {
	if meta.Closed {
		return nil
	}
	now := time.Now().Unix()
	meta.Closed = true
	meta.ClosedAt = &now
	return writeBatchMeta(p, meta)
}

// SummarizeBatch aggregates counts and served URLs over batch items.
func SummarizeBatch(items []BatchItem) BatchSummary {
	summary := BatchSummary{Total: len(items), ServedURLs: make([]string, 0, len(items))}
	for _, item := range items {
		if item.Duplicate {
			summary.Duplicates++
		} else {
			summary.Stored++
		}
		if item.DownloadURL != "" {
			summary.ServedURLs = append(summary.ServedURLs, item.DownloadURL)
		}
	}
	return summary
}
