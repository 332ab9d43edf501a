// Package storage persists baseline and historical snapshot images plus
// their metadata on durable blob storage, and enforces per-key history
// retention.
//
// Layout under the store root:
//
//	baselines/<key>/current.png   one baseline image per key
//	baselines/<key>/current.json  sidecar with explicit url/viewport/selector
//	history/<key>/<entry>.png     retention-bounded capture sequence
//	history/<key>/<entry>.json    per-entry sidecar with comparison result
//	history/<key>/manifest.json   retained entry names in append order
//	diffs/<key>-<timestamp>.png   diff images for alerting events only
//
// Keys are opaque directory names; they are never parsed back into target
// fields. The sidecar is the source of truth for the triple.
package storage

import (
	"context"
	"fmt"
	"path"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/vigildev/vigil/internal/snapshot"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const (
	baselineArea = "baselines"
	historyArea  = "history"
	diffArea     = "diffs"

	baselineImage   = "current.png"
	baselineSidecar = "current.json"
	manifestName    = "manifest.json"
)

// artifactMeta is the JSON sidecar written next to every stored image. The
// explicit fields make stored artifacts self-describing without encoding
// target components into filenames.
type artifactMeta struct {
	URL        string                     `json:"url"`
	Viewport   snapshot.Viewport          `json:"viewport"`
	Selector   string                     `json:"selector,omitempty"`
	CapturedAt time.Time                  `json:"captured_at"`
	Result     *snapshot.ComparisonResult `json:"result,omitempty"`
}

// historyManifest tracks retained history entries for one key in append
// order, oldest first.
type historyManifest struct {
	Entries []string `json:"entries"`
}

// SnapshotStore persists snapshots, baselines, history and diff images.
type SnapshotStore struct {
	blob Blob
	log  *zap.Logger

	// historyMu serializes manifest read-modify-write cycles so concurrent
	// appends from parallel captures cannot interleave.
	historyMu sync.Mutex
	// seq breaks ties between entries appended within the same nanosecond.
	seq atomic.Uint64
}

// NewSnapshotStore wraps a blob backend.
func NewSnapshotStore(blob Blob, logger *zap.Logger) (*SnapshotStore, error) {
	if blob == nil {
		return nil, fmt.Errorf("cannot create snapshot store with nil blob backend")
	}
	return &SnapshotStore{
		blob: blob,
		log:  logger.Named("snapshot_store"),
	}, nil
}

// WriteBaseline persists snap as the current baseline for its key,
// replacing any previous baseline. The image is written before the sidecar;
// a baseline without its sidecar is treated as absent on load, which keeps
// the image+metadata pair effectively atomic.
func (s *SnapshotStore) WriteBaseline(ctx context.Context, snap *snapshot.Snapshot) error {
	dir := path.Join(baselineArea, snap.Key.String())

	if err := s.blob.Write(ctx, path.Join(dir, baselineImage), snap.Image); err != nil {
		return fmt.Errorf("failed to persist baseline image for %s: %w", snap.Key, err)
	}

	meta := artifactMeta{
		URL:        snap.URL,
		Viewport:   snap.Viewport,
		Selector:   snap.Selector,
		CapturedAt: snap.CapturedAt,
	}
	data, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("failed to encode baseline metadata for %s: %w", snap.Key, err)
	}
	if err := s.blob.Write(ctx, path.Join(dir, baselineSidecar), data); err != nil {
		return fmt.Errorf("failed to persist baseline metadata for %s: %w", snap.Key, err)
	}

	s.log.Debug("Baseline persisted", zap.String("key", snap.Key.String()))
	return nil
}

// LoadBaselines scans the baseline area and returns every stored baseline.
// Entries that cannot be read or decoded are logged and skipped: a broken
// baseline degrades to "no baseline for this key" and gets re-bootstrapped
// on the next check rather than crashing the engine.
func (s *SnapshotStore) LoadBaselines(ctx context.Context) ([]*snapshot.Snapshot, error) {
	keys, err := s.blob.List(ctx, baselineArea)
	if err != nil {
		return nil, fmt.Errorf("failed to scan baseline storage: %w", err)
	}

	baselines := make([]*snapshot.Snapshot, 0, len(keys))
	for _, key := range keys {
		snap, err := s.readBaseline(ctx, key)
		if err != nil {
			s.log.Warn("Skipping unreadable baseline entry",
				zap.String("key", key), zap.Error(err))
			continue
		}
		baselines = append(baselines, snap)
	}
	return baselines, nil
}

func (s *SnapshotStore) readBaseline(ctx context.Context, key string) (*snapshot.Snapshot, error) {
	dir := path.Join(baselineArea, key)

	sidecar, err := s.blob.Read(ctx, path.Join(dir, baselineSidecar))
	if err != nil {
		return nil, fmt.Errorf("missing or unreadable sidecar: %w", err)
	}
	var meta artifactMeta
	if err := json.Unmarshal(sidecar, &meta); err != nil {
		return nil, fmt.Errorf("corrupt sidecar: %w", err)
	}

	image, err := s.blob.Read(ctx, path.Join(dir, baselineImage))
	if err != nil {
		return nil, fmt.Errorf("missing baseline image: %w", err)
	}

	return &snapshot.Snapshot{
		Key:        snapshot.Key(key),
		URL:        meta.URL,
		Viewport:   meta.Viewport,
		Selector:   meta.Selector,
		Image:      image,
		CapturedAt: meta.CapturedAt,
	}, nil
}

// AppendHistory stores a history entry for its key and evicts the oldest
// entries once the retained count exceeds maxEntries. It returns the number
// of entries evicted.
func (s *SnapshotStore) AppendHistory(ctx context.Context, entry *snapshot.HistoryEntry, maxEntries int) (int, error) {
	if maxEntries <= 0 {
		return 0, fmt.Errorf("history retention limit must be positive, got %d", maxEntries)
	}

	s.historyMu.Lock()
	defer s.historyMu.Unlock()

	dir := path.Join(historyArea, entry.Key.String())
	name := fmt.Sprintf("%020d-%06d", entry.Timestamp.UnixNano(), s.seq.Add(1))

	// Resolve retention state before the new entry's files exist, so a
	// missing manifest is rebuilt from prior entries only and the entry
	// being appended is never counted twice.
	manifest, err := s.readManifest(ctx, dir)
	if err != nil {
		// A lost manifest is rebuilt from the entries actually on disk.
		s.log.Warn("History manifest unreadable; rebuilding from storage",
			zap.String("key", entry.Key.String()), zap.Error(err))
		manifest, err = s.rebuildManifest(ctx, dir)
		if err != nil {
			return 0, err
		}
	}

	if err := s.blob.Write(ctx, path.Join(dir, name+".png"), entry.Snapshot.Image); err != nil {
		return 0, fmt.Errorf("failed to persist history image for %s: %w", entry.Key, err)
	}
	meta := artifactMeta{
		URL:        entry.Snapshot.URL,
		Viewport:   entry.Snapshot.Viewport,
		Selector:   entry.Snapshot.Selector,
		CapturedAt: entry.Snapshot.CapturedAt,
		Result:     &entry.Result,
	}
	data, err := json.Marshal(meta)
	if err != nil {
		return 0, fmt.Errorf("failed to encode history metadata for %s: %w", entry.Key, err)
	}
	if err := s.blob.Write(ctx, path.Join(dir, name+".json"), data); err != nil {
		return 0, fmt.Errorf("failed to persist history metadata for %s: %w", entry.Key, err)
	}

	manifest.Entries = append(manifest.Entries, name)

	evicted := 0
	for len(manifest.Entries) > maxEntries {
		oldest := manifest.Entries[0]
		manifest.Entries = manifest.Entries[1:]
		if err := s.blob.Delete(ctx, path.Join(dir, oldest+".png")); err != nil {
			s.log.Warn("Failed to evict history image", zap.String("entry", oldest), zap.Error(err))
		}
		if err := s.blob.Delete(ctx, path.Join(dir, oldest+".json")); err != nil {
			s.log.Warn("Failed to evict history metadata", zap.String("entry", oldest), zap.Error(err))
		}
		evicted++
	}

	if err := s.writeManifest(ctx, dir, manifest); err != nil {
		return evicted, err
	}
	return evicted, nil
}

// HistoryEntries returns the retained entry names for key, oldest first.
func (s *SnapshotStore) HistoryEntries(ctx context.Context, key snapshot.Key) ([]string, error) {
	s.historyMu.Lock()
	defer s.historyMu.Unlock()

	manifest, err := s.readManifest(ctx, path.Join(historyArea, key.String()))
	if err != nil {
		return nil, err
	}
	return manifest.Entries, nil
}

// ReadHistoryResult returns the stored comparison result for one history
// entry of key.
func (s *SnapshotStore) ReadHistoryResult(ctx context.Context, key snapshot.Key, entry string) (*snapshot.ComparisonResult, error) {
	data, err := s.blob.Read(ctx, path.Join(historyArea, key.String(), entry+".json"))
	if err != nil {
		return nil, err
	}
	var meta artifactMeta
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, fmt.Errorf("corrupt history sidecar %s: %w", entry, err)
	}
	if meta.Result == nil {
		return nil, fmt.Errorf("history entry %s has no comparison result", entry)
	}
	return meta.Result, nil
}

// WriteDiff stores a diff image for an alerting event and returns its
// storage reference.
func (s *SnapshotStore) WriteDiff(ctx context.Context, key snapshot.Key, at time.Time, image []byte) (string, error) {
	ref := path.Join(diffArea, fmt.Sprintf("%s-%d.png", key, at.UnixNano()))
	if err := s.blob.Write(ctx, ref, image); err != nil {
		return "", fmt.Errorf("failed to persist diff image for %s: %w", key, err)
	}
	return ref, nil
}

func (s *SnapshotStore) readManifest(ctx context.Context, dir string) (*historyManifest, error) {
	data, err := s.blob.Read(ctx, path.Join(dir, manifestName))
	if err != nil {
		// First append for this key.
		names, listErr := s.blob.List(ctx, dir)
		if listErr == nil && !hasEntryFiles(names) {
			return &historyManifest{}, nil
		}
		return nil, err
	}
	var m historyManifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("corrupt history manifest: %w", err)
	}
	return &m, nil
}

// rebuildManifest reconstructs retention state from the sidecar files on
// disk. Entry names sort lexicographically in capture order.
func (s *SnapshotStore) rebuildManifest(ctx context.Context, dir string) (*historyManifest, error) {
	names, err := s.blob.List(ctx, dir)
	if err != nil {
		return nil, fmt.Errorf("failed to rebuild history manifest: %w", err)
	}
	var entries []string
	for _, n := range names {
		if strings.HasSuffix(n, ".json") && n != manifestName {
			entries = append(entries, strings.TrimSuffix(n, ".json"))
		}
	}
	sort.Strings(entries)
	return &historyManifest{Entries: entries}, nil
}

func (s *SnapshotStore) writeManifest(ctx context.Context, dir string, m *historyManifest) error {
	data, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("failed to encode history manifest: %w", err)
	}
	if err := s.blob.Write(ctx, path.Join(dir, manifestName), data); err != nil {
		return fmt.Errorf("failed to persist history manifest: %w", err)
	}
	return nil
}

func hasEntryFiles(names []string) bool {
	for _, n := range names {
		if strings.HasSuffix(n, ".json") && n != manifestName {
			return true
		}
	}
	return false
}
