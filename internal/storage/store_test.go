package storage_test

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/vigildev/vigil/internal/snapshot"
	"github.com/vigildev/vigil/internal/storage"
)

func newTestStore(t *testing.T) *storage.SnapshotStore {
	t.Helper()
	fs, err := storage.NewFS(t.TempDir())
	require.NoError(t, err)
	store, err := storage.NewSnapshotStore(fs, zap.NewNop())
	require.NoError(t, err)
	return store
}

func testSnapshot(image string) *snapshot.Snapshot {
	return &snapshot.Snapshot{
		Key:        snapshot.DeriveKey("https://example.com", "desktop", "#hero"),
		URL:        "https://example.com",
		Viewport:   snapshot.Viewport{Name: "desktop", Width: 1920, Height: 1080},
		Selector:   "#hero",
		Image:      []byte(image),
		CapturedAt: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
}

func TestBaselineRoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	snap := testSnapshot("png-bytes")
	require.NoError(t, store.WriteBaseline(ctx, snap))

	loaded, err := store.LoadBaselines(ctx)
	require.NoError(t, err)
	require.Len(t, loaded, 1)

	got := loaded[0]
	assert.Equal(t, snap.Key, got.Key)
	assert.Equal(t, snap.URL, got.URL)
	assert.Equal(t, snap.Viewport, got.Viewport)
	assert.Equal(t, snap.Selector, got.Selector)
	assert.Equal(t, snap.Image, got.Image)
	assert.True(t, snap.CapturedAt.Equal(got.CapturedAt))
}

func TestWriteBaseline_Overwrites(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.WriteBaseline(ctx, testSnapshot("v1")))
	require.NoError(t, store.WriteBaseline(ctx, testSnapshot("v2")))

	loaded, err := store.LoadBaselines(ctx)
	require.NoError(t, err)
	require.Len(t, loaded, 1)
	assert.Equal(t, []byte("v2"), loaded[0].Image)
}

// A baseline directory whose sidecar is corrupt degrades to "no baseline"
// instead of failing the whole load.
func TestLoadBaselines_SkipsCorruptEntries(t *testing.T) {
	root := t.TempDir()
	fs, err := storage.NewFS(root)
	require.NoError(t, err)
	store, err := storage.NewSnapshotStore(fs, zap.NewNop())
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, store.WriteBaseline(ctx, testSnapshot("good")))

	badDir := filepath.Join(root, "baselines", "broken-key")
	require.NoError(t, os.MkdirAll(badDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(badDir, "current.json"), []byte("{not json"), 0o644))

	loaded, err := store.LoadBaselines(ctx)
	require.NoError(t, err)
	assert.Len(t, loaded, 1)
}

func appendEntry(t *testing.T, store *storage.SnapshotStore, key snapshot.Key, i, max int) int {
	t.Helper()
	snap := testSnapshot(fmt.Sprintf("capture-%d", i))
	entry := &snapshot.HistoryEntry{
		Key:       key,
		Snapshot:  snap,
		Result:    snapshot.ComparisonResult{DiffRatio: float64(i) / 100},
		Timestamp: time.Date(2026, 3, 1, 12, 0, i, 0, time.UTC),
	}
	evicted, err := store.AppendHistory(context.Background(), entry, max)
	require.NoError(t, err)
	return evicted
}

// 25 sequential checks with a retention limit of 20 must leave exactly the
// entries for checks 6..25.
func TestAppendHistory_RetentionEvictsOldestFirst(t *testing.T) {
	store := newTestStore(t)
	key := snapshot.DeriveKey("https://example.com", "desktop", "")

	totalEvicted := 0
	for i := 1; i <= 25; i++ {
		totalEvicted += appendEntry(t, store, key, i, 20)
	}
	assert.Equal(t, 5, totalEvicted)

	entries, err := store.HistoryEntries(context.Background(), key)
	require.NoError(t, err)
	require.Len(t, entries, 20)

	// Oldest retained entry must be check 6.
	first, err := store.ReadHistoryResult(context.Background(), key, entries[0])
	require.NoError(t, err)
	assert.InDelta(t, 0.06, first.DiffRatio, 1e-9)

	last, err := store.ReadHistoryResult(context.Background(), key, entries[19])
	require.NoError(t, err)
	assert.InDelta(t, 0.25, last.DiffRatio, 1e-9)
}

// A fresh key has no manifest yet; its first append must record exactly
// one entry, never double-count the entry it is writing.
func TestAppendHistory_FirstAppendRecordsEntryOnce(t *testing.T) {
	store := newTestStore(t)
	key := snapshot.DeriveKey("https://example.com", "desktop", "")

	evicted := appendEntry(t, store, key, 1, 20)
	assert.Zero(t, evicted)

	entries, err := store.HistoryEntries(context.Background(), key)
	require.NoError(t, err)
	require.Len(t, entries, 1)

	result, err := store.ReadHistoryResult(context.Background(), key, entries[0])
	require.NoError(t, err)
	assert.InDelta(t, 0.01, result.DiffRatio, 1e-9)
}

// Every manifest entry must stay readable across evictions; a phantom entry
// whose files were evicted would break history reads.
func TestAppendHistory_AllRetainedEntriesReadable(t *testing.T) {
	store := newTestStore(t)
	key := snapshot.DeriveKey("https://example.com", "desktop", "")

	for i := 1; i <= 7; i++ {
		appendEntry(t, store, key, i, 5)
	}

	entries, err := store.HistoryEntries(context.Background(), key)
	require.NoError(t, err)
	require.Len(t, entries, 5)
	for _, name := range entries {
		_, err := store.ReadHistoryResult(context.Background(), key, name)
		require.NoError(t, err, "entry %s listed in manifest but unreadable", name)
	}
}

func TestAppendHistory_UnderLimitKeepsAll(t *testing.T) {
	store := newTestStore(t)
	key := snapshot.DeriveKey("https://example.com", "desktop", "")

	for i := 1; i <= 3; i++ {
		evicted := appendEntry(t, store, key, i, 20)
		assert.Zero(t, evicted)
	}

	entries, err := store.HistoryEntries(context.Background(), key)
	require.NoError(t, err)
	assert.Len(t, entries, 3)
}

func TestAppendHistory_RejectsNonPositiveLimit(t *testing.T) {
	store := newTestStore(t)
	entry := &snapshot.HistoryEntry{
		Key:       "k",
		Snapshot:  testSnapshot("x"),
		Timestamp: time.Now(),
	}
	_, err := store.AppendHistory(context.Background(), entry, 0)
	assert.Error(t, err)
}

func TestWriteDiff_ReturnsReadableRef(t *testing.T) {
	root := t.TempDir()
	fs, err := storage.NewFS(root)
	require.NoError(t, err)
	store, err := storage.NewSnapshotStore(fs, zap.NewNop())
	require.NoError(t, err)

	key := snapshot.DeriveKey("https://example.com", "desktop", "")
	ref, err := store.WriteDiff(context.Background(), key, time.Now(), []byte("diff-bytes"))
	require.NoError(t, err)
	require.NotEmpty(t, ref)

	data, err := fs.Read(context.Background(), ref)
	require.NoError(t, err)
	assert.Equal(t, []byte("diff-bytes"), data)
}

func TestFS_ListMissingDirIsEmpty(t *testing.T) {
	fs, err := storage.NewFS(t.TempDir())
	require.NoError(t, err)

	names, err := fs.List(context.Background(), "does/not/exist")
	require.NoError(t, err)
	assert.Empty(t, names)
}

func TestFS_DeleteMissingIsNoop(t *testing.T) {
	fs, err := storage.NewFS(t.TempDir())
	require.NoError(t, err)
	assert.NoError(t, fs.Delete(context.Background(), "nope.png"))
}
