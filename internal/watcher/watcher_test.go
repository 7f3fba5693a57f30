package watcher

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tithebookapp/tithebook-server/internal/amounts"
	"github.com/tithebookapp/tithebook-server/internal/batch"
	"github.com/tithebookapp/tithebook-server/internal/domain"
	"github.com/tithebookapp/tithebook-server/internal/match"
	"github.com/tithebookapp/tithebook-server/internal/ocr"
	"github.com/tithebookapp/tithebook-server/internal/roster"
)

func TestOptionsDefaults(t *testing.T) {
	opts := Options{}
	opts.setDefaults()

	assert.Equal(t, 500*time.Millisecond, opts.SettleDelay)
	assert.True(t, opts.IgnoreHidden)
	assert.Contains(t, opts.IgnorePatterns, "*.json")
}

func TestShouldIgnore(t *testing.T) {
	opts := Options{}
	opts.setDefaults()

	tests := []struct {
		path   string
		ignore bool
	}{
		{"grace-assembly/page1.jpg", false},
		{"grace-assembly/.syncing", true},
		{"grace-assembly/upload.tmp", true},
		{"grace-assembly/result.json", true},
		{"grace-assembly/Thumbs.db", true},
		{".hidden-dir/page1.jpg", true},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.ignore, opts.shouldIgnore(tt.path), tt.path)
	}
}

func TestIsPageImage(t *testing.T) {
	assert.True(t, isPageImage("page1.jpg"))
	assert.True(t, isPageImage("PAGE2.PNG"))
	assert.True(t, isPageImage("scan.webp"))
	assert.False(t, isPageImage("result.json"))
	assert.False(t, isPageImage("notes.txt"))
}

// folderExtractor serves canned entries keyed by source file name.
type folderExtractor struct {
	pages map[string][]domain.ExtractedEntry
}

func (f *folderExtractor) ExtractPage(_ context.Context, _ []byte, hint ocr.PageHint, _ []domain.RosterMember) ([]domain.ExtractedEntry, error) {
	return f.pages[hint.SourceFile], nil
}

func noisePNG(t *testing.T, width, height int) []byte {
	t.Helper()

	img := image.NewNRGBA(image.Rect(0, 0, width, height))
	seed := uint32(2463534242)
	for y := range height {
		for x := range width {
			seed ^= seed << 13
			seed ^= seed >> 17
			seed ^= seed << 5
			img.SetNRGBA(x, y, color.NRGBA{R: uint8(seed), G: uint8(seed >> 8), B: uint8(seed >> 16), A: 255})
		}
	}

	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

// setupWatcher builds a watcher over a temp drop dir with the assembly
// folder pre-created, so folder watches exist before pages arrive.
func setupWatcher(t *testing.T, extractor ocr.Extractor, withRoster bool) (*Watcher, string) {
	t.Helper()

	tmpDir := t.TempDir()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	rosters, err := roster.NewSource(filepath.Join(tmpDir, "rosters"), logger)
	require.NoError(t, err)

	if withRoster {
		require.NoError(t, rosters.Save("grace-assembly", []domain.RosterMember{
			{MembershipID: "M001", Surname: "MENSAH", FirstName: "Kofi"},
			{MembershipID: "M002", Surname: "BOATENG", FirstName: "Ama"},
		}))
	}

	processor := batch.NewProcessor(extractor, match.New(match.Options{}),
		amounts.New(nil, nil, amounts.Options{}, logger), logger)

	dropDir := filepath.Join(tmpDir, "drop")
	assemblyDir := filepath.Join(dropDir, "grace-assembly")
	require.NoError(t, os.MkdirAll(assemblyDir, 0o755))

	w, err := New(processor, rosters, dropDir, logger, Options{SettleDelay: 50 * time.Millisecond})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	go func() { _ = w.Start(ctx) }()
	t.Cleanup(func() {
		cancel()
		_ = w.Stop()
	})

	return w, assemblyDir
}

func waitForResult(t *testing.T, w *Watcher) FolderResult {
	t.Helper()

	select {
	case result := <-w.Results():
		return result
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for folder result")
		return FolderResult{}
	}
}

func TestWatcherProcessesDroppedPages(t *testing.T) {
	extractor := &folderExtractor{pages: map[string][]domain.ExtractedEntry{
		"page1.png": {
			{SequenceNumber: 1, RawName: "MENSAH Kofi", Amount: 10, Confidence: 0.95},
			{SequenceNumber: 2, RawName: "BOATENG Ama", Amount: 20, Confidence: 0.9},
		},
	}}
	w, assemblyDir := setupWatcher(t, extractor, true)

	require.NoError(t, os.WriteFile(filepath.Join(assemblyDir, "page1.png"), noisePNG(t, 900, 700), 0o644))

	result := waitForResult(t, w)
	require.NoError(t, result.Err)
	assert.Equal(t, "grace-assembly", result.Assembly)
	require.NotNil(t, result.Result)
	require.Len(t, result.Result.Records, 2)
	assert.Equal(t, "MENSAH KOFI (M001)", result.Result.Records[0].MembershipIdentity)

	// The outcome lands next to the pages and the pages are archived.
	_, err := os.Stat(filepath.Join(assemblyDir, resultFileName))
	assert.NoError(t, err)
	_, err = os.Stat(filepath.Join(assemblyDir, processedDirName, "page1.png"))
	assert.NoError(t, err)
	_, err = os.Stat(filepath.Join(assemblyDir, "page1.png"))
	assert.True(t, os.IsNotExist(err))
}

func TestWatcherBatchesBurstIntoOneRun(t *testing.T) {
	extractor := &folderExtractor{pages: map[string][]domain.ExtractedEntry{
		"page1.png": {{SequenceNumber: 1, RawName: "MENSAH Kofi", Amount: 10, Confidence: 0.95}},
		"page2.png": {{SequenceNumber: 2, RawName: "BOATENG Ama", Amount: 20, Confidence: 0.9}},
	}}
	w, assemblyDir := setupWatcher(t, extractor, true)

	page := noisePNG(t, 900, 700)
	require.NoError(t, os.WriteFile(filepath.Join(assemblyDir, "page1.png"), page, 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(assemblyDir, "page2.png"), page, 0o644))

	result := waitForResult(t, w)
	require.NoError(t, result.Err)
	require.NotNil(t, result.Result)
	assert.Equal(t, 2, result.Result.FilesProcessed)
	assert.Len(t, result.Result.Records, 2)
}

func TestWatcherWithoutRosterEmitsUnmatched(t *testing.T) {
	extractor := &folderExtractor{pages: map[string][]domain.ExtractedEntry{
		"page1.png": {{SequenceNumber: 1, RawName: "MENSAH Kofi", Amount: 10, Confidence: 0.95}},
	}}
	w, assemblyDir := setupWatcher(t, extractor, false)

	require.NoError(t, os.WriteFile(filepath.Join(assemblyDir, "page1.png"), noisePNG(t, 900, 700), 0o644))

	result := waitForResult(t, w)
	require.NoError(t, result.Err)
	require.NotNil(t, result.Result)
	require.Len(t, result.Result.Records, 1)
	assert.True(t, strings.HasPrefix(result.Result.Records[0].MembershipIdentity, domain.UnmatchedPrefix))
}

func TestWatcherIgnoresNonImageFiles(t *testing.T) {
	extractor := &folderExtractor{pages: map[string][]domain.ExtractedEntry{}}
	w, assemblyDir := setupWatcher(t, extractor, true)

	require.NoError(t, os.WriteFile(filepath.Join(assemblyDir, "notes.txt"), []byte("not a page"), 0o644))

	select {
	case result := <-w.Results():
		t.Fatalf("unexpected folder result: %+v", result)
	case <-time.After(300 * time.Millisecond):
	}
}
