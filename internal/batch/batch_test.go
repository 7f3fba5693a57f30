package batch

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tithebookapp/tithebook-server/internal/amounts"
	"github.com/tithebookapp/tithebook-server/internal/domain"
	"github.com/tithebookapp/tithebook-server/internal/match"
	"github.com/tithebookapp/tithebook-server/internal/ocr"
	"github.com/tithebookapp/tithebook-server/internal/validation"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// pageImage encodes a noise PNG large enough to pass screening.
func pageImage(t *testing.T) []byte {
	t.Helper()

	img := image.NewRGBA(image.Rect(0, 0, 900, 700))
	seed := uint32(88172645)
	for y := 0; y < 700; y++ {
		for x := 0; x < 900; x++ {
			seed ^= seed << 13
			seed ^= seed >> 17
			seed ^= seed << 5
			img.Set(x, y, color.RGBA{R: uint8(seed), G: uint8(seed >> 8), B: uint8(seed >> 16), A: 255})
		}
	}

	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

// pagedExtractor returns canned entries keyed by source file name.
func pagedExtractor(byFile map[string][]domain.ExtractedEntry) ocr.Extractor {
	return ocr.ExtractorFunc(func(_ context.Context, _ []byte, hint ocr.PageHint, _ []domain.RosterMember) ([]domain.ExtractedEntry, error) {
		return byFile[hint.SourceFile], nil
	})
}

func testRoster() []domain.RosterMember {
	return []domain.RosterMember{
		{MembershipID: "M001", Surname: "MENSAH", FirstName: "Kofi"},
		{MembershipID: "M002", Surname: "OWUSU", FirstName: "Ama", OtherNames: "Serwaa"},
		{MembershipID: "M003", Surname: "BOATENG", FirstName: "Yaw"},
	}
}

func entry(seq int, name string, amount, confidence float64) domain.ExtractedEntry {
	return domain.ExtractedEntry{SequenceNumber: seq, RawName: name, Amount: amount, Confidence: confidence}
}

func newProcessor(extractor ocr.Extractor, corrections amounts.CorrectionStore) *Processor {
	logger := discardLogger()
	return NewProcessor(
		extractor,
		match.New(match.Options{}),
		amounts.New(corrections, nil, amounts.Options{}, logger),
		logger,
	)
}

func TestProcessHappyPath(t *testing.T) {
	img := pageImage(t)
	extractor := pagedExtractor(map[string][]domain.ExtractedEntry{
		"page1.jpg": {
			entry(1, "MENSAH KOFI", 50, 0.9),
			entry(2, "OWUSU AMA", 20, 0.9),
		},
		"page2.jpg": {
			entry(3, "BOATENG YAW", 30, 0.9),
		},
	})

	p := newProcessor(extractor, nil)
	result, err := p.Process(context.Background(), []File{
		{Name: "page1.jpg", Data: img},
		{Name: "page2.jpg", Data: img},
	}, "Grace Assembly", testRoster())
	require.NoError(t, err)

	require.Len(t, result.Records, 3)
	assert.Equal(t, 2, result.FilesProcessed)
	assert.Zero(t, result.FilesSkipped)
	assert.Empty(t, result.Gaps)
	assert.Empty(t, result.Warnings)

	assert.Equal(t, "MENSAH Kofi (M001)", result.Records[0].MembershipIdentity)
	assert.Equal(t, 1, result.Records[0].SequenceNumber)
	assert.False(t, result.Records[0].IsUnmatched())
	assert.InDelta(t, 50, result.Records[0].Amount, 0.001)
}

func TestProcessUnmatchedNameGetsSuggestions(t *testing.T) {
	img := pageImage(t)
	extractor := pagedExtractor(map[string][]domain.ExtractedEntry{
		"page1.jpg": {entry(1, "GRACE ADDO", 10, 0.9)},
	})

	p := newProcessor(extractor, nil)
	result, err := p.Process(context.Background(), []File{{Name: "page1.jpg", Data: img}}, "Grace Assembly", testRoster())
	require.NoError(t, err)

	require.Len(t, result.Records, 1)
	record := result.Records[0]
	assert.True(t, record.IsUnmatched())
	assert.Equal(t, domain.UnmatchedPrefix+"GRACE ADDO", record.MembershipIdentity)
	assert.Contains(t, record.Narration, "[SUGGESTIONS: ")

	var matchWarnings int
	for _, w := range result.Warnings {
		if w.Stage == domain.StageMatching {
			matchWarnings++
		}
	}
	assert.Equal(t, 1, matchWarnings)
}

func TestProcessSkipsBadImages(t *testing.T) {
	img := pageImage(t)
	extractor := pagedExtractor(map[string][]domain.ExtractedEntry{
		"good.jpg": {entry(1, "MENSAH KOFI", 50, 0.9)},
	})

	p := newProcessor(extractor, nil)
	result, err := p.Process(context.Background(), []File{
		{Name: "tiny.jpg", Data: []byte("not an image")},
		{Name: "good.jpg", Data: img},
	}, "Grace Assembly", testRoster())
	require.NoError(t, err)

	assert.Equal(t, 1, result.FilesProcessed)
	assert.Equal(t, 1, result.FilesSkipped)
	require.Len(t, result.Records, 1)

	found := false
	for _, w := range result.Warnings {
		if w.Stage == domain.StageValidation && w.File == "tiny.jpg" {
			found = true
		}
	}
	assert.True(t, found, "expected a validation warning for the skipped file")
}

func TestProcessSkipsFailedExtractions(t *testing.T) {
	img := pageImage(t)
	extractor := ocr.ExtractorFunc(func(_ context.Context, _ []byte, hint ocr.PageHint, _ []domain.RosterMember) ([]domain.ExtractedEntry, error) {
		if hint.SourceFile == "bad.jpg" {
			return nil, errors.New("provider timeout")
		}
		return []domain.ExtractedEntry{entry(1, "MENSAH KOFI", 50, 0.9)}, nil
	})

	p := newProcessor(extractor, nil)
	result, err := p.Process(context.Background(), []File{
		{Name: "bad.jpg", Data: img},
		{Name: "good.jpg", Data: img},
	}, "Grace Assembly", testRoster())
	require.NoError(t, err)

	assert.Equal(t, 1, result.FilesSkipped)
	require.Len(t, result.Records, 1)
}

func TestProcessMergesDuplicatePages(t *testing.T) {
	img := pageImage(t)
	extractor := pagedExtractor(map[string][]domain.ExtractedEntry{
		"shot1.jpg": {
			entry(1, "MENSAH KOFI", 50, 0.95),
			entry(2, "OWUSU AMA", 0, 0.40),
		},
		"shot2.jpg": {
			entry(1, "MENSAH KOFI", 50, 0.90),
			entry(2, "OWUSU AMA", 20, 0.95),
		},
	})

	p := newProcessor(extractor, nil)
	result, err := p.Process(context.Background(), []File{
		{Name: "shot1.jpg", Data: img},
		{Name: "shot2.jpg", Data: img},
	}, "Grace Assembly", testRoster())
	require.NoError(t, err)

	require.Len(t, result.Records, 2)
	require.Len(t, result.DuplicateGroups, 1)
	assert.Equal(t, []string{"shot1.jpg", "shot2.jpg"}, result.DuplicateGroups[0])

	// The retake's higher-confidence amount wins for row 2.
	assert.InDelta(t, 20, result.Records[1].Amount, 0.001)
}

func TestProcessReportsGaps(t *testing.T) {
	img := pageImage(t)
	extractor := pagedExtractor(map[string][]domain.ExtractedEntry{
		"page1.jpg": {
			entry(1, "MENSAH KOFI", 50, 0.9),
			entry(2, "OWUSU AMA", 20, 0.9),
			entry(3, "BOATENG YAW", 30, 0.9),
		},
		"page2.jpg": {
			entry(7, "MENSAH KOFI", 5, 0.9),
			entry(8, "OWUSU AMA", 5, 0.9),
		},
	})

	p := newProcessor(extractor, nil)
	result, err := p.Process(context.Background(), []File{
		{Name: "page1.jpg", Data: img},
		{Name: "page2.jpg", Data: img},
	}, "Grace Assembly", testRoster())
	require.NoError(t, err)

	assert.Equal(t, []int{3}, result.Gaps)

	found := false
	for _, w := range result.Warnings {
		if w.Stage == domain.StageSequencing && strings.Contains(w.Message, "missing page") {
			found = true
		}
	}
	assert.True(t, found)
}

func TestProcessEmptyBatch(t *testing.T) {
	p := newProcessor(pagedExtractor(nil), nil)

	result, err := p.Process(context.Background(), nil, "Grace Assembly", testRoster())
	require.NoError(t, err)
	assert.Empty(t, result.Records)
	assert.Empty(t, result.Warnings)
}

func TestProcessWithoutRosterWarnsOnce(t *testing.T) {
	img := pageImage(t)
	extractor := pagedExtractor(map[string][]domain.ExtractedEntry{
		"page1.jpg": {
			entry(1, "MENSAH KOFI", 50, 0.9),
			entry(2, "OWUSU AMA", 20, 0.9),
		},
	})

	p := newProcessor(extractor, nil)
	result, err := p.Process(context.Background(), []File{{Name: "page1.jpg", Data: img}}, "Grace Assembly", nil)
	require.NoError(t, err)

	// Exactly one batch-level warning covers the whole run; no row gets
	// a matching warning of its own.
	var matchingWarnings int
	for _, w := range result.Warnings {
		if w.Stage == domain.StageMatching {
			matchingWarnings++
			assert.Contains(t, w.Message, "no roster loaded")
		}
	}
	assert.Equal(t, 1, matchingWarnings)

	require.Len(t, result.Records, 2)
	for _, r := range result.Records {
		assert.True(t, r.IsUnmatched())
		assert.NotContains(t, r.Narration, "[SUGGESTIONS")
	}
}

func TestProcessReportsProgressAfterEachFile(t *testing.T) {
	img := pageImage(t)

	var events []string
	extractor := ocr.ExtractorFunc(func(_ context.Context, _ []byte, hint ocr.PageHint, _ []domain.RosterMember) ([]domain.ExtractedEntry, error) {
		events = append(events, "extract "+hint.SourceFile)
		return []domain.ExtractedEntry{entry(hint.SubmissionIndex+1, "MENSAH KOFI", 1, 0.9)}, nil
	})

	p := newProcessor(extractor, nil)
	p.OnProgress = func(file string, index, total int) {
		events = append(events, fmt.Sprintf("progress %s %d/%d", file, index, total))
	}

	_, err := p.Process(context.Background(), []File{
		{Name: "a.jpg", Data: img},
		{Name: "b.jpg", Data: img},
	}, "Grace Assembly", testRoster())
	require.NoError(t, err)

	// Progress fires after a file completes, in submission order.
	assert.Equal(t, []string{
		"extract a.jpg",
		"progress a.jpg 1/2",
		"extract b.jpg",
		"progress b.jpg 2/2",
	}, events)
}

func TestProcessSurfacesDroppedEntryWarnings(t *testing.T) {
	img := pageImage(t)
	extractor := ocr.NewValidatingExtractor(pagedExtractor(map[string][]domain.ExtractedEntry{
		"page1.jpg": {
			entry(1, "MENSAH KOFI", 50, 0.9),
			entry(0, "OWUSU AMA", 20, 0.9), // sequence below 1, dropped at the boundary
		},
	}), validation.New())

	p := newProcessor(extractor, nil)
	result, err := p.Process(context.Background(), []File{{Name: "page1.jpg", Data: img}}, "Grace Assembly", testRoster())
	require.NoError(t, err)

	require.Len(t, result.Records, 1)

	found := false
	for _, w := range result.Warnings {
		if w.Stage == domain.StageExtraction && strings.Contains(w.Message, "dropped entry") {
			found = true
			assert.Equal(t, "page1.jpg", w.File)
		}
	}
	assert.True(t, found, "expected the dropped row to surface as a warning")
}

func TestProcessRecordsPagePreviews(t *testing.T) {
	img := pageImage(t)
	extractor := pagedExtractor(map[string][]domain.ExtractedEntry{
		"page1.jpg": {entry(1, "MENSAH KOFI", 50, 0.9)},
	})

	p := newProcessor(extractor, nil)
	result, err := p.Process(context.Background(), []File{
		{Name: "tiny.jpg", Data: []byte("not an image")},
		{Name: "page1.jpg", Data: img},
	}, "Grace Assembly", testRoster())
	require.NoError(t, err)

	// Only accepted files get page info; the skipped one does not.
	require.Len(t, result.Pages, 1)
	page := result.Pages[0]
	assert.Equal(t, "page1.jpg", page.SourceFile)
	assert.Equal(t, 900, page.Width)
	assert.Equal(t, 700, page.Height)
	assert.NotEmpty(t, page.BlurHash)
}

type fakeCorrections struct {
	byRaw map[float64]float64
}

func (f *fakeCorrections) LookupCorrection(_ context.Context, _ string, raw float64) (float64, bool, error) {
	corrected, ok := f.byRaw[raw]
	return corrected, ok, nil
}

func (f *fakeCorrections) RecordCorrection(_ context.Context, _ string, raw, corrected float64) error {
	f.byRaw[raw] = corrected
	return nil
}

func TestProcessAppliesLearnedCorrections(t *testing.T) {
	img := pageImage(t)
	extractor := pagedExtractor(map[string][]domain.ExtractedEntry{
		"page1.jpg": {entry(1, "MENSAH KOFI", 700, 0.9)},
	})

	corrections := &fakeCorrections{byRaw: map[float64]float64{700: 7.00}}
	p := newProcessor(extractor, corrections)

	result, err := p.Process(context.Background(), []File{{Name: "page1.jpg", Data: img}}, "Grace Assembly", testRoster())
	require.NoError(t, err)

	require.Len(t, result.Records, 1)
	assert.InDelta(t, 7.00, result.Records[0].Amount, 0.001)
	assert.Contains(t, result.Records[0].Narration, "[OCR CORRECTED: 700.00 -> 7.00]")
}
