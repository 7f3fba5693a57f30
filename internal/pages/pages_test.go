package pages

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tithebookapp/tithebook-server/internal/domain"
)

func makeBatch(submission int, entries ...domain.ExtractedEntry) domain.ExtractionBatch {
	return domain.ExtractionBatch{SubmissionIndex: submission, Entries: entries}
}

func entry(seq int, name string, amount, confidence float64) domain.ExtractedEntry {
	return domain.ExtractedEntry{
		SequenceNumber: seq,
		RawName:        name,
		Amount:         amount,
		Confidence:     confidence,
	}
}

func pageOne(confidence float64) domain.ExtractionBatch {
	return makeBatch(0,
		entry(1, "KOFI MENSAH", 50, confidence),
		entry(2, "AMA OWUSU", 20, confidence),
		entry(3, "YAW BOATENG", 10, confidence),
		entry(4, "ESI TETTEH", 5, confidence),
		entry(5, "KWAME ASANTE", 100, confidence),
	)
}

func TestDetectDuplicatePages_IdenticalBatches(t *testing.T) {
	a := pageOne(0.9)
	b := pageOne(0.8)
	b.SubmissionIndex = 1

	report := DetectDuplicatePages([]domain.ExtractionBatch{a, b})
	require.Len(t, report.Groups, 1)
	assert.Equal(t, []int{0, 1}, report.Groups[0])
	assert.Empty(t, report.Unique)
}

func TestDetectDuplicatePages_DistinctPages(t *testing.T) {
	a := pageOne(0.9)
	b := makeBatch(1,
		entry(6, "ABENA SARPONG", 30, 0.9),
		entry(7, "KWESI APPIAH", 40, 0.9),
	)

	report := DetectDuplicatePages([]domain.ExtractionBatch{a, b})
	assert.Empty(t, report.Groups)
	assert.Equal(t, []int{0, 1}, report.Unique)
}

func TestDetectDuplicatePages_TransitiveGrouping(t *testing.T) {
	// a overlaps b at 0.8 and b overlaps c at 0.8, but a and c only reach
	// 0.6: the three still group together transitively.
	rows := func(from, to int) []domain.ExtractedEntry {
		var es []domain.ExtractedEntry
		for seq := from; seq <= to; seq++ {
			es = append(es, entry(seq, "ROW", 1, 0.9))
		}
		return es
	}
	a := makeBatch(0, rows(1, 5)...)
	b := makeBatch(1, rows(2, 6)...)
	c := makeBatch(2, rows(3, 7)...)

	report := DetectDuplicatePages([]domain.ExtractionBatch{a, b, c})
	require.Len(t, report.Groups, 1)
	assert.Equal(t, []int{0, 1, 2}, report.Groups[0])
}

func TestMergeDuplicateExtractions_HigherConfidenceWins(t *testing.T) {
	a := pageOne(0.4)
	b := pageOne(0.4)
	b.SubmissionIndex = 1
	// Image B read row 3 much more confidently, with a different amount.
	b.Entries[2] = entry(3, "YAW BOATENG", 15, 0.95)

	merged := MergeDuplicateExtractions([]domain.ExtractionBatch{a, b}, []int{0, 1})
	require.Len(t, merged.Entries, 5)
	assert.Equal(t, 15.0, merged.Entries[2].Amount)
	assert.Equal(t, 0.95, merged.Entries[2].Confidence)
}

func TestMergeDuplicateExtractions_NonEmptyAmountBreaksTie(t *testing.T) {
	a := makeBatch(0, entry(1, "KOFI MENSAH", 0, 0.80))
	b := makeBatch(1, entry(1, "KOFI MENSAH", 50, 0.82))

	merged := MergeDuplicateExtractions([]domain.ExtractionBatch{a, b}, []int{0, 1})
	require.Len(t, merged.Entries, 1)
	assert.Equal(t, 50.0, merged.Entries[0].Amount)
}

func TestMergeDuplicateExtractions_IdempotentUnderSelfDuplication(t *testing.T) {
	a := pageOne(0.9)
	b := pageOne(0.9)
	b.SubmissionIndex = 1

	merged := MergeDuplicateExtractions([]domain.ExtractionBatch{a, b}, []int{0, 1})
	assert.Equal(t, a.Entries, merged.Entries)
	assert.Equal(t, a.SubmissionIndex, merged.SubmissionIndex)
}

func TestMergeDuplicateExtractions_EmptyGroup(t *testing.T) {
	merged := MergeDuplicateExtractions(nil, nil)
	assert.Empty(t, merged.Entries)
}

func TestSequencePages_GapDetection(t *testing.T) {
	batch := makeBatch(0,
		entry(1, "A", 1, 0.9),
		entry(2, "B", 1, 0.9),
		entry(3, "C", 1, 0.9),
		entry(7, "D", 1, 0.9),
		entry(8, "E", 1, 0.9),
	)

	result := SequencePages([]domain.ExtractionBatch{batch})
	require.Len(t, result.Merged, 5)
	assert.Equal(t, []int{3}, result.Gaps)
	assert.Empty(t, result.Warnings)
}

func TestSequencePages_OrdersByMinSequence(t *testing.T) {
	pageTwo := makeBatch(0, entry(6, "F", 1, 0.9), entry(7, "G", 1, 0.9))
	page := makeBatch(1, entry(1, "A", 1, 0.9), entry(2, "B", 1, 0.9))

	result := SequencePages([]domain.ExtractionBatch{pageTwo, page})
	require.Len(t, result.Merged, 4)
	assert.Equal(t, 1, result.Merged[0].SequenceNumber)
	assert.Equal(t, 7, result.Merged[3].SequenceNumber)
}

func TestSequencePages_CollisionEarlierSubmissionWins(t *testing.T) {
	first := makeBatch(0, entry(1, "KOFI MENSAH", 50, 0.9))
	second := makeBatch(1, entry(1, "AMA OWUSU", 20, 0.9))

	result := SequencePages([]domain.ExtractionBatch{first, second})
	require.Len(t, result.Merged, 1)
	assert.Equal(t, "KOFI MENSAH", result.Merged[0].MembershipIdentity)
	require.Len(t, result.Warnings, 1)
	assert.Equal(t, domain.StageSequencing, result.Warnings[0].Stage)
}

func TestSequencePages_Empty(t *testing.T) {
	result := SequencePages(nil)
	assert.Empty(t, result.Merged)
	assert.Empty(t, result.Gaps)
}
