// Package pages detects duplicate photographs of the same ledger page and
// merges per-image extraction batches into one ordered, gap-checked set.
//
// All functions are pure: they never error, and degraded input surfaces as
// warnings on the result instead of failures.
package pages

import (
	"fmt"
	"sort"

	"github.com/tithebookapp/tithebook-server/internal/domain"
	"github.com/tithebookapp/tithebook-server/internal/names"
)

// DefaultOverlapThreshold is the row-set overlap ratio above which two
// batches are considered photographs of the same physical page.
const DefaultOverlapThreshold = 0.8

// confidenceMargin is the band within which two confidences are considered
// equal, letting the non-empty amount win the merge instead.
const confidenceMargin = 0.05

// DuplicateReport groups batch indices by transitive page overlap.
type DuplicateReport struct {
	// Groups holds sets of batch indices photographing the same page,
	// each set ordered by submission.
	Groups [][]int `json:"groups,omitempty"`
	// Unique holds indices of batches with no duplicate, in submission order.
	Unique []int `json:"unique"`
}

// rowKey identifies a ledger row for overlap comparison: the printed
// sequence number plus the title-stripped name.
func rowKey(e *domain.ExtractedEntry) string {
	return fmt.Sprintf("%d|%s", e.SequenceNumber, names.StripTitles(e.RawName))
}

// rowSet builds the comparison set for one batch.
func rowSet(b *domain.ExtractionBatch) map[string]bool {
	set := make(map[string]bool, len(b.Entries))
	for i := range b.Entries {
		set[rowKey(&b.Entries[i])] = true
	}
	return set
}

// overlapRatio computes |a ∩ b| / min(|a|, |b|).
func overlapRatio(a, b map[string]bool) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	shared := 0
	for k := range a {
		if b[k] {
			shared++
		}
	}
	smaller := len(a)
	if len(b) < smaller {
		smaller = len(b)
	}
	return float64(shared) / float64(smaller)
}

// DetectDuplicatePages finds batches that photograph the same physical
// page. Two batches are duplicates when their row sets overlap beyond the
// threshold; duplicates group transitively.
func DetectDuplicatePages(batches []domain.ExtractionBatch) DuplicateReport {
	n := len(batches)
	sets := make([]map[string]bool, n)
	for i := range batches {
		sets[i] = rowSet(&batches[i])
	}

	// Union-find over batch indices.
	parent := make([]int, n)
	for i := range parent {
		parent[i] = i
	}
	var find func(int) int
	find = func(x int) int {
		if parent[x] != x {
			parent[x] = find(parent[x])
		}
		return parent[x]
	}
	union := func(a, b int) {
		ra, rb := find(a), find(b)
		if ra != rb {
			parent[rb] = ra
		}
	}

	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			if overlapRatio(sets[i], sets[j]) >= DefaultOverlapThreshold {
				union(i, j)
			}
		}
	}

	members := make(map[int][]int)
	for i := 0; i < n; i++ {
		root := find(i)
		members[root] = append(members[root], i)
	}

	report := DuplicateReport{}
	// Iterate in submission order so output is deterministic.
	for i := 0; i < n; i++ {
		group, ok := members[i]
		if !ok {
			continue
		}
		if len(group) == 1 {
			report.Unique = append(report.Unique, group[0])
		} else {
			report.Groups = append(report.Groups, group)
		}
	}
	return report
}

// MergeDuplicateExtractions merges duplicate batches of the same physical
// page row-by-row, preferring the entry with higher confidence. Where
// confidences sit within a small margin, the non-empty amount wins.
// Merging identical copies of a batch returns a batch equal to the input.
func MergeDuplicateExtractions(batches []domain.ExtractionBatch, group []int) domain.ExtractionBatch {
	if len(group) == 0 {
		return domain.ExtractionBatch{}
	}

	first := batches[group[0]]
	merged := domain.ExtractionBatch{
		SubmissionIndex: first.SubmissionIndex,
		SourceFile:      first.SourceFile,
	}

	bySeq := make(map[int]domain.ExtractedEntry)
	var order []int
	for _, idx := range group {
		for _, e := range batches[idx].Entries {
			current, seen := bySeq[e.SequenceNumber]
			if !seen {
				bySeq[e.SequenceNumber] = e
				order = append(order, e.SequenceNumber)
				continue
			}
			bySeq[e.SequenceNumber] = pickEntry(current, e)
		}
	}

	sort.Ints(order)
	merged.Entries = make([]domain.ExtractedEntry, 0, len(order))
	for _, seq := range order {
		merged.Entries = append(merged.Entries, bySeq[seq])
	}
	return merged
}

// pickEntry chooses between two extractions of the same row.
func pickEntry(current, candidate domain.ExtractedEntry) domain.ExtractedEntry {
	diff := candidate.Confidence - current.Confidence
	if diff > confidenceMargin {
		return candidate
	}
	if diff < -confidenceMargin {
		return current
	}
	// Confidences effectively equal: prefer the non-empty amount.
	if current.Amount == 0 && candidate.Amount != 0 {
		return candidate
	}
	return current
}

// SequenceResult is the output of SequencePages.
type SequenceResult struct {
	// Merged holds all records ordered by sequence number. The membership
	// identity still carries the raw OCR name; matching happens downstream.
	Merged []domain.TitheRecord `json:"merged"`
	// Gaps lists each sequence number followed by a discontinuity greater
	// than one. Gaps are warnings, not errors: a blank ledger row is valid.
	Gaps []int `json:"gaps,omitempty"`
	// Warnings surfaces sequence-number collisions across distinct pages.
	Warnings []domain.Warning `json:"warnings,omitempty"`
}

// SequencePages concatenates unique (non-duplicate) batches ordered by
// their minimum sequence number and scans the result for discontinuities.
// When sequence numbers collide across distinct pages the batch submitted
// earlier wins and the conflict is surfaced as a warning.
func SequencePages(unique []domain.ExtractionBatch) SequenceResult {
	ordered := make([]domain.ExtractionBatch, len(unique))
	copy(ordered, unique)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].MinSequence() < ordered[j].MinSequence()
	})

	result := SequenceResult{}
	bySeq := make(map[int]domain.ExtractedEntry)
	owner := make(map[int]int) // sequence number -> SubmissionIndex of owning batch
	var seqs []int

	for _, batch := range ordered {
		for _, e := range batch.Entries {
			existing, seen := bySeq[e.SequenceNumber]
			if !seen {
				bySeq[e.SequenceNumber] = e
				owner[e.SequenceNumber] = batch.SubmissionIndex
				seqs = append(seqs, e.SequenceNumber)
				continue
			}
			// Genuine collision across non-duplicate pages: earlier
			// submission wins, but never silently.
			keep, drop := existing, e
			if batch.SubmissionIndex < owner[e.SequenceNumber] {
				keep, drop = e, existing
				bySeq[e.SequenceNumber] = keep
				owner[e.SequenceNumber] = batch.SubmissionIndex
			}
			result.Warnings = append(result.Warnings, domain.Warningf(
				domain.StageSequencing, batch.SourceFile,
				"sequence number %d appears on more than one page; kept %q, dropped %q",
				e.SequenceNumber, keep.RawName, drop.RawName))
		}
	}

	sort.Ints(seqs)
	result.Merged = make([]domain.TitheRecord, 0, len(seqs))
	for i, seq := range seqs {
		e := bySeq[seq]
		result.Merged = append(result.Merged, domain.TitheRecord{
			MembershipIdentity: e.RawName,
			Amount:             e.Amount,
			SequenceNumber:     e.SequenceNumber,
		})
		if i > 0 && seq-seqs[i-1] > 1 {
			result.Gaps = append(result.Gaps, seqs[i-1])
		}
	}
	return result
}
