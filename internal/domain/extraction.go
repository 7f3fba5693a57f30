// Package domain contains the core types for the tithe-book digitization pipeline.
package domain

import "time"

// ExtractedEntry is one OCR-derived ledger row.
// Entries are produced by the OCR collaborator, validated at the boundary,
// and are immutable once they enter the pipeline.
type ExtractedEntry struct {
	SequenceNumber int     `json:"sequence_number" validate:"gte=1"`
	RawName        string  `json:"raw_name" validate:"required"`
	Amount         float64 `json:"amount" validate:"gte=0"`
	Confidence     float64 `json:"confidence" validate:"gte=0,lte=1"`
}

// ExtractionBatch groups the entries extracted from a single photographed page.
// SubmissionIndex records the position of the source image within the upload,
// which is the tie-break authority when sequence numbers collide across pages.
type ExtractionBatch struct {
	SubmissionIndex int              `json:"submission_index"`
	SourceFile      string           `json:"source_file,omitempty"`
	Entries         []ExtractedEntry `json:"entries"`
}

// MinSequence returns the smallest sequence number in the batch,
// or 0 for an empty batch.
func (b *ExtractionBatch) MinSequence() int {
	min := 0
	for _, e := range b.Entries {
		if min == 0 || e.SequenceNumber < min {
			min = e.SequenceNumber
		}
	}
	return min
}

// TitheRecord is the reconciled output unit consumed downstream.
// Narration may carry machine-readable annotations such as
// "[ANOMALY: ...]", "[OCR CORRECTED: ...]" or "[SUGGESTIONS: ...]".
type TitheRecord struct {
	MembershipIdentity string  `json:"membership_identity"`
	Amount             float64 `json:"amount"`
	Narration          string  `json:"narration,omitempty"`
	SequenceNumber     int     `json:"sequence_number"`
}

// UnmatchedPrefix marks a record whose raw name found no confident roster match.
const UnmatchedPrefix = "[UNMATCHED] "

// IsUnmatched reports whether the record carries the unmatched marker.
func (r *TitheRecord) IsUnmatched() bool {
	return len(r.MembershipIdentity) >= len(UnmatchedPrefix) &&
		r.MembershipIdentity[:len(UnmatchedPrefix)] == UnmatchedPrefix
}

// Contribution is one historical giving entry for a member, used by the
// amount validator to detect per-member outliers.
type Contribution struct {
	AssemblyName string    `json:"assembly_name"`
	MemberID     string    `json:"member_id"`
	Amount       float64   `json:"amount"`
	Period       string    `json:"period"` // "YYYY-MM"
	RecordedAt   time.Time `json:"recorded_at"`
}
