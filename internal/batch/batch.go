// Package batch orchestrates the full digitization pipeline for one
// submission: screen images, extract entries, collapse duplicate pages,
// sequence rows, match names against the roster, and validate amounts.
// Single failures degrade to warnings; the batch as a whole keeps going.
package batch

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/tithebookapp/tithebook-server/internal/amounts"
	"github.com/tithebookapp/tithebook-server/internal/domain"
	"github.com/tithebookapp/tithebook-server/internal/imagecheck"
	"github.com/tithebookapp/tithebook-server/internal/match"
	"github.com/tithebookapp/tithebook-server/internal/ocr"
	"github.com/tithebookapp/tithebook-server/internal/pages"
)

// MaxSuggestions caps the roster candidates annotated on unmatched rows.
const MaxSuggestions = 3

// File is one page photo in submission order.
type File struct {
	Name string
	Data []byte
}

// Result is the reconciled output of one batch.
type Result struct {
	Records  []domain.TitheRecord `json:"records"`
	Gaps     []int                `json:"gaps,omitempty"`
	Warnings []domain.Warning     `json:"warnings,omitempty"`

	// DuplicateGroups lists source files recognized as photos of the
	// same physical page, for the review UI.
	DuplicateGroups [][]string `json:"duplicate_groups,omitempty"`

	// Pages describes every accepted page image, including the BlurHash
	// placeholder the dashboard renders while full scans load.
	Pages []PageInfo `json:"pages,omitempty"`

	FilesProcessed int `json:"files_processed"`
	FilesSkipped   int `json:"files_skipped"`
}

// PageInfo pairs an accepted source file with its screening result.
type PageInfo struct {
	SourceFile string `json:"source_file"`
	imagecheck.Info
}

// Processor runs the pipeline. Decorate the extractor (validation, rate
// limiting) before handing it in; the processor treats it as opaque.
type Processor struct {
	extractor ocr.Extractor
	matcher   *match.Matcher
	amounts   *amounts.Validator
	logger    *slog.Logger

	// OnProgress, when set, is called once per file in submission order
	// after the file has been processed or skipped, so index counts
	// completed files. Drives upload progress in the dashboard.
	OnProgress func(file string, index, total int)
}

// NewProcessor creates a batch processor.
func NewProcessor(extractor ocr.Extractor, matcher *match.Matcher, amountsValidator *amounts.Validator, logger *slog.Logger) *Processor {
	return &Processor{
		extractor: extractor,
		matcher:   matcher,
		amounts:   amountsValidator,
		logger:    logger,
	}
}

// Process runs one batch end to end. It returns an error only for
// whole-batch failures (cancellation, storage); per-file and per-row
// problems surface as warnings on the Result.
func (p *Processor) Process(ctx context.Context, files []File, assembly string, roster []domain.RosterMember) (*Result, error) {
	result := &Result{}

	if len(files) == 0 {
		return result, nil
	}
	if len(roster) == 0 {
		result.Warnings = append(result.Warnings, domain.Warningf(
			domain.StageMatching, "",
			"no roster loaded for %s; all rows will be unmatched", assembly))
	}

	batches := p.extract(ctx, files, assembly, roster, result)
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	unique := p.collapseDuplicates(batches, result)

	sequenced := pages.SequencePages(unique)
	result.Gaps = sequenced.Gaps
	result.Warnings = append(result.Warnings, sequenced.Warnings...)
	for _, gap := range sequenced.Gaps {
		result.Warnings = append(result.Warnings, domain.Warningf(
			domain.StageSequencing, "",
			"gap after sequence number %d; check for a missing page", gap))
	}

	result.Records = p.reconcile(ctx, sequenced.Merged, assembly, roster, result)

	p.logger.Info("processed batch",
		"assembly", assembly,
		"files", result.FilesProcessed,
		"skipped", result.FilesSkipped,
		"records", len(result.Records),
		"warnings", len(result.Warnings),
	)
	return result, nil
}

// extract screens and extracts every file, skipping failures with a warning.
func (p *Processor) extract(ctx context.Context, files []File, assembly string, roster []domain.RosterMember, result *Result) []domain.ExtractionBatch {
	var batches []domain.ExtractionBatch

	for i, file := range files {
		if ctx.Err() != nil {
			return batches
		}

		if b := p.extractOne(ctx, file, i, assembly, roster, result); b != nil {
			batches = append(batches, *b)
		}

		if p.OnProgress != nil {
			p.OnProgress(file.Name, i+1, len(files))
		}
	}

	return batches
}

// extractOne screens and extracts a single file. A skip returns nil
// after recording the warning; callers keep going.
func (p *Processor) extractOne(ctx context.Context, file File, index int, assembly string, roster []domain.RosterMember, result *Result) *domain.ExtractionBatch {
	info, err := imagecheck.CheckWithPreview(file.Data)
	if err != nil {
		result.FilesSkipped++
		result.Warnings = append(result.Warnings, domain.Warningf(
			domain.StageValidation, file.Name, "skipped: %v", err))
		return nil
	}

	hint := ocr.PageHint{
		AssemblyName:    assembly,
		SourceFile:      file.Name,
		SubmissionIndex: index,
	}

	var entries []domain.ExtractedEntry
	if checked, ok := p.extractor.(ocr.WarningExtractor); ok {
		var dropped []domain.Warning
		entries, dropped, err = checked.ExtractPageChecked(ctx, file.Data, hint, roster)
		result.Warnings = append(result.Warnings, dropped...)
	} else {
		entries, err = p.extractor.ExtractPage(ctx, file.Data, hint, roster)
	}
	if err != nil {
		result.FilesSkipped++
		result.Warnings = append(result.Warnings, domain.Warningf(
			domain.StageExtraction, file.Name, "extraction failed: %v", err))
		return nil
	}
	if len(entries) == 0 {
		result.FilesSkipped++
		result.Warnings = append(result.Warnings, domain.Warningf(
			domain.StageExtraction, file.Name, "no rows recognized on page"))
		return nil
	}

	result.FilesProcessed++
	result.Pages = append(result.Pages, PageInfo{SourceFile: file.Name, Info: *info})
	return &domain.ExtractionBatch{
		SubmissionIndex: index,
		SourceFile:      file.Name,
		Entries:         entries,
	}
}

// collapseDuplicates folds retaken photos of the same page into one batch.
func (p *Processor) collapseDuplicates(batches []domain.ExtractionBatch, result *Result) []domain.ExtractionBatch {
	report := pages.DetectDuplicatePages(batches)

	unique := make([]domain.ExtractionBatch, 0, len(report.Unique)+len(report.Groups))
	for _, idx := range report.Unique {
		unique = append(unique, batches[idx])
	}
	for _, group := range report.Groups {
		names := make([]string, len(group))
		for i, idx := range group {
			names[i] = batches[idx].SourceFile
		}
		result.DuplicateGroups = append(result.DuplicateGroups, names)
		result.Warnings = append(result.Warnings, domain.Warningf(
			domain.StageSequencing, names[0],
			"%d photos of the same page merged: %s", len(group), strings.Join(names, ", ")))

		unique = append(unique, pages.MergeDuplicateExtractions(batches, group))
	}

	return unique
}

// reconcile matches each sequenced row against the roster and validates
// its amount, annotating the narration rather than mutating silently.
// With no roster loaded, matching is skipped outright: the batch-level
// warning already covers every row, so none get one of their own.
func (p *Processor) reconcile(ctx context.Context, merged []domain.TitheRecord, assembly string, roster []domain.RosterMember, result *Result) []domain.TitheRecord {
	records := make([]domain.TitheRecord, 0, len(merged))
	noRoster := len(roster) == 0

	for _, record := range merged {
		rawName := record.MembershipIdentity
		var notes []string

		memberID := ""
		if noRoster {
			record.MembershipIdentity = domain.UnmatchedPrefix + rawName
		} else if member := p.matcher.FindMemberByName(rawName, roster); member != nil {
			record.MembershipIdentity = match.DisplayIdentity(member)
			memberID = member.MembershipID
		} else {
			record.MembershipIdentity = domain.UnmatchedPrefix + rawName
			if s := p.suggestions(rawName, roster); s != "" {
				notes = append(notes, s)
			}
			result.Warnings = append(result.Warnings, domain.Warningf(
				domain.StageMatching, "",
				"no roster match for %q (seq %d)", rawName, record.SequenceNumber))
		}

		c := p.amounts.Classify(ctx, record.Amount, assembly, memberID)
		switch c.Kind {
		case amounts.KindOCRArtifact:
			notes = append(notes, fmt.Sprintf("[OCR CORRECTED: %.2f -> %.2f]", record.Amount, c.SuggestedAmount))
			record.Amount = c.SuggestedAmount
		case amounts.KindUnusualHigh, amounts.KindUnusualLow, amounts.KindAnomaly:
			notes = append(notes, fmt.Sprintf("[ANOMALY: %s]", c.Message))
			result.Warnings = append(result.Warnings, domain.Warningf(
				domain.StageAmounts, "",
				"amount %.2f for %q flagged %s: %s", record.Amount, rawName, c.Kind, c.Message))
		}

		record.Narration = strings.Join(notes, " ")
		records = append(records, record)
	}

	return records
}

// suggestions renders the top fuzzy candidates for an unmatched name.
func (p *Processor) suggestions(rawName string, roster []domain.RosterMember) string {
	candidates := p.matcher.TopFuzzyMatches(rawName, roster, MaxSuggestions)
	if len(candidates) == 0 {
		return ""
	}
	names := make([]string, len(candidates))
	for i := range candidates {
		names[i] = match.DisplayIdentity(&candidates[i].Member)
	}
	return "[SUGGESTIONS: " + strings.Join(names, " | ") + "]"
}
