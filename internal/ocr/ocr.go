// Package ocr defines the boundary between the pipeline and the external
// vision service that reads tithe-book pages. The pipeline never trusts
// extractor output: entries are validated and rate limits are enforced
// by decorators before anything reaches the merge stages.
package ocr

import (
	"context"

	"github.com/tithebookapp/tithebook-server/internal/domain"
)

// PageHint carries page-level context to the extractor. Providers use the
// roster to bias recognition toward known member names.
type PageHint struct {
	AssemblyName    string
	SourceFile      string
	SubmissionIndex int
}

// Extractor turns one page image into raw extracted entries.
type Extractor interface {
	ExtractPage(ctx context.Context, image []byte, hint PageHint, roster []domain.RosterMember) ([]domain.ExtractedEntry, error)
}

// ExtractorFunc adapts a function to the Extractor interface.
type ExtractorFunc func(ctx context.Context, image []byte, hint PageHint, roster []domain.RosterMember) ([]domain.ExtractedEntry, error)

func (f ExtractorFunc) ExtractPage(ctx context.Context, image []byte, hint PageHint, roster []domain.RosterMember) ([]domain.ExtractedEntry, error) {
	return f(ctx, image, hint, roster)
}
