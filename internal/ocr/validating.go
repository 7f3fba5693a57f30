package ocr

import (
	"context"
	"fmt"

	"github.com/tithebookapp/tithebook-server/internal/domain"
	"github.com/tithebookapp/tithebook-server/internal/validation"
)

// WarningExtractor is an Extractor that also reports entries dropped at
// the boundary so callers can attach them to their result.
type WarningExtractor interface {
	Extractor
	ExtractPageChecked(ctx context.Context, image []byte, hint PageHint, roster []domain.RosterMember) ([]domain.ExtractedEntry, []domain.Warning, error)
}

// ValidatingExtractor wraps an Extractor and drops entries that fail
// structural validation. Dropped entries become warnings rather than
// errors so one garbled row never sinks a whole page.
type ValidatingExtractor struct {
	inner     Extractor
	validator *validation.Validator
}

// NewValidatingExtractor wraps inner with per-entry validation.
func NewValidatingExtractor(inner Extractor, v *validation.Validator) *ValidatingExtractor {
	return &ValidatingExtractor{inner: inner, validator: v}
}

func (e *ValidatingExtractor) ExtractPage(ctx context.Context, image []byte, hint PageHint, roster []domain.RosterMember) ([]domain.ExtractedEntry, error) {
	entries, _, err := e.ExtractPageChecked(ctx, image, hint, roster)
	return entries, err
}

// ExtractPageChecked extracts a page and returns one warning per entry
// dropped by validation.
func (e *ValidatingExtractor) ExtractPageChecked(ctx context.Context, image []byte, hint PageHint, roster []domain.RosterMember) ([]domain.ExtractedEntry, []domain.Warning, error) {
	entries, err := e.inner.ExtractPage(ctx, image, hint, roster)
	if err != nil {
		return nil, nil, err
	}

	var warnings []domain.Warning
	valid := make([]domain.ExtractedEntry, 0, len(entries))
	for _, entry := range entries {
		if err := e.validator.Validate(entry); err != nil {
			warnings = append(warnings, domain.Warningf(domain.StageExtraction, hint.SourceFile,
				"dropped entry %q (seq %d): %v", entry.RawName, entry.SequenceNumber, err))
			continue
		}
		valid = append(valid, entry)
	}

	return valid, warnings, nil
}

var _ WarningExtractor = (*ValidatingExtractor)(nil)

// RateLimitedExtractor wraps an Extractor and blocks until the provider's
// rate limiter grants a token. The key scopes the budget per provider.
type RateLimitedExtractor struct {
	inner   Extractor
	limiter Waiter
	key     string
}

// Waiter is the blocking side of a keyed rate limiter.
type Waiter interface {
	Wait(ctx context.Context, key string) error
}

// NewRateLimitedExtractor wraps inner so every page extraction waits on the
// limiter first.
func NewRateLimitedExtractor(inner Extractor, limiter Waiter, key string) *RateLimitedExtractor {
	return &RateLimitedExtractor{inner: inner, limiter: limiter, key: key}
}

func (e *RateLimitedExtractor) ExtractPage(ctx context.Context, image []byte, hint PageHint, roster []domain.RosterMember) ([]domain.ExtractedEntry, error) {
	if err := e.limiter.Wait(ctx, e.key); err != nil {
		return nil, fmt.Errorf("rate limit wait: %w", err)
	}
	return e.inner.ExtractPage(ctx, image, hint, roster)
}

var _ Extractor = (*RateLimitedExtractor)(nil)
