// Package amounts classifies OCR-read contribution amounts.
//
// Three signals are combined, strongest first: a learned map of prior
// manual corrections (the feedback loop), the member's own giving history,
// and the assembly-wide distribution. Absence of history degrades the
// check, it never produces an error.
package amounts

import (
	"context"
	"fmt"
	"log/slog"
	"math"
)

// Kind classifies an amount.
type Kind string

// Classification kinds.
const (
	KindOK          Kind = "ok"
	KindOCRArtifact Kind = "ocr_artifact"
	KindUnusualHigh Kind = "unusual_high"
	KindUnusualLow  Kind = "unusual_low"
	KindAnomaly     Kind = "anomaly"
)

// Classification is the result of validating one amount.
type Classification struct {
	Kind            Kind    `json:"kind"`
	Message         string  `json:"message,omitempty"`
	SuggestedAmount float64 `json:"suggested_amount,omitempty"` // set for ocr_artifact
}

// Stats summarizes a giving history sample.
type Stats struct {
	Mean   float64
	StdDev float64
	Count  int
}

// CorrectionStore persists the learned raw-to-corrected amount map per
// assembly. Implemented by the badger store.
type CorrectionStore interface {
	LookupCorrection(ctx context.Context, assembly string, raw float64) (corrected float64, ok bool, err error)
	RecordCorrection(ctx context.Context, assembly string, raw, corrected float64) error
}

// HistoryStats provides per-member and assembly-wide giving statistics.
// Implemented by the sqlite contribution store.
type HistoryStats interface {
	MemberStats(ctx context.Context, assembly, memberID string) (Stats, error)
	AssemblyStats(ctx context.Context, assembly string) (Stats, error)
}

// Default tuning. Callers override via Options.
const (
	// DefaultDeviationMultiple flags amounts this many times above or
	// below the member's own mean (guards against digit insertion/deletion).
	DefaultDeviationMultiple = 8.0
	// DefaultMinPersonalSamples is the history size below which the
	// personal check is skipped.
	DefaultMinPersonalSamples = 3
	// DefaultMinAssemblySamples is the sample size below which the
	// assembly-wide check is skipped.
	DefaultMinAssemblySamples = 12
	// DefaultSigmaLimit is how many standard deviations from the assembly
	// mean an amount may sit before being flagged as an anomaly.
	DefaultSigmaLimit = 4.0
)

// Options tunes the validator. Zero values fall back to defaults.
type Options struct {
	DeviationMultiple  float64
	MinPersonalSamples int
	MinAssemblySamples int
	SigmaLimit         float64
}

func (o Options) withDefaults() Options {
	if o.DeviationMultiple == 0 {
		o.DeviationMultiple = DefaultDeviationMultiple
	}
	if o.MinPersonalSamples == 0 {
		o.MinPersonalSamples = DefaultMinPersonalSamples
	}
	if o.MinAssemblySamples == 0 {
		o.MinAssemblySamples = DefaultMinAssemblySamples
	}
	if o.SigmaLimit == 0 {
		o.SigmaLimit = DefaultSigmaLimit
	}
	return o
}

// Validator classifies amounts against learned corrections and history.
type Validator struct {
	corrections CorrectionStore
	history     HistoryStats
	opts        Options
	logger      *slog.Logger
}

// New creates a validator. Either store may be nil, in which case the
// corresponding check is skipped.
func New(corrections CorrectionStore, history HistoryStats, opts Options, logger *slog.Logger) *Validator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Validator{
		corrections: corrections,
		history:     history,
		opts:        opts.withDefaults(),
		logger:      logger,
	}
}

// Classify validates one raw OCR amount for the given assembly and member.
// memberID may be empty (unmatched record); the personal check is then
// skipped. Store failures degrade to ok, never to an error.
func (v *Validator) Classify(ctx context.Context, amount float64, assembly, memberID string) Classification {
	// Learned correction takes priority: the exact misread has been fixed
	// by an operator before.
	if v.corrections != nil {
		corrected, ok, err := v.corrections.LookupCorrection(ctx, assembly, amount)
		if err != nil {
			v.logger.Warn("correction lookup failed, skipping",
				"assembly", assembly, "error", err)
		} else if ok {
			return Classification{
				Kind:            KindOCRArtifact,
				Message:         fmt.Sprintf("amount %.2f was previously corrected to %.2f", amount, corrected),
				SuggestedAmount: corrected,
			}
		}
	}

	if v.history == nil {
		return Classification{Kind: KindOK}
	}

	// Personal history check.
	if memberID != "" {
		stats, err := v.history.MemberStats(ctx, assembly, memberID)
		if err != nil {
			v.logger.Warn("member stats lookup failed, degrading to assembly check",
				"assembly", assembly, "member_id", memberID, "error", err)
		} else if stats.Count >= v.opts.MinPersonalSamples && stats.Mean > 0 {
			if amount > stats.Mean*v.opts.DeviationMultiple {
				return Classification{
					Kind: KindUnusualHigh,
					Message: fmt.Sprintf("amount %.2f is over %.0fx the member's average of %.2f",
						amount, v.opts.DeviationMultiple, stats.Mean),
				}
			}
			if amount > 0 && amount < stats.Mean/v.opts.DeviationMultiple {
				return Classification{
					Kind: KindUnusualLow,
					Message: fmt.Sprintf("amount %.2f is under 1/%.0f of the member's average of %.2f",
						amount, v.opts.DeviationMultiple, stats.Mean),
				}
			}
			return Classification{Kind: KindOK}
		}
	}

	// No usable personal history: compare against the assembly distribution.
	stats, err := v.history.AssemblyStats(ctx, assembly)
	if err != nil {
		v.logger.Warn("assembly stats lookup failed, skipping anomaly check",
			"assembly", assembly, "error", err)
		return Classification{Kind: KindOK}
	}
	if stats.Count >= v.opts.MinAssemblySamples && stats.StdDev > 0 {
		if math.Abs(amount-stats.Mean) > v.opts.SigmaLimit*stats.StdDev {
			return Classification{
				Kind: KindAnomaly,
				Message: fmt.Sprintf("amount %.2f is far outside the assembly distribution (mean %.2f)",
					amount, stats.Mean),
			}
		}
	}

	return Classification{Kind: KindOK}
}

// Learn records a manual correction so the same misread is auto-corrected
// on the next import.
func (v *Validator) Learn(ctx context.Context, assembly string, raw, corrected float64) error {
	if v.corrections == nil {
		return nil
	}
	return v.corrections.RecordCorrection(ctx, assembly, raw, corrected)
}
