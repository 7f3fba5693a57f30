package sqlite

import (
	"context"
	"math"
	"time"

	gonanoid "github.com/matoous/go-nanoid/v2"

	"github.com/tithebookapp/tithebook-server/internal/amounts"
	"github.com/tithebookapp/tithebook-server/internal/domain"
	"github.com/tithebookapp/tithebook-server/internal/util"
)

// RecordContribution appends one confirmed contribution to the ledger.
func (s *Store) RecordContribution(ctx context.Context, c domain.Contribution) error {
	id, err := gonanoid.New()
	if err != nil {
		return err
	}

	recordedAt := c.RecordedAt
	if recordedAt.IsZero() {
		recordedAt = time.Now().UTC()
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO contributions (id, assembly_slug, member_id, amount, period, recorded_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		"con-"+id,
		util.NormalizeSlug(c.AssemblyName),
		c.MemberID,
		c.Amount,
		c.Period,
		recordedAt.Format(time.RFC3339),
	)
	return err
}

// MemberStats aggregates one member's giving history within an assembly.
func (s *Store) MemberStats(ctx context.Context, assembly, memberID string) (amounts.Stats, error) {
	return s.stats(ctx, `
		SELECT COUNT(*), COALESCE(AVG(amount), 0), COALESCE(AVG(amount * amount), 0)
		FROM contributions
		WHERE assembly_slug = ? AND member_id = ?`,
		util.NormalizeSlug(assembly), memberID)
}

// AssemblyStats aggregates giving history across a whole assembly.
func (s *Store) AssemblyStats(ctx context.Context, assembly string) (amounts.Stats, error) {
	return s.stats(ctx, `
		SELECT COUNT(*), COALESCE(AVG(amount), 0), COALESCE(AVG(amount * amount), 0)
		FROM contributions
		WHERE assembly_slug = ?`,
		util.NormalizeSlug(assembly))
}

// stats runs a count/mean/mean-square aggregate and derives the standard
// deviation, since SQLite has no built-in stddev.
func (s *Store) stats(ctx context.Context, query string, args ...any) (amounts.Stats, error) {
	var (
		count      int
		mean       float64
		meanSquare float64
	)
	err := s.db.QueryRowContext(ctx, query, args...).Scan(&count, &mean, &meanSquare)
	if err != nil {
		return amounts.Stats{}, err
	}

	variance := meanSquare - mean*mean
	if variance < 0 {
		variance = 0 // floating point noise on uniform samples
	}

	return amounts.Stats{
		Mean:   mean,
		StdDev: math.Sqrt(variance),
		Count:  count,
	}, nil
}

// PeriodTotal sums an assembly's contributions for one YYYY-MM period.
func (s *Store) PeriodTotal(ctx context.Context, assembly, period string) (float64, error) {
	var total float64
	err := s.db.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(amount), 0)
		FROM contributions
		WHERE assembly_slug = ? AND period = ?`,
		util.NormalizeSlug(assembly), period).Scan(&total)
	return total, err
}
