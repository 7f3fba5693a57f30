// Package store provides durable persistence for the tithebook server on
// top of Badger. It satisfies the pipeline's local-store contract:
// get-by-key, upsert, delete, and list-by-secondary-index, with
// single-entry atomicity from Badger transactions.
package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/dgraph-io/badger/v4"

	"github.com/tithebookapp/tithebook-server/internal/domain"
	"github.com/tithebookapp/tithebook-server/internal/util"
)

// Store wraps a Badger database instance.
type Store struct {
	db     *badger.DB
	logger *slog.Logger

	// actionSeq numbers pending sync actions so their keys preserve
	// submission order under Badger's byte-ordered iteration.
	actionSeq *badger.Sequence

	// Generic entities
	Orders    *Entity[domain.MemberOrderEntry]
	History   *Entity[domain.OrderHistoryEntry]
	Snapshots *Entity[domain.OrderSnapshot]
	Actions   *Entity[domain.PendingAction]
}

// New creates a new Store instance at the given database path.
func New(path string, logger *slog.Logger) (*Store, error) {
	opts := badger.DefaultOptions(path)
	opts.Logger = nil            // Disable Badger's internal logging
	opts.SyncWrites = true       // Ensure writes are synced to disk to prevent corruption on crashes
	opts.CompactL0OnClose = true // Compact L0 tables on close for faster startup

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger db: %w", err)
	}

	seq, err := db.GetSequence([]byte("seq:actions"), 64)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to open action sequence: %w", err)
	}

	store := &Store{
		db:        db,
		logger:    logger,
		actionSeq: seq,
	}

	store.initEntities()

	if logger != nil {
		logger.Info("Badger database opened successfully", "path", path)
	}

	return store, nil
}

// Close gracefully closes the database connection.
func (s *Store) Close() error {
	if s.logger != nil {
		s.logger.Info("Closing database connection")
	}
	if err := s.actionSeq.Release(); err != nil && s.logger != nil {
		s.logger.Warn("failed to release action sequence", "error", err)
	}
	return s.db.Close()
}

// Ping verifies the database is readable. A missing key is fine; only
// transaction failures count against health.
func (s *Store) Ping() error {
	return s.db.View(func(txn *badger.Txn) error {
		_, err := txn.Get([]byte("ping"))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		return err
	})
}

// NextActionSeq returns the next monotonic sequence number for a pending
// sync action. Gaps after restart are fine; only ordering matters.
func (s *Store) NextActionSeq() (uint64, error) {
	return s.actionSeq.Next()
}

// initEntities initializes the generic entities and their indexes.
// Assembly index values are slugged so lookups are insensitive to
// spacing and case in user-entered assembly names.
func (s *Store) initEntities() {
	s.Orders = NewEntity[domain.MemberOrderEntry](s, "order:").
		WithIndexTransform("assembly",
			func(e *domain.MemberOrderEntry) []string {
				return []string{util.NormalizeSlug(e.AssemblyName)}
			},
			util.NormalizeSlug,
		)

	s.History = NewEntity[domain.OrderHistoryEntry](s, "hist:").
		WithIndexTransform("assembly",
			func(e *domain.OrderHistoryEntry) []string {
				return []string{util.NormalizeSlug(e.AssemblyName)}
			},
			util.NormalizeSlug,
		)

	s.Snapshots = NewEntity[domain.OrderSnapshot](s, "snap:").
		WithIndexTransform("assembly",
			func(e *domain.OrderSnapshot) []string {
				return []string{util.NormalizeSlug(e.AssemblyName)}
			},
			util.NormalizeSlug,
		)

	s.Actions = NewEntity[domain.PendingAction](s, "action:").
		WithIndex("type", func(a *domain.PendingAction) []string {
			return []string{string(a.Type)}
		})
}

// ActionKey formats a pending-action ID from its sequence number.
// Zero-padding keeps Badger's byte-ordered iteration in FIFO order.
func ActionKey(seq uint64) string {
	return fmt.Sprintf("%020d", seq)
}

// correctionKey builds the key for one learned amount correction.
func correctionKey(assembly string, raw float64) []byte {
	return []byte("corr:" + util.NormalizeSlug(assembly) + ":" + strconv.FormatFloat(raw, 'f', 2, 64))
}

// LookupCorrection returns the learned correction for a previously misread
// amount, if one has been recorded for this assembly.
func (s *Store) LookupCorrection(ctx context.Context, assembly string, raw float64) (float64, bool, error) {
	if err := ctx.Err(); err != nil {
		return 0, false, err
	}
	var corrected float64
	found := false
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(correctionKey(assembly, raw))
		if err != nil {
			if err == badger.ErrKeyNotFound {
				return nil
			}
			return err
		}
		return item.Value(func(val []byte) error {
			v, perr := strconv.ParseFloat(string(val), 64)
			if perr != nil {
				return perr
			}
			corrected = v
			found = true
			return nil
		})
	})
	if err != nil {
		return 0, false, fmt.Errorf("failed to look up correction: %w", err)
	}
	return corrected, found, nil
}

// RecordCorrection remembers that a raw extracted amount for this assembly
// should be replaced with the operator-confirmed value. Re-recording the same
// raw amount overwrites the previous correction.
func (s *Store) RecordCorrection(ctx context.Context, assembly string, raw, corrected float64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(correctionKey(assembly, raw), []byte(strconv.FormatFloat(corrected, 'f', 2, 64)))
	})
	if err != nil {
		return fmt.Errorf("failed to record correction: %w", err)
	}
	return nil
}
