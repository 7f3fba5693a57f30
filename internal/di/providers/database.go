package providers

import (
	"github.com/samber/do/v2"

	"github.com/tithebookapp/tithebook-server/internal/config"
	"github.com/tithebookapp/tithebook-server/internal/logger"
	"github.com/tithebookapp/tithebook-server/internal/roster"
	"github.com/tithebookapp/tithebook-server/internal/store"
	"github.com/tithebookapp/tithebook-server/internal/store/sqlite"
)

// StoreHandle wraps the working-state store with shutdown capability.
type StoreHandle struct {
	*store.Store
}

// Shutdown implements do.Shutdownable.
func (h *StoreHandle) Shutdown() error {
	return h.Close()
}

// ProvideStore provides the Badger store holding orders, snapshots,
// corrections, and the pending action queue.
func ProvideStore(i do.Injector) (*StoreHandle, error) {
	cfg := do.MustInvoke[*config.Config](i)
	log := do.MustInvoke[*logger.Logger](i)

	dbPath := cfg.Data.DatabasePath()
	db, err := store.New(dbPath, log.Logger)
	if err != nil {
		return nil, err
	}

	log.Info("Database initialized", "path", dbPath)

	return &StoreHandle{Store: db}, nil
}

// LedgerHandle wraps the contribution ledger with shutdown capability.
type LedgerHandle struct {
	*sqlite.Store
}

// Shutdown implements do.Shutdownable.
func (h *LedgerHandle) Shutdown() error {
	return h.Close()
}

// ProvideLedger provides the SQLite contribution ledger.
func ProvideLedger(i do.Injector) (*LedgerHandle, error) {
	cfg := do.MustInvoke[*config.Config](i)
	log := do.MustInvoke[*logger.Logger](i)

	ledgerPath := cfg.Data.LedgerPath()
	ledger, err := sqlite.Open(ledgerPath, log.Logger)
	if err != nil {
		return nil, err
	}

	log.Info("Contribution ledger opened", "path", ledgerPath)

	return &LedgerHandle{Store: ledger}, nil
}

// ProvideRosterSource provides the per-assembly master list store.
func ProvideRosterSource(i do.Injector) (*roster.Source, error) {
	cfg := do.MustInvoke[*config.Config](i)
	log := do.MustInvoke[*logger.Logger](i)

	src, err := roster.NewSource(cfg.Data.RosterPath(), log.Logger)
	if err != nil {
		return nil, err
	}

	assemblies, err := src.Assemblies()
	if err != nil {
		return nil, err
	}
	log.Info("Roster source ready", "path", cfg.Data.RosterPath(), "assemblies", len(assemblies))

	return src, nil
}
