// Package di provides dependency injection configuration for the Tithebook server.
package di

import (
	"github.com/samber/do/v2"

	"github.com/tithebookapp/tithebook-server/internal/amounts"
	"github.com/tithebookapp/tithebook-server/internal/batch"
	"github.com/tithebookapp/tithebook-server/internal/config"
	"github.com/tithebookapp/tithebook-server/internal/di/providers"
	"github.com/tithebookapp/tithebook-server/internal/logger"
	"github.com/tithebookapp/tithebook-server/internal/match"
	"github.com/tithebookapp/tithebook-server/internal/ocr"
	"github.com/tithebookapp/tithebook-server/internal/order"
	"github.com/tithebookapp/tithebook-server/internal/roster"
)

// NewContainer creates and configures the DI container with all providers.
func NewContainer() *do.RootScope {
	injector := do.New()

	// Core infrastructure
	do.Provide(injector, providers.ProvideConfig)
	do.Provide(injector, providers.ProvideLogger)

	// Storage layer
	do.Provide(injector, providers.ProvideStore)
	do.Provide(injector, providers.ProvideLedger)
	do.Provide(injector, providers.ProvideRosterSource)

	// Search layer
	do.Provide(injector, providers.ProvideSearchIndex)

	// Extraction pipeline
	do.Provide(injector, providers.ProvideExtractor)
	do.Provide(injector, providers.ProvideMatcher)
	do.Provide(injector, providers.ProvideAmountValidator)
	do.Provide(injector, providers.ProvideBatchProcessor)

	// Order management
	do.Provide(injector, providers.ProvideOrderService)

	// Workers
	do.Provide(injector, providers.ProvideSyncQueue)
	do.Provide(injector, providers.ProvideDropWatcher)

	// Server
	do.Provide(injector, providers.ProvideHTTPServer)

	return injector
}

// Bootstrap initializes all services and returns handles for lifecycle management.
// This triggers lazy initialization of all core services.
func Bootstrap(injector *do.RootScope) error {
	// Invoke core services to trigger initialization
	_ = do.MustInvoke[*config.Config](injector)
	_ = do.MustInvoke[*logger.Logger](injector)
	_ = do.MustInvoke[*providers.StoreHandle](injector)
	_ = do.MustInvoke[*providers.LedgerHandle](injector)
	_ = do.MustInvoke[*roster.Source](injector)
	_ = do.MustInvoke[*providers.SearchIndexHandle](injector)

	// Pipeline
	_ = do.MustInvoke[ocr.Extractor](injector)
	_ = do.MustInvoke[*match.Matcher](injector)
	_ = do.MustInvoke[*amounts.Validator](injector)
	_ = do.MustInvoke[*batch.Processor](injector)
	_ = do.MustInvoke[*order.Service](injector)

	// Workers
	_ = do.MustInvoke[*providers.SyncQueueHandle](injector)
	_ = do.MustInvoke[*providers.DropWatcherHandle](injector)

	// Server
	_ = do.MustInvoke[*providers.HTTPServerHandle](injector)

	// Rebuild the roster index if it came up empty
	providers.TriggerSearchReindexIfNeeded(injector)

	return nil
}
