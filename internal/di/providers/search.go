package providers

import (
	"github.com/samber/do/v2"

	"github.com/tithebookapp/tithebook-server/internal/config"
	"github.com/tithebookapp/tithebook-server/internal/logger"
	"github.com/tithebookapp/tithebook-server/internal/roster"
	"github.com/tithebookapp/tithebook-server/internal/search"
)

// SearchIndexHandle wraps the search index with shutdown capability.
type SearchIndexHandle struct {
	*search.Index
}

// Shutdown implements do.Shutdownable.
func (h *SearchIndexHandle) Shutdown() error {
	return h.Close()
}

// ProvideSearchIndex provides the Bleve roster index.
func ProvideSearchIndex(i do.Injector) (*SearchIndexHandle, error) {
	cfg := do.MustInvoke[*config.Config](i)
	log := do.MustInvoke[*logger.Logger](i)

	index, err := search.New(search.Options{
		DataPath: cfg.Data.SearchPath(),
		Logger:   log.Logger,
	})
	if err != nil {
		return nil, err
	}

	docCount, _ := index.DocumentCount()
	log.Info("Search index initialized", "documents", docCount)

	return &SearchIndexHandle{Index: index}, nil
}

// TriggerSearchReindexIfNeeded rebuilds the index from saved rosters
// when it is empty. Should be called after all services are wired.
func TriggerSearchReindexIfNeeded(i do.Injector) {
	indexHandle := do.MustInvoke[*SearchIndexHandle](i)
	rosters := do.MustInvoke[*roster.Source](i)
	log := do.MustInvoke[*logger.Logger](i)

	docCount, _ := indexHandle.DocumentCount()
	if docCount > 0 {
		return
	}

	assemblies, err := rosters.Assemblies()
	if err != nil || len(assemblies) == 0 {
		return
	}

	log.Info("Search index is empty but rosters exist, triggering initial reindex",
		"assemblies", len(assemblies),
	)

	go func() {
		for _, assembly := range assemblies {
			members, err := rosters.Roster(assembly)
			if err != nil {
				log.Warn("Reindex skipped assembly", "assembly", assembly, "error", err)
				continue
			}
			if err := indexHandle.IndexRoster(assembly, members); err != nil {
				log.Error("Reindex failed", "assembly", assembly, "error", err)
			}
		}
		count, _ := indexHandle.DocumentCount()
		log.Info("Initial roster reindex completed", "documents", count)
	}()
}
