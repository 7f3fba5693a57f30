package providers

import (
	"context"

	"github.com/samber/do/v2"

	"github.com/tithebookapp/tithebook-server/internal/batch"
	"github.com/tithebookapp/tithebook-server/internal/config"
	"github.com/tithebookapp/tithebook-server/internal/logger"
	"github.com/tithebookapp/tithebook-server/internal/roster"
	"github.com/tithebookapp/tithebook-server/internal/watcher"
)

// DropWatcherHandle wraps the drop folder watcher with shutdown capability.
type DropWatcherHandle struct {
	*watcher.Watcher
	cancel  context.CancelFunc
	started bool
}

// Shutdown implements do.Shutdownable.
func (h *DropWatcherHandle) Shutdown() error {
	if !h.started {
		return nil
	}
	h.cancel()
	return h.Stop()
}

// ProvideDropWatcher provides the drop folder watcher that processes
// page scans copied into per-assembly subfolders.
func ProvideDropWatcher(i do.Injector) (*DropWatcherHandle, error) {
	cfg := do.MustInvoke[*config.Config](i)
	log := do.MustInvoke[*logger.Logger](i)
	processor := do.MustInvoke[*batch.Processor](i)
	rosters := do.MustInvoke[*roster.Source](i)

	if !cfg.Watch.Enabled {
		log.Info("Drop folder watching disabled by configuration")
		return &DropWatcherHandle{started: false}, nil
	}

	w, err := watcher.New(processor, rosters, cfg.Watch.DropPath, log.Logger, watcher.Options{
		SettleDelay: cfg.Watch.SettleDelay,
	})
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())

	go func() {
		if err := w.Start(ctx); err != nil {
			log.Error("Drop watcher error", "error", err)
		}
	}()

	// Log folder outcomes in background.
	go func() {
		for result := range w.Results() {
			if result.Err != nil {
				log.Warn("Drop folder processing failed",
					"assembly", result.Assembly,
					"dir", result.Dir,
					"error", result.Err,
				)
				continue
			}
			log.Info("Drop folder processed",
				"assembly", result.Assembly,
				"files", result.Result.FilesProcessed,
				"records", len(result.Result.Records),
				"warnings", len(result.Result.Warnings),
			)
		}
	}()

	log.Info("Drop folder watcher started", "path", cfg.Watch.DropPath)

	return &DropWatcherHandle{
		Watcher: w,
		cancel:  cancel,
		started: true,
	}, nil
}
