package providers

import (
	"context"

	"github.com/samber/do/v2"

	"github.com/tithebookapp/tithebook-server/internal/config"
	"github.com/tithebookapp/tithebook-server/internal/logger"
	"github.com/tithebookapp/tithebook-server/internal/syncqueue"
)

// SyncQueueHandle wraps the sync queue with its worker context.
type SyncQueueHandle struct {
	*syncqueue.Queue
	cancel context.CancelFunc
}

// Shutdown implements do.Shutdownable.
func (h *SyncQueueHandle) Shutdown() error {
	h.cancel()
	h.Queue.Close()
	return nil
}

// ProvideSyncQueue provides the durable action queue draining to the
// church management system. Without a remote URL the queue starts
// offline and holds everything until one is configured.
func ProvideSyncQueue(i do.Injector) (*SyncQueueHandle, error) {
	cfg := do.MustInvoke[*config.Config](i)
	log := do.MustInvoke[*logger.Logger](i)
	storeHandle := do.MustInvoke[*StoreHandle](i)

	transport := syncqueue.NewHTTPTransport(cfg.Sync.RemoteURL, cfg.Sync.APIKey, log.Logger)
	queue := syncqueue.New(storeHandle.Store, transport, log.Logger)
	queue.SetDebounce(cfg.Sync.Debounce)
	if err := queue.SetMaxRetries(cfg.Sync.MaxRetries); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	queue.Run(ctx)

	if cfg.Sync.RemoteURL == "" {
		queue.SetOnline(false)
		log.Info("Remote sync disabled, actions will queue locally")
	} else {
		// Drain anything left over from the previous run.
		queue.Trigger()
		log.Info("Sync queue started", "remote", cfg.Sync.RemoteURL)
	}

	return &SyncQueueHandle{
		Queue:  queue,
		cancel: cancel,
	}, nil
}
