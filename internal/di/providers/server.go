package providers

import (
	"context"
	"net/http"

	"github.com/samber/do/v2"

	"github.com/tithebookapp/tithebook-server/internal/amounts"
	"github.com/tithebookapp/tithebook-server/internal/api"
	"github.com/tithebookapp/tithebook-server/internal/batch"
	"github.com/tithebookapp/tithebook-server/internal/config"
	"github.com/tithebookapp/tithebook-server/internal/logger"
	"github.com/tithebookapp/tithebook-server/internal/order"
	"github.com/tithebookapp/tithebook-server/internal/roster"
)

// HTTPServerHandle wraps http.Server with Shutdownable.
type HTTPServerHandle struct {
	*http.Server
}

// Shutdown implements do.Shutdownable.
func (h *HTTPServerHandle) Shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return h.Server.Shutdown(ctx)
}

// ProvideHTTPServer provides the HTTP server.
func ProvideHTTPServer(i do.Injector) (*HTTPServerHandle, error) {
	cfg := do.MustInvoke[*config.Config](i)
	log := do.MustInvoke[*logger.Logger](i)
	storeHandle := do.MustInvoke[*StoreHandle](i)
	ledgerHandle := do.MustInvoke[*LedgerHandle](i)
	searchHandle := do.MustInvoke[*SearchIndexHandle](i)
	queueHandle := do.MustInvoke[*SyncQueueHandle](i)
	rosters := do.MustInvoke[*roster.Source](i)
	orderService := do.MustInvoke[*order.Service](i)
	processor := do.MustInvoke[*batch.Processor](i)
	amountValidator := do.MustInvoke[*amounts.Validator](i)

	services := api.Services{
		Order:     orderService,
		Queue:     queueHandle.Queue,
		Processor: processor,
		Search:    searchHandle.Index,
		Rosters:   rosters,
		History:   ledgerHandle.Store,
		Amounts:   amountValidator,
	}

	handler := api.NewServer(storeHandle.Store, services, log.Logger)

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      handler,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	// Start in background
	go func() {
		log.Info("HTTP server starting", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("HTTP server error", "error", err)
		}
	}()

	log.Info("Server running", "addr", srv.Addr)

	return &HTTPServerHandle{Server: srv}, nil
}
