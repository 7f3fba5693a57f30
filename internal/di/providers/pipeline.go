package providers

import (
	"github.com/samber/do/v2"

	"github.com/tithebookapp/tithebook-server/internal/amounts"
	"github.com/tithebookapp/tithebook-server/internal/batch"
	"github.com/tithebookapp/tithebook-server/internal/config"
	"github.com/tithebookapp/tithebook-server/internal/logger"
	"github.com/tithebookapp/tithebook-server/internal/match"
	"github.com/tithebookapp/tithebook-server/internal/ocr"
	"github.com/tithebookapp/tithebook-server/internal/order"
	"github.com/tithebookapp/tithebook-server/internal/ratelimit"
	"github.com/tithebookapp/tithebook-server/internal/validation"
)

// ocrLimiterKey scopes the rate budget to the single extraction provider.
const ocrLimiterKey = "ocr"

// ProvideExtractor provides the page extraction chain: remote vision
// endpoint, rate limited, with structural validation of every entry.
func ProvideExtractor(i do.Injector) (ocr.Extractor, error) {
	cfg := do.MustInvoke[*config.Config](i)
	log := do.MustInvoke[*logger.Logger](i)

	if cfg.OCR.Endpoint == "" {
		log.Warn("No OCR endpoint configured, batch extraction will fail until one is set")
	}

	remote := ocr.NewRemoteExtractor(cfg.OCR.Endpoint, cfg.OCR.APIKey, log.Logger)
	limiter := ratelimit.New(cfg.OCR.RequestsPerSecond, cfg.OCR.Burst)
	limited := ocr.NewRateLimitedExtractor(remote, limiter, ocrLimiterKey)

	log.Info("Extraction client ready",
		"endpoint", cfg.OCR.Endpoint,
		"rps", cfg.OCR.RequestsPerSecond,
		"burst", cfg.OCR.Burst,
	)

	return ocr.NewValidatingExtractor(limited, validation.New()), nil
}

// ProvideMatcher provides the fuzzy roster name matcher.
func ProvideMatcher(i do.Injector) (*match.Matcher, error) {
	cfg := do.MustInvoke[*config.Config](i)

	return match.New(match.Options{
		Threshold: cfg.Pipeline.MatchThreshold,
	}), nil
}

// ProvideAmountValidator provides the amount anomaly detector backed by
// learned corrections and contribution history.
func ProvideAmountValidator(i do.Injector) (*amounts.Validator, error) {
	cfg := do.MustInvoke[*config.Config](i)
	log := do.MustInvoke[*logger.Logger](i)
	storeHandle := do.MustInvoke[*StoreHandle](i)
	ledgerHandle := do.MustInvoke[*LedgerHandle](i)

	return amounts.New(storeHandle.Store, ledgerHandle.Store, amounts.Options{
		SigmaLimit: cfg.Pipeline.SigmaLimit,
	}, log.Logger), nil
}

// ProvideBatchProcessor provides the page batch pipeline.
func ProvideBatchProcessor(i do.Injector) (*batch.Processor, error) {
	log := do.MustInvoke[*logger.Logger](i)
	extractor := do.MustInvoke[ocr.Extractor](i)
	matcher := do.MustInvoke[*match.Matcher](i)
	validator := do.MustInvoke[*amounts.Validator](i)

	return batch.NewProcessor(extractor, matcher, validator, log.Logger), nil
}

// ProvideOrderService provides the member order service.
func ProvideOrderService(i do.Injector) (*order.Service, error) {
	cfg := do.MustInvoke[*config.Config](i)
	log := do.MustInvoke[*logger.Logger](i)
	storeHandle := do.MustInvoke[*StoreHandle](i)

	svc := order.NewService(storeHandle.Store, log.Logger)
	svc.SetSnapshotRetention(cfg.Snapshots.Retention)

	return svc, nil
}
