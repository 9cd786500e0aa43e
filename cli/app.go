// ABOUTME: Wires configuration, logging, the warehouse, the CRM client, and the sync runner for commands
// ABOUTME: Selects the warehouse table or the S3 blob as the sync status backend
package cli

import (
	"context"
	"strconv"

	"github.com/BLEND360/hubspot-deals-export/config"
	"github.com/BLEND360/hubspot-deals-export/db"
	"github.com/BLEND360/hubspot-deals-export/hubspot"
	"github.com/BLEND360/hubspot-deals-export/logging"
	"github.com/BLEND360/hubspot-deals-export/metrics"
	"github.com/BLEND360/hubspot-deals-export/statusblob"
	"github.com/BLEND360/hubspot-deals-export/sync"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

type app struct {
	cfg     *config.Config
	logger  *zap.Logger
	metrics *metrics.Metrics
	w       *db.Warehouse
	coord   *sync.Coordinator
	runner  *sync.Runner
}

// newApp builds everything a command needs. Commands that call the CRM pass
// needCRM so a missing API key fails before any work starts.
func newApp(ctx context.Context, opts *RootOptions, needCRM bool) (*app, error) {
	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return nil, err
	}
	required := []string{config.KeyWarehouseDSN}
	if needCRM {
		required = append(required, config.KeyHubSpotAPIKey)
	}
	if cfg.StatusBackend == config.StatusBackendS3 {
		required = append(required, config.KeyStatusS3Bucket)
	}
	if err := cfg.Require(required...); err != nil {
		return nil, err
	}

	level := cfg.LogLevel
	if opts.Verbose {
		level = "debug"
	}
	logger, err := logging.New(logging.Options{Level: level, Format: cfg.LogFormat, File: cfg.LogFile})
	if err != nil {
		return nil, err
	}

	w, err := db.OpenDatabase(ctx, cfg.WarehouseDSN)
	if err != nil {
		return nil, err
	}

	status, err := statusStore(ctx, cfg, w)
	if err != nil {
		_ = w.Close()
		return nil, err
	}

	m := metrics.New()
	crm := hubspot.NewClient(cfg.HubSpotBaseURL, cfg.HubSpotAPIKey,
		hubspot.WithLogger(logger.Named("hubspot")),
		hubspot.WithRetryHook(func(status int) {
			m.CRMRetries.WithLabelValues(strconv.Itoa(status)).Inc()
		}))

	policy := sync.SpecialFieldsPolicy{Mode: cfg.SpecialFieldsMode}
	syncer := sync.NewSyncer(crm, w, policy, logger.Named("sync"), sync.WithMetrics(m))
	fetcher := sync.NewFetcher(crm, cfg.Pipelines, cfg.CreatedAfter)
	coord := sync.NewCoordinator(status, cfg.StatusLease, logger.Named("coordinator"))
	runner := sync.NewRunner(fetcher, syncer, coord, sync.RunnerConfig{
		Lookback:              cfg.ScheduleLookback,
		WebhookBatchThreshold: cfg.WebhookBatchThreshold,
		RetryBudget:           cfg.RetryBudget,
	}, logger.Named("runner"), m)

	return &app{cfg: cfg, logger: logger, metrics: m, w: w, coord: coord, runner: runner}, nil
}

func statusStore(ctx context.Context, cfg *config.Config, w *db.Warehouse) (sync.StatusStore, error) {
	switch cfg.StatusBackend {
	case config.StatusBackendS3:
		store, err := statusblob.New(ctx, cfg.StatusS3)
		if err != nil {
			return nil, eris.Wrap(err, "failed to open s3 status store")
		}
		return store, nil
	default:
		return db.NewStatusStore(w), nil
	}
}

func (a *app) Close() {
	_ = a.logger.Sync()
	if err := a.w.Close(); err != nil {
		a.logger.Warn("failed to close warehouse", zap.Error(err))
	}
}
