// ABOUTME: serve command running the HTTP API, the webhook queue consumer, and the schedule ticker together
// ABOUTME: Stops all three on SIGINT/SIGTERM and waits for background syncs to finish
package cli

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/BLEND360/hubspot-deals-export/config"
	"github.com/BLEND360/hubspot-deals-export/models"
	"github.com/BLEND360/hubspot-deals-export/queue"
	"github.com/BLEND360/hubspot-deals-export/sync"
	"github.com/BLEND360/hubspot-deals-export/web"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// ServeOptions holds flags for the serve command.
type ServeOptions struct {
	*RootOptions
	Addr       string
	NoSchedule bool
	BatchSize  int
}

// NewServeCommand creates the serve command.
func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ServeOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the sync API, consume webhooks, and run scheduled fetches",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(cmd.Context(), opts)
		},
	}

	cmd.Flags().StringVar(&opts.Addr, "addr", "", "listen address (default HTTP_ADDR)")
	cmd.Flags().BoolVar(&opts.NoSchedule, "no-schedule", false, "do not run SCHEDULE_FETCH on an interval")
	cmd.Flags().IntVar(&opts.BatchSize, "batch-size", 50, "webhook messages handled per batch")
	return cmd
}

func serve(ctx context.Context, opts *ServeOptions) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, opts.RootOptions, true)
	if err != nil {
		return err
	}
	defer a.Close()
	if err := a.cfg.Require(config.KeyAPIAuthKey); err != nil {
		return err
	}

	q, err := queue.Open(a.cfg.QueueDir)
	if err != nil {
		return err
	}
	defer func() { _ = q.Close() }()

	addr := opts.Addr
	if addr == "" {
		addr = a.cfg.HTTPAddr
	}

	server := web.NewServer(a.runner, q, a.cfg.APIAuthKey, a.metrics, a.logger.Named("web"))
	consumer := queue.NewConsumer(q, func(ctx context.Context, ids []string) error {
		return a.runner.Dispatch(ctx, sync.Event{Event: models.EventHubSpotWebhook, DealIDs: ids})
	}, queue.ConsumerConfig{BatchSize: opts.BatchSize}, a.logger.Named("queue"), a.metrics)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return server.Start(ctx, addr) })
	g.Go(func() error { return consumer.Run(ctx) })
	if !opts.NoSchedule && a.cfg.ScheduleInterval > 0 {
		g.Go(func() error { return schedule(ctx, a, a.cfg.ScheduleInterval) })
	}

	err = g.Wait()
	if waitErr := a.runner.Wait(); waitErr != nil {
		a.logger.Error("background sync failed", zap.Error(waitErr))
	}
	return err
}

// schedule dispatches SCHEDULE_FETCH every interval. Failed runs are logged;
// they are already recorded in the sync status.
func schedule(ctx context.Context, a *app, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}

		err := a.runner.Dispatch(ctx, sync.Event{Event: models.EventScheduleFetch})
		switch {
		case errors.Is(err, sync.ErrRunInProgress):
			a.logger.Info("scheduled fetch skipped, sync in progress")
		case err != nil:
			a.logger.Error("scheduled fetch failed", zap.Error(err))
		}
	}
}
