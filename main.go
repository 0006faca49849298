package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/evescope/activity-ingest/internal/config"
	"github.com/evescope/activity-ingest/internal/fetcher"
	"github.com/evescope/activity-ingest/internal/ingestion"
	"github.com/evescope/activity-ingest/internal/maintenance"
	"github.com/evescope/activity-ingest/internal/server"
	"github.com/evescope/activity-ingest/internal/state"
	"github.com/evescope/activity-ingest/internal/warehouse"
)

var (
	flagForce  bool
	flagDryRun bool
)

func main() {
	root := &cobra.Command{
		Use:           "activity-ingest",
		Short:         "Ingest universe activity snapshots into the warehouse",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().BoolVar(&flagForce, "force", false, "bypass the next-eligible-run gate")
	root.PersistentFlags().BoolVar(&flagDryRun, "dry-run", false, "decide without warehouse writes or state commit")

	root.AddCommand(runCmd(), daemonCmd(), maintainCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

type deps struct {
	cfg   *config.Config
	log   *zap.Logger
	store state.Store
	sink  warehouse.Sink
}

func buildDeps() (*deps, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load configuration: %w", err)
	}

	log, err := zap.NewProduction()
	if err != nil {
		return nil, fmt.Errorf("build logger: %w", err)
	}

	store, err := state.NewStore(cfg.State)
	if err != nil {
		return nil, fmt.Errorf("initialize state store: %w", err)
	}

	sink, err := warehouse.NewSink(cfg.Warehouse)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("initialize warehouse sink: %w", err)
	}

	return &deps{cfg: cfg, log: log, store: store, sink: sink}, nil
}

func (d *deps) close() {
	d.store.Close()
	d.sink.Close()
	_ = d.log.Sync()
}

func runCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Execute one gate cycle",
		RunE: func(cmd *cobra.Command, _ []string) error {
			d, err := buildDeps()
			if err != nil {
				return err
			}
			defer d.close()

			svc := ingestion.NewService(d.cfg, fetcher.New(d.cfg.Source, d.log), d.store, d.sink, d.log)
			result, err := svc.Run(cmd.Context(), ingestion.Options{Force: flagForce, DryRun: flagDryRun})
			if err != nil {
				return err
			}
			d.log.Info("run complete", zap.String("result", result.String()))
			return nil
		},
	}
}

func daemonCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "daemon",
		Short: "Run the gate on a schedule with a status server",
		RunE: func(_ *cobra.Command, _ []string) error {
			d, err := buildDeps()
			if err != nil {
				return err
			}
			defer d.close()

			svc := ingestion.NewService(d.cfg, fetcher.New(d.cfg.Source, d.log), d.store, d.sink, d.log)
			opts := ingestion.Options{Force: flagForce, DryRun: flagDryRun}

			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()

			sigChan := make(chan os.Signal, 1)
			signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

			httpServer := server.NewServer(d.cfg.Server, d.store)
			go func() {
				d.log.Info("starting status server", zap.Int("port", d.cfg.Server.Port))
				if err := httpServer.Start(); err != nil {
					d.log.Error("status server error", zap.Error(err))
				}
			}()

			if spec := d.cfg.Schedule.CronSpec; spec != "" {
				c := cron.New()
				_, err := c.AddFunc(spec, func() {
					if _, err := svc.Run(ctx, opts); err != nil {
						d.log.Error("run failed", zap.Error(err))
					}
				})
				if err != nil {
					return fmt.Errorf("invalid RUN_CRON %q: %w", spec, err)
				}
				c.Start()
				defer c.Stop()
				d.log.Info("daemon scheduled", zap.String("cron", spec))
			} else {
				go func() {
					if err := svc.Start(ctx, opts); err != nil && ctx.Err() == nil {
						d.log.Error("ingestion loop error", zap.Error(err))
					}
				}()
				d.log.Info("daemon scheduled", zap.Duration("interval", d.cfg.Schedule.Interval))
			}

			<-sigChan
			d.log.Info("shutdown signal received")

			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer shutdownCancel()
			if err := httpServer.Shutdown(shutdownCtx); err != nil {
				d.log.Error("status server shutdown error", zap.Error(err))
			}
			cancel()
			d.log.Info("shutdown complete")
			return nil
		},
	}
}

func maintainCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "maintain",
		Short: "Compact the activity tables to the retention window",
		RunE: func(cmd *cobra.Command, _ []string) error {
			d, err := buildDeps()
			if err != nil {
				return err
			}
			defer d.close()

			svc := maintenance.NewService(d.cfg.Schedule, d.store, d.sink, d.log)
			ran, err := svc.Run(cmd.Context(), flagForce)
			if err != nil {
				return err
			}
			if !ran {
				d.log.Info("maintenance not due, skipped")
			}
			return nil
		},
	}
}
