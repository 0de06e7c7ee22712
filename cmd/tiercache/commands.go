package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/unkn0wn-root/tiercache/internal/app"
	"github.com/unkn0wn-root/tiercache/internal/build"
	"github.com/unkn0wn-root/tiercache/internal/config"
	"github.com/unkn0wn-root/tiercache/internal/logging"
	zaplog "github.com/unkn0wn-root/tiercache/log/zap"
)

const shutdownTimeout = 30 * time.Second

type flags struct {
	config      string
	metricsAddr string
}

func newRootCmd() *cobra.Command {
	f := new(flags)
	root := &cobra.Command{
		Use:   "tiercache",
		Short: "Incremental module graph builds backed by a tiered cache.",
	}
	root.PersistentFlags().StringVarP(&f.config, "config", "c", "", "config file (default: ./tiercache.{yaml,toml,json})")

	buildCmd := &cobra.Command{
		Use:           "build [-c config_file]",
		Short:         "Run one build and persist the cache.",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runBuild(cmd.Context(), f)
		},
	}
	watchCmd := &cobra.Command{
		Use:           "watch [-c config_file] [--metrics-addr addr]",
		Short:         "Rebuild on file changes until interrupted.",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runWatch(cmd.Context(), f)
		},
	}
	watchCmd.Flags().StringVar(&f.metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address")

	root.AddCommand(buildCmd, watchCmd, newVersionCmd())
	return root
}

func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return newRootCmd().ExecuteContext(ctx)
}

func setup(ctx context.Context, f *flags) (*app.App, *zap.Logger, error) {
	cfg, used, err := config.Load(f.config)
	if err != nil {
		return nil, nil, err
	}
	zl, err := logging.New(cfg.Log)
	if err != nil {
		return nil, nil, err
	}
	if used != "" {
		zl.Info("config loaded", zap.String("file", used))
	}
	a, err := app.New(ctx, cfg, zl, nil)
	if err != nil {
		_ = zl.Sync()
		return nil, nil, fmt.Errorf("failed to init cache: %w", err)
	}
	return a, zl, nil
}

// shutdown flushes the cache with a fresh deadline; the command context is
// usually cancelled by then.
func shutdown(a *app.App, zl *zap.Logger) error {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	err := a.Close(ctx)
	if err != nil {
		zl.Error("cache shutdown failed", zap.Error(err))
	}
	_ = zl.Sync()
	return err
}

func runBuild(ctx context.Context, f *flags) (err error) {
	a, zl, err := setup(ctx, f)
	if err != nil {
		return err
	}
	defer func() { err = multierr.Append(err, shutdown(a, zl)) }()

	res, err := a.Loop.Run(ctx)
	if err != nil {
		return err
	}
	report(res)
	return nil
}

func runWatch(ctx context.Context, f *flags) (err error) {
	a, zl, err := setup(ctx, f)
	if err != nil {
		return err
	}
	defer func() { err = multierr.Append(err, shutdown(a, zl)) }()

	if f.metricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(a.Registry, promhttp.HandlerOpts{}))
		srv := &http.Server{Addr: f.metricsAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				zl.Error("metrics server exited", zap.Error(err))
			}
		}()
		defer srv.Close()
		zl.Info("serving metrics", zap.String("addr", f.metricsAddr))
	}

	return build.Watch(ctx, a.Loop, build.WatchOptions{
		Logger: zaplog.New(zl.Named("watch")),
		OnBuild: func(res *build.Result, err error) {
			if err == nil {
				report(res)
			}
		},
	})
}

func report(res *build.Result) {
	fmt.Printf("%d modules, %d unresolved, %.0f%% resolved from cache, %s\n",
		len(res.Modules), len(res.Unresolved), res.Stats.FromCache(), res.Duration.Round(time.Millisecond))
	for _, u := range res.Unresolved {
		fmt.Printf("  cannot resolve %q from %s\n", u.Request, u.From)
	}
}
