// cmd/brickbridge/run.go
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/tamzrod/brickbridge/internal/bridge"
	"github.com/tamzrod/brickbridge/internal/config"
)

var runCmd = &cobra.Command{
	Use:   "run <config.yaml>",
	Short: "Run the bridge for every configured device",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		// --------------------
		// Load + validate config
		// --------------------
		cfg, err := config.Load(args[0])
		if err != nil {
			return fmt.Errorf("config load failed: %w", err)
		}
		if err := config.Validate(cfg); err != nil {
			return fmt.Errorf("config validation failed: %w", err)
		}
		config.Normalize(cfg)

		log, err := newLogger(os.Stderr, cfg.Bridge.Log.Level, cfg.Bridge.Log.Format)
		if err != nil {
			return err
		}
		slog.SetDefault(log)

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		reg := prometheus.NewRegistry()
		reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

		b, err := bridge.New(cfg, reg, log)
		if err != nil {
			return err
		}

		if addr := cfg.Bridge.MetricsListen; addr != "" {
			srv := serveMetrics(addr, reg, log)
			defer func() {
				shutCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
				defer cancel()
				_ = srv.Shutdown(shutCtx)
			}()
		}

		err = b.Run(ctx)
		log.Info("bridge stopped")
		return err
	},
}

func serveMetrics(addr string, reg *prometheus.Registry, log *slog.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))

	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		log.Info("metrics listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("metrics server failed", "err", err)
		}
	}()
	return srv
}
