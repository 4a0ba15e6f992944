// SPDX-License-Identifier: MIT
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/apimgr/dbrouter"
	"github.com/apimgr/dbrouter/config"
	"github.com/apimgr/dbrouter/internal/adminhttp"
)

// Build info, set via -ldflags at build time.
var (
	Version   = "dev"
	CommitID  = "unknown"
	BuildDate = "unknown"
)

func main() {
	configPath := flag.String("config", config.DefaultConfigPath(), "path to the router's YAML config file")
	adminAddr := flag.String("admin-addr", "", "address to serve the optional admin/metrics HTTP surface on (empty disables it)")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("dbrouter %s (commit %s, built %s)\n", Version, CommitID, BuildDate)
		return
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Error("failed to load config", slog.Any("error", err))
		os.Exit(1)
	}
	cfg.Logger = logger

	router, err := dbrouter.New(cfg)
	if err != nil {
		logger.Error("failed to start router", slog.Any("error", err))
		os.Exit(1)
	}

	var adminServer *http.Server
	if *adminAddr != "" {
		mux := adminhttp.NewMux(func() (active, downed []string) {
			stats := router.Stats()
			return stats.Active, stats.Downed
		}, cfg.MetricsEnabled)
		adminServer = &http.Server{Addr: *adminAddr, Handler: mux}
		go func() {
			logger.Info("admin HTTP surface listening", slog.String("addr", *adminAddr))
			if err := adminServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Error("admin HTTP surface failed", slog.Any("error", err))
			}
		}()
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	<-ctx.Done()

	logger.Info("shutting down")
	if adminServer != nil {
		adminServer.Shutdown(context.Background())
	}
	if err := router.Shutdown(); err != nil {
		logger.Error("error during shutdown", slog.Any("error", err))
	}
}
