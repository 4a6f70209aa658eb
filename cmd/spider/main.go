package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"spider_go/internal/app"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	_ "net/http/pprof" // For pprof profiling
)

func main() {
	configPath := flag.String("config", "configs/config.yaml", "path to the config file")
	flag.Parse()

	// 1. Graceful Shutdown Context
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 2. System Bootstrapping
	bootstrap := app.NewBootstrap()
	if err := bootstrap.Initialize(ctx, *configPath, prometheus.DefaultRegisterer); err != nil {
		slog.Error("❌ Bootstrapping failed", slog.Any("error", err))
		os.Exit(1)
	}
	defer bootstrap.Close()

	// 3. Metrics + Pprof Server
	if addr := bootstrap.Config.Metrics.Addr; addr != "" {
		http.Handle("/metrics", promhttp.Handler())
		go func() {
			slog.Info("🕵️ Metrics server started", slog.String("addr", addr))
			if err := http.ListenAndServe(addr, nil); err != nil {
				slog.Error("Metrics server failed", slog.Any("error", err))
			}
		}()
	}

	slog.InfoContext(ctx, "✨ Spider fully operational. Press Ctrl+C to exit.")

	// 4. Stream until shutdown
	if err := bootstrap.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("❌ Spider stopped", slog.Any("error", err))
	}

	slog.InfoContext(ctx, "👋 Shutting down gracefully...")
}
