package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/szibis/influx-loadgen/internal/compression"
	"github.com/szibis/influx-loadgen/internal/config"
	"github.com/szibis/influx-loadgen/internal/exporter"
	"github.com/szibis/influx-loadgen/internal/generator"
	"github.com/szibis/influx-loadgen/internal/logging"
	"github.com/szibis/influx-loadgen/internal/pipeline"
	"github.com/szibis/influx-loadgen/internal/stats"
)

func main() {
	cfg := config.ParseFlags()

	if cfg.ShowHelp {
		config.PrintUsage()
		os.Exit(0)
	}

	if cfg.ShowVersion {
		config.PrintVersion()
		os.Exit(0)
	}

	if err := cfg.Validate(); err != nil {
		logging.Fatal("invalid configuration", logging.F("error", err.Error()))
	}

	level, _ := logging.ParseLevel(cfg.LogLevel)
	logging.SetLevel(level)
	logging.SetResource(map[string]string{
		"service.name": "influx-loadgen",
	})

	compressionLevel, err := compression.ParseLevel(cfg.Compression)
	if err != nil {
		logging.Fatal("invalid compression level", logging.F("error", err.Error()))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Create exporter
	exp, err := exporter.New(exporter.Config{
		URL:     cfg.URL,
		Org:     cfg.Org,
		Bucket:  cfg.Bucket,
		Token:   cfg.Token,
		Timeout: cfg.RequestTimeout,
		Retry: exporter.RetryPolicy{
			MaxAttempts: cfg.RetryMaxAttempts,
			BaseDelay:   cfg.RetryBaseDelay,
			MaxDelay:    cfg.RetryMaxDelay,
		},
		HTTPClient: exporter.HTTPClientConfig{
			MaxIdleConns:      cfg.HTTPMaxIdleConns,
			IdleConnTimeout:   cfg.HTTPIdleConnTimeout,
			DisableKeepAlives: cfg.HTTPDisableKeepAlives,
		},
	})
	if err != nil {
		logging.Fatal("failed to create exporter", logging.F("error", err.Error()))
	}
	defer exp.Close()

	// Create stats collector
	statsCollector := stats.NewCollector()

	// Start stats HTTP server with combined metrics
	var statsServer *http.Server
	if cfg.StatsAddr != "" {
		promHandler := promhttp.HandlerFor(prometheus.DefaultGatherer, promhttp.HandlerOpts{
			DisableCompression: true,
		})
		statsMux := http.NewServeMux()
		statsMux.HandleFunc("/metrics", func(w http.ResponseWriter, r *http.Request) {
			// Write run counters, then the registered client metrics
			statsCollector.ServeHTTP(w, r)
			promHandler.ServeHTTP(w, r)
		})

		statsServer = &http.Server{
			Addr:    cfg.StatsAddr,
			Handler: statsMux,
		}
		go func() {
			logging.Info("stats endpoint started", logging.F("addr", cfg.StatsAddr, "path", "/metrics"))
			if err := statsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logging.Error("stats server error", logging.F("error", err.Error()))
			}
		}()
	}

	// Start periodic progress logging
	go statsCollector.StartPeriodicLogging(ctx, cfg.StatsLogInterval)

	// Cancel the run on SIGINT/SIGTERM; in-flight batches finish.
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigChan
		logging.Info("shutdown signal received", logging.F("signal", sig.String()))
		cancel()
	}()

	pl := pipeline.New(generator.New(), exp, pipeline.LogObserver{}, statsCollector, pipeline.Config{
		Lines:       cfg.BatchLines,
		Batches:     cfg.Batches,
		Concurrency: cfg.Concurrency,
		Compression: compressionLevel,
	})

	logging.Info("influx-loadgen started", logging.F(
		"url", cfg.URL,
		"org", cfg.Org,
		"bucket", cfg.Bucket,
		"batch_lines", cfg.BatchLines,
		"batches", cfg.Batches,
		"concurrency", cfg.Concurrency,
		"compression", string(compressionLevel),
	))

	runErr := pl.Run(ctx)

	if statsServer != nil {
		_ = statsServer.Shutdown(context.Background())
	}
	cancel()

	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		logging.Fatal("run failed", logging.F(
			"error", runErr.Error(),
			"batches_sent", statsCollector.BatchesSent(),
		))
	}

	logging.Info("run complete", logging.F(
		"batches_sent", statsCollector.BatchesSent(),
		"lines_sent", statsCollector.LinesSent(),
	))
}
