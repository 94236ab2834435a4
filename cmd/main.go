package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"hufschlaeger.net/qcs-pdf-exporter/internal/cli"
	"hufschlaeger.net/qcs-pdf-exporter/internal/logging"
	"hufschlaeger.net/qcs-pdf-exporter/internal/metrics"
	"hufschlaeger.net/qcs-pdf-exporter/internal/service"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	cfg, err := cli.ParseArgs(args)
	if err != nil {
		// Bedienfehler: Meldung plus Hilfe, Exit-Code 0
		if !errors.Is(err, cli.ErrHelp) {
			fmt.Fprintf(os.Stdout, "Error: %v\n", err)
		}
		cli.PrintUsage(os.Stdout)
		return 0
	}

	logger, err := logging.New(cfg.Verbose)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to build logger: %v\n", err)
		return 1
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	reg := metrics.NewRegistry()
	measures, err := metrics.NewMeasures(reg)
	if err != nil {
		logger.Error("failed to register metrics", zap.Error(err))
		return 1
	}
	if cfg.MetricsAddr != "" {
		go func() {
			if err := metrics.Serve(ctx, cfg.MetricsAddr, reg, logger); err != nil {
				logger.Error("metrics server stopped", zap.Error(err))
			}
		}()
	}

	logger.Info("starting export loop",
		zap.String("url", cfg.BaseURL()),
		zap.String("appId", cfg.AppID),
		zap.String("objId", cfg.ObjectID),
		zap.Duration("interval", cfg.Interval),
		zap.String("outputDir", cfg.OutputDir))

	exporter := service.NewExporter(cfg, logger, measures)
	if err := exporter.Run(ctx); err != nil {
		if errors.Is(err, context.Canceled) {
			logger.Info("export loop stopped")
			return 0
		}
		logger.Error("export failed", zap.Error(err))
		return 1
	}
	return 0
}
