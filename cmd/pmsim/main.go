// SPDX-FileCopyrightText: 2025 The Kepler Authors
// SPDX-License-Identifier: Apache-2.0

// Command pmsim boots the PM core on a simulated board, drives it with a
// simulated driver workload and exports its state.
package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"syscall"

	"github.com/alecthomas/kingpin/v2"
	"github.com/sustainable-computing-io/pmcore/config"
	"github.com/sustainable-computing-io/pmcore/internal/exporter/debugfs"
	"github.com/sustainable-computing-io/pmcore/internal/exporter/prometheus"
	"github.com/sustainable-computing-io/pmcore/internal/exporter/stdout"
	"github.com/sustainable-computing-io/pmcore/internal/hal/sim"
	"github.com/sustainable-computing-io/pmcore/internal/logger"
	"github.com/sustainable-computing-io/pmcore/internal/pm"
	"github.com/sustainable-computing-io/pmcore/internal/server"
	"github.com/sustainable-computing-io/pmcore/internal/service"
	"github.com/sustainable-computing-io/pmcore/internal/version"
	"github.com/sustainable-computing-io/pmcore/internal/workload"
	"k8s.io/utils/ptr"
)

func main() {
	cfg, workloadOpts, err := parseArgsAndConfig(os.Args[1:])
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	logger := logger.New(cfg.Log.Level, cfg.Log.Format, os.Stdout)
	logVersionInfo(logger)
	printConfigInfo(os.Stdout, logger, cfg)

	services, err := createServices(logger, cfg, workloadOpts...)
	if err != nil {
		logger.Error("failed to create services", "error", err)
		os.Exit(1)
	}

	if err := service.Init(logger, services); err != nil {
		logger.Error("failed to initialize services", "error", err)
		os.Exit(1)
	}

	logger.Info("starting pm simulator")
	if err := service.Run(context.Background(), logger, services); err != nil {
		logger.Error("pm simulator terminated with an error", "error", err)
		os.Exit(1)
	}
	logger.Info("graceful shutdown completed")
}

func logVersionInfo(logger *slog.Logger) {
	v := version.Info()
	logger.Info("pmsim version information",
		"version", v.Version,
		"buildTime", v.BuildTime,
		"gitBranch", v.GitBranch,
		"gitCommit", v.GitCommit,
		"goVersion", v.GoVersion,
		"goOS", v.GoOS,
		"goArch", v.GoArch,
	)
}

func parseArgsAndConfig(args []string) (*config.Config, []workload.OptionFn, error) {
	const appName = "pmsim"
	app := kingpin.New(appName, "Power management core running on a simulated board.")
	app.Version(version.Info().String())

	configFile := app.Flag("config.file", "Path to YAML configuration file").String()
	profile := app.Flag("board.profile", fmt.Sprintf("Board profile %v", config.Profiles())).String()
	updateConfig := config.RegisterFlags(app)

	radioPeriod := app.Flag("workload.radio-period", "Interval between radio bursts, 0 to disable").Default("2s").Duration()
	radioBurst := app.Flag("workload.radio-burst", "Length of a radio burst").Default("300ms").Duration()
	uartPeriod := app.Flag("workload.uart-period", "Interval between UART frames, 0 to disable").Default("3s").Duration()
	uartHold := app.Flag("workload.uart-hold", "How long a UART frame keeps the UART domain up").Default("500ms").Duration()

	if _, err := app.Parse(args); err != nil {
		return nil, nil, err
	}

	cfg, err := (&config.Builder{}).
		MergeProfile(*profile).
		MergeFile(*configFile).
		Build()
	if err != nil {
		return nil, nil, err
	}

	// command line flags override the profile and the config file
	if err := updateConfig(cfg); err != nil {
		return nil, nil, err
	}

	opts := []workload.OptionFn{
		workload.WithCores(cfg.PM.Cores),
		workload.WithRadio(*radioPeriod, *radioBurst),
		workload.WithUART(*uartPeriod, *uartHold),
	}
	return cfg, opts, nil
}

func printConfigInfo(w io.Writer, logger *slog.Logger, cfg *config.Config) {
	if !logger.Enabled(context.Background(), slog.LevelInfo) || cfg.Log.Format == "json" {
		return
	}

	fmt.Fprintf(w, `
Configuration
━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━
%s
━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━
`, cfg)
}

func createServices(logger *slog.Logger, cfg *config.Config, workloadOpts ...workload.OptionFn) ([]service.Service, error) {
	logger.Debug("creating all services")

	board := sim.NewBoard(
		sim.WithLogger(logger),
		sim.WithCounterHz(cfg.Board.CounterHz),
	)

	core, err := pm.New(cfg.PM, board, pm.WithLogger(logger))
	if err != nil {
		return nil, fmt.Errorf("failed to create pm core: %w", err)
	}

	apiServer := server.NewAPIServer(
		server.WithLogger(logger),
		server.WithListen(cfg.Web.ListenAddresses, cfg.Web.Config),
	)

	services := []service.Service{
		apiServer,
		core,
		workload.New(core, board, append([]workload.OptionFn{workload.WithLogger(logger)}, workloadOpts...)...),
	}

	if ptr.Deref(cfg.Exporter.Prometheus.Enabled, false) {
		collectors := prometheus.CreateCollectors(core,
			prometheus.WithLogger(logger),
			prometheus.WithMetricsLevel(cfg.Exporter.Prometheus.MetricsLevel),
		)
		services = append(services, prometheus.NewExporter(apiServer,
			prometheus.WithLogger(logger),
			prometheus.WithDebugCollectors(cfg.Exporter.Prometheus.DebugCollectors),
			prometheus.WithCollectors(collectors),
		))
	}

	if ptr.Deref(cfg.Exporter.Debugfs.Enabled, false) {
		services = append(services, debugfs.NewExporter(core, apiServer, logger))
	}

	if ptr.Deref(cfg.Exporter.Stdout.Enabled, false) {
		services = append(services, stdout.NewExporter(core,
			stdout.WithLogger(logger),
			stdout.WithInterval(cfg.Exporter.Stdout.Interval),
		))
	}

	if ptr.Deref(cfg.Debug.Pprof.Enabled, false) {
		services = append(services, server.NewPprof(apiServer))
	}

	services = append(services,
		server.NewHealthProbe(apiServer, services, logger),
		service.NewSignalHandler(logger, os.Interrupt, syscall.SIGTERM),
	)
	return services, nil
}
