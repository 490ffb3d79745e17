package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/spf13/cobra"

	"wol-go-home/internal/configstore"
	"wol-go-home/internal/discovery"
	"wol-go-home/internal/hostdir"
	"wol-go-home/internal/metrics"
	"wol-go-home/internal/notify"
	"wol-go-home/internal/pinning"
	"wol-go-home/internal/runner"
	"wol-go-home/internal/wake"
	"wol-go-home/internal/web"
)

func newServeCmd() *cobra.Command {
	var cfgPath string
	cmd := &cobra.Command{
		Use:   "serve [config.yaml]",
		Short: "Run the wake gateway daemon",
		Long: `Run the HTTP API, web page and optional MQTT bridge.

The config path may be given as an argument or with --config.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 1 {
				cfgPath = args[0]
			}
			return runServe(cfgPath)
		},
	}
	cmd.Flags().StringVarP(&cfgPath, "config", "c", "config.yaml", "path to the daemon config file")
	return cmd
}

func runServe(cfgPath string) error {
	// Temporary logger for config loading errors.
	bootLogger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	cfg, err := loadConfig(cfgPath)
	if err != nil {
		bootLogger.Error("load config", "err", err)
		return err
	}
	if err := cfg.validate(); err != nil {
		bootLogger.Error("invalid config", "err", err)
		return err
	}

	logger := newLogger(cfg)
	slog.SetDefault(logger)
	logger.Info("wol-go-home starting", "version", version)

	// Open store
	backend, err := configstore.NewBoltBackend(cfg.Store.Path)
	if err != nil {
		logger.Error("open store", "err", err)
		return err
	}
	defer backend.Close()

	if cfg.Store.Seed != "" {
		imported, err := configstore.ImportSeed(backend, cfg.Store.Seed)
		if err != nil {
			logger.Error("import store seed", "path", cfg.Store.Seed, "err", err)
			return err
		}
		if imported {
			logger.Info("store seeded", "path", cfg.Store.Seed)
		}
	}

	clock := clockwork.NewRealClock()
	applier := configstore.NewApplier(backend, clock, cfg.applyDelay, logger)
	defer applier.Stop()
	open := func() configstore.Client { return configstore.NewSession(backend, applier) }

	reg := metrics.NewRegistry()
	bus := notify.NewBus(logger)
	run := runner.ExecRunner{Timeout: cfg.wakeTimeout}

	// Host hints: static file plus optional Lua script (no-op when built
	// with no_scripts tag).
	var sources []discovery.Source
	if cfg.Discovery.HintsFile != "" {
		sources = append(sources, discovery.NewFileSource(cfg.Discovery.HintsFile, logger))
	}
	if cfg.Discovery.Script != "" {
		sources = append(sources, discovery.NewScriptSource(cfg.Discovery.Script, discovery.ScriptConfig{
			ExecAllowlist: cfg.Discovery.ExecAllowlist,
			ExecTimeout:   cfg.execTimeout,
		}, runner.ExecRunner{Timeout: cfg.execTimeout}, logger))
	}
	loader := hostdir.NewLoader(open, discovery.NewMulti(logger, sources...), logger)

	applier.OnCommit = func(configs []string) {
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		dir, err := loader.Load(ctx)
		if err != nil {
			logger.Warn("reload directory after commit", "configs", configs, "err", err)
			return
		}
		bus.Publish(notify.Event{Type: notify.EventDirectoryReloaded, Data: dir})
	}

	avail := wake.Probe(cfg.Wake.EtherwakePath, cfg.Wake.WolPath)
	wakeMetrics := metrics.NewWakeMetrics(reg)
	wakeMetrics.SetInstalled(string(wake.KindEtherwake), avail.Etherwake)
	wakeMetrics.SetInstalled(string(wake.KindWol), avail.Wol)
	dispatcher := wake.NewDispatcher(avail, wake.Config{
		Backend:   cfg.Wake.Backend,
		Interface: cfg.Wake.Interface,
		Broadcast: cfg.Wake.Broadcast,
	}, run, bus, logger, wake.WithMetrics(wakeMetrics), wake.WithClock(clock))
	if b, err := dispatcher.Selected(); err != nil {
		logger.Warn("no default wake utility", "err", err, "etherwake", avail.Etherwake, "wol", avail.Wol)
	} else {
		logger.Info("wake utility selected", "kind", b.Kind, "path", b.Path)
	}

	opts := pinning.DefaultOptions()
	opts.MaxPollAttempts = cfg.Pinning.MaxPollAttempts
	workflow := pinning.NewWorkflow(open, loader, bus, logger,
		pinning.WithClock(clock),
		pinning.WithMetrics(metrics.NewWorkflowMetrics(reg)),
		pinning.WithOptions(opts))

	// Start web server
	var webOpts []web.ServerOption
	if cfg.Web.APIKey != "" {
		webOpts = append(webOpts, web.WithAPIKey(cfg.Web.APIKey))
	}
	if len(cfg.Web.AllowedOrigins) > 0 {
		webOpts = append(webOpts, web.WithAllowedOrigins(cfg.Web.AllowedOrigins))
	}
	webOpts = append(webOpts, web.WithVersion(version), web.WithMetrics(reg))

	webServer, err := web.NewServer(web.Services{
		Directory: loader,
		Wake:      dispatcher,
		Pins:      workflow,
		Store:     open,
		Events:    bus,
	}, logger, webOpts...)
	if err != nil {
		logger.Error("create web server", "err", err)
		return err
	}

	httpServer := &http.Server{
		Addr:         cfg.Web.Listen,
		Handler:      webServer,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		logger.Info("web server starting", "addr", cfg.Web.Listen)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server", "err", err)
		}
	}()

	// Start MQTT bridge (no-op when built with no_mqtt tag).
	mqtt := initMQTT(loader, dispatcher, bus, cfg, logger)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	signal.Stop(sigCh)
	logger.Info("shutting down", "signal", sig)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	mqtt.Stop()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown", "err", err)
	}
	webServer.Stop()

	logger.Info("goodbye")
	return nil
}
