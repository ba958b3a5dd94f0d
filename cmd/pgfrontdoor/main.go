// Command pgfrontdoor starts the single-endpoint, multi-tenant PostgreSQL
// front door: an embedded PostgreSQL server plus a Router that
// auto-provisions one database per distinct client and proxies the wire
// protocol through to it.
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"pgfrontdoor/internal/config"
	"pgfrontdoor/internal/frontdoor"
	"pgfrontdoor/pkg/logger"
)

func main() {
	var (
		configPath    = flag.String("config", "", "path to a YAML configuration file")
		listenHost    = flag.String("listen-host", "", "override listen.host")
		listenPort    = flag.Int("listen-port", 0, "override listen.port")
		dataDir       = flag.String("data-dir", "", "override backend.data_dir (unset = ephemeral)")
		logLevel      = flag.String("log-level", "", "override logging.level (error|warn|info|debug)")
		autoProvision = flag.Bool("auto-provision", true, "create unknown databases on first connect")
		help          = flag.Bool("help", false, "print usage and exit")
	)
	flag.Parse()

	if *help {
		flag.Usage()
		os.Exit(0)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("pgfrontdoor: load config: %v", err)
	}

	explicit := map[string]bool{}
	flag.Visit(func(f *flag.Flag) { explicit[f.Name] = true })
	applyFlagOverrides(cfg, *listenHost, *listenPort, *dataDir, *logLevel, *autoProvision, explicit)

	if err := logger.InitFromLevel(cfg.Logging.Level, cfg.Logging.File); err != nil {
		log.Fatalf("pgfrontdoor: init logger: %v", err)
	}
	config.SetGlobal(cfg)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	fd, err := frontdoor.New(ctx, frontdoor.Options{
		ListenHost:                cfg.Listen.Host,
		ListenPort:                cfg.Listen.Port,
		MaxConnections:            cfg.Listen.MaxConnections,
		BackendDataDir:            cfg.Backend.DataDir,
		BackendUseRAMDisk:         cfg.Backend.UseRAMDisk,
		BackendPort:               cfg.Backend.Port,
		BackendBinDir:             cfg.Backend.BinDir,
		BackendAdminUser:          cfg.Backend.AdminUser,
		BackendAdminPassword:      cfg.Backend.AdminPassword,
		BackendLogicalReplication: cfg.Backend.LogicalReplication,
		BackendStartupTimeout:     cfg.Backend.StartupTimeout,
		AutoProvision:             cfg.Provision.AutoProvision,
		MaxStartupMessageSize:     cfg.Provision.MaxStartupMessageSize,
	})
	if err != nil {
		logger.Error("pgfrontdoor: startup failed: %v", err)
		os.Exit(1)
	}

	logger.Info("pgfrontdoor: listening on %s:%d", cfg.Listen.Host, cfg.Listen.Port)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	logger.Info("pgfrontdoor: shutting down")
	if err := fd.Stop(); err != nil {
		logger.Error("pgfrontdoor: error during shutdown: %v", err)
		os.Exit(1)
	}
	logger.Info("pgfrontdoor: stopped")
}

func applyFlagOverrides(cfg *config.Config, host string, port int, dataDir, logLevel string, autoProvision bool, explicit map[string]bool) {
	if host != "" {
		cfg.Listen.Host = host
	}
	if port != 0 {
		cfg.Listen.Port = port
	}
	if dataDir != "" {
		cfg.Backend.DataDir = dataDir
	}
	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}
	if explicit["auto-provision"] {
		cfg.Provision.AutoProvision = autoProvision
	}
}
