package commands

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"github.com/vertextoedge/diskguard/internal/adapter/sqlite"
	"github.com/vertextoedge/diskguard/internal/config"
	"github.com/vertextoedge/diskguard/internal/logger"
	"github.com/vertextoedge/diskguard/internal/metrics"
	"github.com/vertextoedge/diskguard/internal/node"
	"github.com/vertextoedge/diskguard/internal/service/monitor"
	"github.com/vertextoedge/diskguard/internal/service/server"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

var serveConfigPath string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the disk space guard",
	Long: `Run the free space monitor, block allocator, WAL writer and the admin
HTTP server until SIGINT or SIGTERM.

Environment variables override the config file:
  DISKGUARD_<SECTION>_<KEY>, e.g. DISKGUARD_LOGGING_LEVEL=debug`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveConfigPath, "config", "config.yaml", "Path to configuration file")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(serveConfigPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	if err := logger.InitWithOutput(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.Output); err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer logger.Sync()

	log := logger.GetZapLogger()
	log.Info("starting diskguard",
		zap.String("version", Version),
		zap.String("config", serveConfigPath),
	)

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	dbPath := cfg.Database.Path
	if dbPath == "" {
		dbPath = filepath.Join(cfg.FS.WALDir, "diskguard.db")
	}
	store, err := sqlite.Open(dbPath)
	if err != nil {
		return fmt.Errorf("failed to open database %s: %w", dbPath, err)
	}
	defer store.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	n, err := node.New(ctx, cfg, node.Options{
		Logger:  log,
		Metrics: m,
		Catalog: store,
	})
	if err != nil {
		return err
	}
	defer func() {
		if err := n.Close(); err != nil {
			log.Error("failed to close wal", zap.Error(err))
		}
	}()

	cfg.WatchOverrides(func(o config.Overrides, err error) {
		if err != nil {
			log.Error("ignoring invalid override reload", zap.Error(err))
			return
		}
		if err := n.Overrides().Replace(o.Prefixes, o.All); err != nil {
			log.Error("ignoring invalid override reload", zap.Error(err))
			return
		}
		log.Info("free space overrides reloaded",
			zap.String("spec", monitor.FormatPrefixSpec(o.Prefixes)),
			zap.Bool("global", o.All != nil))
		n.Monitor().Refresh()
	})

	httpServer := server.New(&server.Config{
		BindAddr:      cfg.HTTP.BindAddr,
		AdminUsername: cfg.HTTP.AdminUsername,
		AdminPassword: cfg.HTTP.AdminPassword,
		ReadTimeout:   cfg.HTTP.GetReadTimeout(),
		WriteTimeout:  cfg.HTTP.GetWriteTimeout(),
		IdleTimeout:   cfg.HTTP.GetIdleTimeout(),
	}, server.Deps{
		Space:      n.Monitor(),
		Containers: n.Allocator(),
		State:      n.Escalator(),
		Overrides:  n.Overrides(),
		Catalog:    store,
		Gatherer:   reg,
	}, log.Named("http"))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return n.Start(gctx)
	})
	g.Go(httpServer.Start)
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutdown signal received, stopping services...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := httpServer.Stop(shutdownCtx); err != nil {
			log.Error("failed to stop HTTP server gracefully", zap.Error(err))
		}
		return nil
	})

	log.Info("application started successfully",
		zap.String("http_addr", cfg.HTTP.BindAddr),
		zap.Strings("data_dirs", cfg.FS.DataDirs),
		zap.String("wal_dir", cfg.FS.WALDir),
	)

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	log.Info("application stopped successfully")
	return nil
}
