package node

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/vertextoedge/diskguard/internal/adapter/filesystem"
	"github.com/vertextoedge/diskguard/internal/config"
	"github.com/vertextoedge/diskguard/internal/domain"
	"github.com/vertextoedge/diskguard/internal/domain/event"
	"github.com/vertextoedge/diskguard/internal/domain/service"
	"github.com/vertextoedge/diskguard/internal/logger"
	"github.com/vertextoedge/diskguard/internal/metrics"
	"github.com/vertextoedge/diskguard/internal/port"
	"github.com/vertextoedge/diskguard/internal/service/allocator"
	"github.com/vertextoedge/diskguard/internal/service/escalator"
	"github.com/vertextoedge/diskguard/internal/service/maintenance"
	"github.com/vertextoedge/diskguard/internal/service/monitor"
	"github.com/vertextoedge/diskguard/internal/service/wal"
	"github.com/vertextoedge/diskguard/internal/service/walguard"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Options carries the collaborators a Node does not build itself.
// Zero values select the production implementations.
type Options struct {
	Logger     *zap.Logger
	Metrics    *metrics.Metrics
	FileSystem port.FileSystem
	// Querier defaults to FileSystem
	Querier port.SpaceQuerier
	// Catalog persists the container set; nil disables checkpoints
	Catalog port.ContainerRepository
	// Overrides replaces the table built from the config file
	Overrides *monitor.OverrideTable
	ExitFunc  func(code int)
	SyncFunc  func() error
}

// Node wires the free space monitor, block allocator, WAL and fail-fast
// escalation of one storage process.
type Node struct {
	config  *config.Config
	logger  *zap.Logger
	metrics *metrics.Metrics

	dispatcher  *event.InMemoryDispatcher
	eventCounts *event.MetricsHandler
	policy      *service.ReservationPolicy
	overrides   *monitor.OverrideTable
	monitor     *monitor.Monitor
	escalator   *escalator.Escalator
	allocator   *allocator.Allocator
	guard       *walguard.Guard
	wal         *wal.Writer
	maintenance *maintenance.Service
	buffer      *memstore
	catalog     port.ContainerRepository
}

// New builds a Node from cfg. The directories are probed once before New
// returns so allocations never run against an empty cache.
func New(ctx context.Context, cfg *config.Config, opts Options) (*Node, error) {
	log := opts.Logger
	if log == nil {
		log = logger.GetZapLogger()
	}
	fs := opts.FileSystem
	if fs == nil {
		fs = filesystem.NewManager()
	}
	querier := opts.Querier
	if querier == nil {
		querier = fs
	}

	// Every directory must exist before the first probe.
	for _, d := range append([]string{cfg.FS.WALDir}, cfg.FS.DataDirs...) {
		if err := fs.EnsureDir(d); err != nil {
			return nil, fmt.Errorf("failed to prepare directory: %w", err)
		}
	}

	n := &Node{
		config:      cfg,
		logger:      log,
		metrics:     opts.Metrics,
		dispatcher:  event.NewInMemoryDispatcher(false),
		eventCounts: event.NewMetricsHandler(),
		catalog:     opts.Catalog,
	}
	n.dispatcher.OnError(func(ev event.DomainEvent, _ event.EventHandler, err error) {
		log.Error("event handler failed", zap.String("event", ev.EventName()), zap.Error(err))
	})

	n.policy = service.NewReservationPolicy(Directories(cfg))

	n.overrides = opts.Overrides
	if n.overrides == nil {
		configured, err := cfg.Monitor.GetOverrides()
		if err != nil {
			return nil, fmt.Errorf("invalid overrides: %w", err)
		}
		n.overrides = monitor.NewOverrideTable()
		if err := n.overrides.Replace(configured.Prefixes, configured.All); err != nil {
			return nil, fmt.Errorf("invalid overrides: %w", err)
		}
	}

	n.monitor = monitor.New(&monitor.Config{
		ProbeInterval:    cfg.Monitor.GetProbeInterval(),
		ErrorLogInterval: cfg.Monitor.GetErrorLogInterval(),
	}, n.policy, querier, n.overrides, n.dispatcher, n.metrics, log.Named("monitor"))

	var escOpts []escalator.Option
	if opts.ExitFunc != nil {
		escOpts = append(escOpts, escalator.WithExitFunc(opts.ExitFunc))
	}
	if opts.SyncFunc != nil {
		escOpts = append(escOpts, escalator.WithSyncFunc(opts.SyncFunc))
	}
	n.escalator = escalator.New(&escalator.Config{
		FlushDeadline: cfg.Escalation.GetFlushDeadline(),
		RetryAfter:    cfg.Monitor.GetProbeInterval(),
	}, nil, n.dispatcher, n.metrics, log.Named("escalator"), escOpts...)

	n.allocator = allocator.New(&allocator.Config{
		MaxContainerBytes:   cfg.Allocator.GetMaxContainerBytes(),
		MaxContainersPerDir: cfg.Allocator.MaxContainersPerDir,
	}, n.policy.DataDirectories(), n.monitor, n.dispatcher, n.metrics, log.Named("allocator"))
	n.escalator.SetCounters(n.allocator)

	// The allocator flips containers before the escalator recomputes its
	// state, so a degraded state never reports stale counters.
	n.dispatcher.Subscribe(n.allocator)
	n.dispatcher.Subscribe(n.escalator)
	n.dispatcher.Subscribe(event.NewLoggingHandler(log.Named("events")))
	n.dispatcher.Subscribe(n.eventCounts)

	n.monitor.Refresh()

	if n.catalog != nil {
		stored, err := n.catalog.ListContainers(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to load container catalog: %w", err)
		}
		loaded := n.allocator.Load(stored)
		log.Info("container catalog loaded", zap.Int("containers", loaded))
	}

	walDir, _ := n.policy.WALDirectory()
	n.guard = walguard.New(walDir, n.monitor, n.escalator, log.Named("walguard"))

	compression, err := wal.ParseCompression(cfg.WAL.GetCompression())
	if err != nil {
		return nil, err
	}
	n.wal, err = wal.Open(&wal.Config{
		Dir:         walDir.Path,
		SegmentSize: cfg.WAL.GetSegmentSize(),
		Compression: compression,
		SyncWrites:  cfg.WAL.SyncWrites,
	}, fs, n.guard, n.metrics, log.Named("wal"))
	if err != nil {
		return nil, fmt.Errorf("failed to open wal: %w", err)
	}

	n.buffer = newMemstore()
	n.maintenance = maintenance.New(&maintenance.Config{
		PollingInterval:    cfg.Maintenance.GetPollingInterval(),
		CheckpointInterval: cfg.Maintenance.GetCheckpointInterval(),
	}, n.allocator, n.escalator, n.catalog, log.Named("maintenance"))
	n.maintenance.Register(newFlushOp(n.buffer, cfg.Maintenance.GetFlushThreshold(), log.Named("flush")))

	return n, nil
}

// Directories converts the fs section into the configured directory set,
// data directories first
func Directories(cfg *config.Config) []domain.DataDirectory {
	reserved := cfg.FS.GetDataReservedBytes()
	dirs := make([]domain.DataDirectory, 0, len(cfg.FS.DataDirs)+1)
	for _, d := range cfg.FS.DataDirs {
		dirs = append(dirs, domain.DataDirectory{Path: filepath.Clean(d), ReservedBytes: reserved})
	}
	dirs = append(dirs, domain.DataDirectory{
		Path:          filepath.Clean(cfg.FS.WALDir),
		ReservedBytes: cfg.FS.GetWALReservedBytes(),
		IsWAL:         true,
	})
	return dirs
}

// Start runs the probe loop and the maintenance service until ctx is done
func (n *Node) Start(ctx context.Context) error {
	n.logger.Info("node started",
		zap.Strings("data_dirs", n.config.FS.DataDirs),
		zap.String("wal_dir", n.config.FS.WALDir),
		zap.Int("pid", os.Getpid()))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return n.monitor.Start(gctx)
	})
	g.Go(func() error {
		return n.maintenance.Start(gctx)
	})
	return g.Wait()
}

// Stop stops the background services; Start returns once they are done
func (n *Node) Stop() {
	n.monitor.Stop()
	n.maintenance.Stop()
}

// Close seals the current WAL segment
func (n *Node) Close() error {
	return n.wal.Close()
}

// Write appends a record to the WAL and buffers it for the next flush.
// Once the node is terminating every write is refused.
func (n *Node) Write(payload []byte) (wal.Position, error) {
	if n.escalator.State() == escalator.StateTerminating {
		return wal.Position{}, domain.ErrTerminating
	}
	pos, err := n.wal.Append(payload)
	if err != nil {
		return wal.Position{}, err
	}
	n.buffer.Add(uint64(len(payload)))
	return pos, nil
}

// AllocateBlock allocates block space on behalf of purpose. Failures are
// passed through the escalator: critical purposes terminate the process,
// foreground writes get a *domain.RetryableError.
func (n *Node) AllocateBlock(sizeHint uint64, purpose domain.AllocationPurpose) (domain.BlockHandle, error) {
	if n.escalator.State() == escalator.StateTerminating {
		return domain.BlockHandle{}, domain.ErrTerminating
	}
	h, err := n.allocator.AllocateBlock(sizeHint, purpose)
	if err != nil {
		return domain.BlockHandle{}, n.escalator.HandleAllocationError(purpose, err)
	}
	return h, nil
}

// Monitor returns the free space monitor
func (n *Node) Monitor() *monitor.Monitor {
	return n.monitor
}

// Allocator returns the block allocator
func (n *Node) Allocator() *allocator.Allocator {
	return n.allocator
}

// Escalator returns the failure escalator
func (n *Node) Escalator() *escalator.Escalator {
	return n.escalator
}

// Overrides returns the runtime override table
func (n *Node) Overrides() *monitor.OverrideTable {
	return n.overrides
}

// Maintenance returns the maintenance service
func (n *Node) Maintenance() *maintenance.Service {
	return n.maintenance
}

// Buffered returns the bytes written since the last flush
func (n *Node) Buffered() uint64 {
	return n.buffer.Size()
}

// EventCounts returns how many domain events of each kind were seen
func (n *Node) EventCounts() map[string]int64 {
	return n.eventCounts.GetMetrics()
}
