package maintenance

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/vertextoedge/diskguard/internal/domain"
	"github.com/vertextoedge/diskguard/internal/port"
	"go.uber.org/zap"
)

// MetaLastCheckpoint is the catalog meta key holding the last checkpoint time
const MetaLastCheckpoint = "last_checkpoint_at"

// Config contains maintenance service configuration
type Config struct {
	// PollingInterval is how often registered maintenance ops are polled
	PollingInterval time.Duration

	// CheckpointInterval is how often the container set is saved
	CheckpointInterval time.Duration

	// ShutdownTimeout bounds the final checkpoint
	ShutdownTimeout time.Duration
}

// DefaultConfig returns default maintenance configuration
func DefaultConfig() *Config {
	return &Config{
		PollingInterval:    250 * time.Millisecond,
		CheckpointInterval: 30 * time.Second,
		ShutdownTimeout:    5 * time.Second,
	}
}

// Allocator hands out block space to maintenance ops
type Allocator interface {
	AllocateBlock(sizeHint uint64, purpose domain.AllocationPurpose) (domain.BlockHandle, error)
	Containers() []domain.BlockContainer
	DrainRetired() []string
	RequeueRetired(ids ...string)
}

// Escalator decides what an allocation failure means
type Escalator interface {
	HandleAllocationError(purpose domain.AllocationPurpose, err error) error
	Terminating() <-chan struct{}
}

// Service polls flush and compaction ops and checkpoints the container
// catalog
type Service struct {
	config    *Config
	allocator Allocator
	escalator Escalator
	repo      port.ContainerRepository
	logger    *zap.Logger

	opsMu sync.RWMutex
	ops   []port.MaintenanceOp

	cycles atomic.Uint64

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// New creates a new maintenance Service. repo may be nil to disable
// checkpoints.
func New(cfg *Config, allocator Allocator, escalator Escalator, repo port.ContainerRepository, logger *zap.Logger) *Service {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if cfg.PollingInterval == 0 {
		cfg.PollingInterval = 250 * time.Millisecond
	}
	if cfg.CheckpointInterval == 0 {
		cfg.CheckpointInterval = 30 * time.Second
	}
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = 5 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Service{
		config:    cfg,
		allocator: allocator,
		escalator: escalator,
		repo:      repo,
		logger:    logger,
	}
}

// Register adds a maintenance op polled on every cycle
func (s *Service) Register(op port.MaintenanceOp) {
	s.opsMu.Lock()
	s.ops = append(s.ops, op)
	s.opsMu.Unlock()
}

// Cycles returns the number of completed polling cycles
func (s *Service) Cycles() uint64 {
	return s.cycles.Load()
}

// Start starts the maintenance service and blocks until it stops
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return fmt.Errorf("maintenance service already running")
	}
	s.running = true
	ctx, s.cancel = context.WithCancel(ctx)
	s.mu.Unlock()

	s.logger.Info("maintenance service started",
		zap.Duration("polling_interval", s.config.PollingInterval),
		zap.Duration("checkpoint_interval", s.config.CheckpointInterval))

	s.wg.Add(1)
	go s.maintenanceLoop(ctx)

	<-ctx.Done()
	s.wg.Wait()

	if !s.isTerminating() {
		checkpointCtx, cancel := context.WithTimeout(context.Background(), s.config.ShutdownTimeout)
		if err := s.Checkpoint(checkpointCtx); err != nil {
			s.logger.Error("final checkpoint failed", zap.Error(err))
		}
		cancel()
	}

	s.logger.Info("maintenance service stopped")
	return nil
}

// Stop stops the maintenance service
func (s *Service) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		s.cancel()
	}
	s.running = false
}

// maintenanceLoop handles periodic maintenance tasks
func (s *Service) maintenanceLoop(ctx context.Context) {
	defer s.wg.Done()

	pollTicker := time.NewTicker(s.config.PollingInterval)
	defer pollTicker.Stop()

	checkpointTicker := time.NewTicker(s.config.CheckpointInterval)
	defer checkpointTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.escalator.Terminating():
			return
		case <-pollTicker.C:
			s.RunOnce(ctx)
		case <-checkpointTicker.C:
			if err := s.Checkpoint(ctx); err != nil {
				s.logger.Error("checkpoint failed", zap.Error(err))
			}
		}
	}
}

// RunOnce gives every runnable op one chance to allocate and perform. A
// NoSpace on a critical purpose escalates and ends the cycle.
func (s *Service) RunOnce(ctx context.Context) {
	defer s.cycles.Add(1)

	s.opsMu.RLock()
	ops := make([]port.MaintenanceOp, len(s.ops))
	copy(ops, s.ops)
	s.opsMu.RUnlock()

	for _, op := range ops {
		if s.isTerminating() || ctx.Err() != nil {
			return
		}

		need := op.BytesNeeded()
		if need == 0 {
			continue
		}

		block, err := s.allocator.AllocateBlock(need, op.Purpose())
		if err != nil {
			err = s.escalator.HandleAllocationError(op.Purpose(), err)
			if domain.IsFatal(err) {
				return
			}
			s.logger.Warn("maintenance op could not allocate",
				zap.String("op", op.Name()),
				zap.String("purpose", string(op.Purpose())),
				zap.Uint64("bytes", need),
				zap.Error(err))
			continue
		}

		if err := op.Perform(ctx, block); err != nil {
			s.logger.Error("maintenance op failed",
				zap.String("op", op.Name()),
				zap.String("container", block.ContainerID),
				zap.Error(err))
		}
	}
}

// Checkpoint saves the container set and forgets retired containers
func (s *Service) Checkpoint(ctx context.Context) error {
	if s.repo == nil {
		return nil
	}

	containers := s.allocator.Containers()
	if err := s.repo.SaveContainers(ctx, containers); err != nil {
		return fmt.Errorf("save containers: %w", err)
	}

	var failed []string
	for _, id := range s.allocator.DrainRetired() {
		err := s.repo.DeleteContainer(ctx, id)
		if err == nil || errors.Is(err, domain.ErrContainerNotFound) {
			continue
		}
		s.logger.Error("failed to delete retired container", zap.String("container", id), zap.Error(err))
		failed = append(failed, id)
	}
	// A retired container left in the catalog reloads as live on restart.
	s.allocator.RequeueRetired(failed...)

	if err := s.repo.SetMeta(ctx, MetaLastCheckpoint, time.Now().UTC().Format(time.RFC3339Nano)); err != nil {
		return fmt.Errorf("record checkpoint: %w", err)
	}

	s.logger.Debug("container catalog checkpointed", zap.Int("containers", len(containers)))
	return nil
}

func (s *Service) isTerminating() bool {
	select {
	case <-s.escalator.Terminating():
		return true
	default:
		return false
	}
}
