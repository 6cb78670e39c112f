package monitor

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/vertextoedge/diskguard/internal/domain"
	"github.com/vertextoedge/diskguard/internal/domain/event"
	"github.com/vertextoedge/diskguard/internal/domain/service"
	"github.com/vertextoedge/diskguard/internal/metrics"
	"github.com/vertextoedge/diskguard/internal/port"
	"github.com/vertextoedge/diskguard/internal/util/ratelimiter"
	"go.uber.org/zap"
)

// Config contains monitor configuration
type Config struct {
	// ProbeInterval is how often every directory is probed
	ProbeInterval time.Duration

	// ErrorLogInterval limits how often a recurring query error is logged
	// for the same directory
	ErrorLogInterval time.Duration
}

// DefaultConfig returns default monitor configuration
func DefaultConfig() *Config {
	return &Config{
		ProbeInterval:    time.Second,
		ErrorLogInterval: time.Minute,
	}
}

// snapshot is the immutable result of one completed probe
type snapshot struct {
	statuses []domain.DirectoryStatus
	byPath   map[string]int
	probedAt time.Time
}

// Monitor caches the free space of every configured directory. Only the
// probe loop queries the filesystem; readers load the latest snapshot
// without locking.
type Monitor struct {
	config     *Config
	policy     *service.ReservationPolicy
	querier    port.SpaceQuerier
	overrides  *OverrideTable
	dispatcher event.EventDispatcher
	metrics    *metrics.Metrics
	logger     *zap.Logger
	errLimiter *ratelimiter.Keyed

	snap    atomic.Pointer[snapshot]
	probes  atomic.Uint64
	probeMu sync.Mutex

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// Ensure Monitor implements port.SpaceReader
var _ port.SpaceReader = (*Monitor)(nil)

// New creates a new Monitor
func New(cfg *Config, policy *service.ReservationPolicy, querier port.SpaceQuerier, overrides *OverrideTable,
	dispatcher event.EventDispatcher, m *metrics.Metrics, logger *zap.Logger) *Monitor {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if cfg.ProbeInterval <= 0 {
		cfg.ProbeInterval = time.Second
	}
	if cfg.ErrorLogInterval <= 0 {
		cfg.ErrorLogInterval = time.Minute
	}
	if overrides == nil {
		overrides = NewOverrideTable()
	}
	if dispatcher == nil {
		dispatcher = event.NewNullDispatcher()
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Monitor{
		config:     cfg,
		policy:     policy,
		querier:    querier,
		overrides:  overrides,
		dispatcher: dispatcher,
		metrics:    m,
		logger:     logger,
		errLimiter: ratelimiter.NewKeyed(cfg.ErrorLogInterval),
	}
}

// Overrides returns the runtime override table
func (m *Monitor) Overrides() *OverrideTable {
	return m.overrides
}

// ProbeInterval returns the configured probe interval
func (m *Monitor) ProbeInterval() time.Duration {
	return m.config.ProbeInterval
}

// Start runs the probe loop until ctx is cancelled or Stop is called
func (m *Monitor) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return fmt.Errorf("disk space monitor already running")
	}
	m.running = true
	ctx, m.cancel = context.WithCancel(ctx)
	m.mu.Unlock()

	m.logger.Info("disk space monitor started",
		zap.Duration("probe_interval", m.config.ProbeInterval),
		zap.Int("directories", len(m.policy.Directories())))

	m.Refresh()

	m.wg.Add(1)
	go m.probeLoop(ctx)

	<-ctx.Done()
	m.wg.Wait()
	m.logger.Info("disk space monitor stopped")
	return nil
}

// Stop stops the probe loop
func (m *Monitor) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cancel != nil {
		m.cancel()
	}
	m.running = false
}

func (m *Monitor) probeLoop(ctx context.Context) {
	defer m.wg.Done()

	ticker := time.NewTicker(m.config.ProbeInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Refresh()
		}
	}
}

// Refresh probes every directory once, publishes the new snapshot and then
// notifies subscribers of directories that crossed their threshold. Probes
// are serialised; handlers run before Refresh returns.
func (m *Monitor) Refresh() {
	m.probeMu.Lock()
	defer m.probeMu.Unlock()

	start := time.Now()
	prev := m.snap.Load()
	dirs := m.policy.Directories()

	next := &snapshot{
		statuses: make([]domain.DirectoryStatus, 0, len(dirs)),
		byPath:   make(map[string]int, len(dirs)),
		probedAt: start,
	}
	for _, d := range dirs {
		sample := m.probe(d)
		next.byPath[d.Path] = len(next.statuses)
		next.statuses = append(next.statuses, domain.DirectoryStatus{
			Directory:    d,
			Sample:       sample,
			Availability: m.policy.Evaluate(sample),
		})
	}
	m.snap.Store(next)

	var events []event.DomainEvent
	for _, st := range next.statuses {
		before := domain.Available
		if prev != nil {
			if i, ok := prev.byPath[st.Directory.Path]; ok {
				before = prev.statuses[i].Availability
			}
		}

		m.metrics.ObserveDirectory(st.Directory.Path, st.Sample.FreeBytes, st.Availability == domain.Available)
		if st.Availability == before {
			continue
		}

		d := st.Directory
		if st.Availability == domain.ReservedExceeded {
			events = append(events, event.NewDirectoryUnavailable(d.Path, d.IsWAL, st.Sample.FreeBytes, d.ReservedBytes, st.Sample.Err))
		} else {
			events = append(events, event.NewDirectoryRecovered(d.Path, d.IsWAL, st.Sample.FreeBytes, d.ReservedBytes))
		}
	}
	m.dispatcher.DispatchAll(events)
	m.probes.Add(1)
	m.metrics.ObserveProbe(time.Since(start))
}

func (m *Monitor) probe(d domain.DataDirectory) domain.DiskSpaceSample {
	sample := domain.DiskSpaceSample{Path: d.Path, SampledAt: time.Now()}

	if free, ok := m.overrides.Lookup(d.Path); ok {
		sample.FreeBytes = free
		sample.Overridden = true
		return sample
	}

	free, err := m.querier.FreeBytes(d.Path)
	if err != nil {
		sample.Err = &domain.DirectoryQueryError{Path: d.Path, Err: err}
		m.metrics.IncProbeError(d.Path)
		if allowed, suppressed := m.errLimiter.Allow(d.Path); allowed {
			m.logger.Error("failed to query free space",
				zap.String("dir", d.Path),
				zap.String("kind", d.Kind()),
				zap.Int("suppressed", suppressed),
				zap.Error(err))
		}
		return sample
	}

	sample.FreeBytes = free
	return sample
}

// Sample returns the latest sample of a directory
func (m *Monitor) Sample(path string) (domain.DiskSpaceSample, bool) {
	st, ok := m.status(path)
	return st.Sample, ok
}

// FreeBytes returns the cached free bytes of a directory
func (m *Monitor) FreeBytes(path string) (uint64, bool) {
	st, ok := m.status(path)
	if !ok || st.Sample.Failed() {
		return 0, false
	}
	return st.Sample.FreeBytes, true
}

// Availability returns the cached classification of a directory. A
// directory that was never probed is reported RESERVED_EXCEEDED.
func (m *Monitor) Availability(path string) domain.Availability {
	st, ok := m.status(path)
	if !ok {
		return domain.ReservedExceeded
	}
	return st.Availability
}

// Statuses returns the classification of every configured directory
func (m *Monitor) Statuses() []domain.DirectoryStatus {
	s := m.snap.Load()
	if s == nil {
		return nil
	}
	out := make([]domain.DirectoryStatus, len(s.statuses))
	copy(out, s.statuses)
	return out
}

// Snapshot returns the latest sample of every directory
func (m *Monitor) Snapshot() []domain.DiskSpaceSample {
	s := m.snap.Load()
	if s == nil {
		return nil
	}
	out := make([]domain.DiskSpaceSample, 0, len(s.statuses))
	for _, st := range s.statuses {
		out = append(out, st.Sample)
	}
	return out
}

// Probes returns the number of completed probes, counted after their
// events were handled
func (m *Monitor) Probes() uint64 {
	return m.probes.Load()
}

// LastProbe returns when the latest completed probe started
func (m *Monitor) LastProbe() time.Time {
	s := m.snap.Load()
	if s == nil {
		return time.Time{}
	}
	return s.probedAt
}

func (m *Monitor) status(path string) (domain.DirectoryStatus, bool) {
	s := m.snap.Load()
	if s == nil {
		return domain.DirectoryStatus{}, false
	}
	i, ok := s.byPath[path]
	if !ok {
		return domain.DirectoryStatus{}, false
	}
	return s.statuses[i], true
}
