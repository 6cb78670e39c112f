package escalator

import (
	"errors"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/vertextoedge/diskguard/internal/domain"
	"github.com/vertextoedge/diskguard/internal/domain/event"
	"github.com/vertextoedge/diskguard/internal/logger"
	"github.com/vertextoedge/diskguard/internal/metrics"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// ExitCodeFatal is the process exit status after a fatal space condition.
// It matches EX_SOFTWARE so supervisors can tell it from a clean shutdown.
const ExitCodeFatal = 70

// State is the escalator state
type State int32

// Escalator states
const (
	StateNormal State = iota
	StateDegraded
	StateTerminating
)

// String returns the state name
func (s State) String() string {
	switch s {
	case StateNormal:
		return "NORMAL"
	case StateDegraded:
		return "DEGRADED"
	case StateTerminating:
		return "TERMINATING"
	default:
		return "UNKNOWN"
	}
}

// Config contains escalator configuration
type Config struct {
	// FlushDeadline bounds the time between the fatal condition and exit
	FlushDeadline time.Duration

	// RetryAfter is suggested to foreground writers that hit NoSpace
	RetryAfter time.Duration
}

// DefaultConfig returns default escalator configuration
func DefaultConfig() *Config {
	return &Config{
		FlushDeadline: 2 * time.Second,
		RetryAfter:    time.Second,
	}
}

// Counters reports container counters for the diagnostic record
type Counters interface {
	ActiveContainers() int64
	UnavailableContainers() int64
}

// Option configures an Escalator
type Option func(*Escalator)

// WithExitFunc replaces os.Exit
func WithExitFunc(fn func(code int)) Option {
	return func(e *Escalator) { e.exit = fn }
}

// WithSyncFunc replaces the log flush performed before exit
func WithSyncFunc(fn func() error) Option {
	return func(e *Escalator) { e.sync = fn }
}

// Escalator is the single fail-fast policy of the node. It tracks whether
// data directories are degraded and owns the only termination path.
type Escalator struct {
	config     *Config
	counters   Counters
	dispatcher event.EventDispatcher
	metrics    *metrics.Metrics
	logger     *zap.Logger
	exit       func(code int)
	sync       func() error

	state       atomic.Int32
	mu          sync.Mutex
	unavailable map[string]bool

	once        sync.Once
	exitOnce    sync.Once
	fatal       atomic.Pointer[domain.FatalCondition]
	terminating chan struct{}
}

// Ensure Escalator handles directory events
var _ event.EventHandler = (*Escalator)(nil)

// New creates a new Escalator
func New(cfg *Config, counters Counters, dispatcher event.EventDispatcher, m *metrics.Metrics,
	log *zap.Logger, opts ...Option) *Escalator {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if cfg.FlushDeadline <= 0 {
		cfg.FlushDeadline = DefaultConfig().FlushDeadline
	}
	if cfg.RetryAfter <= 0 {
		cfg.RetryAfter = DefaultConfig().RetryAfter
	}
	if dispatcher == nil {
		dispatcher = event.NewNullDispatcher()
	}
	if log == nil {
		log = zap.NewNop()
	}

	e := &Escalator{
		config:      cfg,
		counters:    counters,
		dispatcher:  dispatcher,
		metrics:     m,
		logger:      log,
		exit:        os.Exit,
		unavailable: make(map[string]bool),
		terminating: make(chan struct{}),
	}
	e.sync = func() error { return logger.SyncLogger(e.logger) }
	for _, opt := range opts {
		opt(e)
	}
	m.SetEscalatorState(int32(StateNormal))
	return e
}

// SetCounters attaches the container counters reported at termination
func (e *Escalator) SetCounters(c Counters) {
	e.mu.Lock()
	e.counters = c
	e.mu.Unlock()
}

// State returns the current state
func (e *Escalator) State() State {
	return State(e.state.Load())
}

// Terminating is closed when the escalator enters TERMINATING
func (e *Escalator) Terminating() <-chan struct{} {
	return e.terminating
}

// FatalCondition returns the condition that triggered termination, if any
func (e *Escalator) FatalCondition() *domain.FatalCondition {
	return e.fatal.Load()
}

// Handle tracks data directory availability for NORMAL and DEGRADED
func (e *Escalator) Handle(ev event.DomainEvent) error {
	switch x := ev.(type) {
	case event.DirectoryUnavailable:
		if !x.IsWAL {
			e.setDirectory(x.Path, false)
		}
	case event.DirectoryRecovered:
		if !x.IsWAL {
			e.setDirectory(x.Path, true)
		}
	}
	return nil
}

// HandledEvents returns the events this handler handles
func (e *Escalator) HandledEvents() []string {
	return []string{event.NameDirectoryUnavailable, event.NameDirectoryRecovered}
}

func (e *Escalator) setDirectory(path string, available bool) {
	e.mu.Lock()
	if available {
		delete(e.unavailable, path)
	} else {
		e.unavailable[path] = true
	}
	want := StateNormal
	if len(e.unavailable) > 0 {
		want = StateDegraded
	}

	// The transition happens under mu so concurrent events cannot apply
	// their targets out of order. Escalate may still win the CAS.
	var from State
	changed := false
	for {
		cur := State(e.state.Load())
		if cur == StateTerminating || cur == want {
			break
		}
		if e.state.CompareAndSwap(int32(cur), int32(want)) {
			e.metrics.SetEscalatorState(int32(want))
			from, changed = cur, true
			break
		}
	}
	e.mu.Unlock()

	if changed {
		e.dispatcher.Dispatch(event.NewEscalatorStateChanged(from.String(), want.String()))
	}
}

// HandleAllocationError applies the escalation policy to a block allocation
// failure. NoSpace on a flush or compaction allocation escalates to a fatal
// condition and never returns control in production. NoSpace on the write
// path is returned as a retryable error. Other errors pass through.
func (e *Escalator) HandleAllocationError(purpose domain.AllocationPurpose, err error) error {
	if err == nil {
		return nil
	}
	var nse *domain.NoSpaceError
	if !errors.As(err, &nse) {
		return err
	}
	if purpose.Critical() {
		fc := domain.NewBlockFatalCondition(nse)
		e.Escalate(fc)
		return fc
	}
	return domain.NewRetryableError(err, e.config.RetryAfter)
}

// Escalate enters TERMINATING, emits the diagnostic record, flushes logs
// and exits the process. Only the first call has any effect; the exit
// happens no later than FlushDeadline after it.
func (e *Escalator) Escalate(fc *domain.FatalCondition) {
	e.once.Do(func() {
		prev := State(e.state.Swap(int32(StateTerminating)))
		e.fatal.Store(fc)
		close(e.terminating)

		e.metrics.SetEscalatorState(int32(StateTerminating))
		e.metrics.IncFatal(string(fc.Kind))

		watchdog := time.AfterFunc(e.config.FlushDeadline, func() {
			e.exitOnce.Do(func() { e.exit(ExitCodeFatal) })
		})

		e.logDiagnostic(fc, prev)
		if err := e.sync(); err != nil {
			e.logger.Warn("failed to flush logs before exit", zap.Error(err))
		}

		watchdog.Stop()
		e.exitOnce.Do(func() { e.exit(ExitCodeFatal) })
	})
}

func (e *Escalator) logDiagnostic(fc *domain.FatalCondition, prev State) {
	fields := []zap.Field{
		zap.String("trigger", string(fc.Kind)),
		zap.Bool("wal", fc.Kind == domain.FatalWAL),
		zap.String("dir", fc.Directory),
		zap.Uint64("reserved_bytes", fc.ReservedBytes),
		zap.Uint64("free_bytes", fc.FreeBytes),
		zap.Uint64("needed_bytes", fc.BytesNeeded),
		zap.String("reserved", humanize.IBytes(fc.ReservedBytes)),
		zap.String("free", humanize.IBytes(fc.FreeBytes)),
		zap.String("reason", fc.Reason),
		zap.String("previous_state", prev.String()),
		zap.Int("exit_code", ExitCodeFatal),
	}

	e.mu.Lock()
	counters := e.counters
	e.mu.Unlock()
	if counters != nil {
		fields = append(fields,
			zap.Int64("active_containers", counters.ActiveContainers()),
			zap.Int64("unavailable_containers", counters.UnavailableContainers()),
		)
	}
	if len(fc.Directories) > 0 {
		fields = append(fields, zap.Array("directories", directoryStatuses(fc.Directories)))
	}
	if fc.Err != nil {
		fields = append(fields, zap.Error(fc.Err))
	}

	e.logger.Error("fatal disk space condition, terminating", fields...)
}

type directoryStatuses []domain.DirectoryStatus

func (d directoryStatuses) MarshalLogArray(enc zapcore.ArrayEncoder) error {
	for _, st := range d {
		if err := enc.AppendObject(directoryStatus(st)); err != nil {
			return err
		}
	}
	return nil
}

type directoryStatus domain.DirectoryStatus

func (s directoryStatus) MarshalLogObject(enc zapcore.ObjectEncoder) error {
	enc.AddString("dir", s.Directory.Path)
	enc.AddString("kind", s.Directory.Kind())
	enc.AddUint64("reserved_bytes", s.Directory.ReservedBytes)
	enc.AddUint64("free_bytes", s.Sample.FreeBytes)
	enc.AddString("availability", s.Availability.String())
	enc.AddBool("overridden", s.Sample.Overridden)
	if s.Sample.Err != nil {
		enc.AddString("query_error", s.Sample.Err.Error())
	}
	return nil
}
