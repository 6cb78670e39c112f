package allocator

import (
	"fmt"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/vertextoedge/diskguard/internal/domain"
	"github.com/vertextoedge/diskguard/internal/domain/event"
	"github.com/vertextoedge/diskguard/internal/metrics"
	"github.com/vertextoedge/diskguard/internal/port"
	"go.uber.org/zap"
)

// Config contains allocator configuration
type Config struct {
	// MaxContainerBytes is the size at which a container becomes full
	MaxContainerBytes uint64

	// MaxContainersPerDir caps the active containers of one directory.
	// Zero means unlimited.
	MaxContainersPerDir int
}

// DefaultConfig returns default allocator configuration
func DefaultConfig() *Config {
	return &Config{
		MaxContainerBytes: 10 << 30,
	}
}

// Allocator owns the block containers of every data directory and picks
// where new blocks go. It never performs I/O: directory availability comes
// from directory events and the cached probe results.
type Allocator struct {
	config     *Config
	dirs       []domain.DataDirectory
	space      port.SpaceReader
	dispatcher event.EventDispatcher
	metrics    *metrics.Metrics
	logger     *zap.Logger
	newID      func() string

	mu           sync.Mutex
	containers   map[string]*domain.BlockContainer
	byDir        map[string][]*domain.BlockContainer
	dirAvailable map[string]bool
	retired      []string
	next         int // round-robin cursor over dirs

	active      atomic.Int64
	unavailable atomic.Int64
}

// Ensure Allocator handles directory events
var _ event.EventHandler = (*Allocator)(nil)

// New creates an Allocator for the data directories in dirs. WAL
// directories are ignored.
func New(cfg *Config, dirs []domain.DataDirectory, space port.SpaceReader, dispatcher event.EventDispatcher,
	m *metrics.Metrics, logger *zap.Logger) *Allocator {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if cfg.MaxContainerBytes == 0 {
		cfg.MaxContainerBytes = DefaultConfig().MaxContainerBytes
	}
	if dispatcher == nil {
		dispatcher = event.NewNullDispatcher()
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	a := &Allocator{
		config:       cfg,
		space:        space,
		dispatcher:   dispatcher,
		metrics:      m,
		logger:       logger,
		newID:        uuid.NewString,
		containers:   make(map[string]*domain.BlockContainer),
		byDir:        make(map[string][]*domain.BlockContainer),
		dirAvailable: make(map[string]bool),
	}
	for _, d := range dirs {
		if d.IsWAL {
			continue
		}
		a.dirs = append(a.dirs, d)
		// Directories start available; the first probe announces the ones
		// that are not.
		a.dirAvailable[d.Path] = true
	}
	return a
}

// Load seeds the container set from the catalog. Containers of unknown
// directories are skipped. Stored unavailable containers are re-evaluated
// against the current directory availability.
func (a *Allocator) Load(containers []domain.BlockContainer) int {
	a.mu.Lock()
	loaded := 0
	for _, stored := range containers {
		if _, known := a.dirAvailable[stored.Dir]; !known {
			a.logger.Warn("skipping container of unconfigured directory",
				zap.String("container", stored.ID),
				zap.String("dir", stored.Dir))
			continue
		}
		if _, dup := a.containers[stored.ID]; dup {
			continue
		}

		c := stored
		if c.State == domain.ContainerUnavailable {
			c.State = domain.ContainerActive
		}
		if c.State == domain.ContainerActive && !a.dirAvailable[c.Dir] {
			c.State = domain.ContainerUnavailable
		}
		a.containers[c.ID] = &c
		a.byDir[c.Dir] = append(a.byDir[c.Dir], &c)
		loaded++
	}
	a.recount()
	a.mu.Unlock()

	a.publishCounters()
	return loaded
}

// AllocateBlock picks a container for a block of sizeHint bytes. It never
// blocks on I/O and returns a *domain.NoSpaceError when no data directory
// can take the block.
func (a *Allocator) AllocateBlock(sizeHint uint64, purpose domain.AllocationPurpose) (domain.BlockHandle, error) {
	a.mu.Lock()
	handle, ok, opened := a.allocateLocked(sizeHint)
	a.mu.Unlock()

	if !ok {
		a.metrics.IncAllocation(string(purpose), "no_space")
		return domain.BlockHandle{}, &domain.NoSpaceError{
			Purpose:     purpose,
			SizeHint:    sizeHint,
			Directories: a.dataStatuses(),
		}
	}

	if opened {
		a.publishCounters()
		a.logger.Debug("opened block container",
			zap.String("container", handle.ContainerID),
			zap.String("dir", handle.Dir))
	}
	a.metrics.IncAllocation(string(purpose), "ok")
	return handle, nil
}

func (a *Allocator) allocateLocked(size uint64) (domain.BlockHandle, bool, bool) {
	candidates := a.candidatesLocked()
	if len(candidates) == 0 {
		return domain.BlockHandle{}, false, false
	}

	// Prefer the directory with the most warm containers.
	var best *domain.BlockContainer
	bestCount := -1
	for _, d := range candidates {
		count := 0
		var warmest *domain.BlockContainer
		for _, c := range a.byDir[d.Path] {
			if !c.IsActive() {
				continue
			}
			count++
			if c.HasRoom(size) && (warmest == nil || c.LiveBytes > warmest.LiveBytes) {
				warmest = c
			}
		}
		if warmest != nil && count > bestCount {
			best, bestCount = warmest, count
		}
	}
	if best != nil {
		return a.appendLocked(best, size), true, false
	}

	// Open a new container, round-robin over the candidates.
	n := len(a.dirs)
	for i := 0; i < n; i++ {
		idx := (a.next + i) % n
		d := a.dirs[idx]
		if !a.isCandidateLocked(d) {
			continue
		}
		if limit := a.config.MaxContainersPerDir; limit > 0 {
			for a.countActiveLocked(d.Path) >= limit {
				a.rollWarmestLocked(d.Path)
			}
		}
		c := domain.NewBlockContainer(a.newID(), d.Path, a.config.MaxContainerBytes)
		a.containers[c.ID] = c
		a.byDir[d.Path] = append(a.byDir[d.Path], c)
		a.next = idx + 1
		h := a.appendLocked(c, size)
		a.recount()
		return h, true, true
	}

	return domain.BlockHandle{}, false, false
}

func (a *Allocator) appendLocked(c *domain.BlockContainer, size uint64) domain.BlockHandle {
	// HasRoom was checked under the same lock.
	offset, _ := c.Append(size)
	return domain.BlockHandle{
		ContainerID: c.ID,
		Dir:         c.Dir,
		Offset:      offset,
		Length:      size,
	}
}

func (a *Allocator) candidatesLocked() []domain.DataDirectory {
	out := make([]domain.DataDirectory, 0, len(a.dirs))
	for _, d := range a.dirs {
		if a.isCandidateLocked(d) {
			out = append(out, d)
		}
	}
	return out
}

// isCandidateLocked requires a completed probe of the directory in addition
// to the event-driven availability flag.
func (a *Allocator) isCandidateLocked(d domain.DataDirectory) bool {
	if !a.dirAvailable[d.Path] {
		return false
	}
	_, sampled := a.space.Sample(d.Path)
	return sampled
}

// rollWarmestLocked closes the fullest active container of dir so a new one
// fits under MaxContainersPerDir. Only called after the warm pass found no
// active container with room, so no usable space is abandoned.
func (a *Allocator) rollWarmestLocked(dir string) {
	var warmest *domain.BlockContainer
	for _, c := range a.byDir[dir] {
		if c.IsActive() && (warmest == nil || c.LiveBytes > warmest.LiveBytes) {
			warmest = c
		}
	}
	if warmest == nil {
		return
	}
	_ = warmest.MarkFull()
	a.logger.Debug("rolled block container at per-directory limit",
		zap.String("container", warmest.ID),
		zap.String("dir", dir),
		zap.Uint64("live_bytes", warmest.LiveBytes))
}

func (a *Allocator) countActiveLocked(dir string) int {
	n := 0
	for _, c := range a.byDir[dir] {
		if c.IsActive() {
			n++
		}
	}
	return n
}

// Handle applies directory events
func (a *Allocator) Handle(e event.DomainEvent) error {
	switch ev := e.(type) {
	case event.DirectoryUnavailable:
		if !ev.IsWAL {
			a.OnDirectoryUnavailable(ev.Path)
		}
	case event.DirectoryRecovered:
		if !ev.IsWAL {
			a.OnDirectoryRecovered(ev.Path)
		}
	}
	return nil
}

// HandledEvents returns the events this handler handles
func (a *Allocator) HandledEvents() []string {
	return []string{event.NameDirectoryUnavailable, event.NameDirectoryRecovered}
}

// OnDirectoryUnavailable moves every active container of dir to unavailable
func (a *Allocator) OnDirectoryUnavailable(dir string) {
	a.transition(dir, false)
}

// OnDirectoryRecovered moves every unavailable container of dir back to active
func (a *Allocator) OnDirectoryRecovered(dir string) {
	a.transition(dir, true)
}

func (a *Allocator) transition(dir string, available bool) {
	a.mu.Lock()
	if _, known := a.dirAvailable[dir]; !known {
		a.mu.Unlock()
		return
	}
	a.dirAvailable[dir] = available

	moved := 0
	for _, c := range a.byDir[dir] {
		var err error
		switch {
		case available && c.State == domain.ContainerUnavailable:
			err = c.MarkRecovered()
		case !available && c.State == domain.ContainerActive:
			err = c.MarkUnavailable()
		default:
			continue
		}
		if err != nil {
			a.logger.Error("container transition failed", zap.String("container", c.ID), zap.Error(err))
			continue
		}
		moved++
	}
	a.recount()
	a.mu.Unlock()

	a.publishCounters()

	to := domain.ContainerUnavailable
	if available {
		to = domain.ContainerActive
	}
	if moved > 0 {
		a.dispatcher.Dispatch(event.NewContainersTransitioned(dir, string(to), moved))
	}
}

// MarkFull closes a container on request of the block format layer
func (a *Allocator) MarkFull(id string) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	c, ok := a.containers[id]
	if !ok {
		return fmt.Errorf("mark full %s: %w", id, domain.ErrContainerNotFound)
	}
	return c.MarkFull()
}

// Retire removes a container from the live set
func (a *Allocator) Retire(id string) error {
	a.mu.Lock()
	c, ok := a.containers[id]
	if !ok {
		a.mu.Unlock()
		return fmt.Errorf("retire %s: %w", id, domain.ErrContainerNotFound)
	}
	delete(a.containers, id)
	list := a.byDir[c.Dir]
	for i, other := range list {
		if other == c {
			a.byDir[c.Dir] = append(list[:i:i], list[i+1:]...)
			break
		}
	}
	a.retired = append(a.retired, id)
	a.recount()
	a.mu.Unlock()

	a.publishCounters()
	return nil
}

// DrainRetired returns and forgets the IDs retired since the last call
func (a *Allocator) DrainRetired() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := a.retired
	a.retired = nil
	return out
}

// RequeueRetired puts back retired IDs whose catalog delete failed so the
// next DrainRetired returns them again
func (a *Allocator) RequeueRetired(ids ...string) {
	if len(ids) == 0 {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.retired = append(a.retired, ids...)
}

// Containers returns a copy of every live container ordered by creation time
func (a *Allocator) Containers() []domain.BlockContainer {
	a.mu.Lock()
	out := make([]domain.BlockContainer, 0, len(a.containers))
	for _, c := range a.containers {
		out = append(out, *c)
	}
	a.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// DirectoryAvailable returns the availability the allocator last applied to dir
func (a *Allocator) DirectoryAvailable(dir string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.dirAvailable[dir]
}

// ActiveContainers counts containers in state active or full
func (a *Allocator) ActiveContainers() int64 {
	return a.active.Load()
}

// UnavailableContainers counts containers in state unavailable
func (a *Allocator) UnavailableContainers() int64 {
	return a.unavailable.Load()
}

func (a *Allocator) recount() {
	var active, unavailable int64
	for _, c := range a.containers {
		switch c.State {
		case domain.ContainerActive, domain.ContainerFull:
			active++
		case domain.ContainerUnavailable:
			unavailable++
		}
	}
	a.active.Store(active)
	a.unavailable.Store(unavailable)
}

func (a *Allocator) publishCounters() {
	a.metrics.SetContainerCounts(a.active.Load(), a.unavailable.Load())
}

func (a *Allocator) dataStatuses() []domain.DirectoryStatus {
	var out []domain.DirectoryStatus
	for _, st := range a.space.Statuses() {
		if !st.Directory.IsWAL {
			out = append(out, st)
		}
	}
	return out
}
