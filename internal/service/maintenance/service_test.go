package maintenance

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/vertextoedge/diskguard/internal/domain"
	"go.uber.org/zap"
)

// mockAllocator implements Allocator for testing
type mockAllocator struct {
	mu         sync.Mutex
	err        error
	allocs     []domain.AllocationPurpose
	containers []domain.BlockContainer
	retired    []string
}

func (m *mockAllocator) AllocateBlock(size uint64, purpose domain.AllocationPurpose) (domain.BlockHandle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.allocs = append(m.allocs, purpose)
	if m.err != nil {
		return domain.BlockHandle{}, m.err
	}
	return domain.BlockHandle{ContainerID: "c1", Dir: "/data/a", Length: size}, nil
}

func (m *mockAllocator) Containers() []domain.BlockContainer {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.containers
}

func (m *mockAllocator) DrainRetired() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := m.retired
	m.retired = nil
	return out
}

func (m *mockAllocator) RequeueRetired(ids ...string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.retired = append(m.retired, ids...)
}

func (m *mockAllocator) allocCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.allocs)
}

// mockEscalator escalates NoSpace on critical purposes like the real one
type mockEscalator struct {
	mu          sync.Mutex
	handled     int
	terminating chan struct{}
	once        sync.Once
}

func newMockEscalator() *mockEscalator {
	return &mockEscalator{terminating: make(chan struct{})}
}

func (m *mockEscalator) HandleAllocationError(purpose domain.AllocationPurpose, err error) error {
	m.mu.Lock()
	m.handled++
	m.mu.Unlock()
	var nse *domain.NoSpaceError
	if errors.As(err, &nse) && purpose.Critical() {
		m.once.Do(func() { close(m.terminating) })
		return domain.NewBlockFatalCondition(nse)
	}
	return err
}

func (m *mockEscalator) Terminating() <-chan struct{} {
	return m.terminating
}

// mockOp implements port.MaintenanceOp
type mockOp struct {
	mu        sync.Mutex
	name      string
	purpose   domain.AllocationPurpose
	need      uint64
	performed int
	err       error
}

func (o *mockOp) Name() string                       { return o.name }
func (o *mockOp) Purpose() domain.AllocationPurpose  { return o.purpose }
func (o *mockOp) BytesNeeded() uint64                { return o.need }
func (o *mockOp) Perform(context.Context, domain.BlockHandle) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.performed++
	return o.err
}

func (o *mockOp) performedCount() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.performed
}

// mockRepo implements port.ContainerRepository
type mockRepo struct {
	mu        sync.Mutex
	saved     [][]domain.BlockContainer
	deleted   []string
	meta      map[string]string
	saveErr   error
	deleteErr error
}

func newMockRepo() *mockRepo {
	return &mockRepo{meta: make(map[string]string)}
}

func (r *mockRepo) SaveContainers(_ context.Context, c []domain.BlockContainer) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.saveErr != nil {
		return r.saveErr
	}
	r.saved = append(r.saved, c)
	return nil
}

func (r *mockRepo) ListContainers(context.Context) ([]domain.BlockContainer, error) {
	return nil, nil
}

func (r *mockRepo) DeleteContainer(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.deleted = append(r.deleted, id)
	return r.deleteErr
}

func (r *mockRepo) SetMeta(_ context.Context, key, value string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.meta[key] = value
	return nil
}

func (r *mockRepo) Ping(context.Context) error { return nil }
func (r *mockRepo) Close() error               { return nil }

func (r *mockRepo) saveCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.saved)
}

func TestService_New(t *testing.T) {
	s := New(nil, &mockAllocator{}, newMockEscalator(), nil, nil)
	if s.config.PollingInterval != 250*time.Millisecond {
		t.Errorf("PollingInterval = %v, want %v", s.config.PollingInterval, 250*time.Millisecond)
	}
	if s.config.CheckpointInterval != 30*time.Second {
		t.Errorf("CheckpointInterval = %v, want %v", s.config.CheckpointInterval, 30*time.Second)
	}

	s = New(&Config{PollingInterval: time.Second}, &mockAllocator{}, newMockEscalator(), nil, zap.NewNop())
	if s.config.ShutdownTimeout != 5*time.Second {
		t.Errorf("ShutdownTimeout = %v, want %v", s.config.ShutdownTimeout, 5*time.Second)
	}
}

func TestService_RunOnce(t *testing.T) {
	alloc := &mockAllocator{}
	s := New(nil, alloc, newMockEscalator(), nil, zap.NewNop())

	flush := &mockOp{name: "flush", purpose: domain.PurposeFlush, need: 1024}
	idle := &mockOp{name: "compaction", purpose: domain.PurposeCompaction}
	failing := &mockOp{name: "broken", purpose: domain.PurposeFlush, need: 1, err: errors.New("write failed")}
	s.Register(flush)
	s.Register(idle)
	s.Register(failing)

	s.RunOnce(context.Background())

	if got := flush.performedCount(); got != 1 {
		t.Errorf("flush performed = %d, want 1", got)
	}
	if got := idle.performedCount(); got != 0 {
		t.Errorf("idle op performed = %d, want 0", got)
	}
	if got := failing.performedCount(); got != 1 {
		t.Errorf("failing op performed = %d, want 1", got)
	}
	if got := alloc.allocCount(); got != 2 {
		t.Errorf("allocations = %d, want 2", got)
	}
	if got := s.Cycles(); got != 1 {
		t.Errorf("Cycles() = %d, want 1", got)
	}
}

func TestService_RunOnce_CriticalNoSpaceEscalates(t *testing.T) {
	alloc := &mockAllocator{err: &domain.NoSpaceError{Purpose: domain.PurposeFlush}}
	esc := newMockEscalator()
	s := New(nil, alloc, esc, nil, zap.NewNop())

	first := &mockOp{name: "flush", purpose: domain.PurposeFlush, need: 1024}
	second := &mockOp{name: "compaction", purpose: domain.PurposeCompaction, need: 1024}
	s.Register(first)
	s.Register(second)

	s.RunOnce(context.Background())

	select {
	case <-esc.Terminating():
	default:
		t.Fatal("escalator not terminating after critical NoSpace")
	}
	if got := alloc.allocCount(); got != 1 {
		t.Errorf("allocations = %d, want 1 (cycle ends on fatal)", got)
	}

	// Later cycles do nothing once terminating.
	s.RunOnce(context.Background())
	if got := alloc.allocCount(); got != 1 {
		t.Errorf("allocations after terminating = %d, want 1", got)
	}
}

func TestService_RunOnce_WriteNoSpaceContinues(t *testing.T) {
	alloc := &mockAllocator{err: &domain.NoSpaceError{Purpose: domain.PurposeWrite}}
	esc := newMockEscalator()
	s := New(nil, alloc, esc, nil, zap.NewNop())

	s.Register(&mockOp{name: "a", purpose: domain.PurposeWrite, need: 1})
	s.Register(&mockOp{name: "b", purpose: domain.PurposeWrite, need: 1})

	s.RunOnce(context.Background())

	if got := alloc.allocCount(); got != 2 {
		t.Errorf("allocations = %d, want 2", got)
	}
	select {
	case <-esc.Terminating():
		t.Fatal("write path NoSpace must not terminate")
	default:
	}
}

func TestService_Checkpoint(t *testing.T) {
	alloc := &mockAllocator{
		containers: []domain.BlockContainer{{ID: "c1", Dir: "/data/a"}},
		retired:    []string{"old1", "old2"},
	}
	repo := newMockRepo()
	repo.deleteErr = domain.ErrContainerNotFound
	s := New(nil, alloc, newMockEscalator(), repo, zap.NewNop())

	if err := s.Checkpoint(context.Background()); err != nil {
		t.Fatalf("Checkpoint() error = %v", err)
	}

	if got := repo.saveCount(); got != 1 {
		t.Errorf("saves = %d, want 1", got)
	}
	if len(repo.deleted) != 2 {
		t.Errorf("deleted = %v, want 2 ids", repo.deleted)
	}
	if repo.meta[MetaLastCheckpoint] == "" {
		t.Error("last checkpoint time not recorded")
	}
	if len(alloc.DrainRetired()) != 0 {
		t.Error("retired ids not drained")
	}
}

func TestService_Checkpoint_DeleteFailureRetried(t *testing.T) {
	alloc := &mockAllocator{retired: []string{"old1", "old2"}}
	repo := newMockRepo()
	repo.deleteErr = errors.New("database is locked")
	s := New(nil, alloc, newMockEscalator(), repo, zap.NewNop())

	if err := s.Checkpoint(context.Background()); err != nil {
		t.Fatalf("Checkpoint() error = %v", err)
	}

	alloc.mu.Lock()
	pending := append([]string(nil), alloc.retired...)
	alloc.mu.Unlock()
	if len(pending) != 2 || pending[0] != "old1" || pending[1] != "old2" {
		t.Fatalf("pending retired = %v, want [old1 old2]", pending)
	}

	// The next checkpoint tries again and clears them once the delete works.
	repo.mu.Lock()
	repo.deleteErr = nil
	repo.deleted = nil
	repo.mu.Unlock()
	if err := s.Checkpoint(context.Background()); err != nil {
		t.Fatalf("Checkpoint() error = %v", err)
	}
	if len(repo.deleted) != 2 {
		t.Errorf("deleted = %v, want old1 and old2", repo.deleted)
	}
	if len(alloc.DrainRetired()) != 0 {
		t.Error("retired ids still pending after successful delete")
	}
}

func TestService_Checkpoint_SaveError(t *testing.T) {
	repo := newMockRepo()
	repo.saveErr = errors.New("disk I/O error")
	s := New(nil, &mockAllocator{}, newMockEscalator(), repo, zap.NewNop())

	if err := s.Checkpoint(context.Background()); err == nil {
		t.Error("Checkpoint() error = nil, want error")
	}
}

func TestService_Checkpoint_NoRepo(t *testing.T) {
	s := New(nil, &mockAllocator{}, newMockEscalator(), nil, zap.NewNop())
	if err := s.Checkpoint(context.Background()); err != nil {
		t.Errorf("Checkpoint() error = %v, want nil", err)
	}
}

func TestService_StartStop(t *testing.T) {
	repo := newMockRepo()
	op := &mockOp{name: "flush", purpose: domain.PurposeFlush, need: 1}
	s := New(&Config{
		PollingInterval:    5 * time.Millisecond,
		CheckpointInterval: 10 * time.Millisecond,
	}, &mockAllocator{}, newMockEscalator(), repo, zap.NewNop())
	s.Register(op)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- s.Start(ctx)
	}()

	time.Sleep(50 * time.Millisecond)

	s.Stop()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Start() returned error: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Start() did not return after Stop()")
	}

	if op.performedCount() == 0 {
		t.Error("op never performed")
	}
	if repo.saveCount() < 2 {
		t.Errorf("saves = %d, want periodic and final checkpoint", repo.saveCount())
	}
}

func TestService_StopsWhenTerminating(t *testing.T) {
	repo := newMockRepo()
	esc := newMockEscalator()
	s := New(&Config{PollingInterval: 5 * time.Millisecond, CheckpointInterval: time.Hour},
		&mockAllocator{}, esc, repo, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- s.Start(ctx) }()

	time.Sleep(10 * time.Millisecond)
	esc.once.Do(func() { close(esc.terminating) })

	// The loop exits; Start still waits for its context.
	time.Sleep(20 * time.Millisecond)
	cycles := s.Cycles()
	time.Sleep(20 * time.Millisecond)
	if s.Cycles() != cycles {
		t.Error("polling continued after terminating")
	}

	cancel()
	<-done
	if repo.saveCount() != 0 {
		t.Error("final checkpoint must be skipped while terminating")
	}
}

func TestService_DoubleStart(t *testing.T) {
	s := New(&Config{PollingInterval: time.Hour}, &mockAllocator{}, newMockEscalator(), nil, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		s.Start(ctx)
	}()
	time.Sleep(10 * time.Millisecond)

	if err := s.Start(ctx); err == nil {
		t.Error("second Start() should return error")
	}
}
