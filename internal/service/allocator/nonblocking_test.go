package allocator_test

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vertextoedge/diskguard/internal/domain"
	"github.com/vertextoedge/diskguard/internal/domain/service"
	"github.com/vertextoedge/diskguard/internal/service/allocator"
	"github.com/vertextoedge/diskguard/internal/service/monitor"
	"github.com/vertextoedge/diskguard/internal/service/walguard"
	"go.uber.org/zap"
)

// stallingQuerier answers normally until stall is set, then hangs every
// query until release is closed
type stallingQuerier struct {
	stall   atomic.Bool
	entered chan struct{}
	once    sync.Once
	release chan struct{}
}

func (q *stallingQuerier) FreeBytes(path string) (uint64, error) {
	if q.stall.Load() {
		q.once.Do(func() { close(q.entered) })
		<-q.release
	}
	return 1 << 30, nil
}

type nopEscalator struct{}

func (nopEscalator) Escalate(*domain.FatalCondition) {}

func TestAllocateBlock_DoesNotWaitForSlowRefresh(t *testing.T) {
	dirs := []domain.DataDirectory{
		{Path: "/data/a", ReservedBytes: 1 << 20},
		{Path: "/wal", ReservedBytes: 1 << 20, IsWAL: true},
	}
	q := &stallingQuerier{entered: make(chan struct{}), release: make(chan struct{})}
	mon := monitor.New(nil, service.NewReservationPolicy(dirs), q, nil, nil, nil, zap.NewNop())
	alloc := allocator.New(nil, dirs, mon, nil, nil, zap.NewNop())
	guard := walguard.New(dirs[1], mon, nopEscalator{}, zap.NewNop())

	mon.Refresh()

	q.stall.Store(true)
	done := make(chan struct{})
	go func() {
		defer close(done)
		mon.Refresh()
	}()
	select {
	case <-q.entered:
	case <-time.After(2 * time.Second):
		t.Fatal("refresh never reached the filesystem")
	}
	defer func() {
		close(q.release)
		<-done
	}()

	start := time.Now()
	h, err := alloc.AllocateBlock(4096, domain.PurposeFlush)
	require.NoError(t, err)
	assert.Equal(t, "/data/a", h.Dir)
	require.NoError(t, guard.CheckBeforePreallocate(1<<20))
	assert.Less(t, time.Since(start), 50*time.Millisecond)

	select {
	case <-done:
		t.Fatal("refresh finished before release")
	default:
	}
}
