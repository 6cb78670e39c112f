package node

import (
	"context"
	"sync"

	"github.com/vertextoedge/diskguard/internal/domain"
	"github.com/vertextoedge/diskguard/internal/port"
	"go.uber.org/zap"
)

// memstore counts the bytes accepted by Write that have not been flushed
// to a block yet
type memstore struct {
	mu       sync.Mutex
	buffered uint64
	flushed  uint64
}

func newMemstore() *memstore {
	return &memstore{}
}

func (m *memstore) Add(n uint64) {
	m.mu.Lock()
	m.buffered += n
	m.mu.Unlock()
}

func (m *memstore) Size() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.buffered
}

// Drain removes up to n bytes and returns how many were removed
func (m *memstore) Drain(n uint64) uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	if n > m.buffered {
		n = m.buffered
	}
	m.buffered -= n
	m.flushed += n
	return n
}

// flushOp moves buffered writes into block space once threshold bytes
// have accumulated
type flushOp struct {
	buffer    *memstore
	threshold uint64
	logger    *zap.Logger
}

var _ port.MaintenanceOp = (*flushOp)(nil)

func newFlushOp(buffer *memstore, threshold uint64, logger *zap.Logger) *flushOp {
	if threshold == 0 {
		threshold = 1
	}
	return &flushOp{buffer: buffer, threshold: threshold, logger: logger}
}

func (f *flushOp) Name() string {
	return "memstore-flush"
}

func (f *flushOp) Purpose() domain.AllocationPurpose {
	return domain.PurposeFlush
}

func (f *flushOp) BytesNeeded() uint64 {
	size := f.buffer.Size()
	if size < f.threshold {
		return 0
	}
	return size
}

func (f *flushOp) Perform(ctx context.Context, block domain.BlockHandle) error {
	n := f.buffer.Drain(block.Length)
	f.logger.Debug("memstore flushed",
		zap.String("container", block.ContainerID),
		zap.String("dir", block.Dir),
		zap.Uint64("offset", block.Offset),
		zap.Uint64("bytes", n))
	return nil
}
