package wal

import (
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/vertextoedge/diskguard/internal/domain"
	"github.com/vertextoedge/diskguard/internal/metrics"
	"github.com/vertextoedge/diskguard/internal/port"
	"go.uber.org/zap"
)

const (
	segmentPrefix = "wal-"
	headerSize    = 9 // length(4) + crc(4) + flags(1)
)

var (
	ErrClosed    = errors.New("wal is closed")
	ErrCorrupted = errors.New("wal segment is corrupted")
	crc32Table   = crc32.MakeTable(crc32.Castagnoli)
)

// SpaceGuard approves every segment preallocation
type SpaceGuard interface {
	CheckBeforePreallocate(bytesNeeded uint64) error
}

// Config contains WAL writer configuration
type Config struct {
	Dir         string
	SegmentSize uint64
	Compression Compression
	// SyncWrites fsyncs the segment after every append
	SyncWrites bool
}

// Position locates a record
type Position struct {
	Segment uint64
	Offset  int64
}

// Writer appends records to preallocated, numbered log segments
type Writer struct {
	config  *Config
	fs      port.FileSystem
	guard   SpaceGuard
	metrics *metrics.Metrics
	logger  *zap.Logger
	codec   *codec

	mu        sync.Mutex
	seq       uint64
	file      *os.File
	offset    int64
	allocated int64
	closed    bool
}

// Open prepares the WAL directory. The first segment is created by the
// first append, so nothing is preallocated before space has been probed.
func Open(cfg *Config, fs port.FileSystem, guard SpaceGuard, m *metrics.Metrics, logger *zap.Logger) (*Writer, error) {
	if cfg.SegmentSize == 0 {
		return nil, fmt.Errorf("wal segment size must be > 0: %w", domain.ErrInvalidInput)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := fs.EnsureDir(cfg.Dir); err != nil {
		return nil, err
	}

	segments, err := Segments(cfg.Dir)
	if err != nil {
		return nil, err
	}
	var last uint64
	if len(segments) > 0 {
		last = segments[len(segments)-1]
	}

	c, err := newCodec(cfg.Compression)
	if err != nil {
		return nil, fmt.Errorf("failed to create wal codec: %w", err)
	}

	return &Writer{
		config:  cfg,
		fs:      fs,
		guard:   guard,
		metrics: m,
		logger:  logger,
		codec:   c,
		seq:     last,
	}, nil
}

// Append writes one record. A refused preallocation returns the fatal
// condition raised by the guard.
func (w *Writer) Append(payload []byte) (Position, error) {
	if len(payload) == 0 {
		return Position{}, fmt.Errorf("empty wal record: %w", domain.ErrInvalidInput)
	}
	data, flags := w.codec.encode(payload)
	frameLen := int64(headerSize + len(data))

	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return Position{}, ErrClosed
	}
	if w.file == nil || w.offset+frameLen > w.allocated {
		if err := w.rollLocked(frameLen); err != nil {
			return Position{}, err
		}
	}

	frame := make([]byte, frameLen)
	binary.LittleEndian.PutUint32(frame[0:4], uint32(len(data)))
	binary.LittleEndian.PutUint32(frame[4:8], crc32.Checksum(data, crc32Table))
	frame[8] = flags
	copy(frame[headerSize:], data)

	if _, err := w.file.WriteAt(frame, w.offset); err != nil {
		return Position{}, fmt.Errorf("failed to write wal record: %w", err)
	}
	if w.config.SyncWrites {
		if err := w.file.Sync(); err != nil {
			return Position{}, fmt.Errorf("failed to sync wal segment: %w", err)
		}
	}

	pos := Position{Segment: w.seq, Offset: w.offset}
	w.offset += frameLen
	return pos, nil
}

// rollLocked seals the current segment and opens the next one, asking the
// guard before preallocating it.
func (w *Writer) rollLocked(minBytes int64) error {
	size := int64(w.config.SegmentSize)
	if minBytes > size {
		size = minBytes
	}
	if err := w.guard.CheckBeforePreallocate(uint64(size)); err != nil {
		return err
	}

	if err := w.sealLocked(); err != nil {
		return err
	}

	seq := w.seq + 1
	path := SegmentPath(w.config.Dir, seq)
	f, err := w.fs.CreateFile(path)
	if err != nil {
		return err
	}
	if err := w.fs.Preallocate(f, 0, size); err != nil {
		f.Close()
		os.Remove(path)
		return err
	}

	w.seq = seq
	w.file = f
	w.offset = 0
	w.allocated = size
	w.metrics.IncWALSegment()
	w.logger.Debug("wal segment created",
		zap.String("path", path),
		zap.Int64("preallocated_bytes", size))
	return nil
}

// sealLocked trims the unused preallocated tail and closes the segment
func (w *Writer) sealLocked() error {
	if w.file == nil {
		return nil
	}
	f := w.file
	w.file = nil
	if err := f.Truncate(w.offset); err != nil {
		f.Close()
		return fmt.Errorf("failed to trim wal segment: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return fmt.Errorf("failed to sync wal segment: %w", err)
	}
	return f.Close()
}

// Sync flushes the current segment
func (w *Writer) Sync() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.file == nil {
		return nil
	}
	return w.file.Sync()
}

// Segment returns the sequence number of the current segment, 0 before the
// first append
func (w *Writer) Segment() uint64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.file == nil {
		return 0
	}
	return w.seq
}

// Close seals the current segment
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil
	}
	w.closed = true
	err := w.sealLocked()
	w.codec.close()
	return err
}

// SegmentPath returns the file name of segment seq
func SegmentPath(dir string, seq uint64) string {
	return filepath.Join(dir, fmt.Sprintf("%s%09d", segmentPrefix, seq))
}

// Segments lists the segment numbers found in dir in ascending order
func Segments(dir string) ([]uint64, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to list wal dir: %w", err)
	}

	var out []uint64
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasPrefix(name, segmentPrefix) {
			continue
		}
		var seq uint64
		if _, err := fmt.Sscanf(name[len(segmentPrefix):], "%d", &seq); err != nil {
			continue
		}
		out = append(out, seq)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, nil
}

// ReadSegment returns the records of one segment. Reading stops at the
// first zeroed header, which marks the unused preallocated tail.
func ReadSegment(path string) ([][]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	c, err := newCodec(CompressionNone)
	if err != nil {
		return nil, err
	}
	defer c.close()

	var records [][]byte
	header := make([]byte, headerSize)
	for {
		if _, err := io.ReadFull(f, header); err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				return records, nil
			}
			return records, err
		}
		flags := header[8]
		if flags&flagRecord == 0 {
			return records, nil
		}

		n := binary.LittleEndian.Uint32(header[0:4])
		data := make([]byte, n)
		if _, err := io.ReadFull(f, data); err != nil {
			return records, fmt.Errorf("%s: truncated record: %w", path, ErrCorrupted)
		}
		if crc32.Checksum(data, crc32Table) != binary.LittleEndian.Uint32(header[4:8]) {
			return records, fmt.Errorf("%s: checksum mismatch: %w", path, ErrCorrupted)
		}

		payload, err := c.decode(data, flags)
		if err != nil {
			return records, fmt.Errorf("%s: %v: %w", path, err, ErrCorrupted)
		}
		records = append(records, payload)
	}
}
