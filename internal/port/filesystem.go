package port

import (
	"os"
)

// DiskUsage represents disk usage statistics
type DiskUsage struct {
	Total   uint64  // Total disk space in bytes
	Used    uint64  // Used disk space in bytes
	Free    uint64  // Free disk space in bytes
	UsedPct float64 // Used percentage (0-100)
}

// FileSystem defines the filesystem operations used by the WAL writer and
// the probe loop
type FileSystem interface {
	SpaceQuerier

	// DiskUsage returns disk usage statistics for the filesystem holding path
	DiskUsage(path string) (*DiskUsage, error)

	// EnsureDir creates a directory and its parents
	EnsureDir(path string) error

	// CreateFile creates a new file, failing if it already exists
	CreateFile(path string) (*os.File, error)

	// Preallocate reserves length bytes at offset in f
	Preallocate(f *os.File, offset, length int64) error
}
