package filesystem

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/vertextoedge/diskguard/internal/port"
)

// Manager handles local filesystem operations
type Manager struct {
	dirPerm  os.FileMode
	filePerm os.FileMode
}

// Ensure Manager implements port.FileSystem
var _ port.FileSystem = (*Manager)(nil)

// NewManager creates a new filesystem manager
func NewManager() *Manager {
	return &Manager{
		dirPerm:  0755,
		filePerm: 0644,
	}
}

// FreeBytes returns the bytes available to unprivileged writers on the
// filesystem holding path
func (m *Manager) FreeBytes(path string) (uint64, error) {
	usage, err := m.DiskUsage(path)
	if err != nil {
		return 0, err
	}
	return usage.Free, nil
}

// EnsureDir creates a directory and its parents
func (m *Manager) EnsureDir(path string) error {
	if err := os.MkdirAll(path, m.dirPerm); err != nil {
		return fmt.Errorf("failed to create dir %s: %w", path, err)
	}
	return nil
}

// CreateFile creates a new file, failing if it already exists
func (m *Manager) CreateFile(path string) (*os.File, error) {
	if err := m.EnsureDir(filepath.Dir(path)); err != nil {
		return nil, err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_RDWR, m.filePerm)
	if err != nil {
		return nil, fmt.Errorf("failed to create file %s: %w", path, err)
	}
	return f, nil
}

// Preallocate reserves length bytes at offset in f
func (m *Manager) Preallocate(f *os.File, offset, length int64) error {
	if length <= 0 {
		return nil
	}
	if err := preallocate(f, offset, length); err != nil {
		return fmt.Errorf("failed to preallocate %d bytes in %s: %w", length, f.Name(), err)
	}
	return nil
}
