//go:build !windows

package filesystem

import (
	"fmt"

	"github.com/vertextoedge/diskguard/internal/port"
	"golang.org/x/sys/unix"
)

// DiskUsage returns disk usage for the filesystem holding path
func (m *Manager) DiskUsage(path string) (*port.DiskUsage, error) {
	var stat unix.Statfs_t
	if err := unix.Statfs(path, &stat); err != nil {
		return nil, fmt.Errorf("failed to get disk stats for %s: %w", path, err)
	}

	bsize := uint64(stat.Bsize)
	total := uint64(stat.Blocks) * bsize
	free := uint64(stat.Bavail) * bsize
	used := total - uint64(stat.Bfree)*bsize

	var pct float64
	if total > 0 {
		pct = float64(used) / float64(total) * 100
	}

	return &port.DiskUsage{
		Total:   total,
		Used:    used,
		Free:    free,
		UsedPct: pct,
	}, nil
}
