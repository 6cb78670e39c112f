//go:build windows

package filesystem

import (
	"fmt"

	"github.com/vertextoedge/diskguard/internal/port"
	"golang.org/x/sys/windows"
)

// DiskUsage returns disk usage for the volume holding path
func (m *Manager) DiskUsage(path string) (*port.DiskUsage, error) {
	var freeBytesAvailable, totalNumberOfBytes, totalNumberOfFreeBytes uint64

	pathPtr, err := windows.UTF16PtrFromString(path)
	if err != nil {
		return nil, fmt.Errorf("failed to convert path: %w", err)
	}

	if err := windows.GetDiskFreeSpaceEx(pathPtr, &freeBytesAvailable, &totalNumberOfBytes, &totalNumberOfFreeBytes); err != nil {
		return nil, fmt.Errorf("failed to get disk stats for %s: %w", path, err)
	}

	used := totalNumberOfBytes - totalNumberOfFreeBytes
	var pct float64
	if totalNumberOfBytes > 0 {
		pct = float64(used) / float64(totalNumberOfBytes) * 100
	}

	return &port.DiskUsage{
		Total:   totalNumberOfBytes,
		Used:    used,
		Free:    freeBytesAvailable,
		UsedPct: pct,
	}, nil
}
