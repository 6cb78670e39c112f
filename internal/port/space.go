package port

import "github.com/vertextoedge/diskguard/internal/domain"

// SpaceQuerier reads the free space of a directory from the filesystem.
// Calls may block on device I/O and are only made by the probe loop.
type SpaceQuerier interface {
	// FreeBytes returns the bytes available to unprivileged writers
	FreeBytes(path string) (uint64, error)
}

// SpaceReader exposes the cached results of the latest completed probe.
// Implementations never touch the filesystem.
type SpaceReader interface {
	// Sample returns the latest sample of a directory
	Sample(path string) (domain.DiskSpaceSample, bool)

	// Statuses returns the classification of every configured directory
	Statuses() []domain.DirectoryStatus
}
