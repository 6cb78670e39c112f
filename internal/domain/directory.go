package domain

import "time"

// DataDirectory is a configured filesystem path that holds either block
// containers or the write-ahead log. It never changes after startup.
type DataDirectory struct {
	Path          string
	ReservedBytes uint64
	IsWAL         bool
}

// Kind returns "wal" or "data"
func (d DataDirectory) Kind() string {
	if d.IsWAL {
		return "wal"
	}
	return "data"
}

// DiskSpaceSample is the result of one free space probe of a directory.
// Samples are replaced on every probe and never modified afterwards.
type DiskSpaceSample struct {
	Path       string
	FreeBytes  uint64
	SampledAt  time.Time
	Overridden bool
	Err        error
}

// Failed returns true if the probe could not read the free space
func (s DiskSpaceSample) Failed() bool {
	return s.Err != nil
}

// Availability is the classification of a directory against its reservation
type Availability int

const (
	// Available means free bytes are above the reserved margin
	Available Availability = iota
	// ReservedExceeded means free bytes are at or below the reserved margin
	ReservedExceeded
)

// String returns the availability name
func (a Availability) String() string {
	switch a {
	case Available:
		return "AVAILABLE"
	case ReservedExceeded:
		return "RESERVED_EXCEEDED"
	default:
		return "UNKNOWN"
	}
}

// DirectoryStatus combines a directory, its latest sample and the
// classification produced from that sample.
type DirectoryStatus struct {
	Directory    DataDirectory
	Sample       DiskSpaceSample
	Availability Availability
}
