package service

import (
	"github.com/vertextoedge/diskguard/internal/domain"
	"github.com/vertextoedge/diskguard/internal/domain/vo"
)

// Classify decides whether a directory with the given free bytes is still
// usable. It is RESERVED_EXCEEDED iff free <= reserved.
func Classify(freeBytes, reservedBytes uint64) domain.Availability {
	if freeBytes <= reservedBytes {
		return domain.ReservedExceeded
	}
	return domain.Available
}

// ClassifyRequest classifies the free space left after consuming neededBytes.
func ClassifyRequest(freeBytes, neededBytes, reservedBytes uint64) domain.Availability {
	left := vo.ByteSize(freeBytes).SaturatingSub(vo.ByteSize(neededBytes))
	return Classify(left.Bytes(), reservedBytes)
}

// ReservationPolicy is a domain service holding the reserved margins of every
// configured directory. It is immutable after construction.
type ReservationPolicy struct {
	dirs   []domain.DataDirectory
	byPath map[string]domain.DataDirectory
}

// NewReservationPolicy creates a policy for the given directories
func NewReservationPolicy(dirs []domain.DataDirectory) *ReservationPolicy {
	p := &ReservationPolicy{
		dirs:   make([]domain.DataDirectory, len(dirs)),
		byPath: make(map[string]domain.DataDirectory, len(dirs)),
	}
	copy(p.dirs, dirs)
	for _, d := range dirs {
		p.byPath[d.Path] = d
	}
	return p
}

// Directories returns all directories in configuration order
func (p *ReservationPolicy) Directories() []domain.DataDirectory {
	out := make([]domain.DataDirectory, len(p.dirs))
	copy(out, p.dirs)
	return out
}

// DataDirectories returns the block directories in configuration order
func (p *ReservationPolicy) DataDirectories() []domain.DataDirectory {
	out := make([]domain.DataDirectory, 0, len(p.dirs))
	for _, d := range p.dirs {
		if !d.IsWAL {
			out = append(out, d)
		}
	}
	return out
}

// WALDirectory returns the write-ahead log directory
func (p *ReservationPolicy) WALDirectory() (domain.DataDirectory, bool) {
	for _, d := range p.dirs {
		if d.IsWAL {
			return d, true
		}
	}
	return domain.DataDirectory{}, false
}

// Directory looks up a directory by path
func (p *ReservationPolicy) Directory(path string) (domain.DataDirectory, bool) {
	d, ok := p.byPath[path]
	return d, ok
}

// Evaluate classifies a probe sample. A failed probe is never available.
func (p *ReservationPolicy) Evaluate(sample domain.DiskSpaceSample) domain.Availability {
	d, ok := p.byPath[sample.Path]
	if !ok || sample.Failed() {
		return domain.ReservedExceeded
	}
	return Classify(sample.FreeBytes, d.ReservedBytes)
}

// ReservedFor returns the reserved margin of a directory
func (p *ReservationPolicy) ReservedFor(path string) (uint64, bool) {
	d, ok := p.byPath[path]
	return d.ReservedBytes, ok
}
