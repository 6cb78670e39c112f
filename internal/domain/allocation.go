package domain

// AllocationPurpose identifies who asks for block space
type AllocationPurpose string

// Allocation purposes
const (
	PurposeWrite      AllocationPurpose = "write"
	PurposeFlush      AllocationPurpose = "flush"
	PurposeCompaction AllocationPurpose = "compaction"
)

// Critical returns true when failing the allocation would stall memory
// bounding background work.
func (p AllocationPurpose) Critical() bool {
	return p == PurposeFlush || p == PurposeCompaction
}

// BlockHandle locates a newly allocated block
type BlockHandle struct {
	ContainerID string
	Dir         string
	Offset      uint64
	Length      uint64
}
