package port

import (
	"context"

	"github.com/vertextoedge/diskguard/internal/domain"
)

// MaintenanceOp is a background task (flush or compaction) that needs block
// space to make progress. The algorithm itself lives outside this module.
type MaintenanceOp interface {
	// Name identifies the op in logs
	Name() string

	// Purpose is the allocation purpose used for its blocks
	Purpose() domain.AllocationPurpose

	// BytesNeeded returns the block size the op wants to write next,
	// or 0 if it has nothing to do
	BytesNeeded() uint64

	// Perform writes into the allocated block
	Perform(ctx context.Context, block domain.BlockHandle) error
}
