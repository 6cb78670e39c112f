package walguard

import (
	"fmt"

	"github.com/vertextoedge/diskguard/internal/domain"
	"github.com/vertextoedge/diskguard/internal/domain/service"
	"github.com/vertextoedge/diskguard/internal/port"
	"go.uber.org/zap"
)

// Escalator terminates the process on a fatal condition
type Escalator interface {
	Escalate(fc *domain.FatalCondition)
}

// Guard gates every WAL segment preallocation on the cached free space of
// the WAL directory. There is no fallback directory, so a refusal is always
// fatal.
type Guard struct {
	dir       domain.DataDirectory
	space     port.SpaceReader
	escalator Escalator
	logger    *zap.Logger
}

// New creates a new Guard for the WAL directory
func New(dir domain.DataDirectory, space port.SpaceReader, escalator Escalator, logger *zap.Logger) *Guard {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Guard{
		dir:       dir,
		space:     space,
		escalator: escalator,
		logger:    logger,
	}
}

// Dir returns the guarded WAL directory
func (g *Guard) Dir() domain.DataDirectory {
	return g.dir
}

// CheckBeforePreallocate returns nil if bytesNeeded can be written to the
// WAL directory without eating into its reserved margin. Otherwise it
// escalates and returns the *domain.FatalCondition it raised.
func (g *Guard) CheckBeforePreallocate(bytesNeeded uint64) error {
	sample, ok := g.space.Sample(g.dir.Path)

	var reason string
	switch {
	case !ok:
		reason = "wal directory has not been probed"
	case sample.Failed():
		reason = "wal directory free space is unknown"
	case service.ClassifyRequest(sample.FreeBytes, bytesNeeded, g.dir.ReservedBytes) == domain.ReservedExceeded:
		reason = fmt.Sprintf("preallocating %d bytes would leave the wal directory at or below its reserved margin", bytesNeeded)
	default:
		return nil
	}

	fc := &domain.FatalCondition{
		Kind:          domain.FatalWAL,
		Directory:     g.dir.Path,
		ReservedBytes: g.dir.ReservedBytes,
		FreeBytes:     sample.FreeBytes,
		BytesNeeded:   bytesNeeded,
		Reason:        reason,
		Directories:   g.space.Statuses(),
		Err:           sample.Err,
	}
	g.logger.Debug("wal preallocation refused",
		zap.String("dir", g.dir.Path),
		zap.Uint64("needed_bytes", bytesNeeded),
		zap.Uint64("free_bytes", sample.FreeBytes))
	g.escalator.Escalate(fc)
	return fc
}
