package port

import (
	"context"

	"github.com/vertextoedge/diskguard/internal/domain"
)

// ContainerRepository persists the block container catalog
type ContainerRepository interface {
	// SaveContainers upserts every container in one transaction
	SaveContainers(ctx context.Context, containers []domain.BlockContainer) error

	// ListContainers returns all stored containers ordered by creation time
	ListContainers(ctx context.Context) ([]domain.BlockContainer, error)

	// DeleteContainer removes a retired container
	DeleteContainer(ctx context.Context, id string) error

	// SetMeta stores a bookkeeping value
	SetMeta(ctx context.Context, key, value string) error

	// Ping checks the connection
	Ping(ctx context.Context) error

	// Close closes the underlying database
	Close() error
}
