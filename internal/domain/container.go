package domain

import (
	"fmt"
	"time"
)

// ContainerState is the lifecycle state of a block container
type ContainerState string

// Container states
const (
	ContainerActive      ContainerState = "active"
	ContainerFull        ContainerState = "full"
	ContainerUnavailable ContainerState = "unavailable"
)

// BlockContainer is an append-only unit of storage bound to one data directory.
// Containers are never destroyed here; the block format layer retires them.
type BlockContainer struct {
	ID        string
	Dir       string
	State     ContainerState
	LiveBytes uint64
	MaxBytes  uint64
	CreatedAt time.Time
	UpdatedAt time.Time
}

// NewBlockContainer creates an empty active container
func NewBlockContainer(id, dir string, maxBytes uint64) *BlockContainer {
	now := time.Now()
	return &BlockContainer{
		ID:        id,
		Dir:       dir,
		State:     ContainerActive,
		MaxBytes:  maxBytes,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// IsActive returns true if the container accepts new blocks
func (c *BlockContainer) IsActive() bool {
	return c.State == ContainerActive
}

// HasRoom reports whether a block of the given size fits.
// An empty container always accepts its first block, even an oversized one.
func (c *BlockContainer) HasRoom(size uint64) bool {
	if !c.IsActive() || c.LiveBytes >= c.MaxBytes {
		return false
	}
	if c.LiveBytes == 0 {
		return true
	}
	return size <= c.MaxBytes-c.LiveBytes
}

// Append reserves size bytes at the end of the container and returns the
// offset of the new block. The container becomes full once MaxBytes is reached.
func (c *BlockContainer) Append(size uint64) (uint64, error) {
	if !c.HasRoom(size) {
		return 0, fmt.Errorf("container %s (%s, %d/%d bytes): %w",
			c.ID, c.State, c.LiveBytes, c.MaxBytes, ErrContainerNoRoom)
	}
	offset := c.LiveBytes
	c.LiveBytes += size
	c.UpdatedAt = time.Now()
	if c.LiveBytes >= c.MaxBytes {
		c.State = ContainerFull
	}
	return offset, nil
}

// MarkFull moves an active container to full
func (c *BlockContainer) MarkFull() error {
	return c.transition(ContainerActive, ContainerFull)
}

// MarkUnavailable moves an active container to unavailable
func (c *BlockContainer) MarkUnavailable() error {
	return c.transition(ContainerActive, ContainerUnavailable)
}

// MarkRecovered moves an unavailable container back to active
func (c *BlockContainer) MarkRecovered() error {
	return c.transition(ContainerUnavailable, ContainerActive)
}

func (c *BlockContainer) transition(from, to ContainerState) error {
	if c.State != from {
		return fmt.Errorf("container %s: %s -> %s: %w", c.ID, c.State, to, ErrInvalidStateTransition)
	}
	c.State = to
	c.UpdatedAt = time.Now()
	return nil
}
