package event

import (
	"time"
)

// DomainEvent is the interface for all domain events
type DomainEvent interface {
	// EventName returns the name of the event
	EventName() string
	// OccurredAt returns when the event occurred
	OccurredAt() time.Time
}

// BaseEvent provides common fields for all events
type BaseEvent struct {
	Timestamp time.Time
}

// OccurredAt returns when the event occurred
func (e BaseEvent) OccurredAt() time.Time {
	return e.Timestamp
}

// Event names
const (
	NameDirectoryUnavailable   = "directory.unavailable"
	NameDirectoryRecovered     = "directory.recovered"
	NameContainersTransitioned = "containers.transitioned"
	NameEscalatorStateChanged  = "escalator.state_changed"
)

// DirectoryUnavailable is raised by a probe when a directory drops to or
// below its reserved margin, or its free space cannot be read.
type DirectoryUnavailable struct {
	BaseEvent
	Path          string
	IsWAL         bool
	FreeBytes     uint64
	ReservedBytes uint64
	QueryError    string
}

// EventName returns the event name
func (e DirectoryUnavailable) EventName() string {
	return NameDirectoryUnavailable
}

// NewDirectoryUnavailable creates a new DirectoryUnavailable event
func NewDirectoryUnavailable(path string, isWAL bool, free, reserved uint64, queryErr error) DirectoryUnavailable {
	e := DirectoryUnavailable{
		BaseEvent:     BaseEvent{Timestamp: time.Now()},
		Path:          path,
		IsWAL:         isWAL,
		FreeBytes:     free,
		ReservedBytes: reserved,
	}
	if queryErr != nil {
		e.QueryError = queryErr.Error()
	}
	return e
}

// DirectoryRecovered is raised by a probe when a directory rises back above
// its reserved margin.
type DirectoryRecovered struct {
	BaseEvent
	Path          string
	IsWAL         bool
	FreeBytes     uint64
	ReservedBytes uint64
}

// EventName returns the event name
func (e DirectoryRecovered) EventName() string {
	return NameDirectoryRecovered
}

// NewDirectoryRecovered creates a new DirectoryRecovered event
func NewDirectoryRecovered(path string, isWAL bool, free, reserved uint64) DirectoryRecovered {
	return DirectoryRecovered{
		BaseEvent:     BaseEvent{Timestamp: time.Now()},
		Path:          path,
		IsWAL:         isWAL,
		FreeBytes:     free,
		ReservedBytes: reserved,
	}
}

// ContainersTransitioned is raised by the allocator after the containers of a
// directory changed state because of a directory event.
type ContainersTransitioned struct {
	BaseEvent
	Dir   string
	To    string
	Count int
}

// EventName returns the event name
func (e ContainersTransitioned) EventName() string {
	return NameContainersTransitioned
}

// NewContainersTransitioned creates a new ContainersTransitioned event
func NewContainersTransitioned(dir, to string, count int) ContainersTransitioned {
	return ContainersTransitioned{
		BaseEvent: BaseEvent{Timestamp: time.Now()},
		Dir:       dir,
		To:        to,
		Count:     count,
	}
}

// EscalatorStateChanged is raised when the node moves between normal and
// degraded operation.
type EscalatorStateChanged struct {
	BaseEvent
	From string
	To   string
}

// EventName returns the event name
func (e EscalatorStateChanged) EventName() string {
	return NameEscalatorStateChanged
}

// NewEscalatorStateChanged creates a new EscalatorStateChanged event
func NewEscalatorStateChanged(from, to string) EscalatorStateChanged {
	return EscalatorStateChanged{
		BaseEvent: BaseEvent{Timestamp: time.Now()},
		From:      from,
		To:        to,
	}
}
