package vo

import (
	"errors"
	"fmt"
	"strings"

	"github.com/dustin/go-humanize"
)

// ByteSize is an unsigned byte count used for reservations and free space.
// It parses human sizes ("1GiB", "512MB") as well as plain byte counts.
type ByteSize uint64

const (
	KiB ByteSize = 1024
	MiB ByteSize = 1024 * KiB
	GiB ByteSize = 1024 * MiB
	TiB ByteSize = 1024 * GiB
)

var (
	ErrEmptySize    = errors.New("byte size is empty")
	ErrNegativeSize = errors.New("byte size cannot be negative")
)

// ParseByteSize parses a byte size string
func ParseByteSize(s string) (ByteSize, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, ErrEmptySize
	}
	if strings.HasPrefix(s, "-") {
		return 0, fmt.Errorf("%q: %w", s, ErrNegativeSize)
	}
	n, err := humanize.ParseBytes(s)
	if err != nil {
		return 0, fmt.Errorf("parse byte size %q: %w", s, err)
	}
	return ByteSize(n), nil
}

// MustByteSize parses a byte size, panicking if invalid.
func MustByteSize(s string) ByteSize {
	b, err := ParseByteSize(s)
	if err != nil {
		panic(err)
	}
	return b
}

// Bytes returns the size in bytes.
func (b ByteSize) Bytes() uint64 {
	return uint64(b)
}

// SaturatingSub subtracts other, clamping at zero.
func (b ByteSize) SaturatingSub(other ByteSize) ByteSize {
	if other >= b {
		return 0
	}
	return b - other
}

// String returns an IEC formatted size, e.g. "1.0 GiB".
func (b ByteSize) String() string {
	return humanize.IBytes(uint64(b))
}
