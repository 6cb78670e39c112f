//go:build !linux

package filesystem

import "os"

func preallocate(f *os.File, offset, length int64) error {
	return extend(f, offset, length)
}
