package filesystem

import "os"

// extend grows f to cover offset+length without reserving blocks. Used where
// the filesystem cannot preallocate.
func extend(f *os.File, offset, length int64) error {
	info, err := f.Stat()
	if err != nil {
		return err
	}
	if end := offset + length; end > info.Size() {
		return f.Truncate(end)
	}
	return nil
}
