package monitor

import (
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/vertextoedge/diskguard/internal/domain"
	"github.com/vertextoedge/diskguard/internal/domain/vo"
)

// Overrides is a point-in-time copy of an OverrideTable
type Overrides struct {
	Prefixes map[string]uint64 `json:"prefixes"`
	All      *uint64           `json:"all,omitempty"`
}

// OverrideTable maps directory prefixes to fixed free byte values that
// replace the filesystem query for every directory under the prefix.
// It is the only mutable configuration and may be changed at runtime.
type OverrideTable struct {
	mu       sync.RWMutex
	prefixes map[string]uint64
	all      *uint64
}

// NewOverrideTable creates an empty table
func NewOverrideTable() *OverrideTable {
	return &OverrideTable{prefixes: make(map[string]uint64)}
}

// Set overrides the free bytes of every directory under prefix
func (t *OverrideTable) Set(prefix string, freeBytes uint64) error {
	p, err := cleanPrefix(prefix)
	if err != nil {
		return err
	}
	t.mu.Lock()
	t.prefixes[p] = freeBytes
	t.mu.Unlock()
	return nil
}

// Delete removes the override of prefix
func (t *OverrideTable) Delete(prefix string) {
	p, err := cleanPrefix(prefix)
	if err != nil {
		return
	}
	t.mu.Lock()
	delete(t.prefixes, p)
	t.mu.Unlock()
}

// SetAll overrides every directory that has no prefix override
func (t *OverrideTable) SetAll(freeBytes uint64) {
	t.mu.Lock()
	v := freeBytes
	t.all = &v
	t.mu.Unlock()
}

// ClearAll removes the global override
func (t *OverrideTable) ClearAll() {
	t.mu.Lock()
	t.all = nil
	t.mu.Unlock()
}

// Reset removes every override
func (t *OverrideTable) Reset() {
	_ = t.Replace(nil, nil)
}

// Replace swaps the whole table in one step
func (t *OverrideTable) Replace(prefixes map[string]uint64, all *uint64) error {
	next := make(map[string]uint64, len(prefixes))
	for prefix, v := range prefixes {
		p, err := cleanPrefix(prefix)
		if err != nil {
			return err
		}
		next[p] = v
	}

	t.mu.Lock()
	t.prefixes = next
	if all != nil {
		v := *all
		t.all = &v
	} else {
		t.all = nil
	}
	t.mu.Unlock()
	return nil
}

// Lookup returns the override that applies to path. The longest matching
// prefix wins; the global value applies only when no prefix matches.
func (t *OverrideTable) Lookup(path string) (uint64, bool) {
	path = filepath.Clean(path)

	t.mu.RLock()
	defer t.mu.RUnlock()

	best := -1
	var value uint64
	for prefix, v := range t.prefixes {
		if hasPathPrefix(path, prefix) && len(prefix) > best {
			best = len(prefix)
			value = v
		}
	}
	if best >= 0 {
		return value, true
	}
	if t.all != nil {
		return *t.all, true
	}
	return 0, false
}

// Snapshot returns a copy of the table
func (t *OverrideTable) Snapshot() Overrides {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := Overrides{Prefixes: make(map[string]uint64, len(t.prefixes))}
	for k, v := range t.prefixes {
		out.Prefixes[k] = v
	}
	if t.all != nil {
		v := *t.all
		out.All = &v
	}
	return out
}

// Empty returns true if no override is set
func (t *OverrideTable) Empty() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.prefixes) == 0 && t.all == nil
}

// ParsePrefixSpec parses "prefix:bytes[,prefix:bytes...]". Bytes accept
// human sizes such as "1GiB". Each entry is split at its last ':' so
// Windows drive letters survive.
func ParsePrefixSpec(spec string) (map[string]uint64, error) {
	out := make(map[string]uint64)
	for _, entry := range strings.Split(spec, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		i := strings.LastIndex(entry, ":")
		if i <= 0 || i == len(entry)-1 {
			return nil, fmt.Errorf("override %q: want prefix:bytes: %w", entry, domain.ErrInvalidInput)
		}
		size, err := vo.ParseByteSize(entry[i+1:])
		if err != nil {
			return nil, fmt.Errorf("override %q: %w", entry, err)
		}
		p, err := cleanPrefix(entry[:i])
		if err != nil {
			return nil, err
		}
		out[p] = size.Bytes()
	}
	return out, nil
}

// FormatPrefixSpec renders prefixes in ParsePrefixSpec syntax, sorted by prefix
func FormatPrefixSpec(prefixes map[string]uint64) string {
	keys := make([]string, 0, len(prefixes))
	for k := range prefixes {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s:%d", k, prefixes[k]))
	}
	return strings.Join(parts, ",")
}

func cleanPrefix(prefix string) (string, error) {
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		return "", fmt.Errorf("empty override prefix: %w", domain.ErrInvalidInput)
	}
	return filepath.Clean(prefix), nil
}

// hasPathPrefix matches whole path elements: "/data/a" covers "/data/a/x"
// but not "/data/ab".
func hasPathPrefix(path, prefix string) bool {
	if !strings.HasPrefix(path, prefix) {
		return false
	}
	if len(path) == len(prefix) || strings.HasSuffix(prefix, string(filepath.Separator)) {
		return true
	}
	return path[len(prefix)] == filepath.Separator
}
