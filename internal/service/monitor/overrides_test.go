package monitor

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vertextoedge/diskguard/internal/domain"
)

func TestOverrideTable_Lookup(t *testing.T) {
	table := NewOverrideTable()
	require.NoError(t, table.Set("/data", 500))
	require.NoError(t, table.Set("/data/a", 0))
	require.NoError(t, table.Set("/data/a/", 7)) // cleaned to /data/a

	tests := []struct {
		name   string
		path   string
		want   uint64
		wantOK bool
	}{
		{"exact prefix", "/data/a", 7, true},
		{"longest prefix wins", "/data/a/sub", 7, true},
		{"shorter prefix", "/data/b", 500, true},
		{"no partial element match", "/database", 0, false},
		{"unrelated path", "/wal", 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := table.Lookup(tt.path)
			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestOverrideTable_GlobalValue(t *testing.T) {
	table := NewOverrideTable()
	table.SetAll(42)
	require.NoError(t, table.Set("/data/a", 1))

	got, ok := table.Lookup("/wal")
	assert.True(t, ok)
	assert.Equal(t, uint64(42), got)

	got, ok = table.Lookup("/data/a")
	assert.True(t, ok)
	assert.Equal(t, uint64(1), got, "prefix match beats global value")

	table.ClearAll()
	_, ok = table.Lookup("/wal")
	assert.False(t, ok)
}

func TestOverrideTable_ReplaceAndReset(t *testing.T) {
	table := NewOverrideTable()
	require.NoError(t, table.Set("/old", 1))

	all := uint64(9)
	require.NoError(t, table.Replace(map[string]uint64{"/new": 2}, &all))

	snap := table.Snapshot()
	assert.Equal(t, map[string]uint64{"/new": 2}, snap.Prefixes)
	require.NotNil(t, snap.All)
	assert.Equal(t, uint64(9), *snap.All)

	// The snapshot is a copy.
	snap.Prefixes["/other"] = 3
	_, ok := table.Lookup("/other")
	assert.False(t, ok)

	table.Delete("/new")
	_, ok = table.Lookup("/new/x")
	assert.True(t, ok, "global value still applies")

	table.Reset()
	assert.True(t, table.Empty())
}

func TestOverrideTable_SetEmptyPrefix(t *testing.T) {
	table := NewOverrideTable()
	err := table.Set("  ", 1)
	assert.True(t, errors.Is(err, domain.ErrInvalidInput))
}

func TestParsePrefixSpec(t *testing.T) {
	tests := []struct {
		name    string
		spec    string
		want    map[string]uint64
		wantErr bool
	}{
		{
			name: "two prefixes",
			spec: "/data/a:0,/data/b:1073741824",
			want: map[string]uint64{"/data/a": 0, "/data/b": 1 << 30},
		},
		{
			name: "human sizes and spaces",
			spec: " /data/a:1GiB , /wal:10000001 ",
			want: map[string]uint64{"/data/a": 1 << 30, "/wal": 10000001},
		},
		{
			name: "drive letter",
			spec: `C:\data:5`,
			want: map[string]uint64{`C:\data`: 5},
		},
		{name: "empty", spec: "", want: map[string]uint64{}},
		{name: "missing value", spec: "/data/a:", wantErr: true},
		{name: "missing prefix", spec: ":5", wantErr: true},
		{name: "no separator", spec: "/data/a", wantErr: true},
		{name: "negative", spec: "/data/a:-1", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParsePrefixSpec(tt.spec)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestFormatPrefixSpec(t *testing.T) {
	spec := FormatPrefixSpec(map[string]uint64{"/data/b": 1, "/data/a": 0})
	assert.Equal(t, "/data/a:0,/data/b:1", spec)

	parsed, err := ParsePrefixSpec(spec)
	require.NoError(t, err)
	assert.Len(t, parsed, 2)
}
