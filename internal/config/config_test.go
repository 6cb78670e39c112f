package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0644))
	return path
}

const minimalConfig = `
fs:
  data_dirs: [/data/a, /data/b]
  wal_dir: /wal
`

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, minimalConfig))
	require.NoError(t, err)

	assert.Equal(t, []string{"/data/a", "/data/b"}, cfg.FS.DataDirs)
	assert.Equal(t, uint64(0), cfg.FS.GetDataReservedBytes())
	assert.Equal(t, time.Second, cfg.Monitor.GetProbeInterval())
	assert.Equal(t, uint64(10<<30), cfg.Allocator.GetMaxContainerBytes())
	assert.Equal(t, uint64(8<<20), cfg.WAL.GetSegmentSize())
	assert.Equal(t, 250*time.Millisecond, cfg.Maintenance.GetPollingInterval())
	assert.Equal(t, 30*time.Second, cfg.Maintenance.GetCheckpointInterval())
	assert.Equal(t, 2*time.Second, cfg.Escalation.GetFlushDeadline())
	assert.Equal(t, "127.0.0.1:8089", cfg.HTTP.BindAddr)
	assert.Equal(t, "info", cfg.Logging.Level)

	assert.Equal(t, "none", cfg.WAL.GetCompression())

	overrides, err := cfg.Monitor.GetOverrides()
	require.NoError(t, err)
	assert.Empty(t, overrides.Prefixes)
	assert.Nil(t, overrides.All)
}

func TestLoad_Full(t *testing.T) {
	cfg, err := Load(writeConfig(t, `
fs:
  data_dirs: [/data/a]
  wal_dir: /wal
  data_reserved_bytes: 10000000
  wal_reserved_bytes: 1GiB
monitor:
  probe_interval: 100ms
  overrides:
    - /data/a:0
    - /wal:10000001
  override_all: 5GiB
allocator:
  max_container_bytes: 64MiB
  max_containers_per_dir: 4
wal:
  segment_size: 1MiB
  compression: zstd
maintenance:
  polling_interval: 100ms
escalation:
  flush_deadline: 500ms
`))
	require.NoError(t, err)

	assert.Equal(t, uint64(10000000), cfg.FS.GetDataReservedBytes())
	assert.Equal(t, uint64(1<<30), cfg.FS.GetWALReservedBytes())
	assert.Equal(t, 100*time.Millisecond, cfg.Monitor.GetProbeInterval())
	assert.Equal(t, uint64(64<<20), cfg.Allocator.GetMaxContainerBytes())
	assert.Equal(t, 4, cfg.Allocator.MaxContainersPerDir)
	assert.Equal(t, uint64(1<<20), cfg.WAL.GetSegmentSize())
	assert.Equal(t, 500*time.Millisecond, cfg.Escalation.GetFlushDeadline())

	assert.Equal(t, "zstd", cfg.WAL.GetCompression())

	overrides, err := cfg.Monitor.GetOverrides()
	require.NoError(t, err)
	assert.Equal(t, map[string]uint64{"/data/a": 0, "/wal": 10000001}, overrides.Prefixes)
	require.NotNil(t, overrides.All)
	assert.Equal(t, uint64(5<<30), *overrides.All)
}

func TestLoad_EnvOverride(t *testing.T) {
	t.Setenv("DISKGUARD_LOGGING_LEVEL", "debug")

	cfg, err := Load(writeConfig(t, minimalConfig))
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.Logging.Level)
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"no data dirs", "fs:\n  wal_dir: /wal\n"},
		{"no wal dir", "fs:\n  data_dirs: [/data/a]\n"},
		{"wal shares data dir", "fs:\n  data_dirs: [/data/a]\n  wal_dir: /data/a/\n"},
		{"duplicate data dir", "fs:\n  data_dirs: [/data/a, /data/a]\n  wal_dir: /wal\n"},
		{"bad reserved", minimalConfig + "  data_reserved_bytes: lots\n"},
		{"negative reserved", minimalConfig + "  wal_reserved_bytes: \"-1\"\n"},
		{"zero segment", minimalConfig + "wal:\n  segment_size: 0\n"},
		{"bad compression", minimalConfig + "wal:\n  compression: lz4\n"},
		{"bad interval", minimalConfig + "monitor:\n  probe_interval: soon\n"},
		{"bad override", minimalConfig + "monitor:\n  overrides: [/data/a]\n"},
		{"bad override all", minimalConfig + "monitor:\n  override_all: many\n"},
		{"bad level", minimalConfig + "logging:\n  level: loud\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.body))
			assert.Error(t, err)
		})
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestMonitorConfig_GetOverrides(t *testing.T) {
	tests := []struct {
		name    string
		entries []string
		want    map[string]uint64
		wantErr bool
	}{
		{"empty", nil, map[string]uint64{}, false},
		{"cleaned prefix", []string{"/data/a/:1KiB"}, map[string]uint64{"/data/a": 1024}, false},
		{"comma list", []string{"/data/a:0, /data/b:7"}, map[string]uint64{"/data/a": 0, "/data/b": 7}, false},
		{"drive letter", []string{`C:\data:5`}, map[string]uint64{filepath.Clean(`C:\data`): 5}, false},
		{"missing bytes", []string{"/data/a:"}, nil, true},
		{"missing prefix", []string{":5"}, nil, true},
		{"blank prefix", []string{"  :5"}, nil, true},
		{"bad size", []string{"/data/a:lots"}, nil, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mc := MonitorConfig{Overrides: tt.entries}
			got, err := mc.GetOverrides()
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got.Prefixes)
			assert.Nil(t, got.All)
		})
	}
}

func TestWALConfig_GetCompression(t *testing.T) {
	assert.Equal(t, "none", (&WALConfig{}).GetCompression())
	assert.Equal(t, "zstd", (&WALConfig{Compression: "ZSTD"}).GetCompression())
	assert.Equal(t, "s2", (&WALConfig{Compression: "s2"}).GetCompression())
}
