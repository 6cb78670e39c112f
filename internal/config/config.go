package config

import (
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"github.com/vertextoedge/diskguard/internal/domain/vo"
)

// Overrides is the parsed form of the monitor override settings
type Overrides struct {
	Prefixes map[string]uint64
	All      *uint64
}

// Config represents the entire application configuration
type Config struct {
	FS          FSConfig          `mapstructure:"fs"`
	Monitor     MonitorConfig     `mapstructure:"monitor"`
	Allocator   AllocatorConfig   `mapstructure:"allocator"`
	WAL         WALConfig         `mapstructure:"wal"`
	Maintenance MaintenanceConfig `mapstructure:"maintenance"`
	Escalation  EscalationConfig  `mapstructure:"escalation"`
	HTTP        HTTPConfig        `mapstructure:"http"`
	Logging     LoggingConfig     `mapstructure:"logging"`
	Database    DatabaseConfig    `mapstructure:"database"`

	v *viper.Viper
}

// FSConfig lists the data directories and their reserved margins.
// Sizes accept plain byte counts or human sizes such as "1GiB".
type FSConfig struct {
	DataDirs          []string `mapstructure:"data_dirs"`
	WALDir            string   `mapstructure:"wal_dir"`
	DataReservedBytes string   `mapstructure:"data_reserved_bytes"`
	WALReservedBytes  string   `mapstructure:"wal_reserved_bytes"`
}

// MonitorConfig contains free space probing settings
type MonitorConfig struct {
	ProbeInterval    string `mapstructure:"probe_interval"`
	ErrorLogInterval string `mapstructure:"error_log_interval"`
	// Overrides are "prefix:bytes" entries. A list is used because viper
	// lower-cases map keys and splits them on '.'.
	Overrides   []string `mapstructure:"overrides"`
	OverrideAll string   `mapstructure:"override_all"`
}

// AllocatorConfig contains block container settings
type AllocatorConfig struct {
	MaxContainerBytes   string `mapstructure:"max_container_bytes"`
	MaxContainersPerDir int    `mapstructure:"max_containers_per_dir"`
}

// WALConfig contains write-ahead log settings
type WALConfig struct {
	SegmentSize string `mapstructure:"segment_size"`
	Compression string `mapstructure:"compression"`
	SyncWrites  bool   `mapstructure:"sync_writes"`
}

// MaintenanceConfig contains background maintenance settings
type MaintenanceConfig struct {
	PollingInterval    string `mapstructure:"polling_interval"`
	CheckpointInterval string `mapstructure:"checkpoint_interval"`
	FlushThreshold     string `mapstructure:"flush_threshold"`
}

// EscalationConfig contains fail-fast settings
type EscalationConfig struct {
	FlushDeadline string `mapstructure:"flush_deadline"`
}

// HTTPConfig contains HTTP server configuration
type HTTPConfig struct {
	BindAddr      string `mapstructure:"bind_addr"`
	AdminUsername string `mapstructure:"admin_username"`
	AdminPassword string `mapstructure:"admin_password"`
	ReadTimeout   string `mapstructure:"read_timeout"`
	WriteTimeout  string `mapstructure:"write_timeout"`
	IdleTimeout   string `mapstructure:"idle_timeout"`
}

// LoggingConfig contains logging settings
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	Output string `mapstructure:"output"`
}

// DatabaseConfig contains catalog database settings
type DatabaseConfig struct {
	Path string `mapstructure:"path"`
}

// Load loads configuration from the specified file path.
// Environment variables with the DISKGUARD_ prefix override file values,
// e.g. DISKGUARD_LOGGING_LEVEL=debug.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(configPath)
	v.SetConfigType("yaml")
	v.SetEnvPrefix("DISKGUARD")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	config.v = v
	return &config, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("fs.data_reserved_bytes", "0")
	v.SetDefault("fs.wal_reserved_bytes", "0")
	v.SetDefault("monitor.probe_interval", "1s")
	v.SetDefault("monitor.error_log_interval", "1m")
	v.SetDefault("monitor.overrides", []string{})
	v.SetDefault("monitor.override_all", "")
	v.SetDefault("allocator.max_container_bytes", "10GiB")
	v.SetDefault("allocator.max_containers_per_dir", 0)
	v.SetDefault("wal.segment_size", "8MiB")
	v.SetDefault("wal.compression", "none")
	v.SetDefault("wal.sync_writes", false)
	v.SetDefault("maintenance.polling_interval", "250ms")
	v.SetDefault("maintenance.checkpoint_interval", "30s")
	v.SetDefault("maintenance.flush_threshold", "64MiB")
	v.SetDefault("escalation.flush_deadline", "2s")
	v.SetDefault("http.bind_addr", "127.0.0.1:8089")
	v.SetDefault("http.admin_username", "admin")
	v.SetDefault("http.admin_password", "")
	v.SetDefault("http.read_timeout", "30s")
	v.SetDefault("http.write_timeout", "30s")
	v.SetDefault("http.idle_timeout", "60s")
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.output", "stdout")
	v.SetDefault("database.path", "")
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if len(c.FS.DataDirs) == 0 {
		return fmt.Errorf("fs.data_dirs must list at least one directory")
	}
	if c.FS.WALDir == "" {
		return fmt.Errorf("fs.wal_dir is required")
	}
	walDir := filepath.Clean(c.FS.WALDir)
	seen := make(map[string]bool, len(c.FS.DataDirs))
	for _, d := range c.FS.DataDirs {
		if d == "" {
			return fmt.Errorf("fs.data_dirs contains an empty path")
		}
		clean := filepath.Clean(d)
		if clean == walDir {
			return fmt.Errorf("fs.wal_dir %s is also listed in fs.data_dirs", c.FS.WALDir)
		}
		if seen[clean] {
			return fmt.Errorf("fs.data_dirs lists %s twice", d)
		}
		seen[clean] = true
	}

	sizes := map[string]string{
		"fs.data_reserved_bytes":        c.FS.DataReservedBytes,
		"fs.wal_reserved_bytes":         c.FS.WALReservedBytes,
		"allocator.max_container_bytes": c.Allocator.MaxContainerBytes,
		"wal.segment_size":              c.WAL.SegmentSize,
		"maintenance.flush_threshold":   c.Maintenance.FlushThreshold,
	}
	for key, s := range sizes {
		if _, err := vo.ParseByteSize(s); err != nil {
			return fmt.Errorf("invalid %s: %w", key, err)
		}
	}
	if c.WAL.GetSegmentSize() == 0 {
		return fmt.Errorf("wal.segment_size must be positive")
	}
	if c.Allocator.GetMaxContainerBytes() == 0 {
		return fmt.Errorf("allocator.max_container_bytes must be positive")
	}
	if c.Allocator.MaxContainersPerDir < 0 {
		return fmt.Errorf("allocator.max_containers_per_dir cannot be negative")
	}

	durations := map[string]string{
		"monitor.probe_interval":          c.Monitor.ProbeInterval,
		"monitor.error_log_interval":      c.Monitor.ErrorLogInterval,
		"maintenance.polling_interval":    c.Maintenance.PollingInterval,
		"maintenance.checkpoint_interval": c.Maintenance.CheckpointInterval,
		"escalation.flush_deadline":       c.Escalation.FlushDeadline,
	}
	for key, s := range durations {
		d, err := time.ParseDuration(s)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", key, err)
		}
		if d <= 0 {
			return fmt.Errorf("%s must be positive", key)
		}
	}

	if _, err := c.Monitor.GetOverrides(); err != nil {
		return fmt.Errorf("invalid monitor overrides: %w", err)
	}

	switch c.WAL.GetCompression() {
	case "none", "s2", "zstd":
		// Valid codecs
	default:
		return fmt.Errorf("invalid wal.compression: %s", c.WAL.Compression)
	}

	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
		// Valid levels
	default:
		return fmt.Errorf("invalid logging.level: %s", c.Logging.Level)
	}

	switch c.Logging.Format {
	case "json", "text":
		// Valid formats
	default:
		return fmt.Errorf("invalid logging.format: %s", c.Logging.Format)
	}

	return nil
}

// WatchOverrides re-reads the monitor override section whenever the config
// file changes and passes the result to fn. Other sections need a restart.
func (c *Config) WatchOverrides(fn func(Overrides, error)) {
	if c.v == nil {
		return
	}

	var mu sync.Mutex
	c.v.OnConfigChange(func(e fsnotify.Event) {
		if e.Op&(fsnotify.Write|fsnotify.Create) == 0 {
			return
		}
		mu.Lock()
		defer mu.Unlock()

		var mc MonitorConfig
		if err := c.v.UnmarshalKey("monitor", &mc); err != nil {
			fn(Overrides{}, fmt.Errorf("failed to unmarshal monitor section: %w", err))
			return
		}
		fn(mc.GetOverrides())
	})
	c.v.WatchConfig()
}

// GetDataReservedBytes returns the margin kept free on every data directory
func (c *FSConfig) GetDataReservedBytes() uint64 {
	return parseBytes(c.DataReservedBytes)
}

// GetWALReservedBytes returns the margin kept free on the WAL directory
func (c *FSConfig) GetWALReservedBytes() uint64 {
	return parseBytes(c.WALReservedBytes)
}

// GetProbeInterval returns the probe interval as time.Duration
func (c *MonitorConfig) GetProbeInterval() time.Duration {
	return parseDuration(c.ProbeInterval, time.Second)
}

// GetErrorLogInterval returns the query error log interval as time.Duration
func (c *MonitorConfig) GetErrorLogInterval() time.Duration {
	return parseDuration(c.ErrorLogInterval, time.Minute)
}

// GetOverrides parses the configured free space overrides. Each entry is
// "prefix:bytes", split at the last ':' so Windows drive letters survive.
func (c *MonitorConfig) GetOverrides() (Overrides, error) {
	out := Overrides{Prefixes: make(map[string]uint64)}
	for _, list := range c.Overrides {
		for _, entry := range strings.Split(list, ",") {
			entry = strings.TrimSpace(entry)
			if entry == "" {
				continue
			}
			i := strings.LastIndex(entry, ":")
			if i <= 0 || i == len(entry)-1 {
				return Overrides{}, fmt.Errorf("override %q: want prefix:bytes", entry)
			}
			prefix := strings.TrimSpace(entry[:i])
			if prefix == "" {
				return Overrides{}, fmt.Errorf("override %q: empty prefix", entry)
			}
			size, err := vo.ParseByteSize(entry[i+1:])
			if err != nil {
				return Overrides{}, fmt.Errorf("override %q: %w", entry, err)
			}
			out.Prefixes[filepath.Clean(prefix)] = size.Bytes()
		}
	}
	if strings.TrimSpace(c.OverrideAll) != "" {
		size, err := vo.ParseByteSize(c.OverrideAll)
		if err != nil {
			return Overrides{}, fmt.Errorf("override_all: %w", err)
		}
		v := size.Bytes()
		out.All = &v
	}
	return out, nil
}

// GetMaxContainerBytes returns the container size limit in bytes
func (c *AllocatorConfig) GetMaxContainerBytes() uint64 {
	return parseBytes(c.MaxContainerBytes)
}

// GetSegmentSize returns the WAL segment size in bytes
func (c *WALConfig) GetSegmentSize() uint64 {
	return parseBytes(c.SegmentSize)
}

// GetCompression returns the WAL record codec name, "none" when unset
func (c *WALConfig) GetCompression() string {
	if c.Compression == "" {
		return "none"
	}
	return strings.ToLower(c.Compression)
}

// GetPollingInterval returns the maintenance polling interval as time.Duration
func (c *MaintenanceConfig) GetPollingInterval() time.Duration {
	return parseDuration(c.PollingInterval, 250*time.Millisecond)
}

// GetCheckpointInterval returns the catalog checkpoint interval as time.Duration
func (c *MaintenanceConfig) GetCheckpointInterval() time.Duration {
	return parseDuration(c.CheckpointInterval, 30*time.Second)
}

// GetFlushThreshold returns the buffered bytes that make a flush runnable
func (c *MaintenanceConfig) GetFlushThreshold() uint64 {
	return parseBytes(c.FlushThreshold)
}

// GetFlushDeadline returns the fatal exit deadline as time.Duration
func (c *EscalationConfig) GetFlushDeadline() time.Duration {
	return parseDuration(c.FlushDeadline, 2*time.Second)
}

// GetReadTimeout returns the read timeout as time.Duration
func (c *HTTPConfig) GetReadTimeout() time.Duration {
	return parseDuration(c.ReadTimeout, 30*time.Second)
}

// GetWriteTimeout returns the write timeout as time.Duration
func (c *HTTPConfig) GetWriteTimeout() time.Duration {
	return parseDuration(c.WriteTimeout, 30*time.Second)
}

// GetIdleTimeout returns the idle timeout as time.Duration
func (c *HTTPConfig) GetIdleTimeout() time.Duration {
	return parseDuration(c.IdleTimeout, 60*time.Second)
}

func parseDuration(s string, def time.Duration) time.Duration {
	d, _ := time.ParseDuration(s)
	if d == 0 {
		return def
	}
	return d
}

func parseBytes(s string) uint64 {
	b, _ := vo.ParseByteSize(s)
	return b.Bytes()
}
