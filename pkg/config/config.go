package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/nicktill/meshstats/pkg/sample"
)

// Server defaults
const (
	DefaultPort           = "8080"
	DefaultDataDir        = "./data"
	DefaultStateDir       = "./data/state"
	DefaultOutDir         = "./out"
	DefaultStorageBackend = "badger"
	DefaultMaxMemoryMB    = 48
)

// Collection defaults
const (
	DefaultCompanionStep     = 60 * time.Second
	DefaultRepeaterStep      = 900 * time.Second
	DefaultRemoteTimeout     = 10 * time.Second
	DefaultRemoteAttempts    = 2
	DefaultRemoteBackoff     = 4 * time.Second
	DefaultBreakerFailures   = 6
	DefaultBreakerCooldown   = 3600 * time.Second
	DefaultTelemetryAttempts = 2
	DefaultTelemetryBackoff  = 4 * time.Second
	DefaultLockTimeout       = 60 * time.Second
)

// Maintenance intervals
const (
	BadgerGCInterval     = 10 * time.Minute
	SQLiteVacuumInterval = 24 * time.Hour
	FreshnessInterval    = 1 * time.Minute
)

// Request timeouts and limits
const (
	IngestTimeout    = 5 * time.Second
	QueryTimeout     = 30 * time.Second
	ReportTimeout    = 60 * time.Second
	MaxBodyBytes     = 1 << 20
	MaxIngestFields  = 512
	MaxMetricNameLen = 256
)

// Export defaults and limits
const (
	DefaultExportWindow = 24 * time.Hour
	MaxExportWindow     = 366 * 24 * time.Hour
)

// WebSocket configuration
const (
	WSReadBufferSize  = 1024
	WSWriteBufferSize = 1024
	WSBroadcastBuffer = 256
	WSChannelBuffer   = 10
	WSWriteDeadline   = 10 * time.Second
	WSReadDeadline    = 60 * time.Second
	WSPingInterval    = 30 * time.Second
)

// Storage backends
const (
	BackendBadger = "badger"
	BackendSQLite = "sqlite"
	BackendMemory = "memory"
)

// EnvConfigPath names the config file when --config is not given
const EnvConfigPath = "MESHSTATS_CONFIG"

// ErrInvalid marks a configuration that failed validation
var ErrInvalid = errors.New("invalid configuration")

// Config is the full process configuration
type Config struct {
	Port           string `yaml:"port"`
	DataDir        string `yaml:"data_dir"`
	StateDir       string `yaml:"state_dir"`
	OutDir         string `yaml:"out_dir"`
	StorageBackend string `yaml:"storage_backend"`
	MaxMemoryMB    int64  `yaml:"max_memory_mb"`

	CompanionStep time.Duration `yaml:"companion_step"`
	RepeaterStep  time.Duration `yaml:"repeater_step"`

	Remote    RemoteConfig    `yaml:"remote"`
	Telemetry TelemetryConfig `yaml:"telemetry"`

	LockTimeout    time.Duration `yaml:"transport_lock_timeout"`
	ReportTimezone string        `yaml:"report_timezone"`
	Debug          bool          `yaml:"debug"`
}

// RemoteConfig tunes queries to the remote repeater
type RemoteConfig struct {
	Timeout         time.Duration `yaml:"timeout"`
	RetryAttempts   int           `yaml:"retry_attempts"`
	RetryBackoff    time.Duration `yaml:"retry_backoff"`
	BreakerFailures int           `yaml:"breaker_failures"`
	BreakerCooldown time.Duration `yaml:"breaker_cooldown"`
}

// TelemetryConfig tunes sensor telemetry queries
type TelemetryConfig struct {
	Enabled       bool          `yaml:"enabled"`
	RetryAttempts int           `yaml:"retry_attempts"`
	RetryBackoff  time.Duration `yaml:"retry_backoff"`
}

// Load starts from Default, applies the optional YAML file at path, then
// environment overrides, and validates. An empty path skips the file. Only
// keys that are present override a default, so an explicit 0 is kept.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
		}
	}

	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Location returns the report timezone, or time.Local when unset
func (c *Config) Location() *time.Location {
	if c.ReportTimezone == "" {
		return time.Local
	}
	// validate already proved the name loads
	loc, err := time.LoadLocation(c.ReportTimezone)
	if err != nil {
		return time.Local
	}
	return loc
}

// BreakerStatePath is where the repeater circuit state is persisted
func (c *Config) BreakerStatePath(file string) string {
	return filepath.Join(c.StateDir, file)
}

// Steps is the expected collection interval per role
func (c *Config) Steps() map[sample.Role]time.Duration {
	return map[sample.Role]time.Duration{
		sample.Companion: c.CompanionStep,
		sample.Repeater:  c.RepeaterStep,
	}
}

// LockPath is the advisory lock file shared by collector processes
func (c *Config) LockPath() string {
	return filepath.Join(c.StateDir, "transport.lock")
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	var errs []error
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	integer := func(key string, dst *int) {
		if v, ok := lookup(key); ok && v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s=%q: %w", key, v, err))
				return
			}
			*dst = n
		}
	}
	seconds := func(key string, dst *time.Duration) {
		if v, ok := lookup(key); ok && v != "" {
			f, err := strconv.ParseFloat(v, 64)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s=%q: %w", key, v, err))
				return
			}
			*dst = time.Duration(f * float64(time.Second))
		}
	}
	boolean := func(key string, dst *bool) {
		if v, ok := lookup(key); ok && v != "" {
			switch strings.ToLower(v) {
			case "1", "true", "yes", "on":
				*dst = true
			case "0", "false", "no", "off":
				*dst = false
			default:
				errs = append(errs, fmt.Errorf("%s=%q: not a boolean", key, v))
			}
		}
	}

	str("PORT", &c.Port)
	str("DATA_DIR", &c.DataDir)
	str("STATE_DIR", &c.StateDir)
	str("OUT_DIR", &c.OutDir)
	str("STORAGE_BACKEND", &c.StorageBackend)
	if v, ok := lookup("MAX_MEMORY_MB"); ok && v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			errs = append(errs, fmt.Errorf("MAX_MEMORY_MB=%q: %w", v, err))
		} else {
			c.MaxMemoryMB = n
		}
	}
	seconds("COMPANION_STEP", &c.CompanionStep)
	seconds("REPEATER_STEP", &c.RepeaterStep)
	seconds("REMOTE_TIMEOUT_S", &c.Remote.Timeout)
	integer("REMOTE_RETRY_ATTEMPTS", &c.Remote.RetryAttempts)
	seconds("REMOTE_RETRY_BACKOFF_S", &c.Remote.RetryBackoff)
	integer("REMOTE_CB_FAILS", &c.Remote.BreakerFailures)
	seconds("REMOTE_CB_COOLDOWN_S", &c.Remote.BreakerCooldown)
	boolean("TELEMETRY_ENABLED", &c.Telemetry.Enabled)
	integer("TELEMETRY_RETRY_ATTEMPTS", &c.Telemetry.RetryAttempts)
	seconds("TELEMETRY_RETRY_BACKOFF_S", &c.Telemetry.RetryBackoff)
	seconds("TRANSPORT_LOCK_TIMEOUT_S", &c.LockTimeout)
	str("REPORT_TIMEZONE", &c.ReportTimezone)
	boolean("MESH_DEBUG", &c.Debug)

	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalid, errors.Join(errs...))
	}
	return nil
}

// Default returns the configuration used when nothing overrides it
func Default() Config {
	return Config{
		Port:           DefaultPort,
		DataDir:        DefaultDataDir,
		StateDir:       DefaultStateDir,
		OutDir:         DefaultOutDir,
		StorageBackend: DefaultStorageBackend,
		MaxMemoryMB:    DefaultMaxMemoryMB,
		CompanionStep:  DefaultCompanionStep,
		RepeaterStep:   DefaultRepeaterStep,
		Remote: RemoteConfig{
			Timeout:         DefaultRemoteTimeout,
			RetryAttempts:   DefaultRemoteAttempts,
			RetryBackoff:    DefaultRemoteBackoff,
			BreakerFailures: DefaultBreakerFailures,
			BreakerCooldown: DefaultBreakerCooldown,
		},
		Telemetry: TelemetryConfig{
			RetryAttempts: DefaultTelemetryAttempts,
			RetryBackoff:  DefaultTelemetryBackoff,
		},
		LockTimeout: DefaultLockTimeout,
	}
}

func (c *Config) validate() error {
	if c.Port == "" || c.DataDir == "" || c.StateDir == "" || c.OutDir == "" {
		return fmt.Errorf("%w: port, data_dir, state_dir and out_dir must be set", ErrInvalid)
	}
	switch c.StorageBackend {
	case BackendBadger, BackendSQLite, BackendMemory:
	default:
		return fmt.Errorf("%w: storage_backend %q must be badger, sqlite or memory", ErrInvalid, c.StorageBackend)
	}
	if c.CompanionStep <= 0 || c.RepeaterStep <= 0 {
		return fmt.Errorf("%w: collection steps must be positive", ErrInvalid)
	}
	if c.Remote.Timeout <= 0 {
		return fmt.Errorf("%w: remote timeout must be positive", ErrInvalid)
	}
	if c.LockTimeout <= 0 {
		return fmt.Errorf("%w: transport_lock_timeout must be positive", ErrInvalid)
	}
	if c.Remote.RetryAttempts < 1 || c.Telemetry.RetryAttempts < 1 {
		return fmt.Errorf("%w: retry attempts must be at least 1", ErrInvalid)
	}
	if c.Remote.RetryBackoff < 0 || c.Telemetry.RetryBackoff < 0 {
		return fmt.Errorf("%w: retry backoff must not be negative", ErrInvalid)
	}
	if c.Remote.BreakerFailures < 1 {
		return fmt.Errorf("%w: breaker_failures must be at least 1", ErrInvalid)
	}
	if c.Remote.BreakerCooldown < 0 {
		return fmt.Errorf("%w: breaker_cooldown must not be negative", ErrInvalid)
	}
	if c.MaxMemoryMB < 0 {
		return fmt.Errorf("%w: max_memory_mb must not be negative", ErrInvalid)
	}
	if c.ReportTimezone != "" {
		if _, err := time.LoadLocation(c.ReportTimezone); err != nil {
			return fmt.Errorf("%w: report_timezone: %w", ErrInvalid, err)
		}
	}
	return nil
}
