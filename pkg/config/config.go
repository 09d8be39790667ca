package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// TableConfig describes one table to register with the replication manager
// at startup.
type TableConfig struct {
	Name             string        `yaml:"name"`
	Priority         string        `yaml:"priority"`
	TTL              time.Duration `yaml:"ttl"`
	Strategy         string        `yaml:"strategy"`
	ClientAuthFields []string      `yaml:"clientAuthFields,omitempty"`
	SecondaryIndexes []string      `yaml:"secondaryIndexes,omitempty"`
}

// Config is Ripple's full runtime configuration, loaded from a YAML file and
// overridable by command-line flags bound in cmd/ripple.
type Config struct {
	LogLevel  string `yaml:"logLevel"`
	LogJSON   bool   `yaml:"logJSON"`
	StorePath string `yaml:"storePath"`

	Transport struct {
		Address string        `yaml:"address"`
		Timeout time.Duration `yaml:"timeout"`
	} `yaml:"transport"`

	Sync struct {
		PeriodicInterval        time.Duration `yaml:"periodicInterval"`
		ForcedFullSyncInterval  time.Duration `yaml:"forcedFullSyncInterval"`
		IncrementalSafetyLimit  int64         `yaml:"incrementalSafetyLimit"`
		PageSize                int           `yaml:"pageSize"`
		ChunkSize               int           `yaml:"chunkSize"`
		QueryTimeout            time.Duration `yaml:"queryTimeout"`
	} `yaml:"sync"`

	Quota struct {
		SoftLimitBytes int64 `yaml:"softLimitBytes"`
		TargetBytes    int64 `yaml:"targetBytes"`
		// CeilingBytes is the store's reported quota capacity, strictly
		// above SoftLimitBytes/TargetBytes: eviction engages once usage
		// crosses the soft limit, well before usage could reach the
		// ceiling itself.
		CeilingBytes int64 `yaml:"ceilingBytes"`
		AutoManage   bool  `yaml:"autoManage"`
	} `yaml:"quota"`

	Tables []TableConfig `yaml:"tables"`
}

// Default returns a Config populated with Ripple's documented defaults.
func Default() Config {
	var cfg Config
	cfg.LogLevel = "info"
	cfg.StorePath = "ripple.db"
	cfg.Transport.Timeout = 10 * time.Second
	cfg.Sync.PeriodicInterval = 5 * time.Minute
	cfg.Sync.ForcedFullSyncInterval = 24 * time.Hour
	cfg.Sync.IncrementalSafetyLimit = 5000
	cfg.Sync.PageSize = 500
	cfg.Sync.ChunkSize = 100
	cfg.Sync.QueryTimeout = 30 * time.Second
	cfg.Quota.SoftLimitBytes = int64(4.5 * 1024 * 1024)
	cfg.Quota.TargetBytes = int64(4.5 * 1024 * 1024)
	cfg.Quota.CeilingBytes = 5 * 1024 * 1024
	cfg.Quota.AutoManage = true
	return cfg
}

// Load reads a YAML config file from path, starting from Default() so any
// field the file omits keeps its default value.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("failed to parse config file: %w", err)
	}

	return cfg, nil
}
