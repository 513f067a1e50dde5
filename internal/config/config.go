// Package config loads the service configuration from defaults, an optional
// config.yaml, LOCKBOX_* environment variables and command-line flags.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/n3tuk/time-locked-savings/internal/store"
)

// Storage backends.
const (
	BackendFile  = "file"
	BackendOlric = "olric"
)

// Config holds all configuration for the service.
type Config struct {
	// Persistence settings
	DataDir        string
	ReceiptsDir    string
	StorageBackend string

	// ScanInterval is the period of the background release scan. Zero
	// disables it; releases then happen only on login or on request.
	ScanInterval time.Duration

	// Administrator credentials
	AdminUsername string
	AdminPassword string

	// Audit delivery
	AuditAsync     bool
	AuditQueueSize int

	// Logging settings
	LogLevel  string
	LogFormat string

	// Metrics server settings
	MetricsEnabled bool
	MetricsHost    string
	MetricsPort    int

	// Graceful shutdown timeout
	ShutdownTimeout time.Duration

	// Health check settings
	HealthCheckTimeout       time.Duration
	HealthCheckCacheDuration time.Duration

	// Metrics settings
	MetricsNamespace string

	// Olric is only used with the olric storage backend.
	Olric *store.OlricConfig
}

// Load reads configuration from environment variables, config file, and flags.
func Load() (*Config, error) {
	viper.SetDefault("data.dir", "data")
	viper.SetDefault("receipts.dir", "receipts")
	viper.SetDefault("storage.backend", BackendFile)
	viper.SetDefault("scan.interval", "1s")
	viper.SetDefault("admin.username", "admin")
	viper.SetDefault("admin.password", "admin123")
	viper.SetDefault("audit.async", false)
	viper.SetDefault("audit.queue_size", 256)
	viper.SetDefault("log.level", "warn")
	viper.SetDefault("log.format", "console")
	viper.SetDefault("metrics.enabled", false)
	viper.SetDefault("metrics.host", "127.0.0.1")
	viper.SetDefault("metrics.port", 9090)
	viper.SetDefault("shutdown.timeout", "30s")
	viper.SetDefault("health.check_timeout", "5s")
	viper.SetDefault("health.cache_duration", "10s")
	viper.SetDefault("olric.host", "127.0.0.1")
	viper.SetDefault("olric.port", store.DefaultBindPort)
	viper.SetDefault("olric.join_addrs", []string{})
	viper.SetDefault("olric.replication_factor", store.DefaultReplicationFactor)
	viper.SetDefault("olric.member_count_quorum", store.DefaultMemberCountQuorum)
	viper.SetDefault("olric.log_level", store.DefaultLogLevel)
	viper.SetDefault("olric.dmap_name", store.DefaultDMapName)

	// Environment variables use the LOCKBOX prefix (data.dir -> LOCKBOX_DATA_DIR)
	viper.SetEnvPrefix("LOCKBOX")
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("/etc/time-locked-savings/")

	// Reading config file is optional
	_ = viper.ReadInConfig()

	cfg := &Config{
		DataDir:          viper.GetString("data.dir"),
		ReceiptsDir:      viper.GetString("receipts.dir"),
		StorageBackend:   strings.ToLower(viper.GetString("storage.backend")),
		AdminUsername:    viper.GetString("admin.username"),
		AdminPassword:    viper.GetString("admin.password"),
		AuditAsync:       viper.GetBool("audit.async"),
		AuditQueueSize:   viper.GetInt("audit.queue_size"),
		LogLevel:         viper.GetString("log.level"),
		LogFormat:        viper.GetString("log.format"),
		MetricsEnabled:   viper.GetBool("metrics.enabled"),
		MetricsHost:      viper.GetString("metrics.host"),
		MetricsPort:      viper.GetInt("metrics.port"),
		MetricsNamespace: "lockbox", // Fixed value, not configurable
	}

	var err error
	if cfg.ScanInterval, err = parseDuration("scan.interval"); err != nil {
		return nil, err
	}
	if cfg.ShutdownTimeout, err = parseDuration("shutdown.timeout"); err != nil {
		return nil, err
	}
	if cfg.HealthCheckTimeout, err = parseDuration("health.check_timeout"); err != nil {
		return nil, err
	}
	if cfg.HealthCheckCacheDuration, err = parseDuration("health.cache_duration"); err != nil {
		return nil, err
	}

	olric := store.NewDefaultOlricConfig()
	olric.BindAddr = viper.GetString("olric.host")
	olric.BindPort = viper.GetInt("olric.port")
	olric.JoinAddrs = viper.GetStringSlice("olric.join_addrs")
	olric.ReplicationFactor = viper.GetInt("olric.replication_factor")
	olric.MemberCountQuorum = viper.GetInt("olric.member_count_quorum")
	olric.LogLevel = strings.ToUpper(viper.GetString("olric.log_level"))
	olric.DMapName = viper.GetString("olric.dmap_name")
	cfg.Olric = olric

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// parseDuration reads key as a duration string such as "30s".
func parseDuration(key string) (time.Duration, error) {
	d, err := time.ParseDuration(viper.GetString(key))
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return d, nil
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if c.DataDir == "" {
		return fmt.Errorf("data directory cannot be empty")
	}
	if c.ReceiptsDir == "" {
		return fmt.Errorf("receipts directory cannot be empty")
	}

	switch c.StorageBackend {
	case BackendFile:
	case BackendOlric:
		if c.Olric == nil {
			return fmt.Errorf("olric storage backend selected but no olric configuration provided")
		}
		if err := c.Olric.Validate(); err != nil {
			return fmt.Errorf("invalid olric configuration: %w", err)
		}
	default:
		return fmt.Errorf("invalid storage backend: %s (must be file or olric)", c.StorageBackend)
	}

	if c.ScanInterval < 0 {
		return fmt.Errorf("invalid scan interval: %s (must be non-negative, zero disables scanning)", c.ScanInterval)
	}

	if c.AdminUsername == "" || c.AdminPassword == "" {
		return fmt.Errorf("admin username and password cannot be empty")
	}
	if strings.ContainsAny(c.AdminUsername, " \t\r\n|") {
		return fmt.Errorf("invalid admin username: %q (must not contain whitespace or '|')", c.AdminUsername)
	}

	if c.AuditAsync && c.AuditQueueSize < 1 {
		return fmt.Errorf("invalid audit queue size: %d (must be at least 1)", c.AuditQueueSize)
	}

	validLogLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	if !validLogLevels[c.LogLevel] {
		return fmt.Errorf("invalid log level: %s (must be debug, info, warn, or error)", c.LogLevel)
	}

	validLogFormats := map[string]bool{
		"json":    true,
		"console": true,
	}
	if !validLogFormats[c.LogFormat] {
		return fmt.Errorf("invalid log format: %s (must be json or console)", c.LogFormat)
	}

	if c.MetricsEnabled && (c.MetricsPort < 1 || c.MetricsPort > 65535) {
		return fmt.Errorf("invalid metrics port: %d", c.MetricsPort)
	}

	if c.ShutdownTimeout < 0 {
		return fmt.Errorf("invalid shutdown timeout: %s (must be positive)", c.ShutdownTimeout)
	}

	if c.HealthCheckTimeout <= 0 {
		return fmt.Errorf("invalid health check timeout: %s (must be positive)", c.HealthCheckTimeout)
	}

	if c.HealthCheckCacheDuration < 0 {
		return fmt.Errorf("invalid health check cache duration: %s (must be non-negative, zero disables caching)", c.HealthCheckCacheDuration)
	}

	if c.MetricsNamespace == "" {
		return fmt.Errorf("metrics namespace cannot be empty")
	}

	return nil
}
