// Configuration and settings types
package types

import "time"

// Config represents the complete client configuration
type Config struct {
	Client     ClientConfig     `mapstructure:"client"`
	Relays     RelaysConfig     `mapstructure:"relays"`
	Connection ConnectionConfig `mapstructure:"connection"`
	Health     HealthConfig     `mapstructure:"health"`
	Auth       AuthConfig       `mapstructure:"auth"`
	Feed       FeedConfig       `mapstructure:"feed"`
	Logging    LoggingConfig    `mapstructure:"logging"`
	Metrics    MetricsConfig    `mapstructure:"metrics"`
}

// ClientConfig holds process-level settings
type ClientConfig struct {
	DataPath string `mapstructure:"data_path"`
}

// RelaysConfig holds relay pool settings
type RelaysConfig struct {
	Default            []string      `mapstructure:"default"`
	DialTimeout        time.Duration `mapstructure:"dial_timeout"`
	WriteTimeout       time.Duration `mapstructure:"write_timeout"`
	MaxConcurrentDials int           `mapstructure:"max_concurrent_dials"`
}

// ConnectionConfig holds connection state machine timings
type ConnectionConfig struct {
	GracePeriod       time.Duration `mapstructure:"grace_period"`
	FirstRetryDelay   time.Duration `mapstructure:"first_retry_delay"`
	RetryDelay        time.Duration `mapstructure:"retry_delay"`
	MaxRetries        int           `mapstructure:"max_retries"`
	KeepaliveInterval time.Duration `mapstructure:"keepalive_interval"`
	StaleAfter        time.Duration `mapstructure:"stale_after"`
	NetworkDebounce   time.Duration `mapstructure:"network_debounce"`
	NetworkPoll       time.Duration `mapstructure:"network_poll"`
}

// HealthConfig holds relay health tracking settings
type HealthConfig struct {
	FlagThreshold int    `mapstructure:"flag_threshold"`
	DBFile        string `mapstructure:"db_file"`
}

// AuthConfig holds the local signer key. Either nsec bech32 or hex.
type AuthConfig struct {
	PrivateKey string `mapstructure:"private_key"`
}

// FeedConfig holds feed de-duplication settings
type FeedConfig struct {
	DedupWindow time.Duration `mapstructure:"dedup_window"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Output string `mapstructure:"output"`
	Path   string `mapstructure:"path"`
}

// MetricsConfig holds the prometheus endpoint settings
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Address string `mapstructure:"address"`
}
