package config

import (
	"fmt"
	"log"
	"path/filepath"
	"reflect"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"

	"github.com/HORNET-Storage/hornet-relay-client/lib/types"
)

var (
	// Cache the configuration after first load
	cachedConfig    atomic.Value // stores *types.Config
	configLoadOnce  sync.Once
	configLoadError error

	// Only protect write operations
	writeMutex sync.Mutex

	// Debounce timer for config file changes
	debounceTimer *time.Timer
	debounceMutex sync.Mutex

	changeHooks   []func(*types.Config)
	changeHooksMu sync.Mutex
)

// InitConfig initializes the global viper configuration.
// An explicit file path overrides the search in . and ./config.
func InitConfig(file string) error {
	if file != "" {
		viper.SetConfigFile(file)
	} else {
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(".")
		viper.AddConfigPath("./config")
	}

	viper.SetEnvPrefix("HORNETS_CLIENT")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	setDefaults()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok && file == "" {
			fmt.Println("No config.yaml found, creating default configuration...")
			if err := viper.SafeWriteConfigAs("config.yaml"); err != nil {
				return fmt.Errorf("failed to create default config: %w", err)
			}
			if err := viper.ReadInConfig(); err != nil {
				return fmt.Errorf("failed to read created config: %w", err)
			}
		} else {
			return fmt.Errorf("error reading config file: %w", err)
		}
	}

	if err := reloadConfigCache(); err != nil {
		return fmt.Errorf("failed to load initial config: %w", err)
	}

	viper.WatchConfig()
	viper.OnConfigChange(func(e fsnotify.Event) {
		// Debounce to avoid reading partial writes
		debounceMutex.Lock()
		defer debounceMutex.Unlock()

		if debounceTimer != nil {
			debounceTimer.Stop()
		}

		debounceTimer = time.AfterFunc(500*time.Millisecond, func() {
			log.Printf("Config file changed (debounced): %s", e.Name)
			writeMutex.Lock()
			err := reloadConfigCache()
			writeMutex.Unlock()

			if err != nil {
				log.Printf("Error reloading config cache after file change: %v", err)
				return
			}
			notifyChange()
		})
	})

	return nil
}

// setDefaults registers default values for every key the client reads
func setDefaults() {
	viper.SetDefault("client.data_path", "./data")

	viper.SetDefault("relays.default", []string{
		"wss://relay.damus.io",
		"wss://nos.lol",
		"wss://relay.nostr.band",
	})
	viper.SetDefault("relays.dial_timeout", "10s")
	viper.SetDefault("relays.write_timeout", "5s")
	viper.SetDefault("relays.max_concurrent_dials", 8)

	viper.SetDefault("connection.grace_period", "500ms")
	viper.SetDefault("connection.first_retry_delay", "2s")
	viper.SetDefault("connection.retry_delay", "5s")
	viper.SetDefault("connection.max_retries", 3)
	viper.SetDefault("connection.keepalive_interval", "90s")
	viper.SetDefault("connection.stale_after", "180s")
	viper.SetDefault("connection.network_debounce", "3s")
	viper.SetDefault("connection.network_poll", "5s")

	viper.SetDefault("health.flag_threshold", 5)
	viper.SetDefault("health.db_file", "relay_health.db")

	viper.SetDefault("auth.private_key", "")

	viper.SetDefault("feed.dedup_window", "10m")

	viper.SetDefault("logging.level", "info")
	viper.SetDefault("logging.output", "stdout")
	viper.SetDefault("logging.path", "")

	viper.SetDefault("metrics.enabled", false)
	viper.SetDefault("metrics.address", "127.0.0.1:9464")
}

// reloadConfigCache loads the configuration from viper into the cache
func reloadConfigCache() error {
	config := &types.Config{}
	if err := viper.Unmarshal(config); err != nil {
		return fmt.Errorf("failed to unmarshal config: %w", err)
	}
	cachedConfig.Store(config)
	return nil
}

// OnChange registers fn to run with the new configuration after every reload
func OnChange(fn func(*types.Config)) {
	changeHooksMu.Lock()
	defer changeHooksMu.Unlock()
	changeHooks = append(changeHooks, fn)
}

func notifyChange() {
	cfg, err := GetConfig()
	if err != nil {
		return
	}

	changeHooksMu.Lock()
	hooks := append([]func(*types.Config){}, changeHooks...)
	changeHooksMu.Unlock()

	for _, fn := range hooks {
		fn(cfg)
	}
}

// GetConfig returns the cached configuration struct
func GetConfig() (*types.Config, error) {
	if cfg := cachedConfig.Load(); cfg != nil {
		return cfg.(*types.Config), nil
	}

	// Not initialised through InitConfig, load defaults once
	configLoadOnce.Do(func() {
		setDefaults()
		configLoadError = reloadConfigCache()
	})

	if configLoadError != nil {
		return nil, configLoadError
	}

	cfg := cachedConfig.Load()
	if cfg == nil {
		return nil, fmt.Errorf("configuration not loaded")
	}

	return cfg.(*types.Config), nil
}

// GetDataDir returns the data directory path
func GetDataDir() string {
	cfg, err := GetConfig()
	if err != nil || cfg.Client.DataPath == "" {
		return "./data"
	}
	return cfg.Client.DataPath
}

// GetPath returns a path relative to the data directory
func GetPath(subPath string) string {
	return filepath.Join(GetDataDir(), subPath)
}

// UpdateConfig updates a configuration value and optionally saves it.
// Unchanged values are skipped.
func UpdateConfig(key string, value interface{}, save bool) error {
	writeMutex.Lock()
	defer writeMutex.Unlock()

	currentValue := viper.Get(key)
	if reflect.DeepEqual(currentValue, value) {
		log.Printf("No change for %s, skipping update", key)
		return nil
	}

	log.Printf("Updating %s: %v -> %v", key, currentValue, value)
	viper.Set(key, value)

	if save {
		if err := viper.WriteConfig(); err != nil {
			return err
		}
	}

	return reloadConfigCache()
}
