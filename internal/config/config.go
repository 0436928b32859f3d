package config

import (
	"fmt"
	"strings"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"

	"github.com/meditrace/phi-sentinel/internal/taxonomy"
)

// Load loads configuration from file and environment variables
func Load(configPath string) (*Config, error) {
	// Set defaults
	config := GetDefaults()

	// Configure viper
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./configs")
	viper.AddConfigPath("/etc/phi-sentinel/")
	viper.AddConfigPath("$HOME/.phi-sentinel/")

	// Environment variable overrides
	viper.SetEnvPrefix("PHISENTINEL")
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// Use specific config file if provided
	if configPath != "" {
		viper.SetConfigFile(configPath)
	}

	// Read configuration
	if err := viper.ReadInConfig(); err != nil {
		// Config file not found is not an error - we'll use defaults
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	// Unmarshal into config struct
	if err := viper.Unmarshal(config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	// Validate configuration
	if err := validateConfig(config); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return config, nil
}

// validateConfig validates the loaded configuration
func validateConfig(config *Config) error {
	if config.DeID.Method != "safe_harbor" && config.DeID.Method != "statistical" {
		return fmt.Errorf("invalid deid method: %s (must be safe_harbor or statistical)", config.DeID.Method)
	}

	switch config.DeID.DateShift.Mode {
	case "none", "fixed", "per_subject":
	default:
		return fmt.Errorf("invalid date shift mode: %s (must be none, fixed, or per_subject)", config.DeID.DateShift.Mode)
	}

	if config.DeID.DateShift.Mode == "per_subject" && config.DeID.DateShift.MaxDays <= 0 {
		return fmt.Errorf("date_shift.max_days must be positive for per_subject mode")
	}

	if config.DeID.ValidationThreshold < 0 || config.DeID.ValidationThreshold >= 1 {
		return fmt.Errorf("validation_threshold must be in [0, 1)")
	}

	for _, name := range config.DeID.Preserve {
		if _, err := taxonomy.ParseCategory(name); err != nil {
			return fmt.Errorf("invalid preserve entry: %w", err)
		}
	}

	if config.Batch.Workers <= 0 {
		return fmt.Errorf("batch workers must be positive, got %d", config.Batch.Workers)
	}

	if config.Monitor.Enabled && (config.Monitor.Port <= 0 || config.Monitor.Port > 65535) {
		return fmt.Errorf("invalid monitor port: %d", config.Monitor.Port)
	}

	if config.AuditDB.Enabled && config.AuditDB.DatabaseURL == "" {
		return fmt.Errorf("audit_db.database_url is required when the audit store is enabled")
	}

	if config.Logging.Level != "debug" && config.Logging.Level != "info" && config.Logging.Level != "warn" && config.Logging.Level != "error" {
		return fmt.Errorf("invalid log level: %s (must be debug, info, warn, or error)", config.Logging.Level)
	}

	if config.Logging.Format != "json" && config.Logging.Format != "console" {
		return fmt.Errorf("invalid log format: %s (must be json or console)", config.Logging.Format)
	}

	return nil
}

// Watch starts watching the configuration file for changes
func Watch(config *Config, callback func(*Config)) error {
	viper.WatchConfig()
	viper.OnConfigChange(func(e fsnotify.Event) {
		newConfig := &Config{}
		if err := viper.Unmarshal(newConfig); err != nil {
			// Log error but don't crash
			return
		}

		if err := validateConfig(newConfig); err != nil {
			// Log error but don't crash
			return
		}

		callback(newConfig)
	})

	return nil
}
