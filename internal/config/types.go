package config

import "time"

// Config represents the main configuration structure
type Config struct {
	DeID    DeIDConfig    `yaml:"deid" mapstructure:"deid"`
	Batch   BatchConfig   `yaml:"batch" mapstructure:"batch"`
	Mapping MappingConfig `yaml:"mapping" mapstructure:"mapping"`
	AuditDB AuditDBConfig `yaml:"audit_db" mapstructure:"audit_db"`
	Monitor MonitorConfig `yaml:"monitor" mapstructure:"monitor"`
	Logging LoggingConfig `yaml:"logging" mapstructure:"logging"`
}

// DeIDConfig contains the immutable per-run de-identification options.
type DeIDConfig struct {
	// Method selects the compliance method: safe_harbor (categorical
	// removal) or statistical (risk-based).
	Method string `yaml:"method" mapstructure:"method"`
	// Salt seeds every deterministic derivation for the run. An empty
	// salt gets a random one, which still gives in-session consistency
	// but not cross-run reproducibility.
	Salt      string `yaml:"salt" mapstructure:"salt"`
	DateShift struct {
		Mode      string `yaml:"mode" mapstructure:"mode"` // none, fixed, or per_subject
		FixedDays int    `yaml:"fixed_days" mapstructure:"fixed_days"`
		MaxDays   int    `yaml:"max_days" mapstructure:"max_days"`
	} `yaml:"date_shift" mapstructure:"date_shift"`
	// Preserve lists category names kept verbatim.
	Preserve []string `yaml:"preserve" mapstructure:"preserve"`
	// CustomFields extends the taxonomy table: field location -> category name.
	CustomFields map[string]string `yaml:"custom_fields" mapstructure:"custom_fields"`
	// ValidationThreshold is the confidence above which a residual
	// finding fails post-transform validation. 0 means any finding fails.
	ValidationThreshold float64 `yaml:"validation_threshold" mapstructure:"validation_threshold"`
	// NERModelPath points at an ONNX token-classification model for
	// free-text detection. Only used when built with the onnx tag.
	NERModelPath string `yaml:"ner_model_path" mapstructure:"ner_model_path"`
}

// BatchConfig contains batch orchestration configuration.
type BatchConfig struct {
	Workers           int      `yaml:"workers" mapstructure:"workers"`
	ItemsPerSecond    float64  `yaml:"items_per_second" mapstructure:"items_per_second"` // 0 = unthrottled
	FileExtensions    []string `yaml:"file_extensions" mapstructure:"file_extensions"`
	OutputSuffix      string   `yaml:"output_suffix" mapstructure:"output_suffix"`
	ExportMappings    bool     `yaml:"export_mappings" mapstructure:"export_mappings"`
	MappingExportPath string   `yaml:"mapping_export_path" mapstructure:"mapping_export_path"`
	Ledger            struct {
		Enabled       bool   `yaml:"enabled" mapstructure:"enabled"`
		IncludeValues bool   `yaml:"include_values" mapstructure:"include_values"`
		ParquetPath   string `yaml:"parquet_path" mapstructure:"parquet_path"`
		MaxEntries    int    `yaml:"max_entries" mapstructure:"max_entries"`
	} `yaml:"ledger" mapstructure:"ledger"`
}

// MappingConfig contains the optional Redis-backed cross-run mapping tier.
type MappingConfig struct {
	Enabled        bool          `yaml:"enabled" mapstructure:"enabled"`
	RedisURL       string        `yaml:"redis_url" mapstructure:"redis_url"`
	DefaultTTL     time.Duration `yaml:"default_ttl" mapstructure:"default_ttl"`
	MaxConnections int           `yaml:"max_connections" mapstructure:"max_connections"`
	MinIdleConns   int           `yaml:"min_idle_conns" mapstructure:"min_idle_conns"`
}

// AuditDBConfig contains the optional Postgres audit store configuration.
type AuditDBConfig struct {
	Enabled         bool          `yaml:"enabled" mapstructure:"enabled"`
	DatabaseURL     string        `yaml:"database_url" mapstructure:"database_url"`
	MaxOpenConns    int           `yaml:"max_open_conns" mapstructure:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns" mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" mapstructure:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `yaml:"conn_max_idle_time" mapstructure:"conn_max_idle_time"`
}

// MonitorConfig contains the optional monitoring HTTP server configuration.
type MonitorConfig struct {
	Enabled      bool          `yaml:"enabled" mapstructure:"enabled"`
	Port         int           `yaml:"port" mapstructure:"port"`
	ReadTimeout  time.Duration `yaml:"read_timeout" mapstructure:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout" mapstructure:"write_timeout"`
	IdleTimeout  time.Duration `yaml:"idle_timeout" mapstructure:"idle_timeout"`
	WebSocket    struct {
		Path         string        `yaml:"path" mapstructure:"path"`
		PingInterval time.Duration `yaml:"ping_interval" mapstructure:"ping_interval"`
		WriteTimeout time.Duration `yaml:"write_timeout" mapstructure:"write_timeout"`
		SendBuffer   int           `yaml:"send_buffer" mapstructure:"send_buffer"`
	} `yaml:"websocket" mapstructure:"websocket"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"` // json or console
	File   struct {
		Enabled  bool   `yaml:"enabled" mapstructure:"enabled"`
		Path     string `yaml:"path" mapstructure:"path"`
		MaxSize  int    `yaml:"max_size" mapstructure:"max_size"`
		MaxAge   int    `yaml:"max_age" mapstructure:"max_age"`
		Compress bool   `yaml:"compress" mapstructure:"compress"`
	} `yaml:"file" mapstructure:"file"`
}

// GetDefaults returns a configuration with sensible defaults
func GetDefaults() *Config {
	cfg := &Config{
		DeID: DeIDConfig{
			Method:              "safe_harbor",
			ValidationThreshold: 0,
		},
		Batch: BatchConfig{
			Workers:        4,
			FileExtensions: []string{".hl7", ".txt"},
			OutputSuffix:   ".deid",
		},
		Mapping: MappingConfig{
			Enabled:        false,
			RedisURL:       "redis://localhost:6379/0",
			DefaultTTL:     720 * time.Hour,
			MaxConnections: 10,
			MinIdleConns:   2,
		},
		AuditDB: AuditDBConfig{
			Enabled:         false,
			MaxOpenConns:    10,
			MaxIdleConns:    2,
			ConnMaxLifetime: time.Hour,
			ConnMaxIdleTime: 10 * time.Minute,
		},
		Monitor: MonitorConfig{
			Enabled:      false,
			Port:         8080,
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 30 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
	cfg.DeID.DateShift.Mode = "per_subject"
	cfg.DeID.DateShift.MaxDays = 365
	cfg.Batch.Ledger.Enabled = true
	cfg.Batch.Ledger.MaxEntries = 100000
	cfg.Logging.File.Path = "logs/phisentinel.log"
	cfg.Logging.File.MaxSize = 100 // MB
	cfg.Logging.File.MaxAge = 30   // days
	cfg.Logging.File.Compress = true
	cfg.Monitor.WebSocket.Path = "/ws"
	cfg.Monitor.WebSocket.PingInterval = 54 * time.Second
	cfg.Monitor.WebSocket.WriteTimeout = 10 * time.Second
	cfg.Monitor.WebSocket.SendBuffer = 64
	return cfg
}
