package config

// Config represents the main jelmore configuration
type Config struct {
	// Server
	Server ServerConfig `json:"server" mapstructure:"server"`

	// Storage
	Storage StorageConfig `json:"storage" mapstructure:"storage"`

	// Sessions
	Sessions SessionsConfig `json:"sessions" mapstructure:"sessions"`

	// Providers
	Providers ProvidersConfig `json:"providers" mapstructure:"providers"`

	// Monitors
	Monitors MonitorsConfig `json:"monitors" mapstructure:"monitors"`

	// Logging
	Logging LoggingConfig `json:"logging" mapstructure:"logging"`

	// Data directory
	DataDir string `json:"data_dir" mapstructure:"data_dir"`
}

// ServerConfig holds the HTTP surface configuration
type ServerConfig struct {
	Host        string `json:"host" mapstructure:"host"`
	Port        int    `json:"port" mapstructure:"port"`
	MetricsPort int    `json:"metrics_port" mapstructure:"metrics_port"`
}

// StorageConfig holds durable store and cache configuration
type StorageConfig struct {
	DatabasePath      string `json:"database_path" mapstructure:"database_path"`
	CacheTTLMinutes   int    `json:"cache_ttl_minutes" mapstructure:"cache_ttl_minutes"`
	CacheSweepSeconds int    `json:"cache_sweep_seconds" mapstructure:"cache_sweep_seconds"`
}

// SessionsConfig holds session lifecycle limits
type SessionsConfig struct {
	MaxConcurrent      int `json:"max_concurrent" mapstructure:"max_concurrent"`
	WarnAfterMinutes   int `json:"warn_after_minutes" mapstructure:"warn_after_minutes"`
	FailAfterMinutes   int `json:"fail_after_minutes" mapstructure:"fail_after_minutes"`
	RetentionMinutes   int `json:"retention_minutes" mapstructure:"retention_minutes"`
	DefaultMaxTurns    int `json:"default_max_turns" mapstructure:"default_max_turns"`
	DefaultTimeoutSecs int `json:"default_timeout_secs" mapstructure:"default_timeout_secs"`
}

// ProvidersConfig holds per-provider adapter configuration
type ProvidersConfig struct {
	Default   string          `json:"default" mapstructure:"default"`
	ClaudeCLI ClaudeCLIConfig `json:"claude_cli" mapstructure:"claude_cli"`
	Anthropic APIConfig       `json:"anthropic" mapstructure:"anthropic"`
	OpenAI    APIConfig       `json:"openai" mapstructure:"openai"`
	Echo      EchoConfig      `json:"echo" mapstructure:"echo"`
}

// ClaudeCLIConfig holds the subprocess adapter configuration
type ClaudeCLIConfig struct {
	Enabled     bool   `json:"enabled" mapstructure:"enabled"`
	Binary      string `json:"binary" mapstructure:"binary"`
	MaxSessions int    `json:"max_sessions" mapstructure:"max_sessions"`
}

// APIConfig holds an API-backed adapter configuration
type APIConfig struct {
	Enabled     bool   `json:"enabled" mapstructure:"enabled"`
	APIKey      string `json:"api_key" mapstructure:"api_key"`
	MaxSessions int    `json:"max_sessions" mapstructure:"max_sessions"`
}

// EchoConfig holds the synthetic echo adapter configuration
type EchoConfig struct {
	Enabled bool `json:"enabled" mapstructure:"enabled"`
}

// MonitorsConfig holds background sweep intervals
type MonitorsConfig struct {
	TimeoutSweepSeconds int `json:"timeout_sweep_seconds" mapstructure:"timeout_sweep_seconds"`
	CleanupSweepSeconds int `json:"cleanup_sweep_seconds" mapstructure:"cleanup_sweep_seconds"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level   string `json:"level" mapstructure:"level"`
	File    string `json:"file" mapstructure:"file"`
	Console bool   `json:"console" mapstructure:"console"`
	Pretty  bool   `json:"pretty" mapstructure:"pretty"`
}

// DefaultConfig returns a config with default values
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:        "127.0.0.1",
			Port:        8052,
			MetricsPort: 9090,
		},
		Storage: StorageConfig{
			CacheTTLMinutes:   30,
			CacheSweepSeconds: 60,
		},
		Sessions: SessionsConfig{
			MaxConcurrent:      100,
			WarnAfterMinutes:   20,
			FailAfterMinutes:   30,
			RetentionMinutes:   60,
			DefaultMaxTurns:    10,
			DefaultTimeoutSecs: 300,
		},
		Providers: ProvidersConfig{
			Default: "echo",
			ClaudeCLI: ClaudeCLIConfig{
				Binary:      "claude",
				MaxSessions: 10,
			},
			Echo: EchoConfig{Enabled: true},
		},
		Monitors: MonitorsConfig{
			TimeoutSweepSeconds: 60,
			CleanupSweepSeconds: 300,
		},
		Logging: LoggingConfig{
			Level:   "info",
			Console: true,
			Pretty:  true,
		},
	}
}
