package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// EnvPrefix scopes every environment override, e.g. ECAN_LOGGING_LEVEL.
const EnvPrefix = "ECAN"

// Load loads configuration from file and environment variables
func Load(configPath string) (*Config, error) {
	v := newViper()

	// Use specific config file if provided
	if configPath != "" {
		v.SetConfigFile(configPath)
	}

	// Read configuration
	if err := v.ReadInConfig(); err != nil {
		// Config file not found is not an error - we'll use defaults
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	config := &Config{}
	if err := v.Unmarshal(config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	// Validate configuration
	if err := validateConfig(config); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return config, nil
}

func newViper() *viper.Viper {
	v := viper.New()
	v.SetConfigName("privacyctl")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./configs")
	v.AddConfigPath("$HOME/.ecan/")

	// Environment variable overrides
	v.SetEnvPrefix(EnvPrefix)
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults(v, GetDefaults())
	return v
}

// setDefaults registers every key so AutomaticEnv can override it on Unmarshal.
func setDefaults(v *viper.Viper, d *Config) {
	v.SetDefault("server.host", d.Server.Host)
	v.SetDefault("server.port", d.Server.Port)
	v.SetDefault("server.read_timeout", d.Server.ReadTimeout)
	v.SetDefault("server.write_timeout", d.Server.WriteTimeout)
	v.SetDefault("server.idle_timeout", d.Server.IdleTimeout)
	v.SetDefault("server.auth.enabled", d.Server.Auth.Enabled)
	v.SetDefault("server.auth.username", d.Server.Auth.Username)
	v.SetDefault("server.auth.password", d.Server.Auth.Password)

	v.SetDefault("privacy.enabled", d.Privacy.Enabled)
	v.SetDefault("privacy.config_path", d.Privacy.ConfigPath)
	v.SetDefault("privacy.debug", d.Privacy.Debug)
	v.SetDefault("privacy.step_delay_seconds", d.Privacy.StepDelaySeconds)
	v.SetDefault("privacy.strict", d.Privacy.Strict)
	v.SetDefault("privacy.watch", d.Privacy.Watch)

	v.SetDefault("logging.level", d.Logging.Level)
	v.SetDefault("logging.format", d.Logging.Format)
	v.SetDefault("logging.file.enabled", d.Logging.File.Enabled)
	v.SetDefault("logging.file.path", d.Logging.File.Path)
	v.SetDefault("logging.file.max_size", d.Logging.File.MaxSize)
	v.SetDefault("logging.file.max_backups", d.Logging.File.MaxBackups)
	v.SetDefault("logging.file.max_age", d.Logging.File.MaxAge)
	v.SetDefault("logging.file.compress", d.Logging.File.Compress)

	v.SetDefault("websocket.enabled", d.WebSocket.Enabled)
	v.SetDefault("websocket.path", d.WebSocket.Path)
	v.SetDefault("websocket.max_connections", d.WebSocket.MaxConnections)
	v.SetDefault("websocket.read_buffer_size", d.WebSocket.ReadBufferSize)
	v.SetDefault("websocket.write_buffer_size", d.WebSocket.WriteBufferSize)
	v.SetDefault("websocket.ping_interval", d.WebSocket.PingInterval)
	v.SetDefault("websocket.pong_timeout", d.WebSocket.PongTimeout)
	v.SetDefault("websocket.write_timeout", d.WebSocket.WriteTimeout)
	v.SetDefault("websocket.max_message_size", d.WebSocket.MaxMessageSize)
	v.SetDefault("websocket.allowed_origins", d.WebSocket.AllowedOrigins)
	v.SetDefault("websocket.auth.enabled", d.WebSocket.Auth.Enabled)
	v.SetDefault("websocket.auth.username", d.WebSocket.Auth.Username)
	v.SetDefault("websocket.auth.password", d.WebSocket.Auth.Password)

	v.SetDefault("rate_limit.enabled", d.RateLimit.Enabled)
	v.SetDefault("rate_limit.requests_per_minute", d.RateLimit.RequestsPerMinute)
	v.SetDefault("rate_limit.burst", d.RateLimit.Burst)
}

// validateConfig validates the loaded configuration
func validateConfig(config *Config) error {
	if config.Server.Port <= 0 || config.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", config.Server.Port)
	}

	if config.Privacy.StepDelaySeconds < 0 {
		return fmt.Errorf("invalid step delay: %v (must be >= 0)", config.Privacy.StepDelaySeconds)
	}

	if config.Logging.Level != "debug" && config.Logging.Level != "info" && config.Logging.Level != "warn" && config.Logging.Level != "error" {
		return fmt.Errorf("invalid log level: %s (must be debug, info, warn, or error)", config.Logging.Level)
	}

	if config.Logging.Format != "json" && config.Logging.Format != "console" {
		return fmt.Errorf("invalid log format: %s (must be json or console)", config.Logging.Format)
	}

	if config.WebSocket.Enabled && !strings.HasPrefix(config.WebSocket.Path, "/") {
		return fmt.Errorf("invalid websocket path: %q (must start with /)", config.WebSocket.Path)
	}

	if config.Server.Auth.Enabled && (config.Server.Auth.Username == "" || config.Server.Auth.Password == "") {
		return fmt.Errorf("server auth requires username and password")
	}

	if config.WebSocket.Auth.Enabled && (config.WebSocket.Auth.Username == "" || config.WebSocket.Auth.Password == "") {
		return fmt.Errorf("websocket auth requires username and password")
	}

	if config.RateLimit.Enabled && (config.RateLimit.RequestsPerMinute <= 0 || config.RateLimit.Burst <= 0) {
		return fmt.Errorf("invalid rate limit: %d/min burst %d", config.RateLimit.RequestsPerMinute, config.RateLimit.Burst)
	}

	return nil
}
