// Package config provides the configuration schema, loader, provider
// registry, and hot-reload watcher for the listenkit daemon.
package config

// LogLevel controls log verbosity for the daemon.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// Config is the root configuration structure. It is typically loaded from a
// YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server   ServerConfig  `yaml:"server"`
	Provider ProviderEntry `yaml:"provider"`
	Audio    ProviderEntry `yaml:"audio"`
	Listen   ListenConfig  `yaml:"listen"`
}

// ServerConfig holds network and logging settings for the operational HTTP
// server.
type ServerConfig struct {
	// ListenAddr is the TCP address the operational server listens on
	// (e.g., ":8080").
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity.
	LogLevel LogLevel `yaml:"log_level"`
}

// ProviderEntry is the common configuration block for pluggable backends.
// The Name field is used to look up the constructor in the [Registry].
type ProviderEntry struct {
	// Name selects the registered implementation (e.g., "whisper", "wsbridge").
	Name string `yaml:"name"`

	// APIKey is the authentication key for the backend, if any.
	APIKey string `yaml:"api_key"`

	// BaseURL overrides the backend's default endpoint. Leave empty to use
	// the built-in default.
	BaseURL string `yaml:"base_url"`

	// Model selects a model within the backend (e.g., a whisper model file
	// path or remote model name).
	Model string `yaml:"model"`

	// Options holds backend-specific configuration values not covered by the
	// standard fields above. Values may be strings, numbers, booleans, or
	// nested maps.
	Options map[string]any `yaml:"options"`
}

// ListenConfig holds the session tuning knobs. Zero values select the
// controller defaults.
type ListenConfig struct {
	// Locale is the default recognition language tag (e.g., "ko-KR").
	Locale string `yaml:"locale"`

	// ThrottleInterval bounds the partial-result emission rate.
	ThrottleInterval Duration `yaml:"throttle_interval"`

	// RestartDelay is the pause before re-arming after a recoverable error.
	RestartDelay Duration `yaml:"restart_delay"`

	// ForcedCleanupDelay bounds how long a retired recognition attempt may
	// take to confirm teardown.
	ForcedCleanupDelay Duration `yaml:"forced_cleanup_delay"`

	// StartTimeout bounds recognition attempt creation.
	StartTimeout Duration `yaml:"start_timeout"`

	// CancelGrace is how long after a stop request residual provider errors
	// are treated as cancellation artifacts.
	CancelGrace Duration `yaml:"cancel_grace"`

	// DuplicateThreshold is the similarity above which a re-delivered final
	// is dropped from the transcript. Range (0, 1]; values above 1 disable
	// similarity suppression.
	DuplicateThreshold float64 `yaml:"duplicate_threshold"`
}
