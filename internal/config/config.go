// Package config provides the configuration schema, loader, and provider registry
// for the genogram voice interview assistant.
package config

import "github.com/MrWong99/genogram/internal/conversation"

// LogLevel controls log verbosity for the genogram process.
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

// Config is the root configuration structure for genogram.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server    ServerConfig          `yaml:"server"`
	Language  conversation.Language `yaml:"language"`
	Providers ProvidersConfig       `yaml:"providers"`
	Live      LiveConfig            `yaml:"live"`
	Chat      ChatConfig            `yaml:"chat"`
	Analysis  AnalysisConfig        `yaml:"analysis"`
}

// ServerConfig holds network and logging settings.
type ServerConfig struct {
	// ListenAddr is the TCP address the HTTP API listens on (e.g., ":8080").
	// Empty disables the HTTP API.
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity.
	LogLevel LogLevel `yaml:"log_level"`

	// TLS configures TLS for the server. When nil, the server runs plain HTTP.
	TLS *TLSConfig `yaml:"tls"`
}

// TLSConfig holds TLS certificate paths for enabling HTTPS.
type TLSConfig struct {
	// CertFile is the path to the PEM-encoded TLS certificate.
	CertFile string `yaml:"cert_file"`

	// KeyFile is the path to the PEM-encoded TLS private key.
	KeyFile string `yaml:"key_file"`
}

// ProvidersConfig declares which provider implementation backs each concern.
// Each field selects a named provider registered in the [Registry].
type ProvidersConfig struct {
	// Chat answers typed messages.
	Chat ProviderEntry `yaml:"chat"`

	// Live is the bidirectional voice session backend.
	Live ProviderEntry `yaml:"live"`

	// Analysis produces the structured genogram dashboard and insights.
	Analysis ProviderEntry `yaml:"analysis"`

	// Audio selects the local capture/playback platform.
	Audio ProviderEntry `yaml:"audio"`

	// Fallbacks are LLM entries tried in order when the chat or analysis
	// provider fails or its circuit breaker is open.
	Fallbacks []ProviderEntry `yaml:"fallbacks"`
}

// ProviderEntry is the common configuration block shared by all provider types.
// The Name field is used to look up the constructor in the [Registry].
type ProviderEntry struct {
	// Name selects the registered provider implementation (e.g., "gemini", "anthropic").
	Name string `yaml:"name"`

	// APIKey is the authentication key for the provider's API if any.
	// An empty key on a Gemini-backed entry is filled from the environment.
	APIKey string `yaml:"api_key"`

	// BaseURL overrides the provider's default API endpoint.
	// Leave empty to use the provider's built-in default.
	BaseURL string `yaml:"base_url"`

	// Model selects a specific model within the provider.
	Model string `yaml:"model"`

	// Options holds provider-specific configuration values not covered by the
	// standard fields above. Values may be strings, numbers, booleans, or nested maps.
	Options map[string]any `yaml:"options"`
}

// LiveConfig tunes the voice session.
type LiveConfig struct {
	// Voice is the prebuilt voice name the model speaks with.
	Voice string `yaml:"voice"`

	// BlockSize is the number of capture frames delivered per device callback.
	BlockSize int `yaml:"block_size"`

	// DeviceRate is the microphone rate requested from the platform.
	// 0 uses the device default.
	DeviceRate int `yaml:"device_rate"`

	// QueueDepth bounds the capture hand-off queue. Frames beyond it are dropped.
	QueueDepth int `yaml:"queue_depth"`
}

// ChatConfig tunes text chat completions.
type ChatConfig struct {
	Temperature     float64 `yaml:"temperature"`
	MaxOutputTokens int     `yaml:"max_output_tokens"`
}

// AnalysisConfig tunes when the systemic analysis runs.
type AnalysisConfig struct {
	// MinMessages is the smallest conversation length that triggers an
	// analysis. Runs only happen on even message counts.
	MinMessages int `yaml:"min_messages"`
}
