package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"

	"gopkg.in/yaml.v3"

	"github.com/MrWong99/genogram/internal/conversation"
)

// Default model and voice identifiers.
const (
	DefaultChatModel = "gemini-2.5-flash"
	DefaultLiveModel = "gemini-2.5-flash-native-audio-preview-09-2025"
	DefaultVoice     = "Fenrir"
)

// ValidProviderNames lists known provider names per provider kind.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = map[string][]string{
	"chat":     {"gemini", "openai", "anthropic", "ollama", "deepseek", "mistral", "groq", "llamacpp", "llamafile"},
	"analysis": {"gemini", "openai", "anthropic", "ollama", "deepseek", "mistral", "groq", "llamacpp", "llamafile"},
	"live":     {"gemini-live", "openai-realtime"},
	"audio":    {"portaudio"},
}

// apiKeyEnv lists, per provider name, the environment variables consulted
// in order when an entry has no api_key.
var apiKeyEnv = map[string][]string{
	"gemini":          {"GEMINI_API_KEY", "API_KEY"},
	"gemini-live":     {"GEMINI_API_KEY", "API_KEY"},
	"openai":          {"OPENAI_API_KEY"},
	"openai-realtime": {"OPENAI_API_KEY"},
}

// Default returns the configuration used for every field a file leaves out.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			ListenAddr: ":8080",
			LogLevel:   LogInfo,
		},
		Language: conversation.Spanish,
		Providers: ProvidersConfig{
			Chat:     ProviderEntry{Name: "gemini", Model: DefaultChatModel},
			Live:     ProviderEntry{Name: "gemini-live", Model: DefaultLiveModel},
			Analysis: ProviderEntry{Name: "gemini", Model: DefaultChatModel},
			Audio:    ProviderEntry{Name: "portaudio"},
		},
		Live: LiveConfig{
			Voice:      DefaultVoice,
			BlockSize:  4096,
			DeviceRate: 48000,
			QueueDepth: 32,
		},
		Chat: ChatConfig{
			Temperature:     0.7,
			MaxOutputTokens: 300,
		},
		Analysis: AnalysisConfig{MinMessages: 3},
	}
}

// Load reads the YAML configuration file at path and returns a validated [Config].
// It is a convenience wrapper around [LoadFromReader].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r on top of [Default], fills
// missing API keys from the environment, and validates the result.
// An empty document yields the defaults.
func LoadFromReader(r io.Reader) (*Config, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("config: read: %w", err)
	}
	return parse(data)
}

func parse(data []byte) (*Config, error) {
	def := Default()
	cfg := Default()
	cfg.Providers = ProvidersConfig{}

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}

	// Provider entries default as a whole so a partially specified entry
	// never inherits another provider's model.
	fillEntry(&cfg.Providers.Chat, def.Providers.Chat)
	fillEntry(&cfg.Providers.Live, def.Providers.Live)
	fillEntry(&cfg.Providers.Analysis, def.Providers.Analysis)
	fillEntry(&cfg.Providers.Audio, def.Providers.Audio)

	ResolveEnv(cfg, os.Getenv)

	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func fillEntry(e *ProviderEntry, def ProviderEntry) {
	if e.Name == "" {
		apiKey, baseURL := e.APIKey, e.BaseURL
		*e = def
		e.APIKey, e.BaseURL = apiKey, baseURL
		return
	}
	if e.Model == "" && e.Name == def.Name {
		e.Model = def.Model
	}
}

// ResolveEnv fills empty provider API keys from the environment using getenv.
// Gemini-backed entries consult GEMINI_API_KEY, then API_KEY.
func ResolveEnv(cfg *Config, getenv func(string) string) {
	entries := []*ProviderEntry{
		&cfg.Providers.Chat,
		&cfg.Providers.Live,
		&cfg.Providers.Analysis,
	}
	for i := range cfg.Providers.Fallbacks {
		entries = append(entries, &cfg.Providers.Fallbacks[i])
	}
	for _, e := range entries {
		if e.APIKey != "" {
			continue
		}
		for _, name := range apiKeyEnv[e.Name] {
			if v := getenv(name); v != "" {
				e.APIKey = v
				break
			}
		}
	}
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if tls := cfg.Server.TLS; tls != nil && (tls.CertFile == "" || tls.KeyFile == "") {
		errs = append(errs, errors.New("server.tls requires both cert_file and key_file"))
	}

	if !cfg.Language.IsValid() {
		errs = append(errs, fmt.Errorf("language %q is invalid; valid values: es, en", cfg.Language))
	}

	// Providers
	if cfg.Providers.Chat.Name == "" {
		errs = append(errs, errors.New("providers.chat.name is required"))
	}
	if cfg.Providers.Live.Name == "" {
		errs = append(errs, errors.New("providers.live.name is required"))
	}
	validateProviderName("chat", cfg.Providers.Chat.Name)
	validateProviderName("analysis", cfg.Providers.Analysis.Name)
	validateProviderName("live", cfg.Providers.Live.Name)
	validateProviderName("audio", cfg.Providers.Audio.Name)
	for i, fb := range cfg.Providers.Fallbacks {
		if fb.Name == "" {
			errs = append(errs, fmt.Errorf("providers.fallbacks[%d].name is required", i))
			continue
		}
		validateProviderName("chat", fb.Name)
	}

	// Live
	if cfg.Live.BlockSize <= 0 {
		errs = append(errs, fmt.Errorf("live.block_size %d must be positive", cfg.Live.BlockSize))
	}
	if cfg.Live.DeviceRate < 0 {
		errs = append(errs, fmt.Errorf("live.device_rate %d must not be negative", cfg.Live.DeviceRate))
	}
	if cfg.Live.QueueDepth <= 0 {
		errs = append(errs, fmt.Errorf("live.queue_depth %d must be positive", cfg.Live.QueueDepth))
	}

	// Chat
	if cfg.Chat.Temperature < 0 || cfg.Chat.Temperature > 2 {
		errs = append(errs, fmt.Errorf("chat.temperature %.2f is out of range [0, 2]", cfg.Chat.Temperature))
	}
	if cfg.Chat.MaxOutputTokens <= 0 {
		errs = append(errs, fmt.Errorf("chat.max_output_tokens %d must be positive", cfg.Chat.MaxOutputTokens))
	}

	// Analysis
	if cfg.Analysis.MinMessages < 1 {
		errs = append(errs, fmt.Errorf("analysis.min_messages %d must be at least 1", cfg.Analysis.MinMessages))
	}

	return errors.Join(errs...)
}

// validateProviderName logs a warning if name is non-empty and not found in
// the [ValidProviderNames] list for the given kind.
func validateProviderName(kind, name string) {
	if name == "" {
		return
	}
	known, ok := ValidProviderNames[kind]
	if !ok {
		return
	}
	if slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown provider name, may be a typo or third-party provider",
		"kind", kind,
		"name", name,
		"known", known,
	)
}
