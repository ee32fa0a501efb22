package config

import (
	"slices"

	"github.com/MrWong99/genogram/internal/conversation"
)

// ConfigDiff describes what changed between two configs.
// Only fields that can be applied without a restart are tracked.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	LanguageChanged bool
	NewLanguage     conversation.Language

	// ChatChanged is set when temperature or max_output_tokens moved.
	ChatChanged bool
	NewChat     ChatConfig

	// RestartRequired lists the top-level sections that changed but are
	// only read at startup.
	RestartRequired []string
}

// Empty reports whether d carries no change at all.
func (d ConfigDiff) Empty() bool {
	return !d.LogLevelChanged && !d.LanguageChanged && !d.ChatChanged && len(d.RestartRequired) == 0
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}
	if old.Language != new.Language {
		d.LanguageChanged = true
		d.NewLanguage = new.Language
	}
	if old.Chat != new.Chat {
		d.ChatChanged = true
		d.NewChat = new.Chat
	}

	if old.Server.ListenAddr != new.Server.ListenAddr || !sameTLS(old.Server.TLS, new.Server.TLS) {
		d.RestartRequired = append(d.RestartRequired, "server")
	}
	if !sameEntry(old.Providers.Chat, new.Providers.Chat) ||
		!sameEntry(old.Providers.Live, new.Providers.Live) ||
		!sameEntry(old.Providers.Analysis, new.Providers.Analysis) ||
		!sameEntry(old.Providers.Audio, new.Providers.Audio) ||
		!slices.EqualFunc(old.Providers.Fallbacks, new.Providers.Fallbacks, sameEntry) {
		d.RestartRequired = append(d.RestartRequired, "providers")
	}
	if old.Live != new.Live {
		d.RestartRequired = append(d.RestartRequired, "live")
	}
	if old.Analysis != new.Analysis {
		d.RestartRequired = append(d.RestartRequired, "analysis")
	}
	return d
}

func sameTLS(a, b *TLSConfig) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

// sameEntry compares the scalar fields of two entries.
func sameEntry(a, b ProviderEntry) bool {
	return a.Name == b.Name && a.APIKey == b.APIKey && a.BaseURL == b.BaseURL && a.Model == b.Model
}
