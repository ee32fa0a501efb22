package app

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/MrWong99/genogram/internal/config"
	"github.com/MrWong99/genogram/internal/observe"
	"github.com/MrWong99/genogram/internal/resilience"
	"github.com/MrWong99/genogram/pkg/audio"
	"github.com/MrWong99/genogram/pkg/provider/live"
	"github.com/MrWong99/genogram/pkg/provider/llm"
)

// Providers holds one value per provider slot. Chat and Analysis may be nil,
// in which case chat replies with a localized notice and analysis never runs.
type Providers struct {
	Chat     llm.Provider
	Analysis llm.Provider
	Live     live.Provider
	Audio    audio.Devices
}

// BuildProviders instantiates every configured provider through reg. Chat and
// analysis are wrapped in an [resilience.LLMFallback] that tries the
// configured fallbacks when the primary fails or its breaker is open. An empty
// analysis entry reuses the chat entry.
func BuildProviders(cfg *config.Config, reg *config.Registry, metrics *observe.Metrics) (*Providers, error) {
	var (
		p    Providers
		errs []error
		err  error
	)

	p.Chat, err = buildLLM(reg, "chat", cfg.Providers.Chat, cfg.Providers.Fallbacks, metrics)
	if err != nil {
		errs = append(errs, err)
	}

	analysisEntry := cfg.Providers.Analysis
	if analysisEntry.Name == "" {
		analysisEntry = cfg.Providers.Chat
	}
	p.Analysis, err = buildLLM(reg, "analysis", analysisEntry, cfg.Providers.Fallbacks, metrics)
	if err != nil {
		errs = append(errs, err)
	}

	if p.Live, err = reg.CreateLive(cfg.Providers.Live); err != nil {
		errs = append(errs, fmt.Errorf("app: live provider %q: %w", cfg.Providers.Live.Name, err))
	}
	if p.Audio, err = reg.CreateAudio(cfg.Providers.Audio); err != nil {
		errs = append(errs, fmt.Errorf("app: audio provider %q: %w", cfg.Providers.Audio.Name, err))
	}

	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return &p, nil
}

func buildLLM(reg *config.Registry, kind string, primary config.ProviderEntry, fallbacks []config.ProviderEntry, metrics *observe.Metrics) (llm.Provider, error) {
	if primary.Name == "" {
		return nil, nil
	}
	prov, err := reg.CreateLLM(primary)
	if err != nil {
		return nil, fmt.Errorf("app: %s provider %q: %w", kind, primary.Name, err)
	}

	group := resilience.NewLLMFallback(prov, entryLabel(primary), resilience.FallbackConfig{
		Kind:    kind,
		Metrics: metrics,
		CircuitBreaker: resilience.CircuitBreakerConfig{
			OnStateChange: func(name string, from, to resilience.State) {
				slog.Warn("provider circuit breaker changed state",
					"kind", kind,
					"provider", name,
					"from", from,
					"to", to,
				)
			},
		},
	})
	for _, fb := range fallbacks {
		fp, err := reg.CreateLLM(fb)
		if err != nil {
			slog.Warn("skipping fallback provider", "kind", kind, "provider", fb.Name, "err", err)
			continue
		}
		group.AddFallback(entryLabel(fb), fp)
	}
	return group, nil
}

// entryLabel names a provider entry in logs and metrics.
func entryLabel(e config.ProviderEntry) string {
	if e.Model == "" {
		return e.Name
	}
	return e.Name + "/" + e.Model
}

// breakerCheck reports an error when every backend behind p has an open
// circuit breaker. Providers that are not fallback groups always pass.
func breakerCheck(p llm.Provider) error {
	fb, ok := p.(*resilience.LLMFallback)
	if !ok {
		return nil
	}
	g := fb.Group()
	for _, name := range g.Names() {
		if b := g.Breaker(name); b != nil && b.State() != resilience.StateOpen {
			return nil
		}
	}
	return fmt.Errorf("all providers unavailable: %v", g.Names())
}
