// Package config holds the provider routing configuration: which provider and
// model serve each content type, and how each provider is reached. The file is
// watched and reloaded while the process runs; readers take one snapshot per
// operation.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
	"github.com/spf13/viper"
)

// DefaultSubtype is the reserved subtype key used as the per-category fallback.
const DefaultSubtype = "_default"

// Selection names the provider and model for one (category, subtype) pair.
type Selection struct {
	Provider string `mapstructure:"provider"`
	Model    string `mapstructure:"model"`
}

// Endpoint describes how a provider is reached.
type Endpoint struct {
	BaseURL string `mapstructure:"base_url"`
	APIKey  string `mapstructure:"api_key"`
}

// ProviderSettings is an immutable snapshot of the routing configuration.
type ProviderSettings struct {
	Defaults  map[string]map[string]Selection `mapstructure:"defaults"`
	Providers map[string]Endpoint             `mapstructure:"providers"`
}

// Selection looks up the exact subtype entry of a category.
func (s *ProviderSettings) Selection(category, subtype string) (Selection, bool) {
	if s == nil {
		return Selection{}, false
	}
	subtypes, ok := s.Defaults[strings.ToLower(category)]
	if !ok {
		return Selection{}, false
	}
	sel, ok := subtypes[strings.ToLower(subtype)]
	return sel, ok
}

// Endpoint returns the connection settings of a provider.
func (s *ProviderSettings) Endpoint(provider string) (Endpoint, bool) {
	if s == nil {
		return Endpoint{}, false
	}
	ep, ok := s.Providers[strings.ToLower(provider)]
	return ep, ok
}

// Source hands out the current snapshot.
type Source interface {
	Snapshot() *ProviderSettings
}

// Static is a Source that never changes.
type Static struct {
	settings *ProviderSettings
}

// NewStatic normalizes settings and wraps them in a Source.
func NewStatic(settings ProviderSettings) (*Static, error) {
	normalized, err := normalize(settings)
	if err != nil {
		return nil, err
	}
	return &Static{settings: normalized}, nil
}

// Snapshot implements Source.
func (s *Static) Snapshot() *ProviderSettings {
	return s.settings
}

// Watcher keeps the latest valid settings read from a file.
type Watcher struct {
	v       *viper.Viper
	current atomic.Pointer[ProviderSettings]
	logger  zerolog.Logger
}

// Load reads the file at path. Environment variables prefixed with
// GENPIPE_ override file keys (GENPIPE_PROVIDERS_OPENAI_API_KEY).
func Load(path string, logger zerolog.Logger) (*Watcher, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("config: provider config path is required")
	}
	v := viper.New()
	v.SetConfigFile(path)
	v.SetEnvPrefix("GENPIPE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	w := &Watcher{v: v, logger: logger.With().Str("component", "provider-config").Logger()}
	if err := w.Reload(); err != nil {
		return nil, err
	}
	return w, nil
}

// Reload re-reads the file. A file that fails to parse or validate leaves the
// previous snapshot in place.
func (w *Watcher) Reload() error {
	if err := w.v.ReadInConfig(); err != nil {
		return fmt.Errorf("config: read provider config: %w", err)
	}
	var raw ProviderSettings
	if err := w.v.Unmarshal(&raw); err != nil {
		return fmt.Errorf("config: decode provider config: %w", err)
	}
	settings, err := normalize(raw)
	if err != nil {
		return err
	}
	w.current.Store(settings)
	return nil
}

// Watch starts following file changes. onChange, when set, runs after every
// successful reload.
func (w *Watcher) Watch(onChange func(*ProviderSettings)) {
	w.v.OnConfigChange(func(e fsnotify.Event) {
		if err := w.Reload(); err != nil {
			w.logger.Error().Err(err).Str("file", e.Name).Msg("provider config reload rejected; keeping previous settings")
			return
		}
		w.logger.Info().Str("file", e.Name).Msg("provider config reloaded")
		if onChange != nil {
			onChange(w.Snapshot())
		}
	})
	w.v.WatchConfig()
}

// Snapshot implements Source.
func (w *Watcher) Snapshot() *ProviderSettings {
	return w.current.Load()
}

func normalize(in ProviderSettings) (*ProviderSettings, error) {
	out := &ProviderSettings{
		Defaults:  make(map[string]map[string]Selection, len(in.Defaults)),
		Providers: make(map[string]Endpoint, len(in.Providers)),
	}
	for category, subtypes := range in.Defaults {
		cat := strings.ToLower(strings.TrimSpace(category))
		entries := make(map[string]Selection, len(subtypes))
		for subtype, sel := range subtypes {
			sel.Provider = strings.TrimSpace(sel.Provider)
			sel.Model = strings.TrimSpace(sel.Model)
			if sel.Provider == "" || sel.Model == "" {
				return nil, fmt.Errorf("config: defaults.%s.%s needs both provider and model", category, subtype)
			}
			entries[strings.ToLower(strings.TrimSpace(subtype))] = sel
		}
		out.Defaults[cat] = entries
	}
	for name, ep := range in.Providers {
		ep.BaseURL = strings.TrimRight(strings.TrimSpace(ep.BaseURL), "/")
		ep.APIKey = strings.TrimSpace(os.ExpandEnv(ep.APIKey))
		if ep.BaseURL == "" {
			return nil, fmt.Errorf("config: providers.%s.base_url is required", name)
		}
		out.Providers[strings.ToLower(strings.TrimSpace(name))] = ep
	}
	return out, nil
}
