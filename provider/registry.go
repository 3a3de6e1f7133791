package provider

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"
)

// Engine identifies which concrete constructor builds a custom provider
// config's Provider.
type Engine string

const (
	EngineOpenAI    Engine = "openai"
	EngineAnthropic Engine = "anthropic"
	EngineOllama    Engine = "ollama"
)

// ModelSpec describes one model a custom provider config exposes.
type ModelSpec struct {
	Name         string  `json:"name"`
	ContextLimit int     `json:"context_limit"`
	Cost         *float64 `json:"cost,omitempty"`
}

// CustomConfig is the JSON shape a custom-provider config directory file
// is decoded into.
type CustomConfig struct {
	Name              string            `json:"name"`
	Engine            Engine            `json:"engine"`
	DisplayName       string            `json:"display_name"`
	APIKeyEnv         string            `json:"api_key_env"`
	BaseURL           string            `json:"base_url"`
	Models            []ModelSpec       `json:"models"`
	Headers           map[string]string `json:"headers,omitempty"`
	TimeoutSeconds    int               `json:"timeout_seconds,omitempty"`
	SupportsStreaming bool              `json:"supports_streaming,omitempty"`
}

// Constructor builds a Provider for a given model name from a CustomConfig.
type Constructor func(cfg CustomConfig, modelName string) (Provider, error)

// Registry maps a provider identity string to the constructor that builds
// it. Provider identity is an opaque string from the caller's point of
// view; the registry owns the engine-name → constructor mapping and the
// runtime-loaded custom-provider configs.
type Registry struct {
	mu           sync.RWMutex
	constructors map[Engine]Constructor
	custom       map[string]CustomConfig
}

// NewRegistry returns a Registry with the built-in engine constructors
// registered.
func NewRegistry() *Registry {
	r := &Registry{
		constructors: make(map[Engine]Constructor),
		custom:       make(map[string]CustomConfig),
	}
	r.RegisterEngine(EngineAnthropic, anthropicConstructor)
	r.RegisterEngine(EngineOpenAI, openAIConstructor)
	r.RegisterEngine(EngineOllama, ollamaConstructor)
	return r
}

// RegisterEngine associates an Engine identifier with the constructor that
// builds providers of that engine.
func (r *Registry) RegisterEngine(engine Engine, ctor Constructor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.constructors[engine] = ctor
}

// LoadCustomConfig registers (or replaces) one custom provider config by
// name.
func (r *Registry) LoadCustomConfig(cfg CustomConfig) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.custom[cfg.Name] = cfg
}

// RemoveCustomConfig drops a previously loaded custom provider config.
func (r *Registry) RemoveCustomConfig(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.custom, name)
}

// LoadCustomConfigFile reads one JSON custom-provider config file and
// registers it, returning the config's declared name so a caller tracking
// config files by path (the config-directory watcher) can evict the right
// registry key later even if it differs from the file's basename.
func (r *Registry) LoadCustomConfigFile(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("provider: read custom config %s: %w", path, err)
	}
	var cfg CustomConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		return "", fmt.Errorf("provider: parse custom config %s: %w", path, err)
	}
	r.LoadCustomConfig(cfg)
	return cfg.Name, nil
}

// Build constructs a Provider for providerName serving modelName.
// providerName must match a loaded CustomConfig's Name; Build resolves its
// Engine to a registered constructor.
func (r *Registry) Build(providerName, modelName string) (Provider, error) {
	r.mu.RLock()
	cfg, ok := r.custom[providerName]
	if !ok {
		r.mu.RUnlock()
		return nil, fmt.Errorf("provider: no custom config named %q", providerName)
	}
	ctor, ok := r.constructors[cfg.Engine]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("provider: no constructor registered for engine %q", cfg.Engine)
	}
	return ctor(cfg, modelName)
}

// CustomConfigNames returns the names of every loaded custom provider
// config, for diagnostics and search_available_extensions-style surfaces.
func (r *Registry) CustomConfigNames() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.custom))
	for n := range r.custom {
		names = append(names, n)
	}
	return names
}
