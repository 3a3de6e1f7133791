// Package agentmgr is the agent manager (C9): an LRU-bounded cache
// mapping session id to a live *reply.Agent, a default provider loaded
// once from environment/config when no session-specific provider is
// configured, and the double-checked-lock get-or-create pattern that
// lets many concurrent requests for the same new session id construct
// exactly one Agent. Grounded on the teacher's pkg/registry/registry.go
// concurrent-registry shape, generalized from its fixed map to an LRU via
// hashicorp/golang-lru.
package agentmgr

import (
	"fmt"
	"sync"

	lru "github.com/hashicorp/golang-lru"

	"github.com/goose-run/goose-core/config"
	"github.com/goose-run/goose-core/observability"
	"github.com/goose-run/goose-core/provider"
	"github.com/goose-run/goose-core/reply"
	"github.com/goose-run/goose-core/session"
)

// DefaultCapacity is the LRU's default size when none is configured.
const DefaultCapacity = 100

// Factory constructs a fresh Agent for a new session id and execution
// mode, wiring in whatever provider, extensions, and tool-surface
// collaborators that session needs. The manager calls it at most once
// per session id, holding its creation lock.
type Factory func(sessionID string, mode session.ExecutionMode) (*reply.Agent, error)

// Manager owns the session_id -> *reply.Agent cache.
type Manager struct {
	cacheMu sync.Mutex // serializes get-or-create across the whole cache
	cache   *lru.Cache // string -> *reply.Agent
	factory Factory
	metrics *observability.Metrics

	providerMu     sync.RWMutex
	defaultProvider provider.Provider
	providerOnce   sync.Once
}

// New builds a Manager with the given capacity (<= 0 uses DefaultCapacity)
// and agent factory. metrics may be nil.
func New(capacity int, factory Factory, metrics *observability.Metrics) (*Manager, error) {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	m := &Manager{factory: factory, metrics: metrics}
	cache, err := lru.NewWithEvict(capacity, func(key, _ interface{}) {
		m.metrics.RecordEviction()
	})
	if err != nil {
		return nil, fmt.Errorf("agentmgr: build LRU cache: %w", err)
	}
	m.cache = cache
	return m, nil
}

// GetOrCreateAgent returns the cached agent for id, constructing one via
// the manager's factory if none exists yet. Concurrent calls for the same
// new id block on the same creation rather than racing two factories:
// a read-only lookup happens first outside the creation lock, and the
// lookup is repeated once the lock is held in case another caller won the
// race to create it first.
func (m *Manager) GetOrCreateAgent(id string, mode session.ExecutionMode) (*reply.Agent, error) {
	if v, ok := m.cache.Get(id); ok {
		return v.(*reply.Agent), nil
	}

	m.cacheMu.Lock()
	defer m.cacheMu.Unlock()
	if v, ok := m.cache.Get(id); ok {
		return v.(*reply.Agent), nil
	}

	agent, err := m.factory(id, mode)
	if err != nil {
		return nil, fmt.Errorf("agentmgr: create agent %q: %w", id, err)
	}
	if dp := m.DefaultProvider(); dp != nil {
		agent.UpdateProvider(dp)
	}
	m.cache.Add(id, agent)
	m.metrics.SetSessionsActive(m.cache.Len())
	return agent, nil
}

// RemoveSession evicts the cached agent for id. It errors if id isn't
// currently cached.
func (m *Manager) RemoveSession(id string) error {
	m.cacheMu.Lock()
	defer m.cacheMu.Unlock()
	if !m.cache.Contains(id) {
		return fmt.Errorf("agentmgr: unknown session %q", id)
	}
	m.cache.Remove(id)
	m.metrics.SetSessionsActive(m.cache.Len())
	return nil
}

// Len reports how many sessions are currently cached.
func (m *Manager) Len() int { return m.cache.Len() }

// SetDefaultProvider attaches the provider new agents receive when their
// factory doesn't configure one of its own.
func (m *Manager) SetDefaultProvider(p provider.Provider) {
	m.providerMu.Lock()
	defer m.providerMu.Unlock()
	m.defaultProvider = p
}

// DefaultProvider returns the currently configured default provider, or
// nil if none has been set.
func (m *Manager) DefaultProvider() provider.Provider {
	m.providerMu.RLock()
	defer m.providerMu.RUnlock()
	return m.defaultProvider
}

// LoadDefaultProviderFromEnv resolves and sets the default provider from
// cfg's GOOSE_DEFAULT_PROVIDER/GOOSE_DEFAULT_MODEL settings via registry,
// exactly once for this Manager's lifetime — later calls are no-ops, even
// if the first attempt failed, matching the teacher's one-shot config
// loaders.
func (m *Manager) LoadDefaultProviderFromEnv(cfg *config.Store, registry *provider.Registry) error {
	var err error
	m.providerOnce.Do(func() {
		name := cfg.DefaultProvider()
		model := cfg.DefaultModel()
		if name == "" || model == "" {
			return
		}
		var p provider.Provider
		p, err = registry.Build(name, model)
		if err != nil {
			return
		}
		m.SetDefaultProvider(p)
	})
	return err
}
