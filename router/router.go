package router

import (
	"context"
	"sync"

	"github.com/goose-run/goose-core/message"
)

// recentCallsCap bounds the internal ring buffer of recently dispatched
// tool names.
const recentCallsCap = 100

// surfacedRecentCap bounds how many of the ring's entries are surfaced to
// the model per ListToolsForRouter call.
const surfacedRecentCap = 20

// SearchToolsPlatformTool is the platform tool the model calls to query
// the active selector when a router is active. Unlike the rest of the
// platform surface it is named bare "search_tools", not "platform__*":
// it is the one tool offered even when the router has otherwise replaced
// the entire tool list with {this tool} ∪ {recent tools}. The schema
// accepts an extension_name, but SelectTools takes only the query: results
// are not narrowed to one extension.
var SearchToolsPlatformTool = message.Tool{
	Name:        "search_tools",
	Description: "Search the full tool catalog for tools relevant to a query.",
	InputSchema: map[string]any{
		"type": "object",
		"properties": map[string]any{
			"query":          map[string]any{"type": "string"},
			"extension_name": map[string]any{"type": "string"},
		},
		"required": []any{"query"},
	},
}

// Manager owns one session's router state: the active selector (if any),
// a permanent disable override recipes can set, and a bounded ring of
// recently dispatched tool names.
type Manager struct {
	mu       sync.Mutex
	selector Selector
	disabled bool

	ring    []string
	ringPos int
}

// NewManager returns a Manager with no selector configured — the router
// is inactive until SetSelector is called.
func NewManager() *Manager {
	return &Manager{}
}

// SetSelector installs (or replaces) the active selector.
func (m *Manager) SetSelector(s Selector) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.selector = s
}

// DisableForRecipe permanently disables the router for this manager's
// lifetime, overriding any configured strategy. Used by recipes that opt
// out of tool pre-selection.
func (m *Manager) DisableForRecipe() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.disabled = true
}

// RecordToolCall appends name to the bounded recent-calls ring.
func (m *Manager) RecordToolCall(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.ring) < recentCallsCap {
		m.ring = append(m.ring, name)
		return
	}
	m.ring[m.ringPos] = name
	m.ringPos = (m.ringPos + 1) % recentCallsCap
}

// recentNames returns up to surfacedRecentCap most-recently recorded
// distinct tool names, most recent first.
func (m *Manager) recentNames() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	seen := make(map[string]bool, len(m.ring))
	out := make([]string, 0, surfacedRecentCap)
	for i := 0; i < len(m.ring) && len(out) < surfacedRecentCap; i++ {
		idx := (m.ringPos - 1 - i + len(m.ring)*2) % len(m.ring)
		name := m.ring[idx]
		if seen[name] {
			continue
		}
		seen[name] = true
		out = append(out, name)
	}
	return out
}

// ListToolsForRouter returns the reduced tool set offered to the provider
// when a router is active: the search_tools platform tool plus recently
// used tools, deduped against already-present tools. Returns an empty
// list if the router is disabled or has no selector configured.
func (m *Manager) ListToolsForRouter(allTools map[string]message.Tool) []message.Tool {
	m.mu.Lock()
	disabled, sel := m.disabled, m.selector
	m.mu.Unlock()
	if disabled || sel == nil {
		return nil
	}

	out := []message.Tool{SearchToolsPlatformTool}
	seen := map[string]bool{SearchToolsPlatformTool.Name: true}
	for _, name := range m.recentNames() {
		if seen[name] {
			continue
		}
		if t, ok := allTools[name]; ok {
			out = append(out, t)
			seen[name] = true
		}
	}
	return out
}

// SelectTools delegates to the active selector, or returns an empty
// listing if none is configured.
func (m *Manager) SelectTools(ctx context.Context, query string) ([]message.Content, error) {
	m.mu.Lock()
	sel := m.selector
	m.mu.Unlock()
	if sel == nil {
		return nil, nil
	}
	return sel.SelectTools(ctx, query)
}

// Active reports whether a selector is configured and the router hasn't
// been disabled.
func (m *Manager) Active() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.selector != nil && !m.disabled
}
