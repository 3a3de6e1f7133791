// Package extension owns the set of live MCP clients for one agent,
// prefixes their tool names, dispatches tool calls by splitting on the
// reserved "__" delimiter, and aggregates resource/prompt listing across
// extensions.
package extension

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/goose-run/goose-core/mcpclient"
	"github.com/goose-run/goose-core/message"
)

const delimiter = "__"

// DefaultMaxResponseBytes bounds a single tool response before it is
// truncated with a textual marker.
const DefaultMaxResponseBytes = 64 * 1024

// client is the capability Manager needs from a live extension, whether
// it is a real MCP connection (*mcpclient.Client, any transport) or an
// in-process implementation of a Builtin/Frontend/InlinePython
// ExtensionConfig. *mcpclient.Client satisfies this directly.
type client interface {
	ListTools(ctx context.Context, cursor string) (mcpclient.Page[message.Tool], error)
	ListResources(ctx context.Context, cursor string) (mcpclient.Page[string], error)
	ListPrompts(ctx context.Context, cursor string) (mcpclient.Page[string], error)
	ReadResource(ctx context.Context, uri string) ([]message.Content, error)
	CallTool(ctx context.Context, name string, args map[string]any) ([]message.Content, bool, error)
	GetPrompt(ctx context.Context, name string, args map[string]string) ([]message.Content, error)
	Subscribe() <-chan mcpclient.Notification
	Close() error
}

// liveExtension is one connected extension: its client, the kind of
// ExtensionConfig it was built from, and whether ListResources and prompt
// listing include it. AddExtension sets both flags for every MCP
// connection without consulting the capabilities the server reports at
// initialize; in-process kinds register with both flags unset.
type liveExtension struct {
	client       client
	kind         message.ExtensionKind
	hasResources bool
	hasPrompts   bool
}

// NamedNotification pairs a server-initiated MCP notification with the
// extension name it came from, for the reply loop's McpNotification event.
type NamedNotification struct {
	Source       string
	Notification mcpclient.Notification
}

// Manager owns a set of live MCP clients keyed by extension name, behind a
// read-write lock: many readers for listing, one writer for add/remove.
type Manager struct {
	mu              sync.RWMutex
	extensions      map[string]*liveExtension
	maxResponseSize int
	notifications   chan NamedNotification
}

// New returns an empty Manager.
func New() *Manager {
	return &Manager{
		extensions:      make(map[string]*liveExtension),
		maxResponseSize: DefaultMaxResponseBytes,
		notifications:   make(chan NamedNotification, 256),
	}
}

// Notifications returns the channel every live extension's notifications
// are fanned into, tagged with their source extension name. The channel is
// never closed; it outlives any single extension's connection.
func (m *Manager) Notifications() <-chan NamedNotification { return m.notifications }

func (m *Manager) forward(name string, sub <-chan mcpclient.Notification) {
	for n := range sub {
		select {
		case m.notifications <- NamedNotification{Source: name, Notification: n}:
		default:
		}
	}
}

// AddExtension connects to cfg over MCP and registers it under name.
// Adding an extension with a name already present fails: renames must go
// through RemoveExtension first, keeping the prefix-uniqueness invariant
// atomic.
func (m *Manager) AddExtension(ctx context.Context, name string, cfg mcpclient.Config) error {
	cfg.Name = name
	c, err := mcpclient.Connect(ctx, cfg)
	if err != nil {
		return fmt.Errorf("extension: connect %q: %w", name, err)
	}
	kind := cfg.Transport
	if kind == "" {
		kind = message.ExtensionStdio
	}
	return m.registerClient(name, kind, c, true, true)
}

// AddExtensionConfig connects or registers cfg under its own Name,
// dispatching on cfg.Kind: Stdio/Sse/StreamableHttp go through the MCP
// wire via AddExtension; Builtin, Frontend, and InlinePython are
// in-process implementations that never spawn a subprocess or open a
// socket, but are registered and dispatched through the same prefix
// namespace and DispatchToolCall path as any other extension.
func (m *Manager) AddExtensionConfig(ctx context.Context, cfg message.ExtensionConfig) error {
	switch cfg.Kind {
	case message.ExtensionStdio, "":
		return m.AddExtension(ctx, cfg.Name, mcpclient.Config{
			Transport:      message.ExtensionStdio,
			Command:        cfg.Cmd,
			Args:           cfg.Args,
			Env:            cfg.Envs,
			RequestTimeout: timeoutOrZero(cfg.Timeout),
		})
	case message.ExtensionSSE, message.ExtensionStreamableHTTP:
		return m.AddExtension(ctx, cfg.Name, mcpclient.Config{
			Transport:      cfg.Kind,
			URI:            cfg.URI,
			Env:            cfg.Envs,
			RequestTimeout: timeoutOrZero(cfg.Timeout),
		})
	case message.ExtensionBuiltin:
		newBuiltin, ok := builtinRegistry[cfg.BuiltinName]
		if !ok {
			return fmt.Errorf("extension: no builtin extension named %q", cfg.BuiltinName)
		}
		return m.registerClient(cfg.Name, cfg.Kind, newBuiltin(), false, false)
	case message.ExtensionFrontend:
		return m.registerClient(cfg.Name, cfg.Kind, newFrontendClient(cfg.FrontendTools), false, false)
	case message.ExtensionInlinePython:
		return m.registerClient(cfg.Name, cfg.Kind, newInlinePythonClient(cfg), false, false)
	default:
		return fmt.Errorf("extension: unknown extension kind %q", cfg.Kind)
	}
}

func timeoutOrZero(seconds int) time.Duration {
	if seconds <= 0 {
		return 0
	}
	return time.Duration(seconds) * time.Second
}

// registerClient installs c under name and starts forwarding its
// notifications. Shared by AddExtension's MCP path and
// AddExtensionConfig's in-process kinds.
func (m *Manager) registerClient(name string, kind message.ExtensionKind, c client, hasResources, hasPrompts bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.extensions[name]; exists {
		c.Close()
		return fmt.Errorf("extension: %q is already present", name)
	}
	m.extensions[name] = &liveExtension{client: c, kind: kind, hasResources: hasResources, hasPrompts: hasPrompts}
	go m.forward(name, c.Subscribe())
	return nil
}

// RemoveExtension disconnects and drops the extension registered under
// name.
func (m *Manager) RemoveExtension(name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	ext, ok := m.extensions[name]
	if !ok {
		return fmt.Errorf("extension: %q is not present", name)
	}
	delete(m.extensions, name)
	return ext.client.Close()
}

// ExtensionNames returns the names of every currently live extension.
func (m *Manager) ExtensionNames() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	names := make([]string, 0, len(m.extensions))
	for n := range m.extensions {
		names = append(names, n)
	}
	return names
}

// snapshot copies the extension map under the read lock so subsequent I/O
// never holds the lock across a suspension point.
func (m *Manager) snapshot(filter string) map[string]*liveExtension {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if filter != "" {
		if ext, ok := m.extensions[filter]; ok {
			return map[string]*liveExtension{filter: ext}
		}
		return nil
	}
	out := make(map[string]*liveExtension, len(m.extensions))
	for k, v := range m.extensions {
		out[k] = v
	}
	return out
}

// GetPrefixedTools returns the union of every live extension's tools, each
// renamed to "<extension>__<tool>". If filter names one extension, only
// its tools are returned.
func (m *Manager) GetPrefixedTools(ctx context.Context, filter string) ([]message.Tool, error) {
	exts := m.snapshot(filter)
	var out []message.Tool
	for name, ext := range exts {
		cursor := ""
		for {
			page, err := ext.client.ListTools(ctx, cursor)
			if err != nil {
				return nil, fmt.Errorf("extension: list_tools %q: %w", name, err)
			}
			for _, t := range page.Items {
				t.Name = name + delimiter + t.Name
				out = append(out, t)
			}
			if page.NextCursor == "" {
				break
			}
			cursor = page.NextCursor
		}
	}
	return out, nil
}

// ErrNotFound is returned by DispatchToolCall when the prefix doesn't
// match any live extension.
var ErrNotFound = errors.New("extension: no live extension for tool prefix")

// DispatchToolCall splits call.Name on the "__" delimiter, routes to the
// matching extension's client, and normalizes the result into a
// ToolResponse. An unrecognized prefix, or a name with no delimiter,
// produces a NotFound ToolError rather than an error return — dispatch
// failures are written back to the model, not raised to the caller.
func (m *Manager) DispatchToolCall(ctx context.Context, req message.ToolRequest) message.ToolResponse {
	if req.Call == nil {
		return message.ToolResponse{ID: req.ID, Err: &message.ToolError{
			Kind: message.ToolErrorInvalidParameters, Message: req.ParseError,
		}}
	}
	prefix, toolName, ok := strings.Cut(req.Call.Name, delimiter)
	if !ok {
		return message.ToolResponse{ID: req.ID, Err: &message.ToolError{
			Kind: message.ToolErrorNotFound, Message: fmt.Sprintf("tool name %q has no extension prefix", req.Call.Name),
		}}
	}

	m.mu.RLock()
	ext, known := m.extensions[prefix]
	m.mu.RUnlock()
	if !known {
		return message.ToolResponse{ID: req.ID, Err: &message.ToolError{
			Kind: message.ToolErrorNotFound, Message: fmt.Sprintf("no live extension %q", prefix),
		}}
	}

	content, isError, err := ext.client.CallTool(ctx, toolName, req.Call.Arguments)
	if err != nil {
		return message.ToolResponse{ID: req.ID, Err: &message.ToolError{
			Kind: message.ToolErrorExecutionError, Message: err.Error(),
		}}
	}
	content = m.truncate(content)
	if isError {
		return message.ToolResponse{ID: req.ID, Err: &message.ToolError{
			Kind: message.ToolErrorExecutionError, Message: firstText(content),
		}}
	}
	if ext.kind == message.ExtensionFrontend {
		stampFrontendRequestIDs(content, req.ID)
	}
	return message.ToolResponse{ID: req.ID, Content: content}
}

// stampFrontendRequestIDs fills in the ID on every FrontendToolRequest a
// frontend extension's CallTool produced, so the caller can correlate the
// delegated call with the ToolRequest it answers for once the frontend
// resolves it out of band.
func stampFrontendRequestIDs(content []message.Content, id string) {
	for i, c := range content {
		if f, ok := c.(message.FrontendToolRequest); ok {
			f.ID = id
			content[i] = f
		}
	}
}

func firstText(content []message.Content) string {
	for _, c := range content {
		if t, ok := c.(message.Text); ok {
			return t.Text
		}
	}
	return "tool reported an error"
}

// truncate bounds each text content item to maxResponseSize, appending a
// textual marker when truncated.
func (m *Manager) truncate(content []message.Content) []message.Content {
	out := make([]message.Content, len(content))
	for i, c := range content {
		if t, ok := c.(message.Text); ok && len(t.Text) > m.maxResponseSize {
			out[i] = message.Text{Text: t.Text[:m.maxResponseSize] + "\n...[truncated]"}
			continue
		}
		out[i] = c
	}
	return out
}

// ListResources aggregates list_resources across every live extension
// (or just filter, if set).
func (m *Manager) ListResources(ctx context.Context, filter string) (map[string][]string, error) {
	exts := m.snapshot(filter)
	out := make(map[string][]string, len(exts))
	for name, ext := range exts {
		if !ext.hasResources {
			continue
		}
		cursor := ""
		var uris []string
		for {
			page, err := ext.client.ListResources(ctx, cursor)
			if err != nil {
				return nil, fmt.Errorf("extension: list_resources %q: %w", name, err)
			}
			uris = append(uris, page.Items...)
			if page.NextCursor == "" {
				break
			}
			cursor = page.NextCursor
		}
		out[name] = uris
	}
	return out, nil
}

// ReadResource reads uri from the named extension.
func (m *Manager) ReadResource(ctx context.Context, extensionName, uri string) ([]message.Content, error) {
	m.mu.RLock()
	ext, ok := m.extensions[extensionName]
	m.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("extension: %w: %q", ErrNotFound, extensionName)
	}
	return ext.client.ReadResource(ctx, uri)
}

// GetPrompt resolves a prompt from the named extension.
func (m *Manager) GetPrompt(ctx context.Context, extensionName, promptName string, args map[string]string) ([]message.Content, error) {
	m.mu.RLock()
	ext, ok := m.extensions[extensionName]
	m.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("extension: %w: %q", ErrNotFound, extensionName)
	}
	return ext.client.GetPrompt(ctx, promptName, args)
}

// ListPrompts aggregates list_prompts across every live extension.
func (m *Manager) ListPrompts(ctx context.Context, filter string) (map[string][]string, error) {
	exts := m.snapshot(filter)
	out := make(map[string][]string, len(exts))
	for name, ext := range exts {
		if !ext.hasPrompts {
			continue
		}
		cursor := ""
		var names []string
		for {
			page, err := ext.client.ListPrompts(ctx, cursor)
			if err != nil {
				return nil, fmt.Errorf("extension: list_prompts %q: %w", name, err)
			}
			names = append(names, page.Items...)
			if page.NextCursor == "" {
				break
			}
			cursor = page.NextCursor
		}
		out[name] = names
	}
	return out, nil
}
