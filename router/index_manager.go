package router

import (
	"context"
	"fmt"

	"github.com/goose-run/goose-core/message"
)

// PlatformTools is the fixed set of platform-surfaced tools that are
// always indexed alongside extension tools, so they remain discoverable
// through search_tools even though they aren't owned by any extension.
var PlatformTools = []message.Tool{
	SearchToolsPlatformTool,
	{Name: "platform__search_available_extensions", Description: "List extensions available to enable."},
	{Name: "platform__manage_extensions", Description: "Enable or disable an extension."},
	{Name: "platform__read_resource", Description: "Read one resource by URI from an extension."},
	{Name: "platform__list_resources", Description: "List resources exposed by extensions."},
	{Name: "todo__read", Description: "Read the session todo scratchpad."},
	{Name: "todo__write", Description: "Write the session todo scratchpad."},
}

// IndexManager keeps a router Manager's selector synchronized with the
// extension manager's live tool set: every extension add indexes its
// prefixed tools, every remove drops them.
type IndexManager struct {
	router *Manager
}

// NewIndexManager wires router to receive extension lifecycle events.
func NewIndexManager(router *Manager) *IndexManager {
	im := &IndexManager{router: router}
	return im
}

// IndexPlatformTools indexes the fixed platform tool set. Called once at
// agent construction so platform tools are always discoverable regardless
// of which extensions are live.
func (im *IndexManager) IndexPlatformTools(ctx context.Context) error {
	im.router.mu.Lock()
	sel := im.router.selector
	im.router.mu.Unlock()
	if sel == nil {
		return nil
	}
	return sel.IndexTools(ctx, PlatformTools, "platform")
}

// OnExtensionAdded indexes the newly connected extension's prefixed
// tools. Call after extension.Manager.AddExtension succeeds.
func (im *IndexManager) OnExtensionAdded(ctx context.Context, extensionName string, prefixedTools []message.Tool) error {
	im.router.mu.Lock()
	sel := im.router.selector
	im.router.mu.Unlock()
	if sel == nil {
		return nil
	}
	if err := sel.IndexTools(ctx, prefixedTools, extensionName); err != nil {
		return fmt.Errorf("router: index extension %q: %w", extensionName, err)
	}
	return nil
}

// OnExtensionRemoved drops every tool belonging to extensionName from the
// selector's index. Call after extension.Manager.RemoveExtension succeeds.
func (im *IndexManager) OnExtensionRemoved(extensionName string) error {
	im.router.mu.Lock()
	sel := im.router.selector
	im.router.mu.Unlock()
	if sel == nil {
		return nil
	}
	return sel.RemoveExtension(extensionName)
}
