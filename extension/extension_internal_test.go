package extension

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/goose-run/goose-core/message"
)

func TestDispatchToolCallNoDelimiterIsNotFound(t *testing.T) {
	m := New()
	resp := m.DispatchToolCall(context.Background(), message.ToolRequest{
		ID:   "t1",
		Call: &message.ToolCall{Name: "noextensionprefix"},
	})
	require.NotNil(t, resp.Err)
	assert.Equal(t, message.ToolErrorNotFound, resp.Err.Kind)
}

func TestDispatchToolCallUnknownExtensionIsNotFound(t *testing.T) {
	m := New()
	resp := m.DispatchToolCall(context.Background(), message.ToolRequest{
		ID:   "t1",
		Call: &message.ToolCall{Name: "ghost__tool"},
	})
	require.NotNil(t, resp.Err)
	assert.Equal(t, message.ToolErrorNotFound, resp.Err.Kind)
}

func TestDispatchToolCallParseErrorSurfaces(t *testing.T) {
	m := New()
	resp := m.DispatchToolCall(context.Background(), message.ToolRequest{ID: "t1", ParseError: "bad json"})
	require.NotNil(t, resp.Err)
	assert.Equal(t, message.ToolErrorInvalidParameters, resp.Err.Kind)
}

func TestRemoveExtensionUnknownErrors(t *testing.T) {
	m := New()
	err := m.RemoveExtension("ghost")
	assert.Error(t, err)
}

func TestTruncateBoundsOversizedText(t *testing.T) {
	m := New()
	m.maxResponseSize = 8
	out := m.truncate([]message.Content{message.Text{Text: "0123456789"}})
	require.Len(t, out, 1)
	txt := out[0].(message.Text).Text
	assert.True(t, len(txt) > 8) // includes the truncation marker
	assert.Contains(t, txt, "...[truncated]")
}

func TestAddExtensionConfigBuiltinDispatchesShell(t *testing.T) {
	m := New()
	ctx := context.Background()
	err := m.AddExtensionConfig(ctx, message.ExtensionConfig{
		Kind: message.ExtensionBuiltin, Name: "developer", BuiltinName: "developer",
	})
	require.NoError(t, err)

	tools, err := m.GetPrefixedTools(ctx, "")
	require.NoError(t, err)
	require.Len(t, tools, 1)
	assert.Equal(t, "developer__execute_command", tools[0].Name)

	resp := m.DispatchToolCall(ctx, message.ToolRequest{
		ID:   "t1",
		Call: &message.ToolCall{Name: "developer__execute_command", Arguments: map[string]any{"command": "echo hi"}},
	})
	require.Nil(t, resp.Err)
	require.Len(t, resp.Content, 1)
	assert.Contains(t, resp.Content[0].(message.Text).Text, "hi")
}

func TestAddExtensionConfigBuiltinUnknownNameErrors(t *testing.T) {
	m := New()
	err := m.AddExtensionConfig(context.Background(), message.ExtensionConfig{
		Kind: message.ExtensionBuiltin, Name: "ghost", BuiltinName: "does-not-exist",
	})
	assert.Error(t, err)
}

func TestAddExtensionConfigDeveloperDeniesDangerousCommand(t *testing.T) {
	m := New()
	ctx := context.Background()
	require.NoError(t, m.AddExtensionConfig(ctx, message.ExtensionConfig{
		Kind: message.ExtensionBuiltin, Name: "developer", BuiltinName: "developer",
	}))
	resp := m.DispatchToolCall(ctx, message.ToolRequest{
		ID:   "t1",
		Call: &message.ToolCall{Name: "developer__execute_command", Arguments: map[string]any{"command": "sudo rm -rf /"}},
	})
	require.NotNil(t, resp.Err)
	assert.Equal(t, message.ToolErrorExecutionError, resp.Err.Kind)
}

func TestAddExtensionConfigFrontendDelegatesToolCall(t *testing.T) {
	m := New()
	ctx := context.Background()
	tool := message.Tool{Name: "open_editor", Description: "open a file in the editor"}
	require.NoError(t, m.AddExtensionConfig(ctx, message.ExtensionConfig{
		Kind: message.ExtensionFrontend, Name: "ide", FrontendTools: []message.Tool{tool},
	}))

	tools, err := m.GetPrefixedTools(ctx, "")
	require.NoError(t, err)
	require.Len(t, tools, 1)
	assert.Equal(t, "ide__open_editor", tools[0].Name)

	resp := m.DispatchToolCall(ctx, message.ToolRequest{
		ID:   "t7",
		Call: &message.ToolCall{Name: "ide__open_editor", Arguments: map[string]any{"path": "main.go"}},
	})
	require.Nil(t, resp.Err)
	require.Len(t, resp.Content, 1)
	fwd, ok := resp.Content[0].(message.FrontendToolRequest)
	require.True(t, ok)
	assert.Equal(t, "t7", fwd.ID)
	assert.Equal(t, "open_editor", fwd.Call.Name)
}

func TestAddExtensionConfigDuplicateNameErrors(t *testing.T) {
	m := New()
	ctx := context.Background()
	cfg := message.ExtensionConfig{Kind: message.ExtensionBuiltin, Name: "developer", BuiltinName: "developer"}
	require.NoError(t, m.AddExtensionConfig(ctx, cfg))
	err := m.AddExtensionConfig(ctx, cfg)
	assert.Error(t, err)
}
