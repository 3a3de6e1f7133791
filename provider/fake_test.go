package provider_test

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/goose-run/goose-core/provider"
)

func TestFakeReplaysToolRequestTurn(t *testing.T) {
	args, err := json.Marshal(map[string]any{"message": "hi"})
	require.NoError(t, err)

	f := provider.NewFake(provider.ModelConfig{ModelName: "fake-1"}, provider.Turn{
		ReplyContent: []provider.TurnContent{
			{Kind: "tool_request", ToolID: "t1", ToolName: "e__echo", ToolArgsRaw: args},
		},
		Usage: provider.ProviderUsage{Model: "fake-1"},
	})

	msg, usage, err := f.Complete(context.Background(), "sys", nil, nil)
	require.NoError(t, err)
	assert.Equal(t, "fake-1", usage.Model)
	reqs := msg.ToolRequests()
	require.Len(t, reqs, 1)
	assert.Equal(t, "e__echo", reqs[0].Call.Name)
	assert.Equal(t, "hi", reqs[0].Call.Arguments["message"])
}

func TestFakeBasicCompletion(t *testing.T) {
	f := provider.NewFake(provider.ModelConfig{ModelName: "fake-1"}, provider.Turn{
		ReplyContent: []provider.TurnContent{{Kind: "text", Text: "hello"}},
	})
	assert.Equal(t, 1, f.Remaining())
	assert.Equal(t, "fake-1", f.GetModelConfig().ModelName)

	models, err := f.FetchSupportedModels(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"fake-1"}, models)

	msg, _, err := f.Complete(context.Background(), "sys", nil, nil)
	require.NoError(t, err)
	assert.Equal(t, "hello", msg.Text())
	assert.Equal(t, 0, f.Remaining())
}

func TestFakeExhaustionErrors(t *testing.T) {
	f := provider.NewFake(provider.ModelConfig{ModelName: "fake-1"})
	_, _, err := f.Complete(context.Background(), "sys", nil, nil)
	assert.Error(t, err)
}
