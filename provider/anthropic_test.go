package provider

import (
	"encoding/json"
	"testing"

	sdk "github.com/anthropics/anthropic-sdk-go"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTranslateAnthropicResponseUnmarshalsToolArguments(t *testing.T) {
	resp := &sdk.Message{
		Model: sdk.Model("claude-3-5-sonnet-latest"),
		Content: []sdk.ContentBlockUnion{
			{
				Type:  "tool_use",
				ID:    "toolu_1",
				Name:  "e__echo",
				Input: json.RawMessage(`{"message":"hi"}`),
			},
		},
		Usage: sdk.Usage{InputTokens: 10, OutputTokens: 5},
	}

	msg, usage, err := translateAnthropicResponse(resp)
	require.NoError(t, err)
	assert.Equal(t, "claude-3-5-sonnet-latest", usage.Model)

	reqs := msg.ToolRequests()
	require.Len(t, reqs, 1)
	require.NotNil(t, reqs[0].Call)
	assert.Equal(t, "e__echo", reqs[0].Call.Name)
	assert.Equal(t, map[string]any{"message": "hi"}, reqs[0].Call.Arguments)
	assert.Empty(t, reqs[0].ParseError)
}

func TestTranslateAnthropicResponseRecordsParseErrorOnMalformedInput(t *testing.T) {
	resp := &sdk.Message{
		Model: sdk.Model("claude-3-5-sonnet-latest"),
		Content: []sdk.ContentBlockUnion{
			{
				Type:  "tool_use",
				ID:    "toolu_2",
				Name:  "e__echo",
				Input: json.RawMessage(`not-json`),
			},
		},
	}

	msg, _, err := translateAnthropicResponse(resp)
	require.NoError(t, err)

	reqs := msg.ToolRequests()
	require.Len(t, reqs, 1)
	assert.Nil(t, reqs[0].Call)
	assert.NotEmpty(t, reqs[0].ParseError)
}
