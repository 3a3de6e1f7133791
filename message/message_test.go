package message_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/goose-run/goose-core/message"
)

func TestNewRejectsEmptyContent(t *testing.T) {
	_, err := message.New(message.RoleUser, message.DefaultMetadata())
	require.Error(t, err)
}

func TestUserTextRoundTrip(t *testing.T) {
	m := message.UserText("hello")
	assert.Equal(t, message.RoleUser, m.Role)
	assert.Equal(t, "hello", m.Text())
	assert.True(t, m.Metadata.UserVisible)
	assert.True(t, m.Metadata.AgentVisible)
}

func TestToolRequestsAndResponses(t *testing.T) {
	m := message.MustNew(message.RoleAssistant, message.DefaultMetadata(),
		message.Text{Text: "let me check"},
		message.ToolRequest{ID: "t1", Call: &message.ToolCall{Name: "dev__ls", Arguments: map[string]any{"path": "."}}},
	)
	require.True(t, m.HasToolRequests())
	reqs := m.ToolRequests()
	require.Len(t, reqs, 1)
	assert.Equal(t, "t1", reqs[0].ID)

	resp := message.MustNew(message.RoleUser, message.DefaultMetadata(),
		message.ToolResponse{ID: "t1", Content: []message.Content{message.Text{Text: "a.go"}}},
	)
	require.Len(t, resp.ToolResponses(), 1)
}

func TestMetadataHelpers(t *testing.T) {
	assert.Equal(t, message.Metadata{UserVisible: true, AgentVisible: false}, message.UserOnly())
	assert.Equal(t, message.Metadata{UserVisible: false, AgentVisible: true}, message.AgentOnly())
}

func TestToolErrorFormatting(t *testing.T) {
	err := &message.ToolError{Kind: message.ToolErrorNotFound, Message: "no such tool"}
	assert.Equal(t, "not_found: no such tool", err.Error())
}
