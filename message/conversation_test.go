package message_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/goose-run/goose-core/message"
)

func TestConversationEmptyIsValid(t *testing.T) {
	c := message.NewConversation()
	require.NoError(t, c.Validate())
	assert.Equal(t, 0, c.Len())
}

func TestConversationToolPairingValid(t *testing.T) {
	c := message.NewConversation()
	c.Append(message.UserText("list files"))
	c.Append(message.MustNew(message.RoleAssistant, message.DefaultMetadata(),
		message.ToolRequest{ID: "t1", Call: &message.ToolCall{Name: "dev__ls"}},
	))
	c.Append(message.MustNew(message.RoleUser, message.DefaultMetadata(),
		message.ToolResponse{ID: "t1", Content: []message.Content{message.Text{Text: "a.go"}}},
	))
	c.Append(message.AssistantText("a.go is the only file"))
	require.NoError(t, c.Validate())
}

func TestConversationRejectsUnansweredToolRequest(t *testing.T) {
	c := message.NewConversation()
	c.Append(message.MustNew(message.RoleAssistant, message.DefaultMetadata(),
		message.ToolRequest{ID: "t1", Call: &message.ToolCall{Name: "dev__ls"}},
	))
	c.Append(message.AssistantText("done"))
	assert.Error(t, c.Validate())
}

func TestConversationRejectsUnmatchedToolResponse(t *testing.T) {
	c := message.NewConversation()
	c.Append(message.MustNew(message.RoleUser, message.DefaultMetadata(),
		message.ToolResponse{ID: "ghost", Content: []message.Content{message.Text{Text: "x"}}},
	))
	assert.Error(t, c.Validate())
}

func TestConversationCloneIsIndependent(t *testing.T) {
	c := message.NewConversation()
	c.Append(message.UserText("a"))
	clone := c.Clone()
	clone.Append(message.UserText("b"))
	assert.Equal(t, 1, c.Len())
	assert.Equal(t, 2, clone.Len())
}
