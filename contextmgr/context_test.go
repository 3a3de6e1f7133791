package contextmgr_test

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/goose-run/goose-core/contextmgr"
	"github.com/goose-run/goose-core/message"
)

func newManager(t *testing.T) *contextmgr.Manager {
	t.Helper()
	tc, err := contextmgr.NewTokenCounter("gpt-4o")
	require.NoError(t, err)
	return contextmgr.NewManager(tc, contextmgr.StrategyTruncate)
}

func TestExceedsReportsTotal(t *testing.T) {
	m := newManager(t)
	messages := []message.Message{message.UserText("hello there")}
	exceeds, total := m.Exceeds(messages, "system", nil, 1)
	assert.True(t, exceeds)
	assert.Greater(t, total, 1)

	exceeds, _ = m.Exceeds(messages, "system", nil, 100000)
	assert.False(t, exceeds)
}

func TestTruncateNeverSplitsToolPair(t *testing.T) {
	m := newManager(t)

	call := &message.ToolCall{Name: "shell__run", Arguments: map[string]any{"cmd": "ls"}}
	req, err := message.New(message.RoleAssistant, message.DefaultMetadata(),
		message.ToolRequest{ID: "1", Call: call})
	require.NoError(t, err)
	resp, err := message.New(message.RoleUser, message.DefaultMetadata(),
		message.ToolResponse{ID: "1", Content: []message.Content{message.Text{Text: strings.Repeat("x", 2000)}}})
	require.NoError(t, err)

	messages := []message.Message{
		message.UserText("first"),
		message.AssistantText("ack"),
		req,
		resp,
		message.UserText("latest"),
	}

	out, truncated := m.Truncate(messages, "", nil, 40)
	require.True(t, truncated)

	for i, msg := range out {
		if msg.HasToolRequests() {
			require.Less(t, i+1, len(out), "tool request must be followed by its response")
			assert.NotEmpty(t, out[i+1].ToolResponses())
		}
	}
}

func TestTruncateAppendsNoticeWhenItFits(t *testing.T) {
	m := newManager(t)
	messages := []message.Message{
		message.UserText(strings.Repeat("one ", 200)),
		message.UserText("two"),
		message.UserText("three"),
	}
	out, truncated := m.Truncate(messages, "", nil, 100)
	require.True(t, truncated)
	last := out[len(out)-1]
	assert.Equal(t, message.RoleAssistant, last.Role)
}

func TestSummarizeRewritesVisibility(t *testing.T) {
	m := newManager(t)
	conv := message.NewConversation()
	conv.Append(message.UserText("what's the weather"))
	conv.Append(message.AssistantText("it's sunny"))

	summarizeCalls := 0
	fn := func(ctx context.Context, msgs []message.Message) (string, int, error) {
		summarizeCalls++
		assert.Len(t, msgs, 2)
		return "user asked about weather; assistant said sunny", 7, nil
	}

	out, cost, err := m.Summarize(context.Background(), conv, fn)
	require.NoError(t, err)
	assert.Equal(t, 1, summarizeCalls)
	assert.Equal(t, 7, cost)

	rewritten := out.Messages()
	require.Len(t, rewritten, 5) // 2 original + marker + summary + continuation

	for _, msg := range rewritten[:2] {
		assert.False(t, msg.Metadata.AgentVisible)
		assert.True(t, msg.Metadata.UserVisible)
	}

	marker := rewritten[2]
	assert.True(t, marker.Metadata.UserVisible)
	assert.False(t, marker.Metadata.AgentVisible)
	assert.Equal(t, message.RoleAssistant, marker.Role)
	require.Len(t, marker.Content, 1)
	_, isSummarizationRequested := marker.Content[0].(message.SummarizationRequested)
	assert.True(t, isSummarizationRequested)

	summary := rewritten[3]
	assert.False(t, summary.Metadata.UserVisible)
	assert.True(t, summary.Metadata.AgentVisible)
	assert.Contains(t, summary.Text(), "sunny")

	continuation := rewritten[4]
	assert.False(t, continuation.Metadata.UserVisible)
	assert.True(t, continuation.Metadata.AgentVisible)
	assert.Equal(t, message.RoleAssistant, continuation.Role)

	visible := contextmgr.VisibleToAgent(rewritten)
	require.Len(t, visible, 2)
	assert.Equal(t, summary.ID, visible[0].ID)
	assert.Equal(t, continuation.ID, visible[1].ID)
}

func TestSummarizePropagatesError(t *testing.T) {
	m := newManager(t)
	conv := message.NewConversation()
	conv.Append(message.UserText("hi"))

	fn := func(ctx context.Context, msgs []message.Message) (string, int, error) {
		return "", 0, assertErr
	}
	_, _, err := m.Summarize(context.Background(), conv, fn)
	assert.ErrorIs(t, err, assertErr)
}

var assertErr = assertError("boom")

type assertError string

func (e assertError) Error() string { return string(e) }
