package reply_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/goose-run/goose-core/contextmgr"
	"github.com/goose-run/goose-core/extension"
	"github.com/goose-run/goose-core/inspector"
	"github.com/goose-run/goose-core/message"
	"github.com/goose-run/goose-core/platform"
	"github.com/goose-run/goose-core/provider"
	"github.com/goose-run/goose-core/reply"
	"github.com/goose-run/goose-core/router"
	"github.com/goose-run/goose-core/session"
	"github.com/goose-run/goose-core/task"
)

func newTestAgent(t *testing.T, prov provider.Provider) *reply.Agent {
	t.Helper()
	tc, err := contextmgr.NewTokenCounter("gpt-4o")
	require.NoError(t, err)

	exts := extension.New()
	routerMgr := router.NewManager()
	meta := session.NewMetadata("sess-1", "/tmp")

	plat := platform.New(exts, routerMgr, nil, 0)
	ex := task.NewExecutor(task.NewExecutionTracker(), "goose", 0, nil)

	agent := reply.New(reply.Config{
		Provider:         prov,
		Extensions:       exts,
		Router:           routerMgr,
		Platform:         plat,
		Executor:         ex,
		ContextMgr:       contextmgr.NewManager(tc, contextmgr.StrategyTruncate),
		Inspectors:       []inspector.Inspector{inspector.NewPermissionInspector(inspector.ModeAuto, nil, nil)},
		Metadata:         &meta,
		Mode:             session.ModeInteractive,
		SystemPromptBase: "you are a helpful agent",
	})
	plat.SetTodoAccessor(agent)
	ex.SetInlineRunner(agent)
	return agent
}

func drain(ch <-chan reply.AgentEvent) []reply.AgentEvent {
	var out []reply.AgentEvent
	for ev := range ch {
		out = append(out, ev)
	}
	return out
}

func TestReplyTerminatesWithNoToolRequests(t *testing.T) {
	model := provider.ModelConfig{ModelName: "gpt-4o", ContextLimit: 100000}
	fake := provider.NewFake(model, provider.Turn{
		ReplyContent: []provider.TurnContent{{Kind: "text", Text: "hello there"}},
	})
	agent := newTestAgent(t, fake)

	conv := message.NewConversation()
	conv.Append(message.UserText("hi"))

	events := drain(agent.Reply(context.Background(), conv))
	require.NotEmpty(t, events)

	var sawModelChange, sawAssistantText bool
	for _, ev := range events {
		switch e := ev.(type) {
		case reply.ModelChangeEvent:
			sawModelChange = true
			assert.Equal(t, "gpt-4o", e.Name)
		case reply.MessageEvent:
			if e.Message.Role == message.RoleAssistant && e.Message.Text() == "hello there" {
				sawAssistantText = true
			}
		}
	}
	assert.True(t, sawModelChange)
	assert.True(t, sawAssistantText)
}

func TestReplyAutoDispatchesUnknownToolAsNotFound(t *testing.T) {
	model := provider.ModelConfig{ModelName: "gpt-4o", ContextLimit: 100000}
	fake := provider.NewFake(model,
		provider.Turn{ReplyContent: []provider.TurnContent{
			{Kind: "tool_request", ToolID: "t1", ToolName: "ghost__does_not_exist"},
		}},
		provider.Turn{ReplyContent: []provider.TurnContent{{Kind: "text", Text: "done"}}},
	)
	agent := newTestAgent(t, fake)

	conv := message.NewConversation()
	conv.Append(message.UserText("run the ghost tool"))

	events := drain(agent.Reply(context.Background(), conv))

	var sawToolError bool
	for _, ev := range events {
		me, ok := ev.(reply.MessageEvent)
		if !ok {
			continue
		}
		for _, resp := range me.Message.ToolResponses() {
			if resp.Err != nil && resp.Err.Kind == message.ToolErrorNotFound {
				sawToolError = true
			}
		}
	}
	assert.True(t, sawToolError)
}

func TestReplyTodoRoundTripsThroughAgent(t *testing.T) {
	model := provider.ModelConfig{ModelName: "gpt-4o", ContextLimit: 100000}
	fake := provider.NewFake(model,
		provider.Turn{ReplyContent: []provider.TurnContent{
			{Kind: "tool_request", ToolID: "t1", ToolName: "todo__write", ToolArgsRaw: []byte(`{"content":"buy milk"}`)},
		}},
		provider.Turn{ReplyContent: []provider.TurnContent{{Kind: "text", Text: "done"}}},
	)
	agent := newTestAgent(t, fake)

	conv := message.NewConversation()
	conv.Append(message.UserText("write a todo"))
	_ = drain(agent.Reply(context.Background(), conv))

	content, err := agent.ReadTodo(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "buy milk", content)
}

func TestReplyStopsAtTurnLimit(t *testing.T) {
	model := provider.ModelConfig{ModelName: "gpt-4o", ContextLimit: 100000}
	turns := make([]provider.Turn, 0, 5)
	for i := 0; i < 5; i++ {
		turns = append(turns, provider.Turn{ReplyContent: []provider.TurnContent{
			{Kind: "tool_request", ToolID: "t", ToolName: "todo__read"},
		}})
	}
	fake := provider.NewFake(model, turns...)

	tc, err := contextmgr.NewTokenCounter("gpt-4o")
	require.NoError(t, err)
	exts := extension.New()
	routerMgr := router.NewManager()
	meta := session.NewMetadata("sess-2", "/tmp")
	plat := platform.New(exts, routerMgr, nil, 0)
	ex := task.NewExecutor(task.NewExecutionTracker(), "goose", 0, nil)
	agent := reply.New(reply.Config{
		Provider:         fake,
		Extensions:       exts,
		Router:           routerMgr,
		Platform:         plat,
		Executor:         ex,
		ContextMgr:       contextmgr.NewManager(tc, contextmgr.StrategyTruncate),
		Inspectors:       []inspector.Inspector{inspector.NewPermissionInspector(inspector.ModeAuto, nil, nil)},
		Metadata:         &meta,
		Mode:             session.ModeInteractive,
		MaxTurns:         3,
		SystemPromptBase: "you are a helpful agent",
	})
	plat.SetTodoAccessor(agent)
	ex.SetInlineRunner(agent)

	conv := message.NewConversation()
	conv.Append(message.UserText("loop forever"))
	events := drain(agent.Reply(context.Background(), conv))

	last := events[len(events)-1]
	me, ok := last.(reply.MessageEvent)
	require.True(t, ok)
	assert.Contains(t, me.Message.Text(), "turn limit")
	assert.Less(t, fake.Remaining(), 3) // never exhausted all 5 fixture turns
}

func TestChatModeShortCircuitsOnToolRequest(t *testing.T) {
	model := provider.ModelConfig{ModelName: "gpt-4o", ContextLimit: 100000}
	fake := provider.NewFake(model,
		provider.Turn{ReplyContent: []provider.TurnContent{
			{Kind: "tool_request", ToolID: "t1", ToolName: "todo__read"},
		}},
		provider.Turn{ReplyContent: []provider.TurnContent{{Kind: "text", Text: "ok"}}},
	)

	tc, err := contextmgr.NewTokenCounter("gpt-4o")
	require.NoError(t, err)
	exts := extension.New()
	routerMgr := router.NewManager()
	meta := session.NewMetadata("sess-3", "/tmp")
	plat := platform.New(exts, routerMgr, nil, 0)
	ex := task.NewExecutor(task.NewExecutionTracker(), "goose", 0, nil)
	agent := reply.New(reply.Config{
		Provider:         fake,
		Extensions:       exts,
		Router:           routerMgr,
		Platform:         plat,
		Executor:         ex,
		ContextMgr:       contextmgr.NewManager(tc, contextmgr.StrategyTruncate),
		Inspectors:       []inspector.Inspector{inspector.NewPermissionInspector(inspector.ModeChat, nil, nil)},
		Metadata:         &meta,
		Mode:             session.ModeInteractive,
		SystemPromptBase: "you are a helpful agent",
		ChatMode:         true,
	})
	plat.SetTodoAccessor(agent)
	ex.SetInlineRunner(agent)

	conv := message.NewConversation()
	conv.Append(message.UserText("try a tool"))
	events := drain(agent.Reply(context.Background(), conv))

	var sawNotice bool
	var sawToolResponse bool
	for _, ev := range events {
		me, ok := ev.(reply.MessageEvent)
		if !ok {
			continue
		}
		if me.Message.Role == message.RoleAssistant && me.Message.Text() != "" {
			sawNotice = true
		}
		if len(me.Message.ToolResponses()) > 0 {
			sawToolResponse = true
		}
	}
	assert.True(t, sawNotice, "expected a chat-mode notice ending the turn")
	assert.False(t, sawToolResponse, "chat mode must never dispatch a tool call")
}
