package reply

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/goose-run/goose-core/contextmgr"
	"github.com/goose-run/goose-core/inspector"
	"github.com/goose-run/goose-core/message"
	"github.com/goose-run/goose-core/provider"
)

// eventBufferSize bounds how many events Reply can buffer before the
// caller drains them, so a burst of streaming chunks never blocks the
// loop goroutine on a slow consumer for longer than it takes to fill it.
const eventBufferSize = 32

// Reply runs the agent reply loop against conv and returns a stream of
// AgentEvent. The loop composes a system prompt, checks and possibly
// rewrites context, calls the provider, inspects and dispatches any tool
// requests, and repeats until a turn produces no further tool requests.
// The returned channel is closed when the loop ends, whether by reaching
// a terminal turn, hitting the turn limit, an unrecoverable error, or ctx
// cancellation.
func (a *Agent) Reply(ctx context.Context, conv *message.Conversation) <-chan AgentEvent {
	out := make(chan AgentEvent, eventBufferSize)
	done := make(chan struct{})
	if a.extensions != nil {
		go a.forwardNotifications(ctx, out, done)
	}
	go func() {
		defer close(out)
		defer close(done)
		a.run(ctx, conv, out)
	}()
	return out
}

// forwardNotifications relays every extension's MCP notifications onto out
// as McpNotificationEvent for the lifetime of one Reply call, stopping when
// the loop finishes (done closes) or ctx is cancelled, whichever is first.
func (a *Agent) forwardNotifications(ctx context.Context, out chan<- AgentEvent, done <-chan struct{}) {
	notifications := a.extensions.Notifications()
	for {
		select {
		case n, ok := <-notifications:
			if !ok {
				return
			}
			select {
			case out <- McpNotificationEvent{Notification: n}:
			case <-done:
				return
			case <-ctx.Done():
				return
			}
		case <-done:
			return
		case <-ctx.Done():
			return
		}
	}
}

func (a *Agent) run(ctx context.Context, conv *message.Conversation, out chan<- AgentEvent) {
	for turn := 1; ; turn++ {
		turnStart := time.Now()
		if ctx.Err() != nil {
			return
		}
		if turn > a.maxTurns {
			a.emit(ctx, out, message.AssistantText(
				"Reached this run's turn limit; ending here.",
			))
			return
		}

		a.mu.RLock()
		prov := a.provider
		a.mu.RUnlock()
		if prov == nil {
			a.emit(ctx, out, message.AssistantText("no provider configured for this agent"))
			return
		}

		system := a.composeSystemPrompt()
		tools, err := a.gatherTools(ctx)
		if err != nil {
			a.emit(ctx, out, message.AssistantText(err.Error()))
			return
		}

		mc := prov.GetModelConfig()
		a.mu.Lock()
		modelChanged := mc.ModelName != "" && mc.ModelName != a.lastModel
		if modelChanged {
			a.lastModel = mc.ModelName
		}
		a.mu.Unlock()
		if modelChanged {
			if !a.send(ctx, out, ModelChangeEvent{Name: mc.ModelName}) {
				return
			}
		}

		visible := contextmgr.VisibleToAgent(conv.Messages())
		if mc.ContextLimit > 0 {
			if exceeds, _ := a.ctxMgr.Exceeds(visible, system, tools, mc.ContextLimit); exceeds {
				rewritten, rerr := a.rewriteContext(ctx, conv, system, tools, mc.ContextLimit, prov)
				if rerr != nil {
					a.emit(ctx, out, message.AssistantText(fmt.Sprintf("context rewrite failed: %v", rerr)))
					return
				}
				if rewritten != nil {
					conv = rewritten
					if !a.send(ctx, out, HistoryReplacedEvent{Conversation: conv.Clone()}) {
						return
					}
					visible = contextmgr.VisibleToAgent(conv.Messages())
				}
			}
		}

		assistantMsg, usage, err := a.callProvider(ctx, prov, system, visible, tools, out)
		if err != nil {
			var perr *provider.Error
			if errors.As(err, &perr) && perr.Kind == provider.ErrContextLengthExceeded {
				rewritten, rerr := a.rewriteContext(ctx, conv, system, tools, mc.ContextLimit, prov)
				if rerr == nil && rewritten != nil {
					conv = rewritten
					if !a.send(ctx, out, HistoryReplacedEvent{Conversation: conv.Clone()}) {
						return
					}
					assistantMsg, usage, err = a.callProvider(ctx, prov, system, contextmgr.VisibleToAgent(conv.Messages()), tools, out)
				}
			}
			if err != nil {
				a.emit(ctx, out, message.AssistantText(fmt.Sprintf("provider error: %v", err)))
				return
			}
		}
		a.recordUsage(usage)
		conv.Append(assistantMsg)

		reqs := assistantMsg.ToolRequests()
		if len(reqs) == 0 {
			a.metrics.RecordTurn(mc.ModelName, time.Since(turnStart))
			return
		}
		if a.chatMode {
			a.metrics.RecordTurn(mc.ModelName, time.Since(turnStart))
			a.emit(ctx, out, message.AssistantText(
				"Chat mode is on; I can't run tools. Switch modes to let me act on this.",
			))
			return
		}

		check, err := inspector.Run(ctx, a.inspectors, reqs, conv.Messages(), a.findingsSeen)
		if err != nil {
			a.emit(ctx, out, message.AssistantText(fmt.Sprintf("inspection error: %v", err)))
			return
		}

		approvals := make(map[string]bool, len(check.NeedsApproval))
		for _, id := range check.NeedsApproval {
			ch := a.confirm.register(id)
			notice := message.UserText(fmt.Sprintf("Tool call %s needs your approval: %s", id, check.Reasons[id])).
				WithMetadata(message.Metadata{UserVisible: true, AgentVisible: false, ConfirmationRequestID: id})
			if !a.send(ctx, out, MessageEvent{Message: notice}) {
				return
			}
			select {
			case approved := <-ch:
				approvals[id] = approved
			case <-ctx.Done():
				return
			}
		}

		responseMsg := a.dispatchAll(ctx, reqs, check, approvals)
		a.metrics.RecordTurn(mc.ModelName, time.Since(turnStart))
		if !a.send(ctx, out, MessageEvent{Message: responseMsg}) {
			return
		}
		conv.Append(responseMsg)
	}
}

// send delivers ev on out, or abandons the send once ctx is cancelled,
// reporting which happened. The loop's buffered channel absorbs ordinary
// bursts; this guard only matters once the caller stops draining out and
// cancels ctx, so the loop goroutine doesn't wedge on a full channel.
func (a *Agent) send(ctx context.Context, out chan<- AgentEvent, ev AgentEvent) bool {
	select {
	case out <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}

func (a *Agent) emit(ctx context.Context, out chan<- AgentEvent, msg message.Message) {
	a.send(ctx, out, MessageEvent{Message: msg})
}

// callProvider runs one turn, preferring Stream so partial assistant
// messages (including Thinking fragments) reach the caller as soon as
// the provider produces them. It falls back to Complete when the
// provider doesn't support streaming.
func (a *Agent) callProvider(ctx context.Context, prov provider.Provider, system string, messages []message.Message, tools []message.Tool, out chan<- AgentEvent) (message.Message, provider.ProviderUsage, error) {
	stream, err := prov.Stream(ctx, system, messages, tools)
	if err != nil && !errors.Is(err, provider.ErrUnsupported) {
		return message.Message{}, provider.ProviderUsage{}, err
	}
	if stream != nil {
		var final message.Message
		var usage provider.ProviderUsage
		for chunk := range stream {
			if chunk.Err != nil {
				return message.Message{}, provider.ProviderUsage{}, chunk.Err
			}
			if chunk.Message != nil {
				final = *chunk.Message
				if !a.send(ctx, out, MessageEvent{Message: final}) {
					return message.Message{}, provider.ProviderUsage{}, ctx.Err()
				}
			}
			if chunk.Usage != nil {
				usage = *chunk.Usage
			}
		}
		return final, usage, nil
	}

	msg, usage, err := prov.Complete(ctx, system, messages, tools)
	if err != nil {
		return message.Message{}, provider.ProviderUsage{}, err
	}
	if !a.send(ctx, out, MessageEvent{Message: msg}) {
		return message.Message{}, provider.ProviderUsage{}, ctx.Err()
	}
	return msg, usage, nil
}

// rewriteContext applies the context manager's configured over-budget
// strategy. It returns a nil conversation (no error) when truncation
// found nothing worth dropping.
func (a *Agent) rewriteContext(ctx context.Context, conv *message.Conversation, system string, tools []message.Tool, limit int, prov provider.Provider) (*message.Conversation, error) {
	switch a.ctxMgr.Strategy() {
	case contextmgr.StrategyTruncate:
		visible := contextmgr.VisibleToAgent(conv.Messages())
		kept, did := a.ctxMgr.Truncate(visible, system, tools, limit)
		if !did {
			return nil, nil
		}
		out := message.NewConversation()
		for _, m := range kept {
			out.Append(m)
		}
		return out, nil
	case contextmgr.StrategySummarize:
		summarize := func(ctx context.Context, messages []message.Message) (string, int, error) {
			prompt := message.UserText("Summarize the conversation so far in enough detail to continue it without the original messages.")
			resp, usage, err := prov.Complete(ctx, system, append(append([]message.Message{}, messages...), prompt), nil)
			if err != nil {
				return "", 0, err
			}
			output := 0
			if usage.Usage.OutputTokens != nil {
				output = *usage.Usage.OutputTokens
			}
			return resp.Text(), output, nil
		}
		rewritten, _, err := a.ctxMgr.Summarize(ctx, conv, summarize)
		return rewritten, err
	default:
		return nil, nil
	}
}

func (a *Agent) recordUsage(usage provider.ProviderUsage) {
	input, output, total := 0, 0, 0
	if usage.Usage.InputTokens != nil {
		input = *usage.Usage.InputTokens
	}
	if usage.Usage.OutputTokens != nil {
		output = *usage.Usage.OutputTokens
	}
	if usage.Usage.TotalTokens != nil {
		total = *usage.Usage.TotalTokens
	}

	a.mu.Lock()
	if a.metadata != nil {
		a.metadata.AddUsage(input, output, total)
	}
	a.mu.Unlock()

	a.metrics.RecordTokens(usage.Model, input, output)
}

// dispatchAll dispatches every approved tool request concurrently,
// folding denied/not-approved requests into a matching ToolError rather
// than ever dropping a request without a response, and returns one user
// message carrying all ToolResponses in the original request order.
func (a *Agent) dispatchAll(ctx context.Context, reqs []message.ToolRequest, check *inspector.CheckResult, approvals map[string]bool) message.Message {
	denied := make(map[string]bool, len(check.Denied))
	for _, id := range check.Denied {
		denied[id] = true
	}

	responses := make([]message.ToolResponse, len(reqs))
	var g errgroup.Group
	for i, req := range reqs {
		i, req := i, req
		g.Go(func() error {
			switch {
			case ctx.Err() != nil:
				responses[i] = message.ToolResponse{ID: req.ID, Err: &message.ToolError{
					Kind: message.ToolErrorExecutionError, Message: "cancelled",
				}}
			case denied[req.ID]:
				responses[i] = message.ToolResponse{ID: req.ID, Err: &message.ToolError{
					Kind: message.ToolErrorExecutionError, Message: check.Reasons[req.ID],
				}}
			case func() bool { approved, asked := approvals[req.ID]; return asked && !approved }():
				responses[i] = message.ToolResponse{ID: req.ID, Err: &message.ToolError{
					Kind: message.ToolErrorExecutionError, Message: "denied by user",
				}}
			default:
				responses[i] = a.dispatchOne(ctx, req)
			}
			return nil
		})
	}
	_ = g.Wait() // dispatchOne never returns an error; failures live in the ToolResponse

	content := make([]message.Content, len(responses))
	for i, r := range responses {
		content[i] = r
	}
	return message.MustNew(message.RoleUser, message.DefaultMetadata(), content...)
}

func (a *Agent) dispatchOne(ctx context.Context, req message.ToolRequest) message.ToolResponse {
	name := ""
	if req.Call != nil {
		name = req.Call.Name
	}
	a.router.RecordToolCall(name)

	start := time.Now()
	var resp message.ToolResponse
	if a.platform.IsPlatformTool(name) {
		resp = a.platform.Dispatch(ctx, req)
	} else {
		resp = a.extensions.DispatchToolCall(ctx, req)
	}
	a.metrics.RecordToolCall(name, time.Since(start))
	if resp.Err != nil {
		a.metrics.RecordToolError(name, string(resp.Err.Kind))
	}
	return resp
}
