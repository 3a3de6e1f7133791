package contextmgr

import (
	"context"
	"fmt"

	"github.com/goose-run/goose-core/message"
)

// Strategy selects how the context manager responds to an over-budget
// conversation: config-driven per spec.md §4.6.
type Strategy string

const (
	StrategyTruncate  Strategy = "truncate"
	StrategySummarize Strategy = "summarize"
)

// truncationNotice is appended after a truncation, provided it still fits
// under budget. Per spec.md §9's open question, its presence is never
// guaranteed — callers must treat it as optional.
const truncationNotice = "I had to truncate older messages to stay within the context window."

// compactionNotice is the user-visible marker inserted at the point a
// summarization rewrite happened.
const compactionNotice = "Earlier messages were summarized to stay within the context window."

// continuationPrompt is the agent-visible-only message appended after the
// summary so the next provider call has something to respond to.
const continuationPrompt = "Continue the conversation using the summary above as your only memory of what came before."

// Manager owns token counting and the truncate/summarize decision for one
// provider's context limit.
type Manager struct {
	counter  *TokenCounter
	strategy Strategy
}

// NewManager builds a Manager using counter for token accounting and
// strategy as the over-budget response.
func NewManager(counter *TokenCounter, strategy Strategy) *Manager {
	return &Manager{counter: counter, strategy: strategy}
}

// TotalTokens sums tokens across messages, the system prompt, and the
// tool list — the exact quantity compared against a provider's context
// limit.
func (m *Manager) TotalTokens(messages []message.Message, system string, tools []message.Tool) int {
	return m.counter.CountMessages(messages) + m.counter.Count(system) + m.counter.CountTools(tools)
}

// Exceeds reports whether messages/system/tools together exceed limit,
// alongside the computed total.
func (m *Manager) Exceeds(messages []message.Message, system string, tools []message.Tool, limit int) (bool, int) {
	total := m.TotalTokens(messages, system, tools)
	return total > limit, total
}

// units groups messages into indivisible chunks: an assistant message
// carrying tool requests is fused with the very next message (the
// matching tool responses) so truncation never splits a pair.
func units(messages []message.Message) [][]message.Message {
	var out [][]message.Message
	for i := 0; i < len(messages); {
		m := messages[i]
		if m.Role == message.RoleAssistant && m.HasToolRequests() && i+1 < len(messages) {
			out = append(out, []message.Message{m, messages[i+1]})
			i += 2
			continue
		}
		out = append(out, []message.Message{m})
		i++
	}
	return out
}

// Truncate drops whole units from the oldest end of messages until the
// remainder fits under limit (accounting for system and tools), then
// appends an assistant truncation notice if one still fits. Returns the
// resulting messages and whether any truncation occurred.
func (m *Manager) Truncate(messages []message.Message, system string, tools []message.Tool, limit int) ([]message.Message, bool) {
	groups := units(messages)
	budget := limit - m.counter.Count(system) - m.counter.CountTools(tools)

	kept := groups
	truncated := false
	for len(kept) > 0 {
		var flat []message.Message
		for _, g := range kept {
			flat = append(flat, g...)
		}
		if m.counter.CountMessages(flat) <= budget {
			break
		}
		kept = kept[1:]
		truncated = true
	}

	var flat []message.Message
	for _, g := range kept {
		flat = append(flat, g...)
	}

	if truncated {
		notice := message.AssistantText(truncationNotice)
		if m.counter.CountMessages(append(flat, notice)) <= budget {
			flat = append(flat, notice)
		}
	}
	return flat, truncated
}

// SummarizeFunc asks a provider to summarize the given message prefix,
// returning the summary text and the output-token cost of producing it.
// The reply loop supplies this by wrapping its active Provider.
type SummarizeFunc func(ctx context.Context, messages []message.Message) (summary string, outputTokens int, err error)

// Summarize rewrites conv per spec.md §4.6 / original_source's
// context.rs: every original message is flipped to agent_visible=false
// (still user_visible=true so the transcript stays intact for the
// human), followed by an assistant compaction marker carrying a
// SummarizationRequested notice (user-visible only), an agent-visible-only
// summary, and an agent-visible-only assistant continuation message. The
// returned token cost is the summary's own output tokens — the rewritten
// history is not re-counted.
func (m *Manager) Summarize(ctx context.Context, conv *message.Conversation, summarize SummarizeFunc) (*message.Conversation, int, error) {
	original := conv.Messages()
	summaryText, outputTokens, err := summarize(ctx, original)
	if err != nil {
		return nil, 0, fmt.Errorf("contextmgr: summarize: %w", err)
	}

	out := message.NewConversation()
	for _, orig := range original {
		out.Append(orig.WithMetadata(message.Metadata{UserVisible: true, AgentVisible: false}))
	}
	compactionMarker := message.MustNew(message.RoleAssistant, message.UserOnly(), message.SummarizationRequested{Notice: compactionNotice})
	out.Append(compactionMarker)
	out.Append(message.AssistantText(summaryText).WithMetadata(message.AgentOnly()))
	out.Append(message.AssistantText(continuationPrompt).WithMetadata(message.AgentOnly()))
	return out, outputTokens, nil
}

// VisibleToAgent filters a message slice down to the ones the provider
// should actually see: AgentVisible messages, in order. The reply loop
// calls this immediately before every provider call.
func VisibleToAgent(messages []message.Message) []message.Message {
	out := make([]message.Message, 0, len(messages))
	for _, m := range messages {
		if m.Metadata.AgentVisible {
			out = append(out, m)
		}
	}
	return out
}

// Strategy reports the manager's configured over-budget response.
func (m *Manager) Strategy() Strategy { return m.strategy }
