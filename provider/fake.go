package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/goose-run/goose-core/message"
)

// Turn is one recorded request/response pair for the fake provider.
// Turns are serialized to JSON so a fixture can pin provider behavior
// across test runs.
type Turn struct {
	WantMessageCount int             `json:"want_message_count"`
	ReplyContent     []TurnContent   `json:"reply_content"`
	Usage            ProviderUsage   `json:"usage"`
	Err              *Error          `json:"err,omitempty"`
}

// TurnContent is the JSON-friendly encoding of a single reply content
// item; only the variants a fixture realistically needs are supported.
type TurnContent struct {
	Kind        string          `json:"kind"` // "text" | "tool_request"
	Text        string          `json:"text,omitempty"`
	ToolID      string          `json:"tool_id,omitempty"`
	ToolName    string          `json:"tool_name,omitempty"`
	ToolArgsRaw json.RawMessage `json:"tool_args,omitempty"`
}

func (t Turn) buildMessage() (message.Message, error) {
	var content []message.Content
	for _, c := range t.ReplyContent {
		switch c.Kind {
		case "text":
			content = append(content, message.Text{Text: c.Text})
		case "tool_request":
			var args map[string]any
			if len(c.ToolArgsRaw) > 0 {
				if err := json.Unmarshal(c.ToolArgsRaw, &args); err != nil {
					return message.Message{}, fmt.Errorf("provider: fake turn tool args: %w", err)
				}
			}
			content = append(content, message.ToolRequest{
				ID:   c.ToolID,
				Call: &message.ToolCall{Name: c.ToolName, Arguments: args},
			})
		default:
			return message.Message{}, fmt.Errorf("provider: fake turn unknown content kind %q", c.Kind)
		}
	}
	return message.New(message.RoleAssistant, message.DefaultMetadata(), content...)
}

// Fake is a record/replay Provider driven by a fixed sequence of Turns,
// one consumed per Complete call. It never performs network I/O; it
// exists to pin reply-loop behavior in tests independent of any real
// engine.
type Fake struct {
	mu     sync.Mutex
	turns  []Turn
	cursor int
	model  ModelConfig
}

// NewFake returns a Fake provider that replays turns in order.
func NewFake(model ModelConfig, turns ...Turn) *Fake {
	return &Fake{turns: turns, model: model}
}

func (f *Fake) Complete(ctx context.Context, system string, messages []message.Message, tools []message.Tool) (message.Message, ProviderUsage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.cursor >= len(f.turns) {
		return message.Message{}, ProviderUsage{}, fmt.Errorf("provider: fake exhausted after %d turns", f.cursor)
	}
	turn := f.turns[f.cursor]
	f.cursor++
	if turn.Err != nil {
		return message.Message{}, ProviderUsage{}, turn.Err
	}
	msg, err := turn.buildMessage()
	if err != nil {
		return message.Message{}, ProviderUsage{}, err
	}
	return msg, turn.Usage, nil
}

func (f *Fake) Stream(ctx context.Context, system string, messages []message.Message, tools []message.Tool) (<-chan StreamChunk, error) {
	msg, usage, err := f.Complete(ctx, system, messages, tools)
	if err != nil {
		return nil, err
	}
	ch := make(chan StreamChunk, 1)
	ch <- StreamChunk{Message: &msg, Usage: &usage}
	close(ch)
	return ch, nil
}

func (f *Fake) CreateEmbeddings(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{float32(len(texts[i]))}
	}
	return out, nil
}

func (f *Fake) GetModelConfig() ModelConfig { return f.model }

func (f *Fake) FetchSupportedModels(ctx context.Context) ([]string, error) {
	return []string{f.model.ModelName}, nil
}

func (f *Fake) GenerateSessionName(ctx context.Context, conv *message.Conversation) (string, error) {
	if conv.Len() == 0 {
		return "new session", nil
	}
	first, _ := conv.Last()
	name := first.Text()
	if len(name) > 100 {
		name = name[:100]
	}
	return name, nil
}

// Remaining reports how many turns have not yet been consumed.
func (f *Fake) Remaining() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.turns) - f.cursor
}
