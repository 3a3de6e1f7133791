package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/goose-run/goose-core/message"
)

// messagesClient captures the subset of the Anthropic SDK used here, so
// tests can substitute a mock without making real HTTP calls.
type messagesClient interface {
	New(ctx context.Context, body sdk.MessageNewParams, opts ...option.RequestOption) (*sdk.Message, error)
}

// AnthropicEngine implements Provider on top of Anthropic's Messages API.
type AnthropicEngine struct {
	msg         messagesClient
	model       string
	maxTokens   int
	temperature *float64
	contextLim  int
}

// NewAnthropicEngine builds a Provider backed by anthropic-sdk-go for the
// given model. maxTokens bounds each completion's output. baseURL, extra
// headers and a request timeout are applied as options baked into the
// client at construction, rather than rebuilding the client to change a
// single header.
func NewAnthropicEngine(apiKey, baseURL, model string, maxTokens, contextLimit int, headers map[string]string, timeout time.Duration) *AnthropicEngine {
	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	for k, v := range headers {
		opts = append(opts, option.WithHeader(k, v))
	}
	if timeout > 0 {
		opts = append(opts, option.WithRequestTimeout(timeout))
	}
	client := sdk.NewClient(opts...)
	return &AnthropicEngine{msg: &client.Messages, model: model, maxTokens: maxTokens, contextLim: contextLimit}
}

// anthropicConstructor adapts NewAnthropicEngine to the registry's
// Constructor signature for custom-provider config loading.
func anthropicConstructor(cfg CustomConfig, modelName string) (Provider, error) {
	key := envOrEmpty(cfg.APIKeyEnv)
	limit := 0
	for _, m := range cfg.Models {
		if m.Name == modelName {
			limit = m.ContextLimit
			break
		}
	}
	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	return NewAnthropicEngine(key, cfg.BaseURL, modelName, 4096, limit, cfg.Headers, timeout), nil
}

func (e *AnthropicEngine) Complete(ctx context.Context, system string, messages []message.Message, tools []message.Tool) (message.Message, ProviderUsage, error) {
	params, err := e.buildParams(system, messages, tools)
	if err != nil {
		return message.Message{}, ProviderUsage{}, err
	}
	resp, err := e.msg.New(ctx, params)
	if err != nil {
		return message.Message{}, ProviderUsage{}, translateAnthropicError(err)
	}
	return translateAnthropicResponse(resp)
}

func (e *AnthropicEngine) Stream(ctx context.Context, system string, messages []message.Message, tools []message.Tool) (<-chan StreamChunk, error) {
	msg, usage, err := e.Complete(ctx, system, messages, tools)
	if err != nil {
		return nil, err
	}
	ch := make(chan StreamChunk, 1)
	ch <- StreamChunk{Message: &msg, Usage: &usage}
	close(ch)
	return ch, nil
}

func (e *AnthropicEngine) CreateEmbeddings(ctx context.Context, texts []string) ([][]float32, error) {
	return nil, ErrUnsupported
}

func (e *AnthropicEngine) GetModelConfig() ModelConfig {
	return ModelConfig{
		ModelName:         e.model,
		ContextLimit:      e.contextLim,
		Temperature:       e.temperature,
		SupportsStreaming: true,
	}
}

func (e *AnthropicEngine) FetchSupportedModels(ctx context.Context) ([]string, error) {
	return nil, ErrUnsupported
}

func (e *AnthropicEngine) GenerateSessionName(ctx context.Context, conv *message.Conversation) (string, error) {
	prompt := "Summarize this conversation in under 8 words for use as a session title."
	msgs := append(append([]message.Message{}, conv.Messages()...), message.UserText(prompt))
	reply, _, err := e.Complete(ctx, "You generate short session titles.", msgs, nil)
	if err != nil {
		return "", err
	}
	return stripReasoningPrefix(truncateName(reply.Text())), nil
}

func (e *AnthropicEngine) buildParams(system string, messages []message.Message, tools []message.Tool) (sdk.MessageNewParams, error) {
	if e.model == "" {
		return sdk.MessageNewParams{}, fmt.Errorf("provider: anthropic model is required")
	}
	maxTokens := e.maxTokens
	if maxTokens <= 0 {
		maxTokens = 4096
	}

	msgs := make([]sdk.MessageParam, 0, len(messages))
	for _, m := range messages {
		if !m.Metadata.AgentVisible {
			continue
		}
		blocks := contentToBlocks(m)
		if len(blocks) == 0 {
			continue
		}
		switch m.Role {
		case message.RoleUser:
			msgs = append(msgs, sdk.NewUserMessage(blocks...))
		case message.RoleAssistant:
			msgs = append(msgs, sdk.NewAssistantMessage(blocks...))
		}
	}

	params := sdk.MessageNewParams{
		Model:     sdk.Model(e.model),
		MaxTokens: int64(maxTokens),
		Messages:  msgs,
	}
	if system != "" {
		params.System = []sdk.TextBlockParam{{Text: system}}
	}
	if e.temperature != nil {
		params.Temperature = sdk.Float(*e.temperature)
	}
	if len(tools) > 0 {
		params.Tools = toAnthropicTools(tools)
	}
	return params, nil
}

func contentToBlocks(m message.Message) []sdk.ContentBlockParamUnion {
	var blocks []sdk.ContentBlockParamUnion
	for _, c := range m.Content {
		switch v := c.(type) {
		case message.Text:
			if v.Text != "" {
				blocks = append(blocks, sdk.NewTextBlock(v.Text))
			}
		case message.ToolRequest:
			if v.Call != nil {
				blocks = append(blocks, sdk.NewToolUseBlock(v.ID, v.Call.Arguments, v.Call.Name))
			}
		case message.ToolResponse:
			text := toolResponseText(v)
			blocks = append(blocks, sdk.NewToolResultBlock(v.ID, text, v.Err != nil))
		}
	}
	return blocks
}

func toolResponseText(v message.ToolResponse) string {
	if v.Err != nil {
		return v.Err.Message
	}
	var s string
	for _, c := range v.Content {
		if t, ok := c.(message.Text); ok {
			s += t.Text
		}
	}
	return s
}

func toAnthropicTools(tools []message.Tool) []sdk.ToolUnionParam {
	out := make([]sdk.ToolUnionParam, 0, len(tools))
	for _, t := range tools {
		out = append(out, sdk.ToolUnionParam{
			OfTool: &sdk.ToolParam{
				Name:        t.Name,
				Description: sdk.String(t.Description),
				InputSchema: sdk.ToolInputSchemaParam{
					Properties: t.InputSchema["properties"],
				},
			},
		})
	}
	return out
}

func translateAnthropicResponse(resp *sdk.Message) (message.Message, ProviderUsage, error) {
	var content []message.Content
	for _, block := range resp.Content {
		switch block.Type {
		case "text":
			if block.Text != "" {
				content = append(content, message.Text{Text: block.Text})
			}
		case "tool_use":
			var args map[string]any
			if err := json.Unmarshal(block.Input, &args); err != nil {
				content = append(content, message.ToolRequest{ID: block.ID, ParseError: err.Error()})
				continue
			}
			content = append(content, message.ToolRequest{
				ID:   block.ID,
				Call: &message.ToolCall{Name: block.Name, Arguments: args},
			})
		case "thinking":
			content = append(content, message.Thinking{Text: block.Thinking, Signature: block.Signature})
		case "redacted_thinking":
			content = append(content, message.RedactedThinking{Data: block.Data})
		}
	}
	if len(content) == 0 {
		content = append(content, message.Text{Text: ""})
	}
	msg, err := message.New(message.RoleAssistant, message.DefaultMetadata(), content...)
	if err != nil {
		return message.Message{}, ProviderUsage{}, err
	}

	in := int(resp.Usage.InputTokens)
	out := int(resp.Usage.OutputTokens)
	usage := ProviderUsage{
		Model: string(resp.Model),
		Usage: Usage{InputTokens: &in, OutputTokens: &out},
	}
	return msg, usage, nil
}

// anthropicAPIError is the subset of the SDK's generated error type this
// adapter inspects to classify failures.
type anthropicAPIError interface {
	error
	StatusCode() int
}

func translateAnthropicError(err error) *Error {
	var apiErr anthropicAPIError
	if errors.As(err, &apiErr) {
		switch apiErr.StatusCode() {
		case 401, 403:
			return NewError(ErrAuthentication, "anthropic authentication failed", err)
		case 429:
			return NewError(ErrRateLimitExceeded, "anthropic rate limit", err)
		case 400:
			if strings.Contains(strings.ToLower(err.Error()), "context") {
				return NewError(ErrContextLengthExceeded, "anthropic context length exceeded", err)
			}
			return NewError(ErrRequestFailed, "anthropic rejected the request", err)
		default:
			if apiErr.StatusCode() >= 500 {
				return NewError(ErrServerError, "anthropic server error", err)
			}
		}
	}
	return NewError(ErrRequestFailed, "anthropic request failed", err)
}

func truncateName(s string) string {
	s = strings.TrimSpace(s)
	if len(s) > 100 {
		return s[:100]
	}
	return s
}

// stripReasoningPrefix removes leading reasoning-style preambles ("Sure,
// here's a title:", "Title:") some models prepend to a short summary.
func stripReasoningPrefix(s string) string {
	for _, prefix := range []string{"Title:", "Session title:", "Sure, here's a title:", "Here's a title:"} {
		if strings.HasPrefix(s, prefix) {
			return strings.TrimSpace(strings.TrimPrefix(s, prefix))
		}
	}
	return s
}
