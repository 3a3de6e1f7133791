package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/goose-run/goose-core/message"
)

const (
	defaultOpenAIMaxTokens = 4096
)

// chatClient captures the subset of the openai-go client this adapter
// uses, so tests can substitute a mock.
type chatClient interface {
	New(ctx context.Context, body openai.ChatCompletionNewParams, opts ...option.RequestOption) (*openai.ChatCompletion, error)
}

// OpenAIEngine implements Provider on top of the OpenAI (or an
// OpenAI-compatible) Chat Completions API.
type OpenAIEngine struct {
	chat        chatClient
	model       string
	maxTokens   int
	temperature *float64
	contextLim  int
}

// NewOpenAIEngine builds a Provider backed by openai-go. If baseURL is
// non-empty the client targets an OpenAI-compatible endpoint instead of
// the public API (used for custom-provider configs with engine=openai and
// an alternate base_url). Extra headers and a request timeout are applied
// as per-request options baked into the client at construction, rather
// than rebuilding the client to change a single header.
func NewOpenAIEngine(apiKey, baseURL, model string, maxTokens, contextLimit int, headers map[string]string, timeout time.Duration) *OpenAIEngine {
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
	client := openai.NewClient(opts...)
	return &OpenAIEngine{chat: &client.Chat.Completions, model: model, maxTokens: maxTokens, contextLim: contextLimit}
}

func openAIConstructor(cfg CustomConfig, modelName string) (Provider, error) {
	key := envOrEmpty(cfg.APIKeyEnv)
	limit := 0
	for _, m := range cfg.Models {
		if m.Name == modelName {
			limit = m.ContextLimit
			break
		}
	}
	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	return NewOpenAIEngine(key, cfg.BaseURL, modelName, 4096, limit, cfg.Headers, timeout), nil
}

func (e *OpenAIEngine) Complete(ctx context.Context, system string, messages []message.Message, tools []message.Tool) (message.Message, ProviderUsage, error) {
	params, err := e.buildParams(system, messages, tools)
	if err != nil {
		return message.Message{}, ProviderUsage{}, err
	}
	resp, err := e.chat.New(ctx, params)
	if err != nil {
		return message.Message{}, ProviderUsage{}, translateOpenAIError(err)
	}
	return translateOpenAIResponse(resp)
}

func (e *OpenAIEngine) Stream(ctx context.Context, system string, messages []message.Message, tools []message.Tool) (<-chan StreamChunk, error) {
	msg, usage, err := e.Complete(ctx, system, messages, tools)
	if err != nil {
		return nil, err
	}
	ch := make(chan StreamChunk, 1)
	ch <- StreamChunk{Message: &msg, Usage: &usage}
	close(ch)
	return ch, nil
}

func (e *OpenAIEngine) CreateEmbeddings(ctx context.Context, texts []string) ([][]float32, error) {
	return nil, ErrUnsupported
}

func (e *OpenAIEngine) GetModelConfig() ModelConfig {
	return ModelConfig{
		ModelName:         e.model,
		ContextLimit:      e.contextLim,
		Temperature:       e.temperature,
		SupportsStreaming: true,
	}
}

func (e *OpenAIEngine) FetchSupportedModels(ctx context.Context) ([]string, error) {
	return nil, ErrUnsupported
}

func (e *OpenAIEngine) GenerateSessionName(ctx context.Context, conv *message.Conversation) (string, error) {
	prompt := "Summarize this conversation in under 8 words for use as a session title."
	msgs := append(append([]message.Message{}, conv.Messages()...), message.UserText(prompt))
	reply, _, err := e.Complete(ctx, "You generate short session titles.", msgs, nil)
	if err != nil {
		return "", err
	}
	return stripReasoningPrefix(truncateName(reply.Text())), nil
}

func (e *OpenAIEngine) buildParams(system string, messages []message.Message, tools []message.Tool) (openai.ChatCompletionNewParams, error) {
	if e.model == "" {
		return openai.ChatCompletionNewParams{}, fmt.Errorf("provider: openai model is required")
	}
	maxTokens := e.maxTokens
	if maxTokens <= 0 {
		maxTokens = defaultOpenAIMaxTokens
	}

	var msgs []openai.ChatCompletionMessageParamUnion
	if system != "" {
		msgs = append(msgs, openai.SystemMessage(system))
	}
	for _, m := range messages {
		if !m.Metadata.AgentVisible {
			continue
		}
		msgs = append(msgs, toOpenAIMessages(m)...)
	}

	params := openai.ChatCompletionNewParams{
		Model:     openai.ChatModel(e.model),
		Messages:  msgs,
		MaxTokens: openai.Int(int64(maxTokens)),
	}
	if e.temperature != nil {
		params.Temperature = openai.Float(*e.temperature)
	}
	if len(tools) > 0 {
		params.Tools = toOpenAITools(tools)
	}
	return params, nil
}

func toOpenAIMessages(m message.Message) []openai.ChatCompletionMessageParamUnion {
	var out []openai.ChatCompletionMessageParamUnion
	var text string
	var calls []openai.ChatCompletionMessageToolCallParam

	for _, c := range m.Content {
		switch v := c.(type) {
		case message.Text:
			text += v.Text
		case message.ToolRequest:
			if v.Call == nil {
				continue
			}
			args, _ := json.Marshal(v.Call.Arguments)
			calls = append(calls, openai.ChatCompletionMessageToolCallParam{
				ID: v.ID,
				Function: openai.ChatCompletionMessageToolCallFunctionParam{
					Name:      v.Call.Name,
					Arguments: string(args),
				},
			})
		case message.ToolResponse:
			out = append(out, openai.ToolMessage(toolResponseText(v), v.ID))
		}
	}

	switch m.Role {
	case message.RoleUser:
		if text != "" {
			out = append(out, openai.UserMessage(text))
		}
	case message.RoleAssistant:
		if text != "" || len(calls) > 0 {
			msg := openai.AssistantMessage(text)
			if len(calls) > 0 {
				msg.OfAssistant.ToolCalls = calls
			}
			out = append(out, msg)
		}
	}
	return out
}

func toOpenAITools(tools []message.Tool) []openai.ChatCompletionToolParam {
	out := make([]openai.ChatCompletionToolParam, 0, len(tools))
	for _, t := range tools {
		out = append(out, openai.ChatCompletionToolParam{
			Function: openai.FunctionDefinitionParam{
				Name:        t.Name,
				Description: openai.String(t.Description),
				Parameters:  openai.FunctionParameters(t.InputSchema),
			},
		})
	}
	return out
}

func translateOpenAIResponse(resp *openai.ChatCompletion) (message.Message, ProviderUsage, error) {
	if len(resp.Choices) == 0 {
		return message.Message{}, ProviderUsage{}, fmt.Errorf("provider: openai response had no choices")
	}
	choice := resp.Choices[0]
	var content []message.Content
	if choice.Message.Content != "" {
		content = append(content, message.Text{Text: choice.Message.Content})
	}
	for _, tc := range choice.Message.ToolCalls {
		var args map[string]any
		if err := json.Unmarshal([]byte(tc.Function.Arguments), &args); err != nil {
			content = append(content, message.ToolRequest{ID: tc.ID, ParseError: err.Error()})
			continue
		}
		content = append(content, message.ToolRequest{
			ID:   tc.ID,
			Call: &message.ToolCall{Name: tc.Function.Name, Arguments: args},
		})
	}
	if len(content) == 0 {
		content = append(content, message.Text{Text: ""})
	}

	msg, err := message.New(message.RoleAssistant, message.DefaultMetadata(), content...)
	if err != nil {
		return message.Message{}, ProviderUsage{}, err
	}

	in := int(resp.Usage.PromptTokens)
	out := int(resp.Usage.CompletionTokens)
	total := int(resp.Usage.TotalTokens)
	usage := ProviderUsage{
		Model: string(resp.Model),
		Usage: Usage{InputTokens: &in, OutputTokens: &out, TotalTokens: &total},
	}
	return msg, usage, nil
}

// openAIAPIError is the subset of the SDK's generated error type this
// adapter inspects to classify failures.
type openAIAPIError interface {
	error
	StatusCode() int
}

func translateOpenAIError(err error) *Error {
	var apiErr openAIAPIError
	if errors.As(err, &apiErr) {
		switch apiErr.StatusCode() {
		case 401, 403:
			return NewError(ErrAuthentication, "openai authentication failed", err)
		case 429:
			return NewError(ErrRateLimitExceeded, "openai rate limit", err)
		case 400:
			return NewError(ErrRequestFailed, "openai rejected the request", err)
		default:
			if apiErr.StatusCode() >= 500 {
				return NewError(ErrServerError, "openai server error", err)
			}
		}
	}
	return NewError(ErrRequestFailed, "openai request failed", err)
}
