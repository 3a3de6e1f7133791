// Package contextmgr is the context manager (C6): it counts tokens across
// messages, system prompt, and tool definitions, and when a provider's
// context limit is exceeded, either truncates the oldest messages or asks
// the provider to summarize them — mirroring the exact algorithms in
// original_source's agents/context.rs. Grounded on the teacher's
// pkg/utils/tokens.go for the counting half.
package contextmgr

import (
	"fmt"
	"sync"

	"github.com/pkoukk/tiktoken-go"

	"github.com/goose-run/goose-core/message"
)

var (
	encodingCache = make(map[string]*tiktoken.Tiktoken)
	encodingMu    sync.RWMutex
)

// TokenCounter counts tokens for a given model's encoding, falling back
// to cl100k_base when the model isn't recognized by tiktoken-go.
type TokenCounter struct {
	encoding *tiktoken.Tiktoken
}

// NewTokenCounter returns a TokenCounter for model, caching the
// underlying tiktoken encoding across instances.
func NewTokenCounter(model string) (*TokenCounter, error) {
	encodingMu.RLock()
	cached, ok := encodingCache[model]
	encodingMu.RUnlock()
	if ok {
		return &TokenCounter{encoding: cached}, nil
	}

	enc, err := tiktoken.EncodingForModel(model)
	if err != nil {
		enc, err = tiktoken.GetEncoding("cl100k_base")
		if err != nil {
			return nil, fmt.Errorf("contextmgr: load fallback encoding: %w", err)
		}
	}
	encodingMu.Lock()
	encodingCache[model] = enc
	encodingMu.Unlock()
	return &TokenCounter{encoding: enc}, nil
}

// Count returns the token count for text.
func (tc *TokenCounter) Count(text string) int {
	if text == "" {
		return 0
	}
	return len(tc.encoding.Encode(text, nil, nil))
}

// tokensPerMessage is the per-message role/structure overhead, following
// OpenAI's documented counting format.
const tokensPerMessage = 3

// CountMessage returns the token cost of one message: structural overhead
// plus every Text/Thinking content item's token count. Tool requests and
// responses are counted via their serialized text representation.
func (tc *TokenCounter) CountMessage(m message.Message) int {
	total := tokensPerMessage
	total += tc.Count(string(m.Role))
	for _, c := range m.Content {
		switch v := c.(type) {
		case message.Text:
			total += tc.Count(v.Text)
		case message.Thinking:
			total += tc.Count(v.Text)
		case message.ToolRequest:
			if v.Call != nil {
				total += tc.Count(v.Call.Name)
				total += tc.Count(fmt.Sprintf("%v", v.Call.Arguments))
			} else {
				total += tc.Count(v.ParseError)
			}
		case message.ToolResponse:
			for _, rc := range v.Content {
				if t, ok := rc.(message.Text); ok {
					total += tc.Count(t.Text)
				}
			}
			if v.Err != nil {
				total += tc.Count(v.Err.Message)
			}
		}
	}
	return total
}

// CountMessages sums CountMessage over every message plus the trailing
// reply-priming overhead.
func (tc *TokenCounter) CountMessages(messages []message.Message) int {
	total := 3 // reply is primed with <|start|>assistant<|message|>
	for _, m := range messages {
		total += tc.CountMessage(m)
	}
	return total
}

// CountTools returns the token cost of a tool list: name, description,
// and a rough JSON-shaped accounting of the schema.
func (tc *TokenCounter) CountTools(tools []message.Tool) int {
	total := 0
	for _, t := range tools {
		total += tc.Count(t.Name)
		total += tc.Count(t.Description)
		total += tc.Count(fmt.Sprintf("%v", t.InputSchema))
	}
	return total
}
