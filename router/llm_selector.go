package router

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/goose-run/goose-core/message"
)

// LLMSelector asks a (usually cheaper) model to pick relevant tools from
// the full indexed set, given the user's latest text.
type LLMSelector struct {
	ask func(ctx context.Context, system string, userText string) (string, error)

	mu    sync.RWMutex
	tools map[string]message.Tool
}

// NewLLMSelector builds an LLMSelector. ask is injected rather than a
// concrete Provider so callers can wire any completion function — the
// production wiring passes a closure around a configured auxiliary model.
func NewLLMSelector(ask func(ctx context.Context, system, userText string) (string, error)) *LLMSelector {
	return &LLMSelector{ask: ask, tools: make(map[string]message.Tool)}
}

func (s *LLMSelector) IndexTools(ctx context.Context, tools []message.Tool, extensionName string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range tools {
		s.tools[t.Name] = t
	}
	return nil
}

func (s *LLMSelector) RemoveTool(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.tools, name)
	return nil
}

func (s *LLMSelector) RemoveExtension(extensionName string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	prefix := extensionName + "__"
	for name := range s.tools {
		if strings.HasPrefix(name, prefix) {
			delete(s.tools, name)
		}
	}
	return nil
}

func (s *LLMSelector) SelectTools(ctx context.Context, query string) ([]message.Content, error) {
	s.mu.RLock()
	var catalog strings.Builder
	for name, t := range s.tools {
		fmt.Fprintf(&catalog, "%s: %s\n", name, t.Description)
	}
	s.mu.RUnlock()

	system := "You select relevant tools for a user request from a catalog. " +
		"Reply with a newline-separated list of tool names only, no commentary.\n\nCatalog:\n" + catalog.String()
	reply, err := s.ask(ctx, system, query)
	if err != nil {
		return nil, fmt.Errorf("router: llm selection: %w", err)
	}
	return []message.Content{message.Text{Text: reply}}, nil
}
