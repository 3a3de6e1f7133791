// Package router implements the optional tool-selection layer (C4) that
// keeps the tool set offered to a provider small, plus the index manager
// (C10) that keeps it synchronized with the extension manager's live
// tool set.
package router

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"

	"github.com/philippgille/chromem-go"

	"github.com/goose-run/goose-core/message"
)

// Strategy identifies which Selector implementation GOOSE_ROUTER_TOOL_SELECTION_STRATEGY
// selects.
type Strategy string

const (
	StrategyNone   Strategy = "default" // no pre-selection; every tool is always visible
	StrategyVector Strategy = "vector"
	StrategyLLM    Strategy = "llm"
)

// Selector is the capability a router strategy implements: idempotent
// index maintenance plus a query-time selection that returns a listing
// the model can consume.
type Selector interface {
	IndexTools(ctx context.Context, tools []message.Tool, extensionName string) error
	RemoveTool(name string) error
	RemoveExtension(extensionName string) error
	SelectTools(ctx context.Context, query string) ([]message.Content, error)
}

// NoneSelector passes every indexed tool through unfiltered; used when
// the router is configured to not pre-select at all.
type NoneSelector struct {
	mu    sync.RWMutex
	tools map[string]message.Tool
}

// NewNoneSelector returns a Selector that never narrows the tool set.
func NewNoneSelector() *NoneSelector {
	return &NoneSelector{tools: make(map[string]message.Tool)}
}

func (s *NoneSelector) IndexTools(ctx context.Context, tools []message.Tool, extensionName string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range tools {
		s.tools[t.Name] = t
	}
	return nil
}

func (s *NoneSelector) RemoveTool(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.tools, name)
	return nil
}

func (s *NoneSelector) RemoveExtension(extensionName string) error {
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

func (s *NoneSelector) SelectTools(ctx context.Context, query string) ([]message.Content, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	names := make([]string, 0, len(s.tools))
	for n := range s.tools {
		names = append(names, n)
	}
	sort.Strings(names)
	var sb strings.Builder
	for _, n := range names {
		fmt.Fprintf(&sb, "%s: %s\n", n, s.tools[n].Description)
	}
	return []message.Content{message.Text{Text: sb.String()}}, nil
}

// Embedder embeds text for the vector selector. Providers expose this via
// Provider.CreateEmbeddings.
type Embedder func(ctx context.Context, texts []string) ([][]float32, error)

// VectorSelector embeds each tool's description once and cosine-ranks
// tools against the query embedding at selection time, backed by an
// in-process chromem-go collection.
type VectorSelector struct {
	db      *chromem.DB
	col     *chromem.Collection
	embed   Embedder
	mu      sync.Mutex
	tools   map[string]message.Tool
	topK    int
}

// NewVectorSelector builds a VectorSelector. embed is used both to embed
// tool descriptions at index time and queries at select time.
func NewVectorSelector(embed Embedder, topK int) (*VectorSelector, error) {
	if topK <= 0 {
		topK = 10
	}
	db := chromem.NewDB()
	col, err := db.GetOrCreateCollection("tools", nil, nil)
	if err != nil {
		return nil, fmt.Errorf("router: create tool collection: %w", err)
	}
	return &VectorSelector{db: db, col: col, embed: embed, tools: make(map[string]message.Tool), topK: topK}, nil
}

func (s *VectorSelector) IndexTools(ctx context.Context, tools []message.Tool, extensionName string) error {
	if len(tools) == 0 {
		return nil
	}
	texts := make([]string, len(tools))
	for i, t := range tools {
		texts[i] = t.Name + ": " + t.Description
	}
	vecs, err := s.embed(ctx, texts)
	if err != nil {
		return fmt.Errorf("router: embed tools for %q: %w", extensionName, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	docs := make([]chromem.Document, 0, len(tools))
	for i, t := range tools {
		s.tools[t.Name] = t
		docs = append(docs, chromem.Document{
			ID:        t.Name,
			Content:   texts[i],
			Embedding: vecs[i],
			Metadata:  map[string]string{"extension": extensionName},
		})
	}
	return s.col.AddDocuments(ctx, docs, 1)
}

func (s *VectorSelector) RemoveTool(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.tools, name)
	return s.col.Delete(context.Background(), nil, nil, name)
}

func (s *VectorSelector) RemoveExtension(extensionName string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	prefix := extensionName + "__"
	var ids []string
	for name := range s.tools {
		if strings.HasPrefix(name, prefix) {
			ids = append(ids, name)
			delete(s.tools, name)
		}
	}
	if len(ids) == 0 {
		return nil
	}
	return s.col.Delete(context.Background(), nil, nil, ids...)
}

func (s *VectorSelector) SelectTools(ctx context.Context, query string) ([]message.Content, error) {
	vecs, err := s.embed(ctx, []string{query})
	if err != nil {
		return nil, fmt.Errorf("router: embed query: %w", err)
	}
	s.mu.Lock()
	n := s.col.Count()
	k := s.topK
	s.mu.Unlock()
	if n == 0 {
		return []message.Content{message.Text{Text: "no tools indexed"}}, nil
	}
	if k > n {
		k = n
	}
	results, err := s.col.QueryEmbedding(ctx, vecs[0], k, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("router: query: %w", err)
	}
	var sb strings.Builder
	for _, r := range results {
		fmt.Fprintf(&sb, "%s (score %.3f)\n", r.ID, r.Similarity)
	}
	return []message.Content{message.Text{Text: sb.String()}}, nil
}

// cosineSimilarity is used by tests that bypass chromem-go's own scoring
// to sanity-check ranking order.
func cosineSimilarity(a, b []float32) float64 {
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
