package provider_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/goose-run/goose-core/message"
	"github.com/goose-run/goose-core/provider"
)

// scriptedProvider returns a fixed sequence of outcomes, one per call, and
// records how many times it was invoked.
type scriptedProvider struct {
	name    string
	results []error
	calls   int
}

func (s *scriptedProvider) Complete(ctx context.Context, system string, messages []message.Message, tools []message.Tool) (message.Message, provider.ProviderUsage, error) {
	i := s.calls
	s.calls++
	var err error
	if i < len(s.results) {
		err = s.results[i]
	}
	if err != nil {
		return message.Message{}, provider.ProviderUsage{}, err
	}
	return message.AssistantText(s.name), provider.ProviderUsage{Model: s.name}, nil
}

func (s *scriptedProvider) Stream(ctx context.Context, system string, messages []message.Message, tools []message.Tool) (<-chan provider.StreamChunk, error) {
	return nil, provider.ErrUnsupported
}
func (s *scriptedProvider) CreateEmbeddings(ctx context.Context, texts []string) ([][]float32, error) {
	return nil, provider.ErrUnsupported
}
func (s *scriptedProvider) GetModelConfig() provider.ModelConfig {
	return provider.ModelConfig{ModelName: s.name}
}
func (s *scriptedProvider) FetchSupportedModels(ctx context.Context) ([]string, error) {
	return nil, provider.ErrUnsupported
}
func (s *scriptedProvider) GenerateSessionName(ctx context.Context, conv *message.Conversation) (string, error) {
	return s.name, nil
}

func TestLeadWorkerFallbackScenario(t *testing.T) {
	lead := &scriptedProvider{name: "lead"}
	worker := &scriptedProvider{name: "worker", results: []error{
		errors.New("boom1"), errors.New("boom2"),
	}}
	lw := provider.NewLeadWorker(lead, worker, provider.DefaultLeadWorkerConfig())

	var used []string
	for turn := 1; turn <= 8; turn++ {
		msg, usage, err := lw.Complete(context.Background(), "sys", nil, nil)
		if err != nil {
			used = append(used, "worker-err")
			continue
		}
		used = append(used, usage.Model)
		_ = msg
	}

	assert.Equal(t, []string{
		"lead", "lead", "lead", // turns 1-3
		"worker-err", "worker-err", // turns 4-5
		"lead", "lead", // turns 6-7 fallback
		"worker", // turn 8
	}, used)
}

func TestLeadWorkerSuccessResetsFailureCounter(t *testing.T) {
	lead := &scriptedProvider{name: "lead"}
	worker := &scriptedProvider{name: "worker", results: []error{
		errors.New("boom1"), nil, errors.New("boom2"), errors.New("boom3"),
	}}
	cfg := provider.LeadWorkerConfig{LeadTurns: 1, FailureThreshold: 2, FallbackTurns: 2}
	lw := provider.NewLeadWorker(lead, worker, cfg)

	// turn1: lead. turns2-5: worker (one failure, one success resets, then
	// two more failures trip the threshold).
	for i := 0; i < 5; i++ {
		_, _, _ = lw.Complete(context.Background(), "sys", nil, nil)
	}
	// turn6 should now be lead (fallback armed by the failures on turns 4
	// and 5, the 3rd and 4th worker calls).
	_, usage, err := lw.Complete(context.Background(), "sys", nil, nil)
	require.NoError(t, err)
	assert.Equal(t, "lead", usage.Model)
	// Without the reset on turn 3, the turn-4 failure would already arm the
	// fallback and turn 5 would go to lead, leaving the worker at 3 calls.
	assert.Equal(t, 4, worker.calls)
}
