package provider

import (
	"context"
	"sync"

	"github.com/goose-run/goose-core/message"
)

// LeadWorkerConfig tunes the lead/worker routing policy.
type LeadWorkerConfig struct {
	LeadTurns        int
	FailureThreshold int
	FallbackTurns    int
}

// DefaultLeadWorkerConfig matches the reference defaults: the first 3
// turns use the lead model, 2 consecutive worker failures trigger a
// 2-turn fallback to lead.
func DefaultLeadWorkerConfig() LeadWorkerConfig {
	return LeadWorkerConfig{LeadTurns: 3, FailureThreshold: 2, FallbackTurns: 2}
}

type leadWorkerState struct {
	turnCount           int
	consecutiveFailures int
	fallbackRemaining   int
}

// LeadWorker is a composite Provider that routes the first LeadTurns turns
// of a session through a stronger "lead" model, then a cheaper "worker"
// model; two consecutive worker failures send the next FallbackTurns turns
// back to lead.
type LeadWorker struct {
	cfg    LeadWorkerConfig
	lead   Provider
	worker Provider

	mu    sync.Mutex
	state leadWorkerState
}

// NewLeadWorker builds a LeadWorker composite provider.
func NewLeadWorker(lead, worker Provider, cfg LeadWorkerConfig) *LeadWorker {
	return &LeadWorker{cfg: cfg, lead: lead, worker: worker}
}

// selectAndAdvance decides which provider serves the upcoming turn and
// advances turnCount. Call sites must report the outcome via recordResult.
func (lw *LeadWorker) selectAndAdvance() (usedLead bool, p Provider) {
	lw.mu.Lock()
	defer lw.mu.Unlock()

	switch {
	case lw.state.fallbackRemaining > 0:
		lw.state.fallbackRemaining--
		usedLead, p = true, lw.lead
	case lw.state.turnCount < lw.cfg.LeadTurns:
		usedLead, p = true, lw.lead
	default:
		usedLead, p = false, lw.worker
	}
	lw.state.turnCount++
	return usedLead, p
}

// recordResult updates the failure-tracking state after a turn completes.
// A lead success always resets the failure counter; a worker failure
// increments it and, on reaching the threshold, arms the fallback window.
func (lw *LeadWorker) recordResult(usedLead bool, err error) {
	lw.mu.Lock()
	defer lw.mu.Unlock()

	if usedLead {
		if err == nil {
			lw.state.consecutiveFailures = 0
		}
		return
	}
	if err == nil {
		lw.state.consecutiveFailures = 0
		return
	}
	lw.state.consecutiveFailures++
	if lw.state.consecutiveFailures >= lw.cfg.FailureThreshold {
		lw.state.fallbackRemaining = lw.cfg.FallbackTurns
		lw.state.consecutiveFailures = 0
	}
}

func (lw *LeadWorker) Complete(ctx context.Context, system string, messages []message.Message, tools []message.Tool) (message.Message, ProviderUsage, error) {
	usedLead, p := lw.selectAndAdvance()
	msg, usage, err := p.Complete(ctx, system, messages, tools)
	lw.recordResult(usedLead, err)
	return msg, usage, err
}

func (lw *LeadWorker) Stream(ctx context.Context, system string, messages []message.Message, tools []message.Tool) (<-chan StreamChunk, error) {
	usedLead, p := lw.selectAndAdvance()
	ch, err := p.Stream(ctx, system, messages, tools)
	if err != nil {
		lw.recordResult(usedLead, err)
		return nil, err
	}

	out := make(chan StreamChunk)
	go func() {
		defer close(out)
		var finalErr error
		for chunk := range ch {
			if chunk.Err != nil {
				finalErr = chunk.Err
			}
			out <- chunk
		}
		lw.recordResult(usedLead, finalErr)
	}()
	return out, nil
}

func (lw *LeadWorker) CreateEmbeddings(ctx context.Context, texts []string) ([][]float32, error) {
	return lw.activeForConfig().CreateEmbeddings(ctx, texts)
}

// activeForConfig returns the provider that would serve the next turn,
// without advancing state — used for metadata-only calls (model config,
// embeddings) that aren't part of the turn sequence.
func (lw *LeadWorker) activeForConfig() Provider {
	lw.mu.Lock()
	defer lw.mu.Unlock()
	if lw.state.fallbackRemaining > 0 || lw.state.turnCount < lw.cfg.LeadTurns {
		return lw.lead
	}
	return lw.worker
}

func (lw *LeadWorker) GetModelConfig() ModelConfig {
	return lw.activeForConfig().GetModelConfig()
}

func (lw *LeadWorker) FetchSupportedModels(ctx context.Context) ([]string, error) {
	return lw.activeForConfig().FetchSupportedModels(ctx)
}

func (lw *LeadWorker) GenerateSessionName(ctx context.Context, conv *message.Conversation) (string, error) {
	return lw.activeForConfig().GenerateSessionName(ctx, conv)
}
