package guidance

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"halo/internal/nn"
)

// TextEncoder turns prompt text into a conditioning embedding. The empty
// string encodes the unconditional embedding.
type TextEncoder interface {
	Encode(ctx context.Context, text string) ([]float64, error)
}

// PromptProcessor memoizes encoder calls so each embedding is derived once
// per run and shared read-only by every guidance invocation.
type PromptProcessor struct {
	enc TextEncoder

	mu    sync.Mutex
	cache map[string][]float64
}

func NewPromptProcessor(enc TextEncoder) (*PromptProcessor, error) {
	if enc == nil {
		return nil, fmt.Errorf("text encoder is required")
	}
	return &PromptProcessor{enc: enc, cache: make(map[string][]float64)}, nil
}

// Embeddings returns the conditional and unconditional embeddings for a
// prompt. An empty or blank prompt fails immediately so a misconfigured run
// dies at startup, not mid-training.
func (p *PromptProcessor) Embeddings(ctx context.Context, prompt string) (cond, uncond []float64, err error) {
	if strings.TrimSpace(prompt) == "" {
		return nil, nil, fmt.Errorf("prompt text is empty")
	}
	cond, err = p.encode(ctx, prompt)
	if err != nil {
		return nil, nil, fmt.Errorf("encode prompt: %w", err)
	}
	uncond, err = p.encode(ctx, "")
	if err != nil {
		return nil, nil, fmt.Errorf("encode unconditional: %w", err)
	}
	if len(cond) != len(uncond) {
		return nil, nil, fmt.Errorf("embedding length mismatch: cond=%d uncond=%d", len(cond), len(uncond))
	}
	return cond, uncond, nil
}

func (p *PromptProcessor) encode(ctx context.Context, text string) ([]float64, error) {
	p.mu.Lock()
	cached, ok := p.cache[text]
	p.mu.Unlock()
	if ok {
		return cached, nil
	}

	emb, err := p.enc.Encode(ctx, text)
	if err != nil {
		return nil, err
	}
	if len(emb) == 0 {
		return nil, fmt.Errorf("encoder returned empty embedding")
	}
	if i := nn.FiniteSlice(emb); i >= 0 {
		return nil, fmt.Errorf("embedding has non-finite value at index %d", i)
	}

	p.mu.Lock()
	p.cache[text] = emb
	p.mu.Unlock()
	return emb, nil
}
