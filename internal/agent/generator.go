// Package agent produces free-text assistant replies. Two implementations
// exist: an LLM-backed generator and a deterministic pattern responder. The
// implementation is chosen by configuration at startup; the orchestrator
// additionally falls back to the deterministic one when the LLM call fails,
// so a turn never aborts on a model outage.
package agent

import (
	"context"
	"fmt"

	"todochat/internal/config"
	"todochat/internal/models"
)

// Generator turns a message plus reconstructed history into reply text. The
// call is stateless: all context arrives through the history slice.
type Generator interface {
	Generate(ctx context.Context, history []*models.Message, message string) (string, error)
	// GenerateTitle proposes a short conversation title, or "" to keep the
	// auto-derived one.
	GenerateTitle(ctx context.Context, history []*models.Message) (string, error)
}

// New selects a Generator from config. Mode "llm" builds the provider-backed
// generator; "fallback" (the default) builds the deterministic responder.
func New(cfg *config.Config) (Generator, error) {
	switch cfg.Agent.Mode {
	case "", "fallback":
		return NewFallback(), nil
	case "llm":
		return NewLLMGenerator(cfg)
	default:
		return nil, fmt.Errorf("unknown agent mode: %s", cfg.Agent.Mode)
	}
}
