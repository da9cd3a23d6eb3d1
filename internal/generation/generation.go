// Package generation defines the optional text-generation capability used to summarize
// retrieved passages, with an Ollama backend and an always-unavailable default.
package generation

import (
	"context"
	"fmt"

	"github.com/hyperjump/dalil/internal/models"
)

// Provider produces a completion for a grounding prompt.
type Provider interface {
	Generate(ctx context.Context, prompt string) (string, error)
	// Model identifies the backend model in events and hooks.
	Model() string
}

// Unavailable is the default Provider when no backend is configured. Every call fails.
type Unavailable struct{}

// Generate always fails with models.ErrGenerationUnavailable.
func (Unavailable) Generate(context.Context, string) (string, error) {
	return "", fmt.Errorf("%w: no generation backend configured", models.ErrGenerationUnavailable)
}

// Model returns "none".
func (Unavailable) Model() string { return "none" }
