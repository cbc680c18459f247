// Package generative calls the external LLM and returns its raw output.
// Responses are untrusted: the structured path only guarantees a JSON array
// of objects, and shape validation is left to the idea mapper.
package generative

import (
	"context"

	"github.com/propelai/propelai-backend/internal/prompt"
)

// Generator produces model output for a composed prompt. Each call performs
// exactly one upstream round trip.
type Generator interface {
	// GenerateIdeas requests schema-constrained JSON and decodes it into a
	// list of objects.
	GenerateIdeas(ctx context.Context, p prompt.Prompt) ([]map[string]any, error)
	// GenerateText requests free text.
	GenerateText(ctx context.Context, p prompt.Prompt) (string, error)
}

// IdeaCount is the number of ideas the structured schema asks for.
const IdeaCount = 3
