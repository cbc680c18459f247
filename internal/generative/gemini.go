package generative

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"google.golang.org/genai"

	"github.com/propelai/propelai-backend/internal/prompt"
	"github.com/propelai/propelai-backend/pkg/config"
	apperrors "github.com/propelai/propelai-backend/pkg/errors"
)

// ideaSchema constrains the structured response to exactly IdeaCount
// objects with required string Name, Problem and Solution.
func ideaSchema() *genai.Schema {
	n := int64(IdeaCount)
	return &genai.Schema{
		Type:        genai.TypeArray,
		Description: "A list of exactly 3 unique startup ideas based on the provided text.",
		MinItems:    &n,
		MaxItems:    &n,
		Items: &genai.Schema{
			Type: genai.TypeObject,
			Properties: map[string]*genai.Schema{
				"Name":     {Type: genai.TypeString, Description: "A catchy, short name for the startup idea."},
				"Problem":  {Type: genai.TypeString, Description: "The specific market problem identified in the text context."},
				"Solution": {Type: genai.TypeString, Description: "A brief, actionable solution using modern technology."},
			},
			Required:         []string{"Name", "Problem", "Solution"},
			PropertyOrdering: []string{"Name", "Problem", "Solution"},
		},
	}
}

// Gemini is a Generator backed by the Gemini generateContent API.
type Gemini struct {
	client      *genai.Client
	model       string
	temperature float32
	logger      *slog.Logger
}

// NewGemini builds the SDK client. httpClient may be nil.
func NewGemini(ctx context.Context, cfg config.GeminiConfig, httpClient *http.Client) (*Gemini, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("gemini api key is required")
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}
	cc := &genai.ClientConfig{
		APIKey:     cfg.APIKey,
		Backend:    genai.BackendGeminiAPI,
		HTTPClient: httpClient,
		HTTPOptions: genai.HTTPOptions{
			BaseURL:    cfg.BaseURL,
			APIVersion: cfg.APIVersion,
		},
	}
	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, fmt.Errorf("creating gemini client: %w", err)
	}
	model := cfg.Model
	if model == "" {
		model = "gemini-2.5-flash"
	}
	return &Gemini{
		client:      client,
		model:       model,
		temperature: cfg.Temperature,
		logger:      slog.Default().With("component", "gemini", "model", model),
	}, nil
}

func (g *Gemini) Model() string { return g.model }

func (g *Gemini) config(p prompt.Prompt) *genai.GenerateContentConfig {
	cfg := &genai.GenerateContentConfig{}
	if p.SystemInstruction != "" {
		cfg.SystemInstruction = genai.NewContentFromText(p.SystemInstruction, genai.RoleUser)
	}
	if g.temperature > 0 {
		cfg.Temperature = genai.Ptr(g.temperature)
	}
	return cfg
}

func (g *Gemini) GenerateIdeas(ctx context.Context, p prompt.Prompt) ([]map[string]any, error) {
	cfg := g.config(p)
	cfg.ResponseMIMEType = "application/json"
	cfg.ResponseSchema = ideaSchema()

	text, err := g.generate(ctx, p.UserPrompt, cfg)
	if err != nil {
		return nil, err
	}
	var raw []map[string]any
	if err := json.Unmarshal([]byte(text), &raw); err != nil {
		return nil, apperrors.Wrap(apperrors.ErrUpstreamSchema, fmt.Errorf("decoding ideas: %w", err))
	}
	return raw, nil
}

func (g *Gemini) GenerateText(ctx context.Context, p prompt.Prompt) (string, error) {
	return g.generate(ctx, p.UserPrompt, g.config(p))
}

// generate performs the single round trip and extracts
// candidates[0].content.parts[0].text.
func (g *Gemini) generate(ctx context.Context, userPrompt string, cfg *genai.GenerateContentConfig) (string, error) {
	start := time.Now()
	resp, err := g.client.Models.GenerateContent(ctx, g.model, genai.Text(userPrompt), cfg)
	elapsed := time.Since(start)
	if err != nil {
		g.logger.Warn("generate content failed", "error", err, "duration_ms", elapsed.Milliseconds())
		return "", classify(ctx, err)
	}
	g.logger.Debug("generate content", "duration_ms", elapsed.Milliseconds())

	if resp == nil || len(resp.Candidates) == 0 {
		return "", apperrors.Wrap(apperrors.ErrUpstreamSchema, errors.New("response has no candidates"))
	}
	content := resp.Candidates[0].Content
	if content == nil || len(content.Parts) == 0 || content.Parts[0] == nil {
		return "", apperrors.Wrap(apperrors.ErrUpstreamSchema, errors.New("candidate has no content parts"))
	}
	text := content.Parts[0].Text
	if strings.TrimSpace(text) == "" {
		return "", apperrors.Wrap(apperrors.ErrUpstreamSchema, errors.New("candidate text is empty"))
	}
	return text, nil
}

// classify maps SDK errors onto the upstream taxonomy: anything that kept
// the call from completing with a 2xx is a request failure, everything
// else (an undecodable body) violates the response schema.
func classify(ctx context.Context, err error) error {
	var (
		apiErr    genai.APIError
		apiErrPtr *genai.APIError
		urlErr    *url.Error
		netErr    net.Error
	)
	switch {
	case ctx.Err() != nil,
		errors.Is(err, context.Canceled),
		errors.Is(err, context.DeadlineExceeded),
		errors.As(err, &apiErr),
		errors.As(err, &apiErrPtr),
		errors.As(err, &urlErr),
		errors.As(err, &netErr):
		return apperrors.Wrap(apperrors.ErrUpstreamRequest, err)
	default:
		return apperrors.Wrap(apperrors.ErrUpstreamSchema, err)
	}
}
