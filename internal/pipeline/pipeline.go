// Package pipeline runs the distillation stages and the generative call for
// one request. A Pipeline holds only configuration and is safe for
// concurrent use.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/propelai/propelai-backend/internal/generative"
	"github.com/propelai/propelai-backend/internal/ideas"
	"github.com/propelai/propelai-backend/internal/prompt"
	"github.com/propelai/propelai-backend/internal/textproc/keywords"
	"github.com/propelai/propelai-backend/internal/textproc/normalize"
	"github.com/propelai/propelai-backend/internal/textproc/summarize"
	"github.com/propelai/propelai-backend/internal/textproc/tokenizer"
	"github.com/propelai/propelai-backend/pkg/config"
	apperrors "github.com/propelai/propelai-backend/pkg/errors"
	"github.com/propelai/propelai-backend/pkg/tracing"
)

// Result is the mapped output of one generation.
type Result struct {
	Mode    prompt.Mode
	Prompt  prompt.Prompt
	Records []ideas.Record
}

type Pipeline struct {
	summarizer *summarize.Summarizer
	extractor  *keywords.Extractor
	composer   *prompt.Composer
	generator  generative.Generator
	sentences  int
	logger     *slog.Logger
}

// New validates cfg and wires the stages around gen.
func New(cfg config.PipelineConfig, gen generative.Generator) (*Pipeline, error) {
	if !tokenizer.SupportedLanguage(cfg.Language) {
		return nil, fmt.Errorf("unsupported pipeline language %q", cfg.Language)
	}
	if gen == nil {
		return nil, fmt.Errorf("pipeline requires a generator")
	}
	sentences := cfg.SummarySentences
	if sentences <= 0 {
		sentences = 5
	}
	return &Pipeline{
		summarizer: summarize.New(cfg.Language),
		extractor: keywords.New(keywords.Options{
			Language:       cfg.Language,
			MaxNGram:       cfg.KeywordMaxNGram,
			Top:            cfg.KeywordCount,
			DedupThreshold: cfg.KeywordDedup,
		}),
		composer:  prompt.NewComposer(cfg.MaxPromptChars),
		generator: gen,
		sentences: sentences,
		logger:    slog.Default().With("component", "pipeline"),
	}, nil
}

// Distill normalizes raw content and composes the structured prompt without
// calling the model.
func (p *Pipeline) Distill(ctx context.Context, raw string) (prompt.Prompt, error) {
	_, span := tracing.StartChildSpan(ctx, "normalize")
	text := normalize.Normalize(raw)
	span.SetAttr("chars", len(text))
	span.End()

	_, span = tracing.StartChildSpan(ctx, "summarize")
	summary := p.summarizer.Summarize(text, p.sentences)
	span.SetAttr("chars", len(summary))
	span.End()

	_, span = tracing.StartChildSpan(ctx, "keywords")
	kws := p.extractor.Phrases(text)
	span.SetAttr("count", len(kws))
	span.End()

	_, span = tracing.StartChildSpan(ctx, "compose")
	defer span.End()
	pr, err := p.composer.Structured(summary, kws)
	if err != nil {
		span.SetAttr("error", err.Error())
		return prompt.Prompt{}, err
	}
	span.SetAttr("chars", len(pr.UserPrompt))
	return pr, nil
}

// FromContent runs the text-content path and returns exactly
// ideas.StructuredCount validated records.
func (p *Pipeline) FromContent(ctx context.Context, raw string) (*Result, error) {
	pr, err := p.Distill(ctx, raw)
	if err != nil {
		return nil, err
	}

	gctx, span := tracing.StartChildSpan(ctx, "generate")
	out, err := p.generator.GenerateIdeas(gctx, pr)
	span.End()
	if err != nil {
		return nil, err
	}

	records, err := ideas.MapStructured(out)
	if err != nil {
		p.logger.Warn("model returned malformed ideas", "error", err, "request_id", span.TraceID)
		return nil, err
	}
	return &Result{Mode: prompt.ModeStructured, Prompt: pr, Records: records}, nil
}

// FromPrompt runs the prompt path. mode may be empty, in which case the raw
// prompt decides between brainstorm and analysis.
func (p *Pipeline) FromPrompt(ctx context.Context, raw, tone, mode string) (*Result, error) {
	m, err := prompt.ResolveMode(raw, mode)
	if err != nil {
		return nil, err
	}
	categories, clean, _ := prompt.ExtractCategories(raw)

	var pr prompt.Prompt
	switch m {
	case prompt.ModeBrainstorm:
		pr, err = p.composer.Brainstorm(categories, tone)
	default:
		pr, err = p.composer.Analysis(clean, categories, tone)
	}
	if err != nil {
		return nil, err
	}

	gctx, span := tracing.StartChildSpan(ctx, "generate")
	span.SetAttr("mode", string(m))
	text, err := p.generator.GenerateText(gctx, pr)
	span.End()
	if err != nil {
		return nil, err
	}

	res := &Result{Mode: m, Prompt: pr}
	if m == prompt.ModeBrainstorm {
		res.Records = ideas.MapBrainstorm(text)
		if len(res.Records) == 0 {
			return nil, apperrors.Newf(apperrors.ErrInvalidIdeaShape, http.StatusBadGateway,
				"no brainstorm segment of at least %d characters", ideas.MinSegmentChars)
		}
		return res, nil
	}
	res.Records = []ideas.Record{ideas.MapAnalysis(clean, text)}
	return res, nil
}
