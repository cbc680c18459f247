package pipeline

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/propelai/propelai-backend/internal/prompt"
	"github.com/propelai/propelai-backend/pkg/config"
	apperrors "github.com/propelai/propelai-backend/pkg/errors"
	"github.com/propelai/propelai-backend/pkg/tracing"
)

type fakeGen struct {
	ideas   []map[string]any
	text    string
	err     error
	prompts []prompt.Prompt
}

func (f *fakeGen) GenerateIdeas(ctx context.Context, p prompt.Prompt) ([]map[string]any, error) {
	f.prompts = append(f.prompts, p)
	return f.ideas, f.err
}

func (f *fakeGen) GenerateText(ctx context.Context, p prompt.Prompt) (string, error) {
	f.prompts = append(f.prompts, p)
	return f.text, f.err
}

func testConfig() config.PipelineConfig {
	return config.PipelineConfig{
		Language:         "english",
		SummarySentences: 5,
		KeywordCount:     10,
		KeywordMaxNGram:  3,
		KeywordDedup:     0.9,
		MaxPromptChars:   8000,
	}
}

const article = `<html><head><script>var tracking = 1;</script></head><body>
<nav>Home | Pricing | Login</nav>
<p>Small restaurants struggle to forecast ingredient demand. Food waste eats into thin margins every week.</p>
<p>Owners rely on intuition because inventory software is expensive and hard to configure.</p>
<footer>Copyright 2024</footer></body></html>`

func threeIdeas() []map[string]any {
	return []map[string]any{
		{"Name": "A", "Problem": "p", "Solution": "s"},
		{"Name": "B", "Problem": "p", "Solution": "s"},
		{"Name": "C", "Problem": "p", "Solution": "s"},
	}
}

func TestNewRejectsUnsupportedLanguage(t *testing.T) {
	cfg := testConfig()
	cfg.Language = "klingon"
	_, err := New(cfg, &fakeGen{})
	assert.Error(t, err)
}

func TestFromContentComposesCleanPrompt(t *testing.T) {
	gen := &fakeGen{ideas: threeIdeas()}
	p, err := New(testConfig(), gen)
	require.NoError(t, err)

	ctx, root := tracing.StartSpan(context.Background(), "generate", "req-1")
	res, err := p.FromContent(ctx, article)
	root.End()
	require.NoError(t, err)
	require.Len(t, res.Records, 3)
	assert.Equal(t, prompt.ModeStructured, res.Mode)

	require.Len(t, gen.prompts, 1)
	sent := gen.prompts[0]
	assert.Equal(t, prompt.StructuredInstruction, sent.SystemInstruction)
	assert.True(t, strings.HasPrefix(sent.UserPrompt, "Context Summary:\n'"))
	assert.Contains(t, sent.UserPrompt, "Key Concepts:")
	assert.Contains(t, sent.UserPrompt, "ingredient demand")
	assert.NotContains(t, sent.UserPrompt, "tracking")
	assert.NotContains(t, sent.UserPrompt, "Pricing")
	assert.NotContains(t, sent.UserPrompt, "Copyright")

	for _, stage := range []string{"normalize", "summarize", "keywords", "compose", "generate"} {
		assert.NotNil(t, root.Child(stage), stage)
	}
}

func TestFromContentPropagatesUpstreamAndShapeErrors(t *testing.T) {
	p, err := New(testConfig(), &fakeGen{err: apperrors.ErrUpstreamSchema})
	require.NoError(t, err)
	_, err = p.FromContent(context.Background(), article)
	assert.ErrorIs(t, err, apperrors.ErrUpstreamSchema)

	p, err = New(testConfig(), &fakeGen{ideas: threeIdeas()[:2]})
	require.NoError(t, err)
	_, err = p.FromContent(context.Background(), article)
	assert.ErrorIs(t, err, apperrors.ErrInvalidIdeaShape)
}

func TestFromPromptBrainstorm(t *testing.T) {
	gen := &fakeGen{text: "NAME: Meal Radar | PROBLEM: waste | SOLUTION: forecasts --- NAME: Shelf | PROBLEM: stockouts | SOLUTION: alerts ---"}
	p, err := New(testConfig(), gen)
	require.NoError(t, err)

	res, err := p.FromPrompt(context.Background(), "BRAINSTORM_MODE [Categories: FoodTech, Retail]", "bold", "")
	require.NoError(t, err)
	assert.Equal(t, prompt.ModeBrainstorm, res.Mode)
	assert.Len(t, res.Records, 2)
	assert.Contains(t, gen.prompts[0].SystemInstruction, "FoodTech, Retail")
	assert.Contains(t, gen.prompts[0].SystemInstruction, "Use a bold tone.")
}

func TestFromPromptBrainstormWithoutSegments(t *testing.T) {
	p, err := New(testConfig(), &fakeGen{text: "--- no ---"})
	require.NoError(t, err)
	_, err = p.FromPrompt(context.Background(), "BRAINSTORM_MODE", "", "")
	assert.ErrorIs(t, err, apperrors.ErrInvalidIdeaShape)
}

func TestFromPromptAnalysis(t *testing.T) {
	gen := &fakeGen{text: "Start with one city."}
	p, err := New(testConfig(), gen)
	require.NoError(t, err)

	res, err := p.FromPrompt(context.Background(), "Tutoring marketplace [Categories: EdTech] for rural schools", "", "")
	require.NoError(t, err)
	assert.Equal(t, prompt.ModeAnalysis, res.Mode)
	require.Len(t, res.Records, 1)
	assert.Equal(t, "Tutoring marketplace for rural schools", res.Records[0].Problem)
	assert.Equal(t, "Start with one city.", res.Records[0].Result)
	assert.Equal(t, "Tutoring marketplace for rural schools", gen.prompts[0].UserPrompt)
	assert.Contains(t, gen.prompts[0].SystemInstruction, "Context: EdTech.")
}

func TestFromPromptRejectsUnknownMode(t *testing.T) {
	p, err := New(testConfig(), &fakeGen{})
	require.NoError(t, err)
	_, err = p.FromPrompt(context.Background(), "idea", "", "poetry")
	assert.ErrorIs(t, err, apperrors.ErrInvalidInput)
}
