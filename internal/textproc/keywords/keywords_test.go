package keywords

import (
	"strings"
	"testing"

	"github.com/agext/levenshtein"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/propelai/propelai-backend/internal/textproc/tokenizer"
)

const article = `Remote work platforms are reshaping how distributed teams collaborate.
Many distributed teams struggle with asynchronous communication across time zones.
Startups are building asynchronous communication tools for remote teams.
Investors see remote work platforms as a growing market. The market for
collaboration software keeps growing, and remote work is here to stay.`

func TestExtractRespectsTopAndDedup(t *testing.T) {
	e := New(Options{Top: 5})
	kws := e.Extract(article)
	require.NotEmpty(t, kws)
	assert.LessOrEqual(t, len(kws), 5)

	for i := range kws {
		for j := i + 1; j < len(kws); j++ {
			sim := levenshtein.Similarity(strings.ToLower(kws[i].Phrase), strings.ToLower(kws[j].Phrase), nil)
			assert.Less(t, sim, DefaultDedup, "%q vs %q", kws[i].Phrase, kws[j].Phrase)
		}
	}
	for i := 1; i < len(kws); i++ {
		assert.LessOrEqual(t, kws[i-1].Score, kws[i].Score)
	}
}

func TestPhrasesShape(t *testing.T) {
	phrases := New(Options{}).Phrases(article)
	require.NotEmpty(t, phrases)
	assert.LessOrEqual(t, len(phrases), DefaultTop)
	for _, p := range phrases {
		words := strings.Fields(p)
		assert.LessOrEqual(t, len(words), DefaultMaxNGram, p)
		assert.False(t, tokenizer.IsStopWord(strings.ToLower(words[0])), p)
		assert.False(t, tokenizer.IsStopWord(strings.ToLower(words[len(words)-1])), p)
	}
}

func TestRepeatedConceptRanksHigh(t *testing.T) {
	phrases := New(Options{Top: 10}).Phrases(article)
	joined := strings.ToLower(strings.Join(phrases, "|"))
	assert.Contains(t, joined, "remote work")
}

func TestExtractDeterministic(t *testing.T) {
	e := New(Options{})
	first := e.Phrases(article)
	for i := 0; i < 10; i++ {
		assert.Equal(t, first, e.Phrases(article))
	}
}

func TestExtractEmptyAndStopWordsOnly(t *testing.T) {
	e := New(Options{})
	assert.Empty(t, e.Extract(""))
	assert.Empty(t, e.Extract("It is what it is. They were there."))
	assert.Empty(t, e.Extract("42 17 99."))
}

func TestDedupThreshold(t *testing.T) {
	e := New(Options{})
	assert.True(t, e.duplicate("remote teams", []string{"remote team"}))
	assert.False(t, e.duplicate("remote work", []string{"market"}))

	phrases := New(Options{Top: 20}).Phrases("Collaboration matters for founders. Collaborations matter for investors.")
	var hits int
	for _, p := range phrases {
		if strings.HasPrefix(strings.ToLower(p), "collaboration") && len(strings.Fields(p)) == 1 {
			hits++
		}
	}
	assert.Equal(t, 1, hits, phrases)
}
