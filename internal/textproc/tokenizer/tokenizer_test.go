package tokenizer

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSentences(t *testing.T) {
	text := "Dr. Smith founded the lab in 2019. It raised $3.5 million! Was it enough? Nobody knows"
	assert.Equal(t, []string{
		"Dr. Smith founded the lab in 2019.",
		"It raised $3.5 million!",
		"Was it enough?",
		"Nobody knows",
	}, Sentences(text))
}

func TestSentencesKeepsAbbreviationsAndQuotes(t *testing.T) {
	text := `He said "ship it." Then tools, e.g. linters, ran.`
	assert.Equal(t, []string{`He said "ship it."`, "Then tools, e.g. linters, ran."}, Sentences(text))
	assert.Empty(t, Sentences("   "))
}

func TestWords(t *testing.T) {
	assert.Equal(t,
		[]string{"Founders", "don't", "scale", "AI-driven", "tools", "42"},
		Words("Founders don't scale -- AI-driven tools (42)."),
	)
}

func TestTokenize(t *testing.T) {
	tokens := Tokenize("The founders are building platforms for the 2024 market")
	terms := make([]string, len(tokens))
	for i, tok := range tokens {
		terms[i] = tok.Term
		assert.Equal(t, i, tok.Position)
	}
	assert.Equal(t, []string{"founder", "build", "platform", "market"}, terms)
}

func TestStem(t *testing.T) {
	cases := map[string]string{
		"relational": "relate",
		"companies":  "company",
		"building":   "build",
		"platforms":  "platform",
		"class":      "class",
		"is":         "is",
	}
	for in, want := range cases {
		assert.Equal(t, want, Stem(in), in)
	}
}

func TestStopWordsAndLanguage(t *testing.T) {
	assert.True(t, IsStopWord("the"))
	assert.True(t, IsStopWord("don't"))
	assert.False(t, IsStopWord("startup"))
	assert.True(t, SupportedLanguage("English"))
	assert.True(t, SupportedLanguage("en"))
	assert.False(t, SupportedLanguage("klingon"))
}
