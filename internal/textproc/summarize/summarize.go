// Package summarize implements extractive summarisation by latent semantic
// analysis: sentences are ranked by their weight in the leading singular
// vectors of a term-by-sentence matrix.
package summarize

import (
	"math"
	"sort"
	"strings"

	"gonum.org/v1/gonum/mat"

	"github.com/propelai/propelai-backend/internal/textproc/tokenizer"
)

const (
	// DefaultSentences is used when a non-positive count is requested.
	DefaultSentences = 5

	termFreqSmooth = 0.4
)

// Summarizer is safe for concurrent use; it holds no per-call state.
type Summarizer struct {
	language string
}

func New(language string) *Summarizer {
	if language == "" {
		language = tokenizer.English
	}
	return &Summarizer{language: language}
}

// Language returns the configured language tag.
func (s *Summarizer) Language() string {
	return s.language
}

// Summarize returns the n most salient sentences of text joined by single
// spaces, highest salience first.
func (s *Summarizer) Summarize(text string, n int) string {
	return strings.Join(s.Select(text, n), " ")
}

// Select returns up to n sentences of text in salience order. When text has
// n or fewer sentences all of them are returned, still in salience order.
// Equal salience is broken by document order.
func (s *Summarizer) Select(text string, n int) []string {
	if n <= 0 {
		n = DefaultSentences
	}
	sentences := tokenizer.Sentences(text)
	if len(sentences) == 0 {
		return nil
	}

	ranks := rank(sentences)
	order := make([]int, len(sentences))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		return ranks[order[a]] > ranks[order[b]]
	})
	if len(order) > n {
		order = order[:n]
	}

	out := make([]string, len(order))
	for i, idx := range order {
		out[i] = sentences[idx]
	}
	return out
}

// rank scores every sentence. A document without usable terms, or one where
// the decomposition fails, scores every sentence zero.
func rank(sentences []string) []float64 {
	ranks := make([]float64, len(sentences))

	vocab := make(map[string]int)
	counts := make([]map[int]float64, len(sentences))
	for j, sentence := range sentences {
		counts[j] = make(map[int]float64)
		for _, tok := range tokenizer.Tokenize(sentence) {
			row, ok := vocab[tok.Term]
			if !ok {
				row = len(vocab)
				vocab[tok.Term] = row
			}
			counts[j][row]++
		}
	}
	if len(vocab) == 0 {
		return ranks
	}

	a := termFrequencyMatrix(len(vocab), counts)

	var svd mat.SVD
	if ok := svd.Factorize(a, mat.SVDThin); !ok {
		return ranks
	}
	sigma := svd.Values(nil)
	var v mat.Dense
	svd.VTo(&v)

	for j := range sentences {
		var sum float64
		for i := range sigma {
			weight := v.At(j, i)
			sum += sigma[i] * sigma[i] * weight * weight
		}
		ranks[j] = math.Sqrt(sum)
	}
	return ranks
}

// termFrequencyMatrix builds the terms x sentences matrix with smoothed
// frequency 0.4 + 0.6*tf/max_tf per sentence column. Columns without terms
// stay zero.
func termFrequencyMatrix(terms int, counts []map[int]float64) *mat.Dense {
	a := mat.NewDense(terms, len(counts), nil)
	for j, col := range counts {
		var maxTF float64
		for _, tf := range col {
			if tf > maxTF {
				maxTF = tf
			}
		}
		if maxTF == 0 {
			continue
		}
		for i := 0; i < terms; i++ {
			a.Set(i, j, termFreqSmooth+(1-termFreqSmooth)*col[i]/maxTF)
		}
	}
	return a
}
