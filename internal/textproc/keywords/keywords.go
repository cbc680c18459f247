// Package keywords extracts key phrases from a single document with a
// YAKE-style unsupervised scorer. Lower scores are better.
package keywords

import (
	"math"
	"sort"
	"strings"
	"unicode"

	"github.com/agext/levenshtein"

	"github.com/propelai/propelai-backend/internal/textproc/tokenizer"
)

// Defaults.
const (
	DefaultTop       = 10
	DefaultMaxNGram  = 3
	DefaultDedup     = 0.9
	DefaultWindow    = 1
	chunkDelimiters  = ",;:()[]{}\"“”|/"
	minTermRuneCount = 2
)

// Options configures an Extractor. Zero values select the defaults.
type Options struct {
	Language       string
	MaxNGram       int
	Top            int
	DedupThreshold float64
	WindowSize     int
}

// Keyword is a ranked phrase.
type Keyword struct {
	Phrase string
	Score  float64
}

type Extractor struct {
	opts Options
}

func New(opts Options) *Extractor {
	if opts.Language == "" {
		opts.Language = tokenizer.English
	}
	if opts.MaxNGram <= 0 {
		opts.MaxNGram = DefaultMaxNGram
	}
	if opts.Top <= 0 {
		opts.Top = DefaultTop
	}
	if opts.DedupThreshold <= 0 {
		opts.DedupThreshold = DefaultDedup
	}
	if opts.WindowSize <= 0 {
		opts.WindowSize = DefaultWindow
	}
	return &Extractor{opts: opts}
}

// Phrases is Extract without scores.
func (e *Extractor) Phrases(text string) []string {
	kws := e.Extract(text)
	out := make([]string, len(kws))
	for i, kw := range kws {
		out[i] = kw.Phrase
	}
	return out
}

type word struct {
	surface  string
	key      string
	sentence int
	first    bool
	valid    bool
	stop     bool
}

type termStats struct {
	tf        float64
	upper     float64
	capital   float64
	sentences []int
	left      map[string]int
	right     map[string]int
	leftN     int
	rightN    int
	score     float64
}

type candidate struct {
	surface string
	terms   []string
	tf      int
	first   int
	score   float64
}

// Extract returns up to Top keywords best first. Phrases are at most
// MaxNGram words, never start or end with a stop word, and no accepted
// phrase is within DedupThreshold Levenshtein similarity of another.
func (e *Extractor) Extract(text string) []Keyword {
	chunks := e.chunk(text)
	if len(chunks) == 0 {
		return nil
	}

	terms := e.termFeatures(chunks)
	if len(terms) == 0 {
		return nil
	}

	cands := e.candidates(chunks, terms)
	sort.SliceStable(cands, func(i, j int) bool {
		if cands[i].score != cands[j].score {
			return cands[i].score < cands[j].score
		}
		return cands[i].first < cands[j].first
	})

	out := make([]Keyword, 0, e.opts.Top)
	accepted := make([]string, 0, e.opts.Top)
	for _, c := range cands {
		if len(out) == e.opts.Top {
			break
		}
		key := strings.ToLower(c.surface)
		if e.duplicate(key, accepted) {
			continue
		}
		accepted = append(accepted, key)
		out = append(out, Keyword{Phrase: c.surface, Score: c.score})
	}
	return out
}

func (e *Extractor) duplicate(key string, accepted []string) bool {
	for _, prev := range accepted {
		if levenshtein.Similarity(key, prev, nil) >= e.opts.DedupThreshold {
			return true
		}
	}
	return false
}

// chunk splits text into sentences and each sentence into punctuation-free
// runs of words. Candidates never span a chunk boundary.
func (e *Extractor) chunk(text string) [][]word {
	var chunks [][]word
	for si, sentence := range tokenizer.Sentences(text) {
		first := true
		parts := strings.FieldsFunc(sentence, func(r rune) bool {
			return strings.ContainsRune(chunkDelimiters, r)
		})
		for _, part := range parts {
			var chunk []word
			for _, w := range tokenizer.Words(part) {
				key := strings.ToLower(w)
				chunk = append(chunk, word{
					surface:  w,
					key:      key,
					sentence: si,
					first:    first,
					valid:    len([]rune(w)) >= minTermRuneCount && !tokenizer.IsNumber(w),
					stop:     tokenizer.IsStopWord(key),
				})
				first = false
			}
			if len(chunk) > 0 {
				chunks = append(chunks, chunk)
			}
		}
	}
	return chunks
}

func (e *Extractor) termFeatures(chunks [][]word) map[string]*termStats {
	terms := make(map[string]*termStats)
	sentenceCount := 0
	for _, chunk := range chunks {
		for i, w := range chunk {
			if w.sentence+1 > sentenceCount {
				sentenceCount = w.sentence + 1
			}
			if !w.valid {
				continue
			}
			ts, ok := terms[w.key]
			if !ok {
				ts = &termStats{left: make(map[string]int), right: make(map[string]int)}
				terms[w.key] = ts
			}
			ts.tf++
			if isAcronym(w.surface) {
				ts.upper++
			} else if !w.first && startsUpper(w.surface) {
				ts.capital++
			}
			if n := len(ts.sentences); n == 0 || ts.sentences[n-1] != w.sentence {
				ts.sentences = append(ts.sentences, w.sentence)
			}
			for d := 1; d <= e.opts.WindowSize; d++ {
				if j := i - d; j >= 0 && chunk[j].valid {
					ts.left[chunk[j].key]++
					ts.leftN++
				}
				if j := i + d; j < len(chunk) && chunk[j].valid {
					ts.right[chunk[j].key]++
					ts.rightN++
				}
			}
		}
	}

	// sorted keys keep the float sums identical from run to run
	keys := make([]string, 0, len(terms))
	for key := range terms {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	var (
		maxTF  float64
		sum    float64
		nValid float64
	)
	for _, key := range keys {
		ts := terms[key]
		if ts.tf > maxTF {
			maxTF = ts.tf
		}
		if !tokenizer.IsStopWord(key) {
			sum += ts.tf
			nValid++
		}
	}
	if nValid == 0 {
		return nil
	}
	mean := sum / nValid
	var variance float64
	for _, key := range keys {
		ts := terms[key]
		if !tokenizer.IsStopWord(key) {
			variance += (ts.tf - mean) * (ts.tf - mean)
		}
	}
	std := math.Sqrt(variance / nValid)

	for _, ts := range terms {
		casing := math.Max(ts.upper, ts.capital) / (1 + math.Log(ts.tf))
		position := math.Log(math.Log(3 + median(ts.sentences)))
		frequency := ts.tf / (mean + std)
		rel := 1 + (ratio(len(ts.left), ts.leftN)+ratio(len(ts.right), ts.rightN))*ts.tf/maxTF
		spread := float64(len(ts.sentences)) / float64(sentenceCount)
		ts.score = (rel * position) / (casing + frequency/rel + spread/rel)
	}
	return terms
}

func (e *Extractor) candidates(chunks [][]word, terms map[string]*termStats) []*candidate {
	byKey := make(map[string]*candidate)
	var ordered []*candidate
	seq := 0
	for _, chunk := range chunks {
		for i := range chunk {
			for n := 1; n <= e.opts.MaxNGram && i+n <= len(chunk); n++ {
				gram := chunk[i : i+n]
				if !gram[0].valid || gram[0].stop {
					break
				}
				if !allValid(gram) || gram[n-1].stop {
					continue
				}
				keys := make([]string, n)
				surfaces := make([]string, n)
				for k, w := range gram {
					keys[k] = w.key
					surfaces[k] = w.surface
				}
				key := strings.Join(keys, " ")
				c, ok := byKey[key]
				if !ok {
					c = &candidate{surface: strings.Join(surfaces, " "), terms: keys, first: seq}
					byKey[key] = c
					ordered = append(ordered, c)
				}
				c.tf++
				seq++
			}
		}
	}

	for _, c := range ordered {
		prod, sum := 1.0, 0.0
		for _, key := range c.terms {
			if tokenizer.IsStopWord(key) {
				continue
			}
			h := terms[key].score
			prod *= h
			sum += h
		}
		c.score = prod / (float64(c.tf) * (1 + sum))
	}
	return ordered
}

func allValid(gram []word) bool {
	for _, w := range gram {
		if !w.valid {
			return false
		}
	}
	return true
}

func ratio(distinct, total int) float64 {
	if total == 0 {
		return 0
	}
	return float64(distinct) / float64(total)
}

func median(sorted []int) float64 {
	n := len(sorted)
	if n == 0 {
		return 0
	}
	if n%2 == 1 {
		return float64(sorted[n/2])
	}
	return float64(sorted[n/2-1]+sorted[n/2]) / 2
}

func isAcronym(s string) bool {
	letters := 0
	for _, r := range s {
		if unicode.IsLetter(r) {
			if !unicode.IsUpper(r) {
				return false
			}
			letters++
		}
	}
	return letters > 1
}

func startsUpper(s string) bool {
	for _, r := range s {
		return unicode.IsUpper(r)
	}
	return false
}
