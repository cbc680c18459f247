// Package ideas turns untrusted model output into idea records.
package ideas

import (
	"errors"
	"fmt"
	"strings"

	apperrors "github.com/propelai/propelai-backend/pkg/errors"
)

// StructuredCount is the number of records the structured path must yield.
const StructuredCount = 3

const (
	// Delimiter separates brainstorm records in free text.
	Delimiter = "---"
	// MinSegmentChars is the shortest brainstorm segment kept.
	MinSegmentChars = 10

	brainstormName     = "New Venture"
	brainstormSolution = "Detailed in analysis"
	analysisName       = "Analysis"
)

// Record is one generated idea. Result holds the verbatim model text for
// the free-text paths and is empty for structured ideas.
type Record struct {
	Name     string `json:"Name"`
	Problem  string `json:"Problem"`
	Solution string `json:"Solution"`
	Result   string `json:"-"`
}

// MapStructured validates a decoded structured response. The batch fails as
// a whole when the count is wrong or any element lacks a non-empty string
// Name, Problem or Solution.
func MapStructured(raw []map[string]any) ([]Record, error) {
	if len(raw) != StructuredCount {
		return nil, apperrors.Wrap(apperrors.ErrInvalidIdeaShape,
			fmt.Errorf("expected %d ideas, got %d", StructuredCount, len(raw)))
	}
	out := make([]Record, 0, len(raw))
	for i, obj := range raw {
		var rec Record
		for _, f := range []struct {
			key string
			dst *string
		}{{"Name", &rec.Name}, {"Problem", &rec.Problem}, {"Solution", &rec.Solution}} {
			v, err := field(obj, f.key)
			if err != nil {
				return nil, apperrors.Wrap(apperrors.ErrInvalidIdeaShape, fmt.Errorf("idea %d: %w", i, err))
			}
			*f.dst = v
		}
		out = append(out, rec)
	}
	return out, nil
}

func field(obj map[string]any, key string) (string, error) {
	v, ok := obj[key]
	if !ok {
		return "", fmt.Errorf("missing %s", key)
	}
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("%s is %T, not a string", key, v)
	}
	if strings.TrimSpace(s) == "" {
		return "", errors.New(key + " is empty")
	}
	return s, nil
}

// MapBrainstorm splits free text on Delimiter. Trimmed segments shorter than
// MinSegmentChars are dropped; the rest become placeholder-named records.
func MapBrainstorm(text string) []Record {
	var out []Record
	for _, seg := range strings.Split(text, Delimiter) {
		seg = strings.TrimSpace(seg)
		if len([]rune(seg)) < MinSegmentChars {
			continue
		}
		out = append(out, Record{
			Name:     brainstormName,
			Problem:  seg,
			Solution: brainstormSolution,
			Result:   seg,
		})
	}
	return out
}

// MapAnalysis wraps a consultant response for the prompt that produced it.
func MapAnalysis(prompt, text string) Record {
	return Record{Name: analysisName, Problem: prompt, Result: text}
}
