// Package prompt builds the (system instruction, user prompt) pairs sent to
// the generative model. The two halves are never merged; the client places
// the instruction in its own request slot.
package prompt

import (
	"fmt"
	"net/http"
	"regexp"
	"strings"
	"unicode/utf8"

	apperrors "github.com/propelai/propelai-backend/pkg/errors"
)

// DefaultMaxChars bounds a user prompt when no bound is configured.
const DefaultMaxChars = 8000

// BrainstormToken in a raw prompt requests brainstorm mode.
const BrainstormToken = "BRAINSTORM_MODE"

// StructuredInstruction is the persona for the text-content path.
const StructuredInstruction = "You are a Venture Capitalist (VC) analyst. Analyze the context and identify market gaps. " +
	"Generate exactly 3 unique, actionable startup ideas. Use the provided JSON schema."

// ErrPromptTooLong is returned when the fixed part of a prompt alone exceeds
// the bound. It satisfies errors.Is(err, apperrors.ErrInvalidInput).
var ErrPromptTooLong = fmt.Errorf("prompt exceeds length bound: %w", apperrors.ErrInvalidInput)

// Mode selects how a prompt-path request is composed and mapped.
type Mode string

const (
	ModeStructured Mode = "structured"
	ModeBrainstorm Mode = "brainstorm"
	ModeAnalysis   Mode = "analysis"
)

// Prompt is a composed request for the generative model.
type Prompt struct {
	SystemInstruction string
	UserPrompt        string
}

var categoriesPattern = regexp.MustCompile(`\[Categories:\s*(.*?)\]`)

// ExtractCategories finds the first "[Categories: ...]" segment. It returns
// the captured value and the prompt with that segment removed; whitespace
// around the removal collapses to one space and the result is trimmed. ok is
// false when no segment is present, in which case clean is the prompt as is.
func ExtractCategories(raw string) (categories, clean string, ok bool) {
	loc := categoriesPattern.FindStringSubmatchIndex(raw)
	if loc == nil {
		return "", raw, false
	}
	categories = raw[loc[2]:loc[3]]
	before := strings.TrimRight(raw[:loc[0]], " \t\r\n")
	after := strings.TrimLeft(raw[loc[1]:], " \t\r\n")
	switch {
	case before == "":
		clean = after
	case after == "":
		clean = before
	default:
		clean = before + " " + after
	}
	return categories, strings.TrimSpace(clean), true
}

// ResolveMode picks the prompt-path mode. An explicit mode wins; otherwise
// the presence of BrainstormToken in the raw prompt selects brainstorm.
func ResolveMode(raw, mode string) (Mode, error) {
	switch Mode(strings.ToLower(strings.TrimSpace(mode))) {
	case "":
		if IsBrainstorm(raw) {
			return ModeBrainstorm, nil
		}
		return ModeAnalysis, nil
	case ModeBrainstorm:
		return ModeBrainstorm, nil
	case ModeAnalysis:
		return ModeAnalysis, nil
	}
	return "", apperrors.Newf(apperrors.ErrInvalidInput, http.StatusBadRequest, "unknown mode %q", mode)
}

// IsBrainstorm reports whether the raw prompt carries BrainstormToken.
func IsBrainstorm(raw string) bool {
	return strings.Contains(raw, BrainstormToken)
}

// Composer applies the prompt-length bound.
type Composer struct {
	maxChars int
}

func NewComposer(maxChars int) *Composer {
	if maxChars <= 0 {
		maxChars = DefaultMaxChars
	}
	return &Composer{maxChars: maxChars}
}

// MaxChars returns the user prompt bound in characters.
func (c *Composer) MaxChars() int {
	return c.maxChars
}

// Structured composes the text-content prompt. The keyword block is kept
// whole; the summary is cut at a word boundary until the prompt fits.
func (c *Composer) Structured(summary string, keywords []string) (Prompt, error) {
	const (
		head = "Context Summary:\n'"
		mid  = "'\n\nKey Concepts:\n'"
		tail = "'"
	)
	kw := strings.Join(keywords, ", ")
	fixed := utf8.RuneCountInString(head + mid + kw + tail)
	if fixed > c.maxChars {
		return Prompt{}, ErrPromptTooLong
	}
	summary = truncateWords(summary, c.maxChars-fixed)
	return Prompt{
		SystemInstruction: StructuredInstruction,
		UserPrompt:        head + summary + mid + kw + tail,
	}, nil
}

// Brainstorm composes the VC brainstorm prompt. Records come back as free
// text separated by "---".
func (c *Composer) Brainstorm(categories, tone string) (Prompt, error) {
	target := categories
	if strings.TrimSpace(target) == "" {
		target = "general"
	}
	p := Prompt{
		SystemInstruction: "You are a Venture Capitalist. Generate 5 unique startup opportunities for: " + target + ". " +
			"Format: NAME: [Name] | PROBLEM: [Problem] | SOLUTION: [Solution] ---" + toneSuffix(tone),
		UserPrompt: "Target Industries: " + target,
	}
	return p, c.check(p)
}

// Analysis composes the consultant prompt for a free-form idea.
func (c *Composer) Analysis(cleanPrompt, categories, tone string) (Prompt, error) {
	instruction := "You are a startup consultant. Analyze this idea and provide a plan."
	if categories != "" {
		instruction += " Context: " + categories + "."
	}
	p := Prompt{
		SystemInstruction: instruction + toneSuffix(tone),
		UserPrompt:        cleanPrompt,
	}
	return p, c.check(p)
}

func (c *Composer) check(p Prompt) error {
	if utf8.RuneCountInString(p.UserPrompt) > c.maxChars {
		return ErrPromptTooLong
	}
	return nil
}

func toneSuffix(tone string) string {
	tone = strings.TrimSpace(tone)
	if tone == "" {
		return ""
	}
	return " Use a " + tone + " tone."
}

// truncateWords returns the longest prefix of s of at most limit runes that
// ends at a word boundary.
func truncateWords(s string, limit int) string {
	if utf8.RuneCountInString(s) <= limit {
		return s
	}
	if limit <= 0 {
		return ""
	}
	runes := []rune(s)
	cut := string(runes[:limit])
	if runes[limit] == ' ' {
		return strings.TrimRight(cut, " ")
	}
	if i := strings.LastIndexByte(cut, ' '); i >= 0 {
		return strings.TrimRight(cut[:i], " ")
	}
	return ""
}
