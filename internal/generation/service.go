// Package generation is the use case behind the generation endpoints: it
// resolves the user, checks credits, runs the pipeline and commits the
// ideas together with the credit deduction.
package generation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"golang.org/x/sync/singleflight"

	"github.com/propelai/propelai-backend/internal/events"
	"github.com/propelai/propelai-backend/internal/ideas"
	"github.com/propelai/propelai-backend/internal/pipeline"
	"github.com/propelai/propelai-backend/internal/prompt"
	"github.com/propelai/propelai-backend/internal/store"
	"github.com/propelai/propelai-backend/pkg/config"
	apperrors "github.com/propelai/propelai-backend/pkg/errors"
	"github.com/propelai/propelai-backend/pkg/logger"
	"github.com/propelai/propelai-backend/pkg/metrics"
	"github.com/propelai/propelai-backend/pkg/tracing"
)

// ContentRequest is a text-content generation from the browser extension.
type ContentRequest struct {
	URL         string
	TextContent string
	ClientID    string
}

// PromptRequest is a prompt-path generation for an authenticated user.
type PromptRequest struct {
	UserID string
	Prompt string
	Tone   string
	Mode   string
}

// Outcome is a committed generation.
type Outcome struct {
	Mode             prompt.Mode
	Records          []ideas.Record
	Stored           []store.Idea
	CreditsRemaining int
	User             *store.User
}

type Service struct {
	store         store.Store
	pipeline      *pipeline.Pipeline
	events        events.Publisher
	metrics       *metrics.Metrics
	minChars      int
	clientCredits int
	clients       singleflight.Group
	now           func() time.Time
	logger        *slog.Logger
}

// Option customises a Service.
type Option func(*Service)

func WithEvents(p events.Publisher) Option {
	return func(s *Service) { s.events = p }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

func NewService(st store.Store, p *pipeline.Pipeline, pcfg config.PipelineConfig, ccfg config.CreditsConfig, opts ...Option) *Service {
	minChars := pcfg.MinContentChars
	if minChars <= 0 {
		minChars = 150
	}
	s := &Service{
		store:         st,
		pipeline:      p,
		events:        events.Noop{},
		minChars:      minChars,
		clientCredits: ccfg.ClientSignupCredits,
		now:           time.Now,
		logger:        slog.Default().With("component", "generation"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// FromContent generates exactly three ideas from page content. Users are
// created on first sight of a client id.
func (s *Service) FromContent(ctx context.Context, req ContentRequest) (*Outcome, error) {
	start := s.now()
	if utf8.RuneCountInString(req.TextContent) < s.minChars {
		return nil, apperrors.New(apperrors.ErrInputTooShort, http.StatusBadRequest,
			fmt.Sprintf("Content too short (min %d chars) or empty for effective analysis.", s.minChars))
	}
	clientID := strings.TrimSpace(req.ClientID)
	if clientID == "" {
		return nil, apperrors.New(apperrors.ErrInvalidInput, http.StatusBadRequest, "user_id is required")
	}

	ctx, span := s.startSpan(ctx, "generate-content")
	defer s.finishSpan(ctx, span)

	u, err := s.clientUser(ctx, clientID)
	if err != nil {
		return nil, err
	}
	out, err := s.run(ctx, u, func(ctx context.Context) (*pipeline.Result, error) {
		return s.pipeline.FromContent(ctx, req.TextContent)
	}, req.URL)
	s.finish(ctx, start, prompt.ModeStructured, u, req.URL, out, err)
	return out, err
}

// FromPrompt generates brainstorm or analysis ideas for an existing user.
func (s *Service) FromPrompt(ctx context.Context, req PromptRequest) (*Outcome, error) {
	start := s.now()
	if strings.TrimSpace(req.Prompt) == "" {
		return nil, apperrors.New(apperrors.ErrInvalidInput, http.StatusBadRequest, "prompt is required")
	}
	mode, err := prompt.ResolveMode(req.Prompt, req.Mode)
	if err != nil {
		return nil, err
	}

	ctx, span := s.startSpan(ctx, "generate-prompt")
	defer s.finishSpan(ctx, span)

	u, err := s.store.GetUser(ctx, req.UserID)
	if err != nil {
		return nil, fmt.Errorf("loading user: %w", err)
	}
	out, err := s.run(ctx, u, func(ctx context.Context) (*pipeline.Result, error) {
		return s.pipeline.FromPrompt(ctx, req.Prompt, req.Tone, string(mode))
	}, "")
	s.finish(ctx, start, mode, u, "", out, err)
	return out, err
}

// run pre-checks credits, generates and commits. The commit re-checks the
// credit balance atomically.
func (s *Service) run(ctx context.Context, u *store.User, generate func(context.Context) (*pipeline.Result, error), sourceURL string) (*Outcome, error) {
	if u.Metered() && u.Credits <= 0 {
		return nil, apperrors.ErrInsufficientCredits
	}

	upstreamStart := s.now()
	res, err := generate(ctx)
	s.observeUpstream(res, err, s.now().Sub(upstreamStart))
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("generation abandoned: %w", err)
	}

	pending := make([]store.NewIdea, 0, len(res.Records))
	for _, r := range res.Records {
		pending = append(pending, store.NewIdea{
			Name:      r.Name,
			Problem:   r.Problem,
			Solution:  r.Solution,
			SourceURL: sourceURL,
			Result:    r.Result,
		})
	}

	_, span := tracing.StartChildSpan(ctx, "commit")
	commit, err := s.store.CommitGeneration(ctx, u.ID, pending, u.Metered())
	span.End()
	if err != nil {
		return nil, fmt.Errorf("committing generation: %w", err)
	}

	if s.metrics != nil {
		if u.Metered() {
			s.metrics.CreditsDeductedTotal.Inc()
		}
		s.metrics.IdeasPersistedTotal.WithLabelValues(string(res.Mode)).Add(float64(len(commit.Ideas)))
	}
	return &Outcome{
		Mode:             res.Mode,
		Records:          res.Records,
		Stored:           commit.Ideas,
		CreditsRemaining: commit.CreditsRemaining,
		User:             u,
	}, nil
}

// clientUser finds or creates the user behind an extension client id.
// Concurrent lookups for one id share a single store round trip; a create
// lost to another instance falls back to a second lookup.
func (s *Service) clientUser(ctx context.Context, clientID string) (*store.User, error) {
	v, err, _ := s.clients.Do(clientID, func() (any, error) {
		// shared by every coalesced caller, so one cancel must not fail the rest
		return s.findOrCreateClient(context.WithoutCancel(ctx), clientID)
	})
	if err != nil {
		return nil, err
	}
	u := *v.(*store.User)
	return &u, nil
}

func (s *Service) findOrCreateClient(ctx context.Context, clientID string) (*store.User, error) {
	u, err := s.store.FindUserByExternalID(ctx, clientID)
	if err == nil {
		return u, nil
	}
	if !errors.Is(err, apperrors.ErrNotFound) {
		return nil, fmt.Errorf("finding client user: %w", err)
	}
	u = &store.User{
		ExternalID: clientID,
		Tier:       store.TierFree,
		Credits:    s.clientCredits,
		IsActive:   true,
	}
	if err := s.store.CreateUser(ctx, u); err != nil {
		if errors.Is(err, apperrors.ErrConflict) {
			return s.store.FindUserByExternalID(ctx, clientID)
		}
		return nil, fmt.Errorf("creating client user: %w", err)
	}
	logger.FromContext(ctx).Info("created client user", "user_id", u.ID, "credits", u.Credits)
	return u, nil
}

func (s *Service) startSpan(ctx context.Context, name string) (context.Context, *tracing.Span) {
	if tracing.SpanFromContext(ctx) != nil {
		return tracing.StartChildSpan(ctx, name)
	}
	return tracing.StartSpan(ctx, name, logger.RequestID(ctx))
}

func (s *Service) finishSpan(ctx context.Context, span *tracing.Span) {
	span.End()
	span.Log(logger.FromContext(ctx))
}

func (s *Service) observeUpstream(res *pipeline.Result, err error, elapsed time.Duration) {
	if s.metrics == nil {
		return
	}
	op := "generate"
	if res != nil {
		op = string(res.Mode)
	}
	s.metrics.UpstreamLatency.WithLabelValues(op, outcomeLabel(err)).Observe(elapsed.Seconds())
}

func (s *Service) finish(ctx context.Context, start time.Time, mode prompt.Mode, u *store.User, sourceURL string, out *Outcome, err error) {
	elapsed := s.now().Sub(start)
	log := logger.FromContext(ctx).With("mode", mode, "user_id", u.ID, "duration_ms", elapsed.Milliseconds())

	ev := events.GenerationEvent{
		RequestID: logger.RequestID(ctx),
		UserID:    u.ID,
		Tier:      string(u.Tier),
		Mode:      string(mode),
		SourceURL: sourceURL,
		LatencyMs: elapsed.Milliseconds(),
		Timestamp: s.now().UTC(),
	}
	if err != nil {
		ev.Type = events.GenerationFailed
		ev.Error = err.Error()
		if apperrors.HTTPStatusCode(err) >= http.StatusInternalServerError {
			log.Warn("generation failed", "error", err)
		} else {
			log.Info("generation refused", "error", err)
		}
	} else {
		ev.Type = events.GenerationSucceeded
		ev.IdeaCount = len(out.Stored)
		for _, idea := range out.Stored {
			ev.IdeaIDs = append(ev.IdeaIDs, idea.ID)
		}
		remaining := out.CreditsRemaining
		ev.CreditsRemaining = &remaining
		log.Info("generation committed", "ideas", len(out.Stored), "credits_remaining", remaining)
	}
	s.events.Track(ev)

	if s.metrics != nil {
		s.metrics.GenerationsTotal.WithLabelValues(string(mode), outcomeLabel(err)).Inc()
		s.metrics.GenerationDuration.WithLabelValues(string(mode)).Observe(elapsed.Seconds())
	}
}

func outcomeLabel(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, apperrors.ErrInsufficientCredits):
		return "insufficient_credits"
	case errors.Is(err, apperrors.ErrUpstreamRequest):
		return "upstream_request"
	case errors.Is(err, apperrors.ErrUpstreamSchema):
		return "upstream_schema"
	case errors.Is(err, apperrors.ErrInvalidIdeaShape):
		return "invalid_shape"
	case errors.Is(err, apperrors.ErrInvalidInput):
		return "invalid_input"
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return "cancelled"
	default:
		return "error"
	}
}
