package generative

import (
	"context"
	"errors"
	"time"

	"github.com/propelai/propelai-backend/internal/prompt"
	"github.com/propelai/propelai-backend/pkg/config"
	apperrors "github.com/propelai/propelai-backend/pkg/errors"
	"github.com/propelai/propelai-backend/pkg/resilience"
)

type resilient struct {
	next    Generator
	retry   resilience.RetryConfig
	breaker *resilience.CircuitBreaker
	timeout time.Duration
}

// ResilienceOption customises WithResilience.
type ResilienceOption func(*resilience.CircuitBreakerConfig)

// OnBreakerChange reports circuit breaker transitions to fn.
func OnBreakerChange(fn func(resilience.State)) ResilienceOption {
	return func(c *resilience.CircuitBreakerConfig) { c.OnStateChange = fn }
}

// WithResilience wraps g with a per-attempt timeout, a circuit breaker and
// bounded exponential-backoff retry. Only ErrUpstreamRequest is retried or
// counted against the breaker; schema failures surface on the first attempt.
func WithResilience(g Generator, cfg config.RetryConfig, timeout time.Duration, opts ...ResilienceOption) Generator {
	transient := func(err error) bool { return errors.Is(err, apperrors.ErrUpstreamRequest) }
	cbCfg := resilience.CircuitBreakerConfig{
		FailureThreshold: cfg.FailureThreshold,
		ResetTimeout:     cfg.ResetTimeout,
		IsFailure:        transient,
	}
	for _, opt := range opts {
		opt(&cbCfg)
	}
	return &resilient{
		next: g,
		retry: resilience.RetryConfig{
			MaxAttempts:  cfg.MaxAttempts,
			InitialDelay: cfg.InitialDelay,
			MaxDelay:     cfg.MaxDelay,
			Retryable:    transient,
		},
		breaker: resilience.NewCircuitBreaker("gemini", cbCfg),
		timeout: timeout,
	}
}

func (r *resilient) GenerateIdeas(ctx context.Context, p prompt.Prompt) ([]map[string]any, error) {
	var out []map[string]any
	err := r.do(ctx, "generate-ideas", func(ctx context.Context) error {
		v, err := resilience.Call(ctx, r.timeout, "generate-ideas", func(ctx context.Context) ([]map[string]any, error) {
			return r.next.GenerateIdeas(ctx, p)
		})
		out = v
		return err
	})
	return out, err
}

func (r *resilient) GenerateText(ctx context.Context, p prompt.Prompt) (string, error) {
	var out string
	err := r.do(ctx, "generate-text", func(ctx context.Context) error {
		v, err := resilience.Call(ctx, r.timeout, "generate-text", func(ctx context.Context) (string, error) {
			return r.next.GenerateText(ctx, p)
		})
		out = v
		return err
	})
	return out, err
}

func (r *resilient) do(ctx context.Context, name string, attempt func(context.Context) error) error {
	once := func() error {
		err := r.breaker.Execute(func() error { return upstream(attempt(ctx)) })
		if errors.Is(err, resilience.ErrCircuitOpen) {
			return apperrors.Wrap(apperrors.ErrUpstreamRequest, err)
		}
		return err
	}
	if r.retry.MaxAttempts <= 1 {
		return once()
	}
	return resilience.Retry(ctx, name, r.retry, once)
}

// upstream folds errors outside the upstream taxonomy, such as deadlines
// raised by resilience.Call, into ErrUpstreamRequest.
func upstream(err error) error {
	if err == nil || errors.Is(err, apperrors.ErrUpstreamRequest) || errors.Is(err, apperrors.ErrUpstreamSchema) {
		return err
	}
	return apperrors.Wrap(apperrors.ErrUpstreamRequest, err)
}
