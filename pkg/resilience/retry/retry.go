// Package retry wraps an llm.Provider with the backoff policy attached to
// each llmerrors.Kind, so a transient StorageUnavailable/ModelUnavailable
// failure is retried locally before ever reaching the Orchestrator.
package retry

import (
	"context"
	"math"
	"math/rand"
	"time"

	"contextcore/pkg/llm"
	"contextcore/pkg/llmerrors"
	"contextcore/pkg/logx"
)

// Provider wraps an inner llm.Provider, retrying Chat calls according to
// the RetryConfig attached to the error's Kind.
type Provider struct {
	inner llm.Provider
	log   *logx.Logger
}

// New wraps inner with retry behavior. The inner provider must not retry on
// its own; each adapter disables its SDK's built-in retry loop so this is
// the single source of retry policy.
func New(inner llm.Provider) *Provider {
	return &Provider{inner: inner, log: logx.NewLogger("resilience.retry")}
}

func (p *Provider) ModelID() string        { return p.inner.ModelID() }
func (p *Provider) AdvertisedContext() int { return p.inner.AdvertisedContext() }

// Chat retries the inner call until it succeeds, the error's Kind is not
// retryable, or MaxRetries is exhausted.
func (p *Provider) Chat(ctx context.Context, messages []llm.Message, opts llm.ChatOptions) (string, error) {
	var lastErr error

	for attempt := 0; ; attempt++ {
		if attempt > 0 {
			kind, _ := llmerrors.KindOf(lastErr)
			delay := backoffDelay(attempt, llmerrors.RetryConfigFor(kind))
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(delay):
			}
		}

		text, err := p.inner.Chat(ctx, messages, opts)
		if err == nil {
			if attempt > 0 {
				p.log.Debug("succeeded on attempt %d", attempt)
			}
			return text, nil
		}
		lastErr = err

		kind, ok := llmerrors.KindOf(err)
		if !ok {
			return "", err
		}
		cfg := llmerrors.RetryConfigFor(kind)
		isRetryable := llmerrors.Is(err, llmerrors.KindStorageUnavailable) || llmerrors.Is(err, llmerrors.KindModelUnavailable)
		if !isRetryable || attempt >= cfg.MaxRetries {
			return "", err
		}
		p.log.Warn("attempt %d failed (%s), retrying: %v", attempt, kind, err)
	}
}

func backoffDelay(attempt int, cfg llmerrors.RetryConfig) time.Duration {
	if attempt <= 0 || cfg.InitialDelay <= 0 {
		return 0
	}
	delay := time.Duration(float64(cfg.InitialDelay) * math.Pow(cfg.BackoffFactor, float64(attempt-1)))
	if delay > cfg.MaxDelay {
		delay = cfg.MaxDelay
	}
	if cfg.Jitter {
		jitter := time.Duration((rand.Float64()*2 - 1) * 0.1 * float64(delay))
		delay += jitter
		if delay < 0 {
			delay = cfg.InitialDelay
		}
	}
	return delay
}
