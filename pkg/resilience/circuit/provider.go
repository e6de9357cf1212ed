package circuit

import (
	"context"

	"contextcore/pkg/llm"
)

// Provider wraps an inner llm.Provider with a Breaker, rejecting calls
// outright while the circuit is open instead of waiting out a doomed
// request against a provider that is already down.
type Provider struct {
	inner   llm.Provider
	breaker *Breaker
}

// NewProvider wraps inner with a breaker configured by cfg.
func NewProvider(inner llm.Provider, cfg Config) *Provider {
	return &Provider{inner: inner, breaker: New(cfg)}
}

func (p *Provider) ModelID() string        { return p.inner.ModelID() }
func (p *Provider) AdvertisedContext() int { return p.inner.AdvertisedContext() }

// Chat rejects the call with *Error if the breaker is open; otherwise it
// calls through and records the outcome.
func (p *Provider) Chat(ctx context.Context, messages []llm.Message, opts llm.ChatOptions) (string, error) {
	if !p.breaker.Allow() {
		return "", &Error{State: p.breaker.State()}
	}

	text, err := p.inner.Chat(ctx, messages, opts)
	p.breaker.Record(err == nil)
	return text, err
}
