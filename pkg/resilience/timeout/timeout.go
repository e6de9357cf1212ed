// Package timeout bounds an llm.Provider call to a fixed duration, mapping a
// deadline exceeded to whatever Kind the caller needs — the Compressor maps
// it to CompressionFailed per spec.md §5's "timeout on model calls inside
// compression are bounded (default 60s); timeout -> CompressionFailed."
package timeout

import (
	"context"
	"time"

	"contextcore/pkg/llm"
	"contextcore/pkg/llmerrors"
)

// DefaultCompressionTimeout is the default bound on a Compressor's model
// call, per spec.md §5.
const DefaultCompressionTimeout = 60 * time.Second

// Provider wraps an inner llm.Provider, cancelling Chat after Duration and
// reporting the deadline as OnTimeout (a classified *llmerrors.Error).
type Provider struct {
	inner     llm.Provider
	duration  time.Duration
	onTimeout llmerrors.Kind
	sessionID string
}

// New wraps inner with a timeout of duration. Calls that exceed it return a
// classified error of kind onTimeout.
func New(inner llm.Provider, duration time.Duration, onTimeout llmerrors.Kind, sessionID string) *Provider {
	return &Provider{inner: inner, duration: duration, onTimeout: onTimeout, sessionID: sessionID}
}

func (p *Provider) ModelID() string        { return p.inner.ModelID() }
func (p *Provider) AdvertisedContext() int { return p.inner.AdvertisedContext() }

func (p *Provider) Chat(ctx context.Context, messages []llm.Message, opts llm.ChatOptions) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, p.duration)
	defer cancel()

	text, err := p.inner.Chat(ctx, messages, opts)
	if err != nil && ctx.Err() == context.DeadlineExceeded {
		return "", llmerrors.Wrap(p.onTimeout, p.sessionID, ctx.Err(), "model call exceeded timeout")
	}
	return text, err
}
