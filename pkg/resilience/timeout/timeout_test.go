package timeout

import (
	"context"
	"testing"
	"time"

	"contextcore/pkg/llm"
	"contextcore/pkg/llmerrors"
)

type slowProvider struct {
	delay time.Duration
	reply string
}

func (s *slowProvider) ModelID() string        { return "slow-model" }
func (s *slowProvider) AdvertisedContext() int { return 32768 }

func (s *slowProvider) Chat(ctx context.Context, messages []llm.Message, opts llm.ChatOptions) (string, error) {
	select {
	case <-time.After(s.delay):
		return s.reply, nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func TestTimeoutMapsDeadlineToRequestedKind(t *testing.T) {
	inner := &slowProvider{delay: 50 * time.Millisecond, reply: "too slow"}
	p := New(inner, 5*time.Millisecond, llmerrors.KindCompressionFailed, "sess-1")

	_, err := p.Chat(context.Background(), []llm.Message{{Role: llm.RoleUser, Content: "hi"}}, llm.ChatOptions{MaxOutputTokens: 10})
	if err == nil {
		t.Fatal("expected timeout error")
	}
	if !llmerrors.Is(err, llmerrors.KindCompressionFailed) {
		t.Errorf("expected KindCompressionFailed, got %v", err)
	}
}

func TestTimeoutPassesThroughFastCalls(t *testing.T) {
	inner := &slowProvider{delay: time.Millisecond, reply: "fast"}
	p := New(inner, time.Second, llmerrors.KindCompressionFailed, "sess-1")

	text, err := p.Chat(context.Background(), []llm.Message{{Role: llm.RoleUser, Content: "hi"}}, llm.ChatOptions{MaxOutputTokens: 10})
	if err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	if text != "fast" {
		t.Errorf("expected reply %q, got %q", "fast", text)
	}
}
