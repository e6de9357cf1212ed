package retry

import (
	"context"
	"testing"

	"contextcore/pkg/llm"
	"contextcore/pkg/llmerrors"
)

type fakeProvider struct {
	calls   int
	failFor int // number of calls to fail before succeeding
	kind    llmerrors.Kind
	reply   string
}

func (f *fakeProvider) ModelID() string        { return "fake-model" }
func (f *fakeProvider) AdvertisedContext() int { return 32768 }

func (f *fakeProvider) Chat(ctx context.Context, messages []llm.Message, opts llm.ChatOptions) (string, error) {
	f.calls++
	if f.calls <= f.failFor {
		return "", llmerrors.New(f.kind, "sess-1", "simulated failure")
	}
	return f.reply, nil
}

func TestRetrySucceedsAfterTransientFailures(t *testing.T) {
	fake := &fakeProvider{failFor: 2, kind: llmerrors.KindModelUnavailable, reply: "ok"}
	p := New(fake)

	text, err := p.Chat(context.Background(), []llm.Message{{Role: llm.RoleUser, Content: "hi"}}, llm.ChatOptions{MaxOutputTokens: 10})
	if err != nil {
		t.Fatalf("expected eventual success, got %v", err)
	}
	if text != "ok" {
		t.Errorf("expected reply %q, got %q", "ok", text)
	}
	if fake.calls != 3 {
		t.Errorf("expected 3 calls (2 failures + 1 success), got %d", fake.calls)
	}
}

func TestRetryGivesUpOnNonRetryableKind(t *testing.T) {
	fake := &fakeProvider{failFor: 100, kind: llmerrors.KindBoundaryViolation}
	p := New(fake)

	_, err := p.Chat(context.Background(), []llm.Message{{Role: llm.RoleUser, Content: "hi"}}, llm.ChatOptions{MaxOutputTokens: 10})
	if err == nil {
		t.Fatal("expected failure for non-retryable kind")
	}
	if fake.calls != 1 {
		t.Errorf("expected exactly 1 call for a non-retryable error, got %d", fake.calls)
	}
}

func TestRetryExhaustsMaxRetries(t *testing.T) {
	// Uses StorageUnavailable (200ms initial delay, 3 max retries) rather than
	// ModelUnavailable so the exhaustion path doesn't pay ModelUnavailable's
	// longer backoff in every test run.
	fake := &fakeProvider{failFor: 100, kind: llmerrors.KindStorageUnavailable}
	p := New(fake)

	_, err := p.Chat(context.Background(), []llm.Message{{Role: llm.RoleUser, Content: "hi"}}, llm.ChatOptions{MaxOutputTokens: 10})
	if err == nil {
		t.Fatal("expected failure after exhausting retries")
	}
	want := llmerrors.RetryConfigFor(llmerrors.KindStorageUnavailable).MaxRetries + 1
	if fake.calls != want {
		t.Errorf("expected %d calls (initial + max retries), got %d", want, fake.calls)
	}
}
