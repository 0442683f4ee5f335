package model

import (
	"errors"
	"fmt"
	"testing"
)

func TestKindOfWalksWrapChain(t *testing.T) {
	t.Parallel()

	base := NewError(KindRateLimit, "429 from provider", errors.New("too many requests"))
	wrapped := fmt.Errorf("turn failed: %w", base)

	if got := KindOf(wrapped); got != KindRateLimit {
		t.Fatalf("KindOf=%q, want %q", got, KindRateLimit)
	}
	if got := KindOf(errors.New("plain")); got != KindUnknown {
		t.Fatalf("KindOf(plain)=%q, want %q", got, KindUnknown)
	}
}

func TestErrorUnwrapKeepsCause(t *testing.T) {
	t.Parallel()

	cause := errors.New("connection reset")
	err := NewError(KindNetwork, "stream aborted", cause)
	if !errors.Is(err, cause) {
		t.Fatalf("errors.Is lost the cause")
	}
}

func TestKindFromStatus(t *testing.T) {
	t.Parallel()

	cases := []struct {
		status int
		want   ErrorKind
	}{
		{429, KindRateLimit},
		{500, KindNetwork},
		{503, KindNetwork},
		{400, KindInvalid},
		{401, KindInvalid},
		{418, KindUnknown},
	}
	for _, tc := range cases {
		if got := KindFromStatus(tc.status); got != tc.want {
			t.Fatalf("KindFromStatus(%d)=%q, want %q", tc.status, got, tc.want)
		}
	}
}

func TestRootMessage(t *testing.T) {
	t.Parallel()

	inner := errors.New("dial tcp: i/o timeout")
	err := fmt.Errorf("request failed: %w", fmt.Errorf("transport: %w", inner))
	if got := RootMessage(err); got != "dial tcp: i/o timeout" {
		t.Fatalf("RootMessage=%q", got)
	}

	rl := NewError(KindRateLimit, "quota", nil)
	if got := RootMessage(rl); got != "Rate limit exceeded. The task will be retried automatically." {
		t.Fatalf("RootMessage(rate limit)=%q", got)
	}

	loose := errors.New(`{"error":{"type":"rate_limit_error"}}`)
	if got := RootMessage(loose); got != "Rate limit exceeded. The task will be retried automatically." {
		t.Fatalf("RootMessage(loose rate limit)=%q", got)
	}
}
