package agent

import (
	"context"
	"errors"
	"math/rand"
	"strings"
	"time"

	"github.com/BrotherOrange/PlayForge/internal/model"
)

const (
	defaultMaxRetries  = 2
	defaultBaseBackoff = 2 * time.Second
)

// RetryPolicy retries rate-limited and transiently failing model calls with
// exponential backoff and jitter.
type RetryPolicy struct {
	MaxRetries  int
	BaseBackoff time.Duration

	// sleep is replaceable in tests.
	sleep func(ctx context.Context, d time.Duration) error
}

func DefaultRetryPolicy() *RetryPolicy {
	return &RetryPolicy{
		MaxRetries:  defaultMaxRetries,
		BaseBackoff: defaultBaseBackoff,
	}
}

// Retryable reports whether err looks transient: a classified rate-limit or
// network error, or an unclassified error whose chain text suggests one.
func Retryable(err error) bool {
	if err == nil {
		return false
	}
	switch model.KindOf(err) {
	case model.KindRateLimit, model.KindNetwork:
		return true
	case model.KindInvalid:
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}

	for e := err; e != nil; e = errors.Unwrap(e) {
		msg := strings.ToLower(e.Error())
		for _, needle := range []string{"rate limit", "rate_limit", "429", "timeout", "connection reset", "i/o error"} {
			if strings.Contains(msg, needle) {
				return true
			}
		}
	}
	return false
}

// Do runs fn, retrying retryable failures up to MaxRetries times.
func (p *RetryPolicy) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	if fn == nil {
		return errors.New("nil retry func")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	if p == nil {
		p = DefaultRetryPolicy()
	}

	var err error
	for attempt := 0; ; attempt++ {
		err = fn(ctx)
		if err == nil {
			return nil
		}
		if attempt >= p.MaxRetries || !Retryable(err) {
			return err
		}
		if werr := p.wait(ctx, p.Backoff(attempt)); werr != nil {
			return err
		}
	}
}

// Backoff returns the delay before the retry after the given attempt:
// base * 2^attempt plus 300 to 1200ms of jitter.
func (p *RetryPolicy) Backoff(attempt int) time.Duration {
	base := defaultBaseBackoff
	if p != nil && p.BaseBackoff > 0 {
		base = p.BaseBackoff
	}
	if attempt < 0 {
		attempt = 0
	}
	if attempt > 10 {
		attempt = 10
	}
	jitter := time.Duration(300+rand.Intn(900)) * time.Millisecond
	return base*(1<<uint(attempt)) + jitter
}

func (p *RetryPolicy) wait(ctx context.Context, d time.Duration) error {
	if p != nil && p.sleep != nil {
		return p.sleep(ctx, d)
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
