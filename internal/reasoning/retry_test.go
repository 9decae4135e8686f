// internal/reasoning/retry_test.go
package reasoning

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// scriptedGenerator returns errs in order, then succeeds
type scriptedGenerator struct {
	errs  []error
	calls int
}

func (g *scriptedGenerator) Generate(ctx context.Context, req Request) (*Script, error) {
	g.calls++
	if g.calls <= len(g.errs) {
		return nil, g.errs[g.calls-1]
	}
	return &Script{Source: "ok", Provider: "fake", Model: "fake"}, nil
}

func newTestRetrier(next Generator, policy RetryPolicy) (*Retrier, *[]time.Duration) {
	var slept []time.Duration
	r := NewRetrier(next, policy, zap.NewNop())
	r.sleep = func(ctx context.Context, d time.Duration) error {
		slept = append(slept, d)
		return ctx.Err()
	}
	return r, &slept
}

func TestRetrierRecoversFromTransientErrors(t *testing.T) {
	gen := &scriptedGenerator{errs: []error{
		transientf("HTTP 503"),
		transientf("HTTP 429"),
		transientf("connection failed"),
	}}
	r, slept := newTestRetrier(gen, DefaultRetryPolicy())

	script, err := r.Generate(context.Background(), Request{SessionID: "s1"})
	require.NoError(t, err)
	assert.Equal(t, "ok", script.Source)
	assert.Equal(t, 4, gen.calls)
	assert.Equal(t, []time.Duration{500 * time.Millisecond, time.Second, 2 * time.Second}, *slept)
}

func TestRetrierPermanentErrorNotRetried(t *testing.T) {
	gen := &scriptedGenerator{errs: []error{permanentf("HTTP 401: bad key")}}
	r, slept := newTestRetrier(gen, DefaultRetryPolicy())

	_, err := r.Generate(context.Background(), Request{})
	require.Error(t, err)
	var re *Error
	require.ErrorAs(t, err, &re)
	assert.Equal(t, Permanent, re.Kind)
	assert.Equal(t, 1, re.Attempts)
	assert.Equal(t, 1, gen.calls)
	assert.Empty(t, *slept)
}

func TestRetrierExhaustsAttempts(t *testing.T) {
	errs := make([]error, 10)
	for i := range errs {
		errs[i] = transientf("HTTP 503")
	}
	gen := &scriptedGenerator{errs: errs}
	r, slept := newTestRetrier(gen, RetryPolicy{MaxAttempts: 3, InitialBackoff: time.Second, MaxBackoff: 8 * time.Second})

	_, err := r.Generate(context.Background(), Request{})
	var re *Error
	require.ErrorAs(t, err, &re)
	assert.Equal(t, Transient, re.Kind)
	assert.Equal(t, 3, re.Attempts)
	assert.Equal(t, 3, gen.calls)
	assert.Len(t, *slept, 2)
	assert.Contains(t, err.Error(), "after 3 attempts")
}

func TestRetrierUnclassifiedErrorIsPermanent(t *testing.T) {
	gen := &scriptedGenerator{errs: []error{errors.New("boom")}}
	r, _ := newTestRetrier(gen, DefaultRetryPolicy())

	_, err := r.Generate(context.Background(), Request{})
	assert.True(t, IsPermanent(err))
	assert.Equal(t, 1, gen.calls)
}

func TestRetrierStopsWhenContextCancelled(t *testing.T) {
	gen := &scriptedGenerator{errs: []error{transientf("HTTP 503"), transientf("HTTP 503")}}
	r := NewRetrier(gen, RetryPolicy{MaxAttempts: 5, InitialBackoff: time.Hour}, zap.NewNop())

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := r.Generate(ctx, Request{})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, 1, gen.calls)
}

func TestBackoffIsCapped(t *testing.T) {
	p := RetryPolicy{InitialBackoff: 500 * time.Millisecond, MaxBackoff: 8 * time.Second}
	want := []time.Duration{
		500 * time.Millisecond,
		time.Second,
		2 * time.Second,
		4 * time.Second,
		8 * time.Second,
		8 * time.Second,
	}
	for i, w := range want {
		assert.Equal(t, w, p.Backoff(i+1), "attempt %d", i+1)
	}
}
