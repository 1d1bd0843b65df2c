package retry_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/vnmchuo/crypto-bench/internal/provider"
	"github.com/vnmchuo/crypto-bench/internal/provider/providertest"
	"github.com/vnmchuo/crypto-bench/internal/retry"
	"github.com/vnmchuo/crypto-bench/pkg/ratelimit"
	"github.com/vnmchuo/crypto-bench/pkg/ratelimit/ratelimittest"
)

var (
	start = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	key   = ratelimit.Key{Provider: "openrouter", Model: "mistral-7b-instruct"}
	req   = &provider.Request{Model: "mistral-7b-instruct", Prompt: "q"}
)

// recordingLimiter forwards to a real limiter and remembers cooldown requests.
type recordingLimiter struct {
	*ratelimit.Limiter
	cooldowns []time.Duration
	deadlines []time.Time
}

func (r *recordingLimiter) NotifyCooldown(k ratelimit.Key, d time.Duration) {
	r.cooldowns = append(r.cooldowns, d)
	r.Limiter.NotifyCooldown(k, d)
	r.deadlines = append(r.deadlines, r.Limiter.Snapshot(k).BlockedUntil)
}

func newAsker(t *testing.T, policy retry.Policy) (*retry.Asker, *recordingLimiter, *ratelimittest.Clock) {
	t.Helper()
	clock := ratelimittest.NewClock(start)
	lim := &recordingLimiter{Limiter: ratelimit.NewLimiter(ratelimit.Config{}, clock)}
	return retry.NewAsker(lim, clock, policy, noop.NewTracerProvider().Tracer("test")), lim, clock
}

func TestAsk_RetryableExhaustsAttempts(t *testing.T) {
	policy := retry.DefaultPolicy()
	policy.MaxAttempts = 3
	asker, _, clock := newAsker(t, policy)
	client := &providertest.Scripted{Outcomes: []provider.Outcome{
		provider.Retryable(provider.ReasonTransport, 0, errors.New("connection reset")),
	}}

	res := asker.Ask(context.Background(), client, key, req)

	assert.False(t, res.Succeeded)
	assert.Equal(t, 3, res.Attempts)
	assert.Equal(t, 3, client.Calls())
	assert.Equal(t, provider.ReasonTransport, res.Outcome.Reason)
	// no sleep after the final attempt
	assert.Equal(t, []time.Duration{2 * time.Second, 4 * time.Second}, clock.Sleeps())
}

func TestAsk_TerminalStopsImmediately(t *testing.T) {
	asker, _, clock := newAsker(t, retry.DefaultPolicy())
	client := &providertest.Scripted{Outcomes: []provider.Outcome{
		provider.Terminal(provider.ReasonAuthOrQuota, errors.New("status 401")),
		provider.Success("never reached"),
	}}

	res := asker.Ask(context.Background(), client, key, req)

	assert.False(t, res.Succeeded)
	assert.Equal(t, 1, res.Attempts)
	assert.Equal(t, 1, client.Calls())
	assert.Equal(t, provider.ReasonAuthOrQuota, res.Outcome.Reason)
	assert.Empty(t, clock.Sleeps())
}

func TestAsk_RateLimitHintIsHonoured(t *testing.T) {
	asker, lim, clock := newAsker(t, retry.DefaultPolicy())
	client := &providertest.Scripted{Outcomes: []provider.Outcome{
		provider.Retryable(provider.ReasonRateLimited, 20*time.Second, errors.New("status 429")),
		provider.Success("ANSWER: A"),
	}}

	res := asker.Ask(context.Background(), client, key, req)

	require.True(t, res.Succeeded)
	assert.Equal(t, "ANSWER: A", res.Text)
	assert.Equal(t, 2, res.Attempts)
	assert.GreaterOrEqual(t, clock.TotalSlept(), 20*time.Second)
	assert.Equal(t, clock.TotalSlept(), res.Elapsed)

	require.Len(t, lim.cooldowns, 1)
	assert.GreaterOrEqual(t, lim.cooldowns[0], 20*time.Second)
	assert.False(t, lim.deadlines[0].Before(start.Add(20*time.Second)))
}

func TestAsk_CooldownClampedToCeiling(t *testing.T) {
	policy := retry.DefaultPolicy()
	policy.CooldownCeiling = 30 * time.Second
	asker, lim, clock := newAsker(t, policy)
	client := &providertest.Scripted{Outcomes: []provider.Outcome{
		provider.Retryable(provider.ReasonRateLimited, 10*time.Minute, nil),
		provider.Success("ok"),
	}}

	res := asker.Ask(context.Background(), client, key, req)

	require.True(t, res.Succeeded)
	assert.Equal(t, []time.Duration{30 * time.Second}, lim.cooldowns)
	assert.Equal(t, 30*time.Second, clock.TotalSlept())
}

func TestAsk_CooldownFloorAppliesWithoutHint(t *testing.T) {
	asker, lim, _ := newAsker(t, retry.DefaultPolicy())
	client := &providertest.Scripted{Outcomes: []provider.Outcome{
		provider.Retryable(provider.ReasonRateLimited, 0, nil),
		provider.Success("ok"),
	}}

	asker.Ask(context.Background(), client, key, req)

	assert.Equal(t, []time.Duration{5 * time.Second}, lim.cooldowns)
}

func TestAsk_NonRateLimitFailureDoesNotCoolDown(t *testing.T) {
	asker, lim, _ := newAsker(t, retry.DefaultPolicy())
	client := &providertest.Scripted{Outcomes: []provider.Outcome{
		provider.Malformed("empty"),
		provider.Retryable(provider.HTTPErrorReason(503), 0, nil),
		provider.Success("ok"),
	}}

	res := asker.Ask(context.Background(), client, key, req)

	assert.True(t, res.Succeeded)
	assert.Equal(t, 3, res.Attempts)
	assert.Empty(t, lim.cooldowns)
}

func TestAsk_CancelledBeforeFirstAttempt(t *testing.T) {
	asker, _, _ := newAsker(t, retry.DefaultPolicy())
	client := &providertest.Scripted{}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res := asker.Ask(ctx, client, key, req)

	assert.False(t, res.Succeeded)
	assert.Equal(t, 0, client.Calls())
	assert.Equal(t, provider.StatusTerminal, res.Outcome.Status)
	assert.Equal(t, provider.ReasonCancelled, res.Outcome.Reason)
}

func TestAsk_CancelledDuringBackoff(t *testing.T) {
	asker, _, _ := newAsker(t, retry.DefaultPolicy())
	ctx, cancel := context.WithCancel(context.Background())
	client := &providertest.Scripted{Next: func(int, *provider.Request) provider.Outcome {
		cancel()
		return provider.Retryable(provider.ReasonTransport, 0, nil)
	}}

	res := asker.Ask(ctx, client, key, req)

	assert.Equal(t, 1, client.Calls())
	assert.Equal(t, provider.ReasonCancelled, res.Outcome.Reason)
}

func TestAsk_GenerateIgnoresCancellation(t *testing.T) {
	asker, _, _ := newAsker(t, retry.DefaultPolicy())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	client := &providertest.Scripted{Next: func(int, *provider.Request) provider.Outcome {
		return provider.Success("done")
	}}
	wrapped := &ctxCheckingClient{Client: client, cancel: cancel}

	res := asker.Ask(ctx, wrapped, key, req)

	assert.True(t, res.Succeeded)
	assert.NoError(t, wrapped.seen)
}

type ctxCheckingClient struct {
	provider.Client
	cancel context.CancelFunc
	seen   error
}

func (c *ctxCheckingClient) Generate(ctx context.Context, r *provider.Request) provider.Outcome {
	c.cancel()
	c.seen = ctx.Err()
	return c.Client.Generate(ctx, r)
}

func TestAsk_RecordsSpans(t *testing.T) {
	sr := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sr))
	clock := ratelimittest.NewClock(start)
	asker := retry.NewAsker(ratelimit.NewLimiter(ratelimit.Config{}, clock), clock, retry.DefaultPolicy(), tp.Tracer("test"))
	client := &providertest.Scripted{Outcomes: []provider.Outcome{
		provider.Malformed("empty"),
		provider.Success("ok"),
	}}

	asker.Ask(context.Background(), client, key, req)

	var names []string
	for _, s := range sr.Ended() {
		names = append(names, s.Name())
	}
	assert.Equal(t, []string{"bench.generate", "bench.generate", "bench.ask"}, names)
}

func TestPolicy_Backoff(t *testing.T) {
	p := retry.DefaultPolicy()
	assert.Equal(t, 2*time.Second, p.Backoff(1))
	assert.Equal(t, 4*time.Second, p.Backoff(2))
	assert.Equal(t, 8*time.Second, p.Backoff(3))
	assert.Equal(t, 60*time.Second, p.Backoff(6))
	assert.Equal(t, 60*time.Second, p.Backoff(100))
	assert.Zero(t, p.Backoff(0))
}

func TestPolicy_Cooldown(t *testing.T) {
	p := retry.DefaultPolicy()
	assert.Equal(t, 5*time.Second, p.Cooldown(time.Second))
	assert.Equal(t, 20*time.Second, p.Cooldown(20*time.Second))
	assert.Equal(t, 120*time.Second, p.Cooldown(time.Hour))
}

func TestPolicy_Validate(t *testing.T) {
	assert.NoError(t, retry.DefaultPolicy().Validate())

	bad := retry.DefaultPolicy()
	bad.MaxAttempts = 0
	bad.Multiplier = 0.5
	bad.CooldownCeiling = time.Second
	err := bad.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "max attempts")
	assert.Contains(t, err.Error(), "multiplier")
	assert.Contains(t, err.Error(), "ceiling")
}
