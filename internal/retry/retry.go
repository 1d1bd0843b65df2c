package retry

import (
	"context"
	"log"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/vnmchuo/crypto-bench/internal/provider"
	"github.com/vnmchuo/crypto-bench/pkg/ratelimit"
)

// Result is the final answer to one logical question.
type Result struct {
	Text      string
	Outcome   provider.Outcome // last outcome observed
	Attempts  int
	Succeeded bool
	Elapsed   time.Duration // waits and calls, as seen by the asker's clock
}

// Limiter is the part of ratelimit.Limiter the asker needs.
type Limiter interface {
	Acquire(ctx context.Context, key ratelimit.Key) error
	NotifyCooldown(key ratelimit.Key, d time.Duration)
}

// Asker retries a client under a Policy, cooperating with a shared limiter.
type Asker struct {
	limiter Limiter
	clock   ratelimit.Clock
	policy  Policy
	tracer  trace.Tracer
}

func NewAsker(limiter Limiter, clock ratelimit.Clock, policy Policy, tracer trace.Tracer) *Asker {
	if clock == nil {
		clock = ratelimit.SystemClock{}
	}
	return &Asker{
		limiter: limiter,
		clock:   clock,
		policy:  policy,
		tracer:  tracer,
	}
}

func (a *Asker) Policy() Policy {
	return a.policy
}

// Ask runs attempts until one succeeds, a terminal failure occurs or attempts run out.
// Cancelling ctx interrupts waits; a call already on the wire runs to its own timeout.
func (a *Asker) Ask(ctx context.Context, client provider.Client, key ratelimit.Key, req *provider.Request) Result {
	ctx, span := a.tracer.Start(ctx, "bench.ask")
	defer span.End()
	span.SetAttributes(
		attribute.String("provider", key.Provider),
		attribute.String("model", key.Model),
	)

	began := a.clock.Now()
	res := a.ask(ctx, client, key, req)
	res.Elapsed = a.clock.Now().Sub(began)

	span.SetAttributes(attribute.Int("attempts", res.Attempts))
	if !res.Succeeded {
		span.SetAttributes(attribute.String("reason", string(res.Outcome.Reason)))
		span.SetStatus(codes.Error, res.Outcome.String())
	}
	return res
}

func (a *Asker) ask(ctx context.Context, client provider.Client, key ratelimit.Key, req *provider.Request) Result {
	var res Result
	for n := 1; n <= a.policy.MaxAttempts; n++ {
		if err := a.limiter.Acquire(ctx, key); err != nil {
			res.Outcome = provider.Terminal(provider.ReasonCancelled, err)
			return res
		}

		res.Attempts = n
		out := a.generate(ctx, client, req, n)
		res.Outcome = out

		switch out.Status {
		case provider.StatusSuccess:
			res.Text = out.Text
			res.Succeeded = true
			return res
		case provider.StatusTerminal:
			log.Printf("[retry] %s: giving up after attempt %d: %s", key, n, out)
			return res
		}

		if out.Reason == provider.ReasonRateLimited {
			cooldown := a.policy.Cooldown(out.SuggestedWait)
			a.limiter.NotifyCooldown(key, cooldown)
			log.Printf("[retry] %s rate limited, cooling down for %s", key, cooldown)
		}
		if n == a.policy.MaxAttempts {
			break
		}

		backoff := a.policy.Backoff(n)
		log.Printf("[retry] %s attempt %d/%d failed: %s; retrying in %s", key, n, a.policy.MaxAttempts, out, backoff)
		if err := a.clock.Sleep(ctx, backoff); err != nil {
			res.Outcome = provider.Terminal(provider.ReasonCancelled, err)
			return res
		}
	}

	log.Printf("[retry] %s: giving up after %d attempts: %s", key, res.Attempts, res.Outcome)
	return res
}

func (a *Asker) generate(ctx context.Context, client provider.Client, req *provider.Request, n int) provider.Outcome {
	ctx, span := a.tracer.Start(ctx, "bench.generate")
	defer span.End()
	span.SetAttributes(attribute.Int("attempt", n))

	out := client.Generate(context.WithoutCancel(ctx), req)
	if !out.OK() {
		span.SetAttributes(attribute.String("reason", string(out.Reason)))
		if out.StatusCode != 0 {
			span.SetAttributes(attribute.Int("http.status_code", out.StatusCode))
		}
		span.SetStatus(codes.Error, out.String())
	}
	return out
}
