package router

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sony/gobreaker"

	"github.com/vnmchuo/crypto-bench/internal/provider"
	"github.com/vnmchuo/crypto-bench/internal/retry"
	"github.com/vnmchuo/crypto-bench/pkg/ratelimit"
)

var ErrUnknownModel = errors.New("unknown model")

var errGaveUp = errors.New("gave up")

// Model families routed by prefix when no client lists the exact name.
var families = []struct {
	prefix   string
	provider string
}{
	{"gemini", "gemini"},
	{"claude", "claude"},
	{"gpt-oss", "openrouter"},
	{"llama", "openrouter"},
	{"mistral", "openrouter"},
	{"gpt-", "openai"},
	{"echo", "echo"},
}

// ProviderFor names the provider serving model, without needing a client for it.
func ProviderFor(model string) (string, bool) {
	for _, f := range families {
		if strings.HasPrefix(model, f.prefix) {
			return f.provider, true
		}
	}
	return "", false
}

type BreakerSettings struct {
	Threshold uint32 // consecutive give-ups before opening; 0 disables
	Timeout   time.Duration
}

type Router struct {
	clients  []provider.Client
	asker    *retry.Asker
	breakers map[string]*gobreaker.CircuitBreaker
}

func New(clients []provider.Client, asker *retry.Asker, bs BreakerSettings) *Router {
	breakers := make(map[string]*gobreaker.CircuitBreaker)
	if bs.Threshold > 0 {
		for _, c := range clients {
			settings := gobreaker.Settings{
				Name:        c.Name(),
				MaxRequests: 1,
				Timeout:     bs.Timeout,
				ReadyToTrip: func(counts gobreaker.Counts) bool {
					return counts.ConsecutiveFailures >= bs.Threshold
				},
			}
			breakers[c.Name()] = gobreaker.NewCircuitBreaker(settings)
		}
	}
	return &Router{
		clients:  clients,
		asker:    asker,
		breakers: breakers,
	}
}

// Route picks the client for model: an exact SupportedModels match first, then the model family.
func (r *Router) Route(model string) (provider.Client, error) {
	for _, c := range r.clients {
		for _, m := range c.SupportedModels() {
			if m == model {
				return c, nil
			}
		}
	}
	if name, ok := ProviderFor(model); ok {
		for _, c := range r.clients {
			if c.Name() == name {
				return c, nil
			}
		}
		return nil, fmt.Errorf("%w: %s (provider %s not configured)", ErrUnknownModel, model, name)
	}
	return nil, fmt.Errorf("%w: %s", ErrUnknownModel, model)
}

// Ask runs the retrying asker behind the client's breaker. While the breaker is open
// questions fail with circuit_open and nothing is sent.
func (r *Router) Ask(ctx context.Context, c provider.Client, req *provider.Request) retry.Result {
	key := ratelimit.Key{Provider: c.Name(), Model: req.Model}
	cb, ok := r.breakers[c.Name()]
	if !ok {
		return r.asker.Ask(ctx, c, key, req)
	}

	result, err := cb.Execute(func() (interface{}, error) {
		res := r.asker.Ask(ctx, c, key, req)
		if !res.Succeeded && res.Outcome.Reason != provider.ReasonCancelled {
			return res, errGaveUp
		}
		return res, nil
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return retry.Result{Outcome: provider.Terminal(provider.ReasonCircuitOpen, fmt.Errorf("%s: %w", c.Name(), err))}
	}
	return result.(retry.Result)
}

// State reports the breaker state for a provider, "disabled" when none is configured.
func (r *Router) State(providerName string) string {
	cb, ok := r.breakers[providerName]
	if !ok {
		return "disabled"
	}
	return cb.State().String()
}
