// Package providertest holds a scripted provider.Client for orchestration tests.
package providertest

import (
	"context"
	"sync"

	"github.com/vnmchuo/crypto-bench/internal/provider"
)

// Scripted returns Outcomes in order and repeats the last one once the script runs out.
// Next, when set, takes precedence over the script.
type Scripted struct {
	ProviderName string
	Models       []string
	Outcomes     []provider.Outcome
	Next         func(call int, req *provider.Request) provider.Outcome

	mu       sync.Mutex
	requests []*provider.Request
}

func (s *Scripted) Generate(ctx context.Context, req *provider.Request) provider.Outcome {
	s.mu.Lock()
	s.requests = append(s.requests, req)
	call := len(s.requests)
	s.mu.Unlock()

	if s.Next != nil {
		return s.Next(call, req)
	}
	if len(s.Outcomes) == 0 {
		return provider.Success(req.Prompt)
	}
	return s.Outcomes[min(call, len(s.Outcomes))-1]
}

func (s *Scripted) Name() string {
	if s.ProviderName == "" {
		return "scripted"
	}
	return s.ProviderName
}

func (s *Scripted) SupportedModels() []string {
	return s.Models
}

// Calls reports how many times Generate ran.
func (s *Scripted) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.requests)
}

func (s *Scripted) Requests() []*provider.Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*provider.Request, len(s.requests))
	copy(out, s.requests)
	return out
}
