package echo

import (
	"context"
	"strings"

	"github.com/vnmchuo/crypto-bench/internal/provider"
)

// EchoProvider answers every prompt with the prompt itself. It needs no
// credentials and is used for dry runs of a dataset.
type EchoProvider struct{}

func New() provider.Client {
	return &EchoProvider{}
}

func (p *EchoProvider) Generate(ctx context.Context, req *provider.Request) provider.Outcome {
	if err := ctx.Err(); err != nil {
		return provider.Terminal(provider.ReasonCancelled, err)
	}
	if strings.TrimSpace(req.Prompt) == "" {
		return provider.Malformed("echo: empty prompt")
	}
	return provider.Success(req.Prompt)
}

func (p *EchoProvider) Name() string {
	return "echo"
}

func (p *EchoProvider) SupportedModels() []string {
	return []string{"echo"}
}
