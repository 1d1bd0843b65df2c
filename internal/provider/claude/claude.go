package claude

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/vnmchuo/crypto-bench/internal/provider"
)

const (
	apiVersion       = "2023-06-01"
	defaultMaxTokens = 4096
)

type ClaudeProvider struct {
	apiKey  string
	baseURL string
	client  *http.Client
	floor   time.Duration
}

type claudeRequest struct {
	Model       string          `json:"model"`
	MaxTokens   int             `json:"max_tokens"`
	Messages    []claudeMessage `json:"messages"`
	Temperature *float64        `json:"temperature,omitempty"`
	TopP        *float64        `json:"top_p,omitempty"`
}

type claudeMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type claudeResponse struct {
	ID         string          `json:"id"`
	Content    []claudeContent `json:"content"`
	Model      string          `json:"model"`
	StopReason string          `json:"stop_reason"`
	Usage      claudeUsage     `json:"usage"`
}

type claudeContent struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

type claudeUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

func New(apiKey string, opts ...provider.Option) provider.Client {
	o := provider.NewOptions("https://api.anthropic.com/v1", opts...)
	return &ClaudeProvider{
		apiKey:  apiKey,
		baseURL: o.BaseURL,
		client:  o.HTTPClient,
		floor:   o.RateLimitFloor,
	}
}

func (p *ClaudeProvider) Generate(ctx context.Context, req *provider.Request) provider.Outcome {
	body, err := json.Marshal(p.mapRequest(req))
	if err != nil {
		return provider.Terminal(provider.ReasonBadRequest, err)
	}

	url := fmt.Sprintf("%s/messages", p.baseURL)
	httpReq, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewBuffer(body))
	if err != nil {
		return provider.Terminal(provider.ReasonBadRequest, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", p.apiKey)
	httpReq.Header.Set("anthropic-version", apiVersion)

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return provider.ClassifyTransport(fmt.Errorf("claude api: %w", err))
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return provider.ClassifyTransport(fmt.Errorf("claude api: reading body: %w", err))
	}

	if resp.StatusCode/100 != 2 {
		return provider.ClassifyStatus(resp.StatusCode, resp.Header, 0, p.floor, respBody, time.Now())
	}

	var claudeResp claudeResponse
	if err := json.Unmarshal(respBody, &claudeResp); err != nil {
		return provider.Malformed("claude api: decoding response: %v", err)
	}

	var sb strings.Builder
	for _, c := range claudeResp.Content {
		if c.Type == "text" {
			sb.WriteString(c.Text)
		}
	}
	text := strings.TrimSpace(sb.String())
	if text == "" {
		return provider.Malformed("claude api returned no text (stop reason %q)", claudeResp.StopReason)
	}
	return provider.Success(text)
}

func (p *ClaudeProvider) mapRequest(req *provider.Request) claudeRequest {
	maxTokens := req.MaxTokens
	if maxTokens == 0 {
		maxTokens = defaultMaxTokens
	}
	return claudeRequest{
		Model:       req.Model,
		MaxTokens:   maxTokens,
		Messages:    []claudeMessage{{Role: "user", Content: req.Prompt}},
		Temperature: req.Temperature,
		TopP:        req.TopP,
	}
}

func (p *ClaudeProvider) Name() string {
	return "claude"
}

func (p *ClaudeProvider) SupportedModels() []string {
	return []string{"claude-sonnet-4-5", "claude-haiku-4-5", "claude-3-5-haiku-latest"}
}
