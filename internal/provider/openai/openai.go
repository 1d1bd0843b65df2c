package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/vnmchuo/crypto-bench/internal/provider"
)

// OpenAIProvider speaks the chat completions wire format. It backs both
// api.openai.com and OpenRouter, which is wire compatible.
type OpenAIProvider struct {
	name     string
	apiKey   string
	baseURL  string
	client   *http.Client
	floor    time.Duration
	headers  map[string]string
	aliases  map[string]string
	models   []string
	defaults map[string]params
	fallback params
}

// params are applied when the request leaves them unset.
type params struct {
	Temperature *float64
	TopP        *float64
	MaxTokens   int
}

type openAIRequest struct {
	Model       string          `json:"model"`
	Messages    []openAIMessage `json:"messages"`
	MaxTokens   int             `json:"max_tokens,omitempty"`
	Temperature *float64        `json:"temperature,omitempty"`
	TopP        *float64        `json:"top_p,omitempty"`
}

type openAIMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type openAIResponse struct {
	ID      string         `json:"id"`
	Choices []openAIChoice `json:"choices"`
	Usage   openAIUsage    `json:"usage"`
	Model   string         `json:"model"`
	Error   *openAIError   `json:"error,omitempty"`
}

type openAIChoice struct {
	Message openAIMessage `json:"message"`
}

type openAIUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
}

type openAIError struct {
	Code    json.RawMessage `json:"code"`
	Message string          `json:"message"`
}

// status returns the numeric code when the provider sent one.
func (e *openAIError) status() int {
	n, err := strconv.Atoi(strings.Trim(string(e.Code), `"`))
	if err != nil {
		return 0
	}
	return n
}

func New(apiKey string, opts ...provider.Option) provider.Client {
	o := provider.NewOptions("https://api.openai.com/v1", opts...)
	return &OpenAIProvider{
		name:    "openai",
		apiKey:  apiKey,
		baseURL: o.BaseURL,
		client:  o.HTTPClient,
		floor:   o.RateLimitFloor,
		models:  []string{"gpt-4o", "gpt-4o-mini", "gpt-4.1-mini", "gpt-3.5-turbo"},
	}
}

// OpenRouter free-tier models, keyed by the short names used on the command line.
var openRouterModels = map[string]string{
	"llama-3.3-70b-instruct": "meta-llama/llama-3.3-70b-instruct:free",
	"mistral-7b-instruct":    "mistralai/mistral-7b-instruct:free",
	"gpt-oss-20b":            "openai/gpt-oss-20b:free",
}

func NewOpenRouter(apiKey string, opts ...provider.Option) provider.Client {
	o := provider.NewOptions("https://openrouter.ai/api/v1", opts...)
	models := make([]string, 0, len(openRouterModels)*2)
	for alias, id := range openRouterModels {
		models = append(models, alias, id)
	}
	return &OpenAIProvider{
		name:    "openrouter",
		apiKey:  apiKey,
		baseURL: o.BaseURL,
		client:  o.HTTPClient,
		floor:   o.RateLimitFloor,
		headers: map[string]string{
			"X-Title": "crypto-bench",
		},
		aliases: openRouterModels,
		models:  models,
		defaults: map[string]params{
			"openai/gpt-oss-20b:free": {Temperature: provider.Float(0.8), TopP: provider.Float(1.0)},
		},
		fallback: params{Temperature: provider.Float(0), TopP: provider.Float(1.0), MaxTokens: 256},
	}
}

func (p *OpenAIProvider) Generate(ctx context.Context, req *provider.Request) provider.Outcome {
	body, err := json.Marshal(p.mapRequest(req))
	if err != nil {
		return provider.Terminal(provider.ReasonBadRequest, err)
	}

	url := fmt.Sprintf("%s/chat/completions", p.baseURL)
	httpReq, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewBuffer(body))
	if err != nil {
		return provider.Terminal(provider.ReasonBadRequest, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", fmt.Sprintf("Bearer %s", p.apiKey))
	for k, v := range p.headers {
		httpReq.Header.Set(k, v)
	}

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return provider.ClassifyTransport(fmt.Errorf("%s api: %w", p.name, err))
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return provider.ClassifyTransport(fmt.Errorf("%s api: reading body: %w", p.name, err))
	}

	if resp.StatusCode/100 != 2 {
		return provider.ClassifyStatus(resp.StatusCode, resp.Header, 0, p.floor, respBody, time.Now())
	}

	var openAIResp openAIResponse
	if err := json.Unmarshal(respBody, &openAIResp); err != nil {
		return provider.Malformed("%s api: decoding response: %v", p.name, err)
	}

	// OpenRouter reports upstream failures inside a 200 body.
	if openAIResp.Error != nil {
		if code := openAIResp.Error.status(); code >= 400 {
			return provider.ClassifyStatus(code, resp.Header, 0, p.floor, []byte(openAIResp.Error.Message), time.Now())
		}
		return provider.Malformed("%s api error: %s", p.name, openAIResp.Error.Message)
	}

	if len(openAIResp.Choices) == 0 {
		return provider.Malformed("%s api returned no choices", p.name)
	}
	text := strings.TrimSpace(openAIResp.Choices[0].Message.Content)
	if text == "" {
		return provider.Malformed("%s api returned empty content", p.name)
	}
	return provider.Success(text)
}

func (p *OpenAIProvider) mapRequest(req *provider.Request) openAIRequest {
	model := req.Model
	if id, ok := p.aliases[model]; ok {
		model = id
	}

	d, ok := p.defaults[model]
	if !ok {
		d = p.fallback
	}
	out := openAIRequest{
		Model:       model,
		Messages:    []openAIMessage{{Role: "user", Content: req.Prompt}},
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
		TopP:        req.TopP,
	}
	if out.MaxTokens == 0 {
		out.MaxTokens = d.MaxTokens
	}
	if out.Temperature == nil {
		out.Temperature = d.Temperature
	}
	if out.TopP == nil {
		out.TopP = d.TopP
	}
	return out
}

func (p *OpenAIProvider) Name() string {
	return p.name
}

func (p *OpenAIProvider) SupportedModels() []string {
	return p.models
}
