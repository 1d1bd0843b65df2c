package gemini

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

const retryInfoType = "type.googleapis.com/google.rpc.RetryInfo"

type GeminiProvider struct {
	apiKey  string
	baseURL string
	client  *http.Client
	floor   time.Duration
}

type geminiRequest struct {
	Contents         []geminiContent  `json:"contents"`
	GenerationConfig generationConfig `json:"generationConfig,omitempty"`
}

type geminiContent struct {
	Role  string       `json:"role"`
	Parts []geminiPart `json:"parts"`
}

type geminiPart struct {
	Text string `json:"text"`
}

type generationConfig struct {
	MaxOutputTokens int      `json:"maxOutputTokens,omitempty"`
	Temperature     *float64 `json:"temperature,omitempty"`
	TopP            *float64 `json:"topP,omitempty"`
}

type geminiResponse struct {
	Candidates     []geminiCandidate   `json:"candidates"`
	PromptFeedback *promptFeedback     `json:"promptFeedback,omitempty"`
	UsageMetadata  geminiUsageMetadata `json:"usageMetadata"`
}

type geminiCandidate struct {
	Content      geminiContent `json:"content"`
	FinishReason string        `json:"finishReason,omitempty"`
}

type promptFeedback struct {
	BlockReason string `json:"blockReason,omitempty"`
}

type geminiUsageMetadata struct {
	PromptTokenCount     int `json:"promptTokenCount"`
	CandidatesTokenCount int `json:"candidatesTokenCount"`
}

type geminiErrorResponse struct {
	Error struct {
		Code    int             `json:"code"`
		Message string          `json:"message"`
		Status  string          `json:"status"`
		Details []geminiDetails `json:"details"`
	} `json:"error"`
}

type geminiDetails struct {
	Type       string `json:"@type"`
	RetryDelay string `json:"retryDelay,omitempty"`
}

func New(apiKey string, opts ...provider.Option) provider.Client {
	o := provider.NewOptions("https://generativelanguage.googleapis.com", opts...)
	return &GeminiProvider{
		apiKey:  apiKey,
		baseURL: o.BaseURL,
		client:  o.HTTPClient,
		floor:   o.RateLimitFloor,
	}
}

func (p *GeminiProvider) Generate(ctx context.Context, req *provider.Request) provider.Outcome {
	body, err := json.Marshal(p.mapRequest(req))
	if err != nil {
		return provider.Terminal(provider.ReasonBadRequest, err)
	}

	url := fmt.Sprintf("%s/v1beta/models/%s:generateContent", p.baseURL, req.Model)
	httpReq, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewBuffer(body))
	if err != nil {
		return provider.Terminal(provider.ReasonBadRequest, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-goog-api-key", p.apiKey)

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return provider.ClassifyTransport(fmt.Errorf("gemini api: %w", err))
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return provider.ClassifyTransport(fmt.Errorf("gemini api: reading body: %w", err))
	}

	if resp.StatusCode/100 != 2 {
		return provider.ClassifyStatus(resp.StatusCode, resp.Header, retryDelay(respBody), p.floor, respBody, time.Now())
	}

	var geminiResp geminiResponse
	if err := json.Unmarshal(respBody, &geminiResp); err != nil {
		return provider.Malformed("gemini api: decoding response: %v", err)
	}

	if len(geminiResp.Candidates) == 0 {
		if fb := geminiResp.PromptFeedback; fb != nil && fb.BlockReason != "" {
			return provider.Malformed("gemini api blocked prompt: %s", fb.BlockReason)
		}
		return provider.Malformed("gemini api returned no candidates")
	}

	var sb strings.Builder
	for _, part := range geminiResp.Candidates[0].Content.Parts {
		sb.WriteString(part.Text)
	}
	text := strings.TrimSpace(sb.String())
	if text == "" {
		return provider.Malformed("gemini api returned empty text (finish reason %q)", geminiResp.Candidates[0].FinishReason)
	}
	return provider.Success(text)
}

func (p *GeminiProvider) mapRequest(req *provider.Request) geminiRequest {
	return geminiRequest{
		Contents: []geminiContent{{
			Role:  "user",
			Parts: []geminiPart{{Text: req.Prompt}},
		}},
		GenerationConfig: generationConfig{
			MaxOutputTokens: req.MaxTokens,
			Temperature:     req.Temperature,
			TopP:            req.TopP,
		},
	}
}

// retryDelay extracts the RetryInfo hint Gemini puts in 429 bodies, e.g. "retryDelay": "20s".
func retryDelay(body []byte) time.Duration {
	var errResp geminiErrorResponse
	if err := json.Unmarshal(body, &errResp); err != nil {
		return 0
	}
	for _, d := range errResp.Error.Details {
		if d.Type != retryInfoType || d.RetryDelay == "" {
			continue
		}
		if delay, err := time.ParseDuration(d.RetryDelay); err == nil {
			return delay
		}
	}
	return 0
}

func (p *GeminiProvider) Name() string {
	return "gemini"
}

func (p *GeminiProvider) SupportedModels() []string {
	return []string{"gemini-2.5-pro", "gemini-2.5-flash", "gemini-2.5-flash-lite", "gemini-2.0-flash"}
}
