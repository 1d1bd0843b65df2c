package provider

import (
	"context"
	"net/http"
	"time"
)

// Request is one fully rendered prompt plus generation parameters.
type Request struct {
	Model       string
	Prompt      string
	MaxTokens   int
	Temperature *float64
	TopP        *float64
}

// Client is implemented once per provider. Generate never returns an unclassified failure.
type Client interface {
	Generate(ctx context.Context, req *Request) Outcome
	Name() string
	SupportedModels() []string
}

const (
	DefaultTimeout        = 60 * time.Second
	DefaultRateLimitFloor = 5 * time.Second
)

// Options are shared by the HTTP-backed clients.
type Options struct {
	BaseURL        string
	HTTPClient     *http.Client
	Timeout        time.Duration
	RateLimitFloor time.Duration
}

type Option func(*Options)

func WithBaseURL(url string) Option {
	return func(o *Options) { o.BaseURL = url }
}

func WithHTTPClient(c *http.Client) Option {
	return func(o *Options) { o.HTTPClient = c }
}

func WithTimeout(d time.Duration) Option {
	return func(o *Options) { o.Timeout = d }
}

// WithRateLimitFloor sets the wait suggested for a 429 that carries no usable hint.
func WithRateLimitFloor(d time.Duration) Option {
	return func(o *Options) { o.RateLimitFloor = d }
}

// NewOptions applies opts over defaults. baseURL is the provider's public endpoint.
func NewOptions(baseURL string, opts ...Option) Options {
	o := Options{
		BaseURL:        baseURL,
		Timeout:        DefaultTimeout,
		RateLimitFloor: DefaultRateLimitFloor,
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.HTTPClient == nil {
		o.HTTPClient = &http.Client{Timeout: o.Timeout}
	}
	return o
}

func Float(v float64) *float64 {
	return &v
}
