package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/joho/godotenv"

	"github.com/vnmchuo/crypto-bench/internal/retry"
	"github.com/vnmchuo/crypto-bench/pkg/ratelimit"
)

var ErrMissingAPIKey = errors.New("missing API key")

type Config struct {
	// Providers
	GeminiAPIKey     string
	OpenRouterAPIKey string
	OpenAIAPIKey     string
	AnthropicAPIKey  string

	// Rate limiting and retries
	RateLimits  ratelimit.Config
	Retry       retry.Policy
	HTTPTimeout time.Duration

	// Circuit breaker
	BreakerThreshold uint32 // 0 disables
	BreakerTimeout   time.Duration

	// Results
	DataDir           string // default: "datasets"
	ResultsDir        string // default: "results"
	PostgresDSN       string
	RedisAddr         string
	RedisStream       string
	RedisStreamMaxLen int64

	// Observability
	OTELExporterType     string // "none", "stdout" or "otlp"
	OTELExporterEndpoint string // default: "localhost:4317"
	StatusAddr           string
}

func Load() (*Config, error) {
	// Load .env file if present (non-fatal if missing)
	_ = godotenv.Load()

	cfg := &Config{
		GeminiAPIKey:         getEnv("GEMINI_API_KEY", os.Getenv("GOOGLE_API_KEY")),
		OpenRouterAPIKey:     os.Getenv("OPENROUTER_API_KEY"),
		OpenAIAPIKey:         os.Getenv("OPENAI_API_KEY"),
		AnthropicAPIKey:      os.Getenv("ANTHROPIC_API_KEY"),
		DataDir:              getEnv("DATA_DIR", "datasets"),
		ResultsDir:           getEnv("RESULTS_DIR", "results"),
		PostgresDSN:          os.Getenv("POSTGRES_DSN"),
		RedisAddr:            os.Getenv("REDIS_ADDR"),
		RedisStream:          getEnv("REDIS_STREAM", "bench:results"),
		OTELExporterType:     getEnv("OTEL_EXPORTER_TYPE", "none"),
		OTELExporterEndpoint: getEnv("OTEL_EXPORTER_ENDPOINT", "localhost:4317"),
		StatusAddr:           os.Getenv("STATUS_ADDR"),
	}

	p := &parser{}

	// Rate limits
	defaultLimit := ratelimit.Limit{
		MaxRequests: p.int("DEFAULT_MAX_RPM", 12),
		MinInterval: p.duration("DEFAULT_MIN_INTERVAL", 0),
	}
	cfg.RateLimits = ratelimit.Config{
		Window:    p.duration("RATE_LIMIT_WINDOW", ratelimit.DefaultWindow),
		Default:   defaultLimit,
		Providers: make(map[string]ratelimit.Limit),
		Models:    make(map[ratelimit.Key]ratelimit.Limit),
	}
	for provider, fallback := range map[string]int{
		"gemini":     15,
		"openrouter": defaultLimit.MaxRequests,
		"openai":     defaultLimit.MaxRequests,
		"claude":     defaultLimit.MaxRequests,
	} {
		env := strings.ToUpper(provider) + "_MAX_RPM"
		if provider == "claude" {
			env = "ANTHROPIC_MAX_RPM"
		}
		cfg.RateLimits.Providers[provider] = ratelimit.Limit{
			MaxRequests: p.int(env, fallback),
			MinInterval: defaultLimit.MinInterval,
		}
	}

	// Retry policy
	defaults := retry.DefaultPolicy()
	cfg.Retry = retry.Policy{
		MaxAttempts:     p.int("RETRY_MAX_ATTEMPTS", defaults.MaxAttempts),
		BaseBackoff:     p.duration("RETRY_BASE_BACKOFF", defaults.BaseBackoff),
		Multiplier:      p.float("RETRY_MULTIPLIER", defaults.Multiplier),
		MaxBackoff:      p.duration("RETRY_MAX_BACKOFF", defaults.MaxBackoff),
		CooldownFloor:   p.duration("COOLDOWN_FLOOR", defaults.CooldownFloor),
		CooldownCeiling: p.duration("COOLDOWN_CEILING", defaults.CooldownCeiling),
	}

	cfg.HTTPTimeout = p.duration("HTTP_TIMEOUT", 60*time.Second)
	cfg.BreakerThreshold = uint32(p.int("BREAKER_THRESHOLD", 0))
	cfg.BreakerTimeout = p.duration("BREAKER_TIMEOUT", 30*time.Second)
	cfg.RedisStreamMaxLen = int64(p.int("REDIS_STREAM_MAXLEN", 100000))

	if err := p.err(); err != nil {
		return nil, err
	}

	if path := os.Getenv("RATE_LIMITS_FILE"); path != "" {
		if err := loadRateLimitFile(path, &cfg.RateLimits); err != nil {
			return nil, fmt.Errorf("invalid RATE_LIMITS_FILE: %w", err)
		}
	}

	// Validation
	if err := cfg.Retry.Validate(); err != nil {
		return nil, fmt.Errorf("invalid retry policy: %w", err)
	}
	if cfg.RateLimits.Window <= 0 {
		return nil, fmt.Errorf("RATE_LIMIT_WINDOW must be positive")
	}

	return cfg, nil
}

// APIKeyFor returns the credential for a provider. The echo provider needs none.
func (c *Config) APIKeyFor(provider string) (string, error) {
	var key, env string
	switch provider {
	case "echo":
		return "", nil
	case "gemini":
		key, env = c.GeminiAPIKey, "GEMINI_API_KEY (or GOOGLE_API_KEY)"
	case "openrouter":
		key, env = c.OpenRouterAPIKey, "OPENROUTER_API_KEY"
	case "openai":
		key, env = c.OpenAIAPIKey, "OPENAI_API_KEY"
	case "claude":
		key, env = c.AnthropicAPIKey, "ANTHROPIC_API_KEY"
	default:
		return "", fmt.Errorf("no credentials known for provider %q", provider)
	}
	if key == "" {
		return "", fmt.Errorf("%w: set %s", ErrMissingAPIKey, env)
	}
	return key, nil
}

// RateLimitsFor returns the limits with per-model environment overrides for key applied,
// e.g. MAX_RPM_MODEL_GPT_OSS_20B=8 or MIN_INTERVAL_MODEL_GPT_OSS_20B=4s.
//
// OPENROUTER_RPM_MODEL_<model> and OPENROUTER_RPM_PROVIDER_<prefix> are read too, with the
// model name's case kept and other characters turned into "_"; the prefix is the part
// before the first "_". Their values are requests per minute and may be fractional.
// Precedence: MAX_RPM_MODEL_*, OPENROUTER_RPM_MODEL_*, OPENROUTER_RPM_PROVIDER_*.
func (c *Config) RateLimitsFor(key ratelimit.Key) (ratelimit.Config, error) {
	out := c.RateLimits
	suffix := envSuffix(key.Model)
	rpmEnv, intervalEnv := "MAX_RPM_MODEL_"+suffix, "MIN_INTERVAL_MODEL_"+suffix
	legacy := legacySuffix(key.Model)
	legacyEnvs := []string{
		"OPENROUTER_RPM_MODEL_" + legacy,
		"OPENROUTER_RPM_PROVIDER_" + strings.SplitN(legacy, "_", 2)[0],
	}

	limit := out.LimitFor(key)
	p := &parser{}
	found := false
	for _, env := range legacyEnvs {
		if isSet(env) {
			limit = p.rpm(env, limit)
			found = true
			break
		}
	}
	if isSet(rpmEnv) {
		limit.MaxRequests = p.int(rpmEnv, limit.MaxRequests)
		found = true
	}
	if isSet(intervalEnv) {
		limit.MinInterval = p.duration(intervalEnv, limit.MinInterval)
		found = true
	}
	if !found {
		return out, nil
	}
	if err := p.err(); err != nil {
		return ratelimit.Config{}, err
	}

	out.Models = make(map[ratelimit.Key]ratelimit.Limit, len(c.RateLimits.Models)+1)
	for k, v := range c.RateLimits.Models {
		out.Models[k] = v
	}
	out.Models[key] = limit
	return out, nil
}

func isSet(key string) bool {
	v, ok := os.LookupEnv(key)
	return ok && v != ""
}

func legacySuffix(s string) string {
	return strings.Map(func(r rune) rune {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			return r
		}
		return '_'
	}, s)
}

func envSuffix(s string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z':
			return r - 'a' + 'A'
		case r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		default:
			return '_'
		}
	}, s)
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

// parser reads typed env values and collects every invalid one.
type parser struct {
	errs []error
}

func (p *parser) int(key string, fallback int) int {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		p.errs = append(p.errs, fmt.Errorf("invalid %s: %q", key, v))
		return fallback
	}
	return n
}

func (p *parser) float(key string, fallback float64) float64 {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		p.errs = append(p.errs, fmt.Errorf("invalid %s: %w", key, err))
		return fallback
	}
	return f
}

// rpm reads a requests-per-minute value into limit. Below one request a minute the
// window allows a single call and the spacing moves to MinInterval; 0 means unlimited.
func (p *parser) rpm(key string, limit ratelimit.Limit) ratelimit.Limit {
	v := os.Getenv(key)
	f, err := strconv.ParseFloat(v, 64)
	if err != nil || f < 0 {
		p.errs = append(p.errs, fmt.Errorf("invalid %s: %q", key, v))
		return limit
	}
	switch {
	case f == 0:
		limit.MaxRequests = 0
	case f < 1:
		limit.MaxRequests = 1
		limit.MinInterval = max(limit.MinInterval, time.Duration(float64(time.Minute)/f))
	default:
		limit.MaxRequests = int(f)
	}
	return limit
}

// duration accepts Go durations ("1m30s") or bare seconds ("20", "0.5").
func (p *parser) duration(key string, fallback time.Duration) time.Duration {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return fallback
	}
	d, err := parseDuration(v)
	if err != nil {
		p.errs = append(p.errs, fmt.Errorf("invalid %s: %w", key, err))
		return fallback
	}
	return d
}

func (p *parser) err() error {
	return errors.Join(p.errs...)
}

func parseDuration(v string) (time.Duration, error) {
	if secs, err := strconv.ParseFloat(v, 64); err == nil {
		if secs < 0 {
			return 0, fmt.Errorf("negative duration %q", v)
		}
		return time.Duration(secs * float64(time.Second)), nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, err
	}
	if d < 0 {
		return 0, fmt.Errorf("negative duration %q", v)
	}
	return d, nil
}
