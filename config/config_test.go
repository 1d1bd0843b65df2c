package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vnmchuo/crypto-bench/pkg/ratelimit"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("GEMINI_API_KEY", "")
	t.Setenv("GOOGLE_API_KEY", "")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, time.Minute, cfg.RateLimits.Window)
	assert.Equal(t, 12, cfg.RateLimits.Default.MaxRequests)
	assert.Equal(t, 15, cfg.RateLimits.Providers["gemini"].MaxRequests)
	assert.Equal(t, 12, cfg.RateLimits.Providers["openrouter"].MaxRequests)

	assert.Equal(t, 5, cfg.Retry.MaxAttempts)
	assert.Equal(t, 2*time.Second, cfg.Retry.BaseBackoff)
	assert.Equal(t, 120*time.Second, cfg.Retry.CooldownCeiling)
	assert.Equal(t, 60*time.Second, cfg.HTTPTimeout)
	assert.Zero(t, cfg.BreakerThreshold, "breaker is opt-in")
	assert.Equal(t, "none", cfg.OTELExporterType)
	assert.Equal(t, "bench:results", cfg.RedisStream)
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("GEMINI_API_KEY", "")
	t.Setenv("GOOGLE_API_KEY", "google-key")
	t.Setenv("OPENROUTER_MAX_RPM", "20")
	t.Setenv("DEFAULT_MIN_INTERVAL", "1.5")
	t.Setenv("RETRY_MAX_ATTEMPTS", "3")
	t.Setenv("RETRY_BASE_BACKOFF", "500ms")
	t.Setenv("COOLDOWN_FLOOR", "10")
	t.Setenv("BREAKER_THRESHOLD", "3")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "", cfg.GeminiAPIKey, "an explicitly empty GEMINI_API_KEY wins")
	assert.Equal(t, 20, cfg.RateLimits.Providers["openrouter"].MaxRequests)
	assert.Equal(t, 1500*time.Millisecond, cfg.RateLimits.Default.MinInterval)
	assert.Equal(t, 1500*time.Millisecond, cfg.RateLimits.Providers["gemini"].MinInterval)
	assert.Equal(t, 3, cfg.Retry.MaxAttempts)
	assert.Equal(t, 500*time.Millisecond, cfg.Retry.BaseBackoff)
	assert.Equal(t, 10*time.Second, cfg.Retry.CooldownFloor)
	assert.Equal(t, uint32(3), cfg.BreakerThreshold)
}

func TestLoad_GoogleKeyFallback(t *testing.T) {
	t.Setenv("GEMINI_API_KEY", "")
	os.Unsetenv("GEMINI_API_KEY")
	t.Setenv("GOOGLE_API_KEY", "google-key")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "google-key", cfg.GeminiAPIKey)
}

func TestLoad_InvalidValues(t *testing.T) {
	t.Setenv("DEFAULT_MAX_RPM", "lots")
	t.Setenv("RETRY_MAX_BACKOFF", "forever")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid DEFAULT_MAX_RPM")
	assert.Contains(t, err.Error(), "invalid RETRY_MAX_BACKOFF")
}

func TestLoad_InvalidPolicy(t *testing.T) {
	t.Setenv("RETRY_MAX_ATTEMPTS", "0")

	_, err := Load()
	assert.ErrorContains(t, err, "invalid retry policy")
}

func TestLoad_RateLimitFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "limits.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
window: 30s
default:
  max_rpm: 6
providers:
  gemini:
    min_interval: 2s
  mistral-cloud:
    max_rpm: 3
models:
  openrouter/gpt-oss-20b:
    max_rpm: 4
    min_interval: 5
`), 0o644))
	t.Setenv("RATE_LIMITS_FILE", path)

	cfg, err := Load()
	require.NoError(t, err)

	rl := cfg.RateLimits
	assert.Equal(t, 30*time.Second, rl.Window)
	assert.Equal(t, 6, rl.Default.MaxRequests)
	assert.Equal(t, ratelimit.Limit{MaxRequests: 15, MinInterval: 2 * time.Second}, rl.Providers["gemini"])
	assert.Equal(t, ratelimit.Limit{MaxRequests: 3}, rl.Providers["mistral-cloud"])
	assert.Equal(t, ratelimit.Limit{MaxRequests: 4, MinInterval: 5 * time.Second},
		rl.LimitFor(ratelimit.Key{Provider: "openrouter", Model: "gpt-oss-20b"}))
}

func TestLoad_RateLimitFileBadModelKey(t *testing.T) {
	path := filepath.Join(t.TempDir(), "limits.yaml")
	require.NoError(t, os.WriteFile(path, []byte("models:\n  gpt-oss-20b: {max_rpm: 4}\n"), 0o644))
	t.Setenv("RATE_LIMITS_FILE", path)

	_, err := Load()
	assert.ErrorContains(t, err, "provider/model")
}

func TestAPIKeyFor(t *testing.T) {
	cfg := &Config{OpenRouterAPIKey: "or-key"}

	key, err := cfg.APIKeyFor("openrouter")
	require.NoError(t, err)
	assert.Equal(t, "or-key", key)

	key, err = cfg.APIKeyFor("echo")
	require.NoError(t, err)
	assert.Empty(t, key)

	_, err = cfg.APIKeyFor("claude")
	assert.ErrorIs(t, err, ErrMissingAPIKey)
	assert.ErrorContains(t, err, "ANTHROPIC_API_KEY")

	_, err = cfg.APIKeyFor("cohere")
	assert.Error(t, err)
}

func TestRateLimitsFor_ModelEnvOverride(t *testing.T) {
	cfg := &Config{RateLimits: ratelimit.Config{
		Default:   ratelimit.Limit{MaxRequests: 12},
		Providers: map[string]ratelimit.Limit{"openrouter": {MaxRequests: 10, MinInterval: time.Second}},
	}}
	key := ratelimit.Key{Provider: "openrouter", Model: "gpt-oss-20b"}

	got, err := cfg.RateLimitsFor(key)
	require.NoError(t, err)
	assert.Equal(t, ratelimit.Limit{MaxRequests: 10, MinInterval: time.Second}, got.LimitFor(key))

	t.Setenv("MAX_RPM_MODEL_GPT_OSS_20B", "4")
	got, err = cfg.RateLimitsFor(key)
	require.NoError(t, err)
	assert.Equal(t, ratelimit.Limit{MaxRequests: 4, MinInterval: time.Second}, got.LimitFor(key))
	assert.Nil(t, cfg.RateLimits.Models, "the loaded config is not modified")
}

func TestRateLimitsFor_OpenRouterEnvNames(t *testing.T) {
	cfg := &Config{RateLimits: ratelimit.Config{
		Default:   ratelimit.Limit{MaxRequests: 12},
		Providers: map[string]ratelimit.Limit{"openrouter": {MaxRequests: 10}},
	}}
	llama := ratelimit.Key{Provider: "openrouter", Model: "meta-llama/llama-3.3-70b-instruct:free"}
	mistral := ratelimit.Key{Provider: "openrouter", Model: "mistral-7b-instruct"}

	t.Setenv("OPENROUTER_RPM_PROVIDER_meta", "6")
	got, err := cfg.RateLimitsFor(llama)
	require.NoError(t, err)
	assert.Equal(t, 6, got.LimitFor(llama).MaxRequests)

	t.Setenv("OPENROUTER_RPM_MODEL_meta_llama_llama_3_3_70b_instruct_free", "0.5")
	got, err = cfg.RateLimitsFor(llama)
	require.NoError(t, err)
	assert.Equal(t, ratelimit.Limit{MaxRequests: 1, MinInterval: 2 * time.Minute}, got.LimitFor(llama))

	t.Setenv("MAX_RPM_MODEL_META_LLAMA_LLAMA_3_3_70B_INSTRUCT_FREE", "3")
	got, err = cfg.RateLimitsFor(llama)
	require.NoError(t, err)
	assert.Equal(t, 3, got.LimitFor(llama).MaxRequests, "MAX_RPM_MODEL_ wins")

	got, err = cfg.RateLimitsFor(mistral)
	require.NoError(t, err)
	assert.Equal(t, 10, got.LimitFor(mistral).MaxRequests)

	t.Setenv("OPENROUTER_RPM_MODEL_mistral_7b_instruct", "many")
	_, err = cfg.RateLimitsFor(mistral)
	assert.Error(t, err)
}
