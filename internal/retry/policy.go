package retry

import (
	"errors"
	"math"
	"time"
)

// Policy bounds one logical question. It is loaded once and never changes during a run.
type Policy struct {
	MaxAttempts int
	BaseBackoff time.Duration
	Multiplier  float64
	MaxBackoff  time.Duration

	// CooldownFloor and CooldownCeiling clamp the cooldown imposed on a key
	// after a rate-limit rejection.
	CooldownFloor   time.Duration
	CooldownCeiling time.Duration
}

func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts:     5,
		BaseBackoff:     2 * time.Second,
		Multiplier:      2,
		MaxBackoff:      60 * time.Second,
		CooldownFloor:   5 * time.Second,
		CooldownCeiling: 120 * time.Second,
	}
}

func (p Policy) Validate() error {
	var errs []error
	if p.MaxAttempts < 1 {
		errs = append(errs, errors.New("max attempts must be at least 1"))
	}
	if p.BaseBackoff < 0 {
		errs = append(errs, errors.New("base backoff must not be negative"))
	}
	if p.Multiplier < 1 {
		errs = append(errs, errors.New("backoff multiplier must be at least 1"))
	}
	if p.CooldownCeiling > 0 && p.CooldownCeiling < p.CooldownFloor {
		errs = append(errs, errors.New("cooldown ceiling is below the floor"))
	}
	return errors.Join(errs...)
}

// Backoff is the sleep after failed attempt n (1-based): BaseBackoff * Multiplier^(n-1),
// capped at MaxBackoff when set.
func (p Policy) Backoff(n int) time.Duration {
	if n < 1 || p.BaseBackoff <= 0 {
		return 0
	}
	d := float64(p.BaseBackoff) * math.Pow(p.Multiplier, float64(n-1))
	if p.MaxBackoff > 0 && d > float64(p.MaxBackoff) {
		return p.MaxBackoff
	}
	if d > math.MaxInt64 {
		return time.Duration(math.MaxInt64)
	}
	return time.Duration(d)
}

// Cooldown turns a provider's suggested wait into the cooldown applied to the key.
func (p Policy) Cooldown(suggested time.Duration) time.Duration {
	d := max(suggested, p.CooldownFloor)
	if p.CooldownCeiling > 0 {
		d = min(d, p.CooldownCeiling)
	}
	return d
}
