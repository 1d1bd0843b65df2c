package provider

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"
)

type Status int

const (
	StatusSuccess Status = iota
	StatusRetryable
	StatusTerminal
)

func (s Status) String() string {
	switch s {
	case StatusSuccess:
		return "success"
	case StatusRetryable:
		return "retryable"
	case StatusTerminal:
		return "terminal"
	default:
		return fmt.Sprintf("unknown(%d)", int(s))
	}
}

// Reason names a failure class. Success outcomes carry an empty reason.
type Reason string

const (
	ReasonTransport   Reason = "transport_error"
	ReasonMalformed   Reason = "malformed_response"
	ReasonRateLimited Reason = "rate_limited"
	ReasonAuthOrQuota Reason = "auth_or_quota"
	ReasonCircuitOpen Reason = "circuit_open"
	ReasonCancelled   Reason = "cancelled"
	ReasonBadRequest  Reason = "invalid_request"
)

func HTTPErrorReason(code int) Reason {
	return Reason(fmt.Sprintf("http_error_%d", code))
}

// Outcome is the classified result of a single Generate call.
type Outcome struct {
	Status        Status
	Text          string
	Reason        Reason
	SuggestedWait time.Duration
	StatusCode    int
	Err           error
}

func Success(text string) Outcome {
	return Outcome{Status: StatusSuccess, Text: text, StatusCode: http.StatusOK}
}

func Retryable(reason Reason, wait time.Duration, err error) Outcome {
	return Outcome{Status: StatusRetryable, Reason: reason, SuggestedWait: wait, Err: err}
}

func Terminal(reason Reason, err error) Outcome {
	return Outcome{Status: StatusTerminal, Reason: reason, Err: err}
}

func (o Outcome) OK() bool {
	return o.Status == StatusSuccess
}

func (o Outcome) String() string {
	if o.OK() {
		return "success"
	}
	if o.Err != nil {
		return fmt.Sprintf("%s %s: %v", o.Status, o.Reason, o.Err)
	}
	return fmt.Sprintf("%s %s", o.Status, o.Reason)
}

// ClassifyTransport maps a failed round trip to a retryable outcome.
func ClassifyTransport(err error) Outcome {
	return Retryable(ReasonTransport, 0, err)
}

// Malformed reports a 2xx response without a usable answer.
func Malformed(format string, args ...any) Outcome {
	out := Retryable(ReasonMalformed, 0, fmt.Errorf(format, args...))
	out.StatusCode = http.StatusOK
	return out
}

// ClassifyStatus maps a non-2xx response. hint is a provider-specific retry hint
// (usually from the body); headers are consulted next and floor is the last resort.
func ClassifyStatus(code int, header http.Header, hint, floor time.Duration, body []byte, now time.Time) Outcome {
	err := fmt.Errorf("status %d: %s", code, truncate(body, 512))
	var out Outcome
	switch code {
	case http.StatusTooManyRequests:
		wait := hint
		if wait <= 0 {
			wait = ParseRetryAfter(header, now)
		}
		if wait <= 0 {
			wait = floor
		}
		out = Retryable(ReasonRateLimited, wait, err)
	case http.StatusUnauthorized, http.StatusPaymentRequired, http.StatusForbidden, http.StatusNotFound:
		out = Terminal(ReasonAuthOrQuota, err)
	default:
		out = Retryable(HTTPErrorReason(code), 0, err)
	}
	out.StatusCode = code
	return out
}

// ParseRetryAfter reads the rate-limit headers the supported providers emit.
// It returns 0 when none is present or parseable.
func ParseRetryAfter(header http.Header, now time.Time) time.Duration {
	if header == nil {
		return 0
	}
	if v := strings.TrimSpace(header.Get("Retry-After-Ms")); v != "" {
		if ms, err := strconv.ParseFloat(v, 64); err == nil && ms > 0 {
			return time.Duration(ms * float64(time.Millisecond))
		}
	}
	if v := strings.TrimSpace(header.Get("Retry-After")); v != "" {
		if secs, err := strconv.ParseFloat(v, 64); err == nil {
			if secs > 0 {
				return time.Duration(secs * float64(time.Second))
			}
		} else if at, err := http.ParseTime(v); err == nil {
			if d := at.Sub(now); d > 0 {
				return d
			}
		}
	}
	for _, name := range []string{"X-Ratelimit-Reset-Requests", "X-Ratelimit-Reset-Tokens"} {
		if v := strings.TrimSpace(header.Get(name)); v != "" {
			if d, err := time.ParseDuration(v); err == nil && d > 0 {
				return d
			}
		}
	}
	if v := strings.TrimSpace(header.Get("X-Ratelimit-Reset")); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			var at time.Time
			switch {
			case n > 1e12:
				at = time.UnixMilli(n)
			case n > 1e9:
				at = time.Unix(n, 0)
			default:
				return time.Duration(n) * time.Second
			}
			if d := at.Sub(now); d > 0 {
				return d
			}
		}
	}
	return 0
}

func truncate(b []byte, n int) string {
	s := strings.TrimSpace(string(b))
	if len(s) > n {
		return s[:n] + "..."
	}
	return s
}
