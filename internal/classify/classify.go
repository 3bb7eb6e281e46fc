// Package classify maps transport and provider errors onto a retry
// taxonomy the run loop uses to decide whether and when to resume a
// broken model stream.
package classify

import (
	"context"
	"errors"
	"io"
	"math"
	"math/rand"
	"net"
	"strings"
	"syscall"
	"time"
)

// Kind is the error taxonomy bucket.
type Kind string

const (
	KindNetwork     Kind = "network"
	KindRateLimit   Kind = "rate_limit"
	KindStreamParse Kind = "stream_parse"
	KindAuthExpired Kind = "auth_expired"
	KindCanceled    Kind = "canceled"
	KindUnknown     Kind = "unknown"
)

// Classification is the verdict for one caught error.
type Classification struct {
	Kind      Kind
	Retryable bool
	// Backoff is the recommended wait before the next attempt. The run
	// loop scales it by attempt via ComputeBackoff.
	Backoff BackoffPolicy
}

// BackoffPolicy parameterizes exponential backoff with jitter.
type BackoffPolicy struct {
	InitialMs float64
	MaxMs     float64
	Factor    float64
	Jitter    float64
}

// Per-kind backoff recommendations. Rate limits back off harder than
// plain transport blips.
var (
	networkPolicy   = BackoffPolicy{InitialMs: 200, MaxMs: 10000, Factor: 2, Jitter: 0.2}
	rateLimitPolicy = BackoffPolicy{InitialMs: 1000, MaxMs: 60000, Factor: 2, Jitter: 0.3}
	parsePolicy     = BackoffPolicy{InitialMs: 100, MaxMs: 2000, Factor: 1.5, Jitter: 0.1}
)

// Classify maps an error to its kind and retry recommendation.
func Classify(err error) Classification {
	if err == nil {
		return Classification{Kind: KindUnknown}
	}

	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return Classification{Kind: KindCanceled}
	}

	if IsPermanent(err) {
		return Classification{Kind: KindUnknown}
	}

	var netErr net.Error
	if errors.As(err, &netErr) ||
		errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.EPIPE) {
		return Classification{Kind: KindNetwork, Retryable: true, Backoff: networkPolicy}
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "rate limit") ||
		strings.Contains(msg, "rate_limit") ||
		strings.Contains(msg, "too many requests") ||
		strings.Contains(msg, "overloaded") ||
		strings.Contains(msg, "429"):
		return Classification{Kind: KindRateLimit, Retryable: true, Backoff: rateLimitPolicy}

	case strings.Contains(msg, "token expired") ||
		strings.Contains(msg, "authentication") ||
		strings.Contains(msg, "unauthorized") ||
		strings.Contains(msg, "invalid api key") ||
		strings.Contains(msg, "401"):
		return Classification{Kind: KindAuthExpired, Retryable: false}

	case strings.Contains(msg, "unexpected eof") ||
		strings.Contains(msg, "invalid character") ||
		strings.Contains(msg, "malformed") ||
		strings.Contains(msg, "parse"):
		return Classification{Kind: KindStreamParse, Retryable: true, Backoff: parsePolicy}

	case strings.Contains(msg, "connection") ||
		strings.Contains(msg, "network") ||
		strings.Contains(msg, "refused") ||
		strings.Contains(msg, "unreachable") ||
		strings.Contains(msg, "timeout") ||
		strings.Contains(msg, "502") ||
		strings.Contains(msg, "503") ||
		strings.Contains(msg, "504"):
		return Classification{Kind: KindNetwork, Retryable: true, Backoff: networkPolicy}
	}

	return Classification{Kind: KindUnknown, Retryable: false}
}

// IsRetryable is a convenience wrapper around Classify.
func IsRetryable(err error) bool {
	return Classify(err).Retryable
}

// ComputeBackoff calculates the wait for a given attempt. Attempt numbers
// start at 1; base = initial * factor^(attempt-1), plus proportional
// jitter, clamped to the policy maximum.
func ComputeBackoff(policy BackoffPolicy, attempt int) time.Duration {
	return computeBackoffWithRand(policy, attempt, rand.Float64()) // #nosec G404 -- jitter does not require cryptographic randomness
}

func computeBackoffWithRand(policy BackoffPolicy, attempt int, randomValue float64) time.Duration {
	if policy.InitialMs <= 0 {
		return 0
	}
	exp := math.Max(float64(attempt-1), 0)
	base := policy.InitialMs * math.Pow(policy.Factor, exp)
	jitter := base * policy.Jitter * randomValue
	total := math.Min(policy.MaxMs, base+jitter)
	return time.Duration(math.Round(total)) * time.Millisecond
}

// PermanentError wraps an error to pin it as non-retryable regardless of
// its surface classification.
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string { return e.Err.Error() }
func (e *PermanentError) Unwrap() error { return e.Err }

// Permanent marks an error as non-retryable.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &PermanentError{Err: err}
}

// IsPermanent reports whether err was pinned via Permanent.
func IsPermanent(err error) bool {
	var p *PermanentError
	return errors.As(err, &p)
}
