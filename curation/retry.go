package curation

import (
	"fmt"
	"time"
)

// BackoffKind selects the delay progression between attempts.
type BackoffKind string

const (
	BackoffNone        BackoffKind = "none"
	BackoffLinear      BackoffKind = "linear"
	BackoffExponential BackoffKind = "exponential"
)

// RetryPolicy is retry behavior as data: attempt bound, base delay, and
// backoff progression. NextDelay is a pure function of the attempt number,
// so scheduling stays testable without real time passing.
type RetryPolicy struct {
	MaxAttempts int           `json:"max_attempts" yaml:"max_attempts"`
	BaseDelay   time.Duration `json:"base_delay" yaml:"base_delay"`
	Backoff     BackoffKind   `json:"backoff" yaml:"backoff"`
}

// Validate rejects non-positive attempt counts and negative delays.
func (p RetryPolicy) Validate() error {
	if p.MaxAttempts <= 0 {
		return &ConfigurationError{Reason: fmt.Sprintf("retry max attempts %d must be positive", p.MaxAttempts)}
	}
	if p.BaseDelay < 0 {
		return &ConfigurationError{Reason: fmt.Sprintf("retry base delay %s is negative", p.BaseDelay)}
	}
	switch p.Backoff {
	case BackoffNone, BackoffLinear, BackoffExponential:
		return nil
	default:
		return &ConfigurationError{Reason: fmt.Sprintf("unknown backoff kind %q", p.Backoff)}
	}
}

// NextDelay returns the delay scheduled after the given completed attempt
// (1-based). Exponential doubles per attempt: base, 2*base, 4*base.
func (p RetryPolicy) NextDelay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	switch p.Backoff {
	case BackoffLinear:
		return p.BaseDelay * time.Duration(attempt)
	case BackoffExponential:
		return p.BaseDelay << uint(attempt-1)
	default:
		return p.BaseDelay
	}
}

// RetryPolicies maps error kinds to policies.
type RetryPolicies map[ErrorKind]RetryPolicy

// DefaultRetryPolicies retries infrastructure failures three times with
// exponential backoff from one second. Business kinds carry no policy and
// are terminal on first occurrence.
func DefaultRetryPolicies() RetryPolicies {
	infra := RetryPolicy{MaxAttempts: 3, BaseDelay: time.Second, Backoff: BackoffExponential}
	return RetryPolicies{
		ErrKindCodec:             infra,
		ErrKindTimeout:           infra,
		ErrKindExtraction:        infra,
		ErrKindResourceExhausted: infra,
	}
}

// Validate checks every policy in the set.
func (r RetryPolicies) Validate() error {
	for kind, p := range r {
		if !kind.Retryable() {
			return &ConfigurationError{Reason: fmt.Sprintf("retry policy configured for non-retryable kind %q", kind)}
		}
		if err := p.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// For returns the policy for a kind, or a single-attempt policy when none
// is configured.
func (r RetryPolicies) For(kind ErrorKind) RetryPolicy {
	if p, ok := r[kind]; ok {
		return p
	}
	return RetryPolicy{MaxAttempts: 1, Backoff: BackoffNone}
}
