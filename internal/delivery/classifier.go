package delivery

import (
	"fmt"
	"net/http"
	"time"
)

const (
	DefaultMaxAttempts = 3
	DefaultBaseDelay   = 3 * time.Second
	DefaultMaxDelay    = 24 * time.Hour
)

// OutcomeKind is the verdict for one provider response.
type OutcomeKind int

const (
	OutcomeSuccess OutcomeKind = iota
	OutcomeRetry
	OutcomeTerminal
)

func (k OutcomeKind) String() string {
	switch k {
	case OutcomeSuccess:
		return "success"
	case OutcomeRetry:
		return "retry"
	case OutcomeTerminal:
		return "terminal"
	default:
		return "unknown"
	}
}

// Outcome is the classified result of an attempt. Delay is set for retries,
// Reason for retries and terminal failures.
type Outcome struct {
	Kind   OutcomeKind
	Delay  time.Duration
	Reason string
}

// Policy holds the retry parameters shared by the classifier and the machine.
type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	// UnknownAsSuccess treats status codes outside the known table as delivered.
	UnknownAsSuccess bool
}

// DefaultPolicy returns the stock retry policy.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts:      DefaultMaxAttempts,
		BaseDelay:        DefaultBaseDelay,
		MaxDelay:         DefaultMaxDelay,
		UnknownAsSuccess: true,
	}
}

func (p Policy) normalized() Policy {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = DefaultMaxAttempts
	}
	if p.BaseDelay <= 0 {
		p.BaseDelay = DefaultBaseDelay
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = DefaultMaxDelay
	}
	return p
}

// Classify maps a provider status code to an outcome. A code of 0 means the
// call never produced a response. attempt is the attempt number that was just
// made, starting at 1.
func (p Policy) Classify(code int, retryAfter *int, attempt int) Outcome {
	p = p.normalized()
	switch {
	case code == 0:
		return Outcome{Kind: OutcomeRetry, Delay: p.Backoff(attempt), Reason: "Retrying after network failure"}
	case code == http.StatusOK, code == http.StatusCreated, code == http.StatusAccepted, code == http.StatusNoContent:
		return Outcome{Kind: OutcomeSuccess}
	case code == http.StatusTooManyRequests:
		delay := p.Backoff(attempt)
		if retryAfter != nil && *retryAfter >= 0 {
			delay = time.Duration(*retryAfter) * time.Second
		}
		return Outcome{Kind: OutcomeRetry, Delay: delay, Reason: fmt.Sprintf("Retrying after status code %d", code)}
	case code == http.StatusInternalServerError, code == http.StatusBadGateway,
		code == http.StatusServiceUnavailable, code == http.StatusGatewayTimeout:
		return Outcome{Kind: OutcomeRetry, Delay: p.Backoff(attempt), Reason: fmt.Sprintf("Retrying after status code %d", code)}
	case code >= 400 && code < 500:
		return Outcome{Kind: OutcomeTerminal, Reason: fmt.Sprintf("Failed with status code %d", code)}
	case p.UnknownAsSuccess:
		return Outcome{Kind: OutcomeSuccess}
	default:
		return Outcome{Kind: OutcomeTerminal, Reason: fmt.Sprintf("Unexpected status code %d", code)}
	}
}

// Backoff is BaseDelay * 2^attempt, capped at MaxDelay.
func (p Policy) Backoff(attempt int) time.Duration {
	p = p.normalized()
	if attempt < 0 {
		attempt = 0
	}
	delay := p.BaseDelay
	for i := 0; i < attempt; i++ {
		delay *= 2
		if delay >= p.MaxDelay {
			return p.MaxDelay
		}
	}
	return delay
}

// ExhaustedReason is recorded when a message runs out of attempts.
func (p Policy) ExhaustedReason() string {
	return fmt.Sprintf("Failed after %d attempts", p.normalized().MaxAttempts)
}
