package delivery

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/wolfman30/messaging-service/internal/messaging"
	"github.com/wolfman30/messaging-service/internal/observability/metrics"
	"github.com/wolfman30/messaging-service/pkg/logging"
)

const (
	defaultAttemptLease    = 2 * time.Minute
	defaultClockSkew       = time.Second
	defaultProviderTimeout = 10 * time.Second
)

// Skip explains why Attempt did not call a provider.
type Skip string

const (
	SkipNone      Skip = ""
	SkipInbound   Skip = "inbound"
	SkipTerminal  Skip = "terminal"
	SkipNotDue    Skip = "not_due"
	SkipExhausted Skip = "exhausted"
	// SkipStale means the attempt ran but another attempt claimed the message
	// before the outcome could be recorded.
	SkipStale Skip = "stale"
)

// Result describes what one Attempt did.
type Result struct {
	Status  messaging.Status
	Skip    Skip
	Outcome Outcome
	// RetryIn is the delay handed to the retry scheduler, zero if none.
	RetryIn time.Duration
}

// Attempted reports whether a provider call was made and recorded.
func (r Result) Attempted() bool {
	return r.Skip == SkipNone
}

// RetryScheduler enqueues a future attempt for a message.
type RetryScheduler interface {
	ScheduleRetry(ctx context.Context, id uuid.UUID, delay time.Duration) error
}

// Attempter runs one delivery attempt.
type Attempter interface {
	Attempt(ctx context.Context, id uuid.UUID) (Result, error)
}

// Machine advances a message's delivery status one attempt at a time.
type Machine struct {
	repo     messaging.Repository
	gateways *Gateways
	policy   Policy
	retries  RetryScheduler
	lease    time.Duration
	skew     time.Duration
	timeout  time.Duration
	now      func() time.Time
	metrics  *metrics.DeliveryMetrics
	logger   *logging.Logger
	tracer   trace.Tracer
}

// MachineOption customizes a Machine.
type MachineOption func(*Machine)

// WithRetryScheduler sets where retry tasks are sent.
func WithRetryScheduler(s RetryScheduler) MachineOption {
	return func(m *Machine) {
		m.retries = s
	}
}

// WithAttemptLease sets how long a claimed attempt blocks other triggers.
func WithAttemptLease(d time.Duration) MachineOption {
	return func(m *Machine) {
		if d > 0 {
			m.lease = d
		}
	}
}

// WithClockSkew sets how early a trigger may arrive and still run.
func WithClockSkew(d time.Duration) MachineOption {
	return func(m *Machine) {
		if d >= 0 {
			m.skew = d
		}
	}
}

// WithProviderTimeout bounds each gateway call.
func WithProviderTimeout(d time.Duration) MachineOption {
	return func(m *Machine) {
		if d > 0 {
			m.timeout = d
		}
	}
}

// WithMetrics wires delivery metrics.
func WithMetrics(dm *metrics.DeliveryMetrics) MachineOption {
	return func(m *Machine) {
		m.metrics = dm
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) MachineOption {
	return func(m *Machine) {
		if now != nil {
			m.now = now
		}
	}
}

func NewMachine(repo messaging.Repository, gateways *Gateways, policy Policy, logger *logging.Logger, opts ...MachineOption) *Machine {
	if repo == nil {
		panic("delivery: repository cannot be nil")
	}
	if gateways == nil {
		gateways = NewGateways()
	}
	if logger == nil {
		logger = logging.Default()
	}
	m := &Machine{
		repo:     repo,
		gateways: gateways,
		policy:   policy.normalized(),
		lease:    defaultAttemptLease,
		skew:     defaultClockSkew,
		timeout:  defaultProviderTimeout,
		now:      time.Now,
		logger:   logger,
		tracer:   otel.Tracer("messaging.internal.delivery.machine"),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Policy returns the machine's retry policy.
func (m *Machine) Policy() Policy {
	return m.policy
}

// Attempt runs at most one provider call for the message. Terminal, inbound
// and not-yet-due messages are left untouched. Delivery failures are recorded
// in the status; the returned error is reserved for lookup and storage problems.
func (m *Machine) Attempt(ctx context.Context, id uuid.UUID) (Result, error) {
	ctx, span := m.tracer.Start(ctx, "delivery.machine.attempt")
	defer span.End()
	span.SetAttributes(attribute.String("message.id", id.String()))

	msg, err := m.repo.GetMessage(ctx, id)
	if err != nil {
		span.RecordError(err)
		return Result{}, fmt.Errorf("delivery: load message: %w", err)
	}
	current, outbound := msg.OutboundStatus()
	if !outbound {
		return Result{Skip: SkipInbound}, nil
	}
	gw, err := m.gateways.For(msg.Channel)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return Result{Status: current}, err
	}

	claimed, skip, err := m.claim(ctx, id)
	if err != nil {
		span.RecordError(err)
		return Result{}, err
	}
	if skip != SkipNone {
		span.SetAttributes(attribute.String("delivery.skip", string(skip)))
		if skip == SkipExhausted {
			m.metrics.ObserveTerminal(string(msg.Channel), string(claimed.State))
		}
		return Result{Status: claimed, Skip: skip}, nil
	}
	attempt := claimed.Attempts
	span.SetAttributes(attribute.Int("delivery.attempt", attempt), attribute.String("message.channel", string(msg.Channel)))

	started := m.now()
	sent, sendErr := m.deliver(ctx, gw, msg)
	code := sent.StatusCode
	if sendErr != nil {
		code = 0
	}
	outcome := m.policy.Classify(code, sent.RetryAfter, attempt)
	m.metrics.ObserveAttempt(string(msg.Channel), outcome.Kind.String(), m.now().Sub(started).Seconds())

	logArgs := []any{"message_id", id, "attempt", attempt, "channel", msg.Channel, "status_code", code, "outcome", outcome.Kind.String()}
	if sendErr != nil {
		logArgs = append(logArgs, "error", sendErr)
	}
	m.logger.Info("delivery attempt finished", logArgs...)

	result, err := m.record(ctx, id, attempt, code, sendErr, outcome)
	if err != nil {
		span.RecordError(err)
		return Result{}, err
	}
	if !result.Attempted() {
		m.logger.Warn("delivery outcome discarded: message claimed by a newer attempt", "message_id", id, "attempt", attempt)
		return result, nil
	}
	if result.Status.State.Terminal() {
		m.metrics.ObserveTerminal(string(msg.Channel), string(result.Status.State))
	}

	if result.Outcome.Kind == OutcomeRetry && result.Status.State == messaging.StateAttempting {
		m.scheduleRetry(ctx, id, result.RetryIn)
	}
	return result, nil
}

// claim counts the attempt and takes the lease before the provider is called.
func (m *Machine) claim(ctx context.Context, id uuid.UUID) (messaging.Status, Skip, error) {
	var skip Skip
	st, err := m.repo.MutateStatus(ctx, id, func(st *messaging.Status) (bool, error) {
		skip = SkipNone
		now := m.now()
		switch {
		case st.State.Terminal():
			skip = SkipTerminal
			return false, nil
		case st.NextAttemptAt != nil && st.NextAttemptAt.After(now.Add(m.skew)):
			skip = SkipNotDue
			return false, nil
		case st.Attempts >= m.policy.MaxAttempts:
			skip = SkipExhausted
			m.exhaust(st)
			return true, nil
		}
		st.Attempts++
		st.State = messaging.StateAttempting
		lease := now.Add(m.lease)
		st.NextAttemptAt = &lease
		return true, nil
	})
	if err != nil {
		if errors.Is(err, messaging.ErrInboundMessage) {
			return st, SkipInbound, nil
		}
		return st, SkipNone, fmt.Errorf("delivery: claim attempt: %w", err)
	}
	return st, skip, nil
}

// record applies the outcome unless a newer claim has replaced this attempt.
func (m *Machine) record(ctx context.Context, id uuid.UUID, attempt, code int, sendErr error, outcome Outcome) (Result, error) {
	result := Result{Outcome: outcome}
	st, err := m.repo.MutateStatus(ctx, id, func(st *messaging.Status) (bool, error) {
		result.Skip = SkipNone
		result.RetryIn = 0
		if st.Attempts != attempt || st.State != messaging.StateAttempting {
			result.Skip = SkipStale
			return false, nil
		}
		if sendErr == nil {
			c := code
			st.LastStatusCode = &c
		}
		switch outcome.Kind {
		case OutcomeSuccess:
			st.State = messaging.StateDelivered
			st.Delivered = true
			st.Error = ""
			st.NextAttemptAt = nil
		case OutcomeTerminal:
			st.State = messaging.StateFailed
			st.Error = outcome.Reason
			st.NextAttemptAt = nil
		case OutcomeRetry:
			if attempt >= m.policy.MaxAttempts {
				m.exhaust(st)
				return true, nil
			}
			next := m.now().Add(outcome.Delay)
			st.NextAttemptAt = &next
			st.Error = outcome.Reason
			if sendErr != nil {
				st.Error = fmt.Sprintf("%s: %v", outcome.Reason, sendErr)
			}
			result.RetryIn = outcome.Delay
		}
		return true, nil
	})
	if err != nil {
		return Result{}, fmt.Errorf("delivery: record attempt: %w", err)
	}
	result.Status = st
	return result, nil
}

func (m *Machine) exhaust(st *messaging.Status) {
	st.State = messaging.StateExhausted
	st.Delivered = false
	st.Error = m.policy.ExhaustedReason()
	st.NextAttemptAt = nil
}

func (m *Machine) scheduleRetry(ctx context.Context, id uuid.UUID, delay time.Duration) {
	if m.retries == nil {
		m.logger.Warn("no retry scheduler configured; reconciler will pick up the message", "message_id", id)
		return
	}
	if err := m.retries.ScheduleRetry(ctx, id, delay); err != nil {
		m.logger.Error("failed to schedule retry; reconciler will pick up the message", "message_id", id, "delay", delay, "error", err)
	}
}

// deliver makes the gateway call under the provider timeout. A panicking
// gateway is reported as a network failure.
func (m *Machine) deliver(ctx context.Context, gw messaging.Gateway, msg *messaging.Message) (res messaging.SendResult, err error) {
	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()
	defer func() {
		if r := recover(); r != nil {
			res = messaging.SendResult{}
			err = fmt.Errorf("delivery: gateway panic: %v", r)
		}
	}()
	return gw.Deliver(ctx, msg)
}
