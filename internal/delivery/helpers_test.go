package delivery

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/wolfman30/messaging-service/internal/conversation"
	"github.com/wolfman30/messaging-service/internal/messaging"
	"github.com/wolfman30/messaging-service/pkg/logging"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Now().UTC()}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type scriptedGateway struct {
	mu    sync.Mutex
	steps []func(ctx context.Context) (messaging.SendResult, error)
	calls int
}

func respond(code int) func(context.Context) (messaging.SendResult, error) {
	return func(context.Context) (messaging.SendResult, error) {
		return messaging.SendResult{StatusCode: code}, nil
	}
}

func respondRetryAfter(code, secs int) func(context.Context) (messaging.SendResult, error) {
	return func(context.Context) (messaging.SendResult, error) {
		return messaging.SendResult{StatusCode: code, RetryAfter: &secs}, nil
	}
}

func (g *scriptedGateway) Deliver(ctx context.Context, _ *messaging.Message) (messaging.SendResult, error) {
	g.mu.Lock()
	idx := g.calls
	g.calls++
	var step func(context.Context) (messaging.SendResult, error)
	if idx < len(g.steps) {
		step = g.steps[idx]
	} else if len(g.steps) > 0 {
		step = g.steps[len(g.steps)-1]
	}
	g.mu.Unlock()
	if step == nil {
		return messaging.SendResult{StatusCode: 200}, nil
	}
	return step(ctx)
}

func (g *scriptedGateway) Calls() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.calls
}

type scheduledRetry struct {
	id    uuid.UUID
	delay time.Duration
}

type recordingScheduler struct {
	mu      sync.Mutex
	retries []scheduledRetry
	err     error
}

func (r *recordingScheduler) ScheduleRetry(_ context.Context, id uuid.UUID, delay time.Duration) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.retries = append(r.retries, scheduledRetry{id: id, delay: delay})
	return r.err
}

func (r *recordingScheduler) Delays() []time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]time.Duration, 0, len(r.retries))
	for _, s := range r.retries {
		out = append(out, s.delay)
	}
	return out
}

func seedMessage(t *testing.T, repo messaging.Repository, channel messaging.Channel, outbound bool) uuid.UUID {
	t.Helper()
	id := uuid.New()
	from, to := "+15550001111", "+15550002222"
	if channel == messaging.ChannelEmail {
		from, to = "sender@example.com", "contact@example.com"
	}
	msg := &messaging.Message{
		ID:             id,
		ConversationID: 1,
		From:           conversation.Participant{ID: 1, Address: from},
		To:             conversation.Participant{ID: 2, Address: to},
		Body:           "hello",
		Timestamp:      time.Now().UTC(),
		Channel:        channel,
		Direction:      messaging.Inbound{},
	}
	if outbound {
		msg.Direction = messaging.Outbound{Status: messaging.NewStatus(id)}
	}
	require.NoError(t, repo.CreateMessage(context.Background(), msg))
	return id
}

type machineFixture struct {
	repo    *messaging.MemoryStore
	gateway *scriptedGateway
	retries *recordingScheduler
	clock   *fakeClock
	machine *Machine
}

func newMachineFixture(t *testing.T, steps ...func(context.Context) (messaging.SendResult, error)) *machineFixture {
	t.Helper()
	f := &machineFixture{
		repo:    messaging.NewMemoryStore(),
		gateway: &scriptedGateway{steps: steps},
		retries: &recordingScheduler{},
		clock:   newFakeClock(),
	}
	gateways := NewGateways().Register(messaging.ChannelSMS, f.gateway)
	f.machine = NewMachine(f.repo, gateways, DefaultPolicy(), logging.Discard(),
		WithRetryScheduler(f.retries),
		WithClock(f.clock.Now),
		WithProviderTimeout(200*time.Millisecond),
	)
	return f
}

// runDue advances the clock to the next due time and attempts again.
func (f *machineFixture) runDue(t *testing.T, id uuid.UUID) Result {
	t.Helper()
	st, err := f.repo.GetStatus(context.Background(), id)
	require.NoError(t, err)
	if st.NextAttemptAt != nil {
		if wait := st.NextAttemptAt.Sub(f.clock.Now()); wait > 0 {
			f.clock.Advance(wait)
		}
	}
	res, err := f.machine.Attempt(context.Background(), id)
	require.NoError(t, err)
	return res
}
