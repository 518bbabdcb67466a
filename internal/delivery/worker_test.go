package delivery

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wolfman30/messaging-service/internal/messaging"
	"github.com/wolfman30/messaging-service/pkg/logging"
)

func TestWorker_RetriesUntilDelivered(t *testing.T) {
	repo := messaging.NewMemoryStore()
	gw := &scriptedGateway{steps: []func(context.Context) (messaging.SendResult, error){respond(503), respond(502), respond(200)}}
	q := NewMemoryQueue(16)
	defer q.Close()
	publisher := NewPublisher(q, nil, logging.Discard())
	policy := DefaultPolicy()
	policy.BaseDelay = 5 * time.Millisecond
	machine := NewMachine(repo, NewGateways().Register(messaging.ChannelSMS, gw), policy, logging.Discard(),
		WithRetryScheduler(publisher))
	scheduler := NewScheduler(machine, publisher, logging.Discard())

	ctx, cancel := context.WithCancel(context.Background())
	worker := NewWorker(machine, q, publisher, logging.Discard(), WithWorkerCount(2), WithReceiveWaitSeconds(1))
	worker.Start(ctx)
	defer func() {
		cancel()
		worker.Wait()
	}()

	id := seedMessage(t, repo, messaging.ChannelSMS, true)
	require.NoError(t, scheduler.ScheduleFirstAttempt(context.Background(), id))

	require.Eventually(t, func() bool {
		st, err := repo.GetStatus(context.Background(), id)
		return err == nil && st.State == messaging.StateDelivered
	}, 3*time.Second, 10*time.Millisecond)

	st, err := repo.GetStatus(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, 3, st.Attempts)
	assert.Equal(t, 3, gw.Calls())
}

func TestWorker_RedefersEarlyTask(t *testing.T) {
	q := NewMemoryQueue(4)
	defer q.Close()
	f := newMachineFixture(t)
	publisher := NewPublisher(q, nil, logging.Discard())
	worker := NewWorker(f.machine, q, publisher, logging.Discard())

	_, body, err := encodeTask(attemptTask{MessageID: uuid.New(), NotBefore: time.Now().Add(time.Hour)})
	require.NoError(t, err)
	worker.handleMessage(context.Background(), queueMessage{ID: "1", Body: body})

	assert.Equal(t, 1, q.Pending())
	assert.Zero(t, f.gateway.Calls())
}

func TestWorker_DropsBadTasks(t *testing.T) {
	q := NewMemoryQueue(4)
	f := newMachineFixture(t)
	worker := NewWorker(f.machine, q, nil, logging.Discard())

	worker.handleMessage(context.Background(), queueMessage{ID: "1", Body: "garbage"})

	_, body, err := encodeTask(attemptTask{MessageID: uuid.New(), NotBefore: time.Now()})
	require.NoError(t, err)
	worker.handleMessage(context.Background(), queueMessage{ID: "2", Body: body})
	assert.Zero(t, f.gateway.Calls())
}

type panickingAttempter struct{}

func (panickingAttempter) Attempt(context.Context, uuid.UUID) (Result, error) {
	panic("boom")
}

func TestWorker_RecoversFromAttemptPanic(t *testing.T) {
	q := NewMemoryQueue(4)
	worker := NewWorker(panickingAttempter{}, q, nil, logging.Discard())
	_, body, err := encodeTask(attemptTask{MessageID: uuid.New(), NotBefore: time.Now()})
	require.NoError(t, err)

	assert.NotPanics(t, func() {
		worker.handleMessage(context.Background(), queueMessage{ID: "1", Body: body})
	})
}

func TestWorkerOptions(t *testing.T) {
	q := NewMemoryQueue(1)
	w := NewWorker(panickingAttempter{}, q, nil, nil,
		WithWorkerCount(4), WithReceiveWaitSeconds(60), WithReceiveBatchSize(50))
	assert.Equal(t, 4, w.cfg.workers)
	assert.Equal(t, maxWaitSeconds, w.cfg.receiveWaitSecs)
	assert.Equal(t, maxReceiveBatchSize, w.cfg.receiveBatchSize)
}

func TestWorker_AttemptSurvivesShutdown(t *testing.T) {
	f := newMachineFixture(t, func(ctx context.Context) (messaging.SendResult, error) {
		if err := ctx.Err(); err != nil {
			return messaging.SendResult{}, err
		}
		return messaging.SendResult{StatusCode: 200}, nil
	})
	q := NewMemoryQueue(4)
	defer q.Close()
	worker := NewWorker(f.machine, q, nil, logging.Discard())

	id := seedMessage(t, f.repo, messaging.ChannelSMS, true)
	_, body, err := encodeTask(attemptTask{MessageID: id, NotBefore: time.Now()})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	worker.handleMessage(ctx, queueMessage{ID: "1", Body: body})

	assert.Equal(t, 1, f.gateway.Calls())
	st, err := f.repo.GetStatus(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, 1, st.Attempts)
	assert.Equal(t, messaging.StateDelivered, st.State)
}
