package delivery

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	sqstypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wolfman30/messaging-service/pkg/logging"
)

func TestMemoryQueue_ImmediateSend(t *testing.T) {
	q := NewMemoryQueue(4)
	require.NoError(t, q.Send(context.Background(), "a", 0))
	require.NoError(t, q.Send(context.Background(), "b", 0))

	msgs, err := q.Receive(context.Background(), 5, 1)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "a", msgs[0].Body)
	assert.Equal(t, "b", msgs[1].Body)
}

func TestMemoryQueue_DelayedSend(t *testing.T) {
	q := NewMemoryQueue(4)
	defer q.Close()
	require.NoError(t, q.Send(context.Background(), "later", 50*time.Millisecond))
	assert.Equal(t, 1, q.Pending())

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err := q.Receive(ctx, 1, 0)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	msgs, err := q.Receive(context.Background(), 1, 2)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "later", msgs[0].Body)
	assert.Zero(t, q.Pending())
}

func TestMemoryQueue_ReceiveTimesOut(t *testing.T) {
	q := NewMemoryQueue(1)
	msgs, err := q.Receive(context.Background(), 1, 1)
	require.NoError(t, err)
	assert.Empty(t, msgs)
}

func TestMemoryQueue_CloseStopsTimers(t *testing.T) {
	q := NewMemoryQueue(1)
	require.NoError(t, q.Send(context.Background(), "never", time.Hour))
	q.Close()
	assert.Zero(t, q.Pending())
	assert.ErrorIs(t, q.Send(context.Background(), "x", time.Second), errQueueClosed)
	q.Close()
}

func TestSQSDelaySeconds(t *testing.T) {
	assert.Equal(t, int32(0), sqsDelaySeconds(0))
	assert.Equal(t, int32(0), sqsDelaySeconds(-time.Second))
	assert.Equal(t, int32(1), sqsDelaySeconds(100*time.Millisecond))
	assert.Equal(t, int32(6), sqsDelaySeconds(6*time.Second))
	assert.Equal(t, int32(7), sqsDelaySeconds(6500*time.Millisecond))
	assert.Equal(t, int32(900), sqsDelaySeconds(2*time.Hour))
}

type fakeSQS struct {
	sent    []*sqs.SendMessageInput
	deleted []string
	receive *sqs.ReceiveMessageOutput
	err     error
}

func (f *fakeSQS) SendMessage(_ context.Context, in *sqs.SendMessageInput, _ ...func(*sqs.Options)) (*sqs.SendMessageOutput, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.sent = append(f.sent, in)
	return &sqs.SendMessageOutput{MessageId: aws.String("m-1")}, nil
}

func (f *fakeSQS) ReceiveMessage(_ context.Context, _ *sqs.ReceiveMessageInput, _ ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.receive, nil
}

func (f *fakeSQS) DeleteMessage(_ context.Context, in *sqs.DeleteMessageInput, _ ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error) {
	f.deleted = append(f.deleted, aws.ToString(in.ReceiptHandle))
	return &sqs.DeleteMessageOutput{}, nil
}

func TestSQSQueue(t *testing.T) {
	fake := &fakeSQS{receive: &sqs.ReceiveMessageOutput{Messages: []sqstypes.Message{{
		MessageId:     aws.String("m-1"),
		Body:          aws.String("{}"),
		ReceiptHandle: aws.String("rh-1"),
	}}}}
	q := newSQSQueue(fake, "https://sqs.local/queue")

	require.NoError(t, q.Send(context.Background(), "body", 12*time.Second))
	require.Len(t, fake.sent, 1)
	assert.Equal(t, int32(12), fake.sent[0].DelaySeconds)
	assert.Equal(t, "https://sqs.local/queue", aws.ToString(fake.sent[0].QueueUrl))

	msgs, err := q.Receive(context.Background(), 10, 20)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "rh-1", msgs[0].ReceiptHandle)

	require.NoError(t, q.Delete(context.Background(), "rh-1"))
	require.NoError(t, q.Delete(context.Background(), ""))
	assert.Equal(t, []string{"rh-1"}, fake.deleted)

	fake.err = errors.New("throttled")
	assert.Error(t, q.Send(context.Background(), "body", 0))
}

func TestPublisher_ScheduleRetryEncodesTask(t *testing.T) {
	q := NewMemoryQueue(4)
	p := NewPublisher(q, nil, logging.Discard())
	id := uuid.New()

	require.NoError(t, p.EnqueueAttempt(context.Background(), id, "test"))
	msgs, err := q.Receive(context.Background(), 1, 1)
	require.NoError(t, err)
	require.Len(t, msgs, 1)

	task, err := decodeTask(msgs[0].Body)
	require.NoError(t, err)
	assert.Equal(t, id, task.MessageID)
	assert.NotEmpty(t, task.ID)
	assert.False(t, task.NotBefore.After(time.Now()))
}

func TestDecodeTask_Invalid(t *testing.T) {
	_, err := decodeTask("not json")
	assert.Error(t, err)
	_, err = decodeTask(`{"id":"x"}`)
	assert.Error(t, err)
}
