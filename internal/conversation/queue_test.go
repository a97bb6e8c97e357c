package conversation

import (
	"context"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryQueue_DropsDuplicateWithinWindow(t *testing.T) {
	q := NewMemoryQueue(4)
	now := time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)
	q.now = func() time.Time { return now }
	ctx := context.Background()

	require.NoError(t, q.Send(ctx, queuedJob{Body: "a", DedupeKey: "wamid-1"}))
	require.NoError(t, q.Send(ctx, queuedJob{Body: "b", DedupeKey: "wamid-1"}))
	now = now.Add(dedupeWindow)
	require.NoError(t, q.Send(ctx, queuedJob{Body: "c", DedupeKey: "wamid-1"}))
	require.NoError(t, q.Send(ctx, queuedJob{Body: "d"}))

	msgs, err := q.Receive(ctx, 10, 1)
	require.NoError(t, err)
	var bodies []string
	for _, m := range msgs {
		bodies = append(bodies, m.Body)
		assert.Equal(t, 1, m.ReceiveCount)
	}
	assert.Equal(t, []string{"a", "c", "d"}, bodies)
}

func TestMemoryQueue_ReceiveTimesOut(t *testing.T) {
	q := NewMemoryQueue(1)
	msgs, err := q.Receive(context.Background(), 1, 1)
	require.NoError(t, err)
	assert.Empty(t, msgs)
}

func TestMemoryQueue_ReceiveHonoursContext(t *testing.T) {
	q := NewMemoryQueue(1)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := q.Receive(ctx, 1, 0)
	assert.ErrorIs(t, err, context.Canceled)
}

type fakeSQS struct {
	sent     []*sqs.SendMessageInput
	received *sqs.ReceiveMessageInput
	deleted  []string
	messages []types.Message
}

func (f *fakeSQS) SendMessage(ctx context.Context, in *sqs.SendMessageInput, _ ...func(*sqs.Options)) (*sqs.SendMessageOutput, error) {
	f.sent = append(f.sent, in)
	return &sqs.SendMessageOutput{MessageId: aws.String("m-1")}, nil
}

func (f *fakeSQS) ReceiveMessage(ctx context.Context, in *sqs.ReceiveMessageInput, _ ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error) {
	f.received = in
	return &sqs.ReceiveMessageOutput{Messages: f.messages}, nil
}

func (f *fakeSQS) DeleteMessage(ctx context.Context, in *sqs.DeleteMessageInput, _ ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error) {
	f.deleted = append(f.deleted, aws.ToString(in.ReceiptHandle))
	return &sqs.DeleteMessageOutput{}, nil
}

func TestSQSQueue_FIFOGroupsByPhone(t *testing.T) {
	api := &fakeSQS{}
	q := NewSQSQueue(api, "https://sqs.eu-west-1.amazonaws.com/123/inbound.fifo")

	_, job, err := newInboundJob("", InboundMessage{MessageID: "wamid-9", FromPhone: "612 345 678", Text: "hola"})
	require.NoError(t, err)
	require.NoError(t, q.Send(context.Background(), job))

	require.Len(t, api.sent, 1)
	assert.Equal(t, "34612345678", aws.ToString(api.sent[0].MessageGroupId))
	assert.Equal(t, "wamid-9", aws.ToString(api.sent[0].MessageDeduplicationId))
}

func TestSQSQueue_StandardQueueOmitsFIFOFields(t *testing.T) {
	api := &fakeSQS{}
	q := NewSQSQueue(api, "https://sqs.eu-west-1.amazonaws.com/123/inbound")

	require.NoError(t, q.Send(context.Background(), queuedJob{Body: "{}", GroupKey: "34612345678", DedupeKey: "x"}))
	require.Len(t, api.sent, 1)
	assert.Nil(t, api.sent[0].MessageGroupId)
	assert.Nil(t, api.sent[0].MessageDeduplicationId)
}

func TestSQSQueue_ReceiveReadsReceiveCount(t *testing.T) {
	api := &fakeSQS{messages: []types.Message{{
		MessageId:     aws.String("m-1"),
		Body:          aws.String("{}"),
		ReceiptHandle: aws.String("rh-1"),
		Attributes: map[string]string{
			string(types.MessageSystemAttributeNameApproximateReceiveCount): "3",
		},
	}}}
	q := NewSQSQueue(api, "https://sqs.eu-west-1.amazonaws.com/123/inbound")

	msgs, err := q.Receive(context.Background(), 5, 10)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, 3, msgs[0].ReceiveCount)
	assert.Equal(t, "rh-1", msgs[0].ReceiptHandle)
	assert.Equal(t, int32(5), api.received.MaxNumberOfMessages)

	require.NoError(t, q.Delete(context.Background(), "rh-1"))
	require.NoError(t, q.Delete(context.Background(), ""))
	assert.Equal(t, []string{"rh-1"}, api.deleted)
}
