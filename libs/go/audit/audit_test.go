package audit_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/cyphera/sponsor-relay/libs/go/audit"
	"github.com/cyphera/sponsor-relay/libs/go/logger"
	"github.com/cyphera/sponsor-relay/libs/go/mocks"
)

func init() {
	logger.InitLogger("test")
}

type fakeSQS struct {
	inputs []*sqs.SendMessageInput
	err    error
}

func (f *fakeSQS) SendMessage(ctx context.Context, in *sqs.SendMessageInput, _ ...func(*sqs.Options)) (*sqs.SendMessageOutput, error) {
	f.inputs = append(f.inputs, in)
	return &sqs.SendMessageOutput{}, f.err
}

func TestSQSPublisher_Publish(t *testing.T) {
	fake := &fakeSQS{}
	p := audit.NewSQSPublisher(fake, "https://sqs.example/queue")

	event := audit.Event{
		InvocationID: "inv-1",
		Action:       "register_for",
		Actor:        "0xaaaa",
		TxHash:       "0x01",
		Outcome:      audit.OutcomeFailed,
		Category:     "broadcast_rejected",
	}
	require.NoError(t, p.Publish(context.Background(), event))
	require.Len(t, fake.inputs, 1)

	in := fake.inputs[0]
	assert.Equal(t, "https://sqs.example/queue", *in.QueueUrl)
	assert.Equal(t, "register_for", *in.MessageAttributes["Action"].StringValue)
	assert.Equal(t, "failed", *in.MessageAttributes["Outcome"].StringValue)
	assert.Equal(t, "broadcast_rejected", *in.MessageAttributes["Category"].StringValue)

	var decoded audit.Event
	require.NoError(t, json.Unmarshal([]byte(*in.MessageBody), &decoded))
	assert.Equal(t, "inv-1", decoded.InvocationID)
}

func TestSQSPublisher_OmitsEmptyCategory(t *testing.T) {
	fake := &fakeSQS{}
	p := audit.NewSQSPublisher(fake, "q")

	require.NoError(t, p.Publish(context.Background(), audit.Event{Action: "a", Outcome: audit.OutcomeSucceeded}))
	_, ok := fake.inputs[0].MessageAttributes["Category"]
	assert.False(t, ok)
}

func TestRecord_SwallowsPublishErrors(t *testing.T) {
	pub := mocks.NewMockPublisherForTest(t)
	pub.EXPECT().Publish(gomock.Any(), gomock.Any()).DoAndReturn(func(_ context.Context, e audit.Event) error {
		assert.False(t, e.OccurredAt.IsZero())
		return errors.New("queue unavailable")
	})

	audit.Record(context.Background(), pub, audit.Event{InvocationID: "inv", Outcome: audit.OutcomeSucceeded})
	audit.Record(context.Background(), nil, audit.Event{})
}

func TestLogPublisher(t *testing.T) {
	assert.NoError(t, audit.NewLogPublisher().Publish(context.Background(), audit.Event{Action: "a"}))
}
