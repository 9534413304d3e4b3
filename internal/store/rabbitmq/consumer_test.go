package rabbitmq

import (
	"context"
	"errors"
	"fmt"
	"testing"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
)

func TestAttemptOf(t *testing.T) {
	assert.Equal(t, 0, AttemptOf(nil))
	assert.Equal(t, 2, AttemptOf(amqp.Table{attemptHeader: int32(2)}))
	assert.Equal(t, 3, AttemptOf(amqp.Table{attemptHeader: int64(3)}))
	assert.Equal(t, 0, AttemptOf(amqp.Table{attemptHeader: "x"}))
}

func TestQueueNames(t *testing.T) {
	assert.Equal(t, "docs.retry", RetryQueue("docs"))
	assert.Equal(t, "docs.dlq", DeadQueue("docs"))
}

type ackRecorder struct {
	acks, nacks int
	requeue     bool
}

func (a *ackRecorder) Ack(uint64, bool) error { a.acks++; return nil }

func (a *ackRecorder) Nack(_ uint64, _ bool, requeue bool) error {
	a.nacks++
	a.requeue = requeue
	return nil
}

func (a *ackRecorder) Reject(_ uint64, requeue bool) error { return a.Nack(0, false, requeue) }

func TestConsumerHandleRouting(t *testing.T) {
	failing := errors.New("disk busy")
	cases := []struct {
		name        string
		attempt     int32
		handlerErr  error
		retryErr    error
		wantAcks    int
		wantNacks   int
		wantRetries []int
	}{
		{name: "success", attempt: 0, wantAcks: 1},
		{name: "first failure retried", attempt: 0, handlerErr: failing, wantAcks: 1, wantRetries: []int{1}},
		{name: "second failure retried", attempt: 1, handlerErr: failing, wantAcks: 1, wantRetries: []int{2}},
		{name: "last attempt dead-lettered", attempt: 2, handlerErr: failing, wantNacks: 1},
		{name: "permanent dead-lettered", attempt: 0, handlerErr: fmt.Errorf("%w: binary", ErrPermanent), wantNacks: 1},
		{name: "retry publish failure dead-lettered", attempt: 0, handlerErr: failing, retryErr: errors.New("channel closed"),
			wantNacks: 1, wantRetries: []int{1}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			log, _ := test.NewNullLogger()
			var retries []int
			c := &Consumer{
				queue:       "docs",
				log:         log,
				MaxAttempts: 3,
				retry: func(_ context.Context, id string, attempt int) error {
					assert.Equal(t, "doc-1", id)
					retries = append(retries, attempt)
					return tc.retryErr
				},
			}

			ack := &ackRecorder{}
			d := amqp.Delivery{
				Acknowledger: ack,
				Headers:      amqp.Table{attemptHeader: tc.attempt},
				Body:         []byte(`{"document_id":"doc-1"}`),
			}
			c.handle(context.Background(), 0, d, func(context.Context, string) error { return tc.handlerErr })

			assert.Equal(t, tc.wantAcks, ack.acks)
			assert.Equal(t, tc.wantNacks, ack.nacks)
			assert.False(t, ack.requeue)
			assert.Equal(t, tc.wantRetries, retries)
		})
	}
}

func TestConsumerHandleBadMessage(t *testing.T) {
	log, _ := test.NewNullLogger()
	c := &Consumer{queue: "docs", log: log, MaxAttempts: 3}
	ack := &ackRecorder{}
	called := false
	c.handle(context.Background(), 0, amqp.Delivery{Acknowledger: ack, Body: []byte("{")},
		func(context.Context, string) error { called = true; return nil })

	assert.False(t, called)
	assert.Equal(t, 1, ack.nacks)
}
