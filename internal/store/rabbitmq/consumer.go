package rabbitmq

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/sirupsen/logrus"
)

// Handler processes one document. A returned error is retried until MaxAttempts.
type Handler func(ctx context.Context, documentID string) error

// ErrPermanent wrapped into a handler error skips retries.
var ErrPermanent = errors.New("permanent failure")

type Consumer struct {
	conn  *amqp.Connection
	ch    *amqp.Channel
	queue string
	log   logrus.FieldLogger

	// retry republishes a failed document to the retry queue.
	retry func(ctx context.Context, documentID string, attempt int) error

	Concurrency int
	MaxAttempts int
	RetryDelay  time.Duration
}

func NewConsumer(url, queue string, concurrency int, log logrus.FieldLogger) (*Consumer, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, err
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	if err := declareTopology(ch, queue); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, err
	}
	// strict concurrency control
	if err := ch.Qos(concurrency, 0, false); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, err
	}
	c := &Consumer{
		conn:        conn,
		ch:          ch,
		queue:       queue,
		log:         log,
		Concurrency: concurrency,
		MaxAttempts: 3,
		RetryDelay:  10 * time.Second,
	}
	c.retry = func(ctx context.Context, documentID string, attempt int) error {
		return publishDocument(ctx, c.ch, RetryQueue(c.queue), documentID, attempt, c.RetryDelay)
	}
	return c, nil
}

func (c *Consumer) Close() error {
	_ = c.ch.Close()
	return c.conn.Close()
}

// Run consumes until ctx is cancelled or the delivery channel closes.
func (c *Consumer) Run(ctx context.Context, h Handler) error {
	msgs, err := c.ch.Consume(c.queue, "", false, false, false, false, nil)
	if err != nil {
		return err
	}

	jobs := make(chan amqp.Delivery, c.Concurrency*2)
	var wg sync.WaitGroup
	wg.Add(c.Concurrency)
	for i := 0; i < c.Concurrency; i++ {
		go func(workerID int) {
			defer wg.Done()
			for d := range jobs {
				c.handle(ctx, workerID, d, h)
			}
		}(i)
	}

	// dispatcher
	defer func() {
		close(jobs)
		wg.Wait()
	}()
	for {
		select {
		case <-ctx.Done():
			c.log.Info("consumer shutting down")
			return nil
		case d, ok := <-msgs:
			if !ok {
				return errors.New("rabbitmq: delivery channel closed")
			}
			jobs <- d
		}
	}
}

func (c *Consumer) handle(ctx context.Context, workerID int, d amqp.Delivery, h Handler) {
	var m DocumentMessage
	if err := json.Unmarshal(d.Body, &m); err != nil || m.DocumentID == "" {
		c.log.WithField("worker", workerID).WithError(err).Warn("bad message")
		_ = d.Nack(false, false)
		return
	}

	attempt := AttemptOf(d.Headers)
	log := c.log.WithFields(logrus.Fields{"worker": workerID, "document_id": m.DocumentID, "attempt": attempt})

	start := time.Now()
	err := h(ctx, m.DocumentID)
	if err == nil {
		if err := d.Ack(false); err != nil {
			log.WithError(err).Error("ack failed")
		}
		log.WithField("cost", time.Since(start).String()).Info("document processed")
		return
	}

	log = log.WithError(err).WithField("cost", time.Since(start).String())
	if errors.Is(err, ErrPermanent) || attempt+1 >= c.MaxAttempts {
		log.Error("document failed, dead-lettering")
		_ = d.Nack(false, false)
		return
	}

	if perr := c.retry(ctx, m.DocumentID, attempt+1); perr != nil {
		log.WithField("publish_error", perr.Error()).Error("retry publish failed, dead-lettering")
		_ = d.Nack(false, false)
		return
	}
	log.Warn("document failed, scheduled retry")
	_ = d.Ack(false)
}

// AttemptOf reads the retry counter stamped on a delivery.
func AttemptOf(h amqp.Table) int {
	switch v := h[attemptHeader].(type) {
	case int32:
		return int(v)
	case int64:
		return int(v)
	case int:
		return v
	default:
		return 0
	}
}
