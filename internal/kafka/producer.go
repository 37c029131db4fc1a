package kafka

import (
	"context"
	"encoding/json"
	"time"

	"github.com/segmentio/kafka-go"
)

type Config struct {
	Brokers      []string
	Topic        string
	BatchTimeout time.Duration // default 50ms
	WriteTimeout time.Duration // default 5s
}

// Producer is a thin wrapper around segmentio/kafka-go Writer. Values are
// JSON-encoded; the message key carries the virtual key id so events of one
// key stay in partition order.
type Producer struct {
	w *kafka.Writer
}

func NewProducerFromConfig(c Config) *Producer {
	bt := c.BatchTimeout
	if bt <= 0 {
		bt = 50 * time.Millisecond
	}
	wt := c.WriteTimeout
	if wt <= 0 {
		wt = 5 * time.Second
	}

	w := &kafka.Writer{
		Addr:         kafka.TCP(c.Brokers...),
		Topic:        c.Topic,
		Balancer:     &kafka.Hash{},
		BatchTimeout: bt,
		WriteTimeout: wt,
		RequiredAcks: kafka.RequireOne,
	}

	return &Producer{w: w}
}

func (p *Producer) Publish(ctx context.Context, key string, value any) error {
	b, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return p.w.WriteMessages(ctx, kafka.Message{Key: []byte(key), Value: b})
}

func (p *Producer) Close() error { return p.w.Close() }
