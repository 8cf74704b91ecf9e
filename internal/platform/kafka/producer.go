package kafka

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/GolangDeveloperAlmir/order-billing/internal/platform/log"
	"github.com/GolangDeveloperAlmir/order-billing/internal/platform/outbox"
	k "github.com/segmentio/kafka-go"
)

const HeaderEventType = "event-type"

type Producer struct {
	writer *k.Writer
	log    *log.Logger
}

var _ outbox.Publisher = (*Producer)(nil)

func NewProducer(brokersCSV, topic string, logger *log.Logger) *Producer {
	if logger == nil {
		logger = log.NewNop()
	}

	return &Producer{
		writer: &k.Writer{
			Addr:         k.TCP(splitBrokers(brokersCSV)...),
			Topic:        topic,
			Balancer:     &k.Hash{},
			BatchTimeout: 50 * time.Millisecond,
			RequiredAcks: k.RequireOne,
		},
		log: logger,
	}
}

func splitBrokers(csv string) []string {
	var out []string
	for _, b := range strings.Split(csv, ",") {
		if b = strings.TrimSpace(b); b != "" {
			out = append(out, b)
		}
	}

	return out
}

func (p *Producer) Close() error {
	p.log.Info("closing kafka producer")
	return p.writer.Close()
}

// Publish writes msg keyed by its aggregate id so events of one order stay ordered.
func (p *Producer) Publish(ctx context.Context, msg outbox.Message) error {
	err := p.writer.WriteMessages(ctx, toKafka(msg))
	if err != nil {
		return fmt.Errorf("kafka write %s: %w", msg.Type, err)
	}
	p.log.Debug("event published", log.Str("key", msg.Key), log.Str("event", msg.Type))

	return nil
}

func toKafka(msg outbox.Message) k.Message {
	return k.Message{
		Key:   []byte(msg.Key),
		Value: msg.Value,
		Headers: []k.Header{
			{Key: HeaderEventType, Value: []byte(msg.Type)},
		},
	}
}
