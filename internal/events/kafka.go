package events

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"
)

// ErrProducerClosed is returned by Publish after Close.
var ErrProducerClosed = errors.New("kafka producer closed")

// ErrBufferFull is returned when the outbound buffer cannot take another message.
var ErrBufferFull = errors.New("kafka producer buffer full")

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Topics maps event types to Kafka topics.
type Topics struct {
	Stock  string
	Orders string
}

func (t Topics) forType(eventType string) string {
	if eventType == TypeOrderCommitted {
		return t.Orders
	}
	return t.Stock
}

// KafkaProducer buffers envelopes and writes them from a single goroutine so
// request handlers never wait on the broker.
type KafkaProducer struct {
	w      messageWriter
	topics Topics
	logger zerolog.Logger

	mu     sync.Mutex
	closed bool
	inbox  chan kafka.Message
	done   chan struct{}
}

// NewKafkaProducer builds a producer writing to brokers. Messages are keyed by
// correlation id so per-product and per-order ordering is preserved.
func NewKafkaProducer(brokers []string, topics Topics, buf int, logger *zerolog.Logger) *KafkaProducer {
	w := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
		BatchTimeout: 10 * time.Millisecond,
	}
	return newKafkaProducer(w, topics, buf, logger)
}

func newKafkaProducer(w messageWriter, topics Topics, buf int, logger *zerolog.Logger) *KafkaProducer {
	if buf <= 0 {
		buf = 256
	}
	l := zerolog.Nop()
	if logger != nil {
		l = logger.With().Str("component", "kafka").Logger()
	}
	return &KafkaProducer{
		w:      w,
		topics: topics,
		logger: l,
		inbox:  make(chan kafka.Message, buf),
		done:   make(chan struct{}),
	}
}

// Run drains the buffer until Close is called or ctx ends, then flushes what
// is left and closes the writer.
func (p *KafkaProducer) Run(ctx context.Context) error {
	defer close(p.done)
	for {
		select {
		case <-ctx.Done():
			p.Close()
			p.flush()
			return p.w.Close()
		case m, ok := <-p.inbox:
			if !ok {
				return p.w.Close()
			}
			p.write(context.Background(), m)
		}
	}
}

func (p *KafkaProducer) flush() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for m := range p.inbox {
		p.write(ctx, m)
	}
}

func (p *KafkaProducer) write(ctx context.Context, m kafka.Message) {
	if err := p.w.WriteMessages(ctx, m); err != nil {
		p.logger.Error().Err(err).Str("topic", m.Topic).Str("key", string(m.Key)).Msg("write message")
	}
}

// Publish enqueues env. It fails fast when the buffer is full.
func (p *KafkaProducer) Publish(_ context.Context, env Envelope) error {
	value, err := json.Marshal(env)
	if err != nil {
		return err
	}
	msg := kafka.Message{
		Topic: p.topics.forType(env.EventType),
		Key:   []byte(env.CorrelationID),
		Value: value,
		Time:  env.OccurredAt,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(env.EventType)},
		},
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrProducerClosed
	}
	select {
	case p.inbox <- msg:
		return nil
	default:
		p.logger.Warn().Str("event_type", env.EventType).Msg("buffer full, dropping event")
		return ErrBufferFull
	}
}

// Close stops accepting messages. Run flushes the remaining buffer and exits.
func (p *KafkaProducer) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	p.closed = true
	close(p.inbox)
}

// Done is closed once Run has returned.
func (p *KafkaProducer) Done() <-chan struct{} { return p.done }
