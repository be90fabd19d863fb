// Package events publishes the SOS lifecycle audit feed to Kafka.
package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	skafka "github.com/segmentio/kafka-go"
	"github.com/sirupsen/logrus"
)

type Type string

const (
	SOSCreated   Type = "sos.created"
	SOSAccepted  Type = "sos.accepted"
	SOSApproved  Type = "sos.approved"
	SOSRejected  Type = "sos.rejected"
	SOSCancelled Type = "sos.cancelled"
	SOSExpired   Type = "sos.expired"
)

// Record is one audit message. Key is the request id, or "sweep" for expiry batches.
type Record struct {
	Type       Type      `json:"type"`
	RequestID  string    `json:"requestId,omitempty"`
	HospitalID string    `json:"hospitalId,omitempty"`
	DonorID    string    `json:"donorId,omitempty"`
	BloodType  string    `json:"bloodType,omitempty"`
	ActorID    string    `json:"actorId,omitempty"`
	Count      int       `json:"count,omitempty"`
	OccurredAt time.Time `json:"occurredAt"`
}

func (r Record) key() string {
	if r.RequestID != "" {
		return r.RequestID
	}
	return "sweep"
}

// Writer is the part of kafka.Writer the producer needs.
type Writer interface {
	WriteMessages(ctx context.Context, msgs ...skafka.Message) error
	Close() error
}

// Publisher must not block the caller on the broker.
type Publisher interface {
	Publish(ctx context.Context, record Record) error
	Close() error
}

var (
	ErrQueueFull = errors.New("audit queue full")
	ErrClosed    = errors.New("audit producer closed")
)

const (
	queueSize    = 256
	writeTimeout = 5 * time.Second
)

// KafkaProducer queues records and writes them from one background goroutine.
// Close stops accepting records and waits for the queue to drain.
type KafkaProducer struct {
	writer Writer
	logger logrus.FieldLogger
	queue  chan skafka.Message
	done   chan struct{}

	mu     sync.RWMutex
	closed bool
}

func NewKafkaProducer(brokers []string, topic string, logger logrus.FieldLogger) *KafkaProducer {
	w := &skafka.Writer{
		Addr:                   skafka.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &skafka.Hash{},
		RequiredAcks:           skafka.RequireOne,
		AllowAutoTopicCreation: true,
		BatchTimeout:           10 * time.Millisecond,
		WriteTimeout:           writeTimeout,
	}
	return NewKafkaProducerWithWriter(w, logger)
}

func NewKafkaProducerWithWriter(w Writer, logger logrus.FieldLogger) *KafkaProducer {
	if logger == nil {
		logger = logrus.New()
	}
	p := &KafkaProducer{
		writer: w,
		logger: logger.WithField("component", "events"),
		queue:  make(chan skafka.Message, queueSize),
		done:   make(chan struct{}),
	}
	go p.run()
	return p
}

// Publish enqueues one record keyed by request id, so a request's history
// stays on one partition. It never waits on the broker.
func (p *KafkaProducer) Publish(_ context.Context, record Record) error {
	if record.OccurredAt.IsZero() {
		record.OccurredAt = time.Now().UTC()
	}
	value, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("encode %s record: %w", record.Type, err)
	}
	msg := skafka.Message{
		Key:   []byte(record.key()),
		Value: value,
		Headers: []skafka.Header{
			{Key: "type", Value: []byte(record.Type)},
		},
	}

	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrClosed
	}
	select {
	case p.queue <- msg:
		return nil
	default:
		return fmt.Errorf("%w: dropped %s record", ErrQueueFull, record.Type)
	}
}

func (p *KafkaProducer) run() {
	defer close(p.done)
	for msg := range p.queue {
		ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
		err := p.writer.WriteMessages(ctx, msg)
		cancel()
		if err != nil {
			p.logger.WithError(err).WithFields(logrus.Fields{
				"type": headerValue(msg, "type"),
				"key":  string(msg.Key),
			}).Warn("kafka write failed")
		}
	}
}

func headerValue(msg skafka.Message, key string) string {
	for _, h := range msg.Headers {
		if h.Key == key {
			return string(h.Value)
		}
	}
	return ""
}

func (p *KafkaProducer) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	close(p.queue)
	p.mu.Unlock()

	<-p.done
	return p.writer.Close()
}

// Nop discards records; it stands in when KAFKA_BROKERS is empty.
type Nop struct{}

func (Nop) Publish(context.Context, Record) error { return nil }
func (Nop) Close() error                          { return nil }
