// v0
// internal/forward/kafka.go
package forward

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"strconv"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/redmozaic77-design/DashboardSCTK/internal/metric"
	"github.com/redmozaic77-design/DashboardSCTK/internal/observability"
)

// messageWriter is satisfied by *kafka.Writer and the breaker-wrapped writer.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
}

// NewKafkaWriter builds a synchronous writer keyed by metric kind.
func NewKafkaWriter(brokers []string, topic string) *kafka.Writer {
	return &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
		BatchTimeout: 50 * time.Millisecond,
		Async:        false,
	}
}

// RecordMessage is the JSON value published per record.
type RecordMessage struct {
	TS     int64                  `json:"ts"`
	Values map[metric.Key]float64 `json:"values"`
}

// KafkaPublisher publishes every applied record to one topic.
type KafkaPublisher struct {
	writer  messageWriter
	closer  io.Closer
	queue   chan metric.Record
	logger  *slog.Logger
	metrics *observability.Metrics
}

// NewKafkaPublisher wraps writer. closer, when set, is closed by Close.
func NewKafkaPublisher(writer messageWriter, closer io.Closer, buffer int, logger *slog.Logger, metrics *observability.Metrics) *KafkaPublisher {
	if buffer <= 0 {
		buffer = 256
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &KafkaPublisher{
		writer:  writer,
		closer:  closer,
		queue:   make(chan metric.Record, buffer),
		logger:  logger,
		metrics: metrics,
	}
}

// Enqueue hands rec to the publishing loop, dropping it when the buffer is
// full.
func (p *KafkaPublisher) Enqueue(rec metric.Record) {
	select {
	case p.queue <- rec:
	default:
		p.metrics.Forwarded("kafka", false)
		p.logger.Warn("kafka_publish_dropped", slog.String("reason", "buffer_full"))
	}
}

// Run publishes queued records until ctx is done.
func (p *KafkaPublisher) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case rec := <-p.queue:
			p.publish(ctx, rec)
		}
	}
}

func (p *KafkaPublisher) publish(ctx context.Context, rec metric.Record) {
	value, err := json.Marshal(RecordMessage{TS: rec.Timestamp(), Values: rec.Values()})
	if err != nil {
		p.logger.Error("kafka_encode_failed", slog.Any("err", err))
		return
	}
	msg := kafka.Message{
		Key:   []byte(messageKey(rec)),
		Value: value,
		Time:  time.Unix(rec.Timestamp(), 0),
		Headers: []kafka.Header{
			{Key: "ts", Value: []byte(strconv.FormatInt(rec.Timestamp(), 10))},
		},
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		p.metrics.Forwarded("kafka", false)
		if ctx.Err() == nil {
			p.logger.Warn("kafka_publish_failed", slog.Any("err", err))
		}
		return
	}
	p.metrics.Forwarded("kafka", true)
}

// messageKey partitions quantity and QC records apart.
func messageKey(rec metric.Record) string {
	for _, k := range rec.Keys() {
		if kind, _ := metric.KindOf(k); kind == metric.KindQC {
			return metric.KindQC.String()
		}
	}
	return metric.KindQuantity.String()
}

func (p *KafkaPublisher) Close() error {
	if p.closer == nil {
		return nil
	}
	return p.closer.Close()
}
