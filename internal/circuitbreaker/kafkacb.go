// v2
// internal/circuitbreaker/kafkacb.go
package circuitbreaker

import (
	"context"
	"errors"
	"time"

	"github.com/segmentio/kafka-go"
)

// kafkaMessageWriter mirrors the subset of kafka.Writer used by the wrapper.
type kafkaMessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
}

// Retry bounds the attempts made for one Kafka write.
type Retry struct {
	Attempts int
	Timeout  time.Duration
	Backoff  time.Duration
}

// CBKafkaWriter wraps a kafka.Writer with circuit-breaker protection and a
// bounded retry policy.
type CBKafkaWriter struct {
	brk    *Breaker
	writer kafkaMessageWriter
	retry  Retry
}

// NewCBKafkaWriter wires breaker protections around the provided kafka writer.
func NewCBKafkaWriter(writer kafkaMessageWriter, brk *Breaker, retry Retry) *CBKafkaWriter {
	if retry.Attempts < 1 {
		retry.Attempts = 1
	}
	return &CBKafkaWriter{writer: writer, brk: brk, retry: retry}
}

// WriteMessages publishes messages. An open breaker fails fast without
// consuming retries.
func (w *CBKafkaWriter) WriteMessages(ctx context.Context, msgs ...kafka.Message) error {
	if w == nil || w.writer == nil {
		return errors.New("nil kafka writer")
	}
	if w.brk == nil {
		return w.writer.WriteMessages(ctx, msgs...)
	}
	var err error
	for attempt := 1; attempt <= w.retry.Attempts; attempt++ {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		attemptCtx, cancel := w.attemptContext(ctx)
		err = w.brk.Execute(attemptCtx, func(execCtx context.Context) error {
			return w.writer.WriteMessages(execCtx, msgs...)
		})
		cancel()
		if err == nil || errors.Is(err, ErrOpen) {
			return err
		}
		if attempt < w.retry.Attempts {
			if waitErr := w.waitBackoff(ctx); waitErr != nil {
				return waitErr
			}
		}
	}
	return err
}

func (w *CBKafkaWriter) attemptContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if w.retry.Timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, w.retry.Timeout)
}

func (w *CBKafkaWriter) waitBackoff(ctx context.Context) error {
	if w.retry.Backoff <= 0 {
		return nil
	}
	timer := time.NewTimer(w.retry.Backoff)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
