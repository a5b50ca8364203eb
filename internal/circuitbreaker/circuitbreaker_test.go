// v1
// internal/circuitbreaker/circuitbreaker_test.go
package circuitbreaker

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newTestBreaker(cfg Config, opts ...Option) (*Breaker, *fakeClock) {
	clock := &fakeClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	b := New("test", cfg, nil, opts...)
	b.now = clock.Now
	return b, clock
}

func TestBreakerOpensAfterMaxFailures(t *testing.T) {
	var transitions []State
	b, clock := newTestBreaker(Config{MaxFailures: 2, ResetTimeout: time.Second, SuccessesToClose: 2},
		WithStateHook(func(_ string, _, to State) { transitions = append(transitions, to) }))
	boom := errors.New("boom")
	fail := func(context.Context) error { return boom }
	ok := func(context.Context) error { return nil }

	for i := 0; i < 2; i++ {
		if err := b.Execute(context.Background(), fail); !errors.Is(err, boom) {
			t.Fatalf("expected boom, got %v", err)
		}
	}
	if b.State() != Open {
		t.Fatalf("expected Open, got %s", b.State())
	}
	if err := b.Execute(context.Background(), ok); !errors.Is(err, ErrOpen) {
		t.Fatalf("expected fast fail, got %v", err)
	}

	clock.Advance(2 * time.Second)
	if err := b.Execute(context.Background(), ok); err != nil {
		t.Fatalf("trial call failed: %v", err)
	}
	if b.State() != HalfOpen {
		t.Fatalf("expected HalfOpen after one success, got %s", b.State())
	}
	if err := b.Execute(context.Background(), ok); err != nil {
		t.Fatalf("second trial failed: %v", err)
	}
	if b.State() != Closed {
		t.Fatalf("expected Closed, got %s", b.State())
	}
	want := []State{Open, HalfOpen, Closed}
	if len(transitions) != len(want) {
		t.Fatalf("unexpected transitions %v", transitions)
	}
	for i := range want {
		if transitions[i] != want[i] {
			t.Fatalf("unexpected transitions %v", transitions)
		}
	}
}

func TestBreakerHalfOpenFailureReopens(t *testing.T) {
	b, clock := newTestBreaker(Config{MaxFailures: 1, ResetTimeout: time.Second})
	boom := errors.New("boom")
	_ = b.Execute(context.Background(), func(context.Context) error { return boom })
	clock.Advance(2 * time.Second)
	_ = b.Execute(context.Background(), func(context.Context) error { return boom })
	if b.State() != Open {
		t.Fatalf("expected Open after failed trial, got %s", b.State())
	}
}

func TestBreakerIgnoresCancellation(t *testing.T) {
	b, _ := newTestBreaker(Config{MaxFailures: 1, ResetTimeout: time.Second})
	err := b.Execute(context.Background(), func(context.Context) error { return context.Canceled })
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected cancellation, got %v", err)
	}
	if b.State() != Closed {
		t.Fatalf("cancellation must not trip the breaker")
	}
}

func TestHTTPClientCountsServerErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	b, _ := newTestBreaker(Config{MaxFailures: 2, ResetTimeout: time.Minute})
	client := NewHTTPClient(b, srv.Client())
	for i := 0; i < 2; i++ {
		req, _ := http.NewRequest(http.MethodGet, srv.URL, nil)
		if _, err := client.Do(req); err == nil {
			t.Fatalf("expected error for 502")
		}
	}
	req, _ := http.NewRequest(http.MethodGet, srv.URL, nil)
	if _, err := client.Do(req); !errors.Is(err, ErrOpen) {
		t.Fatalf("expected open breaker, got %v", err)
	}
}

type stubKafkaWriter struct {
	mu                    sync.Mutex
	calls                 int
	failuresBeforeSuccess int
}

func (s *stubKafkaWriter) WriteMessages(ctx context.Context, msgs ...kafka.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.calls <= s.failuresBeforeSuccess {
		return errors.New("broker unavailable")
	}
	return nil
}

func TestCBKafkaWriterRetries(t *testing.T) {
	b, _ := newTestBreaker(Config{MaxFailures: 5, ResetTimeout: time.Minute})
	stub := &stubKafkaWriter{failuresBeforeSuccess: 2}
	writer := NewCBKafkaWriter(stub, b, Retry{Attempts: 3, Timeout: 50 * time.Millisecond, Backoff: time.Millisecond})

	if err := writer.WriteMessages(context.Background(), kafka.Message{Value: []byte("x")}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if stub.calls != 3 {
		t.Fatalf("expected 3 calls, got %d", stub.calls)
	}
}

func TestCBKafkaWriterFastFailsWhenOpen(t *testing.T) {
	b, _ := newTestBreaker(Config{MaxFailures: 1, ResetTimeout: time.Minute})
	stub := &stubKafkaWriter{failuresBeforeSuccess: 100}
	writer := NewCBKafkaWriter(stub, b, Retry{Attempts: 5})

	if err := writer.WriteMessages(context.Background(), kafka.Message{}); !errors.Is(err, ErrOpen) {
		t.Fatalf("expected ErrOpen once the breaker trips, got %v", err)
	}
	if stub.calls != 1 {
		t.Fatalf("open breaker must stop retries, got %d calls", stub.calls)
	}
}
