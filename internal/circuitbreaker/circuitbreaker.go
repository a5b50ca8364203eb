// v1
// internal/circuitbreaker/circuitbreaker.go
package circuitbreaker

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

type State int

const (
	Closed State = iota
	Open
	HalfOpen
)

func (s State) String() string {
	switch s {
	case Closed:
		return "Closed"
	case Open:
		return "Open"
	case HalfOpen:
		return "HalfOpen"
	default:
		return "Unknown"
	}
}

var ErrOpen = errors.New("circuit breaker is open; fast-fail")

// Config holds the breaker tunables.
type Config struct {
	MaxFailures      int           // consecutive failures before opening
	ResetTimeout     time.Duration // how long to stay open before probing
	SuccessesToClose int           // successes required in HalfOpen before closing
}

// DefaultConfig mirrors the defaults of the properties loader.
func DefaultConfig() Config {
	return Config{MaxFailures: 5, ResetTimeout: 30 * time.Second, SuccessesToClose: 1}
}

type Breaker struct {
	name   string
	cfg    Config
	logger *slog.Logger

	mu          sync.Mutex
	state       State
	recentFails int
	successes   int
	openedAt    time.Time

	check    func(ctx context.Context) error
	onChange func(name string, from, to State)
	now      func() time.Time
}

// Option customizes a Breaker.
type Option func(*Breaker)

// WithStateHook registers a callback fired on every state transition.
func WithStateHook(fn func(name string, from, to State)) Option {
	return func(b *Breaker) { b.onChange = fn }
}

// WithHalfOpenCheck registers a check executed before the first HalfOpen attempt.
func WithHalfOpenCheck(check func(ctx context.Context) error) Option {
	return func(b *Breaker) { b.check = check }
}

func New(name string, cfg Config, logger *slog.Logger, opts ...Option) *Breaker {
	if cfg.MaxFailures < 1 {
		cfg.MaxFailures = 1
	}
	if cfg.SuccessesToClose < 1 {
		cfg.SuccessesToClose = 1
	}
	if cfg.ResetTimeout <= 0 {
		cfg.ResetTimeout = DefaultConfig().ResetTimeout
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(discard{}, nil))
	}
	b := &Breaker{
		name:   name,
		cfg:    cfg,
		logger: logger,
		state:  Closed,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(b)
	}
	b.logger.Info("breaker_created", "name", name, "maxFailures", cfg.MaxFailures, "resetTimeout", cfg.ResetTimeout.String())
	return b
}

func (b *Breaker) Name() string { return b.name }

// Execute runs op unless the breaker is open. Failures are counted; the
// breaker opens after MaxFailures consecutive failures and lets a single
// trial through once ResetTimeout has elapsed.
func (b *Breaker) Execute(ctx context.Context, op func(ctx context.Context) error) error {
	b.mu.Lock()
	if b.state == Open {
		if b.now().Sub(b.openedAt) < b.cfg.ResetTimeout {
			b.mu.Unlock()
			b.logger.Debug("breaker_fast_fail", "name", b.name)
			return ErrOpen
		}
		b.transition(HalfOpen)
		b.successes = 0
		b.mu.Unlock()
		if b.check != nil {
			if err := b.check(ctx); err != nil {
				b.logger.Warn("breaker_check_failed", "name", b.name, "error", err.Error())
				b.mu.Lock()
				b.trip()
				b.mu.Unlock()
				return ErrOpen
			}
		}
	} else {
		b.mu.Unlock()
	}

	err := op(ctx)
	if err == nil {
		b.onSuccess()
		return nil
	}
	// A cancelled caller says nothing about the remote side.
	if errors.Is(err, context.Canceled) {
		return err
	}
	b.onFailure(err)
	return err
}

func (b *Breaker) onSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.recentFails = 0
	if b.state == HalfOpen {
		b.successes++
		if b.successes < b.cfg.SuccessesToClose {
			return
		}
	}
	if b.state != Closed {
		b.transition(Closed)
	}
}

func (b *Breaker) onFailure(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.recentFails++
	b.logger.Warn("operation_failure", "name", b.name, "failures", b.recentFails, "error", err.Error())
	if b.state == HalfOpen || b.recentFails >= b.cfg.MaxFailures {
		b.trip()
	}
}

// trip opens the breaker; callers hold mu.
func (b *Breaker) trip() {
	b.openedAt = b.now()
	if b.state != Open {
		b.logger.Error("breaker_opened", "name", b.name, "maxFailures", b.cfg.MaxFailures)
		b.transition(Open)
	}
}

// transition changes state; callers hold mu.
func (b *Breaker) transition(to State) {
	from := b.state
	b.state = to
	if from != to && b.onChange != nil {
		b.onChange(b.name, from, to)
	}
}

func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

type discard struct{}

func (discard) Write(p []byte) (int, error) { return len(p), nil }
