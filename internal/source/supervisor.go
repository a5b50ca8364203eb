// v0
// internal/source/supervisor.go
package source

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// Supervisor runs a push walker and restarts its walk from the first
// candidate after an established connection drops. When the walk is
// exhausted, or the connection keeps dropping, it stops the push side for
// good and starts the fallback. Push and fallback never run together.
type Supervisor struct {
	push        *Walker
	fallback    DataSource
	backoff     time.Duration
	maxRestarts int
	logger      *slog.Logger

	mu       sync.Mutex
	cancel   context.CancelFunc
	done     chan struct{}
	fellBack bool
}

// SupervisorOptions configures a Supervisor.
type SupervisorOptions struct {
	Push *Walker
	// Fallback may be nil; exhaustion is then final.
	Fallback DataSource
	Backoff  time.Duration
	// MaxRestarts bounds walk restarts after connection loss before falling
	// back; zero means restart forever.
	MaxRestarts int
	Logger      *slog.Logger
}

func NewSupervisor(opts SupervisorOptions) *Supervisor {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Supervisor{
		push:        opts.Push,
		fallback:    opts.Fallback,
		backoff:     opts.Backoff,
		maxRestarts: opts.MaxRestarts,
		logger:      logger,
	}
}

func (s *Supervisor) Name() string { return s.push.Name() }

// FellBack reports whether the fallback source has taken over.
func (s *Supervisor) FellBack() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fellBack
}

func (s *Supervisor) Start(ctx context.Context, onRecord RecordFunc, onState StateFunc) error {
	s.mu.Lock()
	if s.cancel != nil {
		s.mu.Unlock()
		return errors.New("supervisor already started")
	}
	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	done := s.done
	s.mu.Unlock()

	s.push.bind(onRecord, onState)
	go func() {
		defer close(done)
		s.run(runCtx, onRecord, onState)
	}()
	return nil
}

func (s *Supervisor) run(ctx context.Context, onRecord RecordFunc, onState StateFunc) {
	restarts := 0
	for {
		err := s.push.Walk(ctx)
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			s.engageFallback(ctx, onRecord, onState, "candidates_exhausted")
			return
		}

		select {
		case <-ctx.Done():
			return
		case <-s.push.Lost():
		}
		restarts++
		if s.maxRestarts > 0 && restarts > s.maxRestarts {
			s.engageFallback(ctx, onRecord, onState, "too_many_disconnects")
			return
		}
		s.logger.Info("source_walk_restarting", slog.Int("restart", restarts), slog.Duration("backoff", s.backoff))
		if !sleepCtx(ctx, s.backoff) {
			return
		}
	}
}

func (s *Supervisor) engageFallback(ctx context.Context, onRecord RecordFunc, onState StateFunc, reason string) {
	_ = s.push.closeConn()
	if s.fallback == nil {
		s.logger.Error("source_fallback_unavailable", slog.String("reason", reason))
		return
	}
	s.logger.Warn("source_fallback_engaged", slog.String("reason", reason), slog.String("fallback", s.fallback.Name()))
	if err := s.fallback.Start(ctx, onRecord, onState); err != nil {
		s.logger.Error("source_fallback_start_failed", slog.Any("err", err))
		return
	}
	s.mu.Lock()
	s.fellBack = true
	s.mu.Unlock()
}

func (s *Supervisor) Stop() error {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel = nil
	s.mu.Unlock()
	if cancel == nil {
		return nil
	}
	cancel()
	<-done
	err := s.push.Stop()
	if s.fallback != nil {
		err = errors.Join(err, s.fallback.Stop())
	}
	return err
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
