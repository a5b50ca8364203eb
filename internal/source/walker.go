// v0
// internal/source/walker.go
package source

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/redmozaic77-design/DashboardSCTK/internal/metric"
	"github.com/redmozaic77-design/DashboardSCTK/internal/observability"
)

// Walker connects to the first reachable candidate endpoint, trying them
// strictly in order. A walk that exhausts the list stops; a dropped
// established connection is reported as Disconnected and the walk only
// restarts when Restart is called.
type Walker struct {
	name       string
	dialer     Dialer
	candidates []string
	timeout    time.Duration
	decode     Decoder
	logger     *slog.Logger
	metrics    *observability.Metrics
	now        func() time.Time

	mu       sync.Mutex
	onRecord RecordFunc
	onState  StateFunc
	conn     Conn
	gen      uint64
	status   Status
	cancel   context.CancelFunc
	lost     chan error
	// early holds a loss reported for gen before its connection was
	// registered.
	early    error
	earlyGen uint64
}

// WalkerOptions configures a Walker.
type WalkerOptions struct {
	Name       string
	Dialer     Dialer
	Candidates []string
	// Timeout bounds each connection attempt.
	Timeout time.Duration
	Decode  Decoder
	Logger  *slog.Logger
	Metrics *observability.Metrics
}

func NewWalker(opts WalkerOptions) *Walker {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	decode := opts.Decode
	if decode == nil {
		decode = QuantityDecoder(rejectCounter(opts.Metrics))
	}
	w := &Walker{
		name:       opts.Name,
		dialer:     opts.Dialer,
		candidates: append([]string(nil), opts.Candidates...),
		timeout:    timeout,
		decode:     decode,
		logger:     logger,
		metrics:    opts.Metrics,
		now:        time.Now,
		lost:       make(chan error, 1),
	}
	w.status = Status{Source: w.name, State: Idle, Candidate: -1, Since: w.now()}
	return w
}

func (w *Walker) Name() string { return w.name }

// Status returns the latest connection state.
func (w *Walker) Status() Status {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.status
}

// Lost delivers established-connection failures.
func (w *Walker) Lost() <-chan error { return w.lost }

func (w *Walker) bind(onRecord RecordFunc, onState StateFunc) {
	w.mu.Lock()
	w.onRecord = onRecord
	w.onState = onState
	w.mu.Unlock()
}

// Start binds the callbacks and walks the candidates in the background.
func (w *Walker) Start(ctx context.Context, onRecord RecordFunc, onState StateFunc) error {
	w.bind(onRecord, onState)
	runCtx, cancel := context.WithCancel(ctx)
	w.mu.Lock()
	if w.cancel != nil {
		w.mu.Unlock()
		cancel()
		return errors.New("source already started")
	}
	w.cancel = cancel
	w.mu.Unlock()

	go func() {
		_ = w.Walk(runCtx)
	}()
	return nil
}

// Stop closes any connection and returns the walker to Idle.
func (w *Walker) Stop() error {
	w.mu.Lock()
	cancel := w.cancel
	w.cancel = nil
	w.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	err := w.closeConn()
	w.emit(Status{State: Idle, Candidate: -1})
	return err
}

// Restart closes the current connection and walks again from index 0.
func (w *Walker) Restart(ctx context.Context) error {
	_ = w.closeConn()
	return w.Walk(ctx)
}

// Walk tries each candidate once, in order, and returns nil as soon as one
// connects. It returns ErrCandidatesExhausted after the last one fails.
func (w *Walker) Walk(ctx context.Context) error {
	walkID := uuid.NewString()
	logger := w.logger.With(slog.String("walk_id", walkID))
	w.drainLost()

	var lastErr error
	for i, endpoint := range w.candidates {
		if err := ctx.Err(); err != nil {
			return err
		}
		w.emit(Status{State: Connecting, Candidate: i, Endpoint: endpoint, WalkID: walkID})

		err := w.attempt(ctx, endpoint)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			lastErr = err
			logger.Warn("source_candidate_failed",
				slog.Int("candidate", i),
				slog.String("endpoint", endpoint),
				slog.Any("err", err))
			continue
		}

		logger.Info("source_connected", slog.Int("candidate", i), slog.String("endpoint", endpoint))
		w.emit(Status{State: Connected, Candidate: i, Endpoint: endpoint, WalkID: walkID})
		return nil
	}

	errText := "no candidates configured"
	if lastErr != nil {
		errText = lastErr.Error()
	}
	logger.Error("source_candidates_exhausted", slog.Int("candidates", len(w.candidates)), slog.String("last_err", errText))
	w.emit(Status{State: Exhausted, Candidate: len(w.candidates) - 1, WalkID: walkID, Err: errText})
	return ErrCandidatesExhausted
}

type dialResult struct {
	conn Conn
	err  error
}

// attempt dials one endpoint and registers the connection. A dialer that
// outlives the attempt window is abandoned and its late connection closed.
// A loss reported before registration fails the attempt.
func (w *Walker) attempt(ctx context.Context, endpoint string) error {
	w.mu.Lock()
	w.gen++
	gen := w.gen
	w.mu.Unlock()

	actx, cancel := context.WithTimeout(ctx, w.timeout)
	defer cancel()

	results := make(chan dialResult, 1)
	go func() {
		conn, err := w.dialer.Dial(actx, endpoint, w.messageHandler(gen), w.lostHandler(gen))
		results <- dialResult{conn: conn, err: err}
	}()

	select {
	case res := <-results:
		if res.err != nil {
			return fmt.Errorf("%w: %v", metric.ErrTransportFailure, res.err)
		}
		if res.conn == nil {
			return fmt.Errorf("%w: dialer returned no connection", metric.ErrTransportFailure)
		}
		return w.register(res.conn, gen)
	case <-actx.Done():
		go func() {
			if res := <-results; res.conn != nil {
				_ = res.conn.Close()
			}
		}()
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("%w: connect timeout after %s", metric.ErrTransportFailure, w.timeout)
	}
}

func (w *Walker) register(conn Conn, gen uint64) error {
	w.mu.Lock()
	var err error
	switch {
	case w.gen != gen:
		err = fmt.Errorf("%w: attempt superseded", metric.ErrTransportFailure)
	case w.earlyGen == gen && w.early != nil:
		err = fmt.Errorf("%w: lost before registration: %v", metric.ErrTransportFailure, w.early)
		w.gen++
	default:
		w.conn = conn
	}
	w.early, w.earlyGen = nil, 0
	w.mu.Unlock()
	if err != nil {
		_ = conn.Close()
	}
	return err
}

func (w *Walker) current(gen uint64) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.gen == gen
}

func (w *Walker) messageHandler(gen uint64) MessageFunc {
	return func(payload []byte) {
		defer func() {
			if p := recover(); p != nil {
				w.metrics.RecordDropped("panic")
				w.logger.Error("source_message_panic", slog.Any("panic", p))
			}
		}()
		if !w.current(gen) {
			return
		}
		records, err := w.decode(payload, w.now().Unix())
		if err != nil {
			w.metrics.RecordDropped(metric.Reason(err))
			w.logger.Debug("source_message_dropped", slog.String("reason", metric.Reason(err)), slog.Any("err", err))
			return
		}
		w.mu.Lock()
		onRecord := w.onRecord
		w.mu.Unlock()
		if onRecord == nil {
			return
		}
		for _, rec := range records {
			onRecord(rec)
		}
	}
}

func (w *Walker) lostHandler(gen uint64) LostFunc {
	return func(err error) {
		w.mu.Lock()
		if w.gen != gen {
			w.mu.Unlock()
			return
		}
		if w.conn == nil {
			if err == nil {
				err = errors.New("connection closed")
			}
			w.early, w.earlyGen = err, gen
			w.mu.Unlock()
			return
		}
		w.conn = nil
		w.gen++
		candidate, endpoint := w.status.Candidate, w.status.Endpoint
		walkID := w.status.WalkID
		w.mu.Unlock()

		errText := "connection closed"
		if err != nil {
			errText = err.Error()
		}
		w.logger.Warn("source_connection_lost", slog.Int("candidate", candidate), slog.String("endpoint", endpoint), slog.String("err", errText))
		w.emit(Status{State: Disconnected, Candidate: candidate, Endpoint: endpoint, WalkID: walkID, Err: errText})

		if err == nil {
			err = errors.New(errText)
		}
		select {
		case w.lost <- err:
		default:
		}
	}
}

func (w *Walker) drainLost() {
	for {
		select {
		case <-w.lost:
		default:
			return
		}
	}
}

func (w *Walker) closeConn() error {
	w.mu.Lock()
	conn := w.conn
	w.conn = nil
	w.gen++
	w.mu.Unlock()
	if conn == nil {
		return nil
	}
	return conn.Close()
}

func (w *Walker) emit(st Status) {
	st.Source = w.name
	st.Since = w.now()
	w.mu.Lock()
	w.status = st
	onState := w.onState
	w.mu.Unlock()

	w.metrics.ConnectionState(w.name, st.State.String(), st.Candidate)
	if onState != nil {
		onState(st)
	}
}
