// v0
// internal/engine/engine.go
package engine

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/redmozaic77-design/DashboardSCTK/internal/derive"
	"github.com/redmozaic77-design/DashboardSCTK/internal/history"
	"github.com/redmozaic77-design/DashboardSCTK/internal/metric"
	"github.com/redmozaic77-design/DashboardSCTK/internal/normalize"
	"github.com/redmozaic77-design/DashboardSCTK/internal/observability"
	"github.com/redmozaic77-design/DashboardSCTK/internal/series"
	"github.com/redmozaic77-design/DashboardSCTK/internal/source"
)

// Origin labels where a record came from.
const (
	OriginLive   = "live"
	OriginQCFeed = "qc_feed"
)

// Sink receives every applied record. Enqueue must not block.
type Sink interface {
	Enqueue(rec metric.Record)
}

// QCHistory serves QC ranges from the tabular feed.
type QCHistory interface {
	History(k metric.Key, hours float64, interval int64) []metric.Point
}

// Options wires an Engine.
type Options struct {
	Store     *series.Store
	Big       *series.Big
	Reservoir derive.Reservoir
	Ring      *history.Ring
	// Fetcher serves big-series history; it defaults to Ring.
	Fetcher   history.Fetcher
	QCHistory QCHistory
	QueueSize int
	// ResetOnReconnect clears the quantity tiles when a source connects
	// again after losing its connection.
	ResetOnReconnect bool
	Sinks            []Sink
	Logger           *slog.Logger
	Metrics          *observability.Metrics
}

type event struct {
	rec    metric.Record
	origin string
	seed   *seedJob
}

// seedJob merges history into one tile on the ingestion goroutine.
type seedJob struct {
	key    metric.Key
	points []metric.Point
	done   chan struct{}
}

// Engine owns all ingestion state. Records are applied in arrival order by a
// single goroutine; readers take snapshots under a read lock.
type Engine struct {
	store            *series.Store
	big              *series.Big
	reservoir        derive.Reservoir
	ring             *history.Ring
	fetcher          history.Fetcher
	qcHistory        QCHistory
	sinks            []Sink
	resetOnReconnect bool
	logger           *slog.Logger
	metrics          *observability.Metrics

	queue chan event

	mu          sync.RWMutex
	latest      metric.Record
	derived     derive.State
	hasDerived  bool
	qc          metric.Record
	status      source.Status
	seq         uint64
	bigCancel   context.CancelFunc
	lostOnce    bool
	lastApplied time.Time

	subMu sync.Mutex
	subs  map[string]chan Update
}

// ErrQueueFull is returned by Submit when the ingestion queue is full.
var ErrQueueFull = errors.New("ingestion queue full")

func New(opts Options) (*Engine, error) {
	if opts.Store == nil || opts.Big == nil {
		return nil, errors.New("store and big series are required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	ring := opts.Ring
	if ring == nil {
		ring = history.NewRing(0)
	}
	fetcher := opts.Fetcher
	if fetcher == nil {
		fetcher = ring
	}
	size := opts.QueueSize
	if size <= 0 {
		size = 256
	}
	return &Engine{
		store:            opts.Store,
		big:              opts.Big,
		reservoir:        opts.Reservoir,
		ring:             ring,
		fetcher:          fetcher,
		qcHistory:        opts.QCHistory,
		sinks:            opts.Sinks,
		resetOnReconnect: opts.ResetOnReconnect,
		logger:           logger.With(slog.String("component", "engine")),
		metrics:          opts.Metrics,
		queue:            make(chan event, size),
		status:           source.Status{State: source.Idle, Candidate: -1, Since: time.Now()},
		subs:             make(map[string]chan Update),
	}, nil
}

// Submit enqueues rec without blocking.
func (e *Engine) Submit(rec metric.Record, origin string) error {
	if rec.Empty() {
		e.metrics.RecordDropped(metric.Reason(metric.ErrNormalizationEmpty))
		return metric.ErrNormalizationEmpty
	}
	select {
	case e.queue <- event{rec: rec, origin: origin}:
		return nil
	default:
		e.metrics.RecordDropped("queue_full")
		e.logger.Warn("engine_queue_full", slog.String("origin", origin))
		return ErrQueueFull
	}
}

// RecordFunc adapts Submit for data sources.
func (e *Engine) RecordFunc(origin string) source.RecordFunc {
	return func(rec metric.Record) {
		_ = e.Submit(rec, origin)
	}
}

// Run applies queued records until ctx is done.
func (e *Engine) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev := <-e.queue:
			e.applySafe(ev)
		}
	}
}

func (e *Engine) applySafe(ev event) {
	defer func() {
		if p := recover(); p != nil {
			if ev.seed != nil {
				select {
				case <-ev.seed.done:
				default:
					close(ev.seed.done)
				}
			}
			e.metrics.RecordDropped("panic")
			e.logger.Error("engine_apply_panic", slog.Any("panic", p), slog.String("origin", ev.origin))
		}
	}()
	e.apply(ev)
}

func (e *Engine) apply(ev event) {
	if ev.seed != nil {
		e.applySeed(ev.seed)
		return
	}
	rec := ev.rec
	for _, outcome := range e.store.AppendRecord(rec) {
		e.metrics.SeriesAppend(outcome.String())
	}
	for _, k := range rec.Keys() {
		v, _ := rec.Value(k)
		e.big.Append(k, rec.Timestamp(), v)
	}
	e.ring.Add(rec)

	quantity, qc := split(rec)
	e.mu.Lock()
	if !quantity.Empty() {
		e.latest = normalize.CarryForward(e.latest, quantity)
		level, okL := e.latest.Value(metric.ReservoirLevel)
		if okL {
			net, _ := e.latest.Value(metric.NetFlow)
			e.derived = e.reservoir.Compute(level, net)
			e.hasDerived = true
		}
	}
	if !qc.Empty() {
		e.qc = normalize.CarryForward(e.qc, qc)
	}
	e.seq++
	e.lastApplied = time.Now()
	e.mu.Unlock()

	e.metrics.RecordIngested(ev.origin)
	for _, s := range e.sinks {
		s.Enqueue(rec)
	}
	e.publish()
}

func (e *Engine) applySeed(job *seedJob) {
	defer close(job.done)
	if err := e.store.Merge(job.key, job.points); err != nil {
		e.logger.Warn("tile_warm_failed", slog.String("key", string(job.key)), slog.Any("err", err))
		return
	}
	e.mu.Lock()
	e.seq++
	e.mu.Unlock()
	e.publish()
}

// split separates quantity and derived keys from QC keys.
func split(rec metric.Record) (metric.Record, metric.Record) {
	quantity := make(map[metric.Key]float64, rec.Len())
	qc := make(map[metric.Key]float64)
	for k, v := range rec.Values() {
		if kind, _ := metric.KindOf(k); kind == metric.KindQC {
			qc[k] = v
		} else {
			quantity[k] = v
		}
	}
	return metric.NewRecord(rec.Timestamp(), quantity), metric.NewRecord(rec.Timestamp(), qc)
}

// SetStatus records a connection state change. It is safe to pass as a
// source.StateFunc.
func (e *Engine) SetStatus(st source.Status) {
	reset := false
	e.mu.Lock()
	switch st.State {
	case source.Disconnected, source.Exhausted:
		e.lostOnce = true
	case source.Connected:
		reset = e.resetOnReconnect && e.lostOnce
		e.lostOnce = false
	}
	e.status = st
	e.seq++
	e.mu.Unlock()

	if reset {
		e.store.Reset(metric.KindQuantity, metric.KindDerived)
		e.logger.Info("engine_tiles_reset", slog.String("source", st.Source))
	}
	e.publish()
}
