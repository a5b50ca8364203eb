// v0
// internal/source/poller.go
package source

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/redmozaic77-design/DashboardSCTK/internal/fetch"
	"github.com/redmozaic77-design/DashboardSCTK/internal/metric"
	"github.com/redmozaic77-design/DashboardSCTK/internal/normalize"
	"github.com/redmozaic77-design/DashboardSCTK/internal/observability"
)

// Poller re-fetches the latest quantity and QC snapshots on a fixed
// interval and feeds them through the same normalization path.
type Poller struct {
	latestURL string
	qcURL     string
	client    fetch.Doer
	interval  time.Duration
	timeout   time.Duration
	logger    *slog.Logger
	metrics   *observability.Metrics
	quantity  *normalize.Normalizer
	qc        *normalize.Normalizer
	now       func() time.Time

	mu      sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	healthy bool
	started bool
}

// PollerOptions configures a Poller.
type PollerOptions struct {
	LatestURL string
	QCURL     string
	Client    fetch.Doer
	Interval  time.Duration
	Timeout   time.Duration
	Logger    *slog.Logger
	Metrics   *observability.Metrics
}

func NewPoller(opts PollerOptions) *Poller {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	interval := opts.Interval
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return &Poller{
		latestURL: opts.LatestURL,
		qcURL:     opts.QCURL,
		client:    opts.Client,
		interval:  interval,
		timeout:   opts.Timeout,
		logger:    logger,
		metrics:   opts.Metrics,
		quantity:  normalize.Quantity(rejectCounter(opts.Metrics)),
		qc:        normalize.QC(rejectCounter(opts.Metrics)),
		now:       time.Now,
	}
}

func (p *Poller) Name() string { return "poll" }

func (p *Poller) Start(ctx context.Context, onRecord RecordFunc, onState StateFunc) error {
	p.mu.Lock()
	if p.started {
		p.mu.Unlock()
		return errors.New("poller already started")
	}
	runCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.done = make(chan struct{})
	p.started = true
	done := p.done
	p.mu.Unlock()

	p.notify(onState, Status{State: Connecting, Candidate: 0, Endpoint: p.latestURL})
	go func() {
		defer close(done)
		p.tick(runCtx, onRecord, onState)
		ticker := time.NewTicker(p.interval)
		defer ticker.Stop()
		for {
			select {
			case <-runCtx.Done():
				return
			case <-ticker.C:
				p.tick(runCtx, onRecord, onState)
			}
		}
	}()
	return nil
}

func (p *Poller) Stop() error {
	p.mu.Lock()
	cancel, done := p.cancel, p.done
	p.cancel = nil
	p.mu.Unlock()
	if cancel == nil {
		return nil
	}
	cancel()
	<-done
	return nil
}

// tick pulls both snapshots once. The poller counts as connected while at
// least one of them succeeds.
func (p *Poller) tick(ctx context.Context, onRecord RecordFunc, onState StateFunc) {
	defer func() {
		if r := recover(); r != nil {
			p.metrics.RecordDropped("panic")
			p.logger.Error("poll_tick_panic", slog.Any("panic", r))
		}
	}()

	var (
		ok      bool
		lastErr error
	)
	if p.latestURL != "" {
		rec, err := p.pull(ctx, p.latestURL, p.decodeLatest)
		if err != nil {
			lastErr = err
		} else {
			ok = true
			p.deliver(rec, onRecord)
		}
	}
	if p.qcURL != "" {
		rec, err := p.pull(ctx, p.qcURL, p.decodeQC)
		if err != nil {
			lastErr = err
		} else {
			ok = true
			p.deliver(rec, onRecord)
		}
	}
	if ctx.Err() != nil {
		return
	}

	p.mu.Lock()
	changed := p.healthy != ok
	first := !p.healthy && !ok && lastErr != nil
	p.healthy = ok
	p.mu.Unlock()

	switch {
	case ok && changed:
		p.notify(onState, Status{State: Connected, Candidate: 0, Endpoint: p.latestURL})
	case !ok && changed:
		p.notify(onState, Status{State: Disconnected, Candidate: 0, Endpoint: p.latestURL, Err: lastErr.Error()})
	case first:
		p.logger.Warn("poll_failed", slog.Any("err", lastErr))
	}
}

func (p *Poller) pull(ctx context.Context, url string, decode func([]byte, int64) (metric.Record, error)) (metric.Record, error) {
	if p.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}
	body, err := fetch.Get(ctx, p.client, url)
	if err != nil {
		p.metrics.RecordDropped(metric.Reason(metric.ErrFeedFetch))
		return metric.Record{}, err
	}
	rec, err := decode(body, p.now().Unix())
	if err != nil {
		p.metrics.RecordDropped(metric.Reason(err))
		p.logger.Debug("poll_payload_dropped", slog.String("url", url), slog.Any("err", err))
		return metric.Record{}, err
	}
	return rec, nil
}

func (p *Poller) decodeLatest(body []byte, ts int64) (metric.Record, error) {
	res, err := p.quantity.Normalize(body, ts)
	if err != nil {
		return metric.Record{}, err
	}
	return res.Record, nil
}

func (p *Poller) decodeQC(body []byte, ts int64) (metric.Record, error) {
	return decodeQCSnapshot(p.qc, body, ts)
}

func (p *Poller) deliver(rec metric.Record, onRecord RecordFunc) {
	if onRecord != nil && !rec.Empty() {
		onRecord(rec)
	}
}

func (p *Poller) notify(onState StateFunc, st Status) {
	st.Source = p.Name()
	st.Since = p.now()
	p.metrics.ConnectionState(st.Source, st.State.String(), st.Candidate)
	if st.State == Connected {
		p.logger.Info("poll_connected", slog.String("endpoint", st.Endpoint))
	} else if st.State == Disconnected {
		p.logger.Warn("poll_disconnected", slog.String("err", st.Err))
	}
	if onState != nil {
		onState(st)
	}
}
