// v0
// internal/qcfeed/reconciler.go
package qcfeed

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/redmozaic77-design/DashboardSCTK/internal/fetch"
	"github.com/redmozaic77-design/DashboardSCTK/internal/metric"
	"github.com/redmozaic77-design/DashboardSCTK/internal/observability"
)

const statusLayout = "2006-01-02 15:04:05"

// Fetcher retrieves the raw feed text.
type Fetcher interface {
	Fetch(ctx context.Context) (string, error)
}

// HTTPFetcher pulls the feed over HTTP with cache busting.
type HTTPFetcher struct {
	URL    string
	Client fetch.Doer
}

func (f HTTPFetcher) Fetch(ctx context.Context) (string, error) {
	body, err := fetch.Get(ctx, f.Client, f.URL)
	if err != nil {
		return "", err
	}
	return string(body), nil
}

// Status describes the outcome of recent pulls.
type Status struct {
	LastSuccess string   `json:"last_success_dt"`
	LastError   *string  `json:"last_error"`
	RowCount    int      `json:"row_count"`
	Headers     []string `json:"headers"`
	Failures    int      `json:"consecutive_failures"`
}

// Reconciler re-pulls the feed on a timer and keeps the last good snapshot.
type Reconciler struct {
	fetcher  Fetcher
	interval time.Duration
	timeout  time.Duration
	loc      *time.Location
	logger   *slog.Logger
	metrics  *observability.Metrics
	onRecord func(metric.Record)
	now      func() time.Time

	mu     sync.RWMutex
	snap   Snapshot
	status Status
}

// Options configures a Reconciler.
type Options struct {
	Interval time.Duration
	Timeout  time.Duration
	Location *time.Location
	Logger   *slog.Logger
	Metrics  *observability.Metrics
	// OnRecord receives the latest QC values after each successful pull.
	OnRecord func(metric.Record)
}

func NewReconciler(fetcher Fetcher, opts Options) *Reconciler {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	loc := opts.Location
	if loc == nil {
		loc = time.Local
	}
	interval := opts.Interval
	if interval <= 0 {
		interval = 20 * time.Second
	}
	return &Reconciler{
		fetcher:  fetcher,
		interval: interval,
		timeout:  opts.Timeout,
		loc:      loc,
		logger:   logger,
		metrics:  opts.Metrics,
		onRecord: opts.OnRecord,
		now:      time.Now,
		status:   Status{Headers: []string{}},
	}
}

// PullOnce fetches and parses the feed. On failure the previous snapshot is
// kept and the error is recorded in Status.
func (r *Reconciler) PullOnce(ctx context.Context) error {
	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	text, err := r.fetcher.Fetch(ctx)
	if err != nil {
		return r.fail(fmt.Errorf("%w: %v", metric.ErrFeedFetch, err))
	}
	snap, err := Parse(text, r.loc)
	if err != nil {
		return r.fail(err)
	}

	r.mu.Lock()
	r.snap = snap
	r.status = Status{
		LastSuccess: r.now().In(r.loc).Format(statusLayout),
		RowCount:    len(snap.Rows),
		Headers:     snap.Headers,
	}
	r.mu.Unlock()

	r.metrics.QCPull("success")
	r.logger.Debug("qc_pull_succeeded", slog.Int("rows", len(snap.Rows)), slog.String("last_qc_update", snap.LastQCUpdate))
	if r.onRecord != nil {
		if rec := snap.Record(); !rec.Empty() {
			r.onRecord(rec)
		}
	}
	return nil
}

func (r *Reconciler) fail(err error) error {
	msg := err.Error()
	r.mu.Lock()
	r.status.LastError = &msg
	r.status.Failures++
	failures := r.status.Failures
	r.mu.Unlock()

	r.metrics.QCPull("error")
	r.logger.Warn("qc_pull_failed", slog.Any("err", err), slog.Int("consecutive_failures", failures))
	return err
}

// Run pulls immediately and then on every interval until ctx is done.
func (r *Reconciler) Run(ctx context.Context) {
	r.tick(ctx)
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.tick(ctx)
		}
	}
}

func (r *Reconciler) tick(ctx context.Context) {
	defer func() {
		if p := recover(); p != nil {
			r.metrics.QCPull("panic")
			r.logger.Error("qc_pull_panic", slog.Any("panic", p))
		}
	}()
	_ = r.PullOnce(ctx)
}

// Snapshot returns the last successfully parsed feed.
func (r *Reconciler) Snapshot() Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.snap
}

// Status returns the pull status.
func (r *Reconciler) Status() Status {
	r.mu.RLock()
	defer r.mu.RUnlock()
	st := r.status
	st.Headers = append([]string{}, st.Headers...)
	return st
}

// History averages the last hours of k into interval-second buckets.
func (r *Reconciler) History(k metric.Key, hours float64, interval int64) []metric.Point {
	return r.Snapshot().History(k, hours, interval, r.now().Unix())
}

// Last returns up to n most recent samples of k.
func (r *Reconciler) Last(k metric.Key, n int) []metric.Point {
	return r.Snapshot().Last(k, n)
}
