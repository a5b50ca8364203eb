// v0
// internal/engine/view.go
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redmozaic77-design/DashboardSCTK/internal/derive"
	"github.com/redmozaic77-design/DashboardSCTK/internal/history"
	"github.com/redmozaic77-design/DashboardSCTK/internal/metric"
	"github.com/redmozaic77-design/DashboardSCTK/internal/series"
	"github.com/redmozaic77-design/DashboardSCTK/internal/source"
)

// Latest returns the carried-forward quantity record.
func (e *Engine) Latest() metric.Record {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.latest
}

// QC returns the latest QC values seen from any source.
func (e *Engine) QC() metric.Record {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.qc
}

// Derived returns the reservoir state, or false before a level arrived.
func (e *Engine) Derived() (derive.State, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.derived, e.hasDerived
}

// Status returns the last reported connection state.
func (e *Engine) Status() source.Status {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.status
}

// LastApplied reports when the last record was applied.
func (e *Engine) LastApplied() time.Time {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.lastApplied
}

// Tile returns the rolling series of k.
func (e *Engine) Tile(k metric.Key) ([]metric.LabeledPoint, bool) {
	return e.store.Snapshot(k)
}

// Tiles returns every rolling series.
func (e *Engine) Tiles() map[metric.Key][]metric.LabeledPoint {
	return e.store.SnapshotAll()
}

// Big returns the current big series.
func (e *Engine) Big() series.BigSnapshot {
	return e.big.Snapshot()
}

// History serves a historical range from the engine's fetcher.
func (e *Engine) History(ctx context.Context, q history.Query) ([]metric.Point, error) {
	if !metric.Known(q.Key) {
		return nil, fmt.Errorf("unknown metric %q", q.Key)
	}
	return e.fetcher.Range(ctx, q)
}

// ErrSuperseded means a newer selection replaced the one being loaded.
var ErrSuperseded = errors.New("selection superseded")

// SelectBig switches the big series to sel and loads its history. Any
// in-flight load of an older selection is cancelled, and a late result for
// it is discarded.
func (e *Engine) SelectBig(ctx context.Context, sel series.Selection) (series.BigSnapshot, error) {
	fetchCtx, cancel := context.WithCancel(ctx)
	e.mu.Lock()
	ticket, err := e.big.Select(sel)
	if err != nil {
		e.mu.Unlock()
		cancel()
		return series.BigSnapshot{}, err
	}
	if e.bigCancel != nil {
		e.bigCancel()
	}
	e.bigCancel = cancel
	e.mu.Unlock()
	defer func() {
		e.mu.Lock()
		if e.big.Current(ticket) {
			e.bigCancel = nil
		}
		e.mu.Unlock()
		cancel()
	}()

	points, err := e.loadRange(fetchCtx, ticket)
	if !e.big.Current(ticket) {
		return e.big.Snapshot(), ErrSuperseded
	}
	if err != nil {
		e.logger.Warn("big_series_load_failed", slog.String("key", string(sel.Key)), slog.Any("err", err))
		return e.big.Snapshot(), err
	}
	if !e.big.Load(ticket, points) {
		return e.big.Snapshot(), ErrSuperseded
	}
	e.publish()
	return e.big.Snapshot(), nil
}

func (e *Engine) loadRange(ctx context.Context, t series.Ticket) ([]metric.Point, error) {
	sel := t.Selection
	if kind, _ := metric.KindOf(sel.Key); kind == metric.KindQC && e.qcHistory != nil {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		return e.qcHistory.History(sel.Key, sel.Hours, t.Width), nil
	}
	return e.fetcher.Range(ctx, history.Query{Key: sel.Key, Hours: sel.Hours, Interval: t.Width})
}

// Warm seeds every tile from history so sparklines are not empty at start.
// History is merged on the ingestion goroutine under any live points
// already applied, so Run must be active. Warm returns when every merge
// was applied or ctx is done.
func (e *Engine) Warm(ctx context.Context, widths map[metric.Kind]time.Duration, capacities map[metric.Kind]int) {
	for _, k := range e.store.Keys() {
		kind, _ := metric.KindOf(k)
		width, capacity := widths[kind], capacities[kind]
		if width <= 0 || capacity <= 0 {
			continue
		}
		hours := width.Hours() * float64(capacity)
		q := history.Query{Key: k, Hours: hours, Interval: int64(width / time.Second), Limit: capacity}
		var (
			points []metric.Point
			err    error
		)
		if kind == metric.KindQC && e.qcHistory != nil {
			points = e.qcHistory.History(k, hours, q.Interval)
		} else {
			points, err = e.fetcher.Range(ctx, q)
		}
		if err != nil {
			e.logger.Warn("tile_warm_failed", slog.String("key", string(k)), slog.Any("err", err))
			continue
		}
		if len(points) == 0 {
			continue
		}
		if err := e.seed(ctx, k, points); err != nil {
			return
		}
	}
}

func (e *Engine) seed(ctx context.Context, k metric.Key, points []metric.Point) error {
	job := &seedJob{key: k, points: points, done: make(chan struct{})}
	select {
	case e.queue <- event{seed: job, origin: "warm"}:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-job.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
