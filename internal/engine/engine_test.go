// v0
// internal/engine/engine_test.go
package engine

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/redmozaic77-design/DashboardSCTK/internal/derive"
	"github.com/redmozaic77-design/DashboardSCTK/internal/history"
	"github.com/redmozaic77-design/DashboardSCTK/internal/metric"
	"github.com/redmozaic77-design/DashboardSCTK/internal/series"
	"github.com/redmozaic77-design/DashboardSCTK/internal/source"
)

func newTestEngine(t *testing.T, opts Options) *Engine {
	t.Helper()
	opts.Store = series.NewStore(series.StoreConfig{
		Quantity: series.TileConfig{Width: 10 * time.Second, Capacity: 18, Layout: series.LayoutSeconds},
		QC:       series.TileConfig{Width: time.Hour, Capacity: 5, Layout: series.LayoutMinutes},
		Location: time.UTC,
	})
	opts.Big = series.NewBig(720, time.UTC)
	opts.Reservoir = derive.Reservoir{MaxLevel: 8, FloorLevel: 1, LitersPerMeter: 375000, Deadband: 0.2}
	e, err := New(opts)
	if err != nil {
		t.Fatalf("New error: %v", err)
	}
	return e
}

func rec(ts int64, values map[metric.Key]float64) metric.Record {
	return metric.NewRecord(ts, values)
}

func TestApplyUpdatesLatestTilesAndDerived(t *testing.T) {
	e := newTestEngine(t, Options{})
	e.apply(event{rec: rec(1000, map[metric.Key]float64{
		metric.ReservoirLevel:    7.9,
		metric.IntakeTotal:       100,
		metric.DistributionTotal: 50,
		metric.NetFlow:           50,
	}), origin: OriginLive})
	e.apply(event{rec: rec(1005, map[metric.Key]float64{metric.PressureDistribution: 2.5}), origin: OriginLive})

	latest := e.Latest()
	if v, ok := latest.Value(metric.ReservoirLevel); !ok || v != 7.9 {
		t.Fatalf("level should be carried forward, got %v %v", v, ok)
	}
	if v, ok := latest.Value(metric.PressureDistribution); !ok || v != 2.5 {
		t.Fatalf("pressure missing from latest: %v %v", v, ok)
	}
	if latest.Timestamp() != 1005 {
		t.Fatalf("latest ts = %d", latest.Timestamp())
	}

	st, ok := e.Derived()
	if !ok || st.Trend != derive.TrendUp || st.ETASeconds == nil {
		t.Fatalf("unexpected derived state %+v", st)
	}

	if pts, _ := e.Tile(metric.PressureDistribution); len(pts) != 1 {
		t.Fatalf("pressure tile = %+v", pts)
	}
	if pts, _ := e.Tile(metric.ReservoirLevel); len(pts) != 1 {
		t.Fatalf("level tile must not receive carried values: %+v", pts)
	}
}

func TestApplyRoutesQCValues(t *testing.T) {
	e := newTestEngine(t, Options{})
	e.apply(event{rec: rec(3600, map[metric.Key]float64{metric.PH: 7.1}), origin: OriginQCFeed})

	if v, ok := e.QC().Value(metric.PH); !ok || v != 7.1 {
		t.Fatalf("qc ph = %v %v", v, ok)
	}
	if !e.Latest().Empty() {
		t.Fatalf("qc values leaked into quantity view")
	}
	if _, ok := e.Derived(); ok {
		t.Fatalf("derived state without level")
	}
	if pts, _ := e.Tile(metric.PH); len(pts) != 1 {
		t.Fatalf("qc tile = %+v", pts)
	}
}

func TestSubmitRejectsEmptyAndFullQueue(t *testing.T) {
	e := newTestEngine(t, Options{QueueSize: 1})
	if err := e.Submit(metric.Record{}, OriginLive); !errors.Is(err, metric.ErrNormalizationEmpty) {
		t.Fatalf("expected ErrNormalizationEmpty, got %v", err)
	}
	r := rec(1, map[metric.Key]float64{metric.PressureDistribution: 1})
	if err := e.Submit(r, OriginLive); err != nil {
		t.Fatalf("first submit: %v", err)
	}
	if err := e.Submit(r, OriginLive); !errors.Is(err, ErrQueueFull) {
		t.Fatalf("expected ErrQueueFull, got %v", err)
	}
}

func TestRunAppliesInOrderAndNotifies(t *testing.T) {
	e := newTestEngine(t, Options{})
	_, updates, cancelSub := e.Subscribe()
	defer cancelSub()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		_ = e.Run(ctx)
	}()

	for i, v := range []float64{1, 2, 3} {
		if err := e.Submit(rec(int64(1000+i), map[metric.Key]float64{metric.PressureDistribution: v}), OriginLive); err != nil {
			t.Fatalf("submit %d: %v", i, err)
		}
	}

	deadline := time.After(2 * time.Second)
	for {
		select {
		case <-updates:
		case <-deadline:
			t.Fatalf("records not applied in time")
		}
		pts, _ := e.Tile(metric.PressureDistribution)
		if len(pts) == 1 && pts[0].Value == 3 {
			return
		}
	}
}

func TestApplyFeedsSinks(t *testing.T) {
	sink := &collectSink{}
	e := newTestEngine(t, Options{Sinks: []Sink{sink}})
	e.apply(event{rec: rec(5, map[metric.Key]float64{metric.PressureDistribution: 1}), origin: OriginLive})
	if len(sink.got) != 1 {
		t.Fatalf("sink received %d records", len(sink.got))
	}
}

type collectSink struct {
	got []metric.Record
}

func (c *collectSink) Enqueue(rec metric.Record) { c.got = append(c.got, rec) }

func TestResetOnReconnect(t *testing.T) {
	e := newTestEngine(t, Options{ResetOnReconnect: true})
	e.SetStatus(source.Status{State: source.Connected, Candidate: 0})
	e.apply(event{rec: rec(10, map[metric.Key]float64{metric.PressureDistribution: 1, metric.PH: 7}), origin: OriginLive})
	e.SetStatus(source.Status{State: source.Disconnected, Candidate: 0})
	if pts, _ := e.Tile(metric.PressureDistribution); len(pts) != 1 {
		t.Fatalf("disconnect alone must not reset")
	}
	e.SetStatus(source.Status{State: source.Connected, Candidate: 0})
	if pts, _ := e.Tile(metric.PressureDistribution); len(pts) != 0 {
		t.Fatalf("quantity tiles should reset on reconnect: %+v", pts)
	}
	if pts, _ := e.Tile(metric.PH); len(pts) != 1 {
		t.Fatalf("qc tiles must survive reconnect")
	}
	if st := e.Status(); st.State != source.Connected {
		t.Fatalf("status = %+v", st)
	}
}

type staticFetcher map[metric.Key][]metric.Point

func (f staticFetcher) Range(ctx context.Context, q history.Query) ([]metric.Point, error) {
	return f[q.Key], nil
}

func TestWarmKeepsLivePointsAppliedFirst(t *testing.T) {
	var hist []metric.Point
	for ts := int64(1900); ts <= 2000; ts += 10 {
		hist = append(hist, metric.Point{TS: ts, Value: 1})
	}
	e := newTestEngine(t, Options{Fetcher: staticFetcher{metric.ReservoirLevel: hist}})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		_ = e.Run(ctx)
	}()

	if err := e.Submit(rec(2005, map[metric.Key]float64{metric.ReservoirLevel: 7.5}), OriginLive); err != nil {
		t.Fatalf("submit: %v", err)
	}
	deadline := time.Now().Add(2 * time.Second)
	for {
		if pts, _ := e.Tile(metric.ReservoirLevel); len(pts) == 1 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("live record not applied")
		}
		time.Sleep(5 * time.Millisecond)
	}

	warmCtx, warmCancel := context.WithTimeout(ctx, 2*time.Second)
	defer warmCancel()
	e.Warm(warmCtx,
		map[metric.Kind]time.Duration{metric.KindQuantity: 10 * time.Second},
		map[metric.Kind]int{metric.KindQuantity: 18})

	pts, _ := e.Tile(metric.ReservoirLevel)
	if len(pts) != len(hist) {
		t.Fatalf("expected %d points after warm-up, got %+v", len(hist), pts)
	}
	if pts[0].TS != 1900 {
		t.Fatalf("history not merged: %+v", pts)
	}
	if last := pts[len(pts)-1]; last.TS != 2000 || last.Value != 7.5 {
		t.Fatalf("live point replaced by history: %+v", last)
	}
}

// gatedFetcher blocks the first call until released; with honorCtx it
// returns early when the context is cancelled.
type gatedFetcher struct {
	honorCtx bool
	entered  chan struct{}
	release  chan struct{}

	mu    sync.Mutex
	calls int
}

func (g *gatedFetcher) Range(ctx context.Context, q history.Query) ([]metric.Point, error) {
	g.mu.Lock()
	g.calls++
	first := g.calls == 1
	g.mu.Unlock()
	if first {
		close(g.entered)
		if g.honorCtx {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-g.release:
			}
		} else {
			<-g.release
		}
		return []metric.Point{{TS: 60, Value: 111}}, nil
	}
	return []metric.Point{{TS: 120, Value: 2}, {TS: 180, Value: 3}}, nil
}

func TestSelectBigCancelsInFlightLoad(t *testing.T) {
	f := &gatedFetcher{honorCtx: true, entered: make(chan struct{}), release: make(chan struct{})}
	e := newTestEngine(t, Options{Fetcher: f})

	firstErr := make(chan error, 1)
	go func() {
		_, err := e.SelectBig(context.Background(), series.Selection{Key: metric.PressureDistribution, Hours: 1})
		firstErr <- err
	}()
	<-f.entered

	snap, err := e.SelectBig(context.Background(), series.Selection{Key: metric.ReservoirLevel, Hours: 1})
	if err != nil {
		t.Fatalf("second selection: %v", err)
	}
	if err := <-firstErr; !errors.Is(err, ErrSuperseded) {
		t.Fatalf("first selection should be superseded, got %v", err)
	}
	if snap.Selection.Key != metric.ReservoirLevel || !snap.Loaded || len(snap.Points) != 2 {
		t.Fatalf("unexpected snapshot %+v", snap)
	}
}

func TestSelectBigDiscardsLateResult(t *testing.T) {
	f := &gatedFetcher{entered: make(chan struct{}), release: make(chan struct{})}
	e := newTestEngine(t, Options{Fetcher: f})

	firstErr := make(chan error, 1)
	go func() {
		_, err := e.SelectBig(context.Background(), series.Selection{Key: metric.PressureDistribution, Hours: 1})
		firstErr <- err
	}()
	<-f.entered

	if _, err := e.SelectBig(context.Background(), series.Selection{Key: metric.ReservoirLevel, Hours: 1}); err != nil {
		t.Fatalf("second selection: %v", err)
	}
	close(f.release)
	if err := <-firstErr; !errors.Is(err, ErrSuperseded) {
		t.Fatalf("late result should be superseded, got %v", err)
	}
	snap := e.Big()
	if snap.Selection.Key != metric.ReservoirLevel || len(snap.Points) != 2 {
		t.Fatalf("late result overwrote newer selection: %+v", snap)
	}
	for _, p := range snap.Points {
		if p.Value == 111 {
			t.Fatalf("stale point leaked into snapshot")
		}
	}
}

func TestSignaturesChangeWithValues(t *testing.T) {
	a := rec(1, map[metric.Key]float64{metric.ReservoirLevel: 3})
	b := rec(1, map[metric.Key]float64{metric.ReservoirLevel: 3.5})
	if QuantitySignature(a) == QuantitySignature(b) {
		t.Fatalf("signature should change with level")
	}
	if QCSignature("x", "y", a) != QCSignature("x", "y", a) {
		t.Fatalf("signature must be deterministic")
	}
}
