// v0
// internal/history/history_test.go
package history

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/redmozaic77-design/DashboardSCTK/internal/metric"
)

func newTestRing(now int64) *Ring {
	r := NewRing(time.Hour)
	r.now = func() time.Time { return time.Unix(now, 0) }
	return r
}

func TestRingRangeAveragesBuckets(t *testing.T) {
	r := newTestRing(10_000)
	for _, s := range []struct {
		ts int64
		v  float64
	}{{9_600, 1}, {9_610, 3}, {9_660, 10}, {9_725, 4}} {
		r.Add(metric.NewRecord(s.ts, map[metric.Key]float64{metric.PressureDistribution: s.v}))
	}
	pts, err := r.Range(context.Background(), Query{Key: metric.PressureDistribution, Hours: 1, Interval: 60})
	if err != nil {
		t.Fatalf("Range error: %v", err)
	}
	want := []metric.Point{{TS: 9_600, Value: 2}, {TS: 9_660, Value: 10}, {TS: 9_720, Value: 4}}
	if len(pts) != len(want) {
		t.Fatalf("expected %d buckets, got %+v", len(want), pts)
	}
	for i := range want {
		if pts[i] != want[i] {
			t.Fatalf("bucket %d = %+v want %+v", i, pts[i], want[i])
		}
	}

	limited, _ := r.Range(context.Background(), Query{Key: metric.PressureDistribution, Hours: 1, Interval: 60, Limit: 1})
	if len(limited) != 1 || limited[0].TS != 9_720 {
		t.Fatalf("limit should keep newest bucket: %+v", limited)
	}
}

func TestRingPrunesPastRetention(t *testing.T) {
	r := newTestRing(10_000)
	r.Add(metric.NewRecord(5_000, map[metric.Key]float64{metric.ReservoirLevel: 4}))
	r.Add(metric.NewRecord(9_999, map[metric.Key]float64{metric.ReservoirLevel: 5}))
	if got := r.Len(metric.ReservoirLevel); got != 1 {
		t.Fatalf("expected pruned ring of 1, got %d", got)
	}
}

func TestHTTPFetcherQueriesRemote(t *testing.T) {
	var gotPath, gotInterval string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotInterval = r.URL.Query().Get("interval")
		_ = json.NewEncoder(w).Encode([]metric.Point{{TS: 120, Value: 2}, {TS: 60, Value: 1}})
	}))
	defer srv.Close()

	f := HTTPFetcher{BaseURL: srv.URL + "/", Client: srv.Client()}
	pts, err := f.Range(context.Background(), Query{Key: metric.IntakeTotal, Hours: 12, Interval: 120})
	if err != nil {
		t.Fatalf("Range error: %v", err)
	}
	if gotPath != "/api/history/TOTAL_FLOW_ITK" || gotInterval != "120" {
		t.Fatalf("unexpected request path=%q interval=%q", gotPath, gotInterval)
	}
	if len(pts) != 2 || pts[0].TS != 60 {
		t.Fatalf("points should be sorted: %+v", pts)
	}
}
