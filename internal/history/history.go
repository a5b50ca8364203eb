// v0
// internal/history/history.go
package history

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/redmozaic77-design/DashboardSCTK/internal/fetch"
	"github.com/redmozaic77-design/DashboardSCTK/internal/metric"
	"github.com/redmozaic77-design/DashboardSCTK/internal/series"
)

const (
	DefaultHours    = 24.0
	DefaultInterval = 60
	maxPerKey       = 200_000
)

// Query selects a bucketed historical range.
type Query struct {
	Key      metric.Key
	Hours    float64
	Interval int64
	// Limit keeps only the newest buckets when positive.
	Limit int
}

func (q Query) withDefaults() Query {
	if q.Hours <= 0 {
		q.Hours = DefaultHours
	}
	if q.Interval <= 0 {
		q.Interval = DefaultInterval
	}
	return q
}

// Fetcher returns bucket-averaged points for a query, oldest first.
type Fetcher interface {
	Range(ctx context.Context, q Query) ([]metric.Point, error)
}

// Ring keeps raw samples per key for the retention window.
type Ring struct {
	mu        sync.RWMutex
	retention time.Duration
	samples   map[metric.Key][]metric.Point
	now       func() time.Time
}

func NewRing(retention time.Duration) *Ring {
	if retention <= 0 {
		retention = 48 * time.Hour
	}
	return &Ring{retention: retention, samples: make(map[metric.Key][]metric.Point), now: time.Now}
}

// Add stores every value of rec and prunes samples past retention.
func (r *Ring) Add(rec metric.Record) {
	if rec.Empty() {
		return
	}
	cutoff := r.now().Add(-r.retention).Unix()
	r.mu.Lock()
	defer r.mu.Unlock()
	for k, v := range rec.Values() {
		pts := append(r.samples[k], metric.Point{TS: rec.Timestamp(), Value: v})
		drop := 0
		for drop < len(pts) && pts[drop].TS < cutoff {
			drop++
		}
		if over := len(pts) - drop - maxPerKey; over > 0 {
			drop += over
		}
		if drop > 0 {
			pts = append(pts[:0:0], pts[drop:]...)
		}
		r.samples[k] = pts
	}
}

// Len reports the number of samples held for k.
func (r *Ring) Len(k metric.Key) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.samples[k])
}

func (r *Ring) Range(ctx context.Context, q Query) ([]metric.Point, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	q = q.withDefaults()
	start := r.now().Unix() - int64(q.Hours*3600)

	type acc struct {
		sum float64
		n   int
	}
	buckets := make(map[int64]*acc)
	r.mu.RLock()
	for _, p := range r.samples[q.Key] {
		if p.TS < start {
			continue
		}
		b := series.Bucket(p.TS, q.Interval)
		a := buckets[b]
		if a == nil {
			a = &acc{}
			buckets[b] = a
		}
		a.sum += p.Value
		a.n++
	}
	r.mu.RUnlock()

	out := make([]metric.Point, 0, len(buckets))
	for b, a := range buckets {
		out = append(out, metric.Point{TS: b, Value: a.sum / float64(a.n)})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TS < out[j].TS })
	return limit(out, q.Limit), nil
}

func limit(pts []metric.Point, n int) []metric.Point {
	if n > 0 && len(pts) > n {
		return pts[len(pts)-n:]
	}
	return pts
}

// HTTPFetcher reads ranges from a remote /api/history/{key} endpoint.
type HTTPFetcher struct {
	BaseURL string
	Client  fetch.Doer
}

func (h HTTPFetcher) Range(ctx context.Context, q Query) ([]metric.Point, error) {
	if strings.TrimSpace(h.BaseURL) == "" {
		return nil, errors.New("history base url is empty")
	}
	q = q.withDefaults()
	params := url.Values{}
	params.Set("hours", strconv.FormatFloat(q.Hours, 'f', -1, 64))
	params.Set("interval", strconv.FormatInt(q.Interval, 10))
	if q.Limit > 0 {
		params.Set("limit", strconv.Itoa(q.Limit))
	}
	target := strings.TrimRight(h.BaseURL, "/") + "/api/history/" + url.PathEscape(string(q.Key)) + "?" + params.Encode()

	body, err := fetch.Get(ctx, h.Client, target)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", metric.ErrFeedFetch, err)
	}
	var pts []metric.Point
	if err := json.Unmarshal(body, &pts); err != nil {
		return nil, fmt.Errorf("%w: history payload: %v", metric.ErrMessageDecode, err)
	}
	sort.SliceStable(pts, func(i, j int) bool { return pts[i].TS < pts[j].TS })
	return limit(pts, q.Limit), nil
}
