// v0
// internal/series/tile.go
package series

import (
	"time"

	"github.com/redmozaic77-design/DashboardSCTK/internal/metric"
)

// Outcome reports what Append did with a sample.
type Outcome int

const (
	// Pushed means the sample opened a new bucket.
	Pushed Outcome = iota
	// Overwritten means the sample replaced the value of the current bucket.
	Overwritten
	// Dropped means the sample belonged to a bucket older than the newest one.
	Dropped
)

func (o Outcome) String() string {
	switch o {
	case Pushed:
		return "pushed"
	case Overwritten:
		return "overwritten"
	case Dropped:
		return "dropped"
	default:
		return "unknown"
	}
}

// Label layouts used by the dashboard.
const (
	LayoutSeconds = "15:04:05"
	LayoutMinutes = "15:04"
	LayoutDate    = "2006-01-02 15:04"
)

// Tile is a bounded series with at most one point per fixed-width time
// bucket. It is not safe for concurrent use; Store serializes access.
type Tile struct {
	width    int64
	capacity int
	layout   string
	loc      *time.Location
	points   []metric.Point
}

// NewTile builds an empty tile. Width is in seconds.
func NewTile(width int64, capacity int, layout string, loc *time.Location) *Tile {
	if width <= 0 {
		width = 1
	}
	if capacity <= 0 {
		capacity = 1
	}
	if loc == nil {
		loc = time.Local
	}
	if layout == "" {
		layout = LayoutSeconds
	}
	return &Tile{width: width, capacity: capacity, layout: layout, loc: loc, points: make([]metric.Point, 0, capacity)}
}

// Bucket floors ts to the start of its bucket.
func Bucket(ts, width int64) int64 {
	if width <= 0 {
		return ts
	}
	b := ts / width * width
	if ts < 0 && ts%width != 0 {
		b -= width
	}
	return b
}

// Width returns the bucket width in seconds.
func (t *Tile) Width() int64 { return t.width }

// Capacity returns the maximum number of points retained.
func (t *Tile) Capacity() int { return t.capacity }

// Len returns the number of stored points.
func (t *Tile) Len() int { return len(t.points) }

// Append stores value in the bucket of ts. A sample in the newest bucket
// overwrites it, a sample in a later bucket is pushed and the oldest point
// evicted on overflow, a sample in an earlier bucket is dropped.
func (t *Tile) Append(ts int64, value float64) Outcome {
	bucket := Bucket(ts, t.width)
	if n := len(t.points); n > 0 {
		last := t.points[n-1].TS
		switch {
		case bucket == last:
			t.points[n-1].Value = value
			return Overwritten
		case bucket < last:
			return Dropped
		}
	}
	t.points = append(t.points, metric.Point{TS: bucket, Value: value})
	if over := len(t.points) - t.capacity; over > 0 {
		t.points = append(t.points[:0], t.points[over:]...)
	}
	return Pushed
}

// Seed replaces the content with points, bucketing them the same way Append
// does. Points must be ordered by time; out-of-order ones are dropped.
func (t *Tile) Seed(points []metric.Point) {
	t.Reset()
	for _, p := range points {
		t.Append(p.TS, p.Value)
	}
}

// Merge lays points under the current content. A bucket present in both
// keeps the current value. Points must be ordered by time.
func (t *Tile) Merge(points []metric.Point) {
	live := append([]metric.Point(nil), t.points...)
	t.Reset()
	j := 0
	for _, p := range points {
		for j < len(live) && live[j].TS < Bucket(p.TS, t.width) {
			t.Append(live[j].TS, live[j].Value)
			j++
		}
		if j < len(live) && live[j].TS == Bucket(p.TS, t.width) {
			continue
		}
		t.Append(p.TS, p.Value)
	}
	for ; j < len(live); j++ {
		t.Append(live[j].TS, live[j].Value)
	}
}

// TrimBefore removes points whose bucket starts before ts.
func (t *Tile) TrimBefore(ts int64) {
	i := 0
	for i < len(t.points) && t.points[i].TS < ts {
		i++
	}
	if i > 0 {
		t.points = append(t.points[:0], t.points[i:]...)
	}
}

// Reset drops every point.
func (t *Tile) Reset() {
	t.points = t.points[:0]
}

// Last returns the newest point.
func (t *Tile) Last() (metric.Point, bool) {
	if len(t.points) == 0 {
		return metric.Point{}, false
	}
	return t.points[len(t.points)-1], true
}

// Points returns a copy of the stored points, oldest first.
func (t *Tile) Points() []metric.Point {
	out := make([]metric.Point, len(t.points))
	copy(out, t.points)
	return out
}

// Labeled returns the stored points with display labels, oldest first.
func (t *Tile) Labeled() []metric.LabeledPoint {
	out := make([]metric.LabeledPoint, len(t.points))
	for i, p := range t.points {
		out[i] = metric.LabeledPoint{TS: p.TS, Label: t.label(p.TS), Value: p.Value}
	}
	return out
}

func (t *Tile) label(ts int64) string {
	return time.Unix(ts, 0).In(t.loc).Format(t.layout)
}
