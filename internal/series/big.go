// v0
// internal/series/big.go
package series

import (
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/redmozaic77-design/DashboardSCTK/internal/metric"
)

// Selection picks the metric and the hours-back range shown by the big
// series.
type Selection struct {
	Key   metric.Key `json:"key"`
	Hours float64    `json:"hours"`
}

// Validate checks the selection against the key catalog.
func (s Selection) Validate() error {
	if !metric.Known(s.Key) {
		return fmt.Errorf("unknown metric %q", s.Key)
	}
	if s.Hours <= 0 || math.IsNaN(s.Hours) || math.IsInf(s.Hours, 0) {
		return errors.New("hours must be a positive number")
	}
	return nil
}

// BucketWidth derives the bucket width in seconds for a selection. QC
// parameters are sampled hourly at best, so they use coarser buckets.
func BucketWidth(sel Selection) int64 {
	if kind, _ := metric.KindOf(sel.Key); kind == metric.KindQC {
		switch {
		case sel.Hours <= 24:
			return 3600
		case sel.Hours <= 168:
			return 7200
		default:
			return 21600
		}
	}
	switch {
	case sel.Hours <= 1:
		return 60
	case sel.Hours <= 12:
		return 120
	default:
		return 300
	}
}

// Ticket identifies one selection generation. Data loaded with a stale
// ticket is discarded.
type Ticket struct {
	Generation uint64
	Selection  Selection
	Width      int64
}

// BigSnapshot is a read-only copy of the big series.
type BigSnapshot struct {
	Generation uint64                `json:"generation"`
	Selection  Selection             `json:"selection"`
	Width      int64                 `json:"intervalSeconds"`
	Loaded     bool                  `json:"loaded"`
	Points     []metric.LabeledPoint `json:"points"`
}

// Big is the user-selectable detailed series. Changing the selection
// rebuilds it from scratch.
type Big struct {
	mu       sync.Mutex
	capacity int
	loc      *time.Location
	gen      uint64
	sel      Selection
	selected bool
	loaded   bool
	tile     *Tile
}

// NewBig builds an empty big series holding at most capacity points.
func NewBig(capacity int, loc *time.Location) *Big {
	return &Big{capacity: capacity, loc: loc}
}

// Select switches to sel, clearing accumulated points, and returns the
// ticket that a subsequent Load must present.
func (b *Big) Select(sel Selection) (Ticket, error) {
	if err := sel.Validate(); err != nil {
		return Ticket{}, err
	}
	width := BucketWidth(sel)
	layout := LayoutMinutes
	if sel.Hours > 24 {
		layout = LayoutDate
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.gen++
	b.sel = sel
	b.selected = true
	b.loaded = false
	b.tile = NewTile(width, b.capacity, layout, b.loc)
	return Ticket{Generation: b.gen, Selection: sel, Width: width}, nil
}

// Current reports whether t still matches the active selection.
func (b *Big) Current(t Ticket) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.selected && t.Generation == b.gen
}

// Load installs historical points for t. It returns false and changes
// nothing when t is stale.
func (b *Big) Load(t Ticket, points []metric.Point) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.selected || t.Generation != b.gen {
		return false
	}
	// Live samples may have landed before the history arrived; keep the
	// newer ones on top of the loaded range.
	live := b.tile.Points()
	b.tile.Seed(points)
	for _, p := range live {
		b.tile.Append(p.TS, p.Value)
	}
	b.loaded = true
	return true
}

// Append feeds a live sample; samples for other keys are ignored.
func (b *Big) Append(k metric.Key, ts int64, value float64) (Outcome, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.selected || k != b.sel.Key {
		return Dropped, false
	}
	outcome := b.tile.Append(ts, value)
	if outcome == Pushed {
		b.tile.TrimBefore(Bucket(ts-int64(b.sel.Hours*3600), b.tile.Width()))
	}
	return outcome, true
}

// Snapshot returns a copy of the current state.
func (b *Big) Snapshot() BigSnapshot {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.selected {
		return BigSnapshot{Points: []metric.LabeledPoint{}}
	}
	return BigSnapshot{
		Generation: b.gen,
		Selection:  b.sel,
		Width:      b.tile.Width(),
		Loaded:     b.loaded,
		Points:     b.tile.Labeled(),
	}
}
