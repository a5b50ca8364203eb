// v0
// internal/series/store.go
package series

import (
	"fmt"
	"sync"
	"time"

	"github.com/redmozaic77-design/DashboardSCTK/internal/metric"
)

// TileConfig sizes one family of tiles.
type TileConfig struct {
	Width    time.Duration
	Capacity int
	Layout   string
}

// StoreConfig sizes the quantity tiles and the QC tiles separately.
type StoreConfig struct {
	Quantity TileConfig
	QC       TileConfig
	Location *time.Location
}

type tileEntry struct {
	mu   sync.Mutex
	tile *Tile
}

// Store keeps one bounded tile per known key. Each tile has its own lock
// so the bucket compare-and-update step is atomic per series while
// different series never contend.
type Store struct {
	cfg   StoreConfig
	tiles map[metric.Key]*tileEntry
	order []metric.Key
}

// NewStore allocates a tile for every quantity, derived and QC key.
func NewStore(cfg StoreConfig) *Store {
	s := &Store{cfg: cfg, tiles: make(map[metric.Key]*tileEntry)}
	for _, k := range metric.TileKeys() {
		s.add(k, cfg.Quantity)
	}
	for _, k := range metric.QCKeys() {
		s.add(k, cfg.QC)
	}
	return s
}

func (s *Store) add(k metric.Key, tc TileConfig) {
	s.tiles[k] = &tileEntry{tile: NewTile(int64(tc.Width/time.Second), tc.Capacity, tc.Layout, s.cfg.Location)}
	s.order = append(s.order, k)
}

// Keys returns the keys held by the store in display order.
func (s *Store) Keys() []metric.Key {
	out := make([]metric.Key, len(s.order))
	copy(out, s.order)
	return out
}

// Append adds one sample to the tile of k.
func (s *Store) Append(k metric.Key, ts int64, value float64) (Outcome, error) {
	e, ok := s.tiles[k]
	if !ok {
		return Dropped, fmt.Errorf("unknown series %q", k)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.tile.Append(ts, value), nil
}

// AppendRecord adds every value of rec to its tile and returns the outcome
// per key.
func (s *Store) AppendRecord(rec metric.Record) map[metric.Key]Outcome {
	out := make(map[metric.Key]Outcome, rec.Len())
	for _, k := range rec.Keys() {
		v, _ := rec.Value(k)
		outcome, err := s.Append(k, rec.Timestamp(), v)
		if err != nil {
			continue
		}
		out[k] = outcome
	}
	return out
}

// Merge lays history points under the tile of k, keeping live points.
func (s *Store) Merge(k metric.Key, points []metric.Point) error {
	e, ok := s.tiles[k]
	if !ok {
		return fmt.Errorf("unknown series %q", k)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.tile.Merge(points)
	return nil
}

// Snapshot returns the labeled points of k, oldest first.
func (s *Store) Snapshot(k metric.Key) ([]metric.LabeledPoint, bool) {
	e, ok := s.tiles[k]
	if !ok {
		return nil, false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.tile.Labeled(), true
}

// SnapshotAll returns every tile keyed by metric.
func (s *Store) SnapshotAll() map[metric.Key][]metric.LabeledPoint {
	out := make(map[metric.Key][]metric.LabeledPoint, len(s.tiles))
	for _, k := range s.order {
		pts, _ := s.Snapshot(k)
		out[k] = pts
	}
	return out
}

// Len reports the number of points held for k.
func (s *Store) Len(k metric.Key) int {
	e, ok := s.tiles[k]
	if !ok {
		return 0
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.tile.Len()
}

// Reset clears every tile of the given kinds, or all tiles when no kind is
// given.
func (s *Store) Reset(kinds ...metric.Kind) {
	for _, k := range s.order {
		if len(kinds) > 0 {
			kind, _ := metric.KindOf(k)
			match := false
			for _, want := range kinds {
				if kind == want {
					match = true
					break
				}
			}
			if !match {
				continue
			}
		}
		e := s.tiles[k]
		e.mu.Lock()
		e.tile.Reset()
		e.mu.Unlock()
	}
}
