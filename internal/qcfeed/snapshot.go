// v0
// internal/qcfeed/snapshot.go
package qcfeed

import (
	"sort"

	"github.com/redmozaic77-design/DashboardSCTK/internal/metric"
	"github.com/redmozaic77-design/DashboardSCTK/internal/series"
)

// Entry is the most recent value observed for one QC key.
type Entry struct {
	TS    int64
	DT    string
	Value float64
}

// LatestEntry is the wire form of Entry; nil fields mean no value yet.
type LatestEntry struct {
	TS    *int64   `json:"ts"`
	DT    string   `json:"dt"`
	Value *float64 `json:"value"`
}

// Snapshot is the last successfully parsed feed. It is never mutated after
// construction.
type Snapshot struct {
	Headers []string
	Rows    []Row
	Latest  map[metric.Key]Entry

	LastQCUpdate    string
	LastQCUpdateTS  int64
	LastChlorUpdate string
}

func newSnapshot(headers []string, rows []Row) Snapshot {
	s := Snapshot{
		Headers:         append([]string(nil), headers...),
		Rows:            rows,
		Latest:          make(map[metric.Key]Entry),
		LastQCUpdate:    "-",
		LastChlorUpdate: "-",
	}
	for _, k := range metric.QCKeys() {
		for i := len(rows) - 1; i >= 0; i-- {
			if v, ok := rows[i].Values[k]; ok {
				s.Latest[k] = Entry{TS: rows[i].TS, DT: rows[i].DT, Value: v}
				break
			}
		}
	}
	for _, k := range qcUpdateKeys {
		if e, ok := s.Latest[k]; ok && e.TS > s.LastQCUpdateTS {
			s.LastQCUpdateTS = e.TS
			s.LastQCUpdate = e.DT
		}
	}
	if e, ok := s.Latest[metric.ResidualChlorine]; ok {
		s.LastChlorUpdate = e.DT
	}
	return s
}

// Empty reports whether no pull has succeeded yet.
func (s Snapshot) Empty() bool { return len(s.Rows) == 0 }

// LatestView lists every QC key, with placeholders for keys never seen.
func (s Snapshot) LatestView() map[metric.Key]LatestEntry {
	out := make(map[metric.Key]LatestEntry, len(metric.QCKeys()))
	for _, k := range metric.QCKeys() {
		e, ok := s.Latest[k]
		if !ok {
			out[k] = LatestEntry{DT: "-"}
			continue
		}
		ts, v := e.TS, e.Value
		out[k] = LatestEntry{TS: &ts, DT: e.DT, Value: &v}
	}
	return out
}

// Record folds the latest value per key into one record stamped with the
// newest contributing timestamp.
func (s Snapshot) Record() metric.Record {
	values := make(map[metric.Key]float64, len(s.Latest))
	var ts int64
	for k, e := range s.Latest {
		values[k] = e.Value
		if e.TS > ts {
			ts = e.TS
		}
	}
	return metric.NewRecord(ts, values)
}

// History averages values of k into interval-wide buckets over the last
// hours before now.
func (s Snapshot) History(k metric.Key, hours float64, interval, now int64) []metric.Point {
	if interval <= 0 {
		interval = 3600
	}
	start := now - int64(hours*3600)
	type acc struct {
		sum float64
		n   int
	}
	buckets := make(map[int64]*acc)
	for _, r := range s.Rows {
		v, ok := r.Values[k]
		if !ok || r.TS < start {
			continue
		}
		b := series.Bucket(r.TS, interval)
		a := buckets[b]
		if a == nil {
			a = &acc{}
			buckets[b] = a
		}
		a.sum += v
		a.n++
	}
	out := make([]metric.Point, 0, len(buckets))
	for b, a := range buckets {
		out = append(out, metric.Point{TS: b, Value: a.sum / float64(a.n)})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TS < out[j].TS })
	return out
}

// Last returns up to n most recent samples of k in ascending order.
func (s Snapshot) Last(k metric.Key, n int) []metric.Point {
	if n <= 0 {
		return []metric.Point{}
	}
	out := make([]metric.Point, 0, n)
	for i := len(s.Rows) - 1; i >= 0 && len(out) < n; i-- {
		if v, ok := s.Rows[i].Values[k]; ok {
			out = append(out, metric.Point{TS: s.Rows[i].TS, Value: v})
		}
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out
}
