// v0
// internal/metric/record.go
package metric

// Record is one ingestion event: a timestamp in Unix seconds plus the
// values recognized for that event. A Record is never mutated after
// NewRecord returns; accessors hand out copies.
type Record struct {
	timestamp int64
	values    map[Key]float64
}

// NewRecord copies values into a new immutable record.
func NewRecord(ts int64, values map[Key]float64) Record {
	cp := make(map[Key]float64, len(values))
	for k, v := range values {
		cp[k] = v
	}
	return Record{timestamp: ts, values: cp}
}

// Timestamp returns the event time in Unix seconds.
func (r Record) Timestamp() int64 { return r.timestamp }

// Value returns the value for k, if present.
func (r Record) Value(k Key) (float64, bool) {
	v, ok := r.values[k]
	return v, ok
}

// Len reports how many keys the record carries.
func (r Record) Len() int { return len(r.values) }

// Empty reports whether the record carries no values.
func (r Record) Empty() bool { return len(r.values) == 0 }

// Keys returns the record keys sorted lexically.
func (r Record) Keys() []Key {
	keys := make([]Key, 0, len(r.values))
	for k := range r.values {
		keys = append(keys, k)
	}
	SortKeys(keys)
	return keys
}

// Values returns a copy of the value map.
func (r Record) Values() map[Key]float64 {
	cp := make(map[Key]float64, len(r.values))
	for k, v := range r.values {
		cp[k] = v
	}
	return cp
}

// Point is one sample of a historical range: bucket start and value. Live
// series and historical refetches both use this shape.
type Point struct {
	TS    int64   `json:"ts"`
	Value float64 `json:"value"`
}

// LabeledPoint is a Point already formatted for display.
type LabeledPoint struct {
	TS    int64   `json:"ts"`
	Label string  `json:"label"`
	Value float64 `json:"value"`
}
