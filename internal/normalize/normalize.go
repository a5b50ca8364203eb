// v0
// internal/normalize/normalize.go
package normalize

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/redmozaic77-design/DashboardSCTK/internal/metric"
)

// maxUnwrap bounds how many wrapper objects are peeled off a payload.
const maxUnwrap = 2

// wrapperKeys are tried in order at each unwrap level.
var wrapperKeys = []string{"data", "payload"}

// timestampKeys may carry the event time inside the payload itself.
var timestampKeys = []string{"ts", "timestamp"}

// DefaultMaxLead is how far ahead of the receive time a payload timestamp
// may run before it is rejected.
const DefaultMaxLead = 5 * time.Minute

// Result is the outcome of normalizing one payload.
type Result struct {
	Record metric.Record
	// Dropped lists known keys whose values could not be parsed.
	Dropped []metric.Key
}

// Normalizer converts raw payloads into canonical records restricted to a
// fixed key set.
type Normalizer struct {
	allowed map[string]metric.Key
	// deriveNet injects metric.NetFlow when both totals are present.
	deriveNet bool
	maxLead   int64
	onReject  func(error)
}

// Option tunes a Normalizer.
type Option func(*Normalizer)

// WithMaxLead bounds how far a payload timestamp may run ahead of the
// receive time. Non-positive values keep the default.
func WithMaxLead(d time.Duration) Option {
	return func(n *Normalizer) {
		if secs := int64(d / time.Second); secs > 0 {
			n.maxLead = secs
		}
	}
}

// WithRejectHook is called with an ErrNumericParse-wrapped error whenever
// a payload timestamp is discarded in favour of the receive time.
func WithRejectHook(fn func(error)) Option {
	return func(n *Normalizer) { n.onReject = fn }
}

// New builds a normalizer accepting only keys. The net flow key is derived
// whenever both flow totals are accepted.
func New(keys []metric.Key, opts ...Option) *Normalizer {
	allowed := make(map[string]metric.Key, len(keys))
	var intake, distribution bool
	for _, k := range keys {
		allowed[canonical(string(k))] = k
		switch k {
		case metric.IntakeTotal:
			intake = true
		case metric.DistributionTotal:
			distribution = true
		}
	}
	n := &Normalizer{
		allowed:   allowed,
		deriveNet: intake && distribution,
		maxLead:   int64(DefaultMaxLead / time.Second),
	}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

// Quantity returns the normalizer for the real-time channel.
func Quantity(opts ...Option) *Normalizer { return New(metric.QuantityKeys(), opts...) }

// QC returns the normalizer for water-quality snapshots.
func QC(opts ...Option) *Normalizer { return New(metric.QCKeys(), opts...) }

// Normalize decodes raw text and normalizes it. ts is the receive time; a
// positive timestamp inside the payload replaces it unless it runs more
// than the allowed lead ahead of ts.
func (n *Normalizer) Normalize(raw []byte, ts int64) (Result, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return Result{}, fmt.Errorf("empty payload: %w", metric.ErrMessageDecode)
	}
	decoded, err := decode(trimmed)
	if err != nil {
		return Result{}, err
	}
	return n.NormalizeValue(decoded, ts)
}

// NormalizeValue normalizes an already decoded payload.
func (n *Normalizer) NormalizeValue(v any, ts int64) (Result, error) {
	if s, ok := v.(string); ok {
		decoded, err := decode([]byte(strings.TrimSpace(s)))
		if err != nil {
			return Result{}, err
		}
		v = decoded
	}
	obj, ok := v.(map[string]any)
	if !ok {
		return Result{}, fmt.Errorf("payload is %T, not an object: %w", v, metric.ErrMessageDecode)
	}

	received := ts
	if own, ok := payloadTimestamp(obj); ok {
		ts = n.Stamp(own, received)
	}
	obj = unwrap(obj)
	if own, ok := payloadTimestamp(obj); ok {
		ts = n.Stamp(own, received)
	}

	values := make(map[metric.Key]float64, len(obj))
	var dropped []metric.Key
	for rawKey, rawVal := range obj {
		key, known := n.allowed[canonical(rawKey)]
		if !known {
			continue
		}
		f, err := ParseFloat(rawVal)
		if err != nil {
			dropped = append(dropped, key)
			continue
		}
		values[key] = f
	}
	if len(values) == 0 {
		return Result{Dropped: dropped}, metric.ErrNormalizationEmpty
	}

	if n.deriveNet {
		intake, okI := values[metric.IntakeTotal]
		dist, okD := values[metric.DistributionTotal]
		if okI && okD {
			values[metric.NetFlow] = intake - dist
		}
	}
	metric.SortKeys(dropped)
	return Result{Record: metric.NewRecord(ts, values), Dropped: dropped}, nil
}

// unwrap peels at most maxUnwrap wrapper levels. A wrapper value may be an
// object or a JSON-encoded object string; anything else stops unwrapping.
func unwrap(obj map[string]any) map[string]any {
	for level := 0; level < maxUnwrap; level++ {
		inner, ok := wrapped(obj)
		if !ok {
			return obj
		}
		obj = inner
	}
	return obj
}

func wrapped(obj map[string]any) (map[string]any, bool) {
	for _, name := range wrapperKeys {
		raw, ok := lookupFold(obj, name)
		if !ok {
			continue
		}
		switch inner := raw.(type) {
		case map[string]any:
			return inner, true
		case string:
			decoded, err := decode([]byte(strings.TrimSpace(inner)))
			if err != nil {
				continue
			}
			if m, ok := decoded.(map[string]any); ok {
				return m, true
			}
		}
	}
	return nil, false
}

func lookupFold(obj map[string]any, name string) (any, bool) {
	if v, ok := obj[name]; ok {
		return v, true
	}
	for k, v := range obj {
		if strings.EqualFold(k, name) {
			return v, true
		}
	}
	return nil, false
}

// Stamp returns own, folded to epoch seconds, when it does not run ahead of
// received by more than the allowed lead. Otherwise received wins and the
// reject hook is told.
func (n *Normalizer) Stamp(own, received int64) int64 {
	secs := EpochSeconds(own)
	if secs <= 0 {
		return received
	}
	if received > 0 && secs > received+n.maxLead {
		if n.onReject != nil {
			n.onReject(fmt.Errorf("timestamp %d is %ds ahead of receive time: %w",
				own, secs-received, metric.ErrNumericParse))
		}
		return received
	}
	return secs
}

// EpochSeconds folds millisecond, microsecond and nanosecond epochs down to
// seconds.
func EpochSeconds(v int64) int64 {
	switch {
	case v > 1e17:
		return v / 1e9
	case v > 1e14:
		return v / 1e6
	case v > 1e11:
		return v / 1e3
	default:
		return v
	}
}

func payloadTimestamp(obj map[string]any) (int64, bool) {
	for _, name := range timestampKeys {
		raw, ok := lookupFold(obj, name)
		if !ok {
			continue
		}
		f, err := ParseFloat(raw)
		if err != nil || f <= 0 || f >= math.MaxInt64 {
			continue
		}
		return int64(f), true
	}
	return 0, false
}

func decode(raw []byte) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, fmt.Errorf("decode payload: %v: %w", err, metric.ErrMessageDecode)
	}
	return v, nil
}

// canonical is the single case used to match raw keys.
func canonical(k string) string {
	return strings.ToUpper(strings.TrimSpace(k))
}

// ParseFloat coerces a decoded JSON value to a finite float. Strings may use
// a comma as the decimal separator.
func ParseFloat(v any) (float64, error) {
	var f float64
	switch x := v.(type) {
	case json.Number:
		parsed, err := x.Float64()
		if err != nil {
			return 0, fmt.Errorf("%q: %w", x.String(), metric.ErrNumericParse)
		}
		f = parsed
	case float64:
		f = x
	case float32:
		f = float64(x)
	case int:
		f = float64(x)
	case int64:
		f = float64(x)
	case string:
		s := strings.TrimSpace(strings.ReplaceAll(x, `"`, ""))
		s = strings.ReplaceAll(s, ",", ".")
		if s == "" {
			return 0, fmt.Errorf("empty string: %w", metric.ErrNumericParse)
		}
		parsed, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return 0, fmt.Errorf("%q: %w", x, metric.ErrNumericParse)
		}
		f = parsed
	default:
		return 0, fmt.Errorf("unsupported %T: %w", v, metric.ErrNumericParse)
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, fmt.Errorf("non-finite value: %w", metric.ErrNumericParse)
	}
	return f, nil
}

// CarryForward overlays next on prev so a "latest values" view keeps the
// last known value of keys missing from next. The net flow key is
// recomputed from the merged totals. Series stores must be fed next, not
// the merged record.
func CarryForward(prev, next metric.Record) metric.Record {
	merged := prev.Values()
	for k, v := range next.Values() {
		merged[k] = v
	}
	intake, okI := merged[metric.IntakeTotal]
	dist, okD := merged[metric.DistributionTotal]
	if okI && okD {
		merged[metric.NetFlow] = intake - dist
	}
	ts := next.Timestamp()
	if ts < prev.Timestamp() {
		ts = prev.Timestamp()
	}
	return metric.NewRecord(ts, merged)
}
