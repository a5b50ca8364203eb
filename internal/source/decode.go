// v0
// internal/source/decode.go
package source

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/redmozaic77-design/DashboardSCTK/internal/metric"
	"github.com/redmozaic77-design/DashboardSCTK/internal/normalize"
	"github.com/redmozaic77-design/DashboardSCTK/internal/observability"
)

// Decoder turns one raw payload into zero or more records. ts is the
// receive time used when the payload carries none.
type Decoder func(raw []byte, ts int64) ([]metric.Record, error)

// QuantityDecoder normalizes broker payloads into quantity records.
func QuantityDecoder(opts ...normalize.Option) Decoder {
	n := normalize.Quantity(opts...)
	return func(raw []byte, ts int64) ([]metric.Record, error) {
		res, err := n.Normalize(raw, ts)
		if err != nil {
			return nil, err
		}
		return []metric.Record{res.Record}, nil
	}
}

// qcSnapshot is the /api/qc/latest document shape.
type qcSnapshot struct {
	Latest map[string]struct {
		TS    *json.Number `json:"ts"`
		Value *json.Number `json:"value"`
	} `json:"latest"`
}

// EnvelopeDecoder understands {"qty": ..., "qc": ...} stream messages and
// falls back to plain quantity payloads.
func EnvelopeDecoder(opts ...normalize.Option) Decoder {
	qty := normalize.Quantity(opts...)
	qc := normalize.QC(opts...)
	return func(raw []byte, ts int64) ([]metric.Record, error) {
		var env map[string]json.RawMessage
		dec := json.NewDecoder(bytes.NewReader(raw))
		dec.UseNumber()
		if err := dec.Decode(&env); err != nil {
			return nil, fmt.Errorf("decode envelope: %v: %w", err, metric.ErrMessageDecode)
		}
		qtyRaw, hasQty := env["qty"]
		qcRaw, hasQC := env["qc"]
		if !hasQty && !hasQC {
			res, err := qty.Normalize(raw, ts)
			if err != nil {
				return nil, err
			}
			return []metric.Record{res.Record}, nil
		}

		var (
			out  []metric.Record
			errs []error
		)
		if hasQty {
			res, err := qty.Normalize(qtyRaw, ts)
			if err != nil {
				errs = append(errs, err)
			} else {
				out = append(out, res.Record)
			}
		}
		if hasQC {
			rec, err := decodeQCSnapshot(qc, qcRaw, ts)
			if err != nil {
				errs = append(errs, err)
			} else {
				out = append(out, rec)
			}
		}
		if len(out) == 0 {
			return nil, errs[0]
		}
		return out, nil
	}
}

// decodeQCSnapshot folds a QC latest document into one record stamped with
// its newest sample.
func decodeQCSnapshot(n *normalize.Normalizer, raw []byte, ts int64) (metric.Record, error) {
	var snap qcSnapshot
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&snap); err != nil {
		return metric.Record{}, fmt.Errorf("decode qc snapshot: %v: %w", err, metric.ErrMessageDecode)
	}
	values := make(map[string]any, len(snap.Latest))
	var newest int64
	for k, e := range snap.Latest {
		if e.Value == nil {
			continue
		}
		values[k] = *e.Value
		if e.TS != nil {
			if v, err := e.TS.Int64(); err == nil && v > newest {
				newest = v
			}
		}
	}
	if newest > 0 {
		ts = n.Stamp(newest, ts)
	}
	res, err := n.NormalizeValue(values, ts)
	if err != nil {
		return metric.Record{}, err
	}
	return res.Record, nil
}

// rejectCounter counts discarded payload timestamps as dropped samples.
func rejectCounter(m *observability.Metrics) normalize.Option {
	return normalize.WithRejectHook(func(err error) {
		m.RecordDropped(metric.Reason(err))
	})
}
