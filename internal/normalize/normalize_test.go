// v0
// internal/normalize/normalize_test.go
package normalize

import (
	"errors"
	"math"
	"testing"
	"time"

	"github.com/redmozaic77-design/DashboardSCTK/internal/metric"
	"github.com/redmozaic77-design/DashboardSCTK/internal/series"
)

func TestNormalizeFlatPayload(t *testing.T) {
	raw := []byte(`{"lvl_res_wtp3": 5.25, "PRESSURE_DST": "2,75", "TEMPERATURE": 31, "TOTAL_FLOW_ITK": 410.5, "TOTAL_FLOW_DST": "400"}`)

	res, err := Quantity().Normalize(raw, 1700000000)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	rec := res.Record
	if rec.Timestamp() != 1700000000 {
		t.Fatalf("unexpected timestamp %d", rec.Timestamp())
	}
	if v, _ := rec.Value(metric.ReservoirLevel); v != 5.25 {
		t.Fatalf("unexpected level %v", v)
	}
	if v, _ := rec.Value(metric.PressureDistribution); v != 2.75 {
		t.Fatalf("comma decimal not normalized: %v", v)
	}
	for _, k := range rec.Keys() {
		if !metric.Known(k) {
			t.Fatalf("unknown key leaked: %s", k)
		}
	}
	net, ok := rec.Value(metric.NetFlow)
	if !ok || math.Abs(net-10.5) > 1e-9 {
		t.Fatalf("unexpected net flow %v (present=%v)", net, ok)
	}
}

func TestNormalizeNetFlowAbsentWithoutBothTotals(t *testing.T) {
	res, err := Quantity().Normalize([]byte(`{"TOTAL_FLOW_ITK": 12}`), 1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok := res.Record.Value(metric.NetFlow); ok {
		t.Fatalf("net flow must be absent when distribution is missing")
	}
}

func TestNormalizeUnwrapsNestedWrappers(t *testing.T) {
	cases := map[string]string{
		"data object":         `{"data": {"FLOW_WTP3": 100}}`,
		"payload object":      `{"payload": {"FLOW_WTP3": 100}}`,
		"payload text":        `{"payload": "{\"FLOW_WTP3\": 100}"}`,
		"two levels":          `{"data": {"payload": "{\"flow_wtp3\": \"100\"}"}}`,
		"top level json text": `"{\"FLOW_WTP3\": 100}"`,
	}
	for name, raw := range cases {
		t.Run(name, func(t *testing.T) {
			res, err := Quantity().Normalize([]byte(raw), 5)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if v, ok := res.Record.Value(metric.FlowWTP3); !ok || v != 100 {
				t.Fatalf("unexpected flow %v (present=%v)", v, ok)
			}
		})
	}
}

func TestNormalizeStopsAfterTwoLevels(t *testing.T) {
	raw := []byte(`{"data": {"data": {"data": {"FLOW_WTP3": 1}}}}`)
	_, err := Quantity().Normalize(raw, 5)
	if !errors.Is(err, metric.ErrNormalizationEmpty) {
		t.Fatalf("expected empty normalization, got %v", err)
	}
}

func TestNormalizeDropsBadFieldsOnly(t *testing.T) {
	raw := []byte(`{"FLOW_WTP3": "abc", "FLOW_CIJERUK": "NaN", "FLOW_CARENANG": 7}`)
	res, err := Quantity().Normalize(raw, 5)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Record.Len() != 1 {
		t.Fatalf("expected one surviving key, got %v", res.Record.Keys())
	}
	if len(res.Dropped) != 2 {
		t.Fatalf("expected two dropped keys, got %v", res.Dropped)
	}
}

func TestNormalizeErrors(t *testing.T) {
	if _, err := Quantity().Normalize([]byte(`{"foo": 1}`), 1); !errors.Is(err, metric.ErrNormalizationEmpty) {
		t.Fatalf("expected ErrNormalizationEmpty, got %v", err)
	}
	if _, err := Quantity().Normalize([]byte(`{not json`), 1); !errors.Is(err, metric.ErrMessageDecode) {
		t.Fatalf("expected ErrMessageDecode, got %v", err)
	}
	if _, err := Quantity().Normalize([]byte(`[1,2]`), 1); !errors.Is(err, metric.ErrMessageDecode) {
		t.Fatalf("expected ErrMessageDecode for array, got %v", err)
	}
	if _, err := Quantity().Normalize([]byte("   "), 1); !errors.Is(err, metric.ErrMessageDecode) {
		t.Fatalf("expected ErrMessageDecode for blank, got %v", err)
	}
}

func TestNormalizeUsesPayloadTimestamp(t *testing.T) {
	res, err := Quantity().Normalize([]byte(`{"ts": 1700000123, "data": {"FLOW_WTP3": 1}}`), 1700000200)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Record.Timestamp() != 1700000123 {
		t.Fatalf("expected payload timestamp, got %d", res.Record.Timestamp())
	}
}

func TestNormalizeFoldsEpochUnits(t *testing.T) {
	const received = 1760000000
	cases := map[string]string{
		"seconds":      `{"ts": 1759999990, "LVL_RES_WTP3": 5}`,
		"milliseconds": `{"ts": 1759999990000, "LVL_RES_WTP3": 5}`,
		"microseconds": `{"ts": 1759999990000000, "LVL_RES_WTP3": 5}`,
		"nanoseconds":  `{"ts": 1759999990000000000, "LVL_RES_WTP3": 5}`,
	}
	for name, raw := range cases {
		t.Run(name, func(t *testing.T) {
			res, err := Quantity().Normalize([]byte(raw), received)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if res.Record.Timestamp() != 1759999990 {
				t.Fatalf("timestamp = %d", res.Record.Timestamp())
			}
		})
	}
}

func TestNormalizeRejectsTimestampAheadOfReceipt(t *testing.T) {
	const received = 1760000000
	var rejected []error
	n := Quantity(WithRejectHook(func(err error) { rejected = append(rejected, err) }))

	res, err := n.Normalize([]byte(`{"ts": 1760000000000000, "data": {"LVL_RES_WTP3": 5}}`), received)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Record.Timestamp() != received {
		t.Fatalf("microsecond epoch should fold to receive second, got %d", res.Record.Timestamp())
	}
	if len(rejected) != 0 {
		t.Fatalf("in-window timestamp rejected: %v", rejected)
	}

	res, err = n.Normalize([]byte(`{"ts": 1760086400, "LVL_RES_WTP3": 6}`), received)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Record.Timestamp() != received {
		t.Fatalf("timestamp a day ahead should fall back to receive time, got %d", res.Record.Timestamp())
	}
	if len(rejected) != 1 || !errors.Is(rejected[0], metric.ErrNumericParse) {
		t.Fatalf("rejection not reported as numeric parse: %v", rejected)
	}
}

func TestMisStampedPayloadDoesNotSilenceTile(t *testing.T) {
	const received = 1760000000
	n := Quantity()
	tile := series.NewTile(10, 18, "15:04:05", time.UTC)

	first, err := n.Normalize([]byte(`{"ts": 1760086400000, "LVL_RES_WTP3": 5}`), received)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	v, _ := first.Record.Value(metric.ReservoirLevel)
	tile.Append(first.Record.Timestamp(), v)

	pushed := 0
	for i := 1; i <= 50; i++ {
		res, err := n.Normalize([]byte(`{"LVL_RES_WTP3": 5.5}`), received+int64(i)*10)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		v, _ := res.Record.Value(metric.ReservoirLevel)
		if tile.Append(res.Record.Timestamp(), v) == series.Pushed {
			pushed++
		}
	}
	if pushed != 50 || tile.Len() != 18 {
		t.Fatalf("later samples dropped: pushed=%d len=%d", pushed, tile.Len())
	}
}

func TestQCNormalizerIgnoresQuantityKeys(t *testing.T) {
	res, err := QC().Normalize([]byte(`{"Kekeruhan": "0,45", "PH": 7.1, "FLOW_WTP3": 5}`), 9)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok := res.Record.Value(metric.FlowWTP3); ok {
		t.Fatalf("quantity key leaked into qc record")
	}
	if v, _ := res.Record.Value(metric.Turbidity); v != 0.45 {
		t.Fatalf("unexpected turbidity %v", v)
	}
}

func TestCarryForward(t *testing.T) {
	prev := metric.NewRecord(10, map[metric.Key]float64{metric.IntakeTotal: 100, metric.DistributionTotal: 80, metric.NetFlow: 20})
	next := metric.NewRecord(20, map[metric.Key]float64{metric.DistributionTotal: 90})

	merged := CarryForward(prev, next)
	if merged.Timestamp() != 20 {
		t.Fatalf("unexpected timestamp %d", merged.Timestamp())
	}
	if v, _ := merged.Value(metric.NetFlow); v != 10 {
		t.Fatalf("net flow not recomputed: %v", v)
	}
}
