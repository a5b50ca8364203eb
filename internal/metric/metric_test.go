// v0
// internal/metric/metric_test.go
package metric

import (
	"fmt"
	"testing"
)

func TestParseResolvesCase(t *testing.T) {
	cases := map[string]Key{
		"lvl_res_wtp3":     ReservoirLevel,
		" TOTAL_FLOW_ITK ": IntakeTotal,
		"Kekeruhan":        Turbidity,
		"SISA_CHLOR":       ResidualChlorine,
	}
	for raw, want := range cases {
		got, ok := Parse(raw)
		if !ok || got != want {
			t.Fatalf("Parse(%q) = %q,%v want %q", raw, got, ok, want)
		}
	}
	if _, ok := Parse("TEMPERATURE"); ok {
		t.Fatalf("unknown key must not resolve")
	}
}

func TestKeyGroups(t *testing.T) {
	if got := len(QuantityKeys()); got != 8 {
		t.Fatalf("expected 8 quantity keys, got %d", got)
	}
	if got := len(TileKeys()); got != 9 {
		t.Fatalf("expected 9 tile keys, got %d", got)
	}
	if got := len(QCKeys()); got != 4 {
		t.Fatalf("expected 4 qc keys, got %d", got)
	}
	if kind, _ := KindOf(NetFlow); kind != KindDerived {
		t.Fatalf("net flow must be derived, got %s", kind)
	}
}

func TestRecordIsImmutable(t *testing.T) {
	src := map[Key]float64{IntakeTotal: 10}
	rec := NewRecord(100, src)
	src[IntakeTotal] = 99
	values := rec.Values()
	values[IntakeTotal] = 42

	if v, _ := rec.Value(IntakeTotal); v != 10 {
		t.Fatalf("record changed through caller map: %v", v)
	}
}

func TestReason(t *testing.T) {
	wrapped := fmt.Errorf("mqtt: %w", ErrMessageDecode)
	if got := Reason(wrapped); got != "decode" {
		t.Fatalf("unexpected reason %q", got)
	}
	if got := Reason(nil); got != "" {
		t.Fatalf("nil error must have empty reason, got %q", got)
	}
}
