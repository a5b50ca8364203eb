// v0
// internal/metric/metric.go
package metric

import (
	"sort"
	"strings"
)

// Key identifies one telemetry channel. The set is fixed at startup; raw
// input carrying any other key is ignored.
type Key string

// Quantity channels delivered by the real-time transport.
const (
	PressureDistribution Key = "PRESSURE_DST"
	ReservoirLevel       Key = "LVL_RES_WTP3"
	IntakeTotal          Key = "TOTAL_FLOW_ITK"
	DistributionTotal    Key = "TOTAL_FLOW_DST"
	FlowWTP3             Key = "FLOW_WTP3"
	FlowCikande          Key = "FLOW_50_WTP1"
	FlowCijeruk          Key = "FLOW_CIJERUK"
	FlowCarenang         Key = "FLOW_CARENANG"
)

// NetFlow is derived by the normalizer as intake minus distribution.
const NetFlow Key = "SELISIH_FLOW"

// QC parameters pulled from the tabular feed.
const (
	Turbidity        Key = "kekeruhan"
	Color            Key = "warna"
	PH               Key = "ph"
	ResidualChlorine Key = "sisa_chlor"
)

// Kind groups keys by the path that produces them.
type Kind int

const (
	KindQuantity Kind = iota
	KindDerived
	KindQC
)

func (k Kind) String() string {
	switch k {
	case KindQuantity:
		return "quantity"
	case KindDerived:
		return "derived"
	case KindQC:
		return "qc"
	default:
		return "unknown"
	}
}

// Spec describes how a key is presented.
type Spec struct {
	Key   Key    `json:"key"`
	Title string `json:"title"`
	Unit  string `json:"unit"`
	Kind  Kind   `json:"-"`
	// Column holds the tabular feed header candidates for QC keys.
	Column []string `json:"-"`
}

var catalog = []Spec{
	{Key: PressureDistribution, Title: "PRESSURE DISTRIBUSI", Unit: "BAR", Kind: KindQuantity},
	{Key: ReservoirLevel, Title: "LEVEL RESERVOIR WTP 3", Unit: "M", Kind: KindQuantity},
	{Key: IntakeTotal, Title: "TOTAL FLOW INTAKE", Unit: "LPS", Kind: KindQuantity},
	{Key: DistributionTotal, Title: "TOTAL FLOW DISTRIBUSI", Unit: "LPS", Kind: KindQuantity},
	{Key: NetFlow, Title: "SELISIH TOTAL FLOW (INTAKE - DISTRIBUSI)", Unit: "LPS", Kind: KindDerived},
	{Key: FlowWTP3, Title: "FLOW WTP 3", Unit: "LPS", Kind: KindQuantity},
	{Key: FlowCikande, Title: "FLOW UPAM CIKANDE", Unit: "LPS", Kind: KindQuantity},
	{Key: FlowCijeruk, Title: "FLOW UPAM CIJERUK", Unit: "LPS", Kind: KindQuantity},
	{Key: FlowCarenang, Title: "FLOW UPAM CARENANG", Unit: "LPS", Kind: KindQuantity},
	{Key: Turbidity, Title: "KEKERUHAN", Unit: "NTU", Kind: KindQC, Column: []string{"Kekeruhan"}},
	{Key: Color, Title: "WARNA", Unit: "TCU", Kind: KindQC, Column: []string{"Warna"}},
	{Key: PH, Title: "PH", Unit: "", Kind: KindQC, Column: []string{"pH", "PH"}},
	{Key: ResidualChlorine, Title: "SISA CHLOR", Unit: "MG/L", Kind: KindQC, Column: []string{"Sisa Chlor", "SisaChlor"}},
}

var byKey = func() map[Key]Spec {
	m := make(map[Key]Spec, len(catalog))
	for _, s := range catalog {
		m[s.Key] = s
	}
	return m
}()

// Lookup returns the presentation spec for k.
func Lookup(k Key) (Spec, bool) {
	s, ok := byKey[k]
	return s, ok
}

// Known reports whether k belongs to the fixed key set.
func Known(k Key) bool {
	_, ok := byKey[k]
	return ok
}

// Parse resolves a raw identifier to a known key. Quantity keys are
// matched upper-cased, QC keys lower-cased.
func Parse(raw string) (Key, bool) {
	trimmed := strings.TrimSpace(raw)
	if k := Key(strings.ToUpper(trimmed)); Known(k) {
		return k, true
	}
	if k := Key(strings.ToLower(trimmed)); Known(k) {
		return k, true
	}
	return "", false
}

// KindOf reports the kind of a known key. Unknown keys report KindQuantity
// with ok=false.
func KindOf(k Key) (Kind, bool) {
	s, ok := byKey[k]
	return s.Kind, ok
}

// Keys returns every key of the given kinds in display order.
func Keys(kinds ...Kind) []Key {
	out := make([]Key, 0, len(catalog))
	for _, s := range catalog {
		for _, kind := range kinds {
			if s.Kind == kind {
				out = append(out, s.Key)
				break
			}
		}
	}
	return out
}

// QuantityKeys lists the keys sourced directly from the real-time channel.
func QuantityKeys() []Key { return Keys(KindQuantity) }

// TileKeys lists every key that backs a quantity tile (direct and derived).
func TileKeys() []Key { return Keys(KindQuantity, KindDerived) }

// QCKeys lists the water-quality parameters.
func QCKeys() []Key { return Keys(KindQC) }

// Catalog returns a copy of the full key catalog in display order.
func Catalog() []Spec {
	out := make([]Spec, len(catalog))
	copy(out, catalog)
	return out
}

// SortKeys orders keys lexically; used for deterministic output.
func SortKeys(keys []Key) {
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
}
