// v0
// internal/derive/derive.go
package derive

import (
	"fmt"
	"math"
)

// Trend classifies the reservoir direction from the net flow.
type Trend string

const (
	TrendUp   Trend = "UP"
	TrendDown Trend = "DOWN"
	TrendFlat Trend = "FLAT"
)

// DefaultDeadband is the |net| in L/s below which the reservoir is treated
// as stable. Sensor noise around zero stays inside it.
const DefaultDeadband = 0.2

// Classify returns UP above +deadband, DOWN below -deadband, FLAT otherwise.
// A net exactly on the deadband is FLAT.
func Classify(net, deadband float64) Trend {
	switch {
	case net > deadband:
		return TrendUp
	case net < -deadband:
		return TrendDown
	default:
		return TrendFlat
	}
}

// ETA returns the seconds until level reaches target when net (L/s) keeps
// constant. ok is false inside the deadband or when the current net moves
// the level away from target.
func ETA(level, net, target, litersPerMeter, deadband float64) (float64, bool) {
	if !finite(level) || !finite(net) || !finite(target) || litersPerMeter <= 0 {
		return 0, false
	}
	if math.Abs(net) < deadband {
		return 0, false
	}
	rate := net / litersPerMeter
	delta := target - level
	if (delta > 0 && rate <= 0) || (delta < 0 && rate >= 0) {
		return 0, false
	}
	if rate == 0 {
		return 0, false
	}
	return delta / rate, true
}

// Reservoir holds the constants of the reservoir cross-section.
type Reservoir struct {
	MaxLevel       float64
	FloorLevel     float64
	LitersPerMeter float64
	Deadband       float64
}

// State is the derived view of the latest level and net flow.
type State struct {
	Level      float64  `json:"level"`
	LevelPct   int      `json:"levelPct"`
	NetRate    float64  `json:"netRate"`
	Trend      Trend    `json:"trend"`
	ETASeconds *float64 `json:"etaSeconds"`
	ETATarget  float64  `json:"etaTarget"`
	ETALabel   string   `json:"etaTargetLabel"`
	ETAHuman   string   `json:"etaHuman"`
}

// Compute derives the state. level is clamped to [0, MaxLevel]. The ETA
// target is the floor when draining and full capacity otherwise.
func (r Reservoir) Compute(level, net float64) State {
	if !finite(level) {
		level = 0
	}
	if !finite(net) {
		net = 0
	}
	lvl := clamp(level, 0, r.MaxLevel)
	pct := 0
	if r.MaxLevel > 0 {
		pct = int(math.Round(lvl / r.MaxLevel * 100))
	}

	st := State{Level: lvl, LevelPct: pct, NetRate: net, Trend: Classify(net, r.Deadband), ETAHuman: "-"}
	if net < 0 {
		st.ETATarget = r.FloorLevel
		st.ETALabel = fmt.Sprintf("ETA to %gm", r.FloorLevel)
	} else {
		st.ETATarget = r.MaxLevel
		st.ETALabel = "ETA to 100%"
	}
	if eta, ok := ETA(lvl, net, st.ETATarget, r.LitersPerMeter, r.Deadband); ok {
		st.ETASeconds = &eta
		st.ETAHuman = HumanDuration(eta)
	}
	return st
}

// HumanDuration renders seconds as "N s" under a minute, "N min" under an
// hour and "H h M min" beyond. Negative or non-finite input renders "-".
func HumanDuration(sec float64) string {
	if !finite(sec) || sec < 0 {
		return "-"
	}
	if sec < 60 {
		return fmt.Sprintf("%d s", int64(math.Round(sec)))
	}
	minutes := int64(math.Floor(sec / 60))
	hours := minutes / 60
	rem := minutes % 60
	if hours <= 0 {
		return fmt.Sprintf("%d min", rem)
	}
	return fmt.Sprintf("%d h %d min", hours, rem)
}

func clamp(x, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, x))
}

func finite(x float64) bool {
	return !math.IsNaN(x) && !math.IsInf(x, 0)
}
