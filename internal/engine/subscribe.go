// v0
// internal/engine/subscribe.go
package engine

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/redmozaic77-design/DashboardSCTK/internal/metric"
)

// Update is a change notification; readers fetch what they need from the
// engine.
type Update struct {
	Seq uint64
}

// Subscribe returns a channel that receives a coalesced notification after
// each applied change, and a function that ends the subscription.
func (e *Engine) Subscribe() (string, <-chan Update, func()) {
	id := uuid.NewString()
	ch := make(chan Update, 1)
	e.subMu.Lock()
	e.subs[id] = ch
	e.subMu.Unlock()
	e.metrics.SubscriberDelta(1)

	cancel := func() {
		e.subMu.Lock()
		if _, ok := e.subs[id]; ok {
			delete(e.subs, id)
			e.metrics.SubscriberDelta(-1)
		}
		e.subMu.Unlock()
	}
	return id, ch, cancel
}

func (e *Engine) publish() {
	e.mu.RLock()
	seq := e.seq
	e.mu.RUnlock()

	e.subMu.Lock()
	defer e.subMu.Unlock()
	for _, ch := range e.subs {
		select {
		case ch <- Update{Seq: seq}:
		default:
			// A pending notification already covers this change.
		}
	}
}

// QuantitySignature identifies a quantity view for change detection.
func QuantitySignature(rec metric.Record) string {
	dst, _ := rec.Value(metric.DistributionTotal)
	pressure, _ := rec.Value(metric.PressureDistribution)
	level, _ := rec.Value(metric.ReservoirLevel)
	return fmt.Sprintf("%d|%g|%g|%g", rec.Timestamp(), dst, pressure, level)
}

// QCSignature identifies a QC view for change detection.
func QCSignature(lastQC, lastChlor string, rec metric.Record) string {
	turbidity, okT := rec.Value(metric.Turbidity)
	chlorine, okC := rec.Value(metric.ResidualChlorine)
	return fmt.Sprintf("%s|%s|%t%g|%t%g", lastQC, lastChlor, okT, turbidity, okC, chlorine)
}
