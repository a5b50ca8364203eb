// v0
// internal/httpapi/sse.go
package httpapi

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/redmozaic77-design/DashboardSCTK/internal/engine"
)

const defaultKeepAlive = 15 * time.Second

type eventPayload struct {
	Qty *latestResponse   `json:"qty,omitempty"`
	QC  *qcLatestResponse `json:"qc,omitempty"`
}

// handleEvents streams quantity and QC views to the browser. A frame is
// only written when one of the views changed since the previous frame.
func (a *api) handleEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}
	// Streams outlive the server write timeout.
	_ = http.NewResponseController(w).SetWriteDeadline(time.Time{})
	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	id, updates, cancel := a.engine.Subscribe()
	defer cancel()
	logger := a.logger.With(slog.String("subscriber", id))
	logger.Info("events_subscribed")
	defer logger.Info("events_unsubscribed")

	keepAlive := a.keepAlive
	if keepAlive <= 0 {
		keepAlive = defaultKeepAlive
	}
	ticker := time.NewTicker(keepAlive)
	defer ticker.Stop()

	var lastQty, lastQC string
	send := func(force bool) error {
		var payload eventPayload
		latest := a.engine.Latest()
		if sig := engine.QuantitySignature(latest); force || sig != lastQty {
			view := recordView(latest)
			payload.Qty = &view
			lastQty = sig
		}
		qc := a.qcLatest()
		if sig := engine.QCSignature(qc.LastQCUpdate, qc.LastChlorUpdate, a.engine.QC()); force || sig != lastQC {
			payload.QC = &qc
			lastQC = sig
		}
		if payload.Qty == nil && payload.QC == nil {
			return nil
		}
		body, err := json.Marshal(payload)
		if err != nil {
			return err
		}
		if _, err := fmt.Fprintf(w, "data: %s\n\n", body); err != nil {
			return err
		}
		flusher.Flush()
		return nil
	}

	if err := send(true); err != nil {
		return
	}
	for {
		select {
		case <-r.Context().Done():
			return
		case _, ok := <-updates:
			if !ok {
				return
			}
			if err := send(false); err != nil {
				logger.Debug("events_write_failed", slog.Any("err", err))
				return
			}
		case <-ticker.C:
			if _, err := fmt.Fprint(w, ": keepalive\n\n"); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}
