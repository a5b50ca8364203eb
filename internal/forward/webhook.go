// v0
// internal/forward/webhook.go
package forward

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/redmozaic77-design/DashboardSCTK/internal/fetch"
	"github.com/redmozaic77-design/DashboardSCTK/internal/metric"
	"github.com/redmozaic77-design/DashboardSCTK/internal/normalize"
	"github.com/redmozaic77-design/DashboardSCTK/internal/observability"
)

// Webhook posts the latest quantity values as a flat JSON object at most
// once per interval.
type Webhook struct {
	url      string
	client   fetch.Doer
	interval time.Duration
	timeout  time.Duration
	logger   *slog.Logger
	metrics  *observability.Metrics
	now      func() time.Time

	mu       sync.Mutex
	latest   metric.Record
	lastSent time.Time
	kick     chan struct{}
}

func NewWebhook(url string, client fetch.Doer, interval time.Duration, logger *slog.Logger, metrics *observability.Metrics) *Webhook {
	if interval <= 0 {
		interval = time.Minute
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Webhook{
		url:      url,
		client:   client,
		interval: interval,
		timeout:  10 * time.Second,
		logger:   logger,
		metrics:  metrics,
		now:      time.Now,
		kick:     make(chan struct{}, 1),
	}
}

// Enqueue folds rec into the outgoing view and schedules a post when the
// interval has elapsed. QC-only records are ignored.
func (w *Webhook) Enqueue(rec metric.Record) {
	quantity := make(map[metric.Key]float64, rec.Len())
	for k, v := range rec.Values() {
		if kind, _ := metric.KindOf(k); kind != metric.KindQC {
			quantity[k] = v
		}
	}
	if len(quantity) == 0 {
		return
	}

	now := w.now()
	w.mu.Lock()
	w.latest = normalize.CarryForward(w.latest, metric.NewRecord(rec.Timestamp(), quantity))
	due := now.Sub(w.lastSent) >= w.interval
	if due {
		w.lastSent = now
	}
	w.mu.Unlock()

	if due {
		select {
		case w.kick <- struct{}{}:
		default:
		}
	}
}

// Run posts whenever Enqueue scheduled a send, until ctx is done.
func (w *Webhook) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.kick:
			if err := w.send(ctx); err != nil {
				w.metrics.Forwarded("webhook", false)
				if ctx.Err() == nil {
					w.logger.Warn("webhook_post_failed", slog.Any("err", err))
				}
				continue
			}
			w.metrics.Forwarded("webhook", true)
		}
	}
}

func (w *Webhook) send(ctx context.Context) error {
	w.mu.Lock()
	latest := w.latest
	w.mu.Unlock()

	body, err := json.Marshal(latest.Values())
	if err != nil {
		return fmt.Errorf("encode webhook body: %w", err)
	}
	ctx, cancel := context.WithTimeout(ctx, w.timeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", fetch.UserAgent)

	resp, err := w.client.Do(req)
	if err != nil {
		return err
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook status %s", resp.Status)
	}
	return nil
}
