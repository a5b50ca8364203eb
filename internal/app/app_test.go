// v0
// internal/app/app_test.go
package app

import (
	"bytes"
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/redmozaic77-design/DashboardSCTK/internal/config"
	"github.com/redmozaic77-design/DashboardSCTK/internal/metric"
	"github.com/redmozaic77-design/DashboardSCTK/internal/source"
)

func TestTeeHandlerWritesToEveryHandler(t *testing.T) {
	var a, b bytes.Buffer
	logger := slog.New(&teeHandler{handlers: []slog.Handler{
		slog.NewTextHandler(&a, nil),
		slog.NewTextHandler(&b, &slog.HandlerOptions{Level: slog.LevelWarn}),
	}})
	logger.With(slog.String("component", "test")).Info("info_event")
	logger.Warn("warn_event")

	if !strings.Contains(a.String(), "info_event") || !strings.Contains(a.String(), "component=test") {
		t.Fatalf("first handler output: %q", a.String())
	}
	if strings.Contains(b.String(), "info_event") || !strings.Contains(b.String(), "warn_event") {
		t.Fatalf("second handler must respect its level: %q", b.String())
	}
}

func TestNewRejectsUnknownBigKey(t *testing.T) {
	cfg := config.Default()
	cfg.LogFilePath = filepath.Join(t.TempDir(), "svc.log")
	cfg.DefaultBigKey = "NOPE"
	if _, err := New(cfg); err == nil {
		t.Fatalf("expected error for unknown big key")
	}
}

const qcCSV = "DateTime,Kekeruhan,Warna,pH,Sisa Chlor\n2024-05-01 08:00,1.2,5,7.1,0.4\n"

func TestRunPollsUpstreamAndServesAPI(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/latest":
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"ts":1714550400,"data":{"PRESSURE_DST":"2,5","LVL_RES_WTP3":6.5}}`))
		case "/qc.csv":
			_, _ = w.Write([]byte(qcCSV))
		default:
			http.NotFound(w, r)
		}
	}))
	defer upstream.Close()

	cfg := config.Default()
	cfg.LogFilePath = filepath.Join(t.TempDir(), "svc.log")
	cfg.ListenAddress = "127.0.0.1:0"
	cfg.Location = time.UTC
	cfg.SourceMode = config.ModePoll
	cfg.PollLatestURL = upstream.URL + "/api/latest"
	cfg.PollInterval = 50 * time.Millisecond
	cfg.QCFeedURL = upstream.URL + "/qc.csv"
	cfg.FetchTimeout = 2 * time.Second
	cfg.ShutdownTimeout = time.Second
	cfg.SchedulePath = filepath.Join(t.TempDir(), "jadwal.json")
	roster := `[{"tanggal":1714521600000,"nama":"Adi","jabatan":"Operator Produksi","shift_kode":"P12","jam_kerja":"07:00-19:00","lokasi":"WTP3","jam_mulai":"07:00","jam_selesai":"19:00"}]`
	if err := os.WriteFile(cfg.SchedulePath, []byte(roster), 0o600); err != nil {
		t.Fatalf("write schedule: %v", err)
	}

	application, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer application.Close()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- application.Run(ctx)
	}()

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		_, okP := application.engine.Latest().Value(metric.PressureDistribution)
		_, okQ := application.engine.QC().Value(metric.PH)
		if okP && okQ && application.engine.Status().State == source.Connected {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if v, ok := application.engine.Latest().Value(metric.PressureDistribution); !ok || v != 2.5 {
		t.Fatalf("pressure = %v %v", v, ok)
	}
	if v, ok := application.engine.QC().Value(metric.PH); !ok || v != 7.1 {
		t.Fatalf("qc ph = %v %v", v, ok)
	}
	if st := application.engine.Status(); st.State != source.Connected || st.Source != "poll" {
		t.Fatalf("status = %+v", st)
	}
	if !application.health.Ready() {
		t.Fatalf("application should report ready while running")
	}

	rec := httptest.NewRecorder()
	application.server.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/qc/latest", nil))
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"qc_last_update":"2024-05-01 08:00"`) {
		t.Fatalf("qc latest status=%d body=%s", rec.Code, rec.Body.String())
	}

	var body string
	scheduleDeadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(scheduleDeadline) {
		rec = httptest.NewRecorder()
		application.server.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/schedule?date=2024-05-01", nil))
		body = rec.Body.String()
		if strings.Contains(body, `"nama":"Adi"`) {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if rec.Code != http.StatusOK || !strings.Contains(body, `"nama":"Adi"`) || !strings.Contains(body, `"error":null`) {
		t.Fatalf("schedule status=%d body=%s", rec.Code, body)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run returned %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("Run did not stop")
	}
	if application.health.Ready() {
		t.Fatalf("application should not be ready after shutdown")
	}
}
