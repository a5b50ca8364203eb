// v0
// internal/httpapi/handlers.go
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"github.com/redmozaic77-design/DashboardSCTK/internal/derive"
	"github.com/redmozaic77-design/DashboardSCTK/internal/engine"
	"github.com/redmozaic77-design/DashboardSCTK/internal/history"
	"github.com/redmozaic77-design/DashboardSCTK/internal/metric"
	"github.com/redmozaic77-design/DashboardSCTK/internal/qcfeed"
	"github.com/redmozaic77-design/DashboardSCTK/internal/schedule"
	"github.com/redmozaic77-design/DashboardSCTK/internal/series"
	"github.com/redmozaic77-design/DashboardSCTK/internal/source"
)

// Engine is the read and selection surface the API needs from the
// ingestion engine.
type Engine interface {
	Latest() metric.Record
	QC() metric.Record
	Derived() (derive.State, bool)
	Status() source.Status
	LastApplied() time.Time
	Tile(k metric.Key) ([]metric.LabeledPoint, bool)
	Tiles() map[metric.Key][]metric.LabeledPoint
	Big() series.BigSnapshot
	History(ctx context.Context, q history.Query) ([]metric.Point, error)
	SelectBig(ctx context.Context, sel series.Selection) (series.BigSnapshot, error)
	Subscribe() (string, <-chan engine.Update, func())
}

// QCFeed is the reconciler view served under /api/qc.
type QCFeed interface {
	Snapshot() qcfeed.Snapshot
	Status() qcfeed.Status
	History(k metric.Key, hours float64, interval int64) []metric.Point
	Last(k metric.Key, n int) []metric.Point
}

// Schedule serves the duty roster of a date.
type Schedule interface {
	Day(date string) schedule.Day
}

const (
	defaultQCHours    = 24
	defaultQCInterval = 3600
	defaultQCLast     = 5
	maxQCLast         = 500
	maxBodyBytes      = 1 << 16
)

type api struct {
	engine    Engine
	qc        QCFeed
	schedule  Schedule
	health    *HealthState
	reservoir derive.Reservoir
	loc       *time.Location
	keepAlive time.Duration
	logger    *slog.Logger
	now       func() time.Time
}

type latestResponse struct {
	TS   *int64             `json:"ts"`
	Data map[string]float64 `json:"data"`
}

func recordView(rec metric.Record) latestResponse {
	out := latestResponse{Data: make(map[string]float64, rec.Len())}
	if rec.Timestamp() > 0 {
		ts := rec.Timestamp()
		out.TS = &ts
	}
	for k, v := range rec.Values() {
		out.Data[string(k)] = v
	}
	return out
}

func (a *api) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (a *api) handleReady(w http.ResponseWriter, _ *http.Request) {
	if a.health == nil || !a.health.Ready() {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "starting"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (a *api) handleLatest(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, recordView(a.engine.Latest()))
}

type catalogEntry struct {
	metric.Spec
	Kind string `json:"kind"`
}

func (a *api) handleCatalog(w http.ResponseWriter, _ *http.Request) {
	specs := metric.Catalog()
	out := make([]catalogEntry, 0, len(specs))
	for _, s := range specs {
		out = append(out, catalogEntry{Spec: s, Kind: s.Kind.String()})
	}
	writeJSON(w, http.StatusOK, out)
}

type configResponse struct {
	MaxLevel       float64 `json:"maxLevel"`
	FloorLevel     float64 `json:"floorLevel"`
	LitersPerMeter float64 `json:"litersPerMeter"`
	TrendDeadband  float64 `json:"trendDeadband"`
	Timezone       string  `json:"timezone"`
}

func (a *api) handleConfig(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, configResponse{
		MaxLevel:       a.reservoir.MaxLevel,
		FloorLevel:     a.reservoir.FloorLevel,
		LitersPerMeter: a.reservoir.LitersPerMeter,
		TrendDeadband:  a.reservoir.Deadband,
		Timezone:       a.loc.String(),
	})
}

func (a *api) handleHistory(w http.ResponseWriter, r *http.Request) {
	key, ok := metric.Parse(mux.Vars(r)["key"])
	if !ok {
		notFound(w, "unknown metric")
		return
	}
	q := r.URL.Query()
	hours, err := floatParam(q.Get("hours"), history.DefaultHours)
	if err != nil {
		badRequest(w, "invalid hours")
		return
	}
	interval, err := intParam(q.Get("interval"), history.DefaultInterval)
	if err != nil {
		badRequest(w, "invalid interval")
		return
	}
	limit, err := intParam(q.Get("limit"), 0)
	if err != nil {
		badRequest(w, "invalid limit")
		return
	}
	pts, err := a.engine.History(r.Context(), history.Query{Key: key, Hours: hours, Interval: interval, Limit: int(limit)})
	if err != nil {
		a.logger.Warn("history_query_failed", slog.String("key", string(key)), slog.Any("err", err))
		writeError(w, http.StatusBadGateway, "history unavailable")
		return
	}
	if pts == nil {
		pts = []metric.Point{}
	}
	writeJSON(w, http.StatusOK, pts)
}

func (a *api) handleTiles(w http.ResponseWriter, _ *http.Request) {
	tiles := a.engine.Tiles()
	out := make(map[string][]metric.LabeledPoint, len(tiles))
	for k, pts := range tiles {
		if pts == nil {
			pts = []metric.LabeledPoint{}
		}
		out[string(k)] = pts
	}
	writeJSON(w, http.StatusOK, out)
}

func (a *api) handleTile(w http.ResponseWriter, r *http.Request) {
	key, ok := metric.Parse(mux.Vars(r)["key"])
	if !ok {
		notFound(w, "unknown metric")
		return
	}
	pts, ok := a.engine.Tile(key)
	if !ok {
		notFound(w, "no series for metric")
		return
	}
	if pts == nil {
		pts = []metric.LabeledPoint{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"key": key, "points": pts})
}

func (a *api) handleDerived(w http.ResponseWriter, _ *http.Request) {
	st, ok := a.engine.Derived()
	if !ok {
		writeJSON(w, http.StatusOK, map[string]any{"available": false})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"available": true, "state": st})
}

func (a *api) handleBigGet(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, a.engine.Big())
}

func (a *api) handleBigSelect(w http.ResponseWriter, r *http.Request) {
	var sel series.Selection
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	if err := dec.Decode(&sel); err != nil {
		badRequest(w, "invalid selection payload")
		return
	}
	key, ok := metric.Parse(string(sel.Key))
	if !ok {
		badRequest(w, "unknown metric")
		return
	}
	sel.Key = key
	if err := sel.Validate(); err != nil {
		badRequest(w, err.Error())
		return
	}
	snap, err := a.engine.SelectBig(r.Context(), sel)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, snap)
	case errors.Is(err, engine.ErrSuperseded):
		writeError(w, http.StatusConflict, "selection superseded")
	case errors.Is(err, context.Canceled):
		// Client went away.
	default:
		writeError(w, http.StatusBadGateway, "history unavailable")
	}
}

type qcLatestResponse struct {
	TS              int64                             `json:"ts"`
	LastQCUpdate    string                            `json:"qc_last_update"`
	LastChlorUpdate string                            `json:"chlor_last_update"`
	Latest          map[metric.Key]qcfeed.LatestEntry `json:"latest"`
	Status          *qcfeed.Status                    `json:"status,omitempty"`
}

func (a *api) qcLatest() qcLatestResponse {
	if a.qc != nil {
		snap := a.qc.Snapshot()
		st := a.qc.Status()
		return qcLatestResponse{
			TS:              a.now().Unix(),
			LastQCUpdate:    snap.LastQCUpdate,
			LastChlorUpdate: snap.LastChlorUpdate,
			Latest:          snap.LatestView(),
			Status:          &st,
		}
	}
	return qcFromRecord(a.engine.QC(), a.loc, a.now())
}

// qcFromRecord builds the QC view from live QC values when no tabular feed
// is configured.
func qcFromRecord(rec metric.Record, loc *time.Location, now time.Time) qcLatestResponse {
	out := qcLatestResponse{
		TS:              now.Unix(),
		LastQCUpdate:    "-",
		LastChlorUpdate: "-",
		Latest:          make(map[metric.Key]qcfeed.LatestEntry),
	}
	dt := "-"
	var tsPtr *int64
	if ts := rec.Timestamp(); ts > 0 {
		dt = time.Unix(ts, 0).In(loc).Format(qcfeed.DisplayLayout)
		tsPtr = &ts
	}
	for _, k := range metric.QCKeys() {
		v, ok := rec.Value(k)
		if !ok {
			out.Latest[k] = qcfeed.LatestEntry{DT: "-"}
			continue
		}
		val := v
		out.Latest[k] = qcfeed.LatestEntry{TS: tsPtr, DT: dt, Value: &val}
		if k == metric.ResidualChlorine {
			out.LastChlorUpdate = dt
		} else {
			out.LastQCUpdate = dt
		}
	}
	return out
}

func (a *api) handleQCLatest(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, a.qcLatest())
}

func (a *api) qcParam(w http.ResponseWriter, r *http.Request) (metric.Key, bool) {
	key, ok := metric.Parse(mux.Vars(r)["param"])
	if ok {
		if kind, _ := metric.KindOf(key); kind == metric.KindQC {
			return key, true
		}
	}
	notFound(w, "unknown qc parameter")
	return "", false
}

func (a *api) handleQCHistory(w http.ResponseWriter, r *http.Request) {
	key, ok := a.qcParam(w, r)
	if !ok {
		return
	}
	q := r.URL.Query()
	hours, err := floatParam(q.Get("hours"), defaultQCHours)
	if err != nil {
		badRequest(w, "invalid hours")
		return
	}
	interval, err := intParam(q.Get("interval"), defaultQCInterval)
	if err != nil {
		badRequest(w, "invalid interval")
		return
	}
	var pts []metric.Point
	if a.qc != nil {
		pts = a.qc.History(key, hours, interval)
	} else {
		pts, err = a.engine.History(r.Context(), history.Query{Key: key, Hours: hours, Interval: interval})
		if err != nil {
			writeError(w, http.StatusBadGateway, "history unavailable")
			return
		}
	}
	if pts == nil {
		pts = []metric.Point{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"key": key, "hours": hours, "interval": interval, "points": pts})
}

func (a *api) handleQCLast(w http.ResponseWriter, r *http.Request) {
	key, ok := a.qcParam(w, r)
	if !ok {
		return
	}
	n, err := intParam(r.URL.Query().Get("n"), defaultQCLast)
	if err != nil {
		badRequest(w, "invalid n")
		return
	}
	if n > maxQCLast {
		n = maxQCLast
	}
	var pts []metric.Point
	if a.qc != nil {
		pts = a.qc.Last(key, int(n))
	}
	if pts == nil {
		pts = []metric.Point{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"key": key, "points": pts})
}

type statusResponse struct {
	Source      source.Status  `json:"source"`
	QC          *qcfeed.Status `json:"qc,omitempty"`
	LastApplied *time.Time     `json:"last_applied"`
	Ready       bool           `json:"ready"`
}

func (a *api) handleStatus(w http.ResponseWriter, _ *http.Request) {
	out := statusResponse{Source: a.engine.Status(), Ready: a.health != nil && a.health.Ready()}
	if a.qc != nil {
		st := a.qc.Status()
		out.QC = &st
	}
	if t := a.engine.LastApplied(); !t.IsZero() {
		out.LastApplied = &t
	}
	writeJSON(w, http.StatusOK, out)
}

// handleSchedule answers the roster of ?date=YYYY-MM-DD, defaulting to
// today in the service location.
func (a *api) handleSchedule(w http.ResponseWriter, r *http.Request) {
	date := strings.TrimSpace(r.URL.Query().Get("date"))
	if date == "" {
		date = a.now().In(a.loc).Format(schedule.DateLayout)
	}
	if a.schedule == nil {
		msg := "schedule not configured"
		writeJSON(w, http.StatusOK, schedule.Day{
			Date:     date,
			Operator: []schedule.Entry{},
			Lab:      []schedule.Entry{},
			Meta:     schedule.Meta{LoadedAt: "-", Error: &msg},
		})
		return
	}
	writeJSON(w, http.StatusOK, a.schedule.Day(date))
}

func floatParam(raw string, def float64) (float64, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return def, nil
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil || v <= 0 || math.IsInf(v, 0) || math.IsNaN(v) {
		return 0, errors.New("must be a positive number")
	}
	return v, nil
}

func intParam(raw string, def int64) (int64, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return def, nil
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || v < 0 {
		return 0, errors.New("must be a non-negative integer")
	}
	if v == 0 {
		return def, nil
	}
	return v, nil
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func badRequest(w http.ResponseWriter, msg string) {
	writeError(w, http.StatusBadRequest, msg)
}

func notFound(w http.ResponseWriter, msg string) {
	writeError(w, http.StatusNotFound, msg)
}
