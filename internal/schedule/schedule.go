// v0
// internal/schedule/schedule.go
package schedule

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/redmozaic77-design/DashboardSCTK/internal/observability"
)

const (
	// DateLayout is the calendar day format used by ForDate.
	DateLayout   = "2006-01-02"
	loadedLayout = "2006-01-02 15:04:05"

	roleOperator = "operator produksi"
	roleAnalyst  = "analis laboratorium"
	siteOperator = "WTP3"
	siteLab      = "LAB"
	// operatorShift must appear in an operator's shift code.
	operatorShift = "12"
)

// Row is one cleaned entry of the schedule file.
type Row struct {
	// DateMS is the shift day as a millisecond epoch.
	DateMS   int64
	Name     string
	Role     string
	Shift    string
	Hours    string
	Location string
	HasStart bool
	HasEnd   bool
}

// Entry is one person on duty.
type Entry struct {
	Name     string `json:"nama"`
	Shift    string `json:"kode"`
	Hours    string `json:"jam"`
	Location string `json:"lokasi"`
}

// Meta describes the state of the last reload.
type Meta struct {
	LoadedAt string  `json:"loaded_at"`
	Error    *string `json:"error"`
	File     string  `json:"file"`
}

// Day is the duty roster of one date.
type Day struct {
	Date     string  `json:"date"`
	Operator []Entry `json:"operator"`
	Lab      []Entry `json:"lab"`
	Meta     Meta    `json:"meta"`
}

// Options configures a Loader.
type Options struct {
	Path     string
	Interval time.Duration
	Logger   *slog.Logger
	Metrics  *observability.Metrics
}

// Loader keeps the schedule file in memory and re-reads it when its
// modification time changes. A failed reload keeps the previous rows and
// records the error until the next successful one.
type Loader struct {
	path     string
	interval time.Duration
	logger   *slog.Logger
	metrics  *observability.Metrics
	now      func() time.Time

	mu       sync.RWMutex
	rows     []Row
	loadedAt string
	lastErr  error
	mtime    time.Time
	loaded   bool
}

func NewLoader(opts Options) *Loader {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	interval := opts.Interval
	if interval <= 0 {
		interval = 10 * time.Second
	}
	return &Loader{
		path:     opts.Path,
		interval: interval,
		logger:   logger,
		metrics:  opts.Metrics,
		now:      time.Now,
		loadedAt: "-",
	}
}

// Reload reads the file when forced, after a failed reload, or when its
// modification time moved since the last successful read.
func (l *Loader) Reload(force bool) error {
	info, err := os.Stat(l.path)
	if err != nil {
		return l.fail(fmt.Errorf("schedule file %s: %w", l.path, err))
	}
	l.mu.RLock()
	unchanged := l.loaded && l.lastErr == nil && info.ModTime().Equal(l.mtime)
	l.mu.RUnlock()
	if !force && unchanged {
		return nil
	}

	raw, err := os.ReadFile(l.path)
	if err != nil {
		return l.fail(fmt.Errorf("read schedule: %w", err))
	}
	rows, err := Parse(raw)
	if err != nil {
		return l.fail(err)
	}

	l.mu.Lock()
	l.rows = rows
	l.loadedAt = l.now().Format(loadedLayout)
	l.lastErr = nil
	l.mtime = info.ModTime()
	l.loaded = true
	l.mu.Unlock()

	l.metrics.ScheduleLoad("success")
	l.logger.Info("schedule_loaded", slog.String("file", l.path), slog.Int("rows", len(rows)))
	return nil
}

func (l *Loader) fail(err error) error {
	l.mu.Lock()
	repeated := l.lastErr != nil && l.lastErr.Error() == err.Error()
	l.lastErr = err
	l.loadedAt = l.now().Format(loadedLayout)
	l.mu.Unlock()

	l.metrics.ScheduleLoad("error")
	if !repeated {
		l.logger.Warn("schedule_load_failed", slog.String("file", l.path), slog.Any("err", err))
	}
	return err
}

// Run loads immediately and then checks the file on every interval until
// ctx is done.
func (l *Loader) Run(ctx context.Context) {
	l.tick(true)
	ticker := time.NewTicker(l.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.tick(false)
		}
	}
}

func (l *Loader) tick(force bool) {
	defer func() {
		if p := recover(); p != nil {
			l.metrics.ScheduleLoad("panic")
			l.logger.Error("schedule_load_panic", slog.Any("panic", p))
		}
	}()
	_ = l.Reload(force)
}

// Meta reports the last reload.
func (l *Loader) Meta() Meta {
	l.mu.RLock()
	defer l.mu.RUnlock()
	m := Meta{LoadedAt: l.loadedAt, File: l.path}
	if l.lastErr != nil {
		msg := l.lastErr.Error()
		m.Error = &msg
	}
	return m
}

// ForDate returns the WTP3 production operators on a 12-hour shift and the
// laboratory analysts scheduled on date, each sorted by name.
func (l *Loader) ForDate(date string) (operators, lab []Entry) {
	l.mu.RLock()
	rows := l.rows
	l.mu.RUnlock()
	return Filter(rows, date)
}

// Day bundles ForDate with the reload metadata.
func (l *Loader) Day(date string) Day {
	op, lab := l.ForDate(date)
	return Day{Date: date, Operator: op, Lab: lab, Meta: l.Meta()}
}

// Filter selects the duty roster of date from rows.
func Filter(rows []Row, date string) (operators, lab []Entry) {
	operators, lab = []Entry{}, []Entry{}
	for _, r := range rows {
		if r.DateMS == 0 || time.UnixMilli(r.DateMS).UTC().Format(DateLayout) != date {
			continue
		}
		if !r.HasStart || !r.HasEnd {
			continue
		}
		role := strings.ToLower(r.Role)
		shift := strings.ToUpper(r.Shift)
		site := strings.ToUpper(r.Location)
		switch {
		case role == roleOperator && site == siteOperator && strings.Contains(shift, operatorShift):
			operators = append(operators, entry(r.Name, shift, r.Hours, siteOperator))
		case role == roleAnalyst && site == siteLab:
			lab = append(lab, entry(r.Name, shift, r.Hours, siteLab))
		}
	}
	sort.SliceStable(operators, func(i, j int) bool { return operators[i].Name < operators[j].Name })
	sort.SliceStable(lab, func(i, j int) bool { return lab[i].Name < lab[j].Name })
	return operators, lab
}

func entry(name, shift, hours, site string) Entry {
	if shift == "" {
		shift = "-"
	}
	if hours == "" {
		hours = "-"
	}
	return Entry{Name: name, Shift: shift, Hours: hours, Location: site}
}

// ErrFormat means the schedule file is not a JSON list of objects.
var ErrFormat = errors.New("schedule must be a JSON list of objects")

// Parse decodes the schedule file. Entries that are not objects are
// skipped; text fields are trimmed.
func Parse(raw []byte) ([]Row, error) {
	dec := json.NewDecoder(bytes.NewReader(bytes.TrimPrefix(raw, []byte("\ufeff"))))
	dec.UseNumber()
	var doc any
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("decode schedule: %w", err)
	}
	list, ok := doc.([]any)
	if !ok {
		return nil, ErrFormat
	}
	rows := make([]Row, 0, len(list))
	for _, item := range list {
		obj, ok := item.(map[string]any)
		if !ok {
			continue
		}
		rows = append(rows, Row{
			DateMS:   epochMillis(obj["tanggal"]),
			Name:     text(obj["nama"]),
			Role:     text(obj["jabatan"]),
			Shift:    text(obj["shift_kode"]),
			Hours:    text(obj["jam_kerja"]),
			Location: text(obj["lokasi"]),
			HasStart: present(obj["jam_mulai"]),
			HasEnd:   present(obj["jam_selesai"]),
		})
	}
	return rows, nil
}

func text(v any) string {
	switch x := v.(type) {
	case string:
		return strings.TrimSpace(x)
	case json.Number:
		return x.String()
	default:
		return ""
	}
}

func epochMillis(v any) int64 {
	switch x := v.(type) {
	case json.Number:
		if n, err := x.Int64(); err == nil {
			return n
		}
		if f, err := x.Float64(); err == nil {
			return int64(f)
		}
	case string:
		n, err := json.Number(strings.TrimSpace(x)).Int64()
		if err == nil {
			return n
		}
	}
	return 0
}

// present mirrors a truthiness check: null, false, zero and blank text are
// absent.
func present(v any) bool {
	switch x := v.(type) {
	case nil:
		return false
	case bool:
		return x
	case string:
		return strings.TrimSpace(x) != ""
	case json.Number:
		f, err := x.Float64()
		return err != nil || f != 0
	default:
		return true
	}
}
