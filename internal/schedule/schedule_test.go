// v0
// internal/schedule/schedule_test.go
package schedule

import (
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"
)

// day5 is 2026-01-05 00:00 UTC.
const day5 = 1767571200000

const rosterJSON = `[
  {"tanggal": 1767571200000, "nama": "Sari ", "jabatan": "Operator Produksi", "shift_kode": "p12", "jam_kerja": "07:00-19:00", "lokasi": "wtp3", "jam_mulai": "07:00", "jam_selesai": "19:00"},
  {"tanggal": 1767571200000, "nama": "Adi", "jabatan": "operator produksi", "shift_kode": "M12", "jam_kerja": "19:00-07:00", "lokasi": "WTP3", "jam_mulai": "19:00", "jam_selesai": "07:00"},
  {"tanggal": 1767571200000, "nama": "Budi", "jabatan": "operator produksi", "shift_kode": "P8", "jam_kerja": "07:00-15:00", "lokasi": "WTP3", "jam_mulai": "07:00", "jam_selesai": "15:00"},
  {"tanggal": 1767571200000, "nama": "Citra", "jabatan": "operator produksi", "shift_kode": "P12", "jam_kerja": "07:00-19:00", "lokasi": "WTP2", "jam_mulai": "07:00", "jam_selesai": "19:00"},
  {"tanggal": 1767571200000, "nama": "Dewi", "jabatan": "operator produksi", "shift_kode": "P12", "jam_kerja": "", "lokasi": "WTP3", "jam_mulai": "07:00", "jam_selesai": null},
  {"tanggal": 1767571200000, "nama": "Rina", "jabatan": "Analis Laboratorium", "shift_kode": "", "jam_kerja": "", "lokasi": "lab", "jam_mulai": "08:00", "jam_selesai": "16:00"},
  {"tanggal": 1767571200000, "nama": "Eko", "jabatan": "analis laboratorium", "shift_kode": "S", "jam_kerja": "08:00-16:00", "lokasi": "LAB", "jam_mulai": "08:00", "jam_selesai": "16:00"},
  {"tanggal": 1767657600000, "nama": "Fajar", "jabatan": "operator produksi", "shift_kode": "P12", "jam_kerja": "07:00-19:00", "lokasi": "WTP3", "jam_mulai": "07:00", "jam_selesai": "19:00"},
  "not an object"
]`

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestFilterSelectsTwelveHourOperatorsAndAnalysts(t *testing.T) {
	rows, err := Parse([]byte(rosterJSON))
	if err != nil {
		t.Fatalf("Parse error: %v", err)
	}
	if len(rows) != 8 {
		t.Fatalf("non-object entries must be skipped, got %d rows", len(rows))
	}

	op, lab := Filter(rows, "2026-01-05")
	if len(op) != 2 || op[0].Name != "Adi" || op[1].Name != "Sari" {
		t.Fatalf("unexpected operators %+v", op)
	}
	if op[1].Shift != "P12" || op[1].Location != "WTP3" || op[1].Hours != "07:00-19:00" {
		t.Fatalf("operator entry not normalized: %+v", op[1])
	}
	if len(lab) != 2 || lab[0].Name != "Eko" || lab[1].Name != "Rina" {
		t.Fatalf("unexpected analysts %+v", lab)
	}
	if lab[1].Shift != "-" || lab[1].Hours != "-" || lab[1].Location != "LAB" {
		t.Fatalf("blank fields should read as '-': %+v", lab[1])
	}

	op, lab = Filter(rows, "2026-01-06")
	if len(op) != 1 || op[0].Name != "Fajar" || len(lab) != 0 {
		t.Fatalf("unexpected roster for next day: %+v %+v", op, lab)
	}
	op, lab = Filter(rows, "2030-01-01")
	if op == nil || lab == nil || len(op)+len(lab) != 0 {
		t.Fatalf("empty day must give empty lists, got %+v %+v", op, lab)
	}
}

func TestParseRejectsNonList(t *testing.T) {
	if _, err := Parse([]byte(`{"nama": "x"}`)); !errors.Is(err, ErrFormat) {
		t.Fatalf("expected ErrFormat, got %v", err)
	}
	if _, err := Parse([]byte(`[{`)); err == nil {
		t.Fatalf("broken json should fail")
	}
	rows, err := Parse([]byte("\ufeff" + `[{"tanggal": "1767571200000", "nama": "x"}]`))
	if err != nil || len(rows) != 1 || rows[0].DateMS != day5 {
		t.Fatalf("bom and string epoch not handled: %+v %v", rows, err)
	}
}

func TestLoaderReloadsOnlyWhenModified(t *testing.T) {
	path := filepath.Join(t.TempDir(), "jadwal.json")
	write := func(body string, mtime time.Time) {
		t.Helper()
		if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
			t.Fatalf("write: %v", err)
		}
		if err := os.Chtimes(path, mtime, mtime); err != nil {
			t.Fatalf("chtimes: %v", err)
		}
	}
	base := time.Date(2026, 1, 5, 6, 0, 0, 0, time.UTC)
	write(rosterJSON, base)

	l := NewLoader(Options{Path: path, Logger: discardLogger()})
	if meta := l.Meta(); meta.LoadedAt != "-" || meta.Error != nil {
		t.Fatalf("unexpected initial meta %+v", meta)
	}
	if err := l.Reload(true); err != nil {
		t.Fatalf("Reload error: %v", err)
	}
	if op, _ := l.ForDate("2026-01-05"); len(op) != 2 {
		t.Fatalf("expected 2 operators, got %+v", op)
	}

	// Same modification time: the new content is not picked up.
	write(`[]`, base)
	if err := l.Reload(false); err != nil {
		t.Fatalf("Reload error: %v", err)
	}
	if op, _ := l.ForDate("2026-01-05"); len(op) != 2 {
		t.Fatalf("unchanged mtime must not reload, got %+v", op)
	}

	write(`[]`, base.Add(time.Minute))
	if err := l.Reload(false); err != nil {
		t.Fatalf("Reload error: %v", err)
	}
	if op, _ := l.ForDate("2026-01-05"); len(op) != 0 {
		t.Fatalf("modified file not reloaded, got %+v", op)
	}
}

func TestLoaderKeepsRowsAndErrorOnFailure(t *testing.T) {
	path := filepath.Join(t.TempDir(), "jadwal.json")
	if err := os.WriteFile(path, []byte(rosterJSON), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	l := NewLoader(Options{Path: path, Logger: discardLogger()})
	if err := l.Reload(true); err != nil {
		t.Fatalf("Reload error: %v", err)
	}

	if err := os.WriteFile(path, []byte(`{"broken": true}`), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := l.Reload(true); !errors.Is(err, ErrFormat) {
		t.Fatalf("expected ErrFormat, got %v", err)
	}
	day := l.Day("2026-01-05")
	if len(day.Operator) != 2 || len(day.Lab) != 2 {
		t.Fatalf("previous rows must survive a failed reload: %+v", day)
	}
	if day.Meta.Error == nil || day.Meta.File != path || day.Meta.LoadedAt == "-" {
		t.Fatalf("failure not recorded in meta: %+v", day.Meta)
	}

	if err := os.Remove(path); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if err := l.Reload(false); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("expected missing file error, got %v", err)
	}

	if err := os.WriteFile(path, []byte(rosterJSON), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := l.Reload(false); err != nil {
		t.Fatalf("Reload error: %v", err)
	}
	if meta := l.Meta(); meta.Error != nil {
		t.Fatalf("successful reload should clear the error, got %q", *meta.Error)
	}
}
