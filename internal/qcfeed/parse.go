// v0
// internal/qcfeed/parse.go
package qcfeed

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/redmozaic77-design/DashboardSCTK/internal/metric"
	"github.com/redmozaic77-design/DashboardSCTK/internal/normalize"
)

// DisplayLayout is the row timestamp format exposed to clients.
const DisplayLayout = "2006-01-02 15:04"

var timestampLayouts = []string{
	"2006-01-02 15:04",
	"2006-01-02 15:04:05",
	"2006-01-02",
	"1/2/2006 15:04:05",
	"1/2/2006 15:04",
}

var (
	timestampColumn = []string{"DateTime", "Datetime", "DATE TIME", "Date Time"}

	// qcUpdateKeys feed LastQCUpdate; chlorine is tracked on its own.
	qcUpdateKeys = []metric.Key{metric.Turbidity, metric.Color, metric.PH}
)

// Table is a header-indexed delimited document.
type Table struct {
	Headers []string
	Rows    [][]string
}

// Row is one timestamped sample of the feed.
type Row struct {
	TS     int64
	DT     string
	Values map[metric.Key]float64
}

// SplitLine splits one delimited line. Commas inside double quotes do not
// separate fields; quotes are removed and doubled quotes are not escapes.
func SplitLine(line string) []string {
	var (
		fields []string
		cur    strings.Builder
		quoted bool
	)
	for _, r := range line {
		switch {
		case r == '"':
			quoted = !quoted
		case r == ',' && !quoted:
			fields = append(fields, strings.TrimSpace(cur.String()))
			cur.Reset()
		default:
			cur.WriteRune(r)
		}
	}
	return append(fields, strings.TrimSpace(cur.String()))
}

// ParseTable reads the header line and every non-blank row after it.
func ParseTable(text string) (Table, error) {
	lines := strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n")
	var t Table
	for _, line := range lines {
		line = strings.TrimRight(line, "\r")
		if strings.TrimSpace(line) == "" {
			continue
		}
		if t.Headers == nil {
			t.Headers = SplitLine(line)
			continue
		}
		t.Rows = append(t.Rows, SplitLine(line))
	}
	if t.Headers == nil {
		return Table{}, errors.New("feed has no header line")
	}
	return t, nil
}

func normHeader(s string) string {
	s = strings.ReplaceAll(s, "\ufeff", "")
	s = strings.NewReplacer("\n", " ", "\r", " ").Replace(s)
	return strings.ReplaceAll(strings.ToLower(strings.TrimSpace(s)), " ", "")
}

// FindColumn returns the index of the first header matching one of the
// candidates, comparing case and space insensitively and then by
// substring containment. It returns -1 when nothing matches.
func FindColumn(headers []string, candidates ...string) int {
	norm := make([]string, len(headers))
	for i, h := range headers {
		norm[i] = normHeader(h)
	}
	for _, c := range candidates {
		want := normHeader(c)
		for i, h := range norm {
			if h == want {
				return i
			}
		}
	}
	for _, c := range candidates {
		want := normHeader(c)
		if want == "" {
			continue
		}
		for i, h := range norm {
			if strings.Contains(h, want) {
				return i
			}
		}
	}
	return -1
}

// ParseTimestamp reads a feed timestamp in loc.
func ParseTimestamp(s string, loc *time.Location) (time.Time, bool) {
	s = strings.TrimSpace(strings.ReplaceAll(s, `"`, ""))
	if s == "" {
		return time.Time{}, false
	}
	if loc == nil {
		loc = time.Local
	}
	for _, layout := range timestampLayouts {
		if t, err := time.ParseInLocation(layout, s, loc); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// Parse turns feed text into a snapshot. Missing value columns mean no data
// for that key; a feed with no timestamped row is rejected so callers keep
// their previous snapshot.
func Parse(text string, loc *time.Location) (Snapshot, error) {
	table, err := ParseTable(text)
	if err != nil {
		return Snapshot{}, fmt.Errorf("%w: %v", metric.ErrFeedFetch, err)
	}

	tsCol := FindColumn(table.Headers, timestampColumn...)
	cols := make(map[metric.Key]int)
	for _, spec := range metric.Catalog() {
		if spec.Kind != metric.KindQC {
			continue
		}
		if idx := FindColumn(table.Headers, spec.Column...); idx >= 0 {
			cols[spec.Key] = idx
		}
	}

	rows := make([]Row, 0, len(table.Rows))
	if tsCol >= 0 {
		for _, fields := range table.Rows {
			if tsCol >= len(fields) {
				continue
			}
			when, ok := ParseTimestamp(fields[tsCol], loc)
			if !ok {
				continue
			}
			row := Row{TS: when.Unix(), DT: when.Format(DisplayLayout), Values: make(map[metric.Key]float64, len(cols))}
			for k, idx := range cols {
				if idx >= len(fields) {
					continue
				}
				if v, err := normalize.ParseFloat(fields[idx]); err == nil {
					row.Values[k] = v
				}
			}
			rows = append(rows, row)
		}
	}
	if len(rows) == 0 {
		return Snapshot{}, fmt.Errorf("%w: no timestamped rows among %d", metric.ErrFeedFetch, len(table.Rows))
	}

	sort.SliceStable(rows, func(i, j int) bool { return rows[i].TS < rows[j].TS })
	return newSnapshot(table.Headers, rows), nil
}
