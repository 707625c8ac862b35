// Package export appends device readings to daily CSV files.
//
// Each calendar day (in the writer's location) gets its own file named
// umg_readings_<YYYY-MM-DD>.csv. Rows carry an ISO-8601 timestamp with
// offset, one column per register, the minutes elapsed since the first row
// of the file and the milestone minutes crossed since the previous row.
package export

import (
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"slices"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prognoza/umg-vpn-poller/internal/fault"
)

const (
	FilePrefix = "umg_readings_"
	FileGlob   = FilePrefix + "*.csv"

	ColumnTimestamp      = "timestamp"
	ColumnMinutesElapsed = "minutes_elapsed"
	ColumnMilestones     = "milestones"

	// TimestampLayout is ISO-8601 with a numeric offset, second precision.
	TimestampLayout = "2006-01-02T15:04:05-07:00"
)

// DefaultMilestones are the minute marks recorded in the milestones column.
var DefaultMilestones = []int{15, 30, 45, 60, 120, 240, 480, 720, 1440}

// Row is one CSV record keyed by column name.
type Row struct {
	Columns []string
	Values  map[string]string
}

// Get returns the value of col, or "" when absent.
func (r Row) Get(col string) string {
	return r.Values[col]
}

// Timestamp parses the row's timestamp column.
func (r Row) Timestamp() (time.Time, error) {
	return time.Parse(TimestampLayout, r.Get(ColumnTimestamp))
}

// MarshalJSON encodes the row as a flat object.
func (r Row) MarshalJSON() ([]byte, error) {
	return json.Marshal(r.Values)
}

// Writer appends rows to the daily files under Dir.
type Writer struct {
	Dir        string
	Milestones []int
	// Location selects the calendar day and timestamp offset. Defaults to time.Local.
	Location *time.Location

	logger *slog.Logger
	mu     sync.Mutex
}

// NewWriter creates a Writer. A nil milestones slice selects DefaultMilestones.
func NewWriter(dir string, milestones []int, logger *slog.Logger) *Writer {
	if milestones == nil {
		milestones = DefaultMilestones
	}
	if logger == nil {
		logger = slog.Default()
	}
	ms := append([]int(nil), milestones...)
	sort.Ints(ms)
	return &Writer{Dir: dir, Milestones: ms, logger: logger}
}

func (w *Writer) location() *time.Location {
	if w.Location != nil {
		return w.Location
	}
	return time.Local
}

// PathFor returns the file that a row stamped ts belongs to.
func (w *Writer) PathFor(ts time.Time) string {
	day := ts.In(w.location()).Format("2006-01-02")
	return filepath.Join(w.Dir, FilePrefix+day+".csv")
}

// Write appends one row for ts. columns fixes the register order for a new
// file; an existing file's header always wins. nil values are written empty.
func (w *Writer) Write(ts time.Time, columns []string, values map[string]*float64) (Row, string, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	ts = ts.In(w.location()).Truncate(time.Second)
	path := w.PathFor(ts)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return Row{}, path, fmt.Errorf("create exports dir: %w", err)
	}

	existing, err := readRows(path)
	if err != nil {
		return Row{}, path, err
	}

	header := existing.header
	newFile := len(header) == 0
	if newFile {
		header = buildHeader(columns)
	} else if missing := missingColumns(header, columns); len(missing) > 0 {
		w.logger.Warn("csv_columns_dropped", "path", path, "columns", missing)
	}

	minutes := 0.0
	prev := -1.0
	if existing.first != nil {
		if first, err := existing.first.Timestamp(); err == nil {
			minutes = round2(ts.Sub(first).Minutes())
		}
		prev = previousMinutes(*existing.last)
	}
	crossed := crossedMilestones(w.Milestones, prev, minutes)

	row := Row{Columns: header, Values: make(map[string]string, len(header))}
	for name, v := range values {
		row.Values[name] = formatValue(v)
	}
	row.Values[ColumnTimestamp] = ts.Format(TimestampLayout)
	row.Values[ColumnMinutesElapsed] = strconv.FormatFloat(minutes, 'f', 2, 64)
	row.Values[ColumnMilestones] = joinInts(crossed)

	record := make([]string, len(header))
	for i, col := range header {
		record[i] = row.Values[col]
	}
	// Keep only what the file can hold.
	for col := range row.Values {
		if !slices.Contains(header, col) {
			delete(row.Values, col)
		}
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return Row{}, path, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	cw := csv.NewWriter(f)
	if newFile {
		if err := cw.Write(header); err != nil {
			return Row{}, path, fmt.Errorf("write header: %w", err)
		}
	}
	if err := cw.Write(record); err != nil {
		return Row{}, path, fmt.Errorf("write row: %w", err)
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return Row{}, path, fmt.Errorf("flush %s: %w", path, err)
	}

	w.logger.Debug("csv_row_written",
		"path", path,
		"timestamp", row.Get(ColumnTimestamp),
		"minutes_elapsed", minutes,
		"milestones", row.Get(ColumnMilestones),
	)
	return row, path, nil
}

// Latest returns the newest export file under dir and its last row.
func Latest(dir string) (string, Row, error) {
	const op = "export.Latest"

	files, err := filepath.Glob(filepath.Join(dir, FileGlob))
	if err != nil {
		return "", Row{}, err
	}
	sort.Strings(files)
	for i := len(files) - 1; i >= 0; i-- {
		rows, err := readRows(files[i])
		if err != nil {
			return "", Row{}, err
		}
		if rows.last != nil {
			return files[i], *rows.last, nil
		}
	}
	return "", Row{}, fault.Newf(fault.KindNotFound, op, "no readings in %s", dir)
}

type fileRows struct {
	header      []string
	first, last *Row
}

func readRows(path string) (fileRows, error) {
	var out fileRows
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return out, nil
	}
	if err != nil {
		return out, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	header, err := r.Read()
	if errors.Is(err, io.EOF) {
		return out, nil
	}
	if err != nil {
		return out, fmt.Errorf("read header %s: %w", path, err)
	}
	out.header = header

	for {
		rec, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return out, fmt.Errorf("read %s: %w", path, err)
		}
		row := toRow(header, rec)
		if out.first == nil {
			out.first = &row
		}
		out.last = &row
	}
	return out, nil
}

func toRow(header, rec []string) Row {
	row := Row{Columns: header, Values: make(map[string]string, len(header))}
	for i, col := range header {
		if i < len(rec) {
			row.Values[col] = rec[i]
		}
	}
	return row
}

func buildHeader(columns []string) []string {
	header := make([]string, 0, len(columns)+3)
	header = append(header, ColumnTimestamp)
	for _, c := range columns {
		if c == ColumnTimestamp || c == ColumnMinutesElapsed || c == ColumnMilestones {
			continue
		}
		header = append(header, c)
	}
	return append(header, ColumnMinutesElapsed, ColumnMilestones)
}

func missingColumns(header, columns []string) []string {
	var missing []string
	for _, c := range columns {
		if !slices.Contains(header, c) {
			missing = append(missing, c)
		}
	}
	return missing
}

// previousMinutes reads minutes_elapsed from the last row; -1 when unparseable.
func previousMinutes(last Row) float64 {
	v, err := strconv.ParseFloat(last.Get(ColumnMinutesElapsed), 64)
	if err != nil {
		return -1
	}
	return v
}

// crossedMilestones returns the milestones m with prev < m <= cur.
func crossedMilestones(milestones []int, prev, cur float64) []int {
	var out []int
	for _, m := range milestones {
		fm := float64(m)
		if fm > prev && fm <= cur {
			out = append(out, m)
		}
	}
	return out
}

func formatValue(v *float64) string {
	if v == nil || math.IsNaN(*v) || math.IsInf(*v, 0) {
		return ""
	}
	return strconv.FormatFloat(*v, 'f', -1, 64)
}

func joinInts(vals []int) string {
	parts := make([]string, len(vals))
	for i, v := range vals {
		parts[i] = strconv.Itoa(v)
	}
	return strings.Join(parts, ";")
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
