package dataset

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"
	"voice-conformity-go/internal/failures"
	"voice-conformity-go/internal/types"
)

// Manifest is the parsed call registry. Items keep manifest order; duplicates
// are preserved so the resolver and the duplicate audit can see them.
type Manifest struct {
	Path     string
	Items    []types.WorkItem
	RowsRead int
	Dropped  int
}

type columns struct {
	ref, identity, date int
}

var (
	refHeaders      = []string{"gsutil_url", "audio_ref", "audio_url", "recording_url", "url"}
	identityHeaders = []string{"n_doc", "identity", "dni", "document", "doc"}
	dateHeaders     = []string{"fecha_llamada", "call_date", "fecha", "date"}
)

// Load reads a CSV or XLSX manifest. Rows missing a reference or identity,
// and rows whose reference is not an audio file, are dropped.
func Load(path string) (*Manifest, error) {
	var (
		rows [][]string
		err  error
	)
	switch strings.ToLower(filepath.Ext(path)) {
	case ".xlsx", ".xlsm":
		rows, err = readXLSX(path)
	default:
		rows, err = readCSV(path)
	}
	if err != nil {
		return nil, failures.DataUnavailable("dataset.load", err)
	}
	if len(rows) == 0 {
		return nil, failures.DataUnavailable("dataset.load", fmt.Errorf("%s: empty manifest", path))
	}

	cols, err := detectColumns(rows[0])
	if err != nil {
		return nil, failures.DataUnavailable("dataset.load", fmt.Errorf("%s: %w", path, err))
	}

	m := &Manifest{Path: path}
	for _, r := range rows[1:] {
		if blank(r) {
			continue
		}
		m.RowsRead++
		item, ok := parseRow(r, cols)
		if !ok {
			m.Dropped++
			continue
		}
		m.Items = append(m.Items, item)
	}
	return m, nil
}

func readCSV(path string) ([][]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open: %w", err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	r.LazyQuotes = true
	r.TrimLeadingSpace = true

	var rows [][]string
	for {
		rec, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read csv: %w", err)
		}
		rows = append(rows, rec)
	}
	if len(rows) > 0 && len(rows[0]) > 0 {
		rows[0][0] = strings.TrimPrefix(rows[0][0], "\ufeff")
	}
	return rows, nil
}

func readXLSX(path string) ([][]string, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("open file: %w", err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, fmt.Errorf("no sheets")
	}
	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, fmt.Errorf("read rows: %w", err)
	}
	return rows, nil
}

func detectColumns(header []string) (columns, error) {
	cols := columns{ref: -1, identity: -1, date: -1}
	names := make([]string, len(header))
	for i, h := range header {
		names[i] = strings.ToLower(strings.TrimSpace(h))
	}
	cols.ref = findHeader(names, refHeaders)
	cols.identity = findHeader(names, identityHeaders)
	cols.date = findHeader(names, dateHeaders)

	if cols.ref == -1 {
		return cols, fmt.Errorf("no audio reference column in header %v", header)
	}
	if cols.identity == -1 {
		return cols, fmt.Errorf("no identity column in header %v", header)
	}
	return cols, nil
}

// findHeader prefers exact matches in candidate order, then substring matches.
func findHeader(names, candidates []string) int {
	for _, c := range candidates {
		for i, n := range names {
			if n == c {
				return i
			}
		}
	}
	for _, c := range candidates {
		for i, n := range names {
			if strings.Contains(n, c) {
				return i
			}
		}
	}
	return -1
}

func parseRow(r []string, cols columns) (types.WorkItem, bool) {
	ref := cell(r, cols.ref)
	identity := NormalizeIdentity(cell(r, cols.identity))
	if ref == "" || identity == "" || !IsAudioRef(ref) {
		return types.WorkItem{}, false
	}

	item := types.WorkItem{Identity: identity, AudioRef: ref}
	if d, ok := ParseCallDate(cell(r, cols.date)); ok {
		item.CallDate = d
	} else if d, ok := DateFromFilename(ref); ok {
		item.CallDate = d
	}
	return item, true
}

func cell(r []string, idx int) string {
	if idx < 0 || idx >= len(r) {
		return ""
	}
	return strings.TrimSpace(r[idx])
}

func blank(r []string) bool {
	for _, v := range r {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}

// NormalizeIdentity trims whitespace and the ".0" suffix spreadsheet exports
// add to numeric document numbers.
func NormalizeIdentity(raw string) string {
	s := strings.TrimSpace(raw)
	if strings.HasSuffix(s, ".0") {
		if _, err := strconv.Atoi(strings.TrimSuffix(s, ".0")); err == nil {
			s = strings.TrimSuffix(s, ".0")
		}
	}
	return s
}

var dateLayouts = []string{
	"2006-01-02",
	"2006-01-02 15:04:05",
	time.RFC3339,
	"2006-01-02T15:04:05",
	"02/01/2006",
	"02/01/2006 15:04:05",
	"02-01-2006",
	"2006/01/02",
}

// ParseCallDate accepts the date layouts seen in manifests plus Excel serial
// day numbers. Only the calendar date is kept.
func ParseCallDate(raw string) (time.Time, bool) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return truncateDay(t), true
		}
	}
	if serial, err := strconv.ParseFloat(s, 64); err == nil && serial > 0 && serial < 2958466 {
		if t, err := excelize.ExcelDateToTime(serial, false); err == nil {
			return truncateDay(t), true
		}
	}
	return time.Time{}, false
}

func truncateDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
