package catalog

import (
	"encoding/csv"
	"os"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"

	"github.com/sells-group/lawdoc-cli/internal/model"
)

// Tabular lists carry a header row. Columns are matched by name, case
// insensitively: either type, year and number, or a single id column in
// {type}-{year}-{number} form, plus url.
const (
	colType   = "type"
	colYear   = "year"
	colNumber = "number"
	colID     = "id"
	colURL    = "url"
)

func readCSV(path string) ([]Entry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, eris.Wrapf(err, "catalog: open %s", path)
	}
	defer f.Close() //nolint:errcheck

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	r.TrimLeadingSpace = true
	rows, err := r.ReadAll()
	if err != nil {
		return nil, eris.Wrapf(err, "catalog: parse %s", path)
	}
	return fromRows(rows)
}

func readXLSX(path string) ([]Entry, error) {
	f, err := xlsx.OpenFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "catalog: open %s", path)
	}
	if len(f.Sheets) == 0 {
		return nil, eris.Errorf("catalog: %s has no sheets", path)
	}

	sheet := f.Sheets[0]
	rows := make([][]string, 0, len(sheet.Rows))
	for _, row := range sheet.Rows {
		cells := make([]string, len(row.Cells))
		for j, cell := range row.Cells {
			cells[j] = cell.String()
		}
		rows = append(rows, cells)
	}
	return fromRows(rows)
}

// fromRows maps a header row plus data rows to entries. Blank rows are
// skipped; row numbers in errors count the header as row 1.
func fromRows(rows [][]string) ([]Entry, error) {
	if len(rows) == 0 {
		return nil, nil
	}

	cols := make(map[string]int)
	for i, h := range rows[0] {
		cols[strings.ToLower(strings.TrimSpace(h))] = i
	}
	if _, ok := cols[colURL]; !ok {
		return nil, eris.New("catalog: header has no url column")
	}
	_, hasID := cols[colID]
	_, hasType := cols[colType]
	if !hasID && !hasType {
		return nil, eris.New("catalog: header needs an id column or type, year and number columns")
	}

	cell := func(row []string, name string) string {
		i, ok := cols[name]
		if !ok || i >= len(row) {
			return ""
		}
		return strings.TrimSpace(row[i])
	}

	var out []Entry
	for n, row := range rows[1:] {
		if blank(row) {
			continue
		}
		line := n + 2
		e := Entry{URL: cell(row, colURL)}

		if id := cell(row, colID); id != "" {
			ident, err := model.ParseIdentity(id)
			if err != nil {
				return nil, eris.Wrapf(err, "catalog: row %d", line)
			}
			e.Type, e.Year, e.Number = string(ident.Type), ident.Year, ident.Number
		} else {
			e.Type = cell(row, colType)
			var err error
			if e.Year, err = atoi(cell(row, colYear)); err != nil {
				return nil, eris.Wrapf(err, "catalog: row %d: year", line)
			}
			if e.Number, err = atoi(cell(row, colNumber)); err != nil {
				return nil, eris.Wrapf(err, "catalog: row %d: number", line)
			}
		}
		out = append(out, e)
	}
	return out, nil
}

func atoi(s string) (int, error) {
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, eris.Errorf("%q is not a number", s)
	}
	return n, nil
}

func blank(row []string) bool {
	for _, c := range row {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}
