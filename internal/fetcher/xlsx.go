package fetcher

import (
	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"

	"github.com/sells-group/dispatch-sync/internal/model"
)

// XLSXOptions configures the XLSX parser.
type XLSXOptions struct {
	SheetIndex int    // default 0
	SheetName  string // if set, overrides SheetIndex
	SkipRows   int    // number of leading rows to skip before the header
}

// ReadXLSX reads an XLSX file and returns all rows as string slices. Date
// formatted cells are rendered as 2006-01-02 regardless of the sheet's
// display format.
func ReadXLSX(path string, opts XLSXOptions) ([][]string, error) {
	f, err := xlsx.OpenFile(path)
	if err != nil {
		return nil, eris.Wrap(err, "xlsx: open file")
	}

	sheet, err := getSheet(f, opts)
	if err != nil {
		return nil, err
	}

	var rows [][]string
	for i, row := range sheet.Rows {
		if i < opts.SkipRows {
			continue
		}
		rows = append(rows, rowToStrings(row, f.Date1904))
	}

	return rows, nil
}

// ReadXLSXTable reads one worksheet into a Table. The first row after
// SkipRows is the header; fully blank rows are dropped.
func ReadXLSXTable(path string, opts XLSXOptions) (model.Table, error) {
	rows, err := ReadXLSX(path, opts)
	if err != nil {
		return model.Table{}, err
	}
	if len(rows) == 0 {
		return model.Table{}, eris.Errorf("xlsx: %s has no header row", path)
	}

	var records [][]string
	for _, r := range rows[1:] {
		if !blank(r) {
			records = append(records, r)
		}
	}
	return model.NewTable(rows[0], records), nil
}

// WriteXLSX saves t to path as a single worksheet. Cells are written as
// strings so values read back exactly as rendered.
func WriteXLSX(path, sheetName string, t model.Table) error {
	if sheetName == "" {
		sheetName = "Sheet1"
	}
	f := xlsx.NewFile()
	sheet, err := f.AddSheet(sheetName)
	if err != nil {
		return eris.Wrapf(err, "xlsx: add sheet %s", sheetName)
	}

	header := sheet.AddRow()
	for _, c := range t.Columns {
		header.AddCell().SetString(c)
	}
	for _, rec := range t.Records() {
		row := sheet.AddRow()
		for _, v := range rec {
			row.AddCell().SetString(v)
		}
	}

	if err := f.Save(path); err != nil {
		return eris.Wrapf(err, "xlsx: save %s", path)
	}
	return nil
}

func getSheet(f *xlsx.File, opts XLSXOptions) (*xlsx.Sheet, error) {
	if opts.SheetName != "" {
		sheet, ok := f.Sheet[opts.SheetName]
		if !ok {
			return nil, eris.Errorf("xlsx: sheet %q not found", opts.SheetName)
		}
		return sheet, nil
	}

	if opts.SheetIndex >= len(f.Sheets) {
		return nil, eris.Errorf("xlsx: sheet index %d out of range (file has %d sheets)", opts.SheetIndex, len(f.Sheets))
	}

	return f.Sheets[opts.SheetIndex], nil
}

func rowToStrings(row *xlsx.Row, date1904 bool) []string {
	cells := make([]string, len(row.Cells))
	for j, cell := range row.Cells {
		if cell.IsTime() {
			if t, err := cell.GetTime(date1904); err == nil {
				cells[j] = t.Format(model.DateLayout)
				continue
			}
		}
		cells[j] = cell.String()
	}
	return cells
}

func blank(r []string) bool {
	for _, v := range r {
		if v != "" {
			return false
		}
	}
	return true
}
