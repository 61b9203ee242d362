package sheets

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
)

// fakeSheets is a minimal in-memory Sheets v4 server covering the calls the
// client makes.
type fakeSheets struct {
	t  *testing.T
	mu sync.Mutex

	sheets map[string]*fakeSheet
	nextID int64
	calls  map[string]int

	// failNext makes the next n value writes return the given status.
	failStatus int
	failNext   int
}

type fakeSheet struct {
	id   int64
	cols int
	grid [][]string
}

func newFakeSheets(t *testing.T) (*fakeSheets, *httptest.Server) {
	t.Helper()
	f := &fakeSheets{t: t, sheets: make(map[string]*fakeSheet), nextID: 100, calls: make(map[string]int)}
	srv := httptest.NewServer(f)
	t.Cleanup(srv.Close)
	return f, srv
}

func (f *fakeSheets) addSheet(title string, rows ...[]string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	f.sheets[title] = &fakeSheet{id: f.nextID, cols: defaultCols, grid: rows}
}

func (f *fakeSheets) grid(title string) [][]string {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.sheets[title]
	if !ok {
		return nil
	}
	out := make([][]string, len(s.grid))
	for i, r := range s.grid {
		out[i] = append([]string(nil), r...)
	}
	return out
}

func (f *fakeSheets) count(op string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[op]
}

func (f *fakeSheets) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if r.Header.Get("Authorization") != "Bearer test-token" {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}

	rest := strings.TrimPrefix(r.URL.Path, "/spreadsheets/sid")
	switch {
	case rest == "" && r.Method == http.MethodGet:
		f.calls["meta"]++
		f.meta(w)
	case rest == ":batchUpdate":
		f.calls["batchUpdate"]++
		f.structural(w, r)
	case rest == "/values:batchUpdate":
		f.calls["values.batchUpdate"]++
		if f.fail(w) {
			return
		}
		f.batchValues(w, r)
	case strings.HasPrefix(rest, "/values/") && strings.HasSuffix(rest, ":append"):
		f.calls["append"]++
		if f.fail(w) {
			return
		}
		f.appendValues(w, r, strings.TrimSuffix(strings.TrimPrefix(rest, "/values/"), ":append"))
	case strings.HasPrefix(rest, "/values/") && r.Method == http.MethodGet:
		f.calls["get"]++
		f.getValues(w, strings.TrimPrefix(rest, "/values/"))
	case strings.HasPrefix(rest, "/values/") && r.Method == http.MethodPut:
		f.calls["put"]++
		f.putValues(w, r, strings.TrimPrefix(rest, "/values/"))
	default:
		f.t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		w.WriteHeader(http.StatusNotFound)
	}
}

func (f *fakeSheets) fail(w http.ResponseWriter) bool {
	if f.failNext <= 0 {
		return false
	}
	f.failNext--
	w.WriteHeader(f.failStatus)
	_, _ = w.Write([]byte(`{"error":{"message":"injected"}}`))
	return true
}

func (f *fakeSheets) meta(w http.ResponseWriter) {
	var meta spreadsheetMeta
	for title, s := range f.sheets {
		meta.Sheets = append(meta.Sheets, sheetEntry{Properties: sheetProperties{SheetID: s.id, Title: title, GridProperties: gridProperties{RowCount: defaultRows, ColumnCount: s.cols}}})
	}
	_ = json.NewEncoder(w).Encode(meta)
}

func (f *fakeSheets) structural(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Requests []struct {
			AddSheet        *sheetEntry `json:"addSheet"`
			AppendDimension *struct {
				SheetID int64 `json:"sheetId"`
				Length  int   `json:"length"`
			} `json:"appendDimension"`
		} `json:"requests"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	var resp batchUpdateResponse
	for _, q := range req.Requests {
		switch {
		case q.AddSheet != nil:
			f.nextID++
			p := q.AddSheet.Properties
			f.sheets[p.Title] = &fakeSheet{id: f.nextID, cols: p.GridProperties.ColumnCount}
			p.SheetID = f.nextID
			resp.Replies = append(resp.Replies, batchReply{AddSheet: &sheetEntry{Properties: p}})
		case q.AppendDimension != nil:
			for _, s := range f.sheets {
				if s.id == q.AppendDimension.SheetID {
					s.cols += q.AppendDimension.Length
				}
			}
		}
	}
	_ = json.NewEncoder(w).Encode(resp)
}

func (f *fakeSheets) getValues(w http.ResponseWriter, rng string) {
	title, a1 := splitRange(rng)
	s, ok := f.sheets[title]
	if !ok {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	out := valueRange{Range: rng}
	switch a1 {
	case "":
		out.Values = s.grid
	case "1:1":
		if len(s.grid) > 0 {
			out.Values = s.grid[:1]
		}
	default:
		f.t.Errorf("unsupported get range %q", rng)
	}
	_ = json.NewEncoder(w).Encode(out)
}

func (f *fakeSheets) putValues(w http.ResponseWriter, r *http.Request, rng string) {
	assertRaw(f.t, r)
	var vr valueRange
	_ = json.NewDecoder(r.Body).Decode(&vr)
	title, a1 := splitRange(rng)
	col, row := parseCell(strings.SplitN(a1, ":", 2)[0])
	f.write(f.sheets[title], row, col, vr.Values[0])
	w.WriteHeader(http.StatusOK)
}

func (f *fakeSheets) appendValues(w http.ResponseWriter, r *http.Request, rng string) {
	assertRaw(f.t, r)
	var vr valueRange
	_ = json.NewDecoder(r.Body).Decode(&vr)
	title, _ := splitRange(rng)
	s := f.sheets[title]
	for _, rec := range vr.Values {
		s.grid = append(s.grid, append([]string(nil), rec...))
	}
	w.WriteHeader(http.StatusOK)
}

func (f *fakeSheets) batchValues(w http.ResponseWriter, r *http.Request) {
	var req batchUpdateValuesRequest
	_ = json.NewDecoder(r.Body).Decode(&req)
	if req.ValueInputOption != "RAW" {
		f.t.Errorf("valueInputOption = %q, want RAW", req.ValueInputOption)
	}
	for _, d := range req.Data {
		title, a1 := splitRange(d.Range)
		col, row := parseCell(strings.SplitN(a1, ":", 2)[0])
		f.write(f.sheets[title], row, col, d.Values[0])
	}
	w.WriteHeader(http.StatusOK)
}

func (f *fakeSheets) write(s *fakeSheet, row, col int, vals []string) {
	for len(s.grid) < row {
		s.grid = append(s.grid, nil)
	}
	rec := s.grid[row-1]
	for len(rec) < col+len(vals) {
		rec = append(rec, "")
	}
	copy(rec[col:], vals)
	s.grid[row-1] = rec
}

func assertRaw(t *testing.T, r *http.Request) {
	if got := r.URL.Query().Get("valueInputOption"); got != "RAW" {
		t.Errorf("valueInputOption = %q, want RAW", got)
	}
}

// splitRange splits 'Title'!A1 into the unquoted title and the A1 part.
func splitRange(rng string) (string, string) {
	title, a1 := rng, ""
	if i := strings.LastIndex(rng, "!"); i >= 0 {
		title, a1 = rng[:i], rng[i+1:]
	}
	title = strings.TrimSuffix(strings.TrimPrefix(title, "'"), "'")
	return strings.ReplaceAll(title, "''", "'"), a1
}

// parseCell converts "C7" into a zero-based column and a one-based row.
func parseCell(a1 string) (int, int) {
	col := 0
	i := 0
	for ; i < len(a1) && a1[i] >= 'A' && a1[i] <= 'Z'; i++ {
		col = col*26 + int(a1[i]-'A'+1)
	}
	row, _ := strconv.Atoi(a1[i:])
	return col - 1, row
}
