// Package sheets implements the upsert store over the Google Sheets v4 REST
// API. Worksheets are addressed by title; row 1 holds the headers and data
// rows start at row 2.
package sheets

import (
	"context"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/dispatch-sync/internal/model"
	"github.com/sells-group/dispatch-sync/internal/upsert"
)

const (
	defaultBaseURL = "https://sheets.googleapis.com/v4"
	defaultRows    = 1000
	defaultCols    = 26
)

// ErrMissingSpreadsheet is returned when no spreadsheet ID was configured.
var ErrMissingSpreadsheet = eris.New("sheets: spreadsheet id is required")

var (
	_ upsert.Store        = (*Client)(nil)
	_ upsert.BatchUpdater = (*Client)(nil)
)

// Option configures the client.
type Option func(*Client)

// WithBaseURL overrides the default API base URL. Empty keeps the default.
func WithBaseURL(u string) Option {
	return func(c *Client) {
		if u != "" {
			c.baseURL = strings.TrimRight(u, "/")
		}
	}
}

// WithHTTPClient overrides the default http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.http = hc
	}
}

// Client is an upsert.Store backed by one spreadsheet. Values are written
// RAW so a snapshot reads back exactly what was written.
type Client struct {
	spreadsheetID string
	baseURL       string
	http          *http.Client
	tokens        TokenSource

	mu      sync.Mutex
	sheets  map[string]sheetProps
	headers map[string][]string
}

type sheetProps struct {
	ID      int64
	Columns int
}

// NewClient creates a client for the given spreadsheet.
func NewClient(spreadsheetID string, tokens TokenSource, opts ...Option) (*Client, error) {
	if spreadsheetID == "" {
		return nil, ErrMissingSpreadsheet
	}
	if tokens == nil {
		return nil, eris.New("sheets: token source is required")
	}
	c := &Client{
		spreadsheetID: spreadsheetID,
		baseURL:       defaultBaseURL,
		http:          &http.Client{Timeout: 30 * time.Second},
		tokens:        tokens,
		sheets:        make(map[string]sheetProps),
		headers:       make(map[string][]string),
	}
	for _, o := range opts {
		o(c)
	}
	return c, nil
}

// ReadSnapshot implements upsert.Store. A worksheet that does not exist yet
// reads as empty.
func (c *Client) ReadSnapshot(ctx context.Context, table, key string) (*upsert.Snapshot, error) {
	snap := &upsert.Snapshot{Rows: make(map[string]model.RemoteRow)}

	props, err := c.loadSheets(ctx)
	if err != nil {
		return nil, err
	}
	if _, ok := props[table]; !ok {
		return snap, nil
	}

	values, err := c.getValues(ctx, quoteSheet(table))
	if err != nil {
		return nil, eris.Wrapf(err, "sheets: read %s", table)
	}
	if len(values) == 0 {
		return snap, nil
	}

	snap.Headers = values[0]
	c.setHeaders(table, snap.Headers)

	keyIdx := indexOf(snap.Headers, key)
	if keyIdx < 0 {
		return snap, nil
	}
	for i, rec := range values[1:] {
		if keyIdx >= len(rec) || rec[keyIdx] == "" {
			continue
		}
		k := rec[keyIdx]
		if _, dup := snap.Rows[k]; dup {
			snap.Duplicates = append(snap.Duplicates, k)
			continue
		}
		row := make(model.Row, len(snap.Headers))
		for j, h := range snap.Headers {
			if j < len(rec) {
				row[h] = rec[j]
			} else {
				row[h] = ""
			}
		}
		snap.Rows[k] = model.RemoteRow{Position: i + 2, Values: row}
	}

	zap.L().Debug("sheets: snapshot read",
		zap.String("worksheet", table),
		zap.Int("rows", len(snap.Rows)),
		zap.Int("duplicates", len(snap.Duplicates)),
	)
	return snap, nil
}

// EnsureHeaders implements upsert.Store. The worksheet is created when
// missing, the grid is widened when needed, and missing headers are
// appended after the existing ones.
func (c *Client) EnsureHeaders(ctx context.Context, table string, headers []string) error {
	props, err := c.loadSheets(ctx)
	if err != nil {
		return err
	}
	sheet, ok := props[table]
	if !ok {
		sheet, err = c.addSheet(ctx, table, max(defaultCols, len(headers)))
		if err != nil {
			return err
		}
	}

	current, err := c.getValues(ctx, quoteSheet(table)+"!1:1")
	if err != nil {
		return eris.Wrapf(err, "sheets: read headers of %s", table)
	}
	var existing []string
	if len(current) > 0 {
		existing = current[0]
	}

	merged := append([]string(nil), existing...)
	have := make(map[string]bool, len(merged))
	for _, h := range merged {
		have[h] = true
	}
	for _, h := range headers {
		if !have[h] {
			merged = append(merged, h)
			have[h] = true
		}
	}
	c.setHeaders(table, merged)
	if len(merged) == len(existing) {
		return nil
	}

	if len(merged) > sheet.Columns {
		if err := c.widen(ctx, table, sheet, len(merged)); err != nil {
			return err
		}
	}

	rng := quoteSheet(table) + "!A1:" + columnLetter(len(merged)-1) + "1"
	body := valueRange{Range: rng, MajorDimension: "ROWS", Values: [][]string{merged}}
	path := "/spreadsheets/" + c.spreadsheetID + "/values/" + url.PathEscape(rng) + "?valueInputOption=RAW"
	if err := c.do(ctx, http.MethodPut, path, body, nil); err != nil {
		return eris.Wrapf(err, "sheets: write headers of %s", table)
	}
	zap.L().Info("sheets: headers updated",
		zap.String("worksheet", table),
		zap.Int("added", len(merged)-len(existing)),
	)
	return nil
}

// Append implements upsert.Store. Rows are laid out in worksheet header
// order; worksheet columns absent from headers are left blank.
func (c *Client) Append(ctx context.Context, table string, headers []string, rows []model.Row) error {
	if len(rows) == 0 {
		return nil
	}
	sheetHeaders, err := c.sheetHeaders(ctx, table)
	if err != nil {
		return err
	}
	allowed := toSet(headers)

	values := make([][]string, len(rows))
	for i, r := range rows {
		rec := make([]string, len(sheetHeaders))
		for j, h := range sheetHeaders {
			if allowed[h] {
				rec[j] = r[h]
			}
		}
		values[i] = rec
	}

	rng := quoteSheet(table) + "!A1"
	path := "/spreadsheets/" + c.spreadsheetID + "/values/" + url.PathEscape(rng) +
		":append?valueInputOption=RAW&insertDataOption=INSERT_ROWS"
	body := valueRange{Range: rng, MajorDimension: "ROWS", Values: values}
	if err := c.do(ctx, http.MethodPost, path, body, nil); err != nil {
		return eris.Wrapf(err, "sheets: append %d rows to %s", len(rows), table)
	}
	return nil
}

// UpdateAt implements upsert.Store.
func (c *Client) UpdateAt(ctx context.Context, table string, position int, headers []string, row model.Row) error {
	return c.UpdateMany(ctx, table, headers, []model.PlannedUpdate{{Position: position, Row: row}})
}

// UpdateMany implements upsert.BatchUpdater. Only the cells under headers
// are rewritten, so worksheet columns outside the batch keep their values.
func (c *Client) UpdateMany(ctx context.Context, table string, headers []string, updates []model.PlannedUpdate) error {
	if len(updates) == 0 {
		return nil
	}
	sheetHeaders, err := c.sheetHeaders(ctx, table)
	if err != nil {
		return err
	}
	runs := columnRuns(sheetHeaders, toSet(headers))

	req := batchUpdateValuesRequest{ValueInputOption: "RAW"}
	for _, u := range updates {
		if u.Position < 2 {
			return eris.Errorf("sheets: invalid row position %d in %s", u.Position, table)
		}
		row := strconv.Itoa(u.Position)
		for _, run := range runs {
			rec := make([]string, 0, run.end-run.start)
			for _, h := range sheetHeaders[run.start:run.end] {
				rec = append(rec, u.Row[h])
			}
			req.Data = append(req.Data, valueRange{
				Range:          quoteSheet(table) + "!" + columnLetter(run.start) + row + ":" + columnLetter(run.end-1) + row,
				MajorDimension: "ROWS",
				Values:         [][]string{rec},
			})
		}
	}
	if len(req.Data) == 0 {
		return nil
	}

	path := "/spreadsheets/" + c.spreadsheetID + "/values:batchUpdate"
	if err := c.do(ctx, http.MethodPost, path, req, nil); err != nil {
		return eris.Wrapf(err, "sheets: update %d rows in %s", len(updates), table)
	}
	return nil
}

func (c *Client) sheetHeaders(ctx context.Context, table string) ([]string, error) {
	c.mu.Lock()
	h, ok := c.headers[table]
	c.mu.Unlock()
	if ok {
		return h, nil
	}
	values, err := c.getValues(ctx, quoteSheet(table)+"!1:1")
	if err != nil {
		return nil, eris.Wrapf(err, "sheets: read headers of %s", table)
	}
	if len(values) == 0 {
		return nil, eris.Errorf("sheets: worksheet %s has no header row", table)
	}
	c.setHeaders(table, values[0])
	return values[0], nil
}

func (c *Client) setHeaders(table string, h []string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.headers[table] = append([]string(nil), h...)
}
