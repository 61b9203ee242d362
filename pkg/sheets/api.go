package sheets

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/dispatch-sync/internal/resilience"
)

type valueRange struct {
	Range          string     `json:"range,omitempty"`
	MajorDimension string     `json:"majorDimension,omitempty"`
	Values         [][]string `json:"values"`
}

type batchUpdateValuesRequest struct {
	ValueInputOption string       `json:"valueInputOption"`
	Data             []valueRange `json:"data"`
}

type spreadsheetMeta struct {
	Sheets []sheetEntry `json:"sheets"`
}

type sheetEntry struct {
	Properties sheetProperties `json:"properties"`
}

type sheetProperties struct {
	SheetID        int64          `json:"sheetId"`
	Title          string         `json:"title"`
	GridProperties gridProperties `json:"gridProperties"`
}

type gridProperties struct {
	RowCount    int `json:"rowCount"`
	ColumnCount int `json:"columnCount"`
}

type batchUpdateRequest struct {
	Requests []map[string]any `json:"requests"`
}

type batchUpdateResponse struct {
	Replies []batchReply `json:"replies"`
}

type batchReply struct {
	AddSheet *sheetEntry `json:"addSheet,omitempty"`
}

// loadSheets returns worksheet properties keyed by title, reading the
// spreadsheet metadata once per client.
func (c *Client) loadSheets(ctx context.Context) (map[string]sheetProps, error) {
	c.mu.Lock()
	loaded := len(c.sheets) > 0
	c.mu.Unlock()
	if loaded {
		return c.snapshotSheets(), nil
	}

	var meta spreadsheetMeta
	path := "/spreadsheets/" + c.spreadsheetID + "?fields=" + url.QueryEscape("sheets.properties(sheetId,title,gridProperties)")
	if err := c.do(ctx, http.MethodGet, path, nil, &meta); err != nil {
		return nil, eris.Wrap(err, "sheets: read spreadsheet metadata")
	}

	c.mu.Lock()
	for _, s := range meta.Sheets {
		c.sheets[s.Properties.Title] = sheetProps{ID: s.Properties.SheetID, Columns: s.Properties.GridProperties.ColumnCount}
	}
	c.mu.Unlock()
	return c.snapshotSheets(), nil
}

func (c *Client) snapshotSheets() map[string]sheetProps {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string]sheetProps, len(c.sheets))
	for k, v := range c.sheets {
		out[k] = v
	}
	return out
}

func (c *Client) addSheet(ctx context.Context, title string, cols int) (sheetProps, error) {
	req := batchUpdateRequest{Requests: []map[string]any{{
		"addSheet": map[string]any{
			"properties": map[string]any{
				"title": title,
				"gridProperties": map[string]any{
					"rowCount":    defaultRows,
					"columnCount": cols,
				},
			},
		},
	}}}
	var resp batchUpdateResponse
	if err := c.do(ctx, http.MethodPost, "/spreadsheets/"+c.spreadsheetID+":batchUpdate", req, &resp); err != nil {
		return sheetProps{}, eris.Wrapf(err, "sheets: create worksheet %s", title)
	}

	props := sheetProps{Columns: cols}
	if len(resp.Replies) > 0 && resp.Replies[0].AddSheet != nil {
		props.ID = resp.Replies[0].AddSheet.Properties.SheetID
	}
	c.mu.Lock()
	c.sheets[title] = props
	c.mu.Unlock()
	zap.L().Info("sheets: worksheet created", zap.String("worksheet", title))
	return props, nil
}

func (c *Client) widen(ctx context.Context, title string, sheet sheetProps, cols int) error {
	req := batchUpdateRequest{Requests: []map[string]any{{
		"appendDimension": map[string]any{
			"sheetId":   sheet.ID,
			"dimension": "COLUMNS",
			"length":    cols - sheet.Columns,
		},
	}}}
	if err := c.do(ctx, http.MethodPost, "/spreadsheets/"+c.spreadsheetID+":batchUpdate", req, nil); err != nil {
		return eris.Wrapf(err, "sheets: widen worksheet %s", title)
	}
	sheet.Columns = cols
	c.mu.Lock()
	c.sheets[title] = sheet
	c.mu.Unlock()
	return nil
}

func (c *Client) getValues(ctx context.Context, rng string) ([][]string, error) {
	var out valueRange
	path := "/spreadsheets/" + c.spreadsheetID + "/values/" + url.PathEscape(rng) +
		"?majorDimension=ROWS&valueRenderOption=FORMATTED_VALUE"
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out.Values, nil
}

// do sends one authorized request. Non-2xx responses come back through
// resilience.HTTPStatusError so callers can retry 429 and 5xx.
func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	token, err := c.tokens.Token(ctx)
	if err != nil {
		return err
	}

	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return eris.Wrap(err, "sheets: marshal request")
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return eris.Wrap(err, "sheets: create request")
	}
	req.Header.Set("Authorization", "Bearer "+token)
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return eris.Wrap(err, "sheets: send request")
	}
	defer resp.Body.Close() //nolint:errcheck

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return eris.Wrap(err, "sheets: read response")
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return resilience.HTTPStatusError("sheets", resp, respBody)
	}
	if out == nil || len(respBody) == 0 {
		return nil
	}
	return eris.Wrap(json.Unmarshal(respBody, out), "sheets: unmarshal response")
}

func quoteSheet(title string) string {
	return "'" + strings.ReplaceAll(title, "'", "''") + "'"
}

// columnLetter converts a zero-based column index to A1 notation.
func columnLetter(i int) string {
	var b []byte
	for i++; i > 0; i = (i - 1) / 26 {
		b = append([]byte{byte('A' + (i-1)%26)}, b...)
	}
	return string(b)
}

type colRun struct{ start, end int }

// columnRuns groups the contiguous header positions present in keep.
func columnRuns(headers []string, keep map[string]bool) []colRun {
	var runs []colRun
	for i := 0; i < len(headers); {
		if !keep[headers[i]] {
			i++
			continue
		}
		j := i
		for j < len(headers) && keep[headers[j]] {
			j++
		}
		runs = append(runs, colRun{start: i, end: j})
		i = j
	}
	return runs
}

func toSet(xs []string) map[string]bool {
	m := make(map[string]bool, len(xs))
	for _, x := range xs {
		m[x] = true
	}
	return m
}

func indexOf(xs []string, x string) int {
	for i, v := range xs {
		if v == x {
			return i
		}
	}
	return -1
}
