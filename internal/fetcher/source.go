package fetcher

import (
	"bytes"
	"context"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/dispatch-sync/internal/model"
)

// FileSource loads CSV, TSV and XLSX tables from a local path, an http(s)
// URL or an ftp URL. The format comes from the file extension; downloads
// without a recognizable extension are sniffed (XLSX files are zip archives).
type FileSource struct {
	HTTP Downloader
	FTP  Downloader
	CSV  CSVOptions
	XLSX XLSXOptions
}

// NewFileSource returns a FileSource with the given downloaders. A nil
// downloader disables its scheme.
func NewFileSource(httpDL, ftpDL Downloader) *FileSource {
	return &FileSource{
		HTTP: httpDL,
		FTP:  ftpDL,
		CSV:  CSVOptions{TrimSpace: true, LazyQuotes: true},
	}
}

// Load implements Source.
func (s *FileSource) Load(ctx context.Context, source string) (model.Table, error) {
	path := source
	if scheme(source) != "" {
		local, cleanup, err := s.download(ctx, source)
		if err != nil {
			return model.Table{}, err
		}
		defer cleanup()
		path = local
	}

	t, err := s.loadFile(ctx, path)
	if err != nil {
		return model.Table{}, eris.Wrapf(err, "fetcher: load %s", source)
	}
	zap.L().Debug("fetcher: loaded table",
		zap.String("source", source),
		zap.Int("rows", t.Len()),
		zap.Int("columns", len(t.Columns)),
	)
	return t, nil
}

func (s *FileSource) loadFile(ctx context.Context, path string) (model.Table, error) {
	switch format(path) {
	case "xlsx":
		return ReadXLSXTable(path, s.XLSX)
	case "tsv":
		opts := s.CSV
		opts.Delimiter = '\t'
		return s.readCSV(ctx, path, opts)
	default:
		return s.readCSV(ctx, path, s.CSV)
	}
}

func (s *FileSource) readCSV(ctx context.Context, path string, opts CSVOptions) (model.Table, error) {
	f, err := os.Open(path)
	if err != nil {
		return model.Table{}, eris.Wrap(err, "csv: open file")
	}
	defer f.Close() //nolint:errcheck
	return ReadCSVTable(ctx, f, opts)
}

func (s *FileSource) download(ctx context.Context, rawURL string) (string, func(), error) {
	dl := s.HTTP
	if scheme(rawURL) == "ftp" {
		dl = s.FTP
	}
	if dl == nil {
		return "", nil, eris.Errorf("fetcher: no downloader configured for %s", rawURL)
	}
	dir, err := os.MkdirTemp("", "dispatch-sync-*")
	if err != nil {
		return "", nil, eris.Wrap(err, "fetcher: create temp dir")
	}
	cleanup := func() { _ = os.RemoveAll(dir) }

	name := "download"
	if u, err := url.Parse(rawURL); err == nil {
		if base := filepath.Base(u.Path); base != "." && base != "/" {
			name = base
		}
	}
	path := filepath.Join(dir, name)
	if _, err := dl.DownloadToFile(ctx, rawURL, path); err != nil {
		cleanup()
		return "", nil, err
	}

	if format(path) == "" {
		if sniffXLSX(path) {
			renamed := path + ".xlsx"
			if err := os.Rename(path, renamed); err == nil {
				path = renamed
			}
		}
	}
	return path, cleanup, nil
}

// scheme returns "http", "ftp" or "" for a local path.
func scheme(s string) string {
	switch {
	case strings.HasPrefix(s, "http://"), strings.HasPrefix(s, "https://"):
		return "http"
	case strings.HasPrefix(s, "ftp://"):
		return "ftp"
	}
	return ""
}

func format(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".xlsx", ".xlsm":
		return "xlsx"
	case ".tsv":
		return "tsv"
	case ".csv", ".txt":
		return "csv"
	}
	return ""
}

func sniffXLSX(path string) bool {
	f, err := os.Open(path)
	if err != nil {
		return false
	}
	defer f.Close() //nolint:errcheck
	head := make([]byte, 4)
	n, _ := f.Read(head)
	return bytes.Equal(head[:n], []byte("PK\x03\x04"))
}

// WriteTable writes t to path as XLSX or CSV depending on the extension.
func WriteTable(path string, t model.Table) error {
	if format(path) == "xlsx" {
		return WriteXLSX(path, "Enriched", t)
	}
	f, err := os.Create(path)
	if err != nil {
		return eris.Wrapf(err, "fetcher: create %s", path)
	}
	if err := WriteCSV(f, t); err != nil {
		_ = f.Close()
		return err
	}
	return eris.Wrapf(f.Close(), "fetcher: close %s", path)
}
