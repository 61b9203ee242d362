// Package fetcher loads dispatch and telemetry tables from CSV and XLSX
// files, local or downloaded over HTTP, and writes enriched tables back out.
package fetcher

import (
	"context"
	"io"

	"github.com/sells-group/dispatch-sync/internal/model"
)

// Source loads a table. Row order follows the source.
type Source interface {
	Load(ctx context.Context, source string) (model.Table, error)
}

// Downloader fetches remote files.
type Downloader interface {
	// Download fetches the URL and returns the response body.
	Download(ctx context.Context, url string) (io.ReadCloser, error)

	// DownloadToFile fetches the URL and writes it to path. Returns bytes written.
	DownloadToFile(ctx context.Context, url string, path string) (int64, error)
}
