package main

import (
	"context"
	"net/http"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/dispatch-sync/internal/enrich"
	"github.com/sells-group/dispatch-sync/internal/fetcher"
	"github.com/sells-group/dispatch-sync/internal/resilience"
	"github.com/sells-group/dispatch-sync/internal/store"
	"github.com/sells-group/dispatch-sync/pkg/samsara"
	"github.com/sells-group/dispatch-sync/pkg/sheets"
)

func initStore(ctx context.Context) (store.Store, error) {
	return store.Open(ctx, cfg.Store)
}

func initSource() fetcher.Source {
	httpDL := fetcher.NewHTTPFetcher(fetcher.HTTPOptions{})
	ftpDL := fetcher.NewFTPFetcher(fetcher.FTPOptions{})
	return fetcher.NewFileSource(httpDL, ftpDL)
}

// initEnricher layers the optional match profile over the configured
// enrichment settings.
func initEnricher() (*enrich.Enricher, error) {
	opts := enrich.DefaultOptions()
	e := cfg.Enrich
	setIf(&opts.SourcePrefix, e.SourcePrefix)
	opts.ToleranceDays = e.ToleranceDays
	if e.AvgSpeedMPH > 0 {
		opts.AvgSpeedMPH = e.AvgSpeedMPH
	}
	if e.TieBreak != "" {
		opts.TieBreak = enrich.TieBreak(e.TieBreak)
	}
	setIf(&opts.Columns.DispatchDriver, e.DriverColumn)
	setIf(&opts.Columns.DispatchDate, e.DateColumn)
	setIf(&opts.Columns.TelemetryDriver, e.TelemetryDriverColumn)
	setIf(&opts.Columns.TelemetryDate, e.TelemetryDateColumn)
	setIf(&opts.KeyColumn, cfg.Sync.KeyColumn)

	if e.ProfilePath != "" {
		p, err := enrich.LoadProfile(e.ProfilePath)
		if err != nil {
			return nil, err
		}
		opts = p.Apply(opts)
	}
	switch opts.TieBreak {
	case enrich.TieBreakFirst, enrich.TieBreakClosestDate:
	default:
		return nil, eris.Errorf("enrich: unknown tie_break %q", opts.TieBreak)
	}
	return enrich.New(opts), nil
}

func initSamsara() (samsara.TelemetryFetcher, error) {
	s := cfg.Samsara
	if s.APIToken == "" {
		return nil, eris.New("samsara api token is required (DISPATCH_SAMSARA_API_TOKEN)")
	}
	retry := resilience.FromRetryConfig(s.MaxRetries+1, 0, 0)
	retry.OnRetry = resilience.RetryLogger("samsara", "fetch_trips")
	return samsara.NewClient(s.APIToken,
		samsara.WithBaseURL(s.BaseURL),
		samsara.WithHTTPClient(&http.Client{Timeout: time.Duration(s.TimeoutSecs) * time.Second}),
		samsara.WithRetry(retry),
		samsara.WithRateLimit(s.RatePerSec),
		samsara.WithPagination(s.PageLimit, s.MaxPages),
		samsara.WithCircuitBreaker(resilience.NewCircuitBreaker(resilience.FromCircuitConfig(s.FailureThreshold, 0))),
	), nil
}

func initSheets() (*sheets.Client, error) {
	s := cfg.Sheets
	if s.CredentialsPath == "" {
		return nil, eris.New("sheets credentials path is required (DISPATCH_SHEETS_CREDENTIALS_PATH)")
	}
	sa, err := sheets.LoadServiceAccount(s.CredentialsPath)
	if err != nil {
		return nil, err
	}
	hc := &http.Client{Timeout: time.Duration(s.TimeoutSecs) * time.Second}
	return sheets.NewClient(s.SpreadsheetID, sheets.NewServiceAccountSource(sa, s.TokenURL, hc),
		sheets.WithBaseURL(s.BaseURL),
		sheets.WithHTTPClient(hc),
	)
}

func setIf(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}
