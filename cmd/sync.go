package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/dispatch-sync/internal/model"
	"github.com/sells-group/dispatch-sync/internal/notify"
	"github.com/sells-group/dispatch-sync/internal/pipeline"
	"github.com/sells-group/dispatch-sync/pkg/samsara"
)

var (
	syncDispatch   string
	syncTelemetry  string
	syncStart      string
	syncEnd        string
	syncWorksheet  string
	syncDryRun     bool
	syncJSON       bool
	syncDriverIDs  []string
	syncVehicleIDs []string
	syncGroupIDs   []string
)

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Enrich dispatch trips with telemetry and upsert them into the spreadsheet",
	Long: `Loads the dispatch sheet and vehicle telemetry, matches trips by driver and
date, and upserts the enriched rows into the destination worksheet keyed by
job id. Rows whose values have not changed are left alone.

Telemetry comes from --telemetry-file when given, otherwise from the Samsara
API over --start-date/--end-date (derived from the dispatch dates when unset).

Examples:
  dispatch-sync sync --dispatch dispatch.xlsx --dry-run
  dispatch-sync sync --dispatch ftp://drop.example.com/daily.csv --start-date 2025-01-14 --end-date 2025-01-18`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		if !syncDryRun {
			if err := cfg.Validate("sync"); err != nil {
				return err
			}
		} else if err := cfg.Validate("enrich"); err != nil {
			return err
		}

		req, err := syncRequest()
		if err != nil {
			return err
		}

		enricher, err := initEnricher()
		if err != nil {
			return err
		}

		deps := pipeline.Deps{
			Source:   initSource(),
			Notifier: notify.New(cfg.Notify),
		}
		if req.TelemetrySource == "" {
			deps.Telemetry, err = initSamsara()
			if err != nil {
				return err
			}
		}
		if cfg.Sheets.SpreadsheetID != "" && cfg.Sheets.CredentialsPath != "" {
			remote, err := initSheets()
			if err != nil {
				return err
			}
			deps.Remote = remote
		}
		if !syncDryRun {
			st, err := initStore(ctx)
			if err != nil {
				return err
			}
			defer st.Close() //nolint:errcheck
			deps.Ledger = st
		}

		res, err := pipeline.New(cfg, deps, enricher).Run(ctx, req)
		if err != nil {
			return eris.Wrap(err, "sync")
		}

		if syncJSON {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(res)
		}
		formatSyncSummary(os.Stdout, res)
		if res.Status == model.RunStatusFailed {
			return eris.New("sync: no rows were written")
		}
		return nil
	},
}

func init() {
	f := syncCmd.Flags()
	f.StringVar(&syncDispatch, "dispatch", "", "dispatch sheet (CSV/XLSX path, http(s):// or ftp:// URL)")
	f.StringVar(&syncTelemetry, "telemetry-file", "", "telemetry export to use instead of the Samsara API")
	f.StringVar(&syncStart, "start-date", "", "telemetry window start (YYYY-MM-DD)")
	f.StringVar(&syncEnd, "end-date", "", "telemetry window end, exclusive (YYYY-MM-DD)")
	f.StringVar(&syncWorksheet, "worksheet", "", "destination worksheet (default from sheets.worksheet)")
	f.BoolVar(&syncDryRun, "dry-run", false, "plan the upsert without writing")
	f.BoolVar(&syncJSON, "json", false, "print the full result as JSON")
	f.StringSliceVar(&syncDriverIDs, "driver-ids", nil, "limit telemetry to these Samsara driver ids")
	f.StringSliceVar(&syncVehicleIDs, "vehicle-ids", nil, "limit telemetry to these Samsara vehicle ids")
	f.StringSliceVar(&syncGroupIDs, "group-ids", nil, "limit telemetry to these Samsara tag/group ids")
	_ = syncCmd.MarkFlagRequired("dispatch")
	rootCmd.AddCommand(syncCmd)
}

func syncRequest() (pipeline.Request, error) {
	start, end, err := parseWindow(syncStart, syncEnd)
	if err != nil {
		return pipeline.Request{}, err
	}
	return pipeline.Request{
		DispatchSource:  syncDispatch,
		TelemetrySource: syncTelemetry,
		Start:           start,
		End:             end,
		Worksheet:       syncWorksheet,
		DryRun:          syncDryRun,
		Filter: samsara.TripFilter{
			DriverIDs:  syncDriverIDs,
			VehicleIDs: syncVehicleIDs,
			GroupIDs:   syncGroupIDs,
		},
	}, nil
}

// parseWindow parses an optional date pair. Both or neither must be set.
func parseWindow(startStr, endStr string) (time.Time, time.Time, error) {
	if startStr == "" && endStr == "" {
		return time.Time{}, time.Time{}, nil
	}
	if startStr == "" || endStr == "" {
		return time.Time{}, time.Time{}, eris.New("--start-date and --end-date must be given together")
	}
	start, err := time.Parse(time.DateOnly, startStr)
	if err != nil {
		return time.Time{}, time.Time{}, eris.Wrapf(err, "parse --start-date %q", startStr)
	}
	end, err := time.Parse(time.DateOnly, endStr)
	if err != nil {
		return time.Time{}, time.Time{}, eris.Wrapf(err, "parse --end-date %q", endStr)
	}
	if !end.After(start) {
		return time.Time{}, time.Time{}, eris.Errorf("--end-date %s must be after --start-date %s", endStr, startStr)
	}
	return start, end, nil
}

// formatSyncSummary writes a human-readable run summary to w.
func formatSyncSummary(out io.Writer, res *pipeline.Result) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	if res.RunID != "" {
		_, _ = fmt.Fprintf(w, "Run:\t%s\n", res.RunID)
	}
	_, _ = fmt.Fprintf(w, "Status:\t%s\n", res.Status)
	if !res.Window[0].IsZero() {
		_, _ = fmt.Fprintf(w, "Window:\t%s to %s\n", res.Window[0].Format(time.DateOnly), res.Window[1].Format(time.DateOnly))
	}
	m := res.Metrics
	_, _ = fmt.Fprintf(w, "Dispatch rows:\t%d\n", m.TotalDispatch)
	_, _ = fmt.Fprintf(w, "Telemetry rows:\t%d\n", m.TotalTelemetry)
	_, _ = fmt.Fprintf(w, "Matched:\t%d (%.1f%%)\n", m.Matched, m.MatchRate*100)
	if res.JobIDsGenerated > 0 {
		_, _ = fmt.Fprintf(w, "Job IDs generated:\t%d\n", res.JobIDsGenerated)
	}
	if len(res.Schema.Missing) > 0 {
		_, _ = fmt.Fprintf(w, "Missing columns:\t%s\n", strings.Join(res.Schema.Missing, ", "))
	}
	if p := res.Plan; p != nil {
		_, _ = fmt.Fprintf(w, "Planned:\t%d insert(s), %d update(s), %d unchanged\n", len(p.Inserts), len(p.Updates), p.Skipped)
	}
	if wr := res.Write; wr != nil {
		_, _ = fmt.Fprintf(w, "Written:\t%d inserted, %d updated in %s\n", wr.Inserted, wr.Updated, wr.Duration().Round(time.Millisecond))
		if wr.RateLimited > 0 {
			_, _ = fmt.Fprintf(w, "Rate limited:\t%d\n", wr.RateLimited)
		}
		for _, e := range wr.Errors {
			_, _ = fmt.Fprintf(w, "Failed chunk:\t%s\n", e.Error())
		}
	}
	_ = w.Flush()
}
