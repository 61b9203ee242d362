package main

import (
	"encoding/json"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/dispatch-sync/internal/fetcher"
	"github.com/sells-group/dispatch-sync/internal/pipeline"
)

var enrichOutput string

// enrichCmd reuses the sync flags but never touches the spreadsheet or the
// run ledger.
var enrichCmd = &cobra.Command{
	Use:   "enrich",
	Short: "Enrich a dispatch sheet and write the result to a local file",
	Long: `Runs matching and variance enrichment without syncing. The enriched table is
written to --output as CSV or XLSX (by extension), and the metrics are printed
as JSON.

Example:
  dispatch-sync enrich --dispatch dispatch.csv --telemetry-file trips.csv --output enriched.xlsx`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		if err := cfg.Validate("enrich"); err != nil {
			return err
		}
		syncDryRun = true
		req, err := syncRequest()
		if err != nil {
			return err
		}

		enricher, err := initEnricher()
		if err != nil {
			return err
		}
		deps := pipeline.Deps{Source: initSource()}
		if req.TelemetrySource == "" {
			deps.Telemetry, err = initSamsara()
			if err != nil {
				return err
			}
		}

		res, err := pipeline.New(cfg, deps, enricher).Run(ctx, req)
		if err != nil {
			return eris.Wrap(err, "enrich")
		}

		if err := fetcher.WriteTable(enrichOutput, res.Enriched); err != nil {
			return err
		}
		zap.L().Info("enriched table written",
			zap.String("path", enrichOutput),
			zap.Int("rows", res.Enriched.Len()),
		)

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(res.Metrics)
	},
}

func init() {
	f := enrichCmd.Flags()
	f.StringVar(&syncDispatch, "dispatch", "", "dispatch sheet (CSV/XLSX path, http(s):// or ftp:// URL)")
	f.StringVar(&syncTelemetry, "telemetry-file", "", "telemetry export to use instead of the Samsara API")
	f.StringVar(&syncStart, "start-date", "", "telemetry window start (YYYY-MM-DD)")
	f.StringVar(&syncEnd, "end-date", "", "telemetry window end, exclusive (YYYY-MM-DD)")
	f.StringSliceVar(&syncDriverIDs, "driver-ids", nil, "limit telemetry to these Samsara driver ids")
	f.StringVarP(&enrichOutput, "output", "o", "enriched.csv", "output file (.csv or .xlsx)")
	_ = enrichCmd.MarkFlagRequired("dispatch")
	rootCmd.AddCommand(enrichCmd)
}
