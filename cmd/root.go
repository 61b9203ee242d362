package main

import (
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/dispatch-sync/internal/config"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "dispatch-sync",
	Short: "Dispatch and telemetry enrichment sync",
	Long: `Joins planned dispatch trips with vehicle telemetry, derives variance
metrics, and upserts the enriched rows into a Google Sheets worksheet keyed
by job id. Re-running a sync only writes rows that changed.

Every sync is recorded in a run ledger (SQLite or Postgres, see store.driver)
together with its per-row changes. Use "runs list", "runs show" and
"runs changes" to inspect past syncs, and "runs health" or "runs watch" to
check failure and match rates against the configured thresholds.

Configuration comes from ./config.yaml and DISPATCH_* environment variables.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		c, err := config.Load()
		if err != nil {
			return eris.Wrap(err, "load config")
		}
		cfg = c

		if err := config.InitLogger(cfg.Log); err != nil {
			return eris.Wrap(err, "init logger")
		}
		zap.L().Debug("config loaded",
			zap.String("command", cmd.CommandPath()),
			zap.String("store_driver", cfg.Store.Driver),
			zap.String("worksheet", cfg.Sheets.Worksheet),
		)
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = zap.L().Sync()
	},
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
