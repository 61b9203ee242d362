package main

import (
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/dispatch-sync/internal/monitoring"
)

var runsHealthCmd = &cobra.Command{
	Use:   "health",
	Short: "Check recent sync health and send any alerts",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		checker := monitoring.NewChecker(monitoring.NewCollector(st), monitoring.NewAlerter(cfg.Monitor), cfg.Monitor)
		snap, alerts := checker.Check(ctx)
		if snap == nil {
			return eris.New("runs health: could not collect metrics")
		}
		formatHealth(os.Stdout, snap, alerts)

		failOnAlert, _ := cmd.Flags().GetBool("fail-on-alert")
		if failOnAlert && len(alerts) > 0 {
			return eris.Errorf("runs health: %d alert(s) triggered", len(alerts))
		}
		return nil
	},
}

var runsWatchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Check sync health on an interval until interrupted",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		monitoring.NewChecker(monitoring.NewCollector(st), monitoring.NewAlerter(cfg.Monitor), cfg.Monitor).Run(ctx)
		return nil
	},
}

func init() {
	runsHealthCmd.Flags().Bool("fail-on-alert", false, "exit non-zero when any alert triggers")
	runsCmd.AddCommand(runsHealthCmd)
	runsCmd.AddCommand(runsWatchCmd)
}

// formatHealth writes a snapshot and its alerts to w.
func formatHealth(out io.Writer, s *monitoring.MetricsSnapshot, alerts []monitoring.Alert) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintf(w, "Window:\tlast %dh\n", s.LookbackHours)
	_, _ = fmt.Fprintf(w, "Runs:\t%d (%d complete, %d partial, %d failed, %d dry run)\n",
		s.Total, s.Complete, s.Partial, s.Failed, s.DryRun)
	_, _ = fmt.Fprintf(w, "Failure rate:\t%.1f%%\n", s.FailRate*100)
	if s.MatchSamples > 0 {
		_, _ = fmt.Fprintf(w, "Avg match rate:\t%.1f%%\n", s.AvgMatchRate*100)
	}
	_, _ = fmt.Fprintf(w, "Rows written:\t%d inserted, %d updated\n", s.Inserted, s.Updated)
	if s.RateLimited > 0 {
		_, _ = fmt.Fprintf(w, "Rate limited:\t%d\n", s.RateLimited)
	}
	last := "never"
	if !s.LastSuccess.IsZero() {
		last = s.LastSuccess.Format(time.RFC3339)
	}
	_, _ = fmt.Fprintf(w, "Last success:\t%s\n", last)
	for _, a := range alerts {
		_, _ = fmt.Fprintf(w, "ALERT [%s]:\t%s\n", a.Severity, a.Message)
	}
	_ = w.Flush()
}
