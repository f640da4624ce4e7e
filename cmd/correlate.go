package cmd

import (
	"context"
	"fmt"
	"time"

	"vigil/bootstrap"
	"vigil/correlate"
	"vigil/risk"

	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel/trace/noop"
)

const spinnerInterval = 100 * time.Millisecond

// newCorrelateCmd creates the 'correlate' subcommand
func newCorrelateCmd() *cobra.Command {
	var alertID string

	cmd := &cobra.Command{
		Use:   "correlate",
		Short: "Run one correlation pass over stored alerts",
		Long: `Run batch correlation over every un-triaged alert, or single-alert
correlation with --alert. Uses the same database, narrative providers and
claim locker as the server, so it is safe to run alongside it.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(context.Background(), defaultTimeout)
			defer cancel()

			cfg, st, sugar, cleanup, err := openStorage(ctx)
			if err != nil {
				return err
			}
			defer cleanup()

			scorer := risk.NewScorer()
			tp := noop.NewTracerProvider()
			gen, err := bootstrap.InitNarrator(cfg, st, scorer, tp, sugar)
			if err != nil {
				return err
			}
			engine, _ := bootstrap.InitCorrelation(cfg, st, gen, scorer, tp, sugar)

			if !quiet && !outputJSON {
				if alertID != "" {
					infoColor.Fprintf(cmd.OutOrStdout(), "Correlating alert %s\n", alertID)
				} else {
					infoColor.Fprintln(cmd.OutOrStdout(), "Correlating un-triaged alerts...")
				}
			}

			start := time.Now()
			s := startSpinner(" Correlating...")
			result, err := runCorrelation(ctx, engine, alertID)
			stopSpinner(s)
			if err != nil {
				return fmt.Errorf("correlation failed: %w", err)
			}

			if outputJSON {
				return outputAsJSON(cmd.OutOrStdout(), result)
			}
			renderRunResult(cmd.OutOrStdout(), result, time.Since(start))
			return nil
		},
	}

	cmd.Flags().StringVar(&alertID, "alert", "", "Correlate only this alert")
	return cmd
}

// runCorrelation runs single-alert correlation when alertID is set, batch otherwise
func runCorrelation(ctx context.Context, runner correlate.Runner, alertID string) (correlate.RunResult, error) {
	if alertID != "" {
		return runner.CorrelateAlert(ctx, alertID)
	}
	return runner.RunBatch(ctx)
}
