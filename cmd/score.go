package cmd

import (
	"fmt"
	"io"
	"strings"

	"vigil/core"
	"vigil/risk"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

// newScoreCmd creates the 'score' subcommand
func newScoreCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "score <file>",
		Short: "Score an alert read from a YAML or JSON file",
		Long: `Compute the risk score, confidence, false-positive likelihood and analyst
guidance for a single alert without storing it.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			alert, err := readAlertFixture(args[0])
			if err != nil {
				return err
			}

			metrics := risk.NewScorer().Score(alert)
			if outputJSON {
				return outputAsJSON(cmd.OutOrStdout(), metrics)
			}
			renderRiskMetrics(cmd.OutOrStdout(), alert, metrics)
			return nil
		},
	}
}

// renderRiskMetrics displays a scored alert
func renderRiskMetrics(w io.Writer, alert *core.Alert, m risk.RiskMetrics) {
	headerColor.Fprintln(w, strings.Repeat("═", 63))
	headerColor.Fprintf(w, "  %s (%s)\n", alert.Type, alert.Severity)
	headerColor.Fprintln(w, strings.Repeat("═", 63))

	printSection(w, "Risk")
	printField(w, "Score", scoreColor(m.RiskScore).Sprintf("%d/100", m.RiskScore))
	printField(w, "Base", fmt.Sprintf("%d", m.BaseScore))
	for _, s := range m.Signals {
		printField(w, "Signal", fmt.Sprintf("%s +%d", s.Name, s.Weight))
	}
	printField(w, "Confidence", fmt.Sprintf("%d/100 (%s)", m.ConfidenceScore, m.ConfidenceLevel))
	printField(w, "False positive", fmt.Sprintf("%s: %s", m.FalsePositiveLikelihood, m.FalsePositiveRationale))
	printField(w, "Asset", fmt.Sprintf("%s: %s", m.AssetCriticality, m.CriticalityImpact))
	fmt.Fprintln(w)

	printSection(w, "Guidance ("+m.GuidanceCategory+")")
	for i, step := range m.Guidance {
		fmt.Fprintf(w, "  %d. %s\n", i+1, step)
	}
}

// scoreColor picks a color by risk band
func scoreColor(score int) *color.Color {
	switch {
	case score >= 80:
		return errorColor
	case score >= 50:
		return warningColor
	default:
		return successColor
	}
}
