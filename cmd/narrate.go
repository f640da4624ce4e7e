package cmd

import (
	"context"
	"fmt"

	"vigil/bootstrap"
	"vigil/narrative"

	"github.com/briandowns/spinner"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// newNarrateCmd creates the 'narrate' subcommand
func newNarrateCmd() *cobra.Command {
	var offline bool

	cmd := &cobra.Command{
		Use:   "narrate <file>",
		Short: "Narrate an alert read from a YAML or JSON file",
		Long: `Produce the analyst narrative for a single alert without storing it.
Configured narrative providers are tried in order; with --offline, or when
every provider fails, the deterministic templates are used.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			alert, err := readAlertFixture(args[0])
			if err != nil {
				return err
			}

			ctx, cancel := context.WithTimeout(context.Background(), defaultTimeout)
			defer cancel()

			gen, err := newCLINarrator(offline)
			if err != nil {
				return err
			}

			s := startSpinner(" Narrating alert...")
			res := gen.Narrate(ctx, narrative.ForAlert(alert))
			stopSpinner(s)

			if outputJSON {
				return outputAsJSON(cmd.OutOrStdout(), res)
			}
			renderNarrative(cmd.OutOrStdout(), res)
			return nil
		},
	}

	cmd.Flags().BoolVar(&offline, "offline", false, "Use the deterministic templates only")
	return cmd
}

// newCLINarrator builds a generator from configured providers, or a
// template-only one when offline.
func newCLINarrator(offline bool) (*narrative.Generator, error) {
	if offline {
		return narrative.NewGenerator(nil, zap.NewNop().Sugar()), nil
	}

	_, sugar, err := bootstrap.InitLogger("warn")
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	cfg, err := bootstrap.InitConfig(sugar)
	if err != nil {
		return nil, err
	}
	providers, err := bootstrap.InitProviders(cfg, sugar)
	if err != nil {
		return nil, err
	}
	return narrative.NewGenerator(providers, sugar, narrative.WithTimeout(cfg.Narrative.Timeout)), nil
}

// startSpinner shows a progress indicator unless output is JSON or quiet
func startSpinner(suffix string) *spinner.Spinner {
	if outputJSON || quiet {
		return nil
	}
	s := spinner.New(spinner.CharSets[14], spinnerInterval)
	s.Suffix = suffix
	s.Start()
	return s
}

func stopSpinner(s *spinner.Spinner) {
	if s != nil {
		s.Stop()
	}
}
