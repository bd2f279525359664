// Command stepwise runs BIC forward selection and nested cross-validated
// lasso tuning on a screening table.
//
//	stepwise run --data screening.csv --target diagnosis --plot-dir out/
package main

import (
	"fmt"
	"os"

	"github.com/YuminosukeSato/stepwise/pkg/config"
	"github.com/YuminosukeSato/stepwise/pkg/log"
	"github.com/YuminosukeSato/stepwise/screening"
	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	cfg := config.Default()
	var envFile string

	root := &cobra.Command{
		Use:   "stepwise",
		Short: "BIC variable selection and nested-CV lasso tuning for screening data",
		Long: `stepwise analyses a table with one row per subject, numeric predictor
columns and a categorical outcome column.

Every flag can also be set through a STEPWISE_* environment variable
(--inner-folds -> STEPWISE_INNER_FOLDS), optionally read from --env-file.
Flags given on the command line win.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if err := config.ApplyEnv(cmd.Flags(), envFile); err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			return log.SetupLogger(cfg.Log.Level, cfg.Log.Format)
		},
	}
	cfg.BindFlags(root.PersistentFlags())
	root.PersistentFlags().StringVar(&envFile, "env-file", "", "read STEPWISE_* variables from this file")

	root.AddCommand(
		newModeCmd(cfg, "select", "Run forward BIC selection only", screening.ModeSelect),
		newModeCmd(cfg, "tune", "Run nested cross-validation of the lasso only", screening.ModeTune),
		newModeCmd(cfg, "run", "Run selection and tuning", screening.ModeAll),
	)
	return root
}

func newModeCmd(cfg *config.Config, use, short string, mode screening.Mode) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			res, err := screening.Run(cmd.Context(), cfg, mode)
			if err != nil {
				return err
			}
			return res.Report.WriteText(cmd.OutOrStdout())
		},
	}
}
