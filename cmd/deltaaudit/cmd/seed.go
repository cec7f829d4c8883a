package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/vegasq/deltaaudit/internal/config"
	"github.com/vegasq/deltaaudit/internal/seed"
)

func seedCmd(a *app) *cobra.Command {
	var start string
	cmd := &cobra.Command{
		Use:   "seed <dir>",
		Short: "Write a demo sales table with a few days of history",
		Args:  cobra.ExactArgs(1),
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return a.init(cmd)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			begin := time.Now().UTC().Add(-10 * 24 * time.Hour)
			if start != "" {
				d, err := config.ParseDate(start, time.UTC)
				if err != nil {
					return err
				}
				begin = d.Add(12 * time.Hour)
			}
			version, err := seed.Build(cmd.Context(), args[0], begin)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "seeded %s up to version %d, first commit on %s\n",
				args[0], version, begin.Format(config.DateLayout))
			return nil
		},
	}
	cmd.Flags().StringVar(&start, "start", "", "date of the first commit, YYYY-MM-DD (default ten days ago)")
	return cmd
}
