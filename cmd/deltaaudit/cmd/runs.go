package cmd

import (
	"errors"

	"github.com/spf13/cobra"

	"github.com/vegasq/deltaaudit/internal/archive"
	"github.com/vegasq/deltaaudit/internal/output"
)

var errNoArchive = errors.New("no archive configured (use --archive or DELTAAUDIT_ARCHIVE)")

func runsCmd(a *app) *cobra.Command {
	var table, runID string
	var limit int
	cmd := &cobra.Command{
		Use:   "runs",
		Short: "List archived investigations, or show the rows of one",
		Args:  cobra.NoArgs,
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return a.init(cmd)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			if a.cfg.Archive == "" {
				return errNoArchive
			}
			ctx := cmd.Context()
			store, err := archive.Open(ctx, a.cfg.Archive)
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			formatter, err := output.New(a.cfg.Format, cmd.OutOrStdout())
			if err != nil {
				return err
			}

			if runID != "" {
				counts, err := store.Rows(ctx, runID)
				if err != nil {
					return err
				}
				formatter.SetColumns(reportColumns)
				return formatter.Format(reportRows(counts))
			}

			runs, err := store.ListRuns(ctx, table, limit)
			if err != nil {
				return err
			}
			rows := make([]map[string]interface{}, 0, len(runs))
			for _, r := range runs {
				rows = append(rows, map[string]interface{}{
					"run_id":     r.ID,
					"table":      r.Table,
					"filter":     r.Filter,
					"since":      r.Since,
					"until":      r.Until,
					"versions":   r.RowCount,
					"created_at": r.CreatedAt,
				})
			}
			formatter.SetColumns([]string{"run_id", "created_at", "table", "filter", "since", "until", "versions"})
			return formatter.Format(rows)
		},
	}
	cmd.Flags().StringVar(&table, "table", "", "only runs of this table")
	cmd.Flags().StringVar(&runID, "run", "", "show the rows of this run")
	cmd.Flags().IntVar(&limit, "limit", 20, "maximum number of runs (0 = all)")
	cmd.Flags().String("archive", "", "SQLite archive file")
	cmd.Flags().StringP("format", "f", "table", "output format: table, jsonl, json, csv")
	return cmd
}
