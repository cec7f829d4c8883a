package cmd

import (
	"errors"
	"fmt"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/vegasq/deltaaudit/internal/archive"
	"github.com/vegasq/deltaaudit/internal/delta"
	"github.com/vegasq/deltaaudit/internal/output"
	"github.com/vegasq/deltaaudit/internal/timetravel"
)

var errMissingTable = errors.New("missing table argument")

// reportColumns is the column order of an investigation report.
var reportColumns = []string{"version_nbr", "timestamp", "operation", "count"}

func investigateCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "investigate <table>",
		Short: "Count the rows matching a filter in every version committed in a date window",
		Example: `  deltaaudit investigate ./sales --since 2024-03-01 --filter "promo_id = 'SPRING'"
  deltaaudit investigate ./sales --since 2024-03-01 --until 2024-03-31 --format csv --archive runs.db`,
		Args: cobra.MaximumNArgs(1),
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return a.init(cmd)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.investigate(cmd, args)
		},
	}
	cmd.Flags().String("since", "", "first commit date to include, YYYY-MM-DD (required)")
	cmd.Flags().String("until", "", "last commit date to include, YYYY-MM-DD (default today)")
	cmd.Flags().String("filter", "1=1", "SQL WHERE clause selecting the rows to count")
	cmd.Flags().StringP("format", "f", "table", "output format: table, jsonl, json, csv")
	cmd.Flags().String("tz", "UTC", "time zone in which commit timestamps become dates")
	cmd.Flags().StringSlice("exclude", []string{"VACUUM"}, "skip versions whose operation contains any of these")
	cmd.Flags().Int("cache-size", timetravel.DefaultCacheSize, "per-file count cache entries")
	cmd.Flags().String("archive", "", "SQLite file to archive the report in")
	return cmd
}

func (a *app) investigate(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	name, err := a.tableArg(args)
	if err != nil {
		return err
	}
	since, until, err := a.cfg.Window()
	if err != nil {
		return err
	}
	loc, err := a.cfg.Location()
	if err != nil {
		return err
	}
	exclude := a.cfg.Exclude
	if exclude == nil {
		exclude = []string{}
	}

	table, err := delta.Open(name)
	if err != nil {
		return err
	}
	counter, err := timetravel.NewFileCounter(a.cfg.CacheSize)
	if err != nil {
		return err
	}
	inv, err := timetravel.NewInvestigator(table, timetravel.WithName(name), timetravel.WithCounter(counter))
	if err != nil {
		return err
	}

	report, err := inv.Investigate(ctx, timetravel.Options{
		Since:    since,
		Until:    until,
		Filter:   a.cfg.Filter,
		Location: loc,
		Exclude:  exclude,
	})
	if err != nil {
		return err
	}
	stats := counter.Stats()
	log.WithFields(log.Fields{
		"scanned": stats.Scanned,
		"pruned":  stats.Pruned,
		"cached":  stats.Hits,
	}).Info("investigation finished")

	formatter, err := output.New(a.cfg.Format, cmd.OutOrStdout())
	if err != nil {
		return err
	}
	formatter.SetColumns(reportColumns)
	if err := formatter.Format(reportRows(report.Rows)); err != nil {
		return err
	}

	if a.cfg.Archive == "" {
		return nil
	}
	store, err := archive.Open(ctx, a.cfg.Archive)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()
	id, err := store.Save(ctx, report)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.ErrOrStderr(), "archived run %s\n", id)
	return nil
}

func reportRows(rows []timetravel.VersionCount) []map[string]interface{} {
	out := make([]map[string]interface{}, 0, len(rows))
	for _, r := range rows {
		out = append(out, map[string]interface{}{
			"version_nbr": r.Version,
			"timestamp":   r.Timestamp,
			"operation":   r.Operation,
			"count":       r.Count,
		})
	}
	return out
}
