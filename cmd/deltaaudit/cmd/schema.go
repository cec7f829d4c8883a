package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/vegasq/deltaaudit/internal/delta"
	"github.com/vegasq/deltaaudit/internal/output"
	"github.com/vegasq/deltaaudit/internal/reader"
)

func schemaCmd(a *app) *cobra.Command {
	var version int64
	var physical bool
	cmd := &cobra.Command{
		Use:   "schema <table>",
		Short: "Show the schema of a table at a version",
		Long: `Show the schema recorded in the transaction log at a version, the latest by
default. With --physical the Parquet columns of the version's first data file
are shown instead.`,
		Args: cobra.MaximumNArgs(1),
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return a.init(cmd)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			name, err := a.tableArg(args)
			if err != nil {
				return err
			}
			table, err := delta.Open(name)
			if err != nil {
				return err
			}
			snap, err := table.Snapshot(cmd.Context(), version)
			if err != nil {
				return err
			}

			var rows []map[string]interface{}
			var columns []string
			if physical {
				rows, columns, err = physicalSchema(table, snap)
			} else {
				rows, columns, err = logicalSchema(snap)
			}
			if err != nil {
				return err
			}

			formatter, err := output.New(a.cfg.Format, cmd.OutOrStdout())
			if err != nil {
				return err
			}
			formatter.SetColumns(columns)
			return formatter.Format(rows)
		},
	}
	cmd.Flags().Int64Var(&version, "version", -1, "table version (default latest)")
	cmd.Flags().BoolVar(&physical, "physical", false, "show the Parquet columns of a data file")
	cmd.Flags().StringP("format", "f", "table", "output format: table, jsonl, json, csv")
	return cmd
}

func logicalSchema(snap *delta.Snapshot) ([]map[string]interface{}, []string, error) {
	schema, err := snap.Schema()
	if err != nil {
		return nil, nil, err
	}
	partitioned := make(map[string]bool)
	for _, col := range snap.Metadata.PartitionColumns {
		partitioned[col] = true
	}
	rows := make([]map[string]interface{}, 0, len(schema.Fields))
	for _, f := range schema.Fields {
		rows = append(rows, map[string]interface{}{
			"name":      f.Name,
			"type":      f.Type.String(),
			"nullable":  f.Nullable,
			"partition": partitioned[f.Name],
		})
	}
	return rows, []string{"name", "type", "nullable", "partition"}, nil
}

func physicalSchema(table *delta.Table, snap *delta.Snapshot) ([]map[string]interface{}, []string, error) {
	if len(snap.Files) == 0 {
		return nil, nil, fmt.Errorf("version %d has no data files", snap.Version)
	}
	path, err := table.FilePath(snap.Files[0].Path)
	if err != nil {
		return nil, nil, err
	}
	columns, err := reader.FileColumns(path)
	if err != nil {
		return nil, nil, err
	}
	rows := make([]map[string]interface{}, 0, len(columns))
	for _, c := range columns {
		rows = append(rows, map[string]interface{}{
			"name":          c.Name,
			"type":          c.Type,
			"physical_type": c.PhysicalType,
			"logical_type":  c.LogicalType,
			"optional":      c.Optional,
			"repeated":      c.Repeated,
		})
	}
	return rows, []string{"name", "type", "physical_type", "logical_type", "optional", "repeated"}, nil
}
