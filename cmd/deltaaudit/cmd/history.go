package cmd

import (
	"github.com/segmentio/encoding/json"
	"github.com/spf13/cobra"

	"github.com/vegasq/deltaaudit/internal/delta"
	"github.com/vegasq/deltaaudit/internal/output"
)

var historyColumns = []string{"version", "timestamp", "operation", "user", "engine", "parameters"}

func historyCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history <table>",
		Short: "List the commits of a table, newest first",
		Args:  cobra.MaximumNArgs(1),
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
			history, err := table.History(cmd.Context())
			if err != nil {
				return err
			}

			rows := make([]map[string]interface{}, 0, len(history))
			for _, h := range history {
				params := ""
				if len(h.OperationParameters) > 0 {
					b, err := json.Marshal(h.OperationParameters)
					if err != nil {
						return err
					}
					params = string(b)
				}
				rows = append(rows, map[string]interface{}{
					"version":    h.Version,
					"timestamp":  h.Timestamp,
					"operation":  h.Operation,
					"user":       h.UserName,
					"engine":     h.EngineInfo,
					"parameters": params,
				})
			}

			formatter, err := output.New(a.cfg.Format, cmd.OutOrStdout())
			if err != nil {
				return err
			}
			formatter.SetColumns(historyColumns)
			return formatter.Format(rows)
		},
	}
	cmd.Flags().StringP("format", "f", "table", "output format: table, jsonl, json, csv")
	return cmd
}
