// Package output renders report rows for the terminal and for other tools.
//
// Supported formats:
//   - table: aligned text table, the default for interactive use
//   - jsonl: one JSON object per line
//   - json: a single JSON array
//   - csv: comma-separated values with a header row
//
// Example usage:
//
//	formatter, err := output.New("csv", os.Stdout)
//	if err != nil {
//	    return err
//	}
//	formatter.SetColumns([]string{"version_nbr", "timestamp", "operation", "count"})
//	if err := formatter.Format(rows); err != nil {
//	    return err
//	}
package output

import (
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"
)

// ErrUnsupportedFormat is returned by New for unknown format names.
var ErrUnsupportedFormat = errors.New("unsupported output format")

// Formats lists the names accepted by New.
var Formats = []string{"table", "jsonl", "json", "csv"}

// Formatter defines the interface for output formatters.
type Formatter interface {
	// Format writes rows in the formatter's specific format
	Format(rows []map[string]interface{}) error

	// SetOutput changes the output writer
	SetOutput(w io.Writer)

	// SetColumns fixes the column order. Without it columns are sorted
	// alphabetically.
	SetColumns(columns []string)
}

// New returns the formatter registered under name.
func New(name string, w io.Writer) (Formatter, error) {
	switch strings.ToLower(name) {
	case "table", "":
		return NewTableFormatter(w), nil
	case "jsonl", "jsonlines":
		return NewJSONLinesFormatter(w), nil
	case "json":
		return NewJSONFormatter(w), nil
	case "csv":
		return NewCSVFormatter(w), nil
	default:
		return nil, unsupported(name)
	}
}

// ValidateFormat reports whether New accepts name, without building a
// formatter.
func ValidateFormat(name string) error {
	switch strings.ToLower(name) {
	case "table", "", "jsonl", "jsonlines", "json", "csv":
		return nil
	default:
		return unsupported(name)
	}
}

func unsupported(name string) error {
	return fmt.Errorf("%w: %q (supported: %s)", ErrUnsupportedFormat, name, strings.Join(Formats, ", "))
}

// columnsOf returns the fixed columns when set, otherwise the union of all
// row keys sorted alphabetically.
func columnsOf(fixed []string, rows []map[string]interface{}) []string {
	if len(fixed) > 0 {
		return fixed
	}
	columnSet := make(map[string]bool)
	for _, row := range rows {
		for col := range row {
			columnSet[col] = true
		}
	}
	columns := make([]string, 0, len(columnSet))
	for col := range columnSet {
		columns = append(columns, col)
	}
	sort.Strings(columns)
	return columns
}

// formatValue converts a value to its text form for CSV and table output.
func formatValue(v interface{}) string {
	if v == nil {
		return ""
	}

	switch val := v.(type) {
	case string:
		return val
	case time.Time:
		return val.Format(time.RFC3339Nano)
	case []byte:
		return string(val)
	case int, int8, int16, int32, int64:
		return fmt.Sprintf("%d", val)
	case uint, uint8, uint16, uint32, uint64:
		return fmt.Sprintf("%d", val)
	case float32, float64:
		return fmt.Sprintf("%g", val)
	case bool:
		return fmt.Sprintf("%t", val)
	default:
		return fmt.Sprintf("%v", val)
	}
}
