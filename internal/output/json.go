package output

import (
	"io"

	"github.com/segmentio/encoding/json"
)

// JSONLinesFormatter outputs rows as JSON Lines format
type JSONLinesFormatter struct {
	writer  io.Writer
	columns []string
}

// NewJSONLinesFormatter creates a new JSON Lines formatter
func NewJSONLinesFormatter(w io.Writer) *JSONLinesFormatter {
	return &JSONLinesFormatter{writer: w}
}

// SetOutput sets the output writer
func (j *JSONLinesFormatter) SetOutput(w io.Writer) {
	j.writer = w
}

// SetColumns limits each object to the given keys.
func (j *JSONLinesFormatter) SetColumns(columns []string) {
	j.columns = columns
}

// Format writes rows as JSON Lines (one JSON object per line)
func (j *JSONLinesFormatter) Format(rows []map[string]interface{}) error {
	encoder := json.NewEncoder(j.writer)
	for _, row := range rows {
		if err := encoder.Encode(project(row, j.columns)); err != nil {
			return err
		}
	}
	return nil
}

// JSONFormatter outputs rows as one indented JSON array.
type JSONFormatter struct {
	writer  io.Writer
	columns []string
}

// NewJSONFormatter creates a new JSON array formatter
func NewJSONFormatter(w io.Writer) *JSONFormatter {
	return &JSONFormatter{writer: w}
}

// SetOutput sets the output writer
func (j *JSONFormatter) SetOutput(w io.Writer) {
	j.writer = w
}

// SetColumns limits each object to the given keys.
func (j *JSONFormatter) SetColumns(columns []string) {
	j.columns = columns
}

// Format writes rows as a JSON array. No rows produce "[]".
func (j *JSONFormatter) Format(rows []map[string]interface{}) error {
	out := make([]map[string]interface{}, 0, len(rows))
	for _, row := range rows {
		out = append(out, project(row, j.columns))
	}
	encoder := json.NewEncoder(j.writer)
	encoder.SetIndent("", "  ")
	return encoder.Encode(out)
}

func project(row map[string]interface{}, columns []string) map[string]interface{} {
	if len(columns) == 0 {
		return row
	}
	out := make(map[string]interface{}, len(columns))
	for _, col := range columns {
		out[col] = row[col]
	}
	return out
}
