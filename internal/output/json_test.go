package output

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
)

func TestJSONLinesFormatter_Format(t *testing.T) {
	tests := []struct {
		name      string
		rows      []map[string]interface{}
		wantLines int
	}{
		{name: "empty rows", rows: []map[string]interface{}{}, wantLines: 0},
		{name: "report rows", rows: reportRows(), wantLines: 2},
		{
			name:      "nil values",
			rows:      []map[string]interface{}{{"version_nbr": int64(1), "operation": nil}},
			wantLines: 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			if err := NewJSONLinesFormatter(&buf).Format(tt.rows); err != nil {
				t.Fatalf("Format() error = %v", err)
			}

			output := strings.TrimSpace(buf.String())
			if tt.wantLines == 0 {
				if output != "" {
					t.Errorf("Format() output = %q, want empty", output)
				}
				return
			}

			lines := strings.Split(output, "\n")
			if len(lines) != tt.wantLines {
				t.Fatalf("Format() produced %d lines, want %d", len(lines), tt.wantLines)
			}
			for i, line := range lines {
				var obj map[string]interface{}
				if err := json.Unmarshal([]byte(line), &obj); err != nil {
					t.Errorf("line %d is not valid JSON: %v", i, err)
				}
			}
		})
	}
}

func TestJSONLinesFormatter_Columns(t *testing.T) {
	var buf bytes.Buffer
	formatter := NewJSONLinesFormatter(&buf)
	formatter.SetColumns([]string{"version_nbr", "count"})
	if err := formatter.Format(reportRows()); err != nil {
		t.Fatalf("Format() error = %v", err)
	}

	var obj map[string]interface{}
	line := strings.SplitN(buf.String(), "\n", 2)[0]
	if err := json.Unmarshal([]byte(line), &obj); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if len(obj) != 2 {
		t.Errorf("object has %d keys, want 2: %v", len(obj), obj)
	}
	if obj["version_nbr"] != float64(6) || obj["count"] != float64(3) {
		t.Errorf("object = %v", obj)
	}
}

func TestJSONFormatter_Format(t *testing.T) {
	var buf bytes.Buffer
	if err := NewJSONFormatter(&buf).Format(reportRows()); err != nil {
		t.Fatalf("Format() error = %v", err)
	}

	var rows []map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &rows); err != nil {
		t.Fatalf("Format() produced invalid JSON: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("got %d rows, want 2", len(rows))
	}
	if rows[0]["timestamp"] != "2024-03-06T09:00:00Z" {
		t.Errorf("timestamp = %v", rows[0]["timestamp"])
	}
	if rows[1]["operation"] != "DELETE" {
		t.Errorf("operation = %v", rows[1]["operation"])
	}
}

func TestJSONFormatter_Empty(t *testing.T) {
	var buf bytes.Buffer
	if err := NewJSONFormatter(&buf).Format(nil); err != nil {
		t.Fatalf("Format() error = %v", err)
	}
	if got := strings.TrimSpace(buf.String()); got != "[]" {
		t.Errorf("Format(nil) = %q, want []", got)
	}
}
