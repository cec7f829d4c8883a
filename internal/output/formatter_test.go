package output

import (
	"bytes"
	"errors"
	"strings"
	"testing"
)

func TestNew(t *testing.T) {
	tests := []struct {
		name    string
		want    string
		wantErr bool
	}{
		{"", "*output.TableFormatter", false},
		{"table", "*output.TableFormatter", false},
		{"JSONL", "*output.JSONLinesFormatter", false},
		{"json", "*output.JSONFormatter", false},
		{"csv", "*output.CSVFormatter", false},
		{"xml", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if verr := ValidateFormat(tt.name); (verr != nil) != tt.wantErr {
				t.Errorf("ValidateFormat(%q) error = %v, wantErr %v", tt.name, verr, tt.wantErr)
			}
			f, err := New(tt.name, &bytes.Buffer{})
			if tt.wantErr {
				if !errors.Is(err, ErrUnsupportedFormat) {
					t.Errorf("New(%q) error = %v, want ErrUnsupportedFormat", tt.name, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("New(%q) error = %v", tt.name, err)
			}
			if got := typeName(f); got != tt.want {
				t.Errorf("New(%q) = %s, want %s", tt.name, got, tt.want)
			}
		})
	}
}

func typeName(f Formatter) string {
	switch f.(type) {
	case *TableFormatter:
		return "*output.TableFormatter"
	case *JSONLinesFormatter:
		return "*output.JSONLinesFormatter"
	case *JSONFormatter:
		return "*output.JSONFormatter"
	case *CSVFormatter:
		return "*output.CSVFormatter"
	}
	return "unknown"
}

func TestTableFormatter_Format(t *testing.T) {
	var buf bytes.Buffer
	formatter := NewTableFormatter(&buf)
	formatter.SetColumns([]string{"version_nbr", "operation", "count"})
	if err := formatter.Format(reportRows()); err != nil {
		t.Fatalf("Format() error = %v", err)
	}

	out := buf.String()
	for _, want := range []string{"version_nbr", "operation", "count", "WRITE", "DELETE"} {
		if !strings.Contains(out, want) {
			t.Errorf("table output missing %q:\n%s", want, out)
		}
	}
	if strings.Index(out, "WRITE") > strings.Index(out, "DELETE") {
		t.Errorf("rows out of order:\n%s", out)
	}
}

func TestTableFormatter_Empty(t *testing.T) {
	var buf bytes.Buffer
	if err := NewTableFormatter(&buf).Format(nil); err != nil {
		t.Fatalf("Format() error = %v", err)
	}
	if buf.Len() != 0 {
		t.Errorf("Format(nil) wrote %q, want nothing", buf.String())
	}
}
