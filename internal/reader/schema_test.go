package reader

import "testing"

func TestFileColumns(t *testing.T) {
	type address struct {
		Street string `parquet:"street"`
		City   string `parquet:"city"`
	}
	type row struct {
		ID      int64    `parquet:"id"`
		Name    string   `parquet:"name"`
		Score   float64  `parquet:"score"`
		Nick    *string  `parquet:"nick,optional"`
		Tags    []string `parquet:"tags"`
		Address address  `parquet:"address"`
	}
	path := writeTestFile(t, []row{{ID: 1, Name: "alice", Tags: []string{"a"}}})

	columns, err := FileColumns(path)
	if err != nil {
		t.Fatalf("FileColumns() error = %v", err)
	}

	byName := make(map[string]ColumnInfo)
	for _, c := range columns {
		byName[c.Name] = c
	}
	if len(byName) != 7 {
		t.Fatalf("FileColumns() returned %d columns, want 7: %v", len(byName), columns)
	}

	tests := []struct {
		name     string
		physical string
		typ      string
		optional bool
		repeated bool
	}{
		{"id", "INT64", "INT64", false, false},
		{"name", "BYTE_ARRAY", "STRING", false, false},
		{"score", "DOUBLE", "FLOAT64", false, false},
		{"nick", "BYTE_ARRAY", "STRING", true, false},
		{"tags", "BYTE_ARRAY", "STRING", false, true},
		{"address.street", "BYTE_ARRAY", "STRING", false, false},
		{"address.city", "BYTE_ARRAY", "STRING", false, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, ok := byName[tt.name]
			if !ok {
				t.Fatalf("column %q missing", tt.name)
			}
			if c.PhysicalType != tt.physical {
				t.Errorf("PhysicalType = %s, want %s", c.PhysicalType, tt.physical)
			}
			if c.Type != tt.typ {
				t.Errorf("Type = %s, want %s (logical %q)", c.Type, tt.typ, c.LogicalType)
			}
			if c.Optional != tt.optional {
				t.Errorf("Optional = %v, want %v", c.Optional, tt.optional)
			}
			if c.Repeated != tt.repeated {
				t.Errorf("Repeated = %v, want %v", c.Repeated, tt.repeated)
			}
		})
	}
}

func TestFriendlyType(t *testing.T) {
	tests := []struct {
		physical, logical, want string
	}{
		{"BYTE_ARRAY", "STRING", "STRING"},
		{"INT32", "DATE", "DATE"},
		{"INT64", "TIMESTAMP(isAdjustedToUTC=true,unit=MICROS)", "TIMESTAMP"},
		{"FIXED_LEN_BYTE_ARRAY", "DECIMAL(10,2)", "DECIMAL"},
		{"FLOAT", "", "FLOAT32"},
		{"DOUBLE", "", "FLOAT64"},
		{"INT64", "", "INT64"},
	}
	for _, tt := range tests {
		if got := friendlyType(tt.physical, tt.logical); got != tt.want {
			t.Errorf("friendlyType(%q, %q) = %q, want %q", tt.physical, tt.logical, got, tt.want)
		}
	}
}

func TestColumnInfoString(t *testing.T) {
	c := ColumnInfo{Name: "address.city", Type: "STRING"}
	if got := c.String(); got != "address.city STRING" {
		t.Errorf("String() = %q", got)
	}
}
