package reader

import (
	"fmt"

	"github.com/parquet-go/parquet-go"
)

// ColumnInfo describes one leaf column of a data file.
type ColumnInfo struct {
	Name         string `json:"name"`
	Type         string `json:"type"`
	PhysicalType string `json:"physical_type"`
	LogicalType  string `json:"logical_type,omitempty"`
	Optional     bool   `json:"optional"`
	Repeated     bool   `json:"repeated"`
}

// FileColumns lists the leaf columns of the parquet file at path. Nested
// fields use dot notation, e.g. "address.city".
func FileColumns(path string) ([]ColumnInfo, error) {
	r, err := NewReader(path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = r.Close() }()

	var columns []ColumnInfo
	for _, field := range r.Schema().Fields() {
		columns = appendLeaves(columns, field, "", false)
	}
	return columns, nil
}

func appendLeaves(columns []ColumnInfo, field parquet.Field, prefix string, parentRepeated bool) []ColumnInfo {
	name := field.Name()
	if prefix != "" {
		name = prefix + "." + name
	}
	repeated := parentRepeated || field.Repeated()

	if children := field.Fields(); len(children) > 0 {
		for _, child := range children {
			columns = appendLeaves(columns, child, name, repeated)
		}
		return columns
	}

	info := ColumnInfo{
		Name:         name,
		PhysicalType: physicalType(field),
		Optional:     field.Optional(),
		Repeated:     repeated,
	}
	if lt := field.Type().LogicalType(); lt != nil {
		info.LogicalType = lt.String()
	}
	info.Type = friendlyType(info.PhysicalType, info.LogicalType)
	return append(columns, info)
}

func physicalType(field parquet.Field) string {
	switch field.Type().Kind() {
	case parquet.Boolean:
		return "BOOLEAN"
	case parquet.Int32:
		return "INT32"
	case parquet.Int64:
		return "INT64"
	case parquet.Int96:
		return "INT96"
	case parquet.Float:
		return "FLOAT"
	case parquet.Double:
		return "DOUBLE"
	case parquet.ByteArray:
		return "BYTE_ARRAY"
	case parquet.FixedLenByteArray:
		return "FIXED_LEN_BYTE_ARRAY"
	default:
		return "UNKNOWN"
	}
}

// friendlyType prefers the logical annotation over the storage type.
func friendlyType(physical, logical string) string {
	switch logical {
	case "":
	case "STRING", "UTF8":
		return "STRING"
	case "DATE", "TIME", "UUID", "ENUM", "JSON", "BSON":
		return logical
	default:
		if len(logical) >= 9 && logical[:9] == "TIMESTAMP" {
			return "TIMESTAMP"
		}
		if len(logical) >= 7 && logical[:7] == "DECIMAL" {
			return "DECIMAL"
		}
	}
	switch physical {
	case "FLOAT":
		return "FLOAT32"
	case "DOUBLE":
		return "FLOAT64"
	default:
		return physical
	}
}

// String renders the column as "name TYPE".
func (c ColumnInfo) String() string {
	return fmt.Sprintf("%s %s", c.Name, c.Type)
}
