package delta

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/segmentio/encoding/json"
)

// Primitive type names used in schema strings.
const (
	TypeString    = "string"
	TypeLong      = "long"
	TypeInteger   = "integer"
	TypeShort     = "short"
	TypeByte      = "byte"
	TypeDouble    = "double"
	TypeFloat     = "float"
	TypeBoolean   = "boolean"
	TypeBinary    = "binary"
	TypeDate      = "date"
	TypeTimestamp = "timestamp"
	TypeStruct    = "struct"
	TypeArray     = "array"
	TypeMap       = "map"
)

// DataType is a schema type: a primitive name or a struct, array or map.
type DataType struct {
	Name   string
	Fields []Field // struct members
	Elem   *DataType
	Key    *DataType
	Value  *DataType
}

// Field is one column of a struct type.
type Field struct {
	Name     string                 `json:"name"`
	Type     DataType               `json:"type"`
	Nullable bool                   `json:"nullable"`
	Metadata map[string]interface{} `json:"metadata"`
}

// Schema is the top-level struct of a table.
type Schema struct {
	Fields []Field
}

type complexType struct {
	Type              string    `json:"type"`
	Fields            []Field   `json:"fields,omitempty"`
	ElementType       *DataType `json:"elementType,omitempty"`
	ContainsNull      *bool     `json:"containsNull,omitempty"`
	KeyType           *DataType `json:"keyType,omitempty"`
	ValueType         *DataType `json:"valueType,omitempty"`
	ValueContainsNull *bool     `json:"valueContainsNull,omitempty"`
}

// UnmarshalJSON accepts either a bare type name or a complex type object.
func (d *DataType) UnmarshalJSON(b []byte) error {
	var name string
	if err := json.Unmarshal(b, &name); err == nil {
		*d = DataType{Name: name}
		return nil
	}
	var c complexType
	if err := json.Unmarshal(b, &c); err != nil {
		return fmt.Errorf("invalid data type %s: %w", string(b), err)
	}
	*d = DataType{Name: c.Type, Fields: c.Fields, Elem: c.ElementType, Key: c.KeyType, Value: c.ValueType}
	return nil
}

// MarshalJSON writes primitives as names and complex types as objects.
func (d DataType) MarshalJSON() ([]byte, error) {
	switch d.Name {
	case TypeStruct:
		fields := d.Fields
		if fields == nil {
			fields = []Field{}
		}
		return json.Marshal(complexType{Type: TypeStruct, Fields: fields})
	case TypeArray:
		t := true
		return json.Marshal(complexType{Type: TypeArray, ElementType: d.Elem, ContainsNull: &t})
	case TypeMap:
		t := true
		return json.Marshal(complexType{Type: TypeMap, KeyType: d.Key, ValueType: d.Value, ValueContainsNull: &t})
	default:
		return json.Marshal(d.Name)
	}
}

func (d DataType) String() string {
	switch d.Name {
	case TypeStruct:
		parts := make([]string, len(d.Fields))
		for i, f := range d.Fields {
			parts[i] = f.Name + ":" + f.Type.String()
		}
		return "struct<" + strings.Join(parts, ",") + ">"
	case TypeArray:
		if d.Elem != nil {
			return "array<" + d.Elem.String() + ">"
		}
	case TypeMap:
		if d.Key != nil && d.Value != nil {
			return "map<" + d.Key.String() + "," + d.Value.String() + ">"
		}
	}
	return d.Name
}

// ParseSchema parses a schema string from a metaData action.
func ParseSchema(s string) (*Schema, error) {
	var dt DataType
	if err := json.Unmarshal([]byte(s), &dt); err != nil {
		return nil, fmt.Errorf("failed to parse schema: %w", err)
	}
	if dt.Name != TypeStruct {
		return nil, fmt.Errorf("failed to parse schema: top-level type is %q, want struct", dt.Name)
	}
	return &Schema{Fields: dt.Fields}, nil
}

// NewSchema builds a schema from fields.
func NewSchema(fields ...Field) *Schema {
	return &Schema{Fields: fields}
}

// NewField builds a nullable field of a primitive type.
func NewField(name, typeName string) Field {
	return Field{Name: name, Type: DataType{Name: typeName}, Nullable: true, Metadata: map[string]interface{}{}}
}

// String encodes the schema for a metaData action.
func (s *Schema) String() string {
	b, err := json.Marshal(DataType{Name: TypeStruct, Fields: s.Fields})
	if err != nil {
		return ""
	}
	return string(b)
}

// Field looks a column up by name, case-insensitively as Spark does.
// Dotted names address nested struct members.
func (s *Schema) Field(name string) (*Field, bool) {
	fields := s.Fields
	parts := strings.Split(name, ".")
	for i, part := range parts {
		var found *Field
		for j := range fields {
			if strings.EqualFold(fields[j].Name, part) {
				found = &fields[j]
				break
			}
		}
		if found == nil {
			// A literal dotted column name.
			if i == 0 {
				for j := range s.Fields {
					if strings.EqualFold(s.Fields[j].Name, name) {
						return &s.Fields[j], true
					}
				}
			}
			return nil, false
		}
		if i == len(parts)-1 {
			return found, true
		}
		fields = found.Type.Fields
	}
	return nil, false
}

// FieldNames returns the top-level column names.
func (s *Schema) FieldNames() []string {
	names := make([]string, len(s.Fields))
	for i, f := range s.Fields {
		names[i] = f.Name
	}
	return names
}

// ParsePartitionValue converts the string form of a partition value to the
// Go value a filter compares against. An empty string is NULL.
func ParsePartitionValue(t DataType, raw string) (interface{}, error) {
	if raw == "" && t.Name != TypeString {
		return nil, nil
	}
	switch {
	case t.Name == TypeString, t.Name == TypeBinary:
		if raw == "" {
			return nil, nil
		}
		return raw, nil
	case t.Name == TypeLong, t.Name == TypeInteger, t.Name == TypeShort, t.Name == TypeByte:
		v, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid %s partition value %q: %w", t.Name, raw, err)
		}
		return v, nil
	case t.Name == TypeDouble, t.Name == TypeFloat, strings.HasPrefix(t.Name, "decimal"):
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid %s partition value %q: %w", t.Name, raw, err)
		}
		return v, nil
	case t.Name == TypeBoolean:
		v, err := strconv.ParseBool(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid boolean partition value %q: %w", raw, err)
		}
		return v, nil
	case t.Name == TypeDate:
		v, err := time.Parse("2006-01-02", raw)
		if err != nil {
			return nil, fmt.Errorf("invalid date partition value %q: %w", raw, err)
		}
		return v, nil
	case t.Name == TypeTimestamp:
		for _, layout := range []string{"2006-01-02 15:04:05.999999999", time.RFC3339Nano} {
			if v, err := time.Parse(layout, raw); err == nil {
				return v, nil
			}
		}
		return nil, fmt.Errorf("invalid timestamp partition value %q", raw)
	default:
		return raw, nil
	}
}
