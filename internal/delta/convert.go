package delta

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/vegasq/deltaaudit/internal/reader"
)

// Conform types a row read from a data file by the table schema. Columns the
// schema has and the file lacks, such as columns added after the file was
// written, become NULL. Values stored without a logical type annotation are
// converted from their physical form: dates from days and timestamps from
// microseconds since the epoch, decimals scaled, and narrow integers widened.
func (s *Schema) Conform(row map[string]interface{}) {
	conformFields(s.Fields, row, true)
}

func conformFields(fields []Field, row map[string]interface{}, fill bool) {
	for _, f := range fields {
		key, ok := f.Name, false
		if _, ok = row[key]; !ok {
			for k := range row {
				if strings.EqualFold(k, f.Name) {
					key, ok = k, true
					break
				}
			}
		}
		if !ok {
			if fill {
				row[f.Name] = nil
			}
			continue
		}
		row[key] = conformValue(f.Type, row[key], fill)
	}
}

func conformValue(t DataType, v interface{}, fill bool) interface{} {
	if v == nil {
		return nil
	}
	switch {
	case t.Name == TypeLong, t.Name == TypeInteger, t.Name == TypeShort, t.Name == TypeByte:
		switch n := v.(type) {
		case int8:
			return int64(n)
		case int16:
			return int64(n)
		case int32:
			return int64(n)
		case int:
			return int64(n)
		case uint8:
			return int64(n)
		case uint16:
			return int64(n)
		case uint32:
			return int64(n)
		}
	case t.Name == TypeFloat:
		if f, ok := v.(float32); ok {
			return float64(f)
		}
	case t.Name == TypeString:
		if b, ok := v.([]byte); ok {
			return string(b)
		}
	case t.Name == TypeDate:
		switch d := v.(type) {
		case int32:
			return time.Unix(int64(d)*86400, 0).UTC()
		case int64:
			return time.Unix(d*86400, 0).UTC()
		case time.Time:
			d = d.UTC()
			return time.Date(d.Year(), d.Month(), d.Day(), 0, 0, 0, 0, time.UTC)
		}
	case t.Name == TypeTimestamp:
		if n, ok := v.(int64); ok {
			return time.UnixMicro(n).UTC()
		}
	case strings.HasPrefix(t.Name, "decimal"):
		if scale, ok := decimalScale(t.Name); ok {
			return reader.Decimal(v, scale)
		}
	case t.Name == TypeStruct:
		if m, ok := v.(map[string]interface{}); ok {
			conformFields(t.Fields, m, fill)
			return m
		}
	}
	return v
}

// decimalScale reads the scale of a "decimal(p,s)" type name.
func decimalScale(name string) (int, bool) {
	var precision, scale int
	if _, err := fmt.Sscanf(name, "decimal(%d,%d)", &precision, &scale); err != nil {
		return 0, false
	}
	return scale, true
}

// statBound types a min or max statistic by the column type. ok is false
// when the value cannot be used as a bound.
func statBound(t *DataType, v interface{}) (interface{}, bool) {
	if n, isNum := v.(jsonNumber); isNum {
		if t != nil && (t.Name == TypeDouble || t.Name == TypeFloat || strings.HasPrefix(t.Name, "decimal")) {
			f, err := n.Float64()
			return f, err == nil
		}
		if i, err := n.Int64(); err == nil {
			return i, true
		}
		f, err := n.Float64()
		return f, err == nil && !math.IsInf(f, 0)
	}
	s, isString := v.(string)
	if !isString || t == nil {
		return v, true
	}
	switch t.Name {
	case TypeDate:
		d, err := time.Parse("2006-01-02", s)
		return d, err == nil
	case TypeTimestamp:
		ts, err := ParsePartitionValue(*t, s)
		if err != nil || ts == nil {
			return nil, false
		}
		return ts, true
	}
	return v, true
}
