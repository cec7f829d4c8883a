package reader

import (
	"math"
	"math/big"
	"time"

	"github.com/parquet-go/parquet-go"
	"github.com/parquet-go/parquet-go/deprecated"
)

// julianUnixEpoch is the Julian day number of 1970-01-01.
const julianUnixEpoch = 2440588

// converter turns a value as parquet-go decodes it into an interface{} into
// the Go value filters compare against.
type converter func(v interface{}) interface{}

// convertersOf returns a converter for every top-level column whose logical
// type needs one.
func convertersOf(schema *parquet.Schema) map[string]converter {
	convs := make(map[string]converter)
	for _, field := range schema.Fields() {
		if conv := converterFor(field); conv != nil {
			convs[field.Name()] = conv
		}
	}
	return convs
}

func converterFor(field parquet.Field) converter {
	if children := field.Fields(); len(children) > 0 {
		nested := make(map[string]converter)
		for _, child := range children {
			if conv := converterFor(child); conv != nil {
				nested[child.Name()] = conv
			}
		}
		if len(nested) == 0 {
			return nil
		}
		return elementwise(func(v interface{}) interface{} {
			m, ok := v.(map[string]interface{})
			if !ok {
				return v
			}
			convertRow(m, nested)
			return m
		})
	}
	if conv := leafConverter(field.Type()); conv != nil {
		return elementwise(conv)
	}
	return nil
}

// elementwise applies conv to every element of repeated values.
func elementwise(conv converter) converter {
	return func(v interface{}) interface{} {
		if list, ok := v.([]interface{}); ok {
			for i, elem := range list {
				if elem != nil {
					list[i] = conv(elem)
				}
			}
			return list
		}
		return conv(v)
	}
}

func leafConverter(t parquet.Type) converter {
	if t.Kind() == parquet.Int96 {
		return int96Time
	}
	lt := t.LogicalType()
	if lt == nil {
		return nil
	}
	switch {
	case lt.Timestamp != nil:
		toTime := func(n int64) time.Time { return time.Unix(0, n) }
		switch {
		case lt.Timestamp.Unit.Millis != nil:
			toTime = time.UnixMilli
		case lt.Timestamp.Unit.Micros != nil:
			toTime = time.UnixMicro
		}
		return func(v interface{}) interface{} {
			n, ok := asInt64(v)
			if !ok {
				return v
			}
			return toTime(n).UTC()
		}
	case lt.Date != nil:
		return func(v interface{}) interface{} {
			n, ok := asInt64(v)
			if !ok {
				return v
			}
			return time.Unix(n*86400, 0).UTC()
		}
	case lt.Decimal != nil:
		scale := lt.Decimal.Scale
		return func(v interface{}) interface{} {
			return Decimal(v, int(scale))
		}
	}
	return nil
}

func convertRow(row map[string]interface{}, convs map[string]converter) {
	for name, conv := range convs {
		if v, ok := row[name]; ok && v != nil {
			row[name] = conv(v)
		}
	}
}

func asInt64(v interface{}) (int64, bool) {
	switch n := v.(type) {
	case int32:
		return int64(n), true
	case int64:
		return n, true
	case int:
		return int64(n), true
	default:
		return 0, false
	}
}

// int96Time decodes the legacy INT96 timestamp: nanoseconds of the day in
// the low eight bytes and the Julian day in the high four.
func int96Time(v interface{}) interface{} {
	i, ok := v.(deprecated.Int96)
	if !ok {
		return v
	}
	nanos := int64(uint64(i[1])<<32 | uint64(i[0]))
	days := int64(i[2]) - julianUnixEpoch
	return time.Unix(days*86400, nanos).UTC()
}

// Decimal scales an unscaled decimal, stored as an integer or as big-endian
// two's complement bytes, to a float64. Other values are returned as is.
func Decimal(v interface{}, scale int) interface{} {
	var unscaled *big.Int
	switch n := v.(type) {
	case int32:
		return float64(n) / math.Pow10(scale)
	case int64:
		if scale == 0 {
			return float64(n)
		}
		unscaled = big.NewInt(n)
	case []byte:
		unscaled = new(big.Int).SetBytes(n)
		if len(n) > 0 && n[0]&0x80 != 0 {
			unscaled.Sub(unscaled, new(big.Int).Lsh(big.NewInt(1), uint(len(n)*8)))
		}
	default:
		return v
	}
	f, _ := new(big.Float).Quo(new(big.Float).SetInt(unscaled), new(big.Float).SetFloat64(math.Pow10(scale))).Float64()
	return f
}
