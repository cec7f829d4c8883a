package delta

import (
	"fmt"
	"strings"
	"time"

	"github.com/segmentio/encoding/json"

	"github.com/vegasq/deltaaudit/internal/filter"
)

// Stats are the per-file column statistics stored in AddFile.Stats.
type Stats struct {
	NumRecords *int64                 `json:"numRecords,omitempty"`
	MinValues  map[string]interface{} `json:"minValues,omitempty"`
	MaxValues  map[string]interface{} `json:"maxValues,omitempty"`
	NullCount  map[string]interface{} `json:"nullCount,omitempty"`
}

type jsonNumber = json.Number

// ParseStats decodes a stats string. An empty string yields nil stats.
// Numbers are kept exact so that long bounds above 2^53 do not round.
func ParseStats(s string) (*Stats, error) {
	if s == "" {
		return nil, nil
	}
	var stats Stats
	dec := json.NewDecoder(strings.NewReader(s))
	dec.UseNumber()
	if err := dec.Decode(&stats); err != nil {
		return nil, fmt.Errorf("invalid file stats: %w", err)
	}
	return &stats, nil
}

// String encodes the stats for an add action.
func (s *Stats) String() string {
	b, err := json.Marshal(s)
	if err != nil {
		return ""
	}
	return string(b)
}

// Bounds flattens nested statistics into dotted column names for file
// pruning, typing each bound by its column in schema. A nil schema keeps
// strings as strings and integral numbers as int64.
func (s *Stats) Bounds(schema *Schema) *filter.Bounds {
	if s == nil {
		return nil
	}
	b := &filter.Bounds{
		Min:       make(map[string]interface{}),
		Max:       make(map[string]interface{}),
		NullCount: make(map[string]int64),
	}
	if s.NumRecords != nil {
		b.NumRecords = *s.NumRecords
		b.HasNumRecords = true
	}
	typeBounds(schema, s.MinValues, b.Min, false)
	typeBounds(schema, s.MaxValues, b.Max, true)

	counts := make(map[string]interface{})
	flatten("", s.NullCount, counts)
	for k, v := range counts {
		switch n := v.(type) {
		case jsonNumber:
			if i, err := n.Int64(); err == nil {
				b.NullCount[k] = i
			}
		case int64:
			b.NullCount[k] = n
		case float64:
			b.NullCount[k] = int64(n)
		}
	}
	return b
}

// typeBounds flattens raw into out with typed values. Timestamp statistics
// are truncated to milliseconds, so a maximum is widened by one.
func typeBounds(schema *Schema, raw map[string]interface{}, out map[string]interface{}, isMax bool) {
	flat := make(map[string]interface{})
	flatten("", raw, flat)
	for col, v := range flat {
		var t *DataType
		if schema != nil {
			if f, ok := schema.Field(col); ok {
				t = &f.Type
			}
		}
		typed, ok := statBound(t, v)
		if !ok {
			continue
		}
		if ts, isTime := typed.(time.Time); isTime && isMax && t != nil && t.Name == TypeTimestamp {
			typed = ts.Add(time.Millisecond)
		}
		out[col] = typed
	}
}

func flatten(prefix string, in map[string]interface{}, out map[string]interface{}) {
	for k, v := range in {
		name := k
		if prefix != "" {
			name = prefix + "." + k
		}
		if nested, ok := v.(map[string]interface{}); ok {
			flatten(name, nested, out)
			continue
		}
		out[name] = v
	}
}
