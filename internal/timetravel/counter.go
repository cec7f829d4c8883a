package timetravel

import (
	"fmt"
	"sync/atomic"

	lru "github.com/hashicorp/golang-lru"
	log "github.com/sirupsen/logrus"

	"github.com/vegasq/deltaaudit/internal/delta"
	"github.com/vegasq/deltaaudit/internal/filter"
	"github.com/vegasq/deltaaudit/internal/reader"
)

// DefaultCacheSize is the number of per-file counts kept by default.
const DefaultCacheSize = 4096

// FileCounter counts matching rows per data file. Data files are immutable,
// so a count for a (file, filter) pair holds in every version that still
// references the file.
type FileCounter struct {
	cache *lru.Cache

	scanned atomic.Int64
	pruned  atomic.Int64
	hits    atomic.Int64
}

// CounterStats reports how per-file counts were obtained.
type CounterStats struct {
	Scanned int64
	Pruned  int64
	Hits    int64
}

type countKey struct {
	file   string
	filter string
}

// NewFileCounter returns a counter caching up to size per-file counts.
func NewFileCounter(size int) (*FileCounter, error) {
	if size <= 0 {
		size = DefaultCacheSize
	}
	cache, err := lru.New(size)
	if err != nil {
		return nil, fmt.Errorf("failed to create count cache: %w", err)
	}
	return &FileCounter{cache: cache}, nil
}

// Stats returns the counter's running totals.
func (c *FileCounter) Stats() CounterStats {
	return CounterStats{
		Scanned: c.scanned.Load(),
		Pruned:  c.pruned.Load(),
		Hits:    c.hits.Load(),
	}
}

// Count returns the number of rows of f that satisfy expr.
func (c *FileCounter) Count(table *delta.Table, schema *delta.Schema, f delta.AddFile, expr filter.Expression) (int64, error) {
	path, err := table.FilePath(f.Path)
	if err != nil {
		return 0, err
	}
	key := countKey{file: path, filter: expr.String()}
	if v, ok := c.cache.Get(key); ok {
		c.hits.Add(1)
		return v.(int64), nil
	}

	n, err := c.count(path, schema, f, expr)
	if err != nil {
		return 0, err
	}
	c.cache.Add(key, n)
	return n, nil
}

func (c *FileCounter) count(path string, schema *delta.Schema, f delta.AddFile, expr filter.Expression) (int64, error) {
	partition, err := delta.PartitionRow(schema, f.PartitionValues)
	if err != nil {
		return 0, err
	}
	stats, err := delta.ParseStats(f.Stats)
	if err != nil {
		return 0, err
	}

	if bounds := fileBounds(schema, stats, partition); bounds != nil && !filter.MightMatch(expr, bounds) {
		c.pruned.Add(1)
		log.WithField("file", f.Path).Trace("file skipped by statistics")
		return 0, nil
	}

	c.scanned.Add(1)
	var n int64
	err = reader.EachRow(path, partition, func(row map[string]interface{}) error {
		schema.Conform(row)
		ok, err := filter.Matches(expr, row)
		if err != nil {
			return err
		}
		if ok {
			n++
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("failed to scan %s: %w", f.Path, err)
	}
	return n, nil
}

// fileBounds merges column statistics with the file's partition values,
// which are constant across the file.
func fileBounds(schema *delta.Schema, stats *delta.Stats, partition map[string]interface{}) *filter.Bounds {
	b := stats.Bounds(schema)
	if len(partition) == 0 {
		return b
	}
	if b == nil {
		b = &filter.Bounds{
			Min:       make(map[string]interface{}),
			Max:       make(map[string]interface{}),
			NullCount: make(map[string]int64),
		}
	}
	for col, v := range partition {
		if v == nil {
			if b.HasNumRecords {
				b.NullCount[col] = b.NumRecords
			}
			continue
		}
		b.Min[col] = v
		b.Max[col] = v
		b.NullCount[col] = 0
	}
	return b
}
